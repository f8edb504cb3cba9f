// Package metrics wraps github.com/rcrowley/go-metrics counters for the
// operations the database manager performs, mirroring the teacher's own
// db.meter field (db.meter.Puts.Inc, db.meter.Dels.Inc, ...) but scoped to
// a whole manager instead of a single engine instance.
package metrics

import gometrics "github.com/rcrowley/go-metrics"

// Meter groups the counters the manager increments on every operation.
type Meter struct {
	registry gometrics.Registry

	Puts    gometrics.Counter
	Gets    gometrics.Counter
	Dels    gometrics.Counter
	Opens   gometrics.Counter
	Closes  gometrics.Counter
	Expires gometrics.Counter
}

// NewMeter builds a Meter registered under its own go-metrics registry so
// multiple Manager instances in the same process (as in tests) never
// collide on metric names.
func NewMeter() *Meter {
	registry := gometrics.NewRegistry()
	m := &Meter{
		registry: registry,
		Puts:     gometrics.NewCounter(),
		Gets:     gometrics.NewCounter(),
		Dels:     gometrics.NewCounter(),
		Opens:    gometrics.NewCounter(),
		Closes:   gometrics.NewCounter(),
		Expires:  gometrics.NewCounter(),
	}
	registry.Register("dbmanager.puts", m.Puts)
	registry.Register("dbmanager.gets", m.Gets)
	registry.Register("dbmanager.dels", m.Dels)
	registry.Register("dbmanager.opens", m.Opens)
	registry.Register("dbmanager.closes", m.Closes)
	registry.Register("dbmanager.expires", m.Expires)
	return m
}

// Registry exposes the underlying go-metrics registry for a process-level
// exporter to consume; building such an exporter is out of scope here
// (spec.md §1).
func (m *Meter) Registry() gometrics.Registry {
	return m.registry
}
