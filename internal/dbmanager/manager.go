// Package dbmanager implements the database manager: the component that
// catalogues and materialises the set of live tenant databases across
// restarts, serialises per-record payloads with expiry metadata,
// coordinates concurrent access to the catalogue and each engine handle,
// and performs lazy on-read expiration with handoff to a background
// reclamation worker.
package dbmanager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dejankos/rocky/internal/catalogue"
	"github.com/dejankos/rocky/internal/clock"
	"github.com/dejankos/rocky/internal/codec"
	"github.com/dejankos/rocky/internal/engine"
	"github.com/dejankos/rocky/internal/metadb"
	"github.com/dejankos/rocky/internal/metrics"
	"github.com/dejankos/rocky/internal/reclaim"
	"github.com/dejankos/rocky/internal/ttl"
)

// Manager is the public façade described in the design: open, close,
// store, read, remove and contains, plus the Keys/Health/Varz/Orphans
// operations this implementation adds on top of the distilled spec.
//
// Every method is safe to call concurrently from any number of goroutines.
type Manager struct {
	root      string
	opener    engine.Opener
	destroyer engine.Destroyer
	clk       clock.Clock
	log       zerolog.Logger
	meter     *metrics.Meter

	cat      *catalogue.Catalogue[engine.Engine]
	meta     *metadb.MetaDB
	worker   *reclaim.Worker
	draining *drainSet
}

// Open constructs a Manager rooted at root, reopening the meta-database
// (creating it if missing) and then iterating it in full to materialise a
// catalogue entry for every previously-open tenant database. Any open
// failure during this reconciliation is fatal: the process must not start
// in a half-reconciled state.
func Open(root string, opener engine.Opener, destroyer engine.Destroyer, clk clock.Clock, log zerolog.Logger, meter *metrics.Meter) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("dbmanager: create root %q: %w", root, err)
	}

	metaHandle, err := opener(filepath.Join(root, metadb.Name), keepAllFilter)
	if err != nil {
		return nil, fmt.Errorf("dbmanager: open meta-database: %w", err)
	}

	m := &Manager{
		root:      root,
		opener:    opener,
		destroyer: destroyer,
		clk:       clk,
		log:       log,
		meter:     meter,
		cat:       catalogue.New[engine.Engine](),
		meta:      metadb.New(metaHandle),
		worker:    reclaim.New(log),
		draining:  newDrainSet(),
	}

	if err := m.reconcile(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) reconcile() error {
	var reconcileErr error
	err := m.meta.Entries(func(name, path string) error {
		m.log.Info().Str("db", name).Str("path", path).Msg("reconciling database from meta-database")
		handle, err := m.opener(path, compactionFilter(m.clk))
		if err != nil {
			reconcileErr = fmt.Errorf("dbmanager: reconcile %q at %q: %w", name, path, err)
			return reconcileErr
		}
		m.cat.Insert(name, handle)
		return nil
	})
	if err != nil {
		return err
	}
	return reconcileErr
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if name == metadb.Name {
		return fmt.Errorf("%w: %q is reserved", ErrValidation, metadb.Name)
	}
	return nil
}

// Open creates a new tenant database named name. It fails with
// ErrValidation if name is reserved, empty, or already present.
func (m *Manager) Open(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	if m.cat.Contains(name) {
		return fmt.Errorf("%w: database %q already exists", ErrValidation, name)
	}

	m.draining.wait(name)

	path := filepath.Join(m.root, name)
	if err := m.meta.Put(name, path); err != nil {
		return err
	}

	handle, err := m.opener(path, compactionFilter(m.clk))
	if err != nil {
		// Roll back the meta-database write so it never points at a path
		// with no live engine (spec.md §9, open question 1).
		if delErr := m.meta.Delete(name); delErr != nil {
			m.log.Warn().Err(delErr).Str("db", name).Msg("failed to roll back meta-database entry after open failure")
		}
		return err
	}

	m.cat.Insert(name, handle)
	m.meter.Opens.Inc(1)
	return nil
}

// Close removes name from the catalogue and the meta-database synchronously,
// then asynchronously destroys its engine and on-disk directory. It
// returns before destruction completes.
func (m *Manager) Close(name string) error {
	if !m.cat.Contains(name) {
		return fmt.Errorf("%w: database %q doesn't exist", ErrValidation, name)
	}

	// Mark name as draining before evicting it from the catalogue. If the
	// marker were set after Remove, a concurrent Open(name) landing in
	// between would see Contains == false and draining.wait return
	// immediately, letting it reopen the path while this Close's destroy
	// job is still tearing it down (spec.md §9, open question 2). Marking
	// first closes that gap: Open checks the catalogue before waiting on
	// the drain set, so it either observes the catalogue entry still
	// present (and rejects as already-open) or finds the drain marker
	// already set (and blocks on it).
	m.draining.begin(name)

	handle, ok := m.cat.Remove(name)
	if !ok {
		m.draining.finish(name)
		return fmt.Errorf("%w: database %q doesn't exist", ErrValidation, name)
	}

	if err := m.meta.Delete(name); err != nil {
		m.log.Warn().Err(err).Str("db", name).Msg("failed to remove meta-database entry during close")
	}

	path := filepath.Join(m.root, name)
	destroyer := m.destroyer
	draining := m.draining
	m.worker.Enqueue(reclaim.DestroyDatabase{
		DB:     name,
		Path:   path,
		Handle: handle,
		Destroy: func(p string) error {
			defer draining.finish(name)
			return destroyer(p)
		},
	})

	m.meter.Closes.Inc(1)
	return nil
}

// Store encodes (ttlMillis, payload) and writes it under key in database
// name. ttlMillis == 0 means the record never expires.
func (m *Manager) Store(name, key string, payload []byte, ttlMillis uint64) error {
	handle, ok := m.cat.GetClone(name)
	if !ok {
		return fmt.Errorf("%w: database %q doesn't exist", ErrValidation, name)
	}

	rec := codec.Record{TTL: ttl.FromMillis(ttlMillis), Payload: payload}
	if err := handle.Put(key, codec.Encode(rec)); err != nil {
		return err
	}
	m.meter.Puts.Inc(1)
	return nil
}

// Read returns the payload stored under key in database name, or
// found == false if it is absent or has expired. Expiration is never
// performed synchronously here: the read path holds only a read guard on
// the catalogue, so the actual delete is handed off to the reclamation
// worker, which can take the handle's write lock without risking a
// lock-ordering cycle with concurrent readers.
func (m *Manager) Read(name, key string) (payload []byte, found bool, err error) {
	handle, ok := m.cat.GetClone(name)
	if !ok {
		return nil, false, fmt.Errorf("%w: database %q doesn't exist", ErrValidation, name)
	}

	blob, err := handle.Get(key)
	if err == engine.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m.meter.Gets.Inc(1)

	rec, err := codec.Decode(blob)
	if err != nil {
		return nil, false, err
	}

	if ttl.Expired(rec.TTL, m.clk.NowMillis()) {
		m.worker.Enqueue(reclaim.ExpireKey{DB: name, Key: key, Handle: handle})
		m.meter.Expires.Inc(1)
		return nil, false, nil
	}

	return rec.Payload, true, nil
}

// Remove deletes key from database name.
func (m *Manager) Remove(name, key string) error {
	handle, ok := m.cat.GetClone(name)
	if !ok {
		return fmt.Errorf("%w: database %q doesn't exist", ErrValidation, name)
	}
	if err := handle.Delete(key); err != nil {
		return err
	}
	m.meter.Dels.Inc(1)
	return nil
}

// Contains reports whether name is currently open.
func (m *Manager) Contains(name string) bool {
	return m.cat.Contains(name)
}

// Keys lists every live (non-expired, non-corrupt) key currently stored in
// database name. It is a point-in-time, unsorted snapshot — there is no
// secondary index or cursor to make it anything stronger.
func (m *Manager) Keys(name string) ([]string, error) {
	handle, ok := m.cat.GetClone(name)
	if !ok {
		return nil, fmt.Errorf("%w: database %q doesn't exist", ErrValidation, name)
	}

	now := m.clk.NowMillis()
	var out []string
	err := handle.Iterate(func(key string, value []byte) error {
		rec, err := codec.Decode(value)
		if err != nil {
			return nil // same as the compaction filter: corrupt entries are invisible
		}
		if ttl.Expired(rec.TTL, now) {
			return nil
		}
		out = append(out, key)
		return nil
	})
	return out, err
}

// Orphans lists subdirectories of the root that are not named in the
// meta-database — directories startup intentionally leaves untouched
// (spec.md §9, open question 3). It is a diagnostic only; nothing in this
// package acts on the result.
func (m *Manager) Orphans() ([]string, error) {
	known := make(map[string]struct{})
	if err := m.meta.Entries(func(name, _ string) error {
		known[name] = struct{}{}
		return nil
	}); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}

	var orphans []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == metadb.Name {
			continue
		}
		if _, ok := known[e.Name()]; !ok {
			orphans = append(orphans, e.Name())
		}
	}
	return orphans, nil
}

// Health reports whether the meta-database is still reachable.
func (m *Manager) Health() error {
	return m.meta.Entries(func(string, string) error { return nil })
}

// Stats is a point-in-time snapshot of manager-wide counters, mirroring the
// teacher's db.Varz() used for operational visibility.
type Stats struct {
	OpenDatabases int64
	Puts          int64
	Gets          int64
	Dels          int64
	Opens         int64
	Closes        int64
	Expires       int64
}

// Varz returns a Stats snapshot.
func (m *Manager) Varz() Stats {
	return Stats{
		OpenDatabases: int64(len(m.cat.Names())),
		Puts:          m.meter.Puts.Count(),
		Gets:          m.meter.Gets.Count(),
		Dels:          m.meter.Dels.Count(),
		Opens:         m.meter.Opens.Count(),
		Closes:        m.meter.Closes.Count(),
		Expires:       m.meter.Expires.Count(),
	}
}

// Shutdown closes the meta-database handle and stops the reclamation
// worker, waiting for any jobs already queued to finish first. It does not
// close any still-open tenant database; callers are expected to have
// closed every database they care about before shutting down.
func (m *Manager) Shutdown() error {
	m.worker.Close()
	return m.meta.Close()
}
