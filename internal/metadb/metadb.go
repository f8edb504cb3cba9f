// Package metadb wraps the reserved engine instance that persists the
// authoritative database-name -> on-disk-path mapping. It is written
// synchronously on the request thread during open/close. On open the entry
// is written before the catalogue is mutated; on close the catalogue entry
// is evicted first and the meta-database entry deleted after it.
package metadb

import "github.com/dejankos/rocky/internal/engine"

// Name is the reserved meta-database name. It can never be used as a
// tenant database name.
const Name = "root"

// MetaDB is a thin, intention-revealing wrapper over an engine handle
// holding exactly one logical table: name -> path.
type MetaDB struct {
	handle engine.Engine
}

// New wraps an already-open engine handle as a MetaDB.
func New(handle engine.Engine) *MetaDB {
	return &MetaDB{handle: handle}
}

// Put records name -> path durably.
func (m *MetaDB) Put(name, path string) error {
	return m.handle.Put(name, []byte(path))
}

// Delete removes name's entry. It is not an error for name to be absent;
// callers are expected to have already verified presence via the
// catalogue, which is the authoritative in-memory mirror of this table.
func (m *MetaDB) Delete(name string) error {
	err := m.handle.Delete(name)
	if err == engine.ErrNotFound {
		return nil
	}
	return err
}

// Entries visits every name -> path pair, for startup reconciliation.
func (m *MetaDB) Entries(visit func(name, path string) error) error {
	return m.handle.Iterate(func(key string, value []byte) error {
		return visit(key, string(value))
	})
}

// Close releases the underlying handle without destroying its on-disk
// files; the meta-database is never destroyed by a running process.
func (m *MetaDB) Close() error {
	return m.handle.Close()
}
