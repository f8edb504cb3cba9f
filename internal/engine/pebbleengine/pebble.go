// Package pebbleengine adapts github.com/cockroachdb/pebble — a real
// embedded log-structured merge engine — to the narrow engine.Engine
// interface the database manager depends on.
//
// Pebble does not expose a per-key compaction filter callback the way
// RocksDB does (the engine the original implementation targeted), so the
// filter is applied by this adapter instead: every time pebble reports the
// start of a background compaction we run the registered
// engine.CompactionFilter over the instance's live keys and delete whatever
// it discards, letting pebble's own compaction physically reclaim the
// resulting tombstones on its next pass. This keeps the filter semantics
// pebble-agnostic and testable without a real compaction ever having to
// run: the unexported sweep method can also be called directly from within
// this package.
package pebbleengine

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"github.com/dejankos/rocky/internal/engine"
)

// Handle wraps one pebble.DB instance behind the single reader-writer lock
// the spec requires of an Engine Handle. Multiple goroutines may hold a
// reference to the same Handle; the lock is shared across all of them.
type Handle struct {
	mu sync.RWMutex
	db *pebble.DB

	filter engine.CompactionFilter
	log    zerolog.Logger

	sweeping int32 // 0/1, guards against overlapping sweeps
	closed   int32
}

// Options configures an Open call. A nil FS opens on the real filesystem; a
// non-nil FS (typically vfs.NewMem()) is used by tests that need an
// in-memory instance with no disk footprint.
type Options struct {
	FS  vfs.FS
	Log zerolog.Logger
}

// Open creates or reopens a pebble instance at path and registers filter to
// run on every compaction the engine schedules for this instance.
func Open(path string, filter engine.CompactionFilter, opts Options) (*Handle, error) {
	h := &Handle{filter: filter, log: opts.Log}

	popts := &pebble.Options{
		FS: opts.FS,
		EventListener: &pebble.EventListener{
			CompactionBegin: func(info pebble.CompactionInfo) {
				h.log.Debug().Str("path", path).Msg("compaction begin, sweeping expired keys")
				go h.sweep()
			},
		},
	}

	db, err := pebble.Open(path, popts)
	if err != nil {
		return nil, err
	}
	h.db = db
	return h, nil
}

// Put implements engine.Engine.
func (h *Handle) Put(key string, value []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return engine.ErrClosed
	}
	return h.db.Set([]byte(key), value, pebble.Sync)
}

// Get implements engine.Engine.
func (h *Handle) Get(key string) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return nil, engine.ErrClosed
	}
	v, closer, err := h.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, closer.Close()
}

// Delete implements engine.Engine.
func (h *Handle) Delete(key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return engine.ErrClosed
	}
	return h.db.Delete([]byte(key), pebble.Sync)
}

// Iterate implements engine.Engine.
func (h *Handle) Iterate(visit func(key string, value []byte) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.db == nil {
		return engine.ErrClosed
	}
	iter, err := h.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		if err := visit(string(iter.Key()), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Close implements engine.Engine.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	atomic.StoreInt32(&h.closed, 1)
	err := h.db.Close()
	h.db = nil
	return err
}

// sweep applies the compaction filter to every live key and deletes the
// ones it discards. It is safe to call concurrently with itself (a second
// caller is a no-op while one is already running) and with normal
// operations.
func (h *Handle) sweep() {
	if !atomic.CompareAndSwapInt32(&h.sweeping, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&h.sweeping, 0)

	if atomic.LoadInt32(&h.closed) == 1 {
		return
	}

	var toDrop []string
	_ = h.Iterate(func(key string, value []byte) error {
		if h.filter(0, []byte(key), value) == engine.Discard {
			toDrop = append(toDrop, key)
		}
		return nil
	})

	for _, key := range toDrop {
		if err := h.Delete(key); err != nil {
			h.log.Warn().Err(err).Str("key", key).Msg("compaction sweep: failed to drop expired key")
		}
	}
}

// Destroy removes all on-disk files belonging to a closed engine at path.
// It must only be called after the Handle has been evicted from the
// catalogue and closed.
func Destroy(path string, fs vfs.FS) error {
	if fs == nil {
		fs = vfs.Default
	}
	return fs.RemoveAll(path)
}
