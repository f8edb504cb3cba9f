package pebbleengine

import (
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dejankos/rocky/internal/engine"
)

func open(t *testing.T, filter engine.CompactionFilter) *Handle {
	t.Helper()
	h, err := Open("db", filter, Options{FS: vfs.NewMem(), Log: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func keepAll(_ uint32, _ []byte, _ []byte) engine.Decision {
	return engine.Keep
}

func TestPutGetRoundTrip(t *testing.T) {
	h := open(t, keepAll)

	require.NoError(t, h.Put("k", []byte("v")))

	v, err := h.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", string(v))
}

func TestGetMissingIsNotFound(t *testing.T) {
	h := open(t, keepAll)

	_, err := h.Get("missing")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestDelete(t *testing.T) {
	h := open(t, keepAll)
	require.NoError(t, h.Put("k", []byte("v")))

	require.NoError(t, h.Delete("k"))

	_, err := h.Get("k")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestIterateVisitsEveryKey(t *testing.T) {
	h := open(t, keepAll)
	require.NoError(t, h.Put("a", []byte("1")))
	require.NoError(t, h.Put("b", []byte("2")))

	seen := make(map[string]string)
	err := h.Iterate(func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, seen)
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	h, err := Open("db", keepAll, Options{FS: vfs.NewMem(), Log: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.Get("k")
	require.ErrorIs(t, err, engine.ErrClosed)

	err = h.Put("k", []byte("v"))
	require.ErrorIs(t, err, engine.ErrClosed)
}

func TestSweepDeletesKeysTheFilterDiscards(t *testing.T) {
	discardB := func(_ uint32, key []byte, _ []byte) engine.Decision {
		if string(key) == "b" {
			return engine.Discard
		}
		return engine.Keep
	}
	h := open(t, discardB)
	require.NoError(t, h.Put("a", []byte("1")))
	require.NoError(t, h.Put("b", []byte("2")))

	h.sweep()

	_, err := h.Get("a")
	require.NoError(t, err)
	_, err = h.Get("b")
	require.ErrorIs(t, err, engine.ErrNotFound)
}

func TestConcurrentSweepIsANoOp(t *testing.T) {
	h := open(t, keepAll)
	require.NoError(t, h.Put("k", []byte("v")))

	h.sweeping = 1
	h.sweep() // must return immediately without panicking or double-guarding
	h.sweeping = 0
}

func TestDestroyRemovesDirectory(t *testing.T) {
	fs := vfs.NewMem()
	h, err := Open("db", keepAll, Options{FS: fs, Log: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, h.Put("k", []byte("v")))
	require.NoError(t, h.Close())

	require.NoError(t, Destroy("db", fs))

	_, err = fs.Stat("db")
	require.Error(t, err)
}
