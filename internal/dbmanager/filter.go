package dbmanager

import (
	"github.com/dejankos/rocky/internal/clock"
	"github.com/dejankos/rocky/internal/codec"
	"github.com/dejankos/rocky/internal/engine"
	"github.com/dejankos/rocky/internal/ttl"
)

// compactionFilter builds the per-database compaction filter described in
// the design: decode failure discards the record outright (it is already
// corrupt and keeping it serves no purpose), otherwise the record survives
// unless its ttl has strictly passed.
//
// It closes only over clk, which is itself pure and safe for concurrent
// use, so the filter is safe to call from any number of engine compaction
// goroutines at once.
func compactionFilter(clk clock.Clock) engine.CompactionFilter {
	return func(_ uint32, _ []byte, value []byte) engine.Decision {
		rec, err := codec.Decode(value)
		if err != nil {
			return engine.Discard
		}
		if ttl.Expired(rec.TTL, clk.NowMillis()) {
			return engine.Discard
		}
		return engine.Keep
	}
}

// keepAllFilter is registered on the meta-database, whose values are raw
// UTF-8 paths rather than encoded Records; it must never discard an entry.
func keepAllFilter(_ uint32, _ []byte, _ []byte) engine.Decision {
	return engine.Keep
}
