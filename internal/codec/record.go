// Package codec encodes and decodes the (ttl, payload) tuple stored under
// each key. The wire format is private to this process: it only needs to
// round-trip, not to be portable across languages or versions.
package codec

import (
	"encoding/binary"
	"errors"

	"github.com/dejankos/rocky/internal/ttl"
)

// ErrMalformed is returned by Decode when a blob is truncated or otherwise
// fails to parse. The compaction filter treats it as a signal to discard the
// record; the read path propagates it to the caller.
var ErrMalformed = errors.New("codec: malformed record")

const headerSize = 16 + 8 // ttl.Hi, ttl.Lo, payload length

// Record is the logical value stored under one key.
type Record struct {
	TTL     ttl.Value
	Payload []byte
}

// Encode serialises r as ttlHi || ttlLo || len(payload) || payload, all
// fields little-endian. The encoded size is exactly len(payload) + 24 bytes.
func Encode(r Record) []byte {
	buf := make([]byte, headerSize+len(r.Payload))
	binary.LittleEndian.PutUint64(buf[0:8], r.TTL.Hi)
	binary.LittleEndian.PutUint64(buf[8:16], r.TTL.Lo)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(len(r.Payload)))
	copy(buf[24:], r.Payload)
	return buf
}

// Decode is the inverse of Encode. It rejects truncated input and an
// encoded length that disagrees with the bytes actually present, so a
// caller never ends up with a partially-read payload.
func Decode(blob []byte) (Record, error) {
	if len(blob) < headerSize {
		return Record{}, ErrMalformed
	}
	hi := binary.LittleEndian.Uint64(blob[0:8])
	lo := binary.LittleEndian.Uint64(blob[8:16])
	n := binary.LittleEndian.Uint64(blob[16:24])
	rest := blob[24:]
	if uint64(len(rest)) != n {
		return Record{}, ErrMalformed
	}
	payload := make([]byte, n)
	copy(payload, rest)
	return Record{TTL: ttl.Value{Hi: hi, Lo: lo}, Payload: payload}, nil
}
