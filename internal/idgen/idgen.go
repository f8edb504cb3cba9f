/*
 * Copyright 2020 Saffat Technologies, Ltd.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package idgen generates short, process-wide-unique correlation IDs used
// to tag reclamation jobs in log lines, so a dropped Expire-Key or
// Destroy-Database job can be traced back through the logs by ID rather
// than by (name, key) alone after the fact.
package idgen

import (
	"encoding/binary"
	"math"
	"sync/atomic"
)

// epochOffset is the teacher's epoch constant, carried over unchanged. Next
// does not use it: IDs are math.MaxUint32 minus a per-process counter.
const epochOffset = 1700000000

var next uint32

// JobID is a short, sortable-by-recency identifier for one reclamation job.
type JobID uint32

// Next returns a fresh JobID. It is safe for concurrent use; callers in the
// reclamation worker mint one per enqueued job.
func Next() JobID {
	n := atomic.AddUint32(&next, 1)
	return JobID(math.MaxUint32 - n)
}

// String renders the ID as 8 hex digits, matching the teacher's
// little-endian byte layout for compactness in log lines.
func (id JobID) String() string {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(id))
	const hex = "0123456789abcdef"
	out := make([]byte, 8)
	for i, c := range b {
		out[i*2] = hex[c>>4]
		out[i*2+1] = hex[c&0x0f]
	}
	return string(out)
}
