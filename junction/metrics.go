/*
 * Copyright 2025 The EventFlux Authors.
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

package junction

import (
	"sync/atomic"
	"time"
)

// Metrics holds a junction's running counters.
//
// All fields are accessed only via atomic operations; the struct is
// embedded directly (not behind a pointer field) so cache-padding it in
// OptimizedJunction is a simple struct-layout change, no API change.
type Metrics struct {
	Published       int64
	Consumed        int64
	Dropped         int64
	PoolExhausted   int64
	MaxLatencyNanos int64

	latencySumNanos int64
	latencyCount    int64
}

// Stats is an immutable snapshot of Metrics safe to read without races.
type Stats struct {
	Published     int64
	Consumed      int64
	Dropped       int64
	PoolExhausted int64
	MeanLatency   time.Duration
	MaxLatency    time.Duration
}

// Snapshot reads m's counters atomically and computes the running mean
// latency ( : "per-op latency (running mean + max)").
func (m *Metrics) Snapshot() Stats {
	sum := atomic.LoadInt64(&m.latencySumNanos)
	count := atomic.LoadInt64(&m.latencyCount)
	var mean time.Duration
	if count > 0 {
		mean = time.Duration(sum / count)
	}
	return Stats{
		Published:     atomic.LoadInt64(&m.Published),
		Consumed:      atomic.LoadInt64(&m.Consumed),
		Dropped:       atomic.LoadInt64(&m.Dropped),
		PoolExhausted: atomic.LoadInt64(&m.PoolExhausted),
		MeanLatency:   mean,
		MaxLatency:    time.Duration(atomic.LoadInt64(&m.MaxLatencyNanos)),
	}
}
