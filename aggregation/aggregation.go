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

// Package aggregation maintains incremental, time-bucketed aggregates for
// `define aggregation` elements. For every configured granularity a
// Runner keeps one open bucket of per-group accumulator state; when an
// incoming event's bucket-start moves past the open bucket, the bucket
// flushes one row per group into that granularity's output table and
// rolls forward. Events older than an already-flushed bucket boundary
// are dropped silently.
package aggregation

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"
	"time"

	"github.com/eventflux-io/eventflux/aggregate"
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/table"
	"github.com/eventflux-io/eventflux/value"
)

func init() {
	gob.Register(int32(0))
	gob.Register(int64(0))
	gob.Register(float32(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
}

// Granularity is one time-bucket size an aggregation maintains.
type Granularity int

const (
	Seconds Granularity = iota
	Minutes
	Hours
	Days
	Months
	Years
)

func (g Granularity) String() string {
	switch g {
	case Seconds:
		return "seconds"
	case Minutes:
		return "minutes"
	case Hours:
		return "hours"
	case Days:
		return "days"
	case Months:
		return "months"
	case Years:
		return "years"
	default:
		return "unknown"
	}
}

// ParseGranularity resolves a granularity keyword, accepting singular and
// plural forms.
func ParseGranularity(name string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSuffix(name, "s")) {
	case "second", "sec":
		return Seconds, nil
	case "minute", "min":
		return Minutes, nil
	case "hour":
		return Hours, nil
	case "day":
		return Days, nil
	case "month":
		return Months, nil
	case "year":
		return Years, nil
	default:
		return Seconds, fmt.Errorf("aggregation: unknown granularity %q", name)
	}
}

// BucketStart truncates an epoch-millis timestamp to the calendar start
// of its bucket: HOURS to the top of the hour, MONTHS to the 1st at
// 00:00, and so on. Calendar arithmetic is done in UTC so bucket
// boundaries are stable across host timezones.
func BucketStart(tsMillis int64, g Granularity) int64 {
	t := time.UnixMilli(tsMillis).UTC()
	switch g {
	case Seconds:
		return t.Truncate(time.Second).UnixMilli()
	case Minutes:
		return t.Truncate(time.Minute).UnixMilli()
	case Hours:
		return t.Truncate(time.Hour).UnixMilli()
	case Days:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
	case Months:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	case Years:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	default:
		return tsMillis
	}
}

// AggregateCall is one aggregate column of the aggregation's select list.
type AggregateCall struct {
	Name    string
	Arg     executor.Executor
	Factory aggregate.Factory
}

// Config assembles a Runner.
type Config struct {
	// GroupBy key expressions; empty aggregates everything into one group.
	GroupBy []executor.Executor
	// Calls are the aggregate columns, in output order.
	Calls []AggregateCall
	// Granularities to maintain, each with its own bucket map and output
	// table.
	Granularities []Granularity
}

type groupAcc struct {
	aggs []aggregate.Aggregator
	keys []value.Value // evaluated GroupBy values, for the output row
}

// bucket is one granularity's open time bucket.
type bucket struct {
	start  int64 // epoch millis; 0 until the first event arrives
	groups map[string]*groupAcc
}

// Runner drives one `define aggregation`: it consumes the input stream's
// events and maintains one open bucket per granularity, flushing closed
// buckets into per-granularity tables.
//
// Output-table schema: bucket start (LONG), one column per GROUP BY
// expression, one column per aggregate call; the primary key is
// (bucket start, group columns).
type Runner struct {
	id  string
	cfg Config

	mu      sync.Mutex
	buckets map[Granularity]*bucket
	tables  map[Granularity]table.Table
}

var _ snapshot.StateHolder = (*Runner)(nil)

// NewRunner builds a Runner registered under id, creating one in-memory
// output table per granularity.
func NewRunner(id string, cfg Config) *Runner {
	r := &Runner{
		id:      id,
		cfg:     cfg,
		buckets: make(map[Granularity]*bucket, len(cfg.Granularities)),
		tables:  make(map[Granularity]table.Table, len(cfg.Granularities)),
	}
	pk := make([]int, 1+len(cfg.GroupBy))
	for i := range pk {
		pk[i] = i
	}
	for _, g := range cfg.Granularities {
		r.buckets[g] = &bucket{groups: make(map[string]*groupAcc)}
		r.tables[g] = table.NewMemory(pk)
	}
	return r
}

// Table returns the output table maintained for granularity g, nil when g
// is not configured.
func (r *Runner) Table(g Granularity) table.Table { return r.tables[g] }

// SetTable replaces the output table for granularity g, letting the
// runtime back an aggregation with a cache or SQLite store instead of the
// default in-memory table.
func (r *Runner) SetTable(g Granularity, t table.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[g]; ok {
		r.tables[g] = t
	}
}

// Process folds a chunk of the input stream into every granularity's open
// bucket.
func (r *Runner) Process(chunk event.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ForEach(chunk, func(ce event.ComplexEvent) {
		se, ok := ce.(*event.StreamEvent)
		if !ok || se.EventType() != event.CURRENT {
			return
		}
		for _, g := range r.cfg.Granularities {
			r.feed(g, se)
		}
	})
}

func (r *Runner) feed(g Granularity, se *event.StreamEvent) {
	b := r.buckets[g]
	start := BucketStart(se.Timestamp(), g)
	switch {
	case b.start == 0 && len(b.groups) == 0:
		b.start = start
	case start > b.start:
		r.flush(g, b)
		b.start = start
	case start < b.start:
		// Out-of-order event older than the open bucket: already flushed,
		// dropped silently.
		return
	}

	key := r.groupKey(se)
	acc, ok := b.groups[key]
	if !ok {
		acc = &groupAcc{aggs: make([]aggregate.Aggregator, len(r.cfg.Calls))}
		for i, c := range r.cfg.Calls {
			acc.aggs[i] = c.Factory()
		}
		acc.keys = make([]value.Value, len(r.cfg.GroupBy))
		for i, gb := range r.cfg.GroupBy {
			acc.keys[i] = gb.Execute(se)
		}
		b.groups[key] = acc
	}
	for i, c := range r.cfg.Calls {
		acc.aggs[i].ProcessAdd(c.Arg.Execute(se))
	}
}

// flush writes one row per group of the open bucket into g's table and
// clears the bucket. Caller holds r.mu.
func (r *Runner) flush(g Granularity, b *bucket) {
	t := r.tables[g]
	for _, acc := range b.groups {
		row := make(table.Row, 0, 1+len(acc.keys)+len(acc.aggs))
		row = append(row, value.NewLong(b.start))
		row = append(row, acc.keys...)
		for _, a := range acc.aggs {
			row = append(row, a.Result())
		}
		_ = t.Insert(row)
	}
	b.groups = make(map[string]*groupAcc)
}

// FlushAll closes every open bucket, writing whatever state accumulated.
// The runtime calls this at shutdown so a final snapshot reflects all
// observed events.
func (r *Runner) FlushAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.cfg.Granularities {
		b := r.buckets[g]
		if len(b.groups) > 0 {
			r.flush(g, b)
		}
	}
}

func (r *Runner) groupKey(se *event.StreamEvent) string {
	if len(r.cfg.GroupBy) == 0 {
		return ""
	}
	parts := make([]string, len(r.cfg.GroupBy))
	for i, g := range r.cfg.GroupBy {
		parts[i] = g.Execute(se).String()
	}
	return strings.Join(parts, "\x1f")
}

// Query answers the on-demand `from <Agg> [on cond] [within t1..t2]
// [per G]` read against the table maintained for g. cond and the within
// bounds filter the flushed rows; rows from the still-open bucket are not
// visible until it flushes. hasWithin false ignores the bounds.
func (r *Runner) Query(g Granularity, hasWithin bool, withinStart, withinEnd int64, cond func(table.Row) bool) ([]table.Row, error) {
	r.mu.Lock()
	t, ok := r.tables[g]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("aggregation %s: granularity %s not maintained", r.id, g)
	}
	rows := t.Find(func(row table.Row) bool {
		if len(row) == 0 {
			return false
		}
		start := row[0].AsLong()
		if hasWithin && (start < withinStart || start >= withinEnd) {
			return false
		}
		if cond != nil && !cond(row) {
			return false
		}
		return true
	})
	return rows, nil
}

func (r *Runner) ComponentID() string             { return r.id }
func (r *Runner) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }

func (r *Runner) EstimateSize() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, b := range r.buckets {
		n += int64(len(b.groups)) * 96
	}
	return n
}

func (r *Runner) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }

func (r *Runner) Metadata() map[string]string {
	gs := make([]string, len(r.cfg.Granularities))
	for i, g := range r.cfg.Granularities {
		gs[i] = g.String()
	}
	return map[string]string{
		"kind":          "aggregation",
		"granularities": strings.Join(gs, ","),
	}
}

type accState struct {
	Key   string
	Keys  []interface{}
	KeyTs []value.Type
	Aggs  []aggregate.State
}

type bucketState struct {
	Granularity Granularity
	Start       int64
	Groups      []accState
}

// Serialize captures every open bucket's per-group accumulator state.
// Flushed rows live in the output tables, which snapshot independently
// when backed by a persistent store.
func (r *Runner) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	r.mu.Lock()
	states := make([]bucketState, 0, len(r.buckets))
	for _, g := range r.cfg.Granularities {
		b := r.buckets[g]
		bs := bucketState{Granularity: g, Start: b.start}
		for key, acc := range b.groups {
			as := accState{Key: key}
			for _, kv := range acc.keys {
				as.KeyTs = append(as.KeyTs, kv.Type())
				as.Keys = append(as.Keys, kv.AsInterface())
			}
			for _, a := range acc.aggs {
				as.Aggs = append(as.Aggs, a.State())
			}
			bs.Groups = append(bs.Groups, as)
		}
		states = append(states, bs)
	}
	r.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(states); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("aggregation serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   r.id,
		SchemaVersion: r.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

// Deserialize restores open-bucket state, rebuilding each group's
// accumulators from their captured aggregate.State.
func (r *Runner) Deserialize(snap snapshot.StateSnapshot) error {
	if snap.SchemaVersion.Major != r.SchemaVersion().Major {
		return fmt.Errorf("aggregation deserialize: schema major mismatch: have %d want %d", snap.SchemaVersion.Major, r.SchemaVersion().Major)
	}
	if crc32.ChecksumIEEE(snap.Bytes) != snap.Checksum {
		return fmt.Errorf("aggregation deserialize: checksum mismatch")
	}
	var states []bucketState
	if err := gob.NewDecoder(bytes.NewReader(snap.Bytes)).Decode(&states); err != nil {
		return fmt.Errorf("aggregation deserialize: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bs := range states {
		b, ok := r.buckets[bs.Granularity]
		if !ok {
			continue
		}
		b.start = bs.Start
		b.groups = make(map[string]*groupAcc, len(bs.Groups))
		for _, as := range bs.Groups {
			acc := &groupAcc{aggs: make([]aggregate.Aggregator, len(r.cfg.Calls))}
			for i, c := range r.cfg.Calls {
				acc.aggs[i] = c.Factory()
				if i < len(as.Aggs) {
					acc.aggs[i].SetState(as.Aggs[i])
				}
			}
			acc.keys = make([]value.Value, len(as.Keys))
			for i, raw := range as.Keys {
				v, err := value.FromInterface(as.KeyTs[i], raw)
				if err != nil {
					v = value.Null(as.KeyTs[i])
				}
				acc.keys[i] = v
			}
			b.groups[as.Key] = acc
		}
	}
	return nil
}

// Changelog is unsupported: open-bucket state is small and rewritten on
// every event, so a delta is no cheaper than a full Serialize.
func (r *Runner) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("aggregation: changelog not supported, use Serialize")
}

func (r *Runner) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("aggregation: changelog not supported, use Deserialize")
}
