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

// Package join implements the stream-join operator: two per-side
// buffers and a condition evaluated against a two-slot StateEvent built
// from the triggering side's event and each entry currently held on the
// opposite side.
//
// A Join has two driving entry points, ProcessLeft and ProcessRight,
// rather than the single-input processor.Processor shape every other
// pipeline stage uses: a join genuinely has two upstream chains, one per
// joined junction, so forcing one Process method
// would just hide which side an event arrived on behind a wrapper type.
// The compiler wires each side's junction subscription directly to the
// matching ProcessLeft/ProcessRight call instead of chaining through
// SetNext; only the combined output continues through an ordinary
// processor.Processor chain via Next/SetNext.
package join

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/snapshot"
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

// Type enumerates the join kinds names, mirroring
// ast.JoinType without the compiler package depending on query/ast.
type Type int

const (
	InnerJoin Type = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
)

// Side names which upstream chain an event arrived from.
type Side int

const (
	Left Side = iota
	Right
)

// Join correlates two streams. Cond evaluates against a
// two-slot StateEvent (slot 0 = left, slot 1 = right); nil means an
// unconditional cross join.
type Join struct {
	id   string
	Typ  Type
	Cond executor.Executor

	next processor.Processor

	mu       sync.Mutex
	leftBuf  []*event.StreamEvent
	rightBuf []*event.StreamEvent
}

var _ snapshot.StateHolder = (*Join)(nil)

// New builds a Join registered under id.
func New(id string, typ Type, cond executor.Executor) *Join {
	return &Join{id: id, Typ: typ, Cond: cond}
}

func (j *Join) Next() processor.Processor     { return j.next }
func (j *Join) SetNext(p processor.Processor) { j.next = p }

func (j *Join) emit(chunk event.Chunk) {
	if chunk == nil || j.next == nil {
		return
	}
	processor.Run(j.next, chunk)
}

// ProcessLeft drives the join from the left side's upstream chunk.
func (j *Join) ProcessLeft(chunk event.Chunk) { j.process(Left, chunk) }

// ProcessRight drives the join from the right side's upstream chunk.
func (j *Join) ProcessRight(chunk event.Chunk) { j.process(Right, chunk) }

func (j *Join) process(side Side, chunk event.Chunk) {
	var builder event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		se, ok := e.(*event.StreamEvent)
		if !ok {
			return
		}
		switch se.EventType() {
		case event.EXPIRED:
			j.evict(side, se)
		default:
			j.match(side, se, &builder)
		}
	})
	j.emit(builder.Chunk())
}

// evict drops the buffered entry matching se's timestamp from side's
// buffer. Matching by timestamp rather than pointer identity, since the
// EXPIRED event forwarded by an upstream window is a clone distinct from
// whatever the join itself buffered on arrival.
func (j *Join) evict(side Side, se *event.StreamEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	buf := j.bufFor(side)
	for i, held := range *buf {
		if held.Timestamp() == se.Timestamp() {
			*buf = append((*buf)[:i], (*buf)[i+1:]...)
			return
		}
	}
}

func (j *Join) bufFor(side Side) *[]*event.StreamEvent {
	if side == Left {
		return &j.leftBuf
	}
	return &j.rightBuf
}

func (j *Join) match(side Side, se *event.StreamEvent, builder *event.ChunkBuilder) {
	j.mu.Lock()
	opposite := append([]*event.StreamEvent(nil), *j.bufFor(oppositeOf(side))...)
	*j.bufFor(side) = append(*j.bufFor(side), se.Clone())
	j.mu.Unlock()

	matched := false
	for _, other := range opposite {
		combined := j.combine(side, se, other)
		if j.Cond == nil || j.Cond.Execute(combined).AsBool() {
			matched = true
			builder.Append(combined)
		}
	}
	if !matched && j.outerOnNoMatch(side) {
		builder.Append(j.combine(side, se, nil))
	}
}

func oppositeOf(side Side) Side {
	if side == Left {
		return Right
	}
	return Left
}

// outerOnNoMatch reports whether a triggering event on side should still
// emit a NULL-padded row when nothing on the opposite side matched.
func (j *Join) outerOnNoMatch(side Side) bool {
	switch j.Typ {
	case FullOuterJoin:
		return true
	case LeftOuterJoin:
		return side == Left
	case RightOuterJoin:
		return side == Right
	default:
		return false
	}
}

// combine builds the two-slot StateEvent a Join's Cond and the owning
// query's selector both evaluate against: slot 0 is always the left
// side's event, slot 1 the right side's, regardless of which side
// triggered this call. other may be nil (no match on the opposite side).
func (j *Join) combine(triggerSide Side, triggering, other *event.StreamEvent) *event.StateEvent {
	se := event.NewStateEvent(2)
	if triggerSide == Left {
		se.SetStream(0, triggering)
		se.SetStream(1, other)
	} else {
		se.SetStream(0, other)
		se.SetStream(1, triggering)
	}
	se.SetTimestamp(triggering.Timestamp())
	return se
}

func (j *Join) ComponentID() string             { return j.id }
func (j *Join) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }
func (j *Join) EstimateSize() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return int64(len(j.leftBuf)+len(j.rightBuf)) * 64
}
func (j *Join) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }
func (j *Join) Metadata() map[string]string {
	return map[string]string{"kind": "join"}
}

type joinRow struct {
	Timestamp int64
	Values    []interface{}
	Types     []value.Type
}

func toJoinRow(se *event.StreamEvent) joinRow {
	r := joinRow{Timestamp: se.Timestamp()}
	for _, v := range se.BeforeWindowData {
		r.Types = append(r.Types, v.Type())
		r.Values = append(r.Values, v.AsInterface())
	}
	return r
}

func fromJoinRow(r joinRow) *event.StreamEvent {
	vals := make([]value.Value, len(r.Values))
	for i, raw := range r.Values {
		v, err := value.FromInterface(r.Types[i], raw)
		if err != nil {
			v = value.Null(r.Types[i])
		}
		vals[i] = v
	}
	return event.NewStreamEvent(r.Timestamp, "", vals)
}

type joinSnap struct {
	Left  []joinRow
	Right []joinRow
}

func (j *Join) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	j.mu.Lock()
	snap := joinSnap{}
	for _, se := range j.leftBuf {
		snap.Left = append(snap.Left, toJoinRow(se))
	}
	for _, se := range j.rightBuf {
		snap.Right = append(snap.Right, toJoinRow(se))
	}
	j.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("join serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   j.id,
		SchemaVersion: j.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

func (j *Join) Deserialize(s snapshot.StateSnapshot) error {
	if s.SchemaVersion.Major != j.SchemaVersion().Major {
		return fmt.Errorf("join deserialize: schema major mismatch")
	}
	if crc32.ChecksumIEEE(s.Bytes) != s.Checksum {
		return fmt.Errorf("join deserialize: checksum mismatch")
	}
	var snap joinSnap
	if err := gob.NewDecoder(bytes.NewReader(s.Bytes)).Decode(&snap); err != nil {
		return fmt.Errorf("join deserialize: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.leftBuf = make([]*event.StreamEvent, len(snap.Left))
	for i, r := range snap.Left {
		j.leftBuf[i] = fromJoinRow(r)
	}
	j.rightBuf = make([]*event.StreamEvent, len(snap.Right))
	for i, r := range snap.Right {
		j.rightBuf[i] = fromJoinRow(r)
	}
	return nil
}

func (j *Join) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("join: changelog not supported, use Serialize")
}

func (j *Join) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("join: changelog not supported, use Deserialize")
}
