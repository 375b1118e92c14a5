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

// Package pattern implements the temporal pattern and sequence operators:
// a state machine over a StateEvent whose slots fill as the named streams
// deliver matching events. `A -> B` (pattern) tolerates unrelated events
// between A and B; `A, B` (sequence) requires B to be the very next
// pattern-relevant event after A. `every` re-seeds the initial state on
// each A so matches may overlap; logical AND/OR elements accept two
// streams in either order; count elements absorb between Min and Max
// occurrences; absent elements (`not A for D`) fire when A stays away for
// the whole duration.
//
// Like a join, a Machine is driven per upstream junction through
// ProcessStream rather than through a single Process entry point; only
// the completed matches flow on through an ordinary processor chain via
// Next/SetNext.
package pattern

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

// ElementKind classifies one state element of a pattern/sequence.
type ElementKind int

const (
	// Single awaits one stream, optionally Min..Max occurrences.
	Single ElementKind = iota
	// Logical awaits two streams combined with AND (both, either order)
	// or OR (either one).
	Logical
	// Absent is satisfied when its stream produces no matching event for
	// DurationMillis after the element becomes active; a matching event
	// arriving earlier kills the partial match instead.
	Absent
)

// Element is one position of a pattern/sequence state expression. Slot is
// the StateEvent position this element's matched event lands in; Logical
// elements additionally fill SecondSlot.
type Element struct {
	Kind ElementKind

	StreamID string
	// Filter evaluates against the full StateEvent with the candidate
	// event already placed in Slot, so it can reference attributes of
	// elements matched earlier. Nil accepts every event.
	Filter executor.Executor
	Slot   int

	// Min/Max bound how many occurrences a Single element absorbs; both 1
	// for a plain element. The element is satisfied at Min; further
	// occurrences up to Max are absorbed while the next element has not
	// matched yet, each replacing the slot's held event.
	Min, Max int

	// Logical second operand.
	SecondStreamID string
	SecondFilter   executor.Executor
	SecondSlot     int
	Or             bool

	// Absent duration.
	DurationMillis int64
}

// Config assembles a Machine.
type Config struct {
	// Elements in match order.
	Elements []Element
	// SlotCount is the total number of StateEvent positions across all
	// elements.
	SlotCount int
	// Every re-seeds a fresh initial partial on each first-element match,
	// enabling overlapping matches.
	Every bool
	// Sequence applies strict contiguity: a pattern-relevant event that
	// advances no partial kills every partial it was eligible for.
	Sequence bool
}

// partial is one in-flight match attempt.
type partial struct {
	state *event.StateEvent
	pos   int // index of the element awaited next
	count int // occurrences absorbed by the current Single element
	// prevCount carries the finished previous element's occurrence count
	// so it can keep absorbing up to Max while the current one waits.
	prevCount int
	both      uint8 // bitmask of matched operands for a Logical element
	// deadline is the absolute time an active Absent element fires,
	// 0 when the awaited element is not Absent.
	deadline int64
}

// Machine is a pattern/sequence state-machine operator. It consumes
// CURRENT events from the streams its elements name and emits one
// StateEvent per completed match.
type Machine struct {
	id  string
	cfg Config

	next processor.Processor

	mu     sync.Mutex
	active []*partial
}

var _ snapshot.StateHolder = (*Machine)(nil)

// New builds a Machine registered under id. One initial partial is seeded
// immediately.
func New(id string, cfg Config) *Machine {
	for i := range cfg.Elements {
		e := &cfg.Elements[i]
		if e.Min < 1 {
			e.Min = 1
		}
		if e.Max < e.Min {
			e.Max = e.Min
		}
	}
	m := &Machine{id: id, cfg: cfg}
	m.active = []*partial{m.seed()}
	return m
}

func (m *Machine) seed() *partial {
	return &partial{state: event.NewStateEvent(m.cfg.SlotCount)}
}

func (m *Machine) Next() processor.Processor     { return m.next }
func (m *Machine) SetNext(p processor.Processor) { m.next = p }

// InputStreams lists every stream id the machine's elements reference, in
// element order; the runtime subscribes the machine to each one's
// junction.
func (m *Machine) InputStreams() []string {
	var ids []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, e := range m.cfg.Elements {
		add(e.StreamID)
		add(e.SecondStreamID)
	}
	return ids
}

// ProcessStream drives the machine with a chunk arriving from streamID's
// junction. Completed matches are forwarded downstream before the call
// returns.
func (m *Machine) ProcessStream(streamID string, chunk event.Chunk) {
	var matches event.ChunkBuilder
	event.ForEach(chunk, func(ce event.ComplexEvent) {
		se, ok := ce.(*event.StreamEvent)
		if !ok || se.EventType() != event.CURRENT {
			return
		}
		m.mu.Lock()
		m.expireAbsent(se.Timestamp(), &matches)
		m.feed(streamID, se, &matches)
		m.mu.Unlock()
	})
	m.emit(matches.Chunk())
}

// Sweep fires any Absent elements whose duration elapsed by nowMillis.
// The scheduler drives this so an idle stream still completes
// `not A for D` matches.
func (m *Machine) Sweep(nowMillis int64) {
	var matches event.ChunkBuilder
	m.mu.Lock()
	m.expireAbsent(nowMillis, &matches)
	m.mu.Unlock()
	m.emit(matches.Chunk())
}

func (m *Machine) emit(chunk event.Chunk) {
	if chunk == nil || m.next == nil {
		return
	}
	processor.Run(m.next, chunk)
}

// expireAbsent advances every partial whose awaited Absent element's
// deadline has passed. Caller holds m.mu.
func (m *Machine) expireAbsent(nowMillis int64, matches *event.ChunkBuilder) {
	for _, p := range m.active {
		if p.deadline == 0 && p.pos < len(m.cfg.Elements) {
			if el := &m.cfg.Elements[p.pos]; el.Kind == Absent {
				p.deadline = nowMillis + el.DurationMillis
			}
		}
		for p.deadline != 0 && nowMillis >= p.deadline {
			m.advance(p, nowMillis)
		}
	}
	m.collect(matches)
}

func (m *Machine) feed(streamID string, se *event.StreamEvent, matches *event.ChunkBuilder) {
	relevant := m.isRelevant(streamID)
	var survivors []*partial
	for _, p := range m.active {
		progressed, killed := m.offer(p, streamID, se)
		if killed {
			continue
		}
		if !progressed && m.cfg.Sequence && relevant && p.pos > 0 {
			// Strict contiguity: a started partial that lets a
			// pattern-relevant event pass is dead.
			continue
		}
		survivors = append(survivors, p)
	}
	m.active = survivors
	if m.cfg.Every && !m.hasSeed() {
		// every: each first-element match leaves a fresh initial state
		// behind so later occurrences start overlapping attempts.
		m.active = append(m.active, m.seed())
	}
	m.collect(matches)
}

func (m *Machine) hasSeed() bool {
	for _, p := range m.active {
		if p.pos == 0 {
			return true
		}
	}
	return false
}

// offer presents se to p's awaited element. Reports whether p progressed
// and whether p must be discarded.
func (m *Machine) offer(p *partial, streamID string, se *event.StreamEvent) (progressed, killed bool) {
	if p.pos >= len(m.cfg.Elements) {
		return false, false
	}
	el := &m.cfg.Elements[p.pos]

	// An event for the previous Single element absorbs into its slot up
	// to Max occurrences even though the partial already advanced.
	if p.pos > 0 {
		prev := &m.cfg.Elements[p.pos-1]
		if prev.Kind == Single && prev.Max > prev.Min && streamID == prev.StreamID && p.prevCount < prev.Max {
			if m.filterPasses(prev.Filter, p.state, prev.Slot, se) {
				p.state.SetStream(prev.Slot, se.Clone())
				p.prevCount++
				return true, false
			}
		}
	}

	switch el.Kind {
	case Absent:
		if p.deadline == 0 {
			p.deadline = se.Timestamp() + el.DurationMillis
		}
		if streamID == el.StreamID && se.Timestamp() < p.deadline &&
			m.filterPasses(el.Filter, p.state, el.Slot, se) {
			if p.pos == 0 && !m.cfg.Every {
				// Initial absence restarts its countdown instead of
				// abandoning the only attempt.
				p.deadline = se.Timestamp() + el.DurationMillis
				return false, false
			}
			// The forbidden event showed up: this attempt is dead.
			return false, true
		}
		return false, false

	case Logical:
		matchedFirst := streamID == el.StreamID && p.both&1 == 0 &&
			m.filterPasses(el.Filter, p.state, el.Slot, se)
		matchedSecond := streamID == el.SecondStreamID && p.both&2 == 0 &&
			m.filterPasses(el.SecondFilter, p.state, el.SecondSlot, se)
		if matchedFirst {
			p.state.SetStream(el.Slot, se.Clone())
			p.both |= 1
		} else if matchedSecond {
			p.state.SetStream(el.SecondSlot, se.Clone())
			p.both |= 2
		} else {
			return false, false
		}
		done := p.both == 3 || (el.Or && p.both != 0)
		if done {
			m.advance(p, se.Timestamp())
		}
		return true, false

	default: // Single
		if streamID != el.StreamID {
			return false, false
		}
		if !m.filterPasses(el.Filter, p.state, el.Slot, se) {
			return false, false
		}
		p.state.SetStream(el.Slot, se.Clone())
		p.count++
		if p.count >= el.Min {
			m.advance(p, se.Timestamp())
		}
		return true, false
	}
}

// advance moves p past its current element.
func (m *Machine) advance(p *partial, ts int64) {
	p.pos++
	p.both = 0
	p.deadline = 0
	p.prevCount = p.count
	p.count = 0
	p.state.SetTimestamp(ts)
	if p.pos < len(m.cfg.Elements) {
		if el := &m.cfg.Elements[p.pos]; el.Kind == Absent {
			p.deadline = ts + el.DurationMillis
		}
	}
}

// collect moves completed partials out of the active set and into the
// outgoing chunk, re-seeding the initial state once a match completes so
// the machine keeps matching. Caller holds m.mu.
func (m *Machine) collect(matches *event.ChunkBuilder) {
	var remaining []*partial
	completed := false
	for _, p := range m.active {
		if p.pos >= len(m.cfg.Elements) {
			matches.Append(p.state)
			completed = true
			continue
		}
		remaining = append(remaining, p)
	}
	m.active = remaining
	if (completed || len(m.active) == 0) && !m.hasSeed() {
		m.active = append(m.active, m.seed())
	}
}

func (m *Machine) filterPasses(filter executor.Executor, state *event.StateEvent, slot int, se *event.StreamEvent) bool {
	if filter == nil {
		return true
	}
	candidate := state.Clone()
	candidate.SetStream(slot, se)
	res := filter.Execute(candidate)
	return res.Type() == value.BOOL && !res.IsNull() && res.AsBool()
}

func (m *Machine) isRelevant(streamID string) bool {
	for _, e := range m.cfg.Elements {
		if e.StreamID == streamID || e.SecondStreamID == streamID {
			return true
		}
	}
	return false
}

func (m *Machine) ComponentID() string             { return m.id }
func (m *Machine) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }

func (m *Machine) EstimateSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.active)) * 128
}

func (m *Machine) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }

func (m *Machine) Metadata() map[string]string {
	return map[string]string{
		"kind":     "pattern",
		"elements": fmt.Sprint(len(m.cfg.Elements)),
	}
}

type patternSlot struct {
	Set       bool
	Timestamp int64
	StreamID  string
	Values    []interface{}
	Types     []value.Type
}

type patternPartial struct {
	Timestamp int64
	Pos       int
	Count     int
	PrevCount int
	Both      uint8
	Deadline  int64
	Slots     []patternSlot
}

func (m *Machine) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	m.mu.Lock()
	partials := make([]patternPartial, len(m.active))
	for i, p := range m.active {
		pp := patternPartial{
			Timestamp: p.state.Timestamp(),
			Pos:       p.pos,
			Count:     p.count,
			PrevCount: p.prevCount,
			Both:      p.both,
			Deadline:  p.deadline,
			Slots:     make([]patternSlot, len(p.state.Streams)),
		}
		for s, se := range p.state.Streams {
			if se == nil {
				continue
			}
			slot := patternSlot{Set: true, Timestamp: se.Timestamp(), StreamID: se.StreamID}
			for _, v := range se.BeforeWindowData {
				slot.Types = append(slot.Types, v.Type())
				slot.Values = append(slot.Values, v.AsInterface())
			}
			pp.Slots[s] = slot
		}
		partials[i] = pp
	}
	m.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(partials); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("pattern serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   m.id,
		SchemaVersion: m.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

func (m *Machine) Deserialize(snap snapshot.StateSnapshot) error {
	if snap.SchemaVersion.Major != m.SchemaVersion().Major {
		return fmt.Errorf("pattern deserialize: schema major mismatch: have %d want %d", snap.SchemaVersion.Major, m.SchemaVersion().Major)
	}
	if crc32.ChecksumIEEE(snap.Bytes) != snap.Checksum {
		return fmt.Errorf("pattern deserialize: checksum mismatch")
	}
	var partials []patternPartial
	if err := gob.NewDecoder(bytes.NewReader(snap.Bytes)).Decode(&partials); err != nil {
		return fmt.Errorf("pattern deserialize: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = make([]*partial, 0, len(partials))
	for _, pp := range partials {
		p := &partial{
			state:     event.NewStateEvent(m.cfg.SlotCount),
			pos:       pp.Pos,
			count:     pp.Count,
			prevCount: pp.PrevCount,
			both:      pp.Both,
			deadline:  pp.Deadline,
		}
		p.state.SetTimestamp(pp.Timestamp)
		for s, slot := range pp.Slots {
			if !slot.Set || s >= m.cfg.SlotCount {
				continue
			}
			vals := make([]value.Value, len(slot.Values))
			for i, raw := range slot.Values {
				v, err := value.FromInterface(slot.Types[i], raw)
				if err != nil {
					v = value.Null(slot.Types[i])
				}
				vals[i] = v
			}
			p.state.SetStream(s, event.NewStreamEvent(slot.Timestamp, slot.StreamID, vals))
		}
		m.active = append(m.active, p)
	}
	if len(m.active) == 0 {
		m.active = append(m.active, m.seed())
	}
	return nil
}

// Changelog is unsupported: partial-match state churns on every event, so
// a delta is no cheaper than a full Serialize.
func (m *Machine) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("pattern: changelog not supported, use Serialize")
}

func (m *Machine) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("pattern: changelog not supported, use Deserialize")
}
