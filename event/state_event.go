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

package event

import "github.com/eventflux-io/eventflux/value"

// StateEvent is the concrete ComplexEvent variant used by joins and
// pattern/sequence operators. It references a
// fixed-length array of optional StreamEvent slots, one per input stream
// position (e.g. position 0 = left side of a join, or state element "A" of
// a pattern). It maintains its own timestamp and projected output,
// independent of any one slot's StreamEvent.
type StateEvent struct {
	ts         int64
	etype      Type
	next       ComplexEvent
	outputData []value.Value

	// Streams holds one optional StreamEvent per state-event position. A
	// nil slot means "no event has matched this position yet" (used for
	// LEFT/RIGHT/FULL OUTER joins before a match, and for unreached
	// pattern states).
	Streams []*StreamEvent
}

// NewStateEvent allocates a StateEvent with slotCount positions, all
// initially unset.
func NewStateEvent(slotCount int) *StateEvent {
	return &StateEvent{etype: CURRENT, Streams: make([]*StreamEvent, slotCount)}
}

func (e *StateEvent) Kind() Kind                    { return KindState }
func (e *StateEvent) Timestamp() int64              { return e.ts }
func (e *StateEvent) SetTimestamp(ts int64)         { e.ts = ts }
func (e *StateEvent) EventType() Type               { return e.etype }
func (e *StateEvent) SetEventType(t Type)           { e.etype = t }
func (e *StateEvent) OutputData() []value.Value     { return e.outputData }
func (e *StateEvent) SetOutputData(d []value.Value) { e.outputData = d }
func (e *StateEvent) Next() ComplexEvent            { return e.next }
func (e *StateEvent) SetNext(n ComplexEvent)        { e.next = n }

// SetStream places a StreamEvent at a stream-chain position (join side or
// pattern state index).
func (e *StateEvent) SetStream(position int, se *StreamEvent) {
	if position < 0 || position >= len(e.Streams) {
		return
	}
	e.Streams[position] = se
}

// Attribute reads the value at (streamChainIndex, indexInChain), the
// position addressing scheme a StateEvent Variable executor resolves to.
// A nil slot (unmatched position, e.g. the missing side of a LEFT OUTER
// join) yields NULL.
func (e *StateEvent) Attribute(streamChainIndex, indexInChain int) value.Value {
	if streamChainIndex < 0 || streamChainIndex >= len(e.Streams) {
		return value.Null(value.OBJECT)
	}
	se := e.Streams[streamChainIndex]
	if se == nil {
		return value.Null(value.OBJECT)
	}
	return se.Primary(indexInChain)
}

// Clone returns a shallow copy with next cleared and the Streams slice
// copied (the StreamEvent pointers themselves are shared, since they are
// treated as immutable once placed into a StateEvent).
func (e *StateEvent) Clone() *StateEvent {
	clone := *e
	clone.next = nil
	clone.Streams = append([]*StreamEvent(nil), e.Streams...)
	return &clone
}
