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

// StreamEvent is the concrete ComplexEvent variant flowing through a
// single-stream pipeline. It carries three parallel data arrays; a
// processor reads/writes a specific array depending on its pipeline stage
// : BeforeWindowData holds the raw input attributes,
// OnAfterWindowData holds attributes visible after a window stage, and
// outputData holds the projected row built by a Selector.
type StreamEvent struct {
	ts    int64
	etype Type
	next  ComplexEvent

	BeforeWindowData  []value.Value
	OnAfterWindowData []value.Value
	outputData        []value.Value

	// StreamID identifies which stream definition produced this event;
	// used by joins/patterns to know which state-array slot an event from
	// a given junction belongs in.
	StreamID string
}

// NewStreamEvent builds a StreamEvent with the given raw attribute values
// in BeforeWindowData.
func NewStreamEvent(ts int64, streamID string, data []value.Value) *StreamEvent {
	return &StreamEvent{ts: ts, etype: CURRENT, StreamID: streamID, BeforeWindowData: data}
}

func (e *StreamEvent) Kind() Kind            { return KindStream }
func (e *StreamEvent) Timestamp() int64      { return e.ts }
func (e *StreamEvent) SetTimestamp(ts int64) { e.ts = ts }
func (e *StreamEvent) EventType() Type       { return e.etype }
func (e *StreamEvent) SetEventType(t Type)   { e.etype = t }
func (e *StreamEvent) OutputData() []value.Value {
	return e.outputData
}
func (e *StreamEvent) SetOutputData(d []value.Value) { e.outputData = d }
func (e *StreamEvent) Next() ComplexEvent            { return e.next }
func (e *StreamEvent) SetNext(n ComplexEvent)        { e.next = n }

// Clone returns a shallow copy of the event with its next pointer
// cleared; a processor that buffers events must own its own nodes.
func (e *StreamEvent) Clone() *StreamEvent {
	clone := *e
	clone.next = nil
	return &clone
}

// Primary returns the value for the variable at position idx following the
// compiler's "before_window_data, falling back to output_data" rule from
// used when a Variable executor has not been told explicitly
// which array to read.
func (e *StreamEvent) Primary(idx int) value.Value {
	if idx >= 0 && idx < len(e.BeforeWindowData) {
		return e.BeforeWindowData[idx]
	}
	if idx >= 0 && idx < len(e.outputData) {
		return e.outputData[idx]
	}
	return value.Null(value.OBJECT)
}
