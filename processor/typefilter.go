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

package processor

import "github.com/eventflux-io/eventflux/event"

// EventTypeFilter passes only events whose type is in Allowed, the
// processor behind `insert current events into` / `insert expired events
// into` and a window definition's `output ... events` clause.
type EventTypeFilter struct {
	base
	Allowed map[event.Type]bool
}

// NewEventTypeFilter builds a filter passing the listed event types.
func NewEventTypeFilter(allowed ...event.Type) *EventTypeFilter {
	set := make(map[event.Type]bool, len(allowed))
	for _, t := range allowed {
		set[t] = true
	}
	return &EventTypeFilter{Allowed: set}
}

func (f *EventTypeFilter) Process(chunk event.Chunk) event.Chunk {
	var b event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		if f.Allowed[e.EventType()] {
			b.Append(e)
		}
	})
	return b.Chunk()
}

func (f *EventTypeFilter) ProcessingMode() Mode { return ModeDefault }
func (f *EventTypeFilter) IsStateful() bool     { return false }
