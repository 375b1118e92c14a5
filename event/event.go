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

// Package event implements the EventFlux event model from : the
// abstract ComplexEvent linked-list node, its two concrete variants
// (StreamEvent, StateEvent), and the forward-only "chunk" helpers used to
// pass batches of events between processors.
//
// A closed sum type is used instead of open virtual dispatch, per the
// "prefer a closed sum type with an explicit tag" design note: Kind()
// reports which concrete variant a ComplexEvent is, and callers type-assert
// to *StreamEvent or *StateEvent as needed.
package event

import "github.com/eventflux-io/eventflux/value"

// Type is the event-type tag carried by every event.
type Type int

const (
	CURRENT Type = iota
	EXPIRED
	TIMER
	RESET
)

func (t Type) String() string {
	switch t {
	case CURRENT:
		return "CURRENT"
	case EXPIRED:
		return "EXPIRED"
	case TIMER:
		return "TIMER"
	case RESET:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// Kind distinguishes the two concrete ComplexEvent variants.
type Kind int

const (
	KindStream Kind = iota
	KindState
)

// ComplexEvent is the abstract linked-list node described in // Implementations: *StreamEvent, *StateEvent.
type ComplexEvent interface {
	Kind() Kind
	Timestamp() int64
	SetTimestamp(ts int64)
	EventType() Type
	SetEventType(t Type)
	OutputData() []value.Value
	SetOutputData(d []value.Value)
	Next() ComplexEvent
	SetNext(next ComplexEvent)
}
