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

import (
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/table"
)

// Dispatcher is the narrow slice of junction.Dispatcher an InsertIntoStream
// sink needs. Declared locally (rather than imported from package
// junction) to keep processor from depending on junction's dispatch-mode
// machinery — the same narrow-interface trick executor.TableLookup uses
// to avoid importing table.
type Dispatcher interface {
	Publish(chunk event.Chunk) error
}

// InsertIntoStream is the stream-publishing terminal sink: it republishes
// every event in its incoming chunk onto Target, optionally as an
// inner/fault stream event. Trivial and stateless.
type InsertIntoStream struct {
	base
	Target Dispatcher
}

// NewInsertIntoStream builds a sink publishing onto target.
func NewInsertIntoStream(target Dispatcher) *InsertIntoStream {
	return &InsertIntoStream{Target: target}
}

func (s *InsertIntoStream) Process(chunk event.Chunk) event.Chunk {
	if chunk == nil {
		return nil
	}
	_ = s.Target.Publish(chunk)
	return chunk
}

func (s *InsertIntoStream) ProcessingMode() Mode { return ModeDefault }
func (s *InsertIntoStream) IsStateful() bool     { return false }

// InsertIntoTable is the table-writing terminal sink: it appends each
// event's output data as a row into Target via Table.Insert, or replaces
// an existing row with the same primary key when Upsert is set (the
// `update or insert into` form). Target is the table.Table interface so any backing
// (memory, cache, sqlite) works interchangeably.
type InsertIntoTable struct {
	base
	Target    table.Table
	PKIndexes []int
	Upsert    bool
}

// NewInsertIntoTable builds a sink writing rows into target, using
// pkIndexes to compute the composite key Upsert needs to detect an
// existing row.
func NewInsertIntoTable(target table.Table, pkIndexes []int, upsert bool) *InsertIntoTable {
	return &InsertIntoTable{Target: target, PKIndexes: pkIndexes, Upsert: upsert}
}

func (s *InsertIntoTable) Process(chunk event.Chunk) event.Chunk {
	event.ForEach(chunk, func(e event.ComplexEvent) {
		row := table.Row(e.OutputData())
		if s.Upsert {
			key := table.Key(row, s.PKIndexes)
			if key != "" && s.Target.ContainsComposite(key) {
				_ = s.Target.Update(key, row)
				return
			}
		}
		_ = s.Target.Insert(row)
	})
	return chunk
}

func (s *InsertIntoTable) ProcessingMode() Mode { return ModeDefault }
func (s *InsertIntoTable) IsStateful() bool     { return true }
