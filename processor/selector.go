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
	"sort"
	"strings"

	"github.com/eventflux-io/eventflux/aggregate"
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/value"
)

// OutputColumn is one SELECT-list entry: either a plain expression
// (Agg == nil) evaluated against the representative event of its row, or
// an aggregate call ( step 3) fed via the aggregate
// package's process_add/process_remove.
type OutputColumn struct {
	Alias string
	Expr  executor.Executor // non-nil only when Agg == nil
	Agg   *AggregateCall
}

// AggregateCall names one aggregate function invocation in a SELECT list,
// e.g. sum(price): Arg evaluates the call's single argument per event,
// Factory builds a fresh aggregate.Aggregator for a newly-seen group.
type AggregateCall struct {
	Name    string
	Arg     executor.Executor
	Factory aggregate.Factory
}

// OrderSpec is one ORDER BY term, evaluated against the assembled output
// row ( step 5: "secondary keys applied lexicographically").
type OrderSpec struct {
	Expr       executor.Executor
	Descending bool
}

type groupState struct {
	aggs    []aggregate.Aggregator
	last    event.ComplexEvent
	touched bool
}

// Selector implements projection, optional GROUP BY with per-group
// aggregator state, HAVING, ORDER BY, and OFFSET/LIMIT as one processor:
// the steps share per-row state (the assembled output event) that would
// otherwise need re-threading between separate pipeline stages.
type Selector struct {
	base
	Outputs  []OutputColumn
	GroupBy  []executor.Executor
	Having   executor.Executor
	OrderBy  []OrderSpec
	HasLimit bool
	Limit    int
	Offset   int
	Distinct bool

	groups map[string]*groupState
}

// NewSelector builds a Selector from its compiled SELECT-list, GROUP BY,
// HAVING, ORDER BY and LIMIT/OFFSET clauses.
func NewSelector(outputs []OutputColumn, groupBy []executor.Executor, having executor.Executor, orderBy []OrderSpec, hasLimit bool, limit, offset int, distinct bool) *Selector {
	return &Selector{
		Outputs:  outputs,
		GroupBy:  groupBy,
		Having:   having,
		OrderBy:  orderBy,
		HasLimit: hasLimit,
		Limit:    limit,
		Offset:   offset,
		Distinct: distinct,
		groups:   make(map[string]*groupState),
	}
}

func (s *Selector) isAggregating() bool {
	if len(s.GroupBy) > 0 {
		return true
	}
	for _, c := range s.Outputs {
		if c.Agg != nil {
			return true
		}
	}
	return false
}

func (s *Selector) Process(chunk event.Chunk) event.Chunk {
	var rows []event.ComplexEvent
	if s.isAggregating() {
		rows = s.processAggregating(chunk)
	} else {
		rows = s.processPlain(chunk)
	}

	if s.Having != nil {
		filtered := rows[:0]
		for _, r := range rows {
			res := s.Having.Execute(r)
			if res.Type() == value.BOOL && !res.IsNull() && res.AsBool() {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	if len(s.OrderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool { return s.less(rows[i], rows[j]) })
	}

	if s.Offset > 0 {
		if s.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[s.Offset:]
		}
	}
	if s.HasLimit && s.Limit < len(rows) {
		if s.Limit < 0 {
			rows = nil
		} else {
			rows = rows[:s.Limit]
		}
	}

	var builder event.ChunkBuilder
	for _, r := range rows {
		builder.Append(r)
	}
	return builder.Chunk()
}

func (s *Selector) processPlain(chunk event.Chunk) []event.ComplexEvent {
	var out []event.ComplexEvent
	var seen map[string]bool
	if s.Distinct {
		seen = make(map[string]bool)
	}
	event.ForEach(chunk, func(e event.ComplexEvent) {
		row := make([]value.Value, len(s.Outputs))
		for i, col := range s.Outputs {
			row[i] = col.Expr.Execute(e)
		}
		if seen != nil {
			key := rowKey(row)
			if seen[key] {
				return
			}
			seen[key] = true
		}
		out = append(out, buildOutputEvent(e, row))
	})
	return out
}

func (s *Selector) processAggregating(chunk event.Chunk) []event.ComplexEvent {
	var touchOrder []string
	event.ForEach(chunk, func(e event.ComplexEvent) {
		if e.EventType() == event.RESET {
			s.groups = make(map[string]*groupState)
			touchOrder = nil
			return
		}

		key := s.groupKey(e)
		g, ok := s.groups[key]
		if !ok {
			g = &groupState{aggs: make([]aggregate.Aggregator, len(s.Outputs))}
			for i, col := range s.Outputs {
				if col.Agg != nil {
					g.aggs[i] = col.Agg.Factory()
				}
			}
			s.groups[key] = g
		}
		if !g.touched {
			touchOrder = append(touchOrder, key)
			g.touched = true
		}

		for i, col := range s.Outputs {
			if col.Agg == nil {
				continue
			}
			argVal := col.Agg.Arg.Execute(e)
			if e.EventType() == event.EXPIRED {
				g.aggs[i].ProcessRemove(argVal)
			} else {
				g.aggs[i].ProcessAdd(argVal)
			}
		}
		if e.EventType() != event.EXPIRED {
			g.last = e
		}
	})

	out := make([]event.ComplexEvent, 0, len(touchOrder))
	for _, key := range touchOrder {
		g := s.groups[key]
		g.touched = false
		if g.last == nil {
			continue
		}
		row := make([]value.Value, len(s.Outputs))
		for i, col := range s.Outputs {
			if col.Agg != nil {
				row[i] = g.aggs[i].Result()
			} else {
				row[i] = col.Expr.Execute(g.last)
			}
		}
		out = append(out, buildOutputEvent(g.last, row))
	}
	return out
}

func (s *Selector) groupKey(e event.ComplexEvent) string {
	if len(s.GroupBy) == 0 {
		return ""
	}
	parts := make([]string, len(s.GroupBy))
	for i, g := range s.GroupBy {
		parts[i] = g.Execute(e).String()
	}
	return strings.Join(parts, "\x1f")
}

func (s *Selector) less(a, b event.ComplexEvent) bool {
	for _, spec := range s.OrderBy {
		av := spec.Expr.Execute(a)
		bv := spec.Expr.Execute(b)
		cmp, ok := value.Compare(av, bv)
		if !ok || cmp == 0 {
			continue
		}
		if spec.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func rowKey(row []value.Value) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = v.String()
	}
	return strings.Join(parts, "\x1f")
}

func buildOutputEvent(src event.ComplexEvent, row []value.Value) event.ComplexEvent {
	streamID := ""
	if se, ok := src.(*event.StreamEvent); ok {
		streamID = se.StreamID
	}
	out := event.NewStreamEvent(src.Timestamp(), streamID, row)
	out.SetOutputData(row)
	// Keep the CURRENT/EXPIRED tag so `insert expired events into` can
	// filter downstream; synthetic TIMER/RESET inputs project as CURRENT.
	if t := src.EventType(); t == event.CURRENT || t == event.EXPIRED {
		out.SetEventType(t)
	} else {
		out.SetEventType(event.CURRENT)
	}
	return out
}

func (s *Selector) ProcessingMode() Mode {
	if s.isAggregating() {
		return ModeGroupByBatch
	}
	if len(s.OrderBy) > 0 {
		return ModeBatch
	}
	return ModeDefault
}

func (s *Selector) IsStateful() bool { return s.isAggregating() }
