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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/aggregate"
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/table"
	"github.com/eventflux-io/eventflux/value"
)

func evt(ts int64, vals ...value.Value) *event.StreamEvent {
	return event.NewStreamEvent(ts, "s", vals)
}

func chunkOf(events ...event.ComplexEvent) event.Chunk {
	return event.FromSlice(events)
}

func TestFilterKeepsOnlyMatchingEvents(t *testing.T) {
	cond := &executor.Comparison{
		Op:   ">",
		Left: &executor.Variable{StreamIndex: 0, AttrIndex: 0, Rt: value.LONG},
	}
	cond.Right = &executor.Constant{Value: value.NewLong(2)}
	f := NewFilter(cond)

	out := f.Process(chunkOf(evt(1, value.NewLong(1)), evt(2, value.NewLong(5)), evt(3, value.NewLong(2))))
	got := event.ToSlice(out)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Timestamp())
}

func TestSelectorPlainProjection(t *testing.T) {
	outputs := []OutputColumn{
		{Alias: "doubled", Expr: &executor.Arithmetic{
			Op:    "*",
			Left:  &executor.Variable{StreamIndex: 0, AttrIndex: 0, Rt: value.LONG},
			Right: &executor.Constant{Value: value.NewLong(2)},
			Rt:    value.LONG,
		}},
	}
	sel := NewSelector(outputs, nil, nil, nil, false, 0, 0, false)
	out := sel.Process(chunkOf(evt(1, value.NewLong(3)), evt(2, value.NewLong(4))))
	rows := event.ToSlice(out)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(6), rows[0].OutputData()[0].AsLong())
	assert.Equal(t, int64(8), rows[1].OutputData()[0].AsLong())
}

func TestSelectorGroupByAggregatesPerGroup(t *testing.T) {
	groupByExpr := &executor.Variable{StreamIndex: 0, AttrIndex: 0, Rt: value.STRING}
	sumFactory, _ := aggregate.Lookup("sum")
	outputs := []OutputColumn{
		{Alias: "k", Expr: groupByExpr},
		{Alias: "total", Agg: &AggregateCall{
			Name:    "sum",
			Arg:     &executor.Variable{StreamIndex: 0, AttrIndex: 1, Rt: value.LONG},
			Factory: sumFactory,
		}},
	}
	sel := NewSelector(outputs, []executor.Executor{groupByExpr}, nil, nil, false, 0, 0, false)

	out := sel.Process(chunkOf(
		evt(1, value.NewString("a"), value.NewLong(1)),
		evt(2, value.NewString("b"), value.NewLong(10)),
		evt(3, value.NewString("a"), value.NewLong(2)),
	))
	rows := event.ToSlice(out)
	require.Len(t, rows, 2)

	byKey := map[string]int64{}
	for _, r := range rows {
		data := r.OutputData()
		byKey[data[0].AsString()] = data[1].AsLong()
	}
	assert.Equal(t, int64(3), byKey["a"])
	assert.Equal(t, int64(10), byKey["b"])
}

func TestSelectorHavingFiltersGroups(t *testing.T) {
	groupByExpr := &executor.Variable{StreamIndex: 0, AttrIndex: 0, Rt: value.STRING}
	sumFactory, _ := aggregate.Lookup("sum")
	outputs := []OutputColumn{
		{Alias: "k", Expr: groupByExpr},
		{Alias: "total", Agg: &AggregateCall{Name: "sum", Arg: &executor.Variable{StreamIndex: 0, AttrIndex: 1, Rt: value.LONG}, Factory: sumFactory}},
	}
	having := &executor.Comparison{
		Op:   ">",
		Left: &executor.Variable{StreamIndex: 0, AttrIndex: 1, Rt: value.LONG},
	}
	having.Right = &executor.Constant{Value: value.NewLong(5)}
	sel := NewSelector(outputs, []executor.Executor{groupByExpr}, having, nil, false, 0, 0, false)

	out := sel.Process(chunkOf(
		evt(1, value.NewString("a"), value.NewLong(1)),
		evt(2, value.NewString("b"), value.NewLong(10)),
	))
	rows := event.ToSlice(out)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].OutputData()[0].AsString())
}

func TestSelectorOrderByLimitOffset(t *testing.T) {
	col := &executor.Variable{StreamIndex: 0, AttrIndex: 0, Rt: value.LONG}
	outputs := []OutputColumn{{Alias: "v", Expr: col}}
	sel := NewSelector(outputs, nil, nil, []OrderSpec{{Expr: col, Descending: true}}, true, 2, 1, false)

	out := sel.Process(chunkOf(
		evt(1, value.NewLong(1)),
		evt(2, value.NewLong(5)),
		evt(3, value.NewLong(3)),
		evt(4, value.NewLong(9)),
	))
	rows := event.ToSlice(out)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(5), rows[0].OutputData()[0].AsLong())
	assert.Equal(t, int64(3), rows[1].OutputData()[0].AsLong())
}

func TestSelectorDistinctDropsDuplicateRows(t *testing.T) {
	col := &executor.Variable{StreamIndex: 0, AttrIndex: 0, Rt: value.LONG}
	outputs := []OutputColumn{{Alias: "v", Expr: col}}
	sel := NewSelector(outputs, nil, nil, nil, false, 0, 0, true)

	out := sel.Process(chunkOf(evt(1, value.NewLong(1)), evt(2, value.NewLong(1)), evt(3, value.NewLong(2))))
	rows := event.ToSlice(out)
	require.Len(t, rows, 2)
}

func TestInsertIntoStreamPublishesChunk(t *testing.T) {
	var published event.Chunk
	sink := NewInsertIntoStream(dispatcherFunc(func(c event.Chunk) error {
		published = c
		return nil
	}))
	in := chunkOf(evt(1, value.NewLong(1)))
	out := sink.Process(in)
	assert.Equal(t, in, out)
	assert.Equal(t, in, published)
}

type dispatcherFunc func(event.Chunk) error

func (f dispatcherFunc) Publish(c event.Chunk) error { return f(c) }

func TestInsertIntoTableUpsertReplacesExisting(t *testing.T) {
	mem := table.NewMemory([]int{0})
	sink := NewInsertIntoTable(mem, []int{0}, true)

	first := event.NewStreamEvent(1, "s", nil)
	first.SetOutputData([]value.Value{value.NewInt(1), value.NewString("a")})
	sink.Process(chunkOf(first))

	second := event.NewStreamEvent(2, "s", nil)
	second.SetOutputData([]value.Value{value.NewInt(1), value.NewString("b")})
	sink.Process(chunkOf(second))

	assert.Equal(t, 1, mem.Len())
	rows := mem.Find(func(table.Row) bool { return true })
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0][1].AsString())
}
