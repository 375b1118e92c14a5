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

package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/value"
)

// collector is a terminal processor recording every event it receives.
type collector struct {
	events []event.ComplexEvent
}

func (c *collector) Process(chunk event.Chunk) event.Chunk {
	event.ForEach(chunk, func(e event.ComplexEvent) { c.events = append(c.events, e) })
	return nil
}
func (c *collector) Next() processor.Processor      { return nil }
func (c *collector) SetNext(processor.Processor)    {}
func (c *collector) ProcessingMode() processor.Mode { return processor.ModeDefault }
func (c *collector) IsStateful() bool               { return false }

func aEvt(ts int64, v int64) event.Chunk {
	return event.NewStreamEvent(ts, "A", []value.Value{value.NewLong(v)})
}

func bEvt(ts int64, v int64) event.Chunk {
	return event.NewStreamEvent(ts, "B", []value.Value{value.NewLong(v)})
}

func twoElementAB(every, sequence bool) Config {
	return Config{
		Elements: []Element{
			{Kind: Single, StreamID: "A", Slot: 0},
			{Kind: Single, StreamID: "B", Slot: 1},
		},
		SlotCount: 2,
		Every:     every,
		Sequence:  sequence,
	}
}

func slotValue(t *testing.T, e event.ComplexEvent, slot int) int64 {
	t.Helper()
	se, ok := e.(*event.StateEvent)
	require.True(t, ok)
	v := se.Attribute(slot, 0)
	require.False(t, v.IsNull())
	return v.AsLong()
}

func TestPatternANextBMatchesAlternatingPairs(t *testing.T) {
	m := New("p1", twoElementAB(false, false))
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("A", aEvt(1, 1))
	m.ProcessStream("B", bEvt(2, 2))
	m.ProcessStream("A", aEvt(3, 3))
	m.ProcessStream("B", bEvt(4, 4))

	require.Len(t, out.events, 2)
	assert.Equal(t, int64(1), slotValue(t, out.events[0], 0))
	assert.Equal(t, int64(2), slotValue(t, out.events[0], 1))
	assert.Equal(t, int64(3), slotValue(t, out.events[1], 0))
	assert.Equal(t, int64(4), slotValue(t, out.events[1], 1))
}

func TestPatternToleratesUnrelatedEventsBetweenStates(t *testing.T) {
	m := New("p1", twoElementAB(false, false))
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("A", aEvt(1, 1))
	// Another A does not advance the machine past its awaited B.
	m.ProcessStream("A", aEvt(2, 2))
	m.ProcessStream("B", bEvt(3, 3))

	require.Len(t, out.events, 1)
	assert.Equal(t, int64(3), slotValue(t, out.events[0], 1))
}

func TestSequenceKillsPartialOnInterveningEvent(t *testing.T) {
	cfg := Config{
		Elements: []Element{
			{Kind: Single, StreamID: "A", Slot: 0},
			{Kind: Single, StreamID: "A", Slot: 1, Filter: &executor.Comparison{
				Op:    ">",
				Left:  &executor.Variable{StreamIndex: 1, AttrIndex: 0, Rt: value.LONG},
				Right: &executor.Constant{Value: value.NewLong(10)},
			}},
		},
		SlotCount: 2,
		Sequence:  true,
	}
	m := New("s1", cfg)
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("A", aEvt(1, 1))
	// v=5 fails the second element's filter; in a sequence that kills the
	// started attempt rather than waiting.
	m.ProcessStream("A", aEvt(2, 5))
	m.ProcessStream("A", aEvt(3, 20))
	require.Empty(t, out.events)

	// A fresh attempt that is strictly contiguous succeeds.
	m.ProcessStream("A", aEvt(4, 30))
	require.Len(t, out.events, 1)
	assert.Equal(t, int64(20), slotValue(t, out.events[0], 0))
	assert.Equal(t, int64(30), slotValue(t, out.events[0], 1))
}

func TestEveryProducesOverlappingMatches(t *testing.T) {
	m := New("p1", twoElementAB(true, false))
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("A", aEvt(1, 1))
	m.ProcessStream("A", aEvt(2, 2))
	m.ProcessStream("B", bEvt(3, 3))

	// Both pending A's complete against the single B.
	require.Len(t, out.events, 2)
	assert.Equal(t, int64(1), slotValue(t, out.events[0], 0))
	assert.Equal(t, int64(2), slotValue(t, out.events[1], 0))
}

func TestLogicalAndMatchesEitherOrder(t *testing.T) {
	cfg := Config{
		Elements: []Element{
			{Kind: Logical, StreamID: "A", Slot: 0, SecondStreamID: "B", SecondSlot: 1},
		},
		SlotCount: 2,
	}
	m := New("l1", cfg)
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("B", bEvt(1, 10))
	require.Empty(t, out.events)
	m.ProcessStream("A", aEvt(2, 20))

	require.Len(t, out.events, 1)
	assert.Equal(t, int64(20), slotValue(t, out.events[0], 0))
	assert.Equal(t, int64(10), slotValue(t, out.events[0], 1))
}

func TestLogicalOrMatchesFirstArrival(t *testing.T) {
	cfg := Config{
		Elements: []Element{
			{Kind: Logical, Or: true, StreamID: "A", Slot: 0, SecondStreamID: "B", SecondSlot: 1},
		},
		SlotCount: 2,
	}
	m := New("l1", cfg)
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("B", bEvt(1, 10))
	require.Len(t, out.events, 1)
	se := out.events[0].(*event.StateEvent)
	assert.True(t, se.Attribute(0, 0).IsNull())
	assert.Equal(t, int64(10), se.Attribute(1, 0).AsLong())
}

func TestCountElementRequiresMinOccurrences(t *testing.T) {
	cfg := Config{
		Elements: []Element{
			{Kind: Single, StreamID: "A", Slot: 0, Min: 3, Max: 3},
			{Kind: Single, StreamID: "B", Slot: 1},
		},
		SlotCount: 2,
	}
	m := New("c1", cfg)
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("A", aEvt(1, 1))
	m.ProcessStream("A", aEvt(2, 2))
	m.ProcessStream("B", bEvt(3, 3))
	require.Empty(t, out.events)

	m.ProcessStream("A", aEvt(4, 4))
	m.ProcessStream("B", bEvt(5, 5))
	require.Len(t, out.events, 1)
	// The slot holds the last absorbed occurrence.
	assert.Equal(t, int64(4), slotValue(t, out.events[0], 0))
}

func TestAbsentElementFiresAfterQuietDuration(t *testing.T) {
	cfg := Config{
		Elements: []Element{
			{Kind: Single, StreamID: "A", Slot: 0},
			{Kind: Absent, StreamID: "B", Slot: 1, DurationMillis: 100},
		},
		SlotCount: 2,
	}
	m := New("n1", cfg)
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("A", aEvt(1000, 1))
	require.Empty(t, out.events)

	m.Sweep(1100)
	require.Len(t, out.events, 1)
	assert.Equal(t, int64(1), slotValue(t, out.events[0], 0))
	se := out.events[0].(*event.StateEvent)
	assert.True(t, se.Attribute(1, 0).IsNull())
}

func TestAbsentElementKilledByForbiddenEvent(t *testing.T) {
	cfg := Config{
		Elements: []Element{
			{Kind: Single, StreamID: "A", Slot: 0},
			{Kind: Absent, StreamID: "B", Slot: 1, DurationMillis: 100},
		},
		SlotCount: 2,
	}
	m := New("n1", cfg)
	out := &collector{}
	m.SetNext(out)

	m.ProcessStream("A", aEvt(1000, 1))
	m.ProcessStream("B", bEvt(1050, 2))
	m.Sweep(1200)
	require.Empty(t, out.events)
}

func TestMachineSerializeDeserializeRoundTrip(t *testing.T) {
	m := New("p1", twoElementAB(false, false))
	m.ProcessStream("A", aEvt(1, 7))

	snap, err := m.Serialize(snapshot.SerializeHints{Full: true})
	require.NoError(t, err)
	assert.Equal(t, "p1", snap.ComponentID)

	restored := New("p1", twoElementAB(false, false))
	require.NoError(t, restored.Deserialize(snap))

	out := &collector{}
	restored.SetNext(out)
	restored.ProcessStream("B", bEvt(2, 8))

	require.Len(t, out.events, 1)
	assert.Equal(t, int64(7), slotValue(t, out.events[0], 0))
	assert.Equal(t, int64(8), slotValue(t, out.events[0], 1))
}

func TestMachineDeserializeRejectsChecksumMismatch(t *testing.T) {
	m := New("p1", twoElementAB(false, false))
	m.ProcessStream("A", aEvt(1, 7))
	snap, err := m.Serialize(snapshot.SerializeHints{Full: true})
	require.NoError(t, err)
	snap.Checksum++

	restored := New("p1", twoElementAB(false, false))
	assert.Error(t, restored.Deserialize(snap))
}
