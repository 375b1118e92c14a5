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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/value"
)

func newSE(ts int64, v int32) *StreamEvent {
	return NewStreamEvent(ts, "In", []value.Value{value.NewInt(v)})
}

func TestChunkBuilderDetachesOnAppend(t *testing.T) {
	a := newSE(1, 1)
	b := newSE(2, 2)
	a.SetNext(b) // simulate an already-linked chunk

	var cb ChunkBuilder
	cb.Append(a)
	assert.Nil(t, a.Next(), "Append must detach the node before linking it")
	cb.Append(b)

	chunk := cb.Chunk()
	assert.Equal(t, 2, Len(chunk))
}

func TestForEachPreservesOrder(t *testing.T) {
	chunk := FromSlice([]ComplexEvent{newSE(1, 1), newSE(2, 2), newSE(3, 3)})

	var seen []int64
	ForEach(chunk, func(e ComplexEvent) { seen = append(seen, e.Timestamp()) })
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestToSliceFromSliceRoundTrip(t *testing.T) {
	original := []ComplexEvent{newSE(1, 1), newSE(2, 2)}
	chunk := FromSlice(original)
	back := ToSlice(chunk)
	require.Len(t, back, 2)
	assert.Equal(t, int64(1), back[0].Timestamp())
	assert.Equal(t, int64(2), back[1].Timestamp())
}

func TestStreamEventClonePreservesDataClearsNext(t *testing.T) {
	a := newSE(1, 42)
	b := newSE(2, 7)
	a.SetNext(b)

	clone := a.Clone()
	assert.Nil(t, clone.Next())
	assert.Equal(t, a.BeforeWindowData[0], clone.BeforeWindowData[0])
}

func TestStreamEventPrimaryFallsBackToOutputData(t *testing.T) {
	se := &StreamEvent{}
	se.SetOutputData([]value.Value{value.NewInt(9)})
	got := se.Primary(0)
	assert.EqualValues(t, 9, got.AsInt())
}

func TestStateEventAttributeNullWhenSlotUnset(t *testing.T) {
	se := NewStateEvent(2)
	v := se.Attribute(0, 0)
	assert.True(t, v.IsNull())
}

func TestStateEventAttributeReadsSlot(t *testing.T) {
	se := NewStateEvent(2)
	se.SetStream(0, newSE(1, 5))
	v := se.Attribute(0, 0)
	assert.EqualValues(t, 5, v.AsInt())
}

func TestStateEventCloneCopiesSlotsIndependently(t *testing.T) {
	se := NewStateEvent(1)
	se.SetStream(0, newSE(1, 1))
	clone := se.Clone()
	clone.SetStream(0, newSE(2, 2))

	assert.EqualValues(t, 1, se.Attribute(0, 0).AsInt())
	assert.EqualValues(t, 2, clone.Attribute(0, 0).AsInt())
}

func TestEventTypeStrings(t *testing.T) {
	assert.Equal(t, "CURRENT", CURRENT.String())
	assert.Equal(t, "EXPIRED", EXPIRED.String())
	assert.Equal(t, "TIMER", TIMER.String())
	assert.Equal(t, "RESET", RESET.String())
}
