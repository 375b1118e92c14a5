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

package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/value"
)

func evt(ts int64, vals ...value.Value) *event.StreamEvent {
	return event.NewStreamEvent(ts, "s", vals)
}

func chunkOf(events ...event.ComplexEvent) event.Chunk {
	return event.FromSlice(events)
}

func TestLengthWindowEmitsNoExpiredUntilFull(t *testing.T) {
	w := NewLengthWindow("w1", 2)
	out := w.Process(chunkOf(evt(1, value.NewLong(1))))
	rows := event.ToSlice(out)
	require.Len(t, rows, 1)
	assert.Equal(t, event.CURRENT, rows[0].EventType())
}

func TestLengthWindowExpiresOldestOnOverflow(t *testing.T) {
	w := NewLengthWindow("w1", 2)
	w.Process(chunkOf(evt(1, value.NewLong(1))))
	w.Process(chunkOf(evt(2, value.NewLong(2))))
	out := w.Process(chunkOf(evt(3, value.NewLong(3))))
	rows := event.ToSlice(out)
	require.Len(t, rows, 2)
	assert.Equal(t, event.CURRENT, rows[0].EventType())
	assert.Equal(t, int64(3), rows[0].Timestamp())
	assert.Equal(t, event.EXPIRED, rows[1].EventType())
	assert.Equal(t, int64(1), rows[1].Timestamp())
}

func TestLengthWindowSerializeDeserializeRoundTrip(t *testing.T) {
	w := NewLengthWindow("w1", 3)
	w.Process(chunkOf(evt(1, value.NewLong(10)), evt(2, value.NewLong(20))))

	snap, err := w.Serialize(snapshot.SerializeHints{Full: true})
	require.NoError(t, err)
	assert.Equal(t, "w1", snap.ComponentID)

	restored := NewLengthWindow("w1", 3)
	require.NoError(t, restored.Deserialize(snap))
	assert.Equal(t, w.buf[0].Timestamp(), restored.buf[0].Timestamp())
	assert.Equal(t, w.buf[1].Timestamp(), restored.buf[1].Timestamp())
	assert.Equal(t, int64(10), restored.buf[0].BeforeWindowData[0].AsLong())
}

func TestLengthWindowDeserializeRejectsChecksumMismatch(t *testing.T) {
	w := NewLengthWindow("w1", 2)
	w.Process(chunkOf(evt(1, value.NewLong(1))))
	snap, err := w.Serialize(snapshot.SerializeHints{Full: true})
	require.NoError(t, err)
	snap.Checksum++

	restored := NewLengthWindow("w1", 2)
	assert.Error(t, restored.Deserialize(snap))
}
