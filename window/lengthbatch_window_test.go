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

func TestLengthBatchWindowDoesNotFireBelowThreshold(t *testing.T) {
	w := NewLengthBatchWindow("lb", 2)
	out := w.Process(chunkOf(evt(1, value.NewLong(1))))
	assert.Nil(t, out)
}

func TestLengthBatchWindowFiresCurrentThenEmptyExpiredOnFirstBatch(t *testing.T) {
	w := NewLengthBatchWindow("lb", 2)
	w.Process(chunkOf(evt(1, value.NewLong(1))))
	out := w.Process(chunkOf(evt(2, value.NewLong(2))))
	rows := event.ToSlice(out)
	require.Len(t, rows, 2)
	assert.Equal(t, event.CURRENT, rows[0].EventType())
	assert.Equal(t, event.CURRENT, rows[1].EventType())
}

func TestLengthBatchWindowEmitsCurrentBeforeExpiredPrior(t *testing.T) {
	w := NewLengthBatchWindow("lb", 2)
	w.Process(chunkOf(evt(1, value.NewLong(1))))
	w.Process(chunkOf(evt(2, value.NewLong(2))))

	w.Process(chunkOf(evt(3, value.NewLong(3))))
	out := w.Process(chunkOf(evt(4, value.NewLong(4))))
	rows := event.ToSlice(out)
	require.Len(t, rows, 4)

	// CURRENT (the new batch) must precede EXPIRED (the prior batch).
	assert.Equal(t, event.CURRENT, rows[0].EventType())
	assert.Equal(t, int64(3), rows[0].Timestamp())
	assert.Equal(t, event.CURRENT, rows[1].EventType())
	assert.Equal(t, int64(4), rows[1].Timestamp())
	assert.Equal(t, event.EXPIRED, rows[2].EventType())
	assert.Equal(t, int64(1), rows[2].Timestamp())
	assert.Equal(t, event.EXPIRED, rows[3].EventType())
	assert.Equal(t, int64(2), rows[3].Timestamp())
}

func TestLengthBatchWindowSerializeDeserializeRoundTrip(t *testing.T) {
	w := NewLengthBatchWindow("lb", 2)
	w.Process(chunkOf(evt(1, value.NewLong(1))))

	snap, err := w.Serialize(snapshot.SerializeHints{Full: true})
	require.NoError(t, err)

	restored := NewLengthBatchWindow("lb", 2)
	require.NoError(t, restored.Deserialize(snap))
	require.Len(t, restored.current, 1)
	assert.Equal(t, int64(1), restored.current[0].Timestamp())
}
