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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/value"
)

// capture is a processor.Processor stub that records every chunk pushed to
// it, used to observe a window's background-sweep emissions (which bypass
// the caller-driven Process/Run contract via base.emit).
type capture struct {
	mu     sync.Mutex
	chunks []event.Chunk
}

func (c *capture) Process(chunk event.Chunk) event.Chunk {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
	return chunk
}
func (c *capture) Next() processor.Processor      { return nil }
func (c *capture) SetNext(processor.Processor)    {}
func (c *capture) ProcessingMode() processor.Mode { return processor.ModeDefault }
func (c *capture) IsStateful() bool               { return false }

func (c *capture) all() []event.ComplexEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var rows []event.ComplexEvent
	for _, chunk := range c.chunks {
		rows = append(rows, event.ToSlice(chunk)...)
	}
	return rows
}

func TestTimeWindowExpiresEventsOlderThanSize(t *testing.T) {
	w := NewTimeWindow("t1", 100*time.Millisecond, nil)
	w.Process(chunkOf(evt(0, value.NewLong(1))))
	out := w.Process(chunkOf(evt(150, value.NewLong(2))))
	rows := event.ToSlice(out)
	require.Len(t, rows, 2)
	assert.Equal(t, event.EXPIRED, rows[0].EventType())
	assert.Equal(t, int64(0), rows[0].Timestamp())
	assert.Equal(t, event.CURRENT, rows[1].EventType())
	assert.Equal(t, int64(150), rows[1].Timestamp())
}

func TestTimeWindowKeepsEventsWithinSize(t *testing.T) {
	w := NewTimeWindow("t1", 100*time.Millisecond, nil)
	w.Process(chunkOf(evt(0, value.NewLong(1))))
	out := w.Process(chunkOf(evt(50, value.NewLong(2))))
	rows := event.ToSlice(out)
	require.Len(t, rows, 1)
	assert.Equal(t, event.CURRENT, rows[0].EventType())
}

func TestTimeWindowBackgroundSweepFlushesIdleStream(t *testing.T) {
	w := NewTimeWindow("t1", 20*time.Millisecond, nil)
	sink := &capture{}
	w.SetNext(sink)
	w.Process(chunkOf(evt(time.Now().UnixMilli(), value.NewLong(1))))
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		return len(sink.all()) > 0
	}, time.Second, 5*time.Millisecond)

	rows := sink.all()
	assert.Equal(t, event.EXPIRED, rows[0].EventType())
}

func TestTimeWindowStartStopIdempotent(t *testing.T) {
	w := NewTimeWindow("t1", 10*time.Millisecond, nil)
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

func TestTimeWindowSerializeDeserializeRoundTrip(t *testing.T) {
	w := NewTimeWindow("t1", time.Second, nil)
	w.Process(chunkOf(evt(1, value.NewLong(9))))

	snap, err := w.Serialize(snapshot.SerializeHints{Full: true})
	require.NoError(t, err)

	restored := NewTimeWindow("t1", time.Second, nil)
	require.NoError(t, restored.Deserialize(snap))
	require.Len(t, restored.buf, 1)
	assert.Equal(t, int64(9), restored.buf[0].BeforeWindowData[0].AsLong())
}
