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

package runtime

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/junction"
	"github.com/eventflux-io/eventflux/value"
)

// InputHandler is the producer-facing entry point of one stream: it
// coerces raw rows to the stream's schema, stamps timestamps, and
// publishes StreamEvents into the junction. Shutdown flips accepting so
// producers are rejected while in-flight dispatches drain.
type InputHandler struct {
	streamID  string
	schema    []value.Type
	j         *junction.Junction
	accepting atomic.Bool
}

func newInputHandler(streamID string, schema []value.Type, j *junction.Junction) *InputHandler {
	h := &InputHandler{streamID: streamID, schema: schema, j: j}
	h.accepting.Store(true)
	return h
}

// StreamID names the stream this handler feeds.
func (h *InputHandler) StreamID() string { return h.streamID }

// Send publishes one event with an explicit timestamp and pre-typed
// values.
func (h *InputHandler) Send(ts int64, data []value.Value) error {
	if !h.accepting.Load() {
		return fmt.Errorf("runtime: stream %q is shut down", h.streamID)
	}
	if len(data) != len(h.schema) {
		return fmt.Errorf("runtime: stream %q: want %d attributes, have %d", h.streamID, len(h.schema), len(data))
	}
	return h.j.Publish(event.NewStreamEvent(ts, h.streamID, data))
}

// SendRow coerces raw Go values to the stream schema and publishes them
// stamped with the current wall clock.
func (h *InputHandler) SendRow(raw ...interface{}) error {
	return h.SendRowAt(time.Now().UnixMilli(), raw...)
}

// SendRowAt is SendRow with an explicit event timestamp.
func (h *InputHandler) SendRowAt(ts int64, raw ...interface{}) error {
	if len(raw) != len(h.schema) {
		return fmt.Errorf("runtime: stream %q: want %d attributes, have %d", h.streamID, len(h.schema), len(raw))
	}
	data := make([]value.Value, len(raw))
	for i, r := range raw {
		v, err := value.FromInterface(h.schema[i], r)
		if err != nil {
			return fmt.Errorf("runtime: stream %q attribute %d: %w", h.streamID, i, err)
		}
		data[i] = v
	}
	return h.Send(ts, data)
}

// SendBatch publishes a batch of rows as one chunk, preserving order.
func (h *InputHandler) SendBatch(ts int64, rows [][]value.Value) error {
	if !h.accepting.Load() {
		return fmt.Errorf("runtime: stream %q is shut down", h.streamID)
	}
	var b event.ChunkBuilder
	for _, data := range rows {
		if len(data) != len(h.schema) {
			return fmt.Errorf("runtime: stream %q: want %d attributes, have %d", h.streamID, len(h.schema), len(data))
		}
		b.Append(event.NewStreamEvent(ts, h.streamID, data))
	}
	if b.Chunk() == nil {
		return nil
	}
	return h.j.Publish(b.Chunk())
}

func (h *InputHandler) stop() { h.accepting.Store(false) }
