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
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/log"
	"github.com/eventflux-io/eventflux/value"
)

// Sink consumes a stream's output events, typically rendering them to an
// external representation. Sinks attach to streams via AttachSink or the
// configuration file's per-stream sink subtree.
type Sink interface {
	Name() string
	Publish(chunk event.Chunk) error
	Close() error
}

// Source feeds raw external input into a stream's InputHandler. Sources
// attach via AttachSource; the app starts and stops them with its own
// lifecycle.
type Source interface {
	StreamID() string
	Start(h *InputHandler) error
	Stop() error
}

// SinkFactory builds a sink for one stream from its configuration
// properties ("type" selects the factory).
type SinkFactory func(streamID string, props map[string]string, logger log.Logger) (Sink, error)

var (
	sinkMu        sync.RWMutex
	sinkFactories = map[string]SinkFactory{}
)

// RegisterSinkType installs a sink factory under a type name, letting
// embedders add transports beyond the built-in "log" (a WriterSink is
// built directly with NewWriterSink, not through a type name).
func RegisterSinkType(name string, f SinkFactory) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sinkFactories[name] = f
}

// NewSink builds a sink from configuration properties.
func NewSink(streamID string, props map[string]string, logger log.Logger) (Sink, error) {
	sinkMu.RLock()
	f, ok := sinkFactories[props["type"]]
	sinkMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("runtime: unknown sink type %q for stream %q", props["type"], streamID)
	}
	return f(streamID, props, logger)
}

func init() {
	RegisterSinkType("log", func(streamID string, props map[string]string, logger log.Logger) (Sink, error) {
		return NewLogSink(streamID, props["prefix"], logger), nil
	})
}

// LogSink renders each output event through the app logger, the default
// sink for development and tests.
type LogSink struct {
	streamID string
	prefix   string
	logger   log.Logger
}

// NewLogSink builds a LogSink for streamID; when non-empty, prefix is used
// as each record's message in place of the default "event".
func NewLogSink(streamID, prefix string, logger log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{streamID: streamID, prefix: prefix, logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(chunk event.Chunk) error {
	msg := "event"
	if s.prefix != "" {
		msg = s.prefix
	}
	event.ForEach(chunk, func(e event.ComplexEvent) {
		s.logger.Info(msg,
			log.F("stream", s.streamID),
			log.F("type", e.EventType().String()),
			log.F("timestamp", e.Timestamp()),
			log.F("data", rowOf(e)))
	})
	return nil
}

func (s *LogSink) Close() error { return nil }

// WriterSink JSON-encodes each output event as one line on an io.Writer.
type WriterSink struct {
	streamID string
	mu       sync.Mutex
	w        io.Writer
}

// NewWriterSink builds a WriterSink for streamID writing to w.
func NewWriterSink(streamID string, w io.Writer) *WriterSink {
	return &WriterSink{streamID: streamID, w: w}
}

func (s *WriterSink) Name() string { return "writer" }

type sinkRecord struct {
	Stream    string        `json:"stream"`
	Type      string        `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Data      []interface{} `json:"data"`
}

func (s *WriterSink) Publish(chunk event.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	var err error
	event.ForEach(chunk, func(e event.ComplexEvent) {
		if err != nil {
			return
		}
		err = enc.Encode(sinkRecord{
			Stream:    s.streamID,
			Type:      e.EventType().String(),
			Timestamp: e.Timestamp(),
			Data:      rowOf(e),
		})
	})
	return err
}

func (s *WriterSink) Close() error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// rowOf extracts an event's visible row: the projected output when
// present, otherwise the raw input attributes.
func rowOf(e event.ComplexEvent) []interface{} {
	var vals []value.Value
	if out := e.OutputData(); out != nil {
		vals = out
	} else if se, ok := e.(*event.StreamEvent); ok {
		vals = se.BeforeWindowData
	}
	row := make([]interface{}, len(vals))
	for i, v := range vals {
		row[i] = v.AsInterface()
	}
	return row
}
