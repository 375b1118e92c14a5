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
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/value"
)

func init() {
	// gob requires concrete types stored in interface{} fields to be
	// registered; lengthWindowRow.Values holds value.Value.AsInterface()
	// results, which are always one of these Go primitives.
	gob.Register(int32(0))
	gob.Register(int64(0))
	gob.Register(float32(0))
	gob.Register(float64(0))
	gob.Register("")
	gob.Register(false)
}

// LengthWindow implements length(N): a FIFO of size N. Arrival of
// event k>N expires event k-N; every Process call emits the incoming
// CURRENT event followed by an EXPIRED event for whatever it evicted.
type LengthWindow struct {
	base
	id   string
	Size int

	mu  sync.Mutex
	buf []*event.StreamEvent
}

var _ Window = (*LengthWindow)(nil)

// NewLengthWindow builds a length(N) FIFO window registered under id.
func NewLengthWindow(id string, size int) *LengthWindow {
	if size < 1 {
		size = 1
	}
	return &LengthWindow{id: id, Size: size}
}

func (w *LengthWindow) Process(chunk event.Chunk) event.Chunk {
	var builder event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		se, ok := e.(*event.StreamEvent)
		if !ok {
			return
		}
		w.mu.Lock()
		w.buf = append(w.buf, se.Clone())
		var evicted *event.StreamEvent
		if len(w.buf) > w.Size {
			evicted = w.buf[0]
			w.buf = w.buf[1:]
		}
		w.mu.Unlock()

		builder.Append(se)
		if evicted != nil {
			evicted.SetEventType(event.EXPIRED)
			builder.Append(evicted)
		}
	})
	return builder.Chunk()
}

func (w *LengthWindow) ProcessingMode() processor.Mode { return processor.ModeDefault }
func (w *LengthWindow) IsStateful() bool               { return true }
func (w *LengthWindow) Start()                         {}
func (w *LengthWindow) Stop()                          {}

func (w *LengthWindow) ComponentID() string             { return w.id }
func (w *LengthWindow) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }
func (w *LengthWindow) EstimateSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.buf)) * 64
}
func (w *LengthWindow) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }
func (w *LengthWindow) Metadata() map[string]string {
	return map[string]string{"kind": "length", "size": fmt.Sprint(w.Size)}
}

type lengthWindowRow struct {
	Timestamp int64
	Values    []interface{}
	Types     []value.Type
}

func (w *LengthWindow) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	w.mu.Lock()
	rows := make([]lengthWindowRow, len(w.buf))
	for i, se := range w.buf {
		rows[i] = toRow(se)
	}
	w.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("length window serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   w.id,
		SchemaVersion: w.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

func (w *LengthWindow) Deserialize(snap snapshot.StateSnapshot) error {
	if snap.SchemaVersion.Major != w.SchemaVersion().Major {
		return fmt.Errorf("length window deserialize: schema major mismatch: have %d want %d", snap.SchemaVersion.Major, w.SchemaVersion().Major)
	}
	if crc32.ChecksumIEEE(snap.Bytes) != snap.Checksum {
		return fmt.Errorf("length window deserialize: checksum mismatch")
	}
	var rows []lengthWindowRow
	if err := gob.NewDecoder(bytes.NewReader(snap.Bytes)).Decode(&rows); err != nil {
		return fmt.Errorf("length window deserialize: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = make([]*event.StreamEvent, len(rows))
	for i, r := range rows {
		w.buf[i] = fromRow(r)
	}
	return nil
}

// Changelog is unsupported: a FIFO window's state changes on every event,
// so a delta is no cheaper than a full Serialize.
func (w *LengthWindow) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("length window: changelog not supported, use Serialize")
}

func (w *LengthWindow) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("length window: changelog not supported, use Deserialize")
}

// toRow/fromRow convert a *event.StreamEvent's attribute values to/from a
// gob-friendly shape, since value.Value's internal union fields are
// unexported and cannot be gob-encoded directly.
func toRow(se *event.StreamEvent) lengthWindowRow {
	r := lengthWindowRow{Timestamp: se.Timestamp()}
	for _, v := range se.BeforeWindowData {
		r.Types = append(r.Types, v.Type())
		r.Values = append(r.Values, v.AsInterface())
	}
	return r
}

func fromRow(r lengthWindowRow) *event.StreamEvent {
	vals := make([]value.Value, len(r.Values))
	for i, raw := range r.Values {
		v, err := value.FromInterface(r.Types[i], raw)
		if err != nil {
			v = value.Null(r.Types[i])
		}
		vals[i] = v
	}
	return event.NewStreamEvent(r.Timestamp, "", vals)
}
