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
)

// LengthBatchWindow implements lengthBatch(N): accumulates events
// until N are held, then emits the whole batch as CURRENT, followed by
// EXPIRED for the prior batch.
type LengthBatchWindow struct {
	base
	id   string
	Size int

	mu      sync.Mutex
	current []*event.StreamEvent
	prior   []*event.StreamEvent
}

var _ Window = (*LengthBatchWindow)(nil)

// NewLengthBatchWindow builds a lengthBatch(N) tumbling-by-count window.
func NewLengthBatchWindow(id string, size int) *LengthBatchWindow {
	if size < 1 {
		size = 1
	}
	return &LengthBatchWindow{id: id, Size: size}
}

func (w *LengthBatchWindow) Process(chunk event.Chunk) event.Chunk {
	var builder event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		se, ok := e.(*event.StreamEvent)
		if !ok {
			return
		}
		w.mu.Lock()
		w.current = append(w.current, se.Clone())
		fire := len(w.current) >= w.Size
		var batch, prior []*event.StreamEvent
		if fire {
			batch, w.current = w.current, nil
			prior, w.prior = w.prior, batch
		}
		w.mu.Unlock()

		if !fire {
			return
		}
		for _, cur := range batch {
			cur.SetEventType(event.CURRENT)
			builder.Append(cur)
		}
		for _, expired := range prior {
			expired.SetEventType(event.EXPIRED)
			builder.Append(expired)
		}
	})
	return builder.Chunk()
}

func (w *LengthBatchWindow) ProcessingMode() processor.Mode { return processor.ModeBatch }
func (w *LengthBatchWindow) IsStateful() bool               { return true }
func (w *LengthBatchWindow) Start()                         {}
func (w *LengthBatchWindow) Stop()                          {}

func (w *LengthBatchWindow) ComponentID() string             { return w.id }
func (w *LengthBatchWindow) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }
func (w *LengthBatchWindow) EstimateSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.current)+len(w.prior)) * 64
}
func (w *LengthBatchWindow) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }
func (w *LengthBatchWindow) Metadata() map[string]string {
	return map[string]string{"kind": "lengthBatch", "size": fmt.Sprint(w.Size)}
}

type lengthBatchSnap struct {
	Current []lengthWindowRow
	Prior   []lengthWindowRow
}

func (w *LengthBatchWindow) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	w.mu.Lock()
	snap := lengthBatchSnap{
		Current: toRows(w.current),
		Prior:   toRows(w.prior),
	}
	w.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("lengthBatch window serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   w.id,
		SchemaVersion: w.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

func (w *LengthBatchWindow) Deserialize(s snapshot.StateSnapshot) error {
	if s.SchemaVersion.Major != w.SchemaVersion().Major {
		return fmt.Errorf("lengthBatch window deserialize: schema major mismatch")
	}
	if crc32.ChecksumIEEE(s.Bytes) != s.Checksum {
		return fmt.Errorf("lengthBatch window deserialize: checksum mismatch")
	}
	var snap lengthBatchSnap
	if err := gob.NewDecoder(bytes.NewReader(s.Bytes)).Decode(&snap); err != nil {
		return fmt.Errorf("lengthBatch window deserialize: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = fromRows(snap.Current)
	w.prior = fromRows(snap.Prior)
	return nil
}

func (w *LengthBatchWindow) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("lengthBatch window: changelog not supported, use Serialize")
}

func (w *LengthBatchWindow) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("lengthBatch window: changelog not supported, use Deserialize")
}

func toRows(events []*event.StreamEvent) []lengthWindowRow {
	rows := make([]lengthWindowRow, len(events))
	for i, se := range events {
		rows[i] = toRow(se)
	}
	return rows
}

func fromRows(rows []lengthWindowRow) []*event.StreamEvent {
	events := make([]*event.StreamEvent, len(rows))
	for i, r := range rows {
		events[i] = fromRow(r)
	}
	return events
}
