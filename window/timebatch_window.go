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
	"time"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/snapshot"
)

// TimeBatchWindow implements timeBatch(D): a tumbling window that
// buffers events and emits them all at once at each D boundary, aligned
// either to epoch or to the first event it ever saw.
type TimeBatchWindow struct {
	base
	id           string
	Size         time.Duration
	AlignToEpoch bool

	mu        sync.Mutex
	buf       []*event.StreamEvent
	prior     []*event.StreamEvent
	boundary  time.Time
	ticker    *time.Ticker
	quit      chan struct{}
	running   bool
	firstSeen bool
}

var _ Window = (*TimeBatchWindow)(nil)

// NewTimeBatchWindow builds a timeBatch(D) tumbling window registered
// under id. When alignToEpoch is false, the first boundary is anchored to
// the first event's arrival rather than to epoch.
func NewTimeBatchWindow(id string, size time.Duration, alignToEpoch bool) *TimeBatchWindow {
	return &TimeBatchWindow{id: id, Size: size, AlignToEpoch: alignToEpoch}
}

func (w *TimeBatchWindow) Process(chunk event.Chunk) event.Chunk {
	var builder event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		se, ok := e.(*event.StreamEvent)
		if !ok {
			return
		}
		fired := w.add(se)
		if fired != nil {
			w.appendFired(&builder, fired)
		}
	})
	return builder.Chunk()
}

type firedBatch struct {
	prior, current []*event.StreamEvent
}

func (w *TimeBatchWindow) add(se *event.StreamEvent) *firedBatch {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.UnixMilli(se.Timestamp())
	if !w.firstSeen {
		w.firstSeen = true
		if w.AlignToEpoch {
			w.boundary = alignWindowStart(now, w.Size).Add(w.Size)
		} else {
			w.boundary = now.Add(w.Size)
		}
	}

	var fired *firedBatch
	if !now.Before(w.boundary) {
		fired = &firedBatch{prior: w.prior, current: w.buf}
		w.prior = w.buf
		w.buf = nil
		for w.boundary.Before(now) || w.boundary.Equal(now) {
			w.boundary = w.boundary.Add(w.Size)
		}
	}
	w.buf = append(w.buf, se.Clone())
	return fired
}

func (w *TimeBatchWindow) appendFired(builder *event.ChunkBuilder, fired *firedBatch) {
	for _, cur := range fired.current {
		cur.SetEventType(event.CURRENT)
		builder.Append(cur)
	}
	for _, ex := range fired.prior {
		ex.SetEventType(event.EXPIRED)
		builder.Append(ex)
	}
}

// Start launches the wall-clock ticker so a batch that never receives a
// triggering next-period event still flushes.
func (w *TimeBatchWindow) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.quit = make(chan struct{})
	w.ticker = time.NewTicker(w.Size)
	quit, ticker := w.quit, w.ticker
	w.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				fired := w.sweepNow()
				if fired == nil {
					continue
				}
				var builder event.ChunkBuilder
				w.appendFired(&builder, fired)
				w.emit(builder.Chunk())
			case <-quit:
				return
			}
		}
	}()
}

func (w *TimeBatchWindow) sweepNow() *firedBatch {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.firstSeen || time.Now().Before(w.boundary) {
		return nil
	}
	if len(w.buf) == 0 && len(w.prior) == 0 {
		w.boundary = w.boundary.Add(w.Size)
		return nil
	}
	fired := &firedBatch{prior: w.prior, current: w.buf}
	w.prior, w.buf = w.buf, nil
	for !w.boundary.After(time.Now()) {
		w.boundary = w.boundary.Add(w.Size)
	}
	return fired
}

func (w *TimeBatchWindow) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	ticker, quit := w.ticker, w.quit
	w.mu.Unlock()
	if ticker != nil {
		ticker.Stop()
	}
	if quit != nil {
		close(quit)
	}
}

func (w *TimeBatchWindow) ProcessingMode() processor.Mode { return processor.ModeBatch }
func (w *TimeBatchWindow) IsStateful() bool               { return true }

func (w *TimeBatchWindow) ComponentID() string             { return w.id }
func (w *TimeBatchWindow) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }
func (w *TimeBatchWindow) EstimateSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.buf)+len(w.prior)) * 64
}
func (w *TimeBatchWindow) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }
func (w *TimeBatchWindow) Metadata() map[string]string {
	return map[string]string{"kind": "timeBatch", "size": w.Size.String()}
}

func (w *TimeBatchWindow) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	w.mu.Lock()
	snap := lengthBatchSnap{Current: toRows(w.buf), Prior: toRows(w.prior)}
	w.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("timeBatch window serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   w.id,
		SchemaVersion: w.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

func (w *TimeBatchWindow) Deserialize(s snapshot.StateSnapshot) error {
	if s.SchemaVersion.Major != w.SchemaVersion().Major {
		return fmt.Errorf("timeBatch window deserialize: schema major mismatch")
	}
	if crc32.ChecksumIEEE(s.Bytes) != s.Checksum {
		return fmt.Errorf("timeBatch window deserialize: checksum mismatch")
	}
	var snap lengthBatchSnap
	if err := gob.NewDecoder(bytes.NewReader(s.Bytes)).Decode(&snap); err != nil {
		return fmt.Errorf("timeBatch window deserialize: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = fromRows(snap.Current)
	w.prior = fromRows(snap.Prior)
	return nil
}

func (w *TimeBatchWindow) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("timeBatch window: changelog not supported, use Serialize")
}

func (w *TimeBatchWindow) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("timeBatch window: changelog not supported, use Deserialize")
}
