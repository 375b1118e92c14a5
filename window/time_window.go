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

// TimeWindow implements time(D): a sliding time window. On each new
// event with timestamp t, any held event with timestamp <= t-D is expired.
// An independent wall-clock ticker also sweeps so an idle stream still
// flushes expired events with nothing new arriving to trigger the check.
type TimeWindow struct {
	base
	id   string
	Size time.Duration
	wm   *Watermark

	mu      sync.Mutex
	buf     []*event.StreamEvent
	ticker  *time.Ticker
	quit    chan struct{}
	running bool
}

var _ Window = (*TimeWindow)(nil)

// NewTimeWindow builds a time(D) sliding window registered under id. wm
// may be nil when event-time lateness tracking is not needed.
func NewTimeWindow(id string, size time.Duration, wm *Watermark) *TimeWindow {
	return &TimeWindow{id: id, Size: size, wm: wm}
}

func (w *TimeWindow) Process(chunk event.Chunk) event.Chunk {
	var builder event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		se, ok := e.(*event.StreamEvent)
		if !ok {
			return
		}
		if w.wm != nil {
			w.wm.UpdateEventTime(time.UnixMilli(se.Timestamp()))
		}
		expired := w.sweep(se.Clone())
		for _, ex := range expired {
			ex.SetEventType(event.EXPIRED)
			builder.Append(ex)
		}
		builder.Append(se)
	})
	return builder.Chunk()
}

// sweep evicts held events older than newest.Timestamp()-Size, then
// records newest in the buffer for future expiry comparisons.
func (w *TimeWindow) sweep(newest *event.StreamEvent) []*event.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := newest.Timestamp() - w.Size.Milliseconds()
	var expired []*event.StreamEvent
	kept := w.buf[:0]
	for _, held := range w.buf {
		if held.Timestamp() <= cutoff {
			expired = append(expired, held)
		} else {
			kept = append(kept, held)
		}
	}
	w.buf = append(kept, newest)
	return expired
}

// Start launches the wall-clock sweep so idle streams still flush expired
// events even when no new CURRENT event arrives to trigger Process.
func (w *TimeWindow) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.quit = make(chan struct{})
	w.ticker = time.NewTicker(w.Size)
	quit := w.quit
	ticker := w.ticker
	w.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				expired := w.sweepNow()
				if len(expired) == 0 {
					continue
				}
				var builder event.ChunkBuilder
				for _, ex := range expired {
					ex.SetEventType(event.EXPIRED)
					builder.Append(ex)
				}
				w.emit(builder.Chunk())
			case <-quit:
				return
			}
		}
	}()
}

func (w *TimeWindow) sweepNow() []*event.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := time.Now().UnixMilli() - w.Size.Milliseconds()
	var expired []*event.StreamEvent
	kept := w.buf[:0]
	for _, held := range w.buf {
		if held.Timestamp() <= cutoff {
			expired = append(expired, held)
		} else {
			kept = append(kept, held)
		}
	}
	w.buf = kept
	return expired
}

func (w *TimeWindow) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	ticker := w.ticker
	quit := w.quit
	w.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	if quit != nil {
		close(quit)
	}
}

func (w *TimeWindow) ProcessingMode() processor.Mode { return processor.ModeDefault }
func (w *TimeWindow) IsStateful() bool               { return true }

func (w *TimeWindow) ComponentID() string             { return w.id }
func (w *TimeWindow) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }
func (w *TimeWindow) EstimateSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.buf)) * 64
}
func (w *TimeWindow) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }
func (w *TimeWindow) Metadata() map[string]string {
	return map[string]string{"kind": "time", "size": w.Size.String()}
}

func (w *TimeWindow) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	w.mu.Lock()
	rows := toRows(w.buf)
	w.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("time window serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   w.id,
		SchemaVersion: w.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

func (w *TimeWindow) Deserialize(s snapshot.StateSnapshot) error {
	if s.SchemaVersion.Major != w.SchemaVersion().Major {
		return fmt.Errorf("time window deserialize: schema major mismatch")
	}
	if crc32.ChecksumIEEE(s.Bytes) != s.Checksum {
		return fmt.Errorf("time window deserialize: checksum mismatch")
	}
	var rows []lengthWindowRow
	if err := gob.NewDecoder(bytes.NewReader(s.Bytes)).Decode(&rows); err != nil {
		return fmt.Errorf("time window deserialize: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = fromRows(rows)
	return nil
}

func (w *TimeWindow) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("time window: changelog not supported, use Serialize")
}

func (w *TimeWindow) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("time window: changelog not supported, use Deserialize")
}
