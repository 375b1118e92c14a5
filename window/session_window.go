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
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/snapshot"
)

type sessionBucket struct {
	events   []*event.StreamEvent
	lastSeen int64
}

// SessionWindow implements session(gap[, key]): a per-key FIFO.
// When a new event arrives for key k at timestamp t, if t is within gap
// of k's last-seen timestamp the session extends; otherwise the prior
// session for k flushes as EXPIRED and a new session starts with the new
// event as CURRENT.
type SessionWindow struct {
	base
	id  string
	Gap time.Duration
	Key executor.Executor // nil means a single global session

	mu      sync.Mutex
	buckets map[string]*sessionBucket

	ticker  *time.Ticker
	quit    chan struct{}
	running bool
}

var _ Window = (*SessionWindow)(nil)

// NewSessionWindow builds a session(gap[, key]) window registered under id.
func NewSessionWindow(id string, gap time.Duration, key executor.Executor) *SessionWindow {
	return &SessionWindow{id: id, Gap: gap, Key: key, buckets: make(map[string]*sessionBucket)}
}

func (w *SessionWindow) keyFor(e event.ComplexEvent) string {
	if w.Key == nil {
		return ""
	}
	return w.Key.Execute(e).String()
}

func (w *SessionWindow) Process(chunk event.Chunk) event.Chunk {
	var builder event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		se, ok := e.(*event.StreamEvent)
		if !ok {
			return
		}
		key := w.keyFor(se)
		ts := se.Timestamp()

		w.mu.Lock()
		b, exists := w.buckets[key]
		var expired []*event.StreamEvent
		if exists && ts-b.lastSeen >= w.Gap.Milliseconds() {
			expired = b.events
			b = nil
		}
		if b == nil {
			b = &sessionBucket{}
			w.buckets[key] = b
		}
		b.events = append(b.events, se.Clone())
		b.lastSeen = ts
		w.mu.Unlock()

		for _, ex := range expired {
			ex.SetEventType(event.EXPIRED)
			builder.Append(ex)
		}
		builder.Append(se)
	})
	return builder.Chunk()
}

// Start launches a periodic sweep closing sessions that have gone idle
// longer than Gap with no triggering next event for that key.
func (w *SessionWindow) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.quit = make(chan struct{})
	interval := w.Gap / 2
	if interval <= 0 {
		interval = w.Gap
	}
	w.ticker = time.NewTicker(interval)
	quit, ticker := w.quit, w.ticker
	w.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				expired := w.sweepIdle()
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

func (w *SessionWindow) sweepIdle() []*event.StreamEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now().UnixMilli()
	var expired []*event.StreamEvent
	for key, b := range w.buckets {
		if now-b.lastSeen >= w.Gap.Milliseconds() {
			expired = append(expired, b.events...)
			delete(w.buckets, key)
		}
	}
	return expired
}

func (w *SessionWindow) Stop() {
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

func (w *SessionWindow) ProcessingMode() processor.Mode { return processor.ModeDefault }
func (w *SessionWindow) IsStateful() bool               { return true }

func (w *SessionWindow) ComponentID() string             { return w.id }
func (w *SessionWindow) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }
func (w *SessionWindow) EstimateSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.buckets {
		n += len(b.events)
	}
	return int64(n) * 64
}
func (w *SessionWindow) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }
func (w *SessionWindow) Metadata() map[string]string {
	return map[string]string{"kind": "session", "gap": w.Gap.String()}
}

type sessionSnapEntry struct {
	Key      string
	LastSeen int64
	Events   []lengthWindowRow
}

func (w *SessionWindow) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	w.mu.Lock()
	entries := make([]sessionSnapEntry, 0, len(w.buckets))
	for k, b := range w.buckets {
		entries = append(entries, sessionSnapEntry{Key: k, LastSeen: b.lastSeen, Events: toRows(b.events)})
	}
	w.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("session window serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   w.id,
		SchemaVersion: w.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

func (w *SessionWindow) Deserialize(s snapshot.StateSnapshot) error {
	if s.SchemaVersion.Major != w.SchemaVersion().Major {
		return fmt.Errorf("session window deserialize: schema major mismatch")
	}
	if crc32.ChecksumIEEE(s.Bytes) != s.Checksum {
		return fmt.Errorf("session window deserialize: checksum mismatch")
	}
	var entries []sessionSnapEntry
	if err := gob.NewDecoder(bytes.NewReader(s.Bytes)).Decode(&entries); err != nil {
		return fmt.Errorf("session window deserialize: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buckets = make(map[string]*sessionBucket, len(entries))
	for _, e := range entries {
		w.buckets[e.Key] = &sessionBucket{events: fromRows(e.Events), lastSeen: e.LastSeen}
	}
	return nil
}

func (w *SessionWindow) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("session window: changelog not supported, use Serialize")
}

func (w *SessionWindow) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("session window: changelog not supported, use Deserialize")
}
