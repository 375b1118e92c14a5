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
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/ferror"
)

// FailedEvent is one entry collected by an ErrorCollector.
type FailedEvent struct {
	StreamID   string
	Error      string
	OccurredAt int64 // epoch millis
	Timestamp  int64 // the failed event's own timestamp
	Data       []interface{}
}

// ErrorCollector receives events whose processing failed under the STORE
// error action, for later inspection or replay.
type ErrorCollector interface {
	Collect(streamID string, chunk event.Chunk, cause error)
	// Failed lists collected entries for a stream; empty streamID lists
	// everything.
	Failed(streamID string) []FailedEvent
	// Clear drops collected entries for a stream; empty streamID clears
	// everything.
	Clear(streamID string) error
}

// MemoryErrorStore is a bounded in-memory ErrorCollector; when full, the
// oldest entries are discarded first.
type MemoryErrorStore struct {
	mu      sync.Mutex
	cap     int
	entries []FailedEvent
}

// NewMemoryErrorStore bounds retained entries at capacity (minimum 1).
func NewMemoryErrorStore(capacity int) *MemoryErrorStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryErrorStore{cap: capacity}
}

func flatten(streamID string, chunk event.Chunk, cause error) []FailedEvent {
	now := time.Now().UnixMilli()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	var out []FailedEvent
	event.ForEach(chunk, func(e event.ComplexEvent) {
		fe := FailedEvent{StreamID: streamID, Error: msg, OccurredAt: now, Timestamp: e.Timestamp()}
		if se, ok := e.(*event.StreamEvent); ok {
			for _, v := range se.BeforeWindowData {
				fe.Data = append(fe.Data, v.AsInterface())
			}
		}
		out = append(out, fe)
	})
	return out
}

func (m *MemoryErrorStore) Collect(streamID string, chunk event.Chunk, cause error) {
	entries := flatten(streamID, chunk, cause)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	if over := len(m.entries) - m.cap; over > 0 {
		m.entries = m.entries[over:]
	}
}

func (m *MemoryErrorStore) Failed(streamID string) []FailedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FailedEvent
	for _, e := range m.entries {
		if streamID == "" || e.StreamID == streamID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemoryErrorStore) Clear(streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if streamID == "" {
		m.entries = nil
		return nil
	}
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.StreamID != streamID {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

// BoltErrorStore persists failed events in a bbolt database, one bucket
// per stream, keyed by a monotonic sequence, so collected errors survive
// process restarts.
type BoltErrorStore struct {
	db *bolt.DB
}

// OpenBoltErrorStore opens (creating if absent) the bbolt database at
// path.
func OpenBoltErrorStore(path string) (*BoltErrorStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, &ferror.StoreError{Store: "bbolt", Key: path, Cause: err}
	}
	return &BoltErrorStore{db: db}, nil
}

// Close releases the database handle.
func (b *BoltErrorStore) Close() error { return b.db.Close() }

func (b *BoltErrorStore) Collect(streamID string, chunk event.Chunk, cause error) {
	entries := flatten(streamID, chunk, cause)
	_ = b.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(streamID))
		if err != nil {
			return err
		}
		for _, e := range entries {
			seq, err := bkt.NextSequence()
			if err != nil {
				return err
			}
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], seq)
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(e); err != nil {
				return err
			}
			if err := bkt.Put(key[:], buf.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltErrorStore) Failed(streamID string) []FailedEvent {
	var out []FailedEvent
	_ = b.db.View(func(tx *bolt.Tx) error {
		scan := func(bkt *bolt.Bucket) error {
			return bkt.ForEach(func(_, v []byte) error {
				var fe FailedEvent
				if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&fe); err != nil {
					return err
				}
				out = append(out, fe)
				return nil
			})
		}
		if streamID != "" {
			if bkt := tx.Bucket([]byte(streamID)); bkt != nil {
				return scan(bkt)
			}
			return nil
		}
		return tx.ForEach(func(_ []byte, bkt *bolt.Bucket) error { return scan(bkt) })
	})
	return out
}

func (b *BoltErrorStore) Clear(streamID string) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		if streamID != "" {
			if tx.Bucket([]byte(streamID)) == nil {
				return nil
			}
			return tx.DeleteBucket([]byte(streamID))
		}
		var names [][]byte
		if err := tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, append([]byte(nil), name...))
			return nil
		}); err != nil {
			return err
		}
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &ferror.StoreError{Store: "bbolt", Key: streamID, Cause: fmt.Errorf("clear: %w", err)}
	}
	return nil
}
