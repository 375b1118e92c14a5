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
	"container/heap"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/value"
)

// SortWindow implements sort(N[, attr, asc/desc]+): a bounded heap
// of N events ordered by the given keys. Insertion of an (N+1)-th event
// evicts the current extremum — the entry that sorts last under Specs —
// as EXPIRED. The heap orders entries by the same lexicographic
// multi-key comparison rule ORDER BY uses.
type SortWindow struct {
	base
	id    string
	Size  int
	Specs []processor.OrderSpec

	mu sync.Mutex
	h  sortHeap
}

var _ Window = (*SortWindow)(nil)
var _ heap.Interface = (*sortHeap)(nil)

// NewSortWindow builds a sort(N, specs...) bounded top-N window.
func NewSortWindow(id string, size int, specs []processor.OrderSpec) *SortWindow {
	if size < 1 {
		size = 1
	}
	return &SortWindow{id: id, Size: size, Specs: specs}
}

type sortHeap struct {
	items []*event.StreamEvent
	specs []processor.OrderSpec
}

func (h sortHeap) Len() int { return len(h.items) }
func (h sortHeap) Less(i, j int) bool {
	// Root (index 0) must be the extremum to evict: the entry that sorts
	// *last* under specs, so this is the reverse of the ordinary
	// ascending/descending comparison.
	return specLess(h.specs, h.items[j], h.items[i])
}
func (h sortHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *sortHeap) Push(x interface{}) {
	h.items = append(h.items, x.(*event.StreamEvent))
}
func (h *sortHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// specLess mirrors processor.Selector.less's lexicographic multi-key rule
// (duplicated here since that method is unexported on Selector): true
// when a sorts strictly before b under specs.
func specLess(specs []processor.OrderSpec, a, b event.ComplexEvent) bool {
	for _, spec := range specs {
		av := spec.Expr.Execute(a)
		bv := spec.Expr.Execute(b)
		cmp, ok := value.Compare(av, bv)
		if !ok || cmp == 0 {
			continue
		}
		if spec.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func (w *SortWindow) Process(chunk event.Chunk) event.Chunk {
	var builder event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		se, ok := e.(*event.StreamEvent)
		if !ok {
			return
		}
		w.mu.Lock()
		if w.h.specs == nil {
			w.h.specs = w.Specs
		}
		heap.Push(&w.h, se.Clone())
		var evicted *event.StreamEvent
		if w.h.Len() > w.Size {
			evicted = heap.Pop(&w.h).(*event.StreamEvent)
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

func (w *SortWindow) ProcessingMode() processor.Mode { return processor.ModeDefault }
func (w *SortWindow) IsStateful() bool               { return true }
func (w *SortWindow) Start()                         {}
func (w *SortWindow) Stop()                          {}

func (w *SortWindow) ComponentID() string             { return w.id }
func (w *SortWindow) SchemaVersion() snapshot.Version { return snapshot.Version{Major: 1} }
func (w *SortWindow) EstimateSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(w.h.Len()) * 64
}
func (w *SortWindow) AccessPattern() snapshot.AccessPattern { return snapshot.AccessWriteHeavy }
func (w *SortWindow) Metadata() map[string]string {
	return map[string]string{"kind": "sort", "size": fmt.Sprint(w.Size)}
}

func (w *SortWindow) Serialize(snapshot.SerializeHints) (snapshot.StateSnapshot, error) {
	w.mu.Lock()
	rows := toRows(w.h.items)
	w.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		return snapshot.StateSnapshot{}, fmt.Errorf("sort window serialize: %w", err)
	}
	return snapshot.StateSnapshot{
		ComponentID:   w.id,
		SchemaVersion: w.SchemaVersion(),
		Bytes:         buf.Bytes(),
		Checksum:      crc32.ChecksumIEEE(buf.Bytes()),
	}, nil
}

func (w *SortWindow) Deserialize(s snapshot.StateSnapshot) error {
	if s.SchemaVersion.Major != w.SchemaVersion().Major {
		return fmt.Errorf("sort window deserialize: schema major mismatch")
	}
	if crc32.ChecksumIEEE(s.Bytes) != s.Checksum {
		return fmt.Errorf("sort window deserialize: checksum mismatch")
	}
	var rows []lengthWindowRow
	if err := gob.NewDecoder(bytes.NewReader(s.Bytes)).Decode(&rows); err != nil {
		return fmt.Errorf("sort window deserialize: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.h = sortHeap{items: fromRows(rows), specs: w.Specs}
	heap.Init(&w.h)
	return nil
}

func (w *SortWindow) Changelog(string) (snapshot.ChangeLog, error) {
	return snapshot.ChangeLog{}, fmt.Errorf("sort window: changelog not supported, use Serialize")
}

func (w *SortWindow) ApplyChangelog(snapshot.ChangeLog) error {
	return fmt.Errorf("sort window: changelog not supported, use Deserialize")
}
