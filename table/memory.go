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

package table

import (
	"fmt"
	"sync"

	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/value"
)

// Memory is the default in-memory Table implementation, a
// primary-key-indexed row store guarded by a single RWMutex.
type Memory struct {
	mu        sync.RWMutex
	pkIndexes []int
	rows      map[string]Row
}

// NewMemory builds an empty table whose primary key is the attributes at
// pkIndexes (in schema order). An empty pkIndexes means every row is
// addressed only by Find/a full scan; Insert still succeeds but
// Contains/Update/Delete have no effect since no key is derivable.
func NewMemory(pkIndexes []int) *Memory {
	return &Memory{pkIndexes: pkIndexes, rows: make(map[string]Row)}
}

func (m *Memory) Insert(row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(row, m.pkIndexes)
	if key == "" {
		key = fmt.Sprintf("#%d", len(m.rows))
	}
	m.rows[key] = row
	return nil
}

func (m *Memory) Contains(key value.Value) bool {
	return m.ContainsComposite(key.String())
}

func (m *Memory) ContainsComposite(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rows[key]
	return ok
}

func (m *Memory) Update(key string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[key]; !ok {
		return &ferror.StoreError{Store: "memory", Key: key, Cause: fmt.Errorf("no such row")}
	}
	m.rows[key] = row
	return nil
}

// Upsert inserts row if its key is new, otherwise replaces the existing
// row (the `update or insert into` sink form).
func (m *Memory) Upsert(row Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(row, m.pkIndexes)
	if key == "" {
		key = fmt.Sprintf("#%d", len(m.rows))
	}
	m.rows[key] = row
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, key)
	return nil
}

func (m *Memory) Find(pred func(Row) bool) []Row {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Row
	for _, r := range m.rows {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// Len reports the current row count, used by snapshot size diagnostics.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
