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

package snapshot

import (
	"fmt"
	"sort"
	"sync"

	"github.com/eventflux-io/eventflux/ferror"
)

// Store is the pluggable persistence backend snapshots are written to.
// Revisions are opaque, lexically ordered strings; LastRevision returns
// "" when the app has none.
type Store interface {
	Save(appID, revision string, data []byte) error
	Load(appID, revision string) ([]byte, error)
	LastRevision(appID string) (string, error)
	ClearAllRevisions(appID string) error
}

// MemoryStore keeps revisions in process memory, pruned to MaxRevisions
// per app (0 keeps everything). The default store for tests and for apps
// that only snapshot to hand state between restarts of the same process.
type MemoryStore struct {
	mu           sync.RWMutex
	maxRevisions int
	revisions    map[string][]string          // appID -> ordered revisions
	data         map[string]map[string][]byte // appID -> revision -> blob
}

// NewMemoryStore builds a MemoryStore retaining at most maxRevisions
// revisions per app, oldest pruned first; 0 disables pruning.
func NewMemoryStore(maxRevisions int) *MemoryStore {
	return &MemoryStore{
		maxRevisions: maxRevisions,
		revisions:    make(map[string][]string),
		data:         make(map[string]map[string][]byte),
	}
}

func (m *MemoryStore) Save(appID, revision string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[appID] == nil {
		m.data[appID] = make(map[string][]byte)
	}
	if _, exists := m.data[appID][revision]; !exists {
		m.revisions[appID] = append(m.revisions[appID], revision)
		sort.Strings(m.revisions[appID])
	}
	m.data[appID][revision] = append([]byte(nil), data...)

	if m.maxRevisions > 0 {
		for len(m.revisions[appID]) > m.maxRevisions {
			oldest := m.revisions[appID][0]
			m.revisions[appID] = m.revisions[appID][1:]
			delete(m.data[appID], oldest)
		}
	}
	return nil
}

func (m *MemoryStore) Load(appID, revision string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.data[appID][revision]
	if !ok {
		return nil, &ferror.StoreError{Store: "memory", Key: appID + "/" + revision, Cause: fmt.Errorf("revision not found")}
	}
	return append([]byte(nil), blob...), nil
}

func (m *MemoryStore) LastRevision(appID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	revs := m.revisions[appID]
	if len(revs) == 0 {
		return "", nil
	}
	return revs[len(revs)-1], nil
}

func (m *MemoryStore) ClearAllRevisions(appID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, appID)
	delete(m.revisions, appID)
	return nil
}
