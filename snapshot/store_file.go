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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/eventflux-io/eventflux/ferror"
)

const fileStoreExt = ".snapshot"

// FileStore persists one file per revision under dir/<appID>/. Revision
// ordering relies on the revision string's sortable millisecond prefix.
type FileStore struct {
	mu           sync.Mutex
	dir          string
	maxRevisions int
}

// NewFileStore builds a FileStore rooted at dir, retaining at most
// maxRevisions files per app (0 keeps everything).
func NewFileStore(dir string, maxRevisions int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &ferror.StoreError{Store: "file", Key: dir, Cause: err}
	}
	return &FileStore{dir: dir, maxRevisions: maxRevisions}, nil
}

func (f *FileStore) appDir(appID string) string {
	return filepath.Join(f.dir, appID)
}

func (f *FileStore) path(appID, revision string) string {
	return filepath.Join(f.appDir(appID), revision+fileStoreExt)
}

func (f *FileStore) Save(appID, revision string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir := f.appDir(appID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ferror.StoreError{Store: "file", Key: dir, Cause: err}
	}
	// Write-then-rename so a crash mid-write never leaves a torn
	// revision behind.
	tmp := f.path(appID, revision) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &ferror.StoreError{Store: "file", Key: tmp, Cause: err}
	}
	if err := os.Rename(tmp, f.path(appID, revision)); err != nil {
		return &ferror.StoreError{Store: "file", Key: f.path(appID, revision), Cause: err}
	}
	return f.prune(appID)
}

func (f *FileStore) prune(appID string) error {
	if f.maxRevisions <= 0 {
		return nil
	}
	revs, err := f.list(appID)
	if err != nil {
		return err
	}
	for len(revs) > f.maxRevisions {
		if err := os.Remove(f.path(appID, revs[0])); err != nil {
			return &ferror.StoreError{Store: "file", Key: revs[0], Cause: err}
		}
		revs = revs[1:]
	}
	return nil
}

func (f *FileStore) list(appID string) ([]string, error) {
	entries, err := os.ReadDir(f.appDir(appID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &ferror.StoreError{Store: "file", Key: appID, Cause: err}
	}
	var revs []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, fileStoreExt) {
			revs = append(revs, strings.TrimSuffix(name, fileStoreExt))
		}
	}
	sort.Strings(revs)
	return revs, nil
}

func (f *FileStore) Load(appID, revision string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path(appID, revision))
	if err != nil {
		return nil, &ferror.StoreError{Store: "file", Key: appID + "/" + revision, Cause: err}
	}
	return data, nil
}

func (f *FileStore) LastRevision(appID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	revs, err := f.list(appID)
	if err != nil {
		return "", err
	}
	if len(revs) == 0 {
		return "", nil
	}
	return revs[len(revs)-1], nil
}

func (f *FileStore) ClearAllRevisions(appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.RemoveAll(f.appDir(appID)); err != nil {
		return &ferror.StoreError{Store: "file", Key: appID, Cause: fmt.Errorf("clear: %w", err)}
	}
	return nil
}
