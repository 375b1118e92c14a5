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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 0)
	require.NoError(t, err)

	require.NoError(t, store.Save("app1", "rev1", []byte("payload")))
	data, err := store.Load("app1", "rev1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestFileStoreLastRevision(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 0)
	require.NoError(t, err)

	last, err := store.LastRevision("app1")
	require.NoError(t, err)
	assert.Empty(t, last)

	require.NoError(t, store.Save("app1", "a-rev", []byte("1")))
	require.NoError(t, store.Save("app1", "b-rev", []byte("2")))
	last, err = store.LastRevision("app1")
	require.NoError(t, err)
	assert.Equal(t, "b-rev", last)
}

func TestFileStorePrunesBeyondMaxRevisions(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 2)
	require.NoError(t, err)

	require.NoError(t, store.Save("app1", "r1", []byte("1")))
	require.NoError(t, store.Save("app1", "r2", []byte("2")))
	require.NoError(t, store.Save("app1", "r3", []byte("3")))

	_, err = store.Load("app1", "r1")
	assert.Error(t, err)
	_, err = store.Load("app1", "r3")
	assert.NoError(t, err)
}

func TestFileStoreClearAllRevisions(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, store.Save("app1", "r1", []byte("1")))
	require.NoError(t, store.ClearAllRevisions("app1"))

	last, err := store.LastRevision("app1")
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestFileStoreIsolatesApps(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, store.Save("app1", "r1", []byte("one")))
	require.NoError(t, store.Save("app2", "r1", []byte("two")))
	require.NoError(t, store.ClearAllRevisions("app1"))

	data, err := store.Load("app2", "r1")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func TestSQLiteStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir()+"/snaps.db", 0)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("app1", "rev1", []byte("payload")))
	data, err := store.Load("app1", "rev1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	last, err := store.LastRevision("app1")
	require.NoError(t, err)
	assert.Equal(t, "rev1", last)
}

func TestSQLiteStorePrunesBeyondMaxRevisions(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir()+"/snaps.db", 1)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("app1", "r1", []byte("1")))
	require.NoError(t, store.Save("app1", "r2", []byte("2")))

	_, err = store.Load("app1", "r1")
	assert.Error(t, err)
	last, err := store.LastRevision("app1")
	require.NoError(t, err)
	assert.Equal(t, "r2", last)
}

func TestSQLiteStoreClearAllRevisions(t *testing.T) {
	store, err := OpenSQLiteStore(t.TempDir()+"/snaps.db", 0)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save("app1", "r1", []byte("1")))
	require.NoError(t, store.ClearAllRevisions("app1"))
	_, err = store.Load("app1", "r1")
	assert.Error(t, err)
}
