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
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/log"
)

// fakeHolder is a StateHolder over a single byte slice, optionally
// supporting changelogs.
type fakeHolder struct {
	id           string
	state        []byte
	major        int
	changelogOK  bool
	appliedLogs  [][]byte
	serializeErr error
}

func newFakeHolder(id string, state []byte) *fakeHolder {
	return &fakeHolder{id: id, state: state, major: 1}
}

func (f *fakeHolder) ComponentID() string    { return f.id }
func (f *fakeHolder) SchemaVersion() Version { return Version{Major: f.major} }

func (f *fakeHolder) Serialize(SerializeHints) (StateSnapshot, error) {
	if f.serializeErr != nil {
		return StateSnapshot{}, f.serializeErr
	}
	return StateSnapshot{
		ComponentID:   f.id,
		SchemaVersion: f.SchemaVersion(),
		Bytes:         append([]byte(nil), f.state...),
		Checksum:      crc32.ChecksumIEEE(f.state),
	}, nil
}

func (f *fakeHolder) Deserialize(snap StateSnapshot) error {
	if snap.SchemaVersion.Major != f.major {
		return fmt.Errorf("schema major mismatch")
	}
	if crc32.ChecksumIEEE(snap.Bytes) != snap.Checksum {
		return fmt.Errorf("checksum mismatch")
	}
	f.state = append([]byte(nil), snap.Bytes...)
	return nil
}

func (f *fakeHolder) Changelog(since string) (ChangeLog, error) {
	if !f.changelogOK {
		return ChangeLog{}, fmt.Errorf("changelog not supported")
	}
	return ChangeLog{ComponentID: f.id, SinceCheckpoint: since, Bytes: []byte("delta")}, nil
}

func (f *fakeHolder) ApplyChangelog(cl ChangeLog) error {
	f.appliedLogs = append(f.appliedLogs, cl.Bytes)
	return nil
}

func (f *fakeHolder) EstimateSize() int64          { return int64(len(f.state)) }
func (f *fakeHolder) AccessPattern() AccessPattern { return AccessMixed }
func (f *fakeHolder) Metadata() map[string]string  { return nil }

func newTestService(t *testing.T, c Compression, holders ...StateHolder) (*Service, *MemoryStore) {
	t.Helper()
	reg := NewRegistry()
	for _, h := range holders {
		require.NoError(t, reg.Register(h))
	}
	store := NewMemoryStore(0)
	return NewService("app1", reg, store, c, log.NewDiscardLogger()), store
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	for _, codec := range []Compression{NoCompression, LZ4, Snappy, Zstd} {
		t.Run(codec.String(), func(t *testing.T) {
			h := newFakeHolder("comp1", []byte("hello state"))
			svc, _ := newTestService(t, codec, h)

			rev, err := svc.Persist()
			require.NoError(t, err)
			require.NotEmpty(t, rev)

			h.state = []byte("mutated")
			require.NoError(t, svc.Restore(rev))
			assert.Equal(t, []byte("hello state"), h.state)
		})
	}
}

func TestRestoreLastPicksNewestRevision(t *testing.T) {
	h := newFakeHolder("comp1", []byte("v1"))
	svc, _ := newTestService(t, NoCompression, h)

	_, err := svc.Persist()
	require.NoError(t, err)
	h.state = []byte("v2")
	_, err = svc.Persist()
	require.NoError(t, err)

	h.state = []byte("garbage")
	require.NoError(t, svc.RestoreLast())
	assert.Equal(t, []byte("v2"), h.state)
}

func TestRestoreFailsWhenRegisteredHolderMissingFromRevision(t *testing.T) {
	h1 := newFakeHolder("comp1", []byte("a"))
	svc, _ := newTestService(t, NoCompression, h1)
	rev, err := svc.Persist()
	require.NoError(t, err)

	// A second holder registers after the persist; restoring the old
	// revision must fail rather than leave comp2 silently unrestored.
	require.NoError(t, svc.Registry().Register(newFakeHolder("comp2", []byte("b"))))
	assert.Error(t, svc.Restore(rev))
}

func TestRestoreSkipsUnknownComponents(t *testing.T) {
	h1 := newFakeHolder("comp1", []byte("a"))
	h2 := newFakeHolder("comp2", []byte("b"))
	svc, _ := newTestService(t, NoCompression, h1, h2)
	rev, err := svc.Persist()
	require.NoError(t, err)

	// comp2 goes away before restore; its manifest entry is skipped.
	svc.Registry().Unregister("comp2")
	h1.state = []byte("garbage")
	require.NoError(t, svc.Restore(rev))
	assert.Equal(t, []byte("a"), h1.state)
}

func TestRestoreRejectsCorruptedPayload(t *testing.T) {
	h := newFakeHolder("comp1", []byte("state"))
	svc, store := newTestService(t, NoCompression, h)
	rev, err := svc.Persist()
	require.NoError(t, err)

	blob, err := store.Load("app1", rev)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	require.NoError(t, store.Save("app1", rev, blob))

	assert.Error(t, svc.Restore(rev))
}

func TestRestoreRejectsNonSnapshotBlob(t *testing.T) {
	h := newFakeHolder("comp1", []byte("state"))
	svc, store := newTestService(t, NoCompression, h)
	require.NoError(t, store.Save("app1", "bogus", []byte("not a snapshot")))
	assert.Error(t, svc.Restore("bogus"))
}

func TestRestoreRejectsSchemaMajorMismatch(t *testing.T) {
	h := newFakeHolder("comp1", []byte("state"))
	svc, _ := newTestService(t, NoCompression, h)
	rev, err := svc.Persist()
	require.NoError(t, err)

	h.major = 2
	assert.Error(t, svc.Restore(rev))
}

func TestPersistIncrementalUsesChangelogWhenSupported(t *testing.T) {
	h := newFakeHolder("comp1", []byte("state"))
	h.changelogOK = true
	svc, _ := newTestService(t, NoCompression, h)

	// First persist is full (no prior checkpoint); the second captures a
	// changelog.
	_, err := svc.Persist()
	require.NoError(t, err)
	rev, err := svc.PersistIncremental()
	require.NoError(t, err)

	require.NoError(t, svc.Restore(rev))
	require.Len(t, h.appliedLogs, 1)
	assert.Equal(t, []byte("delta"), h.appliedLogs[0])
}

func TestPersistIncrementalFallsBackToFullCapture(t *testing.T) {
	h := newFakeHolder("comp1", []byte("full state"))
	svc, _ := newTestService(t, NoCompression, h)

	_, err := svc.Persist()
	require.NoError(t, err)
	rev, err := svc.PersistIncremental()
	require.NoError(t, err)

	h.state = []byte("mutated")
	require.NoError(t, svc.Restore(rev))
	assert.Equal(t, []byte("full state"), h.state)
	assert.Empty(t, h.appliedLogs)
}

func TestRevisionsSortChronologically(t *testing.T) {
	a, b := newRevision(), newRevision()
	assert.LessOrEqual(t, a[:13], b[:13])
}

func TestMemoryStorePrunesOldestBeyondMax(t *testing.T) {
	store := NewMemoryStore(2)
	require.NoError(t, store.Save("app1", "r1", []byte("1")))
	require.NoError(t, store.Save("app1", "r2", []byte("2")))
	require.NoError(t, store.Save("app1", "r3", []byte("3")))

	_, err := store.Load("app1", "r1")
	assert.Error(t, err)
	last, err := store.LastRevision("app1")
	require.NoError(t, err)
	assert.Equal(t, "r3", last)
}

func TestCompressionRoundTrip(t *testing.T) {
	payload := []byte("a payload that compresses: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	for _, codec := range []Compression{NoCompression, LZ4, Snappy, Zstd} {
		t.Run(codec.String(), func(t *testing.T) {
			enc, err := Compress(codec, payload)
			require.NoError(t, err)
			dec, err := Decompress(codec, enc)
			require.NoError(t, err)
			assert.Equal(t, payload, dec)
		})
	}
}

func TestParseCompressionNames(t *testing.T) {
	for name, want := range map[string]Compression{
		"": NoCompression, "none": NoCompression, "lz4": LZ4, "snappy": Snappy, "zstd": Zstd,
	} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}

func TestRegistryRejectsDuplicateComponentID(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(newFakeHolder("dup", nil)))
	assert.Error(t, reg.Register(newFakeHolder("dup", nil)))
}
