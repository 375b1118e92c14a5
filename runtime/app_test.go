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
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/junction"
	"github.com/eventflux-io/eventflux/log"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/table"
	"github.com/eventflux-io/eventflux/value"
	"github.com/eventflux-io/eventflux/window"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	return NewApp("test-app", log.NewDiscardLogger())
}

func longSchema() []value.Type { return []value.Type{value.LONG} }

func TestAddStreamAndPublishThroughInputHandler(t *testing.T) {
	a := newTestApp(t)
	j, err := a.AddStream("In", longSchema(), junction.DefaultConfig())
	require.NoError(t, err)

	var got []int64
	j.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
		event.ForEach(chunk, func(e event.ComplexEvent) {
			se := e.(*event.StreamEvent)
			got = append(got, se.BeforeWindowData[0].AsLong())
		})
	}))

	h, ok := a.InputHandler("In")
	require.True(t, ok)
	require.NoError(t, h.Send(1, []value.Value{value.NewLong(7)}))
	require.NoError(t, h.SendRowAt(2, int64(8)))

	assert.Equal(t, []int64{7, 8}, got)
}

func TestAddStreamRejectsDuplicate(t *testing.T) {
	a := newTestApp(t)
	_, err := a.AddStream("In", longSchema(), junction.DefaultConfig())
	require.NoError(t, err)
	_, err = a.AddStream("In", longSchema(), junction.DefaultConfig())
	assert.Error(t, err)
}

func TestInputHandlerRejectsWrongArity(t *testing.T) {
	a := newTestApp(t)
	_, err := a.AddStream("In", longSchema(), junction.DefaultConfig())
	require.NoError(t, err)
	h, _ := a.InputHandler("In")
	assert.Error(t, h.Send(1, nil))
	assert.Error(t, h.SendRowAt(1, int64(1), int64(2)))
}

func TestShutdownStopsInputHandlers(t *testing.T) {
	a := newTestApp(t)
	_, err := a.AddStream("In", longSchema(), junction.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, a.Start())
	require.NoError(t, a.Shutdown(time.Second))

	h, _ := a.InputHandler("In")
	assert.Error(t, h.Send(1, []value.Value{value.NewLong(1)}))

	// Idempotent.
	require.NoError(t, a.Shutdown(time.Second))
}

func TestShutdownWritesFinalSnapshotWhenConfigured(t *testing.T) {
	a := newTestApp(t)
	_, err := a.AddStream("In", longSchema(), junction.DefaultConfig())
	require.NoError(t, err)
	w := window.NewLengthWindow("w1", 2)
	require.NoError(t, a.AddWindow(w))

	store := snapshot.NewMemoryStore(0)
	a.ConfigurePersistence(store, snapshot.NoCompression, true)
	require.NoError(t, a.Start())
	require.NoError(t, a.Shutdown(time.Second))

	last, err := store.LastRevision("test-app")
	require.NoError(t, err)
	assert.NotEmpty(t, last)
}

func TestPersistWithoutStoreFails(t *testing.T) {
	a := newTestApp(t)
	_, err := a.Persist()
	assert.Error(t, err)
	assert.Error(t, a.Restore("r1"))
}

func TestPersistRestoreRoundTripThroughApp(t *testing.T) {
	a := newTestApp(t)
	w := window.NewLengthWindow("w1", 2)
	require.NoError(t, a.AddWindow(w))
	a.ConfigurePersistence(snapshot.NewMemoryStore(0), snapshot.Zstd, false)

	w.Process(event.NewStreamEvent(1, "In", []value.Value{value.NewLong(5)}))
	rev, err := a.Persist()
	require.NoError(t, err)

	require.NoError(t, a.Restore(rev))
	require.NoError(t, a.RestoreLastRevision())
}

func TestSetOnErrorStoreCollectsFailedChunks(t *testing.T) {
	a := newTestApp(t)
	j, err := a.AddStream("In", longSchema(), junction.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, a.SetOnError("In", ErrorStore))

	j.Subscribe(junction.SubscriberFunc(func(event.Chunk) { panic("boom") }))
	_ = j.Publish(event.NewStreamEvent(42, "In", []value.Value{value.NewLong(9)}))

	failed := a.ErrorCollectorInUse().Failed("In")
	require.Len(t, failed, 1)
	assert.Equal(t, int64(42), failed[0].Timestamp)
	assert.Equal(t, int64(9), failed[0].Data[0])
}

func TestSetOnErrorStreamRoutesToFaultJunction(t *testing.T) {
	a := newTestApp(t)
	j, err := a.AddStream("In", longSchema(), junction.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, a.SetOnError("In", ErrorStream))

	var faulted int
	a.FaultJunction("In").Subscribe(junction.SubscriberFunc(func(event.Chunk) { faulted++ }))
	j.Subscribe(junction.SubscriberFunc(func(event.Chunk) { panic("boom") }))
	_ = j.Publish(event.NewStreamEvent(1, "In", []value.Value{value.NewLong(1)}))

	assert.Equal(t, 1, faulted)
}

func TestAttachSinkReceivesPublishedEvents(t *testing.T) {
	a := newTestApp(t)
	_, err := a.AddStream("Out", longSchema(), junction.DefaultConfig())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.AttachSink("Out", NewWriterSink("Out", &buf)))
	assert.Error(t, a.AttachSink("Nope", NewLogSink("Nope", "", log.NewDiscardLogger())))

	h, _ := a.InputHandler("Out")
	require.NoError(t, h.Send(1, []value.Value{value.NewLong(3)}))
	assert.Contains(t, buf.String(), `"stream":"Out"`)
	assert.Contains(t, buf.String(), "3")
}

func TestNewSinkFromConfigProps(t *testing.T) {
	s, err := NewSink("Out", map[string]string{"type": "log", "prefix": "x"}, log.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, "log", s.Name())

	_, err = NewSink("Out", map[string]string{"type": "kafka"}, nil)
	assert.Error(t, err)
}

func TestMemoryErrorStoreBoundsEntries(t *testing.T) {
	s := NewMemoryErrorStore(2)
	for i := 0; i < 3; i++ {
		s.Collect("In", event.NewStreamEvent(int64(i), "In", []value.Value{value.NewLong(int64(i))}), errors.New("x"))
	}
	failed := s.Failed("")
	require.Len(t, failed, 2)
	assert.Equal(t, int64(1), failed[0].Timestamp)
	require.NoError(t, s.Clear("In"))
	assert.Empty(t, s.Failed(""))
}

func TestBoltErrorStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.db")
	s, err := OpenBoltErrorStore(path)
	require.NoError(t, err)
	s.Collect("In", event.NewStreamEvent(7, "In", []value.Value{value.NewLong(11)}), errors.New("x"))
	require.NoError(t, s.Close())

	s, err = OpenBoltErrorStore(path)
	require.NoError(t, err)
	defer s.Close()
	failed := s.Failed("In")
	require.Len(t, failed, 1)
	assert.Equal(t, int64(7), failed[0].Timestamp)
	assert.Equal(t, int64(11), failed[0].Data[0])

	require.NoError(t, s.Clear("In"))
	assert.Empty(t, s.Failed(""))
}

func TestOnDemandQueryRegistry(t *testing.T) {
	a := newTestApp(t)
	require.NoError(t, a.RegisterOnDemandQuery(OnDemandQuery{
		Name: "q1",
		Run:  func() ([]table.Row, error) { return nil, nil },
	}))
	_, err := a.RunOnDemandQuery("q1")
	require.NoError(t, err)
	_, err = a.RunOnDemandQuery("missing")
	assert.Error(t, err)
	assert.Error(t, a.RegisterOnDemandQuery(OnDemandQuery{Name: "q1"}))
}
