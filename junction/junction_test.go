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

package junction

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/log"
	"github.com/eventflux-io/eventflux/value"
)

func newEvt(ts int64) *event.StreamEvent {
	return event.NewStreamEvent(ts, "s", []value.Value{value.NewInt(int32(ts))})
}

func TestSyncPublishPreservesOrderAcrossSubscribers(t *testing.T) {
	j := New("s", Config{Mode: Sync}, log.NewDiscardLogger())
	defer j.Close()

	var mu sync.Mutex
	var seenA, seenB []int64
	j.Subscribe(SubscriberFunc(func(c event.Chunk) {
		mu.Lock()
		seenA = append(seenA, c.Timestamp())
		mu.Unlock()
	}))
	j.Subscribe(SubscriberFunc(func(c event.Chunk) {
		mu.Lock()
		seenB = append(seenB, c.Timestamp())
		mu.Unlock()
	}))

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, j.Publish(newEvt(i)))
	}

	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seenA)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seenB)
	stats := j.Stats()
	assert.Equal(t, int64(5), stats.Published)
	assert.Equal(t, int64(5), stats.Consumed)
}

func TestAsyncPublishDeliversEventually(t *testing.T) {
	j := New("s", Config{Mode: Async, BufferSize: 4, WorkerCount: 2, Policy: Block}, log.NewDiscardLogger())
	defer j.Close()

	var count int64
	j.Subscribe(SubscriberFunc(func(c event.Chunk) {
		atomic.AddInt64(&count, 1)
	}))

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, j.Publish(newEvt(i)))
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&count) == 10
	}, time.Second, time.Millisecond)
}

func TestAsyncDropPolicyIncrementsDropped(t *testing.T) {
	j := New("s", Config{Mode: Async, BufferSize: 1, WorkerCount: 0, Policy: Drop}, log.NewDiscardLogger())
	defer j.Close()

	// No subscribers consuming; fill the queue then overflow it.
	block := make(chan struct{})
	j.Subscribe(SubscriberFunc(func(c event.Chunk) { <-block }))

	require.NoError(t, j.Publish(newEvt(1))) // picked up by the one worker, blocks it
	time.Sleep(10 * time.Millisecond)        // let the worker pick it up

	// Queue capacity is 1; since the worker is blocked inside Receive,
	// the next publishes should eventually hit a full queue and drop.
	for i := 0; i < 10; i++ {
		_ = j.Publish(newEvt(int64(i + 2)))
	}
	close(block)

	stats := j.Stats()
	assert.Greater(t, stats.Dropped, int64(0))
}

func TestAsyncExceptionPolicyReturnsDispatchError(t *testing.T) {
	j := New("s", Config{Mode: Async, BufferSize: 1, WorkerCount: 0, Policy: Exception}, log.NewDiscardLogger())
	defer j.Close()

	block := make(chan struct{})
	defer close(block)
	j.Subscribe(SubscriberFunc(func(c event.Chunk) { <-block }))

	require.NoError(t, j.Publish(newEvt(1)))
	var lastErr error
	require.Eventually(t, func() bool {
		lastErr = j.Publish(newEvt(2))
		return lastErr != nil
	}, time.Second, time.Millisecond)
	assert.Error(t, lastErr)
}

func TestStorePolicyRoutesToFaultStream(t *testing.T) {
	fault := New("fault", Config{Mode: Sync}, log.NewDiscardLogger())
	defer fault.Close()
	var faultSeen int64
	fault.Subscribe(SubscriberFunc(func(c event.Chunk) { atomic.AddInt64(&faultSeen, 1) }))

	j := New("s", Config{Mode: Async, BufferSize: 1, WorkerCount: 0, Policy: Store, FaultStream: fault}, log.NewDiscardLogger())
	defer j.Close()

	block := make(chan struct{})
	defer close(block)
	j.Subscribe(SubscriberFunc(func(c event.Chunk) { <-block }))

	require.NoError(t, j.Publish(newEvt(1)))
	require.Eventually(t, func() bool {
		_ = j.Publish(newEvt(2))
		return atomic.LoadInt64(&faultSeen) > 0
	}, time.Second, time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	j := New("s", Config{Mode: Sync}, log.NewDiscardLogger())
	defer j.Close()

	var count int64
	unsub := j.Subscribe(SubscriberFunc(func(c event.Chunk) { atomic.AddInt64(&count, 1) }))
	require.NoError(t, j.Publish(newEvt(1)))
	unsub()
	require.NoError(t, j.Publish(newEvt(2)))

	assert.Equal(t, int64(1), count)
}

func TestOptimizedJunctionImplementsDispatcher(t *testing.T) {
	var _ Dispatcher = NewOptimized("s", Config{Mode: Sync}, log.NewDiscardLogger(), 4)

	oj := NewOptimized("s", Config{Mode: Sync}, log.NewDiscardLogger(), 4)
	defer oj.Close()
	var count int64
	oj.Subscribe(SubscriberFunc(func(c event.Chunk) { atomic.AddInt64(&count, 1) }))
	require.NoError(t, oj.Publish(newEvt(1)))
	assert.Equal(t, int64(1), count)

	scratch := oj.AcquireScratch()
	require.Len(t, scratch, 4)
	oj.ReleaseScratch(scratch)
}
