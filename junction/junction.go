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

// Package junction implements the StreamJunction event-dispatch fabric
// : a multi-producer, multi-subscriber hub sitting between a
// stream's input handler and the processors subscribed to it. A junction
// runs in either synchronous (in-call) or asynchronous (bounded-queue,
// worker-pool) mode and applies one of four backpressure policies when its
// async queue is full.
package junction

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/log"
)

// Policy is the backpressure policy applied when an async junction's queue
// is full.
type Policy int

const (
	// Drop discards the incoming chunk and increments the dropped counter.
	Drop Policy = iota
	// Block waits (uninterruptibly, no timeout) for queue space.
	Block
	// Store routes the chunk to the junction's fault stream.
	Store
	// Exception propagates a DispatchError to the publisher.
	Exception
)

func (p Policy) String() string {
	switch p {
	case Drop:
		return "drop"
	case Block:
		return "block"
	case Store:
		return "store"
	case Exception:
		return "exception"
	default:
		return "unknown"
	}
}

// Mode selects synchronous or asynchronous dispatch.
type Mode int

const (
	// Sync delivers a published chunk to every subscriber inline, on the
	// publisher's goroutine, before Publish returns. Preserves the global
	// publish order across all subscribers ( invariant).
	Sync Mode = iota
	// Async hands the chunk to a bounded queue drained by a worker pool.
	// Order is preserved per worker, not globally.
	Async
)

// Subscriber receives chunks fanned out by a Junction.
type Subscriber interface {
	// Receive handles one chunk (a singly linked ComplexEvent list).
	Receive(chunk event.Chunk)
}

// SubscriberFunc adapts a plain function to a Subscriber.
type SubscriberFunc func(event.Chunk)

func (f SubscriberFunc) Receive(chunk event.Chunk) { f(chunk) }

// Config carries the dispatch-mode and backpressure configuration for one
// Junction.
type Config struct {
	Mode        Mode
	BufferSize  int
	WorkerCount int
	Policy      Policy
	// FaultStream receives chunks on Store-policy drops and on-error
	// STREAM routing; nil means such chunks are logged and discarded.
	FaultStream *Junction
}

// DefaultConfig returns a synchronous junction configuration, the default
// ("the default").
func DefaultConfig() Config {
	return Config{Mode: Sync, BufferSize: 1024, WorkerCount: 1, Policy: Drop}
}

// Junction is the per-stream event-dispatch fabric. Each
// stream owns exactly one Junction; producers call Publish, processors
// subscribe via Subscribe.
type Junction struct {
	name   string
	config Config
	logger log.Logger

	mu          sync.RWMutex
	subscribers []Subscriber

	queue chan event.Chunk
	wg    sync.WaitGroup
	done  chan struct{}
	once  sync.Once

	metrics Metrics

	// onError is invoked when a subscriber panics or a Receive call
	// otherwise fails; it implements the per-junction on-error action
	// ( : route to fault stream, drop to ErrorStore, or
	// propagate).
	onError func(err error, chunk event.Chunk)
}

// New builds a Junction named name with the given Config. For Async mode
// it starts the worker pool immediately; callers must call Close when the
// junction is no longer needed.
func New(name string, cfg Config, logger log.Logger) *Junction {
	if logger == nil {
		logger = log.Default()
	}
	j := &Junction{
		name:   name,
		config: cfg,
		logger: logger,
		done:   make(chan struct{}),
	}
	if cfg.Mode == Async {
		workers := cfg.WorkerCount
		if workers < 1 {
			workers = 1
		}
		buf := cfg.BufferSize
		if buf < 1 {
			buf = 1
		}
		j.queue = make(chan event.Chunk, buf)
		for i := 0; i < workers; i++ {
			j.wg.Add(1)
			go j.worker()
		}
	}
	return j
}

// Name returns the junction's owning stream name.
func (j *Junction) Name() string { return j.name }

// SetOnError installs the subscriber-failure handler.
func (j *Junction) SetOnError(fn func(err error, chunk event.Chunk)) {
	j.onError = fn
}

// Subscribe registers a subscriber to receive every future published
// chunk. Returns an unsubscribe function.
func (j *Junction) Subscribe(sub Subscriber) (unsubscribe func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.subscribers = append(j.subscribers, sub)
	idx := len(j.subscribers) - 1
	return func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if idx < len(j.subscribers) {
			j.subscribers[idx] = nil
		}
	}
}

// Publish hands chunk to the junction for dispatch. In Sync mode it
// delivers to every subscriber on the caller's goroutine before returning;
// in Async mode it enqueues the chunk, applying the configured
// backpressure Policy when the queue is full.
func (j *Junction) Publish(chunk event.Chunk) error {
	atomic.AddInt64(&j.metrics.Published, 1)
	start := time.Now()
	defer j.recordLatency(start)

	if j.config.Mode == Sync {
		j.dispatch(chunk)
		return nil
	}
	return j.publishAsync(chunk)
}

func (j *Junction) publishAsync(chunk event.Chunk) error {
	select {
	case j.queue <- chunk:
		return nil
	default:
	}

	switch j.config.Policy {
	case Block:
		j.queue <- chunk
		return nil
	case Store:
		atomic.AddInt64(&j.metrics.Dropped, 1)
		if j.config.FaultStream != nil {
			return j.config.FaultStream.Publish(chunk)
		}
		j.logger.Warn("junction queue full, fault stream unset, chunk discarded", log.F("junction", j.name))
		return nil
	case Exception:
		atomic.AddInt64(&j.metrics.Dropped, 1)
		return &ferror.DispatchError{Junction: j.name, Reason: "queue_full"}
	default: // Drop
		atomic.AddInt64(&j.metrics.Dropped, 1)
		atomic.AddInt64(&j.metrics.PoolExhausted, 1)
		j.logger.Warn("junction queue full, dropping chunk", log.F("junction", j.name), log.F("policy", j.config.Policy.String()))
		return nil
	}
}

func (j *Junction) worker() {
	defer j.wg.Done()
	for {
		select {
		case chunk := <-j.queue:
			j.dispatch(chunk)
		case <-j.done:
			// Drain remaining queued chunks before exiting so Close is
			// not lossy for already-accepted work.
			for {
				select {
				case chunk := <-j.queue:
					j.dispatch(chunk)
				default:
					return
				}
			}
		}
	}
}

func (j *Junction) dispatch(chunk event.Chunk) {
	j.mu.RLock()
	subs := make([]Subscriber, 0, len(j.subscribers))
	for _, s := range j.subscribers {
		if s != nil {
			subs = append(subs, s)
		}
	}
	j.mu.RUnlock()

	for _, s := range subs {
		j.deliverOne(s, chunk)
	}
	atomic.AddInt64(&j.metrics.Consumed, 1)
}

func (j *Junction) deliverOne(s Subscriber, chunk event.Chunk) {
	defer func() {
		if r := recover(); r != nil {
			err := &ferror.DispatchError{Junction: j.name, Reason: "subscriber_panic"}
			j.handleError(err, chunk)
		}
	}()
	s.Receive(chunk)
}

func (j *Junction) handleError(err error, chunk event.Chunk) {
	if j.onError != nil {
		j.onError(err, chunk)
		return
	}
	if j.config.FaultStream != nil {
		_ = j.config.FaultStream.Publish(chunk)
		return
	}
	j.logger.Error("junction subscriber error", log.F("junction", j.name), log.F("error", err.Error()))
}

func (j *Junction) recordLatency(start time.Time) {
	elapsed := time.Since(start).Nanoseconds()
	atomic.AddInt64(&j.metrics.latencySumNanos, elapsed)
	atomic.AddInt64(&j.metrics.latencyCount, 1)
	for {
		max := atomic.LoadInt64(&j.metrics.MaxLatencyNanos)
		if elapsed <= max || atomic.CompareAndSwapInt64(&j.metrics.MaxLatencyNanos, max, elapsed) {
			break
		}
	}
}

// Stats returns a point-in-time snapshot of the junction's metrics
// ( : "published, consumed, dropped, pool-exhausted, per-op
// latency (running mean + max)").
func (j *Junction) Stats() Stats {
	return j.metrics.Snapshot()
}

// Close stops the worker pool (if any), waiting for already-queued chunks
// to drain. Safe to call more than once.
func (j *Junction) Close() {
	j.once.Do(func() {
		close(j.done)
		j.wg.Wait()
	})
}
