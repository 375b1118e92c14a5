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

// Package runtime assembles and runs one compiled EventFlux application:
// the per-stream junctions and their input handlers, tables, windows,
// pattern machines, incremental aggregations, the timer scheduler, the
// snapshot service, and the attached sinks. The compiler package builds
// an *App from parsed source; embedders then drive it through
// InputHandler, Start and Shutdown.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/eventflux-io/eventflux/aggregation"
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/junction"
	"github.com/eventflux-io/eventflux/log"
	"github.com/eventflux-io/eventflux/pattern"
	"github.com/eventflux-io/eventflux/scheduler"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/table"
	"github.com/eventflux-io/eventflux/value"
	"github.com/eventflux-io/eventflux/window"
)

// faultPrefix names the fault junction paired with a stream, created on
// first use for `insert into fault S` targets and STREAM error routing.
const faultPrefix = "!"

// OnErrorAction selects how a junction resolves subscriber failures.
type OnErrorAction int

const (
	// ErrorLog records the failure and drops the chunk.
	ErrorLog OnErrorAction = iota
	// ErrorStream routes the failed chunk to the stream's fault junction.
	ErrorStream
	// ErrorStore hands the failed chunk to the app's ErrorStore.
	ErrorStore
	// ErrorDrop discards silently.
	ErrorDrop
)

// App is one running EventFlux application.
type App struct {
	name   string
	logger log.Logger

	mu        sync.Mutex
	running   bool
	junctions map[string]*junction.Junction
	handlers  map[string]*InputHandler
	schemas   map[string][]value.Type
	tables    map[string]table.Table
	windows   []window.Window
	patterns  []*pattern.Machine
	aggs      map[string]*aggregation.Runner
	sinks     []Sink
	sources   []Source

	onDemand map[string]OnDemandQuery

	sched    *scheduler.Scheduler
	registry *snapshot.Registry
	snapSvc  *snapshot.Service
	errStore ErrorCollector

	persistOnShutdown bool
}

// NewApp builds an empty application shell named name.
func NewApp(name string, logger log.Logger) *App {
	if logger == nil {
		logger = log.Default()
	}
	return &App{
		name:      name,
		logger:    logger,
		junctions: make(map[string]*junction.Junction),
		handlers:  make(map[string]*InputHandler),
		schemas:   make(map[string][]value.Type),
		tables:    make(map[string]table.Table),
		aggs:      make(map[string]*aggregation.Runner),
		sched:     scheduler.New(logger),
		registry:  snapshot.NewRegistry(),
		errStore:  NewMemoryErrorStore(1024),
	}
}

// Name returns the application name.
func (a *App) Name() string { return a.name }

// Logger returns the application's logger.
func (a *App) Logger() log.Logger { return a.logger }

// AddStream creates the junction and input handler for a stream with the
// given attribute schema.
func (a *App) AddStream(id string, schema []value.Type, cfg junction.Config) (*junction.Junction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.junctions[id]; exists {
		return nil, fmt.Errorf("runtime: stream %q already defined", id)
	}
	j := junction.New(id, cfg, a.logger)
	a.junctions[id] = j
	a.schemas[id] = schema
	a.handlers[id] = newInputHandler(id, schema, j)
	return j, nil
}

// Junction returns the junction owned by stream id.
func (a *App) Junction(id string) (*junction.Junction, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.junctions[id]
	return j, ok
}

// FaultJunction returns (creating on first use) the fault junction paired
// with stream id. Fault junctions are synchronous: error paths must not
// themselves drop under backpressure.
func (a *App) FaultJunction(id string) *junction.Junction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.faultJunctionLocked(id)
}

func (a *App) faultJunctionLocked(id string) *junction.Junction {
	fid := faultPrefix + id
	if j, ok := a.junctions[fid]; ok {
		return j
	}
	j := junction.New(fid, junction.DefaultConfig(), a.logger)
	a.junctions[fid] = j
	a.schemas[fid] = a.schemas[id]
	return j
}

// SetOnError installs the per-junction error action for stream id.
func (a *App) SetOnError(id string, action OnErrorAction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.junctions[id]
	if !ok {
		return fmt.Errorf("runtime: unknown stream %q", id)
	}
	switch action {
	case ErrorStream:
		fault := a.faultJunctionLocked(id)
		j.SetOnError(func(err error, chunk event.Chunk) {
			_ = fault.Publish(chunk)
		})
	case ErrorStore:
		j.SetOnError(func(err error, chunk event.Chunk) {
			a.errStore.Collect(id, chunk, err)
		})
	case ErrorDrop:
		j.SetOnError(func(error, event.Chunk) {})
	default:
		logger := a.logger
		j.SetOnError(func(err error, chunk event.Chunk) {
			logger.Error("stream subscriber failed",
				log.F("app", a.name), log.F("stream", id), log.F("error", err.Error()))
		})
	}
	return nil
}

// InputHandler returns the producer-facing handler for stream id.
func (a *App) InputHandler(id string) (*InputHandler, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handlers[id]
	return h, ok
}

// RegisterTable installs t as the storage behind table id.
func (a *App) RegisterTable(id string, t table.Table) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.tables[id]; exists {
		return fmt.Errorf("runtime: table %q already defined", id)
	}
	a.tables[id] = t
	return nil
}

// Table returns the storage behind table id.
func (a *App) Table(id string) (table.Table, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tables[id]
	return t, ok
}

// AddWindow registers a window for lifecycle (Start/Stop) and snapshot
// participation.
func (a *App) AddWindow(w window.Window) error {
	a.mu.Lock()
	a.windows = append(a.windows, w)
	a.mu.Unlock()
	return a.registry.Register(w)
}

// AddPattern registers a pattern machine for snapshot participation and
// absence sweeps.
func (a *App) AddPattern(m *pattern.Machine) error {
	a.mu.Lock()
	a.patterns = append(a.patterns, m)
	a.mu.Unlock()
	return a.registry.Register(m)
}

// AddAggregation registers an incremental aggregation runner under its
// definition id.
func (a *App) AddAggregation(id string, r *aggregation.Runner) error {
	a.mu.Lock()
	if _, exists := a.aggs[id]; exists {
		a.mu.Unlock()
		return fmt.Errorf("runtime: aggregation %q already defined", id)
	}
	a.aggs[id] = r
	a.mu.Unlock()
	return a.registry.Register(r)
}

// Aggregation returns the runner behind aggregation id.
func (a *App) Aggregation(id string) (*aggregation.Runner, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.aggs[id]
	return r, ok
}

// RegisterStateHolder adds any further stateful component to the snapshot
// registry.
func (a *App) RegisterStateHolder(h snapshot.StateHolder) error {
	return a.registry.Register(h)
}

// Scheduler exposes the app's timer scheduler for trigger wiring.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// SetErrorCollector replaces the default in-memory error store.
func (a *App) SetErrorCollector(c ErrorCollector) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c != nil {
		a.errStore = c
	}
}

// ErrorCollectorInUse returns the app's error store.
func (a *App) ErrorCollectorInUse() ErrorCollector {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errStore
}

// ConfigurePersistence wires a snapshot store and codec; persistOnShutdown
// writes a final full snapshot during Shutdown.
func (a *App) ConfigurePersistence(store snapshot.Store, compression snapshot.Compression, persistOnShutdown bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapSvc = snapshot.NewService(a.name, a.registry, store, compression, a.logger)
	a.persistOnShutdown = persistOnShutdown
}

// Persist writes a full snapshot, returning its revision.
func (a *App) Persist() (string, error) {
	if a.snapSvc == nil {
		return "", &ferror.SnapshotError{Reason: "persist", Cause: fmt.Errorf("no persistence store configured")}
	}
	return a.snapSvc.Persist()
}

// PersistIncremental writes an incremental snapshot where holders support
// changelogs.
func (a *App) PersistIncremental() (string, error) {
	if a.snapSvc == nil {
		return "", &ferror.SnapshotError{Reason: "persist", Cause: fmt.Errorf("no persistence store configured")}
	}
	return a.snapSvc.PersistIncremental()
}

// Restore loads the given revision into every registered holder.
func (a *App) Restore(revision string) error {
	if a.snapSvc == nil {
		return &ferror.SnapshotError{Reason: "restore", Cause: fmt.Errorf("no persistence store configured")}
	}
	return a.snapSvc.Restore(revision)
}

// RestoreLastRevision restores the most recent persisted revision.
func (a *App) RestoreLastRevision() error {
	if a.snapSvc == nil {
		return &ferror.SnapshotError{Reason: "restore", Cause: fmt.Errorf("no persistence store configured")}
	}
	return a.snapSvc.RestoreLast()
}

// AttachSink subscribes sink to stream id's junction output.
func (a *App) AttachSink(id string, s Sink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	j, ok := a.junctions[id]
	if !ok {
		return fmt.Errorf("runtime: unknown stream %q", id)
	}
	logger := a.logger
	j.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
		if err := s.Publish(chunk); err != nil {
			logger.Warn("sink publish failed",
				log.F("app", a.name), log.F("stream", id),
				log.F("sink", s.Name()), log.F("error", err.Error()))
		}
	}))
	a.sinks = append(a.sinks, s)
	return nil
}

// AttachSource starts feeding stream id's input handler from src when the
// app starts.
func (a *App) AttachSource(id string, src Source) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.handlers[id]; !ok {
		return fmt.Errorf("runtime: unknown stream %q", id)
	}
	a.sources = append(a.sources, src)
	return nil
}

// Start begins processing: windows' wall-clock sweeps, the pattern
// absence sweep, the scheduler's triggers, and any attached sources.
func (a *App) Start() error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = true
	windows := append([]window.Window(nil), a.windows...)
	patterns := append([]*pattern.Machine(nil), a.patterns...)
	sources := append([]Source(nil), a.sources...)
	handlers := make(map[string]*InputHandler, len(a.handlers))
	for id, h := range a.handlers {
		handlers[id] = h
	}
	a.mu.Unlock()

	for _, w := range windows {
		w.Start()
	}
	if len(patterns) > 0 {
		err := a.sched.ScheduleEvery("pattern-absence-sweep", 100*time.Millisecond, func(now int64) {
			for _, m := range patterns {
				m.Sweep(now)
			}
		})
		if err != nil {
			return err
		}
	}
	a.sched.Start()
	for _, src := range sources {
		h := handlers[src.StreamID()]
		if h == nil {
			return fmt.Errorf("runtime: source for unknown stream %q", src.StreamID())
		}
		if err := src.Start(h); err != nil {
			return err
		}
	}
	a.logger.Info("app started", log.F("app", a.name))
	return nil
}

// Shutdown stops the app: input handlers reject new events, sources stop,
// async junctions drain within timeout, windows and the scheduler
// quiesce, open aggregation buckets flush, and (when configured) a final
// snapshot is written. In-flight process calls run to completion.
func (a *App) Shutdown(timeout time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	handlers := make([]*InputHandler, 0, len(a.handlers))
	for _, h := range a.handlers {
		handlers = append(handlers, h)
	}
	junctions := make([]*junction.Junction, 0, len(a.junctions))
	for _, j := range a.junctions {
		junctions = append(junctions, j)
	}
	windows := append([]window.Window(nil), a.windows...)
	sources := append([]Source(nil), a.sources...)
	sinks := append([]Sink(nil), a.sinks...)
	aggs := make([]*aggregation.Runner, 0, len(a.aggs))
	for _, r := range a.aggs {
		aggs = append(aggs, r)
	}
	persist := a.persistOnShutdown && a.snapSvc != nil
	a.mu.Unlock()

	for _, h := range handlers {
		h.stop()
	}
	for _, src := range sources {
		if err := src.Stop(); err != nil {
			a.logger.Warn("source stop failed", log.F("app", a.name), log.F("error", err.Error()))
		}
	}

	drained := make(chan struct{})
	go func() {
		for _, j := range junctions {
			j.Close()
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(timeout):
		a.logger.Warn("shutdown drain timed out", log.F("app", a.name), log.F("timeout", timeout.String()))
	}

	for _, w := range windows {
		w.Stop()
	}
	a.sched.Stop()
	for _, r := range aggs {
		r.FlushAll()
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			a.logger.Warn("sink close failed", log.F("app", a.name), log.F("sink", s.Name()), log.F("error", err.Error()))
		}
	}

	if persist {
		if _, err := a.Persist(); err != nil {
			return err
		}
	}
	a.logger.Info("app shut down", log.F("app", a.name))
	return nil
}

// OnDemandQuery is a compiled `from <Agg> ... per <granularity>` read,
// executed against an aggregation's flushed tables on request rather than
// continuously.
type OnDemandQuery struct {
	Name string
	Run  func() ([]table.Row, error)
}

// RegisterOnDemandQuery installs a compiled on-demand query under name.
func (a *App) RegisterOnDemandQuery(q OnDemandQuery) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.onDemand == nil {
		a.onDemand = make(map[string]OnDemandQuery)
	}
	if _, exists := a.onDemand[q.Name]; exists {
		return fmt.Errorf("runtime: on-demand query %q already defined", q.Name)
	}
	a.onDemand[q.Name] = q
	return nil
}

// RunOnDemandQuery executes the named on-demand query.
func (a *App) RunOnDemandQuery(name string) ([]table.Row, error) {
	a.mu.Lock()
	q, ok := a.onDemand[name]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("runtime: unknown on-demand query %q", name)
	}
	return q.Run()
}

// Stats returns per-junction metrics keyed by stream id.
func (a *App) Stats() map[string]junction.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]junction.Stats, len(a.junctions))
	for id, j := range a.junctions {
		out[id] = j.Stats()
	}
	return out
}
