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

package eventflux

import (
	"fmt"
	"sync"
	"time"

	"github.com/eventflux-io/eventflux/compiler"
	"github.com/eventflux-io/eventflux/config"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/log"
	"github.com/eventflux-io/eventflux/query/parser"
	"github.com/eventflux-io/eventflux/runtime"
	"github.com/eventflux-io/eventflux/snapshot"
	"github.com/eventflux-io/eventflux/value"
)

// EventFlux is the top-level engine handle: it parses and compiles query
// applications, applies the runtime configuration, and tracks the
// resulting app runtimes until Shutdown.
type EventFlux struct {
	logger log.Logger
	cfg    config.Config

	mu   sync.Mutex
	apps map[string]*runtime.App
}

// New builds an engine with the default configuration, then applies the
// given options.
func New(opts ...Option) *EventFlux {
	e := &EventFlux{
		logger: log.Default(),
		cfg:    config.Default(),
		apps:   make(map[string]*runtime.App),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateApp parses and compiles an application source, applies any
// configuration-file overrides for its name, and registers the runtime.
// The app is returned stopped; call its Start to begin processing.
func (e *EventFlux) CreateApp(source string) (*runtime.App, error) {
	parsed, err := parser.Parse(source)
	if err != nil {
		return nil, err
	}

	perf := e.cfg.EventFlux.Runtime.Performance
	opts := compiler.Options{
		Logger:         e.logger,
		AsyncByDefault: perf.AsyncProcessing,
		BufferSize:     perf.EventBufferSize,
		Workers:        perf.ThreadPoolSize,
	}

	appName := parsed.Name
	if appName == "" {
		appName = "EventFluxApp"
	}
	appCfg, hasAppCfg := e.cfg.Applications[appName]
	if !hasAppCfg {
		// The empty-named subtree is the engine-wide fallback installed
		// by WithPersistence.
		appCfg, hasAppCfg = e.cfg.Applications[""]
	}
	if hasAppCfg && len(appCfg.Streams) > 0 {
		opts.StreamOverrides = make(map[string]compiler.StreamOverride, len(appCfg.Streams))
		for id, ov := range appCfg.Streams {
			opts.StreamOverrides[id] = compiler.StreamOverride{
				Async:        ov.Async,
				BufferSize:   ov.BufferSize,
				Workers:      ov.Workers,
				Backpressure: ov.Backpressure,
			}
		}
	}

	app, err := compiler.Compile(parsed, opts)
	if err != nil {
		return nil, err
	}

	if hasAppCfg {
		if err := e.applyAppConfig(app, appCfg); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.apps[app.Name()]; exists {
		return nil, fmt.Errorf("eventflux: app %q already created", app.Name())
	}
	e.apps[app.Name()] = app
	return app, nil
}

// applyAppConfig wires the configuration file's per-app subtree:
// persistence store and per-stream sinks.
func (e *EventFlux) applyAppConfig(app *runtime.App, appCfg config.Application) error {
	if p := appCfg.Persistence; p != nil {
		store, err := buildStore(p)
		if err != nil {
			return err
		}
		codec, err := snapshot.ParseCompression(p.Compression)
		if err != nil {
			return err
		}
		app.ConfigurePersistence(store, codec, true)
	}
	for streamID, ov := range appCfg.Streams {
		if len(ov.Sink) == 0 {
			continue
		}
		s, err := runtime.NewSink(streamID, ov.Sink, e.logger)
		if err != nil {
			return err
		}
		if err := app.AttachSink(streamID, s); err != nil {
			return err
		}
	}
	return nil
}

func buildStore(p *config.Persistence) (snapshot.Store, error) {
	switch p.Type {
	case "", "memory":
		return snapshot.NewMemoryStore(p.MaxRevisions), nil
	case "file":
		return snapshot.NewFileStore(p.Path, p.MaxRevisions)
	case "sqlite":
		return snapshot.OpenSQLiteStore(p.Path, p.MaxRevisions)
	case "redis":
		return snapshot.NewRedisStore(snapshot.RedisConfig{
			Addr:         p.Addr,
			Password:     p.Password,
			DB:           p.DB,
			Prefix:       p.Prefix,
			MaxRevisions: p.MaxRevisions,
		})
	default:
		return nil, &ferror.StoreError{Store: p.Type, Cause: fmt.Errorf("unknown persistence type")}
	}
}

// RegisterScriptFunction installs a user-defined scalar whose body is an
// expr-lang expression, callable from any subsequently created app's
// queries. params names the body's free variables in call-argument
// order; rt declares the function's result type.
func (e *EventFlux) RegisterScriptFunction(name, body string, params []string, rt value.Type) error {
	fn, err := executor.NewScriptBuiltin(name, body, params, rt)
	if err != nil {
		return fmt.Errorf("eventflux: compile function %q: %w", name, err)
	}
	executor.Global.Register(fn)
	return nil
}

// App returns a previously created app runtime by name.
func (e *EventFlux) App(name string) (*runtime.App, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	app, ok := e.apps[name]
	return app, ok
}

// RemoveApp shuts an app down and forgets it.
func (e *EventFlux) RemoveApp(name string, timeout time.Duration) error {
	e.mu.Lock()
	app, ok := e.apps[name]
	delete(e.apps, name)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("eventflux: unknown app %q", name)
	}
	return app.Shutdown(timeout)
}

// Shutdown stops every app, draining with the given per-app timeout.
func (e *EventFlux) Shutdown(timeout time.Duration) error {
	e.mu.Lock()
	apps := make([]*runtime.App, 0, len(e.apps))
	for _, app := range e.apps {
		apps = append(apps, app)
	}
	e.apps = make(map[string]*runtime.App)
	e.mu.Unlock()

	var firstErr error
	for _, app := range apps {
		if err := app.Shutdown(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
