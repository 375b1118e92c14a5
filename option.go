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
	"github.com/eventflux-io/eventflux/config"
	"github.com/eventflux-io/eventflux/log"
)

// Option modifies an EventFlux engine's default behavior.
type Option func(*EventFlux)

// WithLogger sets a custom logger for the engine and every app it
// creates.
//
// Example:
//
//	engine := eventflux.New(eventflux.WithLogger(log.NewDiscardLogger()))
func WithLogger(logger log.Logger) Option {
	return func(e *EventFlux) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithConfig installs an already-decoded runtime configuration,
// overriding the built-in defaults.
func WithConfig(cfg config.Config) Option {
	return func(e *EventFlux) {
		e.cfg = cfg
	}
}

// WithConfigFile loads the YAML configuration at path. A load failure is
// logged and the defaults kept, so a missing optional file does not stop
// the engine from coming up.
func WithConfigFile(path string) Option {
	return func(e *EventFlux) {
		cfg, err := config.Load(path)
		if err != nil {
			e.logger.Warn("config file not loaded, using defaults",
				log.F("path", path), log.F("error", err.Error()))
			return
		}
		e.cfg = cfg
	}
}

// WithAsyncDispatch switches every stream junction to asynchronous
// dispatch with the given queue size and worker count. Queries that
// depend on strict ordering (patterns, sequences) should keep the
// synchronous default instead.
func WithAsyncDispatch(bufferSize, workers int) Option {
	return func(e *EventFlux) {
		e.cfg.EventFlux.Runtime.Performance.AsyncProcessing = true
		if bufferSize > 0 {
			e.cfg.EventFlux.Runtime.Performance.EventBufferSize = bufferSize
		}
		if workers > 0 {
			e.cfg.EventFlux.Runtime.Performance.ThreadPoolSize = workers
		}
	}
}

// WithPersistence configures every created app to snapshot into the
// given store and to write a final snapshot at shutdown. A per-app
// persistence subtree in a configuration file takes precedence for the
// app it names.
func WithPersistence(p config.Persistence) Option {
	return func(e *EventFlux) {
		if e.cfg.Applications == nil {
			e.cfg.Applications = make(map[string]config.Application)
		}
		// The empty app name is the fallback subtree consulted for apps
		// without one of their own.
		app := e.cfg.Applications[""]
		app.Persistence = &p
		e.cfg.Applications[""] = app
	}
}
