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

package window

import (
	"fmt"
	"time"

	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/processor"
)

// Kind names one of the six window families, matching the handler name
// a `#window:<kind>(...)` HandlerInvocation carries.
type Kind string

const (
	KindLength      Kind = "length"
	KindLengthBatch Kind = "lengthBatch"
	KindTime        Kind = "time"
	KindTimeBatch   Kind = "timeBatch"
	KindSession     Kind = "session"
	KindSort        Kind = "sort"
)

// Config is the resolved (compiler-evaluated) configuration for one
// window instance. The compiler is responsible for pulling these fields
// out of an ast.WindowDef's HandlerInvocation.Args; Config is the level
// this package itself operates at, since evaluating raw ast.Expr requires
// the expression-lowering machinery that belongs to the compiler, not to
// window construction.
type Config struct {
	Kind        Kind
	ComponentID string

	Size int // length, lengthBatch, sort

	Duration     time.Duration // time, timeBatch
	AlignToEpoch bool          // timeBatch only

	Gap time.Duration     // session
	Key executor.Executor // session; nil for a single global session

	Specs []processor.OrderSpec // sort

	Watermark *Watermark // time; optional event-time lateness tracking
}

// Create builds the Window family named by cfg.Kind.
func Create(cfg Config) (Window, error) {
	switch cfg.Kind {
	case KindLength:
		return NewLengthWindow(cfg.ComponentID, cfg.Size), nil
	case KindLengthBatch:
		return NewLengthBatchWindow(cfg.ComponentID, cfg.Size), nil
	case KindTime:
		return NewTimeWindow(cfg.ComponentID, cfg.Duration, cfg.Watermark), nil
	case KindTimeBatch:
		return NewTimeBatchWindow(cfg.ComponentID, cfg.Duration, cfg.AlignToEpoch), nil
	case KindSession:
		return NewSessionWindow(cfg.ComponentID, cfg.Gap, cfg.Key), nil
	case KindSort:
		return NewSortWindow(cfg.ComponentID, cfg.Size, cfg.Specs), nil
	default:
		return nil, fmt.Errorf("window: unsupported kind %q", cfg.Kind)
	}
}
