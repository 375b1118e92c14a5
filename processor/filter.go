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

package processor

import (
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/value"
)

// Filter holds a BOOL-typed condition executor. It walks
// the incoming chunk, evaluates the condition against each event, and
// keeps only the events for which it returns true; stateless.
type Filter struct {
	base
	Condition executor.Executor
}

// NewFilter builds a Filter evaluating cond against each incoming event.
func NewFilter(cond executor.Executor) *Filter {
	return &Filter{Condition: cond}
}

func (f *Filter) Process(chunk event.Chunk) event.Chunk {
	var builder event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		result := f.Condition.Execute(e)
		if result.Type() == value.BOOL && !result.IsNull() && result.AsBool() {
			builder.Append(e)
		}
	})
	return builder.Chunk()
}

func (f *Filter) ProcessingMode() Mode { return ModeDefault }
func (f *Filter) IsStateful() bool     { return false }
