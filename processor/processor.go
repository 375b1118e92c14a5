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

// Package processor implements the query-pipeline processor chain of
// : Filter, Selector (projection + GROUP BY + HAVING + ORDER
// BY + LIMIT/OFFSET), and the insert-into-stream / insert-into-table
// sinks. Each processor consumes a chunk (event.Chunk, a singly-linked
// ComplexEvent list), optionally transforms or drops entries, and
// forwards whatever remains to next().
package processor

import "github.com/eventflux-io/eventflux/event"

// Mode classifies how a Processor consumes its input chunk
// ( : "processing_mode() ∈ {DEFAULT, BATCH, GROUP_BY_BATCH}").
type Mode int

const (
	// ModeDefault processes and forwards events one at a time.
	ModeDefault Mode = iota
	// ModeBatch buffers the whole chunk before emitting (e.g. ORDER BY).
	ModeBatch
	// ModeGroupByBatch buffers per group key before emitting.
	ModeGroupByBatch
)

// Processor is one stage of a query pipeline.
type Processor interface {
	// Process consumes chunk and returns the (possibly nil, possibly new)
	// chunk to forward; it does not itself call Next — callers drive the
	// chain so windows/joins can control fan-out.
	Process(chunk event.Chunk) event.Chunk
	Next() Processor
	SetNext(next Processor)
	ProcessingMode() Mode
	IsStateful() bool
}

// Run walks p and every downstream processor linked via Next, invoking
// Process at each stage; this is the straight-line pipeline driver used
// when no stage needs to fan out to multiple children (joins and windows
// drive their own downstream dispatch instead of using Run).
func Run(p Processor, chunk event.Chunk) {
	for p != nil && chunk != nil {
		chunk = p.Process(chunk)
		p = p.Next()
	}
}

// base provides the Next/SetNext bookkeeping shared by every concrete
// processor.
type base struct {
	next Processor
}

func (b *base) Next() Processor     { return b.next }
func (b *base) SetNext(p Processor) { b.next = p }
