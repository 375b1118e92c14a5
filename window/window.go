/*
 * Copyright 2024 The EventFlux Authors.
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
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/snapshot"
)

// Window is a stateful processor.Processor that retains events: on
// each CURRENT event it decides which held events have expired and
// forwards CURRENT plus any EXPIRED events downstream. Families that
// trigger independent of incoming events (time, timeBatch, session) also
// run a background sweep started by Start and stopped by Stop; callers
// must SetNext before calling Start so the sweep has somewhere to push
// its output.
//
// Every Window is also a snapshot.StateHolder.
type Window interface {
	processor.Processor
	snapshot.StateHolder

	// Start begins any background timer this window needs (time,
	// timeBatch, session); a no-op for purely count-triggered windows
	// (length, lengthBatch, sort).
	Start()
	// Stop halts the background timer, if any. Idempotent.
	Stop()
}

// base provides the Next/SetNext bookkeeping every window shares,
// mirroring processor.base (unexported in its own package, so it cannot
// be embedded directly from here).
type base struct {
	next processor.Processor
}

func (b *base) Next() processor.Processor     { return b.next }
func (b *base) SetNext(p processor.Processor) { b.next = p }

// emit pushes chunk directly into the downstream chain, bypassing the
// caller-driven Process/Run contract. Background sweeps (wall-clock
// flushes with no triggering incoming chunk) use this; Process itself
// never does, since the Processor contract says callers drive Next.
func (b *base) emit(chunk event.Chunk) {
	if chunk == nil || b.next == nil {
		return
	}
	processor.Run(b.next, chunk)
}
