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

package event

// Chunk is a forward-only linked list of ComplexEvent, passed between
// processors. A nil Chunk is the empty chunk. Chunks must
// never be cyclic; ChunkBuilder enforces detach-on-append so a caller
// cannot accidentally reuse a node that is still linked elsewhere.
type Chunk = ComplexEvent

// ChunkBuilder accumulates a new chunk one detached node at a time. It is
// the idiomatic replacement for manually juggling head/tail pointers in
// every processor's process() method.
type ChunkBuilder struct {
	head ComplexEvent
	tail ComplexEvent
}

// Append detaches e (sets its Next to nil) and links it onto the end of
// the chunk being built. A processor that produces a new chunk must
// detach each node before enqueueing or forwarding it.
func (b *ChunkBuilder) Append(e ComplexEvent) {
	if e == nil {
		return
	}
	e.SetNext(nil)
	if b.head == nil {
		b.head = e
		b.tail = e
		return
	}
	b.tail.SetNext(e)
	b.tail = e
}

// Chunk returns the built chunk's head (nil if nothing was appended).
func (b *ChunkBuilder) Chunk() Chunk { return b.head }

// Len returns the number of nodes so far, without mutating the chunk.
func (b *ChunkBuilder) Len() int { return Len(b.head) }

// ForEach walks chunk head-to-tail invoking fn on each node. It is safe to
// call SetNext inside fn only on the *current* node (e.g. to detach it
// into a different chunk being built), never on nodes not yet visited.
func ForEach(head Chunk, fn func(ComplexEvent)) {
	for n := head; n != nil; {
		next := n.Next()
		fn(n)
		n = next
	}
}

// Len counts the nodes in a chunk.
func Len(head Chunk) int {
	count := 0
	for n := head; n != nil; n = n.Next() {
		count++
	}
	return count
}

// ToSlice materializes a chunk into a slice, preserving order. Useful for
// window/selector implementations that need random access (sort, buffering
// for ORDER BY) rather than single-pass streaming.
func ToSlice(head Chunk) []ComplexEvent {
	out := make([]ComplexEvent, 0, Len(head))
	ForEach(head, func(e ComplexEvent) { out = append(out, e) })
	return out
}

// FromSlice builds a chunk from a slice, detaching each element as it
// links them together.
func FromSlice(events []ComplexEvent) Chunk {
	var b ChunkBuilder
	for _, e := range events {
		b.Append(e)
	}
	return b.Chunk()
}
