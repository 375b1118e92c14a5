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

// Package ferror defines the error taxonomy described in :
// compile errors, dispatch errors, snapshot errors, and store errors.
// Runtime evaluation errors have no type here: they never leave the
// expression layer as Go errors, they become NULL. Callers can
// type-switch or use errors.As on these concrete types where a boundary
// returns one.
package ferror

import "fmt"

// CompileError is returned by app compilation: syntax errors, unresolved
// identifiers, type mismatches, duplicate definitions, bad annotations.
type CompileError struct {
	Query string // query/definition name, if applicable
	Line  int
	Col   int
	Msg   string
	Cause error
}

func (e *CompileError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("compile error in query %q at %d:%d: %s", e.Query, e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("compile error at %d:%d: %s", e.Line, e.Col, e.Msg)
}

func (e *CompileError) Unwrap() error { return e.Cause }

// NewCompileError builds a CompileError at the given position.
func NewCompileError(query string, line, col int, msg string) *CompileError {
	return &CompileError{Query: query, Line: line, Col: col, Msg: msg}
}

// DispatchError describes a StreamJunction-level failure: backpressure
// (queue full) or a subscriber raising an error during process(). It is
// always resolved through the junction's OnErrorAction and is informational
// to callers that observe it via metrics/logging rather than control flow.
type DispatchError struct {
	Junction string
	Reason   string // "queue_full", "subscriber_panic", "subscriber_error"
	Cause    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch error on junction %q (%s): %v", e.Junction, e.Reason, e.Cause)
}

func (e *DispatchError) Unwrap() error { return e.Cause }

// SnapshotError is returned by the snapshot service: checksum mismatch,
// version incompatibility, unknown component, compression failure. Always
// surfaced to the caller of Persist/Restore, never swallowed.
type SnapshotError struct {
	ComponentID string
	Reason      string
	Cause       error
}

func (e *SnapshotError) Error() string {
	if e.ComponentID != "" {
		return fmt.Sprintf("snapshot error for component %q (%s): %v", e.ComponentID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("snapshot error (%s): %v", e.Reason, e.Cause)
}

func (e *SnapshotError) Unwrap() error { return e.Cause }

// StoreError wraps a PersistenceStore or Table-store failure: I/O,
// connectivity, serialization, always carrying the store kind and key for
// diagnosability.
type StoreError struct {
	Store string // "memory", "file", "sqlite", "redis"
	Key   string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error (%s, key=%q): %v", e.Store, e.Key, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }
