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

// Package window implements the six window families:
// length(N), lengthBatch(N), time(D), timeBatch(D), session(gap[, key])
// and sort(N[, attrs]). Every window is a stateful processor.Processor
// (process/next/set_next/processing_mode) and a snapshot.StateHolder, so
// it slots into the same query pipeline as Filter and Selector and
// registers for snapshot/restore the same way any other stateful
// component does.
//
// Families that can fire independent of incoming events (time, timeBatch,
// session) also run a background wall-clock sweep started by Start and
// stopped by Stop; callers must wire SetNext before calling Start so the
// sweep has a downstream processor to push its output to. Families
// triggered purely by count (length, lengthBatch, sort) leave Start/Stop
// as no-ops.
//
// Create builds a Window from a Config naming one of the Kind constants;
// the compiler resolves a window handler invocation's arguments into that
// Config.
package window
