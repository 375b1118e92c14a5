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

// Package eventflux is a streaming SQL engine: it compiles a declarative
// query language into a running dataflow of stream operators and
// continuously evaluates unbounded event streams against it.
//
// A minimal application:
//
//	engine := eventflux.New()
//	app, err := engine.CreateApp(`
//	    define stream In (v int);
//	    from In[v > 10] select v insert into Out;
//	`)
//	if err != nil {
//	    // handle compile error
//	}
//	out, _ := app.Junction("Out")
//	out.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
//	    // consume output events
//	}))
//	_ = app.Start()
//	in, _ := app.InputHandler("In")
//	_ = in.SendRow(int64(20))
//	_ = app.Shutdown(time.Second)
//
// The query language supports stream, table, window, aggregation and
// trigger definitions; filters, projections, GROUP BY / HAVING /
// ORDER BY / LIMIT / OFFSET; length, lengthBatch, time, timeBatch,
// session and sort windows; inner and outer joins; pattern and sequence
// state machines; and incremental time-bucketed aggregations with
// on-demand queries. Stateful operators snapshot through a pluggable
// persistence store (memory, file, SQLite, Redis) with optional LZ4,
// Snappy or Zstd compression.
package eventflux
