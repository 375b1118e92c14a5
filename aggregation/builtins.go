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

package aggregation

import (
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/value"
)

// The three aggregation-support scalars register against the global
// function registry so queries can call them like any other builtin:
//
//	shouldUpdate(ts, boundary)   -> BOOL, false for events at or before an
//	                                already-flushed bucket boundary
//	aggregateBaseTime(ts, g)     -> LONG bucket start of ts at granularity g
//	startTimeEndTime(start, end) -> OBJECT [2]int64 within-range pair
func init() {
	executor.Global.Register(executor.NewSimpleFn(
		"shouldUpdate",
		func([]value.Type) value.Type { return value.BOOL },
		func(args []value.Value) value.Value {
			if len(args) != 2 || args[0].IsNull() || args[1].IsNull() {
				return value.NewBool(false)
			}
			return value.NewBool(args[0].AsLong() > args[1].AsLong())
		},
	))
	executor.Global.Register(executor.NewSimpleFn(
		"aggregateBaseTime",
		func([]value.Type) value.Type { return value.LONG },
		func(args []value.Value) value.Value {
			if len(args) != 2 || args[0].IsNull() || args[1].Type() != value.STRING {
				return value.Null(value.LONG)
			}
			g, err := ParseGranularity(args[1].AsString())
			if err != nil {
				return value.Null(value.LONG)
			}
			return value.NewLong(BucketStart(args[0].AsLong(), g))
		},
	))
	executor.Global.Register(executor.NewSimpleFn(
		"startTimeEndTime",
		func([]value.Type) value.Type { return value.OBJECT },
		func(args []value.Value) value.Value {
			if len(args) != 2 || args[0].IsNull() || args[1].IsNull() {
				return value.Null(value.OBJECT)
			}
			return value.NewObject([2]int64{args[0].AsLong(), args[1].AsLong()})
		},
	))
}
