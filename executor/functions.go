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

package executor

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/eventflux-io/eventflux/value"
)

// Builtin is a registered scalar function: given argument return types it
// states its own result type, and given evaluated arguments it computes a
// Value.
type Builtin interface {
	Name() string
	Call(args []value.Value) value.Value
	ReturnType(argTypes []value.Type) value.Type
}

// Registry is a concurrency-safe scalar function table.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Builtin
}

// Global is the process-wide builtin registry, pre-populated with the
// scalar function set.
var Global = newRegistryWithBuiltins()

func newRegistryWithBuiltins() *Registry {
	r := &Registry{funcs: make(map[string]Builtin)}
	for _, b := range defaultBuiltins() {
		r.Register(b)
	}
	return r
}

// Register adds or replaces a Builtin under its lower-cased name.
func (r *Registry) Register(b Builtin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[strings.ToLower(b.Name())] = b
}

// Lookup resolves a Builtin by name, case-insensitively.
func (r *Registry) Lookup(name string) (Builtin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.funcs[strings.ToLower(name)]
	return b, ok
}

type simpleFn struct {
	name string
	rt   func(argTypes []value.Type) value.Type
	call func(args []value.Value) value.Value
}

func (f *simpleFn) Name() string { return f.name }
func (f *simpleFn) Call(args []value.Value) value.Value {
	return f.call(args)
}
func (f *simpleFn) ReturnType(argTypes []value.Type) value.Type { return f.rt(argTypes) }

// NewSimpleFn wraps a return-type function and a call function as a
// Builtin, for registering scalars from outside this package.
func NewSimpleFn(name string, rt func([]value.Type) value.Type, call func([]value.Value) value.Value) Builtin {
	return &simpleFn{name: name, rt: rt, call: call}
}

func fixedType(t value.Type) func([]value.Type) value.Type {
	return func([]value.Type) value.Type { return t }
}

// defaultBuiltins registers the built-in scalar function set: cast,
// convert, concat, length, coalesce, uuid, currentTimestamp,
// formatDate, round, sqrt, eventTimestamp, timestampInMilliseconds,
// getTimeZone. (ifThenElse is its own executor.IfThenElse node, not a
// Builtin, since its branches must share a compile-time return type.)
func defaultBuiltins() []Builtin {
	return []Builtin{
		&simpleFn{
			name: "cast",
			rt: func(argTypes []value.Type) value.Type {
				if len(argTypes) > 0 {
					return argTypes[0]
				}
				return value.OBJECT
			},
			call: func(args []value.Value) value.Value {
				if len(args) != 2 || args[1].Type() != value.STRING {
					return value.Null(value.OBJECT)
				}
				t, err := typeByName(args[1].AsString())
				if err != nil {
					return value.Null(value.OBJECT)
				}
				v, err := value.FromInterface(t, args[0].AsInterface())
				if err != nil {
					return value.Null(t)
				}
				return v
			},
		},
		&simpleFn{
			name: "convert",
			rt: func(argTypes []value.Type) value.Type {
				if len(argTypes) > 0 {
					return argTypes[0]
				}
				return value.OBJECT
			},
			call: func(args []value.Value) value.Value {
				if len(args) != 2 || args[1].Type() != value.STRING {
					return value.Null(value.OBJECT)
				}
				t, err := typeByName(args[1].AsString())
				if err != nil {
					return value.Null(value.OBJECT)
				}
				v, err := value.FromInterface(t, args[0].AsInterface())
				if err != nil {
					return value.Null(t)
				}
				return v
			},
		},
		&simpleFn{
			name: "concat",
			rt:   fixedType(value.STRING),
			call: func(args []value.Value) value.Value {
				var sb strings.Builder
				for _, a := range args {
					if a.IsNull() {
						return value.Null(value.STRING)
					}
					sb.WriteString(a.String())
				}
				return value.NewString(sb.String())
			},
		},
		&simpleFn{
			name: "length",
			rt:   fixedType(value.INT),
			call: func(args []value.Value) value.Value {
				if len(args) != 1 || args[0].IsNull() || args[0].Type() != value.STRING {
					return value.Null(value.INT)
				}
				return value.NewInt(int32(len(args[0].AsString())))
			},
		},
		&simpleFn{
			name: "coalesce",
			rt: func(argTypes []value.Type) value.Type {
				if len(argTypes) > 0 {
					return argTypes[0]
				}
				return value.OBJECT
			},
			call: func(args []value.Value) value.Value {
				for _, a := range args {
					if !a.IsNull() {
						return a
					}
				}
				if len(args) > 0 {
					return value.Null(args[0].Type())
				}
				return value.Null(value.OBJECT)
			},
		},
		&simpleFn{
			name: "uuid",
			rt:   fixedType(value.STRING),
			call: func(args []value.Value) value.Value {
				return value.NewString(uuid.NewString())
			},
		},
		&simpleFn{
			name: "currentTimestamp",
			rt:   fixedType(value.LONG),
			call: func(args []value.Value) value.Value {
				return value.NewLong(nowMillis())
			},
		},
		&simpleFn{
			name: "eventTimestamp",
			rt:   fixedType(value.LONG),
			call: func(args []value.Value) value.Value {
				// Resolved against the enclosing event by the executor
				// builder at compile time (see compiler), which rewrites
				// this call into a dedicated EventTimestamp executor; the
				// registered entry is only reached when called directly,
				// and then yields NULL.
				return value.Null(value.LONG)
			},
		},
		&simpleFn{
			name: "timestampInMilliseconds",
			rt:   fixedType(value.LONG),
			call: func(args []value.Value) value.Value {
				if len(args) != 1 || args[0].IsNull() {
					return value.Null(value.LONG)
				}
				return value.NewLong(args[0].AsLong())
			},
		},
		&simpleFn{
			name: "getTimeZone",
			rt:   fixedType(value.STRING),
			call: func(args []value.Value) value.Value {
				return value.NewString(time.Local.String())
			},
		},
		&simpleFn{
			name: "formatDate",
			rt:   fixedType(value.STRING),
			call: func(args []value.Value) value.Value {
				if len(args) != 2 || args[0].IsNull() || args[1].Type() != value.STRING {
					return value.Null(value.STRING)
				}
				ms := args[0].AsLong()
				t := time.UnixMilli(ms).UTC()
				return value.NewString(t.Format(goLayout(args[1].AsString())))
			},
		},
		&simpleFn{
			name: "round",
			rt:   fixedType(value.DOUBLE),
			call: func(args []value.Value) value.Value {
				if len(args) != 1 || args[0].IsNull() {
					return value.Null(value.DOUBLE)
				}
				return value.NewDouble(math.Round(cast.ToFloat64(args[0].AsInterface())))
			},
		},
		&simpleFn{
			name: "sqrt",
			rt:   fixedType(value.DOUBLE),
			call: func(args []value.Value) value.Value {
				if len(args) != 1 || args[0].IsNull() {
					return value.Null(value.DOUBLE)
				}
				return value.NewDouble(math.Sqrt(cast.ToFloat64(args[0].AsInterface())))
			},
		},
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func typeByName(name string) (value.Type, error) {
	switch strings.ToUpper(name) {
	case "STRING":
		return value.STRING, nil
	case "INT":
		return value.INT, nil
	case "LONG":
		return value.LONG, nil
	case "FLOAT":
		return value.FLOAT, nil
	case "DOUBLE":
		return value.DOUBLE, nil
	case "BOOL", "BOOLEAN":
		return value.BOOL, nil
	case "OBJECT":
		return value.OBJECT, nil
	default:
		return 0, fmt.Errorf("unknown cast target type %q", name)
	}
}

// goLayout translates a handful of common SQL-style date format tokens
// into Go's reference-time layout; unrecognized formats pass through
// unchanged.
func goLayout(format string) string {
	replacer := strings.NewReplacer(
		"yyyy", "2006", "MM", "01", "dd", "02",
		"HH", "15", "mm", "04", "ss", "05",
	)
	return replacer.Replace(format)
}
