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

package value

import (
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// epsilon is the tolerance used for FLOAT/DOUBLE equality
// ("Float equality uses an epsilon").
const epsilon = 1e-9

// Value is the tagged sum over {STRING, INT, LONG, FLOAT, DOUBLE, BOOL,
// OBJECT} plus an explicit NULL, described in It is a plain
// value type (no pointers) so it can be copied freely between the parallel
// arrays on a StreamEvent.
type Value struct {
	typ  Type
	null bool
	i    int32
	l    int64
	f    float32
	d    float64
	b    bool
	s    string
	o    interface{}
}

// Null returns the NULL value carrying the given declared type.
func Null(t Type) Value { return Value{typ: t, null: true} }

func NewInt(v int32) Value      { return Value{typ: INT, i: v} }
func NewLong(v int64) Value     { return Value{typ: LONG, l: v} }
func NewFloat(v float32) Value  { return Value{typ: FLOAT, f: v} }
func NewDouble(v float64) Value { return Value{typ: DOUBLE, d: v} }
func NewString(v string) Value  { return Value{typ: STRING, s: v} }
func NewBool(v bool) Value      { return Value{typ: BOOL, b: v} }
func NewObject(v interface{}) Value {
	if v == nil {
		return Null(OBJECT)
	}
	return Value{typ: OBJECT, o: v}
}

func (v Value) Type() Type    { return v.typ }
func (v Value) IsNull() bool  { return v.null }
func (v Value) AsBool() bool  { return v.b }
func (v Value) AsInt() int32  { return v.i }
func (v Value) AsLong() int64 { return v.l }
func (v Value) AsFloat() float32 {
	return v.f
}
func (v Value) AsDouble() float64     { return v.d }
func (v Value) AsString() string      { return v.s }
func (v Value) AsObject() interface{} { return v.o }

// AsInterface unwraps a Value into a plain Go value, nil for NULL. It is
// the boundary used when handing a row to a sink or a table store.
func (v Value) AsInterface() interface{} {
	if v.null {
		return nil
	}
	switch v.typ {
	case STRING:
		return v.s
	case INT:
		return v.i
	case LONG:
		return v.l
	case FLOAT:
		return v.f
	case DOUBLE:
		return v.d
	case BOOL:
		return v.b
	case OBJECT:
		return v.o
	default:
		return nil
	}
}

// FromInterface boxes a plain Go value (as produced by an input handler or
// a table row) into a Value of the declared type, coercing with
// github.com/spf13/cast.
func FromInterface(t Type, raw interface{}) (Value, error) {
	if raw == nil {
		return Null(t), nil
	}
	switch t {
	case STRING:
		return NewString(cast.ToString(raw)), nil
	case INT:
		n, err := cast.ToInt32E(raw)
		if err != nil {
			return Value{}, fmt.Errorf("cannot coerce %v to INT: %w", raw, err)
		}
		return NewInt(n), nil
	case LONG:
		n, err := cast.ToInt64E(raw)
		if err != nil {
			return Value{}, fmt.Errorf("cannot coerce %v to LONG: %w", raw, err)
		}
		return NewLong(n), nil
	case FLOAT:
		n, err := cast.ToFloat32E(raw)
		if err != nil {
			return Value{}, fmt.Errorf("cannot coerce %v to FLOAT: %w", raw, err)
		}
		return NewFloat(n), nil
	case DOUBLE:
		n, err := cast.ToFloat64E(raw)
		if err != nil {
			return Value{}, fmt.Errorf("cannot coerce %v to DOUBLE: %w", raw, err)
		}
		return NewDouble(n), nil
	case BOOL:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return Value{}, fmt.Errorf("cannot coerce %v to BOOL: %w", raw, err)
		}
		return NewBool(b), nil
	default:
		return NewObject(raw), nil
	}
}

// asDouble widens a numeric Value to float64 for promoted arithmetic.
func (v Value) asDouble() float64 {
	switch v.typ {
	case INT:
		return float64(v.i)
	case LONG:
		return float64(v.l)
	case FLOAT:
		return float64(v.f)
	case DOUBLE:
		return v.d
	default:
		return 0
	}
}

func (v Value) asLong() int64 {
	switch v.typ {
	case INT:
		return int64(v.i)
	case LONG:
		return v.l
	default:
		return int64(v.asDouble())
	}
}

// fromDouble narrows a computed float64 back into the requested numeric
// result type.
func fromDouble(t Type, d float64) Value {
	switch t {
	case INT:
		return NewInt(int32(d))
	case LONG:
		return NewLong(int64(d))
	case FLOAT:
		return NewFloat(float32(d))
	default:
		return NewDouble(d)
	}
}

// Add implements +. NULL propagates; integer add wraps on overflow (plain
// Go integer arithmetic already wraps).
func Add(a, b Value) Value {
	rt := Promote(a.typ, b.typ)
	if a.IsNull() || b.IsNull() {
		return Null(rt)
	}
	if rt == INT {
		return NewInt(a.i + b.i)
	}
	if rt == LONG {
		return NewLong(a.asLong() + b.asLong())
	}
	return fromDouble(rt, a.asDouble()+b.asDouble())
}

// Sub implements -, with the same overflow/NULL rules as Add.
func Sub(a, b Value) Value {
	rt := Promote(a.typ, b.typ)
	if a.IsNull() || b.IsNull() {
		return Null(rt)
	}
	if rt == INT {
		return NewInt(a.i - b.i)
	}
	if rt == LONG {
		return NewLong(a.asLong() - b.asLong())
	}
	return fromDouble(rt, a.asDouble()-b.asDouble())
}

// Mul implements *, with the same overflow/NULL rules as Add.
func Mul(a, b Value) Value {
	rt := Promote(a.typ, b.typ)
	if a.IsNull() || b.IsNull() {
		return Null(rt)
	}
	if rt == INT {
		return NewInt(a.i * b.i)
	}
	if rt == LONG {
		return NewLong(a.asLong() * b.asLong())
	}
	return fromDouble(rt, a.asDouble()*b.asDouble())
}

// Div implements /. Division by zero yields NULL. Division always
// promotes to DOUBLE unless both operands are integral (INT/LONG) and
// integerDivision was explicitly requested by the compiler.
func Div(a, b Value, integerDivision bool) Value {
	rt := Promote(a.typ, b.typ)
	resultType := DOUBLE
	if integerDivision && (rt == INT || rt == LONG) {
		resultType = rt
	}
	if a.IsNull() || b.IsNull() {
		return Null(resultType)
	}
	if resultType == INT || resultType == LONG {
		denom := b.asLong()
		if denom == 0 {
			return Null(resultType)
		}
		return fromDouble(resultType, float64(a.asLong()/denom))
	}
	denom := b.asDouble()
	if denom == 0 {
		return Null(DOUBLE)
	}
	return NewDouble(a.asDouble() / denom)
}

// Mod implements the modulo operator, NULL on either operand or on a zero
// divisor.
func Mod(a, b Value) Value {
	rt := Promote(a.typ, b.typ)
	if a.IsNull() || b.IsNull() {
		return Null(rt)
	}
	if rt == INT || rt == LONG {
		denom := b.asLong()
		if denom == 0 {
			return Null(rt)
		}
		return fromDouble(rt, float64(a.asLong()%denom))
	}
	denom := b.asDouble()
	if denom == 0 {
		return Null(rt)
	}
	return fromDouble(rt, math.Mod(a.asDouble(), denom))
}

// Equals implements value equality: float/double use an epsilon tolerance,
// OBJECT is reference-only (Go interface equality, which compares the
// underlying pointer/value per the dynamic type's own == semantics), and
// NULL on either side is never equal to anything (including another NULL),
// matching "comparison with NULL yields boolean false".
func Equals(a, b Value) bool {
	if a.IsNull() || b.IsNull() {
		return false
	}
	switch {
	case a.typ == STRING && b.typ == STRING:
		return a.s == b.s
	case a.typ == BOOL && b.typ == BOOL:
		return a.b == b.b
	case a.typ == OBJECT || b.typ == OBJECT:
		return a.o == b.o
	case a.typ.IsNumeric() && b.typ.IsNumeric():
		return math.Abs(a.asDouble()-b.asDouble()) < epsilon
	default:
		return false
	}
}

// Compare implements ordering comparisons (<, <=, >, >=): numeric operands
// use cross-numeric promotion, strings use lexicographic order, bool uses
// false < true. ok is false whenever either operand is NULL, in which case
// every comparison operator must yield BOOL(false)
func Compare(a, b Value) (cmp int, ok bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	switch {
	case a.typ == STRING && b.typ == STRING:
		switch {
		case a.s < b.s:
			return -1, true
		case a.s > b.s:
			return 1, true
		default:
			return 0, true
		}
	case a.typ == BOOL && b.typ == BOOL:
		if a.b == b.b {
			return 0, true
		}
		if !a.b && b.b {
			return -1, true
		}
		return 1, true
	case a.typ.IsNumeric() && b.typ.IsNumeric():
		ad, bd := a.asDouble(), b.asDouble()
		switch {
		case ad < bd:
			return -1, true
		case ad > bd:
			return 1, true
		default:
			return 0, true
		}
	default:
		return 0, false
	}
}

// String renders the value for diagnostics and for GROUP BY key
// construction (NULL renders as the literal "null").
func (v Value) String() string {
	if v.null {
		return "null"
	}
	switch v.typ {
	case STRING:
		return v.s
	case INT:
		return fmt.Sprintf("%d", v.i)
	case LONG:
		return fmt.Sprintf("%d", v.l)
	case FLOAT:
		return fmt.Sprintf("%g", v.f)
	case DOUBLE:
		return fmt.Sprintf("%g", v.d)
	case BOOL:
		return fmt.Sprintf("%t", v.b)
	case OBJECT:
		return fmt.Sprintf("%v", v.o)
	default:
		return ""
	}
}
