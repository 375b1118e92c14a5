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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromotionRules(t *testing.T) {
	assert.Equal(t, LONG, Promote(INT, LONG))
	assert.Equal(t, FLOAT, Promote(LONG, FLOAT))
	assert.Equal(t, DOUBLE, Promote(FLOAT, DOUBLE))
	assert.Equal(t, INT, Promote(INT, INT))
}

func TestArithmeticNullPropagation(t *testing.T) {
	a := Null(INT)
	b := NewInt(5)

	for _, v := range []Value{Add(a, b), Sub(a, b), Mul(a, b), Div(a, b, true), Mod(a, b)} {
		assert.True(t, v.IsNull(), "expected NULL result when one operand is NULL")
	}
}

func TestDivisionByZeroYieldsNull(t *testing.T) {
	r := Div(NewDouble(10), NewDouble(0), false)
	assert.True(t, r.IsNull())

	ri := Div(NewLong(10), NewLong(0), true)
	assert.True(t, ri.IsNull())
}

func TestDivisionPromotesToDoubleUnlessIntegerDivisionRequested(t *testing.T) {
	r := Div(NewInt(7), NewInt(2), false)
	assert.Equal(t, DOUBLE, r.Type())
	assert.InDelta(t, 3.5, r.AsDouble(), epsilon)

	ri := Div(NewInt(7), NewInt(2), true)
	assert.Equal(t, INT, ri.Type())
	assert.EqualValues(t, 3, ri.AsInt())
}

func TestIntegerOverflowWraps(t *testing.T) {
	max := NewInt(2147483647)
	r := Add(max, NewInt(1))
	assert.EqualValues(t, -2147483648, r.AsInt())
}

func TestFloatEqualityUsesEpsilon(t *testing.T) {
	a := NewDouble(0.1 + 0.2)
	b := NewDouble(0.3)
	assert.True(t, Equals(a, b))
}

func TestObjectEqualityIsReferenceOnly(t *testing.T) {
	type box struct{ v int }
	o1 := &box{v: 1}
	o2 := &box{v: 1}

	assert.True(t, Equals(NewObject(o1), NewObject(o1)))
	assert.False(t, Equals(NewObject(o1), NewObject(o2)))
}

func TestNullNeverEqualsAnything(t *testing.T) {
	assert.False(t, Equals(Null(INT), NewInt(0)))
	assert.False(t, Equals(Null(INT), Null(INT)))
}

func TestCompareNullIsNotOk(t *testing.T) {
	_, ok := Compare(Null(INT), NewInt(1))
	assert.False(t, ok)
}

func TestCompareStringsLexicographic(t *testing.T) {
	cmp, ok := Compare(NewString("apple"), NewString("banana"))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)
}

func TestCompareBoolFalseLessThanTrue(t *testing.T) {
	cmp, ok := Compare(NewBool(false), NewBool(true))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)
}

func TestCompareCrossNumericPromotion(t *testing.T) {
	cmp, ok := Compare(NewInt(3), NewDouble(3.5))
	require.True(t, ok)
	assert.Equal(t, -1, cmp)
}

func TestFromInterfaceCoercesWithCast(t *testing.T) {
	v, err := FromInterface(LONG, "42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, v.AsLong())

	n, err := FromInterface(INT, nil)
	require.NoError(t, err)
	assert.True(t, n.IsNull())

	_, err = FromInterface(INT, "not-a-number")
	assert.Error(t, err)
}

func TestStringRendersNullLiteral(t *testing.T) {
	assert.Equal(t, "null", Null(STRING).String())
	assert.Equal(t, "hello", NewString("hello").String())
}

func TestAsInterfaceRoundTrip(t *testing.T) {
	assert.Nil(t, Null(INT).AsInterface())
	assert.Equal(t, int32(7), NewInt(7).AsInterface())
	assert.Equal(t, "s", NewString("s").AsInterface())
}
