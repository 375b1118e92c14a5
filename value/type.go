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

// Package value implements the EventFlux attribute type system: the
// AttributeType enumeration and the AttributeValue tagged sum described in
// including the numeric promotion rules used throughout the
// expression executor tree.
package value

// Type is the enumeration of column/attribute types.
type Type int

const (
	STRING Type = iota
	INT
	LONG
	FLOAT
	DOUBLE
	BOOL
	OBJECT
)

func (t Type) String() string {
	switch t {
	case STRING:
		return "STRING"
	case INT:
		return "INT"
	case LONG:
		return "LONG"
	case FLOAT:
		return "FLOAT"
	case DOUBLE:
		return "DOUBLE"
	case BOOL:
		return "BOOL"
	case OBJECT:
		return "OBJECT"
	default:
		return "UNKNOWN"
	}
}

// IsNumeric reports whether the type participates in numeric promotion.
func (t Type) IsNumeric() bool {
	switch t {
	case INT, LONG, FLOAT, DOUBLE:
		return true
	default:
		return false
	}
}

// numericRank gives INT -> LONG -> FLOAT -> DOUBLE promotion order. Higher
// rank wins when two numeric types meet in a binary operator.
func (t Type) numericRank() int {
	switch t {
	case INT:
		return 0
	case LONG:
		return 1
	case FLOAT:
		return 2
	case DOUBLE:
		return 3
	default:
		return -1
	}
}

// Promote returns the strictest numeric type between a and b, per the
// INT -> LONG -> FLOAT -> DOUBLE promotion rule in Both
// arguments must be numeric; callers (the compiler's type checker) are
// expected to have already rejected non-numeric operands.
func Promote(a, b Type) Type {
	if a.numericRank() >= b.numericRank() {
		return a
	}
	return b
}
