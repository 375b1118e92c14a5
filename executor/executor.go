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

// Package executor defines the expression-executor tree compiled
// expressions evaluate through: a closed set of typed nodes, each
// evaluating directly against a ComplexEvent, so each node's Go type
// states its own evaluation rule.
package executor

import (
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/value"
)

// Executor evaluates to a Value against a ComplexEvent (a StreamEvent for
// single-stream pipelines, a StateEvent for joins/patterns).
type Executor interface {
	Execute(evt event.ComplexEvent) value.Value
	ReturnType() value.Type
}

// TableLookup is the subset of table.Table the IN-expression executor
// needs; defined here (rather than imported from package table) to avoid
// executor depending on table, since table conditions themselves compile
// to Executors.
type TableLookup interface {
	Contains(key value.Value) bool
}

// Constant always evaluates to the same Value.
type Constant struct {
	Value value.Value
}

func (c *Constant) Execute(event.ComplexEvent) value.Value { return c.Value }
func (c *Constant) ReturnType() value.Type                 { return c.Value.Type() }

// Variable reads one attribute. StreamIndex addresses a StateEvent's chain
// position (join side / pattern state); it is ignored for a plain
// StreamEvent, which has only one implicit position.
type Variable struct {
	StreamIndex int
	AttrIndex   int
	Rt          value.Type
}

func (v *Variable) Execute(evt event.ComplexEvent) value.Value {
	switch e := evt.(type) {
	case *event.StreamEvent:
		return e.Primary(v.AttrIndex)
	case *event.StateEvent:
		return e.Attribute(v.StreamIndex, v.AttrIndex)
	default:
		return value.Null(v.Rt)
	}
}

func (v *Variable) ReturnType() value.Type { return v.Rt }

// Arithmetic implements +,-,*,/,%. IntegerDivision selects the
// integer-truncating form of "/" when both operands are INT/LONG
// ; otherwise division always promotes to DOUBLE.
type Arithmetic struct {
	Op              string
	Left, Right     Executor
	IntegerDivision bool
	Rt              value.Type
}

func (a *Arithmetic) Execute(evt event.ComplexEvent) value.Value {
	l, r := a.Left.Execute(evt), a.Right.Execute(evt)
	switch a.Op {
	case "+":
		return value.Add(l, r)
	case "-":
		return value.Sub(l, r)
	case "*":
		return value.Mul(l, r)
	case "/":
		return value.Div(l, r, a.IntegerDivision)
	case "%":
		return value.Mod(l, r)
	default:
		return value.Null(a.Rt)
	}
}

func (a *Arithmetic) ReturnType() value.Type { return a.Rt }

// Comparison implements =,!=,<,<=,>,>=. Per any NULL operand
// makes every comparison false, including "!=".
type Comparison struct {
	Op          string
	Left, Right Executor
}

func (c *Comparison) Execute(evt event.ComplexEvent) value.Value {
	l, r := c.Left.Execute(evt), c.Right.Execute(evt)
	if c.Op == "=" || c.Op == "!=" {
		eq := value.Equals(l, r)
		if c.Op == "!=" {
			if l.IsNull() || r.IsNull() {
				return value.NewBool(false)
			}
			return value.NewBool(!eq)
		}
		return value.NewBool(eq)
	}
	cmp, ok := value.Compare(l, r)
	if !ok {
		return value.NewBool(false)
	}
	switch c.Op {
	case "<":
		return value.NewBool(cmp < 0)
	case "<=":
		return value.NewBool(cmp <= 0)
	case ">":
		return value.NewBool(cmp > 0)
	case ">=":
		return value.NewBool(cmp >= 0)
	default:
		return value.NewBool(false)
	}
}

func (c *Comparison) ReturnType() value.Type { return value.BOOL }

// Logical implements AND/OR with three-valued NULL semantics collapsed
// to BOOL (a NULL operand is treated as false for AND/OR).
type Logical struct {
	Op          string // "AND" or "OR"
	Left, Right Executor
}

func (l *Logical) Execute(evt event.ComplexEvent) value.Value {
	lv := asBool(l.Left.Execute(evt))
	if l.Op == "AND" && !lv {
		return value.NewBool(false)
	}
	if l.Op == "OR" && lv {
		return value.NewBool(true)
	}
	rv := asBool(l.Right.Execute(evt))
	return value.NewBool(rv)
}

func (l *Logical) ReturnType() value.Type { return value.BOOL }

func asBool(v value.Value) bool {
	if v.IsNull() {
		return false
	}
	if v.Type() == value.BOOL {
		return v.AsBool()
	}
	return false
}

// Not implements the unary NOT.
type Not struct {
	Operand Executor
}

func (n *Not) Execute(evt event.ComplexEvent) value.Value {
	return value.NewBool(!asBool(n.Operand.Execute(evt)))
}
func (n *Not) ReturnType() value.Type { return value.BOOL }

// Negate implements unary minus.
type Negate struct {
	Operand Executor
	Rt      value.Type
}

func (n *Negate) Execute(evt event.ComplexEvent) value.Value {
	return value.Sub(value.NewLong(0), n.Operand.Execute(evt))
}
func (n *Negate) ReturnType() value.Type { return n.Rt }

// IsNull implements `expr IS [NOT] NULL`.
type IsNull struct {
	Operand Executor
	Negate  bool
}

func (i *IsNull) Execute(evt event.ComplexEvent) value.Value {
	isNull := i.Operand.Execute(evt).IsNull()
	if i.Negate {
		return value.NewBool(!isNull)
	}
	return value.NewBool(isNull)
}
func (i *IsNull) ReturnType() value.Type { return value.BOOL }

// In implements `expr [NOT] IN Table`, compiling to a
// Table.Contains lookup.
type In struct {
	Operand Executor
	Table   TableLookup
	Negate  bool
}

func (in *In) Execute(evt event.ComplexEvent) value.Value {
	key := in.Operand.Execute(evt)
	if key.IsNull() {
		return value.NewBool(false)
	}
	found := in.Table.Contains(key)
	if in.Negate {
		return value.NewBool(!found)
	}
	return value.NewBool(found)
}
func (in *In) ReturnType() value.Type { return value.BOOL }

// IfThenElse implements the `ifThenElse(cond, then, else)` builtin. Then
// and Else must share a return type at compile time; Rt
// records that agreed type.
type IfThenElse struct {
	Cond, Then, Else Executor
	Rt               value.Type
}

func (i *IfThenElse) Execute(evt event.ComplexEvent) value.Value {
	if asBool(i.Cond.Execute(evt)) {
		return i.Then.Execute(evt)
	}
	return i.Else.Execute(evt)
}
func (i *IfThenElse) ReturnType() value.Type { return i.Rt }

// EventTimestamp yields the event's own timestamp in epoch millis; the
// compiler rewrites eventTimestamp() calls into this node so the value
// comes from the event rather than the wall clock.
type EventTimestamp struct{}

func (EventTimestamp) Execute(evt event.ComplexEvent) value.Value {
	if evt == nil {
		return value.Null(value.LONG)
	}
	return value.NewLong(evt.Timestamp())
}
func (EventTimestamp) ReturnType() value.Type { return value.LONG }

// FuncCall invokes a registered scalar Builtin over evaluated arguments.
type FuncCall struct {
	Fn   Builtin
	Args []Executor
}

func (f *FuncCall) Execute(evt event.ComplexEvent) value.Value {
	args := make([]value.Value, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.Execute(evt)
	}
	return f.Fn.Call(args)
}
func (f *FuncCall) ReturnType() value.Type { return f.Fn.ReturnType(argTypes(f.Args)) }

func argTypes(execs []Executor) []value.Type {
	ts := make([]value.Type, len(execs))
	for i, e := range execs {
		ts[i] = e.ReturnType()
	}
	return ts
}
