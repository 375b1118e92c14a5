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

package compiler

import (
	"fmt"

	"github.com/eventflux-io/eventflux/aggregate"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/query/ast"
	"github.com/eventflux-io/eventflux/table"
	"github.com/eventflux-io/eventflux/value"
)

// scopeStream is one resolvable stream position: its id and attribute
// schema. Index in the enclosing scope doubles as the StateEvent slot.
type scopeStream struct {
	id    string
	alias string
	attrs []ast.AttributeDef
}

// scope resolves attribute references for one query context: a single
// stream, the two sides of a join, the elements of a pattern, or a
// selector's own output columns.
type scope struct {
	streams []scopeStream
	// tables resolves `expr IN T` lookups.
	tables map[string]table.Table
	// query names compile errors.
	query string
}

func (sc *scope) errAt(pos ast.Pos, format string, args ...interface{}) error {
	return ferror.NewCompileError(sc.query, pos.Line, pos.Col, fmt.Sprintf(format, args...))
}

// resolve finds (slot, attribute index, type) for a possibly-qualified
// attribute reference. Unqualified names must be unambiguous across the
// scope's streams.
func (sc *scope) resolve(pos ast.Pos, stream, name string) (int, int, value.Type, error) {
	foundSlot, foundAttr := -1, -1
	var foundType value.Type
	for si, ss := range sc.streams {
		if stream != "" && stream != ss.id && stream != ss.alias {
			continue
		}
		for ai, attr := range ss.attrs {
			if attr.Name != name {
				continue
			}
			if foundSlot >= 0 {
				return 0, 0, 0, sc.errAt(pos, "ambiguous attribute %q (matches %s.%s and %s.%s)",
					name, sc.streams[foundSlot].id, name, ss.id, name)
			}
			foundSlot, foundAttr, foundType = si, ai, attr.Type
		}
	}
	if foundSlot < 0 {
		if stream != "" {
			return 0, 0, 0, sc.errAt(pos, "unknown attribute %q on stream %q", name, stream)
		}
		return 0, 0, 0, sc.errAt(pos, "unknown attribute %q", name)
	}
	return foundSlot, foundAttr, foundType, nil
}

// lower compiles an ast.Expr into an executor tree, type-checking
// bottom-up. Aggregate function calls are rejected here; the selector
// lowering peels them off the SELECT list before descending.
func (sc *scope) lower(e ast.Expr) (executor.Executor, error) {
	switch n := e.(type) {
	case *ast.ConstantExpr:
		return &executor.Constant{Value: n.Value}, nil

	case *ast.VariableExpr:
		slot, attr, t, err := sc.resolve(n.Pos, n.Stream, n.Name)
		if err != nil {
			return nil, err
		}
		return &executor.Variable{StreamIndex: slot, AttrIndex: attr, Rt: t}, nil

	case *ast.BinaryExpr:
		return sc.lowerBinary(n)

	case *ast.UnaryExpr:
		operand, err := sc.lower(n.Operand)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case "NOT":
			if operand.ReturnType() != value.BOOL {
				return nil, sc.errAt(n.Pos, "NOT requires a BOOL operand, have %s", operand.ReturnType())
			}
			return &executor.Not{Operand: operand}, nil
		case "-":
			if !operand.ReturnType().IsNumeric() {
				return nil, sc.errAt(n.Pos, "unary '-' requires a numeric operand, have %s", operand.ReturnType())
			}
			return &executor.Negate{Operand: operand, Rt: operand.ReturnType()}, nil
		default:
			return nil, sc.errAt(n.Pos, "unsupported unary operator %q", n.Op)
		}

	case *ast.IsNullExpr:
		operand, err := sc.lower(n.Operand)
		if err != nil {
			return nil, err
		}
		return &executor.IsNull{Operand: operand, Negate: n.Negate}, nil

	case *ast.InExpr:
		operand, err := sc.lower(n.Operand)
		if err != nil {
			return nil, err
		}
		tbl, ok := sc.tables[n.Table]
		if !ok {
			return nil, sc.errAt(n.Pos, "unknown table %q in IN expression", n.Table)
		}
		return &executor.In{Operand: operand, Table: tbl, Negate: n.Negate}, nil

	case *ast.IfThenElseExpr:
		return sc.lowerIfThenElse(n.Pos, n.Cond, n.Then, n.Else)

	case *ast.FuncCallExpr:
		return sc.lowerFuncCall(n)

	default:
		return nil, sc.errAt(ast.Pos{}, "unsupported expression node %T", e)
	}
}

var comparisonOps = map[string]bool{"=": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}
var arithmeticOps = map[string]bool{"+": true, "-": true, "*": true, "/": true, "%": true}

func (sc *scope) lowerBinary(n *ast.BinaryExpr) (executor.Executor, error) {
	left, err := sc.lower(n.Left)
	if err != nil {
		return nil, err
	}
	right, err := sc.lower(n.Right)
	if err != nil {
		return nil, err
	}
	lt, rt := left.ReturnType(), right.ReturnType()

	switch {
	case arithmeticOps[n.Op]:
		if !lt.IsNumeric() || !rt.IsNumeric() {
			return nil, sc.errAt(n.Pos, "operator %q requires numeric operands, have %s and %s", n.Op, lt, rt)
		}
		integer := isIntegral(lt) && isIntegral(rt)
		resultType := value.Promote(lt, rt)
		if n.Op == "/" && !integer {
			resultType = value.DOUBLE
		}
		return &executor.Arithmetic{Op: n.Op, Left: left, Right: right, IntegerDivision: integer, Rt: resultType}, nil

	case comparisonOps[n.Op]:
		if !comparable(lt, rt) {
			return nil, sc.errAt(n.Pos, "cannot compare %s with %s", lt, rt)
		}
		return &executor.Comparison{Op: n.Op, Left: left, Right: right}, nil

	case n.Op == "AND" || n.Op == "OR":
		if lt != value.BOOL || rt != value.BOOL {
			return nil, sc.errAt(n.Pos, "%s requires BOOL operands, have %s and %s", n.Op, lt, rt)
		}
		return &executor.Logical{Op: n.Op, Left: left, Right: right}, nil

	default:
		return nil, sc.errAt(n.Pos, "unsupported binary operator %q", n.Op)
	}
}

func (sc *scope) lowerIfThenElse(pos ast.Pos, condE, thenE, elseE ast.Expr) (executor.Executor, error) {
	cond, err := sc.lower(condE)
	if err != nil {
		return nil, err
	}
	if cond.ReturnType() != value.BOOL {
		return nil, sc.errAt(pos, "ifThenElse condition must be BOOL, have %s", cond.ReturnType())
	}
	thenX, err := sc.lower(thenE)
	if err != nil {
		return nil, err
	}
	elseX, err := sc.lower(elseE)
	if err != nil {
		return nil, err
	}
	if thenX.ReturnType() != elseX.ReturnType() {
		return nil, sc.errAt(pos, "ifThenElse branches must share a type, have %s and %s",
			thenX.ReturnType(), elseX.ReturnType())
	}
	return &executor.IfThenElse{Cond: cond, Then: thenX, Else: elseX, Rt: thenX.ReturnType()}, nil
}

func (sc *scope) lowerFuncCall(n *ast.FuncCallExpr) (executor.Executor, error) {
	if _, isAgg := aggregate.Lookup(n.Name); isAgg {
		return nil, sc.errAt(n.Pos, "aggregate function %q is only allowed in a SELECT list", n.Name)
	}
	switch n.Name {
	case "ifThenElse":
		if len(n.Args) != 3 {
			return nil, sc.errAt(n.Pos, "ifThenElse takes 3 arguments, have %d", len(n.Args))
		}
		return sc.lowerIfThenElse(n.Pos, n.Args[0], n.Args[1], n.Args[2])
	case "eventTimestamp":
		if len(n.Args) != 0 {
			return nil, sc.errAt(n.Pos, "eventTimestamp takes no arguments")
		}
		return executor.EventTimestamp{}, nil
	}

	fn, ok := executor.Global.Lookup(n.Name)
	if !ok {
		return nil, sc.errAt(n.Pos, "unknown function %q", n.Name)
	}
	args := make([]executor.Executor, len(n.Args))
	for i, a := range n.Args {
		x, err := sc.lower(a)
		if err != nil {
			return nil, err
		}
		args[i] = x
	}
	return &executor.FuncCall{Fn: fn, Args: args}, nil
}

func isIntegral(t value.Type) bool { return t == value.INT || t == value.LONG }

// comparable reports whether two types may meet in a comparison: numerics
// cross-compare via promotion; everything else compares within its own
// type.
func comparable(a, b value.Type) bool {
	if a.IsNumeric() && b.IsNumeric() {
		return true
	}
	return a == b
}

// aggregateCallOf recognizes a SELECT item that is an aggregate
// invocation and splits it into the call name, argument expression, and
// factory; ok is false for plain scalar expressions.
func aggregateCallOf(e ast.Expr) (name string, arg ast.Expr, distinct bool, factory aggregate.Factory, ok bool) {
	fc, isCall := e.(*ast.FuncCallExpr)
	if !isCall {
		return "", nil, false, nil, false
	}
	f, isAgg := aggregate.Lookup(fc.Name)
	if !isAgg {
		return "", nil, false, nil, false
	}
	var a ast.Expr
	switch len(fc.Args) {
	case 0:
		// count() with no argument folds a constant.
		a = &ast.ConstantExpr{Pos: fc.Pos, Value: value.NewLong(1)}
	case 1:
		a = fc.Args[0]
	default:
		return "", nil, false, nil, false
	}
	if fc.Distinct {
		f = aggregate.Distinct(f)
	}
	return fc.Name, a, fc.Distinct, f, true
}

// resultTypeOfAggregate states the output column type of an aggregate
// call given its argument type.
func resultTypeOfAggregate(name string, argType value.Type) value.Type {
	switch name {
	case "count":
		return value.LONG
	case "avg":
		return value.DOUBLE
	case "sum":
		if argType == value.FLOAT || argType == value.DOUBLE {
			return value.DOUBLE
		}
		return value.LONG
	default: // min, max and custom aggregates follow their argument
		return argType
	}
}
