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

package ast

import "github.com/eventflux-io/eventflux/value"

// Expr is any scalar SQL expression node. The compiler's executor lowering
// (compiler package) switches on concrete type.
type Expr interface{ exprNode() }

// ConstantExpr is a literal value.
type ConstantExpr struct {
	Pos   Pos
	Value value.Value
}

func (*ConstantExpr) exprNode() {}

// VariableExpr references an attribute, optionally qualified by stream id
// (`stream.attr`) for joins/patterns.
type VariableExpr struct {
	Pos    Pos
	Stream string // empty when unqualified
	Name   string
}

func (*VariableExpr) exprNode() {}

// BinaryExpr covers arithmetic, comparison, and logical binary operators:
// "+","-","*","/","%","=","!=","<","<=",">",">=","AND","OR".
type BinaryExpr struct {
	Pos         Pos
	Op          string
	Left, Right Expr
}

func (*BinaryExpr) exprNode() {}

// UnaryExpr covers "NOT" and unary "-".
type UnaryExpr struct {
	Pos     Pos
	Op      string
	Operand Expr
}

func (*UnaryExpr) exprNode() {}

// IsNullExpr is `expr IS [NOT] NULL`.
type IsNullExpr struct {
	Pos     Pos
	Operand Expr
	Negate  bool
}

func (*IsNullExpr) exprNode() {}

// InExpr is `expr IN Table`, compiling to a Table.Contains lookup
// .
type InExpr struct {
	Pos     Pos
	Operand Expr
	Table   string
	Negate  bool
}

func (*InExpr) exprNode() {}

// FuncCallExpr is a scalar or aggregate function invocation, e.g.
// `sum(x)`, `concat(a, b)`, `cast(x, 'INT')`.
type FuncCallExpr struct {
	Pos      Pos
	Name     string
	Args     []Expr
	Distinct bool
}

func (*FuncCallExpr) exprNode() {}

// IfThenElseExpr is the `ifThenElse(cond, then, else)` builtin, modeled as
// its own node because the then/else branch types must match exactly at
// compile time.
type IfThenElseExpr struct {
	Pos              Pos
	Cond, Then, Else Expr
}

func (*IfThenElseExpr) exprNode() {}
