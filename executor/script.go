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
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/value"
)

// Script evaluates an expression written in the expr-lang expression
// language rather than the native executor tree, with each free variable
// supplied by an Executor. The body is compiled once;
// Execute runs the compiled program against a per-call variable
// environment.
type Script struct {
	program *vm.Program
	vars    []scriptVar
	rt      value.Type
}

type scriptVar struct {
	Name string
	Exec Executor
}

// NewScript compiles expression once. vars maps each free variable name in
// the expression to the Executor that supplies its value from the
// enclosing event at run time.
func NewScript(expression string, vars map[string]Executor, rt value.Type) (*Script, error) {
	options := []expr.Option{
		expr.AllowUndefinedVariables(),
	}
	program, err := expr.Compile(expression, options...)
	if err != nil {
		return nil, err
	}
	sv := make([]scriptVar, 0, len(vars))
	for name, exec := range vars {
		sv = append(sv, scriptVar{Name: name, Exec: exec})
	}
	return &Script{program: program, vars: sv, rt: rt}, nil
}

func (s *Script) Execute(evt event.ComplexEvent) value.Value {
	env := make(map[string]interface{}, len(s.vars))
	for _, v := range s.vars {
		env[v.Name] = v.Exec.Execute(evt).AsInterface()
	}
	out, err := expr.Run(s.program, env)
	if err != nil {
		return value.Null(s.rt)
	}
	v, err := value.FromInterface(s.rt, out)
	if err != nil {
		return value.Null(s.rt)
	}
	return v
}

func (s *Script) ReturnType() value.Type { return s.rt }

// scriptFn adapts a compiled expr-lang body to the Builtin interface, so
// a script-bodied user function registers and resolves like any other
// scalar.
type scriptFn struct {
	name    string
	program *vm.Program
	params  []string
	rt      value.Type
}

// NewScriptBuiltin compiles an expr-lang body into a registrable scalar
// Builtin. params names the body's free variables in call-argument
// order.
func NewScriptBuiltin(name, expression string, params []string, rt value.Type) (Builtin, error) {
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	return &scriptFn{name: name, program: program, params: append([]string(nil), params...), rt: rt}, nil
}

func (f *scriptFn) Name() string { return f.name }

func (f *scriptFn) Call(args []value.Value) value.Value {
	env := make(map[string]interface{}, len(f.params))
	for i, p := range f.params {
		if i < len(args) {
			env[p] = args[i].AsInterface()
		}
	}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return value.Null(f.rt)
	}
	v, err := value.FromInterface(f.rt, out)
	if err != nil {
		return value.Null(f.rt)
	}
	return v
}

func (f *scriptFn) ReturnType([]value.Type) value.Type { return f.rt }
