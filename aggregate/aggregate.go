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

// Package aggregate implements the GROUP BY aggregator state machines a
// Selector drives per group: sum, count, avg, min, max,
// and friends, each supporting process_add/process_remove/reset alongside
// a plain result read.
package aggregate

import "github.com/eventflux-io/eventflux/value"

// Aggregator is per-group accumulator state for one aggregate function
// call in a SELECT list (e.g. sum(price)). A fresh instance is created
// per group via New.
type Aggregator interface {
	// New returns a zero-valued aggregator of the same kind, used when a
	// new group key is first seen.
	New() Aggregator
	// ProcessAdd folds v (the argument expression's evaluated value) into
	// the running state as a newly-arrived CURRENT event.
	ProcessAdd(v value.Value)
	// ProcessRemove undoes a prior ProcessAdd, used when a window expires
	// the event that produced v ( "process_remove").
	ProcessRemove(v value.Value)
	// Result returns the aggregator's current value.
	Result() value.Value
	// Reset clears accumulated state back to New()'s zero value, used on
	// RESET events.
	Reset()
	// State captures the accumulator for serialization; SetState restores
	// a capture onto a fresh instance.
	State() State
	SetState(s State)
}

// State is the serializable capture of one aggregator's accumulation:
// a single running value (sum, min, max), a running count (count, avg),
// or both.
type State struct {
	ValueType value.Type
	Value     interface{}
	Count     int64
	Set       bool
}

func captureValue(v value.Value, set bool) State {
	if !set {
		return State{}
	}
	return State{ValueType: v.Type(), Value: v.AsInterface(), Set: true}
}

func restoreValue(s State) (value.Value, bool) {
	if !s.Set {
		return value.Value{}, false
	}
	v, err := value.FromInterface(s.ValueType, s.Value)
	if err != nil {
		return value.Value{}, false
	}
	return v, true
}

// Factory builds a fresh Aggregator for an aggregate function name.
type Factory func() Aggregator

var registry = map[string]Factory{
	"sum":   func() Aggregator { return &sumAgg{} },
	"count": func() Aggregator { return &countAgg{} },
	"avg":   func() Aggregator { return &avgAgg{} },
	"min":   func() Aggregator { return &minAgg{} },
	"max":   func() Aggregator { return &maxAgg{} },
}

// Lookup resolves a builtin aggregate function name (case-sensitive,
// lower-case per the grammar's keyword casing) to its Factory.
func Lookup(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// Register adds or overrides a builtin aggregate function, letting
// embedders install custom aggregate functions alongside the builtins.
func Register(name string, f Factory) {
	registry[name] = f
}

// Distinct wraps a Factory so each distinct argument value is folded only
// once, implementing `agg(distinct x)`.
func Distinct(f Factory) Factory {
	return func() Aggregator {
		return &distinctAgg{inner: f(), seen: make(map[string]bool)}
	}
}

type distinctAgg struct {
	inner Aggregator
	seen  map[string]bool
}

func (d *distinctAgg) New() Aggregator {
	return &distinctAgg{inner: d.inner.New(), seen: make(map[string]bool)}
}
func (d *distinctAgg) ProcessAdd(v value.Value) {
	key := v.String()
	if d.seen[key] {
		return
	}
	d.seen[key] = true
	d.inner.ProcessAdd(v)
}
func (d *distinctAgg) ProcessRemove(v value.Value) {
	key := v.String()
	if !d.seen[key] {
		return
	}
	delete(d.seen, key)
	d.inner.ProcessRemove(v)
}
func (d *distinctAgg) Result() value.Value { return d.inner.Result() }
func (d *distinctAgg) Reset() {
	d.inner.Reset()
	d.seen = make(map[string]bool)
}
func (d *distinctAgg) State() State     { return d.inner.State() }
func (d *distinctAgg) SetState(s State) { d.inner.SetState(s) }

type sumAgg struct {
	total value.Value
	set   bool
}

func (a *sumAgg) New() Aggregator { return &sumAgg{} }

// widen lifts INT to LONG and FLOAT to DOUBLE so a sum's type does not
// depend on how many values it has folded.
func widen(v value.Value) value.Value {
	switch v.Type() {
	case value.INT:
		return value.Add(value.NewLong(0), v)
	case value.FLOAT:
		return value.Add(value.NewDouble(0), v)
	}
	return v
}

func (a *sumAgg) ProcessAdd(v value.Value) {
	if v.IsNull() {
		return
	}
	if !a.set {
		a.total = widen(v)
		a.set = true
		return
	}
	a.total = value.Add(a.total, v)
}
func (a *sumAgg) ProcessRemove(v value.Value) {
	if v.IsNull() || !a.set {
		return
	}
	a.total = value.Sub(a.total, v)
}
func (a *sumAgg) Result() value.Value {
	if !a.set {
		return value.NewLong(0)
	}
	return a.total
}
func (a *sumAgg) Reset()           { a.total = value.Value{}; a.set = false }
func (a *sumAgg) State() State     { return captureValue(a.total, a.set) }
func (a *sumAgg) SetState(s State) { a.total, a.set = restoreValue(s) }

type countAgg struct {
	n int64
}

func (a *countAgg) New() Aggregator             { return &countAgg{} }
func (a *countAgg) ProcessAdd(v value.Value)    { a.n++ }
func (a *countAgg) ProcessRemove(v value.Value) { a.n-- }
func (a *countAgg) Result() value.Value         { return value.NewLong(a.n) }
func (a *countAgg) Reset()                      { a.n = 0 }
func (a *countAgg) State() State                { return State{Count: a.n, Set: a.n != 0} }
func (a *countAgg) SetState(s State)            { a.n = s.Count }

type avgAgg struct {
	sum value.Value
	n   int64
	set bool
}

func (a *avgAgg) New() Aggregator { return &avgAgg{} }
func (a *avgAgg) ProcessAdd(v value.Value) {
	if v.IsNull() {
		return
	}
	if !a.set {
		a.sum = widen(v)
		a.set = true
	} else {
		a.sum = value.Add(a.sum, v)
	}
	a.n++
}
func (a *avgAgg) ProcessRemove(v value.Value) {
	if v.IsNull() || !a.set {
		return
	}
	a.sum = value.Sub(a.sum, v)
	a.n--
}
func (a *avgAgg) Result() value.Value {
	if !a.set || a.n == 0 {
		return value.Null(value.DOUBLE)
	}
	return value.Div(a.sum, value.NewLong(a.n), false)
}
func (a *avgAgg) Reset() { a.sum = value.Value{}; a.n = 0; a.set = false }
func (a *avgAgg) State() State {
	s := captureValue(a.sum, a.set)
	s.Count = a.n
	return s
}
func (a *avgAgg) SetState(s State) {
	a.sum, a.set = restoreValue(s)
	a.n = s.Count
}

type minAgg struct {
	cur value.Value
	set bool
}

func (a *minAgg) New() Aggregator { return &minAgg{} }
func (a *minAgg) ProcessAdd(v value.Value) {
	if v.IsNull() {
		return
	}
	if !a.set {
		a.cur, a.set = v, true
		return
	}
	if cmp, ok := value.Compare(v, a.cur); ok && cmp < 0 {
		a.cur = v
	}
}
func (a *minAgg) ProcessRemove(value.Value) {
	// A removed value may have been the current min; a correct
	// incremental min under removal needs the full multiset, which the
	// window layer (not this aggregator) retains. Recompute is handled
	// by the Selector re-scanning the group's live window contents when
	// it detects an EXPIRED event for a min/max aggregate.
}
func (a *minAgg) Result() value.Value {
	if !a.set {
		return value.Null(value.DOUBLE)
	}
	return a.cur
}
func (a *minAgg) Reset()           { a.cur = value.Value{}; a.set = false }
func (a *minAgg) State() State     { return captureValue(a.cur, a.set) }
func (a *minAgg) SetState(s State) { a.cur, a.set = restoreValue(s) }

type maxAgg struct {
	cur value.Value
	set bool
}

func (a *maxAgg) New() Aggregator { return &maxAgg{} }
func (a *maxAgg) ProcessAdd(v value.Value) {
	if v.IsNull() {
		return
	}
	if !a.set {
		a.cur, a.set = v, true
		return
	}
	if cmp, ok := value.Compare(v, a.cur); ok && cmp > 0 {
		a.cur = v
	}
}
func (a *maxAgg) ProcessRemove(value.Value) {
	// See minAgg.ProcessRemove.
}
func (a *maxAgg) Result() value.Value {
	if !a.set {
		return value.Null(value.DOUBLE)
	}
	return a.cur
}
func (a *maxAgg) Reset()           { a.cur = value.Value{}; a.set = false }
func (a *maxAgg) State() State     { return captureValue(a.cur, a.set) }
func (a *maxAgg) SetState(s State) { a.cur, a.set = restoreValue(s) }
