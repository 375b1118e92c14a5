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

// Package ast defines the typed abstract query model that the EventFlux
// parser (query/parser) produces and the compiler (compiler) consumes:
// definitions, queries, joins, and pattern/sequence state expressions.
package ast

import "github.com/eventflux-io/eventflux/value"

// Pos is a source position, attached to every node for compile-error
// reporting.
type Pos struct {
	Line int
	Col  int
}

// AttributeDef is one (name, type) column of a stream/table definition.
type AttributeDef struct {
	Name string
	Type value.Type
}

// Annotations is the `@name(key=value, ...)` bag attached to a definition,
// e.g. @app(name=...), @Async(buffer_size=...), @store(type=...).
type Annotations map[string][]AnnotationArg

// AnnotationArg is one key=value pair (or a bare positional value) inside
// an annotation invocation.
type AnnotationArg struct {
	Key   string
	Value string
}

// StreamDef is `define stream S (a t, b t, ...)`.
type StreamDef struct {
	Pos         Pos
	ID          string
	Attributes  []AttributeDef
	Annotations Annotations
}

// TableDef is `define table T (...)`, optionally with a primary key used
// for upsert semantics.
type TableDef struct {
	Pos         Pos
	ID          string
	Attributes  []AttributeDef
	PrimaryKey  []string
	Annotations Annotations
}

// OutputEventType selects which event types a window/query emits.
type OutputEventType int

const (
	OutputAll OutputEventType = iota
	OutputCurrentEvents
	OutputExpiredEvents
)

// HandlerInvocation is a `#window:name(args)` or `#handler:name(args)`
// call: a window factory name plus its constant/expression arguments.
type HandlerInvocation struct {
	Pos  Pos
	Name string
	Args []Expr
}

// WindowDef is `define window W (...) handler(args) [output ...]`.
type WindowDef struct {
	Pos             Pos
	ID              string
	Attributes      []AttributeDef
	Handler         HandlerInvocation
	OutputEventType OutputEventType
	Annotations     Annotations
}

// Granularity is an incremental-aggregation time bucket size.
type Granularity int

const (
	Seconds Granularity = iota
	Minutes
	Hours
	Days
	Months
	Years
)

func (g Granularity) String() string {
	switch g {
	case Seconds:
		return "seconds"
	case Minutes:
		return "minutes"
	case Hours:
		return "hours"
	case Days:
		return "days"
	case Months:
		return "months"
	case Years:
		return "years"
	default:
		return "unknown"
	}
}

// AggregationDef is `define aggregation A from S select ... group by ...
// aggregate every <granularity>`.
type AggregationDef struct {
	Pos           Pos
	ID            string
	From          string
	GroupBy       []Expr
	Select        []SelectItem
	Granularities []Granularity
	Annotations   Annotations
}

// TriggerDef is `define trigger T at <cron|start|every <time>>`.
type TriggerDef struct {
	Pos Pos
	ID  string
	At  string
}

// SelectItem is one projected column: `expr [as alias]`.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// OrderItem is one `ORDER BY` key.
type OrderItem struct {
	Expr       Expr
	Descending bool
}

// InsertMode selects the target kind for `insert into`.
type InsertMode int

const (
	InsertNormal InsertMode = iota
	InsertInner
	InsertFault
)

// InsertTarget is the `insert [all|current|expired events] into
// [inner|fault] Target` clause.
type InsertTarget struct {
	Stream          string
	Mode            InsertMode
	IntoTable       bool
	OutputEventType OutputEventType
}

// JoinType enumerates the supported join kinds.
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
)

// InputStream is the FROM-clause source of a query: a single stream, a
// join of two input streams, or a pattern/sequence state expression.
type InputStream interface{ inputStreamNode() }

// SingleInputStream is `S [#window:name(args)]`.
type SingleInputStream struct {
	Pos      Pos
	StreamID string
	Window   *HandlerInvocation
	Filter   Expr
}

func (*SingleInputStream) inputStreamNode() {}

// JoinInputStream is `L [left|right|full outer] join R [on cond]`.
type JoinInputStream struct {
	Pos   Pos
	Left  InputStream
	Right InputStream
	Type  JoinType
	On    Expr
}

func (*JoinInputStream) inputStreamNode() {}

// StateElement is a node of a pattern/sequence state expression
// .
type StateElement interface{ stateElementNode() }

// SingleStateElement names one stream position with an optional filter
// and an optional count range `<min:max>`.
type SingleStateElement struct {
	Pos      Pos
	StreamID string
	Filter   Expr
	Min, Max int // both 1 when no count qualifier is present
}

func (*SingleStateElement) stateElementNode() {}

// NextStateElement is `A -> B`.
type NextStateElement struct {
	Left, Right StateElement
}

func (*NextStateElement) stateElementNode() {}

// SequenceStateElement is `A, B`.
type SequenceStateElement struct {
	Left, Right StateElement
}

func (*SequenceStateElement) stateElementNode() {}

// EveryStateElement is `every A`: re-seeds the initial state on each match
// of Inner, enabling overlapping matches.
type EveryStateElement struct {
	Inner StateElement
}

func (*EveryStateElement) stateElementNode() {}

// LogicalStateElement is `A and B` / `A or B` (both required, either
// order, for AND; either for OR).
type LogicalStateElement struct {
	Op          string // "AND" or "OR"
	Left, Right StateElement
}

func (*LogicalStateElement) stateElementNode() {}

// NotStateElement is `not A for D`: matches if A does not occur for
// duration D milliseconds.
type NotStateElement struct {
	Inner    StateElement
	Duration int64
}

func (*NotStateElement) stateElementNode() {}

// PatternInputStream wraps a state expression, distinguishing pattern
// (state machine triggered by `->`/`every`/`not`) from sequence (`,`)
// semantics for the compiler's processor lowering.
type PatternInputStream struct {
	Pos      Pos
	Root     StateElement
	Sequence bool
}

func (*PatternInputStream) inputStreamNode() {}

// Query is one `from ... select ... insert into ...;` execution element.
type Query struct {
	Pos         Pos
	Name        string
	Input       InputStream
	Select      []SelectItem
	Distinct    bool
	GroupBy     []Expr
	Having      Expr
	OrderBy     []OrderItem
	Limit       int
	HasLimit    bool
	Offset      int
	Insert      InsertTarget
	Annotations Annotations
}

// AggregationQuery is the on-demand `from <Agg> [on cond] [within t1..t2]
// [per G]` read, distinct from a streaming Query.
type AggregationQuery struct {
	Pos         Pos
	Aggregation string
	On          Expr
	WithinStart int64
	WithinEnd   int64
	HasWithin   bool
	Per         Granularity
	Select      []SelectItem
	Insert      InsertTarget
}

// App is the parsed query application: ordered definitions plus the
// execution elements (queries, aggregation queries) that run over them.
type App struct {
	Name        string
	Annotations Annotations

	StreamOrder      []string
	Streams          map[string]*StreamDef
	TableOrder       []string
	Tables           map[string]*TableDef
	WindowOrder      []string
	Windows          map[string]*WindowDef
	AggregationOrder []string
	Aggregations     map[string]*AggregationDef
	TriggerOrder     []string
	Triggers         map[string]*TriggerDef

	Queries            []*Query
	AggregationQueries []*AggregationQuery
}

// NewApp returns an empty App ready to be populated by the parser.
func NewApp() *App {
	return &App{
		Streams:      make(map[string]*StreamDef),
		Tables:       make(map[string]*TableDef),
		Windows:      make(map[string]*WindowDef),
		Aggregations: make(map[string]*AggregationDef),
		Triggers:     make(map[string]*TriggerDef),
	}
}
