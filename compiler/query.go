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
	"strings"
	"time"

	"github.com/eventflux-io/eventflux/aggregation"
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/executor"
	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/join"
	"github.com/eventflux-io/eventflux/junction"
	"github.com/eventflux-io/eventflux/pattern"
	"github.com/eventflux-io/eventflux/processor"
	"github.com/eventflux-io/eventflux/query/ast"
	"github.com/eventflux-io/eventflux/runtime"
	"github.com/eventflux-io/eventflux/table"
	"github.com/eventflux-io/eventflux/value"
	"github.com/eventflux-io/eventflux/window"
)

// source describes one resolvable FROM target: the junction its events
// arrive on and its attribute schema.
type source struct {
	id       string
	junction *junction.Junction
	attrs    []ast.AttributeDef
}

// resolveSource maps a FROM identifier to its junction: a stream, a
// trigger stream, or a defined window's output junction.
func (c *compiler) resolveSource(query string, pos ast.Pos, id string) (*source, error) {
	if sd, ok := c.src.Streams[id]; ok {
		j, _ := c.app.Junction(id)
		return &source{id: id, junction: j, attrs: sd.Attributes}, nil
	}
	if wd, ok := c.src.Windows[id]; ok {
		j, _ := c.app.Junction(id + windowOutSuffix)
		return &source{id: id, junction: j, attrs: wd.Attributes}, nil
	}
	if _, ok := c.src.Triggers[id]; ok {
		j, _ := c.app.Junction(id)
		return &source{id: id, junction: j, attrs: triggerSchema}, nil
	}
	return nil, ferror.NewCompileError(query, pos.Line, pos.Col,
		fmt.Sprintf("unknown stream %q", id))
}

func (c *compiler) nextID(kind string) string {
	c.seq++
	return fmt.Sprintf("%s.%s-%d", c.app.Name(), kind, c.seq)
}

// --- window construction -----------------------------------------------------

// resolveWindow turns a handler invocation into a window Config, lowering
// its constant arguments (and, for session keys and sort attributes,
// expressions against the source scope).
func (c *compiler) resolveWindow(query string, inv *ast.HandlerInvocation, sc *scope, componentID string) (window.Config, error) {
	name := strings.TrimPrefix(inv.Name, "window:")
	cfg := window.Config{Kind: window.Kind(name), ComponentID: componentID}
	bad := func(format string, args ...interface{}) error {
		return ferror.NewCompileError(query, inv.Pos.Line, inv.Pos.Col, fmt.Sprintf(format, args...))
	}
	constLong := func(i int) (int64, bool) {
		if i >= len(inv.Args) {
			return 0, false
		}
		cexpr, ok := inv.Args[i].(*ast.ConstantExpr)
		if !ok || !cexpr.Value.Type().IsNumeric() {
			return 0, false
		}
		v, err := value.FromInterface(value.LONG, cexpr.Value.AsInterface())
		if err != nil {
			return 0, false
		}
		return v.AsLong(), true
	}

	switch cfg.Kind {
	case window.KindLength, window.KindLengthBatch:
		n, ok := constLong(0)
		if !ok || len(inv.Args) != 1 {
			return cfg, bad("%s window takes one integer size argument", name)
		}
		cfg.Size = int(n)

	case window.KindTime, window.KindTimeBatch:
		ms, ok := constLong(0)
		if !ok {
			return cfg, bad("%s window takes a time duration argument", name)
		}
		cfg.Duration = time.Duration(ms) * time.Millisecond
		cfg.AlignToEpoch = true
		if len(inv.Args) > 1 {
			cexpr, isConst := inv.Args[1].(*ast.ConstantExpr)
			if !isConst || cexpr.Value.Type() != value.STRING {
				return cfg, bad("%s window alignment argument must be 'epoch' or 'first'", name)
			}
			switch cexpr.Value.AsString() {
			case "epoch":
			case "first":
				cfg.AlignToEpoch = false
			default:
				return cfg, bad("%s window alignment argument must be 'epoch' or 'first'", name)
			}
		}

	case window.KindSession:
		ms, ok := constLong(0)
		if !ok {
			return cfg, bad("session window takes a gap duration argument")
		}
		cfg.Gap = time.Duration(ms) * time.Millisecond
		if len(inv.Args) > 1 {
			key, err := sc.lower(inv.Args[1])
			if err != nil {
				return cfg, err
			}
			cfg.Key = key
		}

	case window.KindSort:
		n, ok := constLong(0)
		if !ok {
			return cfg, bad("sort window takes an integer size argument first")
		}
		cfg.Size = int(n)
		i := 1
		for i < len(inv.Args) {
			attr, err := sc.lower(inv.Args[i])
			if err != nil {
				return cfg, err
			}
			spec := processor.OrderSpec{Expr: attr}
			i++
			if i < len(inv.Args) {
				if v, isVar := inv.Args[i].(*ast.VariableExpr); isVar && v.Stream == "" {
					switch strings.ToLower(v.Name) {
					case "asc":
						i++
					case "desc":
						spec.Descending = true
						i++
					}
				}
			}
			cfg.Specs = append(cfg.Specs, spec)
		}
		if len(cfg.Specs) == 0 {
			return cfg, bad("sort window needs at least one sort attribute")
		}

	default:
		return cfg, bad("unknown window %q", name)
	}
	return cfg, nil
}

func (c *compiler) buildWindow(query string, inv *ast.HandlerInvocation, sc *scope) (window.Window, error) {
	cfg, err := c.resolveWindow(query, inv, sc, c.nextID("window"))
	if err != nil {
		return nil, err
	}
	w, err := window.Create(cfg)
	if err != nil {
		return nil, ferror.NewCompileError(query, inv.Pos.Line, inv.Pos.Col, err.Error())
	}
	if err := c.app.AddWindow(w); err != nil {
		return nil, ferror.NewCompileError(query, inv.Pos.Line, inv.Pos.Col, err.Error())
	}
	return w, nil
}

// compileWindowDef wires a `define window`: an input junction under the
// window's name, the window processor, an output-event-type filter, and
// an internal output junction queries read from.
func (c *compiler) compileWindowDef(wd *ast.WindowDef) error {
	inJ, err := c.app.AddStream(wd.ID, schemaOf(wd.Attributes), c.junctionConfig(wd.ID, wd.Annotations))
	if err != nil {
		return ferror.NewCompileError(wd.ID, wd.Pos.Line, wd.Pos.Col, err.Error())
	}
	outJ, err := c.app.AddStream(wd.ID+windowOutSuffix, schemaOf(wd.Attributes), junction.DefaultConfig())
	if err != nil {
		return ferror.NewCompileError(wd.ID, wd.Pos.Line, wd.Pos.Col, err.Error())
	}

	sc := &scope{
		streams: []scopeStream{{id: wd.ID, attrs: wd.Attributes}},
		tables:  c.tables,
		query:   wd.ID,
	}
	cfg, err := c.resolveWindow(wd.ID, &wd.Handler, sc, c.app.Name()+"."+wd.ID)
	if err != nil {
		return err
	}
	w, err := window.Create(cfg)
	if err != nil {
		return ferror.NewCompileError(wd.ID, wd.Pos.Line, wd.Pos.Col, err.Error())
	}
	if err := c.app.AddWindow(w); err != nil {
		return ferror.NewCompileError(wd.ID, wd.Pos.Line, wd.Pos.Col, err.Error())
	}

	var next processor.Processor = processor.NewInsertIntoStream(outJ)
	if f := eventTypeFilterFor(wd.OutputEventType); f != nil {
		f.SetNext(next)
		next = f
	}
	w.SetNext(next)
	inJ.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
		processor.Run(w, cloneChunk(chunk))
	}))
	return nil
}

func eventTypeFilterFor(t ast.OutputEventType) *processor.EventTypeFilter {
	switch t {
	case ast.OutputCurrentEvents:
		return processor.NewEventTypeFilter(event.CURRENT, event.TIMER)
	case ast.OutputExpiredEvents:
		return processor.NewEventTypeFilter(event.EXPIRED)
	default:
		return nil
	}
}

// --- queries -----------------------------------------------------------------

func (c *compiler) queryName(q *ast.Query, idx int) string {
	if name := annString(q.Annotations, "info", "name"); name != "" {
		return name
	}
	return fmt.Sprintf("query-%d", idx+1)
}

func (c *compiler) compileQuery(q *ast.Query, idx int) error {
	qname := c.queryName(q, idx)
	switch in := q.Input.(type) {
	case *ast.SingleInputStream:
		return c.compileSingleQuery(q, qname, in)
	case *ast.JoinInputStream:
		return c.compileJoinQuery(q, qname, in)
	case *ast.PatternInputStream:
		return c.compilePatternQuery(q, qname, in)
	default:
		return ferror.NewCompileError(qname, q.Pos.Line, q.Pos.Col,
			fmt.Sprintf("unsupported input stream %T", q.Input))
	}
}

func (c *compiler) compileSingleQuery(q *ast.Query, qname string, in *ast.SingleInputStream) error {
	src, err := c.resolveSource(qname, in.Pos, in.StreamID)
	if err != nil {
		return err
	}
	sc := &scope{
		streams: []scopeStream{{id: src.id, attrs: src.attrs}},
		tables:  c.tables,
		query:   qname,
	}

	var head, tail processor.Processor
	link := func(p processor.Processor) {
		if head == nil {
			head, tail = p, p
			return
		}
		tail.SetNext(p)
		tail = p
	}

	if in.Filter != nil {
		cond, err := sc.lower(in.Filter)
		if err != nil {
			return err
		}
		if cond.ReturnType() != value.BOOL {
			return ferror.NewCompileError(qname, in.Pos.Line, in.Pos.Col,
				fmt.Sprintf("filter must be BOOL, have %s", cond.ReturnType()))
		}
		link(processor.NewFilter(cond))
	}
	if in.Window != nil {
		w, err := c.buildWindow(qname, in.Window, sc)
		if err != nil {
			return err
		}
		link(w)
	}

	sel, outScope, err := c.buildSelector(q, qname, sc)
	if err != nil {
		return err
	}
	link(sel)
	sink, err := c.buildSink(q, qname, outScope)
	if err != nil {
		return err
	}
	link(sink)

	src.junction.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
		processor.Run(head, cloneChunk(chunk))
	}))
	return nil
}

// sideFeeder terminates a join side's local chain, handing its output to
// the join's matching entry point.
type sideFeeder struct {
	feed func(event.Chunk)
	next processor.Processor
}

func (f *sideFeeder) Process(chunk event.Chunk) event.Chunk {
	f.feed(chunk)
	return nil
}
func (f *sideFeeder) Next() processor.Processor      { return f.next }
func (f *sideFeeder) SetNext(p processor.Processor)  { f.next = p }
func (f *sideFeeder) ProcessingMode() processor.Mode { return processor.ModeDefault }
func (f *sideFeeder) IsStateful() bool               { return false }

func (c *compiler) compileJoinQuery(q *ast.Query, qname string, in *ast.JoinInputStream) error {
	left, lok := in.Left.(*ast.SingleInputStream)
	right, rok := in.Right.(*ast.SingleInputStream)
	if !lok || !rok {
		return ferror.NewCompileError(qname, in.Pos.Line, in.Pos.Col,
			"joins of joins are not supported; join two plain stream references")
	}
	if left.Window == nil && right.Window == nil {
		return ferror.NewCompileError(qname, in.Pos.Line, in.Pos.Col,
			"a join requires a window on at least one side to bound its buffers")
	}

	lsrc, err := c.resolveSource(qname, left.Pos, left.StreamID)
	if err != nil {
		return err
	}
	rsrc, err := c.resolveSource(qname, right.Pos, right.StreamID)
	if err != nil {
		return err
	}
	sc := &scope{
		streams: []scopeStream{
			{id: lsrc.id, attrs: lsrc.attrs},
			{id: rsrc.id, attrs: rsrc.attrs},
		},
		tables: c.tables,
		query:  qname,
	}

	var cond executor.Executor
	if in.On != nil {
		cond, err = sc.lower(in.On)
		if err != nil {
			return err
		}
		if cond.ReturnType() != value.BOOL {
			return ferror.NewCompileError(qname, in.Pos.Line, in.Pos.Col,
				fmt.Sprintf("join condition must be BOOL, have %s", cond.ReturnType()))
		}
	}
	jn := join.New(c.nextID("join"), join.Type(in.Type), cond)
	if err := c.app.RegisterStateHolder(jn); err != nil {
		return ferror.NewCompileError(qname, in.Pos.Line, in.Pos.Col, err.Error())
	}

	sel, outScope, err := c.buildSelector(q, qname, sc)
	if err != nil {
		return err
	}
	sink, err := c.buildSink(q, qname, outScope)
	if err != nil {
		return err
	}
	sel.SetNext(sink)
	jn.SetNext(sel)

	wire := func(side *ast.SingleInputStream, src *source, feed func(event.Chunk)) error {
		sideScope := &scope{
			streams: []scopeStream{{id: src.id, attrs: src.attrs}},
			tables:  c.tables,
			query:   qname,
		}
		var head, tail processor.Processor
		link := func(p processor.Processor) {
			if head == nil {
				head, tail = p, p
				return
			}
			tail.SetNext(p)
			tail = p
		}
		if side.Filter != nil {
			cond, err := sideScope.lower(side.Filter)
			if err != nil {
				return err
			}
			if cond.ReturnType() != value.BOOL {
				return ferror.NewCompileError(qname, side.Pos.Line, side.Pos.Col,
					fmt.Sprintf("filter must be BOOL, have %s", cond.ReturnType()))
			}
			link(processor.NewFilter(cond))
		}
		if side.Window != nil {
			w, err := c.buildWindow(qname, side.Window, sideScope)
			if err != nil {
				return err
			}
			link(w)
		}
		link(&sideFeeder{feed: feed})
		src.junction.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
			processor.Run(head, cloneChunk(chunk))
		}))
		return nil
	}
	if err := wire(left, lsrc, jn.ProcessLeft); err != nil {
		return err
	}
	return wire(right, rsrc, jn.ProcessRight)
}

// flattenState walks a pattern/sequence state expression into the flat
// element list the machine consumes, assigning StateEvent slots and
// building the cumulative scope.
func (c *compiler) flattenState(qname string, root ast.StateElement, sc *scope) ([]pattern.Element, bool, error) {
	var elements []pattern.Element
	every := false

	var walk func(el ast.StateElement) error
	walk = func(el ast.StateElement) error {
		switch n := el.(type) {
		case *ast.EveryStateElement:
			every = true
			return walk(n.Inner)

		case *ast.NextStateElement:
			if err := walk(n.Left); err != nil {
				return err
			}
			return walk(n.Right)

		case *ast.SequenceStateElement:
			if err := walk(n.Left); err != nil {
				return err
			}
			return walk(n.Right)

		case *ast.SingleStateElement:
			src, err := c.resolveSource(qname, n.Pos, n.StreamID)
			if err != nil {
				return err
			}
			slot := len(sc.streams)
			sc.streams = append(sc.streams, scopeStream{id: src.id, attrs: src.attrs})
			e := pattern.Element{Kind: pattern.Single, StreamID: src.id, Slot: slot, Min: n.Min, Max: n.Max}
			if n.Filter != nil {
				f, err := sc.lower(n.Filter)
				if err != nil {
					return err
				}
				if f.ReturnType() != value.BOOL {
					return ferror.NewCompileError(qname, n.Pos.Line, n.Pos.Col,
						fmt.Sprintf("state filter must be BOOL, have %s", f.ReturnType()))
				}
				e.Filter = f
			}
			elements = append(elements, e)
			return nil

		case *ast.LogicalStateElement:
			ls, lok := n.Left.(*ast.SingleStateElement)
			rs, rok := n.Right.(*ast.SingleStateElement)
			if !lok || !rok {
				return ferror.NewCompileError(qname, q0Pos(n.Left), 0,
					"logical state operands must be plain stream references")
			}
			lsrc, err := c.resolveSource(qname, ls.Pos, ls.StreamID)
			if err != nil {
				return err
			}
			rsrc, err := c.resolveSource(qname, rs.Pos, rs.StreamID)
			if err != nil {
				return err
			}
			slot := len(sc.streams)
			sc.streams = append(sc.streams, scopeStream{id: lsrc.id, attrs: lsrc.attrs})
			sc.streams = append(sc.streams, scopeStream{id: rsrc.id, attrs: rsrc.attrs})
			e := pattern.Element{
				Kind:           pattern.Logical,
				Or:             strings.EqualFold(n.Op, "OR"),
				StreamID:       lsrc.id,
				Slot:           slot,
				SecondStreamID: rsrc.id,
				SecondSlot:     slot + 1,
			}
			if ls.Filter != nil {
				f, err := sc.lower(ls.Filter)
				if err != nil {
					return err
				}
				e.Filter = f
			}
			if rs.Filter != nil {
				f, err := sc.lower(rs.Filter)
				if err != nil {
					return err
				}
				e.SecondFilter = f
			}
			elements = append(elements, e)
			return nil

		case *ast.NotStateElement:
			inner, ok := n.Inner.(*ast.SingleStateElement)
			if !ok {
				return ferror.NewCompileError(qname, 0, 0,
					"not-for state operand must be a plain stream reference")
			}
			src, err := c.resolveSource(qname, inner.Pos, inner.StreamID)
			if err != nil {
				return err
			}
			slot := len(sc.streams)
			sc.streams = append(sc.streams, scopeStream{id: src.id, attrs: src.attrs})
			e := pattern.Element{
				Kind:           pattern.Absent,
				StreamID:       src.id,
				Slot:           slot,
				DurationMillis: n.Duration,
			}
			if inner.Filter != nil {
				f, err := sc.lower(inner.Filter)
				if err != nil {
					return err
				}
				e.Filter = f
			}
			elements = append(elements, e)
			return nil

		default:
			return ferror.NewCompileError(qname, 0, 0,
				fmt.Sprintf("unsupported state element %T", el))
		}
	}
	if err := walk(root); err != nil {
		return nil, false, err
	}
	return elements, every, nil
}

func q0Pos(el ast.StateElement) int {
	if s, ok := el.(*ast.SingleStateElement); ok {
		return s.Pos.Line
	}
	return 0
}

func (c *compiler) compilePatternQuery(q *ast.Query, qname string, in *ast.PatternInputStream) error {
	sc := &scope{tables: c.tables, query: qname}
	elements, every, err := c.flattenState(qname, in.Root, sc)
	if err != nil {
		return err
	}
	machine := pattern.New(c.nextID("pattern"), pattern.Config{
		Elements:  elements,
		SlotCount: len(sc.streams),
		Every:     every,
		Sequence:  in.Sequence,
	})
	if err := c.app.AddPattern(machine); err != nil {
		return ferror.NewCompileError(qname, in.Pos.Line, in.Pos.Col, err.Error())
	}

	sel, outScope, err := c.buildSelector(q, qname, sc)
	if err != nil {
		return err
	}
	sink, err := c.buildSink(q, qname, outScope)
	if err != nil {
		return err
	}
	sel.SetNext(sink)
	machine.SetNext(sel)

	for _, sid := range machine.InputStreams() {
		streamID := sid
		j, ok := c.app.Junction(streamID)
		if !ok {
			return ferror.NewCompileError(qname, in.Pos.Line, in.Pos.Col,
				fmt.Sprintf("unknown stream %q", streamID))
		}
		j.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
			machine.ProcessStream(streamID, cloneChunk(chunk))
		}))
	}
	return nil
}

// --- selector ----------------------------------------------------------------

// buildSelector lowers the SELECT/GROUP BY/HAVING/ORDER BY/LIMIT/OFFSET
// clauses into a Selector and returns the output-row scope sinks and
// auto-defined target streams use.
func (c *compiler) buildSelector(q *ast.Query, qname string, sc *scope) (*processor.Selector, *scope, error) {
	items := q.Select
	if len(items) == 0 {
		// select * expands to every attribute of the scope, in slot then
		// schema order.
		for _, ss := range sc.streams {
			for _, attr := range ss.attrs {
				items = append(items, ast.SelectItem{
					Expr:  &ast.VariableExpr{Pos: q.Pos, Stream: ss.id, Name: attr.Name},
					Alias: attr.Name,
				})
			}
		}
	}

	outputs := make([]processor.OutputColumn, 0, len(items))
	outAttrs := make([]ast.AttributeDef, 0, len(items))
	for i, item := range items {
		alias := aliasFor(item, i)
		if name, argE, _, factory, isAgg := aggregateCallOf(item.Expr); isAgg {
			arg, err := sc.lower(argE)
			if err != nil {
				return nil, nil, err
			}
			outputs = append(outputs, processor.OutputColumn{
				Alias: alias,
				Agg:   &processor.AggregateCall{Name: name, Arg: arg, Factory: factory},
			})
			outAttrs = append(outAttrs, ast.AttributeDef{Name: alias, Type: resultTypeOfAggregate(name, arg.ReturnType())})
			continue
		}
		x, err := sc.lower(item.Expr)
		if err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, processor.OutputColumn{Alias: alias, Expr: x})
		outAttrs = append(outAttrs, ast.AttributeDef{Name: alias, Type: x.ReturnType()})
	}

	var groupBy []executor.Executor
	for _, g := range q.GroupBy {
		x, err := sc.lower(g)
		if err != nil {
			return nil, nil, err
		}
		groupBy = append(groupBy, x)
	}

	// HAVING and ORDER BY evaluate against the assembled output row:
	// aggregate calls are rewritten to references of the matching SELECT
	// column, plain names resolve to output aliases.
	outScope := &scope{
		streams: []scopeStream{{id: "", attrs: outAttrs}},
		tables:  c.tables,
		query:   qname,
	}
	var having executor.Executor
	if q.Having != nil {
		rewritten, err := rewriteOverOutputs(qname, q.Having, items)
		if err != nil {
			return nil, nil, err
		}
		having, err = outScope.lower(rewritten)
		if err != nil {
			return nil, nil, err
		}
		if having.ReturnType() != value.BOOL {
			return nil, nil, ferror.NewCompileError(qname, q.Pos.Line, q.Pos.Col,
				fmt.Sprintf("having must be BOOL, have %s", having.ReturnType()))
		}
	}
	var orderBy []processor.OrderSpec
	for _, item := range q.OrderBy {
		rewritten, err := rewriteOverOutputs(qname, item.Expr, items)
		if err != nil {
			return nil, nil, err
		}
		x, err := outScope.lower(rewritten)
		if err != nil {
			return nil, nil, err
		}
		orderBy = append(orderBy, processor.OrderSpec{Expr: x, Descending: item.Descending})
	}

	sel := processor.NewSelector(outputs, groupBy, having, orderBy, q.HasLimit, q.Limit, q.Offset, q.Distinct)
	return sel, outScope, nil
}

// rewriteOverOutputs replaces sub-expressions that textually match a
// SELECT item (aggregate calls in particular) with a reference to that
// item's output column, so HAVING/ORDER BY evaluate against the
// assembled row.
func rewriteOverOutputs(qname string, e ast.Expr, items []ast.SelectItem) (ast.Expr, error) {
	for i, item := range items {
		if exprEqual(e, item.Expr) {
			return &ast.VariableExpr{Name: aliasForRewrite(item, i)}, nil
		}
	}
	switch n := e.(type) {
	case *ast.BinaryExpr:
		l, err := rewriteOverOutputs(qname, n.Left, items)
		if err != nil {
			return nil, err
		}
		r, err := rewriteOverOutputs(qname, n.Right, items)
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Pos: n.Pos, Op: n.Op, Left: l, Right: r}, nil
	case *ast.UnaryExpr:
		op, err := rewriteOverOutputs(qname, n.Operand, items)
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Pos: n.Pos, Op: n.Op, Operand: op}, nil
	case *ast.FuncCallExpr:
		if _, _, _, _, isAgg := aggregateCallOf(n); isAgg {
			return nil, ferror.NewCompileError(qname, n.Pos.Line, n.Pos.Col,
				fmt.Sprintf("aggregate %q in HAVING/ORDER BY must also appear in the SELECT list", n.Name))
		}
		args := make([]ast.Expr, len(n.Args))
		for i, a := range n.Args {
			ra, err := rewriteOverOutputs(qname, a, items)
			if err != nil {
				return nil, err
			}
			args[i] = ra
		}
		return &ast.FuncCallExpr{Pos: n.Pos, Name: n.Name, Args: args}, nil
	default:
		return e, nil
	}
}

func aliasForRewrite(item ast.SelectItem, idx int) string {
	return aliasFor(item, idx)
}

// exprEqual reports structural equality of two expression trees, the
// match rule behind HAVING/ORDER BY aggregate rewriting.
func exprEqual(a, b ast.Expr) bool {
	switch an := a.(type) {
	case *ast.ConstantExpr:
		bn, ok := b.(*ast.ConstantExpr)
		return ok && value.Equals(an.Value, bn.Value) && an.Value.IsNull() == bn.Value.IsNull()
	case *ast.VariableExpr:
		bn, ok := b.(*ast.VariableExpr)
		return ok && an.Stream == bn.Stream && an.Name == bn.Name
	case *ast.BinaryExpr:
		bn, ok := b.(*ast.BinaryExpr)
		return ok && an.Op == bn.Op && exprEqual(an.Left, bn.Left) && exprEqual(an.Right, bn.Right)
	case *ast.UnaryExpr:
		bn, ok := b.(*ast.UnaryExpr)
		return ok && an.Op == bn.Op && exprEqual(an.Operand, bn.Operand)
	case *ast.FuncCallExpr:
		bn, ok := b.(*ast.FuncCallExpr)
		if !ok || an.Name != bn.Name || an.Distinct != bn.Distinct || len(an.Args) != len(bn.Args) {
			return false
		}
		for i := range an.Args {
			if !exprEqual(an.Args[i], bn.Args[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// --- sinks -------------------------------------------------------------------

// buildSink resolves the INSERT INTO clause: a table write, a defined
// window's input, an existing stream, or an auto-defined output stream
// whose schema is the selector's output row.
func (c *compiler) buildSink(q *ast.Query, qname string, outScope *scope) (processor.Processor, error) {
	target := q.Insert

	var terminal processor.Processor
	switch {
	case target.Mode == ast.InsertFault:
		if _, ok := c.src.Streams[target.Stream]; !ok {
			return nil, ferror.NewCompileError(qname, q.Pos.Line, q.Pos.Col,
				fmt.Sprintf("fault target stream %q is not defined", target.Stream))
		}
		terminal = processor.NewInsertIntoStream(c.app.FaultJunction(target.Stream))

	case c.tables[target.Stream] != nil:
		td := c.src.Tables[target.Stream]
		pk, err := c.pkIndexes(td)
		if err != nil {
			return nil, err
		}
		// A declared primary key upgrades inserts to upserts so repeated
		// keys replace rather than duplicate.
		terminal = processor.NewInsertIntoTable(c.tables[target.Stream], pk, len(td.PrimaryKey) > 0)

	case c.src.Windows[target.Stream] != nil:
		j, _ := c.app.Junction(target.Stream)
		terminal = processor.NewInsertIntoStream(j)

	default:
		j, ok := c.app.Junction(target.Stream)
		if !ok {
			// Auto-define the output stream with the selector's schema.
			var err error
			j, err = c.app.AddStream(target.Stream, schemaOf(outScope.streams[0].attrs), junction.DefaultConfig())
			if err != nil {
				return nil, ferror.NewCompileError(qname, q.Pos.Line, q.Pos.Col, err.Error())
			}
		}
		terminal = processor.NewInsertIntoStream(j)
	}

	if f := eventTypeFilterFor(target.OutputEventType); f != nil {
		f.SetNext(terminal)
		return f, nil
	}
	return terminal, nil
}

// --- on-demand aggregation queries -------------------------------------------

func (c *compiler) compileAggregationQuery(q *ast.AggregationQuery, idx int) error {
	qname := fmt.Sprintf("on-demand-%d", idx+1)
	runner, ok := c.app.Aggregation(q.Aggregation)
	if !ok {
		return ferror.NewCompileError(qname, q.Pos.Line, q.Pos.Col,
			fmt.Sprintf("unknown aggregation %q", q.Aggregation))
	}
	schema := c.aggSchemas[q.Aggregation]
	sc := &scope{
		streams: []scopeStream{{id: q.Aggregation, attrs: schema}},
		tables:  c.tables,
		query:   qname,
	}

	var cond executor.Executor
	if q.On != nil {
		x, err := sc.lower(q.On)
		if err != nil {
			return err
		}
		if x.ReturnType() != value.BOOL {
			return ferror.NewCompileError(qname, q.Pos.Line, q.Pos.Col,
				fmt.Sprintf("on condition must be BOOL, have %s", x.ReturnType()))
		}
		cond = x
	}

	// Projection executors; an empty select list passes rows through.
	var projections []executor.Executor
	outAttrs := schema
	if len(q.Select) > 0 {
		outAttrs = nil
		for i, item := range q.Select {
			x, err := sc.lower(item.Expr)
			if err != nil {
				return err
			}
			projections = append(projections, x)
			outAttrs = append(outAttrs, ast.AttributeDef{Name: aliasFor(item, i), Type: x.ReturnType()})
		}
	}

	targetJ, ok := c.app.Junction(q.Insert.Stream)
	if !ok {
		var err error
		targetJ, err = c.app.AddStream(q.Insert.Stream, schemaOf(outAttrs), junction.DefaultConfig())
		if err != nil {
			return ferror.NewCompileError(qname, q.Pos.Line, q.Pos.Col, err.Error())
		}
	}

	gran := aggregation.Granularity(q.Per)
	run := func() ([]table.Row, error) {
		var condFn func(table.Row) bool
		if cond != nil {
			condFn = func(row table.Row) bool {
				e := event.NewStreamEvent(row[0].AsLong(), q.Aggregation, row)
				res := cond.Execute(e)
				return res.Type() == value.BOOL && !res.IsNull() && res.AsBool()
			}
		}
		rows, err := runner.Query(gran, q.HasWithin, q.WithinStart, q.WithinEnd, condFn)
		if err != nil {
			return nil, err
		}
		out := make([]table.Row, 0, len(rows))
		var b event.ChunkBuilder
		for _, row := range rows {
			projected := row
			if len(projections) > 0 {
				e := event.NewStreamEvent(row[0].AsLong(), q.Aggregation, row)
				projected = make(table.Row, len(projections))
				for i, p := range projections {
					projected[i] = p.Execute(e)
				}
			}
			out = append(out, projected)
			oe := event.NewStreamEvent(row[0].AsLong(), q.Insert.Stream, projected)
			oe.SetOutputData(projected)
			b.Append(oe)
		}
		if b.Chunk() != nil {
			if err := targetJ.Publish(b.Chunk()); err != nil {
				return out, err
			}
		}
		return out, nil
	}

	return c.app.RegisterOnDemandQuery(runtime.OnDemandQuery{Name: qname, Run: run})
}
