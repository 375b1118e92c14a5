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

// Package compiler lowers a parsed query application (query/ast) into a
// running dataflow (runtime.App): it resolves every identifier, type
// checks every expression against the numeric promotion rules, lowers
// expressions into executor trees, and wires each query into a chain of
// processors subscribed to its input junctions. All failures are
// *ferror.CompileError values carrying the query name and source
// position.
package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eventflux-io/eventflux/aggregation"
	"github.com/eventflux-io/eventflux/event"
	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/junction"
	"github.com/eventflux-io/eventflux/log"
	"github.com/eventflux-io/eventflux/query/ast"
	"github.com/eventflux-io/eventflux/runtime"
	"github.com/eventflux-io/eventflux/table"
	"github.com/eventflux-io/eventflux/value"
)

// windowOutSuffix names the internal junction carrying a defined window's
// output events, read by queries whose FROM names the window.
const windowOutSuffix = "#window"

// Options tunes compilation defaults that the configuration layer (or an
// embedder) supplies.
type Options struct {
	Logger log.Logger
	// AsyncByDefault switches every stream junction to asynchronous
	// dispatch unless its own annotations say otherwise.
	AsyncByDefault bool
	// BufferSize and Workers size async junctions that do not configure
	// their own.
	BufferSize int
	Workers    int
	// StreamOverrides applies configuration-file dispatch settings per
	// stream, layered over the app's own annotations.
	StreamOverrides map[string]StreamOverride
}

// StreamOverride is one stream's configuration-file dispatch override.
type StreamOverride struct {
	Async      bool
	BufferSize int
	Workers    int
	// Backpressure names the queue-full policy: drop, block, store,
	// exception; empty keeps the default.
	Backpressure string
}

type compiler struct {
	src  *ast.App
	opts Options
	app  *runtime.App

	// tables by definition id, for IN lookups and insert-into-table.
	tables map[string]table.Table
	// aggSchemas records each aggregation's output-table column layout
	// for on-demand queries.
	aggSchemas map[string][]ast.AttributeDef
	// seq numbers anonymous components (windows, joins, patterns).
	seq int
}

// Compile lowers src into a ready-to-start runtime.App.
func Compile(src *ast.App, opts Options) (*runtime.App, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	name := src.Name
	if name == "" {
		name = annString(src.Annotations, "app", "name")
	}
	if name == "" {
		name = "EventFluxApp"
	}
	c := &compiler{
		src:        src,
		opts:       opts,
		app:        runtime.NewApp(name, opts.Logger),
		tables:     make(map[string]table.Table),
		aggSchemas: make(map[string][]ast.AttributeDef),
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c.app, nil
}

func (c *compiler) compile() error {
	for _, id := range c.src.StreamOrder {
		if err := c.compileStream(c.src.Streams[id]); err != nil {
			return err
		}
	}
	for _, id := range c.src.TableOrder {
		if err := c.compileTable(c.src.Tables[id]); err != nil {
			return err
		}
	}
	for _, id := range c.src.WindowOrder {
		if err := c.compileWindowDef(c.src.Windows[id]); err != nil {
			return err
		}
	}
	for _, id := range c.src.AggregationOrder {
		if err := c.compileAggregation(c.src.Aggregations[id]); err != nil {
			return err
		}
	}
	for _, id := range c.src.TriggerOrder {
		if err := c.compileTrigger(c.src.Triggers[id]); err != nil {
			return err
		}
	}
	for i, q := range c.src.Queries {
		if err := c.compileQuery(q, i); err != nil {
			return err
		}
	}
	for i, q := range c.src.AggregationQueries {
		if err := c.compileAggregationQuery(q, i); err != nil {
			return err
		}
	}
	return nil
}

// --- annotations -------------------------------------------------------------

// annLookup finds an annotation by name, case-insensitively.
func annLookup(anns ast.Annotations, name string) ([]ast.AnnotationArg, bool) {
	for k, args := range anns {
		if strings.EqualFold(k, name) {
			return args, true
		}
	}
	return nil, false
}

// annArg finds a key=value argument inside an annotation's args.
func annArg(args []ast.AnnotationArg, key string) (string, bool) {
	for _, a := range args {
		if strings.EqualFold(a.Key, key) {
			return a.Value, true
		}
	}
	return "", false
}

// annString is annLookup+annArg with "" fallbacks.
func annString(anns ast.Annotations, name, key string) string {
	if args, ok := annLookup(anns, name); ok {
		if v, ok := annArg(args, key); ok {
			return v
		}
	}
	return ""
}

func annBool(anns ast.Annotations, name, key string) bool {
	v := annString(anns, name, key)
	return strings.EqualFold(v, "true")
}

func annInt(args []ast.AnnotationArg, key string, fallback int) int {
	if v, ok := annArg(args, key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// --- streams -----------------------------------------------------------------

func schemaOf(attrs []ast.AttributeDef) []value.Type {
	schema := make([]value.Type, len(attrs))
	for i, a := range attrs {
		schema[i] = a.Type
	}
	return schema
}

// junctionConfig resolves a stream's dispatch configuration: synchronous
// by default; @Async(...) or @config(async='true') on the stream,
// @app(async='true') / the runtime configuration for every stream, or a
// configuration-file stream override, select asynchronous mode. Async is
// never chosen silently: one of those explicit switches must be present.
func (c *compiler) junctionConfig(id string, anns ast.Annotations) junction.Config {
	cfg := junction.DefaultConfig()
	async := c.opts.AsyncByDefault ||
		annBool(c.src.Annotations, "app", "async") ||
		annBool(anns, "config", "async")
	buffer, workers := c.opts.BufferSize, c.opts.Workers
	policy := ""

	if args, ok := annLookup(anns, "Async"); ok {
		async = true
		buffer = annInt(args, "buffer_size", buffer)
		workers = annInt(args, "workers", workers)
		policy = annStringArg(args, "policy")
	}
	if ov, ok := c.opts.StreamOverrides[id]; ok {
		if ov.Async {
			async = true
		}
		if ov.BufferSize > 0 {
			buffer = ov.BufferSize
		}
		if ov.Workers > 0 {
			workers = ov.Workers
		}
		if ov.Backpressure != "" {
			policy = ov.Backpressure
		}
	}
	if async {
		cfg.Mode = junction.Async
		cfg.BufferSize = buffer
		cfg.WorkerCount = workers
	}
	switch strings.ToLower(policy) {
	case "block":
		cfg.Policy = junction.Block
	case "store":
		cfg.Policy = junction.Store
	case "exception":
		cfg.Policy = junction.Exception
	}
	return cfg
}

func annStringArg(args []ast.AnnotationArg, key string) string {
	v, _ := annArg(args, key)
	return v
}

func (c *compiler) compileStream(sd *ast.StreamDef) error {
	if _, err := c.app.AddStream(sd.ID, schemaOf(sd.Attributes), c.junctionConfig(sd.ID, sd.Annotations)); err != nil {
		return ferror.NewCompileError(sd.ID, sd.Pos.Line, sd.Pos.Col, err.Error())
	}
	if args, ok := annLookup(sd.Annotations, "OnError"); ok {
		action := runtime.ErrorLog
		switch strings.ToLower(annStringArg(args, "action")) {
		case "stream":
			action = runtime.ErrorStream
		case "store":
			action = runtime.ErrorStore
		case "drop":
			action = runtime.ErrorDrop
		}
		if err := c.app.SetOnError(sd.ID, action); err != nil {
			return ferror.NewCompileError(sd.ID, sd.Pos.Line, sd.Pos.Col, err.Error())
		}
	}
	if args, ok := annLookup(sd.Annotations, "sink"); ok {
		props := make(map[string]string, len(args))
		for _, a := range args {
			props[strings.ToLower(a.Key)] = a.Value
		}
		s, err := runtime.NewSink(sd.ID, props, c.opts.Logger)
		if err != nil {
			return ferror.NewCompileError(sd.ID, sd.Pos.Line, sd.Pos.Col, err.Error())
		}
		if err := c.app.AttachSink(sd.ID, s); err != nil {
			return ferror.NewCompileError(sd.ID, sd.Pos.Line, sd.Pos.Col, err.Error())
		}
	}
	return nil
}

// --- tables ------------------------------------------------------------------

func (c *compiler) pkIndexes(td *ast.TableDef) ([]int, error) {
	if len(td.PrimaryKey) == 0 {
		// No declared key: the first column serves as the row key.
		return []int{0}, nil
	}
	idx := make([]int, 0, len(td.PrimaryKey))
	for _, name := range td.PrimaryKey {
		found := -1
		for i, a := range td.Attributes {
			if a.Name == name {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, ferror.NewCompileError(td.ID, td.Pos.Line, td.Pos.Col,
				fmt.Sprintf("primary key column %q is not an attribute of table %q", name, td.ID))
		}
		idx = append(idx, found)
	}
	return idx, nil
}

func (c *compiler) compileTable(td *ast.TableDef) error {
	pk, err := c.pkIndexes(td)
	if err != nil {
		return err
	}
	var t table.Table
	storeArgs, _ := annLookup(td.Annotations, "store")
	switch strings.ToLower(annStringArg(storeArgs, "type")) {
	case "", "memory":
		t = table.NewMemory(pk)
	case "cache":
		ttl := time.Duration(annInt(storeArgs, "ttl_seconds", 300)) * time.Second
		maxSize := annInt(storeArgs, "max_size", 0)
		_ = maxSize // retained rows are bounded by TTL eviction
		t = table.NewCached(table.NewMemory(pk), pk, ttl, ttl/2)
	case "sqlite":
		path := annStringArg(storeArgs, "path")
		if path == "" {
			return ferror.NewCompileError(td.ID, td.Pos.Line, td.Pos.Col,
				"sqlite table store requires a path annotation argument")
		}
		st, err := table.OpenSQLite(path, td.ID, schemaOf(td.Attributes), pk)
		if err != nil {
			return ferror.NewCompileError(td.ID, td.Pos.Line, td.Pos.Col, err.Error())
		}
		t = st
	default:
		return ferror.NewCompileError(td.ID, td.Pos.Line, td.Pos.Col,
			fmt.Sprintf("unknown table store type %q", annStringArg(storeArgs, "type")))
	}
	if err := c.app.RegisterTable(td.ID, t); err != nil {
		return ferror.NewCompileError(td.ID, td.Pos.Line, td.Pos.Col, err.Error())
	}
	c.tables[td.ID] = t
	return nil
}

// --- triggers ----------------------------------------------------------------

var triggerSchema = []ast.AttributeDef{{Name: "triggered_time", Type: value.LONG}}

var timeUnitMillis = map[string]int64{
	"ms": 1, "millisecond": 1, "milliseconds": 1,
	"sec": 1000, "second": 1000, "seconds": 1000,
	"min": 60_000, "minute": 60_000, "minutes": 60_000,
	"hour": 3_600_000, "hours": 3_600_000,
	"day": 86_400_000, "days": 86_400_000,
	"week": 604_800_000, "weeks": 604_800_000,
}

func parseTimeLiteral(text string) (time.Duration, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return 0, fmt.Errorf("bad time literal %q", text)
	}
	n, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad time literal %q", text)
	}
	unit, ok := timeUnitMillis[strings.ToLower(fields[1])]
	if !ok {
		return 0, fmt.Errorf("unknown time unit %q", fields[1])
	}
	return time.Duration(n*unit) * time.Millisecond, nil
}

func (c *compiler) compileTrigger(td *ast.TriggerDef) error {
	j, err := c.app.AddStream(td.ID, schemaOf(triggerSchema), junction.DefaultConfig())
	if err != nil {
		return ferror.NewCompileError(td.ID, td.Pos.Line, td.Pos.Col, err.Error())
	}
	fire := func(now int64) {
		e := event.NewStreamEvent(now, td.ID, []value.Value{value.NewLong(now)})
		e.SetEventType(event.TIMER)
		_ = j.Publish(e)
	}

	at := strings.TrimSpace(td.At)
	sched := c.app.Scheduler()
	switch {
	case strings.EqualFold(at, "start"):
		err = sched.ScheduleAtStart("trigger:"+td.ID, fire)
	case strings.HasPrefix(strings.ToLower(at), "every "):
		d, perr := parseTimeLiteral(at[len("every "):])
		if perr != nil {
			return ferror.NewCompileError(td.ID, td.Pos.Line, td.Pos.Col, perr.Error())
		}
		err = sched.ScheduleEvery("trigger:"+td.ID, d, fire)
	default:
		err = sched.ScheduleCron("trigger:"+td.ID, at, fire)
	}
	if err != nil {
		return ferror.NewCompileError(td.ID, td.Pos.Line, td.Pos.Col, err.Error())
	}
	return nil
}

// --- aggregations ------------------------------------------------------------

func (c *compiler) compileAggregation(ad *ast.AggregationDef) error {
	sd, ok := c.src.Streams[ad.From]
	if !ok {
		return ferror.NewCompileError(ad.ID, ad.Pos.Line, ad.Pos.Col,
			fmt.Sprintf("aggregation input stream %q is not defined", ad.From))
	}
	sc := &scope{
		streams: []scopeStream{{id: sd.ID, attrs: sd.Attributes}},
		tables:  c.tables,
		query:   ad.ID,
	}

	cfg := aggregation.Config{}
	for _, g := range ad.Granularities {
		cfg.Granularities = append(cfg.Granularities, aggregation.Granularity(g))
	}
	for _, gb := range ad.GroupBy {
		x, err := sc.lower(gb)
		if err != nil {
			return err
		}
		cfg.GroupBy = append(cfg.GroupBy, x)
	}

	schema := []ast.AttributeDef{{Name: "AGG_TIMESTAMP", Type: value.LONG}}
	var aggCols []ast.AttributeDef
	for i, item := range ad.Select {
		if name, argE, _, factory, isAgg := aggregateCallOf(item.Expr); isAgg {
			arg, err := sc.lower(argE)
			if err != nil {
				return err
			}
			cfg.Calls = append(cfg.Calls, aggregation.AggregateCall{Name: name, Arg: arg, Factory: factory})
			aggCols = append(aggCols, ast.AttributeDef{
				Name: aliasFor(item, i),
				Type: resultTypeOfAggregate(name, arg.ReturnType()),
			})
			continue
		}
		// Non-aggregate select items must be group-key expressions; they
		// surface as the key columns of the output table.
		x, err := sc.lower(item.Expr)
		if err != nil {
			return err
		}
		schema = append(schema, ast.AttributeDef{Name: aliasFor(item, i), Type: x.ReturnType()})
	}
	if len(schema)-1 != len(cfg.GroupBy) {
		return ferror.NewCompileError(ad.ID, ad.Pos.Line, ad.Pos.Col,
			fmt.Sprintf("aggregation select list must contain one expression per group by key (have %d keys, %d non-aggregate columns)",
				len(cfg.GroupBy), len(schema)-1))
	}
	schema = append(schema, aggCols...)

	runner := aggregation.NewRunner(c.app.Name()+"."+ad.ID, cfg)
	if err := c.app.AddAggregation(ad.ID, runner); err != nil {
		return ferror.NewCompileError(ad.ID, ad.Pos.Line, ad.Pos.Col, err.Error())
	}
	c.aggSchemas[ad.ID] = schema

	j, _ := c.app.Junction(ad.From)
	j.Subscribe(junction.SubscriberFunc(func(chunk event.Chunk) {
		runner.Process(cloneChunk(chunk))
	}))
	return nil
}

func aliasFor(item ast.SelectItem, idx int) string {
	if item.Alias != "" {
		return item.Alias
	}
	if v, ok := item.Expr.(*ast.VariableExpr); ok {
		return v.Name
	}
	return fmt.Sprintf("col%d", idx)
}

// cloneChunk copies a dispatched chunk so each subscribed query owns its
// nodes; junctions hand the same chunk to every subscriber, and
// processors detach nodes while working.
func cloneChunk(chunk event.Chunk) event.Chunk {
	var b event.ChunkBuilder
	event.ForEach(chunk, func(e event.ComplexEvent) {
		switch ce := e.(type) {
		case *event.StreamEvent:
			b.Append(ce.Clone())
		case *event.StateEvent:
			b.Append(ce.Clone())
		}
	})
	return b.Chunk()
}
