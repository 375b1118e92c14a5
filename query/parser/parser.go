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

// Package parser implements a recursive-descent parser over query/lexer's
// token stream, producing a query/ast.App. A two-token-lookahead cursor
// drives statement dispatch; expressions parse by precedence climbing.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eventflux-io/eventflux/ferror"
	"github.com/eventflux-io/eventflux/query/ast"
	"github.com/eventflux-io/eventflux/query/lexer"
	"github.com/eventflux-io/eventflux/value"
)

type parser struct {
	toks []lexer.Token
	pos  int
}

// Parse tokenizes and parses a complete EventFlux application source
// string into an *ast.App. Definitions may appear in any
// order relative to queries that reference them; identifier resolution
// happens later, in the compiler.
func Parse(src string) (*ast.App, error) {
	p := &parser{toks: lexer.All(src)}
	app := ast.NewApp()

	for !p.atEOF() {
		anns, err := p.parseAnnotations()
		if err != nil {
			return nil, err
		}
		switch {
		case p.atKeyword("DEFINE"):
			if err := p.parseDefine(app, anns); err != nil {
				return nil, err
			}
		case p.atKeyword("FROM"):
			if err := p.parseFromTop(app, anns); err != nil {
				return nil, err
			}
		case p.atEOF():
			// trailing annotations with nothing after them
		default:
			return nil, p.errHere("", "expected DEFINE or FROM")
		}
		p.consumeOptional(lexer.SEMI)
	}
	return app, nil
}

// --- token cursor helpers -------------------------------------------------

func (p *parser) cur() lexer.Token {
	if p.pos >= len(p.toks) {
		return lexer.Token{Kind: lexer.EOF}
	}
	return p.toks[p.pos]
}

func (p *parser) peekAt(n int) lexer.Token {
	idx := p.pos + n
	if idx >= len(p.toks) {
		return lexer.Token{Kind: lexer.EOF}
	}
	return p.toks[idx]
}

func (p *parser) atEOF() bool { return p.cur().Kind == lexer.EOF }

func (p *parser) at(k lexer.Kind) bool { return p.cur().Kind == k }

func (p *parser) atKeyword(kw string) bool {
	t := p.cur()
	return t.Kind == lexer.KEYWORD && t.Text == kw
}

func (p *parser) peekKeyword(n int, kw string) bool {
	t := p.peekAt(n)
	return t.Kind == lexer.KEYWORD && t.Text == kw
}

func (p *parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) consumeOptional(k lexer.Kind) bool {
	if p.at(k) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(k lexer.Kind, what string) (lexer.Token, error) {
	if !p.at(k) {
		return lexer.Token{}, p.errHere("", fmt.Sprintf("expected %s, got %q", what, p.cur().Text))
	}
	return p.advance(), nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.atKeyword(kw) {
		return p.errHere("", fmt.Sprintf("expected keyword %s, got %q", kw, p.cur().Text))
	}
	p.advance()
	return nil
}

func (p *parser) identText() (string, error) {
	t := p.cur()
	if t.Kind != lexer.IDENT {
		return "", p.errHere("", fmt.Sprintf("expected identifier, got %q", t.Text))
	}
	p.advance()
	return t.Text, nil
}

func (p *parser) errHere(query, msg string) error {
	t := p.cur()
	return ferror.NewCompileError(query, t.Line, t.Col, msg)
}

// --- annotations -----------------------------------------------------------

func (p *parser) parseAnnotations() (ast.Annotations, error) {
	var anns ast.Annotations
	for p.at(lexer.AT) {
		p.advance()
		name, err := p.annotationName()
		if err != nil {
			return nil, err
		}
		var args []ast.AnnotationArg
		if p.consumeOptional(lexer.LPAREN) {
			for !p.at(lexer.RPAREN) {
				arg, err := p.parseAnnotationArg()
				if err != nil {
					return nil, err
				}
				args = append(args, arg)
				if !p.consumeOptional(lexer.COMMA) {
					break
				}
			}
			if _, err := p.expect(lexer.RPAREN, ")"); err != nil {
				return nil, err
			}
		}
		if anns == nil {
			anns = ast.Annotations{}
		}
		anns[name] = args
	}
	return anns, nil
}

// annotationName accepts `@app`, `@Async`, and the qualified `@app:name`
// form, joining the qualifier with ':'.
func (p *parser) annotationName() (string, error) {
	name, err := p.identText()
	if err != nil {
		return "", err
	}
	if p.consumeOptional(lexer.COLON) {
		sub, err := p.identText()
		if err != nil {
			return "", err
		}
		name = name + ":" + sub
	}
	return name, nil
}

func (p *parser) parseAnnotationArg() (ast.AnnotationArg, error) {
	key, err := p.identText()
	if err != nil {
		return ast.AnnotationArg{}, err
	}
	if p.at(lexer.EQ) || p.at(lexer.ASSIGN) {
		p.advance()
		val, err := p.annotationValueText()
		if err != nil {
			return ast.AnnotationArg{}, err
		}
		return ast.AnnotationArg{Key: key, Value: val}, nil
	}
	return ast.AnnotationArg{Value: key}, nil
}

func (p *parser) annotationValueText() (string, error) {
	t := p.cur()
	switch t.Kind {
	case lexer.STRING, lexer.NUMBER, lexer.IDENT:
		p.advance()
		return t.Text, nil
	case lexer.KEYWORD:
		p.advance()
		return t.Text, nil
	default:
		return "", p.errHere("", "expected annotation value")
	}
}

// --- define statements -------------------------------------------------------

func (p *parser) parseDefine(app *ast.App, anns ast.Annotations) error {
	pos := p.posHere()
	if err := p.expectKeyword("DEFINE"); err != nil {
		return err
	}
	switch {
	case p.atKeyword("STREAM"):
		return p.parseDefineStream(app, anns, pos)
	case p.atKeyword("TABLE"):
		return p.parseDefineTable(app, anns, pos)
	case p.atKeyword("WINDOW"):
		return p.parseDefineWindow(app, anns, pos)
	case p.atKeyword("AGGREGATION"):
		return p.parseDefineAggregation(app, anns, pos)
	case p.atKeyword("TRIGGER"):
		return p.parseDefineTrigger(app, anns, pos)
	default:
		return p.errHere("", "expected STREAM, TABLE, WINDOW, AGGREGATION or TRIGGER after DEFINE")
	}
}

func (p *parser) posHere() ast.Pos {
	t := p.cur()
	return ast.Pos{Line: t.Line, Col: t.Col}
}

func (p *parser) parseAttrList() ([]ast.AttributeDef, error) {
	if _, err := p.expect(lexer.LPAREN, "("); err != nil {
		return nil, err
	}
	var attrs []ast.AttributeDef
	for !p.at(lexer.RPAREN) {
		name, err := p.identText()
		if err != nil {
			return nil, err
		}
		typeName, err := p.identText()
		if err != nil {
			return nil, err
		}
		t, err := parseTypeName(typeName)
		if err != nil {
			return nil, p.errHere("", err.Error())
		}
		attrs = append(attrs, ast.AttributeDef{Name: name, Type: t})
		if !p.consumeOptional(lexer.COMMA) {
			break
		}
	}
	if _, err := p.expect(lexer.RPAREN, ")"); err != nil {
		return nil, err
	}
	return attrs, nil
}

func parseTypeName(name string) (value.Type, error) {
	switch strings.ToUpper(name) {
	case "STRING":
		return value.STRING, nil
	case "INT":
		return value.INT, nil
	case "LONG":
		return value.LONG, nil
	case "FLOAT":
		return value.FLOAT, nil
	case "DOUBLE":
		return value.DOUBLE, nil
	case "BOOL", "BOOLEAN":
		return value.BOOL, nil
	case "OBJECT":
		return value.OBJECT, nil
	default:
		return 0, fmt.Errorf("unknown attribute type %q", name)
	}
}

func (p *parser) parseDefineStream(app *ast.App, anns ast.Annotations, pos ast.Pos) error {
	p.advance() // STREAM
	id, err := p.identText()
	if err != nil {
		return err
	}
	attrs, err := p.parseAttrList()
	if err != nil {
		return err
	}
	if _, exists := app.Streams[id]; exists {
		return ferror.NewCompileError(id, pos.Line, pos.Col, fmt.Sprintf("duplicate stream definition %q", id))
	}
	app.Streams[id] = &ast.StreamDef{Pos: pos, ID: id, Attributes: attrs, Annotations: anns}
	app.StreamOrder = append(app.StreamOrder, id)
	return nil
}

func (p *parser) parseDefineTable(app *ast.App, anns ast.Annotations, pos ast.Pos) error {
	p.advance() // TABLE
	id, err := p.identText()
	if err != nil {
		return err
	}
	attrs, err := p.parseAttrList()
	if err != nil {
		return err
	}
	var pk []string
	if vals, ok := anns["PrimaryKey"]; ok {
		for _, a := range vals {
			pk = append(pk, a.Value)
		}
	}
	if _, exists := app.Tables[id]; exists {
		return ferror.NewCompileError(id, pos.Line, pos.Col, fmt.Sprintf("duplicate table definition %q", id))
	}
	app.Tables[id] = &ast.TableDef{Pos: pos, ID: id, Attributes: attrs, PrimaryKey: pk, Annotations: anns}
	app.TableOrder = append(app.TableOrder, id)
	return nil
}

func (p *parser) parseDefineWindow(app *ast.App, anns ast.Annotations, pos ast.Pos) error {
	p.advance() // WINDOW
	id, err := p.identText()
	if err != nil {
		return err
	}
	attrs, err := p.parseAttrList()
	if err != nil {
		return err
	}
	handlerName, err := p.identText()
	if err != nil {
		return err
	}
	if _, err := p.expect(lexer.LPAREN, "("); err != nil {
		return err
	}
	args, err := p.parseExprList(lexer.RPAREN)
	if err != nil {
		return err
	}
	if _, err := p.expect(lexer.RPAREN, ")"); err != nil {
		return err
	}
	outputType := ast.OutputAll
	if p.atKeyword("OUTPUT") {
		p.advance()
		switch {
		case p.atKeyword("ALL"):
			p.advance()
			outputType = ast.OutputAll
		case p.atKeyword("CURRENT"):
			p.advance()
			outputType = ast.OutputCurrentEvents
		case p.atKeyword("EXPIRED"):
			p.advance()
			outputType = ast.OutputExpiredEvents
		default:
			return p.errHere(id, "expected ALL, CURRENT or EXPIRED after OUTPUT")
		}
		if p.atKeyword("EVENTS") {
			p.advance()
		}
	}
	if _, exists := app.Windows[id]; exists {
		return ferror.NewCompileError(id, pos.Line, pos.Col, fmt.Sprintf("duplicate window definition %q", id))
	}
	app.Windows[id] = &ast.WindowDef{
		Pos: pos, ID: id, Attributes: attrs,
		Handler:         ast.HandlerInvocation{Name: handlerName, Args: args},
		OutputEventType: outputType,
		Annotations:     anns,
	}
	app.WindowOrder = append(app.WindowOrder, id)
	return nil
}

func (p *parser) parseDefineAggregation(app *ast.App, anns ast.Annotations, pos ast.Pos) error {
	p.advance() // AGGREGATION
	id, err := p.identText()
	if err != nil {
		return err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return err
	}
	from, err := p.identText()
	if err != nil {
		return err
	}
	if err := p.expectKeyword("SELECT"); err != nil {
		return err
	}
	sel, err := p.parseSelectList()
	if err != nil {
		return err
	}
	var groupBy []ast.Expr
	if p.atKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		groupBy, err = p.parseExprListUntilKeyword("AGGREGATE")
		if err != nil {
			return err
		}
	}
	if err := p.expectKeyword("AGGREGATE"); err != nil {
		return err
	}
	if err := p.expectKeyword("EVERY"); err != nil {
		return err
	}
	var grans []ast.Granularity
	for {
		name, err := p.identText()
		if err != nil {
			return err
		}
		g, err := parseGranularity(name)
		if err != nil {
			return p.errHere(id, err.Error())
		}
		grans = append(grans, g)
		if !p.consumeOptional(lexer.COMMA) {
			break
		}
	}
	if _, exists := app.Aggregations[id]; exists {
		return ferror.NewCompileError(id, pos.Line, pos.Col, fmt.Sprintf("duplicate aggregation definition %q", id))
	}
	app.Aggregations[id] = &ast.AggregationDef{
		Pos: pos, ID: id, From: from, GroupBy: groupBy, Select: sel,
		Granularities: grans, Annotations: anns,
	}
	app.AggregationOrder = append(app.AggregationOrder, id)
	return nil
}

func parseGranularity(name string) (ast.Granularity, error) {
	switch strings.ToLower(strings.TrimSuffix(name, "s")) {
	case "second":
		return ast.Seconds, nil
	case "minute":
		return ast.Minutes, nil
	case "hour":
		return ast.Hours, nil
	case "day":
		return ast.Days, nil
	case "month":
		return ast.Months, nil
	case "year":
		return ast.Years, nil
	default:
		return 0, fmt.Errorf("unknown granularity %q", name)
	}
}

func (p *parser) parseDefineTrigger(app *ast.App, anns ast.Annotations, pos ast.Pos) error {
	p.advance() // TRIGGER
	id, err := p.identText()
	if err != nil {
		return err
	}
	if err := p.expectKeyword("AT"); err != nil {
		return err
	}
	t := p.cur()
	if t.Kind != lexer.STRING && t.Kind != lexer.IDENT {
		return p.errHere(id, "expected trigger schedule after AT")
	}
	p.advance()
	if _, exists := app.Triggers[id]; exists {
		return ferror.NewCompileError(id, pos.Line, pos.Col, fmt.Sprintf("duplicate trigger definition %q", id))
	}
	app.Triggers[id] = &ast.TriggerDef{Pos: pos, ID: id, At: t.Text}
	app.TriggerOrder = append(app.TriggerOrder, id)
	return nil
}

// --- expression lists --------------------------------------------------------

func (p *parser) parseExprList(stop lexer.Kind) ([]ast.Expr, error) {
	var exprs []ast.Expr
	for !p.at(stop) {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if !p.consumeOptional(lexer.COMMA) {
			break
		}
	}
	return exprs, nil
}

func (p *parser) parseExprListUntilKeyword(stop string) ([]ast.Expr, error) {
	var exprs []ast.Expr
	for !p.atKeyword(stop) && !p.atEOF() {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if !p.consumeOptional(lexer.COMMA) {
			break
		}
	}
	return exprs, nil
}

// parseCommaExprs parses a plain comma-separated expression list with no
// terminator lookahead; the caller's grammar position (the next keyword or
// EOF) naturally ends it once no COMMA follows.
func (p *parser) parseCommaExprs() ([]ast.Expr, error) {
	var exprs []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if !p.consumeOptional(lexer.COMMA) {
			return exprs, nil
		}
	}
}

// --- select list / order list -----------------------------------------------

func (p *parser) parseSelectList() ([]ast.SelectItem, error) {
	if p.at(lexer.STAR) {
		p.advance()
		return nil, nil // nil Select means project-all; the compiler projects every input attribute when Select is empty.
	}
	var items []ast.SelectItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		alias := ""
		if p.atKeyword("AS") {
			p.advance()
			alias, err = p.identText()
			if err != nil {
				return nil, err
			}
		} else if p.at(lexer.IDENT) {
			alias, err = p.identText()
			if err != nil {
				return nil, err
			}
		}
		items = append(items, ast.SelectItem{Expr: e, Alias: alias})
		if !p.consumeOptional(lexer.COMMA) {
			break
		}
	}
	return items, nil
}

func (p *parser) parseOrderList() ([]ast.OrderItem, error) {
	var items []ast.OrderItem
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		desc := false
		if p.atKeyword("ASC") {
			p.advance()
		} else if p.atKeyword("DESC") {
			p.advance()
			desc = true
		}
		items = append(items, ast.OrderItem{Expr: e, Descending: desc})
		if !p.consumeOptional(lexer.COMMA) {
			break
		}
	}
	return items, nil
}

// --- expressions (precedence climbing) --------------------------------------

func (p *parser) parseExpr() (ast.Expr, error) { return p.parseOr() }

func (p *parser) parseOr() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("OR") {
		pos := p.posHere()
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos, Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.atKeyword("AND") {
		pos := p.posHere()
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos, Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Expr, error) {
	if p.atKeyword("NOT") {
		pos := p.posHere()
		p.advance()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Pos: pos, Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

var compOps = map[lexer.Kind]string{
	lexer.EQ: "=", lexer.NEQ: "!=", lexer.LT: "<", lexer.LTE: "<=",
	lexer.GT: ">", lexer.GTE: ">=",
}

func (p *parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		if op, ok := compOps[p.cur().Kind]; ok {
			pos := p.posHere()
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &ast.BinaryExpr{Pos: pos, Op: op, Left: left, Right: right}
			continue
		}
		if p.atKeyword("IS") {
			pos := p.posHere()
			p.advance()
			negate := false
			if p.atKeyword("NOT") {
				p.advance()
				negate = true
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			left = &ast.IsNullExpr{Pos: pos, Operand: left, Negate: negate}
			continue
		}
		if p.atKeyword("IN") {
			pos := p.posHere()
			p.advance()
			table, err := p.identText()
			if err != nil {
				return nil, err
			}
			left = &ast.InExpr{Pos: pos, Operand: left, Table: table}
			continue
		}
		if p.atKeyword("NOT") && p.peekKeyword(1, "IN") {
			pos := p.posHere()
			p.advance()
			p.advance()
			table, err := p.identText()
			if err != nil {
				return nil, err
			}
			left = &ast.InExpr{Pos: pos, Operand: left, Table: table, Negate: true}
			continue
		}
		break
	}
	return left, nil
}

func (p *parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.at(lexer.PLUS) || p.at(lexer.MINUS) {
		op := p.cur().Text
		pos := p.posHere()
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.at(lexer.STAR) || p.at(lexer.SLASH) || p.at(lexer.PERCENT) {
		op := p.cur().Text
		pos := p.posHere()
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Pos: pos, Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.at(lexer.MINUS) {
		pos := p.posHere()
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Pos: pos, Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

// timeUnitMillis maps the time-literal suffixes used in window/trigger
// arguments (e.g. `5 sec`, `500 ms`) to a millisecond multiplier.
var timeUnitMillis = map[string]int64{
	"ms": 1, "millisecond": 1, "milliseconds": 1,
	"s": 1000, "sec": 1000, "secs": 1000, "second": 1000, "seconds": 1000,
	"min": 60000, "mins": 60000, "minute": 60000, "minutes": 60000,
	"hour": 3600000, "hours": 3600000,
	"day": 86400000, "days": 86400000,
	"week": 604800000, "weeks": 604800000,
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	t := p.cur()
	pos := p.posHere()
	switch t.Kind {
	case lexer.LPAREN:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.RPAREN, ")"); err != nil {
			return nil, err
		}
		return e, nil

	case lexer.STRING:
		p.advance()
		return &ast.ConstantExpr{Pos: pos, Value: value.NewString(t.Text)}, nil

	case lexer.NUMBER:
		p.advance()
		if unit, ok := p.timeUnitFollowing(); ok {
			n, err := strconv.ParseFloat(t.Text, 64)
			if err != nil {
				return nil, p.errHere("", fmt.Sprintf("invalid numeric literal %q", t.Text))
			}
			ms := int64(n * float64(timeUnitMillis[unit]))
			return &ast.ConstantExpr{Pos: pos, Value: value.NewLong(ms)}, nil
		}
		if strings.Contains(t.Text, ".") {
			f, err := strconv.ParseFloat(t.Text, 64)
			if err != nil {
				return nil, p.errHere("", fmt.Sprintf("invalid numeric literal %q", t.Text))
			}
			return &ast.ConstantExpr{Pos: pos, Value: value.NewDouble(f)}, nil
		}
		n, err := strconv.ParseInt(t.Text, 10, 64)
		if err != nil {
			return nil, p.errHere("", fmt.Sprintf("invalid integer literal %q", t.Text))
		}
		return &ast.ConstantExpr{Pos: pos, Value: value.NewLong(n)}, nil

	case lexer.KEYWORD:
		switch t.Text {
		case "TRUE":
			p.advance()
			return &ast.ConstantExpr{Pos: pos, Value: value.NewBool(true)}, nil
		case "FALSE":
			p.advance()
			return &ast.ConstantExpr{Pos: pos, Value: value.NewBool(false)}, nil
		case "NULL":
			p.advance()
			return &ast.ConstantExpr{Pos: pos, Value: value.Null(value.OBJECT)}, nil
		}
		return nil, p.errHere("", fmt.Sprintf("unexpected keyword %q in expression", t.Text))

	case lexer.IDENT:
		p.advance()
		name := t.Text
		if p.at(lexer.DOT) {
			p.advance()
			attr, err := p.identText()
			if err != nil {
				return nil, err
			}
			return &ast.VariableExpr{Pos: pos, Stream: name, Name: attr}, nil
		}
		if p.at(lexer.LPAREN) {
			p.advance()
			distinct := false
			if p.atKeyword("DISTINCT") {
				p.advance()
				distinct = true
			}
			args, err := p.parseExprList(lexer.RPAREN)
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lexer.RPAREN, ")"); err != nil {
				return nil, err
			}
			if strings.EqualFold(name, "ifThenElse") && len(args) == 3 {
				return &ast.IfThenElseExpr{Pos: pos, Cond: args[0], Then: args[1], Else: args[2]}, nil
			}
			return &ast.FuncCallExpr{Pos: pos, Name: name, Args: args, Distinct: distinct}, nil
		}
		return &ast.VariableExpr{Pos: pos, Name: name}, nil

	default:
		return nil, p.errHere("", fmt.Sprintf("unexpected token %q in expression", t.Text))
	}
}

// timeUnitFollowing reports whether the token immediately following a
// just-consumed NUMBER is a recognized time-unit identifier, consuming it
// if so.
func (p *parser) timeUnitFollowing() (string, bool) {
	t := p.cur()
	if t.Kind != lexer.IDENT {
		return "", false
	}
	lower := strings.ToLower(t.Text)
	if _, ok := timeUnitMillis[lower]; !ok {
		return "", false
	}
	p.advance()
	return lower, true
}

// --- FROM clause: query vs. on-demand aggregation query ---------------------

// parseFromTop disambiguates a streaming Query from an on-demand
// AggregationQuery. Both start with `FROM <ident>`; only the aggregation
// form continues with ON/WITHIN/PER before SELECT, so we speculatively
// consume the leading identifier, check the next keyword, and rewind if it
// turns out to be an ordinary input stream reference.
func (p *parser) parseFromTop(app *ast.App, anns ast.Annotations) error {
	pos := p.posHere()
	start := p.pos
	p.advance() // FROM
	name, err := p.identText()
	if err == nil && (p.atKeyword("ON") || p.atKeyword("WITHIN") || p.atKeyword("PER")) {
		return p.parseAggregationQueryTail(app, anns, pos, name)
	}
	p.pos = start
	return p.parseQuery(app, anns, pos)
}

func (p *parser) parseAggregationQueryTail(app *ast.App, anns ast.Annotations, pos ast.Pos, aggName string) error {
	q := &ast.AggregationQuery{Pos: pos, Aggregation: aggName, Per: ast.Seconds}
	if p.atKeyword("ON") {
		p.advance()
		cond, err := p.parseExpr()
		if err != nil {
			return err
		}
		q.On = cond
	}
	if p.atKeyword("WITHIN") {
		p.advance()
		startExpr, err := p.parseExpr()
		if err != nil {
			return err
		}
		if err := p.expectKeyword("AND"); err != nil {
			// AND is the only range separator ("within t1 and t2").
			return err
		}
		endExpr, err := p.parseExpr()
		if err != nil {
			return err
		}
		startC, ok1 := startExpr.(*ast.ConstantExpr)
		endC, ok2 := endExpr.(*ast.ConstantExpr)
		if !ok1 || !ok2 {
			return p.errHere(aggName, "within bounds must be constant time literals")
		}
		q.WithinStart = startC.Value.AsLong()
		q.WithinEnd = endC.Value.AsLong()
		q.HasWithin = true
	}
	if p.atKeyword("PER") {
		p.advance()
		gname, err := p.identText()
		if err != nil {
			return err
		}
		g, err := parseGranularity(gname)
		if err != nil {
			return p.errHere(aggName, err.Error())
		}
		q.Per = g
	}
	if err := p.expectKeyword("SELECT"); err != nil {
		return err
	}
	sel, err := p.parseSelectList()
	if err != nil {
		return err
	}
	q.Select = sel
	target, err := p.parseInsertClause()
	if err != nil {
		return err
	}
	q.Insert = target
	app.AggregationQueries = append(app.AggregationQueries, q)
	return nil
}

func (p *parser) parseQuery(app *ast.App, anns ast.Annotations, pos ast.Pos) error {
	if err := p.expectKeyword("FROM"); err != nil {
		return err
	}
	input, err := p.parseInputStream()
	if err != nil {
		return err
	}
	q := &ast.Query{Pos: pos, Input: input, Annotations: anns}

	if p.atKeyword("WHERE") || p.atKeyword("FILTER") {
		p.advance()
		paren := p.consumeOptional(lexer.LPAREN)
		e, err := p.parseExpr()
		if err != nil {
			return err
		}
		if paren {
			if _, err := p.expect(lexer.RPAREN, ")"); err != nil {
				return err
			}
		}
		if sis, ok := q.Input.(*ast.SingleInputStream); ok && sis.Filter == nil {
			sis.Filter = e
		} else {
			q.Having = e // degrades gracefully for non-single-stream inputs
		}
	}

	if err := p.expectKeyword("SELECT"); err != nil {
		return err
	}
	if p.atKeyword("DISTINCT") {
		p.advance()
		q.Distinct = true
	}
	sel, err := p.parseSelectList()
	if err != nil {
		return err
	}
	q.Select = sel

	if p.atKeyword("GROUP") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		gb, err := p.parseCommaExprs()
		if err != nil {
			return err
		}
		q.GroupBy = gb
	}
	if p.atKeyword("HAVING") {
		p.advance()
		h, err := p.parseExpr()
		if err != nil {
			return err
		}
		q.Having = h
	}
	if p.atKeyword("ORDER") {
		p.advance()
		if err := p.expectKeyword("BY"); err != nil {
			return err
		}
		ob, err := p.parseOrderList()
		if err != nil {
			return err
		}
		q.OrderBy = ob
	}
	if p.atKeyword("LIMIT") {
		p.advance()
		n, err := p.intLiteral()
		if err != nil {
			return err
		}
		q.Limit = n
		q.HasLimit = true
	}
	if p.atKeyword("OFFSET") {
		p.advance()
		n, err := p.intLiteral()
		if err != nil {
			return err
		}
		q.Offset = n
	}

	target, err := p.parseInsertClause()
	if err != nil {
		return err
	}
	q.Insert = target
	app.Queries = append(app.Queries, q)
	return nil
}

func (p *parser) intLiteral() (int, error) {
	t := p.cur()
	if t.Kind != lexer.NUMBER {
		return 0, p.errHere("", fmt.Sprintf("expected integer literal, got %q", t.Text))
	}
	p.advance()
	n, err := strconv.Atoi(t.Text)
	if err != nil {
		return 0, p.errHere("", fmt.Sprintf("invalid integer literal %q", t.Text))
	}
	return n, nil
}

func (p *parser) parseInsertClause() (ast.InsertTarget, error) {
	var target ast.InsertTarget
	if err := p.expectKeyword("INSERT"); err != nil {
		return target, err
	}
	switch {
	case p.atKeyword("ALL"):
		p.advance()
		target.OutputEventType = ast.OutputAll
	case p.atKeyword("CURRENT"):
		p.advance()
		target.OutputEventType = ast.OutputCurrentEvents
	case p.atKeyword("EXPIRED"):
		p.advance()
		target.OutputEventType = ast.OutputExpiredEvents
	}
	if p.atKeyword("EVENTS") {
		p.advance()
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return target, err
	}
	switch {
	case p.atKeyword("INNER"):
		p.advance()
		target.Mode = ast.InsertInner
	case p.atKeyword("FAULT"):
		p.advance()
		target.Mode = ast.InsertFault
	}
	name, err := p.identText()
	if err != nil {
		return target, err
	}
	target.Stream = name
	return target, nil
}

// --- input streams: single / join / pattern / sequence ----------------------

func (p *parser) parseInputStream() (ast.InputStream, error) {
	if p.atKeyword("EVERY") || p.atKeyword("NOT") {
		se, err := p.parseStateTerm()
		if err != nil {
			return nil, err
		}
		se, seq, err := p.parseStateExprTail(se)
		if err != nil {
			return nil, err
		}
		return &ast.PatternInputStream{Pos: p.posHere(), Root: se, Sequence: seq}, nil
	}

	pos := p.posHere()
	id, filter, win, min, max, err := p.parseStreamRefAtom()
	if err != nil {
		return nil, err
	}

	switch {
	case p.at(lexer.ARROW) || p.at(lexer.COMMA):
		left := &ast.SingleStateElement{Pos: pos, StreamID: id, Filter: filter, Min: min, Max: max}
		se, seq, err := p.parseStateExprTail(left)
		if err != nil {
			return nil, err
		}
		return &ast.PatternInputStream{Pos: pos, Root: se, Sequence: seq}, nil

	case p.atKeyword("AND") || p.atKeyword("OR"):
		left := &ast.SingleStateElement{Pos: pos, StreamID: id, Filter: filter, Min: min, Max: max}
		se, err := p.parseLogicalTail(left)
		if err != nil {
			return nil, err
		}
		return &ast.PatternInputStream{Pos: pos, Root: se}, nil

	case p.isJoinStart():
		joinType, err := p.parseJoinType()
		if err != nil {
			return nil, err
		}
		rpos := p.posHere()
		rid, rfilter, rwin, _, _, err := p.parseStreamRefAtom()
		if err != nil {
			return nil, err
		}
		var on ast.Expr
		if p.atKeyword("ON") {
			p.advance()
			on, err = p.parseExpr()
			if err != nil {
				return nil, err
			}
		}
		left := &ast.SingleInputStream{Pos: pos, StreamID: id, Filter: filter, Window: win}
		right := &ast.SingleInputStream{Pos: rpos, StreamID: rid, Filter: rfilter, Window: rwin}
		return &ast.JoinInputStream{Pos: pos, Left: left, Right: right, Type: joinType, On: on}, nil

	default:
		return &ast.SingleInputStream{Pos: pos, StreamID: id, Filter: filter, Window: win}, nil
	}
}

// parseStreamRefAtom parses `Ident [filterExpr] [#handler:name(args)]
// [<min:max>]` -- the common prefix shared by plain stream references,
// join sides, and pattern/sequence state atoms.
func (p *parser) parseStreamRefAtom() (id string, filter ast.Expr, win *ast.HandlerInvocation, min, max int, err error) {
	min, max = 1, 1
	id, err = p.identText()
	if err != nil {
		return
	}
	if p.at(lexer.LBRACKET) {
		p.advance()
		filter, err = p.parseExpr()
		if err != nil {
			return
		}
		if _, e := p.expect(lexer.RBRACKET, "]"); e != nil {
			err = e
			return
		}
	}
	if p.at(lexer.HASH) {
		hpos := p.posHere()
		p.advance()
		hname, e := p.identText()
		if e != nil {
			err = e
			return
		}
		if p.at(lexer.COLON) {
			p.advance()
			sub, e := p.identText()
			if e != nil {
				err = e
				return
			}
			hname = hname + ":" + sub
		}
		if _, e := p.expect(lexer.LPAREN, "("); e != nil {
			err = e
			return
		}
		args, e := p.parseExprList(lexer.RPAREN)
		if e != nil {
			err = e
			return
		}
		if _, e := p.expect(lexer.RPAREN, ")"); e != nil {
			err = e
			return
		}
		win = &ast.HandlerInvocation{Pos: hpos, Name: hname, Args: args}
	}
	if p.at(lexer.LT) {
		p.advance()
		minTok, e := p.expect(lexer.NUMBER, "count range minimum")
		if e != nil {
			err = e
			return
		}
		if _, e := p.expect(lexer.COLON, ":"); e != nil {
			err = e
			return
		}
		maxTok, e := p.expect(lexer.NUMBER, "count range maximum")
		if e != nil {
			err = e
			return
		}
		if _, e := p.expect(lexer.GT, ">"); e != nil {
			err = e
			return
		}
		min, _ = strconv.Atoi(minTok.Text)
		max, _ = strconv.Atoi(maxTok.Text)
	}
	return
}

func (p *parser) isJoinStart() bool {
	if p.atKeyword("JOIN") {
		return true
	}
	if p.atKeyword("LEFT") || p.atKeyword("RIGHT") || p.atKeyword("FULL") {
		return true
	}
	return false
}

func (p *parser) parseJoinType() (ast.JoinType, error) {
	switch {
	case p.atKeyword("JOIN"):
		p.advance()
		return ast.InnerJoin, nil
	case p.atKeyword("LEFT"):
		p.advance()
		p.consumeOptional2Keyword("OUTER")
		if err := p.expectKeyword("JOIN"); err != nil {
			return 0, err
		}
		return ast.LeftOuterJoin, nil
	case p.atKeyword("RIGHT"):
		p.advance()
		p.consumeOptional2Keyword("OUTER")
		if err := p.expectKeyword("JOIN"); err != nil {
			return 0, err
		}
		return ast.RightOuterJoin, nil
	case p.atKeyword("FULL"):
		p.advance()
		p.consumeOptional2Keyword("OUTER")
		if err := p.expectKeyword("JOIN"); err != nil {
			return 0, err
		}
		return ast.FullOuterJoin, nil
	default:
		return 0, p.errHere("", "expected JOIN, LEFT, RIGHT or FULL")
	}
}

func (p *parser) consumeOptional2Keyword(kw string) {
	if p.atKeyword(kw) {
		p.advance()
	}
}

// --- pattern / sequence state expressions -----------------------------------

func (p *parser) parseStateTerm() (ast.StateElement, error) {
	if p.atKeyword("EVERY") {
		p.advance()
		inner, err := p.parseStateTerm()
		if err != nil {
			return nil, err
		}
		return &ast.EveryStateElement{Inner: inner}, nil
	}
	if p.atKeyword("NOT") {
		p.advance()
		inner, err := p.parseStateAtom()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("FOR"); err != nil {
			return nil, err
		}
		dur, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c, ok := dur.(*ast.ConstantExpr)
		if !ok {
			return nil, p.errHere("", "`not ... for` duration must be a constant time literal")
		}
		return &ast.NotStateElement{Inner: inner, Duration: c.Value.AsLong()}, nil
	}
	left, err := p.parseStateAtom()
	if err != nil {
		return nil, err
	}
	return p.parseLogicalTail(left)
}

func (p *parser) parseLogicalTail(left ast.StateElement) (ast.StateElement, error) {
	for p.atKeyword("AND") || p.atKeyword("OR") {
		op := p.cur().Text
		p.advance()
		right, err := p.parseStateAtom()
		if err != nil {
			return nil, err
		}
		left = &ast.LogicalStateElement{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseStateAtom() (ast.StateElement, error) {
	pos := p.posHere()
	id, filter, _, min, max, err := p.parseStreamRefAtom()
	if err != nil {
		return nil, err
	}
	return &ast.SingleStateElement{Pos: pos, StreamID: id, Filter: filter, Min: min, Max: max}, nil
}

// parseStateExprTail consumes a chain of `-> ` (NextStateElement) or `, `
// (SequenceStateElement) connectives following an already-parsed left
// state element, reporting whether the chain used sequence (`,`) form.
func (p *parser) parseStateExprTail(left ast.StateElement) (ast.StateElement, bool, error) {
	sequence := false
	for {
		switch {
		case p.at(lexer.ARROW):
			p.advance()
			right, err := p.parseStateTerm()
			if err != nil {
				return nil, false, err
			}
			left = &ast.NextStateElement{Left: left, Right: right}
		case p.at(lexer.COMMA):
			p.advance()
			right, err := p.parseStateTerm()
			if err != nil {
				return nil, false, err
			}
			left = &ast.SequenceStateElement{Left: left, Right: right}
			sequence = true
		default:
			return left, sequence, nil
		}
	}
}
