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

// Package lexer tokenizes EventFlux application source text: definitions,
// queries, expressions, annotations, and pattern/sequence operators.
package lexer

// Kind identifies a token's lexical class.
type Kind int

const (
	EOF Kind = iota
	IDENT
	KEYWORD
	STRING
	NUMBER
	// punctuation / operators
	LPAREN
	RPAREN
	LBRACKET
	RBRACKET
	COMMA
	SEMI
	DOT
	AT
	HASH
	COLON
	ARROW // ->
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	EQ
	NEQ
	LT
	LTE
	GT
	GTE
	ASSIGN
)

// Token is one lexical token with its source position.
type Token struct {
	Kind Kind
	Text string
	Line int
	Col  int
}

// keywords is the set of reserved words, matched case-insensitively. A
// KEYWORD token's Text is always upper-cased so the parser can switch on
// it directly.
var keywords = map[string]bool{
	"DEFINE": true, "STREAM": true, "TABLE": true, "WINDOW": true,
	"AGGREGATION": true, "TRIGGER": true, "FROM": true, "SELECT": true,
	"WHERE": true, "FILTER": true, "GROUP": true, "BY": true, "HAVING": true,
	"ORDER": true, "ASC": true, "DESC": true, "LIMIT": true, "OFFSET": true,
	"INSERT": true, "INTO": true, "ALL": true, "CURRENT": true,
	"EXPIRED": true, "EVENTS": true, "INNER": true, "FAULT": true,
	"AND": true, "OR": true, "NOT": true, "IS": true, "NULL": true,
	"IN": true, "AS": true, "DISTINCT": true, "LEFT": true, "RIGHT": true,
	"FULL": true, "OUTER": true, "JOIN": true, "ON": true, "EVERY": true,
	"FOR": true, "OUTPUT": true, "AGGREGATE": true, "AT": true, "PER": true,
	"WITHIN": true, "HANDLER": true, "UPDATE": true, "TRUE": true,
	"FALSE": true,
}
