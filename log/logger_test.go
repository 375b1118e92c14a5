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

package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DEBUG.String())
	assert.Equal(t, "INFO", INFO.String())
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "ERROR", ERROR.String())
	assert.Equal(t, "OFF", OFF.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestDiscardLoggerNeverPanics(t *testing.T) {
	l := NewDiscardLogger()
	l.Debug("x", F("a", 1))
	l.Info("x")
	l.Warn("x")
	l.Error("x")
	l.SetLevel(DEBUG)
	child := l.With(F("b", 2))
	assert.NotNil(t, child)
}

func TestZapLoggerImplementsInterfaceAndDoesNotPanic(t *testing.T) {
	l := NewZapLogger(DEBUG)
	l.Debug("hello", F("n", 1))
	l.Info("hello")
	l.Warn("hello")
	l.Error("hello")
	l.SetLevel(ERROR)
	child := l.With(F("component", "junction"))
	child.Error("boom", F("reason", "queue full"))
}

func TestSetDefaultAndPackageLevelHelpers(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	SetDefault(NewDiscardLogger())
	Debug("x")
	Info("x")
	Warn("x")
	Error("x")
}
