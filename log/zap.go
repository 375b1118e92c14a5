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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger adapts *zap.Logger to the Logger interface. Level is held in an
// atomic so SetLevel can be called concurrently with in-flight logging from
// junction worker pools.
type zapLogger struct {
	core  *zap.Logger
	level *zap.AtomicLevel
}

// NewZapLogger builds a production-style JSON zap logger at the given level.
func NewZapLogger(level Level) Logger {
	atomicLevel := zap.NewAtomicLevelAt(toZapLevel(level))
	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	cfg.EncoderConfig.TimeKey = "ts"
	core, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-op core rather than panicking from a logging
		// constructor; this should only happen with a malformed cfg.
		core = zap.NewNop()
	}
	return &zapLogger{core: core, level: &atomicLevel}
}

func toZapLevel(l Level) zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case INFO:
		return zapcore.InfoLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1 // effectively OFF
	}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (z *zapLogger) Debug(msg string, fields ...Field) { z.core.Debug(msg, toZapFields(fields)...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.core.Info(msg, toZapFields(fields)...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.core.Warn(msg, toZapFields(fields)...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.core.Error(msg, toZapFields(fields)...) }

func (z *zapLogger) SetLevel(level Level) {
	z.level.SetLevel(toZapLevel(level))
}

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{core: z.core.With(toZapFields(fields)...), level: z.level}
}
