// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package logging

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts *zap.Logger to the Logger interface. It is an
// alternative to StructuredLogger, the dependency-free JSON writer; no
// storage adapter constructs either one.
type ZapLogger struct {
	core         *zap.Logger
	level        *zap.AtomicLevel
	samplingRate uint64 // stored as math.Float64bits via atomic; see SetSamplingRate
	mu           sync.Mutex
	fields       []Field
}

// NewZapLogger builds a ZapLogger writing JSON to stdout at the given
// minimum level.
func NewZapLogger(level Level) *ZapLogger {
	atomLevel := zap.NewAtomicLevelAt(toZapLevel(level))
	cfg := zap.Config{
		Level:            atomLevel,
		Encoding:         "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			MessageKey:     "message",
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeDuration: zapcore.MillisDurationEncoder,
		},
	}
	core, _ := cfg.Build()
	l := &ZapLogger{core: core, level: &atomLevel}
	l.setSamplingFloat(1.0)
	return l
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	case LevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (l *ZapLogger) samplingFloat() float64 {
	bits := atomic.LoadUint64(&l.samplingRate)
	return float64FromBits(bits)
}

func (l *ZapLogger) setSamplingFloat(rate float64) {
	atomic.StoreUint64(&l.samplingRate, float64ToBits(rate))
}

func (l *ZapLogger) withContext(ctx context.Context, fields ...Field) []zap.Field {
	all := make([]Field, 0, len(l.fields)+len(fields)+5)
	all = append(all, extractContextFields(ctx)...)
	all = append(all, l.fields...)
	all = append(all, fields...)
	return toZapFields(all)
}

func (l *ZapLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	if l.samplingFloat() < 1.0 && !sampleHit(l.samplingFloat()) {
		return
	}
	l.core.Debug(msg, l.withContext(ctx, fields...)...)
}

func (l *ZapLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.core.Info(msg, l.withContext(ctx, fields...)...)
}

func (l *ZapLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.core.Warn(msg, l.withContext(ctx, fields...)...)
}

func (l *ZapLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.core.Error(msg, l.withContext(ctx, fields...)...)
}

func (l *ZapLogger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.core.Fatal(msg, l.withContext(ctx, fields...)...)
}

func (l *ZapLogger) With(fields ...Field) Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	return &ZapLogger{core: l.core, level: l.level, samplingRate: l.samplingRate, fields: merged}
}

func (l *ZapLogger) SetLevel(level Level) {
	l.level.SetLevel(toZapLevel(level))
}

func (l *ZapLogger) SetSamplingRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	l.setSamplingFloat(rate)
}

// Sync flushes any buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.core.Sync()
}
