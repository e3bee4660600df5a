// zaplogger.go: zap-backed Logger adapter
//
// Copyright (c) 2026 The loadcache authors
// SPDX-License-Identifier: MPL-2.0
package loadcache

import "go.uber.org/zap"

// zapLogger adapts a *zap.Logger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps a zap logger for use as Config.Logger. Passing nil
// returns the no-op logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return NoOpLogger{}
	}
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debug(msg string, keyvals ...interface{}) { z.s.Debugw(msg, keyvals...) }
func (z *zapLogger) Info(msg string, keyvals ...interface{})  { z.s.Infow(msg, keyvals...) }
func (z *zapLogger) Warn(msg string, keyvals ...interface{})  { z.s.Warnw(msg, keyvals...) }
func (z *zapLogger) Error(msg string, keyvals ...interface{}) { z.s.Errorw(msg, keyvals...) }
