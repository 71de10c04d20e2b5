// Package logging wraps zap behind a small key/value interface so packages can
// log before main has configured anything.
package logging

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface used across the backend.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Sync() error
}

type noopLogger struct{}

func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Infow(string, ...interface{})  {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}
func (noopLogger) Sync() error                   { return nil }

var (
	mu      sync.RWMutex
	current Logger = noopLogger{}
	sugar   *zap.SugaredLogger
)

// Init builds a JSON zap logger at the given level ("debug", "info", "warn",
// "error") and redirects the standard library logger into it. Later calls
// replace the previous logger.
func Init(level string) (*zap.SugaredLogger, error) {
	cfg := zap.Config{
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		Level:            zap.NewAtomicLevelAt(ParseLevel(level)),
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	_ = zap.RedirectStdLog(logger)

	mu.Lock()
	sugar = logger.Sugar()
	current = sugar
	mu.Unlock()
	return sugar, nil
}

// ParseLevel maps a textual level to zap; unknown values fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// SetLogger swaps the package logger. nil restores the logger built by Init,
// or the no-op logger when Init was never called.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case l != nil:
		current = l
	case sugar != nil:
		current = sugar
	default:
		current = noopLogger{}
	}
}

// L returns the active logger.
func L() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Debugw(msg string, kv ...interface{}) { L().Debugw(msg, kv...) }
func Infow(msg string, kv ...interface{})  { L().Infow(msg, kv...) }
func Warnw(msg string, kv ...interface{})  { L().Warnw(msg, kv...) }
func Errorw(msg string, kv ...interface{}) { L().Errorw(msg, kv...) }

// Sync flushes buffered entries.
func Sync() error { return L().Sync() }

type ctxKey struct{}

// WithFields attaches key/value pairs to ctx; existing pairs are kept in order.
func WithFields(ctx context.Context, kv ...interface{}) context.Context {
	if len(kv) == 0 {
		return ctx
	}
	prev := FromContext(ctx)
	merged := make([]interface{}, 0, len(prev)+len(kv))
	merged = append(merged, prev...)
	merged = append(merged, kv...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// FromContext returns the pairs attached with WithFields.
func FromContext(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(ctxKey{}).([]interface{})
	return fields
}

func InfowCtx(ctx context.Context, msg string, kv ...interface{}) {
	L().Infow(msg, mergeFields(ctx, kv)...)
}

func WarnwCtx(ctx context.Context, msg string, kv ...interface{}) {
	L().Warnw(msg, mergeFields(ctx, kv)...)
}

func ErrorwCtx(ctx context.Context, msg string, kv ...interface{}) {
	L().Errorw(msg, mergeFields(ctx, kv)...)
}

func mergeFields(ctx context.Context, kv []interface{}) []interface{} {
	fields := FromContext(ctx)
	if len(fields) == 0 {
		return kv
	}
	merged := make([]interface{}, 0, len(fields)+len(kv))
	merged = append(merged, fields...)
	return append(merged, kv...)
}

// SessionFields returns the canonical keys for a voice session.
func SessionFields(sessionID string) []interface{} {
	return []interface{}{"session.id", sessionID}
}
