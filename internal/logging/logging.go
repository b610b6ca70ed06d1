// Package logging provides the structured logger used across the gateway.
package logging

import (
	"log/slog"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	base   *zap.Logger
	levels = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func init() {
	base = newBaseLogger()
}

func newBaseLogger() *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(os.Stderr), levels)
	return zap.New(core)
}

// SetLevel adjusts the minimum level for every logger returned by New.
func SetLevel(l slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	levels.SetLevel(zapcore.Level(l / 4)) //nolint:mnd // slog levels are 4x zap's
}

// New returns a structured logger scoped to component, matching the
// "logger.Info(msg, key, value, ...)" call convention used across the
// gateway's policy and transport packages.
func New(component string) *slog.Logger {
	mu.Lock()
	l := base
	mu.Unlock()
	handler := zapslog.NewHandler(l.WithOptions(zap.AddCallerSkip(0)).Core(), zapslog.WithName(component))
	return slog.New(handler).With("component", component)
}
