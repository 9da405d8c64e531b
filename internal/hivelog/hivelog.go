// Package hivelog provides the structured logger shared by every Hive
// component. Each package asks for a named sub-logger via Get, mirroring
// the category-tagged log calls seen throughout the pack's agent
// coordination code (log.Debug(category, msg, "key", value, ...)).
package hivelog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once sync.Once
	base *zap.SugaredLogger
)

func root() *zap.SugaredLogger {
	once.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			// Logging must never be able to take the coordination core down.
			l = zap.NewNop()
		}
		base = l.Sugar()
	})
	return base
}

// Logger is a category-tagged logger. The category is attached as a
// structured field rather than baked into the message so downstream log
// processors can filter on it.
type Logger struct {
	category string
}

// Get returns the logger for the named component category.
func Get(category string) *Logger {
	return &Logger{category: category}
}

// SetGlobal replaces the process-wide zap logger, used by cmd/hived to wire
// verbosity/output from configuration. Safe to call before or after the
// first Get: every Logger, including ones already returned by Get, logs
// through the replacement from then on.
func SetGlobal(l *zap.Logger) {
	once.Do(func() {})
	base = l.Sugar()
}

func (l *Logger) with(kv []any) *zap.SugaredLogger {
	return root().With(append([]any{"component", l.category}, kv...)...)
}

func (l *Logger) Debug(msg string, kv ...any) { l.with(kv).Debug(msg) }
func (l *Logger) Info(msg string, kv ...any)  { l.with(kv).Info(msg) }
func (l *Logger) Warn(msg string, kv ...any)  { l.with(kv).Warn(msg) }
func (l *Logger) Error(msg string, kv ...any) { l.with(kv).Error(msg) }
