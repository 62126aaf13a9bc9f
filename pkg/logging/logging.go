// Package logging wires decred/slog subsystem loggers to a shared
// backend with a single configured level.
package logging

import (
	"fmt"
	"io"

	"github.com/decred/slog"
)

// LogBackend hands out per-subsystem loggers sharing one writer.
type LogBackend struct {
	backend *slog.Backend
	level   slog.Level
}

// NewLogBackend creates a backend writing to w at the given debug
// level ("trace", "debug", "info", "warn", "error").
func NewLogBackend(w io.Writer, debugLevel string) (*LogBackend, error) {
	level, ok := slog.LevelFromString(debugLevel)
	if !ok {
		return nil, fmt.Errorf("unknown debug level %q", debugLevel)
	}
	return &LogBackend{
		backend: slog.NewBackend(w),
		level:   level,
	}, nil
}

// Logger returns the logger for a subsystem tag.
func (b *LogBackend) Logger(tag string) slog.Logger {
	log := b.backend.Logger(tag)
	log.SetLevel(b.level)
	return log
}
