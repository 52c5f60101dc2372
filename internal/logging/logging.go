// Package logging holds the process-wide structured logger.
//
// Components obtain child loggers through WithComponent and attach page or
// store context with the helpers below, so level and destination are set in
// one place by Init.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger   *slog.Logger
	loggerMu sync.RWMutex
)

// ParseLevel accepts debug, info, warn or error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Init replaces the global logger with a text logger writing to w.
func Init(level slog.Level, w io.Writer) {
	l := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Get returns the global logger, creating an info-level stderr logger on
// first use.
func Get() *slog.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return logger
}

// WithComponent creates a logger tagged with a subsystem name.
func WithComponent(component string) *slog.Logger {
	return Get().With("component", component)
}

// WithPage adds page context to l.
func WithPage(l *slog.Logger, pageID int) *slog.Logger {
	return l.With("page_id", pageID)
}

// WithStore adds store identity to l.
func WithStore(l *slog.Logger, storeID string) *slog.Logger {
	return l.With("store_id", storeID)
}
