package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a structured logger tagged with the service name.
func New(service string, level slog.Level) *slog.Logger {
	return NewWithFormat(os.Stdout, service, level, "json")
}

// NewWithFormat builds a logger writing either JSON (default) or text records to w.
func NewWithFormat(w io.Writer, service string, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", service)
}

// ParseLevel maps LOG_LEVEL style strings to slog levels, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
