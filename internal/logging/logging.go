// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a configured level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger writing to w. Format "json" selects the JSON handler,
// anything else the colored tint handler.
func New(w io.Writer, level, format string) *slog.Logger {
	logLevel := ParseLevel(level)

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
		})
	}

	return slog.New(handler)
}

// Setup creates a logger with New and installs it as the slog default.
func Setup(w io.Writer, level, format string) *slog.Logger {
	logger := New(w, level, format)
	slog.SetDefault(logger)
	return logger
}

// MaskCode hides all but the last two characters of a verification code.
func MaskCode(code string) string {
	if len(code) <= 2 {
		return "**"
	}
	masked := make([]byte, len(code))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(code)-2:], code[len(code)-2:])
	return string(masked)
}
