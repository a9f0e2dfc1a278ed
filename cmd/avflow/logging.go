package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/c360/avflow/message"
)

func setupLogger(level, format string) *slog.Logger {
	return newLogger(os.Stdout, level, format)
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		"service", appName,
		"version", Version,
		"pid", os.Getpid(),
	)
}

// logMessage writes one diagnostic message at the level matching its
// severity.
func logMessage(logger *slog.Logger, m message.Message) {
	level := slog.LevelInfo
	switch m.Severity {
	case message.SeverityWarning:
		level = slog.LevelWarn
	case message.SeverityError:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, m.Detail,
		"seq", m.Seq,
		"code", int32(m.Code),
		"source", m.Source,
		"time", m.Time)
}
