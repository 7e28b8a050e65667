// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the *slog.Logger handed to every kls component.
//
// kls has exactly three entrypoints (serve, index, backup-db), each with a
// different logging need:
//
//   - serve holds the stdio transport, so its logger must never touch
//     stdout — only stderr, and optionally a log file for operators running
//     it under a supervisor without a captured stderr stream.
//   - index and backup-db are one-shot batch commands that benefit from a
//     persisted log file for after-the-fact auditing, since there is no
//     long-lived process to tail.
//
// New(Config) covers both: stderr is always on, and setting LogDir adds a
// second JSON-formatted destination via multiHandler.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity, ordered Debug < Info < Warn < Error.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures the Logger. A zero-value Config writes Debug+ text logs
// to stderr only.
type Config struct {
	// Level sets the minimum level; messages below it are discarded.
	Level Level

	// LogDir, if set, adds a second JSON-formatted destination:
	// "{LogDir}/{Service}_{YYYY-MM-DD}.log". Supports "~" expansion.
	// The directory is created with 0750 permissions if missing; a failure
	// to create it is reported on stderr and file logging is skipped
	// rather than failing the whole command.
	LogDir string

	// Service names the component generating logs ("kls-serve",
	// "kls-index", "kls-backup"), recorded as the "service" attribute on
	// every entry so a run mixing stderr and file output stays attributable.
	Service string

	// JSON selects JSON output for stderr. File output is always JSON
	// regardless of this setting, since log files are for machine
	// processing, not a terminal.
	JSON bool
}

// Logger wraps slog.Logger with the file handle New may have opened, so
// Close can release it.
type Logger struct {
	slog *slog.Logger
	file *os.File
	mu   sync.Mutex
}

// New builds a Logger from config. The returned Logger should be closed
// with Close once the command it backs is done, to flush and release any
// log file.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var stderrHandler slog.Handler
	if config.JSON {
		stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		stderrHandler = slog.NewTextHandler(os.Stderr, opts)
	}
	handlers := []slog.Handler{stderrHandler}

	logger := &Logger{}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err != nil {
			fmt.Fprintf(os.Stderr, "logging: could not create log dir %s: %v\n", logDir, err)
		} else {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "kls"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			logPath := filepath.Join(logDir, filename)

			file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logging: could not open log file %s: %v\n", logPath, err)
			} else {
				logger.file = file
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	var handler slog.Handler = handlers[0]
	if len(handlers) > 1 {
		handler = &multiHandler{handlers: handlers}
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info-level, stderr-only logger for the "kls" service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "kls"})
}

// Slog returns the underlying slog.Logger, which every kls component takes
// as its logging dependency.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if one was opened. It is a no-op
// when LogDir was not set.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	return l.file.Close()
}

// multiHandler fans a record out to stderr and the log file simultaneously,
// potentially in different formats (text vs JSON).
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading "~" to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
