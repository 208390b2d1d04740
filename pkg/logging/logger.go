// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging builds the process-wide slog handler for SwiftRover.
//
// Records go to stderr (text on a terminal, JSON otherwise) and, when a log
// directory is configured, to a daily JSON file as well. Packages log through
// slog's default logger; the command installs this one with slog.SetDefault.
//
// # Basic Usage
//
//	level, err := logging.ParseLevel(cfg.LogLevel)
//	...
//	logger := logging.New(logging.Config{Level: level, Service: "swiftrover"})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// # Security Considerations
//
// Nothing is redacted automatically. Never log API keys or attachment bytes:
//
//	// BAD
//	slog.Info("calling flights api", "access_key", key)
//
//	// GOOD
//	slog.Info("calling flights api", "key_present", key != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// ParseLevel converts a configuration string into a slog level.
//
// # Description
//
// Accepts "debug", "info", "warn"/"warning" and "error" in any case.
// Surrounding whitespace is ignored and an empty string means info.
//
// # Outputs
//
//   - slog.Level: The parsed level, slog.LevelInfo when unknown.
//   - error: Non-nil when the input was not recognised.
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

// Config controls where and how the logger writes.
type Config struct {
	// Level is the minimum level written. The zero value is info.
	Level slog.Level

	// LogDir enables file logging when non-empty. "~" is expanded.
	LogDir string

	// Service is attached to every record as "service" and names the log file.
	Service string

	// JSON forces JSON on stderr. When false, JSON is still used if stderr
	// is not a terminal.
	JSON bool
}

// Logger owns the handler chain and the log file behind it.
type Logger struct {
	slog *slog.Logger
	file *os.File
	mu   sync.Mutex
}

// New creates a Logger from config.
//
// # Description
//
// Builds one slog.Handler per destination and combines them with a
// multiHandler. A log file that cannot be opened is reported on stderr and
// skipped; stderr logging always stays on.
func New(config Config) *Logger {
	return newLogger(config, os.Stderr, stderrIsTerminal())
}

func newLogger(config Config, stderr io.Writer, terminal bool) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level}

	var console slog.Handler
	if config.JSON || !terminal {
		console = slog.NewJSONHandler(stderr, opts)
	} else {
		console = slog.NewTextHandler(stderr, opts)
	}
	handlers := []slog.Handler{console}

	logger := &Logger{}
	if config.LogDir != "" {
		file, err := openLogFile(config)
		if err != nil {
			fmt.Fprintf(stderr, "log file disabled: %v\n", err)
		} else {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler = &multiHandler{handlers: handlers}
	if len(handlers) == 1 {
		handler = console
	}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Slog exposes the configured slog.Logger, typically for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file. It is safe to call more than once.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return fmt.Errorf("sync log file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close log file: %w", closeErr)
	}
	return nil
}

// multiHandler dispatches each record to every handler that accepts it.
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
			if err := handler.Handle(ctx, r.Clone()); err != nil {
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

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// openLogFile opens {dir}/{service}_{YYYY-MM-DD}.log for appending.
func openLogFile(config Config) (*os.File, error) {
	logDir := expandPath(config.LogDir)
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return nil, err
	}
	serviceName := config.Service
	if serviceName == "" {
		serviceName = "swiftrover"
	}
	filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(logDir, filename), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
