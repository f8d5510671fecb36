// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for harborchat services.
//
// Built on the standard library slog package with two JSON destinations:
// stderr (always) and an optional per-service log file.
// Services call Setup once at startup; libraries use the default slog
// logger it installs.
//
// # Usage
//
//	logger, err := logging.Setup(logging.Config{
//	    Service: "orchestrator",
//	    LogDir:  os.Getenv("LOG_DIR"),
//	})
//	if err != nil { ... }
//	defer logger.Close()
//
// # Security Considerations
//
// This package does not redact sensitive data. Callers must keep tokens,
// keys, and message contents out of log attributes.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config controls logger construction.
type Config struct {
	// Service names the component, used in the log file name.
	Service string

	// LogDir enables file logging when non-empty. The directory is
	// created if needed.
	LogDir string

	// Level is the minimum level, one of "debug", "info", "warn",
	// "error". Default: "info".
	Level string
}

// Logger wraps slog with an optional file destination.
type Logger struct {
	*slog.Logger
	file *os.File
}

// Setup builds the logger, installs it as the slog default, and returns
// it for lifecycle management.
//
// # Outputs
//
//   - *Logger: Never nil on success. Close it on shutdown when file
//     logging is enabled.
//   - error: Non-nil when the log directory or file cannot be created.
func Setup(cfg Config) (*Logger, error) {
	level := parseLevel(cfg.Level)

	var writers []io.Writer
	writers = append(writers, os.Stderr)

	logger := &Logger{}
	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		name := fmt.Sprintf("%s_%s.log", cfg.Service, time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(cfg.LogDir, name),
			os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.file = f
		writers = append(writers, f)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: level,
	})
	logger.Logger = slog.New(handler).With("service", cfg.Service)
	slog.SetDefault(logger.Logger)

	return logger, nil
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// parseLevel maps a level name to slog.Level, defaulting to Info.
func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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
