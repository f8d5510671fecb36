// Copyright (C) 2025 Halcyon Works (oss@halcyonworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_StderrOnly(t *testing.T) {
	logger, err := Setup(Config{Service: "test-service"})

	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Nil(t, logger.file, "no LogDir means no file")
	assert.NoError(t, logger.Close(), "close is a no-op without a file")
}

func TestSetup_WritesJSONFile(t *testing.T) {
	logDir := t.TempDir()

	logger, err := Setup(Config{Service: "test-service", LogDir: logDir})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("startup complete", "port", 12210)

	name := fmt.Sprintf("test-service_%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(logDir, name))
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &entry), "log lines must be JSON")
	assert.Equal(t, "startup complete", entry["msg"])
	assert.Equal(t, "test-service", entry["service"])
	assert.Equal(t, float64(12210), entry["port"])
}

func TestSetup_CreatesLogDir(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "nested", "logs")

	logger, err := Setup(Config{Service: "svc", LogDir: logDir})
	require.NoError(t, err)
	defer logger.Close()

	assert.DirExists(t, logDir)
}

func TestSetup_LevelFiltering(t *testing.T) {
	logDir := t.TempDir()

	logger, err := Setup(Config{Service: "svc", LogDir: logDir, Level: "warn"})
	require.NoError(t, err)
	defer logger.Close()

	logger.Info("below threshold")
	logger.Warn("at threshold")

	name := fmt.Sprintf("svc_%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(logDir, name))
	require.NoError(t, err)

	assert.NotContains(t, string(data), "below threshold")
	assert.Contains(t, string(data), "at threshold")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.name), "level=%q", tt.name)
	}
}
