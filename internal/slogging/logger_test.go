package slogging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{"debug lowercase", "debug", LogLevelDebug},
		{"debug uppercase", "DEBUG", LogLevelDebug},
		{"info lowercase", "info", LogLevelInfo},
		{"warn lowercase", "warn", LogLevelWarn},
		{"warning lowercase", "warning", LogLevelWarn},
		{"error lowercase", "error", LogLevelError},
		{"unknown defaults to info", "unknown", LogLevelInfo},
		{"empty defaults to info", "", LogLevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseLogLevel(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LogLevelDebug, "DEBUG"},
		{LogLevelInfo, "INFO"},
		{LogLevelWarn, "WARN"},
		{LogLevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.level.String()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestLogLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LogLevelDebug, slog.LevelDebug},
		{LogLevelInfo, slog.LevelInfo},
		{LogLevelWarn, slog.LevelWarn},
		{LogLevelError, slog.LevelError},
		{LogLevel(99), slog.LevelInfo}, // Unknown defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			result := tt.level.toSlogLevel()
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNewLoggerCreatesLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	logger, err := NewLogger(Config{
		Level:  LogLevelDebug,
		IsDev:  true,
		LogDir: dir,
	})
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	logger.Info("hello %s", "world")
	logger.Debug("debug message")
}

func TestLoggerLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(Config{
		Level:  LogLevelError,
		IsDev:  true,
		LogDir: dir,
	})
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	// These should be filtered out without touching the handler
	logger.Debug("filtered")
	logger.Info("filtered")
	logger.Warn("filtered")
	logger.Error("written")

	data, err := os.ReadFile(filepath.Join(dir, "codeloft.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
	assert.NotContains(t, string(data), "filtered")
}

func TestSanitizeLogMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain message", "hello world", "hello world"},
		{"newline injection", "user\nFAKE LOG LINE", "user FAKE LOG LINE"},
		{"carriage return", "a\r\nb", "a b"},
		{"tabs collapsed", "a\t\tb", "a b"},
		{"whitespace only", "  \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeLogMessage(tt.input))
		})
	}
}
