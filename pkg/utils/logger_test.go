package utils

import (
	"bytes"
	"path/filepath"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"Info", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestDefaultLogger_FilterByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelWarn, buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "[WARN] warn message")
	assert.Contains(t, output, "[ERROR] error message")
}

func TestDefaultLogger_FieldsAreSorted(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	logger.WithFields(map[string]interface{}{
		"upid":  3,
		"kind":  "cpu",
		"trace": "t1",
	}).Info("exported")

	assert.Contains(t, buf.String(), "[INFO] kind=cpu trace=t1 upid=3 exported")
}

func TestDefaultLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	buf := &bytes.Buffer{}
	parent := NewDefaultLogger(LevelInfo, buf)

	parent.WithField("child", true).Info("from child")
	parent.Info("from parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "child=true")
	assert.NotContains(t, lines[1], "child=true")
}

func TestDefaultLogger_Formatting(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	logger.Info("count: %d, name: %s", 42, "test")
	logger.Info("literal 100%")

	output := buf.String()
	assert.Contains(t, output, "count: 42, name: test")
	assert.Contains(t, output, "literal 100%")
}

func TestDefaultLogger_SetLevelAffectsDerived(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)
	derived := logger.WithField("k", "v")

	derived.Debug("debug 1")
	assert.NotContains(t, buf.String(), "debug 1")

	logger.SetLevel(LevelDebug)
	derived.Debug("debug 2")
	assert.Contains(t, buf.String(), "debug 2")
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")

	logger, err := NewFileLogger(LevelInfo, path)
	require.NoError(t, err)
	logger.Info("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNullLogger(t *testing.T) {
	logger := &NullLogger{}

	logger.Debug("debug")
	logger.Error("error")

	assert.Equal(t, logger, logger.WithField("key", "value"))
	assert.Equal(t, logger, logger.WithFields(map[string]interface{}{"key": "value"}))
}

func TestOrNull(t *testing.T) {
	assert.IsType(t, &NullLogger{}, OrNull(nil))

	l := NewDefaultLogger(LevelInfo, &bytes.Buffer{})
	assert.Equal(t, Logger(l), OrNull(l))
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	buf := &bytes.Buffer{}
	SetGlobalLogger(NewDefaultLogger(LevelInfo, buf))
	GetGlobalLogger().Info("global log")

	assert.Contains(t, buf.String(), "global log")
}
