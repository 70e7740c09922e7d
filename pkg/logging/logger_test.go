package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"fatal", FATAL},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WARN, false)
	logger.SetOutput(&buf)

	logger.Debug("cycle 1")
	logger.Info("repetition done")
	assert.Empty(t, buf.String())

	logger.Warn("cap reached")
	assert.Contains(t, buf.String(), "WARN: cap reached")
	assert.False(t, logger.Enabled(INFO))
	assert.True(t, logger.Enabled(ERROR))
}

func TestLogger_JSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DEBUG, true)
	logger.SetOutput(&buf)

	logger.WithField("repetition", 3).Info("drained", Fields{"cycles": 14})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "drained", entry.Message)
	assert.EqualValues(t, 3, entry.Fields["repetition"])
	assert.EqualValues(t, 14, entry.Fields["cycles"])
}

func TestLogger_WithFieldSharesOutput(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(INFO, false)
	child := parent.WithField("run", "abc")
	parent.SetOutput(&buf)

	child.Info("hello")
	assert.True(t, strings.Contains(buf.String(), "run:abc"))
}

func TestNewFileLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(dir, "farmsim", INFO, false)
	require.NoError(t, err)

	logger.Info("written to file")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "farmsim.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNop(t *testing.T) {
	logger := Nop()
	assert.False(t, logger.Enabled(FATAL))
	logger.Error("ignored")
}
