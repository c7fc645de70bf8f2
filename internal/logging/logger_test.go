package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peergrade.log")
	logger, err := New("info", "json", path)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("aggregated", zap.String("student", "s1"))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "aggregated", entry["message"])
	assert.Equal(t, "s1", entry["student"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		output string
		want   string
	}{
		{"bad level", "loud", "stdout", "invalid log level"},
		{"bad path", "info", filepath.Join(t.TempDir(), "missing", "x.log"), "failed to open log file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.level, "console", tt.output)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNew_StandardStreams(t *testing.T) {
	for _, out := range []string{"", "stdout", "stderr"} {
		logger, err := New("warn", "console", out)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}
}
