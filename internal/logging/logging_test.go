package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Level:         "debug",
		FilePath:      filepath.Join(dir, "core.log"),
		MaxSizeMB:     1,
		MaxFiles:      2,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("opened database", "branch", "main", "nouns", 3)

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(data[:indexOfNewline(data)], &rec))
	require.Equal(t, "opened database", rec["msg"])
	require.Equal(t, "main", rec["branch"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for in, want := range cases {
		require.Equal(t, want, LevelFromString(in).String())
	}
}

func indexOfNewline(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return len(b)
}
