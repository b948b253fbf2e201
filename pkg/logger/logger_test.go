package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelWarn, // unrecognized levels default to warn, never error
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func openTempOutput(t *testing.T) (*os.File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f, path
}

func TestInit_SimpleFormatWritesLevelAndMessage(t *testing.T) {
	out, path := openTempOutput(t)
	Init(slog.LevelInfo, out, "simple")

	slog.Info("hello world", "key", "value")
	out.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "hello world")
	assert.Contains(t, line, "key=value")
}

func TestInit_RespectsMinLevel(t *testing.T) {
	out, path := openTempOutput(t)
	Init(slog.LevelWarn, out, "simple")

	slog.Info("should be filtered")
	slog.Warn("should appear")
	out.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.False(t, strings.Contains(content, "should be filtered"))
	assert.True(t, strings.Contains(content, "should appear"))
}

func TestGetLogger_InitializesDefaultWhenUnset(t *testing.T) {
	defaultLogger = nil
	l := GetLogger()
	assert.NotNil(t, l)
	assert.Same(t, l, GetLogger())
}

func TestOpenLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentcore.log")
	f, cleanup, err := OpenLogFile(path)
	require.NoError(t, err)
	defer cleanup()

	_, err = f.WriteString("line\n")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}
