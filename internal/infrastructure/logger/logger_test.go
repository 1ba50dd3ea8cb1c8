package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{" warn ", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	l, err := New(&Config{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("record synced", zap.String(FieldIdentityKey, "VIN-1"))
	require.NoError(t, l.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(content)
	assert.Contains(t, line, `"msg":"record synced"`)
	assert.Contains(t, line, `"identity_key":"VIN-1"`)
	assert.Contains(t, line, `"level":"info"`)
}

func TestNew_UnwritableOutput(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open log output")
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestNew_ExtraCoreAndFields(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	path := filepath.Join(t.TempDir(), "tee.log")

	l, err := New(&Config{Level: "warn", Output: path},
		WithExtraCore(core),
		WithExtraCore(nil),
		WithFields(zap.String("service", "autoworld-crawl")),
	)
	require.NoError(t, err)

	l.Warn("limiter saturated")
	l.Debug("only the extra core sees this")

	entries := recorded.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "limiter saturated", entries[0].Message)
	assert.Equal(t, "autoworld-crawl", entries[0].ContextMap()["service"])

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "\n"), "file core keeps its own level")
}
