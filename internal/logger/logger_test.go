package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestModuleNameAndFiltering(t *testing.T) {
	level := zap.NewAtomicLevelAt(INFO.zapLevel())
	core, logs := observer.New(level)
	l := newWithCore(core, level)

	l.Debug("Source", "hidden %d", 1)
	l.Info("Source", "batch with %d labels", 2)
	l.Error("Dispatcher", "handler for %q panicked", "face")

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "Source", entries[0].LoggerName)
	assert.Equal(t, "batch with 2 labels", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "Dispatcher", entries[1].LoggerName)
}

func TestSetLevel(t *testing.T) {
	level := zap.NewAtomicLevelAt(INFO.zapLevel())
	core, logs := observer.New(level)
	l := newWithCore(core, level)

	l.SetLevel(DEBUG)
	assert.Equal(t, DEBUG, l.GetLevel())
	l.Debug("Bridge", "visible")
	assert.Equal(t, 1, logs.Len())

	l.SetLevel(SILENT)
	assert.Equal(t, SILENT, l.GetLevel())
	l.Error("Bridge", "dropped")
	assert.Equal(t, 1, logs.Len())
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(INFO, &buf, false)
	l.Warn("Threshold", "rejected %v", 1.5)
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.True(t, strings.Contains(out, "WARN"), out)
	assert.True(t, strings.Contains(out, "Threshold"), out)
	assert.True(t, strings.Contains(out, "rejected 1.5"), out)
}
