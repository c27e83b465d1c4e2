package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_Levels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewZap(zap.New(core))

	l.Debug("dropped", nil)
	l.Info("batch started", map[string]any{"items": 3})
	l.Warn("item failed", map[string]any{"index": 1, "error": errors.New("boom")})
	l.Error("aborted", nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)

	assert.Equal(t, "batch started", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["items"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestWith(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewZap(zap.New(core))

	l := With(base, map[string]any{"batch_id": "b-1"})
	l.Info("item done", map[string]any{"index": 0})
	l.Debug("item done", map[string]any{"batch_id": "override"})

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "b-1", entries[0].ContextMap()["batch_id"])
	assert.Equal(t, int64(0), entries[0].ContextMap()["index"])
	assert.Equal(t, "override", entries[1].ContextMap()["batch_id"])

	assert.Same(t, base, With(base, nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	assert.NotPanics(t, func() {
		l.Info("ignored", map[string]any{"k": "v"})
	})
	assert.NotNil(t, NewZapLogger("debug"))
}
