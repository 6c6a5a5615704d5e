package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextIDsRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithTurnID(ctx, "turn-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))
	assert.Equal(t, "turn-1", GetTurnID(ctx))
	assert.Empty(t, GetTraceID(context.Background()))
}

func TestFromContextAnnotatesRecords(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "debug"))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := WithSessionID(context.Background(), "sess-42")
	FromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), "sess-42")
	assert.Contains(t, buf.String(), "hello")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}
