package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const TraceIDKey contextKey = "trace_id"
const SessionIDKey contextKey = "session_id"
const TurnIDKey contextKey = "turn_id"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TurnIDKey, id)
}

func GetTurnID(ctx context.Context) string {
	if id, ok := ctx.Value(TurnIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the default logger annotated with whatever ids ctx carries.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := GetTraceID(ctx); id != "" {
		l = l.With("trace_id", id)
	}
	if id := GetSessionID(ctx); id != "" {
		l = l.With("session_id", id)
	}
	if id := GetTurnID(ctx); id != "" {
		l = l.With("turn_id", id)
	}
	return l
}
