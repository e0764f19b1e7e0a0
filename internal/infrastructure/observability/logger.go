package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

func InitLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ContextWithAttrs stores attributes that WithContext adds to every logger
// derived from ctx, e.g. the request id.
func ContextWithAttrs(ctx context.Context, attrs ...any) context.Context {
	prev, _ := ctx.Value(ctxKey{}).([]any)
	merged := make([]any, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

func WithContext(ctx context.Context, attrs ...any) *slog.Logger {
	logger := slog.Default()
	if stored, ok := ctx.Value(ctxKey{}).([]any); ok {
		logger = logger.With(stored...)
	}
	if len(attrs) > 0 {
		logger = logger.With(attrs...)
	}
	return logger
}
