// Package requestid tags every HTTP request with a correlation ID.
//
// The ID is read from the X-Request-ID header when the client sends a usable
// one, otherwise a UUIDv7 is generated. It is echoed back in the response,
// stored in the request context and picked up by the logger through
// LoggerExtractor, so log lines written while an event is processed can be
// tied to the request that sent it.
package requestid

import (
	"context"
	"log/slog"
)

// Header is the canonical request ID header.
const Header = "X-Request-ID"

type contextKey struct{}

func WithContext(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKey{}, requestID)
}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// LoggerExtractor adds request_id to log records written with a request context.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if id := FromContext(ctx); id != "" {
			return slog.String("request_id", id), true
		}
		return slog.Attr{}, false
	}
}
