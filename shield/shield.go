// Package shield provides the HTTP security middleware for the catalog
// API: security headers, request body limits, per-IP rate limiting for
// the protect/unprotect endpoints, and per-request trace logging.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxBody(100 << 20))
//	r.Use(shield.TraceID)
package shield

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// TraceKey is the context key for the request trace ID.
	TraceKey contextKey = "shield_trace"
)

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// GetTraceID retrieves the request trace ID from the context.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceKey).(string)
	return id
}
