// Package shield provides the HTTP middleware stack of the rfpgen API:
// security headers, CORS, request tracing, upload body limits, per-IP rate
// limiting and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.Config{AllowedOrigins: []string{"*"}}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Config parameterises APIStack.
type Config struct {
	// AllowedOrigins for CORS. "*" allows any origin.
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For. Default: none.
	TrustedProxies TrustedProxies
	// Logger is the base logger for per-request loggers. Default: slog.Default().
	Logger *slog.Logger
}

// APIStack returns the standard middleware stack for the JSON API.
// Order: HeadToGet → SecurityHeaders → CORS → TraceID.
func APIStack(cfg Config) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		CORS(CORSConfig{AllowedOrigins: cfg.AllowedOrigins}),
		TraceIDWith(cfg.Logger, cfg.TrustedProxies),
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
