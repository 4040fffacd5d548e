package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/rfpgen/idgen"
	"github.com/hazyhaar/rfpgen/kit"
)

// TraceID is TraceIDWith(nil, nil).
func TraceID(next http.Handler) http.Handler {
	return TraceIDWith(nil, nil)(next)
}

// TraceIDWith generates a random trace ID for each request and injects it
// into the context, the X-Trace-ID response header and a per-request logger
// derived from base. An incoming X-Request-ID is kept as the request ID,
// otherwise a "req_" ID is generated. The client IP stored in the context
// is resolved through proxies.
func TraceIDWith(base *slog.Logger, proxies TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base
			if logger == nil {
				logger = slog.Default()
			}

			id := make([]byte, 4)
			rand.Read(id)
			traceID := hex.EncodeToString(id)

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRemoteAddr(ctx, proxies.ClientIP(r))
			w.Header().Set("X-Trace-ID", traceID)

			attrs := []any{
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			}
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" || len(reqID) > 128 {
				reqID = newRequestID()
			}
			ctx = kit.WithRequestID(ctx, reqID)
			w.Header().Set("X-Request-ID", reqID)
			attrs = append(attrs, "request_id", reqID)
			reqLogger := logger.With(attrs...)
			ctx = context.WithValue(ctx, LoggerKey, reqLogger)
			reqLogger.Debug("request")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var newRequestID = idgen.Prefixed(idgen.PrefixRequest, idgen.NanoID(12))
