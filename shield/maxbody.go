package shield

import (
	"errors"
	"io"
	"net/http"
)

// MaxBody returns middleware that caps the request body at maxBytes.
// Reads past the cap fail with *http.MaxBytesError, which handlers map to
// 413 with IsTooLarge.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				io.WriteString(w, `{"detail":"Upload too large"}`+"\n")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// IsTooLarge reports whether err came from a body capped by MaxBody.
func IsTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
