package shield

import "net/http"

// MaxBody returns middleware that caps the request body size. Uploads and
// data-URL frames are the largest legitimate bodies; anything beyond the
// cap fails the handler's read with a 413-convertible error.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
