package trace

import "net/http"

// HeaderKey carries a caller-supplied request ID.
const HeaderKey = "X-Request-Id"

// Middleware extracts or creates a trace context for HTTP requests and
// echoes the ID back on the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc := Context{RequestID: r.Header.Get(HeaderKey)}
		if tc.RequestID == "" {
			tc = New()
		}
		w.Header().Set(HeaderKey, tc.RequestID)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
	})
}
