package middleware

import (
	"net/http"
	"time"

	"github.com/davidbz/creditmeter/internal/observability"
)

const unmatchedRoute = "unmatched"

// Metrics records request counts and latency per mux pattern. It must wrap the
// ServeMux directly so the matched pattern is visible once the call returns.
func Metrics(metrics *observability.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = unmatchedRoute
			}
			metrics.RecordRequest(route, rec.status, time.Since(start))
		})
	}
}
