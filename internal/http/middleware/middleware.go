// Package middleware holds the HTTP middleware wrapped around the credit API.
package middleware

import (
	"net/http"

	"github.com/davidbz/creditmeter/internal/config"
	"github.com/davidbz/creditmeter/internal/observability"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares. The first one is the outermost wrapper.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// BuildMiddlewareChain composes the production chain (DI constructor).
// Order: CORS, Trace, Recover, Metrics. Metrics sits next to the mux so it
// can read the matched pattern.
func BuildMiddlewareChain(corsConfig *config.CORSConfig, metrics *observability.Metrics) Middleware {
	return Chain(
		CORS(corsConfig),
		Trace(),
		Recover(),
		Metrics(metrics),
	)
}
