package middleware

import (
	"net/http"

	"github.com/davidbz/creditmeter/internal/observability"
)

// Recover turns a handler panic into a logged 500 response.
// http.ErrAbortHandler is re-raised for net/http to handle.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(v)
				}

				observability.FromContext(r.Context()).Error("handler panicked",
					observability.Any("panic", v))
				if !rec.wroteHeader {
					w.Header().Set("Content-Type", "application/json")
					rec.WriteHeader(http.StatusInternalServerError)
					_, _ = rec.Write([]byte(`{"error":"internal error"}` + "\n"))
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
