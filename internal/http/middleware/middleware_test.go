package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidbz/creditmeter/internal/config"
	"github.com/davidbz/creditmeter/internal/http/middleware"
	"github.com/davidbz/creditmeter/internal/observability"
)

func init() {
	observability.SetLogger(zap.NewNop())
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) middleware.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := middleware.Chain(tag("outer"), tag("inner"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestTrace(t *testing.T) {
	var seen string
	handler := middleware.Trace()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("should generate ids", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/packages", nil))

		require.Equal(t, http.StatusTeapot, w.Code)
		require.Len(t, w.Header().Get("X-Trace-Id"), 32)
		require.NotEmpty(t, w.Header().Get("X-Request-Id"))
		require.Equal(t, w.Header().Get("X-Request-Id"), seen)
	})

	t.Run("should keep an inbound request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/packages", nil)
		req.Header.Set("X-Request-Id", "retry-7")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		require.Equal(t, "retry-7", w.Header().Get("X-Request-Id"))
		require.Equal(t, "retry-7", seen)
	})
}

func TestRecover(t *testing.T) {
	t.Run("should answer 500 after a panic", func(t *testing.T) {
		handler := middleware.Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("ledger exploded")
		}))

		w := httptest.NewRecorder()
		require.NotPanics(t, func() {
			handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/accounts", nil))
		})

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
	})

	t.Run("should re-raise abort panics", func(t *testing.T) {
		handler := middleware.Recover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		require.PanicsWithValue(t, http.ErrAbortHandler, func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		})
	})
}

func TestMetrics(t *testing.T) {
	reg := observability.NewRegistry()
	metrics := observability.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/accounts/{userID}/balance", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := middleware.Metrics(metrics)(mux)

	for _, path := range []string{"/v1/accounts/a/balance", "/v1/accounts/b/balance", "/nowhere"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP creditmeter_http_requests_total HTTP requests by route and status code
# TYPE creditmeter_http_requests_total counter
creditmeter_http_requests_total{route="GET /v1/accounts/{userID}/balance",status="404"} 2
creditmeter_http_requests_total{route="unmatched",status="404"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "creditmeter_http_requests_total"))
}

func TestBuildMiddlewareChain_CORS(t *testing.T) {
	chain := middleware.BuildMiddlewareChain(&config.CORSConfig{
		AllowedOrigins: []string{"https://app.example.edu"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"X-Request-Id", "X-Trace-Id"},
	}, nil)
	handler := chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/packages", nil)
	req.Header.Set("Origin", "https://app.example.edu")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "https://app.example.edu", w.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
