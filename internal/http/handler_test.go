package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davidbz/creditmeter/internal/config"
	"github.com/davidbz/creditmeter/internal/domain"
	httpapi "github.com/davidbz/creditmeter/internal/http"
	"github.com/davidbz/creditmeter/internal/http/middleware"
	"github.com/davidbz/creditmeter/internal/observability"
	"github.com/davidbz/creditmeter/internal/provider/echo"
	"github.com/davidbz/creditmeter/internal/provider/registry"
	"github.com/davidbz/creditmeter/internal/storage/memory"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	observability.SetLogger(zap.NewNop())

	model, err := domain.NewTokenCostModel(domain.PricingConfig{InputRatePer1K: 0.3, OutputRatePer1K: 1.5})
	require.NoError(t, err)
	costs, err := domain.NewOperationCostTable(model, domain.DefaultOperationProfiles())
	require.NoError(t, err)
	catalog, err := domain.NewCreditPackageCatalog(domain.DefaultCreditPackages())
	require.NoError(t, err)

	reg := observability.NewRegistry()
	metrics := observability.NewMetrics(reg)
	bus := observability.NewEventBus(metrics)
	ledger := domain.NewCreditLedger(memory.NewStore(), costs, model, domain.DefaultTierGrants(), bus)

	providers := registry.NewRegistry()
	require.NoError(t, providers.Register(context.Background(), echo.NewProvider()))

	handler := httpapi.NewHandler(
		ledger,
		domain.NewUsageEstimator(costs, ledger, catalog),
		costs,
		catalog,
		domain.NewMeteredService(providers, ledger),
	)

	server := httpapi.NewServer(
		&config.ServerConfig{Port: 0},
		handler,
		middleware.BuildMiddlewareChain(&config.CORSConfig{AllowedOrigins: []string{"*"}}, metrics),
		reg,
	)
	return server.Routes()
}

func do(t *testing.T, api http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	api.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&out))
	return out
}

func createAccount(t *testing.T, api http.Handler, userID, tier string) {
	t.Helper()

	w := do(t, api, http.MethodPost, "/v1/accounts", `{"user_id":"`+userID+`","tier":"`+tier+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	w := do(t, api, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "healthy", decode[map[string]string](t, w)["status"])
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
	require.NotEmpty(t, w.Header().Get("X-Trace-Id"))
}

func TestHandleListPackages(t *testing.T) {
	api := newTestAPI(t)

	w := do(t, api, http.MethodGet, "/v1/packages", "")
	require.Equal(t, http.StatusOK, w.Code)

	packages := decode[[]map[string]any](t, w)
	require.Len(t, packages, 4)
	require.Equal(t, "starter", packages[0]["id"])
	require.Equal(t, "medium", packages[1]["id"])
	require.EqualValues(t, 275, packages[1]["total_credits"])
	require.Equal(t, "25.00", packages[1]["price_usd"])
	require.Equal(t, "0.0909", packages[1]["price_per_credit"])
}

func TestHandleListOperations(t *testing.T) {
	api := newTestAPI(t)

	w := do(t, api, http.MethodGet, "/v1/operations", "")
	require.Equal(t, http.StatusOK, w.Code)

	ops := decode[[]map[string]any](t, w)
	require.Len(t, ops, 6)
	require.Equal(t, "generate_question", ops[0]["name"])
	require.Equal(t, "Question Generation", ops[0]["display_name"])
	require.Equal(t, "1.35", ops[0]["estimated_cost"])
	require.Equal(t, "1.20", ops[5]["estimated_cost"])
}

func TestHandleEstimate(t *testing.T) {
	api := newTestAPI(t)

	t.Run("should price the plan", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/estimates",
			`{"items":[{"operation":"generate_question","count":5},{"operation":"grade_submission","count":2}]}`)
		require.Equal(t, http.StatusOK, w.Code)

		body := decode[map[string]any](t, w)
		require.Equal(t, "9.45", body["total"])
		breakdown := body["breakdown"].([]any)
		require.Len(t, breakdown, 2)
		require.Equal(t, "6.75", breakdown[0].(map[string]any)["cost"])
		require.Equal(t, "AI Grading", breakdown[1].(map[string]any)["display_name"])
	})

	t.Run("should 404 on unknown operations", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/estimates", `{"items":[{"operation":"translate_quiz","count":1}]}`)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("should 400 on malformed input", func(t *testing.T) {
		require.Equal(t, http.StatusBadRequest,
			do(t, api, http.MethodPost, "/v1/estimates", `{"items":`).Code)
		require.Equal(t, http.StatusBadRequest,
			do(t, api, http.MethodPost, "/v1/estimates", `{"plan":[]}`).Code)
		require.Equal(t, http.StatusBadRequest,
			do(t, api, http.MethodPost, "/v1/estimates", `{"items":[{"operation":"Bad Name","count":1}]}`).Code)
	})
}

func TestHandleCreateAccount(t *testing.T) {
	api := newTestAPI(t)

	w := do(t, api, http.MethodPost, "/v1/accounts", `{"user_id":"user-1","tier":"pro"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "500.00", decode[map[string]any](t, w)["personal_credits"])

	w = do(t, api, http.MethodPost, "/v1/accounts", `{"user_id":"user-1","tier":"free"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = do(t, api, http.MethodPost, "/v1/accounts", `{"user_id":"user-2"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "50.00", decode[map[string]any](t, w)["personal_credits"])

	w = do(t, api, http.MethodPost, "/v1/accounts", `{"user_id":"user-3","tier":"enterprise"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetBalance(t *testing.T) {
	api := newTestAPI(t)
	createAccount(t, api, "user-1", "free")

	w := do(t, api, http.MethodGet, "/v1/accounts/user-1/balance", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	require.Equal(t, "user-1", body["user_id"])
	require.Equal(t, "50.00", body["personal_credits"])
	require.Equal(t, "0.00", body["organization_credits"])
	require.Equal(t, "50.00", body["total_credits"])

	w = do(t, api, http.MethodGet, "/v1/accounts/ghost/balance", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleChargeUsage(t *testing.T) {
	api := newTestAPI(t)
	createAccount(t, api, "user-1", "free")

	t.Run("should bill exact usage", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/accounts/user-1/usage",
			`{"operation":"generate_question","input_tokens":2200,"output_tokens":550}`)
		require.Equal(t, http.StatusOK, w.Code)

		body := decode[map[string]any](t, w)
		require.Equal(t, "1.49", body["cost"])
		require.Equal(t, "48.51", body["balance"].(map[string]any)["personal_credits"])
	})

	t.Run("should return 402 with the shortfall", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/accounts/user-1/usage",
			`{"operation":"grade_submission","input_tokens":100000,"output_tokens":20000}`)
		require.Equal(t, http.StatusPaymentRequired, w.Code)

		body := decode[map[string]string](t, w)
		require.Equal(t, "60.00", body["required"])
		require.Equal(t, "48.51", body["available"])
		require.Equal(t, "11.49", body["shortfall"])
	})

	t.Run("should reject negative usage", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/accounts/user-1/usage",
			`{"operation":"generate_question","input_tokens":-1,"output_tokens":0}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should reject operations outside the cost table", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/accounts/user-1/usage",
			`{"operation":"Not A Valid Op!!","input_tokens":1000,"output_tokens":1000}`)
		require.Equal(t, http.StatusBadRequest, w.Code)

		w = do(t, api, http.MethodPost, "/v1/accounts/user-1/usage",
			`{"operation":"no_such_op","input_tokens":1000,"output_tokens":1000}`)
		require.Equal(t, http.StatusNotFound, w.Code)

		w = do(t, api, http.MethodGet, "/v1/accounts/user-1/balance", "")
		require.Equal(t, "48.51", decode[map[string]any](t, w)["personal_credits"])
	})
}

func TestHandleAddCredits(t *testing.T) {
	api := newTestAPI(t)
	createAccount(t, api, "user-1", "free")

	w := do(t, api, http.MethodPost, "/v1/accounts/user-1/credits", `{"amount":"1.49","kind":"refund","reason":"failed call"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "51.49", decode[map[string]any](t, w)["personal_credits"])

	w = do(t, api, http.MethodPost, "/v1/accounts/user-1/credits", `{"amount":100,"kind":"purchase"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, api, http.MethodPost, "/v1/accounts/user-1/credits", `{"amount":0,"kind":"refund"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, api, http.MethodPost, "/v1/accounts/user-1/credits", `{"amount":0.005,"kind":"refund"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, api, http.MethodPost, "/v1/organizations/district-9/credits", `{"amount":"12.345"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePurchaseWebhook(t *testing.T) {
	api := newTestAPI(t)
	createAccount(t, api, "user-1", "free")

	w := do(t, api, http.MethodPost, "/v1/webhooks/purchases", `{"user_id":"user-1","package_id":"large"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	require.Equal(t, "575.00", body["credits_added"])
	require.Equal(t, "625.00", body["balance"].(map[string]any)["personal_credits"])

	w = do(t, api, http.MethodGet, "/v1/accounts/user-1/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	txs := decode[[]map[string]any](t, w)
	require.Len(t, txs, 2)
	require.Equal(t, "purchase", txs[1]["kind"])
	require.Equal(t, "575.00", txs[1]["amount"])
	require.Equal(t, "large", txs[1]["related_operation"])

	w = do(t, api, http.MethodPost, "/v1/webhooks/purchases", `{"user_id":"user-1","package_id":"platinum"}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, api, http.MethodPost, "/v1/webhooks/purchases", `{"user_id":"ghost","package_id":"starter"}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	t.Run("should credit a redelivered event once", func(t *testing.T) {
		event := `{"user_id":"user-1","package_id":"large","event_id":"evt_42"}`

		w := do(t, api, http.MethodPost, "/v1/webhooks/purchases", event)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "1200.00", decode[map[string]any](t, w)["balance"].(map[string]any)["personal_credits"])

		w = do(t, api, http.MethodPost, "/v1/webhooks/purchases", event)
		require.Equal(t, http.StatusConflict, w.Code)

		w = do(t, api, http.MethodGet, "/v1/accounts/user-1/balance", "")
		require.Equal(t, "1200.00", decode[map[string]any](t, w)["personal_credits"])
	})
}

func TestHandleShortfall(t *testing.T) {
	api := newTestAPI(t)
	createAccount(t, api, "user-1", "free")

	w := do(t, api, http.MethodPost, "/v1/accounts/user-1/shortfall",
		`{"items":[{"operation":"grade_submission","count":30},{"operation":"generate_rubric","count":10}]}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	require.Equal(t, true, body["needs_more"])
	require.Equal(t, "57.00", body["required"])
	require.Equal(t, "7.00", body["deficit"])
	require.Equal(t, "11.00", body["suggested_purchase"])
	require.Equal(t, "starter", body["suggested_package"].(map[string]any)["id"])
}

func TestHandleCompletion(t *testing.T) {
	api := newTestAPI(t)
	createAccount(t, api, "user-1", "free")

	t.Run("should meter an echo completion", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/accounts/user-1/completions",
			`{"operation":"generate_feedback","request":{"model":"echo4","messages":[{"role":"user","content":"Hello world"}]}}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		body := decode[map[string]any](t, w)
		require.Equal(t, "1.20", body["estimated_cost"])
		require.Equal(t, "0.01", body["charged_cost"])
		require.Equal(t, "49.99", body["balance"].(map[string]any)["personal_credits"])
		require.Equal(t, "[user]: Hello world\n", body["completion"].(map[string]any)["content"])
	})

	t.Run("should 400 when no provider serves the model", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/accounts/user-1/completions",
			`{"operation":"generate_feedback","request":{"model":"gpt-9","messages":[]}}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should 400 without a model", func(t *testing.T) {
		w := do(t, api, http.MethodPost, "/v1/accounts/user-1/completions",
			`{"operation":"generate_feedback","request":{"messages":[]}}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("should 402 when the estimate is unaffordable", func(t *testing.T) {
		createAccount(t, api, "user-broke", "free")
		w := do(t, api, http.MethodPost, "/v1/accounts/user-broke/usage",
			`{"operation":"generate_question","input_tokens":10000,"output_tokens":31000}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = do(t, api, http.MethodPost, "/v1/accounts/user-broke/completions",
			`{"operation":"generate_question","request":{"model":"echo4","messages":[]}}`)
		require.Equal(t, http.StatusPaymentRequired, w.Code)
		require.Equal(t, "1.35", decode[map[string]string](t, w)["required"])
	})
}

func TestHandleOrganizations(t *testing.T) {
	api := newTestAPI(t)
	createAccount(t, api, "user-1", "free")

	w := do(t, api, http.MethodPut, "/v1/accounts/user-1/organization", `{"organization_id":"district-9"}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, api, http.MethodPost, "/v1/organizations/district-9/credits", `{"amount":200}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "200.00", decode[map[string]any](t, w)["credits"])

	w = do(t, api, http.MethodPut, "/v1/accounts/user-1/organization", `{"organization_id":"district-9"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	require.Equal(t, "district-9", body["organization_id"])
	require.Equal(t, "250.00", body["total_credits"])
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	createAccount(t, api, "user-1", "free")

	w := do(t, api, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `creditmeter_credits_added_total{kind="tier_grant"} 50`)
	require.Contains(t, w.Body.String(), `creditmeter_http_requests_total{route="POST /v1/accounts",status="201"} 1`)
}
