package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/observability"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler handles HTTP requests.
type Handler struct {
	ledger    *domain.CreditLedger
	estimator *domain.UsageEstimator
	costs     *domain.OperationCostTable
	catalog   *domain.CreditPackageCatalog
	metered   *domain.MeteredService
}

// NewHandler creates a new HTTP handler (DI constructor).
func NewHandler(
	ledger *domain.CreditLedger,
	estimator *domain.UsageEstimator,
	costs *domain.OperationCostTable,
	catalog *domain.CreditPackageCatalog,
	metered *domain.MeteredService,
) *Handler {
	return &Handler{
		ledger:    ledger,
		estimator: estimator,
		costs:     costs,
		catalog:   catalog,
		metered:   metered,
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)

	mux.HandleFunc("GET /v1/packages", h.HandleListPackages)
	mux.HandleFunc("GET /v1/operations", h.HandleListOperations)
	mux.HandleFunc("POST /v1/estimates", h.HandleEstimate)

	mux.HandleFunc("POST /v1/accounts", h.HandleCreateAccount)
	mux.HandleFunc("GET /v1/accounts/{userID}/balance", h.HandleGetBalance)
	mux.HandleFunc("GET /v1/accounts/{userID}/transactions", h.HandleListTransactions)
	mux.HandleFunc("POST /v1/accounts/{userID}/shortfall", h.HandleShortfall)
	mux.HandleFunc("POST /v1/accounts/{userID}/usage", h.HandleChargeUsage)
	mux.HandleFunc("POST /v1/accounts/{userID}/credits", h.HandleAddCredits)
	mux.HandleFunc("PUT /v1/accounts/{userID}/organization", h.HandleAssignOrganization)
	mux.HandleFunc("POST /v1/accounts/{userID}/completions", h.HandleCompletion)

	mux.HandleFunc("POST /v1/organizations/{orgID}/credits", h.HandleAddOrganizationCredits)

	mux.HandleFunc("POST /v1/webhooks/purchases", h.HandlePurchaseWebhook)
}

// HandleHealth handles health check requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		// Already written status, can't change it, just log.
		observability.FromContext(r.Context()).Warn("failed to encode health response", observability.Error(err))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		observability.FromContext(r.Context()).Error("failed to encode response", observability.Error(err))
	}
}
