package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/observability"
)

type createAccountRequest struct {
	UserID string      `json:"user_id"`
	Tier   domain.Tier `json:"tier"`
}

type usageRequest struct {
	Operation    string `json:"operation"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

type addCreditsRequest struct {
	Amount decimal.Decimal        `json:"amount"`
	Kind   domain.TransactionKind `json:"kind"`
	Reason string                 `json:"reason"`
}

type assignOrganizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

type organizationCreditsRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// HandleCreateAccount opens an account with its tier allotment.
func (h *Handler) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Tier == "" {
		req.Tier = domain.TierFree
	}

	balance, err := h.ledger.GrantTierDefault(r.Context(), req.UserID, req.Tier)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, newBalanceView(balance))
}

// HandleGetBalance returns the user's balance.
func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.ledger.GetBalance(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, newBalanceView(balance))
}

// HandleListTransactions returns the user's ledger entries, oldest first.
func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.ledger.Transactions(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, newTransactionView(tx))
	}
	writeJSON(w, r, http.StatusOK, views)
}

// HandleShortfall reports whether the user can afford a plan.
func (h *Handler) HandleShortfall(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	shortfall, err := h.estimator.Shortfall(r.Context(), r.PathValue("userID"), req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, newShortfallView(shortfall))
}

// HandleChargeUsage bills measured usage reported by an AI call made elsewhere.
func (h *Handler) HandleChargeUsage(w http.ResponseWriter, r *http.Request) {
	var req usageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := observability.WithOperation(r.Context(), req.Operation)
	usage := domain.TokenUsage{InputTokens: req.InputTokens, OutputTokens: req.OutputTokens}

	cost, balance, err := h.ledger.ChargeUsage(ctx, r.PathValue("userID"), req.Operation, usage)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, chargeView{Cost: credits(cost), Balance: newBalanceView(balance)})
}

// HandleAddCredits grants or refunds credits. Purchases go through the webhook.
func (h *Handler) HandleAddCredits(w http.ResponseWriter, r *http.Request) {
	var req addCreditsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Kind != domain.KindTierGrant && req.Kind != domain.KindRefund {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: "kind must be tier_grant or refund"})
		return
	}

	balance, err := h.ledger.Add(r.Context(), r.PathValue("userID"), req.Amount, req.Kind, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, newBalanceView(balance))
}

// HandleAssignOrganization links the user to an organization pool.
func (h *Handler) HandleAssignOrganization(w http.ResponseWriter, r *http.Request) {
	var req assignOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	userID := r.PathValue("userID")
	if err := h.ledger.AssignOrganization(r.Context(), userID, req.OrganizationID); err != nil {
		writeError(w, r, err)
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, newBalanceView(balance))
}

// HandleAddOrganizationCredits funds an organization pool, creating it if needed.
func (h *Handler) HandleAddOrganizationCredits(w http.ResponseWriter, r *http.Request) {
	var req organizationCreditsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	orgID := r.PathValue("orgID")
	total, err := h.ledger.AddOrganizationCredits(r.Context(), orgID, req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, organizationView{OrganizationID: orgID, Credits: credits(total)})
}
