package http

import (
	"net/http"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/observability"
)

type completionRequest struct {
	Operation string                   `json:"operation"`
	Request   domain.CompletionRequest `json:"request"`
}

type purchaseWebhookRequest struct {
	UserID    string `json:"user_id"`
	PackageID string `json:"package_id"`
	EventID   string `json:"event_id,omitempty"`
}

// HandleCompletion runs a metered AI call for the user.
func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Request.Model == "" {
		writeJSON(w, r, http.StatusBadRequest, errorBody{Error: "model is required"})
		return
	}

	ctx := observability.WithModel(r.Context(), req.Request.Model)
	logger := observability.FromContext(ctx)
	logger.Info("completion request received",
		observability.String("operation", req.Operation),
		observability.Int("messages", len(req.Request.Messages)),
	)

	result, err := h.metered.Complete(ctx, r.PathValue("userID"), req.Operation, &req.Request)
	if err != nil {
		writeError(w, r.WithContext(ctx), err)
		return
	}

	writeJSON(w, r, http.StatusOK, completionView{
		Completion:    result.Completion,
		EstimatedCost: credits(result.EstimatedCost),
		ChargedCost:   credits(result.ChargedCost),
		Balance:       newBalanceView(result.Balance),
	})
}

// HandlePurchaseWebhook credits a confirmed package purchase.
func (h *Handler) HandlePurchaseWebhook(w http.ResponseWriter, r *http.Request) {
	var req purchaseWebhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pkg, err := h.catalog.Get(req.PackageID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	amount, balance, err := h.ledger.CreditPurchase(r.Context(), req.UserID, req.EventID, pkg)
	if err != nil {
		writeError(w, r, err)
		return
	}

	observability.FromContext(observability.WithUserID(r.Context(), req.UserID)).Info("purchase credited",
		observability.String("package_id", pkg.ID),
		observability.String("credits", credits(amount)))

	writeJSON(w, r, http.StatusOK, purchaseView{
		Package:      newPackageView(pkg),
		CreditsAdded: credits(amount),
		Balance:      newBalanceView(balance),
	})
}
