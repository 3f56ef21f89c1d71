package http

import (
	"net/http"

	"github.com/davidbz/creditmeter/internal/domain"
)

type estimateRequest struct {
	Items []domain.PlanItem `json:"items"`
}

// HandleListPackages lists purchasable packages in catalog order.
func (h *Handler) HandleListPackages(w http.ResponseWriter, r *http.Request) {
	packages := h.catalog.List()
	views := make([]packageView, 0, len(packages))
	for _, pkg := range packages {
		views = append(views, newPackageView(pkg))
	}
	writeJSON(w, r, http.StatusOK, views)
}

// HandleListOperations lists operations with their estimated per-use cost.
func (h *Handler) HandleListOperations(w http.ResponseWriter, r *http.Request) {
	names := h.costs.Operations()
	views := make([]operationView, 0, len(names))
	for _, name := range names {
		profile, err := h.costs.Profile(name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		cost, err := h.costs.EstimatedCost(name)
		if err != nil {
			writeError(w, r, err)
			return
		}
		views = append(views, operationView{
			Name:          name,
			DisplayName:   h.costs.DisplayName(name),
			InputTokens:   profile.InputTokens,
			OutputTokens:  profile.OutputTokens,
			EstimatedCost: credits(cost),
		})
	}
	writeJSON(w, r, http.StatusOK, views)
}

// HandleEstimate prices a plan without touching any balance.
func (h *Handler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	estimate, err := h.estimator.Estimate(req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, h.estimateView(estimate))
}

func (h *Handler) estimateView(estimate domain.Estimate) estimateView {
	view := estimateView{
		Total:     credits(estimate.Total),
		Breakdown: make([]estimateLineView, 0, len(estimate.Breakdown)),
	}
	for _, line := range estimate.Breakdown {
		view.Breakdown = append(view.Breakdown, estimateLineView{
			Operation:   line.Operation,
			DisplayName: h.costs.DisplayName(line.Operation),
			Count:       line.Count,
			Cost:        credits(line.Cost),
		})
	}
	return view
}
