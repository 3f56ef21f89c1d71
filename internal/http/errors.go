package http

import (
	"errors"
	"net/http"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/observability"
)

type errorBody struct {
	Error string `json:"error"`
}

type insufficientBody struct {
	Error     string `json:"error"`
	Required  string `json:"required"`
	Available string `json:"available"`
	Shortfall string `json:"shortfall"`
}

// writeError maps domain failures to status codes. Insufficient credits is a
// business outcome and carries the amounts so clients can prompt a purchase.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficient *domain.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		writeJSON(w, r, http.StatusPaymentRequired, insufficientBody{
			Error:     domain.ErrInsufficientCredits.Error(),
			Required:  credits(insufficient.Required),
			Available: credits(insufficient.Available),
			Shortfall: credits(insufficient.Shortfall()),
		})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).Error("request failed", observability.Error(err))
	}
	writeJSON(w, r, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrProviderNotFound):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownOperation),
		errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrOrganizationNotFound),
		errors.Is(err, domain.ErrPackageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAccountExists),
		errors.Is(err, domain.ErrDuplicateTransaction),
		errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
