package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidArgument marks caller bugs: negative tokens, non-positive amounts, malformed identifiers.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownOperation indicates the operation is not in the cost table.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrInsufficientCredits indicates the balance cannot cover a deduction.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrConcurrencyConflict indicates optimistic retries were exhausted. Callers may try again.
	ErrConcurrencyConflict = errors.New("concurrent balance update, try again")

	// ErrStorage wraps failures of the persistence backend.
	ErrStorage = errors.New("ledger storage failure")

	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrDuplicateTransaction = errors.New("transaction already recorded")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrPackageNotFound      = errors.New("credit package not found")
	ErrProviderNotFound     = errors.New("provider not found")
)

// InsufficientCreditsError carries the amounts involved in a rejected deduction.
type InsufficientCreditsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

// Shortfall returns how many credits are missing.
func (e *InsufficientCreditsError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %s, available %s",
		e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// Is makes errors.Is(err, ErrInsufficientCredits) match.
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
