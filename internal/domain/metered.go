package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidbz/creditmeter/internal/observability"
)

// MeteredService runs AI calls against a user's credits: a pre-flight check
// on the estimate, the provider call, then a charge for the measured usage.
type MeteredService struct {
	registry ProviderRegistry
	ledger   *CreditLedger
}

// NewMeteredService creates a new metered service (DI constructor).
func NewMeteredService(registry ProviderRegistry, ledger *CreditLedger) *MeteredService {
	return &MeteredService{
		registry: registry,
		ledger:   ledger,
	}
}

// Complete performs one metered completion. The charged amount is always the
// exact cost of the reported usage, never the estimate.
func (m *MeteredService) Complete(
	ctx context.Context,
	userID string,
	operation string,
	req *CompletionRequest,
) (*MeteredResponse, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}

	if req.Model == "" {
		return nil, invalidArgument("model cannot be empty")
	}

	ctx = observability.WithUserID(ctx, userID)
	ctx = observability.WithOperation(ctx, operation)
	ctx = observability.WithModel(ctx, req.Model)
	logger := observability.FromContext(ctx)

	affordable, estimated, err := m.ledger.CanAfford(ctx, userID, operation)
	if err != nil {
		return nil, err
	}
	if !affordable {
		balance, balanceErr := m.ledger.GetBalance(ctx, userID)
		if balanceErr != nil {
			return nil, balanceErr
		}
		logger.Info("pre-flight check rejected call",
			observability.String("estimated", estimated.StringFixed(2)))
		return nil, &InsufficientCreditsError{Required: estimated, Available: balance.Total()}
	}

	provider, err := m.registry.GetByModel(ctx, req.Model)
	if err != nil {
		return nil, fmt.Errorf("provider routing failed: %w", err)
	}

	response, err := provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}

	charged, balance, err := m.ledger.ChargeUsage(ctx, userID, operation, response.Usage)
	if err != nil {
		// The completion is withheld when it cannot be paid for.
		logger.Warn("completion could not be charged",
			observability.Int("input_tokens", response.Usage.InputTokens),
			observability.Int("output_tokens", response.Usage.OutputTokens),
			observability.Error(err))
		return nil, err
	}

	logger.Info("metered completion succeeded",
		observability.String("estimated", estimated.StringFixed(2)),
		observability.String("charged", charged.StringFixed(2)))

	return &MeteredResponse{
		Completion:    response,
		EstimatedCost: estimated,
		ChargedCost:   charged,
		Balance:       balance,
	}, nil
}
