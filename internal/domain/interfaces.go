package domain

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/davidbz/creditmeter/internal/observability"
)

// LedgerStore persists balances and transactions. ApplyTransaction must check
// and write atomically: if the resulting personal balance would be negative it
// returns *InsufficientCreditsError and leaves the account untouched.
type LedgerStore interface {
	// CreateAccount opens an account and records its opening transaction.
	// Returns ErrAccountExists if the user already has one.
	CreateAccount(ctx context.Context, tx Transaction) (CreditBalance, error)

	// GetBalance returns the current balance, including the organization pool if assigned.
	GetBalance(ctx context.Context, userID string) (CreditBalance, error)

	// ApplyTransaction adds tx.Amount to the personal balance and appends tx.
	// Returns ErrDuplicateTransaction, changing nothing, if tx.ID is already recorded.
	ApplyTransaction(ctx context.Context, tx Transaction) (CreditBalance, error)

	// ListTransactions returns a user's transactions in the order they were applied.
	ListTransactions(ctx context.Context, userID string) ([]Transaction, error)

	// AdjustOrganization adds delta to an organization pool, creating it when
	// delta is positive. A result below zero fails with *InsufficientCreditsError.
	AdjustOrganization(ctx context.Context, orgID string, delta decimal.Decimal) (decimal.Decimal, error)

	// AssignOrganization links a user to an organization pool.
	AssignOrganization(ctx context.Context, userID, orgID string) error
}

// Provider represents any LLM provider.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider identifier.
	Name() string

	// IsModelSupported checks if the provider supports the given model.
	IsModelSupported(ctx context.Context, model string) bool

	// SupportedModels returns all models the provider serves.
	SupportedModels(ctx context.Context) []string
}

// ProviderRegistry manages available providers.
type ProviderRegistry interface {
	// Register adds a provider to the registry.
	Register(ctx context.Context, provider Provider) error

	// Get retrieves a provider by name.
	Get(ctx context.Context, providerName string) (Provider, error)

	// GetByModel retrieves the provider serving a model.
	GetByModel(ctx context.Context, model string) (Provider, error)

	// List returns all available providers.
	List(ctx context.Context) ([]string, error)
}

// EventPublisher publishes events for observability.
type EventPublisher interface {
	// Publish publishes an event with the given type and data.
	Publish(ctx context.Context, eventType string, data map[string]interface{})
}

// Ledger event types.
const (
	EventCreditsDeducted     = observability.EventCreditsDeducted
	EventCreditsAdded        = observability.EventCreditsAdded
	EventCreditsInsufficient = observability.EventCreditsInsufficient
	EventLedgerConflict      = observability.EventLedgerConflict
)
