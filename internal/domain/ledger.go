package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidbz/creditmeter/internal/observability"
)

// TierGrants maps a subscription tier to its starting allotment.
type TierGrants map[Tier]decimal.Decimal

// DefaultTierGrants returns the built-in starting allotments.
func DefaultTierGrants() TierGrants {
	return TierGrants{
		TierFree:   decimal.NewFromInt(50),
		TierPro:    decimal.NewFromInt(500),
		TierSchool: decimal.NewFromInt(2000),
	}
}

// CreditLedger is the only component allowed to change a balance.
type CreditLedger struct {
	store     LedgerStore
	costs     *OperationCostTable
	costModel *TokenCostModel
	grants    TierGrants
	publisher EventPublisher
	now       func() time.Time
}

// NewCreditLedger creates a ledger (DI constructor).
func NewCreditLedger(
	store LedgerStore,
	costs *OperationCostTable,
	costModel *TokenCostModel,
	grants TierGrants,
	publisher EventPublisher,
) *CreditLedger {
	return &CreditLedger{
		store:     store,
		costs:     costs,
		costModel: costModel,
		grants:    grants,
		publisher: publisher,
		now:       time.Now,
	}
}

// GetBalance returns a user's current balance.
func (l *CreditLedger) GetBalance(ctx context.Context, userID string) (CreditBalance, error) {
	if userID == "" {
		return CreditBalance{}, invalidArgument("user id cannot be empty")
	}

	balance, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return CreditBalance{}, storeError("get balance", err)
	}
	return balance, nil
}

// HasSufficientCredits reports whether personal plus organization credits cover required.
func (l *CreditLedger) HasSufficientCredits(
	ctx context.Context,
	userID string,
	required decimal.Decimal,
) (bool, error) {
	if required.IsNegative() {
		return false, invalidArgument("required credits cannot be negative: %s", required)
	}

	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance.Total().GreaterThanOrEqual(required), nil
}

// CanAfford runs the pre-flight check for one use of an operation against
// its estimated cost.
func (l *CreditLedger) CanAfford(
	ctx context.Context,
	userID string,
	operation string,
) (bool, decimal.Decimal, error) {
	estimated, err := l.costs.EstimatedCost(operation)
	if err != nil {
		return false, decimal.Zero, err
	}

	ok, err := l.HasSufficientCredits(ctx, userID, estimated)
	if err != nil {
		return false, decimal.Zero, err
	}
	return ok, estimated, nil
}

// Deduct consumes amount from the personal pool. It fails with
// *InsufficientCreditsError, leaving the balance unchanged, if the personal
// pool cannot cover it.
func (l *CreditLedger) Deduct(
	ctx context.Context,
	userID string,
	amount decimal.Decimal,
	reason string,
) (CreditBalance, error) {
	return l.deduct(ctx, userID, amount, reason, nil)
}

// ChargeUsage bills the exact cost of a completed AI call.
func (l *CreditLedger) ChargeUsage(
	ctx context.Context,
	userID string,
	operation string,
	usage TokenUsage,
) (decimal.Decimal, CreditBalance, error) {
	if _, err := l.costs.lookup(operation); err != nil {
		return decimal.Zero, CreditBalance{}, err
	}

	cost, err := l.costModel.ExactCost(usage)
	if err != nil {
		return decimal.Zero, CreditBalance{}, err
	}

	// Zero-token calls are free and leave no ledger entry.
	if cost.IsZero() {
		balance, balanceErr := l.GetBalance(ctx, userID)
		return cost, balance, balanceErr
	}

	balance, err := l.deduct(ctx, userID, cost, operation, &usage)
	if err != nil {
		return decimal.Zero, CreditBalance{}, err
	}
	return cost, balance, nil
}

func (l *CreditLedger) deduct(
	ctx context.Context,
	userID string,
	amount decimal.Decimal,
	reason string,
	usage *TokenUsage,
) (CreditBalance, error) {
	if userID == "" {
		return CreditBalance{}, invalidArgument("user id cannot be empty")
	}
	if err := validateAmount(amount); err != nil {
		return CreditBalance{}, err
	}

	ctx = observability.WithUserID(ctx, userID)
	logger := observability.FromContext(ctx)

	tx := l.newTransaction(userID, amount.Neg(), KindAIUsage, reason)
	tx.Usage = usage

	balance, err := l.store.ApplyTransaction(ctx, tx)
	if err != nil {
		var insufficient *InsufficientCreditsError
		if errors.As(err, &insufficient) {
			logger.Info("deduction rejected",
				observability.String("required", insufficient.Required.StringFixed(2)),
				observability.String("available", insufficient.Available.StringFixed(2)))
			l.publish(ctx, EventCreditsInsufficient, map[string]interface{}{
				"user_id":   userID,
				"operation": reason,
				"shortfall": insufficient.Shortfall().InexactFloat64(),
			})
			return CreditBalance{}, insufficient
		}
		if errors.Is(err, ErrConcurrencyConflict) {
			l.publish(ctx, EventLedgerConflict, map[string]interface{}{"user_id": userID})
		}
		logger.Error("deduction failed", observability.Error(err))
		return CreditBalance{}, storeError("deduct", err)
	}

	l.publish(ctx, EventCreditsDeducted, map[string]interface{}{
		"user_id":   userID,
		"operation": reason,
		"amount":    amount.InexactFloat64(),
		"balance":   balance.PersonalCredits.InexactFloat64(),
	})

	return balance, nil
}

// Add credits the personal pool. Kind must be purchase, tier_grant or refund.
func (l *CreditLedger) Add(
	ctx context.Context,
	userID string,
	amount decimal.Decimal,
	kind TransactionKind,
	reason string,
) (CreditBalance, error) {
	if userID == "" {
		return CreditBalance{}, invalidArgument("user id cannot be empty")
	}
	if err := validateAmount(amount); err != nil {
		return CreditBalance{}, err
	}
	if !kind.Valid() || kind == KindAIUsage {
		return CreditBalance{}, invalidArgument("transaction kind %q cannot add credits", kind)
	}

	return l.credit(ctx, l.newTransaction(userID, amount, kind, reason))
}

// CreditPurchase credits a confirmed package purchase. A non-empty eventID
// becomes the transaction id, so a redelivered event fails with
// ErrDuplicateTransaction instead of crediting twice.
func (l *CreditLedger) CreditPurchase(
	ctx context.Context,
	userID string,
	eventID string,
	pkg CreditPackage,
) (decimal.Decimal, CreditBalance, error) {
	if userID == "" {
		return decimal.Zero, CreditBalance{}, invalidArgument("user id cannot be empty")
	}

	amount := decimal.NewFromInt(TotalCredits(pkg))
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, CreditBalance{}, err
	}

	tx := l.newTransaction(userID, amount, KindPurchase, pkg.ID)
	if eventID != "" {
		tx.ID = "purchase:" + eventID
	}

	balance, err := l.credit(ctx, tx)
	if err != nil {
		return decimal.Zero, CreditBalance{}, err
	}
	return amount, balance, nil
}

func (l *CreditLedger) credit(ctx context.Context, tx Transaction) (CreditBalance, error) {
	ctx = observability.WithUserID(ctx, tx.UserID)

	balance, err := l.store.ApplyTransaction(ctx, tx)
	if err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			observability.FromContext(ctx).Info("credit already recorded",
				observability.String("transaction_id", tx.ID))
		} else {
			observability.FromContext(ctx).Error("credit failed", observability.Error(err))
		}
		return CreditBalance{}, storeError("add", err)
	}

	l.publish(ctx, EventCreditsAdded, map[string]interface{}{
		"user_id": tx.UserID,
		"kind":    string(tx.Kind),
		"amount":  tx.Amount.InexactFloat64(),
		"balance": balance.PersonalCredits.InexactFloat64(),
	})

	return balance, nil
}

// GrantTierDefault opens an account with the tier's starting allotment.
// A second call for the same user fails with ErrAccountExists.
func (l *CreditLedger) GrantTierDefault(ctx context.Context, userID string, tier Tier) (CreditBalance, error) {
	if userID == "" {
		return CreditBalance{}, invalidArgument("user id cannot be empty")
	}

	grant, ok := l.grants[tier]
	if !ok {
		return CreditBalance{}, invalidArgument("unknown tier %q", tier)
	}
	if grant.IsNegative() || !isWholeCents(grant) {
		return CreditBalance{}, invalidArgument("tier %q grant must be a non-negative multiple of 0.01: %s", tier, grant)
	}

	ctx = observability.WithUserID(ctx, userID)

	balance, err := l.store.CreateAccount(ctx, l.newTransaction(userID, grant, KindTierGrant, string(tier)))
	if err != nil {
		return CreditBalance{}, storeError("grant tier default", err)
	}

	observability.FromContext(ctx).Info("account opened",
		observability.String("tier", string(tier)),
		observability.String("grant", grant.StringFixed(2)))

	if grant.IsPositive() {
		l.publish(ctx, EventCreditsAdded, map[string]interface{}{
			"user_id": userID,
			"kind":    string(KindTierGrant),
			"amount":  grant.InexactFloat64(),
			"balance": balance.PersonalCredits.InexactFloat64(),
		})
	}

	return balance, nil
}

// Transactions returns a user's ledger entries in order.
func (l *CreditLedger) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	if userID == "" {
		return nil, invalidArgument("user id cannot be empty")
	}

	txs, err := l.store.ListTransactions(ctx, userID)
	if err != nil {
		return nil, storeError("list transactions", err)
	}
	return txs, nil
}

// Reconcile checks that the transactions sum to the personal balance.
func (l *CreditLedger) Reconcile(ctx context.Context, userID string) error {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return err
	}

	txs, err := l.Transactions(ctx, userID)
	if err != nil {
		return err
	}

	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}

	if !sum.Equal(balance.PersonalCredits) {
		return fmt.Errorf("ledger out of balance for %s: transactions sum to %s, balance is %s",
			userID, sum, balance.PersonalCredits)
	}
	return nil
}

// AssignOrganization links a user to an organization credit pool.
func (l *CreditLedger) AssignOrganization(ctx context.Context, userID, orgID string) error {
	if userID == "" || orgID == "" {
		return invalidArgument("user id and organization id are required")
	}

	if err := l.store.AssignOrganization(ctx, userID, orgID); err != nil {
		return storeError("assign organization", err)
	}
	return nil
}

// AddOrganizationCredits funds an organization pool.
func (l *CreditLedger) AddOrganizationCredits(
	ctx context.Context,
	orgID string,
	amount decimal.Decimal,
) (decimal.Decimal, error) {
	if orgID == "" {
		return decimal.Zero, invalidArgument("organization id cannot be empty")
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	credits, err := l.store.AdjustOrganization(ctx, orgID, amount)
	if err != nil {
		return decimal.Zero, storeError("add organization credits", err)
	}
	return credits, nil
}

// DeductOrganization draws from an organization pool directly.
func (l *CreditLedger) DeductOrganization(
	ctx context.Context,
	orgID string,
	amount decimal.Decimal,
) (decimal.Decimal, error) {
	if orgID == "" {
		return decimal.Zero, invalidArgument("organization id cannot be empty")
	}
	if err := validateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	credits, err := l.store.AdjustOrganization(ctx, orgID, amount.Neg())
	if err != nil {
		var insufficient *InsufficientCreditsError
		if errors.As(err, &insufficient) {
			return decimal.Zero, insufficient
		}
		return decimal.Zero, storeError("deduct organization credits", err)
	}
	return credits, nil
}

// validateAmount accepts positive amounts expressible in whole cents.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalidArgument("amount must be positive: %s", amount)
	}
	if !isWholeCents(amount) {
		return invalidArgument("amount must be a multiple of 0.01: %s", amount)
	}
	return nil
}

func isWholeCents(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(2))
}

func (l *CreditLedger) newTransaction(
	userID string,
	amount decimal.Decimal,
	kind TransactionKind,
	reason string,
) Transaction {
	return Transaction{
		ID:               uuid.New().String(),
		UserID:           userID,
		Amount:           amount,
		Kind:             kind,
		RelatedOperation: reason,
		Timestamp:        l.now().UTC(),
	}
}

func (l *CreditLedger) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if l.publisher == nil {
		return
	}
	l.publisher.Publish(ctx, eventType, data)
}

// storeError passes domain errors through and tags everything else as ErrStorage.
func storeError(op string, err error) error {
	for _, known := range []error{
		ErrInsufficientCredits,
		ErrAccountNotFound,
		ErrAccountExists,
		ErrDuplicateTransaction,
		ErrOrganizationNotFound,
		ErrConcurrencyConflict,
		ErrInvalidArgument,
		ErrStorage,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
