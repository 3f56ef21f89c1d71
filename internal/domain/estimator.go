package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// purchaseBuffer scales a deficit into a suggested purchase.
const purchaseBuffer = 1.5

// BalanceReader reads a user's balance.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (CreditBalance, error)
}

// UsageEstimator projects the cost of multi-step plans. Its results are for
// previews and affordability checks only.
type UsageEstimator struct {
	costs    *OperationCostTable
	balances BalanceReader
	catalog  *CreditPackageCatalog
}

// NewUsageEstimator creates an estimator (DI constructor).
func NewUsageEstimator(
	costs *OperationCostTable,
	ledger *CreditLedger,
	catalog *CreditPackageCatalog,
) *UsageEstimator {
	return &UsageEstimator{
		costs:    costs,
		balances: ledger,
		catalog:  catalog,
	}
}

// Estimate prices each plan item and sums them. The breakdown keeps input order.
func (e *UsageEstimator) Estimate(items []PlanItem) (Estimate, error) {
	estimate := Estimate{
		Total:     decimal.Zero,
		Breakdown: make([]EstimateLine, 0, len(items)),
	}

	for _, item := range items {
		if item.Count < 0 {
			return Estimate{}, invalidArgument("count for %s cannot be negative: %d", item.Operation, item.Count)
		}

		unit, err := e.costs.EstimatedCost(item.Operation)
		if err != nil {
			return Estimate{}, err
		}

		cost := unit.Mul(decimal.NewFromInt(int64(item.Count)))
		estimate.Breakdown = append(estimate.Breakdown, EstimateLine{
			Operation: item.Operation,
			Count:     item.Count,
			Cost:      cost,
		})
		estimate.Total = estimate.Total.Add(cost)
	}

	return estimate, nil
}

// Shortfall compares a plan's estimated total with the user's spending power.
func (e *UsageEstimator) Shortfall(ctx context.Context, userID string, items []PlanItem) (Shortfall, error) {
	estimate, err := e.Estimate(items)
	if err != nil {
		return Shortfall{}, err
	}

	balance, err := e.balances.GetBalance(ctx, userID)
	if err != nil {
		return Shortfall{}, err
	}

	available := balance.Total()
	deficit := decimal.Max(decimal.Zero, estimate.Total.Sub(available))

	result := Shortfall{
		NeedsMore:         deficit.IsPositive(),
		Required:          estimate.Total,
		Available:         available,
		Deficit:           deficit,
		SuggestedPurchase: decimal.Zero,
	}

	if result.NeedsMore {
		result.SuggestedPurchase = deficit.Mul(decimal.NewFromFloat(purchaseBuffer)).Ceil()
		if e.catalog != nil {
			if pkg, ok := e.catalog.SmallestCovering(result.SuggestedPurchase); ok {
				result.SuggestedPackage = &pkg
			}
		}
	}

	return result, nil
}
