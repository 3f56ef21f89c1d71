package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/storage/memory"
)

func newTestEstimator(t *testing.T) (*domain.UsageEstimator, *domain.CreditLedger) {
	t.Helper()

	ledger := newTestLedger(t, memory.NewStore(), nil)
	return domain.NewUsageEstimator(newTestCostTable(t), ledger, newTestCatalog(t)), ledger
}

func TestUsageEstimator_Estimate(t *testing.T) {
	estimator, _ := newTestEstimator(t)

	t.Run("should price each item and keep input order", func(t *testing.T) {
		plan := []domain.PlanItem{
			{Operation: domain.OpGenerateQuestion, Count: 10},
			{Operation: domain.OpGenerateDistractors, Count: 10},
			{Operation: domain.OpGradeSubmission, Count: 30},
		}

		estimate, err := estimator.Estimate(plan)
		require.NoError(t, err)

		require.Len(t, estimate.Breakdown, 3)
		require.Equal(t, domain.OpGenerateQuestion, estimate.Breakdown[0].Operation)
		requireCredits(t, "13.5", estimate.Breakdown[0].Cost)
		require.Equal(t, domain.OpGenerateDistractors, estimate.Breakdown[1].Operation)
		requireCredits(t, "8.1", estimate.Breakdown[1].Cost)
		require.Equal(t, domain.OpGradeSubmission, estimate.Breakdown[2].Operation)
		require.Equal(t, 30, estimate.Breakdown[2].Count)
		requireCredits(t, "40.5", estimate.Breakdown[2].Cost)

		requireCredits(t, "62.1", estimate.Total)
	})

	t.Run("should return zero for an empty plan", func(t *testing.T) {
		estimate, err := estimator.Estimate(nil)
		require.NoError(t, err)
		require.True(t, estimate.Total.IsZero())
		require.Empty(t, estimate.Breakdown)
	})

	t.Run("should reject unknown operations", func(t *testing.T) {
		_, err := estimator.Estimate([]domain.PlanItem{{Operation: "translate_quiz", Count: 1}})
		require.True(t, errors.Is(err, domain.ErrUnknownOperation))
	})

	t.Run("should reject negative counts", func(t *testing.T) {
		_, err := estimator.Estimate([]domain.PlanItem{{Operation: domain.OpGenerateQuestion, Count: -1}})
		require.True(t, errors.Is(err, domain.ErrInvalidArgument))
	})
}

func TestUsageEstimator_Shortfall(t *testing.T) {
	ctx := context.Background()

	t.Run("should report no deficit when the balance covers the plan", func(t *testing.T) {
		estimator, ledger := newTestEstimator(t)
		openAccount(t, ledger, "user-1", domain.TierFree)

		shortfall, err := estimator.Shortfall(ctx, "user-1",
			[]domain.PlanItem{{Operation: domain.OpGenerateQuestion, Count: 5}})
		require.NoError(t, err)

		require.False(t, shortfall.NeedsMore)
		requireCredits(t, "6.75", shortfall.Required)
		requireCredits(t, "50", shortfall.Available)
		require.True(t, shortfall.Deficit.IsZero())
		require.True(t, shortfall.SuggestedPurchase.IsZero())
		require.Nil(t, shortfall.SuggestedPackage)
	})

	t.Run("should suggest a buffered purchase", func(t *testing.T) {
		estimator, ledger := newTestEstimator(t)
		openAccount(t, ledger, "user-1", domain.TierFree)

		// 30 gradings cost 40.5, 10 rubrics cost 16.5: 57 required.
		shortfall, err := estimator.Shortfall(ctx, "user-1", []domain.PlanItem{
			{Operation: domain.OpGradeSubmission, Count: 30},
			{Operation: domain.OpGenerateRubric, Count: 10},
		})
		require.NoError(t, err)

		require.True(t, shortfall.NeedsMore)
		requireCredits(t, "57", shortfall.Required)
		requireCredits(t, "7", shortfall.Deficit)
		requireCredits(t, "11", shortfall.SuggestedPurchase)
		require.NotNil(t, shortfall.SuggestedPackage)
		require.Equal(t, "starter", shortfall.SuggestedPackage.ID)
	})

	t.Run("should ceil fractional suggestions", func(t *testing.T) {
		estimator, ledger := newTestEstimator(t)
		openAccount(t, ledger, "user-1", domain.TierFree)

		// 38 questions cost 51.3, a 1.3 deficit buffered to 1.95.
		shortfall, err := estimator.Shortfall(ctx, "user-1",
			[]domain.PlanItem{{Operation: domain.OpGenerateQuestion, Count: 38}})
		require.NoError(t, err)

		require.True(t, shortfall.NeedsMore)
		requireCredits(t, "51.3", shortfall.Required)
		requireCredits(t, "1.3", shortfall.Deficit)
		requireCredits(t, "2", shortfall.SuggestedPurchase)
	})

	t.Run("should count organization credits as available", func(t *testing.T) {
		estimator, ledger := newTestEstimator(t)
		openAccount(t, ledger, "user-1", domain.TierFree)

		_, err := ledger.AddOrganizationCredits(ctx, "school-1", decimal.NewFromInt(20))
		require.NoError(t, err)
		require.NoError(t, ledger.AssignOrganization(ctx, "user-1", "school-1"))

		shortfall, err := estimator.Shortfall(ctx, "user-1", []domain.PlanItem{
			{Operation: domain.OpGradeSubmission, Count: 30},
			{Operation: domain.OpGenerateRubric, Count: 10},
		})
		require.NoError(t, err)
		require.False(t, shortfall.NeedsMore)
		requireCredits(t, "70", shortfall.Available)
	})

	t.Run("should fail for unknown accounts", func(t *testing.T) {
		estimator, _ := newTestEstimator(t)

		_, err := estimator.Shortfall(ctx, "ghost", []domain.PlanItem{{Operation: domain.OpGenerateQuestion, Count: 1}})
		require.True(t, errors.Is(err, domain.ErrAccountNotFound))
	})
}
