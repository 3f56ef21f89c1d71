// Package storagetest holds the behaviour every domain.LedgerStore must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/creditmeter/internal/domain"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) domain.LedgerStore

func entry(userID string, amount string, kind domain.TransactionKind) domain.Transaction {
	return domain.Transaction{
		ID:               uuid.New().String(),
		UserID:           userID,
		Amount:           decimal.RequireFromString(amount),
		Kind:             kind,
		RelatedOperation: string(kind),
		Timestamp:        time.Now().UTC().Truncate(time.Microsecond),
	}
}

func requireAmount(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(expected).Equal(actual),
		"expected %s, got %s", expected, actual)
}

// Run exercises a store implementation. contenders bounds how many goroutines
// race in the contention test.
func Run(t *testing.T, newStore Factory, contenders int) {
	ctx := context.Background()

	t.Run("should open accounts once", func(t *testing.T) {
		store := newStore(t)

		balance, err := store.CreateAccount(ctx, entry("user-1", "50", domain.KindTierGrant))
		require.NoError(t, err)
		requireAmount(t, "50", balance.PersonalCredits)

		_, err = store.CreateAccount(ctx, entry("user-1", "500", domain.KindTierGrant))
		require.True(t, errors.Is(err, domain.ErrAccountExists))

		balance, err = store.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		requireAmount(t, "50", balance.PersonalCredits)
		requireAmount(t, "0", balance.OrganizationCredits)
	})

	t.Run("should skip empty opening transactions", func(t *testing.T) {
		store := newStore(t)

		_, err := store.CreateAccount(ctx, entry("user-1", "0", domain.KindTierGrant))
		require.NoError(t, err)

		txs, err := store.ListTransactions(ctx, "user-1")
		require.NoError(t, err)
		require.Empty(t, txs)
	})

	t.Run("should report missing accounts", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetBalance(ctx, "ghost")
		require.True(t, errors.Is(err, domain.ErrAccountNotFound))

		_, err = store.ApplyTransaction(ctx, entry("ghost", "1", domain.KindRefund))
		require.True(t, errors.Is(err, domain.ErrAccountNotFound))

		_, err = store.ListTransactions(ctx, "ghost")
		require.True(t, errors.Is(err, domain.ErrAccountNotFound))
	})

	t.Run("should apply transactions and keep their order", func(t *testing.T) {
		store := newStore(t)
		_, err := store.CreateAccount(ctx, entry("user-1", "50", domain.KindTierGrant))
		require.NoError(t, err)

		usage := entry("user-1", "-1.49", domain.KindAIUsage)
		usage.Usage = &domain.TokenUsage{InputTokens: 2200, OutputTokens: 550}

		balance, err := store.ApplyTransaction(ctx, usage)
		require.NoError(t, err)
		requireAmount(t, "48.51", balance.PersonalCredits)

		balance, err = store.ApplyTransaction(ctx, entry("user-1", "575", domain.KindPurchase))
		require.NoError(t, err)
		requireAmount(t, "623.51", balance.PersonalCredits)

		txs, err := store.ListTransactions(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, txs, 3)

		require.Equal(t, domain.KindTierGrant, txs[0].Kind)
		require.Equal(t, usage.ID, txs[1].ID)
		require.Equal(t, domain.KindAIUsage, txs[1].Kind)
		require.Equal(t, usage.Usage, txs[1].Usage)
		require.True(t, usage.Timestamp.Equal(txs[1].Timestamp))
		requireAmount(t, "-1.49", txs[1].Amount)
		requireAmount(t, "48.51", txs[1].BalanceAfter)
		require.Nil(t, txs[2].Usage)
		requireAmount(t, "623.51", txs[2].BalanceAfter)

		sum := decimal.Zero
		for _, tx := range txs {
			sum = sum.Add(tx.Amount)
		}
		requireAmount(t, "623.51", sum)
	})

	t.Run("should refuse to go negative", func(t *testing.T) {
		store := newStore(t)
		_, err := store.CreateAccount(ctx, entry("user-1", "10", domain.KindTierGrant))
		require.NoError(t, err)

		_, err = store.ApplyTransaction(ctx, entry("user-1", "-10.01", domain.KindAIUsage))

		var insufficient *domain.InsufficientCreditsError
		require.True(t, errors.As(err, &insufficient))
		requireAmount(t, "10.01", insufficient.Required)
		requireAmount(t, "10", insufficient.Available)

		balance, err := store.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		requireAmount(t, "10", balance.PersonalCredits)

		txs, err := store.ListTransactions(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, txs, 1)

		balance, err = store.ApplyTransaction(ctx, entry("user-1", "-10", domain.KindAIUsage))
		require.NoError(t, err)
		require.True(t, balance.PersonalCredits.IsZero())
	})

	t.Run("should reject a replayed transaction id", func(t *testing.T) {
		store := newStore(t)
		_, err := store.CreateAccount(ctx, entry("user-1", "50", domain.KindTierGrant))
		require.NoError(t, err)

		purchase := entry("user-1", "575", domain.KindPurchase)
		_, err = store.ApplyTransaction(ctx, purchase)
		require.NoError(t, err)

		_, err = store.ApplyTransaction(ctx, purchase)
		require.ErrorIs(t, err, domain.ErrDuplicateTransaction)

		balance, err := store.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		requireAmount(t, "625", balance.PersonalCredits)

		txs, err := store.ListTransactions(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, txs, 2)
	})

	t.Run("should serialize competing deductions", func(t *testing.T) {
		store := newStore(t)
		_, err := store.CreateAccount(ctx, entry("user-1", "100", domain.KindTierGrant))
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			failures  atomic.Int32
		)
		start := make(chan struct{})
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, applyErr := store.ApplyTransaction(ctx, entry("user-1", "-60", domain.KindAIUsage))
				if applyErr == nil {
					successes.Add(1)
				} else if errors.Is(applyErr, domain.ErrInsufficientCredits) {
					failures.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), successes.Load())
		require.Equal(t, int32(1), failures.Load())

		balance, err := store.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		requireAmount(t, "40", balance.PersonalCredits)
	})

	t.Run("should never overdraw under contention", func(t *testing.T) {
		store := newStore(t)
		_, err := store.CreateAccount(ctx, entry("user-1", fmt.Sprint(contenders), domain.KindTierGrant))
		require.NoError(t, err)

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range contenders * 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, applyErr := store.ApplyTransaction(ctx, entry("user-1", "-1", domain.KindAIUsage)); applyErr == nil {
					successes.Add(1)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, int32(contenders), successes.Load())

		balance, err := store.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		require.True(t, balance.PersonalCredits.IsZero())

		txs, err := store.ListTransactions(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, txs, contenders+1)
	})

	t.Run("should manage organization pools", func(t *testing.T) {
		store := newStore(t)
		_, err := store.CreateAccount(ctx, entry("user-1", "50", domain.KindTierGrant))
		require.NoError(t, err)

		_, err = store.AdjustOrganization(ctx, "org-1", decimal.NewFromInt(-1))
		require.True(t, errors.Is(err, domain.ErrOrganizationNotFound))

		err = store.AssignOrganization(ctx, "user-1", "org-1")
		require.True(t, errors.Is(err, domain.ErrOrganizationNotFound))

		credits, err := store.AdjustOrganization(ctx, "org-1", decimal.NewFromInt(200))
		require.NoError(t, err)
		requireAmount(t, "200", credits)

		err = store.AssignOrganization(ctx, "ghost", "org-1")
		require.True(t, errors.Is(err, domain.ErrAccountNotFound))

		require.NoError(t, store.AssignOrganization(ctx, "user-1", "org-1"))

		balance, err := store.GetBalance(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, "org-1", balance.OrganizationID)
		requireAmount(t, "200", balance.OrganizationCredits)
		requireAmount(t, "250", balance.Total())

		credits, err = store.AdjustOrganization(ctx, "org-1", decimal.RequireFromString("-199.5"))
		require.NoError(t, err)
		requireAmount(t, "0.5", credits)

		_, err = store.AdjustOrganization(ctx, "org-1", decimal.NewFromInt(-1))
		require.True(t, errors.Is(err, domain.ErrInsufficientCredits))

		// Personal deductions leave the pool alone.
		balance, err = store.ApplyTransaction(ctx, entry("user-1", "-5", domain.KindAIUsage))
		require.NoError(t, err)
		requireAmount(t, "45", balance.PersonalCredits)
		requireAmount(t, "0.5", balance.OrganizationCredits)
	})
}
