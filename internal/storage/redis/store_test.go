package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/storage/redis"
	"github.com/davidbz/creditmeter/internal/storage/storagetest"
)

func newStore(t *testing.T, maxRetries int) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := redis.NewStore(client, "test", maxRetries)
	require.NoError(t, err)
	return store, server
}

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) domain.LedgerStore {
		// Contended updates retry until every contender has had its turn.
		store, _ := newStore(t, 200)
		return store
	}, 10)
}

func TestStore_KeyLayout(t *testing.T) {
	ctx := context.Background()
	store, server := newStore(t, 0)

	_, err := store.CreateAccount(ctx, domain.Transaction{
		ID:     "tx-1",
		UserID: "user-1",
		Amount: decimal.NewFromInt(50),
		Kind:   domain.KindTierGrant,
	})
	require.NoError(t, err)

	require.Equal(t, "50", server.HGet("test:account:user-1", "personal"))

	entries, err := server.List("test:account:user-1:transactions")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0], `"kind":"tier_grant"`)
}

func TestStore_CorruptBalance(t *testing.T) {
	ctx := context.Background()
	store, server := newStore(t, 0)

	server.HSet("test:account:user-1", "personal", "not-a-number")

	_, err := store.GetBalance(ctx, "user-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "corrupt balance")
	require.False(t, errors.Is(err, domain.ErrAccountNotFound))
}

func TestNewStore_RequiresClient(t *testing.T) {
	_, err := redis.NewStore(nil, "", 0)
	require.Error(t, err)
}

func TestStore_ApplyTransactionUnreadableOrganization(t *testing.T) {
	ctx := context.Background()
	store, server := newStore(t, 0)

	_, err := store.CreateAccount(ctx, domain.Transaction{
		ID:     "tx-1",
		UserID: "user-1",
		Amount: decimal.NewFromInt(50),
		Kind:   domain.KindTierGrant,
	})
	require.NoError(t, err)
	_, err = store.AdjustOrganization(ctx, "school-1", decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, store.AssignOrganization(ctx, "user-1", "school-1"))

	require.NoError(t, server.Set("test:organization:school-1", "garbage"))

	_, err = store.ApplyTransaction(ctx, domain.Transaction{
		ID:     "tx-2",
		UserID: "user-1",
		Amount: decimal.RequireFromString("-1.35"),
		Kind:   domain.KindAIUsage,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "corrupt organization balance")

	// Nothing was committed.
	require.Equal(t, "50", server.HGet("test:account:user-1", "personal"))
	entries, err := server.List("test:account:user-1:transactions")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
