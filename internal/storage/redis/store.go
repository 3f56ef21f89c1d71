// Package redis provides a LedgerStore backed by Redis. Balance updates use
// WATCH/MULTI/EXEC optimistic concurrency and are retried a bounded number of
// times before surfacing domain.ErrConcurrencyConflict.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/davidbz/creditmeter/internal/domain"
	"github.com/davidbz/creditmeter/internal/observability"
)

const (
	defaultMaxRetries = 5

	fieldPersonal = "personal"
	fieldOrgID    = "org_id"
)

// Store implements domain.LedgerStore on Redis.
type Store struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

// NewStore creates a Redis ledger store. Keys are namespaced under prefix.
func NewStore(client *redis.Client, prefix string, maxRetries int) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if prefix == "" {
		prefix = "ledger"
	}

	return &Store{
		client:     client,
		prefix:     prefix,
		maxRetries: maxRetries,
	}, nil
}

func (s *Store) accountKey(userID string) string {
	return fmt.Sprintf("%s:account:%s", s.prefix, userID)
}

func (s *Store) transactionsKey(userID string) string {
	return fmt.Sprintf("%s:account:%s:transactions", s.prefix, userID)
}

func (s *Store) transactionIDsKey(userID string) string {
	return fmt.Sprintf("%s:account:%s:transaction_ids", s.prefix, userID)
}

func (s *Store) organizationKey(orgID string) string {
	return fmt.Sprintf("%s:organization:%s", s.prefix, orgID)
}

// CreateAccount opens an account with its opening transaction.
func (s *Store) CreateAccount(ctx context.Context, tx domain.Transaction) (domain.CreditBalance, error) {
	key := s.accountKey(tx.UserID)
	tx.BalanceAfter = tx.Amount

	data, err := json.Marshal(tx)
	if err != nil {
		return domain.CreditBalance{}, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	err = s.withRetry(ctx, func(rtx *redis.Tx) error {
		exists, existsErr := rtx.Exists(ctx, key).Result()
		if existsErr != nil {
			return existsErr
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", domain.ErrAccountExists, tx.UserID)
		}

		_, pipeErr := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldPersonal, tx.Amount.String())
			if !tx.Amount.IsZero() {
				pipe.RPush(ctx, s.transactionsKey(tx.UserID), data)
				pipe.SAdd(ctx, s.transactionIDsKey(tx.UserID), tx.ID)
			}
			return nil
		})
		return pipeErr
	}, key)
	if err != nil {
		return domain.CreditBalance{}, err
	}

	return domain.CreditBalance{
		UserID:              tx.UserID,
		PersonalCredits:     tx.Amount,
		OrganizationCredits: decimal.Zero,
	}, nil
}

// GetBalance returns the current balance.
func (s *Store) GetBalance(ctx context.Context, userID string) (domain.CreditBalance, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(userID)).Result()
	if err != nil {
		return domain.CreditBalance{}, fmt.Errorf("failed to read account: %w", err)
	}

	personal, orgID, err := parseAccount(userID, fields)
	if err != nil {
		return domain.CreditBalance{}, err
	}

	return s.balance(ctx, userID, personal, orgID)
}

// ApplyTransaction adds tx.Amount to the balance if the result stays non-negative.
func (s *Store) ApplyTransaction(ctx context.Context, tx domain.Transaction) (domain.CreditBalance, error) {
	key := s.accountKey(tx.UserID)

	var balance domain.CreditBalance

	err := s.withRetry(ctx, func(rtx *redis.Tx) error {
		fields, readErr := rtx.HGetAll(ctx, key).Result()
		if readErr != nil {
			return readErr
		}

		personal, org, parseErr := parseAccount(tx.UserID, fields)
		if parseErr != nil {
			return parseErr
		}

		seen, seenErr := rtx.SIsMember(ctx, s.transactionIDsKey(tx.UserID), tx.ID).Result()
		if seenErr != nil {
			return seenErr
		}
		if seen {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, tx.ID)
		}

		next := personal.Add(tx.Amount)
		if next.IsNegative() {
			return &domain.InsufficientCreditsError{Required: tx.Amount.Neg(), Available: personal}
		}

		// The organization pool is read before EXEC so a failed read never
		// follows a committed write.
		orgCredits, orgErr := s.organizationCredits(ctx, rtx.Get, org)
		if orgErr != nil {
			return orgErr
		}
		balance = domain.CreditBalance{
			UserID:              tx.UserID,
			PersonalCredits:     next,
			OrganizationID:      org,
			OrganizationCredits: orgCredits,
		}

		entry := tx
		entry.BalanceAfter = next
		data, marshalErr := json.Marshal(entry)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal transaction: %w", marshalErr)
		}

		_, pipeErr := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldPersonal, next.String())
			pipe.RPush(ctx, s.transactionsKey(tx.UserID), data)
			pipe.SAdd(ctx, s.transactionIDsKey(tx.UserID), tx.ID)
			return nil
		})
		return pipeErr
	}, key, s.transactionIDsKey(tx.UserID))
	if err != nil {
		return domain.CreditBalance{}, err
	}
	return balance, nil
}

// ListTransactions returns a user's transactions in append order.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	exists, err := s.client.Exists(ctx, s.accountKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}

	raw, err := s.client.LRange(ctx, s.transactionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	txs := make([]domain.Transaction, 0, len(raw))
	for _, item := range raw {
		var tx domain.Transaction
		if unmarshalErr := json.Unmarshal([]byte(item), &tx); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction: %w", unmarshalErr)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// AdjustOrganization changes an organization pool by delta.
func (s *Store) AdjustOrganization(ctx context.Context, orgID string, delta decimal.Decimal) (decimal.Decimal, error) {
	key := s.organizationKey(orgID)

	var next decimal.Decimal
	err := s.withRetry(ctx, func(rtx *redis.Tx) error {
		current := decimal.Zero
		raw, getErr := rtx.Get(ctx, key).Result()
		switch {
		case errors.Is(getErr, redis.Nil):
			if !delta.IsPositive() {
				return fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
			}
		case getErr != nil:
			return getErr
		default:
			parsed, parseErr := decimal.NewFromString(raw)
			if parseErr != nil {
				return fmt.Errorf("corrupt organization balance %q: %w", raw, parseErr)
			}
			current = parsed
		}

		next = current.Add(delta)
		if next.IsNegative() {
			return &domain.InsufficientCreditsError{Required: delta.Neg(), Available: current}
		}

		_, pipeErr := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next.String(), 0)
			return nil
		})
		return pipeErr
	}, key)
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// AssignOrganization links a user to an existing organization.
func (s *Store) AssignOrganization(ctx context.Context, userID, orgID string) error {
	key := s.accountKey(userID)

	return s.withRetry(ctx, func(rtx *redis.Tx) error {
		accounts, err := rtx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if accounts == 0 {
			return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
		}

		orgs, err := rtx.Exists(ctx, s.organizationKey(orgID)).Result()
		if err != nil {
			return err
		}
		if orgs == 0 {
			return fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldOrgID, orgID)
			return nil
		})
		return err
	}, key)
}

// withRetry runs fn under WATCH, retrying when a watched key changed.
func (s *Store) withRetry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}

		observability.FromContext(ctx).Debug("optimistic update conflicted, retrying",
			observability.Int("attempt", attempt+1))
	}

	return fmt.Errorf("%w: gave up after %d attempts", domain.ErrConcurrencyConflict, s.maxRetries)
}

func (s *Store) balance(
	ctx context.Context,
	userID string,
	personal decimal.Decimal,
	orgID string,
) (domain.CreditBalance, error) {
	orgCredits, err := s.organizationCredits(ctx, s.client.Get, orgID)
	if err != nil {
		return domain.CreditBalance{}, err
	}

	return domain.CreditBalance{
		UserID:              userID,
		PersonalCredits:     personal,
		OrganizationID:      orgID,
		OrganizationCredits: orgCredits,
	}, nil
}

func (s *Store) organizationCredits(
	ctx context.Context,
	get func(context.Context, string) *redis.StringCmd,
	orgID string,
) (decimal.Decimal, error) {
	if orgID == "" {
		return decimal.Zero, nil
	}

	raw, err := get(ctx, s.organizationKey(orgID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return decimal.Zero, nil
	case err != nil:
		return decimal.Zero, fmt.Errorf("failed to read organization: %w", err)
	}

	credits, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt organization balance %q: %w", raw, err)
	}
	return credits, nil
}

func parseAccount(userID string, fields map[string]string) (decimal.Decimal, string, error) {
	raw, ok := fields[fieldPersonal]
	if !ok {
		return decimal.Zero, "", fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}

	personal, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("corrupt balance %q: %w", raw, err)
	}
	return personal, fields[fieldOrgID], nil
}
