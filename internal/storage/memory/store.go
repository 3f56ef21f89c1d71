// Package memory provides an in-process LedgerStore. Each account has its own
// mutex, so balance checks and writes for one user are single-writer while
// different users never contend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/davidbz/creditmeter/internal/domain"
)

type account struct {
	mu           sync.Mutex
	personal     decimal.Decimal
	orgID        string
	transactions []domain.Transaction
	ids          map[string]struct{}
}

type organization struct {
	mu      sync.Mutex
	credits decimal.Decimal
}

// Store implements domain.LedgerStore in memory.
type Store struct {
	mu            sync.RWMutex
	accounts      map[string]*account
	organizations map[string]*organization
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		mu:            sync.RWMutex{},
		accounts:      make(map[string]*account),
		organizations: make(map[string]*organization),
	}
}

// CreateAccount opens an account with its opening transaction.
func (s *Store) CreateAccount(_ context.Context, tx domain.Transaction) (domain.CreditBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[tx.UserID]; exists {
		return domain.CreditBalance{}, fmt.Errorf("%w: %s", domain.ErrAccountExists, tx.UserID)
	}

	tx.BalanceAfter = tx.Amount
	acct := &account{personal: tx.Amount, ids: make(map[string]struct{})}
	if !tx.Amount.IsZero() {
		acct.transactions = append(acct.transactions, tx)
		acct.ids[tx.ID] = struct{}{}
	}
	s.accounts[tx.UserID] = acct

	return domain.CreditBalance{
		UserID:              tx.UserID,
		PersonalCredits:     acct.personal,
		OrganizationCredits: decimal.Zero,
	}, nil
}

// GetBalance returns the current balance.
func (s *Store) GetBalance(_ context.Context, userID string) (domain.CreditBalance, error) {
	acct, err := s.account(userID)
	if err != nil {
		return domain.CreditBalance{}, err
	}

	acct.mu.Lock()
	personal, orgID := acct.personal, acct.orgID
	acct.mu.Unlock()

	return s.balance(userID, personal, orgID), nil
}

// ApplyTransaction adds tx.Amount under the account lock.
func (s *Store) ApplyTransaction(_ context.Context, tx domain.Transaction) (domain.CreditBalance, error) {
	acct, err := s.account(tx.UserID)
	if err != nil {
		return domain.CreditBalance{}, err
	}

	acct.mu.Lock()
	if _, seen := acct.ids[tx.ID]; seen {
		acct.mu.Unlock()
		return domain.CreditBalance{}, fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, tx.ID)
	}

	next := acct.personal.Add(tx.Amount)
	if next.IsNegative() {
		available := acct.personal
		acct.mu.Unlock()
		return domain.CreditBalance{}, &domain.InsufficientCreditsError{
			Required:  tx.Amount.Neg(),
			Available: available,
		}
	}

	tx.BalanceAfter = next
	acct.personal = next
	acct.transactions = append(acct.transactions, tx)
	acct.ids[tx.ID] = struct{}{}
	orgID := acct.orgID
	acct.mu.Unlock()

	return s.balance(tx.UserID, next, orgID), nil
}

// ListTransactions returns a copy of the user's transactions.
func (s *Store) ListTransactions(_ context.Context, userID string) ([]domain.Transaction, error) {
	acct, err := s.account(userID)
	if err != nil {
		return nil, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	out := make([]domain.Transaction, len(acct.transactions))
	copy(out, acct.transactions)
	return out, nil
}

// AdjustOrganization changes an organization pool by delta.
func (s *Store) AdjustOrganization(_ context.Context, orgID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	org, exists := s.organizations[orgID]
	if !exists {
		if !delta.IsPositive() {
			s.mu.Unlock()
			return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
		}
		org = &organization{credits: decimal.Zero}
		s.organizations[orgID] = org
	}
	s.mu.Unlock()

	org.mu.Lock()
	defer org.mu.Unlock()

	next := org.credits.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, &domain.InsufficientCreditsError{Required: delta.Neg(), Available: org.credits}
	}
	org.credits = next
	return next, nil
}

// AssignOrganization links a user to an existing organization.
func (s *Store) AssignOrganization(_ context.Context, userID, orgID string) error {
	s.mu.RLock()
	acct, exists := s.accounts[userID]
	_, orgExists := s.organizations[orgID]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	if !orgExists {
		return fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
	}

	acct.mu.Lock()
	acct.orgID = orgID
	acct.mu.Unlock()
	return nil
}

func (s *Store) account(userID string) (*account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, exists := s.accounts[userID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	return acct, nil
}

func (s *Store) balance(userID string, personal decimal.Decimal, orgID string) domain.CreditBalance {
	orgCredits := decimal.Zero
	if orgID != "" {
		s.mu.RLock()
		org := s.organizations[orgID]
		s.mu.RUnlock()
		if org != nil {
			org.mu.Lock()
			orgCredits = org.credits
			org.mu.Unlock()
		}
	}

	return domain.CreditBalance{
		UserID:              userID,
		PersonalCredits:     personal,
		OrganizationID:      orgID,
		OrganizationCredits: orgCredits,
	}
}
