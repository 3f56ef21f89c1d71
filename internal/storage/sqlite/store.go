// Package sqlite provides a durable LedgerStore on SQLite. Writes run inside
// immediate transactions over a single connection, so every read-check-write
// on a balance is serialized.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/davidbz/creditmeter/internal/domain"
)

const defaultBusyTimeout = 5 * time.Second

// Store implements domain.LedgerStore on SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at path and applies the schema.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path cannot be empty")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate",
		path, defaultBusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		credits TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		personal TEXT NOT NULL,
		organization_id TEXT REFERENCES organizations(id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL REFERENCES accounts(user_id),
		amount TEXT NOT NULL,
		kind TEXT NOT NULL,
		related_operation TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER,
		output_tokens INTEGER,
		balance_after TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateAccount opens an account with its opening transaction.
func (s *Store) CreateAccount(ctx context.Context, tx domain.Transaction) (domain.CreditBalance, error) {
	tx.BalanceAfter = tx.Amount

	err := s.inTx(ctx, func(sqlTx *sql.Tx) error {
		var exists int
		err := sqlTx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM accounts WHERE user_id = ?`, tx.UserID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", domain.ErrAccountExists, tx.UserID)
		}

		if _, err := sqlTx.ExecContext(ctx,
			`INSERT INTO accounts (user_id, personal) VALUES (?, ?)`,
			tx.UserID, tx.Amount.String()); err != nil {
			return err
		}

		if tx.Amount.IsZero() {
			return nil
		}
		return insertTransaction(ctx, sqlTx, tx)
	})
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
	return readBalance(ctx, s.db, userID)
}

// ApplyTransaction adds tx.Amount to the balance if the result stays non-negative.
func (s *Store) ApplyTransaction(ctx context.Context, tx domain.Transaction) (domain.CreditBalance, error) {
	var balance domain.CreditBalance

	err := s.inTx(ctx, func(sqlTx *sql.Tx) error {
		current, err := readBalance(ctx, sqlTx, tx.UserID)
		if err != nil {
			return err
		}

		var recorded int
		if err := sqlTx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transactions WHERE id = ?`, tx.ID).Scan(&recorded); err != nil {
			return err
		}
		if recorded > 0 {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTransaction, tx.ID)
		}

		next := current.PersonalCredits.Add(tx.Amount)
		if next.IsNegative() {
			return &domain.InsufficientCreditsError{
				Required:  tx.Amount.Neg(),
				Available: current.PersonalCredits,
			}
		}

		if _, err := sqlTx.ExecContext(ctx,
			`UPDATE accounts SET personal = ? WHERE user_id = ?`,
			next.String(), tx.UserID); err != nil {
			return err
		}

		tx.BalanceAfter = next
		if err := insertTransaction(ctx, sqlTx, tx); err != nil {
			return err
		}

		balance = current
		balance.PersonalCredits = next
		return nil
	})
	if err != nil {
		return domain.CreditBalance{}, err
	}
	return balance, nil
}

// ListTransactions returns a user's transactions in append order.
func (s *Store) ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	if _, err := readBalance(ctx, s.db, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, kind, related_operation, input_tokens, output_tokens, balance_after, created_at
		FROM transactions WHERE user_id = ? ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		tx, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txs, nil
}

// AdjustOrganization changes an organization pool by delta.
func (s *Store) AdjustOrganization(ctx context.Context, orgID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var next decimal.Decimal

	err := s.inTx(ctx, func(sqlTx *sql.Tx) error {
		current := decimal.Zero
		var raw string
		err := sqlTx.QueryRowContext(ctx, `SELECT credits FROM organizations WHERE id = ?`, orgID).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if !delta.IsPositive() {
				return fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
			}
		case err != nil:
			return err
		default:
			if current, err = decimal.NewFromString(raw); err != nil {
				return fmt.Errorf("corrupt organization balance %q: %w", raw, err)
			}
		}

		next = current.Add(delta)
		if next.IsNegative() {
			return &domain.InsufficientCreditsError{Required: delta.Neg(), Available: current}
		}

		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO organizations (id, credits) VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET credits = excluded.credits`,
			orgID, next.String())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// AssignOrganization links a user to an existing organization.
func (s *Store) AssignOrganization(ctx context.Context, userID, orgID string) error {
	return s.inTx(ctx, func(sqlTx *sql.Tx) error {
		var orgs int
		if err := sqlTx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM organizations WHERE id = ?`, orgID).Scan(&orgs); err != nil {
			return err
		}
		if orgs == 0 {
			return fmt.Errorf("%w: %s", domain.ErrOrganizationNotFound, orgID)
		}

		result, err := sqlTx.ExecContext(ctx,
			`UPDATE accounts SET organization_id = ? WHERE user_id = ?`, orgID, userID)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
		}
		return nil
	})
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readBalance(ctx context.Context, q queryer, userID string) (domain.CreditBalance, error) {
	var (
		personalRaw string
		orgID       sql.NullString
		orgRaw      sql.NullString
	)

	err := q.QueryRowContext(ctx, `
		SELECT a.personal, a.organization_id, o.credits
		FROM accounts a LEFT JOIN organizations o ON o.id = a.organization_id
		WHERE a.user_id = ?`, userID).Scan(&personalRaw, &orgID, &orgRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CreditBalance{}, fmt.Errorf("%w: %s", domain.ErrAccountNotFound, userID)
	}
	if err != nil {
		return domain.CreditBalance{}, fmt.Errorf("failed to read account: %w", err)
	}

	personal, err := decimal.NewFromString(personalRaw)
	if err != nil {
		return domain.CreditBalance{}, fmt.Errorf("corrupt balance %q: %w", personalRaw, err)
	}

	orgCredits := decimal.Zero
	if orgRaw.Valid {
		if orgCredits, err = decimal.NewFromString(orgRaw.String); err != nil {
			return domain.CreditBalance{}, fmt.Errorf("corrupt organization balance %q: %w", orgRaw.String, err)
		}
	}

	return domain.CreditBalance{
		UserID:              userID,
		PersonalCredits:     personal,
		OrganizationID:      orgID.String,
		OrganizationCredits: orgCredits,
	}, nil
}

func insertTransaction(ctx context.Context, sqlTx *sql.Tx, tx domain.Transaction) error {
	var inputTokens, outputTokens sql.NullInt64
	if tx.Usage != nil {
		inputTokens = sql.NullInt64{Int64: int64(tx.Usage.InputTokens), Valid: true}
		outputTokens = sql.NullInt64{Int64: int64(tx.Usage.OutputTokens), Valid: true}
	}

	_, err := sqlTx.ExecContext(ctx, `
		INSERT INTO transactions
			(id, user_id, amount, kind, related_operation, input_tokens, output_tokens, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Amount.String(), string(tx.Kind), tx.RelatedOperation,
		inputTokens, outputTokens, tx.BalanceAfter.String(), tx.Timestamp.UnixNano())
	return err
}

func scanTransaction(rows *sql.Rows) (domain.Transaction, error) {
	var (
		tx                        domain.Transaction
		amountRaw, balanceRaw     string
		kind                      string
		inputTokens, outputTokens sql.NullInt64
		createdAt                 int64
	)

	if err := rows.Scan(&tx.ID, &tx.UserID, &amountRaw, &kind, &tx.RelatedOperation,
		&inputTokens, &outputTokens, &balanceRaw, &createdAt); err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}

	amount, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("corrupt amount %q: %w", amountRaw, err)
	}
	balanceAfter, err := decimal.NewFromString(balanceRaw)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("corrupt balance %q: %w", balanceRaw, err)
	}

	tx.Amount = amount
	tx.BalanceAfter = balanceAfter
	tx.Kind = domain.TransactionKind(kind)
	tx.Timestamp = time.Unix(0, createdAt).UTC()
	if inputTokens.Valid {
		tx.Usage = &domain.TokenUsage{
			InputTokens:  int(inputTokens.Int64),
			OutputTokens: int(outputTokens.Int64),
		}
	}

	return tx, nil
}
