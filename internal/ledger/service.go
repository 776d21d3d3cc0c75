package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/renderloop/backend/internal/models"
)

// ErrInsufficientFunds is returned when the account balance does not cover
// the requested debit. The balance is left untouched.
var ErrInsufficientFunds = errors.New("insufficient funds")

// RefundFailedError reports a refund whose storage update failed. It carries
// everything needed for manual reconciliation; Service.Refund has already
// logged it at Error level before returning it.
type RefundFailedError struct {
	AccountID uuid.UUID
	TaskID    uuid.UUID
	Amount    int
	Err       error
}

func (e *RefundFailedError) Error() string {
	return fmt.Sprintf("refund of %d credits to account %s for task %s failed: %v", e.Amount, e.AccountID, e.TaskID, e.Err)
}

func (e *RefundFailedError) Unwrap() error { return e.Err }

// AccountStore is the minimal account repository interface for the ledger.
type AccountStore interface {
	Balance(ctx context.Context, id uuid.UUID) (int, error)
	DebitBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	CreditBalance(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
}

// EntryStore is the minimal credit ledger interface for the ledger.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditEntry) error
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the atomic credit-accounting subsystem. Amounts are always
// non-negative integer credits; every balance change writes an audit entry
// carrying the originating task id and balance-after.
type Service struct {
	db       TxBeginner
	accounts AccountStore
	entries  EntryStore
	logger   *slog.Logger
}

func NewService(db TxBeginner, accounts AccountStore, entries EntryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, accounts: accounts, entries: entries, logger: logger}
}

// Debit decrements the account balance by amount if and only if the balance
// covers it. The conditional update and the audit entry commit together.
func (s *Service) Debit(ctx context.Context, accountID, taskID uuid.UUID, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit amount must be non-negative, got %d", amount)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.accounts.DebitBalance(ctx, tx, accountID, amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientFunds
		}
		return 0, fmt.Errorf("debit account %s: %w", accountID, err)
	}

	entry := &models.CreditEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		TaskID:       &taskID,
		EntryType:    models.CreditEntryDebit,
		Amount:       amount,
		BalanceAfter: intPtr(newBalance),
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("record debit entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit debit tx: %w", err)
	}
	return newBalance, nil
}

// Refund increments the account balance by amount. A storage failure here is
// the single worst failure mode in the system: it is logged at Error level
// with full reconciliation context and returned as a *RefundFailedError,
// never swallowed.
func (s *Service) Refund(ctx context.Context, accountID, taskID uuid.UUID, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("refund amount must be non-negative, got %d", amount)
	}
	newBalance, err := s.refund(ctx, accountID, taskID, amount)
	if err != nil {
		s.logger.Error("RECONCILIATION INCIDENT: refund failed",
			"account_id", accountID,
			"task_id", taskID,
			"amount", amount,
			"error", err,
		)
		return 0, &RefundFailedError{AccountID: accountID, TaskID: taskID, Amount: amount, Err: err}
	}
	return newBalance, nil
}

func (s *Service) refund(ctx context.Context, accountID, taskID uuid.UUID, amount int) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin refund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.accounts.CreditBalance(ctx, tx, accountID, amount)
	if err != nil {
		return 0, fmt.Errorf("credit account %s: %w", accountID, err)
	}
	entry := &models.CreditEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		TaskID:       &taskID,
		EntryType:    models.CreditEntryRefund,
		Amount:       amount,
		BalanceAfter: intPtr(newBalance),
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("record refund entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit refund tx: %w", err)
	}
	return newBalance, nil
}

// Grant credits an account outside the debit/refund pairing (onboarding,
// promotions, admin top-ups). No task id is attached.
func (s *Service) Grant(ctx context.Context, accountID uuid.UUID, amount int) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newBalance, err := s.accounts.CreditBalance(ctx, tx, accountID, amount)
	if err != nil {
		return 0, fmt.Errorf("grant to account %s: %w", accountID, err)
	}
	entry := &models.CreditEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		EntryType:    models.CreditEntryGrant,
		Amount:       amount,
		BalanceAfter: intPtr(newBalance),
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return 0, fmt.Errorf("record grant entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit grant tx: %w", err)
	}
	return newBalance, nil
}

// Balance returns the account's current balance.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int, error) {
	return s.accounts.Balance(ctx, accountID)
}

func intPtr(n int) *int { return &n }
