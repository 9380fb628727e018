package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService. It is the single
// component that mutates wallet balances; every mutation commits together
// with its transaction record or not at all.
type LedgerServiceImpl struct {
	balanceRepo ports.BalanceRepository
	txRepo      ports.TransactionRepository
	transactor  ports.DBTransactor
	publisher   ports.EventPublisher
	notary      ports.Notary
	log         zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	balanceRepo ports.BalanceRepository,
	txRepo ports.TransactionRepository,
	transactor ports.DBTransactor,
	publisher ports.EventPublisher,
	notary ports.Notary,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		balanceRepo: balanceRepo,
		txRepo:      txRepo,
		transactor:  transactor,
		publisher:   publisher,
		notary:      notary,
		log:         log,
	}
}

// GetBalance returns the user's balance, creating a zero-balance record on
// first access.
func (s *LedgerServiceImpl) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	record, err := s.balanceRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return 0, apperror.ErrDatabaseError(fmt.Errorf("get balance: %w", err))
	}
	return record.Balance, nil
}

// Debit removes funds from the wallet. The balance row is locked for the
// duration of the transaction, so concurrent debits against one user
// serialize and each sees the previous committed balance.
func (s *LedgerServiceImpl) Debit(ctx context.Context, entry ports.LedgerEntry) (*ports.LedgerResult, error) {
	if entry.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	return s.apply(ctx, entry, -entry.Amount)
}

// Credit adds funds to the wallet.
func (s *LedgerServiceImpl) Credit(ctx context.Context, entry ports.LedgerEntry) (*ports.LedgerResult, error) {
	if entry.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	return s.apply(ctx, entry, entry.Amount)
}

// apply commits one signed balance delta and its transaction record
// atomically, then fires the post-commit side effects.
func (s *LedgerServiceImpl) apply(ctx context.Context, entry ports.LedgerEntry, delta int64) (*ports.LedgerResult, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	record, err := s.balanceRepo.GetForUpdate(ctx, dbTx, entry.UserID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock balance: %w", err))
	}

	if delta < 0 && !record.CanDebit(-delta) {
		return nil, apperror.ErrInsufficientFunds()
	}
	if delta > 0 && record.Balance > math.MaxInt64-delta {
		return nil, apperror.ErrInvalidAmount()
	}

	newBalance := record.Balance + delta

	if err := s.balanceRepo.UpdateBalance(ctx, dbTx, entry.UserID, newBalance); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update balance: %w", err))
	}

	txn := &domain.Transaction{
		ID:                    uuid.New(),
		UserID:                entry.UserID,
		Type:                  entry.Type,
		Amount:                delta,
		Status:                domain.TransactionStatusCompleted,
		Counterparty:          entry.Counterparty,
		PaymentMethod:         entry.Method,
		OriginalTransactionID: entry.OriginalTransactionID,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create transaction: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("commit tx: %w", err))
	}

	s.afterCommit(ctx, txn, newBalance)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("user_id", entry.UserID.String()).
		Int64("delta", delta).
		Int64("new_balance", newBalance).
		Str("type", string(entry.Type)).
		Msg("ledger entry committed")

	return &ports.LedgerResult{NewBalance: newBalance, Transaction: txn}, nil
}

// afterCommit runs the best-effort side effects. Neither a missed event nor
// a notary enqueue failure may surface to the caller; the ledger is already
// committed.
func (s *LedgerServiceImpl) afterCommit(ctx context.Context, txn *domain.Transaction, newBalance int64) {
	s.publisher.Publish(txn.UserID, domain.NewBalanceEvent(&domain.BalanceRecord{
		UserID:      txn.UserID,
		Balance:     newBalance,
		LastUpdated: txn.CreatedAt,
	}))
	s.publisher.Publish(txn.UserID, domain.NewTransactionEvent(txn))

	summary := fmt.Sprintf("%s:%d:%s", txn.Type, txn.Amount, txn.Counterparty)
	if err := s.notary.Enqueue(ctx, txn.ID, summary); err != nil {
		s.log.Warn().Err(err).Str("tx_id", txn.ID.String()).Msg("notary enqueue failed")
	}
}
