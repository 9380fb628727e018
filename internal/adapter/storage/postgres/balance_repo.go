package postgres

import (
	"context"
	"errors"
	"fmt"

	"paywallet-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// GetOrCreate returns the balance record for a user, lazily inserting a
// zero-balance row on first access.
func (r *BalanceRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.BalanceRecord, error) {
	insert := `INSERT INTO balances (user_id, balance, last_updated)
		VALUES ($1, 0, NOW()) ON CONFLICT (user_id) DO NOTHING`

	if _, err := r.pool.Exec(ctx, insert, userID); err != nil {
		return nil, fmt.Errorf("ensure balance row: %w", err)
	}

	query := `SELECT user_id, balance, last_updated FROM balances WHERE user_id = $1`

	b := &domain.BalanceRecord{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Balance, &b.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// GetForUpdate locks the balance row for mutation, lazily inserting a
// zero-balance row first. MUST be called within a transaction; the row
// lock serializes concurrent mutations per user.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.BalanceRecord, error) {
	insert := `INSERT INTO balances (user_id, balance, last_updated)
		VALUES ($1, 0, NOW()) ON CONFLICT (user_id) DO NOTHING`

	if _, err := tx.Exec(ctx, insert, userID); err != nil {
		return nil, fmt.Errorf("ensure balance row: %w", err)
	}

	query := `SELECT user_id, balance, last_updated FROM balances WHERE user_id = $1 FOR UPDATE`

	b := &domain.BalanceRecord{}
	err := tx.QueryRow(ctx, query, userID).Scan(&b.UserID, &b.Balance, &b.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("balance row missing after insert: %s", userID)
		}
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	return b, nil
}

// UpdateBalance writes a new balance within a transaction. The CHECK
// constraint on the column is the last line of defense against negatives.
func (r *BalanceRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, newBalance int64) error {
	query := `UPDATE balances SET balance = $1, last_updated = NOW() WHERE user_id = $2`

	tag, err := tx.Exec(ctx, query, newBalance, userID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance not found: %s", userID)
	}
	return nil
}
