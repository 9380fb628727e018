package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new ledger entry within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, user_id, type, amount, status, counterparty,
		payment_method, original_transaction_id, external_reference_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.UserID, t.Type, t.Amount, t.Status, t.Counterparty,
		t.PaymentMethod, t.OriginalTransactionID, t.ExternalReferenceHash, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT id, user_id, type, amount, status, counterparty,
		payment_method, original_transaction_id, external_reference_hash, created_at
		FROM transactions WHERE id = $1`

	return r.scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// SetReferenceHash appends the notarization hash to a transaction. This is
// the only write allowed on a terminal record, and only while the hash is
// still unset.
func (r *TransactionRepo) SetReferenceHash(ctx context.Context, id uuid.UUID, hash string) error {
	query := `UPDATE transactions SET external_reference_hash = $1
		WHERE id = $2 AND external_reference_hash IS NULL`

	tag, err := r.pool.Exec(ctx, query, hash, id)
	if err != nil {
		return fmt.Errorf("set reference hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found or already notarized: %s", id)
	}
	return nil
}

// List fetches a user's transactions with filtering and pagination, newest
// first.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT id, user_id, type, amount, status, counterparty,
		payment_method, original_transaction_id, external_reference_hash, created_at
		FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		err := rows.Scan(
			&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status, &t.Counterparty,
			&t.PaymentMethod, &t.OriginalTransactionID, &t.ExternalReferenceHash, &t.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, total, nil
}

// GetStats retrieves aggregated transaction statistics for a user.
func (r *TransactionRepo) GetStats(ctx context.Context, userID uuid.UUID, periodStart *int64) (*ports.TransactionStats, error) {
	var args []any
	argIdx := 1

	condition := fmt.Sprintf("user_id = $%d", argIdx)
	args = append(args, userID)
	argIdx++

	if periodStart != nil {
		condition += fmt.Sprintf(" AND created_at >= to_timestamp($%d)", argIdx)
		args = append(args, *periodStart)
	}

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
		COUNT(*) FILTER (WHERE status = 'FAILED') AS failed,
		COALESCE(SUM(-amount) FILTER (WHERE amount < 0 AND status = 'COMPLETED'), 0) AS sent,
		COALESCE(SUM(amount) FILTER (WHERE amount > 0 AND type != 'REFUND' AND status = 'COMPLETED'), 0) AS received,
		COALESCE(SUM(amount) FILTER (WHERE type = 'REFUND' AND status = 'COMPLETED'), 0) AS recovered
		FROM transactions WHERE %s`, condition)

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalTransactions, &stats.Completed, &stats.Failed,
		&stats.TotalSent, &stats.TotalReceived, &stats.TotalRecovered,
	)
	if err != nil {
		return nil, fmt.Errorf("get transaction stats: %w", err)
	}
	return stats, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Status, &t.Counterparty,
		&t.PaymentMethod, &t.OriginalTransactionID, &t.ExternalReferenceHash, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return t, nil
}
