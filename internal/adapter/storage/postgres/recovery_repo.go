package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paywallet-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const recoveryColumns = `id, user_id, amount, counterparty, recovery_source_account,
	status, scheduled_time, claimed_at, failure_reason,
	recovery_debit_transaction_id, wallet_credit_transaction_id, created_at, updated_at`

// RecoveryRepo implements ports.RecoveryTaskRepository.
type RecoveryRepo struct {
	pool Pool
}

// NewRecoveryRepo creates a new RecoveryRepo.
func NewRecoveryRepo(pool Pool) *RecoveryRepo {
	return &RecoveryRepo{pool: pool}
}

// Create persists a new reconciliation task.
func (r *RecoveryRepo) Create(ctx context.Context, t *domain.RecoveryTask) error {
	query := `INSERT INTO recovery_tasks (` + recoveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.UserID, t.Amount, t.Counterparty, t.RecoverySourceAccount,
		t.Status, t.ScheduledTime, t.ClaimedAt, t.FailureReason,
		t.RecoveryDebitTransactionID, t.WalletCreditTransactionID, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert recovery task: %w", err)
	}
	return nil
}

// GetByID fetches a task by UUID.
func (r *RecoveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecoveryTask, error) {
	query := `SELECT ` + recoveryColumns + ` FROM recovery_tasks WHERE id = $1`
	return r.scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListDue returns SCHEDULED tasks whose scheduled_time has passed, oldest
// first.
func (r *RecoveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.RecoveryTask, error) {
	query := `SELECT ` + recoveryColumns + ` FROM recovery_tasks
		WHERE status = 'SCHEDULED' AND scheduled_time <= $1
		ORDER BY scheduled_time ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due recovery tasks: %w", err)
	}
	defer rows.Close()

	return r.collectTasks(rows)
}

// Claim atomically transitions a task from SCHEDULED to PROCESSING. The
// conditional UPDATE is the compare-and-swap that keeps concurrent sweeps
// from both processing one task.
func (r *RecoveryRepo) Claim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error) {
	query := `UPDATE recovery_tasks
		SET status = 'PROCESSING', claimed_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'SCHEDULED'`

	tag, err := r.pool.Exec(ctx, query, claimedAt, id)
	if err != nil {
		return false, fmt.Errorf("claim recovery task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted finalizes a task, recording both sub-operation ids.
func (r *RecoveryRepo) MarkCompleted(ctx context.Context, id uuid.UUID, debitTxID, creditTxID uuid.UUID) error {
	query := `UPDATE recovery_tasks
		SET status = 'COMPLETED', recovery_debit_transaction_id = $1,
			wallet_credit_transaction_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = 'PROCESSING'`

	tag, err := r.pool.Exec(ctx, query, debitTxID, creditTxID, id)
	if err != nil {
		return fmt.Errorf("complete recovery task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recovery task not in processing state: %s", id)
	}
	return nil
}

// MarkFailed moves a task to its terminal failure state with a reason for
// the ops follow-up.
func (r *RecoveryRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE recovery_tasks
		SET status = 'FAILED', failure_reason = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ('SCHEDULED', 'PROCESSING')`

	tag, err := r.pool.Exec(ctx, query, reason, id)
	if err != nil {
		return fmt.Errorf("fail recovery task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("recovery task already terminal: %s", id)
	}
	return nil
}

// ListByStatus returns tasks in a given state for operational monitoring.
func (r *RecoveryRepo) ListByStatus(ctx context.Context, status domain.RecoveryTaskStatus, limit int) ([]domain.RecoveryTask, error) {
	query := `SELECT ` + recoveryColumns + ` FROM recovery_tasks
		WHERE status = $1 ORDER BY scheduled_time DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list recovery tasks by status: %w", err)
	}
	defer rows.Close()

	return r.collectTasks(rows)
}

// FailStale marks tasks claimed before the cutoff as FAILED. A task stuck
// in PROCESSING means a worker crashed between claim and completion.
func (r *RecoveryRepo) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	query := `UPDATE recovery_tasks
		SET status = 'FAILED', failure_reason = $1, updated_at = NOW()
		WHERE status = 'PROCESSING' AND claimed_at < $2`

	tag, err := r.pool.Exec(ctx, query, reason, cutoff)
	if err != nil {
		return 0, fmt.Errorf("fail stale recovery tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RecoveryRepo) collectTasks(rows pgx.Rows) ([]domain.RecoveryTask, error) {
	var tasks []domain.RecoveryTask
	for rows.Next() {
		t := domain.RecoveryTask{}
		err := rows.Scan(
			&t.ID, &t.UserID, &t.Amount, &t.Counterparty, &t.RecoverySourceAccount,
			&t.Status, &t.ScheduledTime, &t.ClaimedAt, &t.FailureReason,
			&t.RecoveryDebitTransactionID, &t.WalletCreditTransactionID, &t.CreatedAt, &t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recovery task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recovery task rows: %w", err)
	}
	return tasks, nil
}

func (r *RecoveryRepo) scanTask(row pgx.Row) (*domain.RecoveryTask, error) {
	t := &domain.RecoveryTask{}
	err := row.Scan(
		&t.ID, &t.UserID, &t.Amount, &t.Counterparty, &t.RecoverySourceAccount,
		&t.Status, &t.ScheduledTime, &t.ClaimedAt, &t.FailureReason,
		&t.RecoveryDebitTransactionID, &t.WalletCreditTransactionID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan recovery task: %w", err)
	}
	return t, nil
}
