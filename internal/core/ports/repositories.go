package ports

import (
	"context"
	"time"

	"paywallet-core/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BalanceRepository defines persistence operations for balance records.
// Methods accepting pgx.Tx run inside transaction blocks for pessimistic
// locking; the row lock is the per-user serialization point.
type BalanceRepository interface {
	// GetOrCreate returns the balance record, inserting a zero-balance row
	// if the user has none yet.
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.BalanceRecord, error)
	// GetForUpdate locks and returns the balance row, inserting a
	// zero-balance row first if absent. MUST be called within a transaction.
	GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.BalanceRecord, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, newBalance int64) error
}

// TransactionRepository defines persistence for the append-only ledger log.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	// SetReferenceHash appends the notarization hash; the only mutation
	// permitted on a terminal record.
	SetReferenceHash(ctx context.Context, id uuid.UUID, hash string) error
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, userID uuid.UUID, periodStart *int64) (*TransactionStats, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	UserID   uuid.UUID
	Status   *domain.TransactionStatus
	Type     *domain.TransactionType
	From     *int64 // Unix timestamp
	To       *int64 // Unix timestamp
	Page     int
	PageSize int
}

// TransactionStats holds per-user aggregates for the history view.
type TransactionStats struct {
	TotalTransactions int64
	Completed         int64
	Failed            int64
	TotalSent         int64 // Sum of completed outgoing amounts (absolute)
	TotalReceived     int64 // Sum of completed incoming amounts
	TotalRecovered    int64 // Sum of completed refund credits
}

// RecoveryTaskRepository defines persistence for reconciliation tasks.
type RecoveryTaskRepository interface {
	Create(ctx context.Context, task *domain.RecoveryTask) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RecoveryTask, error)
	// ListDue returns SCHEDULED tasks with scheduled_time <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.RecoveryTask, error)
	// Claim atomically transitions SCHEDULED -> PROCESSING and stamps
	// claimed_at. Returns false if the task was not SCHEDULED, which makes
	// concurrent sweeps idempotent.
	Claim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, debitTxID, creditTxID uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	ListByStatus(ctx context.Context, status domain.RecoveryTaskStatus, limit int) ([]domain.RecoveryTask, error)
	// FailStale marks tasks PROCESSING since before cutoff as FAILED,
	// returning how many were swept.
	FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
}

// UserRepository defines persistence for the core identity records.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
}

// IdempotencyRepository defines persistence for payment idempotency logs
// (DB backup behind the Redis fast path).
type IdempotencyRepository interface {
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
