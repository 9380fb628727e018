package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"paywallet-core/internal/core/domain"
	"paywallet-core/internal/core/ports"
	"paywallet-core/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// The in-memory implementations below back the full application stack in
// integration tests. The transactor serializes transaction blocks with a
// single mutex, which stands in for row-level locking: concurrent debits
// against one wallet run one at a time, same as SELECT ... FOR UPDATE.

type inMemoryTransactor struct {
	mu sync.Mutex
}

func newInMemoryTransactor() *inMemoryTransactor {
	return &inMemoryTransactor{}
}

func (t *inMemoryTransactor) Begin(ctx context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	return &fakeTx{release: t.mu.Unlock}, nil
}

// fakeTx satisfies pgx.Tx for the narrow surface the services touch
// (Commit and Rollback). Data mutations are applied directly, so Rollback
// only releases the serialization lock.
type fakeTx struct {
	pgx.Tx
	release func()
	once    sync.Once
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.once.Do(tx.release)
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.once.Do(tx.release)
	return nil
}

// --- Users ---

type inMemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*domain.User
	byPhone map[string]*domain.User
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{
		byID:    make(map[uuid.UUID]*domain.User),
		byPhone: make(map[string]*domain.User),
	}
}

func (r *inMemoryUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byPhone[user.Phone]; exists {
		return apperror.ErrPhoneExists()
	}
	u := *user
	r.byID[u.ID] = &u
	r.byPhone[u.Phone] = &u
	return nil
}

func (r *inMemoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byPhone[phone]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// --- Balances ---

type inMemoryBalanceRepo struct {
	mu       sync.Mutex
	balances map[uuid.UUID]*domain.BalanceRecord
}

func newInMemoryBalanceRepo() *inMemoryBalanceRepo {
	return &inMemoryBalanceRepo{balances: make(map[uuid.UUID]*domain.BalanceRecord)}
}

func (r *inMemoryBalanceRepo) getOrCreateLocked(userID uuid.UUID) *domain.BalanceRecord {
	b, ok := r.balances[userID]
	if !ok {
		b = &domain.BalanceRecord{UserID: userID, Balance: 0, LastUpdated: time.Now()}
		r.balances[userID] = b
	}
	return b
}

func (r *inMemoryBalanceRepo) GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.BalanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.getOrCreateLocked(userID)
	return &cp, nil
}

// GetForUpdate relies on the transactor's lock already being held.
func (r *inMemoryBalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*domain.BalanceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.getOrCreateLocked(userID)
	return &cp, nil
}

func (r *inMemoryBalanceRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, newBalance int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.getOrCreateLocked(userID)
	b.Balance = newBalance
	b.LastUpdated = time.Now()
	return nil
}

// --- Transactions ---

type inMemoryTransactionRepo struct {
	mu      sync.RWMutex
	records []*domain.Transaction
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{}
}

func (r *inMemoryTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.records = append(r.records, &cp)
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.records {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryTransactionRepo) SetReferenceHash(ctx context.Context, id uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.records {
		if t.ID == id {
			if t.ExternalReferenceHash != nil {
				return fmt.Errorf("reference hash already set for transaction %s", id)
			}
			t.ExternalReferenceHash = &hash
			return nil
		}
	}
	return apperror.ErrNotFound("transaction")
}

func (r *inMemoryTransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.Transaction
	for _, t := range r.records {
		if t.UserID != params.UserID {
			continue
		}
		if params.Status != nil && t.Status != *params.Status {
			continue
		}
		if params.Type != nil && t.Type != *params.Type {
			continue
		}
		if params.From != nil && t.CreatedAt.Unix() < *params.From {
			continue
		}
		if params.To != nil && t.CreatedAt.Unix() > *params.To {
			continue
		}
		matched = append(matched, *t)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (params.Page - 1) * params.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + params.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r *inMemoryTransactionRepo) GetStats(ctx context.Context, userID uuid.UUID, periodStart *int64) (*ports.TransactionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &ports.TransactionStats{}
	for _, t := range r.records {
		if t.UserID != userID {
			continue
		}
		if periodStart != nil && t.CreatedAt.Unix() < *periodStart {
			continue
		}
		stats.TotalTransactions++
		switch t.Status {
		case domain.TransactionStatusCompleted:
			stats.Completed++
			switch {
			case t.Type == domain.TransactionTypeRefund:
				stats.TotalRecovered += t.Amount
			case t.Amount < 0:
				stats.TotalSent += -t.Amount
			default:
				stats.TotalReceived += t.Amount
			}
		case domain.TransactionStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// --- Recovery tasks ---

type inMemoryRecoveryRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*domain.RecoveryTask
}

func newInMemoryRecoveryRepo() *inMemoryRecoveryRepo {
	return &inMemoryRecoveryRepo{tasks: make(map[uuid.UUID]*domain.RecoveryTask)}
}

func (r *inMemoryRecoveryRepo) Create(ctx context.Context, task *domain.RecoveryTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[cp.ID] = &cp
	return nil
}

func (r *inMemoryRecoveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.RecoveryTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryRecoveryRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.RecoveryTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.RecoveryTask
	for _, t := range r.tasks {
		if t.Status == domain.RecoveryStatusScheduled && !t.ScheduledTime.After(now) {
			due = append(due, *t)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *inMemoryRecoveryRepo) Claim(ctx context.Context, id uuid.UUID, claimedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != domain.RecoveryStatusScheduled {
		return false, nil
	}
	t.Status = domain.RecoveryStatusProcessing
	t.ClaimedAt = &claimedAt
	t.UpdatedAt = time.Now()
	return true, nil
}

func (r *inMemoryRecoveryRepo) MarkCompleted(ctx context.Context, id uuid.UUID, debitTxID, creditTxID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return apperror.ErrNotFound("recovery task")
	}
	if t.Status != domain.RecoveryStatusProcessing {
		return apperror.ErrTaskNotClaimable()
	}
	t.Status = domain.RecoveryStatusCompleted
	t.RecoveryDebitTransactionID = &debitTxID
	t.WalletCreditTransactionID = &creditTxID
	t.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryRecoveryRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return apperror.ErrNotFound("recovery task")
	}
	t.Status = domain.RecoveryStatusFailed
	t.FailureReason = &reason
	t.UpdatedAt = time.Now()
	return nil
}

func (r *inMemoryRecoveryRepo) ListByStatus(ctx context.Context, status domain.RecoveryTaskStatus, limit int) ([]domain.RecoveryTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RecoveryTask
	for _, t := range r.tasks {
		if t.Status == status {
			out = append(out, *t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *inMemoryRecoveryRepo) FailStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var swept int64
	for _, t := range r.tasks {
		if t.Status == domain.RecoveryStatusProcessing && t.ClaimedAt != nil && t.ClaimedAt.Before(cutoff) {
			t.Status = domain.RecoveryStatusFailed
			t.FailureReason = &reason
			t.UpdatedAt = time.Now()
			swept++
		}
	}
	return swept, nil
}

// --- Idempotency logs ---

type inMemoryIdempotencyRepo struct {
	mu   sync.RWMutex
	logs map[string]*domain.IdempotencyLog
}

func newInMemoryIdempotencyRepo() *inMemoryIdempotencyRepo {
	return &inMemoryIdempotencyRepo{logs: make(map[string]*domain.IdempotencyLog)}
}

func (r *inMemoryIdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.logs[log.Key]; exists {
		return apperror.ErrDuplicatePayment()
	}
	cp := *log
	r.logs[cp.Key] = &cp
	return nil
}

func (r *inMemoryIdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.logs[key]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}
