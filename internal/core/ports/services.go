package ports

import (
	"context"
	"time"

	"paywallet-core/internal/core/domain"

	"github.com/google/uuid"
)

// --- Ledger ---

// LedgerEntry describes one requested balance mutation together with the
// audit fields for its transaction record. The mutation and the record
// commit in a single atomic unit.
type LedgerEntry struct {
	UserID       uuid.UUID
	Amount       int64 // positive magnitude; direction comes from the operation
	Type         domain.TransactionType
	Counterparty string
	Method       domain.PaymentMethod
	// OriginalTransactionID links a fallback/recovery movement to the
	// payment it originated from.
	OriginalTransactionID *uuid.UUID
}

// LedgerResult is the outcome of a committed ledger mutation.
type LedgerResult struct {
	NewBalance  int64
	Transaction *domain.Transaction
}

// LedgerService is the only component allowed to mutate balances.
type LedgerService interface {
	// GetBalance creates the balance record with zero if absent.
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	// Debit fails with InsufficientFunds when the balance cannot cover the
	// amount; concurrent debits against one user are serialized.
	Debit(ctx context.Context, entry LedgerEntry) (*LedgerResult, error)
	// Credit always succeeds within the representable amount range.
	Credit(ctx context.Context, entry LedgerEntry) (*LedgerResult, error)
}

// --- Payment orchestration ---

// PayRequest holds validated input for a payment attempt.
type PayRequest struct {
	UserID            uuid.UUID
	ReferenceID       string
	Counterparty      string
	Amount            int64
	PIN               string
	PrimaryAccountRef string
	ClientIP          string
}

// PayResult is the terminal outcome of a payment request. A successful
// fallback looks like a successful primary payment apart from the method
// tag; on failure FailureRef tracks manual resolution.
type PayResult struct {
	Transaction  *domain.Transaction `json:"transaction"`
	Method       domain.PaymentMethod `json:"method"`
	FallbackUsed bool                 `json:"fallback_used"`
	FailureRef   *string              `json:"failure_ref,omitempty"`
}

// PaymentService orchestrates primary-rail attempts with wallet fallback.
type PaymentService interface {
	Pay(ctx context.Context, req PayRequest) (*PayResult, error)
}

// --- Recovery ---

// EnqueueTaskRequest describes a fallback event requiring reconciliation.
type EnqueueTaskRequest struct {
	UserID                uuid.UUID
	Amount                int64
	Counterparty          string
	RecoverySourceAccount string
}

// RecoveryReport summarizes one ProcessDue sweep.
type RecoveryReport struct {
	Claimed   int
	Completed int
	Failed    int
	Skipped   int
}

// RecoveryService owns the deferred reconciliation queue.
type RecoveryService interface {
	Enqueue(ctx context.Context, req EnqueueTaskRequest) (*domain.RecoveryTask, error)
	// ProcessDue never returns a per-task error; each failure is recorded
	// on the task itself and the sweep continues.
	ProcessDue(ctx context.Context) RecoveryReport
	// SweepStale fails tasks stuck in PROCESSING beyond the grace period.
	SweepStale(ctx context.Context) (int64, error)
	ListByStatus(ctx context.Context, status domain.RecoveryTaskStatus) ([]domain.RecoveryTask, error)
}

// --- External collaborators ---

// RailRequest is a primary-rail transfer attempt.
type RailRequest struct {
	PayerAccount    string
	PayeeIdentifier string
	Amount          int64
	Proof           string
}

// RailResult is the rail's definitive answer for one attempt.
type RailResult struct {
	Success     bool
	ReferenceID string
	Message     string
}

// PrimaryRail is the external payment network collaborator. Attempt is
// bounded-latency and idempotent per call attempt; transport failures and
// timeouts surface as classified errors.
type PrimaryRail interface {
	Attempt(ctx context.Context, req RailRequest) (*RailResult, error)
}

// RecoveryBank re-debits a funding source during reconciliation.
type RecoveryBank interface {
	Debit(ctx context.Context, sourceAccount string, amount int64) (referenceID string, err error)
}

// EventPublisher pushes events to a user's live connection, if any.
// Publication is fire-and-forget: a false return or dropped event never
// affects ledger correctness.
type EventPublisher interface {
	Publish(userID uuid.UUID, event domain.Event) bool
	Broadcast(event domain.Event)
}

// Notary queues transaction summaries for asynchronous notarization.
// Enqueue failures must never block or fail a ledger commit.
type Notary interface {
	Enqueue(ctx context.Context, txID uuid.UUID, summary string) error
}

// NotaryJob is one pending notarization pulled off the queue.
type NotaryJob struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Summary       string    `json:"summary"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// NotarySource is the consuming side of the notarization queue, drained by
// the background worker. Dequeue returns nil, nil when the queue stays
// empty for the whole wait.
type NotarySource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*NotaryJob, error)
}

// --- Identity ---

// TokenService handles JWT token operations for HTTP auth and the hub
// handshake.
type TokenService interface {
	Generate(userID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
}

// PINHasher handles payment PIN hashing (Argon2id).
type PINHasher interface {
	Hash(pin string) (string, error)
	Verify(pin string, hash string) (bool, error)
}

// AuthService defines authentication business logic.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, phone, pin string) (string, time.Time, error) // token, expiry, error
}

// RegisterRequest holds input for user provisioning.
type RegisterRequest struct {
	Phone             string
	PIN               string
	PrimaryAccountRef string
	FallbackEnabled   bool
}

// --- Caching ---

// IdempotencyCache is the Redis-layer payment dedup check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
