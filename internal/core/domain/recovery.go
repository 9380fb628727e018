package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecoveryTaskStatus is the state machine of a deferred reconciliation task.
// Scheduled -> Processing -> Completed | Failed. Terminal states are final.
type RecoveryTaskStatus string

const (
	RecoveryStatusScheduled  RecoveryTaskStatus = "SCHEDULED"
	RecoveryStatusProcessing RecoveryTaskStatus = "PROCESSING"
	RecoveryStatusCompleted  RecoveryTaskStatus = "COMPLETED"
	RecoveryStatusFailed     RecoveryTaskStatus = "FAILED"
)

// RecoveryTask records one wallet-fallback event awaiting reconciliation:
// debit the original funding source, then credit the wallet that fronted
// the amount. Tasks are kept forever as an audit trail.
type RecoveryTask struct {
	ID                    uuid.UUID          `json:"id"`
	UserID                uuid.UUID          `json:"user_id"`
	Amount                int64              `json:"amount"`
	Counterparty          string             `json:"counterparty"`
	RecoverySourceAccount string             `json:"recovery_source_account"`
	Status                RecoveryTaskStatus `json:"status"`
	ScheduledTime         time.Time          `json:"scheduled_time"`
	ClaimedAt             *time.Time         `json:"claimed_at,omitempty"`
	FailureReason         *string            `json:"failure_reason,omitempty"`
	// Sub-operation transaction ids, set as each step succeeds; they make
	// re-entry after a partial run observable.
	RecoveryDebitTransactionID *uuid.UUID `json:"recovery_debit_transaction_id,omitempty"`
	WalletCreditTransactionID  *uuid.UUID `json:"wallet_credit_transaction_id,omitempty"`
	CreatedAt                  time.Time  `json:"created_at"`
	UpdatedAt                  time.Time  `json:"updated_at"`
}

// IsTerminal returns true once the task can never be processed again.
func (t *RecoveryTask) IsTerminal() bool {
	return t.Status == RecoveryStatusCompleted || t.Status == RecoveryStatusFailed
}

// IsDue returns true if the task is eligible for processing at the given time.
func (t *RecoveryTask) IsDue(now time.Time) bool {
	return t.Status == RecoveryStatusScheduled && !t.ScheduledTime.After(now)
}
