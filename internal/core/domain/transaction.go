package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeSent     TransactionType = "SENT"
	TransactionTypeReceived TransactionType = "RECEIVED"
	TransactionTypeTopup    TransactionType = "TOPUP"
	TransactionTypeFailed   TransactionType = "FAILED"
	TransactionTypeRefund   TransactionType = "REFUND"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// PaymentMethod identifies which rail carried a money movement.
type PaymentMethod string

const (
	PaymentMethodPrimaryRail PaymentMethod = "PRIMARY_RAIL"
	PaymentMethodWallet      PaymentMethod = "WALLET"
)

// Transaction is an append-only ledger entry for a money movement.
// Amount is signed: negative debits the user, positive credits the user.
// Once the status is terminal the record is immutable, except that an
// external reference hash may still be appended by the notarization worker.
type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	UserID                uuid.UUID         `json:"user_id"`
	Type                  TransactionType   `json:"type"`
	Amount                int64             `json:"amount"`
	Status                TransactionStatus `json:"status"`
	Counterparty          string            `json:"counterparty"`
	PaymentMethod         PaymentMethod     `json:"payment_method"`
	OriginalTransactionID *uuid.UUID        `json:"original_transaction_id,omitempty"`
	ExternalReferenceHash *string           `json:"external_reference_hash,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusCancelled
}

// IsWalletMovement returns true if this entry reflects a committed wallet
// balance mutation.
func (t *Transaction) IsWalletMovement() bool {
	return t.PaymentMethod == PaymentMethodWallet &&
		t.Status == TransactionStatusCompleted
}

// BuildPaymentIdempotencyKey constructs the dedup key for a payment request.
func BuildPaymentIdempotencyKey(userID uuid.UUID, referenceID string) string {
	return userID.String() + ":" + referenceID
}
