package dto

import (
	"time"

	"paywallet-core/internal/core/domain"
)

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Phone             string `json:"phone" binding:"required,phone"`
	PIN               string `json:"pin" binding:"required,pin"`
	PrimaryAccountRef string `json:"primary_account_ref" binding:"required,max=64,safe_id"`
	FallbackEnabled   *bool  `json:"fallback_enabled,omitempty"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Phone string `json:"phone" binding:"required"`
	PIN   string `json:"pin" binding:"required"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	UserID          string `json:"user_id"`
	Phone           string `json:"phone"`
	FallbackEnabled bool   `json:"fallback_enabled"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// PayRequest is the request body for a payment attempt.
type PayRequest struct {
	ReferenceID  string `json:"reference_id" binding:"required,max=100,safe_id"`
	Counterparty string `json:"counterparty" binding:"required,max=100"`
	Amount       int64  `json:"amount" binding:"required,gt=0"`
	PIN          string `json:"pin" binding:"required"`
}

// PayResponse is the terminal outcome of a payment attempt.
type PayResponse struct {
	Transaction  TransactionResponse `json:"transaction"`
	Method       string              `json:"method"`
	FallbackUsed bool                `json:"fallback_used"`
	FailureRef   *string             `json:"failure_ref,omitempty"`
}

// TopupRequest is the request body for wallet topup.
type TopupRequest struct {
	Amount int64  `json:"amount" binding:"required,gt=0"`
	Source string `json:"source" binding:"required,max=100"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// TransactionResponse is a single ledger entry in API shape.
type TransactionResponse struct {
	ID                    string  `json:"id"`
	Type                  string  `json:"type"`
	Amount                int64   `json:"amount"`
	Status                string  `json:"status"`
	Counterparty          string  `json:"counterparty"`
	PaymentMethod         string  `json:"payment_method"`
	OriginalTransactionID *string `json:"original_transaction_id,omitempty"`
	ExternalReferenceHash *string `json:"external_reference_hash,omitempty"`
	CreatedAt             string  `json:"created_at"`
}

// FromTransaction maps a domain transaction to its API shape.
func FromTransaction(tx *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:                    tx.ID.String(),
		Type:                  string(tx.Type),
		Amount:                tx.Amount,
		Status:                string(tx.Status),
		Counterparty:          tx.Counterparty,
		PaymentMethod:         string(tx.PaymentMethod),
		ExternalReferenceHash: tx.ExternalReferenceHash,
		CreatedAt:             tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	if tx.OriginalTransactionID != nil {
		id := tx.OriginalTransactionID.String()
		resp.OriginalTransactionID = &id
	}
	return resp
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// StatsResponse is the response for transaction statistics.
type StatsResponse struct {
	TotalTransactions int64 `json:"total_transactions"`
	Completed         int64 `json:"completed"`
	Failed            int64 `json:"failed"`
	TotalSent         int64 `json:"total_sent"`
	TotalReceived     int64 `json:"total_received"`
	TotalRecovered    int64 `json:"total_recovered"`
}

// RecoveryTaskResponse is a reconciliation task in API shape.
type RecoveryTaskResponse struct {
	ID                         string  `json:"id"`
	UserID                     string  `json:"user_id"`
	Amount                     int64   `json:"amount"`
	Counterparty               string  `json:"counterparty"`
	RecoverySourceAccount      string  `json:"recovery_source_account"`
	Status                     string  `json:"status"`
	ScheduledTime              string  `json:"scheduled_time"`
	ClaimedAt                  *string `json:"claimed_at,omitempty"`
	FailureReason              *string `json:"failure_reason,omitempty"`
	RecoveryDebitTransactionID *string `json:"recovery_debit_transaction_id,omitempty"`
	WalletCreditTransactionID  *string `json:"wallet_credit_transaction_id,omitempty"`
}

// FromRecoveryTask maps a domain recovery task to its API shape.
func FromRecoveryTask(t *domain.RecoveryTask) RecoveryTaskResponse {
	resp := RecoveryTaskResponse{
		ID:                    t.ID.String(),
		UserID:                t.UserID.String(),
		Amount:                t.Amount,
		Counterparty:          t.Counterparty,
		RecoverySourceAccount: t.RecoverySourceAccount,
		Status:                string(t.Status),
		ScheduledTime:         t.ScheduledTime.UTC().Format(time.RFC3339),
		FailureReason:         t.FailureReason,
	}
	if t.ClaimedAt != nil {
		s := t.ClaimedAt.UTC().Format(time.RFC3339)
		resp.ClaimedAt = &s
	}
	if t.RecoveryDebitTransactionID != nil {
		s := t.RecoveryDebitTransactionID.String()
		resp.RecoveryDebitTransactionID = &s
	}
	if t.WalletCreditTransactionID != nil {
		s := t.WalletCreditTransactionID.String()
		resp.WalletCreditTransactionID = &s
	}
	return resp
}

// RecoverySweepResponse reports one manually triggered sweep.
type RecoverySweepResponse struct {
	Claimed   int   `json:"claimed"`
	Completed int   `json:"completed"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	Swept     int64 `json:"swept_stale"`
}
