package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyLog is the durable record of a processed payment request,
// keyed by user + client reference. Retried requests replay the cached
// response instead of moving money twice.
type IdempotencyLog struct {
	Key           string    `json:"key"` // Format: "user_id:reference_id"
	TransactionID uuid.UUID `json:"transaction_id"`
	ResponseJSON  []byte    `json:"response_json"`
	CreatedAt     time.Time `json:"created_at"`
}
