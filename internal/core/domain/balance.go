package domain

import (
	"time"

	"github.com/google/uuid"
)

// BalanceRecord is the authoritative wallet balance for one user.
// Amounts are in minor currency units (e.g., paise). The balance is created
// lazily with zero on first access and is never negative after a committed
// operation.
type BalanceRecord struct {
	UserID      uuid.UUID `json:"user_id"`
	Balance     int64     `json:"balance"`
	LastUpdated time.Time `json:"last_updated"`
}

// CanDebit reports whether the balance covers the given amount.
func (b *BalanceRecord) CanDebit(amount int64) bool {
	return amount > 0 && b.Balance >= amount
}
