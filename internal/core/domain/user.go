package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is the minimal identity record the core needs: credentials for the
// handshake, the PIN hash authorizing payments, and the fallback policy
// flag. Full profile data lives outside the core.
type User struct {
	ID              uuid.UUID `json:"id"`
	Phone           string    `json:"phone"`
	PINHash         string    `json:"-"` // Argon2id, never exposed
	FallbackEnabled bool      `json:"fallback_enabled"`
	// PrimaryAccountRef is the default funding source on the primary rail.
	PrimaryAccountRef string    `json:"primary_account_ref"`
	CreatedAt         time.Time `json:"created_at"`
}
