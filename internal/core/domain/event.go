package domain

// Event is the push message shape delivered over a live connection.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Event types pushed by the ledger.
const (
	EventTypeBalanceUpdate     = "balance_update"
	EventTypeTransactionUpdate = "transaction_update"
)

// BalanceUpdatePayload is the payload of a balance_update event.
type BalanceUpdatePayload struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// NewBalanceEvent builds a balance_update event for a committed mutation.
func NewBalanceEvent(record *BalanceRecord) Event {
	return Event{
		Type: EventTypeBalanceUpdate,
		Payload: BalanceUpdatePayload{
			UserID:  record.UserID.String(),
			Balance: record.Balance,
		},
	}
}

// NewTransactionEvent builds a transaction_update event for a new or
// finalized ledger entry.
func NewTransactionEvent(tx *Transaction) Event {
	return Event{
		Type:    EventTypeTransactionUpdate,
		Payload: tx,
	}
}
