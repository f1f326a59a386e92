package model

import "time"

// LedgerEntry is an immutable point-affecting event. A user's balance is the
// sum of completed awards minus completed debits.
type LedgerEntry struct {
	ID          int64     `json:"id" db:"id"`
	Reference   string    `json:"reference" db:"reference"`
	Kind        string    `json:"kind" db:"kind"`
	UserID      int64     `json:"user_id" db:"user_id"`
	ItemID      int64     `json:"item_id" db:"item_id"`
	Amount      int64     `json:"amount" db:"amount"`
	Status      string    `json:"status" db:"status"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`

	// Joined field (not always populated).
	ItemTitle string `json:"item_title,omitempty" db:"item_title"`
}

// Ledger entry kinds.
const (
	LedgerKindAward = "award"
	LedgerKindDebit = "debit"
)

// Ledger entry statuses.
const (
	LedgerStatusPending   = "pending"
	LedgerStatusCompleted = "completed"
	LedgerStatusFailed    = "failed"
)

// Reconciliation compares a user's cached balance with the balance derived
// from their completed ledger entries.
type Reconciliation struct {
	UserID   int64 `json:"user_id"`
	Cached   int64 `json:"cached"`
	Awarded  int64 `json:"awarded"`
	Debited  int64 `json:"debited"`
	Derived  int64 `json:"derived"`
	Balanced bool  `json:"balanced"`
}
