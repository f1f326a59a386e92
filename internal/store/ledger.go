package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/erazemk/podari/internal/model"
)

// AppendLedgerEntry records a point event. A reference UUID is generated when
// the entry has none. Entries are never updated afterwards.
func AppendLedgerEntry(ctx context.Context, db DBTX, e model.LedgerEntry) (*model.LedgerEntry, error) {
	if e.Reference == "" {
		e.Reference = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = model.LedgerStatusCompleted
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO ledger_entries (reference, kind, user_id, item_id, amount, status, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Reference, e.Kind, e.UserID, e.ItemID, e.Amount, e.Status, e.Description,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("appending ledger entry: %w", ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("appending ledger entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting ledger entry id: %w", err)
	}

	entry := &model.LedgerEntry{}
	if err := db.GetContext(ctx, entry,
		`SELECT id, reference, kind, user_id, item_id, amount, status, description, created_at
		 FROM ledger_entries WHERE id = ?`, id,
	); err != nil {
		return nil, fmt.Errorf("getting ledger entry: %w", err)
	}
	return entry, nil
}

// ListLedgerEntries returns a user's ledger entries, newest first.
func ListLedgerEntries(ctx context.Context, db DBTX, userID int64) ([]model.LedgerEntry, error) {
	entries := []model.LedgerEntry{}
	err := db.SelectContext(ctx, &entries,
		`SELECT l.id, l.reference, l.kind, l.user_id, l.item_id, l.amount, l.status,
		        l.description, l.created_at, i.title AS item_title
		 FROM ledger_entries l
		 JOIN items i ON i.id = l.item_id
		 WHERE l.user_id = ?
		 ORDER BY l.created_at DESC, l.id DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	return entries, nil
}

// LedgerTotals returns the sums of a user's completed awards and debits.
func LedgerTotals(ctx context.Context, db DBTX, userID int64) (awarded, debited int64, err error) {
	var totals struct {
		Awarded int64 `db:"awarded"`
		Debited int64 `db:"debited"`
	}
	err = db.GetContext(ctx, &totals,
		`SELECT
		     COALESCE(SUM(CASE WHEN kind = 'award' THEN amount END), 0) AS awarded,
		     COALESCE(SUM(CASE WHEN kind = 'debit' THEN amount END), 0) AS debited
		 FROM ledger_entries
		 WHERE user_id = ? AND status = 'completed'`, userID,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("summing ledger entries: %w", err)
	}
	return totals.Awarded, totals.Debited, nil
}
