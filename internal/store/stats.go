package store

import (
	"context"
	"fmt"

	"github.com/erazemk/podari/internal/model"
)

// GetStats returns the administrator dashboard counters.
func GetStats(ctx context.Context, db DBTX) (*model.Stats, error) {
	stats := &model.Stats{
		UsersByRole:   map[string]int64{},
		ItemsByStatus: map[string]int64{},
	}

	type count struct {
		Key string `db:"k"`
		N   int64  `db:"n"`
	}

	var roles []count
	if err := db.SelectContext(ctx, &roles,
		`SELECT role AS k, COUNT(*) AS n FROM users GROUP BY role`,
	); err != nil {
		return nil, fmt.Errorf("counting users by role: %w", err)
	}
	for _, c := range roles {
		stats.UsersByRole[c.Key] = c.N
	}

	var statuses []count
	if err := db.SelectContext(ctx, &statuses,
		`SELECT status AS k, COUNT(*) AS n FROM items GROUP BY status`,
	); err != nil {
		return nil, fmt.Errorf("counting items by status: %w", err)
	}
	for _, c := range statuses {
		stats.ItemsByStatus[c.Key] = c.N
	}

	var totals []count
	if err := db.SelectContext(ctx, &totals,
		`SELECT kind AS k, COALESCE(SUM(amount), 0) AS n
		 FROM ledger_entries WHERE status = 'completed' GROUP BY kind`,
	); err != nil {
		return nil, fmt.Errorf("summing ledger: %w", err)
	}
	for _, c := range totals {
		switch c.Key {
		case model.LedgerKindAward:
			stats.PointsAwarded = c.N
		case model.LedgerKindDebit:
			stats.PointsRedeemed = c.N
		}
	}

	return stats, nil
}
