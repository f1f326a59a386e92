package store

import (
	"context"
	"fmt"
	"time"
)

// Revoked token IDs are stored with the token's expiry as Unix seconds. An
// entry only matters while the token itself could still be presented, so
// lookups ignore lapsed entries and PurgeExpiredTokens removes them.

// RevokeToken records jti as logged out until expiresAt. Revoking the same
// jti again keeps the later of the two expiries. Tokens without an ID or
// that have already expired are not recorded.
func RevokeToken(ctx context.Context, db DBTX, jti string, expiresAt time.Time) error {
	if jti == "" || !expiresAt.After(time.Now()) {
		return nil
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		ON CONFLICT (jti) DO UPDATE SET expires_at = max(expires_at, excluded.expires_at)`,
		jti, expiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording revoked token: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether jti is on the revocation list and its
// entry has not lapsed.
func IsTokenRevoked(ctx context.Context, db DBTX, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	var revoked bool
	err := db.GetContext(ctx, &revoked,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ? AND expires_at > ?)`,
		jti, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("looking up revoked token: %w", err)
	}
	return revoked, nil
}

// PurgeExpiredTokens deletes entries that lapsed at or before now and
// returns how many were removed.
func PurgeExpiredTokens(ctx context.Context, db DBTX, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM revoked_tokens WHERE expires_at <= ?`, now.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging revoked tokens: %w", err)
	}
	return res.RowsAffected()
}
