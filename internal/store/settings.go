package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GetJWTSecret returns the JWT signing secret, generating and storing one on
// first use. INSERT OR IGNORE followed by a re-read keeps concurrent first
// starts on the same secret.
func GetJWTSecret(ctx context.Context, db DBTX) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}

	if err := SetSettingIfAbsent(ctx, db, "jwt_secret", hex.EncodeToString(buf)); err != nil {
		return "", err
	}

	secret, err := GetSetting(ctx, db, "jwt_secret")
	if err != nil {
		return "", err
	}
	return secret, nil
}

// GetSetting returns a setting's value, or "" if unset.
func GetSetting(ctx context.Context, db DBTX, key string) (string, error) {
	var values []string
	if err := db.SelectContext(ctx, &values, `SELECT value FROM settings WHERE key = ?`, key); err != nil {
		return "", fmt.Errorf("querying setting %s: %w", key, err)
	}
	if len(values) == 0 {
		return "", nil
	}
	return values[0], nil
}

// SetSettingIfAbsent stores a setting unless it already has a value.
func SetSettingIfAbsent(ctx context.Context, db DBTX, key, value string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value,
	); err != nil {
		return fmt.Errorf("storing setting %s: %w", key, err)
	}
	return nil
}
