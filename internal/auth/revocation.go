package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/erazemk/podari/internal/store"
)

// RevocationList records logged-out token IDs until the tokens expire.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// SQLRevocationList keeps revoked token IDs in the revoked_tokens table.
type SQLRevocationList struct {
	DB *sqlx.DB
}

func (l *SQLRevocationList) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := store.RevokeToken(ctx, l.DB, jti, expiresAt); err != nil {
		return err
	}
	// Logouts are rare enough to piggyback cleanup on them.
	if n, err := store.PurgeExpiredTokens(ctx, l.DB, time.Now()); err != nil {
		slog.WarnContext(ctx, "purging revoked tokens failed", "error", err)
	} else if n > 0 {
		slog.DebugContext(ctx, "purged revoked tokens", "count", n)
	}
	return nil
}

func (l *SQLRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	return store.IsTokenRevoked(ctx, l.DB, jti)
}

const revokedKeyPrefix = "podari:revoked:"

// RedisRevocationList keeps revoked token IDs in Redis with a TTL matching
// the token's remaining lifetime, so several instances share logout state.
type RedisRevocationList struct {
	Client *redis.Client
}

func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return nil
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := l.Client.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoking token in redis: %w", err)
	}
	return nil
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	_, err := l.Client.Get(ctx, revokedKeyPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking token revocation in redis: %w", err)
	}
	return true, nil
}

// NewRedisClient connects to Redis at url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}
