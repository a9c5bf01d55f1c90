package tokenward

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRevocationList is the shared-store implementation of [RevocationList]
// for deployments where revocation must survive restarts or span processes.
// Entry expiry rides on Redis key TTLs; no janitor is needed.
type RedisRevocationList struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisRevocationList wraps an existing Redis client. prefix namespaces the
// keys; empty defaults to "twrv".
func NewRedisRevocationList(client redis.UniversalClient, prefix string) *RedisRevocationList {
	if prefix == "" {
		prefix = "twrv"
	}
	return &RedisRevocationList{
		redis:  client,
		prefix: prefix,
	}
}

func (l *RedisRevocationList) key(jti string) string {
	return l.prefix + ":" + jti
}

// Revoke stores the revocation timestamp under the jti key with the given TTL.
func (l *RedisRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultRevocationTTL
	}

	value := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := l.redis.Set(ctx, l.key(jti), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether the jti key still exists.
func (l *RedisRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := l.redis.Exists(ctx, l.key(jti)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}
