package tokenward

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisRevocationList(t *testing.T) (*RedisRevocationList, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisRevocationList(client, ""), mr
}

func TestRedisRevocationListRoundTrip(t *testing.T) {
	l, _ := newRedisRevocationList(t)
	ctx := context.Background()

	if err := l.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	revoked, err := l.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !revoked {
		t.Fatal("expected revoked entry")
	}

	revoked, err = l.IsRevoked(ctx, "jti-unknown")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if revoked {
		t.Fatal("unknown jti must not be revoked")
	}
}

func TestRedisRevocationListTTLExpiry(t *testing.T) {
	l, mr := newRedisRevocationList(t)
	ctx := context.Background()

	if err := l.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	revoked, err := l.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if revoked {
		t.Fatal("expected entry to expire with the key ttl")
	}
}

func TestRedisRevocationListSharedAcrossClients(t *testing.T) {
	l, mr := newRedisRevocationList(t)
	ctx := context.Background()

	if err := l.Revoke(ctx, "jti-1", time.Minute); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = other.Close() })

	peer := NewRedisRevocationList(other, "")
	revoked, err := peer.IsRevoked(ctx, "jti-1")
	if err != nil {
		t.Fatalf("peer lookup failed: %v", err)
	}
	if !revoked {
		t.Fatal("revocation must be visible to other processes")
	}
}

func TestRedisRevocationListEmptyJTI(t *testing.T) {
	l, mr := newRedisRevocationList(t)

	if err := l.Revoke(context.Background(), "", time.Minute); err != nil {
		t.Fatalf("empty jti must be ignored, got %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("empty jti must not be stored, found %v", keys)
	}
}
