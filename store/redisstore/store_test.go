package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mwhern/tokenward/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, "tw")
}

func testToken(value, userID string, ttl time.Duration) *store.RefreshToken {
	now := time.Now()
	return &store.RefreshToken{
		Token:       value,
		JWTID:       "jti-" + value,
		UserID:      userID,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		CreatedByIP: "192.0.2.1",
		DeviceInfo:  "test-agent",
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := testToken("t1", "u1", time.Hour)
	if err := s.Create(ctx, token); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.UserID != "u1" || got.JWTID != "jti-t1" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.CreatedByIP != "192.0.2.1" || got.DeviceInfo != "test-agent" {
		t.Fatalf("metadata lost: %+v", got)
	}
	if got.Revoked {
		t.Fatal("fresh token must be active")
	}
	// Millisecond precision survives the round trip.
	if got.ExpiresAt.UnixMilli() != token.ExpiresAt.UnixMilli() {
		t.Fatalf("expiry drift: %v vs %v", got.ExpiresAt, token.ExpiresAt)
	}
}

func TestCreateDuplicateConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testToken("t1", "u1", time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.Create(ctx, testToken("t1", "u2", time.Hour)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveByUserOrderAndFiltering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := testToken("t1", "u1", time.Hour)
	older.CreatedAt = time.Now().Add(-time.Minute)
	newer := testToken("t2", "u1", time.Hour)
	expired := testToken("t3", "u1", -time.Minute)
	foreign := testToken("t4", "u2", time.Hour)

	for _, tok := range []*store.RefreshToken{newer, older, expired, foreign} {
		if err := s.Create(ctx, tok); err != nil {
			t.Fatalf("create %s failed: %v", tok.Token, err)
		}
	}

	revoked := testToken("t5", "u1", time.Hour)
	if err := s.Create(ctx, revoked); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := s.Revoke(ctx, "t5", store.Revocation{At: time.Now(), Reason: "test"}); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	active, err := s.ActiveByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("active listing failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active tokens, got %d", len(active))
	}
	if active[0].Token != "t1" || active[1].Token != "t2" {
		t.Fatalf("expected oldest-first order, got %s, %s", active[0].Token, active[1].Token)
	}

	count, err := s.CountActiveByUser(ctx, "u1")
	if err != nil || count != 2 {
		t.Fatalf("expected count 2, got (%d, %v)", count, err)
	}

	none, err := s.ActiveByUser(ctx, "u3")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty listing, got (%v, %v)", none, err)
	}
}

func TestRevokeTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testToken("t1", "u1", time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	rev := store.Revocation{At: time.Now(), IP: "198.51.100.1", Reason: "test revoke"}
	already, err := s.Revoke(ctx, "t1", rev)
	if err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if already {
		t.Fatal("first revoke must report a fresh transition")
	}

	got, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Revoked || got.RevocationReason != "test revoke" || got.RevokedByIP != "198.51.100.1" {
		t.Fatalf("revocation not recorded: %+v", got)
	}
	if got.RevokedAt.UnixMilli() != rev.At.UnixMilli() {
		t.Fatalf("revoked_at drift: %v vs %v", got.RevokedAt, rev.At)
	}

	already, err = s.Revoke(ctx, "t1", store.Revocation{At: time.Now(), Reason: "again"})
	if err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}
	if !already {
		t.Fatal("second revoke must report already-revoked")
	}

	// The original revocation record wins.
	got, _ = s.Get(ctx, "t1")
	if got.RevocationReason != "test revoke" {
		t.Fatalf("idempotent revoke must not overwrite, got %q", got.RevocationReason)
	}

	if _, err := s.Revoke(ctx, "missing", rev); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testToken("t1", "u1", time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	next := testToken("t2", "u1", time.Hour)
	rev := store.Revocation{At: time.Now(), Reason: "rotated", ReplacedByToken: "t2"}
	if err := s.Rotate(ctx, "t1", rev, next); err != nil {
		t.Fatalf("rotate failed: %v", err)
	}

	old, err := s.Get(ctx, "t1")
	if err != nil {
		t.Fatalf("get old failed: %v", err)
	}
	if !old.Revoked || old.ReplacedByToken != "t2" {
		t.Fatalf("old token not marked rotated: %+v", old)
	}

	fresh, err := s.Get(ctx, "t2")
	if err != nil {
		t.Fatalf("get new failed: %v", err)
	}
	if fresh.Revoked {
		t.Fatal("successor must be active")
	}

	// Rotating the same token again loses the CAS.
	if err := s.Rotate(ctx, "t1", rev, testToken("t3", "u1", time.Hour)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.Get(ctx, "t3"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("failed rotation must not persist its successor")
	}

	if err := s.Rotate(ctx, "missing", rev, testToken("t4", "u1", time.Hour)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateExpiredConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testToken("t1", "u1", -time.Minute)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := s.Rotate(ctx, "t1", store.Revocation{At: time.Now(), Reason: "rotated"}, testToken("t2", "u1", time.Hour))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for expired token, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"t1", "t2", "t3"} {
		if err := s.Create(ctx, testToken(v, "u1", time.Hour)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if err := s.Create(ctx, testToken("t9", "u2", time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	count, err := s.RevokeAllForUser(ctx, "u1", store.Revocation{At: time.Now(), Reason: "bulk"})
	if err != nil {
		t.Fatalf("revoke all failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 revocations, got %d", count)
	}

	remaining, err := s.CountActiveByUser(ctx, "u1")
	if err != nil || remaining != 0 {
		t.Fatalf("expected no active tokens, got (%d, %v)", remaining, err)
	}

	other, err := s.Get(ctx, "t9")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if other.Revoked {
		t.Fatal("other users must be untouched")
	}

	count, err = s.RevokeAllForUser(ctx, "u1", store.Revocation{At: time.Now(), Reason: "bulk"})
	if err != nil || count != 0 {
		t.Fatalf("expected (0, nil) on repeat, got (%d, %v)", count, err)
	}
}

func TestDeleteExpiredBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, testToken("gone", "u1", -time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := s.Create(ctx, testToken("kept", "u1", time.Hour)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	deleted, err := s.DeleteExpiredBefore(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}

	if _, err := s.Get(ctx, "gone"); !errors.Is(err, store.ErrNotFound) {
		t.Fatal("expired token must be gone")
	}
	if _, err := s.Get(ctx, "kept"); err != nil {
		t.Fatalf("unexpired token must survive: %v", err)
	}

	// The user index is cleaned alongside the row.
	active, err := s.ActiveByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("active listing failed: %v", err)
	}
	if len(active) != 1 || active[0].Token != "kept" {
		t.Fatalf("unexpected listing after sweep: %v", active)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}
