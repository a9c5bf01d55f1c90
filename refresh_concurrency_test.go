package tokenward

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())

	pair, err := engine.Login(context.Background(), "alice", "correct-password-123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.Refresh(context.Background(), pair.AccessToken, pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	fail := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, ErrRefreshInvalid) {
			fail++
			continue
		}
		t.Fatalf("unexpected refresh error: %v", err)
	}

	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
	if fail != n-1 {
		t.Fatalf("expected %d refresh failures, got %d", n-1, fail)
	}
}

func TestConcurrentRevokeAndRotate(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	const rounds = 8
	for i := 0; i < rounds; i++ {
		token, err := engine.CreateRefreshToken(ctx, "u1", "jti-race")
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		errs := make([]error, 2)
		go func() {
			defer wg.Done()
			_, errs[0] = engine.RotateRefreshToken(ctx, token, "jti-next")
		}()
		go func() {
			defer wg.Done()
			errs[1] = engine.RevokeRefreshToken(ctx, token.Token, "race")
		}()
		wg.Wait()

		// Revoke treats an already-revoked token as a no-op success, so it
		// never fails here; the rotate either wins or loses the row.
		if errs[1] != nil {
			t.Fatalf("revoke failed: %v", errs[1])
		}
		if errs[0] != nil && !errors.Is(errs[0], ErrRefreshInvalid) {
			t.Fatalf("unexpected rotate error: %v", errs[0])
		}

		stored, err := engine.GetRefreshToken(ctx, token.Token)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if !stored.Revoked {
			t.Fatal("token must leave the active state after the race")
		}
		if errs[0] == nil && stored.ReplacedByToken == "" {
			t.Fatal("winning rotate must record its successor")
		}
	}
}
