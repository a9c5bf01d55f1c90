package tokenward

import (
	"context"
	"sync"
	"time"
)

const defaultRevocationTTL = 24 * time.Hour

// RevocationList is the fast-path set of revoked access-token identifiers.
// The excluded request pipeline consults IsRevoked on every authenticated
// request before business logic runs; a hit short-circuits the request.
//
// Absence, including absence caused by TTL expiry, means "not revoked".
// Implementations must be safe for concurrent use without external locking.
type RevocationList interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocationList is the default process-wide, in-memory implementation.
//
// Known limitation: entries do not survive a restart, so an access token
// revoked before its natural expiry becomes unblockable after the process
// comes back up. Acceptable because access tokens are short-lived; deployments
// needing durable or cross-process revocation should use [RedisRevocationList]
// instead.
type MemoryRevocationList struct {
	mu      sync.RWMutex
	entries map[string]time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryRevocationList starts a janitor goroutine that removes expired
// entries every janitorInterval. The janitor exists for memory hygiene only;
// IsRevoked is correct without it. Callers must Close when done.
func NewMemoryRevocationList(janitorInterval time.Duration) *MemoryRevocationList {
	if janitorInterval <= 0 {
		janitorInterval = 5 * time.Minute
	}

	l := &MemoryRevocationList{
		entries: make(map[string]time.Time),
		done:    make(chan struct{}),
	}

	go l.janitor(janitorInterval)

	return l
}

// Revoke inserts or overwrites the entry for jti. A non-positive ttl falls
// back to the 24h default.
func (l *MemoryRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultRevocationTTL
	}

	l.mu.Lock()
	l.entries[jti] = time.Now().Add(ttl)
	l.mu.Unlock()
	return nil
}

// IsRevoked reports whether jti has an unexpired entry.
func (l *MemoryRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.RLock()
	expiry, ok := l.entries[jti]
	l.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return time.Now().Before(expiry), nil
}

// Len returns the number of tracked entries, expired ones included.
func (l *MemoryRevocationList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close stops the janitor goroutine. Revoke and IsRevoked remain usable after
// Close; only the background cleanup stops.
func (l *MemoryRevocationList) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

func (l *MemoryRevocationList) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeExpired(time.Now())
		case <-l.done:
			return
		}
	}
}

func (l *MemoryRevocationList) removeExpired(now time.Time) {
	l.mu.Lock()
	for jti, expiry := range l.entries {
		if !now.Before(expiry) {
			delete(l.entries, jti)
		}
	}
	l.mu.Unlock()
}
