package tokenward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mwhern/tokenward/internal"
	"github.com/mwhern/tokenward/jwt"
	"github.com/mwhern/tokenward/store"
)

// reuseChainLimit bounds the ReplacedByToken walk during reuse handling so a
// corrupted chain cannot loop forever.
const reuseChainLimit = 32

const (
	reasonRotated      = "rotated"
	reasonSessionLimit = "session limit exceeded"
	reasonReuse        = "refresh token reuse detected"
	reasonLogout       = "logout"
)

// Engine is the token lifecycle manager. Build one with [Builder]; the zero
// value is not usable. All methods are safe for concurrent use.
type Engine struct {
	config      Config
	store       store.Store
	revocations RevocationList
	jwtManager  *jwt.Manager
	users       UserDirectory
	audit       *auditDispatcher
	metrics     *Metrics
	logger      *slog.Logger

	// ownsRevocations marks a Builder-created MemoryRevocationList whose
	// janitor Close must stop.
	ownsRevocations bool
}

// Close flushes the audit dispatcher and stops any Engine-owned background
// goroutines. The Engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownsRevocations {
		if l, ok := e.revocations.(*MemoryRevocationList); ok {
			l.Close()
		}
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

// Metrics exposes the counter registry for exporters. May return nil when
// metrics are disabled.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.IP == "" {
		event.IP = clientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// CreateRefreshToken mints an opaque refresh token bound to userID and jti
// and persists it as Active. When the user is at the concurrent-session
// limit, the oldest Active token is revoked first; creation never fails on
// the limit alone.
func (e *Engine) CreateRefreshToken(ctx context.Context, userID, jti string) (*store.RefreshToken, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" || jti == "" {
		return nil, ErrRefreshInvalid
	}

	if err := e.evictForSessionLimit(ctx, userID); err != nil {
		return nil, err
	}

	value, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	now := time.Now()
	token := &store.RefreshToken{
		Token:       value,
		JWTID:       jti,
		UserID:      userID,
		ExpiresAt:   now.Add(e.config.Refresh.TTL),
		CreatedAt:   now,
		CreatedByIP: clientIPFromContext(ctx),
		DeviceInfo:  deviceInfoFromContext(ctx),
	}

	if err := e.store.Create(ctx, token); err != nil {
		return nil, e.storeError(err)
	}

	e.metricInc(MetricTokenCreated)
	return token, nil
}

// evictForSessionLimit makes room for one new Active token. Revokes oldest
// first until the user is below the limit.
func (e *Engine) evictForSessionLimit(ctx context.Context, userID string) error {
	max := e.config.Refresh.MaxConcurrentSessions
	if max <= 0 {
		return nil
	}

	active, err := e.store.ActiveByUser(ctx, userID)
	if err != nil {
		return e.storeError(err)
	}
	if len(active) < max {
		return nil
	}

	for _, victim := range active[:len(active)-max+1] {
		_, err := e.store.Revoke(ctx, victim.Token, store.Revocation{
			At:     time.Now(),
			IP:     clientIPFromContext(ctx),
			Reason: reasonSessionLimit,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return e.storeError(err)
		}

		e.metricInc(MetricSessionEvicted)
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditEventSessionEvicted,
			UserID:    userID,
			Success:   true,
			Metadata:  map[string]string{"reason": reasonSessionLimit},
		})
		if e.logger != nil {
			e.logger.InfoContext(ctx, "session evicted",
				slog.String("user_id", userID),
				slog.String("reason", reasonSessionLimit),
			)
		}
	}
	return nil
}

// ValidateRefreshToken checks the triple binding of token value, jti, and
// user, plus liveness. Presentation of a rotated token is treated as theft
// evidence: every live descendant of the rotated token is revoked and
// ErrRefreshReuse is returned.
func (e *Engine) ValidateRefreshToken(ctx context.Context, tokenValue, jti, userID string) (*store.RefreshToken, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if tokenValue == "" || jti == "" || userID == "" {
		return nil, ErrRefreshInvalid
	}

	token, err := e.store.Get(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRefreshInvalid
		}
		return nil, e.storeError(err)
	}

	if token.UserID != userID || token.JWTID != jti {
		return nil, ErrRefreshInvalid
	}
	if token.Revoked {
		if token.ReplacedByToken != "" {
			e.handleReuse(ctx, token)
			return nil, ErrRefreshReuse
		}
		return nil, ErrRefreshInvalid
	}
	if token.IsExpired(time.Now()) {
		return nil, ErrRefreshInvalid
	}

	return token, nil
}

// handleReuse walks the rotation chain from the reused token and revokes any
// descendant still Active. Walk failures are logged, not returned: the caller
// already rejects the attempt and the sweep will catch leftovers.
func (e *Engine) handleReuse(ctx context.Context, reused *store.RefreshToken) {
	e.metricInc(MetricReuseDetected)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventReuseDetected,
		UserID:    reused.UserID,
		Success:   false,
		Error:     reasonReuse,
	})
	if e.logger != nil {
		e.logger.WarnContext(ctx, "refresh token reuse detected",
			slog.String("user_id", reused.UserID),
		)
	}

	next := reused.ReplacedByToken
	for hops := 0; next != "" && hops < reuseChainLimit; hops++ {
		descendant, err := e.store.Get(ctx, next)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) && e.logger != nil {
				e.logger.ErrorContext(ctx, "reuse chain walk failed",
					slog.String("user_id", reused.UserID),
					slog.Any("error", err),
				)
			}
			return
		}

		if descendant.IsActive(time.Now()) {
			_, err := e.store.Revoke(ctx, descendant.Token, store.Revocation{
				At:     time.Now(),
				IP:     clientIPFromContext(ctx),
				Reason: reasonReuse,
			})
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				if e.logger != nil {
					e.logger.ErrorContext(ctx, "reuse chain revoke failed",
						slog.String("user_id", reused.UserID),
						slog.Any("error", err),
					)
				}
				return
			}
			e.metricInc(MetricTokenRevoked)
		}
		next = descendant.ReplacedByToken
	}
}

// RotateRefreshToken atomically replaces current with a fresh opaque token
// bound to newJTI. current stays queryable with ReplacedByToken pointing at
// the successor; of two concurrent rotations exactly one succeeds.
func (e *Engine) RotateRefreshToken(ctx context.Context, current *store.RefreshToken, newJTI string) (*store.RefreshToken, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if current == nil || newJTI == "" {
		return nil, ErrRefreshInvalid
	}

	value, err := internal.NewOpaqueToken()
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	now := time.Now()
	next := &store.RefreshToken{
		Token:       value,
		JWTID:       newJTI,
		UserID:      current.UserID,
		ExpiresAt:   now.Add(e.config.Refresh.TTL),
		CreatedAt:   now,
		CreatedByIP: clientIPFromContext(ctx),
		DeviceInfo:  deviceInfoFromContext(ctx),
	}

	err = e.store.Rotate(ctx, current.Token, store.Revocation{
		At:              now,
		IP:              clientIPFromContext(ctx),
		Reason:          reasonRotated,
		ReplacedByToken: next.Token,
	}, next)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return nil, ErrRefreshInvalid
		}
		return nil, e.storeError(err)
	}

	e.metricInc(MetricTokenCreated)
	return next, nil
}

// RevokeRefreshToken revokes a single refresh token. Revoking an
// already-revoked token is a no-op success; an unknown token returns
// ErrTokenNotFound.
func (e *Engine) RevokeRefreshToken(ctx context.Context, tokenValue, reason string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if tokenValue == "" {
		return ErrTokenNotFound
	}

	row, err := e.store.Get(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenNotFound
		}
		return e.storeError(err)
	}

	already, err := e.store.Revoke(ctx, tokenValue, store.Revocation{
		At:     time.Now(),
		IP:     clientIPFromContext(ctx),
		Reason: reason,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenNotFound
		}
		return e.storeError(err)
	}
	if already {
		return nil
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventTokenRevocation,
		UserID:    row.UserID,
		Success:   true,
		Metadata:  map[string]string{"reason": reason},
	})
	return nil
}

// RevokeAllForUser revokes every Active refresh token of the user and returns
// how many were revoked. Zero active tokens is a success.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrRefreshInvalid
	}

	revoked, err := e.store.RevokeAllForUser(ctx, userID, store.Revocation{
		At:     time.Now(),
		IP:     clientIPFromContext(ctx),
		Reason: reason,
	})
	if err != nil {
		return 0, e.storeError(err)
	}

	if revoked > 0 {
		e.metrics.Add(MetricTokenRevoked, uint64(revoked))
	}
	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventTokenRevocation,
		UserID:    userID,
		Success:   true,
		Metadata:  map[string]string{"reason": reason, "scope": "all"},
	})
	return revoked, nil
}

// GetRefreshToken exposes the stored row for introspection and session
// listings. Unknown tokens return ErrTokenNotFound.
func (e *Engine) GetRefreshToken(ctx context.Context, tokenValue string) (*store.RefreshToken, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	token, err := e.store.Get(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, e.storeError(err)
	}
	return token, nil
}

// ActiveSessions lists the user's Active refresh tokens, oldest first.
func (e *Engine) ActiveSessions(ctx context.Context, userID string) ([]*store.RefreshToken, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	active, err := e.store.ActiveByUser(ctx, userID)
	if err != nil {
		return nil, e.storeError(err)
	}
	return active, nil
}

// RevokeAccessToken inserts the access token's jti into the revocation list.
// ttl should cover the token's remaining lifetime; non-positive falls back to
// the configured default.
func (e *Engine) RevokeAccessToken(ctx context.Context, jti string, ttl time.Duration) error {
	if e == nil || e.revocations == nil {
		return ErrEngineNotReady
	}
	if jti == "" {
		return ErrTokenInvalid
	}
	if ttl <= 0 {
		ttl = e.config.Revocation.DefaultTTL
	}

	if err := e.revocations.Revoke(ctx, jti, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	e.metricInc(MetricAccessRevoked)
	return nil
}

// IsAccessTokenRevoked reports whether the jti is present in the revocation
// list.
func (e *Engine) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if e == nil || e.revocations == nil {
		return false, ErrEngineNotReady
	}

	revoked, err := e.revocations.IsRevoked(ctx, jti)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return revoked, nil
}

// SweepExpired deletes refresh-token rows whose expiry predates now minus the
// configured grace window. Returns the number of rows removed.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}

	cutoff := time.Now().Add(-e.config.Sweep.Grace)
	deleted, err := e.store.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		e.metricInc(MetricSweepFailures)
		return 0, e.storeError(err)
	}

	e.metricInc(MetricSweepRuns)
	if deleted > 0 {
		e.metrics.Add(MetricSweepDeleted, uint64(deleted))
		e.emitAudit(ctx, AuditEvent{
			EventType: AuditEventSweep,
			Success:   true,
			Metadata:  map[string]string{"deleted": strconv.Itoa(deleted)},
		})
	}
	return deleted, nil
}

// Sweeper returns a background runner for periodic SweepExpired calls.
func (e *Engine) Sweeper() *Sweeper {
	return &Sweeper{
		engine: e,
		cfg:    e.config.Sweep,
		logger: e.logger,
	}
}

func (e *Engine) storeError(err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
