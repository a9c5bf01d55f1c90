package tokenward

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mwhern/tokenward/jwt"
)

// Login authenticates identity (username or email) against the configured
// [UserDirectory] and issues a fresh token pair. Every failure mode collapses
// to ErrInvalidCredentials except backend unavailability.
func (e *Engine) Login(ctx context.Context, identity, password string) (*TokenPair, error) {
	if e == nil || e.users == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if identity == "" || password == "" {
		return nil, e.loginFailure(ctx, "", "empty credentials")
	}

	user, err := e.lookupUser(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, e.loginFailure(ctx, "", "unknown identity")
		}
		return nil, err
	}

	ok, err := e.users.CheckPassword(ctx, user.ID, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.loginFailure(ctx, user.ID, "password mismatch")
	}

	roles, err := e.users.GetRoles(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	pair, err := e.issuePair(ctx, user, roles)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventAuthSuccess,
		UserID:    user.ID,
		Success:   true,
	})
	return pair, nil
}

func (e *Engine) lookupUser(ctx context.Context, identity string) (*User, error) {
	user, err := e.users.FindByName(ctx, identity)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	return e.users.FindByEmail(ctx, identity)
}

func (e *Engine) loginFailure(ctx context.Context, userID, detail string) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventAuthFailure,
		UserID:    userID,
		Success:   false,
		Error:     detail,
	})
	return ErrInvalidCredentials
}

func (e *Engine) issuePair(ctx context.Context, user *User, roles []string) (*TokenPair, error) {
	access, jti, expiresAt, err := e.jwtManager.CreateAccess(user.ID, jwt.Profile{
		Username: user.Username,
		Email:    user.Email,
		Roles:    roles,
		ClientID: user.ClientID,
	})
	if err != nil {
		return nil, err
	}

	refresh, err := e.CreateRefreshToken(ctx, user.ID, jti)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:     access,
		RefreshToken:    refresh.Token,
		AccessExpiresAt: expiresAt,
	}, nil
}

// Refresh exchanges an access/refresh pair for a new pair. The access token
// may be expired but must be otherwise valid; the refresh token must be
// Active and bound to the access token's jti and subject. The old refresh
// token is rotated out atomically and the old jti is added to the
// access-token revocation list for its remaining lifetime.
func (e *Engine) Refresh(ctx context.Context, accessToken, refreshToken string) (*TokenPair, error) {
	if e == nil || e.jwtManager == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if accessToken == "" || refreshToken == "" {
		return nil, e.refreshFailure(ctx, "", ErrRefreshInvalid)
	}

	if !e.jwtManager.HasValidSigningAlgorithm(accessToken) {
		return nil, e.refreshFailure(ctx, "", ErrTokenInvalid)
	}
	claims := e.jwtManager.ParseExpired(accessToken)
	if claims == nil {
		return nil, e.refreshFailure(ctx, "", ErrTokenInvalid)
	}

	current, err := e.ValidateRefreshToken(ctx, refreshToken, claims.ID, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			return nil, e.refreshFailure(ctx, claims.Subject, err)
		}
		return nil, err
	}

	newAccess, newJTI, expiresAt, err := e.jwtManager.CreateAccess(claims.Subject, jwt.Profile{
		Username: claims.Username,
		Email:    claims.Email,
		Roles:    claims.Roles,
		ClientID: claims.ClientID,
	})
	if err != nil {
		return nil, err
	}

	next, err := e.RotateRefreshToken(ctx, current, newJTI)
	if err != nil {
		if errors.Is(err, ErrRefreshInvalid) {
			return nil, e.refreshFailure(ctx, claims.Subject, err)
		}
		return nil, err
	}

	// Best effort: the refresh already committed, a revocation-list miss only
	// leaves the superseded access token usable until its natural expiry.
	if ttl := e.remainingLifetime(claims); ttl > 0 {
		if err := e.RevokeAccessToken(ctx, claims.ID, ttl); err != nil && e.logger != nil {
			e.logger.ErrorContext(ctx, "superseded access token not revoked",
				slog.String("user_id", claims.Subject),
				slog.Any("error", err),
			)
		}
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventTokenRefresh,
		UserID:    claims.Subject,
		Success:   true,
	})
	return &TokenPair{
		AccessToken:     newAccess,
		RefreshToken:    next.Token,
		AccessExpiresAt: expiresAt,
	}, nil
}

func (e *Engine) refreshFailure(ctx context.Context, userID string, cause error) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventTokenRefresh,
		UserID:    userID,
		Success:   false,
		Error:     cause.Error(),
	})
	return cause
}

func (e *Engine) remainingLifetime(claims *jwt.AccessClaims) time.Duration {
	if claims.ExpiresAt == nil {
		return e.config.Revocation.DefaultTTL
	}
	return time.Until(claims.ExpiresAt.Time)
}

// Logout ends the session the access token belongs to: the presented jti goes
// on the revocation list and the refresh token paired with that jti is
// revoked. Other sessions of the same user stay alive. The access token may
// already be expired.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	claims, err := e.logoutClaims(ctx, accessToken)
	if err != nil {
		return err
	}

	active, err := e.store.ActiveByUser(ctx, claims.Subject)
	if err != nil {
		return e.storeError(err)
	}
	for _, tok := range active {
		if tok.JWTID != claims.ID {
			continue
		}
		if err := e.RevokeRefreshToken(ctx, tok.Token, reasonLogout); err != nil && !errors.Is(err, ErrTokenNotFound) {
			return err
		}
		break
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventLogout,
		UserID:    claims.Subject,
		Success:   true,
	})
	return nil
}

// LogoutAll ends every session of the access token's subject: the presented
// jti goes on the revocation list and all Active refresh tokens are revoked.
func (e *Engine) LogoutAll(ctx context.Context, accessToken string) error {
	claims, err := e.logoutClaims(ctx, accessToken)
	if err != nil {
		return err
	}

	if _, err := e.RevokeAllForUser(ctx, claims.Subject, reasonLogout); err != nil {
		return err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, AuditEvent{
		EventType: AuditEventLogout,
		UserID:    claims.Subject,
		Success:   true,
		Metadata:  map[string]string{"scope": "all"},
	})
	return nil
}

// logoutClaims validates the access token's shape and signature, pushes its
// jti onto the revocation list, and hands back the claims. Expired tokens are
// accepted so a client can still log out after its access token lapsed.
func (e *Engine) logoutClaims(ctx context.Context, accessToken string) (*jwt.AccessClaims, error) {
	if e == nil || e.jwtManager == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	if !e.jwtManager.HasValidSigningAlgorithm(accessToken) {
		return nil, ErrTokenInvalid
	}
	claims := e.jwtManager.ParseExpired(accessToken)
	if claims == nil {
		return nil, ErrTokenInvalid
	}

	if ttl := e.remainingLifetime(claims); ttl > 0 {
		if err := e.RevokeAccessToken(ctx, claims.ID, ttl); err != nil {
			return nil, err
		}
	}
	return claims, nil
}

// ValidateAccess fully validates an access token and consults the revocation
// list. Every rejection surfaces as ErrUnauthorized.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*jwt.AccessClaims, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	if !e.jwtManager.HasValidSigningAlgorithm(tokenStr) {
		return nil, ErrUnauthorized
	}
	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrUnauthorized
	}

	revoked, err := e.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		e.metricInc(MetricAccessRevocationHit)
		return nil, ErrUnauthorized
	}

	return claims, nil
}
