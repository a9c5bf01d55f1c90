package tokenward

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when an access token fails validation or its
	// jti is present in the revocation list.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for every login failure. User-not-found
	// and password-mismatch are deliberately indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is the sentinel a [UserDirectory] implementation must
	// return when a lookup misses. The Engine never forwards it to callers.
	ErrUserNotFound = errors.New("user not found")
	// ErrRefreshInvalid is returned for every refresh-token validation failure:
	// unknown value, revoked, expired, or mismatched jti/user pairing.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReuse marks presentation of an already-rotated refresh token.
	// It wraps ErrRefreshInvalid so callers matching the generic failure still
	// catch it.
	ErrRefreshReuse = fmt.Errorf("%w: reuse detected", ErrRefreshInvalid)
	// ErrTokenNotFound is returned by explicit revocation when the refresh
	// token does not exist.
	ErrTokenNotFound = errors.New("refresh token not found")
	// ErrTokenInvalid is returned when an access token is structurally invalid
	// or carries an unexpected signing algorithm.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrStoreUnavailable marks a transient persistence failure. Interactive
	// callers see it as-is; background jobs log and retry.
	ErrStoreUnavailable = errors.New("token store unavailable")
	// ErrEngineNotReady is returned when an Engine method is invoked before
	// Build completed or after Close.
	ErrEngineNotReady = errors.New("engine not initialized")
)
