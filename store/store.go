package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the refresh token does not exist.
	ErrNotFound = errors.New("refresh token not found")
	// ErrConflict is returned when a mutation loses to a concurrent state
	// transition: creating a duplicate token value, or rotating a token that
	// is no longer Active.
	ErrConflict = errors.New("refresh token state conflict")
	// ErrUnavailable marks a transient backend failure.
	ErrUnavailable = errors.New("token store unavailable")
)

// RefreshToken is the persisted rotation token. Token is the primary key; a
// row is created on login or rotation, mutated only by revocation, and deleted
// only by the expiry sweep.
type RefreshToken struct {
	Token            string
	JWTID            string
	UserID           string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	CreatedByIP      string
	DeviceInfo       string
	Revoked          bool
	RevokedAt        time.Time
	RevokedByIP      string
	RevocationReason string
	ReplacedByToken  string
}

// IsExpired reports natural expiry at the given instant.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token can still be used: unrevoked and
// unexpired.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.Revoked && !t.IsExpired(now)
}

// Revocation carries the mutation applied when a token leaves the Active
// state. ReplacedByToken is set only by rotation.
type Revocation struct {
	At              time.Time
	IP              string
	Reason          string
	ReplacedByToken string
}

// Store is the persistence contract for refresh tokens. Implementations must
// serialize per-token mutations: of a rotate and a concurrent revoke on the
// same token, exactly one wins and the loser observes ErrConflict or the
// already-revoked outcome.
type Store interface {
	// Create persists token as Active. ErrConflict if the value exists.
	Create(ctx context.Context, token *RefreshToken) error

	// Get returns the row for the token value. ErrNotFound if absent.
	Get(ctx context.Context, token string) (*RefreshToken, error)

	// ActiveByUser returns the user's Active tokens ordered oldest first.
	ActiveByUser(ctx context.Context, userID string) ([]*RefreshToken, error)

	// CountActiveByUser returns the user's Active token count.
	CountActiveByUser(ctx context.Context, userID string) (int, error)

	// Revoke transitions the token out of Active. It reports
	// (true, nil) without mutating when the token was already revoked,
	// ErrNotFound when absent.
	Revoke(ctx context.Context, token string, rev Revocation) (alreadyRevoked bool, err error)

	// Rotate atomically persists next as Active and marks oldToken revoked
	// with ReplacedByToken = next.Token. Neither step commits alone. ErrNotFound
	// if oldToken is absent, ErrConflict if it is not Active or next.Token
	// already exists.
	Rotate(ctx context.Context, oldToken string, rev Revocation, next *RefreshToken) error

	// RevokeAllForUser revokes every Active token of the user in one atomic
	// step with respect to concurrent Create calls, returning how many rows
	// transitioned.
	RevokeAllForUser(ctx context.Context, userID string, rev Revocation) (int, error)

	// DeleteExpiredBefore removes rows whose expiry is at or before cutoff,
	// returning the number deleted.
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Ping checks backend availability.
	Ping(ctx context.Context) error
}
