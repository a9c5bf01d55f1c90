package tokenward

import (
	"context"
	"time"
)

// User is the identity record handed back by a [UserDirectory]. The Engine
// never stores users; it only reads them to build access-token claims.
type User struct {
	ID       string
	Username string
	Email    string
	ClientID string
}

// UserDirectory is the identity collaborator the Engine depends on. Password
// hashing and user persistence live entirely behind this interface.
//
// Lookup methods return [ErrUserNotFound] on a miss, never a nil user with a
// nil error. CheckPassword reports a mismatch as (false, nil); its error
// return is reserved for backend failures.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*User, error)
	FindByName(ctx context.Context, name string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	CheckPassword(ctx context.Context, userID, password string) (bool, error)
	Update(ctx context.Context, user *User) error
	GetRoles(ctx context.Context, userID string) ([]string, error)
}

// TokenPair is the result of Login and Refresh: a signed access token and the
// opaque refresh token paired with it via the access token's jti.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}
