package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config carries the immutable signing parameters for a [Manager].
type Config struct {
	AccessTTL time.Duration
	Secret    []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

// Manager issues and parses HS256 access tokens. Safe for concurrent use.
type Manager struct {
	config Config
}

// Profile is the claims bag embedded in an access token alongside the
// registered claims.
type Profile struct {
	Username string
	Email    string
	Roles    []string
	ClientID string
}

// AccessClaims is the decoded payload of an access token. The jti lives in
// RegisteredClaims.ID, the user id in RegisteredClaims.Subject.
type AccessClaims struct {
	Username string   `json:"name,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	ClientID string   `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager. Configuration faults are
// returned here and never deferred to issue/parse time.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires a signing secret")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess builds and signs an access token for userID. It returns the
// compact token, its freshly generated jti, and the absolute expiry. No side
// effects beyond token construction.
func (m *Manager) CreateAccess(userID string, profile Profile) (string, string, time.Time, error) {
	if userID == "" {
		return "", "", time.Time{}, errors.New("empty user id")
	}

	now := time.Now()
	expiresAt := now.Add(m.config.AccessTTL)
	jti := uuid.NewString()

	claims := AccessClaims{
		Username: profile.Username,
		Email:    profile.Email,
		Roles:    profile.Roles,
		ClientID: profile.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    m.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.config.Secret)
	if err != nil {
		return "", "", time.Time{}, err
	}

	return signed, jti, expiresAt, nil
}

// ParseAccess fully validates tokenStr: signature, algorithm, expiry, issuer,
// and audience when configured.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	return m.parse(tokenStr, false)
}

// ParseExpired validates signature and structural well-formedness while
// ignoring expiry, so a just-expired access token can still authorize a
// refresh request. It returns nil on any structural or signature failure;
// callers must treat nil as "reject the refresh attempt", never as a
// retryable condition.
func (m *Manager) ParseExpired(tokenStr string) *AccessClaims {
	claims, err := m.parse(tokenStr, true)
	if err != nil {
		return nil
	}
	return claims
}

// HasValidSigningAlgorithm reports whether the token header names the
// configured algorithm. It inspects the header without verifying the
// signature and must be invoked before trusting any externally supplied
// token's claims; it defends against algorithm-substitution and "none"
// attacks.
func (m *Manager) HasValidSigningAlgorithm(tokenStr string) bool {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil {
		return false
	}
	return token.Method.Alg() == jwt.SigningMethodHS256.Alg()
}

func (m *Manager) parse(tokenStr string, ignoreExpiry bool) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ignoreExpiry {
		options = append(options, jwt.WithoutClaimsValidation())
	} else {
		if m.config.Leeway > 0 {
			options = append(options, jwt.WithLeeway(m.config.Leeway))
		}
		if m.config.Issuer != "" {
			options = append(options, jwt.WithIssuer(m.config.Issuer))
		}
		if m.config.Audience != "" {
			options = append(options, jwt.WithAudience(m.config.Audience))
		}
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}

	return claims, nil
}
