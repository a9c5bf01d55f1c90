package tokenward

import (
	"errors"
	"time"
)

// Config carries every tunable of the Engine. Zero values are filled in from
// [defaultConfig] by the Builder; validation failures are fatal at Build time
// and never surface at runtime.
type Config struct {
	JWT        JWTConfig
	Refresh    RefreshConfig
	Revocation RevocationConfig
	Sweep      SweepConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the HS256 access-token issuer.
type JWTConfig struct {
	AccessTTL time.Duration
	Secret    []byte
	Issuer    string
	Audience  string
	Leeway    time.Duration
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls the refresh-token lifecycle.
//
// MaxConcurrentSessions bounds the number of Active refresh tokens per user.
// When a create would exceed it, the oldest Active token is revoked to make
// room (sliding-window eviction, not a rejection). Zero disables the limit.
type RefreshConfig struct {
	TTL                   time.Duration
	MaxConcurrentSessions int
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig controls the access-token revocation list.
type RevocationConfig struct {
	DefaultTTL      time.Duration
	JanitorInterval time.Duration
}

/*
====================================
SWEEP CONFIG
====================================
*/

// SweepConfig controls the background expiry sweep. Grace is how long an
// expired row is retained before deletion; ErrorBackoff is the wait after a
// failed sweep before the next attempt.
type SweepConfig struct {
	Interval     time.Duration
	Grace        time.Duration
	ErrorBackoff time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the atomic counter registry.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL: 15 * time.Minute,
		},
		Refresh: RefreshConfig{
			TTL:                   7 * 24 * time.Hour,
			MaxConcurrentSessions: 5,
		},
		Revocation: RevocationConfig{
			DefaultTTL:      24 * time.Hour,
			JanitorInterval: 5 * time.Minute,
		},
		Sweep: SweepConfig{
			Interval:     time.Hour,
			Grace:        24 * time.Hour,
			ErrorBackoff: 30 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate reports the first configuration fault it finds. A nil result means
// the Engine can be built; a non-nil result is a startup error, never a
// runtime condition.
func (c Config) Validate() error {
	if len(c.JWT.Secret) == 0 {
		return errors.New("jwt signing secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt signing secret must be at least 32 bytes")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("invalid access token TTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("invalid leeway configuration")
	}
	if c.Refresh.TTL <= 0 {
		return errors.New("invalid refresh token TTL")
	}
	if c.Refresh.TTL <= c.JWT.AccessTTL {
		return errors.New("refresh token TTL must exceed access token TTL")
	}
	if c.Refresh.MaxConcurrentSessions < 0 {
		return errors.New("invalid max concurrent sessions")
	}
	if c.Revocation.DefaultTTL <= 0 {
		return errors.New("invalid revocation TTL")
	}
	if c.Sweep.Interval <= 0 {
		return errors.New("invalid sweep interval")
	}
	if c.Sweep.Grace < 0 {
		return errors.New("invalid sweep grace window")
	}
	if c.Sweep.ErrorBackoff <= 0 {
		return errors.New("invalid sweep error backoff")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("invalid audit buffer size")
	}
	return nil
}
