package tokenward

import (
	"errors"
	"log/slog"

	"github.com/mwhern/tokenward/jwt"
	"github.com/mwhern/tokenward/store"
)

// Builder assembles an [Engine]. Configure, then Build exactly once; a
// Builder is not safe for concurrent use and not reusable after Build.
type Builder struct {
	config      Config
	store       store.Store
	revocations RevocationList
	users       UserDirectory
	auditSink   AuditSink
	logger      *slog.Logger

	built bool
}

// New returns a Builder preloaded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. Zero fields are filled from
// the defaults at Build.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the refresh-token store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRevocationList sets the access-token revocation list. When unset, Build
// creates an Engine-owned [MemoryRevocationList].
func (b *Builder) WithRevocationList(l RevocationList) *Builder {
	b.revocations = l
	return b
}

// WithUserDirectory sets the identity collaborator. Required for Login; the
// token operations work without it.
func (b *Builder) WithUserDirectory(d UserDirectory) *Builder {
	b.users = d
	return b
}

// WithAuditSink sets the audit destination. Events are dispatched
// asynchronously; a nil sink with auditing enabled falls back to [NoOpSink].
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger for background failures and security
// signals. A nil logger silences them.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetricsEnabled toggles the counter registry.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires the dependencies, and returns the
// Engine. Callers must Close the Engine when done.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	b.applyDefaults()

	if b.store == nil {
		return nil, errors.New("refresh token store is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL: b.config.JWT.AccessTTL,
		Secret:    b.config.JWT.Secret,
		Issuer:    b.config.JWT.Issuer,
		Audience:  b.config.JWT.Audience,
		Leeway:    b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:      b.config,
		store:       b.store,
		revocations: b.revocations,
		jwtManager:  jwtManager,
		users:       b.users,
		audit:       newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:     newMetrics(b.config.Metrics),
		logger:      b.logger,
	}

	if e.revocations == nil {
		e.revocations = NewMemoryRevocationList(b.config.Revocation.JanitorInterval)
		e.ownsRevocations = true
	}

	b.built = true
	return e, nil
}

func (b *Builder) applyDefaults() {
	def := defaultConfig()
	if b.config.JWT.AccessTTL == 0 {
		b.config.JWT.AccessTTL = def.JWT.AccessTTL
	}
	if b.config.Refresh.TTL == 0 {
		b.config.Refresh.TTL = def.Refresh.TTL
	}
	if b.config.Revocation.DefaultTTL == 0 {
		b.config.Revocation.DefaultTTL = def.Revocation.DefaultTTL
	}
	if b.config.Revocation.JanitorInterval == 0 {
		b.config.Revocation.JanitorInterval = def.Revocation.JanitorInterval
	}
	if b.config.Sweep.Interval == 0 {
		b.config.Sweep.Interval = def.Sweep.Interval
	}
	if b.config.Sweep.Grace == 0 {
		b.config.Sweep.Grace = def.Sweep.Grace
	}
	if b.config.Sweep.ErrorBackoff == 0 {
		b.config.Sweep.ErrorBackoff = def.Sweep.ErrorBackoff
	}
	if b.config.Audit.Enabled && b.config.Audit.BufferSize == 0 {
		b.config.Audit.BufferSize = def.Audit.BufferSize
	}
}
