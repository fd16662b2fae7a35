package authcore

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/neaweb/authcore/internal/audit"
	"github.com/neaweb/authcore/internal/rate"
	"github.com/neaweb/authcore/jwt"
	"github.com/neaweb/authcore/mail"
	"github.com/neaweb/authcore/oauth"
	"github.com/neaweb/authcore/password"
	"github.com/neaweb/authcore/session"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it during initialization, call Build
// once, and discard it.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store    CredentialStore
	hasher   PasswordHasher
	limiter  RateLimiter
	sessions SessionStore
	mailer   Mailer
	provider OAuthProvider
	states   OAuthStateStore

	auditSink AuditSink
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis supplies the client used by the default limiter, session store
// and OAuth state store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithLimiter(l RateLimiter) *Builder {
	b.limiter = l
	return b
}

func (b *Builder) WithSessionStore(s SessionStore) *Builder {
	b.sessions = s
	return b
}

// WithMailer overrides the SMTP dispatcher built from Config.Mail.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithOAuthProvider(p OAuthProvider) *Builder {
	b.provider = p
	return b
}

func (b *Builder) WithOAuthStateStore(s OAuthStateStore) *Builder {
	b.states = s
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now for tokens, reset expiry and rate windows.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:  cfg,
		store:   b.store,
		metrics: b.metrics,
		logger:  logger.With("component", "authcore"),
		now:     now,
	}

	// -------- PASSWORD HASHER --------
	engine.hasher = b.hasher
	if engine.hasher == nil {
		h, err := password.New(password.Config{
			Cost:          cfg.Password.Cost,
			MinLength:     cfg.Password.MinLength,
			MaxConcurrent: cfg.Password.MaxConcurrent,
		})
		if err != nil {
			return nil, err
		}
		engine.hasher = h
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		Secret: []byte(cfg.JWT.Secret),
		TTL:    cfg.JWT.TTL,
		Issuer: cfg.JWT.Issuer,
		Now:    now,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = jm

	// -------- RATE LIMITER --------
	engine.limiter = b.limiter
	if engine.limiter == nil && cfg.RateLimit.Enabled {
		policies := ratePolicies(cfg.RateLimit)
		switch cfg.RateLimit.Backend {
		case "memory":
			engine.limiter = rate.NewMemory(policies, now)
		default:
			if b.redis == nil {
				return nil, errors.New("RateLimit Backend 'redis' requires redis client")
			}
			engine.limiter = rate.NewRedis(b.redis, cfg.RateLimit.RedisPrefix, policies, now)
		}
	}

	// -------- SESSIONS & OAUTH STATE --------
	engine.sessions = b.sessions
	if engine.sessions == nil && b.redis != nil {
		engine.sessions = session.NewStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.TTL)
	}
	engine.states = b.states
	if engine.states == nil && b.redis != nil {
		engine.states = oauth.NewStateStore(b.redis, cfg.OAuth.StatePrefix, cfg.OAuth.StateTTL)
	}

	// -------- OAUTH PROVIDER --------
	engine.provider = b.provider
	if engine.provider == nil && cfg.OAuth.Google.Configured() {
		p, err := oauth.NewGoogle(cfg.OAuth.Google)
		if err != nil {
			return nil, fmt.Errorf("google provider: %w", err)
		}
		engine.provider = p
	}

	// -------- MAIL --------
	engine.mailer = b.mailer
	if engine.mailer == nil && cfg.Mail.Configured() {
		d, err := mail.NewSMTP(cfg.Mail)
		if err != nil {
			return nil, fmt.Errorf("smtp: %w", err)
		}
		engine.mailer = d
	}
	if engine.mailer == nil {
		engine.logger.Warn("no mail transport configured; password reset requests will fail")
	}

	// -------- AUDIT --------
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
