package authcore

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/neaweb/authcore/jwt"
	"github.com/neaweb/authcore/mail"
	"github.com/neaweb/authcore/oauth"
	"github.com/neaweb/authcore/password"
)

// Environment names.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config holds every engine setting. Build it with DefaultConfig and override
// fields; treat it as immutable once passed to the Builder.
type Config struct {
	Environment   string              `koanf:"environment"`
	JWT           JWTConfig           `koanf:"jwt"`
	Password      PasswordConfig      `koanf:"password"`
	RateLimit     RateLimitConfig     `koanf:"rate_limit"`
	PasswordReset PasswordResetConfig `koanf:"password_reset"`
	Session       SessionConfig       `koanf:"session"`
	Cookie        CookieConfig        `koanf:"cookie"`
	OAuth         OAuthConfig         `koanf:"oauth"`
	Mail          mail.SMTPConfig     `koanf:"mail"`
	Audit         AuditConfig         `koanf:"audit"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures bearer tokens. Secret must be at least 32 bytes.
type JWTConfig struct {
	Secret string        `koanf:"secret"`
	TTL    time.Duration `koanf:"ttl"`
	Issuer string        `koanf:"issuer"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig configures bcrypt hashing.
type PasswordConfig struct {
	Cost          int `koanf:"cost"`
	MinLength     int `koanf:"min_length"`
	MaxConcurrent int `koanf:"max_concurrent"`
	// UpgradeOnLogin rehashes digests made with a different cost after a
	// successful password login.
	UpgradeOnLogin bool `koanf:"upgrade_on_login"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the sliding-window limiter on the credential
// routes and the optional process-wide limiter.
type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled"`
	Backend string        `koanf:"backend"` // "redis" (default) or "memory"
	Window  time.Duration `koanf:"window"`
	Max     int           `koanf:"max"`
	// PerEndpoint gives register, login, forgot-password and reset-password
	// their own windows instead of one shared window.
	PerEndpoint       bool          `koanf:"per_endpoint"`
	GlobalWindow      time.Duration `koanf:"global_window"`
	GlobalMax         int           `koanf:"global_max"`
	TrustProxyHeaders bool          `koanf:"trust_proxy_headers"`
	RedisPrefix       string        `koanf:"redis_prefix"`
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig configures the recovery workflow.
type PasswordResetConfig struct {
	TTL time.Duration `koanf:"ttl"`
	// FrontendURL is the origin of the page that accepts the secret.
	FrontendURL string `koanf:"frontend_url"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures server-side web sessions.
type SessionConfig struct {
	TTL         time.Duration `koanf:"ttl"`
	CookieName  string        `koanf:"cookie_name"`
	RedisPrefix string        `koanf:"redis_prefix"`
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig configures the token cookie set next to response bodies.
type CookieConfig struct {
	TokenName string `koanf:"token_name"`
	Domain    string `koanf:"domain"`
	Path      string `koanf:"path"`
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthConfig configures provider sign-in.
type OAuthConfig struct {
	Google oauth.GoogleConfig `koanf:"google"`
	// CORSOrigin is the browser origin the callback redirects to.
	CORSOrigin      string        `koanf:"cors_origin"`
	FailureRedirect string        `koanf:"failure_redirect"`
	StateTTL        time.Duration `koanf:"state_ttl"`
	StatePrefix     string        `koanf:"state_prefix"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the reference settings: one-hour tokens, bcrypt cost
// 12, five credential requests per rolling ten minutes shared across the
// credential routes, one hundred requests per fifteen minutes overall, and
// one-hour reset secrets.
func DefaultConfig() Config {
	return Config{
		Environment: EnvDevelopment,
		JWT: JWTConfig{
			TTL: jwt.DefaultTTL,
		},
		Password: PasswordConfig{
			Cost:           password.DefaultCost,
			MinLength:      password.DefaultMinLength,
			UpgradeOnLogin: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			Backend:      "redis",
			Window:       10 * time.Minute,
			Max:          5,
			PerEndpoint:  false,
			GlobalWindow: 15 * time.Minute,
			GlobalMax:    100,
			RedisPrefix:  "authcore:rl:",
		},
		PasswordReset: PasswordResetConfig{
			TTL:         time.Hour,
			FrontendURL: "http://localhost:3000",
		},
		Session: SessionConfig{
			TTL:         24 * time.Hour,
			CookieName:  "sid",
			RedisPrefix: "authcore:sess",
		},
		Cookie: CookieConfig{
			TokenName: "token",
			Path:      "/",
		},
		OAuth: OAuthConfig{
			CORSOrigin:      "http://localhost:3000",
			FailureRedirect: "/login",
			StateTTL:        oauth.DefaultStateTTL,
			StatePrefix:     "authcore:oauth:",
		},
		Mail: mail.SMTPConfig{
			Port:     587,
			FromName: mail.DefaultFromName,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

// IsProduction reports whether cookies must be Secure and 500 details hidden.
func (c Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// IsDevelopment reports whether internal error detail may be returned.
func (c Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration before Build.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, EnvTest:
	default:
		return fmt.Errorf("Environment must be one of %q, %q, %q", EnvDevelopment, EnvProduction, EnvTest)
	}

	// JWT
	if len(c.JWT.Secret) < jwt.MinSecretBytes {
		return fmt.Errorf("JWT Secret must be at least %d bytes", jwt.MinSecretBytes)
	}
	if c.JWT.TTL <= 0 {
		return errors.New("JWT TTL must be > 0")
	}

	// Password
	if c.Password.Cost < 4 || c.Password.Cost > 31 {
		return errors.New("Password Cost must be between 4 and 31")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}
	if c.Password.MaxConcurrent < 0 {
		return errors.New("Password MaxConcurrent must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.Backend != "redis" && c.RateLimit.Backend != "memory" {
			return errors.New("RateLimit Backend must be 'redis' or 'memory'")
		}
		if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
			return errors.New("RateLimit Window and Max must be > 0")
		}
		if c.RateLimit.GlobalMax < 0 {
			return errors.New("RateLimit GlobalMax must be >= 0")
		}
		if c.RateLimit.GlobalMax > 0 && c.RateLimit.GlobalWindow <= 0 {
			return errors.New("RateLimit GlobalWindow must be > 0 when GlobalMax is set")
		}
	}

	// Password reset
	if c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}
	if err := validateOrigin("PasswordReset FrontendURL", c.PasswordReset.FrontendURL); err != nil {
		return err
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	if c.Session.CookieName == "" || c.Cookie.TokenName == "" {
		return errors.New("cookie names must not be empty")
	}
	if c.Session.CookieName == c.Cookie.TokenName {
		return errors.New("session and token cookies must have different names")
	}

	// OAuth
	if err := validateOrigin("OAuth CORSOrigin", c.OAuth.CORSOrigin); err != nil {
		return err
	}
	if c.OAuth.StateTTL <= 0 {
		return errors.New("OAuth StateTTL must be > 0")
	}
	g := c.OAuth.Google
	if (g.ClientID != "" || g.ClientSecret != "" || g.CallbackURL != "") && !g.Configured() {
		return errors.New("OAuth Google requires ClientID, ClientSecret and CallbackURL together")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	if c.IsProduction() {
		if strings.HasPrefix(c.PasswordReset.FrontendURL, "http://") {
			return errors.New("PasswordReset FrontendURL must use https in production")
		}
	}

	return nil
}

func validateOrigin(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s must be set", field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL", field)
	}
	return nil
}
