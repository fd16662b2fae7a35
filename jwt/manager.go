package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTTL is the lifetime of an issued token.
	DefaultTTL = time.Hour
	// MinSecretBytes is the smallest accepted HMAC secret.
	MinSecretBytes = 32

	defaultMaxFutureIAT = time.Minute
)

var (
	// ErrInvalidToken is returned for every verification failure. The wrapped
	// cause is for logs only.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is wrapped together with ErrInvalidToken when the token is
	// older than the manager TTL.
	ErrTokenExpired = errors.New("token expired")
)

// Config configures a Manager.
type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	// MaxFutureIAT tolerates small clock drift between issuers.
	MaxFutureIAT time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Claims is the token payload.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager signs and verifies tokens. It is immutable after NewManager and safe
// for concurrent use.
type Manager struct {
	secret       []byte
	ttl          time.Duration
	issuer       string
	maxFutureIAT time.Duration
	now          func() time.Time
}

// NewManager validates cfg and builds a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretBytes)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = defaultMaxFutureIAT
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Manager{
		secret:       secret,
		ttl:          cfg.TTL,
		issuer:       strings.TrimSpace(cfg.Issuer),
		maxFutureIAT: cfg.MaxFutureIAT,
		now:          cfg.Now,
	}, nil
}

// TTL returns the token lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token whose subject is userID.
func (m *Manager) Issue(userID string) (string, error) {
	if userID == "" {
		return "", errors.New("empty subject")
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Issuer:    m.issuer,
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify checks signature, algorithm and age and returns the subject.
func (m *Manager) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.maxFutureIAT),
	}
	if m.issuer != "" {
		options = append(options, jwt.WithIssuer(m.issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing algorithm: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenExpired)
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.IssuedAt == nil {
		return "", fmt.Errorf("%w: missing iat", ErrInvalidToken)
	}

	now := m.now()
	issued := claims.IssuedAt.Time
	if issued.After(now.Add(m.maxFutureIAT)) {
		return "", fmt.Errorf("%w: iat in the future", ErrInvalidToken)
	}
	// Age is measured from iat; exp alone is not trusted.
	if now.Sub(issued) > m.ttl {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenExpired)
	}

	return claims.Subject, nil
}
