package authcore

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Carrier names the request element that proved the identity.
type Carrier string

const (
	CarrierBearer      Carrier = "bearer"
	CarrierSession     Carrier = "session"
	CarrierTokenCookie Carrier = "token_cookie"
)

// Principal is the current user of a request.
type Principal struct {
	UserID  string
	Carrier Carrier
	// User is set by strategies that load the record. Bearer principals carry
	// only the id.
	User *UserView
}

// Strategy resolves the current user from a request. Resolve returns
// (nil, nil) when its carrier is absent or no longer names a live user, and
// an error only when the carrier is present but invalid or a backend failed.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, r *http.Request) (*Principal, error)
}

type bearerStrategy struct{ e *Engine }

// BearerStrategy reads "Authorization: Bearer <token>". It performs no store
// read.
func (e *Engine) BearerStrategy() Strategy {
	return bearerStrategy{e: e}
}

func (bearerStrategy) Name() string { return string(CarrierBearer) }

func (s bearerStrategy) Resolve(_ context.Context, r *http.Request) (*Principal, error) {
	token, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, nil
	}
	userID, err := s.e.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: userID, Carrier: CarrierBearer}, nil
}

type tokenCookieStrategy struct{ e *Engine }

// TokenCookieStrategy reads the token cookie set at sign-in and verifies it
// like a bearer header.
func (e *Engine) TokenCookieStrategy() Strategy {
	return tokenCookieStrategy{e: e}
}

func (tokenCookieStrategy) Name() string { return string(CarrierTokenCookie) }

func (s tokenCookieStrategy) Resolve(_ context.Context, r *http.Request) (*Principal, error) {
	c, err := r.Cookie(s.e.config.Cookie.TokenName)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	userID, err := s.e.VerifyToken(c.Value)
	if err != nil {
		return nil, err
	}
	return &Principal{UserID: userID, Carrier: CarrierTokenCookie}, nil
}

type sessionStrategy struct{ e *Engine }

// SessionStrategy reads the session cookie and loads the user. A session
// whose user was deleted resolves to no current user.
func (e *Engine) SessionStrategy() Strategy {
	return sessionStrategy{e: e}
}

func (sessionStrategy) Name() string { return string(CarrierSession) }

func (s sessionStrategy) Resolve(ctx context.Context, r *http.Request) (*Principal, error) {
	c, err := r.Cookie(s.e.config.Session.CookieName)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	return s.e.ResolveSession(ctx, c.Value)
}

type chain []Strategy

// Chain tries strategies in order; the first principal wins. An error stops
// the chain.
func Chain(strategies ...Strategy) Strategy {
	return chain(strategies)
}

func (c chain) Name() string {
	names := make([]string, 0, len(c))
	for _, s := range c {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

func (c chain) Resolve(ctx context.Context, r *http.Request) (*Principal, error) {
	for _, s := range c {
		p, err := s.Resolve(ctx, r)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

// IsUnauthenticated reports whether err means the request carries no valid
// identity.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrInvalidToken)
}
