package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestThrottleSharedBucket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	routes := []string{RouteRegister, RouteLogin, RouteForgotPassword, RouteResetPassword, RouteLogin}
	for i, route := range routes {
		if _, err := env.engine.Throttle(ctx, route, "10.0.0.1"); err != nil {
			t.Fatalf("request %d (%s): %v", i+1, route, err)
		}
	}

	d, err := env.engine.Throttle(ctx, RouteLogin, "10.0.0.1")
	if !errors.Is(err, ErrRateExceeded) {
		t.Fatalf("expected ErrRateExceeded on sixth request, got %v", err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.Limit != 5 {
		t.Fatalf("unexpected decision: %+v", d)
	}

	if _, err := env.engine.Throttle(ctx, RouteLogin, "10.0.0.2"); err != nil {
		t.Fatalf("other clients must be unaffected: %v", err)
	}
}

func TestThrottlePerEndpoint(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *Builder) {
		cfg.RateLimit.PerEndpoint = true
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.engine.Throttle(ctx, RouteLogin, "ip"); err != nil {
			t.Fatalf("login %d: %v", i+1, err)
		}
	}
	if _, err := env.engine.Throttle(ctx, RouteLogin, "ip"); !errors.Is(err, ErrRateExceeded) {
		t.Fatalf("expected login bucket exhausted, got %v", err)
	}
	if _, err := env.engine.Throttle(ctx, RouteRegister, "ip"); err != nil {
		t.Fatalf("register has its own bucket: %v", err)
	}
}

func TestThrottleWindowSlides(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *Builder) {
		cfg.RateLimit.Backend = "memory"
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.engine.Throttle(ctx, RouteLogin, "ip"); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		env.clock.Advance(time.Minute)
	}
	if _, err := env.engine.Throttle(ctx, RouteLogin, "ip"); !errors.Is(err, ErrRateExceeded) {
		t.Fatalf("expected rejection, got %v", err)
	}

	// The first admission leaves the window ten minutes after it was made.
	env.clock.Advance(5*time.Minute + time.Millisecond)
	if _, err := env.engine.Throttle(ctx, RouteLogin, "ip"); err != nil {
		t.Fatalf("expected the oldest admission to have decayed: %v", err)
	}
	if _, err := env.engine.Throttle(ctx, RouteLogin, "ip"); !errors.Is(err, ErrRateExceeded) {
		t.Fatalf("only one slot should have been freed, got %v", err)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Admit(context.Context, string, string) (RateDecision, error) {
	return RateDecision{}, errors.New("dial tcp: connection refused")
}

func TestThrottleBackendFailure(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		b.WithLimiter(brokenLimiter{})
	})

	_, err := env.engine.Throttle(context.Background(), RouteLogin, "ip")
	if !errors.Is(err, ErrRateLimiterUnavailable) {
		t.Fatalf("expected ErrRateLimiterUnavailable, got %v", err)
	}
	if ErrorCode(err) != CodeLimiter {
		t.Fatalf("expected code %s, got %q", CodeLimiter, ErrorCode(err))
	}
}

func TestThrottleDisabledAndUnknownRoute(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *Builder) {
		cfg.RateLimit.Enabled = false
	})
	for i := 0; i < 10; i++ {
		if _, err := env.engine.Throttle(context.Background(), RouteLogin, "ip"); err != nil {
			t.Fatalf("disabled limiter rejected: %v", err)
		}
	}

	on := newTestEnv(t)
	if _, err := on.engine.Throttle(context.Background(), "profile", "ip"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown route, got %v", err)
	}
}
