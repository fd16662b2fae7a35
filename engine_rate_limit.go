package authcore

import (
	"context"
	"errors"
	"fmt"

	"github.com/neaweb/authcore/internal/rate"
	"github.com/samber/oops"
)

// Routes subject to admission control.
const (
	RouteRegister       = "register"
	RouteLogin          = "login"
	RouteForgotPassword = "forgot-password"
	RouteResetPassword  = "reset-password"
	RouteGlobal         = "global"
)

const bucketAuth = "auth"

// credentialRoutes share bucketAuth unless RateLimit.PerEndpoint is set.
var credentialRoutes = []string{RouteRegister, RouteLogin, RouteForgotPassword, RouteResetPassword}

// ratePolicies derives limiter budgets from cfg.
func ratePolicies(cfg RateLimitConfig) rate.Policies {
	credential := rate.Policy{Max: cfg.Max, Window: cfg.Window}
	policies := rate.Policies{
		bucketAuth:  credential,
		RouteGlobal: {Max: cfg.GlobalMax, Window: cfg.GlobalWindow},
	}
	for _, route := range credentialRoutes {
		policies[route] = credential
	}
	return policies
}

func (e *Engine) bucketFor(route string) (string, error) {
	if route == RouteGlobal {
		return RouteGlobal, nil
	}
	for _, r := range credentialRoutes {
		if r != route {
			continue
		}
		if e.config.RateLimit.PerEndpoint {
			return route, nil
		}
		return bucketAuth, nil
	}
	return "", fmt.Errorf("%w: unknown route %q", ErrInvalidInput, route)
}

// Throttle records one request from clientKey against route. A rejected
// request returns ErrRateExceeded together with the decision so callers can
// set Retry-After. A failing backend returns ErrRateLimiterUnavailable.
func (e *Engine) Throttle(ctx context.Context, route, clientKey string) (RateDecision, error) {
	if e == nil {
		return RateDecision{}, ErrEngineNotReady
	}
	if e.limiter == nil || !e.config.RateLimit.Enabled {
		return RateDecision{Allowed: true, Remaining: -1}, nil
	}

	bucket, err := e.bucketFor(route)
	if err != nil {
		return RateDecision{}, err
	}

	decision, err := e.limiter.Admit(ctx, bucket, clientKey)
	if err != nil {
		if errors.Is(err, rate.ErrUnknownBucket) {
			return RateDecision{}, internalError("rate_admit", err)
		}
		return RateDecision{}, oops.In("authcore").
			Code(CodeLimiter).
			With("operation", "rate_admit").
			With("bucket", bucket).
			Wrap(fmt.Errorf("%w: %w", ErrRateLimiterUnavailable, err))
	}

	if !decision.Allowed {
		e.metrics.rateLimited(bucket)
		e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", ErrRateExceeded, func() map[string]string {
			return map[string]string{"bucket": bucket, "route": route}
		})
		return decision, ErrRateExceeded
	}

	return decision, nil
}
