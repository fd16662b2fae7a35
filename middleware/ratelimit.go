package middleware

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/neaweb/authcore"
)

// RateLimit admits requests to route through the engine's limiter, keyed by
// client address. Rejections are answered with 429 before next runs.
func RateLimit(engine *authcore.Engine, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := engine.Config()
			ip := ClientIP(r, cfg.RateLimit.TrustProxyHeaders)
			ctx := authcore.WithClientIP(r.Context(), ip)

			decision, err := engine.Throttle(ctx, route, ip)
			if decision.Limit > 0 {
				setRateHeaders(w.Header(), decision)
			}
			if err != nil {
				if errors.Is(err, authcore.ErrRateExceeded) {
					w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(decision)))
				}
				WriteError(w, err, cfg.IsDevelopment())
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setRateHeaders(h http.Header, d authcore.RateDecision) {
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	remaining := d.Remaining
	if remaining < 0 {
		remaining = 0
	}
	h.Set("RateLimit-Remaining", strconv.Itoa(remaining))
	if !d.Allowed {
		h.Set("RateLimit-Reset", strconv.Itoa(retrySeconds(d)))
	}
}

func retrySeconds(d authcore.RateDecision) int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// ClientIP returns the caller address. With trustProxy set the first
// X-Forwarded-For hop wins.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
