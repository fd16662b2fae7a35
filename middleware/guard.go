package middleware

import (
	"net/http"

	"github.com/neaweb/authcore"
)

// Authenticate resolves the current user with strategy and stores it in the
// request context. A missing carrier passes through with no principal; an
// invalid one is rejected.
func Authenticate(engine *authcore.Engine, strategy authcore.Strategy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, authcore.ErrEngineNotReady, false)
				return
			}

			p, err := strategy.Resolve(r.Context(), r)
			if err != nil {
				WriteError(w, err, engine.Config().IsDevelopment())
				return
			}

			next.ServeHTTP(w, r.WithContext(authcore.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAuthenticated rejects requests without a current user.
func RequireAuthenticated(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := engine.Gate().RequireAuthenticated(authcore.PrincipalFromContext(r.Context())); err != nil {
				WriteError(w, err, false)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole rejects requests whose current user does not hold role.
func RequireRole(engine *authcore.Engine, role authcore.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := authcore.PrincipalFromContext(r.Context())
			if err := engine.Gate().RequireRole(r.Context(), p, role); err != nil {
				WriteError(w, err, engine.Config().IsDevelopment())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireBearer authenticates with the Authorization header only and rejects
// anonymous requests.
func RequireBearer(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Chain(Authenticate(engine, engine.BearerStrategy()), RequireAuthenticated(engine))
}

// RequireSession authenticates with the session cookie only and rejects
// anonymous requests.
func RequireSession(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Chain(Authenticate(engine, engine.SessionStrategy()), RequireAuthenticated(engine))
}

// Chain composes middleware so the first one runs outermost.
func Chain(mws ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
