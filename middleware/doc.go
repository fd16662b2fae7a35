// Package middleware adapts authcore.Engine to net/http.
//
// # Chain
//
//	RequestLogger -> SecureHeaders -> CORS -> RateLimit -> Authenticate -> RequireRole -> handler
//
//   - [CORS] answers preflights for the configured browser origins and
//     allows credentials.
//   - [RateLimit] answers 429 with Retry-After before the handler runs.
//   - [Authenticate] resolves the current user with one authcore.Strategy and
//     stores it in the request context.
//   - [RequireAuthenticated] and [RequireRole] apply the authorization gate.
//
// All failures are written by [WriteError] as {"message": "..."} JSON. The
// package makes no authentication decisions of its own.
package middleware
