// Package authcore authenticates end users with local credentials or Google
// sign-in, issues short-lived HS256 bearer tokens, runs the password recovery
// workflow, and gates privileged routes by role.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [User] model, the [CredentialStore] contract and the identity
// [Strategy] set. Rate limiting, audit dispatch, logging setup and random
// secret generation live under internal/. Persistence adapters live in
// store/memory and store/postgres, HTTP wiring in middleware/ and server/.
//
// # Identity carriers
//
// Two carriers coexist and are never merged: a stateless bearer token checked
// per request, and a server-side session cookie restored into a user
// projection. Routes pick the carrier they trust by choosing a [Strategy].
//
// # What this package must NOT do
//
//   - Expose Redis clients or store internals in its public API.
//   - Import server/, middleware/ or the store adapters (no import cycles).
//   - Log plaintext passwords, tokens or reset secrets.
package authcore
