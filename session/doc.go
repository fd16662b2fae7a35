// Package session provides the Redis-backed server-side session used by
// browser flows after provider sign-in.
//
// A session maps an opaque random id (the value of the session cookie) to a
// user id. Records expire by Redis TTL. Each user also owns a set of live ids
// so every session of a user can be revoked at once, for example after a
// password reset.
//
// # Architecture boundaries
//
// This package only stores the id mapping. Restoring the user record and
// deciding what a missing user means belongs to the Engine.
//
// # What this package must NOT do
//
//   - Import authcore, jwt, or the credential stores (no upward imports).
//   - Store user attributes beyond the id.
package session
