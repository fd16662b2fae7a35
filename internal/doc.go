// Package internal contains helpers that are private to authcore: random
// secret generation and digesting.
//
// # Sub-packages
//
//   - audit: async event dispatch to sinks
//   - logging: slog handler setup with trace correlation
//   - rate: sliding-window admission limiters
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
