// Package rate implements the sliding-window admission limiter that guards the
// credential endpoints.
//
// # Window semantics
//
// Each (bucket, client key) pair owns a log of admission instants. A check
// first evicts every instant older than now-window, then admits the request
// only when fewer than Max instants remain. Only admitted requests are
// recorded, so a client hammering a closed window does not extend its own
// lockout, and capacity returns one slot at a time as old admissions age out.
//
// Two implementations share the [Limiter] interface:
//   - [RedisLimiter] runs the evict/count/record step as one Lua script, so
//     concurrent checks for the same key never observe a stale count.
//   - [MemoryLimiter] does the same under a mutex for single-process use.
//
// Both take an injected clock.
package rate
