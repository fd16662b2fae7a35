// Package audit relays security events from the engine to sinks without
// blocking the request path.
//
// # Components
//
//   - [Sink] receives events (channel, JSON writer, slog, no-op).
//   - [Dispatcher] buffers events and either drops or blocks when full.
//   - [Event] is one record: timestamp, type, user, client IP and metadata.
//
// The engine decides which events exist. This package only buffers and
// delivers them, and never imports authcore.
package audit
