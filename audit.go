package authcore

import (
	"io"
	"log/slog"

	internalaudit "github.com/neaweb/authcore/internal/audit"
)

// NoOpSink is an AuditSink that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink writes events as structured log records.
type SlogSink = internalaudit.SlogSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewSlogSink creates a SlogSink on logger, or slog.Default when nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
