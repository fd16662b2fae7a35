package authcore

import (
	"context"
	"testing"
	"time"
)

func drainAudit(t *testing.T, sink *ChannelSink, n int) []AuditEvent {
	t.Helper()
	out := make([]AuditEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e := <-sink.Events():
			out = append(out, e)
		case <-timeout:
			t.Fatalf("timed out waiting for %d audit events, got %d", n, len(out))
		}
	}
	return out
}

func TestAuditLoginEvents(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, func(cfg *Config, b *Builder) {
		cfg.Audit.Enabled = true
		cfg.Audit.DropIfFull = false
		b.WithAuditSink(sink)
	})
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	reg, err := env.engine.Register(ctx, RegisterRequest{Name: "A", Email: "a@x.com", Password: "longenough1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, _ = env.engine.Login(ctx, "a@x.com", "wrong-password")

	events := drainAudit(t, sink, 2)

	if events[0].EventType != auditEventRegisterSuccess || !events[0].Success || events[0].UserID != reg.User.ID {
		t.Fatalf("unexpected register event: %+v", events[0])
	}
	if events[1].EventType != auditEventLoginFailure || events[1].Success {
		t.Fatalf("unexpected login event: %+v", events[1])
	}
	if events[1].Error != string(auditErrInvalidCredentials) {
		t.Fatalf("unexpected error code %q", events[1].Error)
	}
	if events[1].IP != "203.0.113.7" {
		t.Fatalf("client ip not recorded: %+v", events[1])
	}
	if !events[0].Timestamp.Equal(env.clock.Now()) {
		t.Fatalf("event not stamped with the engine clock")
	}
}

func TestAuditDisabledEmitsNothing(t *testing.T) {
	sink := NewChannelSink(4)
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		b.WithAuditSink(sink)
	})

	mustRegister(t, env, "a@x.com", "longenough1")

	select {
	case e := <-sink.Events():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAuditCode(t *testing.T) {
	cases := []struct {
		err  error
		want auditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{ErrWeakCredential, auditErrWeakCredential},
		{ErrInvalidOrExpiredToken, auditErrInvalidToken},
		{ErrRateExceeded, auditErrRateLimited},
		{ErrConflict, auditErrDuplicate},
		{storageError("op", context.DeadlineExceeded), auditErrStorage},
		{dispatchError("op", context.Canceled), auditErrDispatch},
	}
	for _, tc := range cases {
		if got := auditCode(tc.err); got != tc.want {
			t.Fatalf("auditCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
