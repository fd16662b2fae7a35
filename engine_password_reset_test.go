package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neaweb/authcore/internal"
	"github.com/neaweb/authcore/password"
)

func TestPasswordResetRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	reg := mustRegister(t, env, "a@x.com", "longenough1")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "A@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	sent := env.mailer.Sent()
	if len(sent) != 1 || sent[0].To != "a@x.com" || sent[0].Subject != "Reset Password - NEA" {
		t.Fatalf("unexpected mail: %+v", sent)
	}
	secret := resetSecretFromMail(t, env.mailer)
	if len(secret) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(secret))
	}
	if !strings.Contains(sent[0].Body, "http://localhost:3000/reset-password?token=") {
		t.Fatalf("link does not use the frontend origin: %s", sent[0].Body)
	}

	stored := env.store.get(reg.User.ID)
	if stored.ResetSecretHash != internal.DigestSecret(secret) {
		t.Fatalf("store must hold the digest, not the secret")
	}
	if !stored.ResetExpiresAt.Equal(env.clock.Now().Add(time.Hour)) {
		t.Fatalf("expected one hour expiry, got %v", stored.ResetExpiresAt)
	}

	if err := env.engine.CompletePasswordReset(ctx, secret, "brand-new-pw"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}
	if _, err := env.engine.Login(ctx, "a@x.com", "brand-new-pw"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if _, err := env.engine.Login(ctx, "a@x.com", "longenough1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}

	after := env.store.get(reg.User.ID)
	if after.ResetSecretHash != "" || !after.ResetExpiresAt.IsZero() {
		t.Fatalf("reset state not cleared: %+v", after)
	}
}

func TestPasswordResetSecretIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "a@x.com", "longenough1")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	secret := resetSecretFromMail(t, env.mailer)

	if err := env.engine.CompletePasswordReset(ctx, secret, "brand-new-pw"); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if err := env.engine.CompletePasswordReset(ctx, secret, "another-pw-1"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken on reuse, got %v", err)
	}
}

func TestPasswordResetNewRequestSupersedesOld(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "a@x.com", "longenough1")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	first := resetSecretFromMail(t, env.mailer)
	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("second request: %v", err)
	}
	second := resetSecretFromMail(t, env.mailer)
	if first == second {
		t.Fatalf("expected a fresh secret")
	}

	if err := env.engine.CompletePasswordReset(ctx, first, "brand-new-pw"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("superseded secret accepted: %v", err)
	}
	if err := env.engine.CompletePasswordReset(ctx, second, "brand-new-pw"); err != nil {
		t.Fatalf("newest secret rejected: %v", err)
	}
}

func TestPasswordResetExpires(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "a@x.com", "longenough1")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	secret := resetSecretFromMail(t, env.mailer)

	env.clock.Advance(time.Hour)
	if err := env.engine.CompletePasswordReset(ctx, secret, "brand-new-pw"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected expiry at exactly one hour, got %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)

	if err := env.engine.RequestPasswordReset(context.Background(), "nobody@x.com"); err != nil {
		t.Fatalf("expected generic success, got %v", err)
	}
	if len(env.mailer.Sent()) != 0 {
		t.Fatalf("no mail may be sent for unknown addresses")
	}
}

func TestPasswordResetRejectsEmptyEmail(t *testing.T) {
	env := newTestEnv(t)
	for _, email := range []string{"", "   "} {
		if err := env.engine.RequestPasswordReset(context.Background(), email); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("email %q: expected ErrInvalidInput, got %v", email, err)
		}
	}
}

func TestPasswordResetMalformedEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)
	for _, email := range []string{"nope", "a@", "two@@x.com"} {
		if err := env.engine.RequestPasswordReset(context.Background(), email); err != nil {
			t.Fatalf("email %q: expected generic success, got %v", email, err)
		}
	}
	if n := env.store.lookups.Load(); n != 0 {
		t.Fatalf("malformed addresses must not reach the store, got %d lookups", n)
	}
	if len(env.mailer.Sent()) != 0 {
		t.Fatalf("no mail may be sent for malformed addresses")
	}
}

type failingMailer struct{}

func (failingMailer) Send(context.Context, string, string, string) error {
	return errors.New("smtp 554")
}

func TestPasswordResetDispatchFailureClearsSecret(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		b.WithMailer(failingMailer{})
	})
	reg := mustRegister(t, env, "a@x.com", "longenough1")

	err := env.engine.RequestPasswordReset(context.Background(), "a@x.com")
	if !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
	if ErrorCode(err) != CodeDispatch {
		t.Fatalf("expected code %s, got %q", CodeDispatch, ErrorCode(err))
	}

	u := env.store.get(reg.User.ID)
	if u.ResetSecretHash != "" || !u.ResetExpiresAt.IsZero() {
		t.Fatalf("secret stranded after dispatch failure: %+v", u)
	}
}

func TestPasswordResetWithoutMailer(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		b.mailer = nil
	})
	reg := mustRegister(t, env, "a@x.com", "longenough1")

	if err := env.engine.RequestPasswordReset(context.Background(), "a@x.com"); !errors.Is(err, ErrDispatch) {
		t.Fatalf("expected ErrDispatch, got %v", err)
	}
	if u := env.store.get(reg.User.ID); u.ResetSecretHash != "" {
		t.Fatalf("secret stranded without a transport")
	}
}

func TestCompletePasswordResetChecksTokenBeforePolicy(t *testing.T) {
	env := newTestEnv(t)
	mustRegister(t, env, "a@x.com", "longenough1")
	ctx := context.Background()
	before := env.hasher.hashes.Load()

	if err := env.engine.CompletePasswordReset(ctx, "unknown", "short"); !errors.Is(err, ErrInvalidOrExpiredToken) {
		t.Fatalf("expected ErrInvalidOrExpiredToken, got %v", err)
	}

	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	secret := resetSecretFromMail(t, env.mailer)
	if err := env.engine.CompletePasswordReset(ctx, secret, "short"); !errors.Is(err, ErrWeakCredential) {
		t.Fatalf("expected ErrWeakCredential, got %v", err)
	}
	if env.hasher.hashes.Load() != before {
		t.Fatalf("weak password must not be hashed")
	}

	// The secret survives a policy failure.
	if err := env.engine.CompletePasswordReset(ctx, secret, "long-enough-now"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}
}

func TestCompletePasswordResetEndsSessions(t *testing.T) {
	env := newTestEnv(t)
	reg := mustRegister(t, env, "a@x.com", "longenough1")
	ctx := context.Background()

	sid, err := env.engine.StartSession(ctx, reg.User.ID)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if err := env.engine.CompletePasswordReset(ctx, resetSecretFromMail(t, env.mailer), "brand-new-pw"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}

	p, err := env.engine.ResolveSession(ctx, sid)
	if err != nil || p != nil {
		t.Fatalf("expected session gone after reset, got %+v %v", p, err)
	}
}

func TestHumanDuration(t *testing.T) {
	cases := map[time.Duration]string{
		time.Hour:        "1 hour",
		2 * time.Hour:    "2 hours",
		30 * time.Minute: "30 minutes",
		time.Minute:      "1 minute",
		90 * time.Second: "1m30s",
	}
	for d, want := range cases {
		if got := humanDuration(d); got != want {
			t.Fatalf("humanDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

// lookupBarrier holds every FindByResetSecret caller until n of them have
// read the record.
type lookupBarrier struct {
	*memStore
	arrived sync.WaitGroup
}

func (s *lookupBarrier) FindByResetSecret(ctx context.Context, digest string) (*User, error) {
	u, err := s.memStore.FindByResetSecret(ctx, digest)
	s.arrived.Done()
	s.arrived.Wait()
	return u, err
}

func TestPasswordResetConcurrentCompletionsConsumeOnce(t *testing.T) {
	barrier := &lookupBarrier{}
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		barrier.memStore = b.store.(*memStore)
		b.WithStore(barrier)
	})
	mustRegister(t, env, "a@x.com", "longenough1")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	secret := resetSecretFromMail(t, env.mailer)

	passwords := []string{"first-new-pw", "second-new-pw"}
	errs := make([]error, len(passwords))
	barrier.arrived.Add(len(passwords))

	var wg sync.WaitGroup
	for i, pw := range passwords {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = env.engine.CompletePasswordReset(ctx, secret, pw)
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner >= 0 {
				t.Fatalf("secret consumed twice")
			}
			winner = i
		case !errors.Is(err, ErrInvalidOrExpiredToken):
			t.Fatalf("completion %d: expected ErrInvalidOrExpiredToken, got %v", i, err)
		}
	}
	if winner < 0 {
		t.Fatalf("no completion succeeded: %v", errs)
	}

	if _, err := env.engine.Login(ctx, "a@x.com", passwords[winner]); err != nil {
		t.Fatalf("winning password rejected: %v", err)
	}
	if _, err := env.engine.Login(ctx, "a@x.com", passwords[1-winner]); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("losing password accepted: %v", err)
	}
}

// emailPause stops one armed FindByEmail caller after its read until release
// is closed.
type emailPause struct {
	*memStore
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func (s *emailPause) FindByEmail(ctx context.Context, email string) (*User, error) {
	u, err := s.memStore.FindByEmail(ctx, email)
	if s.armed.CompareAndSwap(true, false) {
		close(s.reached)
		<-s.release
	}
	return u, err
}

func TestPasswordResetRequestDoesNotRestoreOldPassword(t *testing.T) {
	pause := &emailPause{reached: make(chan struct{}), release: make(chan struct{})}
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		pause.memStore = b.store.(*memStore)
		b.WithStore(pause)
	})
	mustRegister(t, env, "a@x.com", "longenough1")
	ctx := context.Background()

	if err := env.engine.RequestPasswordReset(ctx, "a@x.com"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	first := resetSecretFromMail(t, env.mailer)

	pause.armed.Store(true)
	done := make(chan error, 1)
	go func() { done <- env.engine.RequestPasswordReset(ctx, "a@x.com") }()
	<-pause.reached

	if err := env.engine.CompletePasswordReset(ctx, first, "new-password1"); err != nil {
		t.Fatalf("CompletePasswordReset: %v", err)
	}
	close(pause.release)
	if err := <-done; err != nil {
		t.Fatalf("second request: %v", err)
	}

	if _, err := env.engine.Login(ctx, "a@x.com", "new-password1"); err != nil {
		t.Fatalf("new password lost: %v", err)
	}
	if _, err := env.engine.Login(ctx, "a@x.com", "longenough1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password restored: %v", err)
	}

	second := resetSecretFromMail(t, env.mailer)
	if err := env.engine.CompletePasswordReset(ctx, second, "newest-password"); err != nil {
		t.Fatalf("second secret rejected: %v", err)
	}
}

func TestRehashKeepsConcurrentReset(t *testing.T) {
	stronger, err := password.New(password.Config{Cost: 5, MinLength: 8})
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	env := newTestEnv(t, func(_ *Config, b *Builder) {
		b.WithHasher(&countingHasher{inner: stronger})
	})
	weak, err := password.New(password.Config{Cost: 4, MinLength: 8})
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	ctx := context.Background()

	digest, err := weak.Hash(ctx, "longenough1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := User{ID: "u1", Email: "a@x.com", Name: "A", Role: RoleUser, PasswordHash: digest}
	if err := env.store.Create(ctx, &u); err != nil {
		t.Fatalf("create: %v", err)
	}
	stale := env.store.get("u1")

	// A reset lands between the login read and the rehash write.
	now := env.clock.Now()
	if err := env.store.SetResetSecret(ctx, "u1", "digest-2", now.Add(time.Hour), now); err != nil {
		t.Fatalf("SetResetSecret: %v", err)
	}
	if _, err := env.store.ConsumeResetSecret(ctx, "digest-2", now, "reset-hash"); err != nil {
		t.Fatalf("ConsumeResetSecret: %v", err)
	}
	if err := env.store.SetResetSecret(ctx, "u1", "digest-3", now.Add(time.Hour), now); err != nil {
		t.Fatalf("SetResetSecret: %v", err)
	}

	env.engine.maybeRehash(ctx, &stale, "longenough1")

	got := env.store.get("u1")
	if got.PasswordHash != "reset-hash" {
		t.Fatalf("rehash overwrote the reset password")
	}
	if got.ResetSecretHash != "digest-3" {
		t.Fatalf("rehash dropped the pending secret: %+v", got)
	}
}
