package authcore

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/neaweb/authcore/mail"
	"github.com/neaweb/authcore/password"
	"github.com/redis/go-redis/v9"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore is a minimal CredentialStore that counts lookups.
type memStore struct {
	mu      sync.Mutex
	users   map[string]User
	lookups atomic.Int32
	failing error
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]User)}
}

func (s *memStore) find(match func(User) bool) (*User, error) {
	s.lookups.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return nil, s.failing
	}
	for _, u := range s.users {
		if match(u) {
			c := u
			return &c, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *memStore) FindByEmail(_ context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	return s.find(func(u User) bool { return u.Email == email })
}

func (s *memStore) FindByExternalID(_ context.Context, id string) (*User, error) {
	return s.find(func(u User) bool { return id != "" && u.ExternalID == id })
}

func (s *memStore) FindByID(_ context.Context, id string) (*User, error) {
	return s.find(func(u User) bool { return u.ID == id })
}

func (s *memStore) FindByResetSecret(_ context.Context, digest string) (*User, error) {
	return s.find(func(u User) bool { return digest != "" && u.ResetSecretHash == digest })
}

func (s *memStore) Create(_ context.Context, u *User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	for _, existing := range s.users {
		if existing.Email == u.Email || (u.ExternalID != "" && existing.ExternalID == u.ExternalID) {
			return ErrConflict
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *memStore) Save(_ context.Context, u *User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	if _, ok := s.users[u.ID]; !ok {
		return ErrUserNotFound
	}
	s.users[u.ID] = *u
	return nil
}

func (s *memStore) SetResetSecret(_ context.Context, userID, digest string, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.SetResetSecret(digest, expiresAt)
	u.UpdatedAt = now
	s.users[userID] = u
	return nil
}

func (s *memStore) ClearResetSecret(_ context.Context, userID, digest string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	u, ok := s.users[userID]
	if !ok || u.ResetSecretHash != digest {
		return nil
	}
	u.ClearResetSecret()
	u.UpdatedAt = now
	s.users[userID] = u
	return nil
}

func (s *memStore) ConsumeResetSecret(_ context.Context, digest string, now time.Time, passwordHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return "", s.failing
	}
	for id, u := range s.users {
		if digest == "" || u.ResetSecretHash != digest || !u.PendingReset(now) {
			continue
		}
		u.PasswordHash = passwordHash
		u.ClearResetSecret()
		u.UpdatedAt = now
		s.users[id] = u
		return id, nil
	}
	return "", ErrUserNotFound
}

func (s *memStore) UpdatePasswordHash(_ context.Context, userID, oldHash, newHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	u, ok := s.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.PasswordHash != oldHash {
		return ErrConflict
	}
	u.PasswordHash = newHash
	u.UpdatedAt = now
	s.users[userID] = u
	return nil
}

func (s *memStore) get(id string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *memStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *memStore) setFailing(err error) {
	s.mu.Lock()
	s.failing = err
	s.mu.Unlock()
}

// countingHasher wraps the bcrypt hasher and counts hashing work.
type countingHasher struct {
	inner    *password.Hasher
	hashes   atomic.Int32
	verifies atomic.Int32
}

func (h *countingHasher) CheckPolicy(p string) error { return h.inner.CheckPolicy(p) }

func (h *countingHasher) Hash(ctx context.Context, p string) (string, error) {
	h.hashes.Add(1)
	return h.inner.Hash(ctx, p)
}

func (h *countingHasher) Verify(ctx context.Context, p, d string) (bool, error) {
	h.verifies.Add(1)
	return h.inner.Verify(ctx, p, d)
}

func (h *countingHasher) NeedsRehash(d string) (bool, error) { return h.inner.NeedsRehash(d) }

// fakeProvider maps authorization codes to profiles.
type fakeProvider struct {
	profiles map[string]OAuthProfile
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (OAuthProfile, error) {
	prof, ok := p.profiles[code]
	if !ok {
		return OAuthProfile{}, ErrInvalidInput
	}
	return prof, nil
}

type testEnv struct {
	engine   *Engine
	store    *memStore
	hasher   *countingHasher
	mailer   *mail.LogDispatcher
	clock    *testClock
	redis    *miniredis.Miniredis
	provider *fakeProvider
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Environment = EnvTest
	cfg.JWT.Secret = testSecret
	cfg.Password.Cost = 4
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config, *Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	inner, err := password.New(password.Config{Cost: cfg.Password.Cost, MinLength: cfg.Password.MinLength})
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}

	env := &testEnv{
		store:    newMemStore(),
		hasher:   &countingHasher{inner: inner},
		mailer:   mail.NewLogDispatcher(nil),
		clock:    newTestClock(),
		redis:    mr,
		provider: &fakeProvider{profiles: map[string]OAuthProfile{}},
	}

	b := New().
		WithStore(env.store).
		WithHasher(env.hasher).
		WithMailer(env.mailer).
		WithRedis(rdb).
		WithOAuthProvider(env.provider).
		WithClock(env.clock.Now)
	for _, m := range mutate {
		m(&cfg, b)
	}

	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close(context.Background()) })
	env.engine = engine
	return env
}

// resetSecretFromMail pulls the secret out of the last recovery link.
func resetSecretFromMail(t *testing.T, d *mail.LogDispatcher) string {
	t.Helper()
	sent := d.Sent()
	if len(sent) == 0 {
		t.Fatalf("no mail sent")
	}
	body := sent[len(sent)-1].Body
	_, rest, ok := strings.Cut(body, "reset-password?token=")
	if !ok {
		t.Fatalf("no reset link in body: %s", body)
	}
	secret, _, _ := strings.Cut(rest, `"`)
	return secret
}
