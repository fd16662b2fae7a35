package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neaweb/authcore"
)

func newUser(id, email string) *authcore.User {
	return &authcore.User{
		ID:           id,
		Email:        email,
		PasswordHash: "$2a$04$digest",
		Name:         "Test",
		Role:         authcore.RoleUser,
	}
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, err := s.FindByEmail(ctx, "  A@Example.com ")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if u.ID != "u1" {
		t.Fatalf("expected u1, got %s", u.ID)
	}

	if _, err := s.FindByID(ctx, "missing"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestCreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, newUser("u2", "a@example.com")); !errors.Is(err, authcore.ErrConflict) {
		t.Fatalf("expected ErrConflict for email, got %v", err)
	}

	g := &authcore.User{ID: "g1", Email: "g@example.com", Role: authcore.RoleUser, ExternalID: "sub-1"}
	if err := s.Create(ctx, g); err != nil {
		t.Fatalf("create oauth user: %v", err)
	}
	g2 := &authcore.User{ID: "g2", Email: "g2@example.com", Role: authcore.RoleUser, ExternalID: "sub-1"}
	if err := s.Create(ctx, g2); !errors.Is(err, authcore.ErrConflict) {
		t.Fatalf("expected ErrConflict for external id, got %v", err)
	}
}

func TestCreateValidates(t *testing.T) {
	s := New()
	u := &authcore.User{ID: "u1", Email: "a@example.com", Role: authcore.RoleUser}
	if err := s.Create(context.Background(), u); !errors.Is(err, authcore.ErrInvalidUser) {
		t.Fatalf("expected ErrInvalidUser for account without auth path, got %v", err)
	}
}

func TestReturnedUsersAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, _ := s.FindByID(ctx, "u1")
	u.Role = authcore.RoleAdmin

	again, _ := s.FindByID(ctx, "u1")
	if again.Role != authcore.RoleUser {
		t.Fatalf("mutation of returned user leaked into the store")
	}
}

func TestSaveAndResetSecretLookup(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, _ := s.FindByID(ctx, "u1")
	u.SetResetSecret("digest-1", time.Now().Add(time.Hour))
	if err := s.Save(ctx, u); err != nil {
		t.Fatalf("save: %v", err)
	}

	found, err := s.FindByResetSecret(ctx, "digest-1")
	if err != nil || found.ID != "u1" {
		t.Fatalf("expected u1 by digest, got %v %v", found, err)
	}

	found.ClearResetSecret()
	if err := s.Save(ctx, found); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.FindByResetSecret(ctx, "digest-1"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected cleared digest to be gone, got %v", err)
	}
}

func TestSaveUnknownAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Save(ctx, newUser("ghost", "g@example.com")); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := s.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
	if _, err := s.FindByEmail(ctx, "a@example.com"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected email index cleared, got %v", err)
	}
}

func TestConsumeResetSecretOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetResetSecret(ctx, "u1", "digest-1", now.Add(time.Hour), now); err != nil {
		t.Fatalf("set reset secret: %v", err)
	}

	const workers = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.ConsumeResetSecret(ctx, "digest-1", now, fmt.Sprintf("hash-%d", i))
			switch {
			case err == nil && id == "u1":
				wins.Add(1)
			case errors.Is(err, authcore.ErrUserNotFound):
			default:
				t.Errorf("unexpected result %q %v", id, err)
			}
		}()
	}
	wg.Wait()

	if n := wins.Load(); n != 1 {
		t.Fatalf("expected exactly one consumer, got %d", n)
	}
	u, _ := s.FindByID(ctx, "u1")
	if u.ResetSecretHash != "" || !u.ResetExpiresAt.IsZero() {
		t.Fatalf("secret not cleared: %+v", u)
	}
}

func TestConsumeResetSecretRejectsExpired(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetResetSecret(ctx, "u1", "digest-1", now.Add(time.Hour), now); err != nil {
		t.Fatalf("set reset secret: %v", err)
	}

	if _, err := s.ConsumeResetSecret(ctx, "digest-1", now.Add(time.Hour), "new"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound at expiry, got %v", err)
	}
	if u, _ := s.FindByID(ctx, "u1"); u.PasswordHash != "$2a$04$digest" {
		t.Fatalf("expired secret changed the password")
	}
}

func TestResetSecretWritesLeaveOtherFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.Create(ctx, newUser("u1", "a@example.com")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.SetResetSecret(ctx, "u1", "digest-1", now.Add(time.Hour), now); err != nil {
		t.Fatalf("set reset secret: %v", err)
	}
	if err := s.SetResetSecret(ctx, "u1", "digest-2", now.Add(time.Hour), now); err != nil {
		t.Fatalf("set reset secret: %v", err)
	}

	// Clearing an older digest leaves the newer one pending.
	if err := s.ClearResetSecret(ctx, "u1", "digest-1", now); err != nil {
		t.Fatalf("clear: %v", err)
	}
	u, _ := s.FindByID(ctx, "u1")
	if u.ResetSecretHash != "digest-2" || u.PasswordHash != "$2a$04$digest" {
		t.Fatalf("unexpected record: %+v", u)
	}

	if err := s.UpdatePasswordHash(ctx, "u1", "stale", "new", now); !errors.Is(err, authcore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, "u1", "$2a$04$digest", "new", now); err != nil {
		t.Fatalf("update password hash: %v", err)
	}
	u, _ = s.FindByID(ctx, "u1")
	if u.PasswordHash != "new" || u.ResetSecretHash != "digest-2" {
		t.Fatalf("unexpected record: %+v", u)
	}

	if err := s.SetResetSecret(ctx, "ghost", "d", now, now); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
