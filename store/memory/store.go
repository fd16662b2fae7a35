// Package memory is an in-process authcore.CredentialStore for tests and
// single-node development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/neaweb/authcore"
)

// Store keeps users in maps guarded by one RWMutex. Returned users are
// copies.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*authcore.User
	byEmail    map[string]string
	byExternal map[string]string
}

func New() *Store {
	return &Store{
		byID:       make(map[string]*authcore.User),
		byEmail:    make(map[string]string),
		byExternal: make(map[string]string),
	}
}

func (s *Store) FindByEmail(_ context.Context, email string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[authcore.NormalizeEmail(email)]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) FindByExternalID(_ context.Context, externalID string) (*authcore.User, error) {
	if externalID == "" {
		return nil, authcore.ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return clone(u), nil
}

// FindByResetSecret scans every user; the store is meant for small data
// sets.
func (s *Store) FindByResetSecret(_ context.Context, digest string) (*authcore.User, error) {
	if digest == "" {
		return nil, authcore.ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.byID {
		if u.ResetSecretHash == digest {
			return clone(u), nil
		}
	}
	return nil, authcore.ErrUserNotFound
}

func (s *Store) Create(_ context.Context, user *authcore.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[user.ID]; ok {
		return fmt.Errorf("%w: id %s", authcore.ErrConflict, user.ID)
	}
	if _, ok := s.byEmail[user.Email]; ok {
		return fmt.Errorf("%w: email", authcore.ErrConflict)
	}
	if user.ExternalID != "" {
		if _, ok := s.byExternal[user.ExternalID]; ok {
			return fmt.Errorf("%w: external id", authcore.ErrConflict)
		}
	}

	s.put(clone(user))
	return nil
}

// Save replaces an existing record. Email and external id changes are
// checked for uniqueness.
func (s *Store) Save(_ context.Context, user *authcore.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[user.ID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	if id, taken := s.byEmail[user.Email]; taken && id != user.ID {
		return fmt.Errorf("%w: email", authcore.ErrConflict)
	}
	if user.ExternalID != "" {
		if id, taken := s.byExternal[user.ExternalID]; taken && id != user.ID {
			return fmt.Errorf("%w: external id", authcore.ErrConflict)
		}
	}

	delete(s.byEmail, old.Email)
	if old.ExternalID != "" {
		delete(s.byExternal, old.ExternalID)
	}
	s.put(clone(user))
	return nil
}

func (s *Store) SetResetSecret(_ context.Context, userID, digest string, expiresAt, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.SetResetSecret(digest, expiresAt)
	u.UpdatedAt = now
	return nil
}

func (s *Store) ClearResetSecret(_ context.Context, userID, digest string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok || u.ResetSecretHash != digest {
		return nil
	}
	u.ClearResetSecret()
	u.UpdatedAt = now
	return nil
}

// ConsumeResetSecret checks and clears the secret under the write lock, so
// only one caller can win a given digest.
func (s *Store) ConsumeResetSecret(_ context.Context, digest string, now time.Time, passwordHash string) (string, error) {
	if digest == "" {
		return "", authcore.ErrUserNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.byID {
		if u.ResetSecretHash != digest || !u.PendingReset(now) {
			continue
		}
		u.PasswordHash = passwordHash
		u.ClearResetSecret()
		u.UpdatedAt = now
		return u.ID, nil
	}
	return "", authcore.ErrUserNotFound
}

func (s *Store) UpdatePasswordHash(_ context.Context, userID, oldHash, newHash string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	if u.PasswordHash != oldHash {
		return fmt.Errorf("%w: password changed", authcore.ErrConflict)
	}
	u.PasswordHash = newHash
	u.UpdatedAt = now
	return nil
}

// Delete removes a user. Unknown ids are ignored.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil
	}
	delete(s.byID, id)
	delete(s.byEmail, u.Email)
	if u.ExternalID != "" {
		delete(s.byExternal, u.ExternalID)
	}
	return nil
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) put(u *authcore.User) {
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u.ID
	if u.ExternalID != "" {
		s.byExternal[u.ExternalID] = u.ID
	}
}

func clone(u *authcore.User) *authcore.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
