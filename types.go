package authcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	internalaudit "github.com/neaweb/authcore/internal/audit"
	"github.com/neaweb/authcore/internal/rate"
	"github.com/neaweb/authcore/oauth"
)

// Role is the closed set of account roles.
type Role uint8

const (
	// RoleUser is the default role of every new account.
	RoleUser Role = iota + 1
	// RoleAdmin grants access to administrative routes.
	RoleAdmin
)

// Roles lists every valid role.
var Roles = []Role{RoleUser, RoleAdmin}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Valid reports whether r is a member of the closed set.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// ParseRole maps "user" and "admin" to roles.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: role %d", ErrInvalidUser, uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// User is the identity record owned by the CredentialStore. Components borrow
// it per call and never keep a mutable copy across calls.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         Role
	ExternalID   string

	// ResetSecretHash is the hex SHA-256 of the outstanding reset secret.
	// It and ResetExpiresAt are both set or both zero.
	ResetSecretHash string
	ResetExpiresAt  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the record invariants before a store write.
func (u *User) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: nil user", ErrInvalidUser)
	}
	if u.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidUser)
	}
	if u.Email == "" {
		return fmt.Errorf("%w: missing email", ErrInvalidUser)
	}
	if u.Email != NormalizeEmail(u.Email) {
		return fmt.Errorf("%w: email not normalized", ErrInvalidUser)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: invalid role", ErrInvalidUser)
	}
	if u.PasswordHash == "" && u.ExternalID == "" {
		return fmt.Errorf("%w: no authentication path", ErrInvalidUser)
	}
	if (u.ResetSecretHash == "") != u.ResetExpiresAt.IsZero() {
		return fmt.Errorf("%w: reset secret and expiry must be set together", ErrInvalidUser)
	}
	return nil
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// SetResetSecret records a pending reset, replacing any previous one.
func (u *User) SetResetSecret(digest string, expiresAt time.Time) {
	u.ResetSecretHash = digest
	u.ResetExpiresAt = expiresAt
}

// ClearResetSecret drops any pending reset.
func (u *User) ClearResetSecret() {
	u.ResetSecretHash = ""
	u.ResetExpiresAt = time.Time{}
}

// PendingReset reports whether a reset secret is outstanding at now.
func (u *User) PendingReset(now time.Time) bool {
	return u.ResetSecretHash != "" && now.Before(u.ResetExpiresAt)
}

// View returns the password-free projection.
func (u *User) View() UserView {
	return UserView{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
		Role:  u.Role,
	}
}

// Profile returns the projection served by the profile endpoint.
func (u *User) Profile() UserView {
	v := u.View()
	created := u.CreatedAt
	v.CreatedAt = &created
	return v
}

// UserView is the projection of a user that may leave the service.
type UserView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// CredentialStore persists users. Lookups return ErrUserNotFound when no
// record matches. Create returns ErrConflict when the email or external id is
// taken. Any other error is treated as a storage failure.
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByExternalID(ctx context.Context, externalID string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	// FindByResetSecret matches the stored digest, regardless of expiry.
	FindByResetSecret(ctx context.Context, digest string) (*User, error)
	Create(ctx context.Context, user *User) error
	Save(ctx context.Context, user *User) error

	// SetResetSecret replaces the outstanding reset digest and expiry of
	// userID. No other field is written.
	SetResetSecret(ctx context.Context, userID, digest string, expiresAt, now time.Time) error
	// ClearResetSecret drops the outstanding secret of userID only while it
	// is still digest. A newer secret is left alone.
	ClearResetSecret(ctx context.Context, userID, digest string, now time.Time) error
	// ConsumeResetSecret atomically sets passwordHash and clears the secret
	// on the user whose secret is digest and expires after now. It returns
	// that user's id, or ErrUserNotFound when no pending secret matches.
	ConsumeResetSecret(ctx context.Context, digest string, now time.Time, passwordHash string) (string, error)
	// UpdatePasswordHash swaps the password hash only while it is still
	// oldHash, and returns ErrConflict otherwise.
	UpdatePasswordHash(ctx context.Context, userID, oldHash, newHash string, now time.Time) error
}

// PasswordHasher hashes and verifies passwords. CheckPolicy must not do any
// hashing work.
type PasswordHasher interface {
	CheckPolicy(plaintext string) error
	Hash(ctx context.Context, plaintext string) (string, error)
	Verify(ctx context.Context, plaintext, digest string) (bool, error)
}

// Mailer delivers one HTML message.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SessionStore maps opaque session ids to user ids.
type SessionStore interface {
	Create(ctx context.Context, userID string) (string, error)
	Lookup(ctx context.Context, sid string) (string, error)
	Destroy(ctx context.Context, sid string) error
	DestroyAll(ctx context.Context, userID string) (int, error)
}

// OAuthProfile is the identity asserted by the provider.
type OAuthProfile = oauth.Profile

// OAuthProvider runs the provider side of the authorization-code flow.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (OAuthProfile, error)
}

// OAuthStateStore issues and burns single-use state values.
type OAuthStateStore interface {
	Issue(ctx context.Context) (string, error)
	Consume(ctx context.Context, state string) (bool, error)
}

// RateLimiter is the admission contract used by the engine.
type RateLimiter = rate.Limiter

// RateDecision is the outcome of one admission check.
type RateDecision = rate.Decision

// AuthResult is returned by operations that sign a user in.
type AuthResult struct {
	Token string   `json:"token"`
	User  UserView `json:"user"`
}

// RegisterRequest is the input of Engine.Register.
type RegisterRequest struct {
	Name     string
	Email    string
	Password string
}

// OAuthResult is returned by Engine.CompleteOAuth.
type OAuthResult struct {
	AuthResult
	// SessionID is empty when no session store is wired.
	SessionID string
	Created   bool
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's dispatcher.
type AuditSink = internalaudit.Sink
