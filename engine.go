package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	internalaudit "github.com/neaweb/authcore/internal/audit"
	"github.com/neaweb/authcore/jwt"
)

// dummyPassword is hashed once so unknown-email logins spend the same bcrypt
// work as wrong-password logins.
const dummyPassword = "authcore-timing-equalizer"

// Engine runs every authentication operation. It is immutable after Build and
// safe for concurrent use.
type Engine struct {
	config   Config
	store    CredentialStore
	hasher   PasswordHasher
	tokens   *jwt.Manager
	limiter  RateLimiter
	sessions SessionStore
	mailer   Mailer
	provider OAuthProvider
	states   OAuthStateStore
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Close flushes pending audit events.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.audit.Close(ctx)
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// AuditDropped reports audit events lost to a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Register creates a password account with role user and signs it in.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	if e == nil {
		return AuthResult{}, ErrEngineNotReady
	}

	result, err := e.register(ctx, req)
	e.metrics.registration(err)

	event := auditEventRegisterSuccess
	if err != nil {
		event = auditEventRegisterFailure
	}
	e.emitAudit(ctx, event, err == nil, result.User.ID, err, nil)

	return result, err
}

func (e *Engine) register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	user, err := e.createAccount(ctx, req, RoleUser)
	if err != nil {
		return AuthResult{}, err
	}
	return e.signIn(user)
}

// CreateAdmin creates a password account with role admin. It is meant for
// operator tooling and issues no token.
func (e *Engine) CreateAdmin(ctx context.Context, req RegisterRequest) (UserView, error) {
	if e == nil {
		return UserView{}, ErrEngineNotReady
	}

	user, err := e.createAccount(ctx, req, RoleAdmin)
	if err != nil {
		return UserView{}, err
	}
	e.emitAudit(ctx, auditEventRegisterSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{"role": RoleAdmin.String()}
	})
	return user.View(), nil
}

func (e *Engine) createAccount(ctx context.Context, req RegisterRequest, role Role) (*User, error) {
	name := strings.TrimSpace(req.Name)
	email := NormalizeEmail(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: name, email and password are required", ErrInvalidInput)
	}
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: malformed email", ErrInvalidInput)
	}
	if err := e.checkPolicy(req.Password); err != nil {
		return nil, err
	}

	_, err := e.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, ErrConflict
	case !errors.Is(err, ErrUserNotFound):
		return nil, storageError("find_by_email", err)
	}

	digest, err := e.hashPassword(ctx, req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: digest,
		Name:         name,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := user.Validate(); err != nil {
		return nil, internalError("validate_user", err)
	}
	if err := e.store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, storageError("create", err)
	}

	return user, nil
}

// Login checks an email and password and issues a fresh token. Unknown email
// and wrong password both return ErrInvalidCredentials after the same amount
// of hashing work.
func (e *Engine) Login(ctx context.Context, email, password string) (AuthResult, error) {
	if e == nil {
		return AuthResult{}, ErrEngineNotReady
	}

	result, err := e.login(ctx, email, password)
	e.metrics.login(err)

	event := auditEventLoginSuccess
	if err != nil {
		event = auditEventLoginFailure
	}
	e.emitAudit(ctx, event, err == nil, result.User.ID, err, func() map[string]string {
		return map[string]string{"carrier": "password"}
	})

	return result, err
}

func (e *Engine) login(ctx context.Context, email, password string) (AuthResult, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return AuthResult{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}

	user, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return AuthResult{}, storageError("find_by_email", err)
		}
		e.burnVerify(ctx, password)
		return AuthResult{}, ErrInvalidCredentials
	}

	if !user.HasPassword() {
		return AuthResult{}, ErrOAuthOnlyAccount
	}

	ok, err := e.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		return AuthResult{}, internalError("verify_password", err)
	}
	if !ok {
		return AuthResult{}, ErrInvalidCredentials
	}

	e.maybeRehash(ctx, user, password)

	return e.signIn(user)
}

// Me returns the profile projection of userID.
func (e *Engine) Me(ctx context.Context, userID string) (UserView, error) {
	if e == nil {
		return UserView{}, ErrEngineNotReady
	}
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return UserView{}, err
	}
	return user.Profile(), nil
}

// IsAdmin reports whether userID holds the admin role.
func (e *Engine) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	user, err := e.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Role == RoleAdmin, nil
}

// IssueToken signs a bearer token for userID.
func (e *Engine) IssueToken(userID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	token, err := e.tokens.Issue(userID)
	if err != nil {
		return "", internalError("issue_token", err)
	}
	return token, nil
}

// VerifyToken returns the subject of a valid bearer token. Every failure is
// ErrInvalidToken.
func (e *Engine) VerifyToken(token string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	return e.tokens.Verify(token)
}

// TokenTTL returns the bearer token lifetime.
func (e *Engine) TokenTTL() time.Duration {
	return e.tokens.TTL()
}

func (e *Engine) signIn(user *User) (AuthResult, error) {
	token, err := e.IssueToken(user.ID)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, User: user.View()}, nil
}

// loadUser maps a missing record to ErrUserNotFound and anything else to
// ErrStorage.
func (e *Engine) loadUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	user, err := e.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storageError("find_by_id", err)
	}
	return user, nil
}

// checkPolicy reports ErrWeakCredential as is and any other policy violation
// as ErrInvalidInput.
func (e *Engine) checkPolicy(plaintext string) error {
	err := e.hasher.CheckPolicy(plaintext)
	if err == nil || errors.Is(err, ErrWeakCredential) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

func (e *Engine) hashPassword(ctx context.Context, plaintext string) (string, error) {
	start := time.Now()
	digest, err := e.hasher.Hash(ctx, plaintext)
	e.metrics.observeHash(start)
	if err != nil {
		if errors.Is(err, ErrWeakCredential) {
			return "", err
		}
		return "", internalError("hash_password", err)
	}
	return digest, nil
}

func (e *Engine) burnVerify(ctx context.Context, plaintext string) {
	e.dummyOnce.Do(func() {
		digest, err := e.hasher.Hash(ctx, dummyPassword)
		if err != nil {
			e.logger.WarnContext(ctx, "timing equalizer hash failed", "error", err)
			return
		}
		e.dummyHash = digest
	})
	if e.dummyHash != "" {
		_, _ = e.hasher.Verify(ctx, plaintext, e.dummyHash)
	}
}

type rehasher interface {
	NeedsRehash(digest string) (bool, error)
}

func (e *Engine) maybeRehash(ctx context.Context, user *User, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	rh, ok := e.hasher.(rehasher)
	if !ok {
		return
	}
	if stale, err := rh.NeedsRehash(user.PasswordHash); err != nil || !stale {
		return
	}

	digest, err := e.hashPassword(ctx, plaintext)
	if err != nil {
		e.logger.WarnContext(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	if err := e.store.UpdatePasswordHash(ctx, user.ID, user.PasswordHash, digest, e.now()); err != nil {
		if errors.Is(err, ErrConflict) {
			e.logger.DebugContext(ctx, "password changed during rehash", "user_id", user.ID)
			return
		}
		e.logger.WarnContext(ctx, "password rehash not persisted", "user_id", user.ID, "error", err)
		return
	}
	user.PasswordHash = digest
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
