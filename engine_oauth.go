package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// OAuthEnabled reports whether provider sign-in is wired.
func (e *Engine) OAuthEnabled() bool {
	return e != nil && e.provider != nil && e.states != nil
}

// BeginOAuth stores a fresh state value and returns the provider consent URL.
func (e *Engine) BeginOAuth(ctx context.Context) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if !e.OAuthEnabled() {
		return "", ErrProviderNotConfigured
	}

	state, err := e.states.Issue(ctx)
	if err != nil {
		return "", storageError("oauth_state_issue", err)
	}
	return e.provider.AuthCodeURL(state), nil
}

// CompleteOAuth handles the provider callback: it burns state, exchanges code
// for the provider profile, resolves or creates the local account, signs it in
// and opens a web session when a session store is wired.
func (e *Engine) CompleteOAuth(ctx context.Context, state, code string) (OAuthResult, error) {
	if e == nil {
		return OAuthResult{}, ErrEngineNotReady
	}

	result, err := e.completeOAuth(ctx, state, code)
	e.metrics.oauthLogin(err)
	e.emitAudit(ctx, auditEventOAuthLogin, err == nil, result.User.ID, err, func() map[string]string {
		return map[string]string{"created": fmt.Sprint(result.Created)}
	})

	return result, err
}

func (e *Engine) completeOAuth(ctx context.Context, state, code string) (OAuthResult, error) {
	if !e.OAuthEnabled() {
		return OAuthResult{}, ErrProviderNotConfigured
	}
	if state == "" || code == "" {
		return OAuthResult{}, ErrInvalidOAuthState
	}

	ok, err := e.states.Consume(ctx, state)
	if err != nil {
		return OAuthResult{}, storageError("oauth_state_consume", err)
	}
	if !ok {
		return OAuthResult{}, ErrInvalidOAuthState
	}

	profile, err := e.provider.Exchange(ctx, code)
	if err != nil {
		return OAuthResult{}, oops.In("authcore").
			Code(CodeProvider).
			With("operation", "oauth_exchange").
			Wrap(fmt.Errorf("%w: %w", ErrProviderExchange, err))
	}

	user, created, err := e.resolveOrCreate(ctx, profile)
	if err != nil {
		return OAuthResult{}, err
	}

	auth, err := e.signIn(user)
	if err != nil {
		return OAuthResult{}, err
	}
	result := OAuthResult{AuthResult: auth, Created: created}

	if e.sessions != nil {
		sid, err := e.StartSession(ctx, user.ID)
		if err != nil {
			return OAuthResult{}, err
		}
		result.SessionID = sid
	}

	return result, nil
}

// ResolveOrCreate returns the account linked to the provider identity, creating
// one with role user and no password on first sight. Existing accounts are
// returned unchanged. Accounts are never merged by email: if a password
// account already owns the address the store's uniqueness rule surfaces as
// ErrConflict.
func (e *Engine) ResolveOrCreate(ctx context.Context, profile OAuthProfile) (UserView, error) {
	if e == nil {
		return UserView{}, ErrEngineNotReady
	}
	user, _, err := e.resolveOrCreate(ctx, profile)
	if err != nil {
		return UserView{}, err
	}
	return user.View(), nil
}

func (e *Engine) resolveOrCreate(ctx context.Context, profile OAuthProfile) (*User, bool, error) {
	if profile.ProviderID == "" || profile.Email == "" {
		return nil, false, fmt.Errorf("%w: provider id and email are required", ErrInvalidInput)
	}

	user, err := e.store.FindByExternalID(ctx, profile.ProviderID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, storageError("find_by_external_id", err)
	}

	now := e.now()
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name = profile.Email
	}
	user = &User{
		ID:         uuid.NewString(),
		Email:      NormalizeEmail(profile.Email),
		Name:       name,
		Role:       RoleUser,
		ExternalID: profile.ProviderID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := user.Validate(); err != nil {
		return nil, false, internalError("validate_user", err)
	}
	if err := e.store.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, false, ErrConflict
		}
		return nil, false, storageError("create", err)
	}

	e.logger.InfoContext(ctx, "provider account created", "user_id", user.ID)
	return user, true, nil
}
