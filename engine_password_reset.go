package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/neaweb/authcore/internal"
	"github.com/neaweb/authcore/mail"
)

const (
	resetStageRequest  = "request"
	resetStageComplete = "complete"
)

// RequestPasswordReset issues a recovery secret for email and mails it.
//
// Unknown and malformed addresses succeed without any state change so
// callers cannot enumerate accounts. Only an empty address is rejected.
// When the message cannot be sent the pending secret is cleared again and
// ErrDispatch is returned.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	userID, err := e.requestPasswordReset(ctx, email)
	e.metrics.passwordReset(resetStageRequest, err)
	e.emitAudit(ctx, auditEventPasswordResetRequest, err == nil, userID, err, nil)

	return err
}

func (e *Engine) requestPasswordReset(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if !validEmail(email) {
		return "", nil
	}

	user, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil
		}
		return "", storageError("find_by_email", err)
	}

	secret, err := internal.NewResetSecret()
	if err != nil {
		return user.ID, internalError("reset_secret", err)
	}

	now := e.now()
	digest := internal.DigestSecret(secret)
	if err := e.store.SetResetSecret(ctx, user.ID, digest, now.Add(e.config.PasswordReset.TTL), now); err != nil {
		return user.ID, storageError("set_reset_secret", err)
	}

	if err := e.sendResetMail(ctx, user.Email, secret); err != nil {
		if clearErr := e.store.ClearResetSecret(ctx, user.ID, digest, e.now()); clearErr != nil {
			e.logger.ErrorContext(ctx, "reset secret not cleared after dispatch failure",
				"user_id", user.ID, "error", clearErr)
		}
		return user.ID, err
	}

	return user.ID, nil
}

func (e *Engine) sendResetMail(ctx context.Context, to, secret string) error {
	if e.mailer == nil {
		return dispatchError("send_reset", mail.ErrNotConfigured)
	}

	subject, body, err := mail.RenderResetEmail(e.resetLink(secret), humanDuration(e.config.PasswordReset.TTL))
	if err != nil {
		return internalError("render_reset", err)
	}
	if err := e.mailer.Send(ctx, to, subject, body); err != nil {
		return dispatchError("send_reset", err)
	}
	return nil
}

func (e *Engine) resetLink(secret string) string {
	base := strings.TrimRight(e.config.PasswordReset.FrontendURL, "/")
	return base + "/reset-password?token=" + url.QueryEscape(secret)
}

// CompletePasswordReset consumes secret and replaces the account password.
// Unknown, consumed and expired secrets all return ErrInvalidOrExpiredToken.
// Every web session of the account is ended on success.
func (e *Engine) CompletePasswordReset(ctx context.Context, secret, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	userID, err := e.completePasswordReset(ctx, secret, newPassword)
	e.metrics.passwordReset(resetStageComplete, err)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, err == nil, userID, err, nil)

	return err
}

func (e *Engine) completePasswordReset(ctx context.Context, secret, newPassword string) (string, error) {
	if secret == "" || newPassword == "" {
		return "", fmt.Errorf("%w: token and new password are required", ErrInvalidInput)
	}

	digest := internal.DigestSecret(secret)
	user, err := e.store.FindByResetSecret(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", ErrInvalidOrExpiredToken
		}
		return "", storageError("find_by_reset_secret", err)
	}
	if !user.PendingReset(e.now()) {
		return user.ID, ErrInvalidOrExpiredToken
	}

	if err := e.checkPolicy(newPassword); err != nil {
		return user.ID, err
	}
	passwordHash, err := e.hashPassword(ctx, newPassword)
	if err != nil {
		return user.ID, err
	}

	// The lookup above only orders the errors. The store decides which
	// caller, if any, gets to use the secret.
	userID, err := e.store.ConsumeResetSecret(ctx, digest, e.now(), passwordHash)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return user.ID, ErrInvalidOrExpiredToken
		}
		return user.ID, storageError("consume_reset_secret", err)
	}

	if e.sessions != nil {
		if n, err := e.sessions.DestroyAll(ctx, userID); err != nil {
			e.logger.WarnContext(ctx, "sessions not revoked after password reset", "user_id", userID, "error", err)
		} else if n > 0 {
			e.logger.InfoContext(ctx, "sessions revoked after password reset", "user_id", userID, "count", n)
		}
	}

	return userID, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d == time.Minute:
		return "1 minute"
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}
