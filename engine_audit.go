package authcore

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventRegisterSuccess       = "register_success"
	auditEventRegisterFailure       = "register_failure"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventOAuthLogin            = "oauth_login"
	auditEventSessionStarted        = "session_started"
	auditEventSessionEnded          = "session_ended"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventAuthorizationRejected = "authorization_rejected"
)

type auditErrorCode string

const (
	auditErrInvalidCredentials auditErrorCode = "invalid_credentials"
	auditErrOAuthOnly          auditErrorCode = "oauth_only_account"
	auditErrWeakCredential     auditErrorCode = "weak_credential"
	auditErrInvalidToken       auditErrorCode = "invalid_token"
	auditErrRateLimited        auditErrorCode = "rate_limited"
	auditErrUnauthenticated    auditErrorCode = "unauthenticated"
	auditErrForbidden          auditErrorCode = "forbidden"
	auditErrUserNotFound       auditErrorCode = "user_not_found"
	auditErrDuplicate          auditErrorCode = "duplicate"
	auditErrInvalidInput       auditErrorCode = "invalid_input"
	auditErrProvider           auditErrorCode = "provider_failure"
	auditErrStorage            auditErrorCode = "storage_failure"
	auditErrDispatch           auditErrorCode = "dispatch_failure"
	auditErrInternal           auditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditCode(err error) auditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrOAuthOnlyAccount):
		return auditErrOAuthOnly
	case errors.Is(err, ErrWeakCredential):
		return auditErrWeakCredential
	case errors.Is(err, ErrInvalidOrExpiredToken),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrInvalidOAuthState):
		return auditErrInvalidToken
	case errors.Is(err, ErrRateExceeded):
		return auditErrRateLimited
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrConflict):
		return auditErrDuplicate
	case errors.Is(err, ErrInvalidInput):
		return auditErrInvalidInput
	case errors.Is(err, ErrProviderExchange),
		errors.Is(err, ErrProviderNotConfigured):
		return auditErrProvider
	case errors.Is(err, ErrStorage),
		errors.Is(err, ErrRateLimiterUnavailable):
		return auditErrStorage
	case errors.Is(err, ErrDispatch):
		return auditErrDispatch
	default:
		return auditErrInternal
	}
}
