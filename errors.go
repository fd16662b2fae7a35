package authcore

import (
	"errors"
	"fmt"

	"github.com/neaweb/authcore/jwt"
	"github.com/neaweb/authcore/password"
	"github.com/samber/oops"
)

var (
	// ErrWeakCredential is returned when a password fails the length policy.
	ErrWeakCredential = password.ErrWeakCredential
	// ErrInvalidCredentials is returned for both unknown email and wrong
	// password so the two cannot be told apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrOAuthOnlyAccount is returned when a password login targets an account
	// that only signs in through the identity provider.
	ErrOAuthOnlyAccount = errors.New("account uses provider sign-in")
	// ErrInvalidOrExpiredToken is returned for unknown, consumed or expired
	// reset secrets.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrRateExceeded is returned when the client exhausted its window.
	ErrRateExceeded = errors.New("too many requests")
	// ErrRateLimiterUnavailable is returned when the limiter backend fails.
	ErrRateLimiterUnavailable = errors.New("rate limiter unavailable")
	// ErrUnauthenticated is returned when no current user is resolved.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when the current user lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrStorage wraps credential or session store failures.
	ErrStorage = errors.New("storage failure")
	// ErrDispatch wraps mail delivery failures, including a missing transport.
	ErrDispatch = errors.New("mail dispatch failure")
	// ErrProviderNotConfigured is returned when provider sign-in is requested
	// but no provider was wired.
	ErrProviderNotConfigured = errors.New("identity provider not configured")
	// ErrProviderExchange is returned when the provider rejects the callback.
	ErrProviderExchange = errors.New("identity provider exchange failed")
	// ErrInvalidOAuthState is returned for unknown, reused or expired state.
	ErrInvalidOAuthState = errors.New("invalid oauth state")
	// ErrConflict is returned when an email or provider id is already taken.
	ErrConflict = errors.New("user already exists")
	// ErrUserNotFound is returned by stores for missing records, and by the
	// engine when a token subject no longer exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidInput is returned for missing or malformed request fields.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidUser is returned by User.Validate.
	ErrInvalidUser = errors.New("invalid user record")
	// ErrEngineNotReady is returned when a nil or unbuilt engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Error codes attached to wrapped internal failures.
const (
	CodeStorage  = "AUTH_STORAGE"
	CodeDispatch = "AUTH_DISPATCH"
	CodeLimiter  = "AUTH_RATE_LIMITER"
	CodeProvider = "AUTH_PROVIDER"
	CodeInternal = "AUTH_INTERNAL"
)

func storageError(operation string, err error) error {
	return oops.In("authcore").
		Code(CodeStorage).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStorage, err))
}

func dispatchError(operation string, err error) error {
	return oops.In("authcore").
		Code(CodeDispatch).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrDispatch, err))
}

func internalError(operation string, err error) error {
	return oops.In("authcore").
		Code(CodeInternal).
		With("operation", operation).
		Wrap(err)
}

// ErrorCode returns the code attached to err by the engine, or "".
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
