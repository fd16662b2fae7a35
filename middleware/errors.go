package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neaweb/authcore"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	message string
}

// Order matters: the first matching sentinel wins.
var errorMappings = []errorMapping{
	{authcore.ErrEngineNotReady, http.StatusInternalServerError, "server error"},
	{authcore.ErrRateExceeded, http.StatusTooManyRequests, "too many requests, please try again later"},
	{authcore.ErrRateLimiterUnavailable, http.StatusServiceUnavailable, "service temporarily unavailable"},
	{authcore.ErrWeakCredential, http.StatusBadRequest, "password must be at least 8 characters long"},
	{authcore.ErrInvalidOrExpiredToken, http.StatusBadRequest, "invalid or expired token"},
	{authcore.ErrInvalidInput, http.StatusBadRequest, ""},
	{authcore.ErrConflict, http.StatusConflict, "user already exists"},
	{authcore.ErrInvalidCredentials, http.StatusUnauthorized, "invalid credentials"},
	{authcore.ErrOAuthOnlyAccount, http.StatusUnauthorized, "this account was created with Google, please sign in with Google"},
	{authcore.ErrInvalidToken, http.StatusUnauthorized, "invalid token"},
	{authcore.ErrUnauthenticated, http.StatusUnauthorized, "access denied, no token provided"},
	{authcore.ErrForbidden, http.StatusForbidden, "access denied, insufficient permissions"},
	{authcore.ErrUserNotFound, http.StatusNotFound, "user not found"},
	{authcore.ErrInvalidOAuthState, http.StatusBadRequest, "invalid oauth state"},
	{authcore.ErrProviderNotConfigured, http.StatusInternalServerError, "google sign-in is not configured"},
	{authcore.ErrProviderExchange, http.StatusBadGateway, "google sign-in failed"},
	{authcore.ErrDispatch, http.StatusInternalServerError, "could not send email"},
}

// Status maps an engine error to its HTTP status and public message.
// Unknown errors are 500.
func Status(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg := m.message
			if msg == "" {
				msg = err.Error()
			}
			return m.status, msg
		}
	}
	return http.StatusInternalServerError, "server error"
}

// WriteError writes err as JSON. When detail is set, 5xx responses carry the
// underlying error text.
func WriteError(w http.ResponseWriter, err error, detail bool) {
	status, msg := Status(err)
	body := ErrorBody{Message: msg}
	if detail && status >= http.StatusInternalServerError {
		body.Error = err.Error()
	}
	WriteJSON(w, status, body)
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}
