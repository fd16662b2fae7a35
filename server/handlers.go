package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/neaweb/authcore"
	"github.com/neaweb/authcore/middleware"
)

const resetRequestedMessage = "if the email is registered, a password reset link has been sent"

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.engine.Register(r.Context(), authcore.RegisterRequest{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.setTokenCookie(w, res.Token)
	middleware.WriteJSON(w, http.StatusCreated, res)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.engine.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.setTokenCookie(w, res.Token)
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: resetRequestedMessage})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.CompletePasswordReset(r.Context(), req.Token, req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "password reset successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := authcore.PrincipalFromContext(r.Context())
	view, err := s.engine.Me(r.Context(), p.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleVerifyAdmin(w http.ResponseWriter, r *http.Request) {
	p := authcore.PrincipalFromContext(r.Context())
	ok, err := s.engine.IsAdmin(r.Context(), p.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"isAdmin": ok})
}

func (s *Server) handleAdminPing(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	p := authcore.PrincipalFromContext(r.Context())
	if p.User == nil {
		s.fail(w, r, authcore.ErrUnauthenticated)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, p.User)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	if c, err := r.Cookie(cfg.Session.CookieName); err == nil && c.Value != "" {
		if err := s.engine.EndSession(r.Context(), c.Value); err != nil {
			s.logger.WarnContext(r.Context(), "session destroy failed", "error", err)
		}
	}

	s.clearCookie(w, cfg.Cookie.TokenName, http.SameSiteStrictMode)
	s.clearCookie(w, cfg.Session.CookieName, s.sessionSameSite())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGoogle(w http.ResponseWriter, r *http.Request) {
	target, err := s.engine.BeginOAuth(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.engine.OAuthEnabled() {
		s.fail(w, r, authcore.ErrProviderNotConfigured)
		return
	}

	cfg := s.engine.Config()
	q := r.URL.Query()
	if q.Get("error") != "" {
		http.Redirect(w, r, cfg.OAuth.FailureRedirect, http.StatusFound)
		return
	}

	res, err := s.engine.CompleteOAuth(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		if errors.Is(err, authcore.ErrProviderNotConfigured) {
			s.fail(w, r, err)
			return
		}
		s.logger.WarnContext(r.Context(), "oauth callback failed", "error", err)
		http.Redirect(w, r, cfg.OAuth.FailureRedirect, http.StatusFound)
		return
	}

	s.setTokenCookie(w, res.Token)
	if res.SessionID != "" {
		s.setSessionCookie(w, res.SessionID)
	}

	target := strings.TrimRight(cfg.OAuth.CORSOrigin, "/") + "/dashboard?token=" + url.QueryEscape(res.Token)
	http.Redirect(w, r, target, http.StatusFound)
}

// decode reads a JSON body; a malformed one is answered with 400.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, r, fmt.Errorf("%w: malformed request body", authcore.ErrInvalidInput))
		return false
	}
	return true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := middleware.Status(err)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err,
			"code", authcore.ErrorCode(err),
		)
	}
	middleware.WriteError(w, err, s.engine.Config().IsDevelopment())
}
