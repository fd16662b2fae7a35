package server

import (
	"net/http"
)

func (s *Server) setTokenCookie(w http.ResponseWriter, token string) {
	cfg := s.engine.Config()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Cookie.TokenName,
		Value:    token,
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		MaxAge:   int(s.engine.TokenTTL().Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sid string) {
	cfg := s.engine.Config()
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Session.CookieName,
		Value:    sid,
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		MaxAge:   int(cfg.Session.TTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: s.sessionSameSite(),
	})
}

// sessionSameSite is None in production so the cross-site frontend can send
// the cookie; browsers require Secure with it.
func (s *Server) sessionSameSite() http.SameSite {
	if s.engine.Config().IsProduction() {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (s *Server) clearCookie(w http.ResponseWriter, name string, sameSite http.SameSite) {
	cfg := s.engine.Config()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     cfg.Cookie.Path,
		Domain:   cfg.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: sameSite,
	})
}
