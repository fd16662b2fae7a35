// Package server exposes the authentication engine over HTTP/JSON.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/neaweb/authcore"
	"github.com/neaweb/authcore/middleware"
)

// DefaultPrefix is where the auth routes are mounted.
const DefaultPrefix = "/api/auth"

const maxBodyBytes = 1 << 20

// Server routes HTTP requests to an Engine.
type Server struct {
	engine   *authcore.Engine
	logger   *slog.Logger
	prefix   string
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// Option customises a Server.
type Option func(*Server)

// WithPrefix mounts the auth routes under prefix instead of DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(s *Server) { s.prefix = strings.TrimRight(prefix, "/") }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics exposes gatherer at /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = gatherer }
}

// New builds the route table.
func New(engine *authcore.Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		logger: slog.Default(),
		prefix: DefaultPrefix,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.engine
	p := s.prefix

	limited := func(route string, h http.HandlerFunc) http.Handler {
		return middleware.RateLimit(e, route)(h)
	}
	bearer := middleware.RequireBearer(e)

	s.mux.Handle("POST "+p+"/register", limited(authcore.RouteRegister, s.handleRegister))
	s.mux.Handle("POST "+p+"/login", limited(authcore.RouteLogin, s.handleLogin))
	s.mux.Handle("POST "+p+"/forgot-password", limited(authcore.RouteForgotPassword, s.handleForgotPassword))
	s.mux.Handle("POST "+p+"/reset-password", limited(authcore.RouteResetPassword, s.handleResetPassword))

	s.mux.Handle("GET "+p+"/me", bearer(http.HandlerFunc(s.handleMe)))
	s.mux.Handle("GET "+p+"/verify-admin", bearer(http.HandlerFunc(s.handleVerifyAdmin)))
	s.mux.Handle("GET "+p+"/admin/ping", middleware.Chain(
		bearer,
		middleware.RequireRole(e, authcore.RoleAdmin),
	)(http.HandlerFunc(s.handleAdminPing)))

	s.mux.HandleFunc("GET "+p+"/google", s.handleGoogle)
	s.mux.HandleFunc("GET "+p+"/google/callback", s.handleGoogleCallback)

	s.mux.Handle("GET "+p+"/session", middleware.RequireSession(e)(http.HandlerFunc(s.handleSession)))
	s.mux.HandleFunc("POST "+p+"/logout", s.handleLogout)

}

// Handler returns the full middleware chain. Health and metrics sit outside
// the global rate limit and CORS; everything else goes through both.
func (s *Server) Handler() http.Handler {
	cfg := s.engine.Config()
	api := middleware.Chain(
		middleware.SecureHeaders(cfg.IsProduction()),
		middleware.CORS(allowedOrigins(cfg)),
		middleware.RateLimit(s.engine, authcore.RouteGlobal),
	)(s.mux)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", s.handleHealth)
	if s.gatherer != nil {
		root.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	root.Handle("/", api)

	return middleware.RequestLogger(s.logger)(root)
}

// allowedOrigins lists the browser origins that call the API with
// credentials: the OAuth landing page and the reset page.
func allowedOrigins(cfg authcore.Config) []string {
	var origins []string
	for _, raw := range []string{cfg.OAuth.CORSOrigin, cfg.PasswordReset.FrontendURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			continue
		}
		origin := u.Scheme + "://" + u.Host
		if !slices.Contains(origins, origin) {
			origins = append(origins, origin)
		}
	}
	return origins
}

// ListenAndServe serves on addr until ctx ends, then drains in-flight
// requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return oops.With("addr", addr).Wrap(err)
	}
	return s.Serve(ctx, listener, shutdownTimeout)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("http server started", "addr", listener.Addr().String())

	select {
	case err := <-errCh:
		return oops.With("operation", "serve").Wrap(err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return oops.With("operation", "shutdown_http_server").Wrap(err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
