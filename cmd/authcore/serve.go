package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/neaweb/authcore"
	"github.com/neaweb/authcore/internal/logging"
	"github.com/neaweb/authcore/mail"
	"github.com/neaweb/authcore/server"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP auth service",
		Long: `Run the HTTP auth service until SIGINT or SIGTERM, then drain in-flight
requests for server.shutdown_timeout.`,
		RunE: runServe,
	}

	defaults := defaultAppConfig()
	f := cmd.Flags()
	f.String(flagAddr, defaults.Server.Addr, "HTTP listen address")
	f.String(flagEnvironment, defaults.Environment, "environment (development, test or production)")
	f.String(flagLogLevel, defaults.Log.Level, "log level (debug, info, warn, error)")
	f.String(flagLogFormat, defaults.Log.Format, "log format (json or text)")
	f.String(flagStore, defaults.Database.Driver, "credential store (postgres or memory)")
	f.String(flagDatabaseURL, "", "PostgreSQL connection string")
	f.String(flagRedisAddr, defaults.Redis.Addr, "Redis address (empty disables sessions and OAuth state)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadCommandConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	logger := logging.Setup(serviceName, version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := openDeps(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer d.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := buildEngine(cfg, d, logger, authcore.NewMetrics(registry))
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(context.Background()); err != nil {
			logger.Warn("audit drain incomplete", "error", err)
		}
	}()

	report := engine.SecurityReport()
	logger.Info("starting authcore",
		"addr", cfg.Server.Addr,
		"environment", cfg.Environment,
		"store", cfg.Database.Driver,
		"rate_limit_backend", report.RateLimitBackend,
		"sessions", report.SessionsActive,
		"oauth", report.OAuthActive,
		"password_reset", report.PasswordResetActive,
		"bcrypt_cost", report.PasswordCost,
	)
	if !report.RateLimitingActive {
		logger.Warn("rate limiting disabled")
	}

	srv := server.New(engine,
		server.WithPrefix(cfg.Server.Prefix),
		server.WithLogger(logger),
		server.WithMetrics(registry),
	)
	return srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout)
}

func buildEngine(cfg appConfig, d *deps, logger *slog.Logger, metrics *authcore.Metrics) (*authcore.Engine, error) {
	b := authcore.New().
		WithConfig(cfg.Config).
		WithStore(d.store).
		WithLogger(logger)
	if metrics != nil {
		b.WithMetrics(metrics)
	}
	if d.redis != nil {
		b.WithRedis(d.redis)
	}
	if cfg.Audit.Enabled {
		b.WithAuditSink(authcore.NewSlogSink(logger))
	}
	// Outside production a missing SMTP relay falls back to logging each
	// message, reset link included. Nothing is retained in memory.
	if !cfg.Mail.Configured() && !cfg.IsProduction() {
		b.WithMailer(mail.NewLogDispatcher(logger, mail.WithBodyLogging(), mail.WithRetention(0)))
	}

	engine, err := b.Build()
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "build engine").Wrap(err)
	}
	return engine, nil
}
