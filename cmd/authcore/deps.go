package main

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/neaweb/authcore"
	"github.com/neaweb/authcore/store/memory"
	"github.com/neaweb/authcore/store/postgres"
)

// deps holds the process-wide connections opened from config.
type deps struct {
	store authcore.CredentialStore
	redis *redis.Client

	closers []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// openDeps connects the credential store and, when withRedis is set and an
// address is configured, Redis.
func openDeps(ctx context.Context, cfg appConfig, logger *slog.Logger, withRedis bool) (*deps, error) {
	d := &deps{}

	switch cfg.Database.Driver {
	case driverMemory:
		logger.Warn("using in-memory credential store; accounts are lost on restart")
		d.store = memory.New()
	default:
		pool, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
		}
		d.closers = append(d.closers, pool.Close)
		d.store = postgres.New(pool)
		logger.Info("connected to database")
	}

	if withRedis && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			d.Close()
			return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		d.redis = client
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	return d, nil
}
