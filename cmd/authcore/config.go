package main

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/neaweb/authcore"
)

// envPrefix selects the environment variables read into the config. Nested
// keys are separated by a double underscore: AUTHCORE_RATE_LIMIT__MAX.
const envPrefix = "AUTHCORE_"

const (
	flagConfig      = "config"
	flagAddr        = "addr"
	flagEnvironment = "env"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
	flagStore       = "store"
	flagDatabaseURL = "database-url"
	flagRedisAddr   = "redis-addr"
)

// flagKeys maps command-line flags onto config keys. Flags missing here are
// not config values.
var flagKeys = map[string]string{
	flagAddr:        "server.addr",
	flagEnvironment: "environment",
	flagLogLevel:    "log.level",
	flagLogFormat:   "log.format",
	flagStore:       "database.driver",
	flagDatabaseURL: "database.url",
	flagRedisAddr:   "redis.addr",
}

const (
	driverPostgres = "postgres"
	driverMemory   = "memory"
)

type appConfig struct {
	authcore.Config `koanf:",squash"`

	Server   serverConfig   `koanf:"server"`
	Log      logConfig      `koanf:"log"`
	Redis    redisConfig    `koanf:"redis"`
	Database databaseConfig `koanf:"database"`
}

type serverConfig struct {
	Addr            string        `koanf:"addr"`
	Prefix          string        `koanf:"prefix"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type logConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type redisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type databaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `koanf:"driver"`
	URL    string `koanf:"url"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		Config: authcore.DefaultConfig(),
		Server: serverConfig{
			Addr:            ":5000",
			Prefix:          "/api/auth",
			ShutdownTimeout: 15 * time.Second,
		},
		Log: logConfig{
			Format: "json",
			Level:  "info",
		},
		Redis: redisConfig{
			Addr: "localhost:6379",
		},
		Database: databaseConfig{
			Driver: driverPostgres,
		},
	}
}

// validate checks the process settings; the auth settings are checked by
// the engine builder.
func (c appConfig) validate() error {
	switch c.Database.Driver {
	case driverPostgres:
		if c.Database.URL == "" {
			return oops.Code("CONFIG_INVALID").Errorf("database.url is required for the postgres store")
		}
	case driverMemory:
	default:
		return oops.Code("CONFIG_INVALID").Errorf("database.driver must be %q or %q, got %q", driverPostgres, driverMemory, c.Database.Driver)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}

// loadConfig layers defaults, the YAML file at path, AUTHCORE_* environment
// variables and explicitly set flags, in that order.
func loadConfig(path string, flags *pflag.FlagSet) (appConfig, error) {
	cfg := defaultAppConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return cfg, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if flags != nil {
		// A nil koanf instance makes posflag skip flags left at their default.
		provider := posflag.ProviderWithFlag(flags, ".", nil, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return cfg, oops.Code("CONFIG_INVALID").Wrap(err)
		}
	}

	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return cfg, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func loadCommandConfig(cmd *cobra.Command) (appConfig, error) {
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return appConfig{}, err
	}
	return loadConfig(path, cmd.Flags())
}
