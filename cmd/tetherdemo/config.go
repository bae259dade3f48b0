package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/xraph/tether"
)

const envPrefix = "TETHER_"

// config is the demo configuration. Keys are dotted koanf paths.
//
// Precedence (highest to lowest):
//  1. Command-line flags (--child.delay=500ms)
//  2. Environment variables (TETHER_CHILD_DELAY=500ms)
//  3. Default values
type config struct {
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`

	Store string `koanf:"store"`

	// Audit logs every job lifecycle event.
	Audit bool `koanf:"audit"`

	Redis struct {
		Addr string `koanf:"addr"`
	} `koanf:"redis"`

	Postgres struct {
		DSN string `koanf:"dsn"`
	} `koanf:"postgres"`

	Parents int `koanf:"parents"`

	Child struct {
		Count       int           `koanf:"count"`
		Concurrency int           `koanf:"concurrency"`
		Delay       time.Duration `koanf:"delay"`
	} `koanf:"child"`

	Status struct {
		Interval time.Duration `koanf:"interval"`
	} `koanf:"status"`

	Engine struct {
		Concurrency   int           `koanf:"concurrency"`
		PollInterval  time.Duration `koanf:"poll_interval"`
		LeaseDuration time.Duration `koanf:"lease_duration"`
		RenewInterval time.Duration `koanf:"renew_interval"`
	} `koanf:"engine"`
}

func defaultsMap() map[string]any {
	def := tether.DefaultConfig()
	return map[string]any{
		"log.level":             "info",
		"store":                 "redis",
		"audit":                 false,
		"redis.addr":            "localhost:6379",
		"postgres.dsn":          "postgres://localhost:5432/tether",
		"parents":               2,
		"child.count":           25,
		"child.concurrency":     1,
		"child.delay":           "1s",
		"status.interval":       "10s",
		"engine.concurrency":    def.Concurrency,
		"engine.poll_interval":  def.PollInterval.String(),
		"engine.lease_duration": def.LeaseDuration.String(),
		"engine.renew_interval": def.LeaseRenewInterval.String(),
	}
}

// bindFlags defines the flags that override configuration keys.
func bindFlags(flags *pflag.FlagSet) {
	flags.String("log.level", "info", "Log level (debug, info, warn, error)")
	flags.String("store", "redis", "Store backend (memory, redis, postgres)")
	flags.Bool("audit", false, "Log every job lifecycle event")
	flags.String("redis.addr", "localhost:6379", "Redis address")
	flags.String("postgres.dsn", "postgres://localhost:5432/tether", "PostgreSQL connection string")
	flags.Int("parents", 2, "Number of parent jobs to add")
	flags.Int("child.count", 25, "Children per parent")
	flags.Int("child.concurrency", 1, "Concurrency of the child queue")
	flags.Duration("child.delay", time.Second, "Time each child sleeps")
	flags.Duration("status.interval", 10*time.Second, "Status print interval")
}

// loadConfig merges defaults, TETHER_* variables and changed flags.
func loadConfig(flags *pflag.FlagSet) (*config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Only the first underscore after the prefix becomes a dot:
	// TETHER_ENGINE_POLL_INTERVAL -> engine.poll_interval.
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps TETHER_SECTION_REST_OF_KEY to section.rest_of_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, rest, ok := strings.Cut(s, "_")
	if !ok {
		return section
	}
	return section + "." + rest
}

func (c *config) validate() error {
	switch c.Store {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("%w: unknown store %q", tether.ErrInvalidArgument, c.Store)
	}
	if c.Parents < 0 || c.Child.Count < 0 {
		return fmt.Errorf("%w: parent and child counts must not be negative", tether.ErrInvalidArgument)
	}
	if c.Child.Concurrency < 1 {
		return fmt.Errorf("%w: child concurrency must be at least 1", tether.ErrInvalidArgument)
	}
	if c.Status.Interval <= 0 {
		return fmt.Errorf("%w: status interval must be positive", tether.ErrInvalidArgument)
	}
	return nil
}

func (c *config) tetherConfig() tether.Config {
	tc := tether.DefaultConfig()
	tc.Concurrency = c.Engine.Concurrency
	tc.PollInterval = c.Engine.PollInterval
	tc.LeaseDuration = c.Engine.LeaseDuration
	tc.LeaseRenewInterval = c.Engine.RenewInterval
	return tc
}

func (c *config) logLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
