// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// The process exits if any field tagged "required" is missing.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration sourced from environment
// variables. The worker subprocess loads the same Config as the supervisor,
// so a spawned worker always agrees with its parent on queue settings.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────────
	DatabaseURL       string        `env:"DATABASE_URL,required"`
	DBMaxConns        int32         `env:"DB_MAX_CONNS"          envDefault:"10"`
	DBMaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Worker pool ──────────────────────────────────────────────────────────────
	MinWorkers   int           `env:"MIN_WORKERS"   envDefault:"2"`
	MaxWorkers   int           `env:"MAX_WORKERS"   envDefault:"8"`
	TickInterval time.Duration `env:"TICK_INTERVAL" envDefault:"5s"`
	// QueueBackoff is how long a worker sleeps after a queue miss before
	// asking for work again.
	QueueBackoff time.Duration `env:"QUEUE_BACKOFF" envDefault:"500ms"`
	// ControlTimeout bounds every stop/status round-trip against a worker's
	// control channel.
	ControlTimeout time.Duration `env:"CONTROL_TIMEOUT" envDefault:"5s"`
	// WorkerBin is the executable spawned for worker processes. Empty means
	// re-exec the current binary.
	WorkerBin string `env:"WORKER_BIN"`

	// ── Ops HTTP ─────────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":9620"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"30"`

	// ── Logging ──────────────────────────────────────────────────────────────────
	AppEnv    string `env:"APP_ENV"    envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing or the pool bounds
// are inconsistent.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.MinWorkers < 1 {
		return nil, fmt.Errorf("MIN_WORKERS must be at least 1, got %d", cfg.MinWorkers)
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		return nil, fmt.Errorf("MAX_WORKERS (%d) must be >= MIN_WORKERS (%d)",
			cfg.MaxWorkers, cfg.MinWorkers)
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
