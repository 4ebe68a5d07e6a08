// Package config loads the settlement service configuration: process
// settings from WAGER_* environment variables and the settlement policy
// from an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"WagerLedger/internal/persistence"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable name below.
const EnvPrefix = "WAGER_"

// Config holds process settings for wagerd.
type Config struct {
	DBDriver          string        `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN             string        `env:"DB_DSN"`
	SQLitePath        string        `env:"SQLITE_PATH" envDefault:"wager.db"`
	SQLiteBusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"5s"`
	LockTimeout       time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
	MaxOpenConns      int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	AutoMigrate       bool          `env:"AUTO_MIGRATE" envDefault:"true"`

	GRPCAddr    string `env:"GRPC_ADDR" envDefault:":9090"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9100"`

	// NATSURL empty disables event publishing and inbound ingestion.
	NATSURL              string  `env:"NATS_URL"`
	EventBufferSize      int     `env:"EVENT_BUFFER_SIZE" envDefault:"4096"`
	IngestBufferSize     int     `env:"INGEST_BUFFER_SIZE" envDefault:"256"`
	ArbitrationThreshold float64 `env:"ARBITRATION_CONFIDENCE" envDefault:"0.9"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"wagerd"`

	PolicyFile      string        `env:"POLICY_FILE"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix})
}

// LoadFrom reads Config from environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Config) Validate() error {
	dialect, err := persistence.ParseDialect(c.DBDriver)
	if err != nil {
		return err
	}
	if dialect == persistence.DialectPostgres && strings.TrimSpace(c.DBDSN) == "" {
		return fmt.Errorf("%sDB_DSN is required for the postgres driver", EnvPrefix)
	}
	if c.EventBufferSize <= 0 || c.IngestBufferSize <= 0 {
		return fmt.Errorf("buffer sizes must be positive")
	}
	if c.ArbitrationThreshold < 0 || c.ArbitrationThreshold > 1 {
		return fmt.Errorf("%sARBITRATION_CONFIDENCE must be in [0, 1], got %v", EnvPrefix, c.ArbitrationThreshold)
	}
	return nil
}

// Dialect returns the storage dialect for DBDriver.
func (c Config) Dialect() persistence.Dialect {
	d, _ := persistence.ParseDialect(c.DBDriver)
	return d
}

// DataSource returns the driver DSN. For SQLite an explicit DB_DSN wins over
// SQLITE_PATH.
func (c Config) DataSource() string {
	if c.Dialect() == persistence.DialectSQLite && c.DBDSN == "" {
		return persistence.SQLiteDSN(c.SQLitePath, c.SQLiteBusyTimeout)
	}
	return c.DBDSN
}
