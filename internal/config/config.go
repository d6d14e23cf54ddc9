// Package config loads the service's configuration once at startup
// into an explicit value. There is no package-level settings singleton
// anywhere in this service: every component that needs configuration
// receives the values it uses from the loaded Config at construction.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every recognized environment option.
type Config struct {
	AppName string `env:"APP_NAME" envDefault:"wallet-ledger"`
	Env     string `env:"ENVIRONMENT" envDefault:"development"`
	Host    string `env:"HOST" envDefault:"0.0.0.0"`
	Port    int    `env:"PORT" envDefault:"8080"`

	DatabaseURL             string `env:"DATABASE_URL,required"`
	DBConnectTimeoutSeconds int    `env:"DB_CONNECT_TIMEOUT_SECONDS" envDefault:"3"`
	DBMaxConns              int    `env:"DB_MAX_CONNS" envDefault:"0"` // 0 => derive from GOMAXPROCS
	DBMinConns              int    `env:"DB_MIN_CONNS" envDefault:"1"`

	JWTSecret     string   `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	JWTAudience   string   `env:"JWT_AUDIENCE" envDefault:"wallet-ledger"`
	JWTAlgorithms []string `env:"JWT_ALGORITHMS" envSeparator:"," envDefault:"HS256"`

	DefaultAsset   string `env:"DEFAULT_ASSET" envDefault:"USD"`
	SystemWalletID string `env:"SYSTEM_WALLET_ID" envDefault:"00000000-0000-0000-0000-000000000001"`

	// AllowStaleReads is a forward-compatibility reservation: no read
	// path branches on it. It exists so a future stale-read fallback can
	// be introduced without a config schema change.
	AllowStaleReads bool `env:"ALLOW_STALE_READS" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	HTTPMaxInflight int `env:"HTTP_MAX_INFLIGHT" envDefault:"64"`

	OtelEnabled             bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OtelServiceName         string `env:"OTEL_SERVICE_NAME" envDefault:"wallet-ledger"`
	OtelExporterOTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"http://localhost:4318"`
}

// Load reads Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }
func (c *Config) IsProduction() bool  { return c.Env == "production" }
