// Package config loads the reference server's configuration from a .env
// file or process environment, using cleanenv for parsing/defaults and
// go-playground/validator for bound checks.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is cmd/shielddemo's configuration: the Shield constructor
// parameters plus the demo HTTP server and upstream transport knobs.
type Config struct {
	Port int `env:"SHIELD_PORT" env-default:"8085" validate:"min=1,max=65535"`

	DefaultLimit  int           `env:"SHIELD_DEFAULT_LIMIT" env-default:"100" validate:"min=1"`
	DefaultWindow time.Duration `env:"SHIELD_DEFAULT_WINDOW" env-default:"1m"`
	DefaultKind   string        `env:"SHIELD_DEFAULT_KIND" env-default:"token_bucket" validate:"oneof=token_bucket leaky_bucket sliding_window adaptive_window"`

	MonitorInterval  time.Duration `env:"SHIELD_MONITOR_INTERVAL" env-default:"30s"`
	MetricsRetention time.Duration `env:"SHIELD_METRICS_RETENTION" env-default:"10m"`
	AutoAdapt        bool          `env:"SHIELD_AUTO_ADAPT" env-default:"true"`

	MetricsEnabled bool `env:"SHIELD_ENABLE_METRICS" env-default:"true"`
	PprofEnabled   bool `env:"SHIELD_ENABLE_PPROF" env-default:"false"`

	Server   ServerConfig
	Upstream UpstreamConfig
}

// ServerConfig holds the demo HTTP server's listener timeouts.
type ServerConfig struct {
	ReadHeaderTimeout time.Duration `env:"SHIELD_SERVER_READ_HEADER_TIMEOUT" env-default:"10s"`
	ReadTimeout       time.Duration `env:"SHIELD_SERVER_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout      time.Duration `env:"SHIELD_SERVER_WRITE_TIMEOUT" env-default:"30s"`
	IdleTimeout       time.Duration `env:"SHIELD_SERVER_IDLE_TIMEOUT" env-default:"90s"`
	ShutdownTimeout   time.Duration `env:"SHIELD_SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// UpstreamConfig holds the demo's outbound transport knobs.
type UpstreamConfig struct {
	URL                   string        `env:"SHIELD_UPSTREAM_URL" env-default:"http://localhost:9090"`
	RequestTimeout        time.Duration `env:"SHIELD_UPSTREAM_REQUEST_TIMEOUT" env-default:"15s"`
	MaxIdleConns          int           `env:"SHIELD_UPSTREAM_MAX_IDLE_CONNS" env-default:"256"`
	MaxIdleConnsPerHost   int           `env:"SHIELD_UPSTREAM_MAX_IDLE_CONNS_PER_HOST" env-default:"128"`
	IdleConnTimeout       time.Duration `env:"SHIELD_UPSTREAM_IDLE_CONN_TIMEOUT" env-default:"90s"`
	DialTimeout           time.Duration `env:"SHIELD_UPSTREAM_DIAL_TIMEOUT" env-default:"5s"`
	TLSHandshakeTimeout   time.Duration `env:"SHIELD_UPSTREAM_TLS_HANDSHAKE_TIMEOUT" env-default:"10s"`
	ResponseHeaderTimeout time.Duration `env:"SHIELD_UPSTREAM_RESPONSE_HEADER_TIMEOUT" env-default:"15s"`
	MaxRetries            int           `env:"SHIELD_UPSTREAM_MAX_RETRIES" env-default:"2" validate:"min=0,max=10"`
}

// Load reads .env (if present) then the process environment into a
// Config, applying cleanenv defaults, and validates bounds. A missing
// .env file is not an error; an invalid or out-of-bounds value is.
func Load() (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil {
		// No .env file: fall through to reading straight from the
		// process environment.
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return Config{}, fmt.Errorf("config: reading environment: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: reading environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}
