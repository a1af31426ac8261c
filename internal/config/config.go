// Package config loads application configuration from defaults, an optional
// YAML file, and environment variables (in that order of precedence).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix for environment variable overrides,
// e.g. LEDGER_DATABASE_URL maps to database.url.
const envPrefix = "LEDGER_"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	CORS      CORSConfig      `koanf:"cors"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CORSConfig contains CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// RateLimitConfig contains API rate limiting settings.
type RateLimitConfig struct {
	Enabled bool    `koanf:"enabled"`
	RPS     float64 `koanf:"rps"`
	Burst   int     `koanf:"burst"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":                "0.0.0.0",
		"server.port":                "8080",
		"server.metrics_port":        "9090",
		"server.read_timeout":        "15s",
		"server.read_header_timeout": "5s",
		"server.write_timeout":       "15s",
		"server.idle_timeout":        "60s",
		"database.url":               "",
		"database.max_open_conns":    10,
		"database.max_idle_conns":    2,
		"database.conn_max_lifetime": "30m",
		"database.connect_timeout":   "30s",
		"database.connect_attempts":  5,
		"log.level":                  "info",
		"log.format":                 "json",
		"cors.allowed_origins":       []string{"*"},
		"rate_limit.enabled":         false,
		"rate_limit.rps":             50.0,
		"rate_limit.burst":           100,
	}
}

// Load reads configuration. configPath may be empty, in which case only
// defaults and environment variables apply.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", configPath, err)
			}
		}
	}

	// LEDGER_DATABASE_URL -> database.url; single underscore separates
	// section from key, so section names themselves use no underscores
	// except known compound keys handled by the replacer below.
	if err := k.Load(env.Provider(envPrefix, ".", envToKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url is required (set LEDGER_DATABASE_URL)")
	}

	return &cfg, nil
}

// envToKey maps LEDGER_SERVER_READ_TIMEOUT to server.read_timeout: the
// first underscore splits the section, the rest stay as the key.
func envToKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	// rate_limit is the one two-word section
	if parts[0] == "rate" && strings.HasPrefix(parts[1], "limit_") {
		return "rate_limit." + strings.TrimPrefix(parts[1], "limit_")
	}
	return parts[0] + "." + parts[1]
}
