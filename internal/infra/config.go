// Package infra handles configuration loading and infrastructure wiring.
package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/events"
)

// Config is the top-level configuration structure for refdesk.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Staging  StagingConfig  `yaml:"staging"`
	Security SecurityConfig `yaml:"security"`
	Events   events.Config  `yaml:"events"`

	// Datasets declared here extend (or override) the built-in presets.
	Datasets []dataset.Dataset `yaml:"datasets"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`          // default ":8080"
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // default 30s, uploads are slow
	WriteTimeout time.Duration `yaml:"write_timeout"` // default 30s
}

// RedisConfig is a minimal Redis connection spec.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // host:port
	Password string `yaml:"password"` // empty = no auth
	DB       int    `yaml:"db"`       // 0-based
}

// DatabaseConfig selects the relational backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres | mysql | sqlserver
	DSN    string `yaml:"dsn"`
}

// StagingConfig tunes the upload session store.
type StagingConfig struct {
	TTL time.Duration `yaml:"ttl"` // default 1h
}

// SecurityConfig holds the API shared secret.
type SecurityConfig struct {
	APIToken string `yaml:"api_token"` // override via REFDESK_API_TOKEN
}

// LoadConfig reads and validates the YAML config at path, applying defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	// Defaults
	cfg.Server.Addr = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Redis.Addr = "localhost:6379"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "refdesk.db"
	cfg.Staging.TTL = time.Hour

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}

	// API_TOKEN: config file takes precedence; env var is the fallback
	if cfg.Security.APIToken == "" {
		if s := os.Getenv("REFDESK_API_TOKEN"); s != "" {
			cfg.Security.APIToken = s
		} else {
			return nil, fmt.Errorf("config: security.api_token is required (or set REFDESK_API_TOKEN)")
		}
	}
	return cfg, nil
}
