package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is read from an optional YAML file, then overridden by the
// environment.
type Config struct {
	Port           string   `yaml:"port" env:"PORT"`
	LogLevel       string   `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat      string   `yaml:"log_format" env:"LOG_FORMAT"` // json or console
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	Store   StoreConfig   `yaml:"store" envPrefix:"STORE_"`
	Events  EventsConfig  `yaml:"events" envPrefix:"EVENTS_"`
	Gateway GatewayConfig `yaml:"gateway" envPrefix:"GATEWAY_"`
}

type StoreConfig struct {
	// Driver is one of memory, sqlite, postgres, badger or nats.
	Driver       string        `yaml:"driver" env:"DRIVER"`
	SQLitePath   string        `yaml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN  string        `yaml:"postgres_dsn" env:"POSTGRES_DSN"` // falls back to DB_* settings
	BadgerDir    string        `yaml:"badger_dir" env:"BADGER_DIR"`
	NATSURL      string        `yaml:"nats_url" env:"NATS_URL"`
	NATSBucket   string        `yaml:"nats_bucket" env:"NATS_BUCKET"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

type EventsConfig struct {
	// NATSURL enables the JetStream activity feed. Empty logs events instead.
	NATSURL string        `yaml:"nats_url" env:"NATS_URL"`
	Stream  string        `yaml:"stream" env:"STREAM"`
	MaxAge  time.Duration `yaml:"max_age" env:"MAX_AGE"`
}

type GatewayConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	CommandRate  float64       `yaml:"command_rate" env:"COMMAND_RATE"`
	CommandBurst int           `yaml:"command_burst" env:"COMMAND_BURST"`
}

func defaultConfig() Config {
	return Config{
		Port:           "8080",
		LogLevel:       "info",
		LogFormat:      "console",
		AllowedOrigins: []string{"*"},
		Store: StoreConfig{
			Driver:       "memory",
			SQLitePath:   "planningpoker.db",
			BadgerDir:    "data/badger",
			NATSBucket:   "planning_poker",
			PollInterval: time.Second,
		},
		Events: EventsConfig{
			Stream: "POKER_EVENTS",
			MaxAge: 24 * time.Hour,
		},
		Gateway: GatewayConfig{
			IdleTimeout:  30 * time.Second,
			CommandRate:  10,
			CommandBurst: 20,
		},
	}
}

// loadConfig applies the YAML file at path (when it exists) and then the
// environment on top of the defaults.
func loadConfig(path string) (Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return Config{}, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "badger", "nats":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Gateway.CommandBurst < 1 {
		return fmt.Errorf("gateway command burst must be positive, got %d", c.Gateway.CommandBurst)
	}
	return nil
}
