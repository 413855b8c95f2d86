// Package dbconfig builds the Postgres connection URL for the SQL store
// from DB_* environment variables.
package dbconfig

import (
	"net"
	"net/url"
	"os"
	"strconv"
)

// Config holds Postgres connection settings.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout int // seconds; 0 leaves the driver default
	AppName        string
}

// NewConfigFromEnv reads DB_* environment variables. Unset or malformed
// values fall back to a local development database.
func NewConfigFromEnv() Config {
	return Config{
		Host:           getEnv("DB_HOST", "localhost"),
		Port:           getEnvInt("DB_PORT", 5432),
		User:           getEnv("DB_USER", "postgres"),
		Password:       getEnv("DB_PASSWORD", "postgres"),
		Database:       getEnv("DB_NAME", "planningpoker"),
		SSLMode:        getEnv("DB_SSLMODE", "disable"),
		ConnectTimeout: getEnvInt("DB_CONNECT_TIMEOUT", 5),
		AppName:        getEnv("DB_APP_NAME", "planningpoker"),
	}
}

func (c Config) url() *url.URL {
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(c.ConnectTimeout))
	}
	if c.AppName != "" {
		q.Set("application_name", c.AppName)
	}
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
}

// DSN returns the Postgres connection URL, accepted by both lib/pq and pgx.
func (c Config) DSN() string { return c.url().String() }

// Redacted is DSN with the password masked, for logs.
func (c Config) Redacted() string { return c.url().Redacted() }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
