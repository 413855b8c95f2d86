package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poker.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(defaultConfig(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
port: "9090"
log_format: json
allowed_origins: ["https://poker.example.com"]
store:
  driver: sqlite
  sqlite_path: /var/lib/poker.db
  poll_interval: 250ms
gateway:
  idle_timeout: 1m
`)
	t.Setenv("STORE_DRIVER", "badger")
	t.Setenv("STORE_BADGER_DIR", "/data/badger")
	t.Setenv("GATEWAY_COMMAND_BURST", "5")
	t.Setenv("EVENTS_NATS_URL", "nats://nats:4222")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	want := defaultConfig()
	want.Port = "9090"
	want.LogFormat = "json"
	want.AllowedOrigins = []string{"https://poker.example.com"}
	want.Store.Driver = "badger"
	want.Store.SQLitePath = "/var/lib/poker.db"
	want.Store.BadgerDir = "/data/badger"
	want.Store.PollInterval = 250 * time.Millisecond
	want.Gateway.IdleTimeout = time.Minute
	want.Gateway.CommandBurst = 5
	want.Events.NATSURL = "nats://nats:4222"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "store:\n  driver: redis\n"},
		{"unknown log format", "log_format: xml\n"},
		{"zero burst", "gateway:\n  command_burst: 0\n"},
		{"malformed yaml", "port: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
