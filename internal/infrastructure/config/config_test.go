package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.lan"
    port: 1883
    client_id: "test-client"
  qos: 1
dispatcher:
  removal_debounce: 30
  poll_interval: 2
plug:
  default_port: 49476
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.lan" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.lan")
	}
	if got := cfg.Dispatcher.RemovalDelay(); got != 30*time.Second {
		t.Errorf("RemovalDelay() = %v, want 30s", got)
	}
	if got := cfg.Dispatcher.Poll(); got != 2*time.Second {
		t.Errorf("Poll() = %v, want 2s", got)
	}
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Plug.DefaultPort != 49476 {
		t.Errorf("Plug.DefaultPort = %d, want 49476", cfg.Plug.DefaultPort)
	}
	if cfg.Dispatcher.RemovalDebounce != 60 {
		t.Errorf("Dispatcher.RemovalDebounce = %d, want 60", cfg.Dispatcher.RemovalDebounce)
	}
	if cfg.Dispatcher.PollInterval != 5 {
		t.Errorf("Dispatcher.PollInterval = %d, want 5", cfg.Dispatcher.PollInterval)
	}
	if cfg.Discovery.Service != "_powersensor._udp" {
		t.Errorf("Discovery.Service = %q, want _powersensor._udp", cfg.Discovery.Service)
	}
	if cfg.Discovery.AddressMaxAge != 600 {
		t.Errorf("Discovery.AddressMaxAge = %d, want 600", cfg.Discovery.AddressMaxAge)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "database:\n  path: /from/file.db\n")

	t.Setenv("POWERSENSOR_DATABASE_PATH", "/from/env.db")
	t.Setenv("POWERSENSOR_MQTT_HOST", "env-broker")
	t.Setenv("POWERSENSOR_DISCOVERY_INTERFACE", "eth1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/from/env.db" {
		t.Errorf("Database.Path = %q, want /from/env.db", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q, want env-broker", cfg.MQTT.Broker.Host)
	}
	if cfg.Discovery.Interface != "eth1" {
		t.Errorf("Discovery.Interface = %q, want eth1", cfg.Discovery.Interface)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path is required",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name: "influx enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = ""
			},
			wantErr: "influxdb.url",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Dispatcher.PollInterval = 0 },
			wantErr: "dispatcher.poll_interval",
		},
		{
			name:    "negative removal debounce",
			mutate:  func(c *Config) { c.Dispatcher.RemovalDebounce = -1 },
			wantErr: "dispatcher.removal_debounce",
		},
		{
			name:    "negative address max age",
			mutate:  func(c *Config) { c.Discovery.AddressMaxAge = -1 },
			wantErr: "discovery.address_max_age",
		},
		{
			name:    "discovery without service",
			mutate:  func(c *Config) { c.Discovery.Service = "" },
			wantErr: "discovery.service",
		},
		{
			name:    "bad plug port",
			mutate:  func(c *Config) { c.Plug.DefaultPort = 70000 },
			wantErr: "plug.default_port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = ""
	cfg.API.Port = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want errors")
	}
	if !strings.Contains(err.Error(), "database.path") || !strings.Contains(err.Error(), "api.port") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := Default()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.Dispatcher.TeardownTimeout(); got != 5*time.Second {
		t.Errorf("TeardownTimeout() = %v, want 5s", got)
	}
}
