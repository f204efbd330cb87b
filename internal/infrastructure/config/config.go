package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the powersensor daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Plug       PlugConfig       `yaml:"plug"`
	Household  HouseholdConfig  `yaml:"household"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the status panel from disk instead of the embedded
	// build. Empty uses the embedded assets.
	PanelDir string `yaml:"panel_dir"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DiscoveryConfig controls the mDNS browser that finds plugs on the LAN.
type DiscoveryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Service string `yaml:"service"`
	Domain  string `yaml:"domain"`

	// Interface restricts browsing to one network interface. Empty means all.
	Interface string `yaml:"interface"`

	// RemovalDebounce is how long (seconds) a service must stay gone before
	// the browser reports it removed. Filters mDNS goodbye/re-announce flaps.
	RemovalDebounce int `yaml:"removal_debounce"`

	// AddressMaxAge is how long (seconds) an address may go unannounced
	// before it is dropped from a plug's address set.
	AddressMaxAge int `yaml:"address_max_age"`
}

// DispatcherConfig contains device lifecycle timing.
type DispatcherConfig struct {
	// RemovalDebounce is the delay (seconds) before a plug that disappeared
	// from discovery is disconnected. Any message from the plug cancels it.
	RemovalDebounce int `yaml:"removal_debounce"`

	// PollInterval is the pending-add reconciliation period (seconds).
	PollInterval int `yaml:"poll_interval"`

	// DisconnectTimeout bounds each plug teardown (seconds).
	DisconnectTimeout int `yaml:"disconnect_timeout"`
}

// PlugConfig contains plug UDP client settings.
type PlugConfig struct {
	DefaultPort         int `yaml:"default_port"`
	ResubscribeInterval int `yaml:"resubscribe_interval"`
	ReadBuffer          int `yaml:"read_buffer"`
}

// HouseholdConfig toggles the virtual household aggregation.
type HouseholdConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: POWERSENSOR_SECTION_KEY
// For example: POWERSENSOR_DATABASE_PATH, POWERSENSOR_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/powersensor.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "powersensor-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Discovery: DiscoveryConfig{
			Enabled:         true,
			Service:         "_powersensor._udp",
			Domain:          "local.",
			RemovalDebounce: 2,
			AddressMaxAge:   600,
		},
		Dispatcher: DispatcherConfig{
			RemovalDebounce:   60,
			PollInterval:      5,
			DisconnectTimeout: 5,
		},
		Plug: PlugConfig{
			DefaultPort:         49476,
			ResubscribeInterval: 60,
			ReadBuffer:          4096,
		},
		Household: HouseholdConfig{
			Enabled: true,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: POWERSENSOR_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POWERSENSOR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("POWERSENSOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("POWERSENSOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("POWERSENSOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("POWERSENSOR_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("POWERSENSOR_PANEL_DIR"); v != "" {
		cfg.API.PanelDir = v
	}

	if v := os.Getenv("POWERSENSOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("POWERSENSOR_DISCOVERY_INTERFACE"); v != "" {
		cfg.Discovery.Interface = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Discovery.Enabled && c.Discovery.Service == "" {
		errs = append(errs, "discovery.service is required when discovery is enabled")
	}
	if c.Discovery.RemovalDebounce < 0 {
		errs = append(errs, "discovery.removal_debounce cannot be negative")
	}
	if c.Discovery.AddressMaxAge < 0 {
		errs = append(errs, "discovery.address_max_age cannot be negative")
	}

	if c.Dispatcher.RemovalDebounce < 0 {
		errs = append(errs, "dispatcher.removal_debounce cannot be negative")
	}
	if c.Dispatcher.PollInterval < 1 {
		errs = append(errs, "dispatcher.poll_interval must be at least 1 second")
	}

	if c.Plug.DefaultPort < 1 || c.Plug.DefaultPort > 65535 {
		errs = append(errs, "plug.default_port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// RemovalDelay returns the dispatcher removal debounce as a Duration.
func (d DispatcherConfig) RemovalDelay() time.Duration {
	return time.Duration(d.RemovalDebounce) * time.Second
}

// Poll returns the reconciliation poll interval as a Duration.
func (d DispatcherConfig) Poll() time.Duration {
	return time.Duration(d.PollInterval) * time.Second
}

// TeardownTimeout returns the per-plug disconnect timeout as a Duration.
func (d DispatcherConfig) TeardownTimeout() time.Duration {
	return time.Duration(d.DisconnectTimeout) * time.Second
}
