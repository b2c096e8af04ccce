package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for go2wb.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Driver    DriverConfig    `yaml:"driver"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Links     []LinkConfig    `yaml:"links"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// SubscribeQoS is the QoS requested for the base subscription.
	SubscribeQoS int `yaml:"subscribe_qos"`

	// BaseTopic is the wide broker subscription that feeds every route.
	// It must cover /devices/+/controls/+ for the value registry to fill.
	// Session subscriptions it does not cover get their own broker filter.
	BaseTopic string `yaml:"base_topic"`

	// QueueSize is the inbound backlog between paho and the run loop above
	// which a warning is logged. The queue itself never drops messages.
	QueueSize int `yaml:"queue_size"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`

	// CAFile is a PEM bundle used instead of the system roots when TLS is on.
	CAFile string `yaml:"ca_file"`
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

// DriverConfig describes how virtual devices identify themselves.
type DriverConfig struct {
	// Name is published as "driver" in every virtual device's meta topic.
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite settings for the control value journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how long journal rows are kept, in hours. 0 keeps everything.
	Retention int `yaml:"retention"`
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

// APIConfig contains HTTP inspection API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DeviceConfig declares a virtual device created at startup.
type DeviceConfig struct {
	ID       string          `yaml:"id"`
	Title    Title           `yaml:"title"`
	Controls []ControlConfig `yaml:"controls"`
}

// ControlConfig declares one control of a virtual device.
// Keys not listed here are collected in Extra and published unchanged.
type ControlConfig struct {
	Name     string         `yaml:"name"`
	Title    Title          `yaml:"title"`
	Type     string         `yaml:"type"`
	Default  any            `yaml:"default"`
	Order    *float64       `yaml:"order"`
	Readonly *bool          `yaml:"readonly"`
	Units    string         `yaml:"units"`
	Min      *float64       `yaml:"min"`
	Max      *float64       `yaml:"max"`
	Extra    map[string]any `yaml:",inline"`
}

// LinkConfig copies every value seen on From to To ("device/control" paths).
type LinkConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// Title is a language-code to text map. In YAML it may also be written as a
// plain string, which is stored under "en".
type Title map[string]string

// UnmarshalYAML accepts either a scalar or a mapping.
func (t *Title) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = Title{"en": node.Value}
		return nil
	}
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("title: %w", err)
	}
	*t = m
	return nil
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GO2WB_SECTION_KEY
// For example: GO2WB_MQTT_HOST, GO2WB_DATABASE_PATH
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS:          1,
			SubscribeQoS: 0,
			BaseTopic:    "#",
			QueueSize:    1024,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Driver: DriverConfig{
			Name: "go2wb",
		},
		Database: DatabaseConfig{
			Path:        "./data/go2wb.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("GO2WB_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GO2WB_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GO2WB_MQTT_CLIENT_ID"); v != "" {
		cfg.MQTT.Broker.ClientID = v
	}
	if v := os.Getenv("GO2WB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GO2WB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("GO2WB_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("GO2WB_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GO2WB_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.SubscribeQoS < 0 || c.MQTT.SubscribeQoS > 2 {
		errs = append(errs, "mqtt.subscribe_qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}

	if c.Driver.Name == "" {
		errs = append(errs, "driver.name is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.validateDevices()...)
	errs = append(errs, c.validateLinks()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevices checks the declared virtual devices.
func (c *Config) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool)

	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
		case strings.ContainsAny(d.ID, "/+#"):
			errs = append(errs, fmt.Sprintf("devices[%d].id %q must not contain '/', '+' or '#'", i, d.ID))
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is declared twice", i, d.ID))
		}
		seen[d.ID] = true

		for j, ctl := range d.Controls {
			if ctl.Name == "" || strings.ContainsAny(ctl.Name, "/+#") {
				errs = append(errs, fmt.Sprintf("devices[%d].controls[%d].name is missing or invalid", i, j))
			}
			if ctl.Type == "" {
				errs = append(errs, fmt.Sprintf("devices[%d].controls[%d].type is required", i, j))
			}
		}
	}

	return errs
}

// validateLinks checks that both ends of every link look like device/control.
func (c *Config) validateLinks() []string {
	var errs []string
	for i, l := range c.Links {
		if !isControlPath(l.From) {
			errs = append(errs, fmt.Sprintf("links[%d].from %q must be device/control", i, l.From))
		}
		if !isControlPath(l.To) || strings.Contains(l.To, "+") {
			errs = append(errs, fmt.Sprintf("links[%d].to %q must be device/control without wildcards", i, l.To))
		}
		if l.From == l.To {
			errs = append(errs, fmt.Sprintf("links[%d] links %q to itself", i, l.From))
		}
	}
	return errs
}

func isControlPath(s string) bool {
	parts := strings.Split(s, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
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

// GetRetention returns the journal retention as a Duration (0 = keep forever).
func (c *Config) GetRetention() time.Duration {
	return time.Duration(c.Database.Retention) * time.Hour
}
