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
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
mqtt:
  broker:
    host: "wirenboard.local"
    port: 1883
    client_id: "test-client"
  qos: 1
  base_topic: "/devices/#"
driver:
  name: "test-driver"
database:
  enabled: true
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  enabled: true
  host: "0.0.0.0"
  port: 8080
devices:
  - id: "my_device"
    title: "My Device"
    controls:
      - name: "temperature"
        type: "temperature"
        default: 21.5
        readonly: true
        order: 1
      - name: "switch"
        title:
          en: "Switch"
          ru: "Выключатель"
        type: "switch"
        default: 0
        precision: 0.1
links:
  - from: "wb-gpio/A1_IN"
    to: "my_device/switch"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "wirenboard.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "wirenboard.local")
	}
	if cfg.MQTT.BaseTopic != "/devices/#" {
		t.Errorf("MQTT.BaseTopic = %q, want %q", cfg.MQTT.BaseTopic, "/devices/#")
	}
	if cfg.Driver.Name != "test-driver" {
		t.Errorf("Driver.Name = %q, want %q", cfg.Driver.Name, "test-driver")
	}
	if len(cfg.Devices) != 1 {
		t.Fatalf("len(Devices) = %d, want 1", len(cfg.Devices))
	}

	dev := cfg.Devices[0]
	if dev.Title["en"] != "My Device" {
		t.Errorf("Devices[0].Title[en] = %q, want %q", dev.Title["en"], "My Device")
	}
	if len(dev.Controls) != 2 {
		t.Fatalf("len(Controls) = %d, want 2", len(dev.Controls))
	}
	if dev.Controls[0].Readonly == nil || !*dev.Controls[0].Readonly {
		t.Error("Controls[0].Readonly should be true")
	}
	if dev.Controls[0].Order == nil || *dev.Controls[0].Order != 1 {
		t.Error("Controls[0].Order should be 1")
	}
	if dev.Controls[1].Title["ru"] != "Выключатель" {
		t.Errorf("Controls[1].Title[ru] = %q", dev.Controls[1].Title["ru"])
	}
	if dev.Controls[1].Extra["precision"] != 0.1 {
		t.Errorf("Controls[1].Extra[precision] = %v, want 0.1", dev.Controls[1].Extra["precision"])
	}

	if len(cfg.Links) != 1 || cfg.Links[0].To != "my_device/switch" {
		t.Errorf("Links = %+v", cfg.Links)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
driver:
  name: ""
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "driver.name") {
		t.Errorf("error = %v, want mention of driver.name", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			modify: func(*Config) {},
		},
		{
			name:    "missing broker host",
			modify:  func(c *Config) { c.MQTT.Broker.Host = "" },
			wantErr: "mqtt.broker.host",
		},
		{
			name:    "broker port out of range",
			modify:  func(c *Config) { c.MQTT.Broker.Port = 70000 },
			wantErr: "mqtt.broker.port",
		},
		{
			name:    "publish qos out of range",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "subscribe qos out of range",
			modify:  func(c *Config) { c.MQTT.SubscribeQoS = -1 },
			wantErr: "mqtt.subscribe_qos",
		},
		{
			name:    "empty base topic",
			modify:  func(c *Config) { c.MQTT.BaseTopic = "" },
			wantErr: "mqtt.base_topic",
		},
		{
			name: "journal enabled without path",
			modify: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: "database.path",
		},
		{
			name:    "influxdb enabled without url",
			modify:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name: "api enabled with bad port",
			modify: func(c *Config) {
				c.API.Enabled = true
				c.API.Port = 0
			},
			wantErr: "api.port",
		},
		{
			name: "device without id",
			modify: func(c *Config) {
				c.Devices = []DeviceConfig{{}}
			},
			wantErr: "devices[0].id is required",
		},
		{
			name: "device id with slash",
			modify: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "a/b"}}
			},
			wantErr: "must not contain",
		},
		{
			name: "duplicate device id",
			modify: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "dev"}, {ID: "dev"}}
			},
			wantErr: "declared twice",
		},
		{
			name: "control without type",
			modify: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "dev", Controls: []ControlConfig{{Name: "x"}}}}
			},
			wantErr: "type is required",
		},
		{
			name: "link target with wildcard",
			modify: func(c *Config) {
				c.Links = []LinkConfig{{From: "a/b", To: "+/c"}}
			},
			wantErr: "links[0].to",
		},
		{
			name: "link to itself",
			modify: func(c *Config) {
				c.Links = []LinkConfig{{From: "dev/c", To: "dev/c"}}
			},
			wantErr: "to itself",
		},
		{
			name: "link source with wildcard is fine",
			modify: func(c *Config) {
				c.Links = []LinkConfig{{From: "+/b", To: "dev/c"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}

	cfg.Database.Retention = 48
	if got := cfg.GetRetention(); got != 48*time.Hour {
		t.Errorf("GetRetention() = %v, want 48h", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GO2WB_MQTT_HOST", "broker.example")
	t.Setenv("GO2WB_MQTT_PORT", "8883")
	t.Setenv("GO2WB_MQTT_CLIENT_ID", "env-client")
	t.Setenv("GO2WB_MQTT_USERNAME", "user")
	t.Setenv("GO2WB_MQTT_PASSWORD", "secret")
	t.Setenv("GO2WB_DATABASE_PATH", "/var/lib/go2wb.db")
	t.Setenv("GO2WB_API_HOST", "0.0.0.0")
	t.Setenv("GO2WB_INFLUXDB_TOKEN", "tok")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Host != "broker.example" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Broker.ClientID != "env-client" {
		t.Errorf("MQTT.Broker.ClientID = %q", cfg.MQTT.Broker.ClientID)
	}
	if cfg.MQTT.Auth.Username != "user" || cfg.MQTT.Auth.Password != "secret" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.Database.Path != "/var/lib/go2wb.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("API.Host = %q", cfg.API.Host)
	}
	if cfg.InfluxDB.Token != "tok" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	t.Setenv("GO2WB_MQTT_PORT", "not-a-port")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Driver.Name != "go2wb" {
		t.Errorf("Driver.Name = %q, want go2wb", cfg.Driver.Name)
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.MQTT.SubscribeQoS != 0 {
		t.Errorf("MQTT.SubscribeQoS = %d, want 0", cfg.MQTT.SubscribeQoS)
	}
	if cfg.MQTT.BaseTopic != "#" {
		t.Errorf("MQTT.BaseTopic = %q, want #", cfg.MQTT.BaseTopic)
	}
	if cfg.MQTT.QueueSize != 1024 {
		t.Errorf("MQTT.QueueSize = %d, want 1024", cfg.MQTT.QueueSize)
	}
	if cfg.Database.Enabled || cfg.InfluxDB.Enabled || cfg.API.Enabled {
		t.Error("optional components should be disabled by default")
	}
}

func TestTitle_UnmarshalScalar(t *testing.T) {
	content := `
devices:
  - id: "d"
    title: "Plain"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Devices[0].Title; len(got) != 1 || got["en"] != "Plain" {
		t.Errorf("Title = %v, want map[en:Plain]", got)
	}
}
