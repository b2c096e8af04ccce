package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/config"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/logging"
	"github.com/aadegtyarev/go2wb/internal/infrastructure/mqtt"
	"github.com/aadegtyarev/go2wb/internal/wb"
)

// loopbackBroker delivers every publish back to the matching handlers on Drain.
type loopbackBroker struct {
	mu       sync.Mutex
	routes   map[string]wb.MessageHandler
	queue    [][2]string
	retained map[string]string
}

func newLoopbackBroker() *loopbackBroker {
	return &loopbackBroker{
		routes:   make(map[string]wb.MessageHandler),
		retained: make(map[string]string),
	}
}

func (b *loopbackBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if retained {
		b.retained[topic] = string(payload)
	}
	b.queue = append(b.queue, [2]string{topic, string(payload)})
	return nil
}

func (b *loopbackBroker) Subscribe(string, byte) error { return nil }

func (b *loopbackBroker) Unsubscribe(string) error { return nil }

func (b *loopbackBroker) OnMessage(pattern string, handler wb.MessageHandler) {
	b.mu.Lock()
	b.routes[pattern] = handler
	b.mu.Unlock()
}

func (b *loopbackBroker) RemoveHandler(pattern string) {
	b.mu.Lock()
	delete(b.routes, pattern)
	b.mu.Unlock()
}

func (b *loopbackBroker) Run(ctx context.Context) error {
	b.Drain()
	return ctx.Err()
}

func (b *loopbackBroker) Close() error { return nil }

func (b *loopbackBroker) Inject(topic, payload string) {
	b.mu.Lock()
	b.queue = append(b.queue, [2]string{topic, payload})
	b.mu.Unlock()
}

// Drain delivers queued messages, including ones published while draining.
// It gives up after a fixed number of deliveries so a feedback loop fails
// the test instead of hanging it.
func (b *loopbackBroker) Drain() int {
	delivered := 0
	for delivered < 1000 {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return delivered
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		var handlers []wb.MessageHandler
		for pattern, h := range b.routes {
			if mqtt.TopicMatches(pattern, msg[0]) {
				handlers = append(handlers, h)
			}
		}
		b.mu.Unlock()

		for _, h := range handlers {
			h(msg[0], []byte(msg[1]))
		}
		delivered++
	}
	return delivered
}

func newTestSession(t *testing.T) (*wb.Session, *loopbackBroker) {
	t.Helper()
	broker := newLoopbackBroker()
	sess, err := wb.NewSession(broker, wb.DefaultOptions())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	t.Cleanup(func() { sess.Close() }) //nolint:errcheck // Test cleanup
	return sess, broker
}

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("GO2WB_CONFIG", path)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("GO2WB_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_InvalidDevice(t *testing.T) {
	writeConfig(t, `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
devices:
  - id: heater
    controls:
      - name: power
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when a control has no type")
	}
}

func TestRun_MissingDatabasePath(t *testing.T) {
	writeConfig(t, `
database:
  enabled: true
  path: ""
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with empty database path")
	}
}

func TestRun_UnreachableBroker(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, `
database:
  enabled: true
  path: "`+filepath.Join(dir, "go2wb.db")+`"
mqtt:
  broker:
    host: "127.0.0.1"
    port: 19999
    client_id: "go2wb-test"
api:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Log("run() completed without error (a broker is listening on 19999)")
	} else {
		t.Logf("run() returned error (expected): %v", err)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("GO2WB_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("GO2WB_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestSessionOptions(t *testing.T) {
	cfg := &config.Config{
		Driver: config.DriverConfig{Name: "my-driver"},
		MQTT:   config.MQTTConfig{QoS: 2, SubscribeQoS: 1, BaseTopic: "/devices/#"},
	}

	opts := sessionOptions(cfg, logging.Discard())
	if opts.DriverName != "my-driver" || opts.PublishQoS != 2 || opts.SubscribeQoS != 1 || opts.BaseTopic != "/devices/#" {
		t.Errorf("sessionOptions() = %+v", opts)
	}
	if opts.Logger == nil || opts.Diagnostics == nil {
		t.Error("sessionOptions() should set Logger and Diagnostics")
	}
}

func TestControlSpec(t *testing.T) {
	readonly := false
	maxTemp := 40.0
	spec := controlSpec(config.ControlConfig{
		Name:     "setpoint",
		Title:    config.Title{"en": "Setpoint", "ru": "Уставка"},
		Type:     "range",
		Default:  21,
		Readonly: &readonly,
		Units:    "deg C",
		Max:      &maxTemp,
		Extra:    map[string]any{"precision": 0.5},
	})

	if spec.Name != "setpoint" || spec.Type != "range" || spec.Units != "deg C" {
		t.Errorf("controlSpec() = %+v", spec)
	}
	if !spec.Default.Equal(wb.IntValue(21)) {
		t.Errorf("Default = %v, want 21", spec.Default)
	}
	if spec.Title["ru"] != "Уставка" {
		t.Errorf("Title = %v", spec.Title)
	}
	if spec.IsReadonly() {
		t.Error("IsReadonly() = true, want false")
	}
	if spec.Max == nil || *spec.Max != 40 {
		t.Errorf("Max = %v, want 40", spec.Max)
	}
	if spec.Extra["precision"] != 0.5 {
		t.Errorf("Extra = %v", spec.Extra)
	}
}

func TestControlSpec_NoDefault(t *testing.T) {
	spec := controlSpec(config.ControlConfig{Name: "state", Type: "text"})
	if spec.Default.IsKnown() {
		t.Errorf("Default = %v, want unknown", spec.Default)
	}
}

func TestDeclareDevices(t *testing.T) {
	sess, broker := newTestSession(t)

	err := declareDevices(sess, []config.DeviceConfig{
		{
			ID:    "heater",
			Title: config.Title{"en": "Heater"},
			Controls: []config.ControlConfig{
				{Name: "power", Type: "switch", Default: 0},
				{Name: "temperature", Type: "temperature", Default: 20.5},
			},
		},
	})
	if err != nil {
		t.Fatalf("declareDevices() error = %v", err)
	}
	broker.Drain()

	if !sess.IsVirtual("heater") {
		t.Fatal("heater should be a virtual device")
	}
	if got := broker.retained[wb.ControlTopic("heater", "temperature")]; got != "20.5" {
		t.Errorf("retained temperature = %q, want %q", got, "20.5")
	}
	if v, ok := sess.Get(wb.Path("heater", "power")); !ok || !v.Equal(wb.IntValue(0)) {
		t.Errorf("Get(heater/power) = %v, %v", v, ok)
	}
}

func TestDeclareDevices_InvalidID(t *testing.T) {
	sess, _ := newTestSession(t)
	devices := []config.DeviceConfig{
		{ID: "heater/1", Controls: []config.ControlConfig{{Name: "power", Type: "switch"}}},
	}

	err := declareDevices(sess, devices)
	if !errors.Is(err, wb.ErrInvalidPath) {
		t.Fatalf("declareDevices() error = %v, want ErrInvalidPath", err)
	}
}

func TestBindLinks_Forwards(t *testing.T) {
	sess, broker := newTestSession(t)
	if err := declareDevices(sess, []config.DeviceConfig{
		{ID: "heater", Controls: []config.ControlConfig{{Name: "temperature", Type: "temperature"}}},
	}); err != nil {
		t.Fatalf("declareDevices() error = %v", err)
	}
	if err := bindLinks(sess, []config.LinkConfig{
		{From: "wb-msw_1/Temperature", To: "heater/temperature"},
		{From: "wb-msw_1/Temperature", To: "wb-mr6c_1/K1"},
	}, logging.Discard()); err != nil {
		t.Fatalf("bindLinks() error = %v", err)
	}

	broker.Inject(wb.ControlTopic("wb-msw_1", "Temperature"), "22.5")
	broker.Drain()

	if v, ok := sess.Get(wb.Path("heater", "temperature")); !ok || !v.Equal(wb.FloatValue(22.5)) {
		t.Errorf("Get(heater/temperature) = %v, %v, want 22.5", v, ok)
	}
	if got := broker.retained[wb.ControlTopic("heater", "temperature")]; got != "22.5" {
		t.Errorf("retained heater/temperature = %q, want 22.5", got)
	}
	if _, ok := broker.retained[wb.ControlCommandTopic("wb-mr6c_1", "K1")]; ok {
		t.Error("commands to foreign devices must not be retained")
	}
}

func TestBindLinks_CycleSettles(t *testing.T) {
	sess, broker := newTestSession(t)
	if err := declareDevices(sess, []config.DeviceConfig{
		{ID: "a", Controls: []config.ControlConfig{{Name: "x", Type: "value", Default: 0}}},
		{ID: "b", Controls: []config.ControlConfig{{Name: "y", Type: "value", Default: 0}}},
	}); err != nil {
		t.Fatalf("declareDevices() error = %v", err)
	}
	if err := bindLinks(sess, []config.LinkConfig{
		{From: "a/x", To: "b/y"},
		{From: "b/y", To: "a/x"},
	}, logging.Discard()); err != nil {
		t.Fatalf("bindLinks() error = %v", err)
	}
	broker.Drain()

	broker.Inject(wb.ControlTopic("a", "x"), "5")
	if n := broker.Drain(); n >= 1000 {
		t.Fatal("linked controls kept feeding each other")
	}

	for _, p := range []wb.ControlPath{wb.Path("a", "x"), wb.Path("b", "y")} {
		if v, ok := sess.Get(p); !ok || !v.Equal(wb.IntValue(5)) {
			t.Errorf("Get(%s) = %v, %v, want 5", p, v, ok)
		}
	}
}

func TestBindLinks_InvalidPath(t *testing.T) {
	sess, _ := newTestSession(t)

	tests := []config.LinkConfig{
		{From: "no-slash", To: "a/b"},
		{From: "a/b", To: "c"},
	}
	for _, l := range tests {
		if err := bindLinks(sess, []config.LinkConfig{l}, logging.Discard()); err == nil {
			t.Errorf("bindLinks(%+v) should fail", l)
		}
	}
}
