package wb

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Broker is the MQTT session the core drives. mqtt.Client implements it
// through a small adapter.
//
// OnMessage routes must be matched by the broker with MQTT wildcard rules
// and invoked from Run, one message at a time, in arrival order. Routes and
// broker subscriptions are independent: a route only sees messages that
// some Subscribe filter delivers.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(pattern string, qos byte) error
	Unsubscribe(pattern string) error
	OnMessage(pattern string, handler MessageHandler)
	RemoveHandler(pattern string)
	Run(ctx context.Context) error
	Close() error
}

// MessageHandler receives a message routed by the broker.
type MessageHandler func(topic string, payload []byte)

// Logger is the logging interface used by the session.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ControlCallback receives a decoded control message.
type ControlCallback func(device, control string, value Value)

// RawCallback receives a decoded message from a raw subscription.
type RawCallback func(topic string, value Value)

// ChangeObserver is told about every value recorded in the registry.
// source is SourceMQTT for broker messages and SourceDefault for the default
// value seeded when a virtual control is added.
type ChangeObserver func(path ControlPath, value Value, source string)

// Value sources passed to ChangeObserver.
const (
	SourceMQTT    = "mqtt"
	SourceDefault = "default"
)

// Options configures a Session.
type Options struct {
	// DriverName is published as "driver" in device meta.
	DriverName string

	// PublishQoS is used for every publish. Unlike DriverName and BaseTopic
	// it is taken as given, so the zero value publishes at QoS 0; start
	// from DefaultOptions for QoS 1.
	PublishQoS byte

	// SubscribeQoS is used for every broker subscription.
	SubscribeQoS byte

	// BaseTopic is the wide broker subscription made by NewSession. Session
	// subscriptions it does not cover get their own broker subscription.
	BaseTopic string

	Logger Logger

	// Diagnostics, if set, receives non-fatal conditions such as
	// ErrDuplicateDevice, ErrUnknownDevice and ErrMalformedTopic.
	Diagnostics func(error)
}

// DefaultOptions returns driver "go2wb", publish QoS 1, subscribe QoS 0 and
// base topic "#".
func DefaultOptions() Options {
	return Options{
		DriverName:   "go2wb",
		PublishQoS:   1,
		SubscribeQoS: 0,
		BaseTopic:    "#",
	}
}

// Session owns the value registry, the subscription table and the set of
// virtual devices, and drives a Broker.
//
// All state is guarded by one mutex. Callbacks and observers are invoked
// after it is released, so they may call any Session method; changes take
// effect for later messages.
type Session struct {
	broker      Broker
	opts        Options
	logger      Logger
	diagnostics func(error)

	mu        sync.Mutex
	registry  *Registry
	devices   map[string]*VirtualDevice
	order     []string
	routes    map[string]*route
	observers []ChangeObserver
	closed    bool
}

// NewSession arms the global control watcher and subscribes the base topic.
func NewSession(broker Broker, opts Options) (*Session, error) {
	if broker == nil {
		return nil, fmt.Errorf("wb: broker is required")
	}
	defaults := DefaultOptions()
	if opts.DriverName == "" {
		opts.DriverName = defaults.DriverName
	}
	if opts.BaseTopic == "" {
		opts.BaseTopic = defaults.BaseTopic
	}

	s := &Session{
		broker:      broker,
		opts:        opts,
		logger:      opts.Logger,
		diagnostics: opts.Diagnostics,
		registry:    NewRegistry(),
		devices:     make(map[string]*VirtualDevice),
		routes:      make(map[string]*route),
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}

	s.mu.Lock()
	err := s.addBinding(AllControlsPattern, binding{kind: bindGlobal})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := broker.Subscribe(opts.BaseTopic, opts.SubscribeQoS); err != nil {
		return nil, fmt.Errorf("%w: subscribing %q: %w", ErrTransport, opts.BaseTopic, err)
	}

	return s, nil
}

// Get returns the last known value of path, or Unknown and false.
func (s *Session) Get(path ControlPath) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Get(path)
}

// ListAll returns a snapshot of every known control value.
func (s *Session) ListAll() map[ControlPath]Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.ListAll()
}

// Set publishes value for path. For a virtual device the state topic is
// written, retained. For any other device the value is sent to the command
// topic, not retained, and the device decides whether to accept it.
func (s *Session) Set(path ControlPath, value Value) error {
	if err := checkConcrete(path); err != nil {
		return err
	}
	if !value.IsKnown() {
		return ErrInvalidValue
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	_, virtual := s.devices[path.Device]
	s.mu.Unlock()

	if virtual {
		return s.publish(ControlTopic(path.Device, path.Control), value.Encode(), true)
	}
	return s.publish(ControlCommandTopic(path.Device, path.Control), value.Encode(), false)
}

// PublishRaw publishes value to an arbitrary topic. An Unknown value is sent
// as an empty payload, which with retained set erases the topic.
func (s *Session) PublishRaw(topic string, value Value, retained bool) error {
	return s.publish(topic, value.Encode(), retained)
}

// AddObserver registers fn for every value recorded in the registry.
func (s *Session) AddObserver(fn ChangeObserver) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Run processes broker messages until ctx is cancelled or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	return s.broker.Run(ctx)
}

// Close removes every virtual device, drops all routes and closes the broker.
// Calling Close again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	removeErr := s.RemoveAllVirtualDevices()

	s.mu.Lock()
	s.closed = true
	for pattern := range s.routes {
		s.broker.RemoveHandler(pattern)
	}
	s.routes = make(map[string]*route)
	s.observers = nil
	s.mu.Unlock()

	return errors.Join(removeErr, s.broker.Close())
}

func (s *Session) publish(topic, payload string, retained bool) error {
	if err := s.broker.Publish(topic, []byte(payload), s.opts.PublishQoS, retained); err != nil {
		return fmt.Errorf("%w: publishing %q: %w", ErrTransport, topic, err)
	}
	return nil
}

// clear erases the retained message of topic.
func (s *Session) clear(topic string) error {
	return s.publish(topic, "", true)
}

// report logs a non-fatal condition and forwards it to Diagnostics.
// Must be called without s.mu held.
func (s *Session) report(err error) {
	s.logger.Warn("wb: operation ignored", "error", err)
	if s.diagnostics != nil {
		s.diagnostics(err)
	}
}

func (s *Session) notify(observers []ChangeObserver, path ControlPath, value Value, source string) {
	for _, fn := range observers {
		fn(path, value, source)
	}
}
