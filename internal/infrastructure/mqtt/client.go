package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/config"
)

// defaultQueueSize is the backlog warning threshold used when cfg.QueueSize
// is not positive.
const defaultQueueSize = 1024

// Client wraps paho.mqtt.golang as a single-consumer broker session.
//
// Messages arriving on broker subscriptions are pushed onto one unbounded
// FIFO queue. Run drains that queue on the caller's goroutine and invokes every
// route whose pattern matches the topic, in registration order. Handlers
// therefore never run concurrently with each other.
//
// Thread Safety:
//   - Publish, Subscribe, OnMessage and RemoveHandler are safe for concurrent use.
//   - Subscriptions are restored on reconnection.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions tracks broker subscriptions (filter -> QoS) for restore on reconnect.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	// routes are local pattern handlers, matched in registration order.
	routes  []route
	routeMu sync.RWMutex

	inbound   *inboundQueue
	done      chan struct{}
	closeOnce sync.Once

	connected bool
	connMu    sync.RWMutex

	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Message is one inbound publish, as queued for the run loop.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// MessageHandler is the callback signature for routed messages.
//
// Handlers run on the goroutine that called Run. A returned error is logged
// and does not stop delivery to the remaining routes.
type MessageHandler func(topic string, payload []byte) error

type route struct {
	pattern string
	handler MessageHandler
}

// newClient builds an unconnected Client. Connect wires it to paho.
func newClient(cfg config.MQTTConfig) *Client {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Client{
		cfg:           cfg,
		subscriptions: make(map[string]byte),
		inbound:       newInboundQueue(size),
		done:          make(chan struct{}),
	}
}

// Connect establishes a connection to the MQTT broker.
//
// An empty client ID is replaced with "go2wb-<uuid>" so that several
// instances can share a broker.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = "go2wb-" + uuid.NewString()
	}

	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c := newClient(cfg)
	c.options = opts

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark connected now so that
	// IsConnected is true as soon as Connect returns.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return c, nil
}

// ClientID returns the client identifier used with the broker.
func (c *Client) ClientID() string {
	return c.cfg.Broker.ClientID
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked filters after reconnect.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for filter, qos := range c.subscriptions {
		c.client.Subscribe(filter, qos, c.enqueueHandler())
	}
}

// Close stops the run loop and disconnects from the broker.
// It is safe to call more than once.
func (c *Client) Close() error {
	if c.done != nil {
		c.closeOnce.Do(func() { close(c.done) })
	}

	if c.client == nil {
		return nil
	}

	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback invoked on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for dropped messages, handler errors and panics.
// If not set, they are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
