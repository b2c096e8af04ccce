package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds the wait for a publish, subscribe or
	// unsubscribe acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2
)

// brokerURL returns tcp://host:port, or ssl://host:port with TLS enabled.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// tlsConfig returns nil when TLS is off. With a CA file the broker
// certificate is verified against that bundle only.
func tlsConfig(b config.MQTTBrokerConfig) (*tls.Config, error) {
	if !b.TLS {
		return nil, nil
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12}
	if b.CAFile == "" {
		return tc, nil
	}

	pem, err := os.ReadFile(b.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA file %s contains no certificates", b.CAFile)
	}
	tc.RootCAs = pool
	return tc, nil
}

// clientOptions maps the mqtt config section onto paho options.
//
// SetOrderMatters keeps paho delivering to the enqueue handler one message
// at a time, so the inbound queue preserves broker order. The session is
// clean: subscriptions are restored by handleConnect, not by the broker.
func clientOptions(cfg config.MQTTConfig) (*pahomqtt.ClientOptions, error) {
	tc, err := tlsConfig(cfg.Broker)
	if err != nil {
		return nil, err
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if tc != nil {
		opts.SetTLSConfig(tc)
	}
	return opts, nil
}
