package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe asks the broker for messages matching filter. Matching messages
// are queued for Run; they reach code only through routes added with OnMessage.
//
// Subscriptions are tracked and restored on reconnection. Subscribing to the
// same filter twice only updates its QoS.
func (c *Client) Subscribe(filter string, qos byte) error {
	if filter == "" || !ValidFilter(filter) {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[filter] = qos
	c.subMu.Unlock()

	token := c.client.Subscribe(filter, qos, c.enqueueHandler())
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forgetSubscription(filter)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forgetSubscription(filter)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// Unsubscribe removes a broker subscription. Messages already queued are
// still delivered.
func (c *Client) Unsubscribe(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forgetSubscription(filter)

	token := c.client.Unsubscribe(filter)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

func (c *Client) forgetSubscription(filter string) {
	c.subMu.Lock()
	delete(c.subscriptions, filter)
	c.subMu.Unlock()
}

// enqueueHandler adapts paho deliveries onto the inbound queue.
func (c *Client) enqueueHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.enqueue(Message{
			Topic:    msg.Topic(),
			Payload:  msg.Payload(),
			Retained: msg.Retained(),
		})
	}
}

// enqueue pushes msg onto the inbound queue without blocking paho's router.
// Messages are never dropped; a growing backlog is logged once each time it
// passes cfg.QueueSize.
func (c *Client) enqueue(msg Message) {
	backlog, crossed := c.inbound.push(msg)
	if !crossed {
		return
	}
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT inbound backlog above queue_size",
			"topic", msg.Topic,
			"backlog", backlog,
			"queue_size", c.inbound.warnAt,
		)
	}
}
