package mqtt

import (
	"fmt"
	"strings"
)

// maxPayloadSize caps a single publish at 1 MiB.
const maxPayloadSize = 1 << 20

// validTopicName reports whether topic may be published to: non-empty and
// free of the wildcard characters that are only legal in filters.
func validTopicName(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#\x00")
}

// Publish sends payload to topic and waits for the broker acknowledgment or
// the publish timeout. An empty retained payload erases the retained message.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	switch {
	case !validTopicName(topic):
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	case qos > maxQoS:
		return ErrInvalidQoS
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}
