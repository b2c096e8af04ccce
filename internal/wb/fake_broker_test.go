package wb

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/aadegtyarev/go2wb/internal/infrastructure/mqtt"
)

// fakeBroker is an in-memory broker for tests. It keeps retained messages,
// queues deliveries for its subscriptions and dispatches them on Drain with
// the same wildcard rules as the real client.
type fakeBroker struct {
	mu         sync.Mutex
	retained   map[string]string
	published  []publishedMsg
	queue      []publishedMsg
	routes     []fakeRoute
	subscribed []string

	failPublish   error
	failSubscribe error
	// failFilter, if set, is the only filter failSubscribe applies to.
	failFilter string
	closed     bool
}

type publishedMsg struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

type fakeRoute struct {
	pattern string
	handler MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{retained: make(map[string]string)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failPublish != nil {
		return b.failPublish
	}
	b.deliverLocked(publishedMsg{Topic: topic, Payload: string(payload), QoS: qos, Retained: retained})
	return nil
}

// Inject simulates a message published by another client.
func (b *fakeBroker) Inject(topic, payload string, retained bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverLocked(publishedMsg{Topic: topic, Payload: payload, Retained: retained})
}

func (b *fakeBroker) deliverLocked(m publishedMsg) {
	b.published = append(b.published, m)
	if m.Retained {
		if m.Payload == "" {
			delete(b.retained, m.Topic)
		} else {
			b.retained[m.Topic] = m.Payload
		}
	}
	for _, f := range b.subscribed {
		if mqtt.TopicMatches(f, m.Topic) {
			b.queue = append(b.queue, m)
			return
		}
	}
}

func (b *fakeBroker) Subscribe(pattern string, _ byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSubscribe != nil && (b.failFilter == "" || b.failFilter == pattern) {
		return b.failSubscribe
	}
	b.subscribed = append(b.subscribed, pattern)
	for topic, payload := range b.retained {
		if mqtt.TopicMatches(pattern, topic) {
			b.queue = append(b.queue, publishedMsg{Topic: topic, Payload: payload, Retained: true})
		}
	}
	return nil
}

func (b *fakeBroker) Unsubscribe(pattern string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = slices.DeleteFunc(b.subscribed, func(f string) bool { return f == pattern })
	return nil
}

func (b *fakeBroker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscribed...)
}

func (b *fakeBroker) OnMessage(pattern string, handler MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.routes {
		if b.routes[i].pattern == pattern {
			b.routes[i].handler = handler
			return
		}
	}
	b.routes = append(b.routes, fakeRoute{pattern: pattern, handler: handler})
}

func (b *fakeBroker) RemoveHandler(pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.routes {
		if b.routes[i].pattern == pattern {
			b.routes = append(b.routes[:i], b.routes[i+1:]...)
			return
		}
	}
}

// Run drains the queue and returns; tests drive delivery explicitly.
func (b *fakeBroker) Run(ctx context.Context) error {
	b.Drain()
	return ctx.Err()
}

func (b *fakeBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Drain delivers queued messages one at a time, including those published
// by handlers while draining.
func (b *fakeBroker) Drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		m := b.queue[0]
		b.queue = b.queue[1:]
		var handlers []MessageHandler
		for _, r := range b.routes {
			if mqtt.TopicMatches(r.pattern, m.Topic) {
				handlers = append(handlers, r.handler)
			}
		}
		b.mu.Unlock()

		for _, h := range handlers {
			h(m.Topic, []byte(m.Payload))
		}
	}
}

func (b *fakeBroker) Retained(topic string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.retained[topic]
	return v, ok
}

// RetainedUnder returns retained topics starting with prefix.
func (b *fakeBroker) RetainedUnder(prefix string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string)
	for t, p := range b.retained {
		if strings.HasPrefix(t, prefix) {
			out[t] = p
		}
	}
	return out
}

func (b *fakeBroker) Published() []publishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMsg(nil), b.published...)
}

func (b *fakeBroker) ResetPublished() {
	b.mu.Lock()
	b.published = nil
	b.mu.Unlock()
}

func (b *fakeBroker) RouteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.routes)
}

func (b *fakeBroker) HasRoute(pattern string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.routes {
		if r.pattern == pattern {
			return true
		}
	}
	return false
}
