package mqtt

import (
	"context"
)

// OnMessage routes queued messages whose topic matches pattern to handler.
//
// Registering a pattern that already has a route replaces its handler and
// keeps its position. Patterns do not create broker subscriptions; a filter
// passed to Subscribe must cover them.
func (c *Client) OnMessage(pattern string, handler MessageHandler) {
	if handler == nil {
		return
	}

	c.routeMu.Lock()
	defer c.routeMu.Unlock()

	for i := range c.routes {
		if c.routes[i].pattern == pattern {
			c.routes[i].handler = handler
			return
		}
	}
	c.routes = append(c.routes, route{pattern: pattern, handler: handler})
}

// RemoveHandler drops the route for pattern. It is a no-op for unknown patterns.
func (c *Client) RemoveHandler(pattern string) {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()

	for i := range c.routes {
		if c.routes[i].pattern == pattern {
			c.routes = append(c.routes[:i], c.routes[i+1:]...)
			return
		}
	}
}

// Run dispatches queued messages until ctx is cancelled or Close is called.
// It returns ctx.Err() on cancellation and nil after Close.
func (c *Client) Run(ctx context.Context) error {
	for {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case <-c.done:
				return nil
			default:
			}
			msg, ok := c.inbound.pop()
			if !ok {
				break
			}
			c.dispatch(msg)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.inbound.ready:
		}
	}
}

// dispatch invokes every matching route. The route table is copied first so
// handlers may add or remove routes while running.
func (c *Client) dispatch(msg Message) {
	c.routeMu.RLock()
	matched := make([]route, 0, len(c.routes))
	for _, r := range c.routes {
		if TopicMatches(r.pattern, msg.Topic) {
			matched = append(matched, r)
		}
	}
	c.routeMu.RUnlock()

	for _, r := range matched {
		c.invoke(r, msg)
	}
}

// invoke calls a single route handler with panic recovery.
func (c *Client) invoke(r route, msg Message) {
	defer func() {
		if p := recover(); p != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", msg.Topic,
					"pattern", r.pattern,
					"panic", p,
				)
			}
		}
	}()

	if err := r.handler(msg.Topic, msg.Payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", msg.Topic,
				"pattern", r.pattern,
				"error", err,
			)
		}
	}
}
