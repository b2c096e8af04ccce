package wb

import (
	"fmt"
	"slices"
)

type bindingKind uint8

const (
	// bindGlobal records every control value and notifies observers.
	bindGlobal bindingKind = iota
	// bindCommand promotes a virtual control's command to its state topic.
	bindCommand
	// bindControl is a user subscription by control path and mode.
	bindControl
	// bindRaw is a user subscription on an arbitrary topic pattern.
	bindRaw
)

type binding struct {
	kind    bindingKind
	mode    Mode
	path    ControlPath
	control ControlCallback
	raw     RawCallback
}

// route is the ordered list of bindings sharing one topic pattern.
// Each route owns exactly one broker handler, and a broker subscription
// when the base topic does not cover its pattern.
type route struct {
	bindings   []binding
	subscribed bool
}

// SubscribeValue calls cb for every state message of the given paths.
// Paths may use "+" for the device or the control.
func (s *Session) SubscribeValue(cb ControlCallback, paths ...ControlPath) error {
	return s.subscribe(ModeValue, cb, paths)
}

// SubscribeCommand calls cb for every command (".../on") message of the given paths.
func (s *Session) SubscribeCommand(cb ControlCallback, paths ...ControlPath) error {
	return s.subscribe(ModeCommand, cb, paths)
}

// SubscribeError calls cb for every ".../meta/error" message of the given paths.
func (s *Session) SubscribeError(cb ControlCallback, paths ...ControlPath) error {
	return s.subscribe(ModeError, cb, paths)
}

// UnsubscribeValue removes every value callback bound to the given paths.
func (s *Session) UnsubscribeValue(paths ...ControlPath) {
	s.unsubscribe(ModeValue, paths)
}

// UnsubscribeCommand removes every command callback bound to the given paths.
func (s *Session) UnsubscribeCommand(paths ...ControlPath) {
	s.unsubscribe(ModeCommand, paths)
}

// UnsubscribeError removes every error callback bound to the given paths.
func (s *Session) UnsubscribeError(paths ...ControlPath) {
	s.unsubscribe(ModeError, paths)
}

// SubscribeRaw calls cb with the topic and decoded payload of every message
// matching pattern. The pattern is not interpreted as a control path.
func (s *Session) SubscribeRaw(pattern string, cb RawCallback) error {
	if cb == nil {
		return fmt.Errorf("wb: callback is required")
	}
	if pattern == "" {
		return fmt.Errorf("%w: empty topic pattern", ErrInvalidPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.addBinding(pattern, binding{kind: bindRaw, raw: cb})
}

// UnsubscribeRaw removes every raw callback bound to pattern.
func (s *Session) UnsubscribeRaw(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeBindings(pattern, func(b binding) bool { return b.kind == bindRaw })
}

func (s *Session) subscribe(mode Mode, cb ControlCallback, paths []ControlPath) error {
	if cb == nil {
		return fmt.Errorf("wb: callback is required")
	}
	if err := checkPaths(paths); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for i, p := range paths {
		if err := s.addBinding(TopicFor(p, mode), binding{kind: bindControl, mode: mode, control: cb}); err != nil {
			// Keep the call all-or-nothing.
			for _, done := range slices.Backward(paths[:i]) {
				s.dropLastBinding(TopicFor(done, mode))
			}
			return err
		}
	}
	return nil
}

func (s *Session) unsubscribe(mode Mode, paths []ControlPath) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		s.removeBindings(TopicFor(p, mode), func(b binding) bool {
			return b.kind == bindControl && b.mode == mode
		})
	}
}

// addBinding appends b to the route for pattern. A new route registers the
// broker handler and, when BaseTopic does not cover pattern, a broker
// subscription; on failure nothing is added. s.mu must be held.
func (s *Session) addBinding(pattern string, b binding) error {
	r, ok := s.routes[pattern]
	if !ok {
		r = &route{}
		if !filterCovers(s.opts.BaseTopic, pattern) {
			if err := s.broker.Subscribe(pattern, s.opts.SubscribeQoS); err != nil {
				return fmt.Errorf("%w: subscribing %q: %w", ErrTransport, pattern, err)
			}
			r.subscribed = true
		}
		s.routes[pattern] = r
		s.broker.OnMessage(pattern, func(topic string, payload []byte) {
			s.handle(pattern, topic, payload)
		})
	}
	r.bindings = append(r.bindings, b)
	return nil
}

// removeBindings drops the bindings of pattern selected by match and
// releases the broker handler, and any broker subscription, once none are
// left. s.mu must be held.
func (s *Session) removeBindings(pattern string, match func(binding) bool) int {
	r, ok := s.routes[pattern]
	if !ok {
		return 0
	}
	before := len(r.bindings)
	r.bindings = slices.DeleteFunc(r.bindings, match)
	s.releaseIfEmpty(pattern, r)
	return before - len(r.bindings)
}

// dropLastBinding undoes the latest addBinding on pattern. s.mu must be held.
func (s *Session) dropLastBinding(pattern string) {
	r, ok := s.routes[pattern]
	if !ok || len(r.bindings) == 0 {
		return
	}
	r.bindings = r.bindings[:len(r.bindings)-1]
	s.releaseIfEmpty(pattern, r)
}

func (s *Session) releaseIfEmpty(pattern string, r *route) {
	if len(r.bindings) > 0 {
		return
	}
	delete(s.routes, pattern)
	s.broker.RemoveHandler(pattern)
	if r.subscribed {
		if err := s.broker.Unsubscribe(pattern); err != nil {
			s.logger.Warn("wb: broker unsubscribe failed", "pattern", pattern, "error", err)
		}
	}
}

// hasBinding reports whether pattern has a binding selected by match.
// s.mu must be held.
func (s *Session) hasBinding(pattern string, match func(binding) bool) bool {
	r, ok := s.routes[pattern]
	return ok && slices.ContainsFunc(r.bindings, match)
}

// handle processes one message for the route of pattern. Registry updates
// happen under the lock; callbacks, observers and command promotion run
// after it is released, in binding order.
func (s *Session) handle(pattern, topic string, payload []byte) {
	raw := string(payload)

	s.mu.Lock()
	r, ok := s.routes[pattern]
	if !ok {
		s.mu.Unlock()
		return
	}
	bindings := slices.Clone(r.bindings)
	observers := slices.Clone(s.observers)

	var (
		path     ControlPath
		parseErr error
		parsed   bool
	)
	parse := func() bool {
		if !parsed {
			path, parseErr = ParseTopic(topic)
			parsed = true
		}
		return parseErr == nil
	}

	var deferred []func()
	for _, b := range bindings {
		switch b.kind {
		case bindGlobal:
			if !parse() {
				continue
			}
			p := path
			if v := s.registry.Record(p, raw); v.IsKnown() {
				deferred = append(deferred, func() { s.notify(observers, p, v, SourceMQTT) })
			}

		case bindCommand:
			// An empty command is a retained-message erasure, not a value.
			if raw == "" {
				continue
			}
			target := ControlTopic(b.path.Device, b.path.Control)
			deferred = append(deferred, func() {
				if err := s.publish(target, raw, true); err != nil {
					s.logger.Error("wb: command promotion failed", "topic", target, "error", err)
					if s.diagnostics != nil {
						s.diagnostics(err)
					}
				}
			})

		case bindControl:
			if !parse() {
				continue
			}
			p, cb := path, b.control
			v := Decode(raw)
			if b.mode == ModeValue {
				s.registry.Record(p, raw)
			}
			deferred = append(deferred, func() { cb(p.Device, p.Control, v) })

		case bindRaw:
			cb := b.raw
			v := Decode(raw)
			deferred = append(deferred, func() { cb(topic, v) })
		}
	}
	s.mu.Unlock()

	if parseErr != nil {
		s.report(parseErr)
	}
	for _, fn := range deferred {
		fn()
	}
}
