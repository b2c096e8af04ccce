package wb

import (
	"encoding/json"
	"errors"
	"fmt"
)

// CreateVirtualDevice publishes device meta, registers id as a virtual device
// and adds each control.
//
// Creating an id that already exists is a no-op: ErrDuplicateDevice is
// reported through Diagnostics and "" is returned with a nil error.
// A transport error from a control leaves the device registered; remove it
// with RemoveVirtualDevice.
func (s *Session) CreateVirtualDevice(id string, title Title, controls ...ControlSpec) (string, error) {
	if !validComponent(id) || id == wildcard {
		return "", fmt.Errorf("%w: device id %q", ErrInvalidPath, id)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	if _, exists := s.devices[id]; exists {
		s.mu.Unlock()
		s.report(fmt.Errorf("%w: %q", ErrDuplicateDevice, id))
		return "", nil
	}
	if len(title) == 0 {
		title = PlainTitle(id)
	}
	// Reserve the id before publishing so a concurrent create sees it.
	dev := &VirtualDevice{ID: id, Title: title.clone()}
	s.devices[id] = dev
	s.order = append(s.order, id)
	s.mu.Unlock()

	meta, err := json.Marshal(deviceMeta{Driver: s.opts.DriverName, Title: dev.Title})
	if err != nil {
		s.dropDevice(id)
		return "", fmt.Errorf("wb: encoding device meta: %w", err)
	}
	if err := s.publish(MetaTopic(id), string(meta), true); err != nil {
		s.dropDevice(id)
		return "", err
	}

	s.logger.Info("virtual device created", "device", id, "controls", len(controls))

	for _, spec := range controls {
		if _, err := s.AddControl(id, spec); err != nil {
			return "", fmt.Errorf("adding control %q to %q: %w", spec.Name, id, err)
		}
	}

	return id, nil
}

// dropDevice undoes the reservation made by CreateVirtualDevice.
func (s *Session) dropDevice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.devices, id)
	s.order = removeString(s.order, id)
}

// AddControl publishes control meta, the type-only meta topic and the default
// value, arms the command watcher and seeds the registry with the default.
//
// Adding a control to an unknown device reports ErrUnknownDevice and returns
// the zero path with a nil error. Adding a name that already exists replaces
// its meta; the command watcher is armed only once.
func (s *Session) AddControl(id string, spec ControlSpec) (ControlPath, error) {
	if !validComponent(spec.Name) || spec.Name == wildcard {
		return ControlPath{}, fmt.Errorf("%w: name %q", ErrInvalidControl, spec.Name)
	}
	if spec.Type == "" {
		return ControlPath{}, fmt.Errorf("%w: control %q has no type", ErrInvalidControl, spec.Name)
	}

	spec = spec.clone()
	if spec.Readonly == nil {
		spec.Readonly = Bool(true)
	}
	path := Path(id, spec.Name)

	s.mu.Lock()
	dev, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		s.report(fmt.Errorf("%w: %q (control %q)", ErrUnknownDevice, id, spec.Name))
		return ControlPath{}, nil
	}
	replaced := false
	for i := range dev.Controls {
		if dev.Controls[i].Name == spec.Name {
			dev.Controls[i] = spec
			replaced = true
			break
		}
	}
	if !replaced {
		dev.Controls = append(dev.Controls, spec)
	}
	s.mu.Unlock()

	meta, err := json.Marshal(spec)
	if err != nil {
		return ControlPath{}, fmt.Errorf("wb: encoding control meta: %w", err)
	}
	if err := s.publish(ControlMetaTopic(id, spec.Name), string(meta), true); err != nil {
		return ControlPath{}, err
	}
	// Some observers only watch meta/type and treat it as the readiness signal.
	if err := s.publish(ControlMetaTypeTopic(id, spec.Name), spec.Type, true); err != nil {
		return ControlPath{}, err
	}
	if spec.Default.IsKnown() {
		if err := s.publish(ControlTopic(id, spec.Name), spec.Default.Encode(), true); err != nil {
			return ControlPath{}, err
		}
	}

	cmdTopic := ControlCommandTopic(id, spec.Name)
	isWatcher := func(b binding) bool { return b.kind == bindCommand && b.path == path }

	s.mu.Lock()
	if _, still := s.devices[id]; !still {
		s.mu.Unlock()
		return ControlPath{}, nil
	}
	if !s.hasBinding(cmdTopic, isWatcher) {
		if err := s.addBinding(cmdTopic, binding{kind: bindCommand, path: path}); err != nil {
			s.mu.Unlock()
			return ControlPath{}, err
		}
	}
	var observers []ChangeObserver
	if spec.Default.IsKnown() {
		s.registry.Store(path, spec.Default)
		observers = append(observers, s.observers...)
	}
	s.mu.Unlock()

	s.notify(observers, path, spec.Default, SourceDefault)
	s.logger.Debug("virtual control added", "device", id, "control", spec.Name, "type", spec.Type)

	return path, nil
}

// RemoveVirtualDevice erases the device's retained topics, disarms its
// command watchers, forgets its registry entries and drops the id.
//
// Unknown ids report ErrUnknownDevice and return nil. Clearing continues past
// transport errors; they are returned joined.
func (s *Session) RemoveVirtualDevice(id string) error {
	s.mu.Lock()
	dev, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		s.report(fmt.Errorf("%w: %q", ErrUnknownDevice, id))
		return nil
	}
	delete(s.devices, id)
	s.order = removeString(s.order, id)
	controls := dev.Controls
	for _, c := range controls {
		path := Path(id, c.Name)
		s.removeBindings(ControlCommandTopic(id, c.Name), func(b binding) bool {
			return b.kind == bindCommand && b.path == path
		})
	}
	s.registry.ForgetDevice(id)
	s.mu.Unlock()

	var errs []error
	erase := func(topic string) {
		if err := s.clear(topic); err != nil {
			errs = append(errs, err)
		}
	}

	erase(MetaTopic(id))
	erase(DeviceTopic(id))
	for _, c := range controls {
		erase(ControlCommandTopic(id, c.Name))
		erase(ControlMetaTypeTopic(id, c.Name))
		erase(ControlMetaTopic(id, c.Name))
		erase(ControlTopic(id, c.Name))
	}

	s.logger.Info("virtual device removed", "device", id)
	return errors.Join(errs...)
}

// RemoveAllVirtualDevices removes every virtual device in creation order.
func (s *Session) RemoveAllVirtualDevices() error {
	s.mu.Lock()
	ids := append([]string(nil), s.order...)
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.RemoveVirtualDevice(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// VirtualDevices returns a copy of every virtual device in creation order.
func (s *Session) VirtualDevices() []VirtualDevice {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]VirtualDevice, 0, len(s.order))
	for _, id := range s.order {
		dev := s.devices[id]
		cp := VirtualDevice{ID: dev.ID, Title: dev.Title.clone()}
		for _, c := range dev.Controls {
			cp.Controls = append(cp.Controls, c.clone())
		}
		out = append(out, cp)
	}
	return out
}

// IsVirtual reports whether id is a virtual device of this session.
func (s *Session) IsVirtual(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[id]
	return ok
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
