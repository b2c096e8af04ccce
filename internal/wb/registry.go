package wb

// Registry holds the last-known value of every control seen, virtual or not.
//
// Registry does no locking of its own; Session guards it with its mutex.
type Registry struct {
	values map[ControlPath]Value
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{values: make(map[ControlPath]Value)}
}

// Record decodes raw and stores it as the value of path, replacing any
// previous value. An empty payload is how MQTT erases a retained message,
// so it forgets the path instead and returns Unknown.
func (r *Registry) Record(path ControlPath, raw string) Value {
	if raw == "" {
		delete(r.values, path)
		return Value{}
	}
	v := Decode(raw)
	r.values[path] = v
	return v
}

// Store sets the value of path. Storing Unknown forgets the path.
func (r *Registry) Store(path ControlPath, v Value) {
	if !v.IsKnown() {
		delete(r.values, path)
		return
	}
	r.values[path] = v
}

// Get returns the last value of path, or Unknown and false.
func (r *Registry) Get(path ControlPath) (Value, bool) {
	v, ok := r.values[path]
	return v, ok
}

// ListAll returns a copy of every known value.
func (r *Registry) ListAll() map[ControlPath]Value {
	out := make(map[ControlPath]Value, len(r.values))
	for p, v := range r.values {
		out[p] = v
	}
	return out
}

// ForgetDevice removes every path of device and returns them.
func (r *Registry) ForgetDevice(device string) []ControlPath {
	var removed []ControlPath
	for p := range r.values {
		if p.Device == device {
			delete(r.values, p)
			removed = append(removed, p)
		}
	}
	return removed
}
