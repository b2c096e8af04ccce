package wb

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Title maps a language code to display text.
// JSON and YAML accept either a plain string (stored under "en") or a mapping.
type Title map[string]string

// PlainTitle returns {"en": s}, or nil for an empty string.
func PlainTitle(s string) Title {
	if s == "" {
		return nil
	}
	return Title{"en": s}
}

// UnmarshalJSON accepts a string or an object.
func (t *Title) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = PlainTitle(s)
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("wb: title must be a string or an object: %w", err)
	}
	*t = m
	return nil
}

// UnmarshalYAML accepts a scalar or a mapping.
func (t *Title) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = PlainTitle(node.Value)
		return nil
	}
	var m map[string]string
	if err := node.Decode(&m); err != nil {
		return fmt.Errorf("wb: title must be a string or a mapping: %w", err)
	}
	*t = m
	return nil
}

func (t Title) clone() Title {
	if t == nil {
		return nil
	}
	out := make(Title, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// ControlSpec declares a control of a virtual device.
//
// Name and Type are required. Readonly defaults to true when nil. Extra
// holds additional meta keys, published as-is; they never replace the
// known keys.
type ControlSpec struct {
	Name     string
	Title    Title
	Type     string
	Default  Value
	Order    *float64
	Readonly *bool
	Units    string
	Min      *float64
	Max      *float64
	Extra    map[string]any
}

// IsReadonly returns the effective readonly flag.
func (s ControlSpec) IsReadonly() bool {
	return s.Readonly == nil || *s.Readonly
}

// MarshalJSON renders the control meta document published to
// /devices/{d}/controls/{c}/meta.
func (s ControlSpec) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Extra)+9)
	for k, v := range s.Extra {
		doc[k] = v
	}

	doc["name"] = s.Name
	doc["type"] = s.Type
	doc["readonly"] = s.IsReadonly()
	if len(s.Title) > 0 {
		doc["title"] = s.Title
	}
	if s.Default.IsKnown() {
		doc["default"] = s.Default
	}
	if s.Order != nil {
		doc["order"] = *s.Order
	}
	if s.Units != "" {
		doc["units"] = s.Units
	}
	if s.Min != nil {
		doc["min"] = *s.Min
	}
	if s.Max != nil {
		doc["max"] = *s.Max
	}

	return json.Marshal(doc)
}

func (s ControlSpec) clone() ControlSpec {
	out := s
	out.Title = s.Title.clone()
	if s.Extra != nil {
		out.Extra = make(map[string]any, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// VirtualDevice is a device whose metadata and state this session publishes.
type VirtualDevice struct {
	ID       string
	Title    Title
	Controls []ControlSpec
}

// deviceMeta is the document published to /devices/{d}/meta.
type deviceMeta struct {
	Driver string `json:"driver"`
	Title  Title  `json:"title"`
}

// Float64 returns a pointer to f, for ControlSpec's optional numbers.
func Float64(f float64) *float64 { return &f }

// Bool returns a pointer to b, for ControlSpec.Readonly.
func Bool(b bool) *bool { return &b }
