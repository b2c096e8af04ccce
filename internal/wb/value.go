package wb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the type tag of a Value.
type Kind uint8

// Value kinds. The zero Kind is Unknown, returned for paths never observed.
const (
	KindUnknown Kind = iota
	KindInteger
	KindFloat
	KindText
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Value is a control value: an integer, a float or a text.
// The zero Value is Unknown.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// IntValue returns an Integer value.
func IntValue(i int64) Value { return Value{kind: KindInteger, i: i} }

// FloatValue returns a Float value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// TextValue returns a Text value. The text is kept as given.
func TextValue(s string) Value { return Value{kind: KindText, s: s} }

// Decode converts wire text into a Value. It never fails: the trimmed text
// becomes an Integer if it parses as a base-10 int64, otherwise a Float if it
// parses as a float64, otherwise Text.
func Decode(raw string) Value {
	s := strings.TrimSpace(raw)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntValue(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return FloatValue(f)
	}
	return TextValue(s)
}

// ValueOf converts a Go value as produced by YAML or JSON decoding.
// Booleans map to 1 and 0, the way Wiren Board switches encode them.
func ValueOf(x any) Value {
	switch v := x.(type) {
	case nil:
		return Value{}
	case Value:
		return v
	case int:
		return IntValue(int64(v))
	case int64:
		return IntValue(v)
	case int32:
		return IntValue(int64(v))
	case uint8:
		return IntValue(int64(v))
	case float64:
		return FloatValue(v)
	case float32:
		return FloatValue(float64(v))
	case bool:
		if v {
			return IntValue(1)
		}
		return IntValue(0)
	case string:
		return TextValue(v)
	case json.Number:
		return Decode(v.String())
	default:
		return TextValue(fmt.Sprint(v))
	}
}

// Kind returns the type tag.
func (v Value) Kind() Kind { return v.kind }

// IsKnown reports whether v holds a value.
func (v Value) IsKnown() bool { return v.kind != KindUnknown }

// Int returns the integer for Integer values.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.i, true
}

// Float returns the number for Integer and Float values.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Text returns the string for Text values.
func (v Value) Text() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.s, true
}

// Encode renders the wire text. Floats always carry a decimal point or an
// exponent so that Decode returns a Float again. Unknown encodes as "".
func (v Value) Encode() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return formatFloat(v.f)
	case KindText:
		return v.s
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	if v.kind == KindUnknown {
		return "<unknown>"
	}
	return v.Encode()
}

// Equal reports whether both values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	default:
		return true
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}

	var s string
	if abs := math.Abs(f); abs == 0 || (abs >= 1e-4 && abs < 1e16) {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	} else {
		s = strconv.FormatFloat(f, 'g', -1, 64)
	}

	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// MarshalJSON encodes numbers as JSON numbers, text as a string and Unknown
// as null. Non-finite floats are written as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInteger:
		return []byte(v.Encode()), nil
	case KindFloat:
		if math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return json.Marshal(v.Encode())
		}
		return []byte(v.Encode()), nil
	case KindText:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a number (decoded like wire text), a string (kept as
// Text), a boolean (1 or 0) or null (Unknown).
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Value{}
	case bytes.Equal(data, []byte("true")):
		*v = IntValue(1)
	case bytes.Equal(data, []byte("false")):
		*v = IntValue(0)
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("wb: decoding value: %w", err)
		}
		*v = TextValue(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("wb: decoding value: %w", err)
		}
		*v = Decode(n.String())
	}
	return nil
}

// UnmarshalYAML decodes YAML scalars by their resolved tag.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("wb: value must be a scalar (line %d)", node.Line)
	}
	switch node.Tag {
	case "!!null":
		*v = Value{}
	case "!!int", "!!float":
		*v = Decode(node.Value)
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("wb: decoding value: %w", err)
		}
		*v = ValueOf(b)
	default:
		*v = TextValue(node.Value)
	}
	return nil
}
