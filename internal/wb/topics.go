package wb

import (
	"fmt"
	"strings"
)

// AllControlsPattern matches the state topic of every control of every device.
const AllControlsPattern = "/devices/+/controls/+"

const wildcard = "+"

// Mode selects which topic of a control a path refers to.
type Mode uint8

// Topic modes.
const (
	ModeValue Mode = iota
	ModeCommand
	ModeError
	ModeMeta
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeValue:
		return "value"
	case ModeCommand:
		return "command"
	case ModeError:
		return "error"
	case ModeMeta:
		return "meta"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ControlPath identifies a control as device/control.
// In subscriptions either component may be "+".
type ControlPath struct {
	Device  string
	Control string
}

// Path is shorthand for ControlPath{device, control}.
func Path(device, control string) ControlPath {
	return ControlPath{Device: device, Control: control}
}

// ParsePath parses "device/control".
func ParsePath(s string) (ControlPath, error) {
	device, control, ok := strings.Cut(s, "/")
	p := ControlPath{Device: device, Control: control}
	if !ok || !p.valid() {
		return ControlPath{}, fmt.Errorf("%w: %q", ErrInvalidPath, s)
	}
	return p, nil
}

// String returns "device/control".
func (p ControlPath) String() string {
	return p.Device + "/" + p.Control
}

// HasWildcard reports whether either component is "+".
func (p ControlPath) HasWildcard() bool {
	return p.Device == wildcard || p.Control == wildcard
}

func (p ControlPath) valid() bool {
	return validComponent(p.Device) && validComponent(p.Control)
}

func validComponent(s string) bool {
	if s == wildcard {
		return true
	}
	return s != "" && !strings.ContainsAny(s, "/+#")
}

// checkPaths validates subscription paths. Wildcards are allowed.
func checkPaths(paths []ControlPath) error {
	for _, p := range paths {
		if !p.valid() {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
		}
	}
	return nil
}

// checkConcrete validates a path used for publishing.
func checkConcrete(p ControlPath) error {
	if !p.valid() || p.HasWildcard() {
		return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
	}
	return nil
}

// DeviceTopic returns "/devices/{device}".
func DeviceTopic(device string) string {
	return "/devices/" + device
}

// MetaTopic returns "/devices/{device}/meta".
func MetaTopic(device string) string {
	return DeviceTopic(device) + "/meta"
}

// ControlTopic returns the state topic "/devices/{device}/controls/{control}".
func ControlTopic(device, control string) string {
	return DeviceTopic(device) + "/controls/" + control
}

// ControlMetaTopic returns the control metadata topic.
func ControlMetaTopic(device, control string) string {
	return ControlTopic(device, control) + "/meta"
}

// ControlMetaTypeTopic returns the topic carrying only the control type.
func ControlMetaTypeTopic(device, control string) string {
	return ControlTopic(device, control) + "/meta/type"
}

// ControlErrorTopic returns the control error topic.
func ControlErrorTopic(device, control string) string {
	return ControlTopic(device, control) + "/meta/error"
}

// ControlCommandTopic returns the command topic ".../on".
func ControlCommandTopic(device, control string) string {
	return ControlTopic(device, control) + "/on"
}

// TopicFor maps a path and mode to its topic. Wildcard components are kept,
// so the result may be used as a subscription pattern.
func TopicFor(p ControlPath, m Mode) string {
	switch m {
	case ModeCommand:
		return ControlCommandTopic(p.Device, p.Control)
	case ModeError:
		return ControlErrorTopic(p.Device, p.Control)
	case ModeMeta:
		return ControlMetaTopic(p.Device, p.Control)
	default:
		return ControlTopic(p.Device, p.Control)
	}
}

// ParseTopic extracts the control path from a topic of the form
// /devices/{d}/controls/{c}[/...].
func ParseTopic(topic string) (ControlPath, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 || parts[0] != "" || parts[1] != "devices" || parts[3] != "controls" ||
		parts[2] == "" || parts[4] == "" {
		return ControlPath{}, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return ControlPath{Device: parts[2], Control: parts[4]}, nil
}

// filterCovers reports whether every topic matched by narrow is also
// matched by wide, using MQTT filter rules.
func filterCovers(wide, narrow string) bool {
	if wide == narrow {
		return true
	}
	if strings.HasPrefix(narrow, "$") && (strings.HasPrefix(wide, "+") || strings.HasPrefix(wide, "#")) {
		return false
	}

	wl := strings.Split(wide, "/")
	nl := strings.Split(narrow, "/")
	for i, w := range wl {
		if w == "#" {
			return true
		}
		if i >= len(nl) || nl[i] == "#" {
			return false
		}
		if w != wildcard && w != nl[i] {
			return false
		}
	}
	return len(wl) == len(nl)
}
