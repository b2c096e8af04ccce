package mqtt

import "strings"

// TopicMatches reports whether topic matches the MQTT topic filter.
//
//   - "+" matches exactly one level, including an empty one.
//   - "#" as the last level matches the parent level and everything below it.
//   - Filters starting with a wildcard do not match topics starting with "$".
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}

	return len(fl) == len(tl)
}

// ValidFilter reports whether filter is a well-formed MQTT subscription
// filter: wildcards occupy whole levels and "#" appears only last.
func ValidFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, l := range levels {
		if strings.Contains(l, "#") && (l != "#" || i != len(levels)-1) {
			return false
		}
		if strings.Contains(l, "+") && l != "+" {
			return false
		}
	}
	return true
}
