package wb

import "errors"

// Sentinel errors for the virtual device layer.
// Non-fatal conditions are reported through Options.Diagnostics wrapped with
// %w; transport failures are returned from the call that triggered them.
var (
	// ErrDuplicateDevice is reported when a virtual device id is created twice.
	ErrDuplicateDevice = errors.New("wb: virtual device already exists")

	// ErrUnknownDevice is reported when an operation names a device that is
	// not a virtual device of this session.
	ErrUnknownDevice = errors.New("wb: unknown virtual device")

	// ErrMalformedTopic is reported when an inbound topic does not have the
	// /devices/{d}/controls/{c} shape. The message is dropped.
	ErrMalformedTopic = errors.New("wb: malformed control topic")

	// ErrInvalidPath is returned for control paths with empty components,
	// "/" or "#", or wildcards where a concrete path is required.
	ErrInvalidPath = errors.New("wb: invalid control path")

	// ErrInvalidControl is returned for control specs without a valid name or type.
	ErrInvalidControl = errors.New("wb: invalid control spec")

	// ErrInvalidValue is returned when an Unknown value is published.
	ErrInvalidValue = errors.New("wb: cannot publish unknown value")

	// ErrTransport wraps publish and subscribe failures from the broker.
	ErrTransport = errors.New("wb: transport failure")

	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("wb: session closed")
)
