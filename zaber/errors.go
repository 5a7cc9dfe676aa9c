package zaber

import "errors"

var (
	// ErrMalformedFrame indicates that a frame failed structure or checksum
	// validation and cannot be interpreted as a reply.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrNotReply indicates that a received line is a valid protocol line
	// but not a reply frame (an alert or info broadcast). Such lines are
	// discarded by readers rather than surfaced to callers.
	ErrNotReply = errors.New("not a reply frame")

	// ErrDeviceRejected indicates that the device answered a command with
	// the RJ reply flag.
	ErrDeviceRejected = errors.New("command rejected by device")
)
