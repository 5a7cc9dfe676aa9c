package stage

import "errors"

var (
	// ErrNotHomed indicates a motion command was issued before the stage
	// established a home reference. No device I/O is performed.
	ErrNotHomed = errors.New("stage is not homed")

	// ErrOutOfRange indicates a motion target outside the profile's travel
	// limits. No device I/O is performed.
	ErrOutOfRange = errors.New("target position out of range")

	// ErrBusy indicates another operation is in flight on this stage
	// instance. The device protocol has no multiplexing, so concurrent
	// commands are rejected rather than interleaved.
	ErrBusy = errors.New("stage is busy")

	// ErrFaulted indicates the controller is in the Faulted state and
	// requires an explicit reconnect before further operations.
	ErrFaulted = errors.New("stage is faulted")

	// ErrNotConnected indicates no device session is established.
	ErrNotConnected = errors.New("stage is not connected")

	// ErrInvalidState indicates the operation is not permitted in the
	// controller's current state.
	ErrInvalidState = errors.New("operation not permitted in current state")
)

// Transport-level error kinds. Transports return these so the controller
// and callers can react without knowing the concrete transport.
var (
	// ErrConnLost indicates the transport session dropped mid-operation.
	// Position confidence is lost; the controller faults and a reconnect
	// plus re-home is required before further motion.
	ErrConnLost = errors.New("connection lost")

	// ErrConnExhausted indicates connection establishment failed after the
	// retry budget was spent. Fatal for the session.
	ErrConnExhausted = errors.New("connection retries exhausted")

	// ErrReplyTimeout indicates no valid reply arrived in time. The
	// command may still execute on the device; a late reply is treated as
	// authoritative for telemetry when it eventually arrives.
	ErrReplyTimeout = errors.New("reply timeout")
)
