package stage

// State represents the motion controller state machine.
//
// Transitions:
//
//	Uninitialized/Faulted -> Connecting -> Idle
//	Idle -> Homing|Moving -> Idle
//	Moving|Homing -> Stopping -> Idle
//	any -> Faulted (unrecoverable connection loss or protocol violation)
//
// Faulted is terminal until an explicit Connect.
type State uint32

const (
	// Uninitialized is the state before the first connect attempt and
	// after an explicit disconnect.
	Uninitialized State = iota
	// Connecting indicates connection establishment is in progress.
	Connecting
	// Idle indicates the stage is connected and at rest.
	Idle
	// Homing indicates a home cycle is executing.
	Homing
	// Moving indicates a move command is executing.
	Moving
	// Stopping indicates a stop command is decelerating the stage.
	Stopping
	// Faulted indicates an unrecoverable session failure. Only Connect is
	// permitted.
	Faulted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Connecting:
		return "connecting"
	case Idle:
		return "idle"
	case Homing:
		return "homing"
	case Moving:
		return "moving"
	case Stopping:
		return "stopping"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// IsMotion reports whether the stage is executing a motion command.
func (s State) IsMotion() bool {
	return s == Homing || s == Moving || s == Stopping
}

// ConnState represents the transport session state, owned by the
// Connection Manager (or the Simulation Engine standing in for it).
type ConnState uint32

const (
	// Disconnected indicates no transport session exists.
	Disconnected ConnState = iota
	// ConnConnecting indicates a connect attempt (with retries) is running.
	ConnConnecting
	// Connected indicates the transport session is established.
	Connected
	// ConnFaulted indicates the session failed and was released.
	ConnFaulted
)

// String returns the connection state name.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case Connected:
		return "connected"
	case ConnFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked on controller state transitions.
//
// Handlers run synchronously on the transitioning goroutine; keep them
// short.
type StateChangeHandler func(prev State, cur State)
