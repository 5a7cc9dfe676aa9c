// Package stage implements the motion controller for a single-axis Zaber
// LST linear stage.
//
// A Controller owns one Transport (a real TCP session from package zabertcp
// or a simulated device from package sim) and sequences homing, movement,
// stop and position queries against it while tracking the authoritative
// motion state. Local precondition violations (not homed, out of travel
// range, busy) are rejected before any device I/O; device-confirmed replies
// are the only thing that mutates motion state.
//
// Multiple stage instances operate independently: each index owns its own
// Transport and Controller, and no state is shared between them beyond the
// stateless profile table and codec.
package stage
