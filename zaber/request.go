package zaber

import (
	"fmt"
	"strconv"
)

// Opcode identifies a stage command.
type Opcode uint8

const (
	// OpStatus is the empty command; the device answers with its current
	// status (IDLE or BUSY) without side effects.
	OpStatus Opcode = iota
	// OpHome drives the stage to its physical reference position.
	OpHome
	// OpMoveAbs moves to an absolute position given in native steps.
	OpMoveAbs
	// OpMoveRel moves by a relative distance given in native steps.
	OpMoveRel
	// OpStop decelerates and halts the current motion.
	OpStop
	// OpGetPos reads the current position in native steps.
	OpGetPos
	// OpWarnings reads the active warning flags. The WR flag reports
	// whether the device has lost its home reference.
	OpWarnings
)

// String returns the command text for the opcode, without parameters.
func (op Opcode) String() string {
	switch op {
	case OpStatus:
		return ""
	case OpHome:
		return "home"
	case OpMoveAbs:
		return "move abs"
	case OpMoveRel:
		return "move rel"
	case OpStop:
		return "stop"
	case OpGetPos:
		return "get pos"
	case OpWarnings:
		return "warnings"
	default:
		return "unknown"
	}
}

// HasPayload reports whether the opcode carries a step-count parameter.
func (op Opcode) HasPayload() bool {
	return op == OpMoveAbs || op == OpMoveRel
}

// Request is one command frame addressed to a device and axis on the daisy
// chain. ID is the correlation id echoed by the matching reply; it is
// assigned by an IDGenerator and is unique per connection lifetime.
type Request struct {
	Device int
	Axis   int
	ID     int
	Op     Opcode
	Steps  int64 // target or delta in native steps, for OpMoveAbs/OpMoveRel
}

// Encode renders the request as a wire frame, including the trailing
// newline. It is a pure function of the request fields.
func Encode(req *Request) []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, '/')
	buf = appendPadded(buf, req.Device)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(req.Axis), 10)
	buf = append(buf, ' ')
	buf = appendPadded(buf, req.ID)

	if cmd := req.Op.String(); cmd != "" {
		buf = append(buf, ' ')
		buf = append(buf, cmd...)
	}
	if req.Op.HasPayload() {
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, req.Steps, 10)
	}

	buf = append(buf, '\n')

	return buf
}

// String returns the frame text without the trailing newline, for logging.
func (req *Request) String() string {
	b := Encode(req)
	return string(b[:len(b)-1])
}

// appendPadded appends v as a two-digit zero-padded decimal, matching the
// device's own formatting of addresses and message ids.
func appendPadded(buf []byte, v int) []byte {
	if v >= 0 && v < 10 {
		buf = append(buf, '0')
	}
	return strconv.AppendInt(buf, int64(v), 10)
}

// Validate checks the addressing and id fields are within protocol range.
func (req *Request) Validate() error {
	if req.Device < 0 || req.Device > 99 {
		return fmt.Errorf("device address %d out of range [0, 99]", req.Device)
	}
	if req.Axis < 0 || req.Axis > 9 {
		return fmt.Errorf("axis number %d out of range [0, 9]", req.Axis)
	}
	if req.ID < 0 || req.ID > 99 {
		return fmt.Errorf("message id %d out of range [0, 99]", req.ID)
	}
	return nil
}
