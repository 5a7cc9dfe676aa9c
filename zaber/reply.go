package zaber

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplyFlag reports whether the device accepted a command.
type ReplyFlag string

const (
	// FlagOK indicates the command was accepted and is executing.
	FlagOK ReplyFlag = "OK"
	// FlagRejected indicates the command was rejected; the reply data
	// carries the reject reason.
	FlagRejected ReplyFlag = "RJ"
)

// DeviceStatus is the motion status reported in every reply.
type DeviceStatus string

const (
	// StatusIdle indicates the axis is at rest.
	StatusIdle DeviceStatus = "IDLE"
	// StatusBusy indicates the axis is executing a movement.
	StatusBusy DeviceStatus = "BUSY"
)

// WarningFlag is the highest-priority warning reported in a reply.
// NoWarning ("--") means none.
type WarningFlag string

const (
	// NoWarning indicates no warning is active.
	NoWarning WarningFlag = "--"
	// WarnNoReference indicates the device has no home reference position;
	// motion commands are rejected until the axis is homed.
	WarnNoReference WarningFlag = "WR"
)

// Reply is one decoded reply frame.
type Reply struct {
	Device  int
	Axis    int
	ID      int
	Flag    ReplyFlag
	Status  DeviceStatus
	Warning WarningFlag
	Data    string
}

// Rejected reports whether the device rejected the command.
func (r *Reply) Rejected() bool { return r.Flag == FlagRejected }

// Busy reports whether the axis was still moving when the reply was sent.
func (r *Reply) Busy() bool { return r.Status == StatusBusy }

// HasReference reports whether the device holds a home reference, i.e. the
// WR warning flag is absent.
func (r *Reply) HasReference() bool { return r.Warning != WarnNoReference }

// Steps parses the reply data as a native step count. Position-bearing
// replies (get pos) carry the step count in the data field; some firmware
// reports it with a fractional part.
func (r *Reply) Steps() (int64, error) {
	if v, err := strconv.ParseInt(r.Data, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(r.Data, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: non-numeric data %q", ErrMalformedFrame, r.Data)
	}
	return int64(f), nil
}

// String renders the reply in frame form for logging.
func (r *Reply) String() string {
	return fmt.Sprintf("@%02d %d %02d %s %s %s %s",
		r.Device, r.Axis, r.ID, r.Flag, r.Status, r.Warning, r.Data)
}

// Decode parses one received line (without the line terminator) into a
// Reply. It returns ErrNotReply for alert and info broadcast lines, and
// ErrMalformedFrame when the line fails structure or checksum validation.
//
// Decode never matches replies against outstanding requests; correlation is
// the reader's responsibility. It only guarantees the frame is well formed.
func Decode(line string) (*Reply, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, fmt.Errorf("%w: empty line", ErrMalformedFrame)
	}

	switch line[0] {
	case '@':
	case '!', '#':
		return nil, ErrNotReply
	default:
		return nil, fmt.Errorf("%w: unexpected leading byte %q", ErrMalformedFrame, line[0])
	}

	body := line[1:]
	if idx := strings.LastIndexByte(body, ':'); idx >= 0 {
		if err := verifyChecksum(body[:idx], body[idx+1:]); err != nil {
			return nil, err
		}
		body = body[:idx]
	}

	fields := strings.Fields(body)
	if len(fields) < 6 {
		return nil, fmt.Errorf("%w: %d fields, want at least 6", ErrMalformedFrame, len(fields))
	}

	device, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad device address %q", ErrMalformedFrame, fields[0])
	}
	axis, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad axis number %q", ErrMalformedFrame, fields[1])
	}
	id, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad message id %q", ErrMalformedFrame, fields[2])
	}

	flag := ReplyFlag(fields[3])
	if flag != FlagOK && flag != FlagRejected {
		return nil, fmt.Errorf("%w: bad reply flag %q", ErrMalformedFrame, fields[3])
	}

	status := DeviceStatus(fields[4])
	if status != StatusIdle && status != StatusBusy {
		return nil, fmt.Errorf("%w: bad device status %q", ErrMalformedFrame, fields[4])
	}

	warning := WarningFlag(fields[5])
	if len(warning) != 2 {
		return nil, fmt.Errorf("%w: bad warning flag %q", ErrMalformedFrame, fields[5])
	}

	return &Reply{
		Device:  device,
		Axis:    axis,
		ID:      id,
		Flag:    flag,
		Status:  status,
		Warning: warning,
		Data:    strings.Join(fields[6:], " "),
	}, nil
}

// verifyChecksum validates the two-hex-digit LRC suffix against the frame
// body (the bytes between the leading sentinel and the colon).
func verifyChecksum(body, sum string) error {
	if len(sum) != 2 {
		return fmt.Errorf("%w: checksum %q is not two hex digits", ErrMalformedFrame, sum)
	}

	want, err := strconv.ParseUint(sum, 16, 8)
	if err != nil {
		return fmt.Errorf("%w: checksum %q is not hexadecimal", ErrMalformedFrame, sum)
	}

	if Checksum(body) != byte(want) {
		return fmt.Errorf("%w: checksum mismatch", ErrMalformedFrame)
	}

	return nil
}

// Checksum computes the Zaber ASCII LRC over the frame body: the two's
// complement of the 8-bit sum of the body bytes.
func Checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum += body[i]
	}
	return -sum & 0xFF
}
