// Package zaber implements the Zaber ASCII protocol codec used by LST
// series linear stage controllers.
//
// A request frame addresses one device and axis on the daisy chain and
// carries a monotonically increasing message id used to correlate replies:
//
//	/01 1 07 move abs 2500\n
//
// The matching reply frame echoes the device, axis and message id, followed
// by a reply flag (OK or RJ), the device status (IDLE or BUSY), a warning
// flag and command-specific data:
//
//	@01 1 07 OK BUSY -- 0\r\n
//
// Frames may carry an optional ":XX" LRC checksum suffix which Decode
// validates. Alert ("!...") and info ("#...") lines are not replies and are
// reported as ErrNotReply so readers can discard them.
//
// The codec works in native device steps; Units converts between steps and
// physical distance units for a given stage profile.
package zaber
