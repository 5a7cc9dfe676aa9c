package stage

import (
	"context"

	"github.com/caliblab/linearstage/zaber"
)

// Transport is the Connection Manager contract: one transport session to a
// stage controller, exchanging one request/reply pair at a time.
//
// Package zabertcp implements it over a TCP session; package sim implements
// it against an emulated device. The Motion Controller is oblivious to
// which one it drives.
type Transport interface {
	// Connect establishes the session, retrying per the transport's retry
	// policy. It returns ErrConnExhausted once the retry budget is spent.
	// Backoff delays are local to this transport and never block other
	// stage instances.
	Connect(ctx context.Context) error

	// Send transmits one request and blocks until the matching reply
	// arrives, the transport's reply timeout elapses (ErrReplyTimeout), or
	// the session drops (ErrConnLost). The transport assigns the device
	// address, axis number and correlation id; callers fill only the
	// opcode and payload. A timeout cannot retract a command already on
	// the wire: if the reply arrives later it is routed to the orphan
	// reply handler.
	Send(ctx context.Context, req *zaber.Request) (*zaber.Reply, error)

	// Disconnect releases the transport resource. Safe to call in any
	// state and on all exit paths.
	Disconnect() error

	// State returns the current connection state.
	State() ConnState
}

// OrphanReplyHandler receives replies that arrived after their request
// timed out. The request the reply answers is passed alongside so handlers
// can interpret the reply data.
type OrphanReplyHandler func(req *zaber.Request, reply *zaber.Reply)

// OrphanReplySource is implemented by transports that can deliver
// post-timeout replies. The controller registers a handler to keep
// telemetry authoritative even when the original caller already received a
// timeout error.
type OrphanReplySource interface {
	SetOrphanReplyHandler(h OrphanReplyHandler)
}
