package zaber

import "sync/atomic"

// maxMessageID is the largest message id the protocol allows; ids wrap
// around to 0 past it. With a single outstanding request per connection a
// wrapped id can never collide with a pending one.
const maxMessageID = 99

// IDGenerator produces monotonically increasing message ids for one
// connection. Each connection owns its own generator so that ids never
// correlate across stage instances. The zero value is ready to use and is
// safe for concurrent use.
type IDGenerator struct {
	id atomic.Uint32
}

// NextID returns the next message id in [0, 99].
func (g *IDGenerator) NextID() int {
	return int((g.id.Add(1) - 1) % (maxMessageID + 1))
}
