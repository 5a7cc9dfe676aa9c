package zabertcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/caliblab/linearstage/internal/pool"
	"github.com/caliblab/linearstage/logger"
	"github.com/caliblab/linearstage/stage"
	"github.com/caliblab/linearstage/zaber"
)

// orphanGracePeriod is how long an abandoning sender waits for a reply the
// receiver claimed a moment before the timeout fired.
const orphanGracePeriod = 10 * time.Millisecond

// recvExitTimeout bounds the wait for the receiver goroutine on disconnect.
const recvExitTimeout = time.Second

// pendingReply tracks one in-flight request awaiting its reply.
type pendingReply struct {
	req *zaber.Request
	ch  chan *zaber.Reply
}

// Connection is a TCP session to one Zaber ASCII device. It implements
// stage.Transport: one request/reply exchange at a time from the caller's
// point of view, with a receiver goroutine routing reply lines back to the
// waiting sender by message id.
type Connection struct {
	cfg    *ConnectionConfig
	logger logger.Logger

	// dial performs one connection attempt. Tests substitute it to
	// exercise the retry policy without a listener.
	dial func(ctx context.Context) (net.Conn, error)

	connState atomic.Uint32
	shutdown  atomic.Bool

	sessionMu sync.Mutex // serializes Connect and Disconnect

	connMu   sync.RWMutex
	conn     net.Conn
	dropped  chan struct{} // closed when the receiver exits abnormally
	recvDone chan struct{} // closed when the receiver exits

	idGen   zaber.IDGenerator
	pending *xsync.MapOf[int, *pendingReply]
	orphans *xsync.MapOf[int, *zaber.Request]

	orphanMu      sync.RWMutex
	orphanHandler stage.OrphanReplyHandler

	metrics ConnectionMetrics
}

// Compile-time checks: Connection is a transport with orphan delivery.
var (
	_ stage.Transport         = (*Connection)(nil)
	_ stage.OrphanReplySource = (*Connection)(nil)
)

// NewConnection creates a connection for the given configuration. No I/O
// happens until Connect.
func NewConnection(cfg *ConnectionConfig) (*Connection, error) {
	if cfg == nil {
		return nil, errConfigNil
	}

	c := &Connection{
		cfg:     cfg,
		logger:  cfg.logger.With("remote", net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))),
		pending: xsync.NewMapOf[int, *pendingReply](),
		orphans: xsync.NewMapOf[int, *zaber.Request](),
	}
	c.dial = c.dialTCP
	c.connState.Store(uint32(stage.Disconnected))

	return c, nil
}

func (c *Connection) dialTCP(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.dialTimeout}

	return dialer.DialContext(ctx, "tcp", net.JoinHostPort(c.cfg.host, strconv.Itoa(c.cfg.port)))
}

// State returns the current connection state.
func (c *Connection) State() stage.ConnState {
	return stage.ConnState(c.connState.Load())
}

// GetMetrics returns the metrics associated with the connection.
func (c *Connection) GetMetrics() *ConnectionMetrics {
	return &c.metrics
}

// SetOrphanReplyHandler registers the handler that receives replies
// arriving after their request timed out.
func (c *Connection) SetOrphanReplyHandler(h stage.OrphanReplyHandler) {
	c.orphanMu.Lock()
	defer c.orphanMu.Unlock()
	c.orphanHandler = h
}

// Connect establishes the TCP session, dialing up to the retry policy's
// attempt budget with backoff between attempts. Backoff sleeps are local
// to this connection. It returns stage.ErrConnExhausted once the budget is
// spent.
func (c *Connection) Connect(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.State() == stage.Connected {
		return nil
	}

	c.setConnState(stage.ConnConnecting)
	c.metrics.resetConnRetryGauge()

	retry := c.cfg.retry

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.metrics.incConnRetryGauge()

			delay := retry.delay(attempt - 1)
			c.logger.Info("retrying connection", "attempt", attempt, "delay", delay)

			timer := pool.GetTimer(delay)
			select {
			case <-ctx.Done():
				pool.PutTimer(timer)
				c.setConnState(stage.Disconnected)
				return ctx.Err()
			case <-timer.C:
				pool.PutTimer(timer)
			}
		}

		conn, err := c.dial(ctx)
		if err != nil {
			lastErr = err
			c.logger.Warn("dial failed", "attempt", attempt, "error", err)

			continue
		}

		c.startSession(conn)
		c.logger.Info("connected", "attempt", attempt)

		return nil
	}

	c.setConnState(stage.ConnFaulted)

	return fmt.Errorf("%w after %d attempts: %v", stage.ErrConnExhausted, retry.MaxAttempts, lastErr)
}

// startSession installs the socket and starts the receiver goroutine.
// Caller holds sessionMu.
func (c *Connection) startSession(conn net.Conn) {
	c.shutdown.Store(false)
	c.pending.Clear()
	c.orphans.Clear()

	dropped := make(chan struct{})
	recvDone := make(chan struct{})

	c.connMu.Lock()
	c.conn = conn
	c.dropped = dropped
	c.recvDone = recvDone
	c.connMu.Unlock()

	c.setConnState(stage.Connected)

	go c.recvLoop(conn, dropped, recvDone)
}

// Disconnect closes the session and waits for the receiver to exit. It is
// safe to call in any state and more than once.
func (c *Connection) Disconnect() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.shutdown.Store(true)

	c.connMu.Lock()
	conn := c.conn
	recvDone := c.recvDone
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if recvDone != nil {
		timer := pool.GetTimer(recvExitTimeout)
		select {
		case <-recvDone:
		case <-timer.C:
			c.logger.Warn("receiver did not exit in time")
		}
		pool.PutTimer(timer)
	}

	c.setConnState(stage.Disconnected)
	c.logger.Debug("disconnected")

	return nil
}

// Send transmits one command and blocks until the matching reply arrives,
// the reply timeout elapses, or the session drops. The device address,
// axis number and message id are assigned here; a command that times out
// stays registered so a late reply reaches the orphan handler.
func (c *Connection) Send(ctx context.Context, req *zaber.Request) (*zaber.Reply, error) {
	switch c.State() {
	case stage.Connected:
	case stage.ConnFaulted:
		// the session existed and dropped; a drop noticed by the
		// receiver between exchanges must not masquerade as a
		// connection that was never established
		return nil, stage.ErrConnLost
	default:
		return nil, stage.ErrNotConnected
	}

	c.connMu.RLock()
	conn := c.conn
	dropped := c.dropped
	c.connMu.RUnlock()

	if conn == nil {
		return nil, stage.ErrNotConnected
	}

	req.Device = c.cfg.device
	req.Axis = c.cfg.axis
	req.ID = c.idGen.NextID()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	// ids wrap at 100; drop any stale bookkeeping under the reused id
	c.orphans.Delete(req.ID)

	p := &pendingReply{req: req, ch: make(chan *zaber.Reply, 1)}
	c.pending.Store(req.ID, p)

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.replyTimeout))

	if _, err := conn.Write(zaber.Encode(req)); err != nil {
		c.pending.Delete(req.ID)
		c.dropSession(err)

		return nil, fmt.Errorf("%w: write: %v", stage.ErrConnLost, err)
	}

	c.metrics.incCmdSendCount()
	c.logger.Debug("command sent", "frame", req.String())

	timer := pool.GetTimer(c.cfg.replyTimeout)
	defer pool.PutTimer(timer)

	select {
	case reply := <-p.ch:
		return reply, nil

	case <-dropped:
		c.pending.Delete(req.ID)
		return nil, stage.ErrConnLost

	case <-ctx.Done():
		c.abandon(req, p)
		return nil, ctx.Err()

	case <-timer.C:
		if reply := c.abandon(req, p); reply != nil {
			return reply, nil
		}

		return nil, fmt.Errorf("%w: %s", stage.ErrReplyTimeout, req.String())
	}
}

// abandon resolves the race between a timed-out sender and the receiver.
// If the pending entry is still registered the request moves to the orphan
// registry and nil is returned; if the receiver already claimed it, the
// reply it routed is taken within a short grace period.
func (c *Connection) abandon(req *zaber.Request, p *pendingReply) *zaber.Reply {
	if _, loaded := c.pending.LoadAndDelete(req.ID); loaded {
		c.orphans.Store(req.ID, req)
		c.logger.Warn("reply timeout, command may still execute", "frame", req.String())

		return nil
	}

	grace := pool.GetTimer(orphanGracePeriod)
	defer pool.PutTimer(grace)

	select {
	case reply := <-p.ch:
		return reply
	case <-grace.C:
		return nil
	}
}

// recvLoop reads reply lines off the socket and routes them until the
// socket closes. Alert and info lines, and lines that fail to decode, are
// discarded.
func (c *Connection) recvLoop(conn net.Conn, dropped, recvDone chan struct{}) {
	defer close(recvDone)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		reply, err := zaber.Decode(line)
		if err != nil {
			if errors.Is(err, zaber.ErrNotReply) {
				c.logger.Debug("discarding non-reply line", "line", line)
			} else {
				c.logger.Warn("discarding malformed line", "line", line, "error", err)
			}
			c.metrics.incDiscardedLineCount()

			continue
		}

		c.route(reply)
	}

	if err := scanner.Err(); err != nil && !c.shutdown.Load() {
		c.logger.Error("receive loop terminated", "error", err)
	}

	if !c.shutdown.Load() {
		c.setConnState(stage.ConnFaulted)
	}

	// wake every sender still waiting on a reply
	close(dropped)
}

// route delivers one decoded reply to its waiting sender, or to the orphan
// handler when the sender already timed out.
func (c *Connection) route(reply *zaber.Reply) {
	c.metrics.incReplyRecvCount()
	if reply.Rejected() {
		c.metrics.incRejectRecvCount()
	}

	if p, ok := c.pending.LoadAndDelete(reply.ID); ok {
		p.ch <- reply
		return
	}

	if req, ok := c.orphans.LoadAndDelete(reply.ID); ok {
		c.metrics.incOrphanReplyCount()
		c.logger.Debug("late reply", "frame", req.String(), "reply", reply.String())

		c.orphanMu.RLock()
		handler := c.orphanHandler
		c.orphanMu.RUnlock()

		if handler != nil {
			handler(req, reply)
		}

		return
	}

	c.metrics.incDiscardedLineCount()
	c.logger.Debug("discarding unmatched reply", "reply", reply.String())
}

// dropSession tears down the socket after a write failure. The receiver
// notices the closed socket, marks the connection faulted and wakes any
// waiting senders.
func (c *Connection) dropSession(reason error) {
	c.logger.Error("dropping session", "reason", reason)

	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Connection) setConnState(s stage.ConnState) {
	c.connState.Store(uint32(s))
}
