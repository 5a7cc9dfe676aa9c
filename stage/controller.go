package stage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caliblab/linearstage/internal/pool"
	"github.com/caliblab/linearstage/logger"
	"github.com/caliblab/linearstage/zaber"
)

const defaultPollInterval = 100 * time.Millisecond

// MotionState is a snapshot of the authoritative motion record for one
// stage instance, suitable for periodic telemetry publication.
type MotionState struct {
	State         State
	Position      float64 // physical units; valid only if PositionKnown
	PositionKnown bool
	Homed         bool
	Moving        bool
	Target        float64 // last commanded target, physical units
	FaultReason   string  // set while State == Faulted
}

// Controller is the motion state machine for one stage instance. It owns
// exactly one Transport and serializes command issuance on it: at most one
// request is outstanding at a time, and concurrent motion operations are
// rejected with ErrBusy.
//
// Motion state is mutated only in response to confirmed device replies,
// never speculatively.
type Controller struct {
	profile StageProfile
	units   zaber.Units
	tr      Transport
	logger  logger.Logger

	pollInterval time.Duration

	opMu   sync.Mutex // held for the duration of connect/home/move
	sendMu sync.Mutex // serializes individual request/reply exchanges

	state    atomic.Uint32
	handlers []StateChangeHandler

	mu          sync.Mutex // guards the fields below
	pos         float64
	posKnown    bool
	homed       bool
	target      float64
	faultReason string
}

// Option configures a Controller.
type Option func(*Controller) error

// WithLogger sets the controller logger. The default is the package-level
// logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Controller) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		c.logger = l
		return nil
	}
}

// WithPollInterval sets the device status polling interval used while a
// motion command executes. The default is 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		c.pollInterval = d
		return nil
	}
}

// WithStateChangeHandler registers a handler invoked on every controller
// state transition.
func WithStateChangeHandler(h StateChangeHandler) Option {
	return func(c *Controller) error {
		if h == nil {
			return errors.New("state change handler is nil")
		}
		c.handlers = append(c.handlers, h)
		return nil
	}
}

// NewController creates a motion controller for the given stage profile
// driving the given transport.
func NewController(profile StageProfile, tr Transport, opts ...Option) (*Controller, error) {
	if tr == nil {
		return nil, errors.New("transport is nil")
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		profile:      profile,
		units:        profile.Units(),
		tr:           tr,
		logger:       logger.GetLogger(),
		pollInterval: defaultPollInterval,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.logger = c.logger.With("stage", profile.Name, "axis", profile.AxisLabel)

	// Late replies refresh telemetry even though the original caller
	// already received a timeout error.
	if src, ok := tr.(OrphanReplySource); ok {
		src.SetOrphanReplyHandler(c.orphanReply)
	}

	return c, nil
}

// Profile returns the stage profile the controller was created with.
func (c *Controller) Profile() StageProfile { return c.profile }

// State returns the current controller state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Telemetry returns a snapshot of the motion state.
func (c *Controller) Telemetry() MotionState {
	st := c.State()

	c.mu.Lock()
	defer c.mu.Unlock()

	return MotionState{
		State:         st,
		Position:      c.pos,
		PositionKnown: c.posKnown,
		Homed:         c.homed,
		Moving:        st == Moving,
		Target:        c.target,
		FaultReason:   c.faultReason,
	}
}

// Connect establishes the device session. It is permitted from the
// Uninitialized and Faulted states; Faulted clears only through here.
//
// On success the controller queries the device's own retained-home flag:
// if the device reports a home reference, the stage is immediately usable
// with homed=true and no physical home cycle. A client-side cache is never
// trusted for this; only the device report counts.
func (c *Controller) Connect(ctx context.Context) error {
	if !c.opMu.TryLock() {
		return ErrBusy
	}
	defer c.opMu.Unlock()

	switch cur := c.State(); cur {
	case Uninitialized, Faulted:
	default:
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, cur)
	}

	c.mu.Lock()
	c.faultReason = ""
	c.mu.Unlock()

	c.setState(Connecting)

	if err := c.tr.Connect(ctx); err != nil {
		c.fault(err)
		return err
	}

	homed, pos, err := c.queryRetainedHome(ctx)
	if err != nil {
		c.fault(err)
		_ = c.tr.Disconnect()
		return err
	}

	c.mu.Lock()
	c.homed = homed
	c.posKnown = homed
	if homed {
		c.pos = pos
	}
	c.mu.Unlock()

	c.setState(Idle)
	c.logger.Info("connected", "homed", homed)

	return nil
}

// Disconnect releases the device session and returns the controller to
// Uninitialized. Position confidence does not survive a session, so homed
// and position become unknown; a device that retains its home reference
// will report it again on the next Connect.
func (c *Controller) Disconnect() error {
	if !c.opMu.TryLock() {
		return ErrBusy
	}
	defer c.opMu.Unlock()

	err := c.tr.Disconnect()

	c.mu.Lock()
	c.homed = false
	c.posKnown = false
	c.faultReason = ""
	c.mu.Unlock()

	c.setState(Uninitialized)
	c.logger.Info("disconnected")

	return err
}

// Home drives the stage to its physical reference position. Permitted only
// from Idle. Once the device reports the cycle done, the controller asks it
// whether a reference was actually established; a home cycle interrupted by
// a concurrent Stop ends with the device still asserting WR, and the
// controller must not claim a reference the device does not hold. On device
// rejection it stays in Idle with homed=false and the caller may retry.
func (c *Controller) Home(ctx context.Context) error {
	if !c.opMu.TryLock() {
		return ErrBusy
	}
	defer c.opMu.Unlock()

	if err := c.requireIdle("home"); err != nil {
		return err
	}

	c.setState(Homing)
	c.logger.Info("homing")

	reply, err := c.send(ctx, &zaber.Request{Op: zaber.OpHome})
	if err != nil {
		return c.failOp(err, Idle)
	}
	if reply.Rejected() {
		c.setState(Idle)
		return fmt.Errorf("%w: home: %s", zaber.ErrDeviceRejected, zaber.RejectReason(reply.Data))
	}

	if err := c.waitMotionDone(ctx); err != nil {
		return c.failOp(err, Idle)
	}

	homed, pos, err := c.queryRetainedHome(ctx)
	if err != nil {
		return c.failOp(err, Idle)
	}

	c.mu.Lock()
	c.homed = homed
	if homed {
		c.pos = pos
		c.posKnown = true
	}
	c.mu.Unlock()

	c.setState(Idle)

	if !homed {
		c.logger.Warn("home cycle ended without a reference")
		return fmt.Errorf("%w: home interrupted before the device established a reference", ErrNotHomed)
	}

	c.logger.Info("homed", "position", pos)

	return nil
}

// MoveAbsolute moves the stage to the given absolute physical position.
// Permitted only from Idle with an established home reference; targets
// outside the travel limits are rejected before any device I/O.
func (c *Controller) MoveAbsolute(ctx context.Context, target float64) error {
	if !c.opMu.TryLock() {
		return ErrBusy
	}
	defer c.opMu.Unlock()

	if err := c.checkMovePreconditions("move absolute", target); err != nil {
		return err
	}

	return c.move(ctx, &zaber.Request{Op: zaber.OpMoveAbs, Steps: c.units.Steps(target)}, target)
}

// MoveRelative moves the stage by the given physical distance from its
// current position. The resolved target must lie within the travel limits.
func (c *Controller) MoveRelative(ctx context.Context, dist float64) error {
	if !c.opMu.TryLock() {
		return ErrBusy
	}
	defer c.opMu.Unlock()

	c.mu.Lock()
	target := c.pos + dist
	c.mu.Unlock()

	if err := c.checkMovePreconditions("move relative", target); err != nil {
		return err
	}

	return c.move(ctx, &zaber.Request{Op: zaber.OpMoveRel, Steps: c.units.StepsRel(dist)}, target)
}

// Stop halts the current motion. Permitted from Moving and Homing; it may
// be called concurrently with the blocking motion operation it interrupts.
// The position the device reports after stopping is authoritative truth,
// not the previously commanded target.
func (c *Controller) Stop(ctx context.Context) error {
	prev := c.State()
	if prev != Moving && prev != Homing {
		if prev == Faulted {
			return ErrFaulted
		}
		return fmt.Errorf("%w: stop from %s", ErrInvalidState, prev)
	}

	c.setState(Stopping)
	c.logger.Info("stopping", "from", prev)

	reply, err := c.send(ctx, &zaber.Request{Op: zaber.OpStop})
	if err != nil {
		return c.failOp(err, prev)
	}
	if reply.Rejected() {
		c.setState(prev)
		return fmt.Errorf("%w: stop: %s", zaber.ErrDeviceRejected, zaber.RejectReason(reply.Data))
	}

	if err := c.waitMotionDone(ctx); err != nil {
		return c.failOp(err, Idle)
	}

	pos, err := c.readPosition(ctx)
	if err != nil {
		return c.failOp(err, Idle)
	}

	c.mu.Lock()
	c.pos = pos
	c.posKnown = true
	c.mu.Unlock()

	c.setState(Idle)
	c.logger.Info("stopped", "position", pos)

	return nil
}

// QueryPosition reads the current position from the device. Permitted in
// any connected non-Faulted state, including mid-motion, and does not alter
// the homed or moving status. It backs periodic telemetry.
func (c *Controller) QueryPosition(ctx context.Context) (float64, error) {
	switch cur := c.State(); cur {
	case Faulted:
		return 0, ErrFaulted
	case Uninitialized, Connecting:
		return 0, ErrNotConnected
	default:
	}

	pos, err := c.readPosition(ctx)
	if err != nil {
		if errors.Is(err, ErrConnLost) || errors.Is(err, ErrNotConnected) || errors.Is(err, zaber.ErrMalformedFrame) {
			c.fault(err)
		}
		return 0, err
	}

	c.mu.Lock()
	c.pos = pos
	c.posKnown = true
	c.mu.Unlock()

	return pos, nil
}

// move runs the shared acceptance/poll/confirm sequence for absolute and
// relative moves. The caller holds opMu and has validated preconditions.
func (c *Controller) move(ctx context.Context, req *zaber.Request, target float64) error {
	c.mu.Lock()
	c.target = target
	c.mu.Unlock()

	c.setState(Moving)
	c.logger.Info("moving", "target", target, "steps", req.Steps)

	reply, err := c.send(ctx, req)
	if err != nil {
		return c.failOp(err, Idle)
	}
	if reply.Rejected() {
		c.setState(Idle)
		return fmt.Errorf("%w: move: %s", zaber.ErrDeviceRejected, zaber.RejectReason(reply.Data))
	}

	if err := c.waitMotionDone(ctx); err != nil {
		return c.failOp(err, Idle)
	}

	pos, err := c.readPosition(ctx)
	if err != nil {
		return c.failOp(err, Idle)
	}

	c.mu.Lock()
	c.pos = pos
	c.posKnown = true
	c.mu.Unlock()

	c.setState(Idle)
	c.logger.Info("move complete", "position", pos)

	return nil
}

// checkMovePreconditions rejects motion requests before any device I/O:
// wrong state, missing home reference, or a target outside travel limits.
func (c *Controller) checkMovePreconditions(op string, target float64) error {
	if err := c.requireIdle(op); err != nil {
		return err
	}

	c.mu.Lock()
	homed := c.homed
	c.mu.Unlock()

	if !homed {
		return fmt.Errorf("%w: %s requires a home reference", ErrNotHomed, op)
	}
	if !c.profile.InRange(target) {
		return fmt.Errorf("%w: %s target %v outside [%v, %v]",
			ErrOutOfRange, op, target, c.profile.MinPosition, c.profile.MaxPosition)
	}

	return nil
}

func (c *Controller) requireIdle(op string) error {
	switch cur := c.State(); cur {
	case Idle:
		return nil
	case Faulted:
		return ErrFaulted
	case Uninitialized, Connecting:
		return ErrNotConnected
	default:
		return fmt.Errorf("%w: %s from %s", ErrBusy, op, cur)
	}
}

// queryRetainedHome asks the device whether it holds a home reference and,
// if so, reads the current position. Connect uses it to pick up a retained
// reference; Home uses it to confirm the cycle actually established one.
func (c *Controller) queryRetainedHome(ctx context.Context) (bool, float64, error) {
	reply, err := c.send(ctx, &zaber.Request{Op: zaber.OpWarnings})
	if err != nil {
		return false, 0, err
	}
	if reply.Rejected() || !reply.HasReference() {
		return false, 0, nil
	}

	pos, err := c.readPosition(ctx)
	if err != nil {
		if errors.Is(err, zaber.ErrDeviceRejected) {
			// reference claimed but position unreadable: require a home
			return false, 0, nil
		}
		return false, 0, err
	}

	return true, pos, nil
}

// readPosition performs one position query and converts to physical units.
// A position reply that cannot be parsed is a protocol violation.
func (c *Controller) readPosition(ctx context.Context) (float64, error) {
	reply, err := c.send(ctx, &zaber.Request{Op: zaber.OpGetPos})
	if err != nil {
		return 0, err
	}
	if reply.Rejected() {
		return 0, fmt.Errorf("%w: get pos: %s", zaber.ErrDeviceRejected, zaber.RejectReason(reply.Data))
	}

	steps, err := reply.Steps()
	if err != nil {
		return 0, err
	}

	return c.units.Position(steps), nil
}

// waitMotionDone polls the device status until it reports IDLE.
func (c *Controller) waitMotionDone(ctx context.Context) error {
	for {
		reply, err := c.send(ctx, &zaber.Request{Op: zaber.OpStatus})
		if err != nil {
			return err
		}
		if !reply.Busy() {
			return nil
		}

		timer := pool.GetTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			pool.PutTimer(timer)
			return ctx.Err()
		case <-timer.C:
			pool.PutTimer(timer)
		}
	}
}

// send performs one serialized request/reply exchange. The transport fills
// in addressing and the correlation id.
func (c *Controller) send(ctx context.Context, req *zaber.Request) (*zaber.Reply, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	reply, err := c.tr.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if reply.Warning != zaber.NoWarning && !reply.Rejected() {
		c.logger.Warn("device warning", "flag", reply.Warning, "meaning", reply.Warning.Text())
	}

	return reply, nil
}

// failOp handles a failed exchange inside a motion operation. A lost
// session forces Faulted because position confidence is gone; the exchange
// only ran because the controller held a session, so a transport denying
// connectivity mid-operation means the same thing. A timeout or
// cancellation reverts to the given state with the last confirmed position
// kept (a late reply, if any, arrives through the orphan handler).
func (c *Controller) failOp(err error, revert State) error {
	if errors.Is(err, ErrConnLost) || errors.Is(err, ErrNotConnected) || errors.Is(err, zaber.ErrMalformedFrame) {
		c.fault(err)
		return err
	}

	c.setState(revert)

	return err
}

// fault transitions to Faulted and invalidates position confidence. Only
// an explicit Connect clears it.
func (c *Controller) fault(reason error) {
	c.mu.Lock()
	c.homed = false
	c.posKnown = false
	c.faultReason = reason.Error()
	c.mu.Unlock()

	c.setState(Faulted)
	c.logger.Error("stage faulted", "reason", reason)
}

// orphanReply absorbs replies that arrived after their request timed out.
// Position-bearing replies refresh current_position, and a late warnings
// reply carries the device's own reference report, so it updates homed in
// either direction. Nothing else is trusted from a late reply; a late home
// acknowledgement in particular only proves acceptance, not completion.
func (c *Controller) orphanReply(req *zaber.Request, reply *zaber.Reply) {
	if req == nil || reply == nil || reply.Rejected() {
		return
	}

	switch req.Op {
	case zaber.OpGetPos:
		steps, err := reply.Steps()
		if err != nil {
			c.logger.Debug("discarding unparsable late reply", "reply", reply.String())
			return
		}

		pos := c.units.Position(steps)

		c.mu.Lock()
		c.pos = pos
		c.posKnown = true
		c.mu.Unlock()

		c.logger.Debug("late position reply absorbed", "position", pos, "id", reply.ID)

	case zaber.OpWarnings:
		homed := reply.HasReference()

		c.mu.Lock()
		c.homed = homed
		c.mu.Unlock()

		c.logger.Debug("late reference report absorbed", "homed", homed, "id", reply.ID)
	}
}

// setState transitions the controller state and notifies handlers.
// Faulted is sticky: once faulted, only the Connecting transition (from an
// explicit Connect) leaves it.
func (c *Controller) setState(newState State) {
	for {
		prev := State(c.state.Load())
		if prev == newState {
			return
		}
		if prev == Faulted && newState != Connecting {
			return
		}
		if c.state.CompareAndSwap(uint32(prev), uint32(newState)) {
			c.logger.Debug("state transition", "prev", prev, "cur", newState)
			for _, h := range c.handlers {
				h(prev, newState)
			}
			return
		}
	}
}
