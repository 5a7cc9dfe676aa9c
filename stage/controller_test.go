package stage

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caliblab/linearstage/zaber"
)

// testProfile keeps the numbers easy to reason about: 100 steps per mm
// over a 0..50mm travel.
var testProfile = StageProfile{
	Name:         "TEST-0050",
	AxisLabel:    "linear",
	StepsPerUnit: 100,
	MinPosition:  0,
	MaxPosition:  50,
}

// fakeTransport is an in-memory device model behind the Transport
// interface. It answers each opcode the way a stage controller would,
// with hooks for injected errors, rejections and a motion that stays
// busy until explicitly stopped.
type fakeTransport struct {
	mu        sync.Mutex
	connState ConnState

	connectErr error
	sendErr    map[zaber.Opcode]error
	rejects    map[zaber.Opcode]string

	homed  bool
	homing bool // home travel in progress; reference set on completion
	steps  int64

	busyPolls     int  // remaining status polls answered BUSY
	busyUntilStop bool // stay BUSY until an OpStop arrives
	stopped       bool

	sent    []zaber.Opcode
	handler OrphanReplyHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sendErr: make(map[zaber.Opcode]error),
		rejects: make(map[zaber.Opcode]string),
	}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		f.connState = ConnFaulted
		return f.connectErr
	}

	f.connState = Connected

	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connState = Disconnected

	return nil
}

func (f *fakeTransport) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connState
}

func (f *fakeTransport) SetOrphanReplyHandler(h OrphanReplyHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) Send(_ context.Context, req *zaber.Request) (*zaber.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, req.Op)

	if err, ok := f.sendErr[req.Op]; ok {
		return nil, err
	}

	reply := &zaber.Reply{
		Device:  1,
		Axis:    1,
		Flag:    zaber.FlagOK,
		Status:  zaber.StatusIdle,
		Warning: zaber.NoWarning,
	}
	if !f.homed {
		reply.Warning = zaber.WarnNoReference
	}

	if code, ok := f.rejects[req.Op]; ok {
		reply.Flag = zaber.FlagRejected
		reply.Data = code
		return reply, nil
	}

	switch req.Op {
	case zaber.OpHome:
		f.homing = true
		f.stopped = false
	case zaber.OpMoveAbs:
		f.steps = req.Steps
		f.stopped = false
	case zaber.OpMoveRel:
		f.steps += req.Steps
		f.stopped = false
	case zaber.OpStop:
		f.stopped = true
		f.busyPolls = 0
		// an interrupted home cycle never establishes a reference
		f.homing = false
	case zaber.OpStatus:
		if f.busyUntilStop && !f.stopped {
			reply.Status = zaber.StatusBusy
		} else if f.busyPolls > 0 {
			f.busyPolls--
			reply.Status = zaber.StatusBusy
		} else if f.homing {
			f.homed = true
			f.steps = 0
			f.homing = false
		}
	case zaber.OpGetPos:
		reply.Data = strconv.FormatInt(f.steps, 10)
	case zaber.OpWarnings:
		// warning flag already reflects the homed state
	}

	return reply, nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.sent)
}

func (f *fakeTransport) setSteps(steps int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps = steps
}

func newTestController(t *testing.T, tr Transport, opts ...Option) *Controller {
	t.Helper()

	opts = append([]Option{WithPollInterval(time.Millisecond)}, opts...)

	c, err := NewController(testProfile, tr, opts...)
	require.NoError(t, err)

	return c
}

func TestControllerConnect(t *testing.T) {
	t.Run("fresh device requires homing", func(t *testing.T) {
		tr := newFakeTransport()
		c := newTestController(t, tr)

		require.NoError(t, c.Connect(context.Background()))

		ms := c.Telemetry()
		require.Equal(t, Idle, ms.State)
		require.False(t, ms.Homed)
		require.False(t, ms.PositionKnown)
	})

	t.Run("retained home reference is trusted from the device", func(t *testing.T) {
		tr := newFakeTransport()
		tr.homed = true
		tr.steps = 2500
		c := newTestController(t, tr)

		require.NoError(t, c.Connect(context.Background()))

		ms := c.Telemetry()
		require.Equal(t, Idle, ms.State)
		require.True(t, ms.Homed)
		require.True(t, ms.PositionKnown)
		require.InDelta(t, 25.0, ms.Position, 1e-9)

		// no physical home cycle was issued
		require.NotContains(t, tr.sent, zaber.OpHome)
	})

	t.Run("connect failure faults", func(t *testing.T) {
		tr := newFakeTransport()
		tr.connectErr = ErrConnExhausted
		c := newTestController(t, tr)

		err := c.Connect(context.Background())
		require.ErrorIs(t, err, ErrConnExhausted)
		require.Equal(t, Faulted, c.State())
	})

	t.Run("connect from idle rejected", func(t *testing.T) {
		tr := newFakeTransport()
		c := newTestController(t, tr)

		require.NoError(t, c.Connect(context.Background()))
		require.ErrorIs(t, c.Connect(context.Background()), ErrInvalidState)
	})
}

func TestControllerHomeAndMove(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Home(ctx))

	ms := c.Telemetry()
	require.True(t, ms.Homed)
	require.True(t, ms.PositionKnown)
	require.InDelta(t, 0.0, ms.Position, 1e-9)

	require.NoError(t, c.MoveAbsolute(ctx, 25))

	pos, err := c.QueryPosition(ctx)
	require.NoError(t, err)
	require.InDelta(t, 25.0, pos, 1e-9)

	// a relative move that would land at -5mm is rejected before any
	// device I/O, leaving position and state untouched
	before := tr.sentCount()
	err = c.MoveRelative(ctx, -30)
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, before, tr.sentCount())

	ms = c.Telemetry()
	require.Equal(t, Idle, ms.State)
	require.InDelta(t, 25.0, ms.Position, 1e-9)

	// a legal relative move resolves against the current position
	require.NoError(t, c.MoveRelative(ctx, -10))
	pos, err = c.QueryPosition(ctx)
	require.NoError(t, err)
	require.InDelta(t, 15.0, pos, 1e-9)
}

func TestControllerMovePreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		c := newTestController(t, newFakeTransport())
		require.ErrorIs(t, c.MoveAbsolute(ctx, 10), ErrNotConnected)
		require.ErrorIs(t, c.Home(ctx), ErrNotConnected)
	})

	t.Run("not homed", func(t *testing.T) {
		tr := newFakeTransport()
		c := newTestController(t, tr)
		require.NoError(t, c.Connect(ctx))

		before := tr.sentCount()
		require.ErrorIs(t, c.MoveAbsolute(ctx, 10), ErrNotHomed)
		require.ErrorIs(t, c.MoveRelative(ctx, 1), ErrNotHomed)
		require.Equal(t, before, tr.sentCount())
	})

	t.Run("absolute target out of range", func(t *testing.T) {
		tr := newFakeTransport()
		tr.homed = true
		c := newTestController(t, tr)
		require.NoError(t, c.Connect(ctx))

		before := tr.sentCount()
		require.ErrorIs(t, c.MoveAbsolute(ctx, 50.001), ErrOutOfRange)
		require.ErrorIs(t, c.MoveAbsolute(ctx, -0.001), ErrOutOfRange)
		require.Equal(t, before, tr.sentCount())
	})
}

func TestControllerDeviceRejection(t *testing.T) {
	ctx := context.Background()

	t.Run("home rejected stays idle and unhomed", func(t *testing.T) {
		tr := newFakeTransport()
		tr.rejects[zaber.OpHome] = "BADDATA"
		c := newTestController(t, tr)
		require.NoError(t, c.Connect(ctx))

		err := c.Home(ctx)
		require.ErrorIs(t, err, zaber.ErrDeviceRejected)
		require.ErrorContains(t, err, "invalid data")

		ms := c.Telemetry()
		require.Equal(t, Idle, ms.State)
		require.False(t, ms.Homed)
	})

	t.Run("move rejected stays idle", func(t *testing.T) {
		tr := newFakeTransport()
		tr.homed = true
		tr.rejects[zaber.OpMoveAbs] = "AGAIN"
		c := newTestController(t, tr)
		require.NoError(t, c.Connect(ctx))

		require.ErrorIs(t, c.MoveAbsolute(ctx, 10), zaber.ErrDeviceRejected)
		require.Equal(t, Idle, c.State())
		require.True(t, c.Telemetry().Homed)
	})
}

func TestControllerConnectionLossFaults(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.homed = true
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))

	// the session drops while the move polls for completion
	tr.mu.Lock()
	tr.sendErr[zaber.OpStatus] = ErrConnLost
	tr.mu.Unlock()

	require.ErrorIs(t, c.MoveAbsolute(ctx, 10), ErrConnLost)

	ms := c.Telemetry()
	require.Equal(t, Faulted, ms.State)
	require.False(t, ms.Homed)
	require.False(t, ms.PositionKnown)
	require.NotEmpty(t, ms.FaultReason)

	// everything except Connect is refused while faulted
	require.ErrorIs(t, c.MoveAbsolute(ctx, 10), ErrFaulted)
	require.ErrorIs(t, c.Home(ctx), ErrFaulted)
	_, err := c.QueryPosition(ctx)
	require.ErrorIs(t, err, ErrFaulted)
	require.ErrorIs(t, c.Stop(ctx), ErrFaulted)

	// reconnecting clears the fault; the device lost its reference in
	// the outage, so motion needs a fresh home cycle first
	tr.mu.Lock()
	delete(tr.sendErr, zaber.OpStatus)
	tr.homed = false
	tr.mu.Unlock()

	require.NoError(t, c.Connect(ctx))
	require.Equal(t, Idle, c.State())
	require.ErrorIs(t, c.MoveAbsolute(ctx, 10), ErrNotHomed)
	require.NoError(t, c.Home(ctx))
	require.NoError(t, c.MoveAbsolute(ctx, 10))
}

func TestControllerSessionDropBetweenPolls(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.homed = true
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))

	// the receiver notices the drop between two status polls, so the
	// next exchange is refused outright rather than failing on the wire
	tr.mu.Lock()
	tr.sendErr[zaber.OpStatus] = ErrNotConnected
	tr.mu.Unlock()

	require.ErrorIs(t, c.MoveAbsolute(ctx, 10), ErrNotConnected)

	ms := c.Telemetry()
	require.Equal(t, Faulted, ms.State)
	require.False(t, ms.Homed)
	require.False(t, ms.PositionKnown)
	require.NotEmpty(t, ms.FaultReason)

	// recovery is a plain reconnect, no Disconnect needed first
	tr.mu.Lock()
	delete(tr.sendErr, zaber.OpStatus)
	tr.mu.Unlock()

	require.NoError(t, c.Connect(ctx))
	require.Equal(t, Idle, c.State())
	require.NoError(t, c.MoveAbsolute(ctx, 10))
}

func TestControllerStopDuringHoming(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.busyUntilStop = true
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))

	homeDone := make(chan error, 1)
	go func() {
		homeDone <- c.Home(ctx)
	}()

	require.Eventually(t, func() bool {
		return c.State() == Homing
	}, time.Second, time.Millisecond)

	tr.setSteps(700)
	require.NoError(t, c.Stop(ctx))

	// the interrupted cycle never reached the reference; the device
	// still asserts WR and the controller must agree
	require.ErrorIs(t, <-homeDone, ErrNotHomed)

	ms := c.Telemetry()
	require.Equal(t, Idle, ms.State)
	require.False(t, ms.Homed)
	require.True(t, ms.PositionKnown)
	require.InDelta(t, 7.0, ms.Position, 1e-9)

	require.ErrorIs(t, c.MoveAbsolute(ctx, 5), ErrNotHomed)

	// an uninterrupted retry establishes the reference
	tr.mu.Lock()
	tr.busyUntilStop = false
	tr.mu.Unlock()

	require.NoError(t, c.Home(ctx))
	require.True(t, c.Telemetry().Homed)
}

func TestControllerReplyTimeoutKeepsLastPosition(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.homed = true
	tr.steps = 2000
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))

	tr.mu.Lock()
	tr.sendErr[zaber.OpMoveAbs] = ErrReplyTimeout
	tr.mu.Unlock()

	require.ErrorIs(t, c.MoveAbsolute(ctx, 30), ErrReplyTimeout)

	// a timeout is not a lost session: the controller returns to Idle
	// with the last confirmed position intact
	ms := c.Telemetry()
	require.Equal(t, Idle, ms.State)
	require.True(t, ms.Homed)
	require.InDelta(t, 20.0, ms.Position, 1e-9)
}

func TestControllerStop(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.homed = true
	tr.busyUntilStop = true
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))

	moveDone := make(chan error, 1)
	go func() {
		moveDone <- c.MoveAbsolute(ctx, 50)
	}()

	require.Eventually(t, func() bool {
		return c.State() == Moving
	}, time.Second, time.Millisecond)

	// concurrent motion commands are refused while the move runs
	require.ErrorIs(t, c.Home(ctx), ErrBusy)
	require.ErrorIs(t, c.MoveAbsolute(ctx, 1), ErrBusy)

	// the stage is interrupted partway; the device-reported position
	// wins over the commanded target
	tr.setSteps(1200)
	require.NoError(t, c.Stop(ctx))

	require.NoError(t, <-moveDone)

	ms := c.Telemetry()
	require.Equal(t, Idle, ms.State)
	require.True(t, ms.Homed)
	require.InDelta(t, 12.0, ms.Position, 1e-9)
}

func TestControllerStopFromIdle(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))
	require.ErrorIs(t, c.Stop(ctx), ErrInvalidState)
}

func TestControllerQueryPositionMidMotion(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.homed = true
	tr.busyUntilStop = true
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))

	moveDone := make(chan error, 1)
	go func() {
		moveDone <- c.MoveAbsolute(ctx, 40)
	}()

	require.Eventually(t, func() bool {
		return c.State() == Moving
	}, time.Second, time.Millisecond)

	tr.setSteps(1800)

	pos, err := c.QueryPosition(ctx)
	require.NoError(t, err)
	require.InDelta(t, 18.0, pos, 1e-9)
	require.Equal(t, Moving, c.State())

	require.NoError(t, c.Stop(ctx))
	require.NoError(t, <-moveDone)
}

func TestControllerOrphanReply(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))
	require.NotNil(t, tr.handler)

	// a late position reply refreshes telemetry
	tr.handler(
		&zaber.Request{Op: zaber.OpGetPos},
		&zaber.Reply{Flag: zaber.FlagOK, Status: zaber.StatusIdle, Warning: zaber.NoWarning, Data: "3300"},
	)

	ms := c.Telemetry()
	require.True(t, ms.PositionKnown)
	require.InDelta(t, 33.0, ms.Position, 1e-9)

	// a late home acknowledgement only proves acceptance, never a
	// completed cycle
	tr.handler(
		&zaber.Request{Op: zaber.OpHome},
		&zaber.Reply{Flag: zaber.FlagOK, Status: zaber.StatusIdle, Warning: zaber.NoWarning},
	)
	require.False(t, c.Telemetry().Homed)

	// a late warnings reply carries the device's own reference report
	// and is honored in both directions
	tr.handler(
		&zaber.Request{Op: zaber.OpWarnings},
		&zaber.Reply{Flag: zaber.FlagOK, Status: zaber.StatusIdle, Warning: zaber.NoWarning, Data: "0"},
	)
	require.True(t, c.Telemetry().Homed)

	tr.handler(
		&zaber.Request{Op: zaber.OpWarnings},
		&zaber.Reply{Flag: zaber.FlagOK, Status: zaber.StatusIdle, Warning: zaber.WarnNoReference, Data: "1 WR"},
	)
	require.False(t, c.Telemetry().Homed)
}

func TestControllerStateChangeHandler(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()

	var mu sync.Mutex
	var transitions []State

	c := newTestController(t, tr, WithStateChangeHandler(func(_, cur State) {
		mu.Lock()
		transitions = append(transitions, cur)
		mu.Unlock()
	}))

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Home(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{Connecting, Idle, Homing, Idle}, transitions)
}

func TestControllerDisconnect(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.homed = true
	c := newTestController(t, tr)

	require.NoError(t, c.Connect(ctx))
	require.True(t, c.Telemetry().Homed)

	require.NoError(t, c.Disconnect())

	ms := c.Telemetry()
	require.Equal(t, Uninitialized, ms.State)
	require.False(t, ms.Homed)
	require.False(t, ms.PositionKnown)
	require.Equal(t, Disconnected, tr.State())

	// the device kept its reference; the next session picks it up
	require.NoError(t, c.Connect(ctx))
	require.True(t, c.Telemetry().Homed)
}
