package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caliblab/linearstage/internal/pool"
	"github.com/caliblab/linearstage/logger"
	"github.com/caliblab/linearstage/stage"
	"github.com/caliblab/linearstage/zaber"
)

// Transport drives an emulated device behind the stage.Transport contract.
// Each Transport serves one stage index; two transports on different
// indices are fully independent, two on the same index share the retained
// device the way two sessions to the same hardware would.
type Transport struct {
	profile stage.StageProfile
	logger  logger.Logger

	index       int
	latency     time.Duration
	speed       float64 // steps per second
	maxAttempts int
	retryDelay  time.Duration

	failRemaining atomic.Int32

	connState atomic.Uint32
	idGen     zaber.IDGenerator

	devMu  sync.RWMutex
	device *Device
}

var _ stage.Transport = (*Transport)(nil)

// Option configures a Transport.
type Option func(*Transport) error

// WithIndex sets the stage index, which doubles as the emulated device's
// daisy-chain address. The default is 1.
func WithIndex(index int) Option {
	return func(t *Transport) error {
		if index < 1 || index > 99 {
			return errors.New("index out of range [1, 99]")
		}
		t.index = index
		return nil
	}
}

// WithLatency adds a per-command round-trip delay. The default is zero.
func WithLatency(d time.Duration) Option {
	return func(t *Transport) error {
		if d < 0 {
			return errors.New("latency must not be negative")
		}
		t.latency = d
		return nil
	}
}

// WithSpeed sets the emulated axis speed in physical units per second.
// The default is 1000 units per second so tests complete quickly.
func WithSpeed(unitsPerSecond float64) Option {
	return func(t *Transport) error {
		if unitsPerSecond <= 0 {
			return errors.New("speed must be positive")
		}
		t.speed = unitsPerSecond * t.profile.StepsPerUnit
		return nil
	}
}

// WithConnectFailures makes the next n connection attempts fail, to
// exercise retry handling. Failures are consumed across Connect calls.
func WithConnectFailures(n int) Option {
	return func(t *Transport) error {
		if n < 0 {
			return errors.New("connect failures must not be negative")
		}
		t.failRemaining.Store(int32(n))
		return nil
	}
}

// WithMaxAttempts sets the connection attempt budget per Connect call.
// The default is 3.
func WithMaxAttempts(n int) Option {
	return func(t *Transport) error {
		if n < 1 {
			return errors.New("max attempts must be at least 1")
		}
		t.maxAttempts = n
		return nil
	}
}

// WithRetryDelay sets the delay between connection attempts. The default
// is one millisecond.
func WithRetryDelay(d time.Duration) Option {
	return func(t *Transport) error {
		if d < 0 {
			return errors.New("retry delay must not be negative")
		}
		t.retryDelay = d
		return nil
	}
}

// WithLogger sets the transport logger. The default is the package-level
// logger.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		t.logger = l
		return nil
	}
}

// NewTransport creates a simulated transport for the given stage profile.
func NewTransport(profile stage.StageProfile, opts ...Option) (*Transport, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	t := &Transport{
		profile:     profile,
		logger:      logger.GetLogger(),
		index:       1,
		speed:       1000 * profile.StepsPerUnit,
		maxAttempts: 3,
		retryDelay:  time.Millisecond,
	}
	t.connState.Store(uint32(stage.Disconnected))

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}

	t.logger = t.logger.With("sim", true, "index", t.index)

	return t, nil
}

// State returns the current connection state.
func (t *Transport) State() stage.ConnState {
	return stage.ConnState(t.connState.Load())
}

// Connect resolves the retained device for this transport's index,
// consuming any injected connection failures first. It returns
// stage.ErrConnExhausted once the attempt budget is spent.
func (t *Transport) Connect(ctx context.Context) error {
	t.connState.Store(uint32(stage.ConnConnecting))

	units := t.profile.Units()
	minSteps := units.Steps(t.profile.MinPosition)
	maxSteps := units.Steps(t.profile.MaxPosition)

	for attempt := 1; attempt <= t.maxAttempts; attempt++ {
		if attempt > 1 {
			timer := pool.GetTimer(t.retryDelay)
			select {
			case <-ctx.Done():
				pool.PutTimer(timer)
				t.connState.Store(uint32(stage.Disconnected))
				return ctx.Err()
			case <-timer.C:
				pool.PutTimer(timer)
			}
		}

		if t.failRemaining.Add(-1) >= 0 {
			t.logger.Warn("dial failed", "attempt", attempt)
			continue
		}

		dev := deviceFor(t.index, minSteps, maxSteps, t.speed)

		t.devMu.Lock()
		t.device = dev
		t.devMu.Unlock()

		t.connState.Store(uint32(stage.Connected))
		t.logger.Info("connected", "attempt", attempt, "homed", dev.Homed())

		return nil
	}

	t.connState.Store(uint32(stage.ConnFaulted))

	return fmt.Errorf("%w after %d attempts", stage.ErrConnExhausted, t.maxAttempts)
}

// Send answers one request from the emulated device after the configured
// latency.
func (t *Transport) Send(ctx context.Context, req *zaber.Request) (*zaber.Reply, error) {
	if t.State() != stage.Connected {
		return nil, stage.ErrNotConnected
	}

	t.devMu.RLock()
	dev := t.device
	t.devMu.RUnlock()

	if dev == nil {
		return nil, stage.ErrNotConnected
	}

	req.Device = t.index
	req.Axis = 1
	req.ID = t.idGen.NextID()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	if t.latency > 0 {
		timer := pool.GetTimer(t.latency)
		select {
		case <-ctx.Done():
			pool.PutTimer(timer)
			return nil, ctx.Err()
		case <-timer.C:
			pool.PutTimer(timer)
		}
	}

	reply := dev.Execute(req)
	t.logger.Debug("exchange", "frame", req.String(), "reply", reply.String())

	return reply, nil
}

// Disconnect releases the session. The device itself stays registered so a
// later connection to the same index sees its retained state.
func (t *Transport) Disconnect() error {
	t.devMu.Lock()
	t.device = nil
	t.devMu.Unlock()

	t.connState.Store(uint32(stage.Disconnected))

	return nil
}
