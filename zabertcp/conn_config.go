package zabertcp

import (
	"errors"
	"time"

	"github.com/caliblab/linearstage/logger"
)

// RetryPolicy bounds connection establishment. Each Connect call makes up
// to MaxAttempts dial attempts; the delay before attempt n+1 is
// BaseDelay * Multiplier^(n-1), capped at MaxDelay. A Multiplier of 1 gives
// a fixed delay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy is three attempts with exponential backoff starting
// at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

// Validate checks the policy fields are usable.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("retry max attempts must be at least 1")
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return errors.New("retry delays must not be negative")
	}
	if p.Multiplier < 1 {
		return errors.New("retry multiplier must be at least 1")
	}
	return nil
}

// delay returns the backoff before the given 1-based retry attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ConnectionConfig represents the configuration parameters for one TCP
// device connection.
type ConnectionConfig struct {
	// host and port locate the serial-to-ethernet adapter.
	host string
	port int

	// device is the daisy-chain address of the stage controller and axis
	// the axis number on it. Defaults to device 1, axis 1.
	device int
	axis   int

	// dialTimeout bounds a single dial attempt. Defaults to 3 seconds.
	dialTimeout time.Duration

	// replyTimeout bounds the wait for the reply to one command.
	// Defaults to 5 seconds.
	replyTimeout time.Duration

	// retry bounds connection establishment across dial attempts.
	retry RetryPolicy

	// logger provides a logger instance for connection events and errors.
	logger logger.Logger
}

// NewConnectionConfig creates a connection configuration for the given
// host and port, applying the provided functional options over the
// defaults.
func NewConnectionConfig(host string, port int, opts ...ConnOption) (*ConnectionConfig, error) {
	cfg := &ConnectionConfig{
		device:       1,
		axis:         1,
		dialTimeout:  3 * time.Second,
		replyTimeout: 5 * time.Second,
		retry:        DefaultRetryPolicy(),
		logger:       logger.GetLogger(),
	}

	if err := withHost(host).apply(cfg); err != nil {
		return nil, err
	}
	if err := withPort(port).apply(cfg); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// errConfigNil is returned when an option is applied to a nil config.
var errConfigNil = errors.New("connection config is nil")

// ConnOption represents a functional option for configuring a
// ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc struct {
	name      string
	applyFunc func(*ConnectionConfig) error
}

func (c *connOptFunc) apply(cfg *ConnectionConfig) error { return c.applyFunc(cfg) }

func newConnOptFunc(name string, f func(*ConnectionConfig) error) *connOptFunc {
	return &connOptFunc{name: name, applyFunc: f}
}

func withHost(host string) ConnOption {
	return newConnOptFunc("withHost", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errConfigNil
		}
		if host == "" {
			return errors.New("host is empty")
		}
		cfg.host = host

		return nil
	})
}

func withPort(port int) ConnOption {
	return newConnOptFunc("withPort", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errConfigNil
		}
		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithDeviceAddress sets the daisy-chain device address the connection
// talks to. The default is 1.
func WithDeviceAddress(device int) ConnOption {
	return newConnOptFunc("WithDeviceAddress", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errConfigNil
		}
		if device < 1 || device > 99 {
			return errors.New("device address out of range [1, 99]")
		}
		cfg.device = device

		return nil
	})
}

// WithAxis sets the axis number addressed on the device. The default is 1.
func WithAxis(axis int) ConnOption {
	return newConnOptFunc("WithAxis", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errConfigNil
		}
		if axis < 1 || axis > 9 {
			return errors.New("axis number out of range [1, 9]")
		}
		cfg.axis = axis

		return nil
	})
}

// WithDialTimeout sets the timeout for a single dial attempt.
// The default is 3 seconds.
func WithDialTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithDialTimeout", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errConfigNil
		}
		if val < 10*time.Millisecond || val > 30*time.Second {
			return errors.New("dial timeout out of range [0.01s, 30s]")
		}
		cfg.dialTimeout = val

		return nil
	})
}

// WithReplyTimeout sets the timeout for the reply to one command.
// The default is 5 seconds.
func WithReplyTimeout(val time.Duration) ConnOption {
	return newConnOptFunc("WithReplyTimeout", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errConfigNil
		}
		if val < 10*time.Millisecond || val > 120*time.Second {
			return errors.New("reply timeout out of range [0.01s, 120s]")
		}
		cfg.replyTimeout = val

		return nil
	})
}

// WithRetryPolicy sets the connection establishment retry policy.
// The default is DefaultRetryPolicy.
func WithRetryPolicy(policy RetryPolicy) ConnOption {
	return newConnOptFunc("WithRetryPolicy", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errConfigNil
		}
		if err := policy.Validate(); err != nil {
			return err
		}
		cfg.retry = policy

		return nil
	})
}

// WithLogger sets the logger for the connection.
// The default is the global logger instance.
func WithLogger(l logger.Logger) ConnOption {
	return newConnOptFunc("WithLogger", func(cfg *ConnectionConfig) error {
		if cfg == nil {
			return errConfigNil
		}
		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
