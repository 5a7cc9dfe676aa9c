// Package config loads and validates the YAML startup configuration: which
// stages exist, how to reach them, and the timeouts and retry budgets that
// govern each connection.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caliblab/linearstage/stage"
	"github.com/caliblab/linearstage/zabertcp"
)

// Duration wraps time.Duration so YAML values like "5s" parse naturally.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)

	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RetryConfig mirrors zabertcp.RetryPolicy in YAML form.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Multiplier  float64  `yaml:"multiplier"`
}

// Policy converts the YAML form to the transport retry policy.
func (r RetryConfig) Policy() zabertcp.RetryPolicy {
	return zabertcp.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay.Std(),
		MaxDelay:    r.MaxDelay.Std(),
		Multiplier:  r.Multiplier,
	}
}

// StageConfig configures one stage instance.
type StageConfig struct {
	// Index identifies the stage instance; it must be unique across the
	// configuration.
	Index int `yaml:"index"`

	// Stage names the stage model; it must match a supported profile.
	Stage string `yaml:"stage"`

	// Simulate runs this stage against the emulated device instead of
	// hardware. Host and Port are ignored when set.
	Simulate bool `yaml:"simulate"`

	// Host and Port locate the serial-to-ethernet adapter.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// DeviceAddress and Axis address the controller on the daisy chain.
	DeviceAddress int `yaml:"device_address"`
	Axis          int `yaml:"axis"`

	DialTimeout  Duration `yaml:"dial_timeout"`
	ReplyTimeout Duration `yaml:"reply_timeout"`

	Retry RetryConfig `yaml:"retry"`
}

// Config is the root of the YAML configuration file.
type Config struct {
	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	Stages []StageConfig `yaml:"stages"`
}

// defaults fills unset fields before validation.
func (c *Config) defaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	for i := range c.Stages {
		sc := &c.Stages[i]
		if sc.DeviceAddress == 0 {
			sc.DeviceAddress = 1
		}
		if sc.Axis == 0 {
			sc.Axis = 1
		}
		if sc.DialTimeout == 0 {
			sc.DialTimeout = Duration(3 * time.Second)
		}
		if sc.ReplyTimeout == 0 {
			sc.ReplyTimeout = Duration(5 * time.Second)
		}
		if sc.Retry.MaxAttempts == 0 {
			sc.Retry.MaxAttempts = 3
		}
		if sc.Retry.BaseDelay == 0 {
			sc.Retry.BaseDelay = Duration(time.Second)
		}
		if sc.Retry.MaxDelay == 0 {
			sc.Retry.MaxDelay = Duration(10 * time.Second)
		}
		if sc.Retry.Multiplier == 0 {
			sc.Retry.Multiplier = 2
		}
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if len(c.Stages) == 0 {
		return errors.New("no stages configured")
	}

	seen := make(map[int]bool, len(c.Stages))
	for i := range c.Stages {
		sc := &c.Stages[i]

		if sc.Index < 1 {
			return fmt.Errorf("stage %d: index must be at least 1", i)
		}
		if seen[sc.Index] {
			return fmt.Errorf("duplicate stage index %d", sc.Index)
		}
		seen[sc.Index] = true

		if _, err := stage.LookupProfile(sc.Stage); err != nil {
			return fmt.Errorf("stage index %d: %w", sc.Index, err)
		}

		if !sc.Simulate {
			if sc.Host == "" {
				return fmt.Errorf("stage index %d: host is required", sc.Index)
			}
			if sc.Port < 1 || sc.Port > 65535 {
				return fmt.Errorf("stage index %d: port %d out of range [1, 65535]", sc.Index, sc.Port)
			}
		}

		if err := sc.Retry.Policy().Validate(); err != nil {
			return fmt.Errorf("stage index %d: %w", sc.Index, err)
		}
	}

	return nil
}

// StageByIndex returns the configuration for the given stage index.
func (c *Config) StageByIndex(index int) (*StageConfig, error) {
	for i := range c.Stages {
		if c.Stages[i].Index == index {
			return &c.Stages[i], nil
		}
	}

	return nil, fmt.Errorf("stage index %d not configured", index)
}

// Parse decodes a configuration document. Unknown fields are rejected to
// catch typos early.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.defaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}
