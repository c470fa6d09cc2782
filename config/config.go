package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smartcontractkit/chainlink-common/pkg/config"
)

// PendingTrackerConfig is a wrapper to provide required functions while keeping configs Public
type PendingTrackerConfig struct {
	PendingTracker
}

type PendingTracker struct {
	// Feature flag
	Enabled *bool

	// Reconcile
	RecheckInterval  *config.Duration
	DroppedThreshold *uint32

	// Resubmit
	ResubmitEnabled *bool

	// Heads
	BlockEmissionIdleWarningThreshold *config.Duration
}

// Defaults returns a config with every field set.
func Defaults() *PendingTrackerConfig {
	return &PendingTrackerConfig{PendingTracker{
		Enabled:                           ptr(true),
		RecheckInterval:                   config.MustNewDuration(5 * time.Second),
		DroppedThreshold:                  ptr[uint32](3),
		ResubmitEnabled:                   ptr(true),
		BlockEmissionIdleWarningThreshold: config.MustNewDuration(0),
	}}
}

func (c *PendingTrackerConfig) Enabled() bool {
	return c.PendingTracker.Enabled != nil && *c.PendingTracker.Enabled
}

func (c *PendingTrackerConfig) RecheckInterval() time.Duration {
	return c.PendingTracker.RecheckInterval.Duration()
}

func (c *PendingTrackerConfig) DroppedThreshold() uint32 {
	return *c.PendingTracker.DroppedThreshold
}

func (c *PendingTrackerConfig) ResubmitEnabled() bool {
	return c.PendingTracker.ResubmitEnabled != nil && *c.PendingTracker.ResubmitEnabled
}

func (c *PendingTrackerConfig) BlockEmissionIdleWarningThreshold() time.Duration {
	return c.PendingTracker.BlockEmissionIdleWarningThreshold.Duration()
}

func (c *PendingTrackerConfig) SetFrom(f *PendingTrackerConfig) {
	if f.PendingTracker.Enabled != nil {
		c.PendingTracker.Enabled = f.PendingTracker.Enabled
	}

	if f.PendingTracker.RecheckInterval != nil {
		c.PendingTracker.RecheckInterval = f.PendingTracker.RecheckInterval
	}
	if f.PendingTracker.DroppedThreshold != nil {
		c.PendingTracker.DroppedThreshold = f.PendingTracker.DroppedThreshold
	}

	if f.PendingTracker.ResubmitEnabled != nil {
		c.PendingTracker.ResubmitEnabled = f.PendingTracker.ResubmitEnabled
	}

	if f.PendingTracker.BlockEmissionIdleWarningThreshold != nil {
		c.PendingTracker.BlockEmissionIdleWarningThreshold = f.PendingTracker.BlockEmissionIdleWarningThreshold
	}
}

// ValidateConfig reports every missing or invalid field.
func (c *PendingTrackerConfig) ValidateConfig() (err error) {
	if c.PendingTracker.RecheckInterval == nil {
		err = errors.Join(err, config.ErrMissing{Name: "RecheckInterval", Msg: "must be set"})
	} else if c.PendingTracker.RecheckInterval.Duration() <= 0 {
		err = errors.Join(err, config.ErrInvalid{Name: "RecheckInterval", Value: c.PendingTracker.RecheckInterval.Duration(),
			Msg: "must be greater than 0"})
	}

	if c.PendingTracker.DroppedThreshold == nil {
		err = errors.Join(err, config.ErrMissing{Name: "DroppedThreshold", Msg: "must be set"})
	} else if *c.PendingTracker.DroppedThreshold == 0 {
		err = errors.Join(err, config.ErrInvalid{Name: "DroppedThreshold", Value: 0,
			Msg: "must be greater than 0"})
	}

	if c.PendingTracker.BlockEmissionIdleWarningThreshold != nil && c.PendingTracker.BlockEmissionIdleWarningThreshold.Duration() < 0 {
		err = errors.Join(err, config.ErrInvalid{Name: "BlockEmissionIdleWarningThreshold",
			Value: c.PendingTracker.BlockEmissionIdleWarningThreshold.Duration(), Msg: "must not be negative"})
	}
	return
}

// DecodeTOML reads a flat TOML document of PendingTracker fields, overlays it on Defaults and
// validates the result. Unknown keys are rejected.
func DecodeTOML(r io.Reader) (*PendingTrackerConfig, error) {
	var f PendingTrackerConfig
	d := toml.NewDecoder(r).DisallowUnknownFields()
	if err := d.Decode(&f.PendingTracker); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("failed to decode config: %s", strict.String())
		}
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	c := Defaults()
	c.SetFrom(&f)
	if err := c.ValidateConfig(); err != nil {
		return nil, err
	}
	return c, nil
}

// TOMLString encodes the effective config.
func (c *PendingTrackerConfig) TOMLString() (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.PendingTracker); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.String(), nil
}

func ptr[T any](t T) *T {
	return &t
}
