// Package gainctl implements the feedback controller that maps ambient
// loudness estimates to a bounded, rate-limited masking gain.
package gainctl

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidEstimate reports a sensing fault: the loudness estimate was
// NaN, infinite, or negative. The controller holds its last valid gain
// and leaves all state untouched.
var ErrInvalidEstimate = errors.New("gainctl: invalid loudness estimate")

// Config is the immutable controller parameter set, read once at startup.
type Config struct {
	// Target is the ambient loudness (RMS) the panel masks toward. Gain
	// rises when the estimate exceeds the target.
	Target float64
	// KP is the proportional coefficient applied to the loudness error.
	KP float64
	// KI is the integral coefficient. Zero disables the integral term.
	KI float64
	// GainMin and GainMax bound the applied gain. GainMin is also the
	// startup and fail-safe value.
	GainMin float64
	GainMax float64
	// MaxStep bounds the gain change magnitude per update.
	MaxStep float64
	// Interval is the update cadence; it scales the integral term.
	Interval time.Duration
}

// Validate rejects parameter sets that would run the loop with an
// inconsistent safety envelope. A failed validation is fatal at startup.
func (c Config) Validate() error {
	switch {
	case c.Target <= 0 || math.IsNaN(c.Target) || math.IsInf(c.Target, 0):
		return fmt.Errorf("gainctl: target must be positive, got %v", c.Target)
	case c.KP <= 0:
		return fmt.Errorf("gainctl: proportional coefficient must be positive, got %v", c.KP)
	case c.KI < 0:
		return fmt.Errorf("gainctl: integral coefficient must not be negative, got %v", c.KI)
	case c.GainMin < 0:
		return fmt.Errorf("gainctl: minimum gain must not be negative, got %v", c.GainMin)
	case c.GainMax <= c.GainMin:
		return fmt.Errorf("gainctl: maximum gain %v must exceed minimum gain %v", c.GainMax, c.GainMin)
	case c.MaxStep <= 0:
		return fmt.Errorf("gainctl: max gain step must be positive, got %v", c.MaxStep)
	case c.Interval <= 0:
		return fmt.Errorf("gainctl: update interval must be positive, got %v", c.Interval)
	}
	return nil
}

// Controller carries the only state that survives between iterations:
// the applied gain and the integral accumulator. It is owned and mutated
// by exactly one loop; no locking.
type Controller struct {
	cfg      Config
	gain     float64
	integral float64
	faults   uint64
}

// New validates the configuration and returns a controller initialized
// to the fail-safe minimum gain.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		cfg:  cfg,
		gain: cfg.GainMin,
	}, nil
}

// Update folds one loudness estimate into the controller and returns the
// new applied gain. The rate limit is applied before the hard clamp, so
// the returned gain never leaves [GainMin, GainMax] and never moves more
// than MaxStep from the previous value.
//
// An invalid estimate returns the held gain together with
// ErrInvalidEstimate; gain and integral state stay exactly as they were.
func (c *Controller) Update(estimate float64) (float64, error) {
	if math.IsNaN(estimate) || math.IsInf(estimate, 0) || estimate < 0 {
		c.faults++
		return c.gain, ErrInvalidEstimate
	}

	// Masking gain rises with ambient loudness.
	err := estimate - c.cfg.Target

	span := c.cfg.GainMax - c.cfg.GainMin
	if c.cfg.KI > 0 {
		c.integral += c.cfg.KI * err * c.cfg.Interval.Seconds()
		// Anti-windup: the integrator may never demand more than the
		// actuation span in either direction.
		c.integral = clamp(c.integral, -span, span)
	}

	setpoint := c.cfg.GainMin + c.cfg.KP*err + c.integral

	// Rate limit first, hard clamp second. The clamp is redundant when
	// the previous gain was in range, but it is re-applied every update.
	step := clamp(setpoint-c.gain, -c.cfg.MaxStep, c.cfg.MaxStep)
	c.gain = clamp(c.gain+step, c.cfg.GainMin, c.cfg.GainMax)

	return c.gain, nil
}

// Gain returns the last applied gain without updating state.
func (c *Controller) Gain() float64 {
	return c.gain
}

// Faults returns the number of invalid estimates seen so far.
func (c *Controller) Faults() uint64 {
	return c.faults
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
