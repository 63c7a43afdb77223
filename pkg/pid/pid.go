// Package pid implements the discretised, bang-bang-fallback PID control
// law driving the kiln's duty cycle.
package pid

import "time"

// Window is the half-width, in degrees, of the proportional control band
// around the setpoint. Outside it the controller saturates (full heat or
// full cool) rather than running the P/I/D terms.
const Window = 100.0

const saturationBound = 100.0

// Config carries the tunable knobs of the control law. Ki is a historical
// divisor of the integral contribution, not a multiplier -- preserved from
// the original control law's API for compatibility with existing tuned
// profiles.
type Config struct {
	Kp, Ki, Kd float64
	Window     float64
	// ThrottleBelowTemp/ThrottlePercent implement an optional soft-start:
	// when the setpoint is at or below ThrottleBelowTemp and the error is
	// large and positive, output is capped at ThrottlePercent/100 instead
	// of running wide open, to avoid overshoot on the very first ramp.
	ThrottleBelowTemp float64
	ThrottlePercent    float64
}

// Stats mirrors the internal quantities of the last Step call, for
// observability. The engine's state snapshots and firing logs do not
// include it.
type Stats struct {
	Error      float64
	ErrorDelta float64
	P, I, D    float64
	Out        float64 // 0..1 duty cycle
}

// Controller is a discrete-time PID with a bang-bang region outside its
// window and saturation-aware anti-windup.
type Controller struct {
	cfg     Config
	lastNow time.Time
	iterm   float64
	lastErr float64
	started bool
	Stats   Stats
}

func New(cfg Config) *Controller {
	if cfg.Window == 0 {
		cfg.Window = Window
	}
	return &Controller{cfg: cfg}
}

// Reset clears the accumulated integral and error history, used when the
// engine aborts or stops so a subsequent run starts clean.
func (c *Controller) Reset() {
	c.iterm = 0
	c.lastErr = 0
	c.started = false
}

// Step computes the next duty cycle in [0,1] given setpoint s, process
// value x, and the current time. The first call after construction or
// Reset seeds the derivative/integral clock without producing a
// discontinuous jump.
func (c *Controller) Step(setpoint, processValue float64, now time.Time) float64 {
	if !c.started {
		c.lastNow = now
		c.lastErr = setpoint - processValue
		c.started = true
	}
	dt := now.Sub(c.lastNow).Seconds()
	if dt <= 0 {
		dt = 1e-6
	}
	err := setpoint - processValue

	var out float64
	switch {
	case err < -c.cfg.Window:
		out = 0
		if c.iterm > 0 {
			c.iterm = 0
		}
		c.Stats = Stats{Error: err, Out: out}
	case err > c.cfg.Window:
		out = 1
		if c.cfg.ThrottleBelowTemp != 0 && c.cfg.ThrottlePercent != 0 && setpoint <= c.cfg.ThrottleBelowTemp {
			out = c.cfg.ThrottlePercent / 100
		}
		c.Stats = Stats{Error: err, Out: out}
	default:
		p := c.cfg.Kp * err
		dErr := (err - c.lastErr) / dt
		d := c.cfg.Kd * dErr
		var iContribution float64
		if c.cfg.Ki != 0 {
			iContribution = err * dt * (1 / c.cfg.Ki)
		}
		rawSum := p + c.iterm + d
		clamped := clamp(rawSum, -saturationBound, saturationBound)
		if clamped == rawSum {
			c.iterm += iContribution
		}
		out = clamped / saturationBound
		c.Stats = Stats{Error: err, ErrorDelta: dErr, P: p, I: c.iterm, D: d, Out: out}
	}

	c.lastErr = err
	c.lastNow = now

	if out < 0 {
		out = 0
	}
	c.Stats.Out = out
	return out
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
