// Package cooling estimates the time remaining for a kiln to cool to a
// target temperature by fitting Newton's law of cooling to recent samples.
package cooling

import (
	"fmt"
	"math"
	"time"
)

// Config carries the ambient/target temperatures and fit requirements.
type Config struct {
	AmbientTemp float64
	TargetTemp  float64
	MinSamples  int
	// RecalcInterval is the minimum spacing between fit attempts (spec:
	// >= 150s).
	RecalcInterval time.Duration
	// MaxSamples bounds the retained sample window (spec: ~30 minutes'
	// worth at the sampler's cadence).
	MaxSamples int
}

type sample struct {
	at   time.Time
	temp float64
}

// Estimator accumulates (time, temperature) samples during cooling and
// periodically reports a formatted time-remaining estimate.
type Estimator struct {
	cfg           Config
	samples       []sample
	lastFitAt     time.Time
	estimate      string
}

func New(cfg Config) *Estimator {
	if cfg.RecalcInterval <= 0 {
		cfg.RecalcInterval = 150 * time.Second
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 900
	}
	return &Estimator{cfg: cfg}
}

// Reset clears accumulated samples, called when a new cooling phase
// begins (e.g. after a firing completes or the engine goes IDLE above the
// cooling target).
func (e *Estimator) Reset() {
	e.samples = nil
	e.lastFitAt = time.Time{}
	e.estimate = ""
}

// AddSample records a new temperature reading and, if the recalculation
// interval has elapsed, attempts a fresh fit. It returns the current
// best-known estimate string: "Ready" at/below target, "Calculating..."
// while no fit is yet accepted, or "HH:MM" once one is.
func (e *Estimator) AddSample(at time.Time, temp float64) string {
	if temp <= e.cfg.TargetTemp {
		e.estimate = "Ready"
		return e.estimate
	}

	e.samples = append(e.samples, sample{at: at, temp: temp})
	if len(e.samples) > e.cfg.MaxSamples {
		e.samples = e.samples[len(e.samples)-e.cfg.MaxSamples:]
	}

	if e.lastFitAt.IsZero() || at.Sub(e.lastFitAt) >= e.cfg.RecalcInterval {
		if k, ok := e.fitK(); ok {
			if remaining, ok := e.timeToTarget(temp, k); ok {
				e.estimate = formatHHMM(remaining)
				e.lastFitAt = at
			} else if e.estimate == "" {
				e.estimate = "Calculating..."
			}
		} else if e.estimate == "" {
			e.estimate = "Calculating..."
		}
	}
	if e.estimate == "" {
		e.estimate = "Calculating..."
	}
	return e.estimate
}

// fitK linear-regresses ln((T-A)/(T0-A)) = -k*(t-t0) over the retained
// samples and accepts k iff it lands in (0, 1].
func (e *Estimator) fitK() (float64, bool) {
	if len(e.samples) < e.cfg.MinSamples {
		return 0, false
	}
	t0 := e.samples[0].at
	T0 := e.samples[0].temp
	A := e.cfg.AmbientTemp

	if math.Abs(T0-A) < 10 {
		return 0, false
	}

	var xs, ys []float64
	for _, s := range e.samples {
		dt := s.at.Sub(t0).Seconds()
		tempDiff := s.temp - A
		initialDiff := T0 - A
		if tempDiff <= 0 || initialDiff <= 0 {
			continue
		}
		ratio := tempDiff / initialDiff
		if ratio <= 0 {
			continue
		}
		xs = append(xs, dt)
		ys = append(ys, math.Log(ratio))
	}
	if len(xs) < e.cfg.MinSamples {
		return 0, false
	}

	n := float64(len(xs))
	var sumX, sumY, sumXX, sumXY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXX += xs[i] * xs[i]
		sumXY += xs[i] * ys[i]
	}
	denom := n*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-10 {
		return 0, false
	}
	slope := (n*sumXY - sumX*sumY) / denom
	k := -slope
	if k <= 0 || k > 1 {
		return 0, false
	}
	return k, true
}

// timeToTarget solves T(t) = A + (Tnow-A)e^{-kt} for t at T(t) = target,
// accepting results in [0, 7 days].
func (e *Estimator) timeToTarget(currentTemp, k float64) (time.Duration, bool) {
	target := e.cfg.TargetTemp
	ambient := e.cfg.AmbientTemp
	if currentTemp <= target {
		return 0, true
	}
	numerator := target - ambient
	denominator := currentTemp - ambient
	if denominator <= 0 || numerator <= 0 {
		return 0, false
	}
	ratio := numerator / denominator
	if ratio <= 0 || ratio > 1 {
		return 0, false
	}
	seconds := -math.Log(ratio) / k
	if seconds < 0 || seconds > 7*24*3600 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func formatHHMM(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	return fmt.Sprintf("%02d:%02d", hours, minutes)
}

// Estimate returns the last computed estimate string without adding a
// sample.
func (e *Estimator) Estimate() string {
	if e.estimate == "" {
		return "Calculating..."
	}
	return e.estimate
}
