// Package sensor reads the kiln thermocouple through a denoising
// sliding-median filter and tracks its fault rate.
package sensor

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FaultClass classifies a thermocouple read failure. The zero value,
// FaultNone, means the read succeeded.
type FaultClass int

const (
	FaultNone FaultClass = iota
	FaultNotConnected
	FaultShortCircuit
	FaultColdJunctionRange
	FaultThermocoupleRange
	FaultColdJunctionHigh
	FaultColdJunctionLow
	FaultTcTooHigh
	FaultTcTooLow
	FaultVoltage
	FaultUnknown
)

func (f FaultClass) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultNotConnected:
		return "not_connected"
	case FaultShortCircuit:
		return "short_circuit"
	case FaultColdJunctionRange:
		return "cold_junction_range"
	case FaultThermocoupleRange:
		return "thermocouple_range"
	case FaultColdJunctionHigh:
		return "cold_junction_high"
	case FaultColdJunctionLow:
		return "cold_junction_low"
	case FaultTcTooHigh:
		return "tc_too_high"
	case FaultTcTooLow:
		return "tc_too_low"
	case FaultVoltage:
		return "voltage"
	default:
		return "unknown"
	}
}

// RawReader is the hardware/simulation boundary: one raw temperature
// sample per call, in the reader's native scale, or a classified fault.
// Chip-specific thermocouple amplifiers implement this by dispatching
// their native fault codes onto FaultClass.
type RawReader interface {
	Read() (temp float64, fault FaultClass, err error)
}

// FaultPolicy says which fault classes the fault tracker should count as
// "good" samples. A faulted read never enters the median, whether its
// class is ignored or not.
type FaultPolicy map[FaultClass]bool // true => ignore (treat as good)

func (p FaultPolicy) ignored(f FaultClass) bool {
	return f == FaultNone || p[f]
}

// Reading is the value published by the background sampler: the current
// median-smoothed temperature and the fault tracker's error rate.
type Reading struct {
	Temp      float64
	ErrorPct  float64
	LastFault FaultClass
	At        time.Time
}

// FaultTracker maintains a boolean ring of the last 2*averageSamples reads
// (good/bad) and reports the rolling error percentage.
type FaultTracker struct {
	ring []bool
	pos  int
	size int
}

func NewFaultTracker(averageSamples int) *FaultTracker {
	size := averageSamples * 2
	if size < 2 {
		size = 2
	}
	ring := make([]bool, size)
	for i := range ring {
		ring[i] = true
	}
	return &FaultTracker{ring: ring, size: size}
}

func (t *FaultTracker) record(good bool) {
	t.ring[t.pos] = good
	t.pos = (t.pos + 1) % t.size
}

// ErrorPct returns 100 * false_count / size.
func (t *FaultTracker) ErrorPct() float64 {
	bad := 0
	for _, v := range t.ring {
		if !v {
			bad++
		}
	}
	return 100 * float64(bad) / float64(t.size)
}

// OverLimit is the sensor error-rate interlock: true once more than 30% of
// the tracked window is faulted.
func (t *FaultTracker) OverLimit() bool {
	return t.ErrorPct() > 30
}

// TempSensor continuously samples a RawReader, smooths the last
// averageSamples readings with a median filter, and tracks the fault rate.
// It owns its own goroutine; Reading() is safe to call from any other
// goroutine.
type TempSensor struct {
	reader  RawReader
	policy  FaultPolicy
	period  time.Duration
	tracker *FaultTracker

	ring []float64
	pos  int
	n    int

	latest atomic.Pointer[Reading]
	log    zerolog.Logger
}

// New constructs a TempSensor that samples every
// sensorTimeWait/averageSamples and smooths over averageSamples readings.
func New(reader RawReader, policy FaultPolicy, sensorTimeWait time.Duration, averageSamples int, log zerolog.Logger) *TempSensor {
	if averageSamples < 1 {
		averageSamples = 1
	}
	s := &TempSensor{
		reader:  reader,
		policy:  policy,
		period:  sensorTimeWait / time.Duration(averageSamples),
		tracker: NewFaultTracker(averageSamples),
		ring:    make([]float64, averageSamples),
		log:     log.With().Str("component", "sensor").Logger(),
	}
	s.latest.Store(&Reading{})
	return s
}

// Run samples until ctx is cancelled. It is meant to be started with `go`.
func (s *TempSensor) Run(ctx context.Context) {
	if s.period <= 0 {
		s.period = time.Second
	}
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleOnce()
		}
	}
}

func (s *TempSensor) sampleOnce() {
	temp, fault, err := s.reader.Read()
	if err != nil || fault != FaultNone {
		s.tracker.record(s.policy.ignored(fault))
		s.log.Warn().Stringer("fault", fault).Err(err).Msg("thermocouple fault")
		r := *s.latest.Load()
		r.LastFault = fault
		r.ErrorPct = s.tracker.ErrorPct()
		r.At = time.Now()
		s.latest.Store(&r)
		return
	}
	s.tracker.record(true)

	s.ring[s.pos] = temp
	s.pos = (s.pos + 1) % len(s.ring)
	if s.n < len(s.ring) {
		s.n++
	}

	s.latest.Store(&Reading{
		Temp:      s.median(),
		ErrorPct:  s.tracker.ErrorPct(),
		LastFault: fault,
		At:        time.Now(),
	})
}

func (s *TempSensor) median() float64 {
	vals := make([]float64, s.n)
	copy(vals, s.ring[:s.n])
	sort.Float64s(vals)
	if len(vals) == 0 {
		return 0
	}
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return vals[mid]
	}
	return (vals[mid-1] + vals[mid]) / 2
}

// Reading returns the most recently published smoothed temperature and
// error rate. Safe for concurrent use.
func (s *TempSensor) Reading() Reading {
	return *s.latest.Load()
}

// OverLimit reports the fault tracker's error-rate interlock.
func (s *TempSensor) OverLimit() bool {
	return s.tracker.OverLimit()
}
