package engine

import (
	"time"

	"github.com/kilnforge/kiln-controller/pkg/pid"
	"github.com/kilnforge/kiln-controller/pkg/sensor"
)

// Config is the engine's view of the option surface from spec.md §6. The
// HTTP/websocket transport, GPIO pin numbers, and SPI wiring live one
// level up in internal/config, since the engine itself is transport- and
// hardware-agnostic.
type Config struct {
	TempScale string // "C" or "F"

	PID pid.Config

	EmergencyShutoffTemp float64
	IgnoreTempTooHigh    bool
	IgnoreSensorErrors   bool

	SensorTimeWait time.Duration
	AverageSamples int
	FaultPolicy    sensor.FaultPolicy

	KwhRate      float64
	KwElements   float64
	CurrencyType string

	SeekStart       bool
	KilnMustCatchUp bool

	AutomaticRestarts      bool
	AutomaticRestartWindow time.Duration
	StateSaveInterval      time.Duration

	CoolingAmbientTemp float64
	CoolingTargetTemp  float64
	CoolingMinSamples  int

	UseRateBasedControl      bool
	SegmentCompleteTolerance float64
	RateLookaheadSeconds     float64
	MaxTargetDivergence      float64

	EstimatedMaxHeatingRate     float64
	EstimatedNaturalCoolingRate float64

	HeatRateWindowSeconds float64
	RateDeviationWarning  float64

	StallDetectTime     time.Duration
	StallMinTempRise    float64
	RunawayDetectTime   time.Duration
	RunawayMinTempRise  float64
}
