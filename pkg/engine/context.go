package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/kilnforge/kiln-controller/pkg/profile"
)

// RunState is the top-level firing-engine state machine from spec.md §3.
type RunState string

const (
	StateIdle    RunState = "IDLE"
	StateRunning RunState = "RUNNING"
	StatePaused  RunState = "PAUSED"
)

type heatRateSample struct {
	runtime float64
	temp    float64
}

// controllerContext is exclusively owned and mutated by the engine's
// control-loop goroutine -- see spec.md §5's single-writer rule. Every
// other goroutine (HTTP handlers, the operator CLI) only ever sees a copy
// via StateSnapshot, sent over a channel.
type controllerContext struct {
	runID uuid.UUID

	profile       *profile.Profile
	segmentIndex  int
	segmentPhase  profile.Phase

	wallStart     time.Time // actual wall-clock run start
	scheduleStart time.Time // wall-clock minus seek offset, shifted by catch-up
	runtimeSeconds float64
	actualElapsed  float64

	targetTemp     float64
	targetHeatRate float64
	duty           float64
	costAccumulated float64

	heatRateSamples []heatRateSample
	heatRate        float64

	divergenceSamples []float64

	segmentStartTime time.Time
	segmentStartTemp float64
	holdStartTime    time.Time

	catchingUp bool

	lastStateSave time.Time

	coolingMode bool
}

func (c *controllerContext) reset() {
	*c = controllerContext{}
}

// StateSnapshot is the engine command surface's read model (spec.md §6).
type StateSnapshot struct {
	RunID          uuid.UUID `json:"run_id"`
	State          RunState  `json:"state"`
	Runtime        float64   `json:"runtime"`
	ActualElapsed  float64   `json:"actual_elapsed_time"`
	Temperature    float64   `json:"temperature"`
	Target         float64   `json:"target"`
	TargetHeatRate float64   `json:"target_heat_rate,omitempty"`
	Heat           bool      `json:"heat"`
	Duty           float64   `json:"duty"`
	HeatRate       float64   `json:"heat_rate"`
	TotalTime      float64   `json:"totaltime"`
	Cost           float64   `json:"cost"`
	KwhRate        float64   `json:"kwh_rate"`
	CurrencyType   string    `json:"currency_type"`
	Profile        string    `json:"profile"`
	CatchingUp     bool      `json:"catching_up"`
	CoolingEstimate string   `json:"cooling_estimate,omitempty"`
	CurrentSegment int       `json:"current_segment,omitempty"`
	SegmentPhase   string    `json:"segment_phase,omitempty"`
	TotalSegments  int       `json:"total_segments,omitempty"`
	ETASeconds     float64   `json:"eta_seconds,omitempty"`
	At             time.Time `json:"at"`
}
