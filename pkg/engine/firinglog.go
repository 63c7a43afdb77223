package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// firingLogPoint is one subsampled (runtime, temperature, target) sample
// in a firing log's temperature_log.
type firingLogPoint struct {
	Runtime     float64 `json:"runtime"`
	Temperature float64 `json:"temperature"`
	Target      float64 `json:"target"`
}

// firingLog is the per-run JSON document from spec.md §6.
type firingLog struct {
	RunID           string            `json:"run_id"`
	ProfileName     string            `json:"profile_name"`
	StartTime       string            `json:"start_time"`
	EndTime         string            `json:"end_time"`
	DurationSeconds int               `json:"duration_seconds"`
	FinalCost       float64           `json:"final_cost"`
	FinalTemperature float64          `json:"final_temperature"`
	AvgDivergence   float64           `json:"avg_divergence"`
	CurrencyType    string            `json:"currency_type"`
	TempScale       string            `json:"temp_scale"`
	Status          string            `json:"status"`
	TemperatureLog  []firingLogPoint  `json:"temperature_log"`
}

const maxFiringLogPoints = 500

// subsample keeps at most maxFiringLogPoints evenly-spaced entries from a
// larger temperature history, preserving the first and last samples.
func subsample(points []firingLogPoint) []firingLogPoint {
	if len(points) <= maxFiringLogPoints {
		return points
	}
	stride := float64(len(points)) / float64(maxFiringLogPoints)
	out := make([]firingLogPoint, 0, maxFiringLogPoints)
	for i := 0; i < maxFiringLogPoints; i++ {
		idx := int(float64(i) * stride)
		if idx >= len(points) {
			idx = len(points) - 1
		}
		out = append(out, points[idx])
	}
	out[len(out)-1] = points[len(points)-1]
	return out
}

func (e *FiringEngine) avgDivergence() float64 {
	if len(e.ctx.divergenceSamples) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range e.ctx.divergenceSamples {
		sum += d
	}
	return sum / float64(len(e.ctx.divergenceSamples))
}

// saveFiringLog writes the completed-run log file and the "last firing"
// summary, tagging the run's cause in Status. It never blocks the control
// loop on a caller -- errors are logged and swallowed, per spec.md §7's
// "a missed log write is not fatal" policy... except that schedule-end and
// abort must ALWAYS attempt the write before the state transitions, which
// the caller (not this function) is responsible for sequencing.
func (e *FiringEngine) saveFiringLog(status string, history []firingLogPoint) {
	if e.ctx.profile == nil {
		return
	}
	if err := os.MkdirAll(e.firingLogDir, 0o755); err != nil {
		e.log.Error().Err(err).Msg("failed to create firing log directory")
		return
	}

	temp := e.sensorDev.Reading().Temp
	log := firingLog{
		RunID:            e.ctx.runID.String(),
		ProfileName:      e.ctx.profile.Name,
		StartTime:        e.ctx.wallStart.Format(time.RFC3339),
		EndTime:          time.Now().Format(time.RFC3339),
		DurationSeconds:  int(e.ctx.runtimeSeconds),
		FinalCost:        round2(e.ctx.costAccumulated),
		FinalTemperature: round2(temp),
		AvgDivergence:    round2(e.avgDivergence()),
		CurrencyType:     e.cfg.CurrencyType,
		TempScale:        e.cfg.TempScale,
		Status:           status,
		TemperatureLog:   subsample(history),
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	safeName := sanitizeFilename(log.ProfileName)
	filename := fmt.Sprintf("%s_%s.json", timestamp, safeName)
	path := filepath.Join(e.firingLogDir, filename)

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		e.log.Error().Err(err).Msg("failed to marshal firing log")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.log.Error().Err(err).Str("path", path).Msg("failed to write firing log")
		return
	}
	e.log.Info().Str("path", path).Str("status", status).Msg("firing log saved")

	if e.lastFiringPath != "" {
		if err := os.WriteFile(e.lastFiringPath, data, 0o644); err != nil {
			e.log.Error().Err(err).Msg("failed to write last-firing summary")
		}
	}
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == ' ' || r == '-' || r == '_' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
