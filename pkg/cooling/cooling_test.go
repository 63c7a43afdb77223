package cooling_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/kiln-controller/pkg/cooling"
)

func TestAddSample_ReadyAtOrBelowTarget(t *testing.T) {
	e := cooling.New(cooling.Config{AmbientTemp: 70, TargetTemp: 150, MinSamples: 3})
	assert.Equal(t, "Ready", e.AddSample(time.Now(), 140))
}

func TestAddSample_FitsKAndProducesEstimate(t *testing.T) {
	e := cooling.New(cooling.Config{
		AmbientTemp:    70,
		TargetTemp:     150,
		MinSamples:     3,
		RecalcInterval: 0, // 0 takes the 150s default; samples below are 10 minutes apart, so each one is refit
	})

	ambient := 70.0
	k := 0.3 // per-hour decay constant
	t0 := 1800.0
	start := time.Now()

	var last string
	for i := 0; i <= 10; i++ {
		at := start.Add(time.Duration(i) * 10 * time.Minute)
		hours := float64(i) * (10.0 / 60.0)
		temp := ambient + (t0-ambient)*math.Exp(-k*hours)
		last = e.AddSample(at, temp)
	}

	assert.NotEqual(t, "Calculating...", last)
	assert.NotEqual(t, "Ready", last)
}

func TestAddSample_RejectsFitWhenStartTooCloseToAmbient(t *testing.T) {
	e := cooling.New(cooling.Config{AmbientTemp: 70, TargetTemp: 60, MinSamples: 2, RecalcInterval: 0})
	start := time.Now()
	e.AddSample(start, 75)
	last := e.AddSample(start.Add(time.Minute), 74)
	assert.Equal(t, "Calculating...", last)
}

func TestReset_ClearsSamplesAndEstimate(t *testing.T) {
	e := cooling.New(cooling.Config{AmbientTemp: 70, TargetTemp: 150, MinSamples: 2})
	e.AddSample(time.Now(), 900)
	e.Reset()
	require.Equal(t, "Calculating...", e.Estimate())
}
