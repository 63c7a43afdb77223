package safety_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/kiln-controller/pkg/safety"
)

func TestEvaluate_OvertempTrips(t *testing.T) {
	m := safety.New(safety.Config{EmergencyShutoffTemp: 2000})
	abort := m.Evaluate(2001, false, 1.0, time.Now())
	require.NotNil(t, abort)
	assert.Equal(t, safety.CauseOvertemp, abort.Cause)
}

func TestEvaluate_OvertempIgnoredWhenConfigured(t *testing.T) {
	m := safety.New(safety.Config{EmergencyShutoffTemp: 2000, IgnoreTempTooHigh: true})
	abort := m.Evaluate(2500, false, 1.0, time.Now())
	assert.Nil(t, abort)
}

func TestEvaluate_SensorErrorTrips(t *testing.T) {
	m := safety.New(safety.Config{EmergencyShutoffTemp: 9999})
	abort := m.Evaluate(500, true, 0.5, time.Now())
	require.NotNil(t, abort)
	assert.Equal(t, safety.CauseSensorError, abort.Cause)
}

func TestEvaluate_StallTripsAfterDetectWindowWithNoRise(t *testing.T) {
	cfg := safety.DefaultConfig()
	cfg.EmergencyShutoffTemp = 9999
	cfg.StallDetectTime = time.Minute
	cfg.StallMinTempRise = 2
	m := safety.New(cfg)

	now := time.Now()
	assert.Nil(t, m.Evaluate(500, false, 1.0, now))
	assert.Nil(t, m.Evaluate(500.5, false, 1.0, now.Add(30*time.Second)))
	abort := m.Evaluate(501, false, 1.0, now.Add(2*time.Minute))
	require.NotNil(t, abort)
	assert.Equal(t, safety.CauseStall, abort.Cause)
}

func TestEvaluate_StallResetsWhenDutyDrops(t *testing.T) {
	cfg := safety.DefaultConfig()
	cfg.EmergencyShutoffTemp = 9999
	cfg.StallDetectTime = time.Minute
	m := safety.New(cfg)

	now := time.Now()
	m.Evaluate(500, false, 1.0, now)
	abort := m.Evaluate(500, false, 0.5, now.Add(2*time.Minute))
	assert.Nil(t, abort)
}

func TestEvaluate_RunawayTripsOnUnexpectedRise(t *testing.T) {
	cfg := safety.DefaultConfig()
	cfg.EmergencyShutoffTemp = 9999
	cfg.RunawayDetectTime = time.Minute
	cfg.RunawayMinTempRise = 10
	m := safety.New(cfg)

	now := time.Now()
	assert.Nil(t, m.Evaluate(500, false, 0.0, now))
	abort := m.Evaluate(515, false, 0.0, now.Add(2*time.Minute))
	require.NotNil(t, abort)
	assert.Equal(t, safety.CauseRunaway, abort.Cause)
}

func TestResetArming_ClearsTimers(t *testing.T) {
	cfg := safety.DefaultConfig()
	cfg.EmergencyShutoffTemp = 9999
	cfg.StallDetectTime = time.Minute
	m := safety.New(cfg)

	now := time.Now()
	m.Evaluate(500, false, 1.0, now)
	m.ResetArming()
	abort := m.Evaluate(500, false, 1.0, now.Add(2*time.Minute))
	assert.Nil(t, abort, "arming should restart clean after ResetArming")
}
