package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/kiln-controller/pkg/engine"
	"github.com/kilnforge/kiln-controller/pkg/pid"
	"github.com/kilnforge/kiln-controller/pkg/profile"
	"github.com/kilnforge/kiln-controller/pkg/relay"
	"github.com/kilnforge/kiln-controller/pkg/sensor"
)

// constReader is a sensor.RawReader that always reports the same
// temperature, mutable for tests that want to move it mid-run.
type constReader struct {
	mu   sync.Mutex
	temp float64
}

func (r *constReader) set(t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.temp = t
}

func (r *constReader) Read() (float64, sensor.FaultClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.temp, sensor.FaultNone, nil
}

func newTestEngine(t *testing.T, cfg engine.Config, reader *constReader) (*engine.FiringEngine, context.Context, context.CancelFunc) {
	t.Helper()
	if cfg.PID.Kp == 0 && cfg.PID.Ki == 0 {
		cfg.PID = pid.Config{Kp: 1, Ki: 500, Kd: 0, Window: 100}
	}
	if cfg.SensorTimeWait == 0 {
		cfg.SensorTimeWait = 10 * time.Millisecond
	}
	if cfg.EmergencyShutoffTemp == 0 {
		cfg.EmergencyShutoffTemp = 2300
	}

	s := sensor.New(reader, sensor.FaultPolicy{}, cfg.SensorTimeWait, 1, zerolog.Nop())
	driver := relay.NewSimulated()
	driver.Sleep = nil // don't actually block the test for tick duration

	eng := engine.New(cfg, s, driver, nil, nil, t.TempDir(), t.TempDir()+"/last.json", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	go eng.Run(ctx)
	return eng, ctx, cancel
}

func v1Profile(t *testing.T) *profile.Profile {
	t.Helper()
	p, err := profile.Load([]byte(`{
		"name": "test-bisque",
		"type": "profile",
		"temp_units": "F",
		"data": [[0, 1000], [3600, 1000]]
	}`), "F")
	require.NoError(t, err)
	return p
}

func TestRunProfile_TransitionsIdleToRunningAndBack(t *testing.T) {
	reader := &constReader{temp: 70}
	eng, ctx, cancel := newTestEngine(t, engine.Config{}, reader)
	defer cancel()

	snap, err := eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, snap.State)

	require.NoError(t, eng.RunProfile(ctx, v1Profile(t), 0, false))

	snap, err = eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StateRunning, snap.State)
	assert.Equal(t, "test-bisque", snap.Profile)

	require.NoError(t, eng.Stop(ctx))
	snap, err = eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StateIdle, snap.State)
}

func TestPauseResume_OnlyValidFromExpectedStates(t *testing.T) {
	reader := &constReader{temp: 70}
	eng, ctx, cancel := newTestEngine(t, engine.Config{}, reader)
	defer cancel()

	assert.Error(t, eng.Pause(ctx), "cannot pause while idle")

	require.NoError(t, eng.RunProfile(ctx, v1Profile(t), 0, false))
	require.NoError(t, eng.Pause(ctx))

	snap, err := eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StatePaused, snap.State)

	assert.Error(t, eng.Pause(ctx), "already paused")
	require.NoError(t, eng.Resume(ctx))

	snap, err = eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StateRunning, snap.State)
}

func TestRunningKiln_DriveDutyTowardTargetAndAccrueCost(t *testing.T) {
	reader := &constReader{temp: 70}
	cfg := engine.Config{KwhRate: 0.12, KwElements: 9.0}
	eng, ctx, cancel := newTestEngine(t, cfg, reader)
	defer cancel()

	require.NoError(t, eng.RunProfile(ctx, v1Profile(t), 0, false))

	// let a handful of ticks run; the profile holds its target at 1000
	// while the kiln reads 70, so duty should be pinned high (bang-bang,
	// since error exceeds the PID window) and cost should accrue.
	time.Sleep(150 * time.Millisecond)

	snap, err := eng.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StateRunning, snap.State)
	assert.Greater(t, snap.Duty, 0.0)
	assert.Greater(t, snap.Cost, 0.0)
}

func TestOvertempInterlock_AbortsRunAndReturnsToIdle(t *testing.T) {
	reader := &constReader{temp: 70}
	cfg := engine.Config{EmergencyShutoffTemp: 500}
	eng, ctx, cancel := newTestEngine(t, cfg, reader)
	defer cancel()

	require.NoError(t, eng.RunProfile(ctx, v1Profile(t), 0, false))
	reader.set(900)

	require.Eventually(t, func() bool {
		snap, err := eng.GetState(ctx)
		return err == nil && snap.State == engine.StateIdle
	}, time.Second, 10*time.Millisecond, "overtemp should force the engine back to IDLE")
}

func TestRunProfile_RateBasedSegmentsAdvance(t *testing.T) {
	reader := &constReader{temp: 70}
	cfg := engine.Config{UseRateBasedControl: true, SegmentCompleteTolerance: 5}
	eng, ctx, cancel := newTestEngine(t, cfg, reader)
	defer cancel()

	p, err := profile.Load([]byte(`{
		"name": "cone6-rate",
		"version": 2,
		"start_temp": 70,
		"temp_units": "F",
		"segments": [
			{"rate": 50000, "target": 200, "hold_minutes": 0},
			{"rate": 50000, "target": 400, "hold_minutes": 0}
		]
	}`), "F")
	require.NoError(t, err)

	require.NoError(t, eng.RunProfile(ctx, p, 0, false))
	reader.set(200)

	require.Eventually(t, func() bool {
		snap, serr := eng.GetState(ctx)
		return serr == nil && snap.CurrentSegment >= 1
	}, time.Second, 10*time.Millisecond, "reaching segment 0's target should advance to segment 1")
}
