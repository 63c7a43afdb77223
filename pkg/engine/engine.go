// Package engine implements the firing engine: the top-level state
// machine that ties the thermocouple sensor, profile interpolation, PID
// control, safety interlocks, cooling estimation, and restart persistence
// together into one control loop.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kilnforge/kiln-controller/pkg/cooling"
	"github.com/kilnforge/kiln-controller/pkg/persistence"
	"github.com/kilnforge/kiln-controller/pkg/pid"
	"github.com/kilnforge/kiln-controller/pkg/profile"
	"github.com/kilnforge/kiln-controller/pkg/relay"
	"github.com/kilnforge/kiln-controller/pkg/safety"
	"github.com/kilnforge/kiln-controller/pkg/sensor"
)

// ProfileLoader resolves a profile name (as recorded in a restart
// snapshot or firing-log entry) to its parsed contents. Profile *file*
// loading conventions are an external collaborator per spec.md §1; the
// engine only needs this narrow seam to support automatic restart.
type ProfileLoader func(name string) (*profile.Profile, error)

type runRequest struct {
	profile        *profile.Profile
	startAtMinutes float64
	allowSeek      bool
	resp           chan error
}

// FiringEngine is the top-level firing state machine (component I).
type FiringEngine struct {
	cfg Config

	sensorDev *sensor.TempSensor
	relayDev  relay.Driver
	pidCtl    *pid.Controller
	coolingEst *cooling.Estimator
	safetyMon *safety.Monitor
	store     *persistence.Store
	loadProfile ProfileLoader

	firingLogDir   string
	lastFiringPath string

	log zerolog.Logger

	runCh    chan runRequest
	pauseCh  chan chan error
	resumeCh chan chan error
	stopCh   chan chan error
	stateCh  chan chan StateSnapshot

	broadcast chan StateSnapshot

	state   RunState
	ctx     controllerContext
	tempLog []firingLogPoint
}

// New wires the engine's sub-components together. sensorDev and relayDev
// are started/owned by the caller (e.g. cmd/kilnd) since the sensor runs
// its own sampling goroutine independently of the engine's tick loop.
func New(cfg Config, sensorDev *sensor.TempSensor, relayDev relay.Driver, store *persistence.Store, loadProfile ProfileLoader, firingLogDir, lastFiringPath string, log zerolog.Logger) *FiringEngine {
	return &FiringEngine{
		cfg:        cfg,
		sensorDev:  sensorDev,
		relayDev:   relayDev,
		pidCtl:     pid.New(cfg.PID),
		coolingEst: cooling.New(cooling.Config{
			AmbientTemp: cfg.CoolingAmbientTemp,
			TargetTemp:  cfg.CoolingTargetTemp,
			MinSamples:  cfg.CoolingMinSamples,
		}),
		safetyMon: safety.New(safety.Config{
			EmergencyShutoffTemp: cfg.EmergencyShutoffTemp,
			IgnoreTempTooHigh:    cfg.IgnoreTempTooHigh,
			IgnoreSensorErrors:   cfg.IgnoreSensorErrors,
			StallDetectTime:      cfg.StallDetectTime,
			StallMinTempRise:     cfg.StallMinTempRise,
			RunawayDetectTime:    cfg.RunawayDetectTime,
			RunawayMinTempRise:   cfg.RunawayMinTempRise,
		}),
		store:          store,
		loadProfile:    loadProfile,
		firingLogDir:   firingLogDir,
		lastFiringPath: lastFiringPath,
		log:            log.With().Str("component", "engine").Logger(),
		runCh:          make(chan runRequest),
		pauseCh:        make(chan chan error),
		resumeCh:       make(chan chan error),
		stopCh:         make(chan chan error),
		stateCh:        make(chan chan StateSnapshot),
		broadcast:      make(chan StateSnapshot, 16),
		state:          StateIdle,
	}
}

// Broadcast exposes the outbound snapshot channel for the websocket hub to
// subscribe to. One snapshot is posted after every tick.
func (e *FiringEngine) Broadcast() <-chan StateSnapshot { return e.broadcast }

// Run is the engine's single background loop; start it with `go`. It
// exits when ctx is cancelled.
//
// Each iteration first drains any pending command non-blockingly, then
// runs one tick of the control loop. A tick's own relay actuation is what
// paces the loop (it blocks for the configured sensor period while it
// holds the heater on/off) -- there is no separate ticker layered on top,
// mirroring the original single-threaded run() loop this is grounded on.
func (e *FiringEngine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.shutdownRelay()
			return

		case req := <-e.runCh:
			req.resp <- e.doRun(req.profile, req.startAtMinutes, req.allowSeek)
			continue

		case resp := <-e.pauseCh:
			if e.state == StateRunning {
				e.state = StatePaused
				resp <- nil
			} else {
				resp <- fmt.Errorf("engine: cannot pause from state %s", e.state)
			}
			continue

		case resp := <-e.resumeCh:
			if e.state == StatePaused {
				e.state = StateRunning
				resp <- nil
			} else {
				resp <- fmt.Errorf("engine: cannot resume from state %s", e.state)
			}
			continue

		case resp := <-e.stopCh:
			e.doStop()
			resp <- nil
			continue

		case respCh := <-e.stateCh:
			respCh <- e.snapshot()
			continue

		default:
		}

		if ctx.Err() != nil {
			e.shutdownRelay()
			return
		}

		e.tick(ctx, time.Now())
		select {
		case e.broadcast <- e.snapshot():
		default:
			// slow observer: drop the frame, never block the control loop
		}
	}
}

// RunProfile commands the engine to start a profile. startAtMinutes is
// applied in any state; allowSeek is honored only from IDLE.
func (e *FiringEngine) RunProfile(ctx context.Context, p *profile.Profile, startAtMinutes float64, allowSeek bool) error {
	resp := make(chan error, 1)
	select {
	case e.runCh <- runRequest{profile: p, startAtMinutes: startAtMinutes, allowSeek: allowSeek, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-resp
}

func (e *FiringEngine) Pause(ctx context.Context) error  { return e.call(ctx, e.pauseCh) }
func (e *FiringEngine) Resume(ctx context.Context) error { return e.call(ctx, e.resumeCh) }
func (e *FiringEngine) Stop(ctx context.Context) error   { return e.call(ctx, e.stopCh) }

func (e *FiringEngine) call(ctx context.Context, ch chan chan error) error {
	resp := make(chan error, 1)
	select {
	case ch <- resp:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-resp
}

// GetState returns a consistent snapshot of the engine's current state.
// Observers never read controllerContext directly.
func (e *FiringEngine) GetState(ctx context.Context) (StateSnapshot, error) {
	respCh := make(chan StateSnapshot, 1)
	select {
	case e.stateCh <- respCh:
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	}
	return <-respCh, nil
}

func (e *FiringEngine) doRun(p *profile.Profile, startAtMinutes float64, allowSeek bool) error {
	if p == nil {
		return fmt.Errorf("engine: profile is required")
	}
	runtime := startAtMinutes * 60
	if allowSeek && e.state == StateIdle && e.cfg.SeekStart {
		temp := e.sensorDev.Reading().Temp
		runtime += p.FindNextTimeFromTemperature(temp)
	}

	e.ctx.reset()
	e.ctx.runID = uuid.New()
	e.ctx.profile = p
	e.ctx.runtimeSeconds = runtime
	now := time.Now()
	e.ctx.wallStart = now
	e.ctx.scheduleStart = now.Add(-time.Duration(runtime * float64(time.Second)))

	if e.cfg.UseRateBasedControl && len(p.Segments) > 0 {
		e.ctx.segmentIndex = 0
		e.ctx.segmentPhase = profile.PhaseRamp
		e.ctx.segmentStartTime = now
		e.ctx.segmentStartTemp = e.sensorDev.Reading().Temp
	}

	e.pidCtl.Reset()
	e.safetyMon.ResetArming()
	e.tempLog = e.tempLog[:0]
	e.state = StateRunning

	e.log.Info().Str("profile", p.Name).Float64("startat_minutes", startAtMinutes).Msg("run started")
	return nil
}

func (e *FiringEngine) doStop() {
	if e.ctx.profile != nil && e.state != StateIdle {
		e.saveFiringLog("aborted", e.tempLog)
	}
	e.shutdownRelay()
	e.ctx.reset()
	e.pidCtl.Reset()
	e.state = StateIdle
	e.persistSnapshot(true)
}

func (e *FiringEngine) shutdownRelay() {
	if err := e.relayDev.Cool(0); err != nil {
		e.log.Error().Err(err).Msg("failed to deassert relay on shutdown")
	}
}

func (e *FiringEngine) snapshot() StateSnapshot {
	reading := e.sensorDev.Reading()
	snap := StateSnapshot{
		RunID:        e.ctx.runID,
		State:        e.state,
		Runtime:      e.ctx.runtimeSeconds,
		ActualElapsed: e.ctx.actualElapsed,
		Temperature:  reading.Temp,
		Target:       e.ctx.targetTemp,
		Duty:         e.ctx.duty,
		Heat:         e.ctx.duty > 0,
		HeatRate:     e.ctx.heatRate,
		Cost:         e.ctx.costAccumulated,
		KwhRate:      e.cfg.KwhRate,
		CurrencyType: e.cfg.CurrencyType,
		CatchingUp:   e.ctx.catchingUp,
		At:           time.Now(),
	}
	if e.ctx.profile != nil {
		snap.Profile = e.ctx.profile.Name
		snap.TotalTime = e.ctx.profile.EstimateDuration(profile.EstimatedRates{
			MaxHeating:  e.cfg.EstimatedMaxHeatingRate,
			NaturalCool: e.cfg.EstimatedNaturalCoolingRate,
		})
	}
	if e.cfg.UseRateBasedControl && e.ctx.profile != nil && len(e.ctx.profile.Segments) > 0 {
		snap.TargetHeatRate = e.ctx.targetHeatRate
		snap.CurrentSegment = e.ctx.segmentIndex
		snap.SegmentPhase = e.ctx.segmentPhase.String()
		snap.TotalSegments = len(e.ctx.profile.Segments)
		snap.ETASeconds = e.estimateRemainingTime(reading.Temp)
	}
	if e.ctx.coolingMode {
		snap.CoolingEstimate = e.coolingEst.Estimate()
	}
	return snap
}
