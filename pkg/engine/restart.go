package engine

import (
	"time"

	"github.com/kilnforge/kiln-controller/pkg/persistence"
	"github.com/kilnforge/kiln-controller/pkg/profile"
)

func (e *FiringEngine) snapshotForPersistence() persistence.Snapshot {
	reading := e.sensorDev.Reading()
	snap := persistence.Snapshot{
		RunID:        e.ctx.runID,
		State:        string(e.state),
		Runtime:      e.ctx.runtimeSeconds,
		Cost:         e.ctx.costAccumulated,
		Target:       e.ctx.targetTemp,
		Temperature:  reading.Temp,
		Heat:         e.ctx.duty > 0,
		KwhRate:      e.cfg.KwhRate,
		CurrencyType: e.cfg.CurrencyType,
	}
	if e.ctx.profile != nil {
		snap.Profile = e.ctx.profile.Name
		snap.CurrentSegment = e.ctx.segmentIndex
		snap.SegmentPhase = e.ctx.segmentPhase.String()
	}
	return snap
}

// tryAutomaticRestart is called once per IDLE tick. It returns true if it
// resumed a run, so the caller skips its normal cooling-mode bookkeeping
// for this tick.
func (e *FiringEngine) tryAutomaticRestart(now time.Time) bool {
	if !e.cfg.AutomaticRestarts || e.loadProfile == nil || e.store == nil {
		return false
	}
	window := e.cfg.AutomaticRestartWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	if !e.store.RestartEligible(now, window) {
		return false
	}
	snap, err := e.store.Load()
	if err != nil {
		e.log.Error().Err(err).Msg("failed to read restart snapshot")
		return false
	}

	p, err := e.loadProfile(snap.Profile)
	if err != nil {
		e.log.Error().Err(err).Str("profile", snap.Profile).Msg("failed to load profile for automatic restart")
		return false
	}

	if e.cfg.UseRateBasedControl && len(p.Segments) > 0 {
		e.restartV2(p, snap, now)
	} else {
		e.restartV1(p, snap)
	}
	return true
}

// restartV2 resumes a rate-based run at the recorded segment/phase,
// restarting the hold timer from now if the saved phase was a hold -- a
// conservative choice (per spec's open questions) that can extend a hold
// by up to its full duration but never truncates one.
func (e *FiringEngine) restartV2(p *profile.Profile, snap persistence.Snapshot, now time.Time) {
	e.log.Info().Str("profile", snap.Profile).Int("segment", snap.CurrentSegment).Str("phase", snap.SegmentPhase).
		Msg("automatic restart (v2)")

	e.ctx.reset()
	e.ctx.runID = snap.RunID
	e.ctx.profile = p
	e.ctx.wallStart = now
	e.ctx.scheduleStart = now
	e.ctx.segmentIndex = snap.CurrentSegment
	if snap.SegmentPhase == "hold" {
		e.ctx.segmentPhase = profile.PhaseHold
		e.ctx.holdStartTime = now
	} else {
		e.ctx.segmentPhase = profile.PhaseRamp
	}
	e.ctx.segmentStartTime = now
	e.ctx.segmentStartTemp = e.sensorDev.Reading().Temp
	e.ctx.costAccumulated = snap.Cost

	e.pidCtl.Reset()
	e.safetyMon.ResetArming()
	e.tempLog = e.tempLog[:0]
	e.state = StateRunning
}

func (e *FiringEngine) restartV1(p *profile.Profile, snap persistence.Snapshot) {
	startAtMinutes := snap.Runtime / 60
	e.log.Info().Str("profile", snap.Profile).Float64("startat_minutes", startAtMinutes).Msg("automatic restart (v1)")

	if err := e.doRun(p, startAtMinutes, false); err != nil {
		e.log.Error().Err(err).Msg("automatic restart failed")
		return
	}
	e.ctx.costAccumulated = snap.Cost
	e.ctx.runID = snap.RunID
}
