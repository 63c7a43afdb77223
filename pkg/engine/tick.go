package engine

import (
	"context"
	"math"
	"time"

	"github.com/kilnforge/kiln-controller/pkg/profile"
)

// tick dispatches one control-loop iteration by state, mirroring the
// per-state operation order of the original run() loop: IDLE polls for
// automatic restart and cooling-mode bookkeeping; PAUSED freezes the
// schedule forward and keeps the PID/safety checks live; RUNNING updates
// cost/divergence/progress, advances the schedule, and drives the PID.
func (e *FiringEngine) tick(ctx context.Context, now time.Time) {
	switch e.state {
	case StateIdle:
		e.tickIdle(now)
	case StatePaused:
		e.tickPaused(now)
	case StateRunning:
		e.tickRunning(now)
	}
}

func (e *FiringEngine) tickIdle(now time.Time) {
	if e.tryAutomaticRestart(now) {
		return
	}

	reading := e.sensorDev.Reading()
	targetTemp := e.cfg.CoolingTargetTemp
	if reading.Temp > targetTemp {
		if !e.ctx.coolingMode {
			e.ctx.coolingMode = true
			e.coolingEst.Reset()
		}
		e.coolingEst.AddSample(now, reading.Temp)
	} else if e.ctx.coolingMode {
		e.ctx.coolingMode = false
		e.coolingEst.Reset()
	}

	time.Sleep(time.Second)
}

func (e *FiringEngine) tickPaused(now time.Time) {
	// freeze the schedule forward by shifting scheduleStart so runtime does
	// not advance while paused.
	e.ctx.scheduleStart = now.Add(-time.Duration(e.ctx.runtimeSeconds * float64(time.Second)))
	e.updateTargetTemp(now)
	e.runControlAndSafety(now)
	e.checkScheduleEnded(now, "paused")
}

func (e *FiringEngine) tickRunning(now time.Time) {
	if e.ctx.wallStart.IsZero() {
		e.ctx.actualElapsed = 0
	} else {
		e.ctx.actualElapsed = now.Sub(e.ctx.wallStart).Seconds()
	}

	reading := e.sensorDev.Reading()
	e.trackDivergence(reading.Temp)
	e.maybePersistSnapshot(now)

	if e.cfg.UseRateBasedControl && e.ctx.profile != nil && len(e.ctx.profile.Segments) > 0 {
		e.updateSegmentProgress(now, reading.Temp)
		if e.state != StateRunning {
			// a segment advance may have completed the firing and flipped
			// the state to IDLE; don't keep driving a finished run.
			return
		}
		e.updateTargetTemp(now)
		e.checkRateDeviation()
	} else {
		e.kilnMustCatchUp(now, reading.Temp)
		e.updateRuntime(now)
		e.updateTargetTemp(now)
		e.checkScheduleEnded(now, "completed")
		if e.state != StateRunning {
			return
		}
	}

	e.runControlAndSafety(now)
}

// kilnMustCatchUp shifts scheduleStart forward by one tick whenever the
// kiln is further than the PID window from its target, so the schedule
// effectively pauses until it catches up. v1/legacy control only.
func (e *FiringEngine) kilnMustCatchUp(now time.Time, temp float64) {
	if !e.cfg.KilnMustCatchUp {
		return
	}
	diff := e.ctx.targetTemp - temp
	if diff > e.cfg.PID.Window || -diff > e.cfg.PID.Window {
		e.ctx.scheduleStart = now.Add(-time.Duration(e.ctx.runtimeSeconds * float64(time.Second)))
		e.ctx.catchingUp = true
		return
	}
	e.ctx.catchingUp = false
}

func (e *FiringEngine) updateRuntime(now time.Time) {
	delta := now.Sub(e.ctx.scheduleStart).Seconds()
	if delta < 0 {
		delta = 0
	}
	e.ctx.runtimeSeconds = delta
}

func (e *FiringEngine) updateTargetTemp(now time.Time) {
	if e.ctx.profile == nil {
		e.ctx.targetTemp = 0
		return
	}
	if e.cfg.UseRateBasedControl && len(e.ctx.profile.Segments) > 0 {
		e.ctx.targetTemp = e.calculateRateBasedTarget(now)
		e.ctx.targetHeatRate = rateValue(e.ctx.profile.GetRateForSegment(e.ctx.segmentIndex))
		return
	}
	e.ctx.targetTemp = e.ctx.profile.GetTarget(e.ctx.runtimeSeconds)
}

// calculateRateBasedTarget implements the ceiling+lead+clamp formula: the
// rate-based ceiling (segment_start_temp + rate*elapsed_hours) is the
// primary constraint, a small lookahead lead keeps the PID responsive, and
// the result never crosses the segment's own target.
func (e *FiringEngine) calculateRateBasedTarget(now time.Time) float64 {
	p := e.ctx.profile
	if e.ctx.segmentIndex >= len(p.Segments) {
		return 0
	}
	if e.ctx.segmentPhase == profile.PhaseHold {
		return p.Segments[e.ctx.segmentIndex].Target
	}
	seg := p.Segments[e.ctx.segmentIndex]
	if seg.Rate.Kind != profile.RateNumeric {
		return seg.Target
	}
	if seg.Rate.Value == 0 {
		return seg.Target
	}

	elapsedSeconds := 0.0
	if !e.ctx.segmentStartTime.IsZero() {
		elapsedSeconds = now.Sub(e.ctx.segmentStartTime).Seconds()
	}
	elapsedHours := elapsedSeconds / 3600

	startTemp := e.ctx.segmentStartTemp
	ceiling := startTemp + seg.Rate.Value*elapsedHours

	lookahead := e.cfg.RateLookaheadSeconds
	if lookahead <= 0 {
		lookahead = 60
	}
	effectiveLookahead := math.Min(elapsedSeconds, lookahead)
	rawLead := seg.Rate.Value * (effectiveLookahead / 3600)

	maxDivergence := e.cfg.MaxTargetDivergence
	if maxDivergence <= 0 {
		maxDivergence = 50
	}
	lead := rawLead
	if math.Abs(rawLead) > maxDivergence {
		if rawLead > 0 {
			lead = maxDivergence
		} else {
			lead = -maxDivergence
		}
	}

	target := ceiling + lead
	if seg.Rate.Value > 0 {
		return math.Min(target, seg.Target)
	}
	return math.Max(target, seg.Target)
}

func rateValue(r profile.Rate) float64 {
	if r.Kind == profile.RateNumeric {
		return r.Value
	}
	return 0
}

// updateSegmentProgress advances current_segment/segment_phase based on
// the actual temperature reaching the segment's target (within tolerance)
// or, in the hold phase, the hold timer elapsing.
func (e *FiringEngine) updateSegmentProgress(now time.Time, temp float64) {
	p := e.ctx.profile
	if e.ctx.segmentIndex >= len(p.Segments) {
		return
	}
	tolerance := e.cfg.SegmentCompleteTolerance
	if tolerance <= 0 {
		tolerance = 5
	}

	idx, phase := p.GetSegmentForTemperature(temp, e.ctx.segmentIndex, tolerance)
	if idx != e.ctx.segmentIndex {
		// GetSegmentForTemperature never skips indices; only Phase changes
		// are produced for the current index.
		idx = e.ctx.segmentIndex
	}

	switch e.ctx.segmentPhase {
	case profile.PhaseRamp:
		if phase == profile.PhaseHold {
			if p.GetHoldDuration(idx) > 0 {
				e.ctx.segmentPhase = profile.PhaseHold
				e.ctx.holdStartTime = now
			} else {
				e.advanceSegment(now, temp)
			}
		}
	case profile.PhaseHold:
		if !e.ctx.holdStartTime.IsZero() && now.Sub(e.ctx.holdStartTime).Seconds() >= p.GetHoldDuration(idx) {
			e.advanceSegment(now, temp)
		}
	}
}

func (e *FiringEngine) advanceSegment(now time.Time, temp float64) {
	e.ctx.segmentIndex++
	if e.ctx.segmentIndex >= len(e.ctx.profile.Segments) {
		e.log.Info().Msg("all segments complete")
		e.saveFiringLog("completed", e.tempLog)
		e.ctx.coolingMode = true
		e.coolingEst.Reset()
		e.state = StateIdle
		e.persistSnapshot(true)
		return
	}
	e.ctx.segmentPhase = profile.PhaseRamp
	e.ctx.segmentStartTime = now
	e.ctx.segmentStartTemp = temp
}

// checkRateDeviation logs (does not abort on) excessive divergence between
// the segment's nominal rate and the recently observed heat rate.
func (e *FiringEngine) checkRateDeviation() {
	if e.ctx.segmentPhase != profile.PhaseRamp {
		return
	}
	if e.ctx.segmentIndex >= len(e.ctx.profile.Segments) {
		return
	}
	seg := e.ctx.profile.Segments[e.ctx.segmentIndex]
	if seg.Rate.Kind != profile.RateNumeric || seg.Rate.Value == 0 {
		return
	}
	targetRate := math.Abs(seg.Rate.Value)
	actualRate := math.Abs(e.ctx.heatRate)
	deviation := math.Abs(targetRate - actualRate)

	warningThreshold := e.cfg.RateDeviationWarning
	if warningThreshold <= 0 {
		warningThreshold = 50
	}
	if deviation <= warningThreshold {
		return
	}
	if actualRate < targetRate {
		e.log.Warn().Float64("actual_rate", actualRate).Float64("target_rate", targetRate).
			Msg("kiln heating slower than target, may not reach temperature in expected time")
	} else {
		e.log.Info().Float64("actual_rate", actualRate).Float64("target_rate", targetRate).
			Msg("kiln heating faster than target")
	}
}

func (e *FiringEngine) checkScheduleEnded(now time.Time, completedStatus string) {
	if e.ctx.profile == nil {
		return
	}
	totalTime := e.ctx.profile.EstimateDuration(profile.EstimatedRates{
		MaxHeating:  e.cfg.EstimatedMaxHeatingRate,
		NaturalCool: e.cfg.EstimatedNaturalCoolingRate,
	})
	if e.ctx.runtimeSeconds <= totalTime {
		return
	}
	e.log.Info().Float64("cost", e.ctx.costAccumulated).Msg("schedule ended")
	e.saveFiringLog(completedStatus, e.tempLog)
	e.ctx.coolingMode = true
	e.coolingEst.Reset()
	e.state = StateIdle
	e.persistSnapshot(true)
}

func (e *FiringEngine) trackDivergence(temp float64) {
	e.ctx.divergenceSamples = append(e.ctx.divergenceSamples, math.Abs(e.ctx.targetTemp-temp))
}

// runControlAndSafety runs one PID step, actuates the relay for the
// current tick period (this is what paces the loop), updates cost and
// heat-rate tracking, and evaluates the safety interlocks.
func (e *FiringEngine) runControlAndSafety(now time.Time) {
	reading := e.sensorDev.Reading()
	tickSeconds := e.cfg.SensorTimeWait.Seconds()
	if tickSeconds <= 0 {
		tickSeconds = 1
	}

	duty := e.pidCtl.Step(e.ctx.targetTemp, reading.Temp, now)

	// during a cooling segment, don't heat once at or above target -- let
	// the kiln cool naturally instead of fighting it.
	if e.ctx.targetHeatRate < 0 && reading.Temp >= e.ctx.targetTemp {
		duty = 0
		e.pidCtl.Reset()
	}

	e.ctx.duty = duty
	e.updateCost(duty, tickSeconds)

	timeForRate := e.ctx.runtimeSeconds
	if e.cfg.UseRateBasedControl {
		timeForRate = e.ctx.actualElapsed
	}
	e.updateHeatRate(timeForRate, reading.Temp, now)

	e.actuate(duty, tickSeconds)

	if abort := e.safetyMon.Evaluate(reading.Temp, e.sensorDev.OverLimit(), duty, now); abort != nil {
		e.log.Error().Str("cause", string(abort.Cause)).Msg(abort.Message)
		e.saveFiringLog(string(abort.Cause), e.tempLog)
		e.shutdownRelay()
		e.ctx.reset()
		e.pidCtl.Reset()
		e.safetyMon.ResetArming()
		e.state = StateIdle
		e.persistSnapshot(true)
	}
}

func (e *FiringEngine) updateCost(duty, tickSeconds float64) {
	if duty <= 0 {
		return
	}
	e.ctx.costAccumulated += e.cfg.KwhRate * e.cfg.KwElements * duty * (tickSeconds / 3600)
}

// updateHeatRate maintains the ring of recent (time, temp) samples used to
// compute the observed heat rate, bounded both by count (min_samples..1000)
// and by a rolling time window.
func (e *FiringEngine) updateHeatRate(runtime, temp float64, now time.Time) {
	e.ctx.heatRateSamples = append(e.ctx.heatRateSamples, heatRateSample{runtime: runtime, temp: temp})

	minSamples := 3
	windowSeconds := e.cfg.HeatRateWindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 300
	}

	if len(e.ctx.heatRateSamples) > minSamples {
		cutoff := runtime - windowSeconds
		filtered := e.ctx.heatRateSamples[:0:0]
		for _, s := range e.ctx.heatRateSamples {
			if s.runtime >= cutoff {
				filtered = append(filtered, s)
			}
		}
		if len(filtered) >= minSamples {
			e.ctx.heatRateSamples = filtered
		} else if len(e.ctx.heatRateSamples) > minSamples {
			e.ctx.heatRateSamples = e.ctx.heatRateSamples[len(e.ctx.heatRateSamples)-minSamples:]
		}
	}
	if len(e.ctx.heatRateSamples) > 1000 {
		e.ctx.heatRateSamples = e.ctx.heatRateSamples[len(e.ctx.heatRateSamples)-1000:]
	}

	if len(e.ctx.heatRateSamples) >= 2 {
		first := e.ctx.heatRateSamples[0]
		last := e.ctx.heatRateSamples[len(e.ctx.heatRateSamples)-1]
		if last.runtime != first.runtime {
			e.ctx.heatRate = (last.temp - first.temp) / (last.runtime - first.runtime) * 3600
		}
	}

	e.tempLog = append(e.tempLog, firingLogPoint{Runtime: runtime, Temperature: temp, Target: e.ctx.targetTemp})
}

// actuate drives the relay for the tick period split between heat and
// cool according to duty, blocking for the full period either way so the
// loop's cadence stays consistent.
func (e *FiringEngine) actuate(duty, tickSeconds float64) {
	heatFor := time.Duration(duty * tickSeconds * float64(time.Second))
	coolFor := time.Duration((1 - duty) * tickSeconds * float64(time.Second))

	if heatFor > 0 {
		if err := e.relayDev.Heat(heatFor); err != nil {
			e.log.Error().Err(err).Msg("relay heat failed")
		}
	}
	if coolFor > 0 {
		if err := e.relayDev.Cool(coolFor); err != nil {
			e.log.Error().Err(err).Msg("relay cool failed")
		}
	}
}

// estimateRemainingTime sums the remainder of the current segment plus
// every following segment's estimated ramp+hold time.
func (e *FiringEngine) estimateRemainingTime(currentTemp float64) float64 {
	p := e.ctx.profile
	if p == nil || e.ctx.segmentIndex >= len(p.Segments) {
		return 0
	}
	remaining := 0.0
	seg := p.Segments[e.ctx.segmentIndex]

	if e.ctx.segmentPhase == profile.PhaseRamp {
		tempRemaining := math.Abs(seg.Target - currentTemp)
		remaining += rampSeconds(seg.Rate, tempRemaining, e.cfg.EstimatedMaxHeatingRate, e.cfg.EstimatedNaturalCoolingRate)
		remaining += seg.HoldSeconds
	} else if e.ctx.segmentPhase == profile.PhaseHold {
		if !e.ctx.holdStartTime.IsZero() {
			elapsed := time.Since(e.ctx.holdStartTime).Seconds()
			remaining += math.Max(0, seg.HoldSeconds-elapsed)
		}
	}

	prevTarget := currentTemp
	for i := e.ctx.segmentIndex + 1; i < len(p.Segments); i++ {
		s := p.Segments[i]
		tempDiff := math.Abs(s.Target - prevTarget)
		remaining += rampSeconds(s.Rate, tempDiff, e.cfg.EstimatedMaxHeatingRate, e.cfg.EstimatedNaturalCoolingRate)
		remaining += s.HoldSeconds
		prevTarget = s.Target
	}
	return remaining
}

func rampSeconds(rate profile.Rate, tempDiff, maxHeatingRate, naturalCoolRate float64) float64 {
	switch {
	case rate.Kind == profile.RateMax:
		if maxHeatingRate <= 0 {
			maxHeatingRate = 500
		}
		return tempDiff / maxHeatingRate * 3600
	case rate.Kind == profile.RateNaturalCool:
		if naturalCoolRate <= 0 {
			naturalCoolRate = 100
		}
		return tempDiff / naturalCoolRate * 3600
	case rate.Value != 0:
		return tempDiff / math.Abs(rate.Value) * 3600
	default:
		return 0
	}
}

func (e *FiringEngine) maybePersistSnapshot(now time.Time) {
	if !e.cfg.AutomaticRestarts {
		return
	}
	interval := e.cfg.StateSaveInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if !e.ctx.lastStateSave.IsZero() && now.Sub(e.ctx.lastStateSave) < interval {
		return
	}
	e.persistSnapshot(false)
	e.ctx.lastStateSave = now
}

func (e *FiringEngine) persistSnapshot(force bool) {
	if e.store == nil {
		return
	}
	_ = force
	snap := e.snapshotForPersistence()
	if err := e.store.Save(snap); err != nil {
		e.log.Error().Err(err).Msg("failed to persist restart snapshot")
	}
}
