package sensor

import (
	"sync"
	"time"
)

// SimulatedReader is a lightweight thermal model used by the simulated
// kiln harness (kilnd's -simulate mode). SetDuty is called by the
// SimulatedDriver the control loop actuates, closing the loop end to end.
//
// The model is deliberately simpler than the lumped-capacitance,
// speedup-factor-aware simulator it's grounded on: it runs in real time
// and has no heating-element-vs-chamber two-body split. That level of
// fidelity isn't needed to exercise the control loop in tests.
type SimulatedReader struct {
	mu sync.Mutex

	ambientTemp float64
	thermalMass float64 // larger => slower to heat/cool
	heaterPower float64 // degrees/sec at full duty with zero thermal mass loss

	temp   float64
	duty   float64
	lastAt time.Time
}

func NewSimulatedReader(ambientTemp, startTemp, thermalMass, heaterPower float64) *SimulatedReader {
	return &SimulatedReader{
		ambientTemp: ambientTemp,
		thermalMass: thermalMass,
		heaterPower: heaterPower,
		temp:        startTemp,
		lastAt:      time.Now(),
	}
}

// SetDuty records the heater's current commanded duty cycle (0..1); the
// relay.Driver wrapping this reader calls it from Heat/Cool.
func (r *SimulatedReader) SetDuty(duty float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duty = duty
}

func (r *SimulatedReader) Read() (float64, FaultClass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	dt := now.Sub(r.lastAt).Seconds()
	r.lastAt = now
	if dt <= 0 {
		return r.temp, FaultNone, nil
	}

	heatGain := r.duty * r.heaterPower * dt
	coolLoss := (r.temp - r.ambientTemp) / r.thermalMass * dt
	r.temp += heatGain - coolLoss
	return r.temp, FaultNone, nil
}

// SimulatedDriver adapts relay.Driver onto a SimulatedReader so the
// engine's actuation calls feed directly back into the thermal model
// instead of needing a separate wiring step.
type SimulatedDriver struct {
	reader *SimulatedReader
}

func NewSimulatedDriver(reader *SimulatedReader) *SimulatedDriver {
	return &SimulatedDriver{reader: reader}
}

func (d *SimulatedDriver) Heat(dur time.Duration) error {
	d.reader.SetDuty(1)
	time.Sleep(dur)
	return nil
}

func (d *SimulatedDriver) Cool(dur time.Duration) error {
	d.reader.SetDuty(0)
	time.Sleep(dur)
	return nil
}
