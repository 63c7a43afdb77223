package pid_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/kiln-controller/pkg/pid"
)

func TestStep_BangBangOutsideWindow(t *testing.T) {
	c := pid.New(pid.Config{Kp: 1, Ki: 100, Kd: 0})
	now := time.Now()

	out := c.Step(1000, 500, now)
	require.Equal(t, 1.0, out)

	out = c.Step(100, 500, now.Add(time.Second))
	require.Equal(t, 0.0, out)
}

func TestStep_WithinWindowRunsPIDLaw(t *testing.T) {
	c := pid.New(pid.Config{Kp: 1, Ki: 1000, Kd: 0, Window: 50})
	now := time.Now()

	out := c.Step(500, 480, now)
	assert.Greater(t, out, 0.0)
	assert.LessOrEqual(t, out, 1.0)
}

func TestStep_AntiWindupFreezesIntegralOnSaturation(t *testing.T) {
	c := pid.New(pid.Config{Kp: 1000, Ki: 1, Kd: 0, Window: 50})
	now := time.Now()

	c.Step(500, 490, now)
	firstIterm := c.Stats.I

	c.Step(500, 490, now.Add(time.Second))
	assert.Equal(t, firstIterm, c.Stats.I, "integral should not accumulate while output is saturated")
}

func TestStep_ThrottleBelowTempCapsOutput(t *testing.T) {
	c := pid.New(pid.Config{Kp: 1, Ki: 1, Kd: 0, ThrottleBelowTemp: 300, ThrottlePercent: 40})
	now := time.Now()

	out := c.Step(200, 0, now)
	assert.InDelta(t, 0.4, out, 1e-9)
}

func TestReset_ClearsIntegralAndStartedFlag(t *testing.T) {
	c := pid.New(pid.Config{Kp: 1, Ki: 1000, Kd: 0, Window: 50})
	now := time.Now()
	c.Step(500, 480, now)
	c.Reset()
	// after reset, the next Step should seed its clock rather than using a
	// huge dt from the previous call's timestamp.
	out := c.Step(500, 480, now.Add(time.Hour))
	assert.GreaterOrEqual(t, out, 0.0)
}
