package sensor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/kiln-controller/pkg/sensor"
)

type fakeReader struct {
	mu     sync.Mutex
	values []float64
	faults []sensor.FaultClass
	idx    int
}

func (f *fakeReader) Read() (float64, sensor.FaultClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.idx
	if i >= len(f.values) {
		i = len(f.values) - 1
	}
	f.idx++
	fault := sensor.FaultNone
	if i < len(f.faults) {
		fault = f.faults[i]
	}
	return f.values[i], fault, nil
}

func TestFaultTracker_ErrorPctAndOverLimit(t *testing.T) {
	// record() is unexported, so drive the tracker indirectly through a
	// TempSensor sampling a reader that fails most of the time.
	reader := &fakeReader{
		values: []float64{100, 100, 100, 100},
		faults: []sensor.FaultClass{sensor.FaultNone, sensor.FaultShortCircuit, sensor.FaultShortCircuit, sensor.FaultShortCircuit},
	}
	s := sensor.New(reader, sensor.FaultPolicy{}, 40*time.Millisecond, 2, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.True(t, s.OverLimit())
}

func TestTempSensor_MedianSmoothing(t *testing.T) {
	reader := &fakeReader{values: []float64{10, 1000, 20}}
	s := sensor.New(reader, sensor.FaultPolicy{}, 30*time.Millisecond, 3, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	reading := s.Reading()
	require.NotZero(t, reading.Temp)
	assert.Less(t, reading.Temp, 1000.0, "median of [10,1000,20] should suppress the outlier")
}

func TestFaultPolicy_IgnoredTreatsListedFaultAsGood(t *testing.T) {
	policy := sensor.FaultPolicy{sensor.FaultColdJunctionHigh: true}
	reader := &fakeReader{
		values: []float64{500},
		faults: []sensor.FaultClass{sensor.FaultColdJunctionHigh},
	}
	s := sensor.New(reader, policy, 20*time.Millisecond, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.False(t, s.OverLimit())
}

func TestFaultPolicy_IgnoredFaultDoesNotEnterMedian(t *testing.T) {
	// An ignored fault only changes the fault tracker's good/bad bookkeeping
	// -- it must never feed the value the reader returned alongside the
	// fault code into the smoothing ring, the same way a non-ignored fault
	// doesn't.
	policy := sensor.FaultPolicy{sensor.FaultColdJunctionHigh: true}
	reader := &fakeReader{
		values: []float64{100, 900, 900, 900},
		faults: []sensor.FaultClass{sensor.FaultNone, sensor.FaultColdJunctionHigh, sensor.FaultColdJunctionHigh, sensor.FaultColdJunctionHigh},
	}
	s := sensor.New(reader, policy, 20*time.Millisecond, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, 100.0, s.Reading().Temp, "ignored-fault samples must not move the median")
	assert.False(t, s.OverLimit())
}
