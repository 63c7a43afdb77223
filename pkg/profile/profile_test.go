package profile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnforge/kiln-controller/pkg/profile"
)

const v1JSON = `{
	"name": "bisque",
	"type": "profile",
	"temp_units": "F",
	"data": [[0, 70], [3600, 1000], [7200, 1000]]
}`

func TestLoadV1_DerivesSegmentsAndMergesHolds(t *testing.T) {
	p, err := profile.Load([]byte(v1JSON), "F")
	require.NoError(t, err)
	require.Len(t, p.Segments, 1, "ramp+hold should merge into a single segment")

	seg := p.Segments[0]
	assert.Equal(t, profile.RateNumeric, seg.Rate.Kind)
	assert.InDelta(t, 930.0, seg.Rate.Value, 1e-9)
	assert.Equal(t, 1000.0, seg.Target)
	assert.Equal(t, 3600.0, seg.HoldSeconds)
}

func TestGetTarget_InterpolatesAndZerosPastEnd(t *testing.T) {
	p, err := profile.Load([]byte(v1JSON), "F")
	require.NoError(t, err)

	assert.InDelta(t, 70, p.GetTarget(0), 1e-9)
	assert.InDelta(t, 535, p.GetTarget(1800), 1)
	assert.Equal(t, 0.0, p.GetTarget(100000))
}

const v2JSON = `{
	"name": "cone 6",
	"version": 2,
	"start_temp": 70,
	"temp_units": "F",
	"segments": [
		{"rate": 200, "target": 1000, "hold_minutes": 10},
		{"rate": "max", "target": 1800, "hold_minutes": 0},
		{"rate": "cool", "target": 200, "hold_minutes": 0}
	]
}`

func TestLoadV2_ProjectsLegacyPoints(t *testing.T) {
	p, err := profile.Load([]byte(v2JSON), "F")
	require.NoError(t, err)
	require.Len(t, p.Segments, 3)
	assert.NotEmpty(t, p.Points)
	assert.Equal(t, 70.0, p.Points[0].Temp)
}

func TestSegmentValidate_RejectsRateSignMismatch(t *testing.T) {
	seg := profile.Segment{Rate: profile.NumericRate(-50), Target: 1000}
	err := seg.Validate(500)
	assert.Error(t, err)
}

func TestRate_JSONRoundTrip(t *testing.T) {
	for _, r := range []profile.Rate{profile.NumericRate(123.5), profile.MaxRate(), profile.NaturalCoolRate()} {
		data, err := r.MarshalJSON()
		require.NoError(t, err)
		var decoded profile.Rate
		require.NoError(t, decoded.UnmarshalJSON(data))
		assert.Equal(t, r, decoded)
	}
}

func TestFindNextTimeFromTemperature_OnlyMatchesIncreasingSegments(t *testing.T) {
	p, err := profile.Load([]byte(v1JSON), "F")
	require.NoError(t, err)
	at := p.FindNextTimeFromTemperature(535)
	assert.InDelta(t, 1800, at, 1)
}

func TestGetSegmentForTemperature_TransitionsToHoldWithinTolerance(t *testing.T) {
	p, err := profile.Load([]byte(v2JSON), "F")
	require.NoError(t, err)
	idx, phase := p.GetSegmentForTemperature(998, 0, 5)
	assert.Equal(t, 0, idx)
	assert.Equal(t, profile.PhaseHold, phase)
}
