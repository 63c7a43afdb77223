// Package profile parses and interpolates kiln firing schedules.
//
// Two wire formats are supported: v1, a flat list of (seconds, temperature)
// points, and v2, a list of ramp/hold segments expressed as a rate. Both
// are normalized into a segment list; v1 profiles additionally keep their
// original points around for get_target-style linear interpolation and for
// seek-start.
package profile

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RateKind tags the three shapes a v2 segment rate can take.
type RateKind int

const (
	RateNumeric RateKind = iota
	RateMax
	RateNaturalCool
)

// Rate is a tagged union over a numeric deg/hr rate and the two sentinel
// rates ("max" and "cool" in the original schedule format).
type Rate struct {
	Kind  RateKind
	Value float64 // only meaningful when Kind == RateNumeric
}

func NumericRate(v float64) Rate { return Rate{Kind: RateNumeric, Value: v} }
func MaxRate() Rate              { return Rate{Kind: RateMax} }
func NaturalCoolRate() Rate      { return Rate{Kind: RateNaturalCool} }

func (r Rate) IsZero() bool { return r.Kind == RateNumeric && r.Value == 0 }

func (r Rate) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case RateMax:
		return json.Marshal("max")
	case RateNaturalCool:
		return json.Marshal("cool")
	default:
		return json.Marshal(r.Value)
	}
}

func (r *Rate) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*r = NumericRate(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("profile: rate must be a number or \"max\"/\"cool\": %w", err)
	}
	switch s {
	case "max", "MAX":
		*r = MaxRate()
	case "cool", "NATURAL_COOL":
		*r = NaturalCoolRate()
	default:
		return fmt.Errorf("profile: unrecognized rate sentinel %q", s)
	}
	return nil
}

// Phase is where a segment's execution currently stands.
type Phase int

const (
	PhaseRamp Phase = iota
	PhaseHold
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseRamp:
		return "ramp"
	case PhaseHold:
		return "hold"
	default:
		return "complete"
	}
}

// Segment is one ramp-and-hold step of a v2 profile.
type Segment struct {
	Rate        Rate
	Target      float64
	HoldSeconds float64
}

// Validate enforces that a numeric rate's sign matches the direction of
// travel implied by previousTarget -> s.Target. Zero rates and the two
// sentinel rates carry no direction constraint.
func (s Segment) Validate(previousTarget float64) error {
	if s.Rate.Kind != RateNumeric || s.Rate.Value == 0 {
		return nil
	}
	if s.Rate.Value < 0 && s.Target > previousTarget {
		return fmt.Errorf("profile: negative rate %.2f with increasing target (%.2f -> %.2f)", s.Rate.Value, previousTarget, s.Target)
	}
	if s.Rate.Value > 0 && s.Target < previousTarget {
		return fmt.Errorf("profile: positive rate %.2f with decreasing target (%.2f -> %.2f)", s.Rate.Value, previousTarget, s.Target)
	}
	return nil
}

// Point is a (time, temperature) sample, the legacy v1 wire shape and also
// the shape v2 profiles project onto for graphing.
type Point struct {
	TimeSeconds float64
	Temp        float64
}

// Profile is an immutable, loaded firing schedule.
type Profile struct {
	Name      string
	Version   int
	StartTemp float64
	TempUnits string // "C" or "F"
	Segments  []Segment
	Points    []Point // always populated: v1's own points, or v2's legacy projection
}

// wire shapes ----------------------------------------------------------

type wireV1 struct {
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	TempUnits string      `json:"temp_units"`
	Data      [][2]float64 `json:"data"`
}

type wireV2Segment struct {
	Rate        Rate    `json:"rate"`
	Target      float64 `json:"target"`
	HoldMinutes float64 `json:"hold_minutes"`
}

type wireV2 struct {
	Name      string          `json:"name"`
	Version   int             `json:"version"`
	StartTemp float64         `json:"start_temp"`
	TempUnits string          `json:"temp_units"`
	Segments  []wireV2Segment `json:"segments"`
}

// Load parses either wire format, detected via the "version" field
// (absent or 1 => v1, 2 => v2), and converts temperatures/rates into
// systemScale ("C" or "F") if the profile was authored in the other scale.
func Load(data []byte, systemScale string) (*Profile, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("profile: invalid JSON: %w", err)
	}
	if probe.Version == 2 {
		return loadV2(data, systemScale)
	}
	return loadV1(data, systemScale)
}

func loadV1(data []byte, systemScale string) (*Profile, error) {
	var w wireV1
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("profile: invalid v1 JSON: %w", err)
	}
	if len(w.Data) == 0 {
		return nil, fmt.Errorf("profile: v1 profile %q has no data points", w.Name)
	}
	sort.Slice(w.Data, func(i, j int) bool { return w.Data[i][0] < w.Data[j][0] })

	units := w.TempUnits
	if units == "" {
		units = "F"
	}
	points := make([]Point, len(w.Data))
	for i, d := range w.Data {
		points[i] = Point{TimeSeconds: d[0], Temp: d[1]}
	}
	if needsConversion(units, systemScale) {
		for i := range points {
			points[i].Temp = ConvertTemp(points[i].Temp, units, systemScale)
		}
		units = systemScale
	}

	p := &Profile{
		Name:      w.Name,
		Version:   1,
		StartTemp: points[0].Temp,
		TempUnits: units,
		Points:    points,
	}
	p.Segments = segmentsFromV1Points(points)
	return p, nil
}

// segmentsFromV1Points derives v2-shaped segments from consecutive point
// pairs. A non-zero delta-temp emits a ramp segment at the implied rate; a
// zero delta-temp is a hold, and consecutive holds merge into the
// preceding ramp segment's hold time rather than becoming a standalone
// zero-rate segment. Only a flat run at the very start of the profile,
// which has no preceding segment, becomes one zero-rate hold segment
// (subsequent flat points merge into it). This merge behavior is the
// "more recent variant" explicitly adopted per the open design questions.
func segmentsFromV1Points(points []Point) []Segment {
	var segments []Segment
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]
		timeDiff := curr.TimeSeconds - prev.TimeSeconds
		tempDiff := curr.Temp - prev.Temp
		if timeDiff <= 0 {
			continue
		}
		if tempDiff != 0 {
			rate := (tempDiff / timeDiff) * 3600
			segments = append(segments, Segment{Rate: NumericRate(rate), Target: curr.Temp})
			continue
		}
		if len(segments) > 0 && segments[len(segments)-1].Target == curr.Temp {
			segments[len(segments)-1].HoldSeconds += timeDiff
		} else {
			segments = append(segments, Segment{Rate: NumericRate(0), Target: curr.Temp, HoldSeconds: timeDiff})
		}
	}
	return segments
}

func loadV2(data []byte, systemScale string) (*Profile, error) {
	var w wireV2
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("profile: invalid v2 JSON: %w", err)
	}
	units := w.TempUnits
	if units == "" {
		units = "F"
	}
	convert := needsConversion(units, systemScale)

	startTemp := w.StartTemp
	if convert {
		startTemp = ConvertTemp(startTemp, units, systemScale)
	}

	p := &Profile{
		Name:      w.Name,
		Version:   2,
		StartTemp: startTemp,
		TempUnits: units,
	}
	if convert {
		p.TempUnits = systemScale
	}

	previousTarget := startTemp
	for _, ws := range w.Segments {
		rate := ws.Rate
		target := ws.Target
		if convert {
			target = ConvertTemp(target, units, systemScale)
			if rate.Kind == RateNumeric {
				rate.Value = convertRate(rate.Value, units, systemScale)
			}
		}
		seg := Segment{Rate: rate, Target: target, HoldSeconds: ws.HoldMinutes * 60}
		if err := seg.Validate(previousTarget); err != nil {
			return nil, err
		}
		p.Segments = append(p.Segments, seg)
		previousTarget = target
	}
	p.Points = p.ToLegacyProjection(estimatedRatesDefault)
	return p, nil
}

// EstimatedRates carries the two config-driven rates (deg/hr) used to
// project "max" and "cool" segments onto (time, temp) points, since those
// segments carry no explicit rate of their own.
type EstimatedRates struct {
	MaxHeating    float64
	NaturalCool   float64
}

var estimatedRatesDefault = EstimatedRates{MaxHeating: 500, NaturalCool: 100}

// ToLegacyProjection walks the segment list and produces the (time, temp)
// point list a v1 consumer (graphing, seek-start) would expect, applying
// rates["max"/"cool"] estimates for the two sentinel rates and appending a
// hold point after any ramp whose hold > 0.
func (p *Profile) ToLegacyProjection(rates EstimatedRates) []Point {
	points := []Point{{TimeSeconds: 0, Temp: p.StartTemp}}
	currentTime := 0.0
	currentTemp := p.StartTemp

	for _, seg := range p.Segments {
		switch {
		case seg.Rate.Kind == RateMax:
			currentTime += absf(seg.Target-currentTemp) / rates.MaxHeating * 3600
			currentTemp = seg.Target
			points = append(points, Point{TimeSeconds: currentTime, Temp: currentTemp})
		case seg.Rate.Kind == RateNaturalCool:
			currentTime += absf(currentTemp-seg.Target) / rates.NaturalCool * 3600
			currentTemp = seg.Target
			points = append(points, Point{TimeSeconds: currentTime, Temp: currentTemp})
		case seg.Rate.Value != 0:
			currentTime += absf(seg.Target-currentTemp) / absf(seg.Rate.Value) * 3600
			currentTemp = seg.Target
			points = append(points, Point{TimeSeconds: currentTime, Temp: currentTemp})
		}
		if seg.HoldSeconds > 0 {
			currentTime += seg.HoldSeconds
			points = append(points, Point{TimeSeconds: currentTime, Temp: currentTemp})
		}
	}
	return points
}

// Reproject recomputes the legacy (time, temp) point list using caller-
// supplied max-heating/natural-cooling rate estimates, replacing whatever
// default projection Load used (500 deg/hr max heating, 100 deg/hr natural
// cooling). The engine does not call it, so seek-start on a v2 profile
// uses Load's default projection.
func (p *Profile) Reproject(rates EstimatedRates) {
	if p.Version == 2 {
		p.Points = p.ToLegacyProjection(rates)
	}
}

// EstimateDuration sums, per segment, the ramp time implied by its rate (or
// the estimated max/natural-cool rate for sentinel segments) plus its hold
// time.
func (p *Profile) EstimateDuration(rates EstimatedRates) float64 {
	total := 0.0
	currentTemp := p.StartTemp
	for _, seg := range p.Segments {
		switch {
		case seg.Rate.Kind == RateMax:
			total += absf(seg.Target-currentTemp) / rates.MaxHeating * 3600
		case seg.Rate.Kind == RateNaturalCool:
			total += absf(currentTemp-seg.Target) / rates.NaturalCool * 3600
		case seg.Rate.Value != 0:
			total += absf(seg.Target-currentTemp) / absf(seg.Rate.Value) * 3600
		}
		total += seg.HoldSeconds
		currentTemp = seg.Target
	}
	return total
}

// GetDuration returns the last point's time, the effective length of the
// profile's (time,temp) projection.
func (p *Profile) GetDuration() float64 {
	d := 0.0
	for _, pt := range p.Points {
		if pt.TimeSeconds > d {
			d = pt.TimeSeconds
		}
	}
	return d
}

// GetTarget linearly interpolates the v1-style target temperature at time
// t, returning 0 once t exceeds the profile's duration.
func (p *Profile) GetTarget(t float64) float64 {
	if t > p.GetDuration() {
		return 0
	}
	prev, next, ok := p.surroundingPoints(t)
	if !ok {
		return 0
	}
	if next.TimeSeconds == prev.TimeSeconds {
		return prev.Temp
	}
	slope := (next.Temp - prev.Temp) / (next.TimeSeconds - prev.TimeSeconds)
	return prev.Temp + (t-prev.TimeSeconds)*slope
}

func (p *Profile) surroundingPoints(t float64) (Point, Point, bool) {
	if len(p.Points) == 0 {
		return Point{}, Point{}, false
	}
	last := p.Points[len(p.Points)-1]
	if t >= last.TimeSeconds {
		if len(p.Points) >= 2 {
			return p.Points[len(p.Points)-2], last, true
		}
		return p.Points[0], p.Points[0], true
	}
	for i, pt := range p.Points {
		if t < pt.TimeSeconds {
			return p.Points[i-1], pt, true
		}
	}
	return Point{}, Point{}, false
}

// findXGivenY inverts the line through point1->point2 at temperature y,
// requiring point1.Time <= point2.Time, a strictly increasing slope, and y
// within [point1.Temp, point2.Temp]. Flat or decreasing segments, and out
// of range y, return (0, false).
func findXGivenY(y float64, p1, p2 Point) (float64, bool) {
	if p1.TimeSeconds > p2.TimeSeconds {
		return 0, false
	}
	if p1.Temp >= p2.Temp {
		return 0, false
	}
	if y < p1.Temp || y > p2.Temp {
		return 0, false
	}
	x := (y-p1.Temp)*(p2.TimeSeconds-p1.TimeSeconds)/(p2.Temp-p1.Temp) + p1.TimeSeconds
	return x, true
}

// FindNextTimeFromTemperature scans the legacy point projection for the
// first strictly-increasing segment whose range contains temperature,
// returning the implied time. Flat or decreasing segments are ineligible;
// if none qualify, it returns 0.
func (p *Profile) FindNextTimeFromTemperature(temperature float64) float64 {
	for i, pt := range p.Points {
		if pt.Temp < temperature {
			continue
		}
		if i == 0 {
			continue
		}
		if p.Points[i-1].Temp > temperature {
			continue
		}
		if x, ok := findXGivenY(temperature, p.Points[i-1], pt); ok {
			return x
		}
	}
	return 0
}

// GetSegmentForTemperature reports which index/phase the engine should be
// in given the current temperature, honoring the given completion
// tolerance.
func (p *Profile) GetSegmentForTemperature(currentTemp float64, segmentIndex int, tolerance float64) (int, Phase) {
	if segmentIndex >= len(p.Segments) {
		return len(p.Segments), PhaseComplete
	}
	seg := p.Segments[segmentIndex]
	switch {
	case seg.Rate.Kind == RateNumeric && seg.Rate.Value == 0:
		return segmentIndex, PhaseHold
	case seg.Rate.Kind == RateMax:
		if currentTemp >= seg.Target-tolerance {
			return segmentIndex, PhaseHold
		}
	case seg.Rate.Kind == RateNaturalCool:
		if currentTemp <= seg.Target+tolerance {
			return segmentIndex, PhaseHold
		}
	case seg.Rate.Value > 0:
		if currentTemp >= seg.Target-tolerance {
			return segmentIndex, PhaseHold
		}
	case seg.Rate.Value < 0:
		if currentTemp <= seg.Target+tolerance {
			return segmentIndex, PhaseHold
		}
	}
	return segmentIndex, PhaseRamp
}

func (p *Profile) GetRateForSegment(i int) Rate {
	if i >= len(p.Segments) {
		return NumericRate(0)
	}
	return p.Segments[i].Rate
}

func (p *Profile) GetHoldDuration(i int) float64 {
	if i >= len(p.Segments) {
		return 0
	}
	return p.Segments[i].HoldSeconds
}

// helpers ---------------------------------------------------------------

func needsConversion(profileUnits, systemScale string) bool {
	return normalizeScale(profileUnits) != normalizeScale(systemScale)
}

func normalizeScale(s string) string {
	if len(s) == 0 {
		return "F"
	}
	if s[0] == 'c' || s[0] == 'C' {
		return "C"
	}
	return "F"
}

// ConvertTemp converts a temperature value from one unit scale to another.
func ConvertTemp(v float64, from, to string) float64 {
	from, to = normalizeScale(from), normalizeScale(to)
	if from == to {
		return v
	}
	if from == "C" {
		return v*9/5 + 32
	}
	return (v - 32) * 5 / 9
}

// convertRate scales a deg/hr rate between unit systems (only the 9/5
// factor applies; rates have no additive offset).
func convertRate(v float64, from, to string) float64 {
	from, to = normalizeScale(from), normalizeScale(to)
	if from == to {
		return v
	}
	if from == "C" {
		return v * 9 / 5
	}
	return v * 5 / 9
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
