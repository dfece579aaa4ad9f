package resample

import (
	"math"
	"time"

	"github.com/TheCacophonyProject/batterylog/telemetry"
)

const (
	DefaultTarget    = 200
	DefaultMaxGap    = 3 * time.Hour
	DefaultJumpGuard = 0.5
)

type Options struct {
	// Target is the maximum number of output points.
	Target int
	// MaxGap is the longest stretch between real samples that is still
	// bridged. Wider holes produce gap points.
	MaxGap time.Duration
	// JumpGuard is the largest relative change that Interpolate will blend.
	JumpGuard float64
	Policies  PolicyTable
}

func DefaultOptions() Options {
	return Options{
		Target:    DefaultTarget,
		MaxGap:    DefaultMaxGap,
		JumpGuard: DefaultJumpGuard,
		Policies:  DefaultPolicies(),
	}
}

// Point is a resampled sample. A gap point has every value null.
type Point struct {
	telemetry.Sample
	Gap bool
}

type Series []Point

// Resample produces at most opts.Target evenly spaced points over the span
// of series, which must already be sorted. The i-th point sits at
// first + span*i/Target, so the spacing does not drift over long spans.
func Resample(series telemetry.Series, opts Options) Series {
	n := len(series)
	if n == 0 {
		return nil
	}
	target := opts.Target
	if target <= 0 {
		target = DefaultTarget
	}
	first := series[0].Timestamp
	span := series[n-1].Timestamp.Sub(first)
	if n == 1 || span <= 0 {
		return Series{{Sample: series[0]}}
	}

	out := make(Series, 0, target)
	j := 0
	for i := 0; i < target; i++ {
		t := first.Add(time.Duration(float64(span) * float64(i) / float64(target)))
		if t.After(series[n-1].Timestamp) {
			break
		}
		for j+2 < n && !series[j+1].Timestamp.After(t) {
			j++
		}
		before, after := series[j], series[j+1]
		out = append(out, point(t, before, after, opts))
	}
	return out
}

func point(t time.Time, before, after telemetry.Sample, opts Options) Point {
	gap := after.Timestamp.Sub(before.Timestamp)
	if gap > opts.MaxGap && t.After(before.Timestamp) && t.Before(after.Timestamp) {
		return Point{Sample: telemetry.Sample{Timestamp: t}, Gap: true}
	}

	ratio := 0.0
	if gap > 0 {
		ratio = float64(t.Sub(before.Timestamp)) / float64(gap)
	}
	p := Point{Sample: telemetry.Sample{Timestamp: t}}
	for id := range p.Values {
		a, b := before.Values[id], after.Values[id]
		switch opts.Policies[id] {
		case Interpolate:
			p.Values[id] = blend(a, b, ratio, opts.JumpGuard)
		default:
			p.Values[id] = nearest(a, b, ratio)
		}
	}
	return p
}

func nearest(a, b telemetry.Value, ratio float64) telemetry.Value {
	if ratio < 0.5 {
		return a
	}
	return b
}

func blend(a, b telemetry.Value, ratio, guard float64) telemetry.Value {
	if !a.Valid || !b.Valid {
		return nearest(a, b, ratio)
	}
	if math.Abs(b.Number-a.Number) > guard*math.Abs(a.Number) {
		return nearest(a, b, ratio)
	}
	return telemetry.NumberValue(a.Number + (b.Number-a.Number)*ratio)
}

// Column returns one field as floats for plotting. Nulls and gaps are NaN,
// flags are 1 or 0.
func (s Series) Column(id telemetry.FieldID) []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		v := p.Values[id]
		switch {
		case p.Gap || !v.Valid:
			out[i] = math.NaN()
		case id.Info().Kind == telemetry.KindBool:
			if v.Flag {
				out[i] = 1
			}
		default:
			out[i] = v.Number
		}
	}
	return out
}

func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s))
	for i, p := range s {
		out[i] = p.Timestamp
	}
	return out
}

// Segments splits the series at gap points, dropping the gaps.
func (s Series) Segments() []Series {
	var segments []Series
	start := 0
	for i, p := range s {
		if p.Gap {
			if i > start {
				segments = append(segments, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		segments = append(segments, s[start:])
	}
	return segments
}

// Gaps counts the gap points.
func (s Series) Gaps() int {
	count := 0
	for _, p := range s {
		if p.Gap {
			count++
		}
	}
	return count
}
