package estimate

import (
	"math"
	"time"

	"github.com/TheCacophonyProject/batterylog/telemetry"
)

const (
	// DefaultMaxGap is the longest logging pause still treated as continuous.
	DefaultMaxGap = 5 * time.Minute

	minIntervalMinutes = 2.0
	minIntervalDrop    = 0.5
	maxDurationWeight  = 120.0
)

// Interval is an inclusive index range of uninterrupted on-battery samples.
type Interval struct {
	Start int
	End   int
}

// Intervals finds the runs where consecutive samples are both unplugged and
// no more than maxGap apart.
func Intervals(series telemetry.Series, maxGap time.Duration) []Interval {
	var out []Interval
	start := -1
	for i := 1; i < len(series); i++ {
		continuous := !series[i].Plugged() && !series[i-1].Plugged() &&
			series[i].Timestamp.Sub(series[i-1].Timestamp) <= maxGap
		if continuous {
			if start < 0 {
				start = i - 1
			}
			continue
		}
		if start >= 0 && i-1 > start {
			out = append(out, Interval{Start: start, End: i - 1})
		}
		start = -1
	}
	if start >= 0 && start < len(series)-1 {
		out = append(out, Interval{Start: start, End: len(series) - 1})
	}
	return out
}

// DrainRate is a weighted discharge rate in percent per minute.
type DrainRate struct {
	PerMinute  float64
	Confidence float64
	Intervals  int
}

type intervalRate struct {
	rate    float64
	minutes float64
	weight  float64
}

func rates(series telemetry.Series, intervals []Interval) []intervalRate {
	var out []intervalRate
	for i, iv := range intervals {
		startPct, ok1 := series[iv.Start].Float(telemetry.Percentage)
		endPct, ok2 := series[iv.End].Float(telemetry.Percentage)
		if !ok1 || !ok2 {
			continue
		}
		minutes := series[iv.End].Timestamp.Sub(series[iv.Start].Timestamp).Minutes()
		drop := startPct - endPct
		if minutes < minIntervalMinutes || drop < minIntervalDrop {
			continue
		}
		recency := float64(i+1) / float64(len(intervals))
		out = append(out, intervalRate{
			rate:    drop / minutes,
			minutes: minutes,
			weight:  math.Min(minutes, maxDurationWeight) * (1 + recency),
		})
	}
	return out
}

// WeightedDrainRate averages the drain rate of the qualifying intervals,
// favouring long and recent ones. Intervals shorter than two minutes or
// dropping less than half a point are ignored.
func WeightedDrainRate(series telemetry.Series, intervals []Interval) (DrainRate, bool) {
	rs := rates(series, intervals)
	if len(rs) == 0 {
		return DrainRate{}, false
	}

	var weighted, weights, total float64
	for _, r := range rs {
		weighted += r.rate * r.weight
		weights += r.weight
		total += r.minutes
	}
	avg := weighted / weights

	normVariance := 0.5
	if len(rs) > 1 {
		variance := 0.0
		for _, r := range rs {
			variance += (r.rate - avg) * (r.rate - avg)
		}
		variance /= float64(len(rs))
		normVariance = 1
		if avg > 0 {
			normVariance = math.Min(variance/avg, 1)
		}
	}

	confidence := 0.4*math.Min(float64(len(rs))/5, 1) +
		0.3*math.Min(total/60, 1) +
		0.3*(1-normVariance)
	return DrainRate{PerMinute: avg, Confidence: confidence, Intervals: len(rs)}, true
}

// lastQualifying returns the newest interval that WeightedDrainRate would use.
func lastQualifying(series telemetry.Series, intervals []Interval) []Interval {
	for i := len(intervals) - 1; i >= 0; i-- {
		if len(rates(series, intervals[i:i+1])) > 0 {
			return intervals[i : i+1]
		}
	}
	return nil
}
