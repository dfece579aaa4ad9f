package anomaly

import (
	"time"

	"github.com/TheCacophonyProject/batterylog/telemetry"
)

// Reason tags the rule that flagged a sample.
type Reason string

const (
	ExtremeDrop      Reason = "extreme_drop"
	LargeSuddenDrop  Reason = "large_sudden_drop"
	RateFarAboveAvg  Reason = "rate_far_above_average"
	PowerStateChange Reason = "power_state_change"
)

func (r Reason) Description() string {
	switch r {
	case ExtremeDrop:
		return "Extreme percentage change in a single step"
	case LargeSuddenDrop:
		return "Large sudden change, well above the recent drain rate"
	case RateFarAboveAvg:
		return "Rate far above the recent average"
	case PowerStateChange:
		return "Change coincides with the charger being connected or removed"
	}
	return string(r)
}

// Thresholds tune the detector. Changes are in percentage points, rates in
// percentage points per minute.
type Thresholds struct {
	MinIndex      int
	MinWindow     int
	WindowDivisor int

	// GlitchChange excludes a step from the baseline.
	GlitchChange float64

	ExtremeChange float64

	LargeChange       float64
	LargeRateMultiple float64
	LargeRateFloor    float64

	FarRateMultiple float64
	FarRateFloor    float64
	FarChange       float64

	PowerFlipChange float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinIndex:          3,
		MinWindow:         5,
		WindowDivisor:     15,
		GlitchChange:      50,
		ExtremeChange:     25,
		LargeChange:       10,
		LargeRateMultiple: 2.5,
		LargeRateFloor:    2,
		FarRateMultiple:   4,
		FarRateFloor:      5,
		FarChange:         7,
		PowerFlipChange:   15,
	}
}

// Event is a flagged sample. Index refers to the series passed to Detect.
type Event struct {
	Index             int       `json:"index"`
	Timestamp         time.Time `json:"timestamp"`
	Percentage        float64   `json:"percentage"`
	Delta             float64   `json:"delta"`
	Rate              float64   `json:"rate"`
	Baseline          float64   `json:"baseline"`
	Reason            Reason    `json:"reason"`
	PowerStateChanged bool      `json:"power_state_changed"`
}

type step struct {
	change  float64
	minutes float64
	ok      bool
}

func stepAt(series telemetry.Series, i int) step {
	prev, okPrev := series[i-1].Float(telemetry.Percentage)
	cur, okCur := series[i].Float(telemetry.Percentage)
	if !okPrev || !okCur {
		return step{}
	}
	return step{
		change:  cur - prev,
		minutes: series[i].Timestamp.Sub(series[i-1].Timestamp).Minutes(),
		ok:      true,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// baseline averages the per-minute rate over the pairs ending in [from, to],
// leaving out glitches, nulls and pairs without a forward time step.
func baseline(steps []step, from, to int, glitch float64) float64 {
	total, count := 0.0, 0
	for k := from; k <= to; k++ {
		s := steps[k]
		if !s.ok || s.minutes <= 0 || abs(s.change) >= glitch {
			continue
		}
		total += abs(s.change) / s.minutes
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// Detect flags percentage samples whose change is out of line with the local
// drain rate. It works on the full resolution filtered series.
func Detect(series telemetry.Series, th Thresholds) []Event {
	n := len(series)
	window := th.MinWindow
	if th.WindowDivisor > 0 && n/th.WindowDivisor > window {
		window = n / th.WindowDivisor
	}

	steps := make([]step, n)
	for i := 1; i < n; i++ {
		steps[i] = stepAt(series, i)
	}

	start := th.MinIndex
	if start < 1 {
		start = 1
	}
	var events []Event
	for i := start; i < n; i++ {
		s := steps[i]
		if !s.ok {
			continue
		}
		from := i - window + 1
		if from < 1 {
			from = 1
		}
		base := baseline(steps, from, i, th.GlitchChange)
		change := abs(s.change)
		rate := 0.0
		if s.minutes > 0 {
			rate = change / s.minutes
		}
		flipped := series[i].Plugged() != series[i-1].Plugged()

		var reason Reason
		switch {
		case change >= th.ExtremeChange:
			reason = ExtremeDrop
		case s.minutes > 0 && change >= th.LargeChange && rate > max(th.LargeRateMultiple*base, th.LargeRateFloor):
			reason = LargeSuddenDrop
		case s.minutes > 0 && rate > max(th.FarRateMultiple*base, th.FarRateFloor) && change > th.FarChange:
			reason = RateFarAboveAvg
		case flipped && change > th.PowerFlipChange:
			reason = PowerStateChange
		default:
			continue
		}

		pct, _ := series[i].Float(telemetry.Percentage)
		events = append(events, Event{
			Index:             i,
			Timestamp:         series[i].Timestamp,
			Percentage:        pct,
			Delta:             s.change,
			Rate:              rate,
			Baseline:          base,
			Reason:            reason,
			PowerStateChanged: flipped,
		})
	}
	return events
}

// Reasons counts events per reason.
func Reasons(events []Event) map[Reason]int {
	counts := map[Reason]int{}
	for _, e := range events {
		counts[e.Reason]++
	}
	return counts
}
