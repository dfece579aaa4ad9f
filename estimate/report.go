package estimate

import (
	"time"

	"github.com/TheCacophonyProject/batterylog/telemetry"
)

// Estimate is a runtime projection. Minutes and AverageDrainRate are nil
// when there was not enough on-battery history.
type Estimate struct {
	Minutes          *float64 `json:"minutes"`
	Confidence       float64  `json:"confidence"`
	IntervalsUsed    int      `json:"intervals_used"`
	AverageDrainRate *float64 `json:"average_drain_rate"`
}

// Report is the estimation document served to viewers. Every estimate is
// optional so that a partial document from an older server still decodes.
type Report struct {
	CurrentPercentage       float64    `json:"current_percentage"`
	Timestamp               *time.Time `json:"timestamp"`
	TimeLeft                *Estimate  `json:"time_left,omitempty"`
	TimeLeftLastInterval    *Estimate  `json:"time_left_last_interval,omitempty"`
	FullBattery             *Estimate  `json:"full_battery,omitempty"`
	FullBatteryLastInterval *Estimate  `json:"full_battery_last_interval,omitempty"`
}

func project(rate DrainRate, ok bool, percent float64) *Estimate {
	if !ok {
		return &Estimate{}
	}
	if rate.PerMinute <= 0 {
		return &Estimate{IntervalsUsed: rate.Intervals}
	}
	minutes := percent / rate.PerMinute
	perMinute := rate.PerMinute
	return &Estimate{
		Minutes:          &minutes,
		Confidence:       rate.Confidence,
		IntervalsUsed:    rate.Intervals,
		AverageDrainRate: &perMinute,
	}
}

// Build estimates time left at the current charge and runtime on a full
// charge, from all on-battery history and from the latest interval only.
func Build(series telemetry.Series) Report {
	if len(series) == 0 {
		return Report{
			TimeLeft:                &Estimate{},
			TimeLeftLastInterval:    &Estimate{},
			FullBattery:             &Estimate{},
			FullBatteryLastInterval: &Estimate{},
		}
	}

	last := series[len(series)-1]
	ts := last.Timestamp
	current, ok := last.Float(telemetry.Percentage)
	if !ok {
		if s, found := series.Latest(telemetry.Percentage); found {
			current, _ = s.Float(telemetry.Percentage)
		}
	}

	intervals := Intervals(series, DefaultMaxGap)
	all, allOK := WeightedDrainRate(series, intervals)
	latest, latestOK := WeightedDrainRate(series, lastQualifying(series, intervals))

	return Report{
		CurrentPercentage:       current,
		Timestamp:               &ts,
		TimeLeft:                project(all, allOK, current),
		TimeLeftLastInterval:    project(latest, latestOK, current),
		FullBattery:             project(all, allOK, 100),
		FullBatteryLastInterval: project(latest, latestOK, 100),
	}
}
