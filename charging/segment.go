package charging

import "github.com/TheCacophonyProject/batterylog/telemetry"

// Interval is an inclusive run [Start, End] of samples sharing one
// power_plugged state.
type Interval struct {
	Start   int  `json:"start"`
	End     int  `json:"end"`
	Plugged bool `json:"plugged"`
}

func (i Interval) Len() int {
	return i.End - i.Start + 1
}

type Intervals []Interval

// Plugged returns only the charging runs.
func (iv Intervals) Plugged() Intervals {
	var out Intervals
	for _, i := range iv {
		if i.Plugged {
			out = append(out, i)
		}
	}
	return out
}

// Segment run-length encodes power_plugged over series. A run closed by a
// state change is kept only when it covers more than one sample, the last
// run is always kept.
func Segment(series telemetry.Series) Intervals {
	if len(series) == 0 {
		return nil
	}
	var out Intervals
	current := Interval{Start: 0, Plugged: series[0].Plugged()}
	for i := 1; i < len(series); i++ {
		plugged := series[i].Plugged()
		if plugged == current.Plugged {
			continue
		}
		current.End = i - 1
		if current.End > current.Start {
			out = append(out, current)
		}
		current = Interval{Start: i, Plugged: plugged}
	}
	current.End = len(series) - 1
	return append(out, current)
}
