package pipeline

import (
	"bytes"
	"errors"
	"sort"
	"time"

	"github.com/TheCacophonyProject/batterylog/anomaly"
	"github.com/TheCacophonyProject/batterylog/charging"
	"github.com/TheCacophonyProject/batterylog/estimate"
	"github.com/TheCacophonyProject/batterylog/resample"
	"github.com/TheCacophonyProject/batterylog/telemetry"
	"github.com/TheCacophonyProject/batterylog/timerange"
	"github.com/google/uuid"
)

// Result is one completed refresh. Anomaly and charging indexes refer to
// Filtered, use ResampledIndex to place them on Resampled.
type Result struct {
	ID          string               `json:"id"`
	Generation  uint64               `json:"generation"`
	Config      Config               `json:"config"`
	Window      timerange.Window     `json:"window"`
	Days        []string             `json:"days"`
	Stats       telemetry.ParseStats `json:"stats"`
	Filtered    telemetry.Series     `json:"filtered"`
	Resampled   resample.Series      `json:"resampled"`
	Anomalies   []anomaly.Event      `json:"anomalies"`
	Charging    charging.Intervals   `json:"charging"`
	Estimations *estimate.Report     `json:"estimations,omitempty"`
	Computed    time.Duration        `json:"computed"`
	CacheHit    bool                 `json:"-"`
}

// Run normalizes raw, applies the window and derives the resampled series,
// anomalies and charging intervals. Only a SchemaError or an
// EmptyWindowError stops it.
func Run(raw []byte, cfg Config, now time.Time) (*Result, error) {
	start := time.Now()
	parsed, err := telemetry.Parse(bytes.NewReader(raw), cfg.location())
	if err != nil {
		var schemaErr *telemetry.SchemaError
		if errors.As(err, &schemaErr) {
			schemaErr.Raw = raw
		}
		return nil, err
	}
	window := timerange.Resolve(cfg.Token(), now.In(cfg.location()))
	filtered, err := timerange.Filter(parsed.Series, window)
	if err != nil {
		return nil, err
	}
	return &Result{
		ID:        uuid.NewString(),
		Config:    cfg,
		Window:    window,
		Days:      parsed.Days,
		Stats:     parsed.Stats,
		Filtered:  filtered,
		Resampled: resample.Resample(filtered, cfg.ResampleOptions()),
		Anomalies: anomaly.Detect(filtered, cfg.Thresholds),
		Charging:  charging.Segment(filtered),
		Computed:  time.Since(start),
	}, nil
}

// ResampledIndex maps an index into Filtered to the closest non-gap point
// of Resampled, or -1 when there is none.
func (r *Result) ResampledIndex(i int) int {
	if i < 0 || i >= len(r.Filtered) {
		return -1
	}
	ts := r.Filtered[i].Timestamp
	k := sort.Search(len(r.Resampled), func(j int) bool {
		return !r.Resampled[j].Timestamp.Before(ts)
	})

	best := -1
	var bestDist time.Duration
	consider := func(j int) {
		d := r.Resampled[j].Timestamp.Sub(ts)
		if d < 0 {
			d = -d
		}
		if best < 0 || d < bestDist {
			best, bestDist = j, d
		}
	}
	for j := k - 1; j >= 0; j-- {
		if !r.Resampled[j].Gap {
			consider(j)
			break
		}
	}
	for j := k; j < len(r.Resampled); j++ {
		if !r.Resampled[j].Gap {
			consider(j)
			break
		}
	}
	return best
}

// Table lays out Resampled as named columns for JSON renderers. Nulls and
// gap points are nil.
func (r *Result) Table() map[string][]interface{} {
	table := map[string][]interface{}{}
	stamps := make([]interface{}, len(r.Resampled))
	for i, p := range r.Resampled {
		stamps[i] = p.Timestamp.Format(time.RFC3339)
	}
	table[telemetry.TimestampColumn] = stamps

	for _, f := range telemetry.Fields() {
		col := make([]interface{}, len(r.Resampled))
		for i, p := range r.Resampled {
			v := p.Values[f.ID]
			if p.Gap || !v.Valid {
				continue
			}
			switch f.Kind {
			case telemetry.KindCategory:
				col[i] = v.Text
			case telemetry.KindBool:
				col[i] = v.Flag
			default:
				col[i] = v.Number
			}
		}
		table[f.Column] = col
	}
	return table
}

// Summary is a small description of a result for logs and status queries.
type Summary struct {
	ID                string    `json:"id"`
	Generation        uint64    `json:"generation"`
	Window            string    `json:"window"`
	Samples           int       `json:"samples"`
	Points            int       `json:"points"`
	Gaps              int       `json:"gaps"`
	Anomalies         int       `json:"anomalies"`
	ChargingIntervals int       `json:"charging_intervals"`
	Percentage        *float64  `json:"percentage"`
	Plugged           bool      `json:"plugged"`
	LatestSample      time.Time `json:"latest_sample"`
}

func (r *Result) Summary() Summary {
	s := Summary{
		ID:                r.ID,
		Generation:        r.Generation,
		Window:            r.Window.String(),
		Samples:           len(r.Filtered),
		Points:            len(r.Resampled),
		Gaps:              r.Resampled.Gaps(),
		Anomalies:         len(r.Anomalies),
		ChargingIntervals: len(r.Charging),
	}
	if n := len(r.Filtered); n > 0 {
		last := r.Filtered[n-1]
		s.LatestSample = last.Timestamp
		s.Plugged = last.Plugged()
		if p, ok := last.Float(telemetry.Percentage); ok {
			s.Percentage = &p
		}
	}
	return s
}
