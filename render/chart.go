package render

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/resample"
	"github.com/TheCacophonyProject/batterylog/telemetry"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

var (
	chargingFill = drawing.Color{R: 46, G: 204, B: 113, A: 48}
	anomalyColor = drawing.ColorRed
)

type Options struct {
	Width  int
	Height int
	Title  string
}

func DefaultOptions() Options {
	return Options{Width: 1200, Height: 500}
}

func (o Options) size() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = DefaultOptions().Width
	}
	if h <= 0 {
		h = DefaultOptions().Height
	}
	return w, h
}

func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: 0,
		StrokeColor: drawing.ColorTransparent,
		DotWidth:    5,
		DotColor:    col,
	}
}

// pad gives go-chart the two distinct X values it needs to compute a range.
func pad(xs []time.Time, ys []float64) ([]time.Time, []float64) {
	if len(xs) != 1 {
		return xs, ys
	}
	return []time.Time{xs[0], xs[0].Add(time.Second)}, []float64{ys[0], ys[0]}
}

// lines draws one field of the resampled series, one chart series per
// segment so that gaps stay visibly empty.
func lines(name string, col drawing.Color, rs resample.Series, id telemetry.FieldID) []chart.Series {
	var out []chart.Series
	for i, seg := range rs.Segments() {
		xs, ys := pad(seg.Timestamps(), seg.Column(id))
		s := chart.TimeSeries{
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeColor: col, StrokeWidth: 2},
		}
		if i == 0 {
			s.Name = name
		}
		out = append(out, s)
	}
	return out
}

// chargingBands shades each plugged interval over the full percentage axis.
func chargingBands(r *pipeline.Result) []chart.Series {
	var out []chart.Series
	for _, iv := range r.Charging.Plugged() {
		start := r.Filtered[iv.Start].Timestamp
		end := r.Filtered[iv.End].Timestamp
		if !end.After(start) {
			end = start.Add(time.Minute)
		}
		out = append(out, chart.TimeSeries{
			XValues: []time.Time{start, end},
			YValues: []float64{100, 100},
			Style: chart.Style{
				StrokeWidth: 0,
				StrokeColor: drawing.ColorTransparent,
				FillColor:   chargingFill,
			},
		})
	}
	return out
}

// anomalyDots marks anomalies at their full resolution timestamps.
func anomalyDots(r *pipeline.Result) []chart.Series {
	if len(r.Anomalies) == 0 {
		return nil
	}
	xs := make([]time.Time, len(r.Anomalies))
	ys := make([]float64, len(r.Anomalies))
	for i, e := range r.Anomalies {
		xs[i] = e.Timestamp
		ys[i] = e.Percentage
	}
	xs, ys = pad(xs, ys)
	return []chart.Series{chart.TimeSeries{Name: "Anomalies", XValues: xs, YValues: ys, Style: pointStyle(anomalyColor)}}
}

func xAxis(r *pipeline.Result) chart.XAxis {
	format := "15:04"
	if span := r.Resampled.Timestamps(); len(span) > 1 && span[len(span)-1].Sub(span[0]) > 24*time.Hour {
		format = "01-02 15:04"
	}
	return chart.XAxis{ValueFormatter: chart.TimeValueFormatterWithFormat(format)}
}

func draw(ch chart.Chart) ([]byte, error) {
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	return buf.Bytes(), nil
}

// Chart draws battery percentage with charging periods shaded and
// anomalies marked.
func Chart(r *pipeline.Result, opts Options) ([]byte, error) {
	if r == nil || len(r.Resampled) == 0 {
		return nil, errors.New("nothing to draw")
	}
	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("Battery (%s)", r.Window.Token)
	}
	w, h := opts.size()

	series := chargingBands(r)
	series = append(series, lines("Battery %", chart.ColorBlue, r.Resampled, telemetry.Percentage)...)
	series = append(series, anomalyDots(r)...)

	return draw(chart.Chart{
		Title:      title,
		Width:      w,
		Height:     h,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 28}},
		XAxis:      xAxis(r),
		YAxis:      chart.YAxis{Name: "%", Range: &chart.ContinuousRange{Min: 0, Max: 100}},
		Series:     series,
	})
}

// SystemChart draws CPU and RAM load over the same window.
func SystemChart(r *pipeline.Result, opts Options) ([]byte, error) {
	if r == nil || len(r.Resampled) == 0 {
		return nil, errors.New("nothing to draw")
	}
	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("System load (%s)", r.Window.Token)
	}
	w, h := opts.size()

	series := lines("CPU %", chart.ColorRed, r.Resampled, telemetry.CPUPercent)
	series = append(series, lines("RAM %", chart.ColorGreen, r.Resampled, telemetry.RAMPercent)...)

	return draw(chart.Chart{
		Title:      title,
		Width:      w,
		Height:     h,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 28}},
		XAxis:      xAxis(r),
		YAxis:      chart.YAxis{Name: "%", Range: &chart.ContinuousRange{Min: 0, Max: 100}},
		Series:     series,
	})
}
