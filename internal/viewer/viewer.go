package viewer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/TheCacophonyProject/batterylog/estimate"
	"github.com/TheCacophonyProject/batterylog/export"
	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/render"
	"github.com/TheCacophonyProject/batterylog/telemetry"
	"github.com/sirupsen/logrus"
)

// Outputs are the files written after every applied refresh. Empty paths
// are skipped.
type Outputs struct {
	ChartPath       string
	SystemChartPath string
	XLSXPath        string
	Chart           render.Options
}

type Viewer struct {
	refresher *pipeline.Refresher
	outputs   Outputs
	reporter  *anomalyReporter
	influx    *export.Influx
	log       logrus.FieldLogger
}

type refreshOutcome struct {
	result *pipeline.Result
	err    error
}

// RefreshOnce runs one refresh and applies it. A log without the required
// columns is shown raw instead, and then the result and error are both nil.
func (v *Viewer) RefreshOnce(ctx context.Context, cfg pipeline.Config) (*pipeline.Result, error) {
	result, err := v.refresher.Refresh(ctx, cfg)
	var schemaErr *telemetry.SchemaError
	if errors.As(err, &schemaErr) {
		return nil, v.showRaw(schemaErr)
	}
	if err != nil {
		return nil, err
	}
	return result, v.apply(ctx, result)
}

// Watch refreshes every interval until ctx is done. A tick does not wait
// for the previous refresh, and completions that have been overtaken by a
// later refresh are dropped.
func (v *Viewer) Watch(ctx context.Context, cfg func() pipeline.Config, interval time.Duration) error {
	outcomes := make(chan refreshOutcome)
	start := func() {
		c := cfg()
		go func() {
			result, err := v.refresher.Refresh(ctx, c)
			select {
			case outcomes <- refreshOutcome{result, err}:
			case <-ctx.Done():
			}
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start()
	var schemaErr *telemetry.SchemaError
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start()
		case o := <-outcomes:
			switch {
			case errors.Is(o.err, pipeline.ErrSuperseded):
				v.log.Debug("Dropped a superseded refresh")
			case errors.As(o.err, &schemaErr):
				if err := v.showRaw(schemaErr); err != nil {
					v.log.Errorf("Failed to show raw log: %v", err)
				}
			case o.err != nil:
				v.log.Errorf("Refresh failed: %v", o.err)
			default:
				if err := v.apply(ctx, o.result); err != nil {
					v.log.Errorf("Failed to apply refresh: %v", err)
				}
			}
		}
	}
}

func (v *Viewer) apply(ctx context.Context, result *pipeline.Result) error {
	logSummary(v.log, result)

	if v.outputs.ChartPath != "" {
		if err := writeChart(v.outputs.ChartPath, render.Chart, result, v.outputs.Chart); err != nil {
			return err
		}
	}
	if v.outputs.SystemChartPath != "" {
		if err := writeChart(v.outputs.SystemChartPath, render.SystemChart, result, v.outputs.Chart); err != nil {
			return err
		}
	}
	if v.outputs.XLSXPath != "" {
		var buf bytes.Buffer
		if err := export.WriteXLSX(&buf, result); err != nil {
			return err
		}
		if err := os.WriteFile(v.outputs.XLSXPath, buf.Bytes(), 0644); err != nil {
			return fmt.Errorf("failed to write workbook: %w", err)
		}
	}

	if v.reporter != nil {
		if n := v.reporter.Report(result.Anomalies); n > 0 {
			v.log.Infof("Reported %d new anomalies", n)
		}
	}
	if v.influx != nil {
		n, err := v.influx.Write(ctx, result)
		if err != nil {
			v.log.Errorf("InfluxDB export failed: %v", err)
		} else {
			v.log.Debugf("Wrote %d points to InfluxDB", n)
		}
	}
	return nil
}

// showRaw logs what can be read of a log that failed the schema check and
// writes its rows to the workbook path.
func (v *Viewer) showRaw(schemaErr *telemetry.SchemaError) error {
	v.log.Warnf("Showing the raw log: %v", schemaErr)
	header, rows, err := telemetry.ReadRaw(bytes.NewReader(schemaErr.Raw))
	if err != nil {
		return err
	}
	v.log.Infof("Raw log has %d rows, columns: %s", len(rows), strings.Join(header, ", "))
	if v.outputs.XLSXPath == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := export.WriteRawXLSX(&buf, header, rows); err != nil {
		return err
	}
	if err := os.WriteFile(v.outputs.XLSXPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

type chartFunc func(*pipeline.Result, render.Options) ([]byte, error)

func writeChart(path string, draw chartFunc, result *pipeline.Result, opts render.Options) error {
	png, err := draw(result, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0644); err != nil {
		return fmt.Errorf("failed to write chart: %w", err)
	}
	return nil
}

func logSummary(log logrus.FieldLogger, r *pipeline.Result) {
	s := r.Summary()
	pct := "N/A"
	if s.Percentage != nil {
		pct = fmt.Sprintf("%.1f%%", *s.Percentage)
	}
	log.Infof("Window %s: %d samples, %d points (%d gaps), %d anomalies, %d charging intervals",
		s.Window, s.Samples, s.Points, s.Gaps, s.Anomalies, s.ChargingIntervals)
	log.Infof("Battery %s, plugged: %t, latest sample %s", pct, s.Plugged, s.LatestSample.Format(telemetry.LogLayout))
	for field, n := range r.Stats.InvalidFields {
		log.Debugf("Nulled %d invalid '%s' values", n, field)
	}
	for _, fe := range r.Stats.FieldErrors {
		log.Debugf("Nulled %v", &fe)
	}
	if r.Estimations != nil {
		log.Infof("Time left: %s, to full: %s",
			describe(r.Estimations.TimeLeft), describe(r.Estimations.FullBattery))
	}
}

func describe(e *estimate.Estimate) string {
	if e == nil || e.Minutes == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s (confidence %.0f%%)", telemetry.FormatHMS(int(*e.Minutes*60)), e.Confidence*100)
}
