package export

import (
	"context"
	"fmt"

	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/telemetry"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	SeriesMeasurement  = "battery"
	AnomalyMeasurement = "battery_anomaly"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Device string
}

// Influx writes refresh results to an InfluxDB v2 bucket.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	device   string
}

func NewInflux(cfg InfluxConfig) *Influx {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		device:   cfg.Device,
	}
}

func (i *Influx) Close() {
	i.client.Close()
}

func (i *Influx) tags(extra map[string]string) map[string]string {
	tags := map[string]string{}
	if i.device != "" {
		tags["device"] = i.device
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

// Points converts the non-gap resampled points and the anomalies of r.
// Numeric fields become fields and the status categories become tags.
func (i *Influx) Points(r *pipeline.Result) []*write.Point {
	var points []*write.Point
	for _, p := range r.Resampled {
		if p.Gap {
			continue
		}
		fields := map[string]interface{}{}
		extra := map[string]string{}
		for _, f := range telemetry.Fields() {
			v := p.Values[f.ID]
			if !v.Valid {
				continue
			}
			switch {
			case f.ID == telemetry.LoadSeverity || f.ID == telemetry.VoltageStatus || f.ID == telemetry.ChargeStatus:
				extra[f.Column] = v.Text
			case f.Kind == telemetry.KindBool:
				fields[f.Column] = v.Flag
			case f.Kind == telemetry.KindNumber || f.Kind == telemetry.KindDuration:
				fields[f.Column] = v.Number
			}
		}
		if len(fields) == 0 {
			continue
		}
		points = append(points, write.NewPoint(SeriesMeasurement, i.tags(extra), fields, p.Timestamp))
	}

	for _, e := range r.Anomalies {
		points = append(points, write.NewPoint(
			AnomalyMeasurement,
			i.tags(map[string]string{"reason": string(e.Reason)}),
			map[string]interface{}{
				"percentage":          e.Percentage,
				"delta":               e.Delta,
				"rate":                e.Rate,
				"baseline":            e.Baseline,
				"power_state_changed": e.PowerStateChanged,
			},
			e.Timestamp,
		))
	}
	return points
}

// Write sends every point of r in one blocking request.
func (i *Influx) Write(ctx context.Context, r *pipeline.Result) (int, error) {
	points := i.Points(r)
	if len(points) == 0 {
		return 0, nil
	}
	if err := i.writeAPI.WritePoint(ctx, points...); err != nil {
		return 0, fmt.Errorf("failed to write to InfluxDB: %w", err)
	}
	return len(points), nil
}
