package viewer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheCacophonyProject/batterylog/anomaly"
	"github.com/TheCacophonyProject/batterylog/logging"
	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/settings"
	"github.com/TheCacophonyProject/batterylog/telemetry"
	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func makeLog() []byte {
	var b strings.Builder
	b.WriteString("timestamp,percentage,power_plugged,cpu_percent,ram_percent\n")
	pct := 95.0
	for i := 0; i < 120; i++ {
		if i == 60 {
			pct -= 30
		}
		plugged := "False"
		if i >= 80 {
			plugged = "True"
		}
		fmt.Fprintf(&b, "%s,%.1f,%s,%d,40\n", t0.Add(time.Duration(i)*time.Minute).Format(telemetry.LogLayout), pct, plugged, 10+i%20)
		pct -= 0.2
	}
	return []byte(b.String())
}

type staticSource struct {
	data  []byte
	calls int32
}

func (s *staticSource) FetchLog(ctx context.Context) ([]byte, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.data, nil
}

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig().WithRange("all").WithTargetPoints(60)
	cfg.Location = time.UTC
	return cfg
}

type recordedEvents struct {
	events []eventclient.Event
	fail   bool
}

func (r *recordedEvents) add(e eventclient.Event) error {
	if r.fail {
		return errors.New("event reporter offline")
	}
	r.events = append(r.events, e)
	return nil
}

func TestConfig(t *testing.T) {
	saved := settings.Default()
	saved.Visualization.TimeRange = "24h"
	saved.Visualization.TargetPoints = 300

	cfg := config(Args{}, saved)
	assert.Equal(t, "24h", cfg.Token())
	assert.Equal(t, 300, cfg.TargetPoints)

	cfg = config(Args{Range: "7d", Points: 50}, saved)
	assert.Equal(t, "7d", cfg.Token())
	assert.Equal(t, 50, cfg.TargetPoints)

	cfg = config(Args{Range: "7d", Day: "2024-03-01"}, saved)
	assert.Equal(t, "2024-03-01", cfg.Token())
}

type recordedUpdates struct {
	updates []map[string]interface{}
}

func (r *recordedUpdates) UpdateSettings(ctx context.Context, update map[string]interface{}) error {
	r.updates = append(r.updates, update)
	return nil
}

func TestSaveSelection(t *testing.T) {
	updater := &recordedUpdates{}
	require.NoError(t, saveSelection(context.Background(), updater, Args{}))
	assert.Empty(t, updater.updates)

	require.NoError(t, saveSelection(context.Background(), updater, Args{Range: "7d", Points: 50}))
	require.NoError(t, saveSelection(context.Background(), updater, Args{Day: "2024-03-01"}))
	require.Len(t, updater.updates, 2)
	assert.Equal(t, map[string]interface{}{"timeRange": "7d", "targetPoints": 50}, updater.updates[0])
	assert.Equal(t, map[string]interface{}{"selectedDay": "2024-03-01"}, updater.updates[1])
}

func TestRefreshOnce(t *testing.T) {
	dir := t.TempDir()
	events := &recordedEvents{}
	reporter := newAnomalyReporter(logging.Discard())
	reporter.addEvent = events.add

	v := &Viewer{
		refresher: pipeline.NewRefresher(&staticSource{data: makeLog()}, logging.Discard()),
		outputs: Outputs{
			ChartPath:       filepath.Join(dir, "battery.png"),
			SystemChartPath: filepath.Join(dir, "system.png"),
			XLSXPath:        filepath.Join(dir, "battery.xlsx"),
		},
		reporter: reporter,
		log:      logging.Discard(),
	}

	result, err := v.RefreshOnce(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Len(t, result.Resampled, 60)
	assert.Equal(t, uint64(1), result.Generation)

	for _, name := range []string{"battery.png", "system.png"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		_, err = png.Decode(bytes.NewReader(data))
		require.NoError(t, err, name)
	}

	f, err := excelize.OpenFile(filepath.Join(dir, "battery.xlsx"))
	require.NoError(t, err)
	rows, err := f.GetRows("Series")
	require.NoError(t, err)
	assert.Len(t, rows, 61)
	f.Close()

	require.Len(t, events.events, 1)
	assert.Equal(t, anomalyEventType, events.events[0].Type)
	assert.Equal(t, "extreme_drop", events.events[0].Details["reason"])

	_, err = v.RefreshOnce(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Len(t, events.events, 1)
}

func TestRefreshOnceShowsRawLog(t *testing.T) {
	dir := t.TempDir()
	src := &staticSource{data: []byte("time,percentage\n2024-03-01 08:00:00,90\n")}
	v := &Viewer{
		refresher: pipeline.NewRefresher(src, logging.Discard()),
		outputs: Outputs{
			ChartPath: filepath.Join(dir, "battery.png"),
			XLSXPath:  filepath.Join(dir, "battery.xlsx"),
		},
		log: logging.Discard(),
	}

	result, err := v.RefreshOnce(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.NoFileExists(t, filepath.Join(dir, "battery.png"))

	f, err := excelize.OpenFile(filepath.Join(dir, "battery.xlsx"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Raw")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"time", "percentage"}, {"2024-03-01 08:00:00", "90"}}, rows)
}

func TestWatchShowsRawLog(t *testing.T) {
	dir := t.TempDir()
	src := &staticSource{data: []byte("time,percentage\n2024-03-01 08:00:00,90\n")}
	v := &Viewer{
		refresher: pipeline.NewRefresher(src, logging.Discard()),
		outputs:   Outputs{XLSXPath: filepath.Join(dir, "battery.xlsx")},
		log:       logging.Discard(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, v.Watch(ctx, testConfig, 20*time.Millisecond))

	f, err := excelize.OpenFile(filepath.Join(dir, "battery.xlsx"))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Raw"}, f.GetSheetList())
}

func TestLogSummaryFieldErrors(t *testing.T) {
	data := []byte("timestamp,percentage\n2024-03-01 08:00:00,90\n2024-03-01 08:01:00,500\n2024-03-01 08:02:00,89\n")
	result, err := pipeline.Run(data, testConfig(), t0)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	logSummary(logger, result)

	var nulled []string
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.DebugLevel {
			nulled = append(nulled, entry.Message)
		}
	}
	assert.Contains(t, nulled, "Nulled 1 invalid 'percentage' values")
	assert.Contains(t, nulled, "Nulled row 3: column 'percentage' value '500': outside plausible range [0, 100]")
}

func TestAnomalyReporterRetries(t *testing.T) {
	events := &recordedEvents{fail: true}
	reporter := newAnomalyReporter(logging.Discard())
	reporter.addEvent = events.add

	found := []anomaly.Event{
		{Timestamp: t0, Reason: anomaly.ExtremeDrop},
		{Timestamp: t0.Add(time.Hour), Reason: anomaly.LargeSuddenDrop},
	}
	assert.Equal(t, 0, reporter.Report(found))

	events.fail = false
	assert.Equal(t, 2, reporter.Report(found))
	assert.Equal(t, 0, reporter.Report(found))

	found = append(found, anomaly.Event{Timestamp: t0.Add(2 * time.Hour), Reason: anomaly.PowerStateChange})
	assert.Equal(t, 1, reporter.Report(found))
	assert.Len(t, events.events, 3)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	src := &staticSource{data: makeLog()}
	refresher := pipeline.NewRefresher(src, logging.Discard())
	v := &Viewer{
		refresher: refresher,
		outputs:   Outputs{ChartPath: filepath.Join(dir, "battery.png")},
		log:       logging.Discard(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, v.Watch(ctx, testConfig, 20*time.Millisecond))

	assert.GreaterOrEqual(t, atomic.LoadInt32(&src.calls), int32(2))
	require.NotNil(t, refresher.Latest())
	assert.FileExists(t, filepath.Join(dir, "battery.png"))
}

func TestStatusService(t *testing.T) {
	var latest *pipeline.Result
	s := statusService{latest: func() *pipeline.Result { return latest }}

	_, dErr := s.Summary()
	require.NotNil(t, dErr)
	assert.Equal(t, dbusName+".Summary", dErr.Name)

	result, err := pipeline.Run(makeLog(), testConfig(), t0)
	require.NoError(t, err)
	latest = result

	out, dErr := s.Summary()
	require.Nil(t, dErr)
	summary := pipeline.Summary{}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 120, summary.Samples)
	assert.Equal(t, 1, summary.Anomalies)
	assert.True(t, summary.Plugged)

	out, dErr = s.Anomalies()
	require.Nil(t, dErr)
	assert.Contains(t, out, `"reason":"extreme_drop"`)
}
