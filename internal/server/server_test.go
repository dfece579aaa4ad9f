package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TheCacophonyProject/batterylog/cache"
	"github.com/TheCacophonyProject/batterylog/estimate"
	"github.com/TheCacophonyProject/batterylog/logging"
	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/settings"
	"github.com/TheCacophonyProject/batterylog/telemetry"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)

func writeLog(t *testing.T, dir string) string {
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
	path := filepath.Join(dir, "battery_log.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

func newTestServer(t *testing.T, opts ...pipeline.Option) (*Server, *httptest.Server) {
	dir := t.TempDir()
	logPath := writeLog(t, dir)
	store := settings.NewFileStore(filepath.Join(dir, "settings.json"), logging.Discard())
	s := New(logPath, store, opts, logging.Discard())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestServeLog(t *testing.T) {
	_, srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/battery_log.csv")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(body), "timestamp,percentage"))
}

func TestSettingsRoundTrip(t *testing.T) {
	_, srv := newTestServer(t)

	resp, body := get(t, srv.URL+"/get_settings")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := map[string]map[string]interface{}{}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "1h", doc["visualization"]["time_range"])

	resp, err := http.Post(srv.URL+"/update_settings", "application/json",
		strings.NewReader(`{"timeRange":"24h","autoRefresh":false}`))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"success"}`, string(body))

	_, body = get(t, srv.URL+"/get_settings")
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "24h", doc["visualization"]["time_range"])
	assert.Equal(t, false, doc["visualization"]["auto_refresh"])

	resp, err = http.Post(srv.URL+"/update_settings", "application/json", strings.NewReader(`{not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEstimations(t *testing.T) {
	_, srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/estimations")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := estimate.Report{}
	require.NoError(t, json.Unmarshal(body, &report))
	require.NotNil(t, report.Timestamp)
	assert.InDelta(t, 95-30-0.2*119, report.CurrentPercentage, 0.05)
	require.NotNil(t, report.TimeLeft)
	require.NotNil(t, report.TimeLeft.Minutes)
	assert.Greater(t, *report.TimeLeft.Minutes, 0.0)
}

func TestDays(t *testing.T) {
	_, srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/api/days")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	days := struct {
		Days   []string `json:"days"`
		Ranges []string `json:"ranges"`
	}{}
	require.NoError(t, json.Unmarshal(body, &days))
	assert.Equal(t, []string{"2024-03-01"}, days.Days)
	assert.Contains(t, days.Ranges, "24h")
}

func TestSeries(t *testing.T) {
	_, srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/api/series?range=all&points=40")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	series := struct {
		Summary   pipeline.Summary         `json:"summary"`
		Series    map[string][]interface{} `json:"series"`
		Anomalies []struct {
			Reason         string `json:"reason"`
			Description    string `json:"description"`
			ResampledIndex int    `json:"resampled_index"`
		} `json:"anomalies"`
		Charging []struct {
			Plugged        bool `json:"plugged"`
			ResampledStart int  `json:"resampled_start"`
		} `json:"charging"`
	}{}
	require.NoError(t, json.Unmarshal(body, &series))
	assert.Len(t, series.Series["timestamp"], 40)
	assert.Len(t, series.Series["percentage"], 40)

	require.Len(t, series.Anomalies, 1)
	assert.Equal(t, "extreme_drop", series.Anomalies[0].Reason)
	assert.NotEmpty(t, series.Anomalies[0].Description)
	assert.GreaterOrEqual(t, series.Anomalies[0].ResampledIndex, 0)

	require.Len(t, series.Charging, 2)
	assert.False(t, series.Charging[0].Plugged)
	assert.True(t, series.Charging[1].Plugged)
}

func TestSeriesByDay(t *testing.T) {
	_, srv := newTestServer(t)
	resp, _ := get(t, srv.URL+"/api/series?day=2024-03-01&points=10")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := get(t, srv.URL+"/api/series?day=2024-03-02")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"no data in range"}`, string(body))
}

func TestEmptyRange(t *testing.T) {
	_, srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/api/series?range=1h")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"no data in range"}`, string(body))
}

func TestBadPoints(t *testing.T) {
	_, srv := newTestServer(t)
	resp, _ := get(t, srv.URL+"/api/series?range=all&points=-3")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSchemaError(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "battery_log.csv")
	require.NoError(t, os.WriteFile(logPath, []byte("percentage,voltage_v\n50,12\n"), 0644))
	s := New(logPath, settings.NewFileStore(filepath.Join(dir, "s.json"), logging.Discard()), nil, logging.Discard())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := get(t, srv.URL+"/api/series?range=all")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := get(t, srv.URL+"/battery_log.csv")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "percentage,voltage_v")
}

func TestMissingLog(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "missing.csv"), settings.NewFileStore(filepath.Join(dir, "s.json"), logging.Discard()), nil, logging.Discard())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, _ := get(t, srv.URL+"/api/series?range=all")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChart(t *testing.T) {
	_, srv := newTestServer(t)
	for _, kind := range []string{"battery", "system"} {
		resp, body := get(t, srv.URL+"/api/chart.png?range=all&width=400&height=200&kind="+kind)
		require.Equal(t, http.StatusOK, resp.StatusCode, kind)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		img, err := png.Decode(bytes.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, 400, img.Bounds().Dx())
	}
}

func TestExport(t *testing.T) {
	_, srv := newTestServer(t)
	resp, body := get(t, srv.URL+"/api/export.xlsx?range=all&points=30")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "battery_all.xlsx")

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Series")
	require.NoError(t, err)
	assert.Len(t, rows, 31)
}

func TestMetricsAndCORS(t *testing.T) {
	_, srv := newTestServer(t)
	get(t, srv.URL+"/api/series?range=all")
	get(t, srv.URL+"/api/series?range=1h")

	req, err := http.NewRequest("GET", srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	_, body := get(t, srv.URL+"/metrics")
	metrics := string(body)
	assert.Contains(t, metrics, `batterylog_http_requests_total{route="/api/series",status="200"} 1`)
	assert.Contains(t, metrics, `batterylog_http_requests_total{route="/api/series",status="404"} 1`)
	assert.Contains(t, metrics, `batterylog_anomalies{reason="extreme_drop"} 1`)
	assert.Contains(t, metrics, "batterylog_cache_misses_total 1")
}

func TestCachedSeries(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := cache.Dial(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	defer rdb.Close()

	clock := func() time.Time { return t0.Add(3 * time.Hour) }
	_, srv := newTestServer(t,
		pipeline.WithCache(cache.NewRedis(rdb, "test:"), time.Minute),
		pipeline.WithClock(clock))

	first, _ := get(t, srv.URL+"/api/series?range=all")
	require.Equal(t, http.StatusOK, first.StatusCode)
	second, _ := get(t, srv.URL+"/api/series?range=all")
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Len(t, mr.Keys(), 1)

	_, body := get(t, srv.URL+"/metrics")
	assert.Contains(t, string(body), "batterylog_cache_hits_total 1")
	assert.Contains(t, string(body), "batterylog_cache_misses_total 1")
}
