package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/TheCacophonyProject/batterylog/anomaly"
	"github.com/TheCacophonyProject/batterylog/charging"
	"github.com/TheCacophonyProject/batterylog/client"
	"github.com/TheCacophonyProject/batterylog/estimate"
	"github.com/TheCacophonyProject/batterylog/export"
	"github.com/TheCacophonyProject/batterylog/pipeline"
	"github.com/TheCacophonyProject/batterylog/render"
	"github.com/TheCacophonyProject/batterylog/settings"
	"github.com/TheCacophonyProject/batterylog/telemetry"
	"github.com/TheCacophonyProject/batterylog/timerange"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server serves the battery log, the viewer settings and the processed
// series built from them.
type Server struct {
	logPath   string
	store     settings.Store
	refresher *pipeline.Refresher
	metrics   *Metrics
	location  *time.Location
	log       *logrus.Logger
}

func New(logPath string, store settings.Store, opts []pipeline.Option, log *logrus.Logger) *Server {
	return &Server{
		logPath:   logPath,
		store:     store,
		refresher: pipeline.NewRefresher(client.FileSource{Path: logPath}, log, opts...),
		metrics:   NewMetrics(),
		location:  time.Local,
		log:       log,
	}
}

// Handler returns the routes wrapped with metrics and a permissive CORS policy.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metrics.Middleware)

	r.HandleFunc(client.LogPath, s.handleLog).Methods("GET")
	r.HandleFunc(client.GetSettingsPath, s.handleGetSettings).Methods("GET")
	r.HandleFunc(client.UpdateSettingsPath, s.handleUpdateSettings).Methods("POST")
	r.HandleFunc(client.EstimationsPath, s.handleEstimations).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/days", s.handleDays).Methods("GET")
	api.HandleFunc("/series", s.handleSeries).Methods("GET")
	api.HandleFunc("/chart.png", s.handleChart).Methods("GET")
	api.HandleFunc("/export.xlsx", s.handleExport).Methods("GET")

	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writePipelineError maps the errors a refresh can end with onto responses.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var emptyErr *timerange.EmptyWindowError
	var schemaErr *telemetry.SchemaError
	switch {
	case errors.As(err, &emptyErr):
		writeError(w, http.StatusNotFound, "no data in range")
	case errors.As(err, &schemaErr):
		writeError(w, http.StatusUnprocessableEntity, schemaErr.Error())
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "battery log not found")
	default:
		s.log.Errorf("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	data, err := client.FileSource{Path: s.logPath}.FetchLog(r.Context())
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Write(data)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.Document()
	if err != nil {
		s.log.Errorf("Failed to load settings: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	update := map[string]interface{}{}
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.store.UpdateVisualization(update); err != nil {
		s.log.Errorf("Failed to update settings: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) parseLog(ctx context.Context) (*telemetry.Parsed, error) {
	data, err := client.FileSource{Path: s.logPath}.FetchLog(ctx)
	if err != nil {
		return nil, err
	}
	return telemetry.Parse(bytes.NewReader(data), s.location)
}

func (s *Server) handleEstimations(w http.ResponseWriter, r *http.Request) {
	parsed, err := s.parseLog(r.Context())
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate.Build(parsed.Series))
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	parsed, err := s.parseLog(r.Context())
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":   parsed.Days,
		"ranges": timerange.Tokens(),
	})
}

// config starts from the stored settings and applies the range, day and
// points query parameters.
func (s *Server) config(r *http.Request) (pipeline.Config, error) {
	base := pipeline.DefaultConfig()
	base.Location = s.location
	stored, err := s.store.Load()
	if err != nil {
		s.log.Warnf("Using default settings: %v", err)
		stored = settings.Default()
	}
	cfg := pipeline.ConfigFromSettings(stored, base)

	q := r.URL.Query()
	if v := q.Get("range"); v != "" {
		cfg = cfg.WithRange(v)
	}
	if v := q.Get("day"); v != "" {
		cfg = cfg.WithDay(v)
	}
	if v := q.Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, errors.New("points must be a positive integer")
		}
		cfg = cfg.WithTargetPoints(n)
	}
	return cfg, nil
}

func (s *Server) compute(w http.ResponseWriter, r *http.Request) (*pipeline.Result, bool) {
	cfg, err := s.config(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	result, err := s.refresher.Compute(r.Context(), cfg)
	if err != nil {
		s.writePipelineError(w, err)
		return nil, false
	}
	reasons := map[string]int{}
	for reason, n := range anomaly.Reasons(result.Anomalies) {
		reasons[string(reason)] = n
	}
	s.metrics.Computed(result.Computed, result.CacheHit, reasons)
	return result, true
}

type anomalyView struct {
	anomaly.Event
	Description    string `json:"description"`
	ResampledIndex int    `json:"resampled_index"`
}

type chargingView struct {
	charging.Interval
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	ResampledStart int       `json:"resampled_start"`
	ResampledEnd   int       `json:"resampled_end"`
}

type seriesResponse struct {
	Summary   pipeline.Summary         `json:"summary"`
	Window    timerange.Window         `json:"window"`
	Days      []string                 `json:"days"`
	Stats     telemetry.ParseStats     `json:"stats"`
	Series    map[string][]interface{} `json:"series"`
	Anomalies []anomalyView            `json:"anomalies"`
	Charging  []chargingView           `json:"charging"`
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	result, ok := s.compute(w, r)
	if !ok {
		return
	}
	resp := seriesResponse{
		Summary:   result.Summary(),
		Window:    result.Window,
		Days:      result.Days,
		Stats:     result.Stats,
		Series:    result.Table(),
		Anomalies: []anomalyView{},
		Charging:  []chargingView{},
	}
	for _, e := range result.Anomalies {
		resp.Anomalies = append(resp.Anomalies, anomalyView{
			Event:          e,
			Description:    e.Reason.Description(),
			ResampledIndex: result.ResampledIndex(e.Index),
		})
	}
	for _, iv := range result.Charging {
		resp.Charging = append(resp.Charging, chargingView{
			Interval:       iv,
			StartTime:      result.Filtered[iv.Start].Timestamp,
			EndTime:        result.Filtered[iv.End].Timestamp,
			ResampledStart: result.ResampledIndex(iv.Start),
			ResampledEnd:   result.ResampledIndex(iv.End),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	result, ok := s.compute(w, r)
	if !ok {
		return
	}
	opts := render.DefaultOptions()
	if v, err := strconv.Atoi(r.URL.Query().Get("width")); err == nil && v > 0 {
		opts.Width = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("height")); err == nil && v > 0 {
		opts.Height = v
	}
	draw := render.Chart
	if r.URL.Query().Get("kind") == "system" {
		draw = render.SystemChart
	}
	png, err := draw(result, opts)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	result, ok := s.compute(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, result); err != nil {
		s.writePipelineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="battery_`+result.Window.Token+`.xlsx"`)
	w.Write(buf.Bytes())
}
