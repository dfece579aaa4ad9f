package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry         *prometheus.Registry
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	pipelineDuration prometheus.Histogram
	anomalies        *prometheus.GaugeVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batterylog_http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batterylog_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "batterylog_pipeline_duration_seconds",
			Help:    "Time spent normalizing, resampling and scanning the log.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		anomalies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "batterylog_anomalies",
			Help: "Anomalies found by the most recent refresh, by reason.",
		}, []string{"reason"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batterylog_cache_hits_total",
			Help: "Total refresh results served from the cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "batterylog_cache_misses_total",
			Help: "Total refresh results computed.",
		}),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.pipelineDuration,
		m.anomalies,
		m.cacheHits,
		m.cacheMisses,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Middleware records every request against its route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		route := "unknown"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequests.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Computed(d time.Duration, cacheHit bool, reasons map[string]int) {
	if cacheHit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
		m.pipelineDuration.Observe(d.Seconds())
	}
	m.anomalies.Reset()
	for reason, n := range reasons {
		m.anomalies.WithLabelValues(reason).Set(float64(n))
	}
}
