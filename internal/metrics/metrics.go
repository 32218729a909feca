// Package metrics exposes Prometheus collectors for the shuffle pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names used as label values.
const (
	StageDiscover = "discover"
	StageScan     = "scan"
	StageLeads    = "leads"
	StageCRM      = "crm"
	StageScript   = "script"
)

var (
	shuffleSitesTotal          *prometheus.CounterVec
	shuffleSessionsTotal       *prometheus.CounterVec
	shuffleStageFailuresTotal  *prometheus.CounterVec
	shuffleStageDuration       *prometheus.HistogramVec
	shuffleLeadsTotal          prometheus.Counter
	shuffleActiveSessions      prometheus.Gauge
	crmSyncsTotal              *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		shuffleSitesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_sites_total",
				Help: "Sites that reached a final outcome, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		shuffleSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_sessions_total",
				Help: "Finished shuffle sessions, labeled by final status.",
			},
			[]string{"status"},
		)

		shuffleStageFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_stage_failures_total",
				Help: "Stage failures after retries, labeled by stage.",
			},
			[]string{"stage"},
		)

		shuffleStageDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shuffle_stage_duration_seconds",
				Help:    "Histogram of per-site stage latencies, labeled by stage.",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		)

		shuffleLeadsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shuffle_leads_total",
				Help: "Lead rows created.",
			},
		)

		shuffleActiveSessions = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shuffle_active_sessions",
				Help: "Number of sessions currently being processed by this instance.",
			},
		)

		crmSyncsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_crm_syncs_total",
				Help: "CRM sync attempts, labeled by provider and status.",
			},
			[]string{"provider", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSite counts one site outcome (compliant, non_compliant, failed).
func ObserveSite(outcome string) {
	Init()
	shuffleSitesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSession counts a finished session.
func ObserveSession(status string) {
	Init()
	shuffleSessionsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records a stage latency, and a failure when err is non-nil.
func ObserveStage(stage string, d time.Duration, err error) {
	Init()
	shuffleStageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		shuffleStageFailuresTotal.WithLabelValues(stage).Inc()
	}
}

// AddLeads adds n created leads.
func AddLeads(n int) {
	Init()
	if n > 0 {
		shuffleLeadsTotal.Add(float64(n))
	}
}

// IncActiveSessions increments the active sessions gauge.
func IncActiveSessions() {
	Init()
	shuffleActiveSessions.Inc()
}

// DecActiveSessions decrements the active sessions gauge.
func DecActiveSessions() {
	Init()
	shuffleActiveSessions.Dec()
}

// ObserveCRMSync counts one CRM sync attempt.
func ObserveCRMSync(provider, status string) {
	Init()
	crmSyncsTotal.WithLabelValues(provider, status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
