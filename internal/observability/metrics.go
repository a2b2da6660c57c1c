package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Runs            *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	StuckRuns       prometheus.Gauge
	Approvals       *prometheus.CounterVec
	RealtimeClients prometheus.Gauge
	RealtimeEvents  *prometheus.CounterVec
	RealtimeDrops   prometheus.Counter
	Jobs            *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	RateLimited     prometheus.Counter
	RunWindow       *RunWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Concluded agent runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of agent runs from start to terminal state.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		StuckRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_stuck",
			Help:      "Runs still running past the stuck threshold.",
		}),
		Approvals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approval requests and decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		RealtimeClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realtime_clients",
			Help:      "Connected SSE and websocket clients.",
		}),
		RealtimeEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Broadcast events by type.",
		}, []string{"type"}),
		RealtimeDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_drops_total",
			Help:      "Clients dropped because their buffer was full or their write failed.",
		}),
		Jobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Background jobs by name and outcome.",
		}, []string{"name", "outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Completion provider failures by caller.",
		}, []string{"caller"}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		RunWindow: NewRunWindow(256),
	}
}

func (m *Metrics) ObserveRun(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(mode, outcome).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
	m.RunWindow.Observe(mode, float64(d.Milliseconds()))
	m.RunWindow.ObserveOutcome(outcome)
}

func (m *Metrics) ObserveApproval(action, outcome string) {
	if m == nil {
		return
	}
	m.Approvals.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) SetStuckRuns(n int) {
	if m == nil {
		return
	}
	m.StuckRuns.Set(float64(n))
}

func (m *Metrics) SetRealtimeClients(n int) {
	if m == nil {
		return
	}
	m.RealtimeClients.Set(float64(n))
}

func (m *Metrics) ObserveRealtimeEvent(eventType string) {
	if m == nil {
		return
	}
	m.RealtimeEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveRealtimeDrop() {
	if m == nil {
		return
	}
	m.RealtimeDrops.Inc()
}

func (m *Metrics) ObserveJob(name, outcome string) {
	if m == nil {
		return
	}
	m.Jobs.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) ObserveProviderError(caller string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(caller).Inc()
}

func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// RunStats returns the rolling run-duration snapshot.
func (m *Metrics) RunStats() RunWindowSnapshot {
	if m == nil {
		return NewRunWindow(1).Snapshot()
	}
	return m.RunWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
