package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionStates lists every session state label exported by session_state.
var SessionStates = []string{"initializing", "ready", "busy", "crashed", "closed"}

type moduleMetrics struct {
	queueDepth   *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	stepDuration *prometheus.HistogramVec
	stepErrors   *prometheus.CounterVec

	sessionState       *prometheus.GaugeVec
	sessionInitTotal   *prometheus.CounterVec
	sessionInitSeconds *prometheus.HistogramVec
	sessionResetsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_depth",
					Help: "Jobs waiting in the work queue by provider.",
				},
				[]string{"provider"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total jobs enqueued by provider.",
				},
				[]string{"provider"},
			),
			jobsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "jobs_total",
					Help: "Total completed jobs by provider, mode and status.",
				},
				[]string{"provider", "mode", "status"},
			),
			jobDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "job_duration_seconds",
					Help:    "Job execution duration in seconds by provider.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"provider"},
			),
			stepDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "step_duration_seconds",
					Help:    "Single prompt round-trip duration in seconds by provider.",
					Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
				},
				[]string{"provider"},
			),
			stepErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "step_errors_total",
					Help: "Failed prompt steps by provider and error kind.",
				},
				[]string{"provider", "kind"},
			),
			sessionState: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "session_state",
					Help: "Current session state by provider (1 for the active state).",
				},
				[]string{"provider", "state"},
			),
			sessionInitTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_init_total",
					Help: "Session initialization attempts by provider and status.",
				},
				[]string{"provider", "status"},
			),
			sessionInitSeconds: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "session_init_duration_seconds",
					Help:    "Session initialization duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			sessionResetsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "session_resets_total",
					Help: "Session resets by provider and reason.",
				},
				[]string{"provider", "reason"},
			),
		}

		prometheus.MustRegister(
			m.queueDepth,
			m.enqueueTotal,
			m.jobsTotal,
			m.jobDuration,
			m.stepDuration,
			m.stepErrors,
			m.sessionState,
			m.sessionInitTotal,
			m.sessionInitSeconds,
			m.sessionResetsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(provider string, depth int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(provider).Inc()
	m.queueDepth.WithLabelValues(provider).Set(float64(depth))
}

func SetQueueDepth(provider string, depth int) {
	m := getMetrics()
	m.queueDepth.WithLabelValues(provider).Set(float64(depth))
}

func RecordJob(provider, mode string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.jobsTotal.WithLabelValues(provider, mode, status).Inc()
	m.jobDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordStep(provider string, duration time.Duration, errKind string) {
	m := getMetrics()
	m.stepDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if errKind != "" {
		m.stepErrors.WithLabelValues(provider, errKind).Inc()
	}
}

// SetSessionState marks state as the only active state for provider.
func SetSessionState(provider, state string) {
	m := getMetrics()
	for _, s := range SessionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		m.sessionState.WithLabelValues(provider, s).Set(value)
	}
}

func RecordSessionInit(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.sessionInitTotal.WithLabelValues(provider, status).Inc()
	m.sessionInitSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordSessionReset(provider, reason string) {
	m := getMetrics()
	m.sessionResetsTotal.WithLabelValues(provider, reason).Inc()
}
