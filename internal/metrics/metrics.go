// Package metrics exposes Prometheus collectors for run activity: stage
// durations, director redos and interventions, supervisor kills, and live
// worker resource usage.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/krenk/internal/logging"
)

const namespace = "krenk"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	stageDuration *prometheus.HistogramVec
	stages        *prometheus.CounterVec
	runs          *prometheus.CounterVec
	redos         *prometheus.CounterVec
	interventions *prometheus.CounterVec
	kills         *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	workerCost    *prometheus.CounterVec
	workerRSS     *prometheus.GaugeVec
	workerCPU     *prometheus.GaugeVec
	workersActive prometheus.Gauge
}

// New registers the collectors with a fresh registry.
func New() *Metrics {
	return MustNewMetrics(prometheus.NewRegistry())
}

// MustNewMetrics registers the collectors with reg and panics on a
// registration conflict.
func MustNewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"stage", "status"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "stages_total",
			Help:      "Stages finished, by outcome.",
		}, []string{"stage", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Runs finished, by final status.",
		}, []string{"status"}),
		redos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "director",
			Name:      "redos_total",
			Help:      "Redo verdicts issued per role.",
		}, []string{"role"}),
		interventions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "director",
			Name:      "interventions_total",
			Help:      "Director interventions by kind.",
		}, []string{"kind"}),
		kills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "kills_total",
			Help:      "Workers killed by the supervisor, by cause.",
		}, []string{"role", "cause"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "warnings_total",
			Help:      "Supervisor health warnings.",
		}, []string{"role"}),
		workerCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cost_usd_total",
			Help:      "Reported agent cost in USD.",
		}, []string{"role"}),
		workerRSS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "rss_bytes",
			Help:      "Last sampled resident memory per worker role.",
		}, []string{"role"}),
		workerCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage per worker role.",
		}, []string{"role"}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "active",
			Help:      "Workers currently running.",
		}),
	}
	reg.MustRegister(
		m.stageDuration, m.stages, m.runs, m.redos, m.interventions,
		m.kills, m.warnings, m.workerCost, m.workerRSS, m.workerCPU, m.workersActive,
	)
	return m
}

// Gatherer returns the registry backing m.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// ObserveStage records a finished stage.
func (m *Metrics) ObserveStage(stage, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
	m.stages.WithLabelValues(stage, status).Inc()
}

// IncRun records a finished run.
func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

// IncRedo records a redo verdict for role.
func (m *Metrics) IncRedo(role string) {
	if m == nil {
		return
	}
	m.redos.WithLabelValues(role).Inc()
}

// IncIntervention records a director intervention.
func (m *Metrics) IncIntervention(kind string) {
	if m == nil {
		return
	}
	m.interventions.WithLabelValues(kind).Inc()
}

// IncKill records a supervisor kill. The cause label is derived from the
// kill reason.
func (m *Metrics) IncKill(role, reason string) {
	if m == nil {
		return
	}
	m.kills.WithLabelValues(role, KillCause(reason)).Inc()
	m.workerRSS.DeleteLabelValues(role)
	m.workerCPU.DeleteLabelValues(role)
}

// IncWarning records a supervisor warning.
func (m *Metrics) IncWarning(role string) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(role).Inc()
}

// ObserveUsage records a worker resource sample.
func (m *Metrics) ObserveUsage(role string, rssBytes int64, cpuPercent float64) {
	if m == nil {
		return
	}
	m.workerRSS.WithLabelValues(role).Set(float64(rssBytes))
	m.workerCPU.WithLabelValues(role).Set(cpuPercent)
}

// WorkerStarted marks a worker as running.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.workersActive.Inc()
}

// WorkerFinished marks a worker as done and records its cost.
func (m *Metrics) WorkerFinished(role string, cost float64) {
	if m == nil {
		return
	}
	m.workersActive.Dec()
	if cost > 0 {
		m.workerCost.WithLabelValues(role).Add(cost)
	}
	m.workerRSS.DeleteLabelValues(role)
	m.workerCPU.DeleteLabelValues(role)
}

// KillCause maps a supervisor kill reason to memory, runtime, hang, or other.
func KillCause(reason string) string {
	switch {
	case strings.HasPrefix(reason, "memory"):
		return "memory"
	case strings.HasPrefix(reason, "runtime"):
		return "runtime"
	case strings.HasPrefix(reason, "no activity"):
		return "hang"
	default:
		return "other"
	}
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *Metrics, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.NopLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
