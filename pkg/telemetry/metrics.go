package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for the bootstrap sequence.
type Metrics struct {
	config MetricsConfig

	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	failuresByClass *prometheus.CounterVec

	serverRestarts *prometheus.CounterVec
	serverUp       prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a metrics collector. When disabled every record method
// is a no-op.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of bootstrap runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of bootstrap runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of bootstrap runs in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of bootstrap steps executed",
			},
			[]string{"step", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of bootstrap steps in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"step"},
		),

		failuresByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "failures_total",
				Help:      "Total number of bootstrap failures by class",
			},
			[]string{"class"},
		),

		serverRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "server_restarts_total",
				Help:      "Total number of supervised server restarts",
			},
			[]string{"reason"},
		),
		serverUp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "server_up",
				Help:      "Whether the supervised server process is running",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.failuresByClass,
		m.serverRestarts,
		m.serverUp,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(mode string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStepExecution records the execution of one bootstrap step.
func (m *Metrics) RecordStepExecution(step, status string, duration time.Duration) {
	if m == nil || m.stepsExecuted == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, status).Inc()
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordFailure records a bootstrap failure by class.
func (m *Metrics) RecordFailure(class string) {
	if m == nil || m.failuresByClass == nil {
		return
	}
	m.failuresByClass.WithLabelValues(class).Inc()
}

// RecordServerRestart records a supervised server restart.
func (m *Metrics) RecordServerRestart(reason string) {
	if m == nil || m.serverRestarts == nil {
		return
	}
	m.serverRestarts.WithLabelValues(reason).Inc()
}

// SetServerUp sets the supervised server liveness gauge.
func (m *Metrics) SetServerUp(up bool) {
	if m == nil || m.serverUp == nil {
		return
	}
	if up {
		m.serverUp.Set(1)
	} else {
		m.serverUp.Set(0)
	}
}

// StartServer starts the metrics HTTP endpoint. It returns immediately; the
// server runs until StopServer is called.
func (m *Metrics) StartServer() error {
	if m.registry == nil {
		return nil
	}
	if m.server != nil {
		return fmt.Errorf("metrics server already started")
	}

	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server failed")
		}
	}()

	return nil
}

// StopServer shuts down the metrics HTTP endpoint.
func (m *Metrics) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	err := m.server.Shutdown(ctx)
	m.server = nil
	return err
}

// Registry exposes the underlying registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
