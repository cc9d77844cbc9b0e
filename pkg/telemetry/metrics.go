package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for stagegate. A disabled
// configuration yields a no-op instance so call sites never branch.
type Metrics struct {
	config MetricsConfig

	// Plan staging metrics
	plansStaged   *prometheus.CounterVec
	planEntries   *prometheus.HistogramVec
	stagingErrors *prometheus.CounterVec

	// Quorum metrics
	quorumJoins        *prometheus.CounterVec
	quorumPolls        *prometheus.CounterVec
	quorumSevers       prometheus.Counter
	quorumDissolutions prometheus.Counter
	quorumWaitDuration *prometheus.HistogramVec

	// Apply metrics
	migrationsApplied *prometheus.CounterVec
	applyDuration     *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		plansStaged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plans_staged_total",
				Help:      "Total number of plans trimmed to their pre-deploy prefix",
			},
			[]string{"outcome"},
		),
		planEntries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_entries",
				Help:      "Number of entries in staged plans",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200},
			},
			[]string{"phase"},
		),
		stagingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "staging_errors_total",
				Help:      "Total number of staging errors by kind",
			},
			[]string{"kind"},
		),
		quorumJoins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quorum_joins_total",
				Help:      "Total number of quorum joins by result",
			},
			[]string{"result"},
		),
		quorumPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quorum_polls_total",
				Help:      "Total number of quorum polls by result",
			},
			[]string{"result"},
		),
		quorumSevers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quorum_severs_total",
				Help:      "Total number of rendezvous rounds this agent severed",
			},
		),
		quorumDissolutions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quorum_dissolutions_total",
				Help:      "Total number of rounds observed dissolved by a peer",
			},
		),
		quorumWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "quorum_wait_duration_seconds",
				Help:      "Time spent waiting for quorum",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		migrationsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migrations_applied_total",
				Help:      "Total number of migrations applied by phase and direction",
			},
			[]string{"phase", "direction"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of migration application by phase",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
	}

	collectors := []prometheus.Collector{
		m.plansStaged, m.planEntries, m.stagingErrors,
		m.quorumJoins, m.quorumPolls, m.quorumSevers, m.quorumDissolutions,
		m.quorumWaitDuration, m.migrationsApplied, m.applyDuration,
	}
	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	return m, nil
}

// PlanStaged records the outcome of one plan trim ("ok" or "ambiguous") and
// the sizes of the resulting phases.
func (m *Metrics) PlanStaged(outcome string, preEntries, postEntries int) {
	if m.registry == nil {
		return
	}
	m.plansStaged.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.planEntries.WithLabelValues("pre").Observe(float64(preEntries))
		m.planEntries.WithLabelValues("post").Observe(float64(postEntries))
	}
}

// StagingError records a staging error by kind ("stage" or "plan").
func (m *Metrics) StagingError(kind string) {
	if m.registry == nil {
		return
	}
	m.stagingErrors.WithLabelValues(kind).Inc()
}

// QuorumJoin records one join and whether it completed the quorum.
func (m *Metrics) QuorumJoin(won bool) {
	if m.registry == nil {
		return
	}
	result := "waited"
	if won {
		result = "won"
	}
	m.quorumJoins.WithLabelValues(result).Inc()
}

// QuorumPoll records one poll result ("pending", "reached", "dissolved" or
// "error").
func (m *Metrics) QuorumPoll(result string) {
	if m.registry == nil {
		return
	}
	m.quorumPolls.WithLabelValues(result).Inc()
}

// QuorumSever records a sever issued by this agent.
func (m *Metrics) QuorumSever() {
	if m.registry == nil {
		return
	}
	m.quorumSevers.Inc()
}

// QuorumDissolved records a dissolution observed from a peer.
func (m *Metrics) QuorumDissolved() {
	if m.registry == nil {
		return
	}
	m.quorumDissolutions.Inc()
}

// QuorumWait records the total time one agent waited for quorum in a phase.
func (m *Metrics) QuorumWait(phase string, d time.Duration) {
	if m.registry == nil {
		return
	}
	m.quorumWaitDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// MigrationApplied records one applied migration.
func (m *Metrics) MigrationApplied(phase, direction string) {
	if m.registry == nil {
		return
	}
	m.migrationsApplied.WithLabelValues(phase, direction).Inc()
}

// ApplyDuration records the duration of one phase's application.
func (m *Metrics) ApplyDuration(phase string, d time.Duration) {
	if m.registry == nil {
		return
	}
	m.applyDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the metrics endpoint, or nil when
// metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve starts the metrics HTTP server. It blocks; callers run it in a
// goroutine. A disabled configuration returns immediately.
func (m *Metrics) Serve() error {
	if m.registry == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())
	return http.ListenAndServe(m.config.ListenAddress, mux)
}
