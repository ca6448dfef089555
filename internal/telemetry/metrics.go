package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kaushiksamanta/krama/internal/domain"
)

// Metrics — Prometheus метрики выполнения runs и шагов.
type Metrics struct {
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepAttempts *prometheus.HistogramVec
	runsTotal    *prometheus.CounterVec
	runDuration  prometheus.Histogram
	activeRuns   prometheus.Gauge
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// reg == nil — метрики не регистрируются (удобно в тестах).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "krama",
			Name:      "steps_total",
			Help:      "Terminal step results by kind and status.",
		}, []string{"kind", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "krama",
			Name:      "step_duration_seconds",
			Help:      "Step execution time by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"kind"}),
		stepAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "krama",
			Name:      "step_attempts",
			Help:      "Attempts used per step.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}, []string{"kind"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "krama",
			Name:      "runs_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "krama",
			Name:      "run_duration_seconds",
			Help:      "Run execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "krama",
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.stepsTotal, m.stepDuration, m.stepAttempts, m.runsTotal, m.runDuration, m.activeRuns)
	}
	return m
}

// ObserveStep учитывает терминальный результат шага.
func (m *Metrics) ObserveStep(kind domain.StepKind, result *domain.StepResult) {
	k := string(kind.Effective())
	m.stepsTotal.WithLabelValues(k, string(result.Status)).Inc()
	if result.Status == domain.StepStatusSkipped {
		return
	}
	m.stepDuration.WithLabelValues(k).Observe(result.Duration().Seconds())
	m.stepAttempts.WithLabelValues(k).Observe(float64(result.Attempts))
}

// ObserveRunStarted увеличивает число активных runs.
func (m *Metrics) ObserveRunStarted() {
	m.activeRuns.Inc()
}

// ObserveRunFinished учитывает завершённый run.
func (m *Metrics) ObserveRunFinished(run *domain.Run) {
	m.activeRuns.Dec()
	m.runsTotal.WithLabelValues(string(run.Status)).Inc()
	m.runDuration.Observe(run.Duration().Seconds())
}
