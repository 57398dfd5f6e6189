// Package metrics exposes the watchdog's Prometheus surface and the
// per-flow run recorder feeding it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status gauge encoding: 1 healthy, 0.5 skipped, 0 failed. The histogram
// mirrors the same values so dashboards can compute success ratios over time
// windows without a recording rule.
var statusBuckets = []float64{0, 0.5, 1}

// PrometheusMetrics holds all Prometheus metrics for the watchdog.
type PrometheusMetrics struct {
	// Per-flow health
	Status       *prometheus.GaugeVec
	StatusDist   *prometheus.HistogramVec
	RunsTotal    *prometheus.CounterVec
	AttemptsTotal *prometheus.CounterVec

	// Per-step timings and costs
	StepLatency  *prometheus.GaugeVec
	TotalLatency *prometheus.GaugeVec
	StepGasUsed  *prometheus.GaugeVec
	StepGasPrice *prometheus.GaugeVec
	StepGasCost  *prometheus.GaugeVec

	// Reconciliation observations
	DepositExecutionLag *prometheus.GaugeVec
	FinalizeGasEstimate prometheus.Gauge

	// Liveness
	Liveness prometheus.Counter
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		Status: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchdog_status",
				Help: "Latest flow outcome (1 ok, 0.5 skipped, 0 failed)",
			},
			[]string{"flow"},
		),

		StatusDist: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watchdog_status_distribution",
				Help:    "Distribution of flow outcomes over time",
				Buckets: statusBuckets,
			},
			[]string{"flow"},
		),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_runs_total",
				Help: "Completed flow runs by outcome",
			},
			[]string{"flow", "status"},
		),

		AttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_attempts_total",
				Help: "Flow attempts including retries",
			},
			[]string{"flow"},
		),

		StepLatency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchdog_latency",
				Help: "Latency of the last completed step in seconds",
			},
			[]string{"flow", "step"},
		),

		TotalLatency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchdog_latency_total",
				Help: "End-to-end latency of the last successful run in seconds",
			},
			[]string{"flow"},
		),

		StepGasUsed: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchdog_step_gas_used",
				Help: "Gas used by the transaction observed in a step",
			},
			[]string{"flow", "step"},
		),

		StepGasPrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchdog_step_gas_price",
				Help: "Effective gas price in wei of the transaction observed in a step",
			},
			[]string{"flow", "step"},
		),

		StepGasCost: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchdog_step_gas_cost",
				Help: "Total fee in wei of the transaction observed in a step",
			},
			[]string{"flow", "step"},
		),

		DepositExecutionLag: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "watchdog_deposit_execution_lag_seconds",
				Help: "Seconds between settlement-layer inclusion and execution-layer execution of the latest reconciled deposit",
			},
			[]string{"flow"},
		),

		FinalizeGasEstimate: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "watchdog_finalize_gas_estimate",
				Help: "Gas estimate of the latest simulated withdrawal finalization",
			},
		),

		Liveness: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "watchdog_liveness_total",
				Help: "Monotonic counter incremented every scheduler tick",
			},
		),
	}
}

// RecordStatus records a sealed flow outcome.
func (m *PrometheusMetrics) RecordStatus(flow string, value float64) {
	m.Status.WithLabelValues(flow).Set(value)
	m.StatusDist.WithLabelValues(flow).Observe(value)
}

// RecordRun counts a sealed run by outcome label.
func (m *PrometheusMetrics) RecordRun(flow, status string) {
	m.RunsTotal.WithLabelValues(flow, status).Inc()
}

// RecordAttempt counts one attempt of a flow, retries included.
func (m *PrometheusMetrics) RecordAttempt(flow string) {
	m.AttemptsTotal.WithLabelValues(flow).Inc()
}

// RecordStepLatency records the wall time of a completed step.
func (m *PrometheusMetrics) RecordStepLatency(flow, step string, seconds float64) {
	m.StepLatency.WithLabelValues(flow, step).Set(seconds)
}

// RecordTotalLatency records the end-to-end time of a successful run.
func (m *PrometheusMetrics) RecordTotalLatency(flow string, seconds float64) {
	m.TotalLatency.WithLabelValues(flow).Set(seconds)
}

// RecordStepGas records the gas profile of the transaction a step observed.
func (m *PrometheusMetrics) RecordStepGas(flow, step string, gasUsed, gasPrice, gasCost float64) {
	m.StepGasUsed.WithLabelValues(flow, step).Set(gasUsed)
	m.StepGasPrice.WithLabelValues(flow, step).Set(gasPrice)
	m.StepGasCost.WithLabelValues(flow, step).Set(gasCost)
}

// RecordDepositLag records the settlement-to-execution lag of a deposit.
func (m *PrometheusMetrics) RecordDepositLag(flow string, seconds float64) {
	m.DepositExecutionLag.WithLabelValues(flow).Set(seconds)
}

// RecordFinalizeGasEstimate records the simulated finalization gas.
func (m *PrometheusMetrics) RecordFinalizeGasEstimate(gas float64) {
	m.FinalizeGasEstimate.Set(gas)
}

// Tick increments the liveness counter.
func (m *PrometheusMetrics) Tick() {
	m.Liveness.Inc()
}
