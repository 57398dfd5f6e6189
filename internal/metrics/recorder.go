package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// GasReport carries the gas profile of a transaction observed by a step.
type GasReport struct {
	GasUsed  uint64  `json:"gas_used"`
	GasPrice float64 `json:"gas_price"`
	GasCost  float64 `json:"gas_cost"`
}

// StepRecord is one completed step within a flow run.
type StepRecord struct {
	Name    string        `json:"name"`
	Latency time.Duration `json:"latency"`
	EndedAt time.Time     `json:"ended_at"`
	Gas     *GasReport    `json:"gas,omitempty"`
}

// FlowRun is the full trace of one flow attempt.
type FlowRun struct {
	Flow      string          `json:"flow"`
	StartedAt time.Time       `json:"started_at"`
	SealedAt  time.Time       `json:"sealed_at"`
	Status    watchdog.Status `json:"status"`
	Steps     []StepRecord    `json:"steps"`
}

// SealFunc observes a sealed run. Hooks run synchronously under the
// recorder's lock and must not block.
type SealFunc func(FlowRun)

// Recorder accumulates step timings for one flow and publishes them to
// Prometheus when the run is sealed. A recorder holds at most one open run;
// opening a second or sealing a closed one is a programming error and
// surfaces as such.
type Recorder struct {
	flow   string
	prom   *PrometheusMetrics
	onSeal []SealFunc

	mu  sync.Mutex
	run *FlowRun
}

// NewRecorder creates a recorder for one flow.
func NewRecorder(flow string, prom *PrometheusMetrics, onSeal ...SealFunc) *Recorder {
	return &Recorder{flow: flow, prom: prom, onSeal: onSeal}
}

// Flow returns the flow name this recorder serves.
func (r *Recorder) Flow() string {
	return r.flow
}

// Start opens a new run.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run != nil {
		return &watchdog.LogicError{Op: "metrics.Recorder.Start", Msg: "run already open for flow " + r.flow}
	}
	r.run = &FlowRun{Flow: r.flow, StartedAt: time.Now()}
	r.prom.RecordAttempt(r.flow)
	return nil
}

// Discard drops the open run without publishing anything. Used when an
// attempt will be retried and its partial trace is not worth keeping.
func (r *Recorder) Discard() {
	r.mu.Lock()
	r.run = nil
	r.mu.Unlock()
}

func (r *Recorder) recordStep(rec StepRecord) {
	r.prom.RecordStepLatency(r.flow, rec.Name, rec.Latency.Seconds())
	if rec.Gas != nil {
		r.prom.RecordStepGas(r.flow, rec.Name, float64(rec.Gas.GasUsed), rec.Gas.GasPrice, rec.Gas.GasCost)
	}

	r.mu.Lock()
	if r.run != nil {
		r.run.Steps = append(r.run.Steps, rec)
	}
	r.mu.Unlock()
}

// Success seals the open run as healthy.
func (r *Recorder) Success() error {
	return r.seal(watchdog.StatusOK)
}

// Failure seals the open run as failed.
func (r *Recorder) Failure() error {
	return r.seal(watchdog.StatusFail)
}

// Skipped seals the open run as skipped.
func (r *Recorder) Skipped() error {
	return r.seal(watchdog.StatusSkip)
}

func (r *Recorder) seal(status watchdog.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run == nil {
		return &watchdog.LogicError{Op: "metrics.Recorder.seal", Msg: "no open run for flow " + r.flow}
	}

	run := r.run
	r.run = nil
	run.Status = status
	run.SealedAt = time.Now()

	r.prom.RecordStatus(r.flow, status.GaugeValue())
	r.prom.RecordRun(r.flow, status.String())
	if status == watchdog.StatusOK {
		r.prom.RecordTotalLatency(r.flow, run.SealedAt.Sub(run.StartedAt).Seconds())
	}

	for _, fn := range r.onSeal {
		fn(*run)
	}
	return nil
}

// ManualStatus publishes an outcome for a flow that produced no transaction
// of its own this cycle, so there is no open run to seal.
func (r *Recorder) ManualStatus(status watchdog.Status) {
	r.prom.RecordStatus(r.flow, status.GaugeValue())
	r.prom.RecordRun(r.flow, status.String())
	for _, fn := range r.onSeal {
		fn(FlowRun{Flow: r.flow, StartedAt: time.Now(), SealedAt: time.Now(), Status: status})
	}
}

// ManualStep records a step observed outside StepExec, such as a latency
// reconstructed from on-chain timestamps.
func (r *Recorder) ManualStep(name string, latency time.Duration) {
	r.recordStep(StepRecord{Name: name, Latency: latency, EndedAt: time.Now()})
}

// ManualStepGas records a step together with its gas profile.
func (r *Recorder) ManualStepGas(name string, latency time.Duration, gas GasReport) {
	r.recordStep(StepRecord{Name: name, Latency: latency, EndedAt: time.Now(), Gas: &gas})
}

// GaugeDepositLag publishes the settlement-to-execution lag of the latest
// reconciled deposit.
func (r *Recorder) GaugeDepositLag(seconds float64) {
	r.prom.RecordDepositLag(r.flow, seconds)
}

// GaugeFinalizeEstimate publishes the gas estimate of the latest simulated
// withdrawal finalization.
func (r *Recorder) GaugeFinalizeEstimate(gas float64) {
	r.prom.RecordFinalizeGasEstimate(gas)
}

// StepExec runs one named step under a timeout and records its latency when
// it completes. Failed or timed-out steps are not recorded; the error
// carries the step name.
func StepExec[T any](ctx context.Context, r *Recorder, name string, timeout time.Duration, work func(context.Context) (T, error)) (T, error) {
	started := time.Now()
	out, err := watchdog.RunStep(ctx, name, timeout, work)
	if err != nil {
		return out, err
	}
	r.recordStep(StepRecord{Name: name, Latency: time.Since(started), EndedAt: time.Now()})
	return out, nil
}

// StepExecGas is StepExec for steps whose result carries a gas profile,
// typically receipt waits.
func StepExecGas[T any](ctx context.Context, r *Recorder, name string, timeout time.Duration, work func(context.Context) (T, *GasReport, error)) (T, error) {
	started := time.Now()
	type result struct {
		out T
		gas *GasReport
	}
	res, err := watchdog.RunStep(ctx, name, timeout, func(ctx context.Context) (result, error) {
		out, gas, err := work(ctx)
		return result{out: out, gas: gas}, err
	})
	if err != nil {
		return res.out, err
	}
	r.recordStep(StepRecord{Name: name, Latency: time.Since(started), EndedAt: time.Now(), Gas: res.gas})
	return res.out, nil
}
