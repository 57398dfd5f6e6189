package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gateway-fm/watchdog/internal/watchdog"
)

func newTestRecorder(t *testing.T, onSeal ...SealFunc) *Recorder {
	t.Helper()
	prom := NewPrometheusMetrics(prometheus.NewRegistry())
	return NewRecorder("transfer", prom, onSeal...)
}

func TestRecorderDoubleStartIsLogicError(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(); !watchdog.IsLogicError(err) {
		t.Fatalf("expected logic error, got %v", err)
	}
}

func TestRecorderSealWithoutRunIsLogicError(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Success(); !watchdog.IsLogicError(err) {
		t.Fatalf("expected logic error, got %v", err)
	}
}

func TestRecorderSealDeliversRun(t *testing.T) {
	var sealed []FlowRun
	r := newTestRecorder(t, func(run FlowRun) { sealed = append(sealed, run) })

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.ManualStep("send", 10*time.Millisecond)
	r.ManualStepGas("wait_receipt", 20*time.Millisecond, GasReport{GasUsed: 21000, GasPrice: 2, GasCost: 42000})
	if err := r.Success(); err != nil {
		t.Fatalf("success: %v", err)
	}

	if len(sealed) != 1 {
		t.Fatalf("sealed runs = %d, want 1", len(sealed))
	}
	run := sealed[0]
	if run.Status != watchdog.StatusOK {
		t.Errorf("status = %v", run.Status)
	}
	if len(run.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(run.Steps))
	}
	if run.Steps[0].Name != "send" || run.Steps[1].Name != "wait_receipt" {
		t.Errorf("step names = %s, %s", run.Steps[0].Name, run.Steps[1].Name)
	}
	if run.Steps[1].Gas == nil || run.Steps[1].Gas.GasUsed != 21000 {
		t.Errorf("gas report missing or wrong: %+v", run.Steps[1].Gas)
	}

	// Sealing consumed the run.
	if err := r.Failure(); !watchdog.IsLogicError(err) {
		t.Fatalf("expected logic error after seal, got %v", err)
	}
}

func TestRecorderDiscardDropsRun(t *testing.T) {
	var sealed int
	r := newTestRecorder(t, func(FlowRun) { sealed++ })

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Discard()
	if sealed != 0 {
		t.Errorf("discard sealed %d runs", sealed)
	}
	// A fresh run can open after a discard.
	if err := r.Start(); err != nil {
		t.Fatalf("start after discard: %v", err)
	}
}

func TestRecorderManualStatus(t *testing.T) {
	var sealed []FlowRun
	r := newTestRecorder(t, func(run FlowRun) { sealed = append(sealed, run) })

	r.ManualStatus(watchdog.StatusSkip)
	if len(sealed) != 1 || sealed[0].Status != watchdog.StatusSkip {
		t.Fatalf("sealed = %+v", sealed)
	}
}

func TestStepExecRecordsOnSuccessOnly(t *testing.T) {
	var sealed []FlowRun
	r := newTestRecorder(t, func(run FlowRun) { sealed = append(sealed, run) })
	ctx := context.Background()

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	got, err := StepExec(ctx, r, "estimate", time.Second, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("step exec = %d, %v", got, err)
	}

	wantErr := errors.New("boom")
	_, err = StepExec(ctx, r, "send", time.Second, func(ctx context.Context) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected work error, got %v", err)
	}

	if err := r.Failure(); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if len(sealed[0].Steps) != 1 || sealed[0].Steps[0].Name != "estimate" {
		t.Fatalf("recorded steps = %+v", sealed[0].Steps)
	}
}

func TestStepExecTimeout(t *testing.T) {
	r := newTestRecorder(t)
	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := StepExec(context.Background(), r, "wait_receipt", 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !watchdog.IsStepTimeout(err) {
		t.Fatalf("expected step timeout, got %v", err)
	}
}

func TestStepExecGasAttachesReport(t *testing.T) {
	var sealed []FlowRun
	r := newTestRecorder(t, func(run FlowRun) { sealed = append(sealed, run) })

	if err := r.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := StepExecGas(context.Background(), r, "wait_receipt", time.Second, func(ctx context.Context) (string, *GasReport, error) {
		return "0xabc", &GasReport{GasUsed: 21000, GasPrice: 1, GasCost: 21000}, nil
	})
	if err != nil {
		t.Fatalf("step exec gas: %v", err)
	}
	if err := r.Success(); err != nil {
		t.Fatalf("success: %v", err)
	}
	steps := sealed[0].Steps
	if len(steps) != 1 || steps[0].Gas == nil || steps[0].Gas.GasUsed != 21000 {
		t.Fatalf("recorded steps = %+v", steps)
	}
}

func TestBoardSnapshotOrdered(t *testing.T) {
	b := NewBoard()
	b.Observe(FlowRun{Flow: "withdrawal", Status: watchdog.StatusOK})
	b.Observe(FlowRun{Flow: "deposit", Status: watchdog.StatusFail})
	b.Observe(FlowRun{Flow: "withdrawal", Status: watchdog.StatusSkip})

	snap := b.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snap))
	}
	if snap[0].Flow != "deposit" || snap[1].Flow != "withdrawal" {
		t.Errorf("snapshot order = %s, %s", snap[0].Flow, snap[1].Flow)
	}
	if snap[1].Status != watchdog.StatusSkip {
		t.Errorf("board kept stale run: %v", snap[1].Status)
	}
}
