package watchdog

import (
	"context"
	"time"
)

// RunStep races work against a deadline and returns the work's result, or a
// StepTimeoutError naming the step when the deadline passes first.
//
// The work is abandoned on timeout, not cancelled: it keeps running detached
// and its late result is written into a buffered channel nobody reads. A
// timeout is therefore an ambiguous outcome, not proof the operation did not
// eventually succeed; a transaction may still land on-chain after the flow
// gave up waiting. Reconciliation re-derives truth from chain history on the
// next cycle rather than trusting in-process memory.
func RunStep[T any](ctx context.Context, name string, timeout time.Duration, work func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}

	done := make(chan outcome, 1)
	go func() {
		val, err := work(ctx)
		done <- outcome{val: val, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
		return zero, &StepTimeoutError{Step: name, Timeout: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
