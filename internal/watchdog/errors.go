package watchdog

import (
	"errors"
	"fmt"
	"time"
)

// StepTimeoutError reports that a step exceeded its deadline. The underlying
// work is abandoned, not cancelled, so the outcome is ambiguous: the
// operation may still take effect after the flow stopped waiting for it.
type StepTimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.Step, e.Timeout)
}

// IsStepTimeout reports whether err is (or wraps) a StepTimeoutError.
func IsStepTimeout(err error) bool {
	var te *StepTimeoutError
	return errors.As(err, &te)
}

// AdmissionRefusedError reports that admission control refused an operation
// before anything was submitted. Flows map it to StatusSkip.
type AdmissionRefusedError struct {
	Reason string
}

func (e *AdmissionRefusedError) Error() string {
	return "admission refused: " + e.Reason
}

// AmbiguousError reports that an on-chain artifact expected from a
// just-observed transaction could not be found (e.g. an L1 deposit receipt
// without a priority-operation log). Fatal to the attempt, mapped to
// StatusFail; the next cycle re-derives truth from chain history.
type AmbiguousError struct {
	What string
}

func (e *AmbiguousError) Error() string {
	return "reconciliation ambiguous: " + e.What
}

// LogicError marks a programming error: starting a flow run while one is
// open, releasing an unlocked mutex. Logic errors are never converted to a
// FlowStatus; they escape the attempt boundary and terminate the offending
// flow loop instead of being retried.
type LogicError struct {
	Op  string
	Msg string
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("logic error in %s: %s", e.Op, e.Msg)
}

// IsLogicError reports whether err is (or wraps) a LogicError.
func IsLogicError(err error) bool {
	var le *LogicError
	return errors.As(err, &le)
}
