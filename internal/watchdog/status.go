// Package watchdog provides the flow execution framework: the tri-state
// attempt outcome, the step timer, the bounded retry driver and the
// periodic flow loop every monitoring flow is built on.
package watchdog

// Status is the terminal outcome of a single flow attempt.
type Status int

const (
	// StatusFail means the attempt failed: an RPC call errored, a step
	// timed out, or an on-chain receipt reported failure.
	StatusFail Status = iota

	// StatusSkip means admission control refused the attempt (e.g. gas
	// price above the ceiling). A skip is a policy decision, not a fault,
	// and never consumes retry budget.
	StatusSkip

	// StatusOK means the attempt completed successfully.
	StatusOK
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkip:
		return "skip"
	case StatusFail:
		return "fail"
	default:
		return "unknown"
	}
}

// GaugeValue returns the value published to the aggregate status gauge:
// 1 for success, 0.5 for skipped, 0 for failure.
func (s Status) GaugeValue() float64 {
	switch s {
	case StatusOK:
		return 1
	case StatusSkip:
		return 0.5
	default:
		return 0
	}
}
