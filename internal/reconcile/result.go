// Package reconcile derives deposit and withdrawal outcomes from chain
// history instead of in-process memory. A timed-out submission is abandoned,
// never cancelled, so the transaction may still land; the next cycle finds
// it here and reports the truth the chain settled on.
package reconcile

import (
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// Result is the outcome of reconciling the most recent bridge operation for
// an address. Known is false when the queried window held no matching event;
// that is a valid "nothing happened yet" outcome, not an error.
type Result struct {
	Known  bool
	Status watchdog.Status

	L1Receipt   *rpc.Receipt
	L1Timestamp uint64
	L2Receipt   *rpc.Receipt
	L2Timestamp uint64

	// SecSinceL1 is the settlement-to-execution lag of a deposit, computed
	// only when both timestamps are available.
	SecSinceL1 uint64
}

// Unknown is the empty-window result.
func Unknown() Result {
	return Result{}
}
