package flows

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateway-fm/watchdog/internal/metrics"
	"github.com/gateway-fm/watchdog/internal/reconcile"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// DepositUserFlow watches for organic deposit traffic and only bridges
// itself when nobody else has recently. A healthy chain with real users
// costs this flow nothing; a quiet chain still gets probed.
type DepositUserFlow struct {
	recon   *reconcile.DepositReconciler
	deposit *DepositFlow
	rec     *metrics.Recorder
	cfg     Config
	log     *slog.Logger

	// lastOwnSubmission is when this flow last initiated a deposit itself.
	// A failed own submission inside the window yields SKIP instead of a
	// fresh attempt, so settlement hiccups do not burn the retry budget.
	lastOwnSubmission time.Time
}

// NewDepositUserFlow creates the passive deposit flow. deposit provides the
// active submission path when no organic traffic is found.
func NewDepositUserFlow(recon *reconcile.DepositReconciler, deposit *DepositFlow, rec *metrics.Recorder, cfg Config) *DepositUserFlow {
	return &DepositUserFlow{
		recon:   recon,
		deposit: deposit,
		rec:     rec,
		cfg:     cfg,
		log:     cfg.logger().With("flow", rec.Flow()),
	}
}

// Name implements watchdog.Flow.
func (f *DepositUserFlow) Name() string {
	return f.rec.Flow()
}

// RunOnce implements watchdog.Flow.
func (f *DepositUserFlow) RunOnce(ctx context.Context) (watchdog.Status, error) {
	result, err := f.recon.Reconcile(ctx, nil)
	if err != nil {
		if watchdog.IsLogicError(err) {
			return watchdog.StatusFail, err
		}
		f.log.Warn("deposit reconciliation failed", "error", err)
		f.rec.ManualStatus(watchdog.StatusFail)
		return watchdog.StatusFail, err
	}

	if f.recentSuccess(result) {
		f.log.Info("recent deposit found, nothing to do",
			"lag_seconds", result.SecSinceL1, "l1_tx", result.L1Receipt.TxHash.Hex())
		f.rec.GaugeDepositLag(float64(result.SecSinceL1))
		f.rec.ManualStep("reconcile_deposit", time.Duration(result.SecSinceL1)*time.Second)
		f.rec.ManualStatus(watchdog.StatusOK)
		return watchdog.StatusOK, nil
	}

	if !f.lastOwnSubmission.IsZero() && time.Since(f.lastOwnSubmission) < f.cfg.TriggerWindow {
		f.log.Info("own deposit already in flight window, skipping cycle")
		f.rec.ManualStatus(watchdog.StatusSkip)
		return watchdog.StatusSkip, nil
	}

	f.lastOwnSubmission = time.Now()
	if err := f.rec.Start(); err != nil {
		return watchdog.StatusFail, err
	}
	st, err := f.deposit.runWith(ctx, f.rec)
	return seal(f.rec, st, err)
}

// recentSuccess reports whether result is a successful deposit, from any
// sender, initiated within the trigger window.
func (f *DepositUserFlow) recentSuccess(result reconcile.Result) bool {
	if !result.Known || result.Status != watchdog.StatusOK {
		return false
	}
	initiated := time.Unix(int64(result.L1Timestamp), 0)
	return time.Since(initiated) <= f.cfg.TriggerWindow
}
