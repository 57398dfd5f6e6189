package flows

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/watchdog/internal/bridge"
	"github.com/gateway-fm/watchdog/internal/metrics"
	"github.com/gateway-fm/watchdog/internal/reconcile"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// GasEstimator is the settlement-layer capability the finalize flow needs.
type GasEstimator interface {
	EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error)
}

// WithdrawFinalizeFlow proves that the latest finalized withdrawal is
// claimable on the settlement layer. The proof-claim call is simulated with
// a gas estimate and never submitted, so the check costs nothing beyond RPC
// traffic. No finalizable withdrawal in the window is a SKIP.
type WithdrawFinalizeFlow struct {
	recon          *reconcile.WithdrawalReconciler
	l1             GasEstimator
	rec            *metrics.Recorder
	owner          common.Address
	l1SharedBridge common.Address
	l2ChainID      *big.Int
	cfg            Config
	log            *slog.Logger
}

// NewWithdrawFinalizeFlow creates the finalize-simulation flow.
func NewWithdrawFinalizeFlow(recon *reconcile.WithdrawalReconciler, l1 GasEstimator, rec *metrics.Recorder, owner, l1SharedBridge common.Address, l2ChainID *big.Int, cfg Config) *WithdrawFinalizeFlow {
	return &WithdrawFinalizeFlow{
		recon:          recon,
		l1:             l1,
		rec:            rec,
		owner:          owner,
		l1SharedBridge: l1SharedBridge,
		l2ChainID:      l2ChainID,
		cfg:            cfg,
		log:            cfg.logger().With("flow", rec.Flow()),
	}
}

// Name implements watchdog.Flow.
func (f *WithdrawFinalizeFlow) Name() string {
	return f.rec.Flow()
}

// RunOnce implements watchdog.Flow.
func (f *WithdrawFinalizeFlow) RunOnce(ctx context.Context) (watchdog.Status, error) {
	if err := f.rec.Start(); err != nil {
		return watchdog.StatusFail, err
	}
	st, err := f.run(ctx)
	return seal(f.rec, st, err)
}

func (f *WithdrawFinalizeFlow) run(ctx context.Context) (watchdog.Status, error) {
	withdrawal, err := metrics.StepExec(ctx, f.rec, "find_withdrawal", f.cfg.StepTimeout, func(ctx context.Context) (*reconcile.Withdrawal, error) {
		return f.recon.LatestWithdrawal(ctx, f.owner, true)
	})
	if err != nil {
		return watchdog.StatusFail, err
	}
	if withdrawal == nil {
		f.log.Info("no finalizable withdrawal in window, skipping cycle")
		return watchdog.StatusSkip, nil
	}

	fin, err := metrics.StepExec(ctx, f.rec, "fetch_proof", f.cfg.StepTimeout, func(ctx context.Context) (*reconcile.Finalization, error) {
		return f.recon.FinalizeParams(ctx, withdrawal)
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrNotBaseToken) {
			f.log.Error("latest withdrawal is not base-token denominated", "tx", withdrawal.TxHash.Hex())
		}
		return watchdog.StatusFail, err
	}

	gas, err := metrics.StepExec(ctx, f.rec, "simulate_finalize", f.cfg.StepTimeout, func(ctx context.Context) (uint64, error) {
		return f.l1.EstimateGas(ctx, rpc.CallMsg{
			From: f.owner,
			To:   &f.l1SharedBridge,
			Data: bridge.EncodeFinalizeWithdrawal(f.l2ChainID, fin.L1BatchNumber, fin.L2MessageIndex, fin.L2TxNumberInBatch, fin.Message, fin.Proof),
		})
	})
	if err != nil {
		f.log.Warn("finalization simulation failed", "tx", withdrawal.TxHash.Hex(), "error", err)
		return watchdog.StatusFail, err
	}

	f.rec.GaugeFinalizeEstimate(float64(gas))
	f.log.Info("withdrawal provably claimable", "tx", withdrawal.TxHash.Hex(), "gas_estimate", gas)
	return watchdog.StatusOK, nil
}
