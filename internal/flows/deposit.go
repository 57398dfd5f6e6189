package flows

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/watchdog/internal/bridge"
	"github.com/gateway-fm/watchdog/internal/metrics"
	"github.com/gateway-fm/watchdog/internal/reconcile"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// HeaderReader fetches block headers by number.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number uint64) (*rpc.Header, error)
}

// DepositFlow bridges one unit of the base token from the settlement layer
// every cycle and follows the priority operation through to its execution.
// Submission is gated on the settlement gas price: above the configured
// ceiling the cycle is skipped, not failed.
type DepositFlow struct {
	sender    *Sender // settlement-layer sender
	headers   HeaderReader
	estimator L2Estimator
	recon     *reconcile.DepositReconciler
	rec       *metrics.Recorder
	bridgehub common.Address
	l2ChainID *big.Int
	cfg       Config
	log       *slog.Logger
}

// NewDepositFlow creates the deposit flow.
func NewDepositFlow(sender *Sender, headers HeaderReader, estimator L2Estimator, recon *reconcile.DepositReconciler, rec *metrics.Recorder, bridgehub common.Address, l2ChainID *big.Int, cfg Config) *DepositFlow {
	return &DepositFlow{
		sender:    sender,
		headers:   headers,
		estimator: estimator,
		recon:     recon,
		rec:       rec,
		bridgehub: bridgehub,
		l2ChainID: l2ChainID,
		cfg:       cfg,
		log:       cfg.logger().With("flow", rec.Flow()),
	}
}

// Name implements watchdog.Flow.
func (f *DepositFlow) Name() string {
	return f.rec.Flow()
}

// RunOnce implements watchdog.Flow.
func (f *DepositFlow) RunOnce(ctx context.Context) (watchdog.Status, error) {
	if err := f.rec.Start(); err != nil {
		return watchdog.StatusFail, err
	}
	st, err := f.runWith(ctx, f.rec)
	return seal(f.rec, st, err)
}

// runWith executes one deposit attempt against rec. The deposit-user flow
// reuses it under its own recorder.
func (f *DepositFlow) runWith(ctx context.Context, rec *metrics.Recorder) (watchdog.Status, error) {
	self := f.sender.Wallet.Address

	gasPrice, err := metrics.StepExec(ctx, rec, "gas_price", f.cfg.StepTimeout, func(ctx context.Context) (*big.Int, error) {
		return f.sender.Chain.SuggestGasPrice(ctx)
	})
	if err != nil {
		return watchdog.StatusFail, err
	}
	if f.cfg.GasCeiling != nil && gasPrice.Cmp(f.cfg.GasCeiling) > 0 {
		f.log.Info("settlement gas price above ceiling, skipping cycle",
			"gas_price", gasPrice.String(), "ceiling", f.cfg.GasCeiling.String())
		return watchdog.StatusSkip, nil
	}

	l2GasLimit, err := metrics.StepExec(ctx, rec, "estimate_l2_gas", f.cfg.StepTimeout, func(ctx context.Context) (uint64, error) {
		return f.estimator.EstimateGasL1ToL2(ctx, rpc.CallMsg{From: self, To: &self, Value: big.NewInt(1)}, f.cfg.GasPerPubdata)
	})
	if err != nil {
		return watchdog.StatusFail, err
	}

	// Base cost is quoted against the fee cap the settlement transaction
	// will carry.
	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	baseCost, err := metrics.StepExec(ctx, rec, "base_cost", f.cfg.StepTimeout, func(ctx context.Context) (*big.Int, error) {
		ret, err := f.sender.Chain.CallContract(ctx, rpc.CallMsg{
			From: self,
			To:   &f.bridgehub,
			Data: bridge.EncodeL2TransactionBaseCost(f.l2ChainID, feeCap, new(big.Int).SetUint64(l2GasLimit), f.cfg.GasPerPubdata),
		})
		if err != nil {
			return nil, err
		}
		return bridge.DecodeUint256(ret), nil
	})
	if err != nil {
		return watchdog.StatusFail, err
	}

	// Mint value covers the execution fee plus the single unit bridged.
	mintValue := new(big.Int).Add(baseCost, big.NewInt(1))
	calldata := bridge.EncodeRequestL2TransactionDirect(bridge.DirectRequest{
		ChainID:         f.l2ChainID,
		MintValue:       mintValue,
		L2Contract:      self,
		L2Value:         big.NewInt(1),
		L2GasLimit:      new(big.Int).SetUint64(l2GasLimit),
		GasPerPubdata:   f.cfg.GasPerPubdata,
		RefundRecipient: self,
	})

	gasLimit, err := metrics.StepExec(ctx, rec, "estimate_l1_gas", f.cfg.StepTimeout, func(ctx context.Context) (uint64, error) {
		return f.sender.Chain.EstimateGas(ctx, rpc.CallMsg{From: self, To: &f.bridgehub, Value: mintValue, Data: calldata})
	})
	if err != nil {
		return watchdog.StatusFail, err
	}

	txHash, err := metrics.StepExec(ctx, rec, "send_l1", f.cfg.StepTimeout, func(ctx context.Context) (common.Hash, error) {
		return f.sender.Send(ctx, f.bridgehub, mintValue, calldata, gasLimit)
	})
	if err != nil {
		return watchdog.StatusFail, err
	}
	f.log.Info("deposit submitted", "l1_tx", txHash.Hex(), "mint_value", mintValue.String())

	l1Receipt, err := metrics.StepExecGas(ctx, rec, "wait_l1_receipt", f.cfg.StepTimeout, func(ctx context.Context) (*rpc.Receipt, *metrics.GasReport, error) {
		receipt, err := f.sender.Chain.WaitForReceipt(ctx, txHash, f.cfg.ReceiptPoll)
		return receipt, gasReport(receipt), err
	})
	if err != nil {
		return watchdog.StatusFail, err
	}

	header, err := f.headers.HeaderByNumber(ctx, l1Receipt.BlockNumber)
	if err != nil {
		return watchdog.StatusFail, err
	}
	var l1Timestamp uint64
	if header != nil {
		l1Timestamp = header.Timestamp
	}

	// The execution wait is bounded by the reconciler's own timeout, so it
	// is recorded out of band rather than under the step timer.
	started := time.Now()
	result, err := f.recon.FollowDeposit(ctx, l1Receipt, l1Timestamp)
	if err != nil {
		return watchdog.StatusFail, err
	}
	rec.ManualStep("wait_l2_execution", time.Since(started))
	if result.L2Receipt != nil {
		rec.GaugeDepositLag(float64(result.SecSinceL1))
	}

	if result.Status != watchdog.StatusOK {
		f.log.Warn("deposit did not execute successfully", "l1_tx", txHash.Hex())
		return watchdog.StatusFail, nil
	}
	f.log.Info("deposit executed", "l1_tx", txHash.Hex(), "lag_seconds", result.SecSinceL1)
	return watchdog.StatusOK, nil
}
