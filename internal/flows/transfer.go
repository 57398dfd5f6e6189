package flows

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/watchdog/internal/bridge"
	"github.com/gateway-fm/watchdog/internal/metrics"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/wallet"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// TransferFlow sends a 1 wei self-transfer on the execution layer every
// cycle. When a paymaster is configured the transfer rides a sponsored
// typed transaction instead, which also exercises the paymaster itself.
type TransferFlow struct {
	sender *Sender
	rec    *metrics.Recorder
	cfg    Config
	log    *slog.Logger
}

// NewTransferFlow creates the transfer flow.
func NewTransferFlow(sender *Sender, rec *metrics.Recorder, cfg Config) *TransferFlow {
	return &TransferFlow{sender: sender, rec: rec, cfg: cfg, log: cfg.logger().With("flow", rec.Flow())}
}

// Name implements watchdog.Flow.
func (f *TransferFlow) Name() string {
	return f.rec.Flow()
}

// RunOnce implements watchdog.Flow.
func (f *TransferFlow) RunOnce(ctx context.Context) (watchdog.Status, error) {
	if err := f.rec.Start(); err != nil {
		return watchdog.StatusFail, err
	}
	st, err := f.run(ctx)
	return seal(f.rec, st, err)
}

func (f *TransferFlow) run(ctx context.Context) (watchdog.Status, error) {
	self := f.sender.Wallet.Address
	value := big.NewInt(1)

	gasLimit, err := metrics.StepExec(ctx, f.rec, "estimate_gas", f.cfg.StepTimeout, func(ctx context.Context) (uint64, error) {
		return f.sender.Chain.EstimateGas(ctx, rpc.CallMsg{From: self, To: &self, Value: value})
	})
	if err != nil {
		return watchdog.StatusFail, err
	}

	var send func(context.Context) (common.Hash, error)
	if f.cfg.Paymaster != nil {
		paymaster := wallet.PaymasterParams{Paymaster: *f.cfg.Paymaster, Input: bridge.PaymasterGeneralInput()}
		send = func(ctx context.Context) (common.Hash, error) {
			return f.sender.SendSponsored(ctx, self, value, nil, gasLimit, paymaster, f.cfg.GasPerPubdata)
		}
	} else {
		send = func(ctx context.Context) (common.Hash, error) {
			return f.sender.Send(ctx, self, value, nil, gasLimit)
		}
	}

	txHash, err := metrics.StepExec(ctx, f.rec, "send", f.cfg.StepTimeout, send)
	if err != nil {
		return watchdog.StatusFail, err
	}
	f.log.Info("transfer submitted", "tx", txHash.Hex())

	receipt, err := metrics.StepExecGas(ctx, f.rec, "wait_receipt", f.cfg.StepTimeout, func(ctx context.Context) (*rpc.Receipt, *metrics.GasReport, error) {
		receipt, err := f.sender.Chain.WaitForReceipt(ctx, txHash, f.cfg.ReceiptPoll)
		return receipt, gasReport(receipt), err
	})
	if err != nil {
		return watchdog.StatusFail, err
	}
	if !receipt.Succeeded() {
		f.log.Warn("transfer reverted", "tx", txHash.Hex())
		return watchdog.StatusFail, nil
	}
	return watchdog.StatusOK, nil
}
