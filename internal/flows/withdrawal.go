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

// WithdrawalFlow burns one unit of the base token on the execution layer
// every cycle, starting a withdrawal towards the settlement layer. It does
// not wait for finalization; the finalize flow picks withdrawals up once
// their batch is proven.
type WithdrawalFlow struct {
	sender *Sender // execution-layer sender
	rec    *metrics.Recorder
	cfg    Config
	log    *slog.Logger
}

// NewWithdrawalFlow creates the withdrawal flow.
func NewWithdrawalFlow(sender *Sender, rec *metrics.Recorder, cfg Config) *WithdrawalFlow {
	return &WithdrawalFlow{sender: sender, rec: rec, cfg: cfg, log: cfg.logger().With("flow", rec.Flow())}
}

// Name implements watchdog.Flow.
func (f *WithdrawalFlow) Name() string {
	return f.rec.Flow()
}

// RunOnce implements watchdog.Flow.
func (f *WithdrawalFlow) RunOnce(ctx context.Context) (watchdog.Status, error) {
	if err := f.rec.Start(); err != nil {
		return watchdog.StatusFail, err
	}
	st, err := f.run(ctx)
	return seal(f.rec, st, err)
}

func (f *WithdrawalFlow) run(ctx context.Context) (watchdog.Status, error) {
	self := f.sender.Wallet.Address
	calldata := bridge.EncodeWithdraw(self)

	// With a paymaster the withdrawal itself carries no value; the point is
	// exercising the withdrawal path, not moving funds.
	value := big.NewInt(1)
	if f.cfg.Paymaster != nil {
		value = big.NewInt(0)
	}

	gasLimit, err := metrics.StepExec(ctx, f.rec, "estimate_gas", f.cfg.StepTimeout, func(ctx context.Context) (uint64, error) {
		return f.sender.Chain.EstimateGas(ctx, rpc.CallMsg{
			From:  self,
			To:    &bridge.L2BaseTokenAddress,
			Value: value,
			Data:  calldata,
		})
	})
	if err != nil {
		return watchdog.StatusFail, err
	}

	var send func(context.Context) (common.Hash, error)
	if f.cfg.Paymaster != nil {
		paymaster := wallet.PaymasterParams{Paymaster: *f.cfg.Paymaster, Input: bridge.PaymasterGeneralInput()}
		send = func(ctx context.Context) (common.Hash, error) {
			return f.sender.SendSponsored(ctx, bridge.L2BaseTokenAddress, value, calldata, gasLimit, paymaster, f.cfg.GasPerPubdata)
		}
	} else {
		send = func(ctx context.Context) (common.Hash, error) {
			return f.sender.Send(ctx, bridge.L2BaseTokenAddress, value, calldata, gasLimit)
		}
	}

	txHash, err := metrics.StepExec(ctx, f.rec, "send", f.cfg.StepTimeout, send)
	if err != nil {
		return watchdog.StatusFail, err
	}
	f.log.Info("withdrawal submitted", "tx", txHash.Hex())

	receipt, err := metrics.StepExecGas(ctx, f.rec, "wait_receipt", f.cfg.StepTimeout, func(ctx context.Context) (*rpc.Receipt, *metrics.GasReport, error) {
		receipt, err := f.sender.Chain.WaitForReceipt(ctx, txHash, f.cfg.ReceiptPoll)
		return receipt, gasReport(receipt), err
	})
	if err != nil {
		return watchdog.StatusFail, err
	}
	if !receipt.Succeeded() {
		f.log.Warn("withdrawal reverted", "tx", txHash.Hex())
		return watchdog.StatusFail, nil
	}
	return watchdog.StatusOK, nil
}
