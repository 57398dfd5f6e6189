// Package flows implements the monitoring flows: periodic minimal-value
// transactions on both layers plus the passive reconciliation flows that
// report on bridge traffic. Each flow is one RunOnce attempt; the scheduler
// in internal/watchdog drives retries and cycles.
package flows

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/watchdog/internal/metrics"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/wallet"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// ChainSubmitter is the transaction surface a flow needs on one layer.
type ChainSubmitter interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg rpc.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg rpc.CallMsg) ([]byte, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash, poll time.Duration) (*rpc.Receipt, error)
	Nonce(ctx context.Context, address common.Address, tag string) (uint64, error)
}

// L2Estimator adds the execution layer's L1→L2 gas estimation.
type L2Estimator interface {
	EstimateGasL1ToL2(ctx context.Context, msg rpc.CallMsg, gasPerPubdata *big.Int) (uint64, error)
}

// Config carries the knobs shared by all flows.
type Config struct {
	StepTimeout   time.Duration
	ReceiptPoll   time.Duration
	GasCeiling    *big.Int // wei; settlement-layer admission control
	GasPerPubdata *big.Int
	TriggerWindow time.Duration
	Paymaster     *common.Address
	Logger        *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Sender signs and submits transactions from the shared wallet. The
// populate-and-send sequence runs under the wallet mutex so flows sharing
// the wallet never race on nonce assignment.
type Sender struct {
	Wallet  *wallet.Wallet
	Mutex   *wallet.Mutex
	Chain   ChainSubmitter
	ChainID *big.Int
}

// fees returns (tip, feeCap) for a new submission. The fee cap leaves
// headroom of one full base-fee doubling.
func (s *Sender) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	gasPrice, err := s.Chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, err
	}
	tip, err := s.Chain.MaxPriorityFeePerGas(ctx)
	if err != nil {
		// Not every node serves eth_maxPriorityFeePerGas; fall back to a
		// fixed 1 gwei tip.
		tip = big.NewInt(1_000_000_000)
	}
	feeCap := new(big.Int).Mul(gasPrice, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}

// Send signs and submits a standard transaction, returning its hash.
func (s *Sender) Send(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	if err := s.Mutex.Acquire(ctx); err != nil {
		return common.Hash{}, err
	}
	defer s.Mutex.Release()

	tip, feeCap, err := s.fees(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	if err := s.Wallet.Resync(ctx, s.Chain, rpc.TagPending); err != nil {
		return common.Hash{}, err
	}
	nonce := s.Wallet.ReserveNonce()
	defer nonce.Rollback()

	tx := wallet.NewTransferTx(s.ChainID, nonce.Value(), to, value, gasLimit, tip, feeCap, data)
	raw, _, err := s.Wallet.SignTx(tx, s.ChainID)
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := s.Chain.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, err
	}
	nonce.Commit()
	return hash, nil
}

// SendSponsored signs and submits a typed transaction whose fees the
// paymaster covers.
func (s *Sender) SendSponsored(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64, paymaster wallet.PaymasterParams, gasPerPubdata *big.Int) (common.Hash, error) {
	if err := s.Mutex.Acquire(ctx); err != nil {
		return common.Hash{}, err
	}
	defer s.Mutex.Release()

	tip, feeCap, err := s.fees(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	if err := s.Wallet.Resync(ctx, s.Chain, rpc.TagPending); err != nil {
		return common.Hash{}, err
	}
	nonce := s.Wallet.ReserveNonce()
	defer nonce.Rollback()

	raw, err := s.Wallet.SignEIP712(&wallet.Eip712Tx{
		ChainID:       s.ChainID,
		Nonce:         nonce.Value(),
		GasTipCap:     tip,
		GasFeeCap:     feeCap,
		Gas:           gasLimit,
		To:            to,
		Value:         value,
		Data:          data,
		GasPerPubdata: gasPerPubdata,
		Paymaster:     &paymaster,
	})
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := s.Chain.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, err
	}
	nonce.Commit()
	return hash, nil
}

// gasReport converts a receipt into the recorder's gas profile.
func gasReport(receipt *rpc.Receipt) *metrics.GasReport {
	if receipt == nil {
		return nil
	}
	report := &metrics.GasReport{GasUsed: receipt.GasUsed}
	if receipt.EffectiveGasPrice != nil {
		price, _ := new(big.Float).SetInt(receipt.EffectiveGasPrice).Float64()
		report.GasPrice = price
		cost := new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
		report.GasCost, _ = new(big.Float).SetInt(cost).Float64()
	}
	return report
}

// seal closes the recorder's open run to match the attempt outcome and
// normalizes the (status, error) pair the retry driver consumes. Logic
// errors pass through untouched so they escape the retry loop.
func seal(rec *metrics.Recorder, status watchdog.Status, err error) (watchdog.Status, error) {
	if err != nil && !watchdog.IsLogicError(err) {
		status = watchdog.StatusFail
	}

	var sealErr error
	switch status {
	case watchdog.StatusOK:
		sealErr = rec.Success()
	case watchdog.StatusSkip:
		sealErr = rec.Skipped()
	default:
		sealErr = rec.Failure()
	}
	if err == nil && sealErr != nil {
		err = sealErr
	}
	return status, err
}
