package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/watchdog/internal/bridge"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// ErrNotBaseToken marks a withdrawal whose L2→L1 message was not emitted on
// behalf of the base-token system contract. Finalization of such a
// withdrawal goes through a different bridge path; for this watchdog it is
// fatal for the cycle.
var ErrNotBaseToken = errors.New("withdrawal message not sent by the base token contract")

// WithdrawalHistoryReader is the execution-layer capability the withdrawal
// reconciler needs.
type WithdrawalHistoryReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByTag(ctx context.Context, tag string) (*rpc.Header, error)
	HeaderByNumber(ctx context.Context, number uint64) (*rpc.Header, error)
	FilterLogs(ctx context.Context, q rpc.LogQuery) ([]rpc.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.Receipt, error)
	L2ToL1LogProof(ctx context.Context, txHash common.Hash, index int) (*rpc.LogProof, error)
}

// Withdrawal is a base-token withdrawal event found on the execution layer.
type Withdrawal struct {
	TxHash      common.Hash
	BlockNumber uint64
}

// Finalization carries everything the settlement-layer proof claim needs.
type Finalization struct {
	L1BatchNumber     uint64
	L2MessageIndex    uint64
	L2TxNumberInBatch uint64
	Message           []byte
	Proof             []common.Hash
}

// WithdrawalReconcilerConfig configures a withdrawal reconciler.
type WithdrawalReconcilerConfig struct {
	BlockRange uint64
	Logger     *slog.Logger
}

// WithdrawalReconciler finds base-token withdrawals on the execution layer
// and resolves the proof parameters of their settlement-layer finalization.
type WithdrawalReconciler struct {
	l2  WithdrawalHistoryReader
	cfg WithdrawalReconcilerConfig
	log *slog.Logger
}

// NewWithdrawalReconciler creates a withdrawal reconciler.
func NewWithdrawalReconciler(l2 WithdrawalHistoryReader, cfg WithdrawalReconcilerConfig) *WithdrawalReconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WithdrawalReconciler{l2: l2, cfg: cfg, log: logger}
}

// LatestWithdrawal finds the most recent base-token withdrawal by from
// within the bounded window. finalizedOnly caps the window at the finalized
// head so the result is provable; otherwise the latest head is used.
// Returns nil when the window holds no matching event.
func (w *WithdrawalReconciler) LatestWithdrawal(ctx context.Context, from common.Address, finalizedOnly bool) (*Withdrawal, error) {
	var head uint64
	if finalizedOnly {
		header, err := w.l2.HeaderByTag(ctx, rpc.TagFinalized)
		if err != nil {
			return nil, err
		}
		if header == nil {
			return nil, nil
		}
		head = header.Number
	} else {
		var err error
		head, err = w.l2.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
	}

	var fromBlock uint64
	if head > w.cfg.BlockRange {
		fromBlock = head - w.cfg.BlockRange
	}

	logs, err := w.l2.FilterLogs(ctx, rpc.LogQuery{
		FromBlock: fromBlock,
		ToBlock:   head,
		Address:   bridge.L2BaseTokenAddress,
		Topics: [][]common.Hash{
			{bridge.TopicWithdrawal},
			{bridge.AddressTopic(from)},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}

	newest := logs[0]
	for _, log := range logs[1:] {
		if log.BlockNumber > newest.BlockNumber {
			newest = log
		}
	}
	return &Withdrawal{TxHash: newest.TxHash, BlockNumber: newest.BlockNumber}, nil
}

// Reconcile resolves the most recent withdrawal by from into a Result
// carrying the execution receipt and its block timestamp.
func (w *WithdrawalReconciler) Reconcile(ctx context.Context, from common.Address) (Result, error) {
	withdrawal, err := w.LatestWithdrawal(ctx, from, false)
	if err != nil {
		return Unknown(), err
	}
	if withdrawal == nil {
		return Unknown(), nil
	}

	receipt, err := w.l2.TransactionReceipt(ctx, withdrawal.TxHash)
	if err != nil {
		return Unknown(), err
	}
	if receipt == nil {
		return Unknown(), &watchdog.AmbiguousError{What: "execution receipt missing for logged withdrawal " + withdrawal.TxHash.Hex()}
	}

	header, err := w.l2.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return Unknown(), err
	}

	result := Result{
		Known:     true,
		Status:    watchdog.StatusFail,
		L2Receipt: receipt,
	}
	if header != nil {
		result.L2Timestamp = header.Timestamp
	}
	if receipt.Succeeded() {
		result.Status = watchdog.StatusOK
	}
	return result, nil
}

// FinalizeParams resolves the proof parameters needed to claim withdrawal
// on the settlement layer. Returns ErrNotBaseToken when the withdrawal's
// L2→L1 message was not emitted for the base token, and an AmbiguousError
// when the proof for an otherwise valid withdrawal is not available yet.
func (w *WithdrawalReconciler) FinalizeParams(ctx context.Context, withdrawal *Withdrawal) (*Finalization, error) {
	receipt, err := w.l2.TransactionReceipt(ctx, withdrawal.TxHash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, &watchdog.AmbiguousError{What: "execution receipt missing for withdrawal " + withdrawal.TxHash.Hex()}
	}

	// The withdrawal's L2→L1 message is the messenger log whose sender is
	// the base token contract. The message index counts messenger logs in
	// transaction order.
	messageIndex := -1
	var message []byte
	seen := 0
	for _, log := range receipt.Logs {
		if log.Address != bridge.L1MessengerAddress || len(log.Topics) == 0 || log.Topics[0] != bridge.TopicL1MessageSent {
			continue
		}
		if len(log.Topics) > 1 && log.Topics[1] == bridge.AddressTopic(bridge.L2BaseTokenAddress) {
			messageIndex = seen
			message = bridge.DecodeMessengerPayload(log.Data)
			break
		}
		seen++
	}
	if messageIndex < 0 {
		return nil, ErrNotBaseToken
	}
	if message == nil {
		return nil, &watchdog.AmbiguousError{What: "malformed messenger payload in withdrawal " + withdrawal.TxHash.Hex()}
	}

	proof, err := w.l2.L2ToL1LogProof(ctx, withdrawal.TxHash, messageIndex)
	if err != nil {
		return nil, err
	}
	if proof == nil {
		return nil, &watchdog.AmbiguousError{What: "inclusion proof not available yet for withdrawal " + withdrawal.TxHash.Hex()}
	}

	return &Finalization{
		L1BatchNumber:     receipt.L1BatchNumber,
		L2MessageIndex:    uint64(proof.ID),
		L2TxNumberInBatch: receipt.L1BatchTxIndex,
		Message:           message,
		Proof:             proof.Proof,
	}, nil
}
