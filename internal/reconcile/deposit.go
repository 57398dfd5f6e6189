package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/watchdog/internal/bridge"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

// DepositHistoryReader is the settlement-layer capability the deposit
// reconciler needs.
type DepositHistoryReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q rpc.LogQuery) ([]rpc.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.Receipt, error)
	HeaderByNumber(ctx context.Context, number uint64) (*rpc.Header, error)
}

// ExecutionReader is the execution-layer capability used to confirm the L2
// half of a deposit.
type ExecutionReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.Receipt, error)
	HeaderByNumber(ctx context.Context, number uint64) (*rpc.Header, error)
}

// Deposit is a deposit-initiation event found on the settlement layer.
type Deposit struct {
	L1TxHash    common.Hash
	BlockNumber uint64
	From        common.Address
}

// DepositReconcilerConfig configures a deposit reconciler.
type DepositReconcilerConfig struct {
	Bridgehub  common.Address
	L2ChainID  *big.Int
	BlockRange uint64        // max width of one eth_getLogs window
	L2Timeout  time.Duration // how long to wait for the execution receipt
	Poll       time.Duration
	Logger     *slog.Logger
}

// DepositReconciler correlates settlement-layer deposit events with their
// execution-layer replay.
type DepositReconciler struct {
	l1  DepositHistoryReader
	l2  ExecutionReader
	cfg DepositReconcilerConfig
	log *slog.Logger
}

// NewDepositReconciler creates a deposit reconciler.
func NewDepositReconciler(l1 DepositHistoryReader, l2 ExecutionReader, cfg DepositReconcilerConfig) *DepositReconciler {
	if cfg.Poll <= 0 {
		cfg.Poll = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DepositReconciler{l1: l1, l2: l2, cfg: cfg, log: logger}
}

// LatestDeposit finds the most recent deposit initiation in the bounded
// window ending at the settlement head. from narrows the search to one
// sender; nil matches deposits from any address. Returns nil when the
// window holds no matching event.
func (d *DepositReconciler) LatestDeposit(ctx context.Context, from *common.Address) (*Deposit, error) {
	head, err := d.l1.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}

	var fromBlock uint64
	if head > d.cfg.BlockRange {
		fromBlock = head - d.cfg.BlockRange
	}

	topics := [][]common.Hash{
		{bridge.TopicBridgehubDepositInitiated},
		{bridge.BigTopic(d.cfg.L2ChainID)},
	}
	if from != nil {
		topics = append(topics, nil, []common.Hash{bridge.AddressTopic(*from)})
	}

	logs, err := d.l1.FilterLogs(ctx, rpc.LogQuery{
		FromBlock: fromBlock,
		ToBlock:   head,
		Address:   d.cfg.Bridgehub,
		Topics:    topics,
	})
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, nil
	}

	// Newest wins. One deposit per address per block is assumed, so block
	// number alone is a sufficient key.
	newest := logs[0]
	for _, log := range logs[1:] {
		if log.BlockNumber > newest.BlockNumber {
			newest = log
		}
	}

	dep := &Deposit{L1TxHash: newest.TxHash, BlockNumber: newest.BlockNumber}
	if len(newest.Topics) > 3 {
		dep.From = common.BytesToAddress(newest.Topics[3][12:])
	}
	return dep, nil
}

// PriorityOpHash extracts the canonical execution-layer transaction hash of
// the priority operation recorded in a settlement receipt.
func PriorityOpHash(receipt *rpc.Receipt) (common.Hash, error) {
	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0] != bridge.TopicNewPriorityRequest {
			continue
		}
		// Non-indexed layout: txId, txHash, expirationTimestamp, ...
		if len(log.Data) < 64 {
			break
		}
		return common.BytesToHash(log.Data[32:64]), nil
	}
	return common.Hash{}, &watchdog.AmbiguousError{What: "priority request log missing from settlement receipt " + receipt.TxHash.Hex()}
}

// Reconcile resolves the most recent deposit for from (nil = any sender)
// into a Result. Failures of the chain calls surface as errors; a deposit
// whose execution never confirms within the timeout is a Known FAIL, not an
// error.
func (d *DepositReconciler) Reconcile(ctx context.Context, from *common.Address) (Result, error) {
	dep, err := d.LatestDeposit(ctx, from)
	if err != nil {
		return Unknown(), err
	}
	if dep == nil {
		return Unknown(), nil
	}

	l1Receipt, err := d.l1.TransactionReceipt(ctx, dep.L1TxHash)
	if err != nil {
		return Unknown(), err
	}
	if l1Receipt == nil {
		return Unknown(), &watchdog.AmbiguousError{What: "settlement receipt missing for logged deposit " + dep.L1TxHash.Hex()}
	}

	l1Header, err := d.l1.HeaderByNumber(ctx, l1Receipt.BlockNumber)
	if err != nil {
		return Unknown(), err
	}

	var l1Timestamp uint64
	if l1Header != nil {
		l1Timestamp = l1Header.Timestamp
	}
	return d.FollowDeposit(ctx, l1Receipt, l1Timestamp)
}

// FollowDeposit resolves the execution half of a deposit whose settlement
// receipt is already known, such as one the caller just submitted. The
// result is always Known; an execution that never confirms within the
// timeout is a FAIL.
func (d *DepositReconciler) FollowDeposit(ctx context.Context, l1Receipt *rpc.Receipt, l1Timestamp uint64) (Result, error) {
	result := Result{
		Known:       true,
		Status:      watchdog.StatusFail,
		L1Receipt:   l1Receipt,
		L1Timestamp: l1Timestamp,
	}

	if !l1Receipt.Succeeded() {
		d.log.Warn("deposit reverted on settlement layer", "l1_tx", l1Receipt.TxHash.Hex())
		return result, nil
	}

	l2Hash, err := PriorityOpHash(l1Receipt)
	if err != nil {
		return Unknown(), err
	}

	l2Receipt, l2Timestamp, err := d.awaitExecution(ctx, l2Hash)
	if err != nil {
		return Unknown(), err
	}
	if l2Receipt == nil {
		d.log.Warn("deposit never executed within timeout", "l2_tx", l2Hash.Hex())
		return result, nil
	}

	result.L2Receipt = l2Receipt
	result.L2Timestamp = l2Timestamp
	if result.L2Timestamp >= result.L1Timestamp {
		result.SecSinceL1 = result.L2Timestamp - result.L1Timestamp
	}
	if l2Receipt.Succeeded() {
		result.Status = watchdog.StatusOK
	}
	return result, nil
}

// awaitExecution polls for the execution receipt until it appears or the
// configured timeout elapses. A timeout returns (nil, 0, nil): the deposit
// is Known but its execution did not confirm.
func (d *DepositReconciler) awaitExecution(ctx context.Context, txHash common.Hash) (*rpc.Receipt, uint64, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.L2Timeout)
	defer cancel()

	for {
		receipt, err := d.l2.TransactionReceipt(waitCtx, txHash)
		if err != nil {
			if deadlineExpired(waitCtx, ctx, err) {
				return nil, 0, nil
			}
			return nil, 0, err
		}
		if receipt != nil {
			header, err := d.l2.HeaderByNumber(ctx, receipt.BlockNumber)
			if err != nil {
				return nil, 0, err
			}
			var ts uint64
			if header != nil {
				ts = header.Timestamp
			}
			return receipt, ts, nil
		}

		select {
		case <-waitCtx.Done():
			if deadlineExpired(waitCtx, ctx, waitCtx.Err()) {
				return nil, 0, nil
			}
			return nil, 0, ctx.Err()
		case <-time.After(d.cfg.Poll):
		}
	}
}

// deadlineExpired reports whether err is the local wait deadline rather
// than a cancellation of the parent context.
func deadlineExpired(waitCtx, parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil && waitCtx.Err() != nil
}
