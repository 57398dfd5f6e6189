package reconcile

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/watchdog/internal/bridge"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

var (
	testBridgehub = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSender    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testL2ChainID = big.NewInt(300)
)

type fakeL1 struct {
	head     uint64
	logs     []rpc.Log
	receipts map[common.Hash]*rpc.Receipt
	headers  map[uint64]*rpc.Header
	lastQ    rpc.LogQuery
}

func (f *fakeL1) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeL1) FilterLogs(ctx context.Context, q rpc.LogQuery) ([]rpc.Log, error) {
	f.lastQ = q
	return f.logs, nil
}

func (f *fakeL1) TransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.Receipt, error) {
	return f.receipts[txHash], nil
}

func (f *fakeL1) HeaderByNumber(ctx context.Context, number uint64) (*rpc.Header, error) {
	return f.headers[number], nil
}

type fakeL2 struct {
	receipts map[common.Hash]*rpc.Receipt
	headers  map[uint64]*rpc.Header
}

func (f *fakeL2) TransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.Receipt, error) {
	return f.receipts[txHash], nil
}

func (f *fakeL2) HeaderByNumber(ctx context.Context, number uint64) (*rpc.Header, error) {
	return f.headers[number], nil
}

func priorityRequestLog(l2Hash common.Hash) rpc.Log {
	data := make([]byte, 96)
	copy(data[32:64], l2Hash.Bytes())
	return rpc.Log{Topics: []common.Hash{bridge.TopicNewPriorityRequest}, Data: data}
}

func depositFixture(l1Time, l2Time uint64, l2Status uint64) (*fakeL1, *fakeL2) {
	l1Hash := common.HexToHash("0xaaaa")
	l2Hash := common.HexToHash("0xbbbb")

	l1 := &fakeL1{
		head: 1000,
		logs: []rpc.Log{{
			Address:     testBridgehub,
			Topics:      []common.Hash{bridge.TopicBridgehubDepositInitiated, bridge.BigTopic(testL2ChainID), {}, bridge.AddressTopic(testSender)},
			BlockNumber: 990,
			TxHash:      l1Hash,
		}},
		receipts: map[common.Hash]*rpc.Receipt{
			l1Hash: {
				TxHash:      l1Hash,
				Status:      1,
				BlockNumber: 990,
				Logs:        []rpc.Log{priorityRequestLog(l2Hash)},
			},
		},
		headers: map[uint64]*rpc.Header{990: {Number: 990, Timestamp: l1Time}},
	}

	l2 := &fakeL2{
		receipts: map[common.Hash]*rpc.Receipt{
			l2Hash: {TxHash: l2Hash, Status: l2Status, BlockNumber: 55},
		},
		headers: map[uint64]*rpc.Header{55: {Number: 55, Timestamp: l2Time}},
	}
	return l1, l2
}

func newDepositReconciler(l1 *fakeL1, l2 *fakeL2) *DepositReconciler {
	return NewDepositReconciler(l1, l2, DepositReconcilerConfig{
		Bridgehub:  testBridgehub,
		L2ChainID:  testL2ChainID,
		BlockRange: 100,
		L2Timeout:  100 * time.Millisecond,
		Poll:       5 * time.Millisecond,
	})
}

func TestDepositReconcileEmptyWindowIsUnknown(t *testing.T) {
	l1 := &fakeL1{head: 1000}
	r := newDepositReconciler(l1, &fakeL2{})

	result, err := r.Reconcile(context.Background(), &testSender)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Known {
		t.Errorf("empty window produced a known result: %+v", result)
	}
	if result.L1Timestamp != 0 {
		t.Errorf("unknown result carries timestamp %d", result.L1Timestamp)
	}
}

func TestDepositReconcileWindowBounds(t *testing.T) {
	l1 := &fakeL1{head: 1000}
	r := newDepositReconciler(l1, &fakeL2{})

	if _, err := r.Reconcile(context.Background(), &testSender); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if l1.lastQ.FromBlock != 900 || l1.lastQ.ToBlock != 1000 {
		t.Errorf("window = [%d, %d], want [900, 1000]", l1.lastQ.FromBlock, l1.lastQ.ToBlock)
	}
	if l1.lastQ.Address != testBridgehub {
		t.Errorf("query address = %s", l1.lastQ.Address.Hex())
	}
	if len(l1.lastQ.Topics) != 4 {
		t.Fatalf("topic positions = %d, want 4", len(l1.lastQ.Topics))
	}
	if l1.lastQ.Topics[3][0] != bridge.AddressTopic(testSender) {
		t.Errorf("sender topic = %s", l1.lastQ.Topics[3][0].Hex())
	}
}

func TestDepositReconcileSuccessComputesLag(t *testing.T) {
	l1, l2 := depositFixture(100, 105, 1)
	r := newDepositReconciler(l1, l2)

	result, err := r.Reconcile(context.Background(), &testSender)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Known || result.Status != watchdog.StatusOK {
		t.Fatalf("result = %+v", result)
	}
	if result.SecSinceL1 != 5 {
		t.Errorf("lag = %d, want 5", result.SecSinceL1)
	}
}

func TestDepositReconcileExecutionRevertIsKnownFail(t *testing.T) {
	l1, l2 := depositFixture(100, 105, 0)
	r := newDepositReconciler(l1, l2)

	result, err := r.Reconcile(context.Background(), &testSender)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Known || result.Status != watchdog.StatusFail {
		t.Fatalf("result = %+v", result)
	}
	if result.L1Timestamp != 100 {
		t.Errorf("l1 timestamp = %d", result.L1Timestamp)
	}
}

func TestDepositReconcileExecutionTimeoutIsKnownFail(t *testing.T) {
	l1, _ := depositFixture(100, 0, 1)
	r := newDepositReconciler(l1, &fakeL2{}) // receipt never appears

	result, err := r.Reconcile(context.Background(), &testSender)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Known || result.Status != watchdog.StatusFail {
		t.Fatalf("result = %+v", result)
	}
	if result.L2Receipt != nil {
		t.Error("timed-out execution produced a receipt")
	}
	if result.L1Timestamp != 100 {
		t.Errorf("l1 timestamp = %d, want 100", result.L1Timestamp)
	}
}

func TestDepositReconcileNewestEventWins(t *testing.T) {
	l1, l2 := depositFixture(100, 105, 1)
	stale := rpc.Log{
		Address:     testBridgehub,
		Topics:      l1.logs[0].Topics,
		BlockNumber: 950,
		TxHash:      common.HexToHash("0xdead"),
	}
	l1.logs = append([]rpc.Log{stale}, l1.logs...)
	r := newDepositReconciler(l1, l2)

	result, err := r.Reconcile(context.Background(), &testSender)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Known || result.L1Receipt.BlockNumber != 990 {
		t.Fatalf("stale event selected: %+v", result)
	}
}

func TestDepositReconcileMissingPriorityLogIsAmbiguous(t *testing.T) {
	l1, l2 := depositFixture(100, 105, 1)
	l1.receipts[common.HexToHash("0xaaaa")].Logs = nil
	r := newDepositReconciler(l1, l2)

	_, err := r.Reconcile(context.Background(), &testSender)
	var ambiguous *watchdog.AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected ambiguous error, got %v", err)
	}
}

func TestLatestDepositAnySender(t *testing.T) {
	l1, _ := depositFixture(100, 105, 1)
	r := newDepositReconciler(l1, &fakeL2{})

	dep, err := r.LatestDeposit(context.Background(), nil)
	if err != nil {
		t.Fatalf("latest deposit: %v", err)
	}
	if dep == nil || dep.From != testSender {
		t.Fatalf("deposit = %+v", dep)
	}
	// With no sender filter, the query must not pin the sender topic.
	if len(l1.lastQ.Topics) != 2 {
		t.Errorf("topic positions = %d, want 2", len(l1.lastQ.Topics))
	}
}
