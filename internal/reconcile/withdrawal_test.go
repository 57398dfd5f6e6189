package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/watchdog/internal/bridge"
	"github.com/gateway-fm/watchdog/internal/rpc"
	"github.com/gateway-fm/watchdog/internal/watchdog"
)

type fakeL2History struct {
	head          uint64
	finalizedHead uint64
	logs          []rpc.Log
	receipts      map[common.Hash]*rpc.Receipt
	headers       map[uint64]*rpc.Header
	proofs        map[common.Hash]*rpc.LogProof
	lastQ         rpc.LogQuery
}

func (f *fakeL2History) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeL2History) HeaderByTag(ctx context.Context, tag string) (*rpc.Header, error) {
	if tag == rpc.TagFinalized {
		return &rpc.Header{Number: f.finalizedHead}, nil
	}
	return &rpc.Header{Number: f.head}, nil
}

func (f *fakeL2History) HeaderByNumber(ctx context.Context, number uint64) (*rpc.Header, error) {
	return f.headers[number], nil
}

func (f *fakeL2History) FilterLogs(ctx context.Context, q rpc.LogQuery) ([]rpc.Log, error) {
	f.lastQ = q
	return f.logs, nil
}

func (f *fakeL2History) TransactionReceipt(ctx context.Context, txHash common.Hash) (*rpc.Receipt, error) {
	return f.receipts[txHash], nil
}

func (f *fakeL2History) L2ToL1LogProof(ctx context.Context, txHash common.Hash, index int) (*rpc.LogProof, error) {
	return f.proofs[txHash], nil
}

func messengerPayload(payload []byte) []byte {
	data := make([]byte, 64+len(payload))
	data[31] = 32 // offset
	data[63] = byte(len(payload))
	copy(data[64:], payload)
	return data
}

func withdrawalFixture() (*fakeL2History, common.Hash) {
	txHash := common.HexToHash("0xcccc")
	message := []byte{0x6c, 0x09, 0x60, 0xf9} // claim selector prefix

	l2 := &fakeL2History{
		head:          500,
		finalizedHead: 480,
		logs: []rpc.Log{{
			Address:     bridge.L2BaseTokenAddress,
			Topics:      []common.Hash{bridge.TopicWithdrawal, bridge.AddressTopic(testSender)},
			BlockNumber: 470,
			TxHash:      txHash,
		}},
		receipts: map[common.Hash]*rpc.Receipt{
			txHash: {
				TxHash:         txHash,
				Status:         1,
				BlockNumber:    470,
				L1BatchNumber:  12,
				L1BatchTxIndex: 3,
				Logs: []rpc.Log{{
					Address: bridge.L1MessengerAddress,
					Topics: []common.Hash{
						bridge.TopicL1MessageSent,
						bridge.AddressTopic(bridge.L2BaseTokenAddress),
					},
					Data: messengerPayload(message),
				}},
			},
		},
		headers: map[uint64]*rpc.Header{470: {Number: 470, Timestamp: 9000}},
		proofs: map[common.Hash]*rpc.LogProof{
			txHash: {ID: 7, Proof: []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}},
		},
	}
	return l2, txHash
}

func newWithdrawalReconciler(l2 *fakeL2History) *WithdrawalReconciler {
	return NewWithdrawalReconciler(l2, WithdrawalReconcilerConfig{BlockRange: 100})
}

func TestLatestWithdrawalEmptyWindow(t *testing.T) {
	l2 := &fakeL2History{head: 500, finalizedHead: 480}
	r := newWithdrawalReconciler(l2)

	w, err := r.LatestWithdrawal(context.Background(), testSender, false)
	if err != nil {
		t.Fatalf("latest withdrawal: %v", err)
	}
	if w != nil {
		t.Fatalf("expected nil, got %+v", w)
	}
}

func TestLatestWithdrawalFinalizedWindow(t *testing.T) {
	l2, txHash := withdrawalFixture()
	r := newWithdrawalReconciler(l2)

	w, err := r.LatestWithdrawal(context.Background(), testSender, true)
	if err != nil {
		t.Fatalf("latest withdrawal: %v", err)
	}
	if w == nil || w.TxHash != txHash {
		t.Fatalf("withdrawal = %+v", w)
	}
	if l2.lastQ.ToBlock != 480 {
		t.Errorf("window capped at %d, want finalized head 480", l2.lastQ.ToBlock)
	}
	if l2.lastQ.FromBlock != 380 {
		t.Errorf("window starts at %d, want 380", l2.lastQ.FromBlock)
	}
	if l2.lastQ.Address != bridge.L2BaseTokenAddress {
		t.Errorf("query address = %s", l2.lastQ.Address.Hex())
	}
}

func TestWithdrawalReconcileSuccess(t *testing.T) {
	l2, _ := withdrawalFixture()
	r := newWithdrawalReconciler(l2)

	result, err := r.Reconcile(context.Background(), testSender)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !result.Known || result.Status != watchdog.StatusOK {
		t.Fatalf("result = %+v", result)
	}
	if result.L2Timestamp != 9000 {
		t.Errorf("timestamp = %d", result.L2Timestamp)
	}
}

func TestFinalizeParamsHappyPath(t *testing.T) {
	l2, txHash := withdrawalFixture()
	r := newWithdrawalReconciler(l2)

	fin, err := r.FinalizeParams(context.Background(), &Withdrawal{TxHash: txHash, BlockNumber: 470})
	if err != nil {
		t.Fatalf("finalize params: %v", err)
	}
	if fin.L1BatchNumber != 12 || fin.L2TxNumberInBatch != 3 {
		t.Errorf("batch coords = %d/%d", fin.L1BatchNumber, fin.L2TxNumberInBatch)
	}
	if fin.L2MessageIndex != 7 {
		t.Errorf("message index = %d, want proof id 7", fin.L2MessageIndex)
	}
	if len(fin.Message) != 4 {
		t.Errorf("message = %x", fin.Message)
	}
	if len(fin.Proof) != 2 {
		t.Errorf("proof length = %d", len(fin.Proof))
	}
}

func TestFinalizeParamsNotBaseToken(t *testing.T) {
	l2, txHash := withdrawalFixture()
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	l2.receipts[txHash].Logs[0].Topics[1] = bridge.AddressTopic(other)
	r := newWithdrawalReconciler(l2)

	_, err := r.FinalizeParams(context.Background(), &Withdrawal{TxHash: txHash})
	if !errors.Is(err, ErrNotBaseToken) {
		t.Fatalf("expected ErrNotBaseToken, got %v", err)
	}
}

func TestFinalizeParamsProofUnavailable(t *testing.T) {
	l2, txHash := withdrawalFixture()
	delete(l2.proofs, txHash)
	r := newWithdrawalReconciler(l2)

	_, err := r.FinalizeParams(context.Background(), &Withdrawal{TxHash: txHash})
	var ambiguous *watchdog.AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected ambiguous error, got %v", err)
	}
}
