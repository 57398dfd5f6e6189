package bridge

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestEncodeL2TransactionBaseCost(t *testing.T) {
	data := EncodeL2TransactionBaseCost(big.NewInt(300), big.NewInt(2), big.NewInt(500000), big.NewInt(800))
	if len(data) != 4+4*32 {
		t.Fatalf("unexpected length %d", len(data))
	}
	if !bytes.Equal(data[:4], SelectorL2TransactionBaseCost) {
		t.Error("selector mismatch")
	}
	if got := new(big.Int).SetBytes(data[4:36]); got.Int64() != 300 {
		t.Errorf("chainId slot = %s", got)
	}
	if got := new(big.Int).SetBytes(data[100:132]); got.Int64() != 800 {
		t.Errorf("gasPerPubdata slot = %s", got)
	}
}

func TestEncodeRequestL2TransactionDirectEmptyCalldata(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data := EncodeRequestL2TransactionDirect(DirectRequest{
		ChainID:         big.NewInt(300),
		MintValue:       big.NewInt(1001),
		L2Contract:      to,
		L2Value:         big.NewInt(1),
		L2GasLimit:      big.NewInt(400000),
		GasPerPubdata:   big.NewInt(800),
		RefundRecipient: to,
	})

	// selector + tuple offset + 9 head slots + empty calldata len + empty deps len
	wantLen := 4 + 32 + 9*32 + 32 + 32
	if len(data) != wantLen {
		t.Fatalf("unexpected length %d, want %d", len(data), wantLen)
	}

	body := data[4:]
	if off := new(big.Int).SetBytes(body[0:32]); off.Int64() != 32 {
		t.Errorf("tuple offset = %s", off)
	}
	tuple := body[32:]
	if off := new(big.Int).SetBytes(tuple[128:160]); off.Int64() != 9*32 {
		t.Errorf("calldata offset = %s", off)
	}
	if off := new(big.Int).SetBytes(tuple[224:256]); off.Int64() != 9*32+32 {
		t.Errorf("factoryDeps offset = %s", off)
	}
	if got := common.BytesToAddress(tuple[256+12 : 288]); got != to {
		t.Errorf("refund recipient = %s", got.Hex())
	}
}

func TestEncodeWithdraw(t *testing.T) {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data := EncodeWithdraw(to)
	if len(data) != 36 {
		t.Fatalf("unexpected length %d", len(data))
	}
	if got := common.BytesToAddress(data[4+12:]); got != to {
		t.Errorf("receiver = %s", got.Hex())
	}
}

func TestEncodeFinalizeWithdrawal(t *testing.T) {
	message := []byte{0xde, 0xad, 0xbe, 0xef}
	proof := []common.Hash{{0x01}, {0x02}}
	data := EncodeFinalizeWithdrawal(big.NewInt(300), 42, 3, 7, message, proof)

	// selector + 6 head slots + message (len + 1 padded slot) + proof (len + 2 hashes)
	wantLen := 4 + 6*32 + 32 + 32 + 32 + 2*32
	if len(data) != wantLen {
		t.Fatalf("unexpected length %d, want %d", len(data), wantLen)
	}

	body := data[4:]
	if got := new(big.Int).SetBytes(body[32:64]); got.Int64() != 42 {
		t.Errorf("batch slot = %s", got)
	}
	if off := new(big.Int).SetBytes(body[128:160]); off.Int64() != 6*32 {
		t.Errorf("message offset = %s", off)
	}
	if msgLen := new(big.Int).SetBytes(body[192:224]); msgLen.Int64() != 4 {
		t.Errorf("message length = %s", msgLen)
	}
	if !bytes.Equal(body[224:228], message) {
		t.Error("message payload mismatch")
	}
	proofTail := body[256:]
	if n := new(big.Int).SetBytes(proofTail[0:32]); n.Int64() != 2 {
		t.Errorf("proof length = %s", n)
	}
	if proofTail[32] != 0x01 || proofTail[64] != 0x02 {
		t.Error("proof elements out of order")
	}
}

func TestPaymasterGeneralInput(t *testing.T) {
	data := PaymasterGeneralInput()
	if len(data) != 4+64 {
		t.Fatalf("unexpected length %d", len(data))
	}
	if !bytes.Equal(data[:4], SelectorPaymasterGeneral) {
		t.Error("selector mismatch")
	}
	if n := new(big.Int).SetBytes(data[36:68]); n.Sign() != 0 {
		t.Errorf("expected empty payload, length = %s", n)
	}
}

func TestDecodeMessengerPayload(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	data := make([]byte, 96)
	big.NewInt(32).FillBytes(data[0:32])
	big.NewInt(3).FillBytes(data[32:64])
	copy(data[64:], payload)

	got := DecodeMessengerPayload(data)
	if !bytes.Equal(got, payload) {
		t.Errorf("payload mismatch: %x", got)
	}

	if DecodeMessengerPayload([]byte{0x01}) != nil {
		t.Error("truncated data must decode to nil")
	}
}
