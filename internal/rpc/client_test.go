package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL)
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return NewHTTPClient(cfg)
}

func TestCallSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Method != "eth_blockNumber" {
			t.Errorf("unexpected method %q", req.Method)
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0x10"}`)
	})

	result, err := client.Call(context.Background(), "eth_blockNumber")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `"0x10"` {
		t.Errorf("unexpected result: %s", result)
	}
}

func TestCallRPCErrorNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"insufficient funds"}}`)
	})

	_, err := client.Call(context.Background(), "eth_sendRawTransaction", "0x00")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32000 {
		t.Errorf("unexpected code %d", rpcErr.Code)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("RPC error must not be retried, got %d calls", calls)
	}
}

func TestCallRetriesOn503(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":"0x1"}`)
	})

	_, err := client.Call(context.Background(), "eth_chainId")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestTransactionReceiptParsing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{
			"transactionHash":"0x11",
			"status":"0x1",
			"blockNumber":"0x64",
			"gasUsed":"0x5208",
			"effectiveGasPrice":"0x3b9aca00",
			"l1BatchNumber":"0x7",
			"l1BatchTxIndex":"0x2",
			"logs":[{
				"address":"0x000000000000000000000000000000000000800a",
				"topics":["0xaa","0xbb"],
				"data":"0x0001",
				"blockNumber":"0x64",
				"transactionHash":"0x11",
				"logIndex":"0x0"
			}]
		}}`)
	})

	eth := NewEthClient(client)
	receipt, err := eth.TransactionReceipt(context.Background(), [32]byte{0x11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !receipt.Succeeded() {
		t.Error("expected success receipt")
	}
	if receipt.GasUsed != 21000 {
		t.Errorf("unexpected gasUsed %d", receipt.GasUsed)
	}
	if receipt.EffectiveGasPrice.Int64() != 1000000000 {
		t.Errorf("unexpected effectiveGasPrice %s", receipt.EffectiveGasPrice)
	}
	if receipt.L1BatchNumber != 7 || receipt.L1BatchTxIndex != 2 {
		t.Errorf("unexpected batch fields %d/%d", receipt.L1BatchNumber, receipt.L1BatchTxIndex)
	}
	if len(receipt.Logs) != 1 || len(receipt.Logs[0].Topics) != 2 {
		t.Fatalf("unexpected logs %+v", receipt.Logs)
	}
}

func TestTransactionReceiptNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":null}`)
	})

	eth := NewEthClient(client)
	receipt, err := eth.TransactionReceipt(context.Background(), [32]byte{0x11})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt != nil {
		t.Errorf("expected nil receipt, got %+v", receipt)
	}
}

func TestL2ToL1LogProofNull(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":null}`)
	})

	l2 := NewL2Client(client)
	proof, err := l2.L2ToL1LogProof(context.Background(), [32]byte{0x22}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proof != nil {
		t.Errorf("expected nil proof before the batch is proven, got %+v", proof)
	}
}
