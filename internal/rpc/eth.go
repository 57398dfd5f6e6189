package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block tags accepted wherever a block parameter is expected.
const (
	TagLatest    = "latest"
	TagFinalized = "finalized"
	TagPending   = "pending"
)

// Header is the subset of a block header the watchdog consumes.
type Header struct {
	Number    uint64
	Timestamp uint64
	BaseFee   *big.Int
}

// Log is a single emitted event log.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	Index       uint64
}

// Receipt is a transaction receipt, including the logs needed for
// priority-operation and withdrawal-message correlation. The L1Batch fields
// are populated only by L2 providers.
type Receipt struct {
	TxHash            common.Hash
	Status            uint64 // 1 = success, 0 = failure
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Logs              []Log

	L1BatchNumber  uint64
	L1BatchTxIndex uint64
}

// Succeeded reports whether the receipt indicates a successful execution.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}

// CallMsg describes a contract call or gas estimation request.
type CallMsg struct {
	From  common.Address
	To    *common.Address
	Value *big.Int
	Data  []byte
}

func (m CallMsg) toArg() map[string]any {
	arg := map[string]any{
		"from": m.From.Hex(),
	}
	if m.To != nil {
		arg["to"] = m.To.Hex()
	}
	if m.Value != nil {
		arg["value"] = hexutil.EncodeBig(m.Value)
	}
	if len(m.Data) > 0 {
		arg["data"] = hexutil.Encode(m.Data)
	}
	return arg
}

// LogQuery describes an eth_getLogs filter over a bounded block window.
type LogQuery struct {
	FromBlock uint64
	ToBlock   uint64
	ToTag     string // overrides ToBlock when set ("latest", "finalized")
	Address   common.Address
	Topics    [][]common.Hash // empty inner slice = wildcard position
}

func (q LogQuery) toArg() map[string]any {
	arg := map[string]any{
		"fromBlock": hexutil.EncodeUint64(q.FromBlock),
		"address":   q.Address.Hex(),
	}
	if q.ToTag != "" {
		arg["toBlock"] = q.ToTag
	} else {
		arg["toBlock"] = hexutil.EncodeUint64(q.ToBlock)
	}
	if len(q.Topics) > 0 {
		topics := make([]any, len(q.Topics))
		for i, position := range q.Topics {
			switch len(position) {
			case 0:
				topics[i] = nil
			case 1:
				topics[i] = position[0].Hex()
			default:
				alts := make([]string, len(position))
				for j, h := range position {
					alts[j] = h.Hex()
				}
				topics[i] = alts
			}
		}
		arg["topics"] = topics
	}
	return arg
}

// EthClient is the Ethereum call surface shared by both layers.
type EthClient struct {
	c Caller
}

// NewEthClient wraps a caller with the Ethereum method surface.
func NewEthClient(c Caller) *EthClient {
	return &EthClient{c: c}
}

// ChainID returns the chain identifier.
func (e *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	result, err := e.c.Call(ctx, "eth_chainId")
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "chain id")
}

// BlockNumber returns the latest block number.
func (e *EthClient) BlockNumber(ctx context.Context) (uint64, error) {
	result, err := e.c.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "block number")
}

// HeaderByTag fetches a header by tag ("latest", "finalized").
func (e *EthClient) HeaderByTag(ctx context.Context, tag string) (*Header, error) {
	return e.header(ctx, tag)
}

// HeaderByNumber fetches a header by block number.
func (e *EthClient) HeaderByNumber(ctx context.Context, number uint64) (*Header, error) {
	return e.header(ctx, hexutil.EncodeUint64(number))
}

func (e *EthClient) header(ctx context.Context, param string) (*Header, error) {
	result, err := e.c.Call(ctx, "eth_getBlockByNumber", param, false)
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}

	var raw struct {
		Number        string `json:"number"`
		Timestamp     string `json:"timestamp"`
		BaseFeePerGas string `json:"baseFeePerGas,omitempty"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}

	number, err := hexutil.DecodeUint64(raw.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to decode block number: %w", err)
	}
	timestamp, _ := hexutil.DecodeUint64(raw.Timestamp)

	h := &Header{Number: number, Timestamp: timestamp}
	if raw.BaseFeePerGas != "" {
		h.BaseFee, _ = hexutil.DecodeBig(raw.BaseFeePerGas)
	}
	return h, nil
}

// FilterLogs fetches event logs for a bounded block window.
func (e *EthClient) FilterLogs(ctx context.Context, q LogQuery) ([]Log, error) {
	result, err := e.c.Call(ctx, "eth_getLogs", q.toArg())
	if err != nil {
		return nil, err
	}

	var raws []struct {
		Address     string   `json:"address"`
		Topics      []string `json:"topics"`
		Data        string   `json:"data"`
		BlockNumber string   `json:"blockNumber"`
		TxHash      string   `json:"transactionHash"`
		LogIndex    string   `json:"logIndex"`
	}
	if err := json.Unmarshal(result, &raws); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}

	logs := make([]Log, 0, len(raws))
	for _, raw := range raws {
		log := Log{
			Address: common.HexToAddress(raw.Address),
			TxHash:  common.HexToHash(raw.TxHash),
		}
		for _, t := range raw.Topics {
			log.Topics = append(log.Topics, common.HexToHash(t))
		}
		if raw.Data != "" {
			log.Data, _ = hexutil.Decode(raw.Data)
		}
		log.BlockNumber, _ = hexutil.DecodeUint64(raw.BlockNumber)
		if raw.LogIndex != "" {
			log.Index, _ = hexutil.DecodeUint64(raw.LogIndex)
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// TransactionReceipt returns the receipt for a transaction, or nil if the
// transaction has not been included yet.
func (e *EthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*Receipt, error) {
	result, err := e.c.Call(ctx, "eth_getTransactionReceipt", txHash.Hex())
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}
	return parseReceipt(result)
}

// WaitForReceipt polls for a receipt until it appears or ctx expires.
// Callers bound it with the step timer; the poll itself is unbounded.
func (e *EthClient) WaitForReceipt(ctx context.Context, txHash common.Hash, poll time.Duration) (*Receipt, error) {
	for {
		receipt, err := e.TransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// SendRawTransaction submits a signed transaction and returns its hash.
func (e *EthClient) SendRawTransaction(ctx context.Context, rawTx []byte) (common.Hash, error) {
	result, err := e.c.Call(ctx, "eth_sendRawTransaction", hexutil.Encode(rawTx))
	if err != nil {
		return common.Hash{}, err
	}
	var hash string
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return common.HexToHash(hash), nil
}

// EstimateGas estimates gas for a call against the latest block.
func (e *EthClient) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	result, err := e.c.Call(ctx, "eth_estimateGas", msg.toArg())
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "gas estimate")
}

// CallContract executes a read-only contract call against the latest block.
func (e *EthClient) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	result, err := e.c.Call(ctx, "eth_call", msg.toArg(), TagLatest)
	if err != nil {
		return nil, err
	}
	var data string
	if err := json.Unmarshal(result, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call result: %w", err)
	}
	return hexutil.Decode(data)
}

// SuggestGasPrice returns the node's current gas price.
func (e *EthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	result, err := e.c.Call(ctx, "eth_gasPrice")
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "gas price")
}

// MaxPriorityFeePerGas returns the node's suggested priority fee.
func (e *EthClient) MaxPriorityFeePerGas(ctx context.Context) (*big.Int, error) {
	result, err := e.c.Call(ctx, "eth_maxPriorityFeePerGas")
	if err != nil {
		return nil, err
	}
	return decodeBig(result, "priority fee")
}

// Nonce returns the account nonce at the given block tag.
func (e *EthClient) Nonce(ctx context.Context, address common.Address, tag string) (uint64, error) {
	result, err := e.c.Call(ctx, "eth_getTransactionCount", address.Hex(), tag)
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "nonce")
}

func parseReceipt(data json.RawMessage) (*Receipt, error) {
	var raw struct {
		TransactionHash   string `json:"transactionHash"`
		Status            string `json:"status"`
		BlockNumber       string `json:"blockNumber"`
		GasUsed           string `json:"gasUsed"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
		L1BatchNumber     string `json:"l1BatchNumber"`
		L1BatchTxIndex    string `json:"l1BatchTxIndex"`
		Logs              []struct {
			Address     string   `json:"address"`
			Topics      []string `json:"topics"`
			Data        string   `json:"data"`
			BlockNumber string   `json:"blockNumber"`
			TxHash      string   `json:"transactionHash"`
			LogIndex    string   `json:"logIndex"`
		} `json:"logs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	receipt := &Receipt{
		TxHash: common.HexToHash(raw.TransactionHash),
	}
	receipt.Status, _ = hexutil.DecodeUint64(raw.Status)
	receipt.BlockNumber, _ = hexutil.DecodeUint64(raw.BlockNumber)
	receipt.GasUsed, _ = hexutil.DecodeUint64(raw.GasUsed)
	if raw.EffectiveGasPrice != "" {
		receipt.EffectiveGasPrice, _ = hexutil.DecodeBig(raw.EffectiveGasPrice)
	}
	// zkSync-style batch annotations; null until the tx is batched.
	if raw.L1BatchNumber != "" {
		receipt.L1BatchNumber, _ = hexutil.DecodeUint64(raw.L1BatchNumber)
	}
	if raw.L1BatchTxIndex != "" {
		receipt.L1BatchTxIndex, _ = hexutil.DecodeUint64(raw.L1BatchTxIndex)
	}

	for _, rawLog := range raw.Logs {
		log := Log{
			Address: common.HexToAddress(rawLog.Address),
			TxHash:  common.HexToHash(rawLog.TxHash),
		}
		for _, t := range rawLog.Topics {
			log.Topics = append(log.Topics, common.HexToHash(t))
		}
		if rawLog.Data != "" {
			log.Data, _ = hexutil.Decode(rawLog.Data)
		}
		log.BlockNumber, _ = hexutil.DecodeUint64(rawLog.BlockNumber)
		if rawLog.LogIndex != "" {
			log.Index, _ = hexutil.DecodeUint64(rawLog.LogIndex)
		}
		receipt.Logs = append(receipt.Logs, log)
	}

	return receipt, nil
}

func decodeUint64(result json.RawMessage, what string) (uint64, error) {
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	v, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return v, nil
}

func decodeBig(result json.RawMessage, what string) (*big.Int, error) {
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	v, err := hexutil.DecodeBig(hex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return v, nil
}
