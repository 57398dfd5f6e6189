package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// L2Client extends the Ethereum surface with the execution layer's zks_*
// namespace: bridgehub discovery, L1→L2 gas estimation and L2→L1 log proofs.
type L2Client struct {
	*EthClient
	c Caller
}

// NewL2Client wraps a caller with the L2 method surface.
func NewL2Client(c Caller) *L2Client {
	return &L2Client{EthClient: NewEthClient(c), c: c}
}

// BridgehubContract returns the L1 bridgehub address the chain settles
// through. Resolved once at startup.
func (l *L2Client) BridgehubContract(ctx context.Context) (common.Address, error) {
	result, err := l.c.Call(ctx, "zks_getBridgehubContract")
	if err != nil {
		return common.Address{}, err
	}
	var addr string
	if err := json.Unmarshal(result, &addr); err != nil {
		return common.Address{}, fmt.Errorf("failed to unmarshal bridgehub address: %w", err)
	}
	return common.HexToAddress(addr), nil
}

// BridgeContracts holds the L1/L2 bridge addresses reported by the node.
type BridgeContracts struct {
	L1SharedBridge common.Address
	L2SharedBridge common.Address
}

// GetBridgeContracts returns the default bridge addresses. The L1 shared
// bridge is the target of withdrawal finalization.
func (l *L2Client) GetBridgeContracts(ctx context.Context) (*BridgeContracts, error) {
	result, err := l.c.Call(ctx, "zks_getBridgeContracts")
	if err != nil {
		return nil, err
	}
	var raw struct {
		L1SharedDefaultBridge string `json:"l1SharedDefaultBridge"`
		L2SharedDefaultBridge string `json:"l2SharedDefaultBridge"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bridge contracts: %w", err)
	}
	return &BridgeContracts{
		L1SharedBridge: common.HexToAddress(raw.L1SharedDefaultBridge),
		L2SharedBridge: common.HexToAddress(raw.L2SharedDefaultBridge),
	}, nil
}

// EstimateGasL1ToL2 estimates the L2 gas limit for an L1-initiated
// transaction (priority operation).
func (l *L2Client) EstimateGasL1ToL2(ctx context.Context, msg CallMsg, gasPerPubdata *big.Int) (uint64, error) {
	arg := msg.toArg()
	arg["eip712Meta"] = map[string]any{
		"gasPerPubdata": hexutil.EncodeBig(gasPerPubdata),
	}
	result, err := l.c.Call(ctx, "zks_estimateGasL1ToL2", arg)
	if err != nil {
		return 0, err
	}
	return decodeUint64(result, "l1-to-l2 gas estimate")
}

// LogProof is the Merkle inclusion proof of an L2→L1 log, consumed by the
// L1 finalization call.
type LogProof struct {
	ID    uint32
	Proof []common.Hash
	Root  common.Hash
}

// L2ToL1LogProof returns the inclusion proof for the index-th L2→L1 message
// emitted by the given transaction, or nil when the batch holding it has
// not been proven on L1 yet.
func (l *L2Client) L2ToL1LogProof(ctx context.Context, txHash common.Hash, index int) (*LogProof, error) {
	result, err := l.c.Call(ctx, "zks_getL2ToL1LogProof", txHash.Hex(), index)
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}

	var raw struct {
		ID    uint32   `json:"id"`
		Proof []string `json:"proof"`
		Root  string   `json:"root"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal log proof: %w", err)
	}

	proof := &LogProof{ID: raw.ID, Root: common.HexToHash(raw.Root)}
	for _, p := range raw.Proof {
		proof.Proof = append(proof.Proof, common.HexToHash(p))
	}
	return proof, nil
}
