// Package bridge holds the contract surface the watchdog touches on both
// layers: bridgehub and base-token selectors, event topics and manual ABI
// packing for the handful of calls the flows issue.
package bridge

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Well-known L2 system contract addresses.
var (
	// L2BaseTokenAddress is the base-token system contract; its withdraw
	// entrypoint burns L2 funds and emits the L2→L1 withdrawal message.
	L2BaseTokenAddress = common.HexToAddress("0x000000000000000000000000000000000000800a")

	// L1MessengerAddress emits L1MessageSent for every L2→L1 message.
	L1MessengerAddress = common.HexToAddress("0x0000000000000000000000000000000000008008")
)

// Function selectors (first 4 bytes of keccak256(signature)).
var (
	// Bridgehub selectors
	SelectorL2TransactionBaseCost      = selector("l2TransactionBaseCost(uint256,uint256,uint256,uint256)")
	SelectorRequestL2TransactionDirect = selector("requestL2TransactionDirect((uint256,uint256,address,uint256,bytes,uint256,uint256,bytes[],address))")

	// L2 base token selectors
	SelectorWithdraw = selector("withdraw(address)")

	// L1 shared bridge selectors
	SelectorFinalizeWithdrawal = selector("finalizeWithdrawal(uint256,uint256,uint256,uint16,bytes,bytes32[])")

	// Paymaster selectors
	SelectorPaymasterGeneral = selector("general(bytes)")
)

// Event topics (keccak256 of the event signature).
var (
	// TopicBridgehubDepositInitiated indexes (chainId, txDataHash, from).
	TopicBridgehubDepositInitiated = topic("BridgehubDepositInitiated(uint256,bytes32,address,address,address,uint256)")

	// TopicNewPriorityRequest carries the canonical L2 transaction hash of
	// an L1-initiated operation in its data.
	TopicNewPriorityRequest = topic("NewPriorityRequest(uint256,bytes32,uint64,(uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint256[4],bytes,bytes,uint256[],bytes,bytes),bytes[])")

	// TopicWithdrawal indexes (l2Sender, l1Receiver) on the base token.
	TopicWithdrawal = topic("Withdrawal(address,address,uint256)")

	// TopicL1MessageSent indexes (sender, hash) on the L1 messenger.
	TopicL1MessageSent = topic("L1MessageSent(address,bytes32,bytes)")
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func topic(sig string) common.Hash {
	return crypto.Keccak256Hash([]byte(sig))
}

// AddressTopic left-pads an address into a 32-byte topic.
func AddressTopic(addr common.Address) common.Hash {
	var h common.Hash
	copy(h[12:], addr.Bytes())
	return h
}

// BigTopic packs a big integer into a 32-byte topic.
func BigTopic(v *big.Int) common.Hash {
	var h common.Hash
	v.FillBytes(h[:])
	return h
}

// EncodeL2TransactionBaseCost encodes the bridgehub base-cost query.
func EncodeL2TransactionBaseCost(chainID, maxFeePerGas, l2GasLimit, gasPerPubdata *big.Int) []byte {
	data := make([]byte, 4+4*32)
	copy(data[:4], SelectorL2TransactionBaseCost)
	chainID.FillBytes(data[4:36])
	maxFeePerGas.FillBytes(data[36:68])
	l2GasLimit.FillBytes(data[68:100])
	gasPerPubdata.FillBytes(data[100:132])
	return data
}

// DirectRequest is the argument of the bridgehub's direct L1→L2 request.
// Factory deps are always empty for a plain base-token deposit.
type DirectRequest struct {
	ChainID         *big.Int
	MintValue       *big.Int
	L2Contract      common.Address
	L2Value         *big.Int
	L2Calldata      []byte
	L2GasLimit      *big.Int
	GasPerPubdata   *big.Int
	RefundRecipient common.Address
}

// EncodeRequestL2TransactionDirect encodes the deposit submission call.
func EncodeRequestL2TransactionDirect(req DirectRequest) []byte {
	calldataPadded := pad32(req.L2Calldata)

	// The struct is a dynamic tuple: nine head slots, then the tails of
	// l2Calldata and factoryDeps.
	const headSlots = 9
	calldataOffset := headSlots * 32
	depsOffset := calldataOffset + 32 + len(calldataPadded)

	size := 4 + 32 + headSlots*32 + 32 + len(calldataPadded) + 32
	data := make([]byte, size)
	copy(data[:4], SelectorRequestL2TransactionDirect)

	body := data[4:]
	big.NewInt(32).FillBytes(body[0:32]) // offset to the tuple

	tuple := body[32:]
	req.ChainID.FillBytes(tuple[0:32])
	req.MintValue.FillBytes(tuple[32:64])
	copy(tuple[64+12:96], req.L2Contract.Bytes())
	req.L2Value.FillBytes(tuple[96:128])
	big.NewInt(int64(calldataOffset)).FillBytes(tuple[128:160])
	req.L2GasLimit.FillBytes(tuple[160:192])
	req.GasPerPubdata.FillBytes(tuple[192:224])
	big.NewInt(int64(depsOffset)).FillBytes(tuple[224:256])
	copy(tuple[256+12:288], req.RefundRecipient.Bytes())

	tail := tuple[288:]
	big.NewInt(int64(len(req.L2Calldata))).FillBytes(tail[0:32])
	copy(tail[32:], calldataPadded)
	// factoryDeps length slot stays zero.

	return data
}

// EncodeWithdraw encodes the base-token withdraw call; the withdrawn amount
// travels as the call value.
func EncodeWithdraw(l1Receiver common.Address) []byte {
	data := make([]byte, 4+32)
	copy(data[:4], SelectorWithdraw)
	copy(data[4+12:], l1Receiver.Bytes())
	return data
}

// EncodeFinalizeWithdrawal encodes the L1 proof-claim call used to simulate
// withdrawal finalization.
func EncodeFinalizeWithdrawal(chainID *big.Int, l1BatchNumber uint64, l2MessageIndex uint64, l2TxNumberInBatch uint64, message []byte, proof []common.Hash) []byte {
	messagePadded := pad32(message)

	const headSlots = 6
	messageOffset := headSlots * 32
	proofOffset := messageOffset + 32 + len(messagePadded)

	size := 4 + headSlots*32 + 32 + len(messagePadded) + 32 + len(proof)*32
	data := make([]byte, size)
	copy(data[:4], SelectorFinalizeWithdrawal)

	body := data[4:]
	chainID.FillBytes(body[0:32])
	new(big.Int).SetUint64(l1BatchNumber).FillBytes(body[32:64])
	new(big.Int).SetUint64(l2MessageIndex).FillBytes(body[64:96])
	new(big.Int).SetUint64(l2TxNumberInBatch).FillBytes(body[96:128])
	big.NewInt(int64(messageOffset)).FillBytes(body[128:160])
	big.NewInt(int64(proofOffset)).FillBytes(body[160:192])

	tail := body[192:]
	big.NewInt(int64(len(message))).FillBytes(tail[0:32])
	copy(tail[32:], messagePadded)

	proofTail := tail[32+len(messagePadded):]
	big.NewInt(int64(len(proof))).FillBytes(proofTail[0:32])
	for i, h := range proof {
		copy(proofTail[32+i*32:], h.Bytes())
	}

	return data
}

// PaymasterGeneralInput encodes general(bytes) with an empty payload, the
// input a general-mode paymaster expects.
func PaymasterGeneralInput() []byte {
	data := make([]byte, 4+64)
	copy(data[:4], SelectorPaymasterGeneral)
	big.NewInt(32).FillBytes(data[4:36])
	// empty bytes: length slot stays zero
	return data
}

// DecodeUint256 reads a single uint256 return value.
func DecodeUint256(ret []byte) *big.Int {
	return new(big.Int).SetBytes(ret)
}

// DecodeMessengerPayload unpacks the bytes argument of an L1MessageSent log
// (a single dynamic field: offset, length, payload).
func DecodeMessengerPayload(data []byte) []byte {
	if len(data) < 64 {
		return nil
	}
	length := new(big.Int).SetBytes(data[32:64]).Int64()
	if int64(len(data)) < 64+length {
		return nil
	}
	return data[64 : 64+length]
}

func pad32(b []byte) []byte {
	if len(b)%32 == 0 {
		return b
	}
	padded := make([]byte, (len(b)/32+1)*32)
	copy(padded, b)
	return padded
}
