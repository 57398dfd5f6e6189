package wallet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Eip712TxType is the raw transaction type byte of an L2 typed transaction.
const Eip712TxType = 0x71

// PaymasterParams names the sponsoring paymaster and its encoded input.
type PaymasterParams struct {
	Paymaster common.Address
	Input     []byte
}

// Eip712Tx is an L2 typed (0x71) transaction. It is only used when a
// paymaster sponsors the fees; plain flows submit standard 1559
// transactions.
type Eip712Tx struct {
	ChainID       *big.Int
	Nonce         uint64
	GasTipCap     *big.Int
	GasFeeCap     *big.Int
	Gas           uint64
	To            common.Address
	Value         *big.Int
	Data          []byte
	GasPerPubdata *big.Int
	Paymaster     *PaymasterParams
}

var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId)"))
	eip712DomainName     = crypto.Keccak256Hash([]byte("zkSync"))
	eip712DomainVersion  = crypto.Keccak256Hash([]byte("2"))
	eip712TxTypeHash     = crypto.Keccak256Hash([]byte("Transaction(uint256 txType,uint256 from,uint256 to,uint256 gasLimit,uint256 gasPerPubdataByteLimit,uint256 maxFeePerGas,uint256 maxPriorityFeePerGas,uint256 paymaster,uint256 nonce,uint256 value,bytes data,bytes32[] factoryDeps,bytes paymasterInput)"))
)

// TypedHash computes the EIP-712 digest the key signs.
func (tx *Eip712Tx) TypedHash(from common.Address) common.Hash {
	domain := crypto.Keccak256(
		eip712DomainTypeHash.Bytes(),
		eip712DomainName.Bytes(),
		eip712DomainVersion.Bytes(),
		common.BigToHash(tx.ChainID).Bytes(),
	)

	var paymaster common.Address
	var paymasterInput []byte
	if tx.Paymaster != nil {
		paymaster = tx.Paymaster.Paymaster
		paymasterInput = tx.Paymaster.Input
	}

	structHash := crypto.Keccak256(
		eip712TxTypeHash.Bytes(),
		u256(big.NewInt(Eip712TxType)),
		addrU256(from),
		addrU256(tx.To),
		u256(new(big.Int).SetUint64(tx.Gas)),
		u256(tx.GasPerPubdata),
		u256(tx.GasFeeCap),
		u256(tx.GasTipCap),
		addrU256(paymaster),
		u256(new(big.Int).SetUint64(tx.Nonce)),
		u256(tx.Value),
		crypto.Keccak256(tx.Data),
		crypto.Keccak256(), // factory deps are always empty here
		crypto.Keccak256(paymasterInput),
	)

	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain, structHash)
}

type paymasterRLP struct {
	Paymaster common.Address
	Input     []byte
}

// Raw wire layout of a signed 0x71 transaction. The three slots after Data
// are the legacy v/r/s positions: chainID plus two empty strings when a
// custom signature is attached.
type eip712TxRLP struct {
	Nonce         uint64
	GasTipCap     *big.Int
	GasFeeCap     *big.Int
	Gas           uint64
	To            common.Address
	Value         *big.Int
	Data          []byte
	ChainIDSigV   *big.Int
	EmptySigR     []byte
	EmptySigS     []byte
	ChainID       *big.Int
	From          common.Address
	GasPerPubdata *big.Int
	FactoryDeps   [][]byte
	Signature     []byte
	Paymaster     paymasterRLP
}

// SignEIP712 signs tx with the wallet key and returns the raw 0x71 payload
// for eth_sendRawTransaction.
func (w *Wallet) SignEIP712(tx *Eip712Tx) ([]byte, error) {
	digest := tx.TypedHash(w.Address)
	sig, err := crypto.Sign(digest.Bytes(), w.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27

	var pm paymasterRLP
	if tx.Paymaster != nil {
		pm = paymasterRLP{Paymaster: tx.Paymaster.Paymaster, Input: tx.Paymaster.Input}
	}

	fields := eip712TxRLP{
		Nonce:         tx.Nonce,
		GasTipCap:     tx.GasTipCap,
		GasFeeCap:     tx.GasFeeCap,
		Gas:           tx.Gas,
		To:            tx.To,
		Value:         tx.Value,
		Data:          tx.Data,
		ChainIDSigV:   tx.ChainID,
		ChainID:       tx.ChainID,
		From:          w.Address,
		GasPerPubdata: tx.GasPerPubdata,
		FactoryDeps:   [][]byte{},
		Signature:     sig,
		Paymaster:     pm,
	}

	encoded, err := rlp.EncodeToBytes(&fields)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, 0, len(encoded)+1)
	raw = append(raw, Eip712TxType)
	raw = append(raw, encoded...)
	return raw, nil
}

func u256(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return common.BigToHash(v).Bytes()
}

func addrU256(addr common.Address) []byte {
	var h common.Hash
	copy(h[12:], addr.Bytes())
	return h.Bytes()
}
