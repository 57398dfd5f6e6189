// Package wallet manages the watchdog's signing identity: key material,
// nonce bookkeeping and the mutex serializing flows that share the wallet.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// NonceReader fetches an account nonce at a block tag.
type NonceReader interface {
	Nonce(ctx context.Context, address common.Address, tag string) (uint64, error)
}

// Wallet holds the signing key and local nonce state. One wallet may be
// shared by several flows; callers serialize populate-and-send sequences
// through the Mutex.
type Wallet struct {
	key     *ecdsa.PrivateKey
	Address common.Address

	nonce uint64
	mu    sync.Mutex
}

// New creates a wallet from a hex-encoded private key.
func New(hexKey string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, err
	}
	return &Wallet{
		key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Nonce represents a reserved nonce that must be committed or rolled back.
// Use defer n.Rollback() immediately after reserving to ensure cleanup.
type Nonce struct {
	value     uint64
	wallet    *Wallet
	committed atomic.Bool
}

// Value returns the nonce value.
func (n *Nonce) Value() uint64 {
	return n.value
}

// Commit marks the nonce as successfully used. Idempotent.
func (n *Nonce) Commit() {
	n.committed.Store(true)
}

// Rollback returns the nonce if it was not committed. Idempotent; typically
// called via defer so a failed send does not burn the nonce.
func (n *Nonce) Rollback() {
	if n.committed.Swap(true) {
		return
	}
	n.wallet.rollback(n.value)
}

// ReserveNonce reserves the next nonce for a submission. The returned Nonce
// MUST be either committed (the transaction reached the mempool) or rolled
// back (the send failed locally).
func (w *Wallet) ReserveNonce() *Nonce {
	w.mu.Lock()
	nonce := w.nonce
	w.nonce++
	w.mu.Unlock()

	return &Nonce{value: nonce, wallet: w}
}

func (w *Wallet) rollback(nonce uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Only roll back the most recently issued nonce.
	if w.nonce == nonce+1 {
		w.nonce = nonce
	}
}

// Resync fetches the pending nonce from the chain and raises the local
// counter if it fell behind. Never lowers it: a concurrent reservation may
// already hold a higher value.
func (w *Wallet) Resync(ctx context.Context, reader NonceReader, tag string) error {
	nonce, err := reader.Nonce(ctx, w.Address, tag)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if nonce > w.nonce {
		w.nonce = nonce
	}
	w.mu.Unlock()
	return nil
}

// PeekNonce returns the current nonce without reserving it.
func (w *Wallet) PeekNonce() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nonce
}

// SignTx signs a standard transaction and returns its binary encoding.
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) ([]byte, common.Hash, error) {
	signer := types.LatestSignerForChainID(chainID)
	signed, err := types.SignTx(tx, signer, w.key)
	if err != nil {
		return nil, common.Hash{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, err
	}
	return raw, signed.Hash(), nil
}

// NewTransferTx builds a 1559 transfer-style transaction.
func NewTransferTx(chainID *big.Int, nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasTipCap, gasFeeCap *big.Int, data []byte) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
}
