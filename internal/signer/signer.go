// Package signer holds the per-wallet private keys the executor signs
// transactions with, following the teacher's pattern of keeping an
// *ecdsa.PrivateKey alongside the wallet address it derives from.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// wallet pairs a private key with the EIP-155 chain ID it signs for.
type wallet struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// KeySigner signs transactions with in-memory ECDSA keys, one per
// (chain, wallet address) pair, matching the executor.Signer contract.
type KeySigner struct {
	mu      sync.RWMutex
	wallets map[string]map[common.Address]*wallet // chain -> address -> wallet
}

// New builds an empty KeySigner; call AddWallet to register keys.
func New() *KeySigner {
	return &KeySigner{wallets: make(map[string]map[common.Address]*wallet)}
}

// AddWallet registers hexKey (with or without a 0x prefix) for chain,
// returning the address it derives to so callers can wire it into
// executor.Wallet. chainID is the numeric chain ID used for EIP-155
// replay protection.
func (s *KeySigner) AddWallet(chain string, chainID *big.Int, hexKey string) (common.Address, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return common.Address{}, fmt.Errorf("signer: parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.wallets[chain] == nil {
		s.wallets[chain] = make(map[common.Address]*wallet)
	}
	s.wallets[chain][address] = &wallet{key: key, chainID: chainID}
	return address, nil
}

// SignTx signs tx for the given chain/wallet using EIP-155 replay
// protection for the wallet's registered chain ID.
func (s *KeySigner) SignTx(ctx context.Context, chain, walletAddr string, tx *types.Transaction) (*types.Transaction, error) {
	s.mu.RLock()
	w, ok := s.wallets[chain][common.HexToAddress(walletAddr)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("signer: no key registered for chain %s wallet %s", chain, walletAddr)
	}

	signed, err := types.SignTx(tx, types.NewEIP155Signer(w.chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("signer: sign tx: %w", err)
	}
	return signed, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
