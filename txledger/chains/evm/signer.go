package evm

import (
	"crypto/ecdsa"
	"math/big"
	"os"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/chains/common"
)

// KeySigner signs with in-memory secp256k1 keys
type KeySigner struct {
	keys map[ethcommon.Address]*ecdsa.PrivateKey
}

var _ common.Signer = (*KeySigner)(nil)

// NewKeySigner parses hex private keys (with or without 0x)
func NewKeySigner(hexKeys []string) (*KeySigner, error) {
	s := &KeySigner{keys: make(map[ethcommon.Address]*ecdsa.PrivateKey, len(hexKeys))}
	for i, k := range hexKeys {
		k = strings.TrimPrefix(strings.TrimSpace(k), "0x")
		if k == "" {
			continue
		}
		key, err := crypto.HexToECDSA(k)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid signer key at position %d", i)
		}
		s.keys[crypto.PubkeyToAddress(key.PublicKey)] = key
	}
	return s, nil
}

// NewKeySignerFromEnv reads a comma separated key list from the environment
func NewKeySignerFromEnv(name string) (*KeySigner, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, errors.Errorf("%s is not set", name)
	}
	return NewKeySigner(strings.Split(raw, ","))
}

func (s *KeySigner) HasKey(address ethcommon.Address) bool {
	_, ok := s.keys[address]
	return ok
}

func (s *KeySigner) Addresses() []ethcommon.Address {
	out := make([]ethcommon.Address, 0, len(s.keys))
	for a := range s.keys {
		out = append(out, a)
	}
	return out
}

// SignTx signs tx with EIP-155 replay protection
func (s *KeySigner) SignTx(from ethcommon.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	key, ok := s.keys[from]
	if !ok {
		return nil, errors.Errorf("no key for %s", from.Hex())
	}
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}
	return signed, nil
}
