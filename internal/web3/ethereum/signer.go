package ethereum

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"OpenMCP-Orchestrator/internal/web3"
)

// KeySigner signs transactions with an in-process ECDSA key. Intended for
// development networks; production deployments plug in their own web3.Signer.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ web3.Signer = (*KeySigner)(nil)

// NewKeySigner parses a hex encoded private key, with or without 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return NewKeySignerFromKey(key), nil
}

// NewKeySignerFromKey wraps an existing private key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the account controlled by the key.
func (s *KeySigner) Address() common.Address { return s.address }

// SignTx signs tx for the given chain.
func (s *KeySigner) SignTx(tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error) {
	return coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), s.key)
}
