package requestSigner

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Layr-Labs/merkle-mint-go/pkg/auth"
)

// IRequestSigner signs distributor API request bodies
type IRequestSigner interface {
	// Sign returns an EIP-191 personal signature over message
	Sign(message []byte) ([]byte, error)

	// Address returns the address signatures recover to
	Address() common.Address
}

type SignerConfig struct {
	PrivateKey string `json:"privateKey" yaml:"privateKey"`
}

func NewRequestSigner(cfg *SignerConfig) (IRequestSigner, error) {
	if cfg == nil || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}
	return NewPrivateKeySigner(cfg.PrivateKey)
}

// PrivateKeySigner signs with a local secp256k1 key
type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewPrivateKeySigner parses a hex private key, with or without 0x prefix
func NewPrivateKeySigner(hexKey string) (*PrivateKeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewPrivateKeySignerFromKey(key), nil
}

func NewPrivateKeySignerFromKey(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *PrivateKeySigner) Sign(message []byte) ([]byte, error) {
	return auth.SignMessage(message, func(hash []byte) ([]byte, error) {
		return crypto.Sign(hash, s.key)
	})
}

func (s *PrivateKeySigner) Address() common.Address {
	return s.address
}
