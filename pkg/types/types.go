package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// TokenID identifies a token kind on the multi-token value ledger
type TokenID uint64

// DefaultTokenID is the single token kind issued by a distribution
const DefaultTokenID TokenID = 1

// AllocationEntry is one (address, amount) pair handed to the tree builder.
// Amount is a base-10 unsigned integer so values above 2^64 survive JSON.
type AllocationEntry struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// ClaimInfo is the per-address claim descriptor stored in a snapshot
type ClaimInfo struct {
	Index  uint64   `json:"index"`
	Amount string   `json:"amount"`
	Proof  []string `json:"proof"`
}

// DistributionSnapshot is the immutable artifact emitted by the tree builder.
// Claims is keyed by EIP-55 checksummed address.
type DistributionSnapshot struct {
	MerkleRoot string                `json:"merkleRoot"`
	TokenTotal string                `json:"tokenTotal"`
	Claims     map[string]*ClaimInfo `json:"claims"`
}

// Root parses the snapshot's merkle root
func (s *DistributionSnapshot) Root() (common.Hash, error) {
	return ParseHash(s.MerkleRoot)
}

// ClaimFor returns the claim descriptor for an address regardless of the hex casing the
// caller used. Returns nil if the address has no allocation.
func (s *DistributionSnapshot) ClaimFor(addr common.Address) *ClaimInfo {
	if s == nil || s.Claims == nil {
		return nil
	}
	return s.Claims[addr.Hex()]
}

// AmountInt parses the claim amount
func (c *ClaimInfo) AmountInt() (*uint256.Int, error) {
	return ParseAmount(c.Amount)
}

// ProofHashes parses the claim proof
func (c *ClaimInfo) ProofHashes() ([]common.Hash, error) {
	return ParseHashes(c.Proof)
}

// ParseHash decodes a 0x-prefixed 32-byte hex string
func ParseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q: expected %d bytes, got %d", s, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// ParseHashes decodes a list of hex hashes, preserving order
func ParseHashes(items []string) ([]common.Hash, error) {
	hashes := make([]common.Hash, 0, len(items))
	for i, item := range items {
		h, err := ParseHash(item)
		if err != nil {
			return nil, fmt.Errorf("proof element %d: %w", i, err)
		}
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// HashesToHex encodes hashes as 0x-prefixed lowercase hex strings
func HashesToHex(hashes []common.Hash) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = h.Hex()
	}
	return out
}

// ParseAmount decodes a base-10 unsigned 256-bit integer
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}
