package merkle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// Build validates the allocation entries and produces a distribution snapshot.
//
// Addresses are normalized to their EIP-55 checksum spelling and sorted ascending by
// that string; an entry's index is its position in this order, so the input order has
// no effect on the root or on any proof.
func Build(entries []types.AllocationEntry) (*types.DistributionSnapshot, error) {
	allocations, err := Allocations(entries)
	if err != nil {
		return nil, err
	}

	total := new(uint256.Int)
	for _, a := range allocations {
		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, a.Amount)
		if overflow {
			return nil, ErrOverflow
		}
	}

	leaves := make([]common.Hash, len(allocations))
	for i, a := range allocations {
		leaves[i] = HashLeaf(a.Index, a.Account, a.Amount)
	}

	tree, err := NewTree(leaves)
	if err != nil {
		return nil, err
	}

	claims := make(map[string]*types.ClaimInfo, len(allocations))
	for i, a := range allocations {
		proof, err := tree.Proof(leaves[i])
		if err != nil {
			return nil, fmt.Errorf("failed to generate proof for %s: %w", a.Account.Hex(), err)
		}
		claims[a.Account.Hex()] = &types.ClaimInfo{
			Index:  a.Index,
			Amount: a.Amount.Dec(),
			Proof:  types.HashesToHex(proof),
		}
	}

	return &types.DistributionSnapshot{
		MerkleRoot: tree.Root().Hex(),
		TokenTotal: total.Dec(),
		Claims:     claims,
	}, nil
}

// Allocations validates and normalizes entries and returns them in index order.
func Allocations(entries []types.AllocationEntry) ([]Allocation, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyAllocation
	}

	byAddress := make(map[string]Allocation, len(entries))
	for _, entry := range entries {
		account, err := NormalizeAddress(entry.Address)
		if err != nil {
			return nil, err
		}
		amount, err := types.ParseAmount(entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidAmount, account.Hex(), err)
		}

		key := account.Hex()
		if _, exists := byAddress[key]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAddress, key)
		}
		byAddress[key] = Allocation{Account: account, Amount: amount}
	}

	keys := make([]string, 0, len(byAddress))
	for k := range byAddress {
		keys = append(keys, k)
	}
	// Checksummed strings compare case-sensitively, like Object.keys(...).sort()
	sort.Strings(keys)

	allocations := make([]Allocation, len(keys))
	for i, k := range keys {
		a := byAddress[k]
		a.Index = uint64(i)
		allocations[i] = a
	}
	return allocations, nil
}

// NormalizeAddress parses a hex account identifier. All-lowercase and all-uppercase
// spellings are accepted as is; mixed case must carry a valid EIP-55 checksum.
func NormalizeAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)

	digits := s
	if len(digits) >= 2 && digits[0] == '0' && (digits[1] == 'x' || digits[1] == 'X') {
		digits = digits[2:]
	}
	if digits != strings.ToLower(digits) && digits != strings.ToUpper(digits) {
		if "0x"+digits != addr.Hex() {
			return common.Address{}, fmt.Errorf("%w: bad checksum %q", ErrInvalidAddress, s)
		}
	}
	return addr, nil
}

// VerifySnapshot re-derives every leaf of a snapshot and checks that its proof reaches
// the published root, that indices are unique and that tokenTotal matches the claims.
func VerifySnapshot(snapshot *types.DistributionSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: nil snapshot", ErrSnapshotMismatch)
	}
	root, err := snapshot.Root()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotMismatch, err)
	}

	seen := make(map[uint64]string, len(snapshot.Claims))
	total := new(uint256.Int)
	for key, claim := range snapshot.Claims {
		if claim == nil {
			return fmt.Errorf("%w: empty claim for %s", ErrSnapshotMismatch, key)
		}
		account, err := NormalizeAddress(key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSnapshotMismatch, err)
		}
		if other, dup := seen[claim.Index]; dup {
			return fmt.Errorf("%w: index %d used by %s and %s", ErrSnapshotMismatch, claim.Index, other, key)
		}
		seen[claim.Index] = key

		amount, err := claim.AmountInt()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSnapshotMismatch, err)
		}
		proof, err := claim.ProofHashes()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSnapshotMismatch, key, err)
		}
		if !VerifyProof(root, HashLeaf(claim.Index, account, amount), proof) {
			return fmt.Errorf("%w: proof for %s does not verify", ErrSnapshotMismatch, key)
		}

		var overflow bool
		total, overflow = new(uint256.Int).AddOverflow(total, amount)
		if overflow {
			return fmt.Errorf("%w: %v", ErrSnapshotMismatch, ErrOverflow)
		}
	}

	if total.Dec() != snapshot.TokenTotal {
		return fmt.Errorf("%w: tokenTotal %s but claims sum to %s", ErrSnapshotMismatch, snapshot.TokenTotal, total.Dec())
	}
	return nil
}
