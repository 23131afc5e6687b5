package merkle

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// NewTree builds a merkle tree over the given leaf hashes.
// The input slice is not modified. Duplicate leaves are collapsed into one.
func NewTree(leaves []common.Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyAllocation
	}

	sorted := make([]common.Hash, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	sorted = dedup(sorted)

	positions := make(map[common.Hash]int, len(sorted))
	for i, leaf := range sorted {
		positions[leaf] = i
	}

	layers := [][]common.Hash{sorted}
	current := sorted
	for len(current) > 1 {
		next := make([]common.Hash, 0, (len(current)+1)/2)
		for i := 0; i < len(current); i += 2 {
			if i+1 < len(current) {
				next = append(next, hashPair(current[i], current[i+1]))
			} else {
				// Odd node out, promote as is
				next = append(next, current[i])
			}
		}
		layers = append(layers, next)
		current = next
	}

	return &Tree{
		layers:    layers,
		positions: positions,
	}, nil
}

// Root returns the merkle root
func (t *Tree) Root() common.Hash {
	return t.layers[len(t.layers)-1][0]
}

// Depth returns the number of layers above the leaves
func (t *Tree) Depth() int {
	return len(t.layers) - 1
}

// Leaves returns a copy of the sorted leaf layer
func (t *Tree) Leaves() []common.Hash {
	out := make([]common.Hash, len(t.layers[0]))
	copy(out, t.layers[0])
	return out
}

// Proof returns the sibling hashes needed to rebuild the root from leaf.
// proof[0] is the leaf's sibling, the last element sits just below the root.
func (t *Tree) Proof(leaf common.Hash) ([]common.Hash, error) {
	idx, ok := t.positions[leaf]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLeafNotFound, leaf.Hex())
	}

	proof := make([]common.Hash, 0, t.Depth())
	for _, layer := range t.layers[:len(t.layers)-1] {
		sibling := idx ^ 1
		if sibling < len(layer) {
			proof = append(proof, layer[sibling])
		}
		idx /= 2
	}
	return proof, nil
}

// VerifyProof replays the sorted-pair reduction of proof starting at leaf and reports
// whether it reaches root.
func VerifyProof(root common.Hash, leaf common.Hash, proof []common.Hash) bool {
	computed := leaf
	for _, sibling := range proof {
		computed = hashPair(computed, sibling)
	}
	return computed == root
}

// HashLeaf computes keccak256(abi.encodePacked(uint256 index, address account, uint256 amount)),
// the leaf a Solidity verifier rebuilds from claim arguments.
func HashLeaf(index uint64, account common.Address, amount *uint256.Int) common.Hash {
	idx := uint256.NewInt(index).Bytes32()
	amt := amount.Bytes32()

	// 32 + 20 + 32 bytes
	return crypto.Keccak256Hash(idx[:], account.Bytes(), amt[:])
}

// hashPair computes keccak256 of the two hashes concatenated in ascending byte order
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

// dedup removes adjacent duplicates from a sorted slice in place
func dedup(sorted []common.Hash) []common.Hash {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, h := range sorted[1:] {
		if h != out[len(out)-1] {
			out = append(out, h)
		}
	}
	return out
}
