package merkle

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrInvalidAddress is returned for an address that is not 20 hex bytes or whose
	// mixed-case spelling fails the EIP-55 checksum
	ErrInvalidAddress = errors.New("invalid address")

	// ErrDuplicateAddress is returned when two entries normalize to the same address
	ErrDuplicateAddress = errors.New("duplicate address")

	// ErrInvalidAmount is returned for an amount that is not an unsigned 256-bit integer
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrOverflow is returned when the token total does not fit in 256 bits
	ErrOverflow = errors.New("token total overflows uint256")

	// ErrEmptyAllocation is returned when building from zero entries
	ErrEmptyAllocation = errors.New("cannot build merkle tree from empty allocation list")

	// ErrLeafNotFound is returned when requesting a proof for a leaf outside the tree
	ErrLeafNotFound = errors.New("leaf not found in tree")

	// ErrSnapshotMismatch is returned by VerifySnapshot when a claim does not prove
	// against the snapshot root
	ErrSnapshotMismatch = errors.New("snapshot does not match its merkle root")
)

// Allocation is a validated allocation entry with its position in the sorted ordering
type Allocation struct {
	Index   uint64
	Account common.Address
	Amount  *uint256.Int
}

// Tree is a binary keccak256 merkle tree with sorted-pair hashing.
//
// Leaves are ordered by hash value before pairing. A node without a sibling is promoted
// unchanged to the next layer and contributes no element to proofs that pass through it.
type Tree struct {
	// layers[0] holds the sorted leaves, layers[len-1] holds the root
	layers [][]common.Hash

	// positions maps a leaf hash to its offset in layers[0]
	positions map[common.Hash]int
}
