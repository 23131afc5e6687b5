package persistence

import (
	"errors"
	"sort"
)

// ErrClosed is returned by every operation on a closed persistence layer
var ErrClosed = errors.New("persistence layer is closed")

// DistributionState is the claim/supply state machine's state that must survive restarts.
type DistributionState struct {
	// Root is the published merkle root as 0x-prefixed hex. Empty until the first SetRoot.
	Root string `json:"root"`

	// MetadataPointer is the opaque pointer published alongside the root
	MetadataPointer string `json:"metadataPointer"`

	// ClaimedIndices lists every consumed claim index, ascending
	ClaimedIndices []uint64 `json:"claimedIndices"`

	// TotalIssued is the number of units issued through all paths
	TotalIssued uint64 `json:"totalIssued"`

	// URI is the token metadata URI. Empty until set.
	URI string `json:"uri"`

	// Owner is the administrator address as EIP-55 hex
	Owner string `json:"owner"`

	// UpdatedAt is the Unix timestamp of the last write
	UpdatedAt int64 `json:"updatedAt"`
}

// Clone returns a deep copy of the state
func (s *DistributionState) Clone() *DistributionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.ClaimedIndices != nil {
		out.ClaimedIndices = append([]uint64(nil), s.ClaimedIndices...)
	}
	return &out
}

// SortedIndices returns the keys of a claimed set in ascending order
func SortedIndices(claimed map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(claimed))
	for idx := range claimed {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
