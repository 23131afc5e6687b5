package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// MarshalDistributionState serializes DistributionState to JSON bytes.
func MarshalDistributionState(ds *DistributionState) ([]byte, error) {
	if ds == nil {
		return nil, fmt.Errorf("cannot marshal nil DistributionState")
	}

	return json.Marshal(ds)
}

// UnmarshalDistributionState deserializes DistributionState from JSON bytes.
func UnmarshalDistributionState(data []byte) (*DistributionState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var ds DistributionState
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to DistributionState: %w", err)
	}

	return &ds, nil
}

// MarshalSnapshot serializes a DistributionSnapshot in the snapshot file format.
func MarshalSnapshot(s *types.DistributionSnapshot) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("cannot marshal nil DistributionSnapshot")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DistributionSnapshot to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalSnapshot deserializes a DistributionSnapshot and checks its root parses.
func UnmarshalSnapshot(data []byte) (*types.DistributionSnapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var s types.DistributionSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to DistributionSnapshot: %w", err)
	}
	if _, err := s.Root(); err != nil {
		return nil, fmt.Errorf("snapshot has invalid merkle root: %w", err)
	}
	if s.Claims == nil {
		s.Claims = map[string]*types.ClaimInfo{}
	}

	return &s, nil
}

// CloneSnapshot returns a deep copy of a snapshot
func CloneSnapshot(s *types.DistributionSnapshot) *types.DistributionSnapshot {
	if s == nil {
		return nil
	}
	out := &types.DistributionSnapshot{
		MerkleRoot: s.MerkleRoot,
		TokenTotal: s.TokenTotal,
		Claims:     make(map[string]*types.ClaimInfo, len(s.Claims)),
	}
	for k, c := range s.Claims {
		if c == nil {
			continue
		}
		claim := &types.ClaimInfo{Index: c.Index, Amount: c.Amount}
		if c.Proof != nil {
			claim.Proof = make([]string, len(c.Proof))
			copy(claim.Proof, c.Proof)
		}
		out.Claims[k] = claim
	}
	return out
}
