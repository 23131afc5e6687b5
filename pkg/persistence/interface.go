package persistence

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// IDistributionPersistence defines the interface for persisting distribution state across
// restarts. All implementations must be thread-safe.
//
// The interface supports:
// - Distribution state (root, metadata pointer, claimed indices, total issued)
// - Snapshot storage keyed by merkle root, so proofs can be served for the active root
// - Lifecycle management (close, health check)
type IDistributionPersistence interface {
	// Distribution State

	// SaveDistributionState persists the state machine's current state.
	// Overwrites any existing state.
	SaveDistributionState(state *DistributionState) error

	// LoadDistributionState retrieves the state machine's state.
	// Returns nil state if none exists (first run), error only on storage failure.
	LoadDistributionState() (*DistributionState, error)

	// Snapshots

	// SaveSnapshot stores a snapshot under its merkle root.
	// Idempotent - saving the same snapshot twice is not an error.
	SaveSnapshot(snapshot *types.DistributionSnapshot) error

	// LoadSnapshot retrieves the snapshot for a root.
	// Returns nil if no snapshot is stored for root, error only on storage failure.
	LoadSnapshot(root common.Hash) (*types.DistributionSnapshot, error)

	// ListSnapshots returns the roots of all stored snapshots sorted ascending.
	// Returns empty slice if no snapshots exist.
	ListSnapshots() ([]common.Hash, error)

	// DeleteSnapshot removes the snapshot for root.
	// Idempotent - returns nil if the snapshot doesn't exist.
	DeleteSnapshot(root common.Hash) error

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
