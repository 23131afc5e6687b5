package memory

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Layr-Labs/merkle-mint-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// MemoryPersistence is an in-memory implementation of IDistributionPersistence.
// This implementation is intended for TESTING and local development.
//
// All data is stored in memory and will be lost when the process exits.
// Deep copies data to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	state *persistence.DistributionState

	// Snapshots: merkle root -> snapshot
	snapshots map[common.Hash]*types.DistributionSnapshot

	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		snapshots: make(map[common.Hash]*types.DistributionSnapshot),
	}
}

// SaveDistributionState persists the distribution state
func (m *MemoryPersistence) SaveDistributionState(state *persistence.DistributionState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil DistributionState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.state = state.Clone()
	return nil
}

// LoadDistributionState retrieves the distribution state
func (m *MemoryPersistence) LoadDistributionState() (*persistence.DistributionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	return m.state.Clone(), nil
}

// SaveSnapshot stores a snapshot under its root
func (m *MemoryPersistence) SaveSnapshot(snapshot *types.DistributionSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("cannot save nil DistributionSnapshot")
	}
	root, err := snapshot.Root()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.snapshots[root] = persistence.CloneSnapshot(snapshot)
	return nil
}

// LoadSnapshot retrieves the snapshot for root
func (m *MemoryPersistence) LoadSnapshot(root common.Hash) (*types.DistributionSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	snapshot, exists := m.snapshots[root]
	if !exists {
		return nil, nil
	}
	return persistence.CloneSnapshot(snapshot), nil
}

// ListSnapshots returns every stored root, ascending
func (m *MemoryPersistence) ListSnapshots() ([]common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	roots := make([]common.Hash, 0, len(m.snapshots))
	for root := range m.snapshots {
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool {
		return bytes.Compare(roots[i][:], roots[j][:]) < 0
	})
	return roots, nil
}

// DeleteSnapshot removes the snapshot for root
func (m *MemoryPersistence) DeleteSnapshot(root common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	delete(m.snapshots, root)
	return nil
}

// Close marks the persistence layer closed
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck reports whether the persistence layer is open
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}
	return nil
}
