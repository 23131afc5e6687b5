package memory

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-mint-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

func testSnapshot(root common.Hash) *types.DistributionSnapshot {
	return &types.DistributionSnapshot{
		MerkleRoot: root.Hex(),
		TokenTotal: "3",
		Claims: map[string]*types.ClaimInfo{
			"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed": {Index: 0, Amount: "3", Proof: []string{}},
		},
	}
}

func TestMemoryPersistence_DistributionState(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	loaded, err := mp.LoadDistributionState()
	require.NoError(t, err)
	assert.Nil(t, loaded, "first run has no state")

	state := &persistence.DistributionState{
		Root:           common.Hash{1}.Hex(),
		ClaimedIndices: []uint64{2, 5},
		TotalIssued:    12,
	}
	require.NoError(t, mp.SaveDistributionState(state))

	// Mutating the saved value must not affect storage
	state.ClaimedIndices[0] = 99
	state.TotalIssued = 0

	loaded, err = mp.LoadDistributionState()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, []uint64{2, 5}, loaded.ClaimedIndices)
	assert.Equal(t, uint64(12), loaded.TotalIssued)

	require.Error(t, mp.SaveDistributionState(nil))
}

func TestMemoryPersistence_Snapshots(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	rootA, rootB := common.Hash{0xaa}, common.Hash{0x0b}
	require.NoError(t, mp.SaveSnapshot(testSnapshot(rootA)))
	require.NoError(t, mp.SaveSnapshot(testSnapshot(rootB)))
	require.NoError(t, mp.SaveSnapshot(testSnapshot(rootB)))

	roots, err := mp.ListSnapshots()
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{rootB, rootA}, roots)

	loaded, err := mp.LoadSnapshot(rootA)
	require.NoError(t, err)
	assert.Equal(t, testSnapshot(rootA), loaded)

	missing, err := mp.LoadSnapshot(common.Hash{0xff})
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, mp.DeleteSnapshot(rootA))
	require.NoError(t, mp.DeleteSnapshot(rootA))
	roots, err = mp.ListSnapshots()
	require.NoError(t, err)
	assert.Equal(t, []common.Hash{rootB}, roots)

	require.Error(t, mp.SaveSnapshot(&types.DistributionSnapshot{MerkleRoot: "nope"}))
}

func TestMemoryPersistence_Closed(t *testing.T) {
	mp := NewMemoryPersistence()
	require.NoError(t, mp.HealthCheck())
	require.NoError(t, mp.Close())
	require.NoError(t, mp.Close())

	assert.ErrorIs(t, mp.HealthCheck(), persistence.ErrClosed)
	_, err := mp.LoadDistributionState()
	assert.ErrorIs(t, err, persistence.ErrClosed)
	assert.ErrorIs(t, mp.SaveDistributionState(&persistence.DistributionState{}), persistence.ErrClosed)
	_, err = mp.ListSnapshots()
	assert.ErrorIs(t, err, persistence.ErrClosed)
}

func TestMemoryPersistence_ConcurrentAccess(t *testing.T) {
	mp := NewMemoryPersistence()
	defer func() { _ = mp.Close() }()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = mp.SaveDistributionState(&persistence.DistributionState{TotalIssued: uint64(n)})
			_, _ = mp.LoadDistributionState()
			_ = mp.SaveSnapshot(testSnapshot(common.Hash{byte(n)}))
		}(i)
	}
	wg.Wait()

	roots, err := mp.ListSnapshots()
	require.NoError(t, err)
	assert.Len(t, roots, 50)
}
