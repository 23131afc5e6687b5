package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-mint-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

var (
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	spender = common.HexToAddress("0x000000000000000000000000000000000000c0de")
)

func TestValueLedger_Mint(t *testing.T) {
	ctx := context.Background()
	vl := NewValueLedger()

	require.NoError(t, vl.Mint(ctx, types.DefaultTokenID, alice, uint256.NewInt(3)))
	require.NoError(t, vl.Mint(ctx, types.DefaultTokenID, alice, uint256.NewInt(4)))
	require.NoError(t, vl.Mint(ctx, types.DefaultTokenID, bob, uint256.NewInt(1)))
	require.NoError(t, vl.Mint(ctx, types.TokenID(2), bob, uint256.NewInt(10)))

	balance, err := vl.BalanceOf(ctx, alice, types.DefaultTokenID)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), balance.Uint64())

	supply, err := vl.TotalSupplyOf(ctx, types.DefaultTokenID)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), supply.Uint64())

	other, err := vl.TotalSupplyOf(ctx, types.TokenID(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), other.Uint64())
}

func TestValueLedger_MintToZeroAddress(t *testing.T) {
	vl := NewValueLedger()
	err := vl.Mint(context.Background(), types.DefaultTokenID, common.Address{}, uint256.NewInt(1))
	require.ErrorIs(t, err, ledger.ErrMintToZeroAddress)
}

func TestValueLedger_FailNextMint(t *testing.T) {
	ctx := context.Background()
	vl := NewValueLedger()
	boom := errors.New("boom")

	vl.FailNextMint(boom)
	require.ErrorIs(t, vl.Mint(ctx, types.DefaultTokenID, alice, uint256.NewInt(1)), boom)

	balance, err := vl.BalanceOf(ctx, alice, types.DefaultTokenID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	// Only the next call fails
	require.NoError(t, vl.Mint(ctx, types.DefaultTokenID, alice, uint256.NewInt(1)))
}

func TestValueLedger_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	vl := NewValueLedger()
	require.NoError(t, vl.Mint(ctx, types.DefaultTokenID, alice, uint256.NewInt(5)))

	balance, _ := vl.BalanceOf(ctx, alice, types.DefaultTokenID)
	balance.SetUint64(1000)

	again, _ := vl.BalanceOf(ctx, alice, types.DefaultTokenID)
	assert.Equal(t, uint64(5), again.Uint64())
}

func TestPaymentLedger_TransferFrom(t *testing.T) {
	ctx := context.Background()
	pl := NewPaymentLedger()
	pl.Fund(alice, uint256.NewInt(1000))

	t.Run("without allowance", func(t *testing.T) {
		err := pl.TransferFrom(ctx, spender, alice, bob, uint256.NewInt(200))
		require.ErrorIs(t, err, ledger.ErrTransferExceedsAllowance)
	})

	t.Run("with allowance", func(t *testing.T) {
		pl.Approve(alice, spender, uint256.NewInt(300))
		require.NoError(t, pl.TransferFrom(ctx, spender, alice, bob, uint256.NewInt(200)))

		allowance, err := pl.Allowance(ctx, alice, spender)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), allowance.Uint64())

		aliceBalance, _ := pl.BalanceOf(ctx, alice)
		bobBalance, _ := pl.BalanceOf(ctx, bob)
		assert.Equal(t, uint64(800), aliceBalance.Uint64())
		assert.Equal(t, uint64(200), bobBalance.Uint64())
	})

	t.Run("exceeds balance", func(t *testing.T) {
		pl.Approve(alice, spender, uint256.NewInt(5000))
		err := pl.TransferFrom(ctx, spender, alice, bob, uint256.NewInt(900))
		require.ErrorIs(t, err, ledger.ErrTransferExceedsBalance)

		// Nothing moved
		aliceBalance, _ := pl.BalanceOf(ctx, alice)
		assert.Equal(t, uint64(800), aliceBalance.Uint64())
		allowance, _ := pl.Allowance(ctx, alice, spender)
		assert.Equal(t, uint64(5000), allowance.Uint64())
	})

	t.Run("to zero address", func(t *testing.T) {
		err := pl.TransferFrom(ctx, spender, alice, common.Address{}, uint256.NewInt(1))
		require.ErrorIs(t, err, ledger.ErrTransferToZeroAddress)
	})

	t.Run("zero amount without prior allowance", func(t *testing.T) {
		require.NoError(t, pl.TransferFrom(ctx, bob, alice, bob, new(uint256.Int)))
	})
}

func TestPaymentLedger_InfiniteAllowance(t *testing.T) {
	ctx := context.Background()
	pl := NewPaymentLedger()
	pl.Fund(alice, uint256.NewInt(1000))
	pl.Approve(alice, spender, new(uint256.Int).SetAllOne())

	require.NoError(t, pl.TransferFrom(ctx, spender, alice, bob, uint256.NewInt(400)))

	allowance, err := pl.Allowance(ctx, alice, spender)
	require.NoError(t, err)
	assert.True(t, allowance.Eq(new(uint256.Int).SetAllOne()))
}

func TestPaymentLedger_Refund(t *testing.T) {
	ctx := context.Background()
	pl := NewPaymentLedger()
	pl.Fund(alice, uint256.NewInt(500))
	pl.Approve(alice, spender, uint256.NewInt(500))

	require.NoError(t, pl.TransferFrom(ctx, spender, alice, bob, uint256.NewInt(200)))
	require.NoError(t, pl.Refund(ctx, spender, alice, bob, uint256.NewInt(200)))

	aliceBalance, _ := pl.BalanceOf(ctx, alice)
	bobBalance, _ := pl.BalanceOf(ctx, bob)
	allowance, _ := pl.Allowance(ctx, alice, spender)
	assert.Equal(t, uint64(500), aliceBalance.Uint64())
	assert.True(t, bobBalance.IsZero())
	assert.Equal(t, uint64(500), allowance.Uint64())
}

func TestPaymentLedger_ConcurrentTransfers(t *testing.T) {
	ctx := context.Background()
	pl := NewPaymentLedger()
	pl.Fund(alice, uint256.NewInt(100))
	pl.Approve(alice, spender, uint256.NewInt(100))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pl.TransferFrom(ctx, spender, alice, bob, uint256.NewInt(10)); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	bobBalance, _ := pl.BalanceOf(ctx, bob)
	assert.Equal(t, uint64(100), bobBalance.Uint64())
}
