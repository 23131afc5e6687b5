package client

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/merkle-mint-go/pkg/distributor"
	ledgermemory "github.com/Layr-Labs/merkle-mint-go/pkg/ledger/memory"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
	persistencememory "github.com/Layr-Labs/merkle-mint-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-mint-go/pkg/requestSigner"
	"github.com/Layr-Labs/merkle-mint-go/pkg/server"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

var contractAddr = common.BigToAddress(big.NewInt(3000))

type harness struct {
	url      string
	owner    *requestSigner.PrivateKeySigner
	payments *ledgermemory.PaymentLedger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := requestSigner.NewPrivateKeySignerFromKey(key)

	store := persistencememory.NewMemoryPersistence()
	payments := ledgermemory.NewPaymentLedger()
	d, err := distributor.NewDistributor(distributor.Config{
		Owner:   owner.Address(),
		Address: contractAddr,
		Wallet:  common.BigToAddress(big.NewInt(2000)),
	}, ledgermemory.NewValueLedger(), payments, store)
	require.NoError(t, err)

	srv := server.NewServer(server.Config{}, d, store, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Stop(context.Background())
	})

	return &harness{url: ts.URL, owner: owner, payments: payments}
}

func (h *harness) client(t *testing.T, signer requestSigner.IRequestSigner) *DistributorClient {
	t.Helper()
	c, err := NewDistributorClient(&ClientConfig{BaseURL: h.url + "/", Signer: signer})
	require.NoError(t, err)
	return c
}

func TestNewDistributorClient(t *testing.T) {
	_, err := NewDistributorClient(nil)
	require.Error(t, err)
	_, err = NewDistributorClient(&ClientConfig{BaseURL: "not a url"})
	require.Error(t, err)
}

func TestClientAdminAndClaimFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := h.client(t, h.owner)
	public := h.client(t, nil)

	accounts := []common.Address{common.BigToAddress(big.NewInt(1)), common.BigToAddress(big.NewInt(2))}
	snapshot, err := merkle.Build([]types.AllocationEntry{
		{Address: accounts[0].Hex(), Amount: "3"},
		{Address: accounts[1].Hex(), Amount: "7"},
	})
	require.NoError(t, err)
	root, err := snapshot.Root()
	require.NoError(t, err)

	require.NoError(t, admin.SetRoot(ctx, root, "ipfs://allocations", snapshot))

	info, err := public.Distribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, root.Hex(), info.Root)

	resp, err := public.Claim(ctx, accounts[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(7), resp.TotalSupply)
	assert.Equal(t, "7", resp.Balance)

	claimed, err := public.IsClaimed(ctx, snapshot.ClaimFor(accounts[1]).Index)
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = public.Claim(ctx, accounts[1])
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "already_claimed", apiErr.Code)

	minted, err := admin.FreeMint(ctx, accounts[0], 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), minted.TotalSupply)

	require.NoError(t, admin.SetURI(ctx, "ipfs://token/1"))
	err = admin.SetURI(ctx, "ipfs://token/2")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "uri_already_set", apiErr.Code)
}

func TestClientRequiresSigner(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, nil)

	_, err := c.FreeMint(context.Background(), contractAddr, 1)
	require.Error(t, err)
	_, err = c.Mint(context.Background(), 1, nil)
	require.Error(t, err)
}

func TestClientRejectsNonOwner(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c := h.client(t, requestSigner.NewPrivateKeySignerFromKey(key))

	_, err = c.FreeMint(context.Background(), contractAddr, 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestClientMint(t *testing.T) {
	h := newHarness(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	buyer := requestSigner.NewPrivateKeySignerFromKey(key)
	h.payments.Fund(buyer.Address(), uint256.NewInt(1_000_000_000))
	h.payments.Approve(buyer.Address(), contractAddr, uint256.NewInt(1_000_000_000))

	c := h.client(t, buyer)
	resp, err := c.Mint(context.Background(), 3, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), resp.TotalSupply)
	assert.Equal(t, "3", resp.Balance)

	_, err = c.Mint(context.Background(), 2, uint256.NewInt(1))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid_price", apiErr.Code)
}
