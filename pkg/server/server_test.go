package server

import (
	"bufio"
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-mint-go/pkg/auth"
	"github.com/Layr-Labs/merkle-mint-go/pkg/distributor"
	"github.com/Layr-Labs/merkle-mint-go/pkg/events"
	"github.com/Layr-Labs/merkle-mint-go/pkg/ledger"
	ledgermemory "github.com/Layr-Labs/merkle-mint-go/pkg/ledger/memory"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
	persistencememory "github.com/Layr-Labs/merkle-mint-go/pkg/persistence/memory"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

var (
	walletAddr   = common.BigToAddress(big.NewInt(2000))
	contractAddr = common.BigToAddress(big.NewInt(3000))
)

type testEnv struct {
	server      *Server
	handler     http.Handler
	distributor *distributor.Distributor
	payments    *ledgermemory.PaymentLedger
	store       *persistencememory.MemoryPersistence
	broadcaster *events.Broadcaster
	ownerKey    *ecdsa.PrivateKey
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := persistencememory.NewMemoryPersistence()
	payments := ledgermemory.NewPaymentLedger()
	broadcaster := events.NewBroadcaster(16, zap.NewNop())
	d, err := distributor.NewDistributor(distributor.Config{
		Owner:   crypto.PubkeyToAddress(ownerKey.PublicKey),
		Address: contractAddr,
		Wallet:  walletAddr,
		Sink:    broadcaster,
	}, ledgermemory.NewValueLedger(), payments, store)
	require.NoError(t, err)

	s := NewServer(cfg, d, store, broadcaster, zap.NewNop())
	t.Cleanup(s.limiter.Stop)

	return &testEnv{
		server:      s,
		handler:     s.Handler(),
		distributor: d,
		payments:    payments,
		store:       store,
		broadcaster: broadcaster,
		ownerKey:    ownerKey,
	}
}

func signedJSON(t *testing.T, key *ecdsa.PrivateKey, v interface{}) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	sig, err := auth.SignMessage(body, func(hash []byte) ([]byte, error) {
		return crypto.Sign(hash, key)
	})
	require.NoError(t, err)
	return body, hexutil.Encode(sig)
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) admin(t *testing.T, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, sig := signedJSON(t, e.ownerKey, v)
	return e.do(http.MethodPost, path, body, map[string]string{adminSignatureHeader: sig})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func buildSnapshot(t *testing.T, amounts ...uint64) (*types.DistributionSnapshot, []common.Address) {
	t.Helper()
	entries := make([]types.AllocationEntry, len(amounts))
	accounts := make([]common.Address, len(amounts))
	for i, amt := range amounts {
		accounts[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
		entries[i] = types.AllocationEntry{Address: accounts[i].Hex(), Amount: uint256.NewInt(amt).Dec()}
	}
	snapshot, err := merkle.Build(entries)
	require.NoError(t, err)
	return snapshot, accounts
}

func now() int64 { return time.Now().Unix() }

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	require.NoError(t, env.store.Close())
	rec = env.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDistributionInfo(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(http.MethodGet, "/distribution", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	info := decode[types.DistributionInfo](t, rec)
	assert.Equal(t, distributor.DefaultName, info.Name)
	assert.Equal(t, distributor.DefaultSymbol, info.Symbol)
	assert.Equal(t, uint64(distributor.MaxSupply), info.MaxSupply)
	assert.Equal(t, "200000000", info.Price)
	assert.Equal(t, walletAddr.Hex(), info.Wallet)
	assert.Empty(t, info.Root)
	assert.Zero(t, info.TotalSupply)
}

func TestPublishAndClaimFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	snapshot, accounts := buildSnapshot(t, 3, 7, 1)

	rec := env.admin(t, "/admin/root", types.SetRootRequest{
		Root:            snapshot.MerkleRoot,
		MetadataPointer: "ipfs://allocations",
		Snapshot:        snapshot,
		IssuedAt:        now(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	info := decode[types.DistributionInfo](t, env.do(http.MethodGet, "/distribution", nil, nil))
	assert.Equal(t, snapshot.MerkleRoot, info.Root)
	assert.Equal(t, "ipfs://allocations", info.MetadataPointer)

	// Lookup accepts any casing of the address
	account := accounts[1]
	rec = env.do(http.MethodGet, "/claims/"+strings.ToLower(account.Hex()), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	lookup := decode[types.ClaimLookupResponse](t, rec)
	require.NotNil(t, lookup.Claim)
	assert.Equal(t, "7", lookup.Claim.Amount)
	assert.False(t, lookup.Claimed)

	claimBody, err := json.Marshal(types.ClaimRequest{
		Index:   lookup.Claim.Index,
		Account: account.Hex(),
		Amount:  lookup.Claim.Amount,
		Proof:   lookup.Claim.Proof,
	})
	require.NoError(t, err)

	rec = env.do(http.MethodPost, "/claim", claimBody, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	op := decode[types.OperationResponse](t, rec)
	assert.Equal(t, uint64(7), op.TotalSupply)
	assert.Equal(t, "7", op.Balance)

	rec = env.do(http.MethodPost, "/claim", claimBody, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_claimed", decode[types.ErrorResponse](t, rec).Error)

	rec = env.do(http.MethodGet, fmt.Sprintf("/claims/index/%d", lookup.Claim.Index), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[types.ClaimStatusResponse](t, rec).Claimed)

	rec = env.do(http.MethodGet, "/claims/"+accounts[1].Hex(), nil, nil)
	assert.True(t, decode[types.ClaimLookupResponse](t, rec).Claimed)
}

func TestClaimErrors(t *testing.T) {
	env := newTestEnv(t, Config{})
	snapshot, accounts := buildSnapshot(t, 3, 7)
	require.Equal(t, http.StatusOK, env.admin(t, "/admin/root", types.SetRootRequest{
		Root: snapshot.MerkleRoot, Snapshot: snapshot, IssuedAt: now(),
	}).Code)
	claim := snapshot.ClaimFor(accounts[0])

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"index":`, http.StatusBadRequest},
		{"bad account", fmt.Sprintf(`{"index":%d,"account":"0x12","amount":"3","proof":[]}`, claim.Index), http.StatusBadRequest},
		{"bad amount", fmt.Sprintf(`{"index":%d,"account":%q,"amount":"abc","proof":[]}`, claim.Index, accounts[0].Hex()), http.StatusBadRequest},
		{"wrong amount", fmt.Sprintf(`{"index":%d,"account":%q,"amount":"4","proof":%s}`, claim.Index, accounts[0].Hex(), mustJSON(t, claim.Proof)), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/claim", []byte(tt.body), nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestClaimLookupNotFound(t *testing.T) {
	env := newTestEnv(t, Config{})
	snapshot, _ := buildSnapshot(t, 3)
	root, err := snapshot.Root()
	require.NoError(t, err)

	// No root yet
	rec := env.do(http.MethodGet, "/claims/"+walletAddr.Hex(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Root published without its snapshot
	rec = env.admin(t, "/admin/root", types.SetRootRequest{Root: root.Hex(), IssuedAt: now()})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodGet, "/claims/"+walletAddr.Hex(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, env.store.SaveSnapshot(snapshot))
	rec = env.do(http.MethodGet, "/claims/"+walletAddr.Hex(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/claims/index/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetRootSnapshotMismatch(t *testing.T) {
	env := newTestEnv(t, Config{})
	snapshot, _ := buildSnapshot(t, 3, 7)
	other, _ := buildSnapshot(t, 5)

	rec := env.admin(t, "/admin/root", types.SetRootRequest{
		Root: other.MerkleRoot, Snapshot: snapshot, IssuedAt: now(),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "snapshot_mismatch", decode[types.ErrorResponse](t, rec).Error)

	roots, err := env.store.ListSnapshots()
	require.NoError(t, err)
	assert.Empty(t, roots)
	assert.Equal(t, common.Hash{}, env.distributor.Root())
}

func TestAdminAuthorization(t *testing.T) {
	env := newTestEnv(t, Config{})
	strangerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	req := types.FreeMintRequest{Recipient: walletAddr.Hex(), Quantity: 1, IssuedAt: now()}

	t.Run("missing signature", func(t *testing.T) {
		body, _ := signedJSON(t, env.ownerKey, req)
		rec := env.do(http.MethodPost, "/admin/free-mint", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage signature", func(t *testing.T) {
		body, _ := signedJSON(t, env.ownerKey, req)
		rec := env.do(http.MethodPost, "/admin/free-mint", body, map[string]string{adminSignatureHeader: "0x1234"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("stranger", func(t *testing.T) {
		body, sig := signedJSON(t, strangerKey, req)
		rec := env.do(http.MethodPost, "/admin/free-mint", body, map[string]string{adminSignatureHeader: sig})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("stale", func(t *testing.T) {
		stale := req
		stale.IssuedAt = time.Now().Add(-10 * time.Minute).Unix()
		rec := env.admin(t, "/admin/free-mint", stale)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("future", func(t *testing.T) {
		future := req
		future.IssuedAt = time.Now().Add(10 * time.Minute).Unix()
		rec := env.admin(t, "/admin/free-mint", future)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("replay", func(t *testing.T) {
		replayed := req
		replayed.IssuedAt = now() - 1
		body, sig := signedJSON(t, env.ownerKey, replayed)
		headers := map[string]string{adminSignatureHeader: sig}

		rec := env.do(http.MethodPost, "/admin/free-mint", body, headers)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		rec = env.do(http.MethodPost, "/admin/free-mint", body, headers)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	assert.Equal(t, uint64(1), env.distributor.TotalSupply())
}

func TestAdminSetURIAndOwnership(t *testing.T) {
	env := newTestEnv(t, Config{})
	uri := "ipfs://QmQFkLSQysj94s5GvTHPyzTxrawwtjgiiYS2TBLgrvw8CW/6338"

	rec := env.admin(t, "/admin/uri", types.SetURIRequest{URI: uri, IssuedAt: now()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.admin(t, "/admin/uri", types.SetURIRequest{URI: uri + "/2", IssuedAt: now()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = env.admin(t, "/admin/uri", types.SetURIRequest{IssuedAt: now() - 2})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	nextKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	next := crypto.PubkeyToAddress(nextKey.PublicKey)

	rec = env.admin(t, "/admin/owner", types.TransferOwnershipRequest{NewOwner: next.Hex(), IssuedAt: now()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, next, env.distributor.Owner())

	// The previous owner is locked out
	rec = env.admin(t, "/admin/free-mint", types.FreeMintRequest{Recipient: next.Hex(), Quantity: 1, IssuedAt: now()})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body, sig := signedJSON(t, nextKey, types.FreeMintRequest{Recipient: next.Hex(), Quantity: 1, IssuedAt: now()})
	rec = env.do(http.MethodPost, "/admin/free-mint", body, map[string]string{adminSignatureHeader: sig})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestFreeMintSupplyLimit(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.admin(t, "/admin/free-mint", types.FreeMintRequest{Recipient: walletAddr.Hex(), Quantity: 300, IssuedAt: now()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.admin(t, "/admin/free-mint", types.FreeMintRequest{Recipient: walletAddr.Hex(), Quantity: 1, IssuedAt: now()})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "max_supply_limit_reached", decode[types.ErrorResponse](t, rec).Error)
}

func TestMint(t *testing.T) {
	env := newTestEnv(t, Config{})
	payerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	payer := crypto.PubkeyToAddress(payerKey.PublicKey)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	mint := func(key *ecdsa.PrivateKey, req types.MintRequest) *httptest.ResponseRecorder {
		body, sig := signedJSON(t, key, req)
		return env.do(http.MethodPost, "/mint", body, map[string]string{signatureHeader: sig})
	}

	t.Run("no allowance", func(t *testing.T) {
		rec := mint(payerKey, types.MintRequest{Payer: payer.Hex(), PaymentAmount: "400000000", Quantity: 2, IssuedAt: now()})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		assert.Equal(t, "insufficient_allowance", decode[types.ErrorResponse](t, rec).Error)
	})

	env.payments.Fund(payer, uint256.NewInt(1_000_000_000))
	env.payments.Approve(payer, contractAddr, uint256.NewInt(1_000_000_000))

	t.Run("signed by someone else", func(t *testing.T) {
		rec := mint(otherKey, types.MintRequest{Payer: payer.Hex(), PaymentAmount: "400000000", Quantity: 2, IssuedAt: now()})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unsigned", func(t *testing.T) {
		body := []byte(mustJSON(t, types.MintRequest{Payer: payer.Hex(), PaymentAmount: "400000000", Quantity: 2, IssuedAt: now()}))
		rec := env.do(http.MethodPost, "/mint", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong price", func(t *testing.T) {
		rec := mint(payerKey, types.MintRequest{Payer: payer.Hex(), PaymentAmount: "1", Quantity: 2, IssuedAt: now()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_price", decode[types.ErrorResponse](t, rec).Error)
	})

	t.Run("too many", func(t *testing.T) {
		rec := mint(payerKey, types.MintRequest{Payer: payer.Hex(), PaymentAmount: "2200000000", Quantity: 11, IssuedAt: now()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "max_ten_mints_per_txn", decode[types.ErrorResponse](t, rec).Error)
	})

	t.Run("ok", func(t *testing.T) {
		rec := mint(payerKey, types.MintRequest{Payer: payer.Hex(), PaymentAmount: "400000000", Quantity: 2, IssuedAt: now() - 3})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		op := decode[types.OperationResponse](t, rec)
		assert.Equal(t, uint64(2), op.TotalSupply)
		assert.Equal(t, "2", op.Balance)

		walletBalance, err := env.payments.BalanceOf(context.Background(), walletAddr)
		require.NoError(t, err)
		assert.Equal(t, uint64(400_000_000), walletBalance.Uint64())
	})
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimit: 0.001, RateBurst: 2})
	body := []byte(`{"index":0}`)

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/claim", body, nil)
		assert.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}
	rec := env.do(http.MethodPost, "/claim", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decode[types.ErrorResponse](t, rec).Error)

	// Read endpoints are not limited
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/distribution", nil, nil).Code)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, Config{})
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.broadcaster.SubscriberCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	rec := env.admin(t, "/admin/free-mint", types.FreeMintRequest{Recipient: walletAddr.Hex(), Quantity: 3, IssuedAt: now()})
	require.Equal(t, http.StatusOK, rec.Code)

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: NFTMinted\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var msg struct {
		Name string                 `json:"name"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
	assert.Equal(t, "NFTMinted", msg.Name)
	assert.Equal(t, "3", msg.Data["amount"])
	assert.Equal(t, walletAddr.Hex(), msg.Data["recipient"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: index 1", distributor.ErrAlreadyClaimed), http.StatusConflict},
		{distributor.ErrClaimsExist, http.StatusConflict},
		{distributor.ErrInvalidProof, http.StatusBadRequest},
		{distributor.ErrOverflow, http.StatusBadRequest},
		{distributor.ErrMaxSupplyLimitReached, http.StatusUnprocessableEntity},
		{fmt.Errorf("payment failed: %w", ledger.ErrTransferExceedsBalance), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: %w", distributor.ErrInvalidRecipient, ledger.ErrMintToZeroAddress), http.StatusBadRequest},
		{auth.ErrNotAuthorized, http.StatusForbidden},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, _ := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestReplayCache(t *testing.T) {
	c := newReplayCache(time.Minute)
	start := time.Unix(1_700_000_000, 0)
	digest := crypto.Keccak256Hash([]byte("body"))

	assert.True(t, c.add(digest, start))
	assert.False(t, c.add(digest, start.Add(30*time.Second)))

	// Pruned once past twice the window
	assert.True(t, c.add(digest, start.Add(3*time.Minute)))
}
