package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-mint-go/pkg/requestSigner"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response from a distributor server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("distributor server returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// ClientConfig holds the configuration for the distributor client
type ClientConfig struct {
	BaseURL string

	// Signer signs mint and admin requests. Read-only use needs none.
	Signer requestSigner.IRequestSigner

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// DistributorClient talks to a distributor server over HTTP
type DistributorClient struct {
	baseURL    string
	signer     requestSigner.IRequestSigner
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewDistributorClient creates a new client
func NewDistributorClient(cfg *ClientConfig) (*DistributorClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}

	c := &DistributorClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		signer:     cfg.Signer,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		now:        time.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Distribution returns the distribution's public state
func (c *DistributorClient) Distribution(ctx context.Context) (*types.DistributionInfo, error) {
	var info types.DistributionInfo
	if err := c.do(ctx, http.MethodGet, "/distribution", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// LookupClaim returns account's claim descriptor for the current root
func (c *DistributorClient) LookupClaim(ctx context.Context, account common.Address) (*types.ClaimLookupResponse, error) {
	var resp types.ClaimLookupResponse
	if err := c.do(ctx, http.MethodGet, "/claims/"+account.Hex(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// IsClaimed reports whether index has been consumed
func (c *DistributorClient) IsClaimed(ctx context.Context, index uint64) (bool, error) {
	var resp types.ClaimStatusResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/claims/index/%d", index), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Claimed, nil
}

// Claim submits a claim for account using the descriptor the server holds for it
func (c *DistributorClient) Claim(ctx context.Context, account common.Address) (*types.OperationResponse, error) {
	lookup, err := c.LookupClaim(ctx, account)
	if err != nil {
		return nil, err
	}
	return c.SubmitClaim(ctx, &types.ClaimRequest{
		Index:   lookup.Claim.Index,
		Account: account.Hex(),
		Amount:  lookup.Claim.Amount,
		Proof:   lookup.Claim.Proof,
	})
}

// SubmitClaim submits an explicit claim
func (c *DistributorClient) SubmitClaim(ctx context.Context, req *types.ClaimRequest) (*types.OperationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var resp types.OperationResponse
	if err := c.do(ctx, http.MethodPost, "/claim", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Mint buys quantity units for the signer, paying quantity times unitPrice. A nil
// unitPrice uses the price the server advertises.
func (c *DistributorClient) Mint(ctx context.Context, quantity uint64, unitPrice *uint256.Int) (*types.OperationResponse, error) {
	signer, err := c.requireSigner()
	if err != nil {
		return nil, err
	}
	if unitPrice == nil {
		info, err := c.Distribution(ctx)
		if err != nil {
			return nil, err
		}
		if unitPrice, err = types.ParseAmount(info.Price); err != nil {
			return nil, fmt.Errorf("server advertised an invalid price: %w", err)
		}
	}
	total, overflow := new(uint256.Int).MulOverflow(unitPrice, uint256.NewInt(quantity))
	if overflow {
		return nil, fmt.Errorf("payment for %d units overflows", quantity)
	}
	req := &types.MintRequest{
		Payer:         signer.Address().Hex(),
		PaymentAmount: total.Dec(),
		Quantity:      quantity,
		IssuedAt:      c.now().Unix(),
	}
	var resp types.OperationResponse
	if err := c.signed(ctx, "/mint", types.SignatureHeader, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetRoot publishes root. snapshot may be nil; when set the server verifies and stores it.
func (c *DistributorClient) SetRoot(ctx context.Context, root common.Hash, metadataPointer string, snapshot *types.DistributionSnapshot) error {
	req := &types.SetRootRequest{
		Root:            root.Hex(),
		MetadataPointer: metadataPointer,
		Snapshot:        snapshot,
		IssuedAt:        c.now().Unix(),
	}
	return c.signed(ctx, "/admin/root", types.AdminSignatureHeader, req, &types.OperationResponse{})
}

// FreeMint issues quantity units to recipient without payment
func (c *DistributorClient) FreeMint(ctx context.Context, recipient common.Address, quantity uint64) (*types.OperationResponse, error) {
	req := &types.FreeMintRequest{
		Recipient: recipient.Hex(),
		Quantity:  quantity,
		IssuedAt:  c.now().Unix(),
	}
	var resp types.OperationResponse
	if err := c.signed(ctx, "/admin/free-mint", types.AdminSignatureHeader, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetURI sets the metadata URI
func (c *DistributorClient) SetURI(ctx context.Context, uri string) error {
	req := &types.SetURIRequest{URI: uri, IssuedAt: c.now().Unix()}
	return c.signed(ctx, "/admin/uri", types.AdminSignatureHeader, req, &types.OperationResponse{})
}

// TransferOwnership hands admin rights to newOwner
func (c *DistributorClient) TransferOwnership(ctx context.Context, newOwner common.Address) error {
	req := &types.TransferOwnershipRequest{NewOwner: newOwner.Hex(), IssuedAt: c.now().Unix()}
	return c.signed(ctx, "/admin/owner", types.AdminSignatureHeader, req, &types.OperationResponse{})
}

func (c *DistributorClient) requireSigner() (requestSigner.IRequestSigner, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("a signer is required for this request")
	}
	return c.signer, nil
}

func (c *DistributorClient) signed(ctx context.Context, path, header string, req, out interface{}) error {
	signer, err := c.requireSigner()
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	sig, err := signer.Sign(body)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, map[string]string{header: hexutil.Encode(sig)}, out)
}

func (c *DistributorClient) do(ctx context.Context, method, path string, body []byte, headers map[string]string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var errResp types.ErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
			apiErr.Code = errResp.Error
			apiErr.Message = errResp.Message
		}
		c.logger.Sugar().Debugw("Distributor request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"code", apiErr.Code,
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
