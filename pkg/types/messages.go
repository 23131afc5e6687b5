package types

// HTTP request and response bodies for the distributor server.
// Amounts travel as base-10 strings and hashes as 0x-prefixed hex.

const (
	// SignatureHeader carries the payer's hex EIP-191 signature over a mint body
	SignatureHeader = "X-Signature"

	// AdminSignatureHeader carries the owner's hex EIP-191 signature over an admin body
	AdminSignatureHeader = "X-Admin-Signature"
)

// ClaimRequest submits a claim on behalf of Account
type ClaimRequest struct {
	Index   uint64   `json:"index"`
	Account string   `json:"account"`
	Amount  string   `json:"amount"`
	Proof   []string `json:"proof"`
}

// MintRequest buys Quantity units. The body must be signed by Payer.
type MintRequest struct {
	Payer         string `json:"payer"`
	PaymentAmount string `json:"paymentAmount"`
	Quantity      uint64 `json:"quantity"`
	IssuedAt      int64  `json:"issuedAt"`
}

// SetRootRequest publishes a root. Snapshot is optional; when present it is verified
// against Root and stored so the server can serve proofs.
type SetRootRequest struct {
	Root            string                `json:"root"`
	MetadataPointer string                `json:"metadataPointer"`
	Snapshot        *DistributionSnapshot `json:"snapshot,omitempty"`
	IssuedAt        int64                 `json:"issuedAt"`
}

// FreeMintRequest issues Quantity units to Recipient without payment
type FreeMintRequest struct {
	Recipient string `json:"recipient"`
	Quantity  uint64 `json:"quantity"`
	IssuedAt  int64  `json:"issuedAt"`
}

// SetURIRequest sets the token metadata URI
type SetURIRequest struct {
	URI      string `json:"uri"`
	IssuedAt int64  `json:"issuedAt"`
}

// TransferOwnershipRequest hands admin rights to NewOwner
type TransferOwnershipRequest struct {
	NewOwner string `json:"newOwner"`
	IssuedAt int64  `json:"issuedAt"`
}

// DistributionInfo describes the distribution's public state
type DistributionInfo struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	TokenID         uint64 `json:"tokenId"`
	Root            string `json:"root"`
	MetadataPointer string `json:"metadataPointer"`
	TotalSupply     uint64 `json:"totalSupply"`
	MaxSupply       uint64 `json:"maxSupply"`
	ClaimedCount    int    `json:"claimedCount"`
	Price           string `json:"price"`
	Wallet          string `json:"wallet"`
	PaymentToken    string `json:"paymentToken"`
	Owner           string `json:"owner"`
	URI             string `json:"uri"`
}

// ClaimLookupResponse returns an address's claim descriptor for the current root
type ClaimLookupResponse struct {
	Account string     `json:"account"`
	Root    string     `json:"root"`
	Claim   *ClaimInfo `json:"claim"`
	Claimed bool       `json:"claimed"`
}

// ClaimStatusResponse reports whether an index has been consumed
type ClaimStatusResponse struct {
	Index   uint64 `json:"index"`
	Claimed bool   `json:"claimed"`
}

// OperationResponse acknowledges a successful mutating request
type OperationResponse struct {
	Status      string `json:"status"`
	TotalSupply uint64 `json:"totalSupply"`
	Balance     string `json:"balance,omitempty"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// EventMessage is one server-sent event
type EventMessage struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}
