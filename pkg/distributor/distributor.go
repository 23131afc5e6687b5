package distributor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-mint-go/pkg/auth"
	"github.com/Layr-Labs/merkle-mint-go/pkg/events"
	"github.com/Layr-Labs/merkle-mint-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
	"github.com/Layr-Labs/merkle-mint-go/pkg/metrics"
	"github.com/Layr-Labs/merkle-mint-go/pkg/persistence"
)

// Distributor is the claim and supply state machine for one distribution.
//
// A single mutex serializes every operation. Each mutating operation checks its
// preconditions, applies the change tentatively, persists it, then calls the ledgers.
// If any step fails the previous state is restored and persisted again, so a failed
// operation leaves no trace.
type Distributor struct {
	mu sync.Mutex

	cfg       Config
	authority *auth.Authority
	values    ledger.IValueLedger
	payments  ledger.IPaymentLedger
	store     persistence.IDistributionPersistence
	logger    *zap.Logger

	root            common.Hash
	metadataPointer string
	claimed         map[uint64]struct{}
	totalIssued     uint64
	uri             string
}

// checkpoint holds the scalar state an operation may need to restore
type checkpoint struct {
	root            common.Hash
	metadataPointer string
	totalIssued     uint64
	uri             string
}

// NewDistributor creates a distributor, resuming from persisted state when present
func NewDistributor(
	cfg Config,
	values ledger.IValueLedger,
	payments ledger.IPaymentLedger,
	store persistence.IDistributionPersistence,
) (*Distributor, error) {
	if values == nil {
		return nil, fmt.Errorf("value ledger is required")
	}
	if payments == nil {
		return nil, fmt.Errorf("payment ledger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("persistence is required")
	}

	c := cfg.withDefaults()
	d := &Distributor{
		cfg:      c,
		values:   values,
		payments: payments,
		store:    store,
		logger:   c.Logger,
		claimed:  make(map[uint64]struct{}),
	}

	state, err := store.LoadDistributionState()
	if err != nil {
		return nil, fmt.Errorf("failed to load distribution state: %w", err)
	}

	owner := c.Owner
	if state != nil {
		persistedOwner, err := d.restore(state)
		if err != nil {
			return nil, fmt.Errorf("invalid persisted distribution state: %w", err)
		}
		if persistedOwner != (common.Address{}) {
			owner = persistedOwner
		}
	}

	d.authority, err = auth.NewAuthority(owner)
	if err != nil {
		return nil, err
	}

	if err := d.persistLocked(owner); err != nil {
		return nil, err
	}
	metrics.TotalSupply.Set(float64(d.totalIssued))

	d.logger.Sugar().Infow("Distributor initialized",
		"owner", owner.Hex(),
		"root", d.root.Hex(),
		"total_issued", d.totalIssued,
		"claimed", len(d.claimed),
		"resumed", state != nil,
	)
	return d, nil
}

func (d *Distributor) restore(state *persistence.DistributionState) (common.Address, error) {
	if state.Root != "" {
		root, err := parseRoot(state.Root)
		if err != nil {
			return common.Address{}, err
		}
		d.root = root
	}
	if state.TotalIssued > MaxSupply {
		return common.Address{}, fmt.Errorf("total issued %d exceeds max supply %d", state.TotalIssued, MaxSupply)
	}
	d.metadataPointer = state.MetadataPointer
	d.totalIssued = state.TotalIssued
	d.uri = state.URI
	for _, idx := range state.ClaimedIndices {
		d.claimed[idx] = struct{}{}
	}

	if state.Owner == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(state.Owner) {
		return common.Address{}, fmt.Errorf("invalid owner %q", state.Owner)
	}
	return common.HexToAddress(state.Owner), nil
}

func parseRoot(s string) (common.Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid root %q", s)
	}
	return common.BytesToHash(b), nil
}

// Grant issues an admin capability to caller if caller is the owner
func (d *Distributor) Grant(caller common.Address) (auth.Capability, error) {
	return d.authority.Grant(caller)
}

// GrantFromSignature issues an admin capability to the signer of an EIP-191 message if
// the signer is the owner
func (d *Distributor) GrantFromSignature(message, signature []byte) (auth.Capability, error) {
	return d.authority.GrantFromSignature(message, signature)
}

// SetRoot publishes a merkle root and its metadata pointer.
// Claimed indices and total issued are kept. Once any index has been claimed only the
// current root may be re-published, which updates the pointer.
func (d *Distributor) SetRoot(ctx context.Context, c auth.Capability, root common.Hash, metadataPointer string) (err error) {
	defer func() { metrics.RecordOperation("set_root", err) }()

	if err := d.authority.Validate(c); err != nil {
		return err
	}
	if root == (common.Hash{}) {
		return ErrInvalidRoot
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if root != d.root && len(d.claimed) > 0 {
		return fmt.Errorf("%w: %d indices claimed against %s", ErrClaimsExist, len(d.claimed), d.root.Hex())
	}

	cp := d.checkpointLocked()
	d.root = root
	d.metadataPointer = metadataPointer

	if err := d.persistLocked(d.authority.Owner()); err != nil {
		d.rollbackLocked("set_root", cp, nil)
		return err
	}

	d.cfg.Sink.Emit(ctx, events.RootPublished{Root: root, MetadataPointer: metadataPointer})
	d.logger.Sugar().Infow("Root published", "root", root.Hex(), "metadata_pointer", metadataPointer)
	return nil
}

// Claim credits claimant with amount if (index, claimant, amount) proves against the
// current root and index has not been claimed. Anyone may submit on the claimant's behalf.
func (d *Distributor) Claim(ctx context.Context, index uint64, amount *uint256.Int, proof []common.Hash, claimant common.Address) (err error) {
	defer func() { metrics.RecordOperation("claim", err) }()

	if amount == nil {
		return fmt.Errorf("%w: missing amount", ErrInvalidProof)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, done := d.claimed[index]; done {
		return fmt.Errorf("%w: index %d", ErrAlreadyClaimed, index)
	}
	if d.root == (common.Hash{}) || !merkle.VerifyProof(d.root, merkle.HashLeaf(index, claimant, amount), proof) {
		return ErrInvalidProof
	}
	units, err := d.checkSupplyLocked(amount)
	if err != nil {
		return err
	}
	if claimant == (common.Address{}) {
		return fmt.Errorf("%w: %w", ErrInvalidRecipient, ledger.ErrMintToZeroAddress)
	}

	cp := d.checkpointLocked()
	d.claimed[index] = struct{}{}
	d.totalIssued += units

	if err := d.persistLocked(d.authority.Owner()); err != nil {
		d.rollbackLocked("claim", cp, &index)
		return err
	}
	if err := d.values.Mint(ctx, d.cfg.TokenID, claimant, amount); err != nil {
		d.rollbackLocked("claim", cp, &index)
		return issuanceError(err)
	}

	d.cfg.Sink.Emit(ctx, events.Issued{TokenID: d.cfg.TokenID, Amount: amount.Clone(), Recipient: claimant})
	metrics.RecordIssued("claim", units, d.totalIssued)
	d.logger.Sugar().Infow("Claimed",
		"index", index,
		"claimant", claimant.Hex(),
		"amount", units,
		"total_issued", d.totalIssued,
	)
	return nil
}

// Mint sells quantity units to payer. paymentAmount must equal quantity times the unit
// price; the payment ledger pulls it from payer into the wallet.
func (d *Distributor) Mint(ctx context.Context, payer common.Address, paymentAmount *uint256.Int, quantity uint64) (err error) {
	defer func() { metrics.RecordOperation("mint", err) }()

	if quantity == 0 || quantity > MaxPerTransaction {
		return fmt.Errorf("%w: requested %d", ErrMaxTenMintsPerTxn, quantity)
	}
	price, err := d.PriceFor(quantity)
	if err != nil {
		return err
	}
	if paymentAmount == nil || !paymentAmount.Eq(price) {
		got := "<nil>"
		if paymentAmount != nil {
			got = paymentAmount.Dec()
		}
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidPrice, price.Dec(), got)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	units := uint256.NewInt(quantity)
	if _, err := d.checkSupplyLocked(units); err != nil {
		return err
	}
	if payer == (common.Address{}) {
		return fmt.Errorf("%w: %w", ErrInvalidRecipient, ledger.ErrMintToZeroAddress)
	}

	cp := d.checkpointLocked()
	d.totalIssued += quantity

	if err := d.persistLocked(d.authority.Owner()); err != nil {
		d.rollbackLocked("mint", cp, nil)
		return err
	}
	if err := d.payments.TransferFrom(ctx, d.cfg.Address, payer, d.cfg.Wallet, price); err != nil {
		d.rollbackLocked("mint", cp, nil)
		return fmt.Errorf("payment failed: %w", err)
	}
	if err := d.values.Mint(ctx, d.cfg.TokenID, payer, units); err != nil {
		d.refundLocked(ctx, payer, price)
		d.rollbackLocked("mint", cp, nil)
		return issuanceError(err)
	}

	d.cfg.Sink.Emit(ctx, events.Issued{TokenID: d.cfg.TokenID, Amount: units, Recipient: payer})
	d.cfg.Sink.Emit(ctx, events.FundsTransferred{Payer: payer, Payee: d.cfg.Wallet, Amount: price})
	metrics.RecordIssued("mint", quantity, d.totalIssued)
	d.logger.Sugar().Infow("Minted",
		"payer", payer.Hex(),
		"quantity", quantity,
		"price", price.Dec(),
		"total_issued", d.totalIssued,
	)
	return nil
}

// FreeMint issues quantity units to recipient without payment. Admin only.
func (d *Distributor) FreeMint(ctx context.Context, c auth.Capability, recipient common.Address, quantity uint64) (err error) {
	defer func() { metrics.RecordOperation("free_mint", err) }()

	if err := d.authority.Validate(c); err != nil {
		return err
	}
	if quantity == 0 {
		return ErrInvalidQuantity
	}
	if recipient == (common.Address{}) {
		return fmt.Errorf("%w: %w", ErrInvalidRecipient, ledger.ErrMintToZeroAddress)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	units := uint256.NewInt(quantity)
	if _, err := d.checkSupplyLocked(units); err != nil {
		return err
	}

	cp := d.checkpointLocked()
	d.totalIssued += quantity

	if err := d.persistLocked(d.authority.Owner()); err != nil {
		d.rollbackLocked("free_mint", cp, nil)
		return err
	}
	if err := d.values.Mint(ctx, d.cfg.TokenID, recipient, units); err != nil {
		d.rollbackLocked("free_mint", cp, nil)
		return issuanceError(err)
	}

	d.cfg.Sink.Emit(ctx, events.Issued{TokenID: d.cfg.TokenID, Amount: units, Recipient: recipient})
	metrics.RecordIssued("free_mint", quantity, d.totalIssued)
	d.logger.Sugar().Infow("Free minted", "recipient", recipient.Hex(), "quantity", quantity, "total_issued", d.totalIssued)
	return nil
}

// SetURI sets the token metadata URI. It can only be set once.
func (d *Distributor) SetURI(ctx context.Context, c auth.Capability, uri string) (err error) {
	defer func() { metrics.RecordOperation("set_uri", err) }()

	if err := d.authority.Validate(c); err != nil {
		return err
	}
	if uri == "" {
		return fmt.Errorf("uri cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.uri != "" {
		return ErrURIAlreadySet
	}

	cp := d.checkpointLocked()
	d.uri = uri
	if err := d.persistLocked(d.authority.Owner()); err != nil {
		d.rollbackLocked("set_uri", cp, nil)
		return err
	}

	d.logger.Sugar().Infow("URI set", "uri", uri)
	return nil
}

// TransferOwnership hands admin rights to newOwner. Capabilities held by the previous
// owner stop validating.
func (d *Distributor) TransferOwnership(_ context.Context, c auth.Capability, newOwner common.Address) error {
	if err := d.authority.Validate(c); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return auth.ErrInvalidOwner
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	previous := d.authority.Owner()
	if err := d.persistLocked(newOwner); err != nil {
		return err
	}
	if err := d.authority.TransferOwnership(c, newOwner); err != nil {
		if perr := d.persistLocked(previous); perr != nil {
			d.logger.Sugar().Errorw("Failed to restore persisted owner", "owner", previous.Hex(), "error", perr)
		}
		return err
	}

	d.logger.Sugar().Infow("Ownership transferred", "previous", previous.Hex(), "owner", newOwner.Hex())
	return nil
}

// Verify reports whether proof links leaf to the current root
func (d *Distributor) Verify(proof []common.Hash, leaf common.Hash) bool {
	d.mu.Lock()
	root := d.root
	d.mu.Unlock()

	if root == (common.Hash{}) {
		return false
	}
	return merkle.VerifyProof(root, leaf, proof)
}

// PriceFor returns quantity times the unit price
func (d *Distributor) PriceFor(quantity uint64) (*uint256.Int, error) {
	price, overflow := new(uint256.Int).MulOverflow(d.cfg.UnitPrice, uint256.NewInt(quantity))
	if overflow {
		return nil, fmt.Errorf("%w: %d x %s", ErrOverflow, quantity, d.cfg.UnitPrice.Dec())
	}
	return price, nil
}

// checkSupplyLocked returns amount as a unit count if issuing it keeps total issued
// within MaxSupply
func (d *Distributor) checkSupplyLocked(amount *uint256.Int) (uint64, error) {
	remaining := MaxSupply - d.totalIssued
	if !amount.IsUint64() || amount.Uint64() > remaining {
		return 0, fmt.Errorf("%w: %s requested, %d remaining", ErrMaxSupplyLimitReached, amount.Dec(), remaining)
	}
	return amount.Uint64(), nil
}

func (d *Distributor) checkpointLocked() checkpoint {
	return checkpoint{
		root:            d.root,
		metadataPointer: d.metadataPointer,
		totalIssued:     d.totalIssued,
		uri:             d.uri,
	}
}

// rollbackLocked restores cp, un-marks claimedIndex if given and persists the result
func (d *Distributor) rollbackLocked(operation string, cp checkpoint, claimedIndex *uint64) {
	d.root = cp.root
	d.metadataPointer = cp.metadataPointer
	d.totalIssued = cp.totalIssued
	d.uri = cp.uri
	if claimedIndex != nil {
		delete(d.claimed, *claimedIndex)
	}
	metrics.RollbacksTotal.WithLabelValues(operation).Inc()

	if err := d.persistLocked(d.authority.Owner()); err != nil {
		d.logger.Sugar().Errorw("Failed to persist rolled back state", "operation", operation, "error", err)
	}
}

func (d *Distributor) persistLocked(owner common.Address) error {
	state := &persistence.DistributionState{
		MetadataPointer: d.metadataPointer,
		ClaimedIndices:  persistence.SortedIndices(d.claimed),
		TotalIssued:     d.totalIssued,
		URI:             d.uri,
		Owner:           owner.Hex(),
		UpdatedAt:       time.Now().Unix(),
	}
	if d.root != (common.Hash{}) {
		state.Root = d.root.Hex()
	}
	if err := d.store.SaveDistributionState(state); err != nil {
		return fmt.Errorf("failed to persist distribution state: %w", err)
	}
	return nil
}

// refundLocked returns a collected payment when the payment ledger supports it
func (d *Distributor) refundLocked(ctx context.Context, payer common.Address, amount *uint256.Int) {
	refunder, ok := d.payments.(ledger.IRefunder)
	if !ok {
		d.logger.Sugar().Errorw("Value issuance failed after payment and the payment ledger cannot refund",
			"payer", payer.Hex(), "amount", amount.Dec())
		return
	}
	if err := refunder.Refund(ctx, d.cfg.Address, payer, d.cfg.Wallet, amount); err != nil {
		d.logger.Sugar().Errorw("Refund failed", "payer", payer.Hex(), "amount", amount.Dec(), "error", err)
	}
}

func issuanceError(err error) error {
	if errors.Is(err, ledger.ErrMintToZeroAddress) {
		return fmt.Errorf("%w: %w", ErrInvalidRecipient, err)
	}
	return fmt.Errorf("value issuance failed: %w", err)
}
