package distributor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

func (d *Distributor) Name() string           { return d.cfg.Name }
func (d *Distributor) Symbol() string         { return d.cfg.Symbol }
func (d *Distributor) TokenID() types.TokenID { return d.cfg.TokenID }
func (d *Distributor) MaxSupply() uint64      { return MaxSupply }

// Address is the distribution's own account on the payment ledger
func (d *Distributor) Address() common.Address      { return d.cfg.Address }
func (d *Distributor) Wallet() common.Address       { return d.cfg.Wallet }
func (d *Distributor) PaymentToken() common.Address { return d.cfg.PaymentToken }

// Price returns the price of a single unit
func (d *Distributor) Price() *uint256.Int {
	return d.cfg.UnitPrice.Clone()
}

// Owner returns the current administrator
func (d *Distributor) Owner() common.Address {
	return d.authority.Owner()
}

// Root returns the published root, or the zero hash if none is published
func (d *Distributor) Root() common.Hash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root
}

// MetadataPointer returns the pointer published with the root
func (d *Distributor) MetadataPointer() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metadataPointer
}

// TotalSupply returns the units issued through all paths
func (d *Distributor) TotalSupply() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalIssued
}

// URI returns the metadata URI. Every token id shares it.
func (d *Distributor) URI(_ types.TokenID) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uri
}

// IsClaimed reports whether index has been consumed
func (d *Distributor) IsClaimed(index uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.claimed[index]
	return ok
}

// ClaimedCount returns the number of consumed indices
func (d *Distributor) ClaimedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.claimed)
}

// BalanceOf reads account's balance of the distribution's token from the value ledger
func (d *Distributor) BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return d.values.BalanceOf(ctx, account, d.cfg.TokenID)
}
