package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/merkle-mint-go/pkg/ledger"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

// ValueLedger is an in-memory multi-token balance ledger.
// Thread-safe. Returned amounts are copies.
type ValueLedger struct {
	mu       sync.RWMutex
	balances map[types.TokenID]map[common.Address]*uint256.Int
	supply   map[types.TokenID]*uint256.Int

	// failNext makes the next Mint fail, for exercising rollback paths
	failNext error
}

// Ensure ValueLedger implements ledger.IValueLedger
var _ ledger.IValueLedger = (*ValueLedger)(nil)

// NewValueLedger creates an empty value ledger
func NewValueLedger() *ValueLedger {
	return &ValueLedger{
		balances: make(map[types.TokenID]map[common.Address]*uint256.Int),
		supply:   make(map[types.TokenID]*uint256.Int),
	}
}

// FailNextMint arranges for the next Mint call to return err without changing balances
func (v *ValueLedger) FailNextMint(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = err
}

// Mint credits amount units of tokenID to recipient
func (v *ValueLedger) Mint(_ context.Context, tokenID types.TokenID, recipient common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("cannot mint nil amount")
	}
	if recipient == (common.Address{}) {
		return ledger.ErrMintToZeroAddress
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.failNext != nil {
		err := v.failNext
		v.failNext = nil
		return err
	}

	supply := v.supply[tokenID]
	if supply == nil {
		supply = new(uint256.Int)
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return fmt.Errorf("total supply of token %d overflows", tokenID)
	}

	holders := v.balances[tokenID]
	if holders == nil {
		holders = make(map[common.Address]*uint256.Int)
		v.balances[tokenID] = holders
	}
	balance := holders[recipient]
	if balance == nil {
		balance = new(uint256.Int)
	}

	// Balance can't overflow if supply didn't
	holders[recipient] = new(uint256.Int).Add(balance, amount)
	v.supply[tokenID] = newSupply
	return nil
}

// TotalSupplyOf returns the units of tokenID issued so far
func (v *ValueLedger) TotalSupplyOf(_ context.Context, tokenID types.TokenID) (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if s := v.supply[tokenID]; s != nil {
		return s.Clone(), nil
	}
	return new(uint256.Int), nil
}

// BalanceOf returns the units of tokenID held by account
func (v *ValueLedger) BalanceOf(_ context.Context, account common.Address, tokenID types.TokenID) (*uint256.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if b := v.balances[tokenID][account]; b != nil {
		return b.Clone(), nil
	}
	return new(uint256.Int), nil
}

// PaymentLedger is an in-memory ERC-20 style ledger with allowances.
// Thread-safe. Returned amounts are copies.
type PaymentLedger struct {
	mu         sync.RWMutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// Ensure PaymentLedger implements ledger.IPaymentLedger and ledger.IRefunder
var (
	_ ledger.IPaymentLedger = (*PaymentLedger)(nil)
	_ ledger.IRefunder      = (*PaymentLedger)(nil)
)

// NewPaymentLedger creates an empty payment ledger
func NewPaymentLedger() *PaymentLedger {
	return &PaymentLedger{
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// Fund credits amount to account out of thin air, like a test token faucet
func (p *PaymentLedger) Fund(account common.Address, amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.balances[account] = new(uint256.Int).Add(p.balanceLocked(account), amount)
}

// Approve sets spender's allowance over owner's funds, replacing any previous value
func (p *PaymentLedger) Approve(owner, spender common.Address, amount *uint256.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.setAllowanceLocked(owner, spender, amount.Clone())
}

// TransferFrom moves amount from `from` to `to` using spender's allowance
func (p *PaymentLedger) TransferFrom(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("cannot transfer nil amount")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	allowance := p.allowanceLocked(from, spender)
	if allowance.Lt(amount) {
		return ledger.ErrTransferExceedsAllowance
	}
	if err := p.moveLocked(from, to, amount); err != nil {
		return err
	}
	if !allowance.Eq(maxAllowance) {
		p.setAllowanceLocked(from, spender, new(uint256.Int).Sub(allowance, amount))
	}
	return nil
}

// Refund reverses a completed TransferFrom, restoring the allowance it consumed
func (p *PaymentLedger) Refund(_ context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.moveLocked(to, from, amount); err != nil {
		return fmt.Errorf("failed to refund %s to %s: %w", amount.Dec(), from.Hex(), err)
	}
	allowance := p.allowanceLocked(from, spender)
	if !allowance.Eq(maxAllowance) {
		restored, overflow := new(uint256.Int).AddOverflow(allowance, amount)
		if overflow {
			restored = maxAllowance.Clone()
		}
		p.setAllowanceLocked(from, spender, restored)
	}
	return nil
}

// Allowance returns how much spender may still pull from owner
func (p *PaymentLedger) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allowanceLocked(owner, spender).Clone(), nil
}

// BalanceOf returns the settlement balance of account
func (p *PaymentLedger) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balanceLocked(account).Clone(), nil
}

// maxAllowance is treated as infinite and never decremented
var maxAllowance = new(uint256.Int).SetAllOne()

func (p *PaymentLedger) moveLocked(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ledger.ErrTransferToZeroAddress
	}
	balance := p.balanceLocked(from)
	if balance.Lt(amount) {
		return ledger.ErrTransferExceedsBalance
	}
	p.balances[from] = new(uint256.Int).Sub(balance, amount)
	p.balances[to] = new(uint256.Int).Add(p.balanceLocked(to), amount)
	return nil
}

func (p *PaymentLedger) balanceLocked(account common.Address) *uint256.Int {
	if b := p.balances[account]; b != nil {
		return b
	}
	return new(uint256.Int)
}

func (p *PaymentLedger) setAllowanceLocked(owner, spender common.Address, amount *uint256.Int) {
	spenders := p.allowances[owner]
	if spenders == nil {
		spenders = make(map[common.Address]*uint256.Int)
		p.allowances[owner] = spenders
	}
	spenders[spender] = amount
}

func (p *PaymentLedger) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if a := p.allowances[owner][spender]; a != nil {
		return a
	}
	return new(uint256.Int)
}
