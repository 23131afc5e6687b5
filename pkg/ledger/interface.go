package ledger

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

var (
	// ErrMintToZeroAddress is returned by value ledgers asked to credit the zero address
	ErrMintToZeroAddress = errors.New("mint to the zero address")

	// ErrTransferExceedsAllowance mirrors the ERC-20 allowance failure
	ErrTransferExceedsAllowance = errors.New("transfer amount exceeds allowance")

	// ErrTransferExceedsBalance mirrors the ERC-20 balance failure
	ErrTransferExceedsBalance = errors.New("transfer amount exceeds balance")

	// ErrTransferToZeroAddress mirrors the ERC-20 zero-recipient failure
	ErrTransferToZeroAddress = errors.New("transfer to the zero address")
)

// IValueLedger is the multi-token balance ledger that receives issued units.
// Implementations must reject credits to the zero address and never produce negative
// balances. Mint is all-or-nothing.
type IValueLedger interface {
	// Mint credits amount units of tokenID to recipient
	Mint(ctx context.Context, tokenID types.TokenID, recipient common.Address, amount *uint256.Int) error

	// TotalSupplyOf returns the units of tokenID issued so far
	TotalSupplyOf(ctx context.Context, tokenID types.TokenID) (*uint256.Int, error)

	// BalanceOf returns the units of tokenID held by account
	BalanceOf(ctx context.Context, account common.Address, tokenID types.TokenID) (*uint256.Int, error)
}

// IPaymentLedger is the settlement-currency ledger the paid mint pulls funds through.
type IPaymentLedger interface {
	// TransferFrom moves amount from `from` to `to` using spender's allowance.
	// Failures are returned unchanged to the caller of the issuing operation.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error

	// Allowance returns how much spender may still pull from owner
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)

	// BalanceOf returns the settlement balance of account
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// IRefunder is implemented by payment ledgers that can reverse a completed TransferFrom.
// The distributor uses it when value issuance fails after payment was collected.
type IRefunder interface {
	Refund(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}
