package distributor

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-mint-go/pkg/events"
	"github.com/Layr-Labs/merkle-mint-go/pkg/types"
)

const (
	// MaxSupply is the cap on units issued through all paths combined
	MaxSupply uint64 = 300

	// MaxPerTransaction bounds the quantity of a single paid mint
	MaxPerTransaction uint64 = 10

	DefaultName   = "Token NFT"
	DefaultSymbol = "TNFT"

	// PaymentDecimals is the number of decimals of the settlement token
	PaymentDecimals = 6
)

// DefaultUnitPrice is 200 whole settlement tokens
func DefaultUnitPrice() *uint256.Int {
	return uint256.NewInt(200_000_000)
}

// Config describes one distribution
type Config struct {
	// Owner is the initial administrator. A persisted owner takes precedence.
	Owner common.Address

	// Address is the distribution's own account, used as the spender on the payment ledger
	Address common.Address

	// Wallet receives paid mint proceeds
	Wallet common.Address

	// PaymentToken identifies the settlement token; informational
	PaymentToken common.Address

	// UnitPrice is the price of one unit in the settlement token's base units.
	// Defaults to DefaultUnitPrice.
	UnitPrice *uint256.Int

	TokenID types.TokenID
	Name    string
	Symbol  string

	Sink   events.ISink // Optional, events are discarded if nil
	Logger *zap.Logger  // Optional, a nop logger is used if nil
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.UnitPrice == nil {
		out.UnitPrice = DefaultUnitPrice()
	} else {
		out.UnitPrice = out.UnitPrice.Clone()
	}
	if out.TokenID == 0 {
		out.TokenID = types.DefaultTokenID
	}
	if out.Name == "" {
		out.Name = DefaultName
	}
	if out.Symbol == "" {
		out.Symbol = DefaultSymbol
	}
	if out.Sink == nil {
		out.Sink = events.NopSink{}
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}
