package distributor

import (
	"errors"

	"github.com/Layr-Labs/merkle-mint-go/pkg/auth"
	"github.com/Layr-Labs/merkle-mint-go/pkg/merkle"
)

var (
	// ErrNotAuthorized is returned when an admin operation is called without a valid capability
	ErrNotAuthorized = auth.ErrNotAuthorized

	// ErrOverflow is returned when quantity times unit price does not fit in 256 bits
	ErrOverflow = merkle.ErrOverflow

	ErrInvalidRoot           = errors.New("invalid root")
	ErrInvalidProof          = errors.New("invalid proof")
	ErrAlreadyClaimed        = errors.New("already claimed")
	ErrMaxTenMintsPerTxn     = errors.New("max ten mints per transaction")
	ErrMaxSupplyLimitReached = errors.New("max supply limit reached")
	ErrInvalidPrice          = errors.New("invalid price")
	ErrURIAlreadySet         = errors.New("uri already set")
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrInvalidRecipient      = errors.New("invalid recipient")

	// ErrClaimsExist is returned when publishing a different root after claims were made
	// against the current one
	ErrClaimsExist = errors.New("root cannot change once claims exist")
)
