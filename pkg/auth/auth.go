package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNotAuthorized is returned when a capability is missing, forged or stale
	ErrNotAuthorized = errors.New("caller is not the owner")

	// ErrInvalidSignature is returned for signatures that cannot be recovered
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidOwner is returned when transferring ownership to the zero address
	ErrInvalidOwner = errors.New("new owner is the zero address")
)

// Capability proves its holder was the owner of an Authority when it was granted.
// The zero value grants nothing.
type Capability struct {
	issuer  *Authority
	subject common.Address
}

// Subject returns the address the capability was granted to
func (c Capability) Subject() common.Address {
	return c.subject
}

// Authority decides who holds administrative rights over one distribution.
type Authority struct {
	mu    sync.RWMutex
	owner common.Address
}

// NewAuthority creates an authority owned by owner
func NewAuthority(owner common.Address) (*Authority, error) {
	if owner == (common.Address{}) {
		return nil, ErrInvalidOwner
	}
	return &Authority{owner: owner}, nil
}

// Owner returns the current owner
func (a *Authority) Owner() common.Address {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.owner
}

// Grant issues a capability to caller if caller is the current owner.
// Hosts call this after authenticating caller by their own means.
func (a *Authority) Grant(caller common.Address) (Capability, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if caller != a.owner {
		return Capability{}, ErrNotAuthorized
	}
	return Capability{issuer: a, subject: caller}, nil
}

// GrantFromSignature recovers the signer of an EIP-191 personal message and grants a
// capability if the signer is the owner.
func (a *Authority) GrantFromSignature(message, signature []byte) (Capability, error) {
	signer, err := RecoverSigner(message, signature)
	if err != nil {
		return Capability{}, err
	}
	return a.Grant(signer)
}

// Validate checks that c was issued by a and that its subject still owns a
func (a *Authority) Validate(c Capability) error {
	if c.issuer != a {
		return ErrNotAuthorized
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if c.subject != a.owner {
		return ErrNotAuthorized
	}
	return nil
}

// TransferOwnership hands administrative rights to newOwner. Capabilities granted to the
// previous owner stop validating.
func (a *Authority) TransferOwnership(c Capability, newOwner common.Address) error {
	if err := a.Validate(c); err != nil {
		return err
	}
	if newOwner == (common.Address{}) {
		return ErrInvalidOwner
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.owner = newOwner
	return nil
}

// RecoverSigner returns the address that produced an EIP-191 personal signature over
// message. Both 27/28 and 0/1 recovery ids are accepted.
func RecoverSigner(message, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignMessage produces an EIP-191 personal signature with a 27/28 recovery id, the
// format wallets return from personal_sign.
func SignMessage(message []byte, sign func(hash []byte) ([]byte, error)) ([]byte, error) {
	sig, err := sign(accounts.TextHash(message))
	if err != nil {
		return nil, err
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signer returned %d bytes", ErrInvalidSignature, len(sig))
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
