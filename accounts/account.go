// Package accounts defines the tagged account model the routing core
// branches on. Keyring internals live elsewhere; the core only needs the
// address and a closed capability set derived from the account kind.
package accounts

import (
	"github.com/ethereum/go-ethereum/common"
)

// Type enumerates the account kinds known to the router. The set is closed:
// routing decisions switch over it exhaustively instead of comparing
// keyring strings at call sites.
type Type string

const (
	// TypeEOA is a plain externally-owned key-pair account.
	TypeEOA Type = "eoa"
	// TypeSeed is an HD-derived key-pair account.
	TypeSeed Type = "seed"
	// TypeKeycard is a key-pair account held on a hardware keycard.
	TypeKeycard Type = "keycard"
	// TypeWatchOnly has no signing capability.
	TypeWatchOnly Type = "watch"
	// TypeERC4337 is a smart-contract account submitting user operations.
	TypeERC4337 Type = "erc4337"
)

// Account is the routing view of a wallet account.
type Account struct {
	Address common.Address `json:"address"`
	Type    Type           `json:"type"`
	Name    string         `json:"name,omitempty"`
	// NonEVM marks accounts that live on a non-EVM chain; EVM-specific
	// methods are rejected while such an account is selected.
	NonEVM bool `json:"nonEVM,omitempty"`
}

// IsSmartContract reports whether transactions from this account go through
// the user-operation path. This is the single branching condition for
// transaction submission.
func (a Account) IsSmartContract() bool {
	return a.Type == TypeERC4337
}

// CanSignTransaction reports whether the account can author transactions
// at all.
func (a Account) CanSignTransaction() bool {
	switch a.Type {
	case TypeEOA, TypeSeed, TypeKeycard, TypeERC4337:
		return true
	case TypeWatchOnly:
		return false
	}
	return false
}

// IsEVM reports whether the account lives on an EVM chain.
func (a Account) IsEVM() bool {
	return !a.NonEVM
}
