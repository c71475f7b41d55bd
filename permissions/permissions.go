// Package permissions defines the permission contracts the routing core
// consumes. The caveat data model and its persistence are owned elsewhere;
// the core only asks "may this origin do X" and "which accounts/chains did
// the user expose to this origin".
package permissions

import (
	"github.com/ethereum/go-ethereum/common"
)

// Permission names used by the pipeline.
const (
	PermissionEthAccounts     = "eth_accounts"
	PermissionPermittedChains = "endowment:permitted-chains"
	PermissionRPCEndpoints    = "endowment:rpc"
)

// Messenger event names the core subscribes to.
const (
	EventStateChange = "PermissionController:stateChange"
)

// StateChange is the payload of EventStateChange. Revoked lists origins
// that lost all permissions; AccountsChanged lists origins whose permitted
// account set changed; ChainsChanged lists origins whose permitted chain
// set changed.
type StateChange struct {
	Revoked         []string `json:"revoked,omitempty"`
	AccountsChanged []string `json:"accountsChanged,omitempty"`
	ChainsChanged   []string `json:"chainsChanged,omitempty"`
}

// Grant is the outcome of an approved account-permission request.
type Grant struct {
	Accounts []common.Address `json:"accounts"`
}

// Checker answers permission queries for an origin.
type Checker interface {
	HasPermission(origin, permission string) bool
}

// CaveatReader exposes the user-granted caveat values the pipeline needs.
type CaveatReader interface {
	PermittedAccounts(origin string) []common.Address
	PermittedChains(origin string) []uint64
}

// Granter mutates grants. Only the unrestricted wallet methods behind the
// permission gate may reach it.
type Granter interface {
	GrantPermissions(origin string, accounts []common.Address) error
	RevokePermissions(origin string) error
}

// Store is the full consumed contract.
type Store interface {
	Checker
	CaveatReader
	Granter
}
