package permissions

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/status-im/wallet-router/messenger"
)

// MemoryStore is an in-process Store. The production permission system
// lives behind the messenger; this implementation backs tests and the
// standalone daemon.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string][]common.Address
	chains   map[string][]uint64

	bus *messenger.Restricted
}

// NewMemoryStore builds an empty store. hub may be nil in tests that do
// not observe state changes.
func NewMemoryStore(hub *messenger.Messenger) *MemoryStore {
	s := &MemoryStore{
		accounts: make(map[string][]common.Address),
		chains:   make(map[string][]uint64),
	}
	if hub != nil {
		s.bus = hub.NewRestricted("PermissionController", nil, []string{EventStateChange})
	}
	return s
}

func (s *MemoryStore) HasPermission(origin, permission string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch permission {
	case PermissionEthAccounts:
		return len(s.accounts[origin]) > 0
	case PermissionPermittedChains:
		return len(s.chains[origin]) > 0
	}
	return false
}

func (s *MemoryStore) PermittedAccounts(origin string) []common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.Address(nil), s.accounts[origin]...)
}

func (s *MemoryStore) PermittedChains(origin string) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]uint64(nil), s.chains[origin]...)
}

func (s *MemoryStore) GrantPermissions(origin string, accounts []common.Address) error {
	s.mu.Lock()
	s.accounts[origin] = append([]common.Address(nil), accounts...)
	s.mu.Unlock()
	return s.publish(StateChange{AccountsChanged: []string{origin}})
}

// SetPermittedChains replaces the origin's chain caveat and announces the
// change so routing can react before queued requests proceed.
func (s *MemoryStore) SetPermittedChains(origin string, chains []uint64) error {
	s.mu.Lock()
	s.chains[origin] = append([]uint64(nil), chains...)
	s.mu.Unlock()
	return s.publish(StateChange{ChainsChanged: []string{origin}})
}

func (s *MemoryStore) RevokePermissions(origin string) error {
	s.mu.Lock()
	delete(s.accounts, origin)
	delete(s.chains, origin)
	s.mu.Unlock()
	return s.publish(StateChange{Revoked: []string{origin}})
}

func (s *MemoryStore) publish(change StateChange) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Publish(EventStateChange, change)
}
