package transactions

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type lockKey struct {
	address         common.Address
	networkClientID string
}

// AddrLocker provides one mutex per (address, network client) pair. The
// lock serializes nonce allocation for an address on a network across all
// origins and connections.
type AddrLocker struct {
	mu    sync.Mutex
	locks map[lockKey]*sync.Mutex
}

func (l *AddrLocker) lock(address common.Address, networkClientID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[lockKey]*sync.Mutex)
	}
	key := lockKey{address, networkClientID}
	if _, ok := l.locks[key]; !ok {
		l.locks[key] = new(sync.Mutex)
	}
	return l.locks[key]
}

// LockAddr locks an account address on a network. The mutex is never
// freed; the set of (address, network) pairs a wallet touches is small.
func (l *AddrLocker) LockAddr(address common.Address, networkClientID string) {
	l.lock(address, networkClientID).Lock()
}

// UnlockAddr unlocks the mutex of the given account.
func (l *AddrLocker) UnlockAddr(address common.Address, networkClientID string) {
	l.lock(address, networkClientID).Unlock()
}
