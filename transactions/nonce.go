package transactions

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// PendingNonceProvider reads the network's view of an account's next nonce.
type PendingNonceProvider interface {
	PendingNonceAt(ctx context.Context, networkClientID string, account common.Address) (uint64, error)
}

// UnlockNonceFunc releases the nonce lock. inc tells whether the nonce was
// consumed by a submitted transaction.
type UnlockNonceFunc func(inc bool, n uint64)

// Nonce hands out suggested nonces under a per-(address, network) lock.
type Nonce struct {
	addrLock   *AddrLocker
	mu         sync.Mutex
	localNonce map[string]*sync.Map
}

func NewNonce() *Nonce {
	return &Nonce{
		addrLock:   &AddrLocker{},
		localNonce: make(map[string]*sync.Map),
	}
}

// Next acquires the lock for (from, networkClientID) and returns the
// suggested next nonce. The returned unlock must run on every exit path;
// an unreleased lock deadlocks all later submissions for the pair.
func (n *Nonce) Next(ctx context.Context, provider PendingNonceProvider, networkClientID string, from common.Address) (uint64, UnlockNonceFunc, error) {
	n.addrLock.LockAddr(from, networkClientID)
	current, err := n.GetCurrent(ctx, provider, networkClientID, from)
	if err != nil {
		n.addrLock.UnlockAddr(from, networkClientID)
		return 0, nil, err
	}

	var once sync.Once
	unlock := func(inc bool, nonce uint64) {
		once.Do(func() {
			if inc {
				n.network(networkClientID).Store(from, nonce+1)
			}
			n.addrLock.UnlockAddr(from, networkClientID)
		})
	}

	return current, unlock, nil
}

// Peek reads the suggested next nonce without consuming it. The lock is
// held only for the duration of the read.
func (n *Nonce) Peek(ctx context.Context, provider PendingNonceProvider, networkClientID string, from common.Address) (nonce uint64, err error) {
	current, unlock, err := n.Next(ctx, provider, networkClientID, from)
	if err != nil {
		return 0, err
	}
	defer unlock(false, 0)
	return current, nil
}

// GetCurrent returns the higher of the locally tracked and the remote
// nonce. The remote can be ahead when another client sent transactions
// from the same account.
func (n *Nonce) GetCurrent(ctx context.Context, provider PendingNonceProvider, networkClientID string, from common.Address) (uint64, error) {
	var localNonce uint64
	if val, ok := n.network(networkClientID).Load(from); ok {
		localNonce = val.(uint64)
	}

	remoteNonce, err := provider.PendingNonceAt(ctx, networkClientID, from)
	if err != nil {
		return 0, err
	}

	if remoteNonce > localNonce {
		return remoteNonce, nil
	}
	return localNonce, nil
}

func (n *Nonce) network(networkClientID string) *sync.Map {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.localNonce[networkClientID]; !ok {
		n.localNonce[networkClientID] = &sync.Map{}
	}
	return n.localNonce[networkClientID]
}
