package transactions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNonceProvider struct {
	nonces map[string]uint64
	err    error
	calls  int
}

func (f *fakeNonceProvider) PendingNonceAt(ctx context.Context, networkClientID string, account common.Address) (uint64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.nonces[networkClientID], nil
}

func TestNextUsesRemoteNonceWhenAhead(t *testing.T) {
	n := NewNonce()
	provider := &fakeNonceProvider{nonces: map[string]uint64{"mainnet": 7}}

	nonce, unlock, err := n.Next(context.Background(), provider, "mainnet", common.Address{1})
	require.NoError(t, err)
	defer unlock(false, 0)

	assert.Equal(t, uint64(7), nonce)
}

func TestNextUsesLocalNonceWhenAhead(t *testing.T) {
	n := NewNonce()
	provider := &fakeNonceProvider{nonces: map[string]uint64{"mainnet": 3}}
	from := common.Address{1}

	nonce, unlock, err := n.Next(context.Background(), provider, "mainnet", from)
	require.NoError(t, err)
	unlock(true, 9) // submitted with nonce 9, local tracker moves to 10

	nonce, unlock, err = n.Next(context.Background(), provider, "mainnet", from)
	require.NoError(t, err)
	defer unlock(false, 0)
	assert.Equal(t, uint64(10), nonce)
}

func TestNonceIsScopedPerNetworkClient(t *testing.T) {
	n := NewNonce()
	provider := &fakeNonceProvider{nonces: map[string]uint64{"mainnet": 0, "polygon": 0}}
	from := common.Address{1}

	_, unlock, err := n.Next(context.Background(), provider, "mainnet", from)
	require.NoError(t, err)
	unlock(true, 5)

	nonce, unlock, err := n.Next(context.Background(), provider, "polygon", from)
	require.NoError(t, err)
	defer unlock(false, 0)
	assert.Equal(t, uint64(0), nonce)
}

func TestNextReleasesLockOnProviderError(t *testing.T) {
	n := NewNonce()
	failing := &fakeNonceProvider{err: errors.New("node down")}
	from := common.Address{1}

	_, _, err := n.Next(context.Background(), failing, "mainnet", from)
	require.Error(t, err)

	// lock must be free again
	working := &fakeNonceProvider{nonces: map[string]uint64{"mainnet": 1}}
	nonce, unlock, err := n.Next(context.Background(), working, "mainnet", from)
	require.NoError(t, err)
	defer unlock(false, 0)
	assert.Equal(t, uint64(1), nonce)
}

func TestPeekReleasesLock(t *testing.T) {
	n := NewNonce()
	provider := &fakeNonceProvider{nonces: map[string]uint64{"mainnet": 2}}
	from := common.Address{1}

	nonce, err := n.Peek(context.Background(), provider, "mainnet", from)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), nonce)

	// a peek must not consume the nonce nor hold the lock
	nonce, unlock, err := n.Next(context.Background(), provider, "mainnet", from)
	require.NoError(t, err)
	defer unlock(false, 0)
	assert.Equal(t, uint64(2), nonce)
}

func TestUnlockIsIdempotent(t *testing.T) {
	n := NewNonce()
	provider := &fakeNonceProvider{nonces: map[string]uint64{"mainnet": 0}}
	from := common.Address{1}

	_, unlock, err := n.Next(context.Background(), provider, "mainnet", from)
	require.NoError(t, err)
	unlock(true, 0)
	unlock(true, 0) // double release must not panic or corrupt the lock

	done := make(chan struct{})
	go func() {
		_, unlock, err := n.Next(context.Background(), provider, "mainnet", from)
		if err == nil {
			unlock(false, 0)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock was not released")
	}
}

func TestLockSerializesSameAddressSameNetwork(t *testing.T) {
	n := NewNonce()
	provider := &fakeNonceProvider{nonces: map[string]uint64{"mainnet": 0}}
	from := common.Address{1}

	_, unlock, err := n.Next(context.Background(), provider, "mainnet", from)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, secondUnlock, err := n.Next(context.Background(), provider, "mainnet", from)
		if err == nil {
			secondUnlock(false, 0)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquisition succeeded while lock held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock(false, 0)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquisition never completed")
	}
}
