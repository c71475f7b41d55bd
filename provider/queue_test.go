package provider

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/status-im/wallet-router/rpc"
)

func sensitiveRequest(origin string) *rpc.Request {
	req := testRequest("eth_sendTransaction")
	req.Origin = origin
	return req
}

func waitForWaiters(t *testing.T, q *RequestQueue, origin string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		q.mu.Lock()
		var count int
		if p := q.pending[origin]; p != nil {
			count = len(p.waiters)
		}
		q.mu.Unlock()
		if count == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never observed %d waiters for %s", n, origin)
}

func TestQueueInsensitiveMethodsBypassPendingSwitch(t *testing.T) {
	q := NewRequestQueue()
	handle, err := q.BeginSwitch("https://dapp.example", "mainnet")
	require.NoError(t, err)
	defer handle.Resolve(nil)

	called := false
	req := testRequest("eth_blockNumber")
	req.Origin = "https://dapp.example"
	_, err = q.Middleware()(context.Background(), req, func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
		called = true
		return rpc.NewResultResponse(req.ID, "0x1"), nil
	})
	require.NoError(t, err)
	require.True(t, called)
}

func TestQueueSecondSwitchForOriginRejected(t *testing.T) {
	q := NewRequestQueue()
	handle, err := q.BeginSwitch("https://dapp.example", "mainnet")
	require.NoError(t, err)
	defer handle.Resolve(nil)

	_, err = q.BeginSwitch("https://dapp.example", "polygon")
	require.ErrorIs(t, err, ErrSwitchAlreadyPending)

	// Other origins keep their own slot.
	other, err := q.BeginSwitch("https://other.example", "polygon")
	require.NoError(t, err)
	other.Resolve(nil)
}

func TestQueueReleasesWaitersInArrivalOrder(t *testing.T) {
	q := NewRequestQueue()
	const origin = "https://dapp.example"

	handle, err := q.BeginSwitch(origin, "mainnet")
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	run := func(i int) {
		defer wg.Done()
		_, err := q.Middleware()(context.Background(), sensitiveRequest(origin), func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return rpc.NewResultResponse(req.ID, nil), nil
		})
		require.NoError(t, err)
	}

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go run(i)
		waitForWaiters(t, q, origin, i)
	}

	handle.Resolve(nil)
	wg.Wait()

	require.Equal(t, []int{1, 2, 3}, order)
}

func TestQueueFailedSwitchStillResumesWaiters(t *testing.T) {
	q := NewRequestQueue()
	const origin = "https://dapp.example"

	handle, err := q.BeginSwitch(origin, "mainnet")
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		_, err := q.Middleware()(context.Background(), sensitiveRequest(origin), func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
			close(released)
			return rpc.NewResultResponse(req.ID, nil), nil
		})
		require.NoError(t, err)
	}()
	waitForWaiters(t, q, origin, 1)

	handle.Resolve(&rpc.Error{Code: rpc.CodeUserRejected, Message: "user rejected the request"})

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not resumed after a failed switch")
	}
	require.False(t, q.SwitchPending(origin))
}

func TestQueueOriginsAreIndependent(t *testing.T) {
	q := NewRequestQueue()

	handle, err := q.BeginSwitch("https://dapp.example", "mainnet")
	require.NoError(t, err)
	defer handle.Resolve(nil)

	called := false
	_, err = q.Middleware()(context.Background(), sensitiveRequest("https://other.example"), func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
		called = true
		return rpc.NewResultResponse(req.ID, nil), nil
	})
	require.NoError(t, err)
	require.True(t, called)
}

func TestQueueContextCancellationAbortsWaiter(t *testing.T) {
	q := NewRequestQueue()
	const origin = "https://dapp.example"

	handle, err := q.BeginSwitch(origin, "mainnet")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Middleware()(ctx, sensitiveRequest(origin), func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
			t.Error("cancelled waiter must not run")
			return nil, nil
		})
		errCh <- err
	}()
	waitForWaiters(t, q, origin, 1)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter did not return")
	}

	// Draining must not hang on the abandoned waiter.
	handle.Resolve(nil)
	require.False(t, q.SwitchPending(origin))
}

func TestQueueReleasedWaiterWithCancelledContextDoesNotRun(t *testing.T) {
	q := NewRequestQueue()
	const origin = "https://dapp.example"

	handle, err := q.BeginSwitch(origin, "mainnet")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Middleware()(ctx, sensitiveRequest(origin), func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
			t.Error("cancelled waiter must not run")
			return nil, nil
		})
		errCh <- err
	}()
	waitForWaiters(t, q, origin, 1)
	require.Equal(t, 1, q.QueuedRequests(origin))

	// Cancel and release together: even if the waiter observes the
	// release first, it must not proceed.
	cancel()
	handle.Resolve(nil)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter did not return")
	}
}

func TestQueueDeferredSwitchRequeuesRemainder(t *testing.T) {
	q := NewRequestQueue()
	const origin = "https://dapp.example"

	first, err := q.BeginSwitch(origin, "mainnet")
	require.NoError(t, err)

	var second *SwitchHandle
	firstRan := make(chan struct{})
	secondRan := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := q.Middleware()(context.Background(), sensitiveRequest(origin), func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
			var beginErr error
			second, beginErr = q.BeginSwitch(origin, "polygon")
			require.NoError(t, beginErr)
			close(firstRan)
			return rpc.NewResultResponse(req.ID, nil), nil
		})
		require.NoError(t, err)
	}()
	waitForWaiters(t, q, origin, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := q.Middleware()(context.Background(), sensitiveRequest(origin), func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
			close(secondRan)
			return rpc.NewResultResponse(req.ID, nil), nil
		})
		require.NoError(t, err)
	}()
	waitForWaiters(t, q, origin, 2)

	first.Resolve(nil)
	<-firstRan

	// The second request is now parked behind the switch the first one
	// started, not released alongside it.
	waitForWaiters(t, q, origin, 1)
	select {
	case <-secondRan:
		t.Fatal("second request ran before the follow-up switch resolved")
	case <-time.After(50 * time.Millisecond):
	}

	second.Resolve(nil)
	wg.Wait()

	select {
	case <-secondRan:
	default:
		t.Fatal("second request never ran")
	}
}
