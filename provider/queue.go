package provider

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/rpc"
)

// networkSensitiveMethods lists the methods whose result depends on which
// network is active for the origin. These never execute while a network
// switch for the same origin is in flight.
var networkSensitiveMethods = map[string]struct{}{
	"eth_sendTransaction":        {},
	"eth_sendRawTransaction":     {},
	"eth_signTypedData_v4":       {},
	"personal_sign":              {},
	"wallet_switchEthereumChain": {},
	"wallet_addEthereumChain":    {},
	"wallet_watchAsset":          {},
	"eth_requestAccounts":        {},
}

// switchWithoutApprovalMethods are the methods allowed to change the
// origin's network without a separate approval dialog, provided the
// target chain is already permitted for the origin.
var switchWithoutApprovalMethods = map[string]struct{}{
	"wallet_switchEthereumChain": {},
	"wallet_addEthereumChain":    {},
}

// ShouldEnqueue reports whether a method is network-switch sensitive.
func ShouldEnqueue(method string) bool {
	_, ok := networkSensitiveMethods[method]
	return ok
}

// CanSwitchWithoutApproval reports whether a method may switch networks
// without its own approval step.
func CanSwitchWithoutApproval(method string) bool {
	_, ok := switchWithoutApprovalMethods[method]
	return ok
}

// ErrSwitchAlreadyPending is a programming error: switch initiators are
// themselves sensitive methods and therefore serialized by the queue.
var ErrSwitchAlreadyPending = errors.New("a network switch is already pending for origin")

type queueWaiter struct {
	release chan struct{}
	done    chan struct{}
}

type pendingSwitch struct {
	target  string
	waiters []*queueWaiter
}

// RequestQueue serializes network-sensitive methods behind any in-flight
// network switch for the same origin. Origins are fully independent.
type RequestQueue struct {
	mu      sync.Mutex
	pending map[string]*pendingSwitch
	logger  *zap.Logger
}

func NewRequestQueue() *RequestQueue {
	return &RequestQueue{
		pending: make(map[string]*pendingSwitch),
		logger:  logutils.ZapLogger().Named("requestqueue"),
	}
}

// SwitchPending reports whether a switch is in flight for origin.
func (q *RequestQueue) SwitchPending(origin string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[origin] != nil
}

// QueuedRequests reports how many requests are parked behind the origin's
// pending switch.
func (q *RequestQueue) QueuedRequests(origin string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if p := q.pending[origin]; p != nil {
		return len(p.waiters)
	}
	return 0
}

// BeginSwitch records an in-flight network switch for origin. At most one
// switch may be pending per origin.
func (q *RequestQueue) BeginSwitch(origin, targetNetworkClientID string) (*SwitchHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[origin] != nil {
		return nil, ErrSwitchAlreadyPending
	}
	p := &pendingSwitch{target: targetNetworkClientID}
	q.pending[origin] = p
	return &SwitchHandle{queue: q, origin: origin, entry: p}, nil
}

// SwitchHandle resolves one pending switch.
type SwitchHandle struct {
	queue  *RequestQueue
	origin string
	entry  *pendingSwitch
	once   sync.Once
}

// Resolve completes the switch. err is recorded for logging only: whether
// the switch succeeded or failed, every deferred request is resumed; the
// queue never drops a request.
func (h *SwitchHandle) Resolve(err error) {
	h.once.Do(func() {
		q := h.queue
		q.mu.Lock()
		waiters := h.entry.waiters
		h.entry.waiters = nil
		delete(q.pending, h.origin)
		q.mu.Unlock()

		if err != nil {
			q.logger.Warn("network switch failed, resuming deferred requests",
				zap.String("origin", h.origin), zap.Error(err))
		}
		if len(waiters) > 0 {
			go q.drain(h.origin, waiters)
		}
	})
}

// drain resumes deferred requests strictly in arrival order. Each request
// runs to completion before the next is released, so a deferred request
// that starts its own switch re-queues the remainder behind it.
func (q *RequestQueue) drain(origin string, waiters []*queueWaiter) {
	for i, w := range waiters {
		q.mu.Lock()
		if p := q.pending[origin]; p != nil {
			p.waiters = append(p.waiters, waiters[i:]...)
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		close(w.release)
		<-w.done
	}
}

// enqueueIfPending registers a waiter behind the origin's pending switch,
// or returns nil when the request may proceed immediately.
func (q *RequestQueue) enqueueIfPending(origin string) *queueWaiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	p := q.pending[origin]
	if p == nil {
		return nil
	}
	w := &queueWaiter{release: make(chan struct{}), done: make(chan struct{})}
	p.waiters = append(p.waiters, w)
	return w
}

// Middleware defers network-sensitive methods while a switch for the
// request's origin is pending. Suspension is cooperative: the goroutine
// parks on a channel, no thread is held.
func (q *RequestQueue) Middleware() Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		if !ShouldEnqueue(req.Method) {
			return next(ctx, req)
		}

		w := q.enqueueIfPending(req.Origin)
		if w == nil {
			return next(ctx, req)
		}

		select {
		case <-w.release:
		case <-ctx.Done():
		}
		defer close(w.done)
		// A release can race the request's own cancellation; a cancelled
		// request never runs.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}
