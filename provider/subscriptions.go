package provider

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/rpc"
)

const defaultSubscriptionPollPeriod = 4 * time.Second

// SubscriptionBackend produces the changes a subscription kind reports
// since the previous poll.
type SubscriptionBackend interface {
	Changes(ctx context.Context, networkClientID, kind string, params json.RawMessage) ([]interface{}, error)
}

type subscription struct {
	id              string
	kind            string
	params          json.RawMessage
	networkClientID string
	quit            chan struct{}
}

// SubscriptionManager multiplexes eth_subscribe-style long-lived
// subscriptions over one engine. Subscription payloads are emitted as
// eth_subscription notifications on the engine itself, so the transport
// listens on a single channel.
type SubscriptionManager struct {
	mu      sync.Mutex
	subs    map[string]*subscription
	backend SubscriptionBackend
	notify  func(payload interface{}) error
	period  time.Duration
	logger  *zap.Logger
}

func NewSubscriptionManager(backend SubscriptionBackend, pollPeriod time.Duration) *SubscriptionManager {
	if pollPeriod == 0 {
		pollPeriod = defaultSubscriptionPollPeriod
	}
	return &SubscriptionManager{
		subs:    make(map[string]*subscription),
		backend: backend,
		period:  pollPeriod,
		logger:  logutils.ZapLogger().Named("subscriptions"),
	}
}

func (m *SubscriptionManager) bind(engine *Engine) {
	m.notify = engine.Notify
	engine.onDestroy(m.RemoveAll)
}

// Middleware serves eth_subscribe and eth_unsubscribe.
func (m *SubscriptionManager) Middleware() Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		switch req.Method {
		case "eth_subscribe":
			return m.subscribe(req)
		case "eth_unsubscribe":
			return m.unsubscribe(req)
		}
		return next(ctx, req)
	}
}

func (m *SubscriptionManager) subscribe(req *rpc.Request) (*rpc.Response, error) {
	var params []json.RawMessage
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, rpc.ErrInvalidParams("missing subscription kind")
	}
	var kind string
	if err := json.Unmarshal(params[0], &kind); err != nil {
		return nil, rpc.ErrInvalidParams("subscription kind must be a string")
	}
	switch kind {
	case "newHeads", "logs":
	default:
		return nil, rpc.ErrUnsupportedMethod("eth_subscribe:" + kind)
	}

	var filter json.RawMessage
	if len(params) > 1 {
		filter = params[1]
	}

	sub := &subscription{
		id:              newSubscriptionID(),
		kind:            kind,
		params:          filter,
		networkClientID: req.NetworkClientID,
		quit:            make(chan struct{}),
	}
	m.mu.Lock()
	m.subs[sub.id] = sub
	m.mu.Unlock()

	go m.poll(sub)

	return rpc.NewResultResponse(req.ID, sub.id), nil
}

func (m *SubscriptionManager) unsubscribe(req *rpc.Request) (*rpc.Response, error) {
	var params []string
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, rpc.ErrInvalidParams("missing subscription id")
	}
	return rpc.NewResultResponse(req.ID, m.remove(params[0])), nil
}

func (m *SubscriptionManager) remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return false
	}
	close(sub.quit)
	delete(m.subs, id)
	return true
}

// RemoveAll cancels every live subscription. Runs on engine destroy.
func (m *SubscriptionManager) RemoveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sub := range m.subs {
		close(sub.quit)
		delete(m.subs, id)
	}
}

// Count reports the number of live subscriptions.
func (m *SubscriptionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *SubscriptionManager) poll(sub *subscription) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			changes, err := m.backend.Changes(context.Background(), sub.networkClientID, sub.kind, sub.params)
			if err != nil {
				m.logger.Debug("subscription poll failed", zap.String("id", sub.id), zap.Error(err))
				continue
			}
			for _, change := range changes {
				m.emit(sub, change)
			}
		case <-sub.quit:
			return
		}
	}
}

func (m *SubscriptionManager) emit(sub *subscription, result interface{}) {
	if m.notify == nil {
		return
	}
	payload := rpc.NewNotification("eth_subscription", map[string]interface{}{
		"subscription": sub.id,
		"result":       result,
	})
	if err := m.notify(payload); err != nil {
		m.logger.Debug("failed to emit subscription payload", zap.String("id", sub.id), zap.Error(err))
	}
}

func newSubscriptionID() string {
	id := uuid.New()
	return "0x" + hex.EncodeToString(id[:])
}
