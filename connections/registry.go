// Package connections tracks the live RPC engines per origin and fans
// chain-state notifications back out to them.
package connections

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
)

// OriginInternal is the sentinel origin of internally-trusted UI
// connections. They are never tracked in the registry.
const OriginInternal = "wallet-internal"

// Notifier is the engine handle the registry stores. Notify delivers a
// server-initiated notification payload; Destroy releases the engine.
type Notifier interface {
	Notify(payload interface{}) error
	Destroy()
}

// PayloadFactory produces an origin-specific notification payload. It is
// invoked once per origin, not once per connection.
type PayloadFactory func(origin string) interface{}

// Registry is the connection table. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	origins map[string]map[string]Notifier
	logger  *zap.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		origins: make(map[string]map[string]Notifier),
		logger:  logutils.ZapLogger().Named("connections"),
	}
}

// AddConnection registers an engine under origin and returns the new
// connection id. Internal-sentinel connections are not tracked and get an
// empty id.
func (r *Registry) AddConnection(origin string, engine Notifier) string {
	if origin == OriginInternal {
		return ""
	}

	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.origins[origin] == nil {
		r.origins[origin] = make(map[string]Notifier)
	}
	r.origins[origin][id] = engine
	return id
}

// RemoveConnection drops one connection. Unknown origins and ids are a
// no-op: the transport teardown may already have cleaned the entry up.
func (r *Registry) RemoveConnection(origin, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns, ok := r.origins[origin]
	if !ok {
		return
	}
	delete(conns, connectionID)
	if len(conns) == 0 {
		delete(r.origins, origin)
	}
}

// RemoveAllConnections drops every connection for an origin, destroying
// the engines. Used when the origin's permissions are revoked.
func (r *Registry) RemoveAllConnections(origin string) {
	r.mu.Lock()
	conns := r.origins[origin]
	delete(r.origins, origin)
	r.mu.Unlock()

	for _, engine := range conns {
		engine.Destroy()
	}
}

// CountConnections reports the number of live connections for an origin.
func (r *Registry) CountConnections(origin string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.origins[origin])
}

// Origins lists the origins with at least one live connection.
func (r *Registry) Origins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	origins := make([]string, 0, len(r.origins))
	for origin := range r.origins {
		origins = append(origins, origin)
	}
	return origins
}

// NotifyConnections delivers payload to every engine registered under
// origin. Unknown origin is a no-op. A failing engine is logged and
// skipped; delivery to the rest continues.
func (r *Registry) NotifyConnections(origin string, payload interface{}) {
	r.mu.RLock()
	conns := make(map[string]Notifier, len(r.origins[origin]))
	for id, engine := range r.origins[origin] {
		conns[id] = engine
	}
	r.mu.RUnlock()

	for id, engine := range conns {
		r.notify(origin, id, engine, payload)
	}
}

// NotifyAllConnections delivers to every connection across every origin.
// payload may be a PayloadFactory, in which case it is evaluated once per
// origin so different origins can receive different payload shapes.
func (r *Registry) NotifyAllConnections(payload interface{}) {
	factory, isFactory := payload.(PayloadFactory)

	r.mu.RLock()
	byOrigin := make(map[string]map[string]Notifier, len(r.origins))
	for origin, conns := range r.origins {
		copied := make(map[string]Notifier, len(conns))
		for id, engine := range conns {
			copied[id] = engine
		}
		byOrigin[origin] = copied
	}
	r.mu.RUnlock()

	for origin, conns := range byOrigin {
		originPayload := payload
		if isFactory {
			originPayload = factory(origin)
		}
		for id, engine := range conns {
			r.notify(origin, id, engine, originPayload)
		}
	}
}

func (r *Registry) notify(origin, id string, engine Notifier, payload interface{}) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("notification delivery panicked",
				zap.String("origin", origin), zap.String("connection", id), zap.Any("panic", rec))
		}
	}()
	if err := engine.Notify(payload); err != nil {
		r.logger.Error("failed to notify connection",
			zap.String("origin", origin), zap.String("connection", id), zap.Error(err))
	}
}
