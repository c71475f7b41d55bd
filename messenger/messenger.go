// Package messenger is a typed request/response and publish/subscribe hub.
// Components attach through restricted handles that list exactly the action
// and event names they may use, which keeps the dependency graph of the
// routing core statically inspectable.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
)

var (
	ErrActionNotAllowed    = errors.New("action is not allowed for this handle")
	ErrEventNotAllowed     = errors.New("event is not allowed for this handle")
	ErrActionNotRegistered = errors.New("no handler registered for action")
	ErrActionAlreadyExists = errors.New("action handler already registered")
)

// ActionHandler serves a named request/response action.
type ActionHandler func(ctx context.Context, params interface{}) (interface{}, error)

// EventHandler receives a published event payload.
type EventHandler func(payload interface{})

// Unsubscribe removes a previously installed event handler.
type Unsubscribe func()

// Messenger is the process-wide hub. Safe for concurrent use.
type Messenger struct {
	mu          sync.RWMutex
	actions     map[string]ActionHandler
	subscribers map[string]map[int]EventHandler
	nextSubID   int
	logger      *zap.Logger
}

func New() *Messenger {
	return &Messenger{
		actions:     make(map[string]ActionHandler),
		subscribers: make(map[string]map[int]EventHandler),
		logger:      logutils.ZapLogger().Named("messenger"),
	}
}

// RegisterAction installs the handler for a named action. Each action has
// exactly one owner.
func (m *Messenger) RegisterAction(name string, handler ActionHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.actions[name]; ok {
		return fmt.Errorf("%w: %s", ErrActionAlreadyExists, name)
	}
	m.actions[name] = handler
	return nil
}

// UnregisterAction removes the handler for a named action.
func (m *Messenger) UnregisterAction(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actions, name)
}

func (m *Messenger) call(ctx context.Context, name string, params interface{}) (interface{}, error) {
	m.mu.RLock()
	handler, ok := m.actions[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActionNotRegistered, name)
	}
	return handler(ctx, params)
}

func (m *Messenger) publish(event string, payload interface{}) {
	m.mu.RLock()
	handlers := make([]EventHandler, 0, len(m.subscribers[event]))
	for _, h := range m.subscribers[event] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, handler := range handlers {
		m.deliver(event, handler, payload)
	}
}

// deliver isolates subscriber panics so one broken component cannot stop
// event distribution to the rest.
func (m *Messenger) deliver(event string, handler EventHandler, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event subscriber panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	handler(payload)
}

func (m *Messenger) subscribe(event string, handler EventHandler) Unsubscribe {
	m.mu.Lock()
	if m.subscribers[event] == nil {
		m.subscribers[event] = make(map[int]EventHandler)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[event][id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers[event], id)
		if len(m.subscribers[event]) == 0 {
			delete(m.subscribers, event)
		}
	}
}
