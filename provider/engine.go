package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/rpc"
)

var (
	ErrEngineDestroyed     = errors.New("engine is destroyed")
	ErrInvalidNotification = errors.New("notification payload must be an rpc notification")
)

// Engine is one logical JSON-RPC pipeline bound to a single connection.
// Requests flow through the fixed stage list; notifications flow the other
// way, from middleware (or the registry) out to the transport.
type Engine struct {
	origin      string
	subjectType SubjectType

	stages []Stage

	feed      event.Feed
	scope     event.SubscriptionScope
	destroyed sync.Once
	dead      chan struct{}
	cleanups  []func()

	logger *zap.Logger
}

func newEngine(origin string, subjectType SubjectType, stages []Stage) *Engine {
	return &Engine{
		origin:      origin,
		subjectType: subjectType,
		stages:      stages,
		dead:        make(chan struct{}),
		logger:      logutils.ZapLogger().Named("provider").With(zap.String("origin", origin)),
	}
}

// Origin returns the origin this engine is bound to.
func (e *Engine) Origin() string { return e.origin }

// StageNames returns the fixed pipeline order. Used by tests and debug
// tooling; the slice is a copy.
func (e *Engine) StageNames() []string {
	names := make([]string, len(e.stages))
	for i, s := range e.stages {
		names[i] = s.Name
	}
	return names
}

// Handle runs one request through the pipeline and returns the terminal
// response. Every failure path is converted into exactly one JSON-RPC
// error response; requests without an id get nil back.
func (e *Engine) Handle(ctx context.Context, req *rpc.Request) *rpc.Response {
	if e.isDestroyed() {
		return e.respond(req, nil, &rpc.Error{Code: rpc.CodeDisconnected, Message: "provider is disconnected"})
	}

	resp, err := e.dispatch(ctx, 0, req)
	return e.respond(req, resp, err)
}

func (e *Engine) dispatch(ctx context.Context, index int, req *rpc.Request) (*rpc.Response, error) {
	if index >= len(e.stages) {
		// the terminal stage did not terminate; a builder bug
		return nil, rpc.ErrMethodNotFound(req.Method)
	}
	stage := e.stages[index]
	return stage.Middleware(ctx, req, func(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
		return e.dispatch(ctx, index+1, req)
	})
}

func (e *Engine) respond(req *rpc.Request, resp *rpc.Response, err error) *rpc.Response {
	if req.IsNotification() {
		return nil
	}
	if err != nil {
		return rpc.NewErrorResponse(req.ID, err)
	}
	if resp == nil {
		return rpc.NewErrorResponse(req.ID, rpc.ErrInternal("middleware returned no response"))
	}
	return resp
}

// Notify emits a server-initiated notification to the transport. The
// payload must be a *rpc.Notification (or value); the registry's payload
// factories produce these.
func (e *Engine) Notify(payload interface{}) error {
	if e.isDestroyed() {
		return ErrEngineDestroyed
	}
	switch n := payload.(type) {
	case *rpc.Notification:
		e.feed.Send(n)
	case rpc.Notification:
		e.feed.Send(&n)
	default:
		return ErrInvalidNotification
	}
	return nil
}

// SubscribeNotifications delivers engine notifications on ch until the
// subscription is unsubscribed or the engine destroyed. Always returns a
// usable subscription, even on a destroyed engine.
func (e *Engine) SubscribeNotifications(ch chan<- *rpc.Notification) event.Subscription {
	sub := e.feed.Subscribe(ch)
	if tracked := e.scope.Track(sub); tracked != nil {
		return tracked
	}
	// Destroy has already closed the scope; the untracked subscription
	// still delivers nothing and its Unsubscribe still works.
	return sub
}

// Dead is closed when the engine is destroyed.
func (e *Engine) Dead() <-chan struct{} { return e.dead }

// onDestroy registers a middleware resource release to run on Destroy.
func (e *Engine) onDestroy(fn func()) {
	e.cleanups = append(e.cleanups, fn)
}

// Destroy releases the engine. Safe to call multiple times; only the
// first call performs teardown.
func (e *Engine) Destroy() {
	e.destroyed.Do(func() {
		close(e.dead)
		for _, fn := range e.cleanups {
			fn()
		}
		e.scope.Close()
		e.logger.Debug("engine destroyed")
	})
}

func (e *Engine) isDestroyed() bool {
	select {
	case <-e.dead:
		return true
	default:
		return false
	}
}
