package provider

import (
	"context"
	"encoding/json"

	"github.com/status-im/wallet-router/rpc"
)

// Caller forwards a raw JSON-RPC call to the network client's endpoint.
type Caller interface {
	CallContext(ctx context.Context, networkClientID, method string, params json.RawMessage) (json.RawMessage, error)
}

// networkForwarderMiddleware is the terminal stage: anything the pipeline
// did not handle is forwarded to the origin's resolved network client.
func networkForwarderMiddleware(caller Caller) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		result, err := caller.CallContext(ctx, req.NetworkClientID, req.Method, req.Params)
		if err != nil {
			return nil, err
		}
		return &rpc.Response{JSONRPC: rpc.Version, ID: req.ID, Result: result}, nil
	}
}

// snapMethods are only served to snap subjects or snap-invocation calls.
var snapMethods = map[string]struct{}{
	"wallet_invokeSnap":       {},
	"wallet_requestSnaps":     {},
	"wallet_getSnaps":         {},
	"wallet_snap_dialog":      {},
	"wallet_snap_notify":      {},
	"wallet_snap_manageState": {},
}

// SnapHandler executes snap RPC methods. Consumed contract; the snap
// runtime lives outside the routing core.
type SnapHandler interface {
	HandleSnapRequest(ctx context.Context, origin, method string, params json.RawMessage) (json.RawMessage, error)
}

// snapMethodsMiddleware serves snap methods when the subject is a snap or
// the request invokes one; everyone else falls through (and typically
// hits the permission gate's judgement or the forwarder's method-not-
// found).
func snapMethodsMiddleware(handler SnapHandler, subjectType SubjectType) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		if _, ok := snapMethods[req.Method]; !ok {
			return next(ctx, req)
		}
		if handler == nil {
			return nil, rpc.ErrUnsupportedMethod(req.Method)
		}
		result, err := handler.HandleSnapRequest(ctx, req.Origin, req.Method, req.Params)
		if err != nil {
			return nil, err
		}
		return &rpc.Response{JSONRPC: rpc.Version, ID: req.ID, Result: result}, nil
	}
}
