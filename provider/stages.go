package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/status-im/wallet-router/permissions"
	"github.com/status-im/wallet-router/rpc"
)

// SubjectType classifies the connection owner and controls which stages
// apply to its pipeline.
type SubjectType string

const (
	SubjectInternal  SubjectType = "internal"
	SubjectWebsite   SubjectType = "website"
	SubjectExtension SubjectType = "extension"
	SubjectSnap      SubjectType = "snap"
)

// unsupportedMethods are rejected outright, before any permission check is
// paid for them.
var unsupportedMethods = map[string]struct{}{
	"eth_sign":                  {},
	"eth_signTransaction":       {},
	"wallet_registerOnboarding": {},
}

// methodsRequiringNoPermission are always answerable, even for callers
// holding no permissions; they must return a safe result rather than an
// error (an unpermitted dapp probing eth_accounts gets an empty list).
var methodsRequiringNoPermission = map[string]struct{}{
	"eth_accounts": {},
	"eth_coinbase": {},
}

// evmOnlyMethods are rejected while a non-EVM account is selected.
var evmOnlyMethods = map[string]struct{}{
	"eth_sendTransaction":        {},
	"eth_signTypedData_v4":       {},
	"personal_sign":              {},
	"eth_requestAccounts":        {},
	"wallet_requestPermissions":  {},
	"wallet_switchEthereumChain": {},
	"wallet_addEthereumChain":    {},
	"wallet_watchAsset":          {},
}

// originMiddleware stamps the origin (and embedding frame origin) on every
// request. All downstream stages key off these fields and must never see a
// request without them.
func originMiddleware(origin, mainFrameOrigin string) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		req.Origin = origin
		req.MainFrameOrigin = mainFrameOrigin
		return next(ctx, req)
	}
}

// selectedNetworkMiddleware resolves the origin-scoped network client and
// attaches its id. This is the single resolution point: downstream stages
// receive the resolved id as data and never re-query shared state.
func selectedNetworkMiddleware(resolve func(origin string) string) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		req.NetworkClientID = resolve(req.Origin)
		return next(ctx, req)
	}
}

// tabIDMiddleware attaches the sender tab for tab-scoped connections.
func tabIDMiddleware(tabID int) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		req.TabID = tabID
		return next(ctx, req)
	}
}

// loggerMiddleware records traffic. Side effect only, never terminates.
func loggerMiddleware(logger *zap.Logger) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		logger.Debug("rpc request", zap.String("method", req.Method), zap.String("origin", req.Origin))
		resp, err := next(ctx, req)
		if err != nil {
			logger.Debug("rpc request failed", zap.String("method", req.Method), zap.Error(err))
		}
		return resp, err
	}
}

// unsupportedMethodsMiddleware fails fast on methods the wallet refuses to
// serve for anyone.
func unsupportedMethodsMiddleware() Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		if _, ok := unsupportedMethods[req.Method]; ok {
			return nil, rpc.ErrUnsupportedMethod(req.Method)
		}
		return next(ctx, req)
	}
}

// legacyAccountsMiddleware serves the always-available account queries
// ahead of the permission gate: unpermissioned callers get an empty list,
// not an error.
func legacyAccountsMiddleware(caveats permissions.CaveatReader) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		if _, ok := methodsRequiringNoPermission[req.Method]; !ok {
			return next(ctx, req)
		}
		addresses := caveats.PermittedAccounts(req.Origin)
		if req.Method == "eth_coinbase" {
			if len(addresses) == 0 {
				return rpc.NewResultResponse(req.ID, nil), nil
			}
			return rpc.NewResultResponse(req.ID, addresses[0]), nil
		}
		hexAddresses := make([]string, len(addresses))
		for i, a := range addresses {
			hexAddresses[i] = a.Hex()
		}
		return rpc.NewResultResponse(req.ID, hexAddresses), nil
	}
}

// permissionGateMiddleware rejects callers that hold no account permission
// for the origin. Everything below this stage may assume a permitted
// caller; the gate is skipped only for the internal subject type.
func permissionGateMiddleware(checker permissions.Checker, exempt map[string]struct{}) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		if _, ok := exempt[req.Method]; ok {
			return next(ctx, req)
		}
		if !checker.HasPermission(req.Origin, permissions.PermissionEthAccounts) {
			return nil, rpc.ErrUnauthorized(req.Origin)
		}
		return next(ctx, req)
	}
}

// permissionGateExemptMethods may pass the gate unpermissioned because
// they are how a caller obtains permissions (or reads public chain data)
// in the first place.
var permissionGateExemptMethods = map[string]struct{}{
	"eth_requestAccounts":        {},
	"wallet_requestPermissions":  {},
	"wallet_getPermissions":      {},
	"eth_chainId":                {},
	"net_version":                {},
	"wallet_switchEthereumChain": {},
	"wallet_addEthereumChain":    {},
	"eth_subscribe":              {},
	"eth_unsubscribe":            {},
	"eth_blockNumber":            {},
	"eth_call":                   {},
	"eth_getBalance":             {},
	"eth_estimateGas":            {},
	"eth_gasPrice":               {},
}

// onboardingMiddleware intercepts website requests while first-run
// onboarding is incomplete and redirects the user instead of executing
// the method.
func onboardingMiddleware(onboardingComplete func() bool, redirect func(origin string)) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		if onboardingComplete() {
			return next(ctx, req)
		}
		redirect(req.Origin)
		return nil, &rpc.Error{Code: rpc.CodeDisconnected, Message: "wallet onboarding is not complete"}
	}
}

// nonEVMFilterMiddleware rejects EVM-specific methods with a typed error
// while the selected account for this context is a non-EVM account,
// instead of letting them misexecute.
func nonEVMFilterMiddleware(selectedIsEVM func() bool) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		if _, ok := evmOnlyMethods[req.Method]; ok && !selectedIsEVM() {
			return nil, rpc.ErrUnsupportedMethod(req.Method)
		}
		return next(ctx, req)
	}
}
