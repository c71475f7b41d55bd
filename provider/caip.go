package provider

import (
	"context"

	"github.com/status-im/wallet-router/rpc"
)

// NewMultichainEngine builds the chain-agnostic (CAIP) request pipeline.
//
// The multichain surface is an open integration point: no middleware
// order has been settled for it yet, so the pipeline is a single terminal
// stage that rejects every request with a typed error. Do not grow this
// into a real pipeline piecemeal; it gets a designed stage list or none.
func NewMultichainEngine(origin string, subjectType SubjectType) *Engine {
	return newEngine(origin, subjectType, []Stage{
		{
			Name: "multichain-stub",
			Middleware: func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
				return nil, &rpc.Error{
					Code:    rpc.CodeUnsupported,
					Message: "the multichain provider is not implemented yet",
				}
			},
		},
	})
}
