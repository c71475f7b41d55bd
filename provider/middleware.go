// Package provider builds the per-connection JSON-RPC middleware pipeline
// exposed to dapps, extensions, snaps and the wallet's own UI. Each
// connection gets an Engine with a stage list fixed at construction; the
// stage order encodes load-bearing invariants and is never mutated at
// runtime.
package provider

import (
	"context"

	"github.com/status-im/wallet-router/rpc"
)

// Next passes control to the rest of the pipeline.
type Next func(ctx context.Context, req *rpc.Request) (*rpc.Response, error)

// Middleware either terminates a request with a response (or error), or
// calls next exactly once to pass control on.
type Middleware func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error)

// Stage is a named pipeline position. Names are fixed identifiers used in
// logs and tests; the builder assembles stages in spec order.
type Stage struct {
	Name       string
	Middleware Middleware
}
