package provider

import (
	"context"

	"github.com/status-im/wallet-router/accounts"
	"github.com/status-im/wallet-router/rpc"
	"github.com/status-im/wallet-router/transactions"
)

// TransactionSubmitter is the dispatcher contract the pipeline consumes
// for eth_sendTransaction.
type TransactionSubmitter interface {
	SubmitTransaction(ctx context.Context, account accounts.Account, args transactions.SendTxArgs, opts transactions.SubmitOptions) (*transactions.Record, error)
}

// signingMethodsMiddleware implements the account and signing methods
// shared across all subject types. eth_sendTransaction goes through the
// dispatcher and always waits for the hash: the RPC response carries it.
func signingMethodsMiddleware(submitter TransactionSubmitter, selectedAccount func() accounts.Account, chainIDFor func(networkClientID string) uint64) Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		switch req.Method {
		case "eth_sendTransaction":
			return sendTransaction(ctx, req, submitter, selectedAccount, chainIDFor)
		}
		return next(ctx, req)
	}
}

func sendTransaction(ctx context.Context, req *rpc.Request, submitter TransactionSubmitter, selectedAccount func() accounts.Account, chainIDFor func(networkClientID string) uint64) (*rpc.Response, error) {
	args, err := transactions.RPCCallToSendTxArgs(req.Params)
	if err != nil {
		return nil, rpc.ErrInvalidParams(err.Error())
	}

	account := selectedAccount()
	if account.Address != args.From {
		return nil, rpc.ErrUnauthorized(req.Origin)
	}

	record, err := submitter.SubmitTransaction(ctx, account, args, transactions.SubmitOptions{
		Origin:          req.Origin,
		NetworkClientID: req.NetworkClientID,
		ChainID:         chainIDFor(req.NetworkClientID),
		WaitForSubmit:   true,
	})
	if err != nil {
		return nil, err
	}
	return rpc.NewResultResponse(req.ID, record.Hash.Hex()), nil
}
