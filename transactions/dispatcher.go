package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/status-im/wallet-router/accounts"
	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/messenger"
)

// EventTransactionStatusUpdated is published whenever a user-operation-
// derived transaction record changes, so notification code downstream
// stays decoupled from the submission path.
const EventTransactionStatusUpdated = "TransactionDispatcher:transactionStatusUpdated"

var (
	ErrAccountCannotSign = errors.New("selected account cannot sign transactions")
	ErrNoHashResolution  = errors.New("submission finished without a transaction hash")
)

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusUnapproved Status = "unapproved"
	StatusSubmitted  Status = "submitted"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Record is the in-memory transaction record the controllers maintain.
type Record struct {
	ID              string      `json:"id"`
	ChainID         uint64      `json:"chainId"`
	NetworkClientID string      `json:"networkClientId"`
	Origin          string      `json:"origin"`
	Hash            common.Hash `json:"hash,omitempty"`
	Status          Status      `json:"status"`
	Args            SendTxArgs  `json:"txParams"`
}

// HashResult is the terminal outcome of a submission.
type HashResult struct {
	Hash common.Hash
	Err  error
}

// SubmitOptions carries per-submission options through the dispatcher.
type SubmitOptions struct {
	Origin                string
	ActionID              string
	SecurityAlertResponse json.RawMessage
	RequireApproval       bool
	// WaitForSubmit makes SubmitTransaction block until a hash (or a hard
	// failure) is available. Dapp-originated submissions always wait.
	WaitForSubmit   bool
	NetworkClientID string
	ChainID         uint64
	// SwapMetadata is forwarded to the controllers minus internal-only
	// fields.
	SwapMetadata map[string]interface{}
}

// AddTransactionRequest is what the dispatcher hands to either controller.
type AddTransactionRequest struct {
	Args                  SendTxArgs
	Origin                string
	ActionID              string
	SecurityAlertResponse json.RawMessage
	RequireApproval       bool
	NetworkClientID       string
	ChainID               uint64
	SwapMetadata          map[string]interface{}
}

// TransactionController is the plain-transaction submission contract.
type TransactionController interface {
	AddTransaction(ctx context.Context, req AddTransactionRequest) (*Record, <-chan HashResult, error)
	GetTransactionByHash(hash common.Hash) (*Record, error)
}

// UserOperationParams is the wire shape the user-operation controller
// accepts: quantity fields must be hex-prefixed strings.
type UserOperationParams struct {
	From                 string `json:"from"`
	To                   string `json:"to,omitempty"`
	Value                string `json:"value,omitempty"`
	Data                 string `json:"data,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

// AddUserOperationRequest mirrors AddTransactionRequest for the 4337 path.
type AddUserOperationRequest struct {
	Params          UserOperationParams
	Origin          string
	ActionID        string
	RequireApproval bool
	NetworkClientID string
	ChainID         uint64
	SwapMetadata    map[string]interface{}
}

// UserOperationResult is the controller's submission handle. The hash
// comes from the reported transactionHash, not the submission result.
type UserOperationResult struct {
	Record          *Record
	TransactionHash <-chan HashResult
}

// UserOperationController is the ERC-4337 submission contract. It does
// not poll on its own; the dispatcher must start polling explicitly.
type UserOperationController interface {
	AddUserOperationFromTransaction(ctx context.Context, req AddUserOperationRequest) (*UserOperationResult, error)
	StartPollingByNetworkClientID(networkClientID string)
}

// Dispatcher routes a transaction submission to the plain-transaction or
// the user-operation path based solely on the sender account type, and
// normalizes how callers wait for the resulting hash.
type Dispatcher struct {
	txController     TransactionController
	userOpController UserOperationController
	nonce            *Nonce
	nonceProvider    PendingNonceProvider
	internalOrigin   string
	bus              *messenger.Restricted
	logger           *zap.Logger
}

// Config wires the dispatcher's collaborators.
type Config struct {
	TransactionController   TransactionController
	UserOperationController UserOperationController
	NonceProvider           PendingNonceProvider
	// InternalOrigin marks submissions as wallet-originated; anything else
	// is treated as dapp-originated.
	InternalOrigin string
	Bus            *messenger.Restricted
}

func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		txController:     cfg.TransactionController,
		userOpController: cfg.UserOperationController,
		nonce:            NewNonce(),
		nonceProvider:    cfg.NonceProvider,
		internalOrigin:   cfg.InternalOrigin,
		bus:              cfg.Bus,
		logger:           logutils.ZapLogger().Named("dispatcher"),
	}
}

// SubmitTransaction submits args on behalf of account. The account type
// decides the path once; no other field overrides it. With WaitForSubmit
// the returned record carries the final hash; otherwise the pre-hash
// record is returned immediately and hash resolution continues in the
// background.
func (d *Dispatcher) SubmitTransaction(ctx context.Context, account accounts.Account, args SendTxArgs, opts SubmitOptions) (*Record, error) {
	if !account.CanSignTransaction() {
		return nil, ErrAccountCannotSign
	}
	if !args.Valid() {
		return nil, ErrInvalidSendTxArgs
	}

	// Dapp-originated submissions always require approval and always wait
	// for the hash; there is no fire-and-forget mode for dapps.
	if d.isDappOriginated(opts.Origin) {
		opts.RequireApproval = true
		opts.WaitForSubmit = true
	}

	var (
		record *Record
		hashCh <-chan HashResult
		err    error
	)
	if account.IsSmartContract() {
		record, hashCh, err = d.submitUserOperation(ctx, args, opts)
	} else {
		record, hashCh, err = d.submitTransaction(ctx, args, opts)
	}
	if err != nil {
		return nil, err
	}

	if !opts.WaitForSubmit {
		go d.observeHash(record, hashCh)
		return record, nil
	}

	return d.waitForHash(ctx, record, hashCh)
}

// NextNonce returns the suggested next nonce for display purposes. The
// nonce lock is acquired and released around the read.
func (d *Dispatcher) NextNonce(ctx context.Context, networkClientID string, from common.Address) (uint64, error) {
	return d.nonce.Peek(ctx, d.nonceProvider, networkClientID, from)
}

func (d *Dispatcher) isDappOriginated(origin string) bool {
	return origin != "" && origin != d.internalOrigin
}

func (d *Dispatcher) submitTransaction(ctx context.Context, args SendTxArgs, opts SubmitOptions) (*Record, <-chan HashResult, error) {
	record, hashCh, err := d.txController.AddTransaction(ctx, AddTransactionRequest{
		Args:                  args,
		Origin:                opts.Origin,
		ActionID:              opts.ActionID,
		SecurityAlertResponse: opts.SecurityAlertResponse,
		RequireApproval:       opts.RequireApproval,
		NetworkClientID:       opts.NetworkClientID,
		ChainID:               opts.ChainID,
		SwapMetadata:          opts.SwapMetadata,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add transaction: %w", err)
	}
	return record, hashCh, nil
}

func (d *Dispatcher) submitUserOperation(ctx context.Context, args SendTxArgs, opts SubmitOptions) (*Record, <-chan HashResult, error) {
	result, err := d.userOpController.AddUserOperationFromTransaction(ctx, AddUserOperationRequest{
		Params:          userOperationParams(args),
		Origin:          opts.Origin,
		ActionID:        opts.ActionID,
		RequireApproval: opts.RequireApproval,
		NetworkClientID: opts.NetworkClientID,
		ChainID:         opts.ChainID,
		SwapMetadata:    scrubSwapMetadata(opts.SwapMetadata),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to add user operation: %w", err)
	}

	// The user-operation controller does not poll on its own.
	d.userOpController.StartPollingByNetworkClientID(opts.NetworkClientID)

	return result.Record, result.TransactionHash, nil
}

// waitForHash blocks until the hash future resolves, then re-fetches the
// record by hash: the record handed back at submission time may have been
// superseded since.
func (d *Dispatcher) waitForHash(ctx context.Context, record *Record, hashCh <-chan HashResult) (*Record, error) {
	select {
	case result, ok := <-hashCh:
		if !ok {
			return nil, ErrNoHashResolution
		}
		if result.Err != nil {
			return nil, result.Err
		}
		d.publishStatusUpdate(record, result.Hash)
		if final, err := d.txController.GetTransactionByHash(result.Hash); err == nil && final != nil {
			return final, nil
		}
		record.Hash = result.Hash
		record.Status = StatusSubmitted
		return record, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// observeHash drains the hash future for fire-and-forget callers. The
// caller is not concerned with the result by contract; failures surface
// through the record's own status transitions.
func (d *Dispatcher) observeHash(record *Record, hashCh <-chan HashResult) {
	result, ok := <-hashCh
	if !ok {
		return
	}
	if result.Err != nil {
		d.logger.Debug("background hash resolution failed",
			zap.String("transaction", record.ID), zap.Error(result.Err))
		return
	}
	d.publishStatusUpdate(record, result.Hash)
}

func (d *Dispatcher) publishStatusUpdate(record *Record, hash common.Hash) {
	if d.bus == nil {
		return
	}
	updated := *record
	updated.Hash = hash
	updated.Status = StatusSubmitted
	if err := d.bus.Publish(EventTransactionStatusUpdated, &updated); err != nil {
		d.logger.Error("failed to publish status update", zap.Error(err))
	}
}

// userOperationParams converts SendTxArgs into the hex-prefixed string
// shape the user-operation controller requires.
func userOperationParams(args SendTxArgs) UserOperationParams {
	params := UserOperationParams{
		From: args.From.Hex(),
		Data: args.GetInput().String(),
	}
	if args.To != nil {
		params.To = args.To.Hex()
	}
	if args.Value != nil {
		params.Value = NormalizeHexValue(args.Value.String())
	}
	if args.Gas != nil {
		params.Gas = NormalizeHexValue(args.Gas.String())
	}
	if args.MaxFeePerGas != nil {
		params.MaxFeePerGas = NormalizeHexValue(args.MaxFeePerGas.String())
	}
	if args.MaxPriorityFeePerGas != nil {
		params.MaxPriorityFeePerGas = NormalizeHexValue(args.MaxPriorityFeePerGas.String())
	}
	return params
}

// scrubSwapMetadata removes internal-only fields the user-operation
// controller rejects as unrecognized.
func scrubSwapMetadata(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return nil
	}
	scrubbed := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		if key == "type" {
			continue
		}
		scrubbed[key] = value
	}
	return scrubbed
}
