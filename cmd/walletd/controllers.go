package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/status-im/wallet-router/network"
	"github.com/status-im/wallet-router/permissions"
	"github.com/status-im/wallet-router/provider"
	"github.com/status-im/wallet-router/transactions"
)

// autoApprovals resolves approval requests without a dialog. The daemon
// serves the wallet's own UI over a local socket; the UI is trusted, so
// every request is approved and account grants expose the configured
// account.
type autoApprovals struct {
	account common.Address
	logger  *zap.Logger
}

func (a autoApprovals) RequestApproval(ctx context.Context, origin, kind string, data interface{}) (interface{}, error) {
	a.logger.Info("auto-approving request",
		zap.String("origin", origin), zap.String("kind", kind))
	if kind == provider.ApprovalRequestAccounts {
		return permissions.Grant{Accounts: []common.Address{a.account}}, nil
	}
	return nil, nil
}

// nodeTransactionController submits plain transactions by forwarding
// eth_sendTransaction to the node serving the network client. Signing
// happens node-side; this controller exists for development setups where
// the node holds unlocked accounts.
type nodeTransactionController struct {
	dialer *network.Dialer

	mu      sync.Mutex
	records map[common.Hash]*transactions.Record
}

func newNodeTransactionController(dialer *network.Dialer) *nodeTransactionController {
	return &nodeTransactionController{
		dialer:  dialer,
		records: make(map[common.Hash]*transactions.Record),
	}
}

func (c *nodeTransactionController) AddTransaction(ctx context.Context, req transactions.AddTransactionRequest) (*transactions.Record, <-chan transactions.HashResult, error) {
	record := &transactions.Record{
		ID:              uuid.NewString(),
		ChainID:         req.ChainID,
		NetworkClientID: req.NetworkClientID,
		Origin:          req.Origin,
		Status:          transactions.StatusUnapproved,
		Args:            req.Args,
	}

	params, err := json.Marshal([]transactions.SendTxArgs{req.Args})
	if err != nil {
		return nil, nil, err
	}

	hashCh := make(chan transactions.HashResult, 1)
	go func() {
		defer close(hashCh)
		result, err := c.dialer.CallContext(context.Background(), req.NetworkClientID, "eth_sendTransaction", params)
		if err != nil {
			hashCh <- transactions.HashResult{Err: err}
			return
		}
		var hash common.Hash
		if err := json.Unmarshal(result, &hash); err != nil {
			hashCh <- transactions.HashResult{Err: fmt.Errorf("node returned a malformed hash: %w", err)}
			return
		}

		c.mu.Lock()
		record.Hash = hash
		record.Status = transactions.StatusSubmitted
		c.records[hash] = record
		c.mu.Unlock()

		hashCh <- transactions.HashResult{Hash: hash}
	}()

	return record, hashCh, nil
}

func (c *nodeTransactionController) GetTransactionByHash(hash common.Hash) (*transactions.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.records[hash]
	if !ok {
		return nil, fmt.Errorf("no transaction record for %s", hash.Hex())
	}
	return record, nil
}

// noBundlerController rejects the user-operation path. The daemon has no
// ERC-4337 bundler configuration yet.
type noBundlerController struct{}

func (noBundlerController) AddUserOperationFromTransaction(ctx context.Context, req transactions.AddUserOperationRequest) (*transactions.UserOperationResult, error) {
	return nil, errors.New("no ERC-4337 bundler configured")
}

func (noBundlerController) StartPollingByNetworkClientID(networkClientID string) {}

// nodeSubscriptionBackend serves subscription polls against the node.
// newHeads reports the latest block when it changes; logs replays
// eth_getLogs for new blocks since the previous poll.
type nodeSubscriptionBackend struct {
	dialer *network.Dialer

	mu        sync.Mutex
	lastHead  map[string]common.Hash
	lastBlock map[string]uint64
}

func newNodeSubscriptionBackend(dialer *network.Dialer) *nodeSubscriptionBackend {
	return &nodeSubscriptionBackend{
		dialer:    dialer,
		lastHead:  make(map[string]common.Hash),
		lastBlock: make(map[string]uint64),
	}
}

type blockHeader struct {
	Hash   common.Hash `json:"hash"`
	Number string      `json:"number"`
}

func (b *nodeSubscriptionBackend) Changes(ctx context.Context, networkClientID, kind string, params json.RawMessage) ([]interface{}, error) {
	switch kind {
	case "newHeads":
		return b.headChanges(ctx, networkClientID)
	case "logs":
		return b.logChanges(ctx, networkClientID, params)
	}
	return nil, fmt.Errorf("unsupported subscription kind %q", kind)
}

func (b *nodeSubscriptionBackend) headChanges(ctx context.Context, networkClientID string) ([]interface{}, error) {
	raw, err := b.dialer.CallContext(ctx, networkClientID, "eth_getBlockByNumber", json.RawMessage(`["latest", false]`))
	if err != nil {
		return nil, err
	}
	var header blockHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastHead[networkClientID] == header.Hash {
		return nil, nil
	}
	b.lastHead[networkClientID] = header.Hash
	var head interface{}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	return []interface{}{head}, nil
}

func (b *nodeSubscriptionBackend) logChanges(ctx context.Context, networkClientID string, params json.RawMessage) ([]interface{}, error) {
	var latest string
	raw, err := b.dialer.CallContext(ctx, networkClientID, "eth_blockNumber", nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &latest); err != nil {
		return nil, err
	}

	b.mu.Lock()
	from := b.lastBlock[networkClientID]
	b.mu.Unlock()

	filter := map[string]interface{}{
		"fromBlock": fmt.Sprintf("0x%x", from),
		"toBlock":   latest,
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &filter); err != nil {
			return nil, err
		}
		filter["fromBlock"] = fmt.Sprintf("0x%x", from)
		filter["toBlock"] = latest
	}
	filterParams, err := json.Marshal([]interface{}{filter})
	if err != nil {
		return nil, err
	}

	raw, err = b.dialer.CallContext(ctx, networkClientID, "eth_getLogs", filterParams)
	if err != nil {
		return nil, err
	}
	var logs []interface{}
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, err
	}

	var latestNum uint64
	if _, err := fmt.Sscanf(latest, "0x%x", &latestNum); err == nil {
		b.mu.Lock()
		b.lastBlock[networkClientID] = latestNum + 1
		b.mu.Unlock()
	}
	return logs, nil
}
