package network

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Dialer resolves network client ids to live JSON-RPC connections and
// forwards calls to them. Connections are dialed lazily and reused.
type Dialer struct {
	manager *Manager

	mu      sync.Mutex
	clients map[string]*gethrpc.Client
}

func NewDialer(manager *Manager) *Dialer {
	return &Dialer{
		manager: manager,
		clients: make(map[string]*gethrpc.Client),
	}
}

func (d *Dialer) client(ctx context.Context, networkClientID string) (*gethrpc.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if client, ok := d.clients[networkClientID]; ok {
		return client, nil
	}

	definition, err := d.manager.GetNetworkClientByID(networkClientID)
	if err != nil {
		return nil, err
	}
	client, err := gethrpc.DialContext(ctx, definition.RPCURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", definition.RPCURL)
	}
	d.clients[networkClientID] = client
	return client, nil
}

// CallContext forwards one raw JSON-RPC call to the network client's
// endpoint. params is the positional argument array from the request.
func (d *Dialer) CallContext(ctx context.Context, networkClientID, method string, params json.RawMessage) (json.RawMessage, error) {
	client, err := d.client(ctx, networkClientID)
	if err != nil {
		return nil, err
	}

	var args []interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, errors.Wrap(err, "params must be a positional array")
		}
	}

	var result json.RawMessage
	if err := client.CallContext(ctx, &result, method, args...); err != nil {
		return nil, err
	}
	return result, nil
}

// PendingNonceAt reads the pending-state transaction count of an account.
func (d *Dialer) PendingNonceAt(ctx context.Context, networkClientID string, account common.Address) (uint64, error) {
	client, err := d.client(ctx, networkClientID)
	if err != nil {
		return 0, err
	}
	var result hexutil.Uint64
	if err := client.CallContext(ctx, &result, "eth_getTransactionCount", account, "pending"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// Close releases all dialed connections.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, client := range d.clients {
		client.Close()
		delete(d.clients, id)
	}
}
