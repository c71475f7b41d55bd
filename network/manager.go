// Package network tracks the configured network clients and which one is
// selected, globally and per origin. A network client is a connection to a
// specific chain endpoint addressed by an id that is independent of the
// chain id, so several clients may serve the same chain.
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/messenger"
)

// Messenger action and event names owned by this package.
const (
	ActionGetNetworkClientByID = "NetworkController:getNetworkClientById"
	ActionGetState             = "NetworkController:getState"
	EventStateChange           = "NetworkController:stateChange"
)

var (
	ErrClientNotFound  = errors.New("network client not found")
	ErrChainNotFound   = errors.New("no network client for chain")
	ErrNoActiveClients = errors.New("no network clients configured")
)

// Client describes one configured chain endpoint.
type Client struct {
	ID      string `json:"id"`
	ChainID uint64 `json:"chainId"`
	Name    string `json:"name"`
	RPCURL  string `json:"rpcUrl"`
}

// State is the externally visible manager state.
type State struct {
	SelectedNetworkClientID string   `json:"selectedNetworkClientId"`
	Clients                 []Client `json:"networkClients"`
}

// Manager owns the client set and the global selection.
type Manager struct {
	mu       sync.RWMutex
	clients  map[string]Client
	selected string

	bus    *messenger.Restricted
	logger *zap.Logger
}

// NewManager registers the manager's actions on the hub and returns it.
func NewManager(hub *messenger.Messenger, clients []Client) (*Manager, error) {
	if len(clients) == 0 {
		return nil, ErrNoActiveClients
	}

	m := &Manager{
		clients:  make(map[string]Client, len(clients)),
		selected: clients[0].ID,
		bus:      hub.NewRestricted("NetworkController", nil, []string{EventStateChange}),
		logger:   logutils.ZapLogger().Named("network"),
	}
	for _, c := range clients {
		m.clients[c.ID] = c
	}

	if err := hub.RegisterAction(ActionGetNetworkClientByID, func(ctx context.Context, params interface{}) (interface{}, error) {
		id, ok := params.(string)
		if !ok {
			return nil, fmt.Errorf("expected network client id, got %T", params)
		}
		return m.GetNetworkClientByID(id)
	}); err != nil {
		return nil, err
	}
	if err := hub.RegisterAction(ActionGetState, func(ctx context.Context, params interface{}) (interface{}, error) {
		return m.GetState(), nil
	}); err != nil {
		return nil, err
	}

	return m, nil
}

// GetNetworkClientByID resolves a network client id.
func (m *Manager) GetNetworkClientByID(id string) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	client, ok := m.clients[id]
	if !ok {
		return Client{}, fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}
	return client, nil
}

// ClientForChain returns some configured client serving the given chain.
func (m *Manager) ClientForChain(chainID uint64) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.clients {
		if c.ChainID == chainID {
			return c, nil
		}
	}
	return Client{}, fmt.Errorf("%w: %d", ErrChainNotFound, chainID)
}

// ActiveChainIDs lists the chains a client is configured for.
func (m *Manager) ActiveChainIDs() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[uint64]struct{}, len(m.clients))
	ids := make([]uint64, 0, len(m.clients))
	for _, c := range m.clients {
		if _, ok := seen[c.ChainID]; ok {
			continue
		}
		seen[c.ChainID] = struct{}{}
		ids = append(ids, c.ChainID)
	}
	return ids
}

// SelectedNetworkClientID returns the global selection.
func (m *Manager) SelectedNetworkClientID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selected
}

// SetSelectedNetworkClientID changes the global selection and publishes a
// state change.
func (m *Manager) SetSelectedNetworkClientID(id string) error {
	m.mu.Lock()
	if _, ok := m.clients[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClientNotFound, id)
	}
	changed := m.selected != id
	m.selected = id
	m.mu.Unlock()

	if changed {
		m.publishState()
	}
	return nil
}

// Upsert adds or replaces a network client definition.
func (m *Manager) Upsert(client Client) {
	m.mu.Lock()
	m.clients[client.ID] = client
	m.mu.Unlock()
	m.publishState()
}

// GetState snapshots the manager state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := State{SelectedNetworkClientID: m.selected}
	for _, c := range m.clients {
		state.Clients = append(state.Clients, c)
	}
	return state
}

func (m *Manager) publishState() {
	if err := m.bus.Publish(EventStateChange, m.GetState()); err != nil {
		m.logger.Error("failed to publish state change", zap.Error(err))
	}
}
