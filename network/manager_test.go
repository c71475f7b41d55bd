package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/status-im/wallet-router/messenger"
)

func testClients() []Client {
	return []Client{
		{ID: "mainnet", ChainID: 1, Name: "Ethereum Mainnet", RPCURL: "https://mainnet.example"},
		{ID: "polygon", ChainID: 137, Name: "Polygon", RPCURL: "https://polygon.example"},
		{ID: "mainnet-backup", ChainID: 1, Name: "Ethereum Mainnet (backup)", RPCURL: "https://backup.example"},
	}
}

func TestManagerResolvesClientByID(t *testing.T) {
	m, err := NewManager(messenger.New(), testClients())
	require.NoError(t, err)

	client, err := m.GetNetworkClientByID("polygon")
	require.NoError(t, err)
	assert.Equal(t, uint64(137), client.ChainID)

	_, err = m.GetNetworkClientByID("unknown")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestManagerRequiresClients(t *testing.T) {
	_, err := NewManager(messenger.New(), nil)
	assert.ErrorIs(t, err, ErrNoActiveClients)
}

func TestActiveChainIDsDeduplicates(t *testing.T) {
	m, err := NewManager(messenger.New(), testClients())
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{1, 137}, m.ActiveChainIDs())
}

func TestGlobalSelectionChangePublishesState(t *testing.T) {
	hub := messenger.New()
	m, err := NewManager(hub, testClients())
	require.NoError(t, err)

	var states []State
	sub := hub.NewRestricted("test", nil, []string{EventStateChange})
	_, err = sub.Subscribe(EventStateChange, func(payload interface{}) {
		states = append(states, payload.(State))
	})
	require.NoError(t, err)

	require.NoError(t, m.SetSelectedNetworkClientID("polygon"))
	require.NoError(t, m.SetSelectedNetworkClientID("polygon")) // no-op, no event
	assert.Error(t, m.SetSelectedNetworkClientID("unknown"))

	require.Len(t, states, 1)
	assert.Equal(t, "polygon", states[0].SelectedNetworkClientID)
}

func TestDomainSelectionFallsBackToGlobal(t *testing.T) {
	hub := messenger.New()
	m, err := NewManager(hub, testClients())
	require.NoError(t, err)
	s, err := NewSelectedNetworkManager(hub, m)
	require.NoError(t, err)

	assert.Equal(t, "mainnet", s.NetworkClientIDForDomain("https://dapp.example"))

	require.NoError(t, s.SetNetworkClientIDForDomain("https://dapp.example", "polygon"))
	assert.Equal(t, "polygon", s.NetworkClientIDForDomain("https://dapp.example"))
	assert.Equal(t, "mainnet", s.NetworkClientIDForDomain("https://other.example"))

	s.ClearDomain("https://dapp.example")
	assert.Equal(t, "mainnet", s.NetworkClientIDForDomain("https://dapp.example"))
}

func TestDomainSelectionRejectsUnknownClient(t *testing.T) {
	hub := messenger.New()
	m, err := NewManager(hub, testClients())
	require.NoError(t, err)
	s, err := NewSelectedNetworkManager(hub, m)
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetNetworkClientIDForDomain("https://dapp.example", "unknown"), ErrClientNotFound)
}
