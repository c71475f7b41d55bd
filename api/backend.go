// Package api assembles the routing core: it accepts raw connections,
// builds provider engines for them, tracks them in the connection registry
// and turns wallet state changes into provider notifications.
package api

import (
	"context"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/status-im/wallet-router/connections"
	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/messenger"
	"github.com/status-im/wallet-router/network"
	"github.com/status-im/wallet-router/permissions"
	"github.com/status-im/wallet-router/provider"
	"github.com/status-im/wallet-router/rpc"
	"github.com/status-im/wallet-router/transport"
)

// Config wires the backend's collaborators.
type Config struct {
	Hub         *messenger.Messenger
	Networks    *network.Manager
	Selected    *network.SelectedNetworkManager
	Permissions permissions.Store
	Builder     *provider.Builder
}

// Backend owns the connection lifecycle and the state-change fan-out.
type Backend struct {
	networks *network.Manager
	selected *network.SelectedNetworkManager
	perms    permissions.Store
	builder  *provider.Builder
	registry *connections.Registry

	unsubs []messenger.Unsubscribe
	logger *zap.Logger
}

// NewBackend builds the backend and subscribes it to network and
// permission state changes.
func NewBackend(cfg Config) (*Backend, error) {
	b := &Backend{
		networks: cfg.Networks,
		selected: cfg.Selected,
		perms:    cfg.Permissions,
		builder:  cfg.Builder,
		registry: connections.NewRegistry(),
		logger:   logutils.ZapLogger().Named("backend"),
	}

	bus := cfg.Hub.NewRestricted("Backend", nil, []string{
		network.EventStateChange,
		network.EventSelectedNetworkChange,
		permissions.EventStateChange,
	})

	subscriptions := []struct {
		event   string
		handler messenger.EventHandler
	}{
		{network.EventStateChange, b.onNetworkStateChange},
		{network.EventSelectedNetworkChange, b.onSelectedNetworkChange},
		{permissions.EventStateChange, b.onPermissionStateChange},
	}
	for _, s := range subscriptions {
		unsub, err := bus.Subscribe(s.event, s.handler)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.unsubs = append(b.unsubs, unsub)
	}

	return b, nil
}

// Close detaches the backend from the hub. Live connections keep running;
// they just stop receiving state-change notifications.
func (b *Backend) Close() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
}

// Registry exposes the connection table, mainly to tests and debug
// tooling.
func (b *Backend) Registry() *connections.Registry { return b.registry }

// HandleConnection serves one multiplexed duplex connection until it ends.
// The provider substream gets a pipeline built for the derived subject;
// the multichain substream gets the stub pipeline. Blocks until the
// connection is gone.
func (b *Backend) HandleConnection(conn io.ReadWriteCloser, sender SenderInfo) error {
	origin, subjectType, err := DeriveSubject(sender)
	if err != nil {
		_ = conn.Close()
		return err
	}

	var mainFrameOrigin string
	if sender.MainFrameURL != "" {
		if mfo, err := urlOrigin(sender.MainFrameURL); err == nil {
			mainFrameOrigin = mfo
		}
	}

	engine, err := b.builder.Build(provider.ConnectionParams{
		Origin:          origin,
		SubjectType:     subjectType,
		TabID:           sender.TabID,
		MainFrameOrigin: mainFrameOrigin,
	})
	if err != nil {
		_ = conn.Close()
		return err
	}

	connectionID := b.registry.AddConnection(origin, engine)
	b.logger.Debug("connection opened",
		zap.String("origin", origin), zap.String("connection", connectionID))

	// The connection context ends with the mux: requests parked in the
	// queue middleware must not outlive the connection they arrived on.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mux := transport.NewMux(conn)
	go transport.Pipe(ctx, engine, mux.Substream(transport.StreamProvider))
	go transport.Pipe(ctx, provider.NewMultichainEngine(origin, subjectType),
		mux.Substream(transport.StreamMultichain))

	runErr := mux.Run()
	cancel()

	if connectionID != "" {
		b.registry.RemoveConnection(origin, connectionID)
	}
	engine.Destroy()
	b.logger.Debug("connection closed",
		zap.String("origin", origin), zap.String("connection", connectionID))
	return runErr
}

// onNetworkStateChange reacts to changes of the global selection or the
// client set: every origin is told its effective chain, resolved per
// origin so pinned dapps are not misinformed by a global change.
func (b *Backend) onNetworkStateChange(payload interface{}) {
	if _, ok := payload.(network.State); !ok {
		return
	}
	b.registry.NotifyAllConnections(connections.PayloadFactory(func(origin string) interface{} {
		return b.chainChangedPayload(b.selected.NetworkClientIDForDomain(origin))
	}))
}

// onSelectedNetworkChange tells one origin's connections about their new
// chain.
func (b *Backend) onSelectedNetworkChange(payload interface{}) {
	sel, ok := payload.(network.DomainSelection)
	if !ok {
		return
	}
	if n := b.chainChangedPayload(sel.NetworkClientID); n != nil {
		b.registry.NotifyConnections(sel.Domain, n)
	}
}

func (b *Backend) chainChangedPayload(networkClientID string) interface{} {
	client, err := b.networks.GetNetworkClientByID(networkClientID)
	if err != nil {
		b.logger.Error("state change for unknown network client",
			zap.String("networkClientId", networkClientID), zap.Error(err))
		return nil
	}
	return rpc.NewNotification("chainChanged", map[string]string{
		"chainId": hexutil.EncodeUint64(client.ChainID),
	})
}

// onPermissionStateChange drives revocation cleanup, accountsChanged
// notifications and the forced network switch for origins whose current
// chain is no longer permitted.
func (b *Backend) onPermissionStateChange(payload interface{}) {
	change, ok := payload.(permissions.StateChange)
	if !ok {
		return
	}

	for _, origin := range change.Revoked {
		b.registry.RemoveAllConnections(origin)
		b.selected.ClearDomain(origin)
	}

	for _, origin := range change.AccountsChanged {
		accounts := b.perms.PermittedAccounts(origin)
		hexAccounts := make([]string, len(accounts))
		for i, a := range accounts {
			hexAccounts[i] = a.Hex()
		}
		b.registry.NotifyConnections(origin, rpc.NewNotification("accountsChanged", hexAccounts))
	}

	for _, origin := range change.ChainsChanged {
		b.enforcePermittedChain(origin)
	}
}

// enforcePermittedChain moves an origin off a chain it is no longer
// permitted to use. The switch is registered with the request queue before
// routing state changes, so sensitive requests arriving mid-enforcement
// queue behind it.
func (b *Backend) enforcePermittedChain(origin string) {
	permitted := b.perms.PermittedChains(origin)
	if len(permitted) == 0 {
		return
	}

	current, err := b.networks.GetNetworkClientByID(b.selected.NetworkClientIDForDomain(origin))
	if err == nil {
		for _, chainID := range permitted {
			if chainID == current.ChainID {
				return
			}
		}
	}

	target, ok := b.firstConfiguredClient(permitted)
	if !ok {
		b.logger.Error("no network client for any permitted chain",
			zap.String("origin", origin), zap.Uint64s("chainIds", permitted))
		return
	}

	handle, err := b.builder.Queue.BeginSwitch(origin, target.ID)
	if err != nil {
		b.logger.Warn("forced network switch already pending",
			zap.String("origin", origin), zap.Error(err))
		return
	}
	handle.Resolve(b.selected.SetNetworkClientIDForDomain(origin, target.ID))
}

// firstConfiguredClient returns the client of the first chain in the list
// that has one configured. Permitted chains without a client are skipped.
func (b *Backend) firstConfiguredClient(chainIDs []uint64) (network.Client, bool) {
	for _, chainID := range chainIDs {
		if client, err := b.networks.ClientForChain(chainID); err == nil {
			return client, true
		}
	}
	return network.Client{}, false
}
