package provider

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/network"
	"github.com/status-im/wallet-router/permissions"
	"github.com/status-im/wallet-router/rpc"
)

// Approvals is the consumed approval-dialog contract. A user decline is
// reported as an error carrying the user-rejected code.
type Approvals interface {
	RequestApproval(ctx context.Context, origin, kind string, data interface{}) (interface{}, error)
}

// Approval kinds the pipeline raises.
const (
	ApprovalRequestAccounts = "eth_requestAccounts"
	ApprovalSwitchChain     = "wallet_switchEthereumChain"
	ApprovalAddChain        = "wallet_addEthereumChain"
	ApprovalWatchAsset      = "wallet_watchAsset"
)

// walletMethods implements the unrestricted wallet methods. They sit
// behind the permission gate because some of them grant permissions and
// must not be reachable by callers the gate filtered out; the gate itself
// exempts the bootstrap methods.
type walletMethods struct {
	networks  *network.Manager
	selected  *network.SelectedNetworkManager
	perms     permissions.Store
	approvals Approvals
	queue     *RequestQueue
	logger    *zap.Logger
}

func newWalletMethods(networks *network.Manager, selected *network.SelectedNetworkManager, perms permissions.Store, approvals Approvals, queue *RequestQueue) *walletMethods {
	return &walletMethods{
		networks:  networks,
		selected:  selected,
		perms:     perms,
		approvals: approvals,
		queue:     queue,
		logger:    logutils.ZapLogger().Named("walletmethods"),
	}
}

func (w *walletMethods) middleware() Middleware {
	return func(ctx context.Context, req *rpc.Request, next Next) (*rpc.Response, error) {
		switch req.Method {
		case "eth_chainId":
			return w.chainID(req)
		case "net_version":
			return w.netVersion(req)
		case "eth_requestAccounts":
			return w.requestAccounts(ctx, req)
		case "wallet_requestPermissions":
			return w.requestPermissions(ctx, req)
		case "wallet_getPermissions":
			return w.getPermissions(req)
		case "wallet_revokePermissions":
			return w.revokePermissions(req)
		case "wallet_switchEthereumChain":
			return w.switchChain(ctx, req)
		case "wallet_addEthereumChain":
			return w.addChain(ctx, req)
		case "wallet_watchAsset":
			return w.watchAsset(ctx, req)
		}
		return next(ctx, req)
	}
}

func (w *walletMethods) resolveClient(req *rpc.Request) (network.Client, error) {
	client, err := w.networks.GetNetworkClientByID(req.NetworkClientID)
	if err != nil {
		return network.Client{}, rpc.ErrInternal(fmt.Sprintf("request resolved to unknown network client %q", req.NetworkClientID))
	}
	return client, nil
}

func (w *walletMethods) chainID(req *rpc.Request) (*rpc.Response, error) {
	client, err := w.resolveClient(req)
	if err != nil {
		return nil, err
	}
	return rpc.NewResultResponse(req.ID, hexutil.EncodeUint64(client.ChainID)), nil
}

func (w *walletMethods) netVersion(req *rpc.Request) (*rpc.Response, error) {
	client, err := w.resolveClient(req)
	if err != nil {
		return nil, err
	}
	return rpc.NewResultResponse(req.ID, strconv.FormatUint(client.ChainID, 10)), nil
}

func (w *walletMethods) permittedAccountsHex(origin string) []string {
	addresses := w.perms.PermittedAccounts(origin)
	hex := make([]string, len(addresses))
	for i, a := range addresses {
		hex[i] = a.Hex()
	}
	return hex
}

func (w *walletMethods) requestAccounts(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	if w.perms.HasPermission(req.Origin, permissions.PermissionEthAccounts) {
		return rpc.NewResultResponse(req.ID, w.permittedAccountsHex(req.Origin)), nil
	}

	result, err := w.approvals.RequestApproval(ctx, req.Origin, ApprovalRequestAccounts, nil)
	if err != nil {
		return nil, err
	}
	granted, ok := result.(permissions.Grant)
	if !ok {
		return nil, rpc.ErrInternal("approval returned an unexpected account grant")
	}
	if err := w.perms.GrantPermissions(req.Origin, granted.Accounts); err != nil {
		return nil, err
	}
	return rpc.NewResultResponse(req.ID, w.permittedAccountsHex(req.Origin)), nil
}

func (w *walletMethods) requestPermissions(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	result, err := w.approvals.RequestApproval(ctx, req.Origin, ApprovalRequestAccounts, req.Params)
	if err != nil {
		return nil, err
	}
	granted, ok := result.(permissions.Grant)
	if !ok {
		return nil, rpc.ErrInternal("approval returned an unexpected account grant")
	}
	if err := w.perms.GrantPermissions(req.Origin, granted.Accounts); err != nil {
		return nil, err
	}
	return w.getPermissions(req)
}

func (w *walletMethods) getPermissions(req *rpc.Request) (*rpc.Response, error) {
	type permissionDescriptor struct {
		ParentCapability string `json:"parentCapability"`
		Invoker          string `json:"invoker"`
	}
	var descriptors []permissionDescriptor
	if w.perms.HasPermission(req.Origin, permissions.PermissionEthAccounts) {
		descriptors = append(descriptors, permissionDescriptor{
			ParentCapability: permissions.PermissionEthAccounts,
			Invoker:          req.Origin,
		})
	}
	if descriptors == nil {
		descriptors = []permissionDescriptor{}
	}
	return rpc.NewResultResponse(req.ID, descriptors), nil
}

func (w *walletMethods) revokePermissions(req *rpc.Request) (*rpc.Response, error) {
	if err := w.perms.RevokePermissions(req.Origin); err != nil {
		return nil, err
	}
	return rpc.NewResultResponse(req.ID, nil), nil
}

type switchChainParam struct {
	ChainID string `json:"chainId"`
}

func (p *switchChainParam) chainID() (uint64, error) {
	id, err := hexutil.DecodeUint64(p.ChainID)
	if err != nil {
		return 0, rpc.ErrInvalidParams(fmt.Sprintf("malformed chainId: %v", err))
	}
	return id, nil
}

func (w *walletMethods) switchChain(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	var params []switchChainParam
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, rpc.ErrInvalidParams("missing switch parameter")
	}
	chainID, err := params[0].chainID()
	if err != nil {
		return nil, err
	}
	return w.performSwitch(ctx, req, chainID)
}

// performSwitch moves the origin to a client serving chainID. The pending
// switch entry is registered before any suspension point so sensitive
// requests arriving mid-switch queue behind it.
func (w *walletMethods) performSwitch(ctx context.Context, req *rpc.Request, chainID uint64) (*rpc.Response, error) {
	client, err := w.networks.ClientForChain(chainID)
	if err != nil {
		return nil, rpc.ErrChainNotAdded(chainID)
	}

	if req.NetworkClientID == client.ID {
		return rpc.NewResultResponse(req.ID, nil), nil
	}

	handle, err := w.queue.BeginSwitch(req.Origin, client.ID)
	if err != nil {
		return nil, &rpc.Error{Code: rpc.CodeResourceBusy, Message: err.Error()}
	}

	switchErr := w.executeSwitch(ctx, req, client, chainID)
	handle.Resolve(switchErr)
	if switchErr != nil {
		return nil, switchErr
	}
	return rpc.NewResultResponse(req.ID, nil), nil
}

func (w *walletMethods) executeSwitch(ctx context.Context, req *rpc.Request, client network.Client, chainID uint64) error {
	if !w.chainPermitted(req.Origin, chainID) || !CanSwitchWithoutApproval(req.Method) {
		if _, err := w.approvals.RequestApproval(ctx, req.Origin, ApprovalSwitchChain, switchChainParam{ChainID: hexutil.EncodeUint64(chainID)}); err != nil {
			return err
		}
	}
	return w.selected.SetNetworkClientIDForDomain(req.Origin, client.ID)
}

func (w *walletMethods) chainPermitted(origin string, chainID uint64) bool {
	for _, permitted := range w.perms.PermittedChains(origin) {
		if permitted == chainID {
			return true
		}
	}
	return false
}

type addChainParam struct {
	ChainID   string   `json:"chainId"`
	ChainName string   `json:"chainName"`
	RPCURLs   []string `json:"rpcUrls"`
}

func (w *walletMethods) addChain(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	var params []addChainParam
	if err := req.UnmarshalParams(&params); err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return nil, rpc.ErrInvalidParams("missing chain parameter")
	}
	chainID, err := hexutil.DecodeUint64(params[0].ChainID)
	if err != nil {
		return nil, rpc.ErrInvalidParams(fmt.Sprintf("malformed chainId: %v", err))
	}

	// A chain the wallet already knows is treated as a switch request.
	if _, err := w.networks.ClientForChain(chainID); err == nil {
		return w.performSwitch(ctx, req, chainID)
	}

	if len(params[0].RPCURLs) == 0 {
		return nil, rpc.ErrInvalidParams("missing rpcUrls")
	}
	if _, err := w.approvals.RequestApproval(ctx, req.Origin, ApprovalAddChain, params[0]); err != nil {
		return nil, err
	}

	w.networks.Upsert(network.Client{
		ID:      fmt.Sprintf("custom-%d", chainID),
		ChainID: chainID,
		Name:    params[0].ChainName,
		RPCURL:  params[0].RPCURLs[0],
	})
	return w.performSwitch(ctx, req, chainID)
}

func (w *walletMethods) watchAsset(ctx context.Context, req *rpc.Request) (*rpc.Response, error) {
	if _, err := w.approvals.RequestApproval(ctx, req.Origin, ApprovalWatchAsset, req.Params); err != nil {
		return nil, err
	}
	return rpc.NewResultResponse(req.ID, true), nil
}
