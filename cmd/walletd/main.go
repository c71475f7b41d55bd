package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/status-im/wallet-router/accounts"
	"github.com/status-im/wallet-router/api"
	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/messenger"
	"github.com/status-im/wallet-router/network"
	"github.com/status-im/wallet-router/permissions"
	"github.com/status-im/wallet-router/provider"
	"github.com/status-im/wallet-router/transactions"
)

const (
	listenFlag   = "listen"
	logFileFlag  = "log-file"
	logLevelFlag = "log-level"
	rpcURLFlag   = "rpc-url"
	chainIDFlag  = "chain-id"
	accountFlag  = "account"
)

func main() {
	app := &cli.App{
		Name:  "walletd",
		Usage: "wallet request-routing daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  listenFlag,
				Usage: "unix socket to listen on",
				Value: "walletd.sock",
			},
			&cli.StringFlag{
				Name:  logFileFlag,
				Usage: "log to this file instead of stderr",
			},
			&cli.StringFlag{
				Name:  logLevelFlag,
				Usage: "minimum log level (debug, info, warn, error)",
				Value: "info",
			},
			&cli.StringSliceFlag{
				Name:  rpcURLFlag,
				Usage: "chain RPC endpoint, repeatable, paired with --chain-id by position",
			},
			&cli.Int64SliceFlag{
				Name:  chainIDFlag,
				Usage: "chain id of the endpoint at the same --rpc-url position",
			},
			&cli.StringFlag{
				Name:  accountFlag,
				Usage: "selected account address",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cCtx *cli.Context) error {
	if err := setupLogging(cCtx.String(logFileFlag), cCtx.String(logLevelFlag)); err != nil {
		return err
	}
	logger := logutils.ZapLogger().Named("walletd")

	clients, err := networkClients(cCtx.StringSlice(rpcURLFlag), cCtx.Int64Slice(chainIDFlag))
	if err != nil {
		return err
	}

	hub := messenger.New()
	networks, err := network.NewManager(hub, clients)
	if err != nil {
		return err
	}
	selected, err := network.NewSelectedNetworkManager(hub, networks)
	if err != nil {
		return err
	}
	perms := permissions.NewMemoryStore(hub)

	dialer := network.NewDialer(networks)
	defer dialer.Close()

	selectedAccount := accounts.Account{
		Address: common.HexToAddress(cCtx.String(accountFlag)),
		Type:    accounts.TypeEOA,
	}

	dispatcher := transactions.NewDispatcher(transactions.Config{
		TransactionController:   newNodeTransactionController(dialer),
		UserOperationController: noBundlerController{},
		NonceProvider:           dialer,
		InternalOrigin:          "wallet-internal",
		Bus: hub.NewRestricted("TransactionDispatcher", nil,
			[]string{transactions.EventTransactionStatusUpdated}),
	})

	throttle := provider.NewOriginThrottle(rate.Limit(0), 0)
	defer throttle.Stop()

	builder := &provider.Builder{
		Networks:    networks,
		Selected:    selected,
		Permissions: perms,
		Approvals:   autoApprovals{account: selectedAccount.Address, logger: logger},
		Queue:       provider.NewRequestQueue(),
		Throttle:    throttle,
		Submitter:   dispatcher,

		SelectedAccount:    func() accounts.Account { return selectedAccount },
		OnboardingComplete: func() bool { return true },
		OpenOnboarding: func(origin string) {
			logger.Info("onboarding requested", zap.String("origin", origin))
		},

		SubscriptionBackend: newNodeSubscriptionBackend(dialer),

		Caller: dialer,
	}

	backend, err := api.NewBackend(api.Config{
		Hub:         hub,
		Networks:    networks,
		Selected:    selected,
		Permissions: perms,
		Builder:     builder,
	})
	if err != nil {
		return err
	}
	defer backend.Close()

	socket := cCtx.String(listenFlag)
	_ = os.Remove(socket)
	listener, err := net.Listen("unix", socket)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socket, err)
	}
	logger.Info("listening", zap.String("socket", socket),
		zap.Int("networks", len(clients)))

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Closed listener means shutdown, not failure.
			logger.Debug("accept loop finished", zap.Error(err))
			return nil
		}
		go func() {
			// Connections on the local socket come from the wallet's own UI.
			if err := backend.HandleConnection(conn, api.SenderInfo{Internal: true}); err != nil {
				logger.Debug("connection ended with error", zap.Error(err))
			}
		}()
	}
}

func setupLogging(file, level string) error {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if file == "" {
		logger, err := logutils.NewDevelopmentLogger(lvl)
		if err != nil {
			return err
		}
		logutils.OverrideGlobalLogger(logger)
		return nil
	}
	logutils.OverrideGlobalLogger(logutils.NewFileLogger(logutils.FileOptions{Filename: file}, lvl))
	return nil
}

// networkClients pairs the repeated --rpc-url and --chain-id flags by
// position.
func networkClients(urls []string, chainIDs []int64) ([]network.Client, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one --%s is required", rpcURLFlag)
	}
	if len(urls) != len(chainIDs) {
		return nil, fmt.Errorf("--%s and --%s must be given the same number of times", rpcURLFlag, chainIDFlag)
	}

	clients := make([]network.Client, len(urls))
	for i, url := range urls {
		clients[i] = network.Client{
			ID:      fmt.Sprintf("chain-%d", chainIDs[i]),
			ChainID: uint64(chainIDs[i]),
			Name:    fmt.Sprintf("chain %d", chainIDs[i]),
			RPCURL:  url,
		}
	}
	return clients, nil
}
