package provider

import (
	"fmt"
	"time"

	"github.com/status-im/wallet-router/accounts"
	"github.com/status-im/wallet-router/logutils"
	"github.com/status-im/wallet-router/network"
	"github.com/status-im/wallet-router/permissions"
)

// Builder constructs provider engines. One builder serves all
// connections; the per-connection state lives in the engine.
type Builder struct {
	Networks    *network.Manager
	Selected    *network.SelectedNetworkManager
	Permissions permissions.Store
	Approvals   Approvals
	Queue       *RequestQueue
	Throttle    *OriginThrottle
	Submitter   TransactionSubmitter

	SelectedAccount    func() accounts.Account
	OnboardingComplete func() bool
	OpenOnboarding     func(origin string)

	SubscriptionBackend SubscriptionBackend
	// SubscriptionPollPeriod overrides the default poll cadence in tests.
	SubscriptionPollPeriod time.Duration

	Caller Caller
	Snaps  SnapHandler
}

// ConnectionParams identifies the connection an engine is built for.
type ConnectionParams struct {
	Origin          string
	SubjectType     SubjectType
	TabID           int
	MainFrameOrigin string
}

// Build assembles the pipeline for one connection. The stage order is the
// documented fixed order; reordering any two stages breaks an invariant
// noted on the stage definitions.
func (b *Builder) Build(params ConnectionParams) (*Engine, error) {
	switch params.SubjectType {
	case SubjectInternal, SubjectWebsite, SubjectExtension, SubjectSnap:
	default:
		return nil, fmt.Errorf("unknown subject type %q for origin %s", params.SubjectType, params.Origin)
	}

	logger := logutils.ZapLogger().Named("provider")

	stages := make([]Stage, 0, 16)

	// 1: every downstream stage keys off the attached origin.
	stages = append(stages, Stage{"origin", originMiddleware(params.Origin, params.MainFrameOrigin)})

	// 2: single network resolution point; downstream stages consume the
	// resolved id as data.
	stages = append(stages, Stage{"selected-network", selectedNetworkMiddleware(b.Selected.NetworkClientIDForDomain)})

	// 3: must precede every method implementation that could observe a
	// stale network.
	stages = append(stages, Stage{"request-queue", b.Queue.Middleware()})

	// 4
	if params.TabID != 0 {
		stages = append(stages, Stage{"tab-id", tabIDMiddleware(params.TabID)})
	}

	// 5: side-effect only.
	stages = append(stages, Stage{"logger", loggerMiddleware(logger)})

	// 6: abuse throttling, external subjects only.
	if params.SubjectType != SubjectInternal {
		stages = append(stages, Stage{"origin-throttle", b.Throttle.Middleware()})
	}

	// 7: fail fast before permission checks are paid.
	stages = append(stages, Stage{"unsupported-methods", unsupportedMethodsMiddleware()})

	// 8: deliberately ahead of the gate; must answer unpermissioned
	// callers with a safe empty result.
	stages = append(stages, Stage{"legacy-accounts", legacyAccountsMiddleware(b.Permissions)})

	// 9: everything below may assume a permitted caller.
	if params.SubjectType != SubjectInternal {
		stages = append(stages, Stage{"permission-gate", permissionGateMiddleware(b.Permissions, permissionGateExemptMethods)})
	}

	// 10
	if params.SubjectType == SubjectWebsite {
		stages = append(stages, Stage{"onboarding", onboardingMiddleware(b.OnboardingComplete, b.OpenOnboarding)})
	}

	// 11
	stages = append(stages, Stage{"non-evm-filter", nonEVMFilterMiddleware(func() bool {
		return b.SelectedAccount().IsEVM()
	})})

	// 12: behind the gate because these grant permissions.
	wallet := newWalletMethods(b.Networks, b.Selected, b.Permissions, b.Approvals, b.Queue)
	stages = append(stages, Stage{"wallet-methods", wallet.middleware()})

	// 13
	stages = append(stages, Stage{"snap-methods", snapMethodsMiddleware(b.Snaps, params.SubjectType)})

	// 14
	subs := NewSubscriptionManager(b.SubscriptionBackend, b.SubscriptionPollPeriod)
	stages = append(stages, Stage{"subscriptions", subs.Middleware()})

	// 15
	stages = append(stages, Stage{"signing-methods", signingMethodsMiddleware(b.Submitter, b.SelectedAccount, b.chainIDFor)})

	// 16: terminal.
	stages = append(stages, Stage{"network-forwarder", networkForwarderMiddleware(b.Caller)})

	engine := newEngine(params.Origin, params.SubjectType, stages)
	subs.bind(engine)
	return engine, nil
}

func (b *Builder) chainIDFor(networkClientID string) uint64 {
	client, err := b.Networks.GetNetworkClientByID(networkClientID)
	if err != nil {
		return 0
	}
	return client.ChainID
}
