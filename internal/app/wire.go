package app

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"nitropay/internal/api"
	"nitropay/internal/chain"
	"nitropay/internal/crypto"
	"nitropay/internal/domain"
	nplog "nitropay/internal/log"
	"nitropay/internal/metrics"
	"nitropay/internal/relay"
	"nitropay/internal/services/identity"
	"nitropay/internal/services/session"
	"nitropay/internal/store"
)

// Wire bundles the stores, services and clients for the CLI.
type Wire struct {
	Config   Config
	Logger   zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Identity *identity.Service
}

// NewWire constructs the process-wide part of the dependency graph from cfg.
// Anything that needs the unlocked wallet is built later by Chain and Session.
func NewWire(cfg Config) (*Wire, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	l := nplog.WithComponent("app")
	logEnvOverrides(l, cfg.overrides)

	return &Wire{
		Config:   cfg,
		Logger:   l,
		Registry: reg,
		Metrics:  metrics.New(reg),
		Identity: identity.New(store.NewWalletFileStore(cfg.Home)),
	}, nil
}

// Chain dials the configured networks; transactions are signed by wallet.
func (w *Wire) Chain(ctx context.Context, wallet *crypto.LocalWallet) (*chain.Client, error) {
	c, err := chain.Dial(ctx, wallet.PrivateKey(), w.Config.Networks, nplog.Base())
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}
	return c, nil
}

// Transports returns the factory for connections to the clearing node.
func (w *Wire) Transports() domain.TransportFactory {
	l := nplog.Base()
	return relay.Factory(w.Config.ClearnodeURL, relay.Options{
		SendRate:  w.Config.SendRate,
		SendBurst: w.Config.SendBurst,
		Logger:    &l,
	})
}

// Session builds an idle controller for wallet settling on ch.
func (w *Wire) Session(wallet domain.WalletSigner, ch domain.Chain) *session.Controller {
	l := nplog.Base()
	return session.New(w.Config.SessionConfig(), session.Deps{
		Wallet:     wallet,
		Chain:      ch,
		Transports: w.Transports(),
		Keys:       crypto.SessionKeyFactory{},
		Logger:     &l,
		Metrics:    w.Metrics,
	})
}

// API builds the HTTP front for ctrl.
func (w *Wire) API(ctrl domain.SessionController) *api.Server {
	l := nplog.Base()
	return api.New(api.Config{
		Session:     ctrl,
		Gatherer:    w.Registry,
		IntentLimit: w.Config.API.IntentLimit,
		Logger:      &l,
	})
}

// logEnvOverrides records which NITROPAY_* variables took effect. Values that
// may carry credentials are masked.
func logEnvOverrides(l zerolog.Logger, overrides map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		l.Debug().Str("key", EnvPrefix+k).Str("value", nplog.SafeStr(k, overrides[k])).Msg("environment override")
	}
}
