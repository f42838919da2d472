// Package app wires the components together from configuration. Both
// binaries build on it.
package app

import (
	"context"
	"fmt"

	"github.com/Rajchodisetti/futures-feed/internal/adapters"
	"github.com/Rajchodisetti/futures-feed/internal/api"
	"github.com/Rajchodisetti/futures-feed/internal/config"
	"github.com/Rajchodisetti/futures-feed/internal/observ"
	"github.com/Rajchodisetti/futures-feed/internal/probe"
	"github.com/Rajchodisetti/futures-feed/internal/refresh"
	"github.com/Rajchodisetti/futures-feed/internal/resolver"
	"github.com/Rajchodisetti/futures-feed/internal/store"
)

// App holds the wired components.
type App struct {
	Config    config.Root
	Store     *store.ContractStore
	Prober    *probe.Prober
	Resolver  *resolver.Resolver
	Gateway   *adapters.GatewayTier // nil when disabled
	Fetcher   *adapters.Fetcher
	Scheduler *refresh.Scheduler
	Hub       *api.Hub
}

// OpenStore opens the configured backend and journal.
func OpenStore(ctx context.Context, cfg config.Root) (*store.ContractStore, error) {
	var kv store.KV
	switch cfg.Store.Backend {
	case "memory":
		kv = store.NewMemoryKV()
	default:
		sq, err := store.NewSQLiteKV(ctx, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		kv = sq
	}

	var opts []store.Option
	if cfg.Store.JournalPath != "" {
		j, err := store.NewJournal(cfg.Store.JournalPath)
		if err != nil {
			kv.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		opts = append(opts, store.WithJournal(j))
	}
	observ.Log("store_opened", map[string]any{
		"backend": cfg.Store.Backend,
		"path":    cfg.Store.Path,
		"journal": cfg.Store.JournalPath,
	})
	return store.New(kv, opts...), nil
}

// Build wires every component. Nothing is started.
func Build(ctx context.Context, cfg config.Root) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Store:  st,
		Prober: probe.New(probe.WithTimeout(cfg.Probe.Timeout())),
		Hub:    api.NewHub(0),
	}
	a.Resolver = resolver.New(st, a.Prober, cfg.ResolverEndpoints())

	if cfg.GatewayEnabled() {
		a.Gateway = adapters.NewGatewayTier(a.Prober, cfg.Endpoints.Session, cfg.Endpoints.Snapshot,
			adapters.WithSessionTTL(cfg.Gateway.SessionTTL()))
	}
	synthetic := adapters.NewSyntheticTier(cfg.Synthetic)
	factory := adapters.NewChainFactory(cfg.Providers, a.Prober, a.Gateway, synthetic, cfg.Gateway.TierTimeout())
	if a.Fetcher, err = factory.CreateFetcher(); err != nil {
		st.Close()
		return nil, fmt.Errorf("create quote chain: %w", err)
	}

	a.Scheduler = refresh.New(cfg.RefreshConfig(), a.Fetcher, st)
	return a, nil
}

// Server builds the HTTP surface over the app.
func (a *App) Server() *api.Server {
	var health []observ.HealthDetail
	if a.Gateway != nil {
		health = append(health, func(ctx context.Context) (string, any) {
			return "gateway", map[string]any{"connected": a.Gateway.Connected(ctx), "info": a.Gateway.ProviderInfo()}
		})
	}
	health = append(health, func(ctx context.Context) (string, any) {
		providers := map[string]any{}
		for _, t := range a.Fetcher.Tiers() {
			if b, ok := t.(adapters.Budgeted); ok {
				providers[string(t.Name())] = b.BudgetStatus()
			}
		}
		return "providers", providers
	})
	health = append(health, func(context.Context) (string, any) {
		return "stream_clients", a.Hub.Clients()
	})

	return api.NewServer(api.Deps{
		Resolver: a.Resolver,
		Store:    a.Store,
		Quotes:   a.Fetcher,
		Active:   a.Scheduler,
		Hub:      a.Hub,
		Health:   health,
	})
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}
