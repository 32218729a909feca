package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lucy-a11y/shuffle/internal/crm"
	"github.com/lucy-a11y/shuffle/internal/discovery"
	"github.com/lucy-a11y/shuffle/internal/events"
	"github.com/lucy-a11y/shuffle/internal/leads"
	"github.com/lucy-a11y/shuffle/internal/monitoring"
	"github.com/lucy-a11y/shuffle/internal/outreach"
	"github.com/lucy-a11y/shuffle/internal/resilience"
	"github.com/lucy-a11y/shuffle/internal/shuffle"
	"github.com/lucy-a11y/shuffle/internal/store"
	anthropicpkg "github.com/lucy-a11y/shuffle/pkg/anthropic"
	"github.com/lucy-a11y/shuffle/pkg/scanengine"
)

// shuffleEnv holds the store, clients, and services the serve and start
// commands share.
type shuffleEnv struct {
	Store   store.Store
	Events  events.Publisher
	Syncer  *crm.Syncer
	Service *shuffle.Service
	Checker *monitoring.Checker // nil unless monitoring is enabled
}

// Close releases resources held by the environment.
func (e *shuffleEnv) Close() {
	if e.Events != nil {
		if err := e.Events.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	dsn := cfg.Store.DatabaseURL
	if cfg.Store.Driver == "sqlite" && dsn == "" {
		dsn = "shuffle.db"
	}
	st, err := store.Open(ctx, cfg.Store.Driver, dsn, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initEnv validates config for mode and builds every pipeline component.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*shuffleEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &shuffleEnv{Store: st}

	provider, err := discovery.NewProvider(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	disc := discovery.New(provider, st, cfg.Search)

	scanner := scanengine.NewClient(cfg.Scan.BaseURL, cfg.Scan.Key)
	llm := anthropicpkg.NewClient(cfg.Anthropic.Key)

	finder, err := leads.NewFinder(cfg, llm)
	if err != nil {
		env.Close()
		return nil, err
	}

	vendor, err := crm.New(cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	policy := resilience.PolicyFromConfig(cfg.Retry)
	breaker := resilience.NewBreaker("crm", resilience.BreakerFromConfig(cfg.CRM))
	env.Syncer = crm.NewSyncer(vendor, st, breaker, crm.WithRetryPolicy(policy))

	writer := outreach.New(
		outreach.NewAnthropicGenerator(llm, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens),
		st,
		outreach.WithRetryPolicy(policy),
		outreach.WithTimeout(cfg.Timeouts.Generate()),
	)

	env.Events, err = events.New(ctx, cfg.Events)
	if err != nil {
		env.Close()
		return nil, err
	}

	orch := shuffle.NewOrchestrator(shuffle.Deps{
		Store:      st,
		Discoverer: disc,
		Scanner:    scanner,
		Finder:     finder,
		CRM:        env.Syncer,
		Scripts:    writer,
		Events:     env.Events,
	}, cfg)
	env.Service = shuffle.NewService(orch)

	if cfg.Monitoring.Enabled {
		env.Checker = monitoring.NewChecker(
			monitoring.NewCollector(st),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
	}

	zap.L().Info("pipeline initialized",
		zap.String("search", disc.Provider()),
		zap.String("leads", finder.Name()),
		zap.String("crm", env.Syncer.Provider()),
		zap.String("events", cfg.Events.Provider),
		zap.Int("concurrency", shuffle.ClampConcurrency(cfg.Pipeline.Concurrency)),
	)
	return env, nil
}
