// Package ingest wires the full pipeline: database, registries, per-chain
// runners, periodic jobs, and the ops server.
package ingest

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/force23airr/stableguard/app/ops"
	"github.com/force23airr/stableguard/pkg/anomaly"
	"github.com/force23airr/stableguard/pkg/config"
	"github.com/force23airr/stableguard/pkg/db"
	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/db/postgres"
	"github.com/force23airr/stableguard/pkg/entity"
	"github.com/force23airr/stableguard/pkg/graph"
	"github.com/force23airr/stableguard/pkg/ingest"
	"github.com/force23airr/stableguard/pkg/logging"
	"github.com/force23airr/stableguard/pkg/onramp"
	"github.com/force23airr/stableguard/pkg/tokens"
	"github.com/force23airr/stableguard/pkg/utils"
)

type App struct {
	Logger    *zap.Logger
	Config    *config.Config
	Store     *db.Store
	Publisher *ingest.Publisher
	Clusterer *graph.Clusterer

	runners []*ingest.Runner
	sources map[uint64]*ingest.ChannelSource
	pool    pond.Pool
	cron    *cron.Cron
	opsSrv  *ops.Server
}

// Initialize builds the whole pipeline. Fatal on any wiring failure; there is
// no degraded mode worth running in.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	cfg, err := config.Load(utils.Env("CONFIG_PATH", "config.yaml"))
	if err != nil {
		logger.Fatal("Unable to load config", zap.Error(err))
	}

	client, err := postgres.New(ctx, logger, postgres.DefaultPoolConfig("ingest"))
	if err != nil {
		logger.Fatal("Unable to connect to postgres", zap.Error(err))
	}
	store := db.New(client)
	if err := store.InitializeDB(ctx); err != nil {
		logger.Fatal("Unable to initialize database", zap.Error(err))
	}

	publisher, err := ingest.NewPublisher(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to connect event publisher", zap.Error(err))
	}

	tokenRegistry := tokens.NewRegistry(logger, store)
	for _, chain := range cfg.Chains {
		if err := tokenRegistry.Seed(ctx, chain); err != nil {
			logger.Fatal("Unable to seed token registry", zap.Error(err))
		}
	}

	if err := seedAttribution(ctx, store, cfg.Attribution); err != nil {
		logger.Fatal("Unable to seed attribution data", zap.Error(err))
	}

	labels := entity.NewLabelStore(logger, store)
	if err := labels.Refresh(ctx); err != nil {
		logger.Fatal("Unable to load entity labels", zap.Error(err))
	}

	onramps := onramp.NewRegistry(logger, store, store)
	if err := onramps.Refresh(ctx); err != nil {
		logger.Fatal("Unable to load provider wallets", zap.Error(err))
	}

	aggregator := graph.NewAggregator(logger, store)
	engine := anomaly.NewEngine(logger, store, anomaly.DefaultRules(cfg.Anomaly, store, labels))
	attributor := entity.NewAttributor(logger, labels, store)
	clusterer := graph.NewClusterer(logger, store)

	pool := pond.NewPool(utils.EnvInt("WORKER_POOL_SIZE", 32))
	health := ingest.NewHealthTracker()
	ownership := ingest.NewOwnership()

	deps := ingest.Deps{
		Logger:     logger,
		Store:      store,
		Tokens:     tokenRegistry,
		Graph:      aggregator,
		Engine:     engine,
		Attributor: attributor,
		Onramps:    onramps,
		Publisher:  publisher,
		Health:     health,
		Ownership:  ownership,
		Pool:       pool,
	}

	sources := map[uint64]*ingest.ChannelSource{}
	var runners []*ingest.Runner
	for _, chain := range cfg.Chains {
		source := ingest.NewChannelSource(utils.EnvInt("SOURCE_BUFFER", 64))
		sources[chain.ChainID] = source
		runners = append(runners, ingest.NewRunner(chain, source, deps))
	}

	// Background maintenance. Label refreshes pick up writes from the
	// external watchlist loader; reclustering folds new edges into
	// components.
	c := cron.New()
	_, err = c.AddFunc(utils.Env("LABEL_REFRESH_CRON", "@every 10m"), func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := labels.Refresh(jobCtx); err != nil {
			logger.Warn("Label refresh failed", zap.Error(err))
		}
		if err := onramps.Refresh(jobCtx); err != nil {
			logger.Warn("Onramp registry refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("Unable to schedule label refresh", zap.Error(err))
	}
	_, err = c.AddFunc(utils.Env("RECLUSTER_CRON", "@every 30m"), func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		for _, chain := range cfg.Chains {
			if err := clusterer.Recluster(jobCtx, chain.ChainID); err != nil {
				logger.Warn("Recluster failed",
					zap.Uint64("chain_id", chain.ChainID), zap.Error(err))
			}
		}
	})
	if err != nil {
		logger.Fatal("Unable to schedule reclustering", zap.Error(err))
	}

	return &App{
		Logger:    logger,
		Config:    cfg,
		Store:     store,
		Publisher: publisher,
		Clusterer: clusterer,
		runners:   runners,
		sources:   sources,
		pool:      pool,
		cron:      c,
		opsSrv:    ops.NewServer(logger, health),
	}
}

// Source returns the feed for one chain, for embedding block fetchers.
func (a *App) Source(chainID uint64) *ingest.ChannelSource {
	return a.sources[chainID]
}

// Start runs every chain runner and the ops server, blocking until the
// context is canceled or a runner fails hard.
func (a *App) Start(ctx context.Context) {
	a.cron.Start()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range a.runners {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error { return a.opsSrv.Start() })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.opsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		a.Logger.Error("Pipeline stopped", zap.Error(err))
	}
	a.Stop()
}

// Stop releases shared resources.
func (a *App) Stop() {
	a.cron.Stop()
	a.pool.StopAndWait()
	if err := a.Publisher.Close(); err != nil {
		a.Logger.Warn("Publisher close failed", zap.Error(err))
	}
	a.Store.Close()
	a.Logger.Info("Shutdown complete")
}

// seedAttribution writes the config-declared labels and provider wallets.
func seedAttribution(ctx context.Context, store *db.Store, cfg config.AttributionConfig) error {
	for _, l := range cfg.ManualLabels {
		addr, err := utils.ParseAddress(l.Address)
		if err != nil {
			return err
		}
		confidence := l.Confidence
		if confidence == 0 {
			confidence = 1.0
		}
		if err := store.SeedEntityLabel(ctx, models.EntityLabel{
			Address:    addr,
			ChainID:    l.ChainID,
			EntityName: l.EntityName,
			EntityType: l.EntityType,
			Source:     l.Source,
			Confidence: confidence,
		}); err != nil {
			return err
		}
	}

	for _, p := range cfg.Providers {
		providerID, err := store.SeedProvider(ctx, p.Name)
		if err != nil {
			return err
		}
		for _, w := range p.Wallets {
			addr, err := utils.ParseAddress(w.Address)
			if err != nil {
				return err
			}
			if err := store.SeedProviderWallet(ctx, providerID, w.ChainID, addr, w.Label); err != nil {
				return err
			}
		}
	}
	return nil
}
