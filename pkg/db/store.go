package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/db/postgres"
)

// Store owns every stableguard table. All chains share one database; every
// chain-scoped table carries chain_id so cross-chain writers never contend.
type Store struct {
	postgres.Client
}

// New creates a store on top of an established postgres client.
func New(client postgres.Client) *Store {
	return &Store{Client: client}
}

type initOp struct {
	name string
	fn   func(context.Context) error
}

// InitializeDB ensures the required tables exist. Tables inside a phase are
// created in parallel; tables carrying foreign keys run in a second phase so
// their referents exist before they do.
func (s *Store) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	baseOps := []initOp{
		{"indexer_state", s.initIndexerState},
		{"block_hashes", s.initBlockHashes},
		{"transfers", s.initTransfers},
		{"known_tokens", s.initKnownTokens},
		{"wallet_first_seen", s.initWalletFirstSeen},
		{"wallet_graph_edges", s.initWalletGraphEdges},
		{"wallet_clusters", s.initWalletClusters},
		{"entity_labels", s.initEntityLabels},
		{"watchlist_entries", s.initWatchlistEntries},
		{"onramp_providers", s.initOnrampProviders},
	}
	dependentOps := []initOp{
		{"graph_absorbed", s.initGraphAbsorbed},
		{"anomalies", s.initAnomalies},
		{"transfer_entity_flags", s.initTransferEntityFlags},
		{"provider_wallets", s.initProviderWallets},
		{"onramp_transfers", s.initOnrampTransfers},
	}

	for _, phase := range [][]initOp{baseOps, dependentOps} {
		if err := s.runInitPhase(ctx, phase); err != nil {
			return err
		}
	}

	s.Logger.Info("Database initialized",
		zap.Duration("duration", time.Since(initStart)))

	return nil
}

func (s *Store) runInitPhase(ctx context.Context, ops []initOp) error {
	var wg sync.WaitGroup
	errChan := make(chan error, len(ops))

	for _, op := range ops {
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			s.Logger.Debug("Initializing table", zap.String("table", name))
			if err := fn(ctx); err != nil {
				errChan <- fmt.Errorf("init %s: %w", name, err)
			}
		}(op.name, op.fn)
	}

	wg.Wait()
	close(errChan)

	for err := range errChan {
		return err
	}
	return nil
}
