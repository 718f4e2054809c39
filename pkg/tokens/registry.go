// Package tokens tracks the watched stablecoin contracts per chain.
package tokens

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/config"
	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/utils"
)

// TokenStore persists the token registry.
type TokenStore interface {
	UpsertKnownToken(ctx context.Context, t models.KnownToken) error
	ListKnownTokens(ctx context.Context, chainID uint64) ([]models.KnownToken, error)
}

type tokenKey struct {
	chainID uint64
	address string
}

// Registry is the in-memory token index. Ingestion consults it on every
// event to drop transfers of unwatched contracts and to annotate the rest
// with symbol and decimals.
type Registry struct {
	logger *zap.Logger
	store  TokenStore

	mu    sync.RWMutex
	index map[tokenKey]models.KnownToken
}

func NewRegistry(logger *zap.Logger, store TokenStore) *Registry {
	return &Registry{
		logger: logger.Named("tokens"),
		store:  store,
		index:  map[tokenKey]models.KnownToken{},
	}
}

// Seed registers the configured tokens for one chain, persisting them and
// loading whatever else the database already knows for that chain.
func (r *Registry) Seed(ctx context.Context, chain config.ChainConfig) error {
	for _, tc := range chain.Tokens {
		addr, err := utils.ParseAddress(tc.Address)
		if err != nil {
			return fmt.Errorf("token %s on chain %d: %w", tc.Symbol, chain.ChainID, err)
		}
		token := models.KnownToken{
			ChainID:      chain.ChainID,
			TokenAddress: addr,
			Symbol:       tc.Symbol,
			Decimals:     tc.Decimals,
		}
		if err := r.store.UpsertKnownToken(ctx, token); err != nil {
			return err
		}
	}

	known, err := r.store.ListKnownTokens(ctx, chain.ChainID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	for _, t := range known {
		r.index[tokenKey{t.ChainID, string(t.TokenAddress)}] = t
	}
	r.mu.Unlock()

	r.logger.Info("Token registry seeded",
		zap.Uint64("chain_id", chain.ChainID),
		zap.Int("tokens", len(known)))
	return nil
}

// Lookup resolves a contract address to a watched token.
func (r *Registry) Lookup(chainID uint64, address []byte) (models.KnownToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.index[tokenKey{chainID, string(address)}]
	return t, ok
}
