// Package onramp links transfers to known fiat on-ramp and off-ramp provider
// wallets.
package onramp

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/db/models"
)

// Directions recorded on matched transfers. A provider wallet receiving
// funds is a customer deposit; a provider wallet sending is a withdrawal
// paid out to the customer.
const (
	DirectionDeposit    = "deposit"
	DirectionWithdrawal = "withdrawal"
)

// WalletSource loads the known provider wallets.
type WalletSource interface {
	ListProviderWallets(ctx context.Context) ([]models.ProviderWallet, error)
}

// LinkStore persists transfer-to-provider links.
type LinkStore interface {
	LinkOnrampTransfer(ctx context.Context, transferID int64, providerID int32, direction string) (bool, error)
}

type walletKey struct {
	chainID uint64
	address string
}

type providerRef struct {
	id   int32
	name string
}

// Registry is the in-memory wallet index plus the persistence hook.
type Registry struct {
	logger *zap.Logger
	source WalletSource
	links  LinkStore

	mu    sync.RWMutex
	index map[walletKey]providerRef
}

func NewRegistry(logger *zap.Logger, source WalletSource, links LinkStore) *Registry {
	return &Registry{
		logger: logger.Named("onramp"),
		source: source,
		links:  links,
		index:  map[walletKey]providerRef{},
	}
}

// Refresh rebuilds the wallet index from the database.
func (r *Registry) Refresh(ctx context.Context) error {
	wallets, err := r.source.ListProviderWallets(ctx)
	if err != nil {
		return fmt.Errorf("refresh onramp registry: %w", err)
	}

	index := make(map[walletKey]providerRef, len(wallets))
	for _, w := range wallets {
		index[walletKey{w.ChainID, string(w.Address)}] = providerRef{w.ProviderID, w.ProviderName}
	}

	r.mu.Lock()
	r.index = index
	r.mu.Unlock()

	r.logger.Info("Onramp registry refreshed", zap.Int("wallets", len(wallets)))
	return nil
}

// Match resolves a transfer against the wallet index. When both endpoints are
// provider wallets the flow is provider-internal and direction is undecidable,
// so the transfer is skipped with ambiguous set.
func (r *Registry) Match(t *models.Transfer) (providerID int32, providerName, direction string, matched, ambiguous bool) {
	r.mu.RLock()
	fromRef, fromOK := r.index[walletKey{t.ChainID, string(t.FromAddress)}]
	toRef, toOK := r.index[walletKey{t.ChainID, string(t.ToAddress)}]
	r.mu.RUnlock()

	switch {
	case fromOK && toOK:
		return 0, "", "", false, true
	case fromOK:
		return fromRef.id, fromRef.name, DirectionWithdrawal, true, false
	case toOK:
		return toRef.id, toRef.name, DirectionDeposit, true, false
	default:
		return 0, "", "", false, false
	}
}

// Process matches a transfer and persists the link. Idempotent: the first
// link for a transfer wins and replays are no-ops.
func (r *Registry) Process(ctx context.Context, t *models.Transfer) error {
	providerID, providerName, direction, matched, ambiguous := r.Match(t)
	if ambiguous {
		r.logger.Warn("Transfer between two provider wallets, skipping",
			zap.Int64("transfer_id", t.ID),
			zap.Uint64("chain_id", t.ChainID))
		return nil
	}
	if !matched {
		return nil
	}

	created, err := r.links.LinkOnrampTransfer(ctx, t.ID, providerID, direction)
	if err != nil {
		return err
	}
	if created {
		r.logger.Debug("Transfer linked to provider",
			zap.Int64("transfer_id", t.ID),
			zap.String("provider", providerName),
			zap.String("direction", direction))
	}
	return nil
}
