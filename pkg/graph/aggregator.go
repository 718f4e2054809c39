// Package graph maintains the incremental wallet-flow aggregates: first-seen
// records, directed edge totals, and the periodic connected-component
// clustering over them.
package graph

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/db/models"
)

// Store is the slice of the database the aggregator needs.
type Store interface {
	AbsorbTransfer(ctx context.Context, t *models.Transfer) (bool, error)
	WalletSeen(ctx context.Context, chainID uint64, address []byte) (bool, error)
}

type seenKey struct {
	chainID uint64
	address string
}

// Aggregator folds transfers into the wallet graph and answers "was this
// address ever seen" without a database roundtrip per transfer. Only
// positive answers are cached: seen stays seen until a rollback rewrites
// history, at which point the affected entries are dropped.
type Aggregator struct {
	logger *zap.Logger
	store  Store
	seen   *xsync.Map[seenKey, struct{}]
}

func NewAggregator(logger *zap.Logger, store Store) *Aggregator {
	return &Aggregator{
		logger: logger.Named("graph"),
		store:  store,
		seen:   xsync.NewMap[seenKey, struct{}](),
	}
}

// Seen reports whether the address appeared on the chain before.
func (a *Aggregator) Seen(ctx context.Context, chainID uint64, address []byte) (bool, error) {
	key := seenKey{chainID, string(address)}
	if _, ok := a.seen.Load(key); ok {
		return true, nil
	}

	seen, err := a.store.WalletSeen(ctx, chainID, address)
	if err != nil {
		return false, err
	}
	if seen {
		a.seen.Store(key, struct{}{})
	}
	return seen, nil
}

// Absorb folds one transfer into the aggregates. Both endpoints count as
// seen afterwards regardless of whether this call won the absorption claim.
func (a *Aggregator) Absorb(ctx context.Context, t *models.Transfer) (bool, error) {
	absorbed, err := a.store.AbsorbTransfer(ctx, t)
	if err != nil {
		return false, err
	}

	a.seen.Store(seenKey{t.ChainID, string(t.FromAddress)}, struct{}{})
	a.seen.Store(seenKey{t.ChainID, string(t.ToAddress)}, struct{}{})

	return absorbed, nil
}

// Invalidate drops cached seen entries for addresses whose history was
// rewritten by a rollback.
func (a *Aggregator) Invalidate(chainID uint64, addresses [][]byte) {
	for _, addr := range addresses {
		a.seen.Delete(seenKey{chainID, string(addr)})
	}
	if len(addresses) > 0 {
		a.logger.Debug("Seen cache invalidated",
			zap.Uint64("chain_id", chainID),
			zap.Int("addresses", len(addresses)))
	}
}
