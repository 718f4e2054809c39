// Package entity maintains the address-to-entity attribution layer: an
// in-memory label index refreshed from the database, and the attributor that
// stamps transfers with the entities they touch.
package entity

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/db/models"
)

// LabelSource loads the full label set.
type LabelSource interface {
	ListEntityLabels(ctx context.Context) ([]models.EntityLabel, error)
}

// LabelStore is a read-optimized snapshot of entity_labels. One address can
// carry several labels at once, manual and heuristic, global and chain-scoped;
// the index keeps all of them. Lookups happen on every transfer, refreshes
// happen on a cron, so the whole index is rebuilt and swapped under a write
// lock.
type LabelStore struct {
	logger *zap.Logger
	source LabelSource

	mu    sync.RWMutex
	index map[string][]models.EntityLabel
}

func NewLabelStore(logger *zap.Logger, source LabelSource) *LabelStore {
	return &LabelStore{
		logger: logger.Named("labels"),
		source: source,
		index:  map[string][]models.EntityLabel{},
	}
}

// Refresh rebuilds the index from the database. Safe to call concurrently
// with lookups.
func (s *LabelStore) Refresh(ctx context.Context) error {
	labels, err := s.source.ListEntityLabels(ctx)
	if err != nil {
		return fmt.Errorf("refresh label store: %w", err)
	}

	index := make(map[string][]models.EntityLabel, len(labels))
	for _, l := range labels {
		key := string(l.Address)
		index[key] = append(index[key], l)
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	s.logger.Info("Label store refreshed", zap.Int("labels", len(labels)))
	return nil
}

// Lookup returns every label that applies to an address on a chain: the
// chain-scoped ones first, then the global ones. A label scoped to another
// chain is excluded.
func (s *LabelStore) Lookup(chainID uint64, address []byte) []models.EntityLabel {
	s.mu.RLock()
	all := s.index[string(address)]
	s.mu.RUnlock()

	var scoped, global []models.EntityLabel
	for _, l := range all {
		switch {
		case l.ChainID == nil:
			global = append(global, l)
		case *l.ChainID == chainID:
			scoped = append(scoped, l)
		}
	}
	return append(scoped, global...)
}

// IsSanctioned reports whether the address carries a sanctioned label. Every
// label is screened regardless of chain scope: a sanction anywhere taints the
// address everywhere.
func (s *LabelStore) IsSanctioned(_ uint64, address []byte) (models.EntityLabel, bool) {
	s.mu.RLock()
	all := s.index[string(address)]
	s.mu.RUnlock()

	for _, l := range all {
		if l.Sanctioned() {
			return l, true
		}
	}
	return models.EntityLabel{}, false
}
