package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/force23airr/stableguard/pkg/config"
	"github.com/force23airr/stableguard/pkg/db/models"
)

// Action classifies an incoming block relative to the chain's checkpoint.
type Action int

const (
	// ActionExtend means the block continues the indexed chain.
	ActionExtend Action = iota
	// ActionDuplicate means the block was already indexed with the same hash.
	ActionDuplicate
	// ActionReorg means the block contradicts indexed history and a rollback
	// must run before it can be applied.
	ActionReorg
)

func (a Action) String() string {
	switch a {
	case ActionExtend:
		return "extend"
	case ActionDuplicate:
		return "duplicate"
	case ActionReorg:
		return "reorg"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// HashStore reads the stored hash ledger.
type HashStore interface {
	StoredBlockHash(ctx context.Context, chainID, blockNumber uint64) (*models.BlockHash, error)
}

// Detector classifies incoming blocks against durable state.
type Detector struct {
	store      HashStore
	chainID    uint64
	startBlock uint64
}

func NewDetector(cfg config.ChainConfig, store HashStore) *Detector {
	return &Detector{store: store, chainID: cfg.ChainID, startBlock: cfg.StartBlock}
}

// Classify decides what to do with a block given the chain's checkpoint.
// A nil checkpoint is a virgin chain: ingestion starts at the configured
// start block, or at whatever height arrives first when none is configured.
// Heights more than one past the tip are a GapError and leave state
// untouched.
func (d *Detector) Classify(ctx context.Context, cp *models.Checkpoint, b *Block) (Action, error) {
	if cp == nil {
		if d.startBlock != 0 && b.Number != d.startBlock {
			return 0, &GapError{ChainID: d.chainID, Expected: d.startBlock, Got: b.Number}
		}
		return ActionExtend, nil
	}

	tip := cp.LastIndexedBlock

	switch {
	case b.Number == tip+1:
		if len(cp.LastBlockHash) == 0 || bytes.Equal(b.ParentHash, cp.LastBlockHash) {
			return ActionExtend, nil
		}
		// Parent disagrees with the indexed tip: the tip itself was orphaned.
		return ActionReorg, nil

	case b.Number <= tip:
		stored, err := d.store.StoredBlockHash(ctx, cp.ChainID, b.Number)
		if err != nil {
			return 0, err
		}
		if stored != nil && bytes.Equal(stored.BlockHash, b.Hash) {
			return ActionDuplicate, nil
		}
		return ActionReorg, nil

	default:
		return 0, &GapError{ChainID: cp.ChainID, Expected: tip + 1, Got: b.Number}
	}
}
