package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/anomaly"
	"github.com/force23airr/stableguard/pkg/config"
	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/entity"
	"github.com/force23airr/stableguard/pkg/retry"
)

// PipelineStore is the durable state the runner drives.
type PipelineStore interface {
	HashStore
	Checkpoint(ctx context.Context, chainID uint64) (*models.Checkpoint, error)
	RecordBlock(ctx context.Context, bh models.BlockHash, transfers []*models.Transfer) ([]bool, error)
	AdvanceCheckpoint(ctx context.Context, chainID, blockNumber uint64, blockHash []byte) error
	RollbackToHeight(ctx context.Context, chainID, height uint64) ([][]byte, error)
	PruneBlockHashes(ctx context.Context, chainID, tip, maxDepth uint64) (int64, error)
}

// GraphAggregator folds transfers into the wallet graph.
type GraphAggregator interface {
	Seen(ctx context.Context, chainID uint64, address []byte) (bool, error)
	Absorb(ctx context.Context, t *models.Transfer) (bool, error)
	Invalidate(chainID uint64, addresses [][]byte)
}

// AnomalyScorer scores a transfer against the rule set.
type AnomalyScorer interface {
	Evaluate(ctx context.Context, t *models.Transfer, wc anomaly.WalletContext) ([]*anomaly.Finding, error)
}

// EntityAttributor stamps a transfer with matched entities.
type EntityAttributor interface {
	Attribute(ctx context.Context, t *models.Transfer) ([]entity.Hit, error)
}

// OnrampLinker links a transfer to a provider wallet.
type OnrampLinker interface {
	Process(ctx context.Context, t *models.Transfer) error
}

// TokenResolver resolves watched token contracts.
type TokenResolver interface {
	Lookup(chainID uint64, address []byte) (models.KnownToken, bool)
}

// Deps bundles everything a runner needs. All of it is shared across chains
// except the source.
type Deps struct {
	Logger     *zap.Logger
	Store      PipelineStore
	Tokens     TokenResolver
	Graph      GraphAggregator
	Engine     AnomalyScorer
	Attributor EntityAttributor
	Onramps    OnrampLinker
	Publisher  *Publisher
	Health     *HealthTracker
	Ownership  *Ownership
	Pool       pond.Pool
}

// Runner drives ingestion for exactly one chain. Blocks are consumed
// strictly in order; per-transfer downstream work fans out onto the shared
// worker pool and the checkpoint only advances once the whole block landed.
type Runner struct {
	logger   *zap.Logger
	cfg      config.ChainConfig
	source   BlockSource
	detector *Detector
	deps     Deps
	retryCfg retry.Config
}

func NewRunner(cfg config.ChainConfig, source BlockSource, deps Deps) *Runner {
	return &Runner{
		logger:   deps.Logger.Named("runner").With(zap.String("chain", cfg.Name)),
		cfg:      cfg,
		source:   source,
		detector: NewDetector(cfg, deps.Store),
		deps:     deps,
		retryCfg: retry.DefaultConfig(),
	}
}

// Run consumes the source until it closes or the context ends. Transient
// failures are retried with backoff; gaps and deep reorgs halt the chain
// immediately since retrying cannot fix them.
func (r *Runner) Run(ctx context.Context) error {
	if !r.deps.Ownership.Acquire(r.cfg.ChainID, r.cfg.Name) {
		return fmt.Errorf("chain %d already owned by another runner", r.cfg.ChainID)
	}
	defer r.deps.Ownership.Release(r.cfg.ChainID)

	r.deps.Health.Watch(r.cfg.ChainID, r.cfg.Name, r.cfg.PollInterval())
	r.logger.Info("Ingestion started",
		zap.Uint64("chain_id", r.cfg.ChainID),
		zap.Uint64("max_reorg_depth", r.cfg.MaxReorgDepth))

	for {
		block, err := r.source.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrSourceClosed) {
				r.logger.Info("Block source closed, stopping")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("chain %s: next block: %w", r.cfg.Name, err)
		}

		err = retry.WithBackoff(ctx, r.retryCfg, r.logger, "process_block", func() error {
			err := r.handleBlock(ctx, block)
			var gap *GapError
			var deep *DeepReorgError
			if errors.As(err, &gap) || errors.As(err, &deep) {
				return retry.Halt(err)
			}
			return err
		})
		if err != nil {
			err = fmt.Errorf("chain %s: block %d: %w", r.cfg.Name, block.Number, err)
			r.deps.Health.Halted(r.cfg.ChainID, r.cfg.Name, err)
			return err
		}
	}
}

func (r *Runner) handleBlock(ctx context.Context, b *Block) error {
	cp, err := r.deps.Store.Checkpoint(ctx, r.cfg.ChainID)
	if err != nil {
		return err
	}

	action, err := r.detector.Classify(ctx, cp, b)
	if err != nil {
		return err
	}

	switch action {
	case ActionDuplicate:
		r.logger.Debug("Block already indexed", zap.Uint64("block", b.Number))
		return nil

	case ActionReorg:
		ancestor, err := r.rollback(ctx, cp, b)
		if err != nil {
			return err
		}
		if b.Number != ancestor+1 {
			// The incoming block does not sit right above the fork point;
			// the source has to redeliver from there.
			return &GapError{ChainID: r.cfg.ChainID, Expected: ancestor + 1, Got: b.Number}
		}
		return r.applyBlock(ctx, b)

	default:
		return r.applyBlock(ctx, b)
	}
}

// rollback rewinds the chain to the common ancestor of the stored history and
// the source's current view, and returns the ancestor height.
func (r *Runner) rollback(ctx context.Context, cp *models.Checkpoint, b *Block) (uint64, error) {
	tip := cp.LastIndexedBlock

	fork := &Header{Number: b.Number, Hash: b.Hash, ParentHash: b.ParentHash}
	ancestor, err := FindCommonAncestor(ctx, r.source, r.deps.Store,
		r.cfg.ChainID, tip, fork, r.cfg.MaxReorgDepth)
	if err != nil {
		return 0, err
	}

	r.logger.Warn("Reorg detected, rolling back",
		zap.Uint64("tip", tip),
		zap.Uint64("ancestor", ancestor),
		zap.Uint64("depth", tip-ancestor))

	affected, err := r.deps.Store.RollbackToHeight(ctx, r.cfg.ChainID, ancestor)
	if err != nil {
		return 0, err
	}

	r.deps.Graph.Invalidate(r.cfg.ChainID, affected)
	r.deps.Publisher.PublishReorg(ctx, r.cfg.ChainID, tip, ancestor)
	r.deps.Health.ReorgHandled(r.cfg.ChainID)

	return ancestor, nil
}

// applyBlock records the block and fans the per-transfer work out onto the
// pool. Every downstream step is idempotent, so a crash between the record
// and the checkpoint advance is repaired by redelivery.
func (r *Runner) applyBlock(ctx context.Context, b *Block) error {
	transfers := r.collectTransfers(b)

	bh := models.BlockHash{
		ChainID:     r.cfg.ChainID,
		BlockNumber: b.Number,
		BlockHash:   b.Hash,
		ParentHash:  b.ParentHash,
	}
	inserted, err := r.deps.Store.RecordBlock(ctx, bh, transfers)
	if err != nil {
		return err
	}

	contexts, err := r.walletContexts(ctx, transfers)
	if err != nil {
		return err
	}

	group := r.deps.Pool.NewGroupContext(ctx)
	for i, t := range transfers {
		t := t
		wc := contexts[i]
		fresh := inserted[i]

		group.SubmitErr(func() error {
			_, err := r.deps.Graph.Absorb(ctx, t)
			return err
		})
		group.SubmitErr(func() error {
			findings, err := r.deps.Engine.Evaluate(ctx, t, wc)
			if err != nil {
				return err
			}
			if fresh {
				for _, f := range findings {
					r.deps.Publisher.PublishAnomaly(ctx, t, f)
				}
			}
			return nil
		})
		group.SubmitErr(func() error {
			_, err := r.deps.Attributor.Attribute(ctx, t)
			return err
		})
		group.SubmitErr(func() error {
			return r.deps.Onramps.Process(ctx, t)
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("fan-out for block %d: %w", b.Number, err)
	}

	if err := r.deps.Store.AdvanceCheckpoint(ctx, r.cfg.ChainID, b.Number, b.Hash); err != nil {
		return err
	}

	for i, t := range transfers {
		if inserted[i] {
			r.deps.Publisher.PublishTransfer(ctx, t)
		}
	}

	if _, err := r.deps.Store.PruneBlockHashes(ctx, r.cfg.ChainID, b.Number, r.cfg.MaxReorgDepth); err != nil {
		return err
	}

	r.deps.Health.Advanced(r.cfg.ChainID, r.cfg.Name, b.Number)
	r.logger.Debug("Block indexed",
		zap.Uint64("block", b.Number),
		zap.Int("transfers", len(transfers)))

	return nil
}

// collectTransfers filters the block's events down to watched tokens and
// annotates them with symbol and decimals.
func (r *Runner) collectTransfers(b *Block) []*models.Transfer {
	var out []*models.Transfer
	for _, ev := range b.Transfers {
		token, ok := r.deps.Tokens.Lookup(r.cfg.ChainID, ev.TokenAddress)
		if !ok {
			continue
		}
		out = append(out, &models.Transfer{
			ChainID:        r.cfg.ChainID,
			BlockNumber:    b.Number,
			BlockHash:      b.Hash,
			TxHash:         ev.TxHash,
			LogIndex:       ev.LogIndex,
			TokenAddress:   ev.TokenAddress,
			FromAddress:    ev.FromAddress,
			ToAddress:      ev.ToAddress,
			Amount:         ev.Amount,
			TokenSymbol:    token.Symbol,
			TokenDecimals:  token.Decimals,
			BlockTimestamp: b.Timestamp,
		})
	}
	return out
}

// walletContexts snapshots, per transfer, whether its endpoints were known
// before that transfer. Computed in block order before the fan-out: an
// address introduced by an earlier transfer of the same block counts as seen
// for the later ones.
func (r *Runner) walletContexts(ctx context.Context, transfers []*models.Transfer) ([]anomaly.WalletContext, error) {
	contexts := make([]anomaly.WalletContext, len(transfers))
	seenInBlock := map[string]bool{}

	for i, t := range transfers {
		fromSeen := seenInBlock[string(t.FromAddress)]
		if !fromSeen {
			var err error
			fromSeen, err = r.deps.Graph.Seen(ctx, t.ChainID, t.FromAddress)
			if err != nil {
				return nil, err
			}
		}
		toSeen := seenInBlock[string(t.ToAddress)]
		if !toSeen {
			var err error
			toSeen, err = r.deps.Graph.Seen(ctx, t.ChainID, t.ToAddress)
			if err != nil {
				return nil, err
			}
		}

		contexts[i] = anomaly.WalletContext{FromSeen: fromSeen, ToSeen: toSeen}
		seenInBlock[string(t.FromAddress)] = true
		seenInBlock[string(t.ToAddress)] = true
	}
	return contexts, nil
}
