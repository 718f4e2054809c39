package db

import (
	"context"
	"fmt"

	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/db/postgres"
)

// initBlockHashes creates the per-chain hash ledger used for reorg comparison.
func (s *Store) initBlockHashes(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS block_hashes (
			chain_id BIGINT NOT NULL,
			block_number BIGINT NOT NULL,
			block_hash BYTEA NOT NULL,
			parent_hash BYTEA NOT NULL,
			PRIMARY KEY (chain_id, block_number)
		)
	`

	return s.Exec(ctx, query)
}

// UpsertBlockHash records a block's hash, overwriting any superseded entry at
// the same height. Overwrite is what makes re-indexing after rollback safe.
func (s *Store) UpsertBlockHash(ctx context.Context, bh models.BlockHash) error {
	query := `
		INSERT INTO block_hashes (chain_id, block_number, block_hash, parent_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id, block_number) DO UPDATE SET
			block_hash = EXCLUDED.block_hash,
			parent_hash = EXCLUDED.parent_hash
	`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query, bh.ChainID, bh.BlockNumber, bh.BlockHash, bh.ParentHash); err != nil {
		return fmt.Errorf("upsert block hash %d/%d: %w", bh.ChainID, bh.BlockNumber, err)
	}
	return nil
}

// StoredBlockHash returns the recorded hash at a height, or nil if the height
// is unknown (never indexed, or pruned beyond the reorg window).
func (s *Store) StoredBlockHash(ctx context.Context, chainID, blockNumber uint64) (*models.BlockHash, error) {
	query := `
		SELECT chain_id, block_number, block_hash, parent_hash
		FROM block_hashes
		WHERE chain_id = $1 AND block_number = $2
	`

	var bh models.BlockHash
	exec := s.GetExecutor(ctx)
	err := exec.QueryRow(ctx, query, chainID, blockNumber).Scan(&bh.ChainID, &bh.BlockNumber, &bh.BlockHash, &bh.ParentHash)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query block hash %d/%d: %w", chainID, blockNumber, err)
	}

	return &bh, nil
}

// PruneBlockHashes drops ledger entries older than the reorg window. Heights
// below tip-maxDepth can no longer be rolled back, so their hashes are dead
// weight. Returns the number of pruned rows.
func (s *Store) PruneBlockHashes(ctx context.Context, chainID, tip, maxDepth uint64) (int64, error) {
	if tip <= maxDepth {
		return 0, nil
	}
	cutoff := tip - maxDepth

	query := `
		DELETE FROM block_hashes
		WHERE chain_id = $1 AND block_number < $2
	`

	exec := s.GetExecutor(ctx)
	tag, err := exec.Exec(ctx, query, chainID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune block hashes for chain %d below %d: %w", chainID, cutoff, err)
	}
	return tag.RowsAffected(), nil
}
