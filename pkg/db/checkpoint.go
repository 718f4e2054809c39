package db

import (
	"context"
	"fmt"

	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/db/postgres"
)

// initIndexerState creates the indexer_state table.
// One row per chain: the resumable ingestion cursor.
func (s *Store) initIndexerState(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS indexer_state (
			chain_id BIGINT PRIMARY KEY,
			last_indexed_block BIGINT NOT NULL,
			last_block_hash BYTEA,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`

	return s.Exec(ctx, query)
}

// Checkpoint returns the chain's cursor, or nil if the chain was never indexed.
func (s *Store) Checkpoint(ctx context.Context, chainID uint64) (*models.Checkpoint, error) {
	query := `
		SELECT chain_id, last_indexed_block, last_block_hash, updated_at
		FROM indexer_state
		WHERE chain_id = $1
	`

	var cp models.Checkpoint
	exec := s.GetExecutor(ctx)
	err := exec.QueryRow(ctx, query, chainID).Scan(&cp.ChainID, &cp.LastIndexedBlock, &cp.LastBlockHash, &cp.UpdatedAt)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query checkpoint for chain %d: %w", chainID, err)
	}

	return &cp, nil
}

// AdvanceCheckpoint upserts the chain's cursor after a block's transfers are
// durably recorded. Rollback is the only path that moves it backwards.
func (s *Store) AdvanceCheckpoint(ctx context.Context, chainID uint64, blockNumber uint64, blockHash []byte) error {
	query := `
		INSERT INTO indexer_state (chain_id, last_indexed_block, last_block_hash, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (chain_id) DO UPDATE SET
			last_indexed_block = EXCLUDED.last_indexed_block,
			last_block_hash = EXCLUDED.last_block_hash,
			updated_at = NOW()
	`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query, chainID, blockNumber, blockHash); err != nil {
		return fmt.Errorf("advance checkpoint for chain %d to %d: %w", chainID, blockNumber, err)
	}
	return nil
}
