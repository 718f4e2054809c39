package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/db/postgres"
)

// initTransfers creates the transfers table. The unique constraint on
// (chain_id, tx_hash, log_index) is the idempotency key: re-recording an
// already seen event is a no-op that returns the original row id.
func (s *Store) initTransfers(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS transfers (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			block_number BIGINT NOT NULL,
			block_hash BYTEA NOT NULL,
			tx_hash BYTEA NOT NULL,
			log_index INT NOT NULL,
			token_address BYTEA NOT NULL,
			from_address BYTEA NOT NULL,
			to_address BYTEA NOT NULL,
			amount NUMERIC(78, 0) NOT NULL,
			token_symbol TEXT NOT NULL,
			token_decimals SMALLINT NOT NULL,
			block_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			UNIQUE (chain_id, tx_hash, log_index)
		);
		CREATE INDEX IF NOT EXISTS idx_transfers_chain_block
			ON transfers (chain_id, block_number);
		CREATE INDEX IF NOT EXISTS idx_transfers_from_ts
			ON transfers (from_address, block_timestamp);
		CREATE INDEX IF NOT EXISTS idx_transfers_to
			ON transfers (to_address)
	`

	return s.Exec(ctx, query)
}

// RecordTransfer inserts a transfer if it was never seen before. Returns the
// durable row id either way, plus whether this call performed the insert.
// Downstream consumers key off the id, so duplicates must resolve to the same
// one the first insert produced.
func (s *Store) RecordTransfer(ctx context.Context, t *models.Transfer) (int64, bool, error) {
	insertQuery := `
		INSERT INTO transfers (
			chain_id, block_number, block_hash, tx_hash, log_index,
			token_address, from_address, to_address, amount,
			token_symbol, token_decimals, block_timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		RETURNING id
	`

	exec := s.GetExecutor(ctx)

	var id int64
	err := exec.QueryRow(ctx, insertQuery,
		t.ChainID, t.BlockNumber, t.BlockHash, t.TxHash, t.LogIndex,
		t.TokenAddress, t.FromAddress, t.ToAddress, t.Amount,
		t.TokenSymbol, t.TokenDecimals, t.BlockTimestamp,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !postgres.IsNoRows(err) {
		return 0, false, fmt.Errorf("insert transfer %x/%d: %w", t.TxHash, t.LogIndex, err)
	}

	// Conflict path: the row already exists, fetch its id.
	selectQuery := `
		SELECT id FROM transfers
		WHERE chain_id = $1 AND tx_hash = $2 AND log_index = $3
	`
	if err := exec.QueryRow(ctx, selectQuery, t.ChainID, t.TxHash, t.LogIndex).Scan(&id); err != nil {
		return 0, false, fmt.Errorf("resolve duplicate transfer %x/%d: %w", t.TxHash, t.LogIndex, err)
	}
	return id, false, nil
}

// RecordBlock durably records a block's hash and all of its transfers in one
// transaction. Transfer IDs are filled in on the passed slice; the returned
// bitmap marks which of them were first-time inserts.
func (s *Store) RecordBlock(ctx context.Context, bh models.BlockHash, transfers []*models.Transfer) ([]bool, error) {
	inserted := make([]bool, len(transfers))

	err := s.BeginFunc(ctx, func(tx pgx.Tx) error {
		txCtx := s.WithTx(ctx, tx)

		if err := s.UpsertBlockHash(txCtx, bh); err != nil {
			return err
		}

		for i, t := range transfers {
			id, fresh, err := s.RecordTransfer(txCtx, t)
			if err != nil {
				return err
			}
			t.ID = id
			inserted[i] = fresh
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record block %d/%d: %w", bh.ChainID, bh.BlockNumber, err)
	}

	return inserted, nil
}

// CountTransfersFrom counts outgoing transfers for an address on one chain
// since the given instant. Feeds the velocity rule.
func (s *Store) CountTransfersFrom(ctx context.Context, chainID uint64, from []byte, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM transfers
		WHERE chain_id = $1 AND from_address = $2 AND block_timestamp >= $3
	`

	var n int64
	exec := s.GetExecutor(ctx)
	if err := exec.QueryRow(ctx, query, chainID, from, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfers from %x: %w", from, err)
	}
	return n, nil
}

// CountActiveChains counts the distinct chains on which an address sent or
// received at least one transfer since the given instant. Feeds the
// cross-chain rule.
func (s *Store) CountActiveChains(ctx context.Context, address []byte, since time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT chain_id) FROM transfers
		WHERE (from_address = $1 OR to_address = $1) AND block_timestamp >= $2
	`

	var n int
	exec := s.GetExecutor(ctx)
	if err := exec.QueryRow(ctx, query, address, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count active chains for %x: %w", address, err)
	}
	return n, nil
}
