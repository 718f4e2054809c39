package db

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/db/postgres"
)

// RollbackToHeight discards every indexed row above the given height for one
// chain and restores the derived tables to what replaying blocks 0..height
// would have produced. Everything happens in a single transaction: either the
// chain is fully rewound or it is untouched.
//
// Edge and first-seen aggregates are recomputed from the surviving absorbed
// transfers rather than decremented, so the result is correct even if the
// discarded rows were only partially absorbed. Returns the set of addresses
// whose aggregates changed so in-memory caches can be invalidated.
func (s *Store) RollbackToHeight(ctx context.Context, chainID, height uint64) ([][]byte, error) {
	var affected [][]byte

	err := s.BeginFunc(ctx, func(tx pgx.Tx) error {
		txCtx := s.WithTx(ctx, tx)
		exec := s.GetExecutor(txCtx)

		addrQuery := `
			SELECT DISTINCT addr FROM (
				SELECT from_address AS addr FROM transfers
				WHERE chain_id = $1 AND block_number > $2
				UNION
				SELECT to_address AS addr FROM transfers
				WHERE chain_id = $1 AND block_number > $2
			) touched
		`
		rows, err := exec.Query(txCtx, addrQuery, chainID, height)
		if err != nil {
			return fmt.Errorf("collect affected addresses: %w", err)
		}
		for rows.Next() {
			var addr []byte
			if err := rows.Scan(&addr); err != nil {
				rows.Close()
				return fmt.Errorf("scan affected address: %w", err)
			}
			affected = append(affected, addr)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Deletes run in dependency order. The referencing tables cascade off
		// transfers, but explicit deletes keep the rewind readable and make
		// the order independent of schema details.
		deleteOps := []struct {
			name  string
			query string
		}{
			{"anomalies", `
				DELETE FROM anomalies
				WHERE transfer_id IN (
					SELECT id FROM transfers WHERE chain_id = $1 AND block_number > $2
				)`},
			{"transfer_entity_flags", `
				DELETE FROM transfer_entity_flags
				WHERE transfer_id IN (
					SELECT id FROM transfers WHERE chain_id = $1 AND block_number > $2
				)`},
			{"onramp_transfers", `
				DELETE FROM onramp_transfers
				WHERE transfer_id IN (
					SELECT id FROM transfers WHERE chain_id = $1 AND block_number > $2
				)`},
			{"graph_absorbed", `
				DELETE FROM graph_absorbed
				WHERE transfer_id IN (
					SELECT id FROM transfers WHERE chain_id = $1 AND block_number > $2
				)`},
			{"transfers", `
				DELETE FROM transfers WHERE chain_id = $1 AND block_number > $2`},
			{"block_hashes", `
				DELETE FROM block_hashes WHERE chain_id = $1 AND block_number > $2`},
		}

		for _, op := range deleteOps {
			tag, err := exec.Exec(txCtx, op.query, chainID, height)
			if err != nil {
				return fmt.Errorf("rollback delete %s: %w", op.name, err)
			}
			s.Logger.Debug("Rollback delete",
				zap.String("table", op.name),
				zap.Uint64("chain_id", chainID),
				zap.Int64("rows", tag.RowsAffected()))
		}

		if len(affected) > 0 {
			if err := s.recomputeEdges(txCtx, chainID, affected); err != nil {
				return err
			}
			if err := s.recomputeFirstSeen(txCtx, chainID, affected); err != nil {
				return err
			}
		}

		// Rewind the cursor. The hash at the new tip is whatever the ledger
		// still holds; a rewind below the pruned window leaves it empty and
		// the next block re-establishes it.
		var tipHash []byte
		err = exec.QueryRow(txCtx,
			`SELECT block_hash FROM block_hashes WHERE chain_id = $1 AND block_number = $2`,
			chainID, height,
		).Scan(&tipHash)
		if err != nil && !postgres.IsNoRows(err) {
			return fmt.Errorf("load hash at rollback tip: %w", err)
		}

		if err := s.AdvanceCheckpoint(txCtx, chainID, height, tipHash); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rollback chain %d to %d: %w", chainID, height, err)
	}

	s.Logger.Info("Chain rolled back",
		zap.Uint64("chain_id", chainID),
		zap.Uint64("height", height),
		zap.Int("affected_addresses", len(affected)))

	return affected, nil
}

// recomputeEdges rebuilds every edge touching the affected addresses from the
// surviving absorbed transfers.
func (s *Store) recomputeEdges(ctx context.Context, chainID uint64, addrs [][]byte) error {
	exec := s.GetExecutor(ctx)

	deleteQuery := `
		DELETE FROM wallet_graph_edges
		WHERE chain_id = $1
			AND (source_address = ANY($2) OR dest_address = ANY($2))
	`
	if _, err := exec.Exec(ctx, deleteQuery, chainID, addrs); err != nil {
		return fmt.Errorf("delete stale edges: %w", err)
	}

	rebuildQuery := `
		INSERT INTO wallet_graph_edges (
			source_address, dest_address, chain_id,
			transfer_count, total_amount, first_seen, last_seen
		)
		SELECT t.from_address, t.to_address, t.chain_id,
			COUNT(*), SUM(t.amount), MIN(t.block_timestamp), MAX(t.block_timestamp)
		FROM transfers t
		JOIN graph_absorbed ga ON ga.transfer_id = t.id
		WHERE t.chain_id = $1
			AND (t.from_address = ANY($2) OR t.to_address = ANY($2))
		GROUP BY t.from_address, t.to_address, t.chain_id
	`
	if _, err := exec.Exec(ctx, rebuildQuery, chainID, addrs); err != nil {
		return fmt.Errorf("rebuild edges: %w", err)
	}
	return nil
}

// recomputeFirstSeen rebuilds first-observation rows for the affected
// addresses from the surviving absorbed transfers.
func (s *Store) recomputeFirstSeen(ctx context.Context, chainID uint64, addrs [][]byte) error {
	exec := s.GetExecutor(ctx)

	deleteQuery := `
		DELETE FROM wallet_first_seen
		WHERE chain_id = $1 AND address = ANY($2)
	`
	if _, err := exec.Exec(ctx, deleteQuery, chainID, addrs); err != nil {
		return fmt.Errorf("delete stale first seen: %w", err)
	}

	for _, addr := range addrs {
		earliestQuery := `
			SELECT t.block_timestamp, t.block_number, t.tx_hash, t.from_address
			FROM transfers t
			JOIN graph_absorbed ga ON ga.transfer_id = t.id
			WHERE t.chain_id = $1 AND (t.from_address = $2 OR t.to_address = $2)
			ORDER BY t.block_number, t.log_index
			LIMIT 1
		`

		var (
			seenAt time.Time
			block  uint64
			txHash []byte
			from   []byte
		)
		row := exec.QueryRow(ctx, earliestQuery, chainID, addr)
		if err := row.Scan(&seenAt, &block, &txHash, &from); err != nil {
			if postgres.IsNoRows(err) {
				continue
			}
			return fmt.Errorf("find earliest transfer for %x: %w", addr, err)
		}

		direction := "in"
		if bytes.Equal(from, addr) {
			direction = "out"
		}

		insertQuery := `
			INSERT INTO wallet_first_seen (
				address, chain_id, first_seen_at, first_block, first_tx_hash, first_direction
			)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (address, chain_id) DO NOTHING
		`
		if _, err := exec.Exec(ctx, insertQuery, addr, chainID, seenAt, block, txHash, direction); err != nil {
			return fmt.Errorf("rebuild first seen for %x: %w", addr, err)
		}
	}
	return nil
}
