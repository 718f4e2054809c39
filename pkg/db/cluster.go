package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/force23airr/stableguard/pkg/db/postgres"
)

func (s *Store) initWalletClusters(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS wallet_clusters (
			chain_id BIGINT NOT NULL,
			address BYTEA NOT NULL,
			cluster_id INT NOT NULL,
			PRIMARY KEY (chain_id, address)
		);
		CREATE INDEX IF NOT EXISTS idx_wallet_clusters_cluster
			ON wallet_clusters (chain_id, cluster_id)
	`

	return s.Exec(ctx, query)
}

// ClusterAssignment maps one address to its connected component.
type ClusterAssignment struct {
	Address   []byte
	ClusterID int32
}

// ReplaceClusters swaps the chain's cluster table for a freshly computed set
// of assignments. Full replacement: the clustering job recomputes components
// from the complete edge set, so stale rows have no meaning.
func (s *Store) ReplaceClusters(ctx context.Context, chainID uint64, assignments []ClusterAssignment) error {
	err := s.BeginFunc(ctx, func(tx pgx.Tx) error {
		txCtx := s.WithTx(ctx, tx)
		exec := s.GetExecutor(txCtx)

		if _, err := exec.Exec(txCtx,
			`DELETE FROM wallet_clusters WHERE chain_id = $1`, chainID); err != nil {
			return fmt.Errorf("clear clusters: %w", err)
		}

		batch := &pgx.Batch{}
		insertQuery := `
			INSERT INTO wallet_clusters (chain_id, address, cluster_id)
			VALUES ($1, $2, $3)
		`
		for _, a := range assignments {
			batch.Queue(insertQuery, chainID, a.Address, a.ClusterID)
		}

		results := exec.SendBatch(txCtx, batch)
		defer results.Close()
		for range assignments {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("insert cluster assignment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace clusters for chain %d: %w", chainID, err)
	}
	return nil
}

// ClusterOf returns the cluster id for an address, or -1 when unclustered.
func (s *Store) ClusterOf(ctx context.Context, chainID uint64, address []byte) (int32, error) {
	query := `
		SELECT cluster_id FROM wallet_clusters
		WHERE chain_id = $1 AND address = $2
	`

	var id int32
	exec := s.GetExecutor(ctx)
	err := exec.QueryRow(ctx, query, chainID, address).Scan(&id)
	if err != nil {
		if postgres.IsNoRows(err) {
			return -1, nil
		}
		return -1, fmt.Errorf("query cluster for %x: %w", address, err)
	}
	return id, nil
}
