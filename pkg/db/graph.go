package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/db/postgres"
)

// initWalletFirstSeen creates the first-observation table.
func (s *Store) initWalletFirstSeen(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS wallet_first_seen (
			address BYTEA NOT NULL,
			chain_id BIGINT NOT NULL,
			first_seen_at TIMESTAMP WITH TIME ZONE NOT NULL,
			first_block BIGINT NOT NULL,
			first_tx_hash BYTEA NOT NULL,
			first_direction TEXT NOT NULL,
			PRIMARY KEY (address, chain_id)
		)
	`

	return s.Exec(ctx, query)
}

// initWalletGraphEdges creates the aggregated flow-graph table.
func (s *Store) initWalletGraphEdges(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS wallet_graph_edges (
			source_address BYTEA NOT NULL,
			dest_address BYTEA NOT NULL,
			chain_id BIGINT NOT NULL,
			transfer_count BIGINT NOT NULL,
			total_amount NUMERIC(78, 0) NOT NULL,
			first_seen TIMESTAMP WITH TIME ZONE NOT NULL,
			last_seen TIMESTAMP WITH TIME ZONE NOT NULL,
			PRIMARY KEY (source_address, dest_address, chain_id)
		);
		CREATE INDEX IF NOT EXISTS idx_graph_edges_dest
			ON wallet_graph_edges (dest_address, chain_id)
	`

	return s.Exec(ctx, query)
}

// initGraphAbsorbed creates the absorption marker table. A transfer id present
// here has already been folded into first-seen and edge aggregates, so replays
// after a crash or duplicate delivery leave the aggregates untouched.
func (s *Store) initGraphAbsorbed(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS graph_absorbed (
			transfer_id BIGINT PRIMARY KEY REFERENCES transfers (id) ON DELETE CASCADE
		)
	`

	return s.Exec(ctx, query)
}

// WalletSeen reports whether an address has ever appeared on the chain.
func (s *Store) WalletSeen(ctx context.Context, chainID uint64, address []byte) (bool, error) {
	query := `
		SELECT 1 FROM wallet_first_seen
		WHERE address = $1 AND chain_id = $2
	`

	var one int
	exec := s.GetExecutor(ctx)
	err := exec.QueryRow(ctx, query, address, chainID).Scan(&one)
	if err != nil {
		if postgres.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("query wallet first seen %x/%d: %w", address, chainID, err)
	}
	return true, nil
}

// FirstSeen returns the first-observation record for an address on a chain,
// or nil if the address is unknown.
func (s *Store) FirstSeen(ctx context.Context, chainID uint64, address []byte) (*models.WalletFirstSeen, error) {
	query := `
		SELECT address, chain_id, first_seen_at, first_block, first_tx_hash, first_direction
		FROM wallet_first_seen
		WHERE address = $1 AND chain_id = $2
	`

	var fs models.WalletFirstSeen
	exec := s.GetExecutor(ctx)
	err := exec.QueryRow(ctx, query, address, chainID).Scan(
		&fs.Address, &fs.ChainID, &fs.FirstSeenAt, &fs.FirstBlock, &fs.FirstTxHash, &fs.FirstDirection)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query first seen %x/%d: %w", address, chainID, err)
	}
	return &fs, nil
}

// AbsorbTransfer folds one recorded transfer into the wallet graph: first-seen
// rows for both endpoints and the directed edge aggregate. The absorption
// marker is claimed in the same transaction, so each transfer contributes to
// the aggregates exactly once no matter how often it is re-delivered. Returns
// false when the transfer was already absorbed.
func (s *Store) AbsorbTransfer(ctx context.Context, t *models.Transfer) (bool, error) {
	absorbed := false

	err := s.BeginFunc(ctx, func(tx pgx.Tx) error {
		txCtx := s.WithTx(ctx, tx)
		exec := s.GetExecutor(txCtx)

		claimQuery := `
			INSERT INTO graph_absorbed (transfer_id)
			VALUES ($1)
			ON CONFLICT (transfer_id) DO NOTHING
		`
		tag, err := exec.Exec(txCtx, claimQuery, t.ID)
		if err != nil {
			return fmt.Errorf("claim absorption for transfer %d: %w", t.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		absorbed = true

		firstSeenQuery := `
			INSERT INTO wallet_first_seen (
				address, chain_id, first_seen_at, first_block, first_tx_hash, first_direction
			)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (address, chain_id) DO NOTHING
		`
		if _, err := exec.Exec(txCtx, firstSeenQuery,
			t.FromAddress, t.ChainID, t.BlockTimestamp, t.BlockNumber, t.TxHash, "out"); err != nil {
			return fmt.Errorf("record first seen for sender %x: %w", t.FromAddress, err)
		}
		if _, err := exec.Exec(txCtx, firstSeenQuery,
			t.ToAddress, t.ChainID, t.BlockTimestamp, t.BlockNumber, t.TxHash, "in"); err != nil {
			return fmt.Errorf("record first seen for recipient %x: %w", t.ToAddress, err)
		}

		edgeQuery := `
			INSERT INTO wallet_graph_edges (
				source_address, dest_address, chain_id,
				transfer_count, total_amount, first_seen, last_seen
			)
			VALUES ($1, $2, $3, 1, $4, $5, $5)
			ON CONFLICT (source_address, dest_address, chain_id) DO UPDATE SET
				transfer_count = wallet_graph_edges.transfer_count + 1,
				total_amount = wallet_graph_edges.total_amount + EXCLUDED.total_amount,
				first_seen = LEAST(wallet_graph_edges.first_seen, EXCLUDED.first_seen),
				last_seen = GREATEST(wallet_graph_edges.last_seen, EXCLUDED.last_seen)
		`
		if _, err := exec.Exec(txCtx, edgeQuery,
			t.FromAddress, t.ToAddress, t.ChainID, t.Amount, t.BlockTimestamp); err != nil {
			return fmt.Errorf("update edge %x->%x: %w", t.FromAddress, t.ToAddress, err)
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return absorbed, nil
}

// Edge returns the aggregate for one directed pair, or nil when no transfer
// ever flowed that way.
func (s *Store) Edge(ctx context.Context, chainID uint64, source, dest []byte) (*models.WalletGraphEdge, error) {
	query := `
		SELECT source_address, dest_address, chain_id,
			transfer_count, total_amount, first_seen, last_seen
		FROM wallet_graph_edges
		WHERE source_address = $1 AND dest_address = $2 AND chain_id = $3
	`

	var e models.WalletGraphEdge
	exec := s.GetExecutor(ctx)
	err := exec.QueryRow(ctx, query, source, dest, chainID).Scan(
		&e.SourceAddress, &e.DestAddress, &e.ChainID,
		&e.TransferCount, &e.TotalAmount, &e.FirstSeen, &e.LastSeen)
	if err != nil {
		if postgres.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query edge %x->%x: %w", source, dest, err)
	}
	return &e, nil
}

// ListEdges streams every edge aggregate for one chain, ordered by source
// address. Used by the clustering job.
func (s *Store) ListEdges(ctx context.Context, chainID uint64) ([]models.WalletGraphEdge, error) {
	query := `
		SELECT source_address, dest_address, chain_id,
			transfer_count, total_amount, first_seen, last_seen
		FROM wallet_graph_edges
		WHERE chain_id = $1
		ORDER BY source_address, dest_address
	`

	exec := s.GetExecutor(ctx)
	rows, err := exec.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list edges for chain %d: %w", chainID, err)
	}
	defer rows.Close()

	var edges []models.WalletGraphEdge
	for rows.Next() {
		var e models.WalletGraphEdge
		if err := rows.Scan(&e.SourceAddress, &e.DestAddress, &e.ChainID,
			&e.TransferCount, &e.TotalAmount, &e.FirstSeen, &e.LastSeen); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
