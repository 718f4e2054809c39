package db

import (
	"context"
	"fmt"

	"github.com/force23airr/stableguard/pkg/db/models"
)

func (s *Store) initKnownTokens(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS known_tokens (
			chain_id BIGINT NOT NULL,
			token_address BYTEA NOT NULL,
			symbol TEXT NOT NULL,
			decimals SMALLINT NOT NULL,
			PRIMARY KEY (chain_id, token_address)
		)
	`

	return s.Exec(ctx, query)
}

// UpsertKnownToken registers a watched stablecoin contract.
func (s *Store) UpsertKnownToken(ctx context.Context, t models.KnownToken) error {
	query := `
		INSERT INTO known_tokens (chain_id, token_address, symbol, decimals)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id, token_address) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals
	`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query, t.ChainID, t.TokenAddress, t.Symbol, t.Decimals); err != nil {
		return fmt.Errorf("upsert known token %s on chain %d: %w", t.Symbol, t.ChainID, err)
	}
	return nil
}

// ListKnownTokens loads every watched token for one chain.
func (s *Store) ListKnownTokens(ctx context.Context, chainID uint64) ([]models.KnownToken, error) {
	query := `
		SELECT chain_id, token_address, symbol, decimals
		FROM known_tokens
		WHERE chain_id = $1
		ORDER BY token_address
	`

	exec := s.GetExecutor(ctx)
	rows, err := exec.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list known tokens for chain %d: %w", chainID, err)
	}
	defer rows.Close()

	var out []models.KnownToken
	for rows.Next() {
		var t models.KnownToken
		if err := rows.Scan(&t.ChainID, &t.TokenAddress, &t.Symbol, &t.Decimals); err != nil {
			return nil, fmt.Errorf("scan known token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
