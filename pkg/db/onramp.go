package db

import (
	"context"
	"fmt"

	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/db/postgres"
)

func (s *Store) initOnrampProviders(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS onramp_providers (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		)
	`

	return s.Exec(ctx, query)
}

func (s *Store) initProviderWallets(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS provider_wallets (
			provider_id INT NOT NULL REFERENCES onramp_providers (id) ON DELETE CASCADE,
			chain_id BIGINT NOT NULL,
			address BYTEA NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (provider_id, chain_id, address)
		)
	`

	return s.Exec(ctx, query)
}

// initOnrampTransfers creates the table of transfers matched to a provider
// wallet. transfer_id is the key: a transfer links to at most one provider.
func (s *Store) initOnrampTransfers(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS onramp_transfers (
			transfer_id BIGINT PRIMARY KEY REFERENCES transfers (id) ON DELETE CASCADE,
			provider_id INT NOT NULL REFERENCES onramp_providers (id) ON DELETE CASCADE,
			direction TEXT NOT NULL
		)
	`

	return s.Exec(ctx, query)
}

// SeedProvider upserts a provider by name and returns its id.
func (s *Store) SeedProvider(ctx context.Context, name string) (int32, error) {
	query := `
		INSERT INTO onramp_providers (name)
		VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`

	var id int32
	exec := s.GetExecutor(ctx)
	if err := exec.QueryRow(ctx, query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("seed provider %s: %w", name, err)
	}
	return id, nil
}

// SeedProviderWallet registers a provider hot wallet.
func (s *Store) SeedProviderWallet(ctx context.Context, providerID int32, chainID uint64, address []byte, label string) error {
	query := `
		INSERT INTO provider_wallets (provider_id, chain_id, address, label)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_id, chain_id, address) DO UPDATE SET label = EXCLUDED.label
	`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query, providerID, chainID, address, label); err != nil {
		return fmt.Errorf("seed provider wallet %x: %w", address, err)
	}
	return nil
}

// ListProviderWallets loads every known provider wallet with its provider
// name, for the in-memory matcher.
func (s *Store) ListProviderWallets(ctx context.Context) ([]models.ProviderWallet, error) {
	query := `
		SELECT pw.provider_id, p.name, pw.chain_id, pw.address, pw.label
		FROM provider_wallets pw
		JOIN onramp_providers p ON p.id = pw.provider_id
		ORDER BY pw.provider_id, pw.chain_id
	`

	exec := s.GetExecutor(ctx)
	rows, err := exec.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list provider wallets: %w", err)
	}
	defer rows.Close()

	var out []models.ProviderWallet
	for rows.Next() {
		var w models.ProviderWallet
		if err := rows.Scan(&w.ProviderID, &w.ProviderName, &w.ChainID, &w.Address, &w.Label); err != nil {
			return nil, fmt.Errorf("scan provider wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// LinkOnrampTransfer associates a transfer with a provider. The first link
// wins; replays are no-ops. Returns whether this call created the link.
func (s *Store) LinkOnrampTransfer(ctx context.Context, transferID int64, providerID int32, direction string) (bool, error) {
	query := `
		INSERT INTO onramp_transfers (transfer_id, provider_id, direction)
		VALUES ($1, $2, $3)
		ON CONFLICT (transfer_id) DO NOTHING
	`

	exec := s.GetExecutor(ctx)
	tag, err := exec.Exec(ctx, query, transferID, providerID, direction)
	if err != nil {
		return false, fmt.Errorf("link onramp transfer %d: %w", transferID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// OnrampLink returns the provider link for a transfer, or nil when unmatched.
func (s *Store) OnrampLink(ctx context.Context, transferID int64) (providerID int32, direction string, err error) {
	query := `
		SELECT provider_id, direction FROM onramp_transfers
		WHERE transfer_id = $1
	`

	exec := s.GetExecutor(ctx)
	err = exec.QueryRow(ctx, query, transferID).Scan(&providerID, &direction)
	if err != nil {
		if postgres.IsNoRows(err) {
			return 0, "", nil
		}
		return 0, "", fmt.Errorf("query onramp link %d: %w", transferID, err)
	}
	return providerID, direction, nil
}
