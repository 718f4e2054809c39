package db

import (
	"context"
	"fmt"

	"github.com/force23airr/stableguard/pkg/db/models"
)

// initEntityLabels creates the attribution table. chain_id is nullable: NULL
// means the label applies on every chain. One address carries any number of
// labels; the unique index keys each on its scope, source and name (with a
// sentinel for the NULL scope) so re-seeding updates in place and a watchlist
// label never collides with a manual or heuristic one.
func (s *Store) initEntityLabels(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS entity_labels (
			id SERIAL PRIMARY KEY,
			address BYTEA NOT NULL,
			chain_id BIGINT,
			entity_name TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			source TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_labels_identity
			ON entity_labels (address, COALESCE(chain_id, -1), source, entity_name)
	`

	return s.Exec(ctx, query)
}

func (s *Store) initWatchlistEntries(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS watchlist_entries (
			id BIGSERIAL PRIMARY KEY,
			list_name TEXT NOT NULL,
			address BYTEA NOT NULL,
			entity_name TEXT NOT NULL,
			sdn_id TEXT NOT NULL DEFAULT '',
			program TEXT NOT NULL DEFAULT '',
			UNIQUE (list_name, address)
		)
	`

	return s.Exec(ctx, query)
}

// initTransferEntityFlags creates the per-transfer attribution results.
func (s *Store) initTransferEntityFlags(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS transfer_entity_flags (
			transfer_id BIGINT NOT NULL REFERENCES transfers (id) ON DELETE CASCADE,
			side TEXT NOT NULL,
			entity_name TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			source TEXT NOT NULL,
			PRIMARY KEY (transfer_id, side, entity_name)
		)
	`

	return s.Exec(ctx, query)
}

// SeedEntityLabel upserts one label. Used for config-supplied manual labels
// and by the watchlist refresh job.
func (s *Store) SeedEntityLabel(ctx context.Context, l models.EntityLabel) error {
	query := `
		INSERT INTO entity_labels (address, chain_id, entity_name, entity_type, source, confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address, COALESCE(chain_id, -1), source, entity_name) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			confidence = EXCLUDED.confidence
	`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query,
		l.Address, l.ChainID, l.EntityName, l.EntityType, l.Source, l.Confidence); err != nil {
		return fmt.Errorf("seed entity label for %x: %w", l.Address, err)
	}
	return nil
}

// ListEntityLabels loads every label. The in-memory label store indexes them.
func (s *Store) ListEntityLabels(ctx context.Context) ([]models.EntityLabel, error) {
	query := `
		SELECT id, address, chain_id, entity_name, entity_type, source, confidence
		FROM entity_labels
		ORDER BY id
	`

	exec := s.GetExecutor(ctx)
	rows, err := exec.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list entity labels: %w", err)
	}
	defer rows.Close()

	var out []models.EntityLabel
	for rows.Next() {
		var l models.EntityLabel
		if err := rows.Scan(&l.ID, &l.Address, &l.ChainID,
			&l.EntityName, &l.EntityType, &l.Source, &l.Confidence); err != nil {
			return nil, fmt.Errorf("scan entity label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertWatchlistEntry records one watchlist row and mirrors it into
// entity_labels as a sanctioned global label.
func (s *Store) UpsertWatchlistEntry(ctx context.Context, e models.WatchlistEntry) error {
	query := `
		INSERT INTO watchlist_entries (list_name, address, entity_name, sdn_id, program)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (list_name, address) DO UPDATE SET
			entity_name = EXCLUDED.entity_name,
			sdn_id = EXCLUDED.sdn_id,
			program = EXCLUDED.program
	`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query,
		e.ListName, e.Address, e.EntityName, e.SdnID, e.Program); err != nil {
		return fmt.Errorf("upsert watchlist entry %x: %w", e.Address, err)
	}

	return s.SeedEntityLabel(ctx, models.EntityLabel{
		Address:    e.Address,
		ChainID:    nil,
		EntityName: e.EntityName,
		EntityType: "sanctioned",
		Source:     e.ListName,
		Confidence: 1.0,
	})
}

// UpsertTransferFlag records an attribution hit on one side of a transfer.
// Re-attribution overwrites, so refreshed labels win.
func (s *Store) UpsertTransferFlag(ctx context.Context, transferID int64, side string, l models.EntityLabel) error {
	query := `
		INSERT INTO transfer_entity_flags (transfer_id, side, entity_name, entity_type, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (transfer_id, side, entity_name) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			source = EXCLUDED.source
	`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query,
		transferID, side, l.EntityName, l.EntityType, l.Source); err != nil {
		return fmt.Errorf("flag transfer %d side %s: %w", transferID, side, err)
	}
	return nil
}
