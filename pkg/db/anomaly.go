package db

import (
	"context"
	"fmt"

	"github.com/force23airr/stableguard/pkg/db/models"
)

// initAnomalies creates the anomalies table. One row per (transfer, rule).
func (s *Store) initAnomalies(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS anomalies (
			id BIGSERIAL PRIMARY KEY,
			transfer_id BIGINT NOT NULL REFERENCES transfers (id) ON DELETE CASCADE,
			chain_id BIGINT NOT NULL,
			anomaly_type TEXT NOT NULL,
			risk_score DOUBLE PRECISION NOT NULL,
			flags TEXT[] NOT NULL DEFAULT '{}',
			details JSONB NOT NULL DEFAULT '{}',
			address BYTEA,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			UNIQUE (transfer_id, anomaly_type)
		);
		CREATE INDEX IF NOT EXISTS idx_anomalies_chain_resolved
			ON anomalies (chain_id, resolved)
	`

	return s.Exec(ctx, query)
}

// UpsertAnomaly writes a detection result. Re-evaluating the same transfer
// overwrites score, flags and details with the latest values; the resolved
// column is owned by the analyst workflow and stays as it was.
func (s *Store) UpsertAnomaly(ctx context.Context, a *models.Anomaly) error {
	query := `
		INSERT INTO anomalies (transfer_id, chain_id, anomaly_type, risk_score, flags, details, address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transfer_id, anomaly_type) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			flags = EXCLUDED.flags,
			details = EXCLUDED.details,
			address = EXCLUDED.address
	`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query,
		a.TransferID, a.ChainID, a.AnomalyType, a.RiskScore, a.Flags, a.Details, a.Address); err != nil {
		return fmt.Errorf("upsert anomaly %s for transfer %d: %w", a.AnomalyType, a.TransferID, err)
	}
	return nil
}

// ResolveAnomaly marks an anomaly handled. Idempotent.
func (s *Store) ResolveAnomaly(ctx context.Context, id int64) error {
	query := `UPDATE anomalies SET resolved = TRUE WHERE id = $1`

	exec := s.GetExecutor(ctx)
	if _, err := exec.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("resolve anomaly %d: %w", id, err)
	}
	return nil
}

// AnomaliesForTransfer returns every detection recorded against a transfer.
func (s *Store) AnomaliesForTransfer(ctx context.Context, transferID int64) ([]models.Anomaly, error) {
	query := `
		SELECT id, transfer_id, chain_id, anomaly_type, risk_score, flags, details, address, resolved
		FROM anomalies
		WHERE transfer_id = $1
		ORDER BY anomaly_type
	`

	exec := s.GetExecutor(ctx)
	rows, err := exec.Query(ctx, query, transferID)
	if err != nil {
		return nil, fmt.Errorf("list anomalies for transfer %d: %w", transferID, err)
	}
	defer rows.Close()

	var out []models.Anomaly
	for rows.Next() {
		var a models.Anomaly
		if err := rows.Scan(&a.ID, &a.TransferID, &a.ChainID, &a.AnomalyType,
			&a.RiskScore, &a.Flags, &a.Details, &a.Address, &a.Resolved); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
