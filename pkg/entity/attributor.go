package entity

import (
	"context"

	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/db/models"
)

// FlagStore persists attribution hits.
type FlagStore interface {
	UpsertTransferFlag(ctx context.Context, transferID int64, side string, l models.EntityLabel) error
}

// Hit is one attributed side of a transfer.
type Hit struct {
	Side  string // "from" or "to"
	Label models.EntityLabel
}

// Attributor stamps transfers with the entities behind their endpoints.
type Attributor struct {
	logger *zap.Logger
	labels *LabelStore
	flags  FlagStore
}

func NewAttributor(logger *zap.Logger, labels *LabelStore, flags FlagStore) *Attributor {
	return &Attributor{
		logger: logger.Named("attributor"),
		labels: labels,
		flags:  flags,
	}
}

// Attribute looks up both endpoints and records a flag for every applicable
// label on each matched side. Upserts, so re-attribution after a label
// refresh replaces the old verdict.
func (a *Attributor) Attribute(ctx context.Context, t *models.Transfer) ([]Hit, error) {
	var hits []Hit

	sides := []struct {
		name string
		addr []byte
	}{
		{"from", t.FromAddress},
		{"to", t.ToAddress},
	}

	for _, side := range sides {
		for _, label := range a.labels.Lookup(t.ChainID, side.addr) {
			if err := a.flags.UpsertTransferFlag(ctx, t.ID, side.name, label); err != nil {
				return nil, err
			}
			a.logger.Debug("Transfer attributed",
				zap.Int64("transfer_id", t.ID),
				zap.String("side", side.name),
				zap.String("entity", label.EntityName))
			hits = append(hits, Hit{Side: side.name, Label: label})
		}
	}

	return hits, nil
}
