package anomaly

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/db/models"
)

// AnomalyStore persists findings.
type AnomalyStore interface {
	UpsertAnomaly(ctx context.Context, a *models.Anomaly) error
}

// Engine runs every rule against a transfer and persists the findings.
type Engine struct {
	logger *zap.Logger
	store  AnomalyStore
	rules  []Rule
}

// NewEngine builds an engine over the given rule set.
func NewEngine(logger *zap.Logger, store AnomalyStore, rules []Rule) *Engine {
	return &Engine{
		logger: logger.Named("anomaly"),
		store:  store,
		rules:  rules,
	}
}

// Evaluate scores one transfer. Rules run sequentially; a rule error aborts
// the evaluation so the runner's retry re-scores the whole transfer. Upserts
// make the retry harmless. Returns the findings that fired.
func (e *Engine) Evaluate(ctx context.Context, t *models.Transfer, wc WalletContext) ([]*Finding, error) {
	var findings []*Finding

	for _, rule := range e.rules {
		finding, err := rule.Evaluate(ctx, t, wc)
		if err != nil {
			return nil, fmt.Errorf("rule %s on transfer %d: %w", rule.Name(), t.ID, err)
		}
		if finding == nil {
			continue
		}

		if err := e.store.UpsertAnomaly(ctx, &models.Anomaly{
			TransferID:  t.ID,
			ChainID:     t.ChainID,
			AnomalyType: finding.Type,
			RiskScore:   finding.RiskScore,
			Flags:       finding.Flags,
			Details:     finding.Details,
			Address:     finding.Address,
		}); err != nil {
			return nil, err
		}

		e.logger.Debug("Anomaly detected",
			zap.Int64("transfer_id", t.ID),
			zap.String("type", finding.Type),
			zap.Float64("risk_score", finding.RiskScore))

		findings = append(findings, finding)
	}

	return findings, nil
}
