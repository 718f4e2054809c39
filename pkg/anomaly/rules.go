package anomaly

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/force23airr/stableguard/pkg/config"
	"github.com/force23airr/stableguard/pkg/db/models"
)

const defaultLargeTransferThreshold = 100_000

// roundTargets is the divisibility ladder of the round-number rule, largest
// first. Amounts below the smallest target never fire.
var roundTargets = []float64{100_000, 50_000, 25_000, 10_000, 5_000, 1_000}

// LargeTransferRule flags transfers above a per-token USD threshold, with
// escalating scores at 5x and 10x.
type LargeTransferRule struct {
	Thresholds map[string]float64
}

func (r *LargeTransferRule) Name() string { return TypeLargeTransfer }

func (r *LargeTransferRule) threshold(symbol string) float64 {
	if t, ok := r.Thresholds[symbol]; ok {
		return t
	}
	if t, ok := r.Thresholds["default"]; ok {
		return t
	}
	return defaultLargeTransferThreshold
}

func (r *LargeTransferRule) Evaluate(_ context.Context, t *models.Transfer, _ WalletContext) (*Finding, error) {
	amount := t.HumanAmount()
	threshold := r.threshold(t.TokenSymbol)
	if amount < threshold {
		return nil, nil
	}

	score := 0.40
	switch {
	case amount >= 10*threshold:
		score = 0.80
	case amount >= 5*threshold:
		score = 0.60
	}

	return &Finding{
		Type:      TypeLargeTransfer,
		RiskScore: score,
		Flags:     []string{"large_transfer"},
		Details: map[string]any{
			"amount_usd": amount,
			"threshold":  threshold,
		},
		Address: t.FromAddress,
	}, nil
}

// VelocityRule flags senders whose outgoing transfer count inside the window
// exceeds the configured maximum.
type VelocityRule struct {
	Store  CountStore
	Window time.Duration
	Max    int64
}

func (r *VelocityRule) Name() string { return TypeVelocity }

func (r *VelocityRule) Evaluate(ctx context.Context, t *models.Transfer, _ WalletContext) (*Finding, error) {
	since := t.BlockTimestamp.Add(-r.Window)
	count, err := r.Store.CountTransfersFrom(ctx, t.ChainID, t.FromAddress, since)
	if err != nil {
		return nil, fmt.Errorf("velocity count: %w", err)
	}
	if count <= r.Max {
		return nil, nil
	}

	score := 0.50
	if count > 5*r.Max {
		score = 0.70
	}

	return &Finding{
		Type:      TypeVelocity,
		RiskScore: score,
		Flags:     []string{"high_velocity"},
		Details: map[string]any{
			"transfer_count": count,
			"window_secs":    int64(r.Window.Seconds()),
			"max_transfers":  r.Max,
		},
		Address: t.FromAddress,
	}, nil
}

// SanctionedRule flags any transfer touching a sanctioned address.
type SanctionedRule struct {
	Checker SanctionChecker
}

func (r *SanctionedRule) Name() string { return TypeSanctioned }

func (r *SanctionedRule) Evaluate(_ context.Context, t *models.Transfer, _ WalletContext) (*Finding, error) {
	var (
		hit   models.EntityLabel
		addr  []byte
		side  string
		found bool
	)
	if l, ok := r.Checker.IsSanctioned(t.ChainID, t.FromAddress); ok {
		hit, addr, side, found = l, t.FromAddress, "from", true
	} else if l, ok := r.Checker.IsSanctioned(t.ChainID, t.ToAddress); ok {
		hit, addr, side, found = l, t.ToAddress, "to", true
	}
	if !found {
		return nil, nil
	}

	return &Finding{
		Type:      TypeSanctioned,
		RiskScore: 0.95,
		Flags:     []string{"sanctioned_counterparty"},
		Details: map[string]any{
			"entity_name": hit.EntityName,
			"source":      hit.Source,
			"side":        side,
		},
		Address: addr,
	}, nil
}

// RoundNumberRule flags amounts within a relative tolerance of a clean
// multiple of a round target. Structuring tends to produce exact round
// figures, at any magnitude.
type RoundNumberRule struct {
	Tolerance float64
}

func (r *RoundNumberRule) Name() string { return TypeRoundNumber }

func (r *RoundNumberRule) Evaluate(_ context.Context, t *models.Transfer, _ WalletContext) (*Finding, error) {
	amount := t.HumanAmount()
	if amount < roundTargets[len(roundTargets)-1] {
		return nil, nil
	}

	for _, target := range roundTargets {
		if amount < target {
			continue
		}
		fraction := math.Mod(amount, target) / target
		if fraction >= r.Tolerance && fraction <= 1-r.Tolerance {
			continue
		}

		score := 0.20
		switch {
		case target >= 100_000:
			score = 0.40
		case target >= 10_000:
			score = 0.30
		}

		return &Finding{
			Type:      TypeRoundNumber,
			RiskScore: score,
			Flags:     []string{"round_number"},
			Details: map[string]any{
				"amount_usd":   amount,
				"round_target": target,
			},
			Address: t.FromAddress,
		}, nil
	}
	return nil, nil
}

// NewWalletLargeReceiveRule flags large amounts landing on an address never
// seen before this transfer.
type NewWalletLargeReceiveRule struct {
	Threshold float64
}

func (r *NewWalletLargeReceiveRule) Name() string { return TypeNewWalletLargeReceive }

func (r *NewWalletLargeReceiveRule) Evaluate(_ context.Context, t *models.Transfer, wc WalletContext) (*Finding, error) {
	if wc.ToSeen {
		return nil, nil
	}
	amount := t.HumanAmount()
	if amount < r.Threshold {
		return nil, nil
	}

	score := 0.60
	if amount >= 10*r.Threshold {
		score = 0.80
	}

	return &Finding{
		Type:      TypeNewWalletLargeReceive,
		RiskScore: score,
		Flags:     []string{"new_wallet_large_receive"},
		Details: map[string]any{
			"amount_usd": amount,
			"threshold":  r.Threshold,
		},
		Address: t.ToAddress,
	}, nil
}

// CrossChainRule flags senders active on several chains inside the window.
type CrossChainRule struct {
	Store  CountStore
	Window time.Duration
}

func (r *CrossChainRule) Name() string { return TypeCrossChain }

func (r *CrossChainRule) Evaluate(ctx context.Context, t *models.Transfer, _ WalletContext) (*Finding, error) {
	since := t.BlockTimestamp.Add(-r.Window)
	chains, err := r.Store.CountActiveChains(ctx, t.FromAddress, since)
	if err != nil {
		return nil, fmt.Errorf("cross-chain count: %w", err)
	}
	if chains < 3 {
		return nil, nil
	}

	score := 0.30
	if chains >= 5 {
		score = 0.50
	}

	return &Finding{
		Type:      TypeCrossChain,
		RiskScore: score,
		Flags:     []string{"cross_chain_activity"},
		Details: map[string]any{
			"chain_count": chains,
			"window_secs": int64(r.Window.Seconds()),
		},
		Address: t.FromAddress,
	}, nil
}

// DefaultRules assembles the full rule set from config.
func DefaultRules(cfg config.AnomalyConfig, store CountStore, checker SanctionChecker) []Rule {
	return []Rule{
		&LargeTransferRule{Thresholds: cfg.LargeTransferThresholds},
		&VelocityRule{
			Store:  store,
			Window: time.Duration(cfg.Velocity.WindowSecs) * time.Second,
			Max:    cfg.Velocity.MaxTransfers,
		},
		&SanctionedRule{Checker: checker},
		&RoundNumberRule{Tolerance: cfg.RoundNumber.Tolerance},
		&NewWalletLargeReceiveRule{Threshold: cfg.NewWallet.ThresholdUSD},
		&CrossChainRule{
			Store:  store,
			Window: time.Duration(cfg.CrossChain.WindowSecs) * time.Second,
		},
	}
}
