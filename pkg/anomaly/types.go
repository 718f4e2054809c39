// Package anomaly scores recorded transfers against a fixed set of detection
// rules. Every rule is independent and idempotent: re-scoring a transfer
// overwrites its previous finding for that rule.
package anomaly

import (
	"context"
	"time"

	"github.com/force23airr/stableguard/pkg/db/models"
)

// Rule names double as the anomaly_type column values.
const (
	TypeLargeTransfer         = "large_transfer"
	TypeVelocity              = "velocity"
	TypeSanctioned            = "sanctioned_counterparty"
	TypeRoundNumber           = "round_number"
	TypeNewWalletLargeReceive = "new_wallet_large_receive"
	TypeCrossChain            = "cross_chain_activity"
)

// WalletContext captures what was known about a transfer's endpoints before
// the transfer itself was folded into the wallet graph. The runner snapshots
// it ahead of the concurrent fan-out so rule results do not depend on whether
// graph absorption won the race.
type WalletContext struct {
	FromSeen bool
	ToSeen   bool
}

// Finding is one rule's verdict on one transfer. A nil Finding means the rule
// did not fire.
type Finding struct {
	Type      string
	RiskScore float64 // [0,1]
	Flags     []string
	Details   map[string]any
	Address   []byte
}

// Rule evaluates one detection heuristic against a transfer.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, t *models.Transfer, wc WalletContext) (*Finding, error)
}

// CountStore is the slice of the database the history-based rules need.
type CountStore interface {
	CountTransfersFrom(ctx context.Context, chainID uint64, from []byte, since time.Time) (int64, error)
	CountActiveChains(ctx context.Context, address []byte, since time.Time) (int, error)
}

// SanctionChecker answers whether an address carries a sanctioned label on a
// chain. Backed by the in-memory label store.
type SanctionChecker interface {
	IsSanctioned(chainID uint64, address []byte) (models.EntityLabel, bool)
}
