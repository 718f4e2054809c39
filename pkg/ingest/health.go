package ingest

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// stallMultiple is how many missed block cadences make a chain count as
// stalled in the status snapshot.
const stallMultiple = 10

// ChainHealth is one chain's live ingestion status.
type ChainHealth struct {
	ChainID     uint64    `json:"chain_id"`
	Name        string    `json:"name"`
	LastBlock   uint64    `json:"last_block"`
	LastAdvance time.Time `json:"last_advance"`
	Reorgs      uint64    `json:"reorgs"`
	Halted      bool      `json:"halted"`
	Stalled     bool      `json:"stalled"`
	LastError   string    `json:"last_error,omitempty"`

	cadence time.Duration
}

// HealthTracker aggregates per-chain status for the ops endpoint. Runners
// write, the HTTP handler reads, no coordination between chains.
type HealthTracker struct {
	chains *xsync.Map[uint64, ChainHealth]
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{chains: xsync.NewMap[uint64, ChainHealth]()}
}

// Watch registers a chain and its expected block cadence before the first
// block lands. A watched chain that stops advancing for long shows up as
// stalled in the snapshot.
func (h *HealthTracker) Watch(chainID uint64, name string, cadence time.Duration) {
	prev, _ := h.chains.Load(chainID)
	prev.ChainID = chainID
	prev.Name = name
	prev.cadence = cadence
	h.chains.Store(chainID, prev)
}

// Advanced records a successfully indexed block and clears any error state.
func (h *HealthTracker) Advanced(chainID uint64, name string, block uint64) {
	prev, _ := h.chains.Load(chainID)
	h.chains.Store(chainID, ChainHealth{
		ChainID:     chainID,
		Name:        name,
		LastBlock:   block,
		LastAdvance: time.Now(),
		Reorgs:      prev.Reorgs,
		cadence:     prev.cadence,
	})
}

// Halted records that the chain's runner stopped on an unrecoverable error.
func (h *HealthTracker) Halted(chainID uint64, name string, err error) {
	prev, _ := h.chains.Load(chainID)
	prev.ChainID = chainID
	prev.Name = name
	prev.Halted = true
	prev.LastError = err.Error()
	h.chains.Store(chainID, prev)
}

// ReorgHandled bumps the chain's reorg counter.
func (h *HealthTracker) ReorgHandled(chainID uint64) {
	prev, _ := h.chains.Load(chainID)
	prev.ChainID = chainID
	prev.Reorgs++
	h.chains.Store(chainID, prev)
}

// Snapshot returns the current status of every chain.
func (h *HealthTracker) Snapshot() []ChainHealth {
	return h.snapshotAt(time.Now())
}

func (h *HealthTracker) snapshotAt(now time.Time) []ChainHealth {
	var out []ChainHealth
	h.chains.Range(func(_ uint64, v ChainHealth) bool {
		if !v.Halted && v.cadence > 0 && !v.LastAdvance.IsZero() &&
			now.Sub(v.LastAdvance) > stallMultiple*v.cadence {
			v.Stalled = true
		}
		out = append(out, v)
		return true
	})
	return out
}

// Ownership guards the one-runner-per-chain invariant. Checkpoints assume a
// single writer, so a second runner for the same chain must refuse to start.
type Ownership struct {
	owners *xsync.Map[uint64, string]
}

func NewOwnership() *Ownership {
	return &Ownership{owners: xsync.NewMap[uint64, string]()}
}

// Acquire claims a chain for the named runner. Returns false when another
// runner already owns it.
func (o *Ownership) Acquire(chainID uint64, owner string) bool {
	_, loaded := o.owners.LoadOrStore(chainID, owner)
	return !loaded
}

// Release frees the chain.
func (o *Ownership) Release(chainID uint64) {
	o.owners.Delete(chainID)
}
