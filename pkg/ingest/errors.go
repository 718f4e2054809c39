package ingest

import "fmt"

// GapError reports a non-contiguous block from the source. Ingestion is
// strictly sequential, so a gap means the source skipped ahead and the chain
// cannot advance until the missing heights are delivered.
type GapError struct {
	ChainID  uint64
	Expected uint64
	Got      uint64
}

func (e *GapError) Error() string {
	return fmt.Sprintf("chain %d: block gap, expected %d got %d", e.ChainID, e.Expected, e.Got)
}

// DeepReorgError reports a fork point below the retained hash window. The
// chain's state is left untouched; recovering requires operator intervention
// (re-indexing from a trusted height).
type DeepReorgError struct {
	ChainID  uint64
	Tip      uint64
	MaxDepth uint64
}

func (e *DeepReorgError) Error() string {
	return fmt.Sprintf("chain %d: reorg deeper than %d blocks below tip %d", e.ChainID, e.MaxDepth, e.Tip)
}
