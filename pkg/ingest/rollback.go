package ingest

import (
	"bytes"
	"context"
)

// FindCommonAncestor walks the new fork's chain of custody downward, starting
// from the contradicting block's own parent hash, and returns the highest
// height where the fork agrees with the stored ledger. Descending a step needs
// the fork block at that height: the source must have delivered it, and its
// header must match the hash the custody chain expects. A missing or stale
// header means the fork's history has not been redelivered yet, so a GapError
// is returned to force redelivery instead of trusting a dead header. If no
// agreement is found within maxDepth blocks below the indexed tip, the fork
// predates the retained window and a DeepReorgError is returned with state
// untouched.
func FindCommonAncestor(ctx context.Context, source BlockSource, store HashStore, chainID, tip uint64, fork *Header, maxDepth uint64) (uint64, error) {
	floor := uint64(0)
	if tip > maxDepth {
		floor = tip - maxDepth
	}
	if fork.Number == 0 {
		return 0, &DeepReorgError{ChainID: chainID, Tip: tip, MaxDepth: maxDepth}
	}

	want := fork.ParentHash
	for h := fork.Number - 1; ; h-- {
		stored, err := store.StoredBlockHash(ctx, chainID, h)
		if err != nil {
			return 0, err
		}
		if stored != nil && bytes.Equal(stored.BlockHash, want) {
			return h, nil
		}

		if h == floor || h == 0 {
			break
		}

		fresh, err := source.HeaderAt(ctx, h)
		if err != nil || !bytes.Equal(fresh.Hash, want) {
			return 0, &GapError{ChainID: chainID, Expected: h, Got: fork.Number}
		}
		want = fresh.ParentHash
	}

	return 0, &DeepReorgError{ChainID: chainID, Tip: tip, MaxDepth: maxDepth}
}
