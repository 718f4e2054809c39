package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeHeaderSource struct {
	headers map[uint64]*Header
}

func (f *fakeHeaderSource) Next(context.Context) (*Block, error) {
	panic("not used")
}

func (f *fakeHeaderSource) HeaderAt(_ context.Context, number uint64) (*Header, error) {
	h, ok := f.headers[number]
	if !ok {
		return nil, ErrSourceClosed
	}
	return h, nil
}

func hdr(number uint64, hash, parent string) *Header {
	return &Header{Number: number, Hash: []byte(hash), ParentHash: []byte(parent)}
}

func headersWith(hs ...*Header) *fakeHeaderSource {
	m := map[uint64]*Header{}
	for _, h := range hs {
		m[h.Number] = h
	}
	return &fakeHeaderSource{headers: m}
}

func TestFindCommonAncestorShallowFork(t *testing.T) {
	// Stored history agrees with the fork through 98; 99 and 100 diverged.
	store := hashStoreWith(map[uint64]string{97: "h97", 98: "h98", 99: "h99", 100: "h100"})
	source := headersWith(hdr(99, "h99b", "h98"), hdr(100, "h100b", "h99b"))

	ancestor, err := FindCommonAncestor(context.Background(), source, store, 1, 100,
		hdr(100, "h100b", "h99b"), 64)
	require.NoError(t, err)
	require.Equal(t, uint64(98), ancestor)
}

func TestFindCommonAncestorOrphanedTipOnly(t *testing.T) {
	// Block 101 contradicted the tip, but its parent is the stored block 100:
	// only the competing 101 the chain never indexed was orphaned.
	store := hashStoreWith(map[uint64]string{99: "h99", 100: "h100"})
	source := headersWith(hdr(101, "h101b", "h100"))

	ancestor, err := FindCommonAncestor(context.Background(), source, store, 1, 100,
		hdr(101, "h101b", "h100"), 64)
	require.NoError(t, err)
	require.Equal(t, uint64(100), ancestor)
}

func TestFindCommonAncestorStaleHeadersForceRedelivery(t *testing.T) {
	// Block 102 claims parent h101b, but the source only ever delivered the
	// old h101. The walk must not stitch the fork onto dead history: it has
	// to demand redelivery of 101 instead.
	store := hashStoreWith(map[uint64]string{100: "h100", 101: "h101"})
	source := headersWith(hdr(100, "h100", "h99"), hdr(101, "h101", "h100"))

	_, err := FindCommonAncestor(context.Background(), source, store, 1, 101,
		hdr(102, "h102b", "h101b"), 64)

	var gap *GapError
	require.ErrorAs(t, err, &gap)
	require.Equal(t, uint64(101), gap.Expected)
	require.Equal(t, uint64(102), gap.Got)
}

func TestFindCommonAncestorTooDeep(t *testing.T) {
	// Everything inside the window diverged.
	stored := map[uint64]string{}
	var fresh []*Header
	for n := uint64(90); n <= 100; n++ {
		stored[n] = "old"
		fresh = append(fresh, hdr(n, "new", "new"))
	}

	_, err := FindCommonAncestor(context.Background(),
		headersWith(fresh...), hashStoreWith(stored), 1, 100,
		hdr(100, "new", "new"), 5)

	var deep *DeepReorgError
	require.ErrorAs(t, err, &deep)
	require.Equal(t, uint64(100), deep.Tip)
	require.Equal(t, uint64(5), deep.MaxDepth)
}

func TestFindCommonAncestorSkipsPrunedHeights(t *testing.T) {
	// Height 99 was pruned from the stored ledger; the custody walk steps
	// through it and still finds the agreement at 98.
	store := hashStoreWith(map[uint64]string{98: "h98", 100: "h100"})
	source := headersWith(hdr(99, "h99b", "h98"), hdr(100, "h100b", "h99b"))

	ancestor, err := FindCommonAncestor(context.Background(), source, store, 1, 100,
		hdr(100, "h100b", "h99b"), 64)
	require.NoError(t, err)
	require.Equal(t, uint64(98), ancestor)
}
