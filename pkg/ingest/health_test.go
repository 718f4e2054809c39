package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthTrackerSnapshot(t *testing.T) {
	h := NewHealthTracker()

	h.Advanced(1, "ethereum", 100)
	h.Advanced(137, "polygon", 5000)
	h.Advanced(1, "ethereum", 101)
	h.ReorgHandled(1)

	snapshot := h.Snapshot()
	require.Len(t, snapshot, 2)

	byID := map[uint64]ChainHealth{}
	for _, ch := range snapshot {
		byID[ch.ChainID] = ch
	}
	require.Equal(t, uint64(101), byID[1].LastBlock)
	require.Equal(t, uint64(1), byID[1].Reorgs)
	require.Equal(t, uint64(5000), byID[137].LastBlock)
	require.Equal(t, uint64(0), byID[137].Reorgs)
}

func TestHealthTrackerReorgCountSurvivesAdvance(t *testing.T) {
	h := NewHealthTracker()

	h.Advanced(1, "ethereum", 100)
	h.ReorgHandled(1)
	h.Advanced(1, "ethereum", 101)

	snapshot := h.Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, uint64(1), snapshot[0].Reorgs)
}

func TestHealthTrackerHalted(t *testing.T) {
	h := NewHealthTracker()

	h.Advanced(1, "ethereum", 100)
	h.Halted(1, "ethereum", &GapError{ChainID: 1, Expected: 101, Got: 105})

	snapshot := h.Snapshot()
	require.Len(t, snapshot, 1)
	require.True(t, snapshot[0].Halted)
	require.Contains(t, snapshot[0].LastError, "block gap")
	require.Equal(t, uint64(100), snapshot[0].LastBlock)

	// A successful advance clears the halt.
	h.Advanced(1, "ethereum", 101)
	snapshot = h.Snapshot()
	require.False(t, snapshot[0].Halted)
	require.Empty(t, snapshot[0].LastError)
}

func TestHealthTrackerStallDetection(t *testing.T) {
	h := NewHealthTracker()

	h.Watch(1, "ethereum", 2*time.Second)
	h.Advanced(1, "ethereum", 100)

	now := time.Now()
	snapshot := h.snapshotAt(now)
	require.Len(t, snapshot, 1)
	require.False(t, snapshot[0].Stalled, "a fresh advance is not a stall")

	snapshot = h.snapshotAt(now.Add(time.Minute))
	require.True(t, snapshot[0].Stalled, "many missed cadences mark the chain stalled")

	// A halted chain reports halted, not stalled.
	h.Halted(1, "ethereum", &GapError{ChainID: 1, Expected: 101, Got: 105})
	snapshot = h.snapshotAt(now.Add(time.Minute))
	require.True(t, snapshot[0].Halted)
	require.False(t, snapshot[0].Stalled)
}

func TestOwnershipExclusive(t *testing.T) {
	o := NewOwnership()

	require.True(t, o.Acquire(1, "runner-a"))
	require.False(t, o.Acquire(1, "runner-b"))
	require.True(t, o.Acquire(2, "runner-b"), "a different chain is free")

	o.Release(1)
	require.True(t, o.Acquire(1, "runner-b"))
}
