package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/force23airr/stableguard/pkg/anomaly"
	"github.com/force23airr/stableguard/pkg/config"
	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/entity"
)

var (
	tokenAddr = []byte("token-usdc")
	walletA   = []byte("wallet-a")
	walletB   = []byte("wallet-b")
)

// memStore is an in-memory PipelineStore for driving the runner.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	checkpoint *models.Checkpoint
	hashes     map[uint64]models.BlockHash
	transfers  map[int64]*models.Transfer
	rollbacks  []uint64
}

func newMemStore() *memStore {
	return &memStore{
		nextID:    1,
		hashes:    map[uint64]models.BlockHash{},
		transfers: map[int64]*models.Transfer{},
	}
}

func (m *memStore) Checkpoint(context.Context, uint64) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		return nil, nil
	}
	cp := *m.checkpoint
	return &cp, nil
}

func (m *memStore) StoredBlockHash(_ context.Context, _ uint64, number uint64) (*models.BlockHash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bh, ok := m.hashes[number]
	if !ok {
		return nil, nil
	}
	return &bh, nil
}

func (m *memStore) RecordBlock(_ context.Context, bh models.BlockHash, transfers []*models.Transfer) ([]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes[bh.BlockNumber] = bh

	inserted := make([]bool, len(transfers))
	for i, t := range transfers {
		dup := false
		for _, existing := range m.transfers {
			if string(existing.TxHash) == string(t.TxHash) && existing.LogIndex == t.LogIndex {
				t.ID = existing.ID
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		t.ID = m.nextID
		m.nextID++
		m.transfers[t.ID] = t
		inserted[i] = true
	}
	return inserted, nil
}

func (m *memStore) AdvanceCheckpoint(_ context.Context, chainID, blockNumber uint64, blockHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoint = &models.Checkpoint{
		ChainID:          chainID,
		LastIndexedBlock: blockNumber,
		LastBlockHash:    blockHash,
	}
	return nil
}

func (m *memStore) RollbackToHeight(_ context.Context, chainID, height uint64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks = append(m.rollbacks, height)

	var affected [][]byte
	for id, t := range m.transfers {
		if t.BlockNumber > height {
			affected = append(affected, t.FromAddress, t.ToAddress)
			delete(m.transfers, id)
		}
	}
	for n := range m.hashes {
		if n > height {
			delete(m.hashes, n)
		}
	}
	bh := m.hashes[height]
	m.checkpoint = &models.Checkpoint{
		ChainID:          chainID,
		LastIndexedBlock: height,
		LastBlockHash:    bh.BlockHash,
	}
	return affected, nil
}

func (m *memStore) PruneBlockHashes(context.Context, uint64, uint64, uint64) (int64, error) {
	return 0, nil
}

func (m *memStore) transferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

type fakeGraph struct {
	mu          sync.Mutex
	absorbed    []int64
	invalidated [][]byte
}

func (g *fakeGraph) Seen(context.Context, uint64, []byte) (bool, error) { return false, nil }

func (g *fakeGraph) Absorb(_ context.Context, t *models.Transfer) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.absorbed = append(g.absorbed, t.ID)
	return true, nil
}

func (g *fakeGraph) Invalidate(_ uint64, addresses [][]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invalidated = append(g.invalidated, addresses...)
}

type fakeScorer struct {
	mu        sync.Mutex
	evaluated []int64
}

func (s *fakeScorer) Evaluate(_ context.Context, t *models.Transfer, _ anomaly.WalletContext) ([]*anomaly.Finding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluated = append(s.evaluated, t.ID)
	return nil, nil
}

type fakeAttributor struct{}

func (fakeAttributor) Attribute(context.Context, *models.Transfer) ([]entity.Hit, error) {
	return nil, nil
}

type fakeLinker struct{}

func (fakeLinker) Process(context.Context, *models.Transfer) error { return nil }

type fakeResolver struct{}

func (fakeResolver) Lookup(_ uint64, address []byte) (models.KnownToken, bool) {
	if string(address) != string(tokenAddr) {
		return models.KnownToken{}, false
	}
	return models.KnownToken{ChainID: 1, TokenAddress: tokenAddr, Symbol: "USDC", Decimals: 6}, true
}

type runnerFixture struct {
	runner *Runner
	source *ChannelSource
	store  *memStore
	graph  *fakeGraph
	scorer *fakeScorer
	health *HealthTracker
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	store := newMemStore()
	g := &fakeGraph{}
	scorer := &fakeScorer{}
	health := NewHealthTracker()
	source := NewChannelSource(16)

	cfg := config.ChainConfig{Name: "testchain", ChainID: 1, MaxReorgDepth: 64}
	runner := NewRunner(cfg, source, Deps{
		Logger:     zaptest.NewLogger(t),
		Store:      store,
		Tokens:     fakeResolver{},
		Graph:      g,
		Engine:     scorer,
		Attributor: fakeAttributor{},
		Onramps:    fakeLinker{},
		Publisher:  &Publisher{logger: zaptest.NewLogger(t)},
		Health:     health,
		Ownership:  NewOwnership(),
		Pool:       pond.NewPool(4),
	})

	return &runnerFixture{runner: runner, source: source, store: store, graph: g, scorer: scorer, health: health}
}

func transferEvent(tx string, logIndex int32, amount int64) TransferEvent {
	return TransferEvent{
		TxHash:       []byte(tx),
		LogIndex:     logIndex,
		TokenAddress: tokenAddr,
		FromAddress:  walletA,
		ToAddress:    walletB,
		Amount:       decimal.New(amount, 6),
	}
}

func pushBlock(t *testing.T, s *ChannelSource, number uint64, hash, parent string, events ...TransferEvent) {
	t.Helper()
	require.NoError(t, s.Push(context.Background(), &Block{
		Number:     number,
		Hash:       []byte(hash),
		ParentHash: []byte(parent),
		Timestamp:  time.Unix(1_700_000_000+int64(number)*12, 0),
		Transfers:  events,
	}))
}

func TestRunnerIndexesSequentialBlocks(t *testing.T) {
	fx := newRunnerFixture(t)

	pushBlock(t, fx.source, 10, "h10", "h9", transferEvent("tx1", 0, 100))
	pushBlock(t, fx.source, 11, "h11", "h10")
	pushBlock(t, fx.source, 12, "h12", "h11", transferEvent("tx2", 0, 50))
	fx.source.Close()

	require.NoError(t, fx.runner.Run(context.Background()))

	cp, err := fx.store.Checkpoint(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(12), cp.LastIndexedBlock)
	require.Equal(t, []byte("h12"), cp.LastBlockHash)

	require.Equal(t, 2, fx.store.transferCount())
	require.Len(t, fx.graph.absorbed, 2)
	require.Len(t, fx.scorer.evaluated, 2)

	snapshot := fx.health.Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, uint64(12), snapshot[0].LastBlock)
}

func TestRunnerSkipsDuplicateBlock(t *testing.T) {
	fx := newRunnerFixture(t)

	pushBlock(t, fx.source, 10, "h10", "h9", transferEvent("tx1", 0, 100))
	pushBlock(t, fx.source, 11, "h11", "h10")
	// Redelivery of 10 with the same hash must not change anything.
	pushBlock(t, fx.source, 10, "h10", "h9", transferEvent("tx1", 0, 100))
	fx.source.Close()

	require.NoError(t, fx.runner.Run(context.Background()))

	cp, err := fx.store.Checkpoint(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(11), cp.LastIndexedBlock)
	require.Equal(t, 1, fx.store.transferCount())
	require.Len(t, fx.graph.absorbed, 1)
}

func TestRunnerRollsBackOnReorg(t *testing.T) {
	fx := newRunnerFixture(t)

	pushBlock(t, fx.source, 10, "h10", "h9", transferEvent("tx1", 0, 100))
	pushBlock(t, fx.source, 11, "h11", "h10", transferEvent("tx2", 0, 200))
	// Competing block 11: contradicts stored history, forks off block 10.
	pushBlock(t, fx.source, 11, "h11b", "h10", transferEvent("tx3", 0, 300))
	fx.source.Close()

	require.NoError(t, fx.runner.Run(context.Background()))

	require.Equal(t, []uint64{10}, fx.store.rollbacks)
	require.NotEmpty(t, fx.graph.invalidated, "rollback must invalidate touched addresses")

	cp, err := fx.store.Checkpoint(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(11), cp.LastIndexedBlock)
	require.Equal(t, []byte("h11b"), cp.LastBlockHash)
	require.Equal(t, 2, fx.store.transferCount(), "tx2 discarded, tx3 recorded")

	snapshot := fx.health.Snapshot()
	require.Len(t, snapshot, 1)
	require.Equal(t, uint64(1), snapshot[0].Reorgs)
}

func TestRunnerHaltsOnOrphanedTipWithoutForkDelivery(t *testing.T) {
	fx := newRunnerFixture(t)

	pushBlock(t, fx.source, 10, "h10", "h9", transferEvent("tx1", 0, 100))
	pushBlock(t, fx.source, 11, "h11", "h10", transferEvent("tx2", 0, 200))
	// Block 12 sits on a replacement block 11 the source never delivered.
	// The stale h11 header must not be mistaken for the fork's history: the
	// chain halts until 11 is redelivered, and nothing is rolled back or
	// stitched on.
	pushBlock(t, fx.source, 12, "h12", "h11b", transferEvent("tx3", 0, 300))
	fx.source.Close()

	err := fx.runner.Run(context.Background())
	var gap *GapError
	require.ErrorAs(t, err, &gap)
	require.Equal(t, uint64(11), gap.Expected)
	require.Equal(t, uint64(12), gap.Got)

	require.Empty(t, fx.store.rollbacks, "stale fork view must not trigger a rollback")
	require.Equal(t, 2, fx.store.transferCount(), "tx3 from the unverified block must not land")

	cp, cpErr := fx.store.Checkpoint(context.Background(), 1)
	require.NoError(t, cpErr)
	require.Equal(t, uint64(11), cp.LastIndexedBlock)
	require.Equal(t, []byte("h11"), cp.LastBlockHash)
}

func TestRunnerAppliesOrphanedTipAfterForkRedelivery(t *testing.T) {
	fx := newRunnerFixture(t)

	pushBlock(t, fx.source, 10, "h10", "h9", transferEvent("tx1", 0, 100))
	pushBlock(t, fx.source, 11, "h11", "h10", transferEvent("tx2", 0, 200))
	// The source redelivers the replacement 11 before the block on top of it,
	// so the custody walk can verify the fork down to block 10.
	pushBlock(t, fx.source, 11, "h11b", "h10", transferEvent("tx3", 0, 300))
	pushBlock(t, fx.source, 12, "h12", "h11b", transferEvent("tx4", 0, 400))
	fx.source.Close()

	require.NoError(t, fx.runner.Run(context.Background()))

	require.Equal(t, []uint64{10}, fx.store.rollbacks)

	cp, err := fx.store.Checkpoint(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(12), cp.LastIndexedBlock)
	require.Equal(t, []byte("h12"), cp.LastBlockHash)
	require.Equal(t, 3, fx.store.transferCount(), "tx2 discarded; tx1, tx3 and tx4 recorded")
}

func TestRunnerHaltsOnGap(t *testing.T) {
	fx := newRunnerFixture(t)

	pushBlock(t, fx.source, 10, "h10", "h9")
	pushBlock(t, fx.source, 15, "h15", "h14")
	fx.source.Close()

	err := fx.runner.Run(context.Background())
	var gap *GapError
	require.ErrorAs(t, err, &gap)
	require.Equal(t, uint64(11), gap.Expected)

	cp, cpErr := fx.store.Checkpoint(context.Background(), 1)
	require.NoError(t, cpErr)
	require.Equal(t, uint64(10), cp.LastIndexedBlock, "gap must leave state unchanged")

	snapshot := fx.health.Snapshot()
	require.Len(t, snapshot, 1)
	require.True(t, snapshot[0].Halted)
	require.Contains(t, snapshot[0].LastError, "block gap")
}

func TestRunnerRefusesSecondOwner(t *testing.T) {
	fx := newRunnerFixture(t)
	require.True(t, fx.runner.deps.Ownership.Acquire(1, "other"))

	fx.source.Close()
	err := fx.runner.Run(context.Background())
	require.ErrorContains(t, err, "already owned")
}
