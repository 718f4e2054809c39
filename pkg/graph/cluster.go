package graph

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/force23airr/stableguard/pkg/db"
	"github.com/force23airr/stableguard/pkg/db/models"
)

// ClusterStore is the slice of the database the clustering job needs.
type ClusterStore interface {
	ListEdges(ctx context.Context, chainID uint64) ([]models.WalletGraphEdge, error)
	ReplaceClusters(ctx context.Context, chainID uint64, assignments []db.ClusterAssignment) error
}

// Clusterer recomputes connected components over the wallet graph. Edges are
// treated as undirected: funds flowing either way tie two addresses into the
// same component.
type Clusterer struct {
	logger *zap.Logger
	store  ClusterStore
}

func NewClusterer(logger *zap.Logger, store ClusterStore) *Clusterer {
	return &Clusterer{
		logger: logger.Named("cluster"),
		store:  store,
	}
}

// Recluster rebuilds the cluster table for one chain from the full edge set.
func (c *Clusterer) Recluster(ctx context.Context, chainID uint64) error {
	edges, err := c.store.ListEdges(ctx, chainID)
	if err != nil {
		return fmt.Errorf("recluster chain %d: %w", chainID, err)
	}

	assignments := clusterAddresses(edges)
	if err := c.store.ReplaceClusters(ctx, chainID, assignments); err != nil {
		return err
	}

	c.logger.Info("Clusters recomputed",
		zap.Uint64("chain_id", chainID),
		zap.Int("edges", len(edges)),
		zap.Int("addresses", len(assignments)))
	return nil
}

// clusterAddresses runs union-find over the edge set and assigns each address
// a component id. Ids are dense and deterministic: components are numbered by
// their lexicographically smallest member.
func clusterAddresses(edges []models.WalletGraphEdge) []db.ClusterAssignment {
	parent := map[string]string{}

	var find func(string) string
	find = func(x string) string {
		root, ok := parent[x]
		if !ok {
			parent[x] = x
			return x
		}
		if root == x {
			return x
		}
		top := find(root)
		parent[x] = top
		return top
	}

	union := func(a, b string) {
		ra, rb := find(a), find(b)
		if ra == rb {
			return
		}
		// Smaller root wins, which keeps numbering deterministic.
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	for _, e := range edges {
		union(string(e.SourceAddress), string(e.DestAddress))
	}

	roots := map[string][]string{}
	for addr := range parent {
		root := find(addr)
		roots[root] = append(roots[root], addr)
	}

	rootKeys := make([]string, 0, len(roots))
	for root := range roots {
		rootKeys = append(rootKeys, root)
	}
	sort.Strings(rootKeys)

	var assignments []db.ClusterAssignment
	for i, root := range rootKeys {
		members := roots[root]
		sort.Strings(members)
		for _, addr := range members {
			assignments = append(assignments, db.ClusterAssignment{
				Address:   []byte(addr),
				ClusterID: int32(i),
			})
		}
	}
	return assignments
}
