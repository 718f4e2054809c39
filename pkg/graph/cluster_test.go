package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/force23airr/stableguard/pkg/db"
	"github.com/force23airr/stableguard/pkg/db/models"
)

func edge(src, dst string) models.WalletGraphEdge {
	return models.WalletGraphEdge{SourceAddress: []byte(src), DestAddress: []byte(dst), ChainID: 1}
}

func assignmentMap(assignments []db.ClusterAssignment) map[string]int32 {
	out := map[string]int32{}
	for _, a := range assignments {
		out[string(a.Address)] = a.ClusterID
	}
	return out
}

func TestClusterAddressesComponents(t *testing.T) {
	// a-b-c form one component via a->b and c->b; d-e another; f is isolated
	// but appears as an edge endpoint so it gets its own cluster.
	edges := []models.WalletGraphEdge{
		edge("a", "b"),
		edge("c", "b"),
		edge("d", "e"),
		edge("f", "f"),
	}

	got := assignmentMap(clusterAddresses(edges))
	require.Len(t, got, 6)

	require.Equal(t, got["a"], got["b"])
	require.Equal(t, got["b"], got["c"])
	require.Equal(t, got["d"], got["e"])
	require.NotEqual(t, got["a"], got["d"])
	require.NotEqual(t, got["a"], got["f"])
	require.NotEqual(t, got["d"], got["f"])
}

func TestClusterAddressesDirectionIrrelevant(t *testing.T) {
	forward := assignmentMap(clusterAddresses([]models.WalletGraphEdge{edge("a", "b")}))
	backward := assignmentMap(clusterAddresses([]models.WalletGraphEdge{edge("b", "a")}))
	require.Equal(t, forward, backward)
}

func TestClusterAddressesDeterministic(t *testing.T) {
	edges1 := []models.WalletGraphEdge{edge("a", "b"), edge("d", "e"), edge("c", "b")}
	edges2 := []models.WalletGraphEdge{edge("d", "e"), edge("c", "b"), edge("a", "b")}

	require.Equal(t, clusterAddresses(edges1), clusterAddresses(edges2),
		"assignments must not depend on edge order")
}

func TestClusterAddressesEmpty(t *testing.T) {
	require.Empty(t, clusterAddresses(nil))
}
