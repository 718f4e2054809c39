package tokens

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/force23airr/stableguard/pkg/config"
	"github.com/force23airr/stableguard/pkg/db/models"
	"github.com/force23airr/stableguard/pkg/utils"
)

type stubTokenStore struct {
	tokens map[uint64][]models.KnownToken
}

func (s *stubTokenStore) UpsertKnownToken(_ context.Context, t models.KnownToken) error {
	for i, existing := range s.tokens[t.ChainID] {
		if string(existing.TokenAddress) == string(t.TokenAddress) {
			s.tokens[t.ChainID][i] = t
			return nil
		}
	}
	s.tokens[t.ChainID] = append(s.tokens[t.ChainID], t)
	return nil
}

func (s *stubTokenStore) ListKnownTokens(_ context.Context, chainID uint64) ([]models.KnownToken, error) {
	return s.tokens[chainID], nil
}

func TestSeedAndLookup(t *testing.T) {
	store := &stubTokenStore{tokens: map[uint64][]models.KnownToken{}}
	registry := NewRegistry(zaptest.NewLogger(t), store)

	chain := config.ChainConfig{
		Name:    "ethereum",
		ChainID: 1,
		Tokens: []config.TokenConfig{
			{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		},
	}
	require.NoError(t, registry.Seed(context.Background(), chain))

	addr, err := utils.ParseAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	require.NoError(t, err)

	token, ok := registry.Lookup(1, addr)
	require.True(t, ok)
	require.Equal(t, "USDC", token.Symbol)
	require.Equal(t, int16(6), token.Decimals)

	_, ok = registry.Lookup(137, addr)
	require.False(t, ok, "token is registered per chain")

	_, ok = registry.Lookup(1, []byte("unwatched-contract--"))
	require.False(t, ok)
}

func TestSeedLoadsExistingTokens(t *testing.T) {
	// The database already knows a token the config does not mention.
	existing := models.KnownToken{
		ChainID:      1,
		TokenAddress: []byte("existing-token-addr!"),
		Symbol:       "DAI",
		Decimals:     18,
	}
	store := &stubTokenStore{tokens: map[uint64][]models.KnownToken{1: {existing}}}
	registry := NewRegistry(zaptest.NewLogger(t), store)

	chain := config.ChainConfig{
		Name:    "ethereum",
		ChainID: 1,
		Tokens: []config.TokenConfig{
			{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		},
	}
	require.NoError(t, registry.Seed(context.Background(), chain))

	token, ok := registry.Lookup(1, existing.TokenAddress)
	require.True(t, ok)
	require.Equal(t, "DAI", token.Symbol)
}
