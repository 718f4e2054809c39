package onramp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/force23airr/stableguard/pkg/db/models"
)

var (
	providerAddr = []byte{0x0a}
	otherAddr    = []byte{0x0b}
	userAddr     = []byte{0x0c}
)

type stubWalletSource struct {
	wallets []models.ProviderWallet
}

func (s *stubWalletSource) ListProviderWallets(context.Context) ([]models.ProviderWallet, error) {
	return s.wallets, nil
}

type mockLinkStore struct{ mock.Mock }

func (m *mockLinkStore) LinkOnrampTransfer(ctx context.Context, transferID int64, providerID int32, direction string) (bool, error) {
	args := m.Called(ctx, transferID, providerID, direction)
	return args.Bool(0), args.Error(1)
}

func newTestRegistry(t *testing.T, links LinkStore) *Registry {
	source := &stubWalletSource{wallets: []models.ProviderWallet{
		{ProviderID: 1, ProviderName: "MoonPay", ChainID: 1, Address: providerAddr},
		{ProviderID: 2, ProviderName: "Ramp", ChainID: 1, Address: otherAddr},
	}}
	r := NewRegistry(zaptest.NewLogger(t), source, links)
	require.NoError(t, r.Refresh(context.Background()))
	return r
}

func TestMatchDirections(t *testing.T) {
	r := newTestRegistry(t, &mockLinkStore{})

	// Provider pays out to a user.
	id, name, dir, matched, ambiguous := r.Match(&models.Transfer{
		ChainID: 1, FromAddress: providerAddr, ToAddress: userAddr,
	})
	require.True(t, matched)
	require.False(t, ambiguous)
	require.Equal(t, int32(1), id)
	require.Equal(t, "MoonPay", name)
	require.Equal(t, DirectionWithdrawal, dir)

	// Provider receives a customer deposit.
	id, _, dir, matched, ambiguous = r.Match(&models.Transfer{
		ChainID: 1, FromAddress: userAddr, ToAddress: providerAddr,
	})
	require.True(t, matched)
	require.False(t, ambiguous)
	require.Equal(t, int32(1), id)
	require.Equal(t, DirectionDeposit, dir)

	// No provider wallet involved.
	_, _, _, matched, ambiguous = r.Match(&models.Transfer{
		ChainID: 1, FromAddress: userAddr, ToAddress: []byte{0xff},
	})
	require.False(t, matched)
	require.False(t, ambiguous)

	// Wallet known on chain 1 only.
	_, _, _, matched, _ = r.Match(&models.Transfer{
		ChainID: 137, FromAddress: providerAddr, ToAddress: userAddr,
	})
	require.False(t, matched)
}

func TestMatchBothSidesIsAmbiguous(t *testing.T) {
	r := newTestRegistry(t, &mockLinkStore{})

	_, _, _, matched, ambiguous := r.Match(&models.Transfer{
		ChainID: 1, FromAddress: providerAddr, ToAddress: otherAddr,
	})
	require.False(t, matched)
	require.True(t, ambiguous)
}

func TestProcessLinksAndSkips(t *testing.T) {
	links := &mockLinkStore{}
	r := newTestRegistry(t, links)

	links.On("LinkOnrampTransfer", mock.Anything, int64(5), int32(1), DirectionWithdrawal).
		Return(true, nil).Once()
	err := r.Process(context.Background(), &models.Transfer{
		ID: 5, ChainID: 1, FromAddress: providerAddr, ToAddress: userAddr,
	})
	require.NoError(t, err)

	// Provider-to-provider flows never persist a link.
	err = r.Process(context.Background(), &models.Transfer{
		ID: 6, ChainID: 1, FromAddress: providerAddr, ToAddress: otherAddr,
	})
	require.NoError(t, err)

	links.AssertExpectations(t)
	links.AssertNumberOfCalls(t, "LinkOnrampTransfer", 1)
}
