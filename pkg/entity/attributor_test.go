package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/force23airr/stableguard/pkg/db/models"
)

type mockFlagStore struct{ mock.Mock }

func (m *mockFlagStore) UpsertTransferFlag(ctx context.Context, transferID int64, side string, l models.EntityLabel) error {
	args := m.Called(ctx, transferID, side, l)
	return args.Error(0)
}

func TestAttributeFlagsMatchedSides(t *testing.T) {
	from := []byte{0x01}
	to := []byte{0x02}
	source := &stubLabelSource{labels: []models.EntityLabel{
		{Address: to, EntityName: "Kraken", EntityType: "exchange", Source: "manual"},
	}}
	labels := NewLabelStore(zaptest.NewLogger(t), source)
	require.NoError(t, labels.Refresh(context.Background()))

	flags := &mockFlagStore{}
	flags.On("UpsertTransferFlag", mock.Anything, int64(42), "to",
		mock.MatchedBy(func(l models.EntityLabel) bool { return l.EntityName == "Kraken" }),
	).Return(nil).Once()

	attr := NewAttributor(zaptest.NewLogger(t), labels, flags)
	hits, err := attr.Attribute(context.Background(), &models.Transfer{
		ID:          42,
		ChainID:     1,
		FromAddress: from,
		ToAddress:   to,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "to", hits[0].Side)
	require.Equal(t, "Kraken", hits[0].Label.EntityName)
	flags.AssertExpectations(t)
}

func TestAttributeFlagsEveryLabel(t *testing.T) {
	to := []byte{0x05}
	source := &stubLabelSource{labels: []models.EntityLabel{
		{Address: to, EntityName: "Binance", EntityType: "exchange", Source: "config"},
		{Address: to, EntityName: "Exchange", EntityType: "exchange", Source: "heuristic"},
	}}
	labels := NewLabelStore(zaptest.NewLogger(t), source)
	require.NoError(t, labels.Refresh(context.Background()))

	flags := &mockFlagStore{}
	flags.On("UpsertTransferFlag", mock.Anything, int64(9), "to", mock.Anything).
		Return(nil).Twice()

	attr := NewAttributor(zaptest.NewLogger(t), labels, flags)
	hits, err := attr.Attribute(context.Background(), &models.Transfer{
		ID:          9,
		ChainID:     1,
		FromAddress: []byte{0x04},
		ToAddress:   to,
	})
	require.NoError(t, err)
	require.Len(t, hits, 2, "each label on the address gets its own flag")
	flags.AssertExpectations(t)
}

func TestAttributeUnlabeledTransfer(t *testing.T) {
	labels := NewLabelStore(zaptest.NewLogger(t), &stubLabelSource{})
	require.NoError(t, labels.Refresh(context.Background()))

	flags := &mockFlagStore{}
	attr := NewAttributor(zaptest.NewLogger(t), labels, flags)

	hits, err := attr.Attribute(context.Background(), &models.Transfer{
		ID:          7,
		ChainID:     1,
		FromAddress: []byte{0x01},
		ToAddress:   []byte{0x02},
	})
	require.NoError(t, err)
	require.Empty(t, hits)
	flags.AssertNotCalled(t, "UpsertTransferFlag", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
