package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/storage"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_OrderDetails(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	missing, err := store.GetStartupOrderDetails(ctx, "ex-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	details := &domain.OrderDetails{
		ExchangeOrderID: "ex-1",
		ClientOrderID:   "client-1",
		Symbol:          "BTC/USDT",
		GroupName:       "oco",
		IsActive:        false,
		TriggerPrice:    decimal.RequireFromString("19.9"),
		TriggerAbove:    true,
		UpdatedAt:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, store.SaveOrderDetails(ctx, details))

	details.Tag = "entry"
	require.NoError(t, store.SaveOrderDetails(ctx, details))

	got, err := store.GetStartupOrderDetails(ctx, "ex-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "client-1", got.ClientOrderID)
	assert.Equal(t, "oco", got.GroupName)
	assert.Equal(t, "entry", got.Tag)
	assert.False(t, got.IsActive)
	assert.True(t, got.TriggerAbove)
	assert.True(t, got.TriggerPrice.Equal(decimal.RequireFromString("19.9")))

	all, err := store.ListOrderDetails(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.DeleteOrderDetails(ctx, "ex-1"))
	got, err = store.GetStartupOrderDetails(ctx, "ex-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_Trades(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	entry := &domain.Trade{
		ID: "ex-1-1", ExchangeOrderID: "ex-1", OriginOrderID: "o-1", Symbol: "BTC/USDT",
		Side: domain.SideBuy, Type: domain.OrderTypeLimit, Status: domain.OrderStatusFilled,
		ExecutedTime: base, ExecutedQuantity: decimal.RequireFromString("0.5"),
		ExecutedPrice: decimal.RequireFromString("100"), TotalCost: decimal.RequireFromString("50"),
		Fee: &domain.FeeDetails{Currency: "USDT", Cost: decimal.RequireFromString("0.05"), Rate: decimal.RequireFromString("0.001"), IsFromExchange: true},
	}
	exit := &domain.Trade{
		ID: "ex-2-1", ExchangeOrderID: "ex-2", Symbol: "BTC/USDT",
		Side: domain.SideSell, Type: domain.OrderTypeLimit, Status: domain.OrderStatusFilled,
		ExecutedTime: base.Add(time.Hour), ExecutedQuantity: decimal.RequireFromString("0.5"),
		ExecutedPrice: decimal.RequireFromString("120"), TotalCost: decimal.RequireFromString("60"),
		IsClosingOrder: true, AssociatedEntryIDs: []string{"ex-1"},
	}
	other := &domain.Trade{
		ID: "ex-3-1", Symbol: "ETH/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket,
		Status: domain.OrderStatusFilled, ExecutedTime: base.Add(2 * time.Hour),
		ExecutedQuantity: decimal.NewFromInt(1), ExecutedPrice: decimal.NewFromInt(10), TotalCost: decimal.NewFromInt(10),
	}
	for _, tr := range []*domain.Trade{entry, exit, other} {
		require.NoError(t, store.SaveTrade(ctx, tr))
	}
	assert.Error(t, store.SaveTrade(ctx, entry))

	btc, err := store.GetTrades(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, "ex-1-1", btc[0].ID)
	require.NotNil(t, btc[0].Fee)
	assert.Equal(t, "USDT", btc[0].Fee.Currency)
	assert.True(t, btc[0].Fee.Cost.Equal(decimal.RequireFromString("0.05")))
	assert.Nil(t, btc[1].Fee)
	assert.Equal(t, []string{"ex-1"}, btc[1].AssociatedEntryIDs)
	assert.True(t, btc[1].IsClosingOrder)
	assert.True(t, btc[1].ExecutedPrice.Equal(decimal.NewFromInt(120)))

	all, err := store.GetTrades(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	recent, err := store.ListTrades(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "ex-3-1", recent[0].ID)
}
