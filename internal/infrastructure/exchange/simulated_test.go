package exchange_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/infrastructure/exchange"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newExchange(t *testing.T) *exchange.SimulatedExchange {
	t.Helper()
	markets := []domain.Market{{
		Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Type: domain.PortfolioSpot,
		AmountPrecision: 8, PricePrecision: 2,
	}}
	return exchange.NewSimulatedExchange(markets,
		map[string]decimal.Decimal{"USDT": d("1000"), "BTC": d("1")},
		d("0.001"), d("0.002"), nil)
}

func balance(t *testing.T, ex *exchange.SimulatedExchange, asset string) domain.Balance {
	t.Helper()
	b, err := ex.FetchBalance(context.Background())
	require.NoError(t, err)
	return b[asset]
}

func TestSimulatedExchange_LimitBuyLocksAndFills(t *testing.T) {
	ex := newExchange(t)
	ctx := context.Background()
	var updates []domain.RawOrder
	ex.OnOrderUpdate(func(o domain.RawOrder) { updates = append(updates, o) })

	created, err := ex.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT", Type: domain.OrderTypeLimit, Side: domain.SideBuy,
		Quantity: d("2"), Price: d("100"), ClientOrderID: "c-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, created.Status)
	assert.Equal(t, domain.Maker, created.TakerOrMaker)

	usdt := balance(t, ex, "USDT")
	assert.True(t, usdt.Free.Equal(d("800")))
	assert.True(t, usdt.Used.Equal(d("200")))

	open, err := ex.FetchOrders(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "c-1", open[0].ClientOrderID)

	ex.SetPrice("BTC/USDT", d("101"))
	assert.Empty(t, updates)

	ex.SetPrice("BTC/USDT", d("99"))
	require.Len(t, updates, 1)
	filled := updates[0]
	assert.Equal(t, domain.OrderStatusFilled, filled.Status)
	assert.True(t, filled.Average.Equal(d("100")))
	require.NotNil(t, filled.Fee)
	assert.True(t, filled.Fee.IsFromExchange)
	assert.True(t, filled.Fee.Cost.Equal(d("0.2")))

	usdt = balance(t, ex, "USDT")
	assert.True(t, usdt.Total.Equal(d("799.8")))
	assert.True(t, usdt.Used.IsZero())
	assert.True(t, balance(t, ex, "BTC").Total.Equal(d("3")))

	trades, err := ex.FetchRecentTrades(ctx, "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.True(t, trades[0].Price.Equal(d("100")))
}

func TestSimulatedExchange_StopSellTriggersBelow(t *testing.T) {
	ex := newExchange(t)
	var updates []domain.RawOrder
	ex.OnOrderUpdate(func(o domain.RawOrder) { updates = append(updates, o) })
	ex.SetPrice("BTC/USDT", d("100"))

	_, err := ex.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Type: domain.OrderTypeStopLoss, Side: domain.SideSell,
		Quantity: d("1"), StopPrice: d("90"),
	})
	require.NoError(t, err)
	assert.True(t, balance(t, ex, "BTC").Free.IsZero())

	ex.SetPrice("BTC/USDT", d("89"))
	require.Len(t, updates, 1)
	assert.True(t, updates[0].Average.Equal(d("89")))
	assert.Equal(t, domain.Taker, updates[0].TakerOrMaker)
	// 89 - 0.178 taker fee
	assert.True(t, balance(t, ex, "USDT").Total.Equal(d("1088.822")))
}

func TestSimulatedExchange_MarketOrderFillsImmediately(t *testing.T) {
	ex := newExchange(t)
	var prices []decimal.Decimal
	ex.OnPriceUpdate(func(_ string, p decimal.Decimal) { prices = append(prices, p) })
	ex.SetPrice("BTC/USDT", d("50"))

	var updates []domain.RawOrder
	ex.OnOrderUpdate(func(o domain.RawOrder) { updates = append(updates, o) })
	created, err := ex.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Type: domain.OrderTypeMarket, Side: domain.SideSell, Quantity: d("0.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, created.Status)
	require.Len(t, updates, 1)
	assert.Len(t, prices, 1)
	assert.True(t, balance(t, ex, "BTC").Total.Equal(d("0.5")))
}

func TestSimulatedExchange_Rejections(t *testing.T) {
	ex := newExchange(t)
	ctx := context.Background()

	_, err := ex.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT", Type: domain.OrderTypeLimit, Side: domain.SideBuy,
		Quantity: d("20"), Price: d("100"),
	})
	require.Error(t, err)
	assert.True(t, domain.IsErrorType(err, domain.ErrorTypeOrderRejected))

	_, err = ex.CreateOrder(ctx, domain.OrderRequest{Symbol: "ETH/USDT", Quantity: d("1")})
	assert.True(t, errors.Is(err, domain.ErrUnknownMarket))

	_, err = ex.FetchOrder(ctx, "missing", "BTC/USDT")
	assert.True(t, errors.Is(err, domain.ErrUnknownOrder))
}

func TestSimulatedExchange_CancelAndEdit(t *testing.T) {
	ex := newExchange(t)
	ctx := context.Background()
	created, err := ex.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT", Type: domain.OrderTypeLimit, Side: domain.SideSell,
		Quantity: d("0.5"), Price: d("200"),
	})
	require.NoError(t, err)

	edited, err := ex.EditOrder(ctx, created.ExchangeID, domain.OrderRequest{
		Symbol: "BTC/USDT", Type: domain.OrderTypeLimit, Side: domain.SideSell,
		Quantity: d("0.8"), Price: d("210"),
	})
	require.NoError(t, err)
	assert.True(t, edited.Remaining.Equal(d("0.8")))
	assert.True(t, edited.Price.Equal(d("210")))
	btc := balance(t, ex, "BTC")
	assert.True(t, btc.Free.Equal(d("0.2")))
	assert.True(t, btc.Used.Equal(d("0.8")))

	_, err = ex.EditOrder(ctx, created.ExchangeID, domain.OrderRequest{Quantity: d("2"), Price: d("210")})
	require.Error(t, err)
	assert.True(t, balance(t, ex, "BTC").Used.Equal(d("0.8")))

	status, err := ex.CancelOrder(ctx, created.ExchangeID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, status)
	btc = balance(t, ex, "BTC")
	assert.True(t, btc.Free.Equal(d("1")))
	assert.True(t, btc.Used.IsZero())

	status, err = ex.CancelOrder(ctx, created.ExchangeID, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, status)

	assert.True(t, ex.CanEditOrder(domain.OrderTypeLimit))
	assert.False(t, ex.CanEditOrder(domain.OrderTypeTrailingStop))
}

func TestSimulatedExchange_TradeFee(t *testing.T) {
	ex := newExchange(t)
	fee, err := ex.GetTradeFee(context.Background(), "BTC/USDT", domain.OrderTypeMarket, d("2"), d("100"), domain.Taker)
	require.NoError(t, err)
	assert.Equal(t, "USDT", fee.Currency)
	assert.True(t, fee.Cost.Equal(d("0.4")))
}

func TestSimulatedExchange_FillOrderPartially(t *testing.T) {
	ex := newExchange(t)
	ctx := context.Background()
	var updates []domain.RawOrder
	ex.OnOrderUpdate(func(o domain.RawOrder) { updates = append(updates, o) })

	created, err := ex.CreateOrder(ctx, domain.OrderRequest{
		Symbol: "BTC/USDT", Type: domain.OrderTypeLimit, Side: domain.SideBuy,
		Quantity: d("2"), Price: d("100"),
	})
	require.NoError(t, err)

	require.NoError(t, ex.FillOrder(created.ExchangeID, d("0.5")))
	require.Len(t, updates, 1)
	first := updates[0]
	assert.Equal(t, domain.OrderStatusPartiallyFilled, first.Status)
	assert.True(t, first.Filled.Equal(d("0.5")))
	assert.True(t, first.Remaining.Equal(d("1.5")))
	require.Len(t, first.Trades, 1)
	assert.NotEmpty(t, first.Trades[0].ID)

	usdt := balance(t, ex, "USDT")
	assert.True(t, usdt.Total.Equal(d("949.95")), usdt.Total.String())
	assert.True(t, usdt.Used.Equal(d("150")))
	assert.True(t, balance(t, ex, "BTC").Total.Equal(d("1.5")))

	// more than what is left fills the remainder
	require.NoError(t, ex.FillOrder(created.ExchangeID, d("2")))
	require.Len(t, updates, 2)
	last := updates[1]
	assert.Equal(t, domain.OrderStatusFilled, last.Status)
	require.Len(t, last.Trades, 2)
	assert.True(t, last.Fee.Cost.Equal(d("0.2")))
	assert.True(t, first.Fee.Cost.Equal(d("0.05")))
	assert.Len(t, first.Trades, 1)
	assert.True(t, balance(t, ex, "USDT").Total.Equal(d("799.8")))

	assert.ErrorIs(t, ex.FillOrder(created.ExchangeID, d("1")), domain.ErrInvalidOrderState)
	assert.ErrorIs(t, ex.FillOrder("missing", d("1")), domain.ErrUnknownOrder)
}
