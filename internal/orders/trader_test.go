package orders_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/orders"
)

func TestTrader_CreateOrderReservesOnlyUnfilledPart(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	o := buyLimit("10", "70")
	o.FilledQuantity = d("3")

	require.NoError(t, f.trader.CreateOrder(context.Background(), o))

	usdt := f.portfolio.Asset("USDT")
	assertDecimal(t, "510", usdt.Available)
	assertDecimal(t, "1000", usdt.Total)
	require.Len(t, gw.created, 1)
	assertDecimal(t, "7", gw.created[0].Quantity)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)
	assert.Equal(t, "ex-1", o.ExchangeOrderID)
}

func TestTrader_CreateOrderReservesTakerFeeOnBuys(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	m := btcUSDT
	m.TakerFee = d("0.001")
	o := orders.New(orders.Spec{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: d("1"), Price: d("100"), Market: m})

	require.NoError(t, f.trader.CreateOrder(context.Background(), o))
	assertDecimal(t, "899.9", f.portfolio.Asset("USDT").Available)
}

func TestTrader_CreateOrderFailureReleasesFunds(t *testing.T) {
	gw := &MockGateway{createErr: errors.New("insufficient margin")}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	o := buyLimit("1", "100")

	err := f.trader.CreateOrder(context.Background(), o)
	require.Error(t, err)
	assert.Equal(t, domain.OrderStatusRejected, o.Status)
	assertDecimal(t, "1000", f.portfolio.Asset("USDT").Available)
	assert.Equal(t, 0, f.trader.Orders().Len())
}

func TestTrader_CreateOrderWithoutFunds(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "50"})

	err := f.trader.CreateOrder(context.Background(), buyLimit("1", "100"))
	assert.True(t, errors.Is(err, domain.ErrPortfolioNegativeValue))
	assert.Empty(t, gw.created)
}

func TestTrader_FillIsHandledOnce(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	o := buyLimit("1", "100")
	ctx := context.Background()
	require.NoError(t, f.trader.CreateOrder(ctx, o))

	require.NoError(t, f.trader.HandleOrderUpdate(ctx, filledReport(o, "1", "100")))
	require.NoError(t, f.trader.HandleOrderUpdate(ctx, filledReport(o, "1", "100")))
	require.NoError(t, f.trader.OnFill(ctx, o))

	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	usdt, btc := f.portfolio.Asset("USDT"), f.portfolio.Asset("BTC")
	assertDecimal(t, "900", usdt.Available)
	assertDecimal(t, "900", usdt.Total)
	assertDecimal(t, "1", btc.Available)
	assertDecimal(t, "1", btc.Total)
	assert.Equal(t, 1, f.trades.Len())
}

func TestTrader_ReportedTradesKeepExchangeIDs(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	o := buyLimit("2", "100")
	ctx := context.Background()
	require.NoError(t, f.trader.CreateOrder(ctx, o))

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	first := domain.RawTrade{ID: "T1", Price: d("100"), Amount: d("1"), Cost: d("100"), Timestamp: at,
		Fee: &domain.FeeDetails{Currency: "USDT", Cost: d("0.1")}}
	second := domain.RawTrade{ID: "T2", Price: d("101"), Amount: d("1"), Cost: d("101"), Timestamp: at.Add(time.Minute),
		Fee: &domain.FeeDetails{Currency: "USDT", Cost: d("0.101")}}

	partial := domain.RawOrder{
		ExchangeID: o.ExchangeOrderID,
		Status:     domain.OrderStatusPartiallyFilled,
		Filled:     d("1"),
		Average:    d("100"),
		Fee:        &domain.FeeDetails{Currency: "USDT", Cost: d("0.1"), IsFromExchange: true},
		Trades:     []domain.RawTrade{first},
	}
	require.NoError(t, f.trader.HandleOrderUpdate(ctx, partial))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)

	filled := partial
	filled.Status = domain.OrderStatusFilled
	filled.Filled = d("2")
	filled.Average = d("100.5")
	filled.Fee = &domain.FeeDetails{Currency: "USDT", Cost: d("0.201"), IsFromExchange: true}
	filled.Trades = []domain.RawTrade{second, first}
	require.NoError(t, f.trader.HandleOrderUpdate(ctx, filled))
	require.NoError(t, f.trader.HandleOrderUpdate(ctx, filled))

	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	require.Equal(t, 2, f.trades.Len())
	t1, ok := f.trades.Get("T1")
	require.True(t, ok)
	assertDecimal(t, "100", t1.ExecutedPrice)
	assert.Equal(t, at, t1.ExecutedTime)
	t2, ok := f.trades.Get("T2")
	require.True(t, ok)
	assertDecimal(t, "101", t2.ExecutedPrice)
	assertDecimal(t, "0.101", t2.Fee.Cost)
	_, ok = f.trades.Get(o.ExchangeOrderID + "-1")
	assert.False(t, ok)

	usdt, btc := f.portfolio.Asset("USDT"), f.portfolio.Asset("BTC")
	assertDecimal(t, "798.799", usdt.Total)
	assertDecimal(t, "798.799", usdt.Available)
	assertDecimal(t, "2", btc.Total)
	assertDecimal(t, "100.5", o.FilledPrice)
}

func TestTrader_ReportWithoutTradeIDsUsesSequenceKeys(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	o := buyLimit("1", "100")
	ctx := context.Background()
	require.NoError(t, f.trader.CreateOrder(ctx, o))

	report := filledReport(o, "1", "100")
	report.Trades = []domain.RawTrade{{Price: d("100"), Amount: d("1")}}
	require.NoError(t, f.trader.HandleOrderUpdate(ctx, report))

	require.Equal(t, 1, f.trades.Len())
	_, ok := f.trades.Get(o.ExchangeOrderID + "-1")
	assert.True(t, ok)
}

func TestTrader_PartialFillThenCancelRestoresUnfilledPart(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	o := buyLimit("1", "100")
	ctx := context.Background()
	require.NoError(t, f.trader.CreateOrder(ctx, o))

	require.NoError(t, f.trader.HandleOrderUpdate(ctx, domain.RawOrder{
		ExchangeID: o.ExchangeOrderID, Status: domain.OrderStatusPartiallyFilled,
		Filled: d("0.4"), Average: d("100"),
	}))
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)
	assertDecimal(t, "900", f.portfolio.Asset("USDT").Available)
	assertDecimal(t, "960", f.portfolio.Asset("USDT").Total)

	require.NoError(t, f.trader.HandleOrderUpdate(ctx, domain.RawOrder{
		ExchangeID: o.ExchangeOrderID, Status: domain.OrderStatusCancelled,
		Filled: d("0.4"), Average: d("100"),
	}))
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	usdt := f.portfolio.Asset("USDT")
	assertDecimal(t, "960", usdt.Available)
	assertDecimal(t, "960", usdt.Total)
	assertDecimal(t, "0.4", f.portfolio.Asset("BTC").Total)
	assert.Len(t, f.trades.Trades("BTC/USDT"), 1)
}

func TestTrader_HandleOrderUpdateUnknownOrder(t *testing.T) {
	f := newFixture(t, &MockGateway{}, domain.PortfolioSpot, nil)
	err := f.trader.HandleOrderUpdate(context.Background(), domain.RawOrder{ExchangeID: "nope", Status: domain.OrderStatusFilled})
	assert.True(t, errors.Is(err, domain.ErrUnknownOrder))
}

func TestTrader_CreateTimeoutResolvedBySync(t *testing.T) {
	gw := &MockGateway{createErr: context.DeadlineExceeded}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	o := buyLimit("1", "100")
	ctx := context.Background()

	err := f.trader.CreateOrder(ctx, o)
	assert.True(t, errors.Is(err, domain.ErrOrderCreationTimeout))
	assert.Equal(t, domain.OrderStatusUnknown, o.Status)
	assertDecimal(t, "900", f.portfolio.Asset("USDT").Available)

	gw.open = []domain.RawOrder{{ExchangeID: "ex-77", ClientOrderID: o.ClientOrderID, Status: domain.OrderStatusOpen, Amount: d("1")}}
	require.NoError(t, f.trader.SyncOrder(ctx, o))

	assert.Equal(t, domain.OrderStatusOpen, o.Status)
	assert.Equal(t, "ex-77", o.ExchangeOrderID)
	found, ok := f.trader.Orders().GetByExchangeID("ex-77")
	require.True(t, ok)
	assert.Same(t, o, found)
}

func TestTrader_CreateTimeoutNotFoundIsRejected(t *testing.T) {
	gw := &MockGateway{createErr: context.DeadlineExceeded}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	o := buyLimit("1", "100")
	ctx := context.Background()
	_ = f.trader.CreateOrder(ctx, o)

	require.NoError(t, f.trader.SyncOrder(ctx, o))

	assert.Equal(t, domain.OrderStatusRejected, o.Status)
	assertDecimal(t, "1000", f.portfolio.Asset("USDT").Available)
}

func TestTrader_CancelTimeoutIsRetriedOnSync(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"BTC": "1"})
	o := sellLimit("1", "20")
	ctx := context.Background()
	require.NoError(t, f.trader.CreateOrder(ctx, o))

	gw.cancelErr = context.DeadlineExceeded
	err := f.trader.CancelOrder(ctx, o)
	assert.True(t, errors.Is(err, domain.ErrOrderCancelTimeout))
	assert.True(t, o.Cancelling)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)

	gw.cancelErr = nil
	require.NoError(t, f.trader.SyncOrder(ctx, o))
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assert.False(t, o.Cancelling)
	assert.Equal(t, []string{"ex-1"}, gw.cancelled)
	assertDecimal(t, "1", f.portfolio.Asset("BTC").Available)
}

func TestTrader_CancelReportedFilledSynchronizes(t *testing.T) {
	gw := &MockGateway{cancelStatus: domain.OrderStatusFilled}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"BTC": "1"})
	o := sellLimit("1", "20")
	ctx := context.Background()
	require.NoError(t, f.trader.CreateOrder(ctx, o))
	gw.fetched = map[string]*domain.RawOrder{"ex-1": {ExchangeID: "ex-1", Status: domain.OrderStatusFilled, Filled: d("1"), Average: d("20")}}

	require.NoError(t, f.trader.CancelOrder(ctx, o))

	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assertDecimal(t, "20", f.portfolio.Asset("USDT").Total)
	assertDecimal(t, "0", f.portfolio.Asset("BTC").Total)
}

func TestTrader_ChainedOrderUsesQuantityNetOfFee(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	ctx := context.Background()
	parent := buyLimit("1", "100")
	child := sellLimit("1", "110")
	require.NoError(t, f.trader.AddChainedOrder(ctx, parent, child, orders.TriggerOnFill))
	require.NoError(t, f.trader.CreateOrder(ctx, parent))
	assert.Equal(t, domain.OrderStatusPending, child.Status)

	report := filledReport(parent, "1", "100")
	report.Fee = &domain.FeeDetails{Currency: "BTC", Cost: d("0.001"), IsFromExchange: true}
	require.NoError(t, f.trader.HandleOrderUpdate(ctx, report))

	assert.Equal(t, domain.OrderStatusOpen, child.Status)
	assertDecimal(t, "0.999", child.OriginQuantity)
	assert.Equal(t, []string{"ex-1"}, child.AssociatedEntryIDs)
	require.Len(t, gw.created, 2)
	assertDecimal(t, "0.999", gw.created[1].Quantity)
	btc := f.portfolio.Asset("BTC")
	assertDecimal(t, "0", btc.Available)
	assertDecimal(t, "0.999", btc.Total)
}

func TestTrader_ChainedOrderOnCancel(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	ctx := context.Background()
	parent := buyLimit("1", "100")
	onCancel, onFill := buyLimit("1", "90"), sellLimit("1", "110")
	require.NoError(t, f.trader.AddChainedOrder(ctx, parent, onCancel, orders.TriggerOnCancel))
	require.NoError(t, f.trader.AddChainedOrder(ctx, parent, onFill, orders.TriggerOnFill))
	require.NoError(t, f.trader.CreateOrder(ctx, parent))

	require.NoError(t, f.trader.CancelOrder(ctx, parent))

	assert.Equal(t, domain.OrderStatusOpen, onCancel.Status)
	assert.Equal(t, domain.OrderStatusPending, onFill.Status)
	assertDecimal(t, "910", f.portfolio.Asset("USDT").Available)
}

func TestTrader_EditWithoutEditorCancelsAndRecreates(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"BTC": "1"})
	ctx := context.Background()
	o := sellLimit("1", "20")
	require.NoError(t, f.trader.CreateOrder(ctx, o))

	qty, price := d("0.5"), d("21")
	require.NoError(t, f.trader.EditOrder(ctx, o, &qty, &price))

	assert.Equal(t, []string{"ex-1"}, gw.cancelled)
	assert.Equal(t, "ex-2", o.ExchangeOrderID)
	assertDecimal(t, "21", o.OriginPrice)
	assertDecimal(t, "0.5", o.LockedQuantity())
	_, ok := f.trader.Orders().GetByExchangeID("ex-1")
	assert.False(t, ok)
	_, ok = f.trader.Orders().GetByExchangeID("ex-2")
	assert.True(t, ok)
	assertDecimal(t, "0.5", f.portfolio.Asset("BTC").Available)
}

func TestTrader_EditStopMovesStopPrice(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, EditingGateway{gw}, domain.PortfolioSpot, map[string]string{"BTC": "1"})
	ctx := context.Background()
	o := sellStop("1", "8")
	require.NoError(t, f.trader.CreateOrder(ctx, o))

	price := d("9")
	require.NoError(t, f.trader.EditOrder(ctx, o, nil, &price))

	assert.Equal(t, []string{"ex-1"}, gw.edited)
	assert.Empty(t, gw.cancelled)
	assertDecimal(t, "9", o.StopPrice)
	assert.True(t, o.OriginPrice.IsZero())
	assertDecimal(t, "1", o.LockedQuantity())
}

func TestTrader_InactiveOrderReservesNothing(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"BTC": "1"})
	ctx := context.Background()
	o := orders.New(orders.Spec{Symbol: "BTC/USDT", Side: domain.SideSell, Type: domain.OrderTypeLimit,
		Quantity: d("1"), Price: d("20"), Inactive: true, Market: btcUSDT,
		Trigger: &orders.ActiveTrigger{Price: d("19.9"), Above: true}})

	require.NoError(t, f.trader.CreateOrder(ctx, o))
	assert.Empty(t, gw.created)
	assertDecimal(t, "1", f.portfolio.Asset("BTC").Available)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)

	require.NoError(t, f.trader.SetActive(ctx, o))
	assert.Len(t, gw.created, 1)
	assertDecimal(t, "0", f.portfolio.Asset("BTC").Available)

	require.NoError(t, f.trader.SetInactive(ctx, o))
	assert.Equal(t, []string{"ex-1"}, gw.cancelled)
	assert.Empty(t, o.ExchangeOrderID)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)
	assertDecimal(t, "1", f.portfolio.Asset("BTC").Available)
}

func TestTrader_SubmitSplitsLargeOrders(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"USDT": "1000"})
	m := btcUSDT
	m.MaxAmount = d("1")

	created, err := f.trader.Submit(context.Background(), orders.Spec{Symbol: "BTC/USDT", Side: domain.SideBuy,
		Type: domain.OrderTypeLimit, Quantity: d("2.5"), Price: d("100"), Market: m})

	require.NoError(t, err)
	assert.Len(t, created, 3)
	assert.Len(t, gw.created, 3)
	assertDecimal(t, "750", f.portfolio.Asset("USDT").Available)
}

func TestTrader_RestoreDoesNotReserveAgain(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, nil)
	f.portfolio.SetAsset("USDT", d("900"), d("1000"))
	ctx := context.Background()

	o, err := f.trader.Restore(ctx, domain.RawOrder{ID: "ex-5", ExchangeID: "ex-5", Symbol: "BTC/USDT",
		Type: domain.OrderTypeLimit, Side: domain.SideBuy, Amount: d("1"), Price: d("100"),
		Status: domain.OrderStatusOpen}, btcUSDT)
	require.NoError(t, err)
	assertDecimal(t, "900", f.portfolio.Asset("USDT").Available)

	require.NoError(t, f.trader.HandleOrderUpdate(ctx, domain.RawOrder{ExchangeID: "ex-5", Status: domain.OrderStatusCancelled}))
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
	assertDecimal(t, "1000", f.portfolio.Asset("USDT").Available)
}

func TestTrader_OCOFillThroughSwapReleasesFundsOnce(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"BTC": "0.1"})
	ctx := context.Background()
	g, err := f.trader.Groups().Create("oco", orders.GroupOCO)
	require.NoError(t, err)
	strategy := orders.NewSwapStrategy(orders.SwapStopFirst, 0)
	g.SetSwapStrategy(strategy)

	stop, limit := sellStop("0.1", "8"), sellLimit("0.1", "20")
	g.Add(stop)
	g.Add(limit)
	strategy.ApplyInactiveOrders([]*orders.Order{stop, limit}, d("10"), nil)
	require.NoError(t, f.trader.CreateOrder(ctx, stop))
	require.NoError(t, f.trader.CreateOrder(ctx, limit))
	assertDecimal(t, "0", f.portfolio.Asset("BTC").Available)
	assertDecimal(t, "0.1", f.portfolio.Asset("BTC").Total)

	fill := func(ctx context.Context, o *orders.Order) error {
		return f.trader.HandleOrderUpdate(ctx, filledReport(o, "0.1", "20"))
	}
	require.NoError(t, strategy.Execute(ctx, f.trader, g, limit, fill))

	assert.Equal(t, domain.OrderStatusFilled, limit.Status)
	assert.Equal(t, domain.OrderStatusCancelled, stop.Status)
	btc, usdt := f.portfolio.Asset("BTC"), f.portfolio.Asset("USDT")
	assertDecimal(t, "0", btc.Available)
	assertDecimal(t, "0", btc.Total)
	assertDecimal(t, "2", usdt.Available)
	assertDecimal(t, "2", usdt.Total)
}

func TestTrader_BalancedGroupRebalancesAfterTakeProfitFill(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, EditingGateway{gw}, domain.PortfolioSpot, map[string]string{"BTC": "2"})
	ctx := context.Background()
	g, err := f.trader.Groups().Create("position", orders.GroupBalanced)
	require.NoError(t, err)

	big, small := sellStop("0.8", "9"), sellStop("0.2", "8")
	tp1, tp2, tp3 := sellLimit("0.4", "20"), sellLimit("0.25", "25"), sellLimit("0.35", "30")
	for _, o := range []*orders.Order{big, small, tp1, tp2, tp3} {
		g.Add(o)
		require.NoError(t, f.trader.CreateOrder(ctx, o))
	}

	require.NoError(t, f.trader.HandleOrderUpdate(ctx, filledReport(tp1, "0.4", "20")))

	assert.Equal(t, domain.OrderStatusCancelled, small.Status)
	assert.Equal(t, []string{small.ExchangeOrderID}, gw.cancelled)
	assert.Equal(t, []string{big.ExchangeOrderID}, gw.edited)
	assertDecimal(t, "0.6", big.LockedQuantity())
	stops := big.LockedQuantity()
	tps := tp2.LockedQuantity().Add(tp3.LockedQuantity())
	assert.True(t, stops.Equal(tps))

	btc := f.portfolio.Asset("BTC")
	assertDecimal(t, "1.6", btc.Total)
	assertDecimal(t, "0.4", btc.Available)
}

func TestTrader_BalancedGroupRefusesOversizedOrder(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, gw, domain.PortfolioSpot, map[string]string{"BTC": "2"})
	ctx := context.Background()
	g, err := f.trader.Groups().Create("position", orders.GroupBalanced)
	require.NoError(t, err)
	stop := sellStop("0.5", "8")
	g.Add(stop)
	require.NoError(t, f.trader.CreateOrder(ctx, stop))

	tp := sellLimit("0.6", "20")
	g.Add(tp)
	err = f.trader.CreateOrder(ctx, tp)
	assert.True(t, errors.Is(err, domain.ErrInvalidOrderState))
	assert.Len(t, gw.created, 1)
}

func TestTrader_TrailingStopFollowsTakeProfit(t *testing.T) {
	gw := &MockGateway{}
	f := newFixture(t, EditingGateway{gw}, domain.PortfolioSpot, map[string]string{"BTC": "2"})
	ctx := context.Background()
	g, err := f.trader.Groups().Create("trail", orders.GroupTrailing)
	require.NoError(t, err)

	stop := orders.New(orders.Spec{
		Symbol: "BTC/USDT", Side: domain.SideSell, Type: domain.OrderTypeStopLoss,
		Quantity: d("0.6"), StopPrice: d("8"), ReduceOnly: true, Market: btcUSDT,
		Trailing: &orders.TrailingProfile{Steps: []orders.TrailingStep{
			{TriggerPrice: d("20"), TargetPrice: d("20"), TriggerAbove: true},
			{TriggerPrice: d("30"), TargetPrice: d("30"), TriggerAbove: true},
		}},
	})
	lower := sellStop("0.4", "7")
	tp, runner := sellLimit("0.4", "22"), sellLimit("0.6", "40")
	for _, o := range []*orders.Order{stop, lower, tp, runner} {
		g.Add(o)
		require.NoError(t, f.trader.CreateOrder(ctx, o))
	}

	require.NoError(t, f.trader.HandleOrderUpdate(ctx, filledReport(tp, "0.4", "22")))

	assert.Equal(t, domain.OrderStatusCancelled, lower.Status)
	assertDecimal(t, "20", stop.StopPrice)
	assertDecimal(t, "0.6", stop.LockedQuantity())
	assert.Equal(t, []string{stop.ExchangeOrderID}, gw.edited)
}
