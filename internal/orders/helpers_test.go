package orders_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/orders"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
	"github.com/vitos/crypto_trade_core/internal/trades"
)

type MockGateway struct {
	mu           sync.Mutex
	nextID       int
	created      []domain.OrderRequest
	cancelled    []string
	edited       []string
	createErr    error
	cancelErr    error
	cancelStatus domain.OrderStatus
	fee          domain.FeeDetails
	fetched      map[string]*domain.RawOrder
	open         []domain.RawOrder
}

func (m *MockGateway) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	return nil, nil
}

func (m *MockGateway) FetchBalance(ctx context.Context) (map[string]domain.Balance, error) {
	return nil, nil
}

func (m *MockGateway) FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*domain.RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetched[exchangeOrderID], nil
}

func (m *MockGateway) FetchOrders(ctx context.Context, symbol string) ([]domain.RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open, nil
}

func (m *MockGateway) FetchRecentTrades(ctx context.Context, symbol string) ([]domain.PublicTrade, error) {
	return nil, nil
}

func (m *MockGateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	m.created = append(m.created, req)
	id := fmt.Sprintf("ex-%d", m.nextID)
	return &domain.RawOrder{
		ID:            id,
		ExchangeID:    id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Type:          req.Type,
		Side:          req.Side,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Amount:        req.Quantity,
		Status:        domain.OrderStatusOpen,
	}, nil
}

func (m *MockGateway) EditOrder(ctx context.Context, exchangeOrderID string, req domain.OrderRequest) (*domain.RawOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edited = append(m.edited, exchangeOrderID)
	return &domain.RawOrder{ExchangeID: exchangeOrderID, Amount: req.Quantity, Status: domain.OrderStatusOpen}, nil
}

func (m *MockGateway) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) (domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return "", m.cancelErr
	}
	m.cancelled = append(m.cancelled, exchangeOrderID)
	if m.cancelStatus != "" {
		return m.cancelStatus, nil
	}
	return domain.OrderStatusCancelled, nil
}

func (m *MockGateway) GetTradeFee(ctx context.Context, symbol string, orderType domain.OrderType, quantity, price decimal.Decimal, takerOrMaker domain.TakerOrMaker) (domain.FeeDetails, error) {
	return m.fee, nil
}

func (m *MockGateway) GetExchangeCurrentTime() time.Time {
	return time.Now()
}

// EditingGateway edits orders in place.
type EditingGateway struct {
	*MockGateway
}

func (g EditingGateway) CanEditOrder(domain.OrderType) bool {
	return true
}

var btcUSDT = domain.Market{
	Symbol:          "BTC/USDT",
	Base:            "BTC",
	Quote:           "USDT",
	Type:            domain.PortfolioSpot,
	AmountPrecision: 8,
	PricePrecision:  2,
}

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s got %s", want, got)
}

type fixture struct {
	trader    *orders.Trader
	portfolio *portfolio.Manager
	trades    *trades.Store
}

func newFixture(t *testing.T, gw domain.ExchangeGateway, portfolioType domain.PortfolioType, holdings map[string]string) fixture {
	t.Helper()
	pm, err := portfolio.NewManager(portfolioType, nil)
	require.NoError(t, err)
	for asset, amount := range holdings {
		pm.SetAsset(asset, d(amount), d(amount))
	}
	store := trades.NewStore(nil, nil)
	tr := orders.NewTrader(orders.Dependencies{Gateway: gw, Funds: pm, Trades: store}, orders.TraderConfig{}, nil)
	t.Cleanup(tr.Close)
	return fixture{trader: tr, portfolio: pm, trades: store}
}

func sellStop(qty, price string) *orders.Order {
	return orders.New(orders.Spec{
		Symbol: "BTC/USDT", Side: domain.SideSell, Type: domain.OrderTypeStopLoss,
		Quantity: d(qty), StopPrice: d(price), ReduceOnly: true, Market: btcUSDT,
	})
}

func sellLimit(qty, price string) *orders.Order {
	return orders.New(orders.Spec{
		Symbol: "BTC/USDT", Side: domain.SideSell, Type: domain.OrderTypeLimit,
		Quantity: d(qty), Price: d(price), Closing: true, Market: btcUSDT,
	})
}

func buyLimit(qty, price string) *orders.Order {
	return orders.New(orders.Spec{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: d(qty), Price: d(price), Market: btcUSDT,
	})
}

func filledReport(o *orders.Order, qty, price string) domain.RawOrder {
	return domain.RawOrder{
		ExchangeID: o.ExchangeOrderID,
		Status:     domain.OrderStatusFilled,
		Filled:     d(qty),
		Average:    d(price),
	}
}
