package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

const recentTradesLimit = 100

// SimulatedExchange is an in-memory spot exchange. Resting orders are matched
// against the prices pushed with SetPrice; every status change is reported to
// the OnOrderUpdate callbacks, like a private websocket feed would.
type SimulatedExchange struct {
	mu       sync.Mutex
	markets  map[string]domain.Market
	balances map[string]domain.Balance
	orders   map[string]*domain.RawOrder
	prices   map[string]decimal.Decimal
	trades   map[string][]domain.PublicTrade
	makerFee decimal.Decimal
	takerFee decimal.Decimal

	orderCallbacks []func(domain.RawOrder)
	priceCallbacks []func(symbol string, price decimal.Decimal)

	timeNow func() time.Time
	logger  *zap.Logger
}

var (
	_ domain.ExchangeGateway = (*SimulatedExchange)(nil)
	_ domain.OrderEditor     = (*SimulatedExchange)(nil)
)

func NewSimulatedExchange(markets []domain.Market, balances map[string]decimal.Decimal, makerFee, takerFee decimal.Decimal, logger *zap.Logger) *SimulatedExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SimulatedExchange{
		markets:  make(map[string]domain.Market, len(markets)),
		balances: make(map[string]domain.Balance, len(balances)),
		orders:   make(map[string]*domain.RawOrder),
		prices:   make(map[string]decimal.Decimal),
		trades:   make(map[string][]domain.PublicTrade),
		makerFee: makerFee,
		takerFee: takerFee,
		timeNow:  time.Now,
		logger:   logger.Named("simulated_exchange"),
	}
	for _, m := range markets {
		if m.MakerFee.IsZero() {
			m.MakerFee = makerFee
		}
		if m.TakerFee.IsZero() {
			m.TakerFee = takerFee
		}
		s.markets[m.Symbol] = m
	}
	for asset, amount := range balances {
		s.balances[asset] = domain.Balance{Free: amount, Total: amount}
	}
	return s
}

// SetClock replaces the exchange clock, e.g. with a backtesting clock.
func (s *SimulatedExchange) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeNow = now
}

func (s *SimulatedExchange) OnOrderUpdate(callback func(domain.RawOrder)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderCallbacks = append(s.orderCallbacks, callback)
}

func (s *SimulatedExchange) OnPriceUpdate(callback func(symbol string, price decimal.Decimal)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceCallbacks = append(s.priceCallbacks, callback)
}

func (s *SimulatedExchange) LoadMarkets(ctx context.Context) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *SimulatedExchange) FetchBalance(ctx context.Context) (map[string]domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.Balance, len(s.balances))
	for asset, b := range s.balances {
		out[asset] = b
	}
	return out, nil
}

func (s *SimulatedExchange) FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*domain.RawOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[exchangeOrderID]
	if !ok {
		return nil, fmt.Errorf("fetch order %s: %w", exchangeOrderID, domain.ErrUnknownOrder)
	}
	c := *o
	return &c, nil
}

func (s *SimulatedExchange) FetchOrders(ctx context.Context, symbol string) ([]domain.RawOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.RawOrder
	for _, o := range s.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *SimulatedExchange) FetchRecentTrades(ctx context.Context, symbol string) ([]domain.PublicTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PublicTrade(nil), s.trades[symbol]...), nil
}

func (s *SimulatedExchange) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.RawOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	m, ok := s.markets[req.Symbol]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("create order on %s: %w", req.Symbol, domain.ErrUnknownMarket)
	}
	if !req.Quantity.IsPositive() {
		s.mu.Unlock()
		return nil, domain.NewOrderRejectedError(fmt.Sprintf("invalid quantity %s", req.Quantity))
	}
	id := uuid.NewString()
	o := &domain.RawOrder{
		ID:            id,
		ExchangeID:    id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Type:          req.Type,
		Side:          req.Side,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Amount:        req.Quantity,
		Remaining:     req.Quantity,
		Status:        domain.OrderStatusOpen,
		Timestamp:     s.timeNow(),
		TakerOrMaker:  req.Type.TakerOrMaker(),
		ReduceOnly:    req.ReduceOnly,
	}
	if err := s.lockLocked(m, o, o.Amount); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.orders[id] = o
	var updates []domain.RawOrder
	if price, ok := s.prices[req.Symbol]; ok && s.executableLocked(o, price) {
		updates = append(updates, s.fillLocked(m, o, price, o.Remaining))
	}
	created := *o
	callbacks := s.orderCallbacks
	s.mu.Unlock()

	s.logger.Debug("Order accepted", zap.String("id", id), zap.String("symbol", req.Symbol))
	notify(callbacks, updates)
	return &created, nil
}

func (s *SimulatedExchange) CanEditOrder(orderType domain.OrderType) bool {
	return !orderType.IsTrailing()
}

func (s *SimulatedExchange) EditOrder(ctx context.Context, exchangeOrderID string, req domain.OrderRequest) (*domain.RawOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[exchangeOrderID]
	if !ok {
		return nil, fmt.Errorf("edit order %s: %w", exchangeOrderID, domain.ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		return nil, domain.NewOrderRejectedError(fmt.Sprintf("order %s is %s", exchangeOrderID, o.Status))
	}
	m := s.markets[o.Symbol]
	s.unlockLocked(m, o, o.Remaining)
	prev := *o
	o.Amount = o.Filled.Add(req.Quantity)
	o.Remaining = req.Quantity
	o.Price = req.Price
	o.StopPrice = req.StopPrice
	if err := s.lockLocked(m, o, o.Remaining); err != nil {
		*o = prev
		_ = s.lockLocked(m, o, o.Remaining)
		return nil, err
	}
	c := *o
	return &c, nil
}

func (s *SimulatedExchange) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) (domain.OrderStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	o, ok := s.orders[exchangeOrderID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("cancel order %s: %w", exchangeOrderID, domain.ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		status := o.Status
		s.mu.Unlock()
		return status, nil
	}
	s.unlockLocked(s.markets[o.Symbol], o, o.Remaining)
	o.Status = domain.OrderStatusCancelled
	update := *o
	callbacks := s.orderCallbacks
	s.mu.Unlock()

	notify(callbacks, []domain.RawOrder{update})
	return domain.OrderStatusCancelled, nil
}

func (s *SimulatedExchange) GetTradeFee(ctx context.Context, symbol string, orderType domain.OrderType, quantity, price decimal.Decimal, takerOrMaker domain.TakerOrMaker) (domain.FeeDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[symbol]
	if !ok {
		return domain.FeeDetails{}, fmt.Errorf("trade fee of %s: %w", symbol, domain.ErrUnknownMarket)
	}
	rate := m.MakerFee
	if takerOrMaker == domain.Taker {
		rate = m.TakerFee
	}
	return domain.FeeDetails{Currency: m.Quote, Cost: quantity.Mul(price).Mul(rate), Rate: rate}, nil
}

func (s *SimulatedExchange) GetExchangeCurrentTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeNow()
}

// SetPrice moves the market price of symbol and executes every resting order
// it reaches.
func (s *SimulatedExchange) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	s.prices[symbol] = price
	m := s.markets[symbol]
	var resting []*domain.RawOrder
	for _, o := range s.orders {
		if o.Symbol == symbol && !o.Status.IsTerminal() && s.executableLocked(o, price) {
			resting = append(resting, o)
		}
	}
	sort.Slice(resting, func(i, j int) bool { return resting[i].Timestamp.Before(resting[j].Timestamp) })
	var updates []domain.RawOrder
	for _, o := range resting {
		updates = append(updates, s.fillLocked(m, o, price, o.Remaining))
	}
	orderCallbacks, priceCallbacks := s.orderCallbacks, s.priceCallbacks
	s.mu.Unlock()

	for _, cb := range priceCallbacks {
		cb(symbol, price)
	}
	notify(orderCallbacks, updates)
}

// FillOrder executes quantity of a resting order at its own price, leaving
// the rest open. It is how tests and paper runs produce partial fills.
func (s *SimulatedExchange) FillOrder(exchangeOrderID string, quantity decimal.Decimal) error {
	s.mu.Lock()
	o, ok := s.orders[exchangeOrderID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("fill order %s: %w", exchangeOrderID, domain.ErrUnknownOrder)
	}
	if o.Status.IsTerminal() {
		s.mu.Unlock()
		return fmt.Errorf("fill order %s in status %s: %w", exchangeOrderID, o.Status, domain.ErrInvalidOrderState)
	}
	if !quantity.IsPositive() {
		s.mu.Unlock()
		return domain.NewOrderRejectedError(fmt.Sprintf("invalid fill quantity %s", quantity))
	}
	price := o.Price
	if !price.IsPositive() {
		price = s.prices[o.Symbol]
	}
	if !price.IsPositive() {
		s.mu.Unlock()
		return fmt.Errorf("fill order %s: no price for %s", exchangeOrderID, o.Symbol)
	}
	update := s.fillLocked(s.markets[o.Symbol], o, price, decimal.Min(quantity, o.Remaining))
	callbacks := s.orderCallbacks
	s.mu.Unlock()

	notify(callbacks, []domain.RawOrder{update})
	return nil
}

// executableLocked tells whether o executes at price.
func (s *SimulatedExchange) executableLocked(o *domain.RawOrder, price decimal.Decimal) bool {
	buy := o.Side == domain.SideBuy
	switch {
	case o.Type == domain.OrderTypeMarket:
		return true
	case o.Type.IsStop():
		if buy {
			return price.GreaterThanOrEqual(o.StopPrice)
		}
		return price.LessThanOrEqual(o.StopPrice)
	case o.Type.IsTakeProfit():
		if buy {
			return price.LessThanOrEqual(o.StopPrice)
		}
		return price.GreaterThanOrEqual(o.StopPrice)
	default:
		if buy {
			return price.LessThanOrEqual(o.Price)
		}
		return price.GreaterThanOrEqual(o.Price)
	}
}

// fillLocked executes qty of o and settles balances.
func (s *SimulatedExchange) fillLocked(m domain.Market, o *domain.RawOrder, marketPrice, qty decimal.Decimal) domain.RawOrder {
	price := marketPrice
	if !o.Type.IsMarketExecuted() && o.Price.IsPositive() {
		price = o.Price
	}
	cost := qty.Mul(price)
	rate := m.MakerFee
	if o.Type.IsMarketExecuted() {
		rate = m.TakerFee
	}
	fee := domain.FeeDetails{Currency: m.Quote, Cost: cost.Mul(rate), Rate: rate, IsFromExchange: true}

	s.unlockLocked(m, o, qty)
	if o.Side == domain.SideBuy {
		s.addLocked(m.Quote, cost.Add(fee.Cost).Neg())
		s.addLocked(m.Base, qty)
	} else {
		s.addLocked(m.Base, qty.Neg())
		s.addLocked(m.Quote, cost.Sub(fee.Cost))
	}

	now := s.timeNow()
	o.Filled = o.Filled.Add(qty)
	o.Remaining = o.Remaining.Sub(qty)
	o.Cost = o.Cost.Add(cost)
	o.Average = o.Cost.Div(o.Filled)
	o.Status = domain.OrderStatusFilled
	if o.Remaining.IsPositive() {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	// reports already handed out keep their own fee and trades
	total := fee
	if o.Fee != nil {
		total.Cost = o.Fee.Cost.Add(fee.Cost)
	}
	o.Fee = &total
	o.Trades = append(append([]domain.RawTrade(nil), o.Trades...), domain.RawTrade{
		ID: uuid.NewString(), Price: price, Amount: qty, Cost: cost, Fee: &fee, Timestamp: now,
	})
	s.recordTradeLocked(domain.PublicTrade{Symbol: o.Symbol, Side: o.Side, Size: qty, Price: price, Time: now})
	return *o
}

func (s *SimulatedExchange) recordTradeLocked(t domain.PublicTrade) {
	trades := append(s.trades[t.Symbol], t)
	if len(trades) > recentTradesLimit {
		trades = trades[len(trades)-recentTradesLimit:]
	}
	s.trades[t.Symbol] = trades
}

// lockLocked moves the funds backing qty of o from free to used.
func (s *SimulatedExchange) lockLocked(m domain.Market, o *domain.RawOrder, qty decimal.Decimal) error {
	asset, amount := s.requirement(m, o, qty)
	b := s.balances[asset]
	if b.Free.LessThan(amount) {
		return domain.NewOrderRejectedError(fmt.Sprintf("insufficient %s: need %s, free %s", asset, amount, b.Free))
	}
	b.Free = b.Free.Sub(amount)
	b.Used = b.Used.Add(amount)
	s.balances[asset] = b
	return nil
}

func (s *SimulatedExchange) unlockLocked(m domain.Market, o *domain.RawOrder, qty decimal.Decimal) {
	asset, amount := s.requirement(m, o, qty)
	b := s.balances[asset]
	b.Free = b.Free.Add(amount)
	b.Used = b.Used.Sub(amount)
	s.balances[asset] = b
}

func (s *SimulatedExchange) requirement(m domain.Market, o *domain.RawOrder, qty decimal.Decimal) (string, decimal.Decimal) {
	if o.Side == domain.SideSell {
		return m.Base, qty
	}
	price := o.Price
	if !price.IsPositive() {
		price = o.StopPrice
	}
	if !price.IsPositive() {
		price = s.prices[o.Symbol]
	}
	return m.Quote, qty.Mul(price)
}

func (s *SimulatedExchange) addLocked(asset string, delta decimal.Decimal) {
	b := s.balances[asset]
	b.Free = b.Free.Add(delta)
	b.Total = b.Free.Add(b.Used)
	s.balances[asset] = b
}

func notify(callbacks []func(domain.RawOrder), updates []domain.RawOrder) {
	for _, u := range updates {
		for _, cb := range callbacks {
			cb(u)
		}
	}
}
