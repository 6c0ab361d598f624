package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/events"
	"github.com/vitos/crypto_trade_core/internal/market"
	"github.com/vitos/crypto_trade_core/internal/orders"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
	"github.com/vitos/crypto_trade_core/internal/positions"
	"github.com/vitos/crypto_trade_core/internal/trades"
)

const DefaultMarkPriceWait = 5 * time.Minute

type PersonalDataConfig struct {
	Exchange      string
	PortfolioType domain.PortfolioType
	PositionMode  positions.Mode
	// Symbols restricts the tracked markets; empty tracks every loaded market.
	Symbols             []string
	TimeFrames          []string
	CandlesCapacity     int
	RefreshTier         market.RefreshTier
	SyncTimeout         time.Duration
	MarkPriceWait       time.Duration
	Inference           portfolio.InferenceConfig
	AllowedMissingRatio decimal.Decimal
	// Bridges are the currencies used to chain price conversions.
	Bridges []string
}

// Dependencies are the outer collaborators of the aggregate. Metadata and
// TradeRepository are optional.
type Dependencies struct {
	Gateway         domain.ExchangeGateway
	Metadata        domain.OrderMetadataStore
	TradeRepository domain.TradeRepository
}

// symbolData is the market state of one symbol.
type symbolData struct {
	market      domain.Market
	candles     map[string]*market.CandlesStore
	book        *market.OrderBookStore
	prices      *market.PricesManager
	priceEvents *market.PriceEventsManager
}

// PersonalData owns the account state of one exchange: portfolio, orders,
// positions, trades and per-symbol market data.
type PersonalData struct {
	cfg     PersonalDataConfig
	gateway domain.ExchangeGateway

	portfolio *portfolio.Manager
	positions *positions.Manager
	trades    *trades.Store
	trader    *orders.Trader
	bus       *events.Bus
	locks     *SymbolLocks
	converter *portfolio.ValueConverter
	inference *portfolio.InferenceEngine
	resolver  *portfolio.SubPortfolioResolver
	queue     *eventQueue

	mu      sync.RWMutex
	symbols map[string]*symbolData

	timeNow func() time.Time
	logger  *zap.Logger
}

var _ orders.MarketData = (*PersonalData)(nil)

func NewPersonalData(cfg PersonalDataConfig, deps Dependencies, logger *zap.Logger) (*PersonalData, error) {
	if deps.Gateway == nil {
		return nil, errors.New("personal data: gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MarkPriceWait <= 0 {
		cfg.MarkPriceWait = DefaultMarkPriceWait
	}
	if cfg.CandlesCapacity <= 0 {
		cfg.CandlesCapacity = 500
	}
	if len(cfg.TimeFrames) == 0 {
		cfg.TimeFrames = []string{"1m"}
	}
	if !cfg.AllowedMissingRatio.IsPositive() {
		cfg.AllowedMissingRatio = portfolio.DefaultAllowedMissingRatio
	}
	logger = logger.With(zap.String("exchange", cfg.Exchange))

	pm, err := portfolio.NewManager(cfg.PortfolioType, logger)
	if err != nil {
		return nil, err
	}

	p := &PersonalData{
		cfg:       cfg,
		gateway:   deps.Gateway,
		portfolio: pm,
		positions: positions.NewManager(cfg.PositionMode, logger),
		trades:    trades.NewStore(deps.TradeRepository, logger),
		bus:       events.NewBus(cfg.Exchange, logger),
		locks:     NewSymbolLocks(),
		converter: portfolio.NewValueConverter(cfg.Bridges...),
		symbols:   make(map[string]*symbolData),
		timeNow:   time.Now,
		logger:    logger.Named("personal_data"),
	}
	p.inference = portfolio.NewInferenceEngine(cfg.Inference, p.converter, logger)
	p.resolver = portfolio.NewSubPortfolioResolver(p.converter, cfg.AllowedMissingRatio, logger)
	p.queue = newEventQueue(p.logger)

	orderDeps := orders.Dependencies{
		Gateway:    deps.Gateway,
		Funds:      pm,
		Trades:     p.trades,
		Bus:        p.bus,
		Metadata:   deps.Metadata,
		MarketData: p,
		Locks:      p.locks,
	}
	futures := cfg.PortfolioType == domain.PortfolioFuture
	if futures {
		orderDeps.Positions = p.positions
	}
	p.trader = orders.NewTrader(orderDeps, orders.TraderConfig{SyncTimeout: cfg.SyncTimeout, Futures: futures}, logger)
	return p, nil
}

// SetClock replaces the clock of every time-dependent component. It is safe
// to call while handlers run.
func (p *PersonalData) SetClock(now func() time.Time) {
	p.trader.SetClock(now)
	p.positions.SetClock(now)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeNow = now
	for _, s := range p.symbols {
		s.prices.SetClock(now)
	}
}

func (p *PersonalData) now() time.Time {
	p.mu.RLock()
	clock := p.timeNow
	p.mu.RUnlock()
	return clock()
}

// Initialize loads markets and the balance, restores the trade history and
// the orders left open by a previous run.
func (p *PersonalData) Initialize(ctx context.Context) error {
	markets, err := p.gateway.LoadMarkets(ctx)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	wanted := make(map[string]bool, len(p.cfg.Symbols))
	for _, s := range p.cfg.Symbols {
		wanted[s] = true
	}
	for _, m := range markets {
		if len(wanted) > 0 && !wanted[m.Symbol] {
			continue
		}
		p.addMarket(m)
	}
	for s := range wanted {
		if _, ok := p.symbol(s); !ok {
			return fmt.Errorf("symbol %s: %w", s, domain.ErrUnknownMarket)
		}
	}

	balances, err := p.gateway.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}
	p.portfolio.UpdateFromBalance(balances)

	if err := p.trades.Load(ctx, ""); err != nil {
		p.logger.Error("Failed to load trade history", zap.Error(err))
	}
	restored, err := p.RestoreOrders(ctx)
	if err != nil {
		return err
	}
	p.logger.Info("Personal data initialized",
		zap.Int("symbols", len(p.Symbols())),
		zap.Int("restored_orders", restored))
	return nil
}

func (p *PersonalData) addMarket(m domain.Market) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.symbols[m.Symbol]; ok {
		return
	}
	s := &symbolData{
		market:      m,
		candles:     make(map[string]*market.CandlesStore, len(p.cfg.TimeFrames)),
		book:        market.NewOrderBookStore(m.Symbol, p.logger),
		prices:      market.NewPricesManager(m.Symbol, p.cfg.RefreshTier, p.logger),
		priceEvents: market.NewPriceEventsManager(),
	}
	s.prices.SetClock(p.timeNow)
	for _, tf := range p.cfg.TimeFrames {
		s.candles[tf] = market.NewCandlesStore(p.cfg.CandlesCapacity, market.NewKlineStore())
	}
	p.symbols[m.Symbol] = s
	p.converter.ExpectPrice(m.Base, m.Quote)
}

func (p *PersonalData) symbol(symbol string) (*symbolData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.symbols[symbol]
	return s, ok
}

func (p *PersonalData) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (p *PersonalData) Market(symbol string) (domain.Market, bool) {
	s, ok := p.symbol(symbol)
	if !ok {
		return domain.Market{}, false
	}
	return s.market, true
}

func (p *PersonalData) PriceEvents(symbol string) *market.PriceEventsManager {
	s, ok := p.symbol(symbol)
	if !ok {
		return nil
	}
	return s.priceEvents
}

// MarkPrice returns the last published mark price without waiting.
func (p *PersonalData) MarkPrice(symbol string) (decimal.Decimal, bool) {
	s, ok := p.symbol(symbol)
	if !ok {
		return decimal.Zero, false
	}
	return s.prices.Last()
}

// WaitMarkPrice returns a valid mark price, waiting for the configured delay
// when the current one expired.
func (p *PersonalData) WaitMarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s, ok := p.symbol(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("mark price of %s: %w", symbol, domain.ErrUnknownMarket)
	}
	price, err := s.prices.MarkPrice(ctx, p.cfg.MarkPriceWait)
	if errors.Is(err, domain.ErrMarkPriceTimeout) {
		p.logger.Warn("Mark price still invalid, too many pairs, websocket recommended",
			zap.String("symbol", symbol),
			zap.Duration("waited", p.cfg.MarkPriceWait))
	}
	return price, err
}

func (p *PersonalData) Candles(symbol, timeFrame string) (*market.CandlesStore, bool) {
	s, ok := p.symbol(symbol)
	if !ok {
		return nil, false
	}
	c, ok := s.candles[timeFrame]
	return c, ok
}

func (p *PersonalData) OrderBook(symbol string) (*market.OrderBookStore, bool) {
	s, ok := p.symbol(symbol)
	if !ok {
		return nil, false
	}
	return s.book, true
}

func (p *PersonalData) Exchange() string { return p.cfg.Exchange }

func (p *PersonalData) Portfolio() *portfolio.Manager { return p.portfolio }

func (p *PersonalData) Positions() *positions.Manager { return p.positions }

func (p *PersonalData) Trades() *trades.Store { return p.trades }

func (p *PersonalData) Trader() *orders.Trader { return p.trader }

func (p *PersonalData) Bus() *events.Bus { return p.bus }

func (p *PersonalData) Converter() *portfolio.ValueConverter { return p.converter }

// Orders returns views of the open orders of symbol, or of every symbol.
func (p *PersonalData) Orders(symbol string) []orders.View {
	symbols := []string{symbol}
	if symbol == "" {
		symbols = p.Symbols()
	}
	var out []orders.View
	for _, s := range symbols {
		unlock := p.locks.Lock(s)
		for _, o := range p.trader.Orders().Open(s) {
			out = append(out, o.View())
		}
		unlock()
	}
	return out
}

// OrderView returns a copy of a tracked order, open or not.
func (p *PersonalData) OrderView(orderID string) (orders.View, bool) {
	o, ok := p.trader.Orders().Get(orderID)
	if !ok {
		return orders.View{}, false
	}
	unlock := p.locks.Lock(o.Symbol)
	defer unlock()
	return o.View(), true
}

// PnL returns the profit and loss of the completed trades of symbol.
func (p *PersonalData) PnL(symbol string) ([]trades.TradePnL, error) {
	return trades.GetCompletedTradesPnL(p.trades.Trades(symbol))
}

// ResolveSubPortfolios splits the current holdings between subs.
func (p *PersonalData) ResolveSubPortfolios(subs []portfolio.SubPortfolio) (map[string]portfolio.Asset, []portfolio.SubPortfolio) {
	return p.resolver.Resolve(p.portfolio.Snapshot(), subs)
}

// ResolveSubPortfoliosOnce resolves subs through gate, keyed by the declared
// assets, so a single resolution of those assets runs across exchanges. A
// caller finding the key busy gets empty results and false.
func (p *PersonalData) ResolveSubPortfoliosOnce(ctx context.Context, gate *OptimizerGate, subs []portfolio.SubPortfolio) (map[string]portfolio.Asset, []portfolio.SubPortfolio, bool) {
	var (
		remaining map[string]portfolio.Asset
		resolved  []portfolio.SubPortfolio
	)
	ran, _ := gate.TryRun(ctx, subPortfoliosKey(subs), func(context.Context) error {
		remaining, resolved = p.ResolveSubPortfolios(subs)
		return nil
	})
	if !ran {
		p.logger.Debug("Sub portfolio resolution already running", zap.String("key", subPortfoliosKey(subs)))
	}
	return remaining, resolved, ran
}

func subPortfoliosKey(subs []portfolio.SubPortfolio) string {
	seen := make(map[string]bool)
	var assets []string
	for _, s := range subs {
		for asset := range s.Content {
			if !seen[asset] {
				seen[asset] = true
				assets = append(assets, asset)
			}
		}
	}
	sort.Strings(assets)
	return strings.Join(assets, ",")
}

// Submit creates an order under the symbol lock.
func (p *PersonalData) Submit(ctx context.Context, spec orders.Spec) ([]*orders.Order, error) {
	m, ok := p.Market(spec.Symbol)
	if !ok {
		return nil, fmt.Errorf("submit order on %s: %w", spec.Symbol, domain.ErrUnknownMarket)
	}
	spec.Market = m
	unlock := p.locks.Lock(spec.Symbol)
	defer unlock()
	return p.trader.Submit(ctx, spec)
}

// Cancel cancels a tracked order under its symbol lock.
func (p *PersonalData) Cancel(ctx context.Context, orderID string) error {
	o, ok := p.trader.Orders().Get(orderID)
	if !ok {
		return fmt.Errorf("cancel order %s: %w", orderID, domain.ErrUnknownOrder)
	}
	unlock := p.locks.Lock(o.Symbol)
	defer unlock()
	return p.trader.CancelOrder(ctx, o)
}

// Close stops the event queue and the price trigger watchers.
func (p *PersonalData) Close() {
	p.queue.close()
	p.trader.Close()
}
