package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/events"
	"github.com/vitos/crypto_trade_core/internal/market"
)

// ExchangeFeed pushes private and public exchange updates.
type ExchangeFeed interface {
	OnOrderUpdate(callback func(domain.RawOrder))
	OnPriceUpdate(callback func(symbol string, price decimal.Decimal))
}

// Attach queues the updates of feed. They are handled by Run.
func (p *PersonalData) Attach(feed ExchangeFeed) {
	feed.OnOrderUpdate(func(raw domain.RawOrder) {
		p.queue.push("order_update", func(ctx context.Context) error {
			return p.HandleOrderUpdate(ctx, raw)
		})
	})
	feed.OnPriceUpdate(func(symbol string, price decimal.Decimal) {
		p.queue.push("price_update", func(ctx context.Context) error {
			return p.HandleMarkPrice(symbol, price, market.SourceExchangeMark)
		})
	})
}

// Run handles queued exchange updates until ctx is done or Close is called.
func (p *PersonalData) Run(ctx context.Context) {
	p.queue.run(ctx)
}

// Drain handles the updates queued so far.
func (p *PersonalData) Drain(ctx context.Context) {
	p.queue.drain(ctx)
}

// HandleOrderUpdate applies an exchange order report. Reports of orders this
// account does not track are ignored.
func (p *PersonalData) HandleOrderUpdate(ctx context.Context, raw domain.RawOrder) error {
	unlock := p.locks.Lock(raw.Symbol)
	defer unlock()
	err := p.trader.HandleOrderUpdate(ctx, raw)
	if errors.Is(err, domain.ErrUnknownOrder) {
		p.logger.Debug("Ignoring update of untracked order",
			zap.String("exchange_order_id", raw.ExchangeID),
			zap.String("symbol", raw.Symbol))
		return nil
	}
	return err
}

// HandleMarkPrice offers a price candidate and, once published, refreshes the
// triggers, conversions and positions of the symbol.
func (p *PersonalData) HandleMarkPrice(symbol string, price decimal.Decimal, source market.PriceSource) error {
	s, ok := p.symbol(symbol)
	if !ok {
		return fmt.Errorf("mark price of %s: %w", symbol, domain.ErrUnknownMarket)
	}
	unlock := p.locks.Lock(symbol)
	defer unlock()

	published, initial := s.prices.SetMarkPrice(price, source)
	if !published {
		return nil
	}
	now := p.now()
	s.priceEvents.HandlePrice(price, now)
	p.converter.SetPrice(s.market.Base, s.market.Quote, price)

	updated := p.positions.UpdateMarkPrice(symbol, price)
	if len(updated) > 0 {
		p.refreshUnrealizedPnL()
		for _, pos := range updated {
			p.bus.Emit(events.TopicPositionUpdate, symbol, pos)
		}
	}
	p.bus.Publish(events.Event{
		Topic:   events.TopicMarkPriceUpdated,
		Symbol:  symbol,
		Initial: initial,
		Payload: markPriceUpdate{Price: price, Source: source},
	})
	return nil
}

type markPriceUpdate struct {
	Price  decimal.Decimal    `json:"price"`
	Source market.PriceSource `json:"source"`
}

// HandleRecentTrades feeds public trades to the price triggers and offers
// their average price as a mark price candidate.
func (p *PersonalData) HandleRecentTrades(symbol string, recent []domain.PublicTrade) error {
	s, ok := p.symbol(symbol)
	if !ok {
		return fmt.Errorf("recent trades of %s: %w", symbol, domain.ErrUnknownMarket)
	}
	if len(recent) == 0 {
		return nil
	}
	s.priceEvents.HandleRecentTrades(recent)

	sum := decimal.Zero
	for _, t := range recent {
		sum = sum.Add(t.Price)
	}
	return p.HandleMarkPrice(symbol, sum.Div(decimal.NewFromInt(int64(len(recent)))), market.SourceRecentTradeAverage)
}

// HandleTicker updates the top of book and offers the close price as a mark
// price candidate.
func (p *PersonalData) HandleTicker(symbol string, ask, askSize, bid, bidSize, last float64, ts time.Time) error {
	s, ok := p.symbol(symbol)
	if !ok {
		return fmt.Errorf("ticker of %s: %w", symbol, domain.ErrUnknownMarket)
	}
	s.book.TickerUpdate(ask, askSize, bid, bidSize, ts)
	if last <= 0 {
		return nil
	}
	return p.HandleMarkPrice(symbol, decimal.NewFromFloat(last), market.SourceTickerClose)
}

// HandleCandle stores a closed candle, or merges the candle in construction
// when closed is false.
func (p *PersonalData) HandleCandle(symbol, timeFrame string, c domain.Candle, closed bool) error {
	store, ok := p.Candles(symbol, timeFrame)
	if !ok {
		return fmt.Errorf("candle %s %s: %w", symbol, timeFrame, domain.ErrUnknownMarket)
	}
	if closed {
		store.Upsert(c)
	} else {
		store.Kline().Update(c)
	}
	p.bus.Emit(events.TopicCandleUpdated, symbol, c)
	return nil
}

// HandleOrderBook replaces the order book ladder of symbol.
func (p *PersonalData) HandleOrderBook(symbol string, asks, bids []domain.BookOrder, ts time.Time) error {
	s, ok := p.symbol(symbol)
	if !ok {
		return fmt.Errorf("order book of %s: %w", symbol, domain.ErrUnknownMarket)
	}
	s.book.ReplaceAll(asks, bids, ts)
	p.bus.Emit(events.TopicOrderBookUpdated, symbol, s.book.Ticker())
	return nil
}

func (p *PersonalData) HandlePositionUpdate(raw domain.RawPosition) error {
	if _, ok := p.symbol(raw.Symbol); !ok {
		return fmt.Errorf("position of %s: %w", raw.Symbol, domain.ErrUnknownMarket)
	}
	unlock := p.locks.Lock(raw.Symbol)
	defer unlock()
	pos := p.positions.UpdateFromRaw(raw)
	p.refreshUnrealizedPnL()
	p.bus.Emit(events.TopicPositionUpdate, raw.Symbol, pos)
	return nil
}

// refreshUnrealizedPnL books the open positions PnL per settlement asset.
func (p *PersonalData) refreshUnrealizedPnL() {
	if p.portfolio.Type() != domain.PortfolioFuture {
		return
	}
	pnl := make(map[string]decimal.Decimal)
	for _, pos := range p.positions.All() {
		m, ok := p.Market(pos.Symbol)
		if !ok {
			continue
		}
		asset := m.Settlement
		if asset == "" {
			asset = m.Quote
			if pos.ContractType.IsInverse() {
				asset = m.Base
			}
		}
		pnl[asset] = pnl[asset].Add(pos.UnrealizedPnL)
	}
	for asset, v := range pnl {
		p.portfolio.SetUnrealizedPnL(asset, v)
	}
	p.bus.Emit(events.TopicPortfolioUpdate, "", p.portfolio.Snapshot())
}
