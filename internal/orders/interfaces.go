package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/events"
	"github.com/vitos/crypto_trade_core/internal/market"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
	"github.com/vitos/crypto_trade_core/internal/positions"
)

// FundsKeeper is the portfolio side of order accounting.
type FundsKeeper interface {
	ReserveOrderFunds(f portfolio.OrderFunds) error
	ReleaseOrderFunds(f portfolio.OrderFunds) error
	ApplyOrderFill(f portfolio.Fill) error
}

// PositionUpdater books fills on derivatives positions.
type PositionUpdater interface {
	OnFill(symbol string, side domain.Side, quantity, price decimal.Decimal, reduceOnly bool) (positions.Change, error)
}

type TradeRecorder interface {
	Record(ctx context.Context, trade domain.Trade) (domain.Trade, error)
	Get(id string) (domain.Trade, bool)
}

type Publisher interface {
	Emit(topic events.Topic, symbol string, payload interface{})
}

// SymbolLocker serializes the handling of one symbol.
type SymbolLocker interface {
	Lock(symbol string) (unlock func())
}

// MarketData gives access to per-symbol prices.
type MarketData interface {
	PriceEvents(symbol string) *market.PriceEventsManager
	MarkPrice(symbol string) (decimal.Decimal, bool)
}
