package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeGateway is the exchange connector consumed by the trading core.
type ExchangeGateway interface {
	LoadMarkets(ctx context.Context) ([]Market, error)
	FetchBalance(ctx context.Context) (map[string]Balance, error)
	FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (*RawOrder, error)
	// FetchOrders returns the open orders of a symbol.
	FetchOrders(ctx context.Context, symbol string) ([]RawOrder, error)
	FetchRecentTrades(ctx context.Context, symbol string) ([]PublicTrade, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*RawOrder, error)
	EditOrder(ctx context.Context, exchangeOrderID string, req OrderRequest) (*RawOrder, error)
	CancelOrder(ctx context.Context, exchangeOrderID, symbol string) (OrderStatus, error)
	GetTradeFee(ctx context.Context, symbol string, orderType OrderType, quantity, price decimal.Decimal, takerOrMaker TakerOrMaker) (FeeDetails, error)
	// GetExchangeCurrentTime may be a backtesting clock.
	GetExchangeCurrentTime() time.Time
}

// OrderEditor is implemented by gateways that can edit resting orders in place.
type OrderEditor interface {
	CanEditOrder(orderType OrderType) bool
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// BookOrder is a single resting order of an order book ladder.
type BookOrder struct {
	ID    string  `json:"id"`
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type PublicTrade struct {
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Size   decimal.Decimal `json:"size"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

// OrderDetails is the order state persisted across restarts.
type OrderDetails struct {
	ExchangeOrderID string          `json:"exchange_order_id"`
	ClientOrderID   string          `json:"client_order_id"`
	Symbol          string          `json:"symbol"`
	GroupName       string          `json:"group_name"`
	Tag             string          `json:"tag"`
	IsActive        bool            `json:"is_active"`
	TriggerPrice    decimal.Decimal `json:"trigger_price"`
	TriggerAbove    bool            `json:"trigger_above"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderMetadataStore keeps order details between process restarts.
type OrderMetadataStore interface {
	// GetStartupOrderDetails returns nil without error for unknown ids.
	GetStartupOrderDetails(ctx context.Context, exchangeOrderID string) (*OrderDetails, error)
	SaveOrderDetails(ctx context.Context, details *OrderDetails) error
	DeleteOrderDetails(ctx context.Context, exchangeOrderID string) error
}
