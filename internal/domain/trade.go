package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an executed fill of an order. Trades are never mutated once stored.
type Trade struct {
	ID                 string          `json:"id"`
	ExchangeOrderID    string          `json:"exchange_order_id"`
	OriginOrderID      string          `json:"origin_order_id"`
	Symbol             string          `json:"symbol"`
	Side               Side            `json:"side"`
	Type               OrderType       `json:"type"`
	Status             OrderStatus     `json:"status"`
	ExecutedTime       time.Time       `json:"executed_time"`
	ExecutedQuantity   decimal.Decimal `json:"executed_quantity"`
	ExecutedPrice      decimal.Decimal `json:"executed_price"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	Fee                *FeeDetails     `json:"fee,omitempty"`
	IsClosingOrder     bool            `json:"is_closing_order"`
	AssociatedEntryIDs []string        `json:"associated_entry_ids,omitempty"`
	Tag                string          `json:"tag,omitempty"`
}

// TradeRepository persists trades.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	GetTrades(ctx context.Context, symbol string) ([]Trade, error)
}
