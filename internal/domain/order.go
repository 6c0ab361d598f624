package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FeeDetails is a fee paid or expected on an order.
type FeeDetails struct {
	Currency       string          `json:"currency"`
	Cost           decimal.Decimal `json:"cost"`
	Rate           decimal.Decimal `json:"rate"`
	IsFromExchange bool            `json:"is_from_exchange"`
}

// RawTrade is a fill reported inside a raw order record.
type RawTrade struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Cost      decimal.Decimal `json:"cost"`
	Fee       *FeeDetails     `json:"fee,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// RawOrder is the normalized order record exchanged with gateways and storage.
type RawOrder struct {
	ID            string          `json:"id"`
	ExchangeID    string          `json:"exchange_id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Type          OrderType       `json:"type"`
	Side          Side            `json:"side"`
	Price         decimal.Decimal `json:"price"`
	StopPrice     decimal.Decimal `json:"stop_price"`
	Amount        decimal.Decimal `json:"amount"`
	Cost          decimal.Decimal `json:"cost"`
	Average       decimal.Decimal `json:"average"`
	Filled        decimal.Decimal `json:"filled"`
	Remaining     decimal.Decimal `json:"remaining"`
	Status        OrderStatus     `json:"status"`
	Timestamp     time.Time       `json:"timestamp"`
	Fee           *FeeDetails     `json:"fee,omitempty"`
	Trades        []RawTrade      `json:"trades,omitempty"`
	TakerOrMaker  TakerOrMaker    `json:"taker_or_maker,omitempty"`
	ReduceOnly    bool            `json:"reduce_only,omitempty"`
	Tag           string          `json:"tag,omitempty"`
}

// OrderRequest is sent to a gateway to create or edit an order.
type OrderRequest struct {
	Symbol        string
	Type          OrderType
	Side          Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	ClientOrderID string
	ReduceOnly    bool
	Params        map[string]string
}

// ParseOrderStatus maps exchange status strings; anything unrecognised is unknown.
func ParseOrderStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "new":
		return OrderStatusOpen
	case "partially_filled", "partiallyfilled", "partially-filled":
		return OrderStatusPartiallyFilled
	case "filled", "closed":
		return OrderStatusFilled
	case "cancelled", "canceled", "expired":
		return OrderStatusCancelled
	case "rejected":
		return OrderStatusRejected
	case "pending", "pending_new":
		return OrderStatusPending
	default:
		return OrderStatusUnknown
	}
}

// ParseOrderType maps an exchange type string. When the type is missing, the
// maker/taker hint decides between limit and market.
func ParseOrderType(raw string, hint TakerOrMaker) OrderType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "market":
		return OrderTypeMarket
	case "limit":
		return OrderTypeLimit
	case "stop", "stop_loss", "stop-loss", "stop_market":
		return OrderTypeStopLoss
	case "stop_limit", "stop_loss_limit", "stop-limit":
		return OrderTypeStopLossLimit
	case "take_profit", "take-profit", "take_profit_market":
		return OrderTypeTakeProfit
	case "take_profit_limit", "take-profit-limit":
		return OrderTypeTakeProfitLimit
	case "trailing_stop", "trailing-stop", "trailing_stop_market":
		return OrderTypeTrailingStop
	case "trailing_stop_limit", "trailing-stop-limit":
		return OrderTypeTrailingStopLimit
	case "":
		switch hint {
		case Maker:
			return OrderTypeLimit
		case Taker:
			return OrderTypeMarket
		}
	}
	return OrderTypeUnknown
}
