package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RawPosition is a position as reported by an exchange gateway.
type RawPosition struct {
	Symbol           string          `json:"symbol"`
	Side             PositionSide    `json:"side"`
	Quantity         decimal.Decimal `json:"quantity"`
	EntryPrice       decimal.Decimal `json:"entry_price"`
	MarkPrice        decimal.Decimal `json:"mark_price"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	Margin           decimal.Decimal `json:"margin"`
	Leverage         decimal.Decimal `json:"leverage"`
	MarginType       MarginType      `json:"margin_type"`
	ContractType     ContractType    `json:"contract_type"`
	Status           PositionStatus  `json:"status"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Balance is one asset entry of an exchange balance snapshot.
type Balance struct {
	Free  decimal.Decimal `json:"free"`
	Used  decimal.Decimal `json:"used"`
	Total decimal.Decimal `json:"total"`
}
