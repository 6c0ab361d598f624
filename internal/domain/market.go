package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Market describes a tradable symbol and its precision and size limits.
type Market struct {
	Symbol          string          `json:"symbol"`
	Base            string          `json:"base"`
	Quote           string          `json:"quote"`
	Settlement      string          `json:"settlement,omitempty"`
	Type            PortfolioType   `json:"type"`
	ContractType    ContractType    `json:"contract_type,omitempty"`
	ContractSize    decimal.Decimal `json:"contract_size"`
	PricePrecision  int32           `json:"price_precision"`
	AmountPrecision int32           `json:"amount_precision"`
	// Zero limits are unbounded.
	MinAmount decimal.Decimal `json:"min_amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	MinCost   decimal.Decimal `json:"min_cost"`
	MaxCost   decimal.Decimal `json:"max_cost"`
	MinPrice  decimal.Decimal `json:"min_price"`
	MaxPrice  decimal.Decimal `json:"max_price"`
	MakerFee  decimal.Decimal `json:"maker_fee"`
	TakerFee  decimal.Decimal `json:"taker_fee"`
}

// AmountUnit is the smallest representable quantity step.
func (m Market) AmountUnit() decimal.Decimal {
	return decimal.New(1, -m.AmountPrecision)
}

func (m Market) PriceUnit() decimal.Decimal {
	return decimal.New(1, -m.PricePrecision)
}

func (m Market) TruncateAmount(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(m.AmountPrecision)
}

func (m Market) TruncatePrice(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(m.PricePrecision)
}

// ParseSymbol splits "BASE/QUOTE" or "BASE/QUOTE:SETTLEMENT".
func ParseSymbol(symbol string) (base, quote, settlement string) {
	pair := symbol
	if idx := strings.Index(symbol, ":"); idx != -1 {
		pair = symbol[:idx]
		settlement = symbol[idx+1:]
	}
	parts := strings.SplitN(pair, "/", 2)
	base = parts[0]
	if len(parts) == 2 {
		quote = parts[1]
	}
	if settlement == "" {
		settlement = quote
	}
	return base, quote, settlement
}

// MergeSymbol is the inverse of ParseSymbol for spot pairs.
func MergeSymbol(base, quote string) string {
	return base + "/" + quote
}
