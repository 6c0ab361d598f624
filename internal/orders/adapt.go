package orders

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// OrderDetails is one exchange-valid (quantity, price) pair.
type OrderDetails struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// CheckAndAdaptOrderDetails truncates quantity and price to the market
// precision and splits a quantity above the market limits into the minimum
// number of valid orders. It returns nothing when no valid order can be built.
func CheckAndAdaptOrderDetails(m domain.Market, quantity, price decimal.Decimal) []OrderDetails {
	price = m.TruncatePrice(price)
	quantity = m.TruncateAmount(quantity)
	if !quantity.IsPositive() || !price.IsPositive() {
		return nil
	}
	if m.MinPrice.IsPositive() && price.LessThan(m.MinPrice) {
		return nil
	}
	if m.MaxPrice.IsPositive() && price.GreaterThan(m.MaxPrice) {
		return nil
	}

	minQty := m.MinAmount
	if m.MinCost.IsPositive() {
		fromCost := roundUp(m.MinCost.Div(price), m.AmountPrecision)
		minQty = decimal.Max(minQty, fromCost)
	}
	if quantity.LessThan(minQty) {
		return nil
	}

	maxQty := m.MaxAmount
	if m.MaxCost.IsPositive() {
		fromCost := m.TruncateAmount(m.MaxCost.Div(price))
		if !maxQty.IsPositive() || fromCost.LessThan(maxQty) {
			maxQty = fromCost
		}
	}
	if !maxQty.IsPositive() || quantity.LessThanOrEqual(maxQty) {
		return []OrderDetails{{Quantity: quantity, Price: price}}
	}
	if maxQty.LessThan(minQty) {
		return nil
	}

	var chunks []decimal.Decimal
	remaining := quantity
	for remaining.GreaterThan(maxQty) {
		chunks = append(chunks, maxQty)
		remaining = remaining.Sub(maxQty)
	}
	if remaining.IsPositive() {
		if remaining.LessThan(minQty) {
			// borrow from the previous chunk so the last one is valid
			missing := minQty.Sub(remaining)
			last := len(chunks) - 1
			if chunks[last].Sub(missing).LessThan(minQty) {
				return nil
			}
			chunks[last] = chunks[last].Sub(missing)
			remaining = minQty
		}
		chunks = append(chunks, remaining)
	}

	out := make([]OrderDetails, 0, len(chunks))
	for _, q := range chunks {
		out = append(out, OrderDetails{Quantity: q, Price: price})
	}
	return out
}

func roundUp(v decimal.Decimal, places int32) decimal.Decimal {
	t := v.Truncate(places)
	if t.LessThan(v) {
		t = t.Add(decimal.New(1, -places))
	}
	return t
}
