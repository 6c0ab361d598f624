package portfolio

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// DefaultBridgeAssets are tried in order when no direct pair exists.
var DefaultBridgeAssets = []string{"USDT", "USDC", "BUSD", "USD", "BTC", "ETH"}

// ValueConverter converts amounts between assets from the last known prices.
type ValueConverter struct {
	mu      sync.RWMutex
	prices  map[string]decimal.Decimal
	pending map[string]bool
	bridges []string
}

func NewValueConverter(bridges ...string) *ValueConverter {
	if len(bridges) == 0 {
		bridges = DefaultBridgeAssets
	}
	return &ValueConverter{
		prices:  make(map[string]decimal.Decimal),
		pending: make(map[string]bool),
		bridges: bridges,
	}
}

// SetPrice records the price of base in quote.
func (c *ValueConverter) SetPrice(base, quote string, price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := domain.MergeSymbol(base, quote)
	c.prices[key] = price
	delete(c.pending, key)
}

// ExpectPrice marks a pair whose price is about to arrive.
func (c *ValueConverter) ExpectPrice(base, quote string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := domain.MergeSymbol(base, quote)
	if _, ok := c.prices[key]; !ok {
		c.pending[key] = true
	}
}

// Convert returns amount of from expressed in to. It fails with
// ErrPendingPriceData when a needed pair is expected but not priced yet, and
// ErrMissingPriceData otherwise.
func (c *ValueConverter) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to || amount.IsZero() {
		return amount, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rate, ok := c.rateLocked(from, to); ok {
		return amount.Mul(rate), nil
	}
	for _, bridge := range c.bridges {
		if bridge == from || bridge == to {
			continue
		}
		first, ok := c.rateLocked(from, bridge)
		if !ok {
			continue
		}
		second, ok := c.rateLocked(bridge, to)
		if !ok {
			continue
		}
		return amount.Mul(first).Mul(second), nil
	}
	if c.pendingLocked(from, to) {
		return decimal.Zero, fmt.Errorf("%s -> %s: %w", from, to, domain.ErrPendingPriceData)
	}
	return decimal.Zero, fmt.Errorf("%s -> %s: %w", from, to, domain.ErrMissingPriceData)
}

func (c *ValueConverter) rateLocked(from, to string) (decimal.Decimal, bool) {
	if price, ok := c.prices[domain.MergeSymbol(from, to)]; ok {
		return price, true
	}
	if price, ok := c.prices[domain.MergeSymbol(to, from)]; ok && price.IsPositive() {
		return decimal.NewFromInt(1).Div(price), true
	}
	return decimal.Zero, false
}

func (c *ValueConverter) pendingLocked(from, to string) bool {
	if c.pending[domain.MergeSymbol(from, to)] || c.pending[domain.MergeSymbol(to, from)] {
		return true
	}
	for _, bridge := range c.bridges {
		for _, asset := range []string{from, to} {
			if c.pending[domain.MergeSymbol(asset, bridge)] || c.pending[domain.MergeSymbol(bridge, asset)] {
				return true
			}
		}
	}
	return false
}
