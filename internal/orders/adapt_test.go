package orders_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/orders"
)

func limitedMarket() domain.Market {
	m := btcUSDT
	m.AmountPrecision = 4
	m.MinAmount = d("0.001")
	m.MaxAmount = d("1")
	return m
}

func quantities(details []orders.OrderDetails) []string {
	out := make([]string, 0, len(details))
	for _, od := range details {
		out = append(out, od.Quantity.String())
	}
	return out
}

func TestCheckAndAdaptOrderDetails_NoSplitNeeded(t *testing.T) {
	details := orders.CheckAndAdaptOrderDetails(limitedMarket(), d("0.123456"), d("100.129"))
	require.Len(t, details, 1)
	assertDecimal(t, "0.1234", details[0].Quantity)
	assertDecimal(t, "100.12", details[0].Price)
}

func TestCheckAndAdaptOrderDetails_SplitsTooLargeOrders(t *testing.T) {
	details := orders.CheckAndAdaptOrderDetails(limitedMarket(), d("2.5"), d("100"))
	assert.Equal(t, []string{"1", "1", "0.5"}, quantities(details))
}

func TestCheckAndAdaptOrderDetails_LastChunkBorrows(t *testing.T) {
	details := orders.CheckAndAdaptOrderDetails(limitedMarket(), d("2.0005"), d("100"))
	assert.Equal(t, []string{"1", "0.9995", "0.001"}, quantities(details))
}

func TestCheckAndAdaptOrderDetails_TooSmall(t *testing.T) {
	assert.Empty(t, orders.CheckAndAdaptOrderDetails(limitedMarket(), d("0.0005"), d("100")))

	m := limitedMarket()
	m.MinCost = d("10")
	assert.Empty(t, orders.CheckAndAdaptOrderDetails(m, d("0.05"), d("100")))
	assert.Len(t, orders.CheckAndAdaptOrderDetails(m, d("0.1"), d("100")), 1)
}

func TestCheckAndAdaptOrderDetails_MaxCost(t *testing.T) {
	m := limitedMarket()
	m.MaxAmount = d("0")
	m.MaxCost = d("50")
	details := orders.CheckAndAdaptOrderDetails(m, d("1.2"), d("100"))
	assert.Equal(t, []string{"0.5", "0.5", "0.2"}, quantities(details))
}
