package portfolio_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

func newSpot(t *testing.T, balances map[string]string) *portfolio.Manager {
	t.Helper()
	m, err := portfolio.NewManager(domain.PortfolioSpot, nil)
	require.NoError(t, err)
	for name, v := range balances {
		m.SetAsset(name, d(v), d(v))
	}
	return m
}

func buyFunds(qty, price string) portfolio.OrderFunds {
	return portfolio.OrderFunds{
		Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT",
		Side: domain.SideBuy, Quantity: d(qty), Price: d(price),
	}
}

func TestSpot_ReserveAndReleaseBuy(t *testing.T) {
	m := newSpot(t, map[string]string{"USDT": "1000"})

	require.NoError(t, m.ReserveOrderFunds(buyFunds("2", "100")))
	usdt := m.Asset("USDT")
	assertDecimal(t, "800", usdt.Available)
	assertDecimal(t, "1000", usdt.Total)
	assertDecimal(t, "200", usdt.Locked())

	require.NoError(t, m.ReleaseOrderFunds(buyFunds("2", "100")))
	usdt = m.Asset("USDT")
	assert.True(t, usdt.Available.Equal(usdt.Total))
}

func TestSpot_PartiallyFilledReservationUsesLockedQuantity(t *testing.T) {
	m := newSpot(t, map[string]string{"USDT": "1000"})
	// 10 @ 70 with 3 already filled only locks the remaining 7
	require.NoError(t, m.ReserveOrderFunds(buyFunds("7", "70")))
	assertDecimal(t, "510", m.Asset("USDT").Available)
}

func TestSpot_RejectsNegativeValues(t *testing.T) {
	m := newSpot(t, map[string]string{"USDT": "100"})
	err := m.ReserveOrderFunds(buyFunds("2", "100"))
	require.ErrorIs(t, err, domain.ErrPortfolioNegativeValue)
	assertDecimal(t, "100", m.Asset("USDT").Available)
}

func TestSpot_FillBuyWithBaseFee(t *testing.T) {
	m := newSpot(t, map[string]string{"USDT": "1000"})
	funds := buyFunds("1", "100")
	funds.FeeReserve = d("0.1")
	funds.FeeReserveCurrency = "USDT"
	require.NoError(t, m.ReserveOrderFunds(funds))
	assertDecimal(t, "899.9", m.Asset("USDT").Available)

	err := m.ApplyOrderFill(portfolio.Fill{
		Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Side: domain.SideBuy,
		Quantity: d("1"), Price: d("100"), Cost: d("100"),
		Fee:      &domain.FeeDetails{Currency: "BTC", Cost: d("0.001")},
		Released: funds,
	})
	require.NoError(t, err)

	usdt := m.Asset("USDT")
	assertDecimal(t, "900", usdt.Total)
	assertDecimal(t, "900", usdt.Available)
	btc := m.Asset("BTC")
	assertDecimal(t, "0.999", btc.Total)
	assertDecimal(t, "0.999", btc.Available)
}

func TestSpot_FillSellWithThirdCurrencyFee(t *testing.T) {
	m := newSpot(t, map[string]string{"BTC": "1", "BNB": "1"})
	funds := portfolio.OrderFunds{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Side: domain.SideSell, Quantity: d("0.5"), Price: d("200")}
	require.NoError(t, m.ReserveOrderFunds(funds))
	assertDecimal(t, "0.5", m.Asset("BTC").Available)

	require.NoError(t, m.ApplyOrderFill(portfolio.Fill{
		Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Side: domain.SideSell,
		Quantity: d("0.5"), Price: d("200"),
		Fee:      &domain.FeeDetails{Currency: "BNB", Cost: d("0.01")},
		Released: funds,
	}))
	assertDecimal(t, "0.5", m.Asset("BTC").Total)
	assertDecimal(t, "0.5", m.Asset("BTC").Available)
	assertDecimal(t, "100", m.Asset("USDT").Total)
	assertDecimal(t, "0.99", m.Asset("BNB").Total)
}

func TestSpot_AvailableNeverExceedsTotal(t *testing.T) {
	m := newSpot(t, map[string]string{"USDT": "1000", "BTC": "1"})
	require.NoError(t, m.ReserveOrderFunds(buyFunds("1", "300")))
	require.NoError(t, m.ReserveOrderFunds(portfolio.OrderFunds{Base: "BTC", Quote: "USDT", Side: domain.SideSell, Quantity: d("0.25"), Price: d("500")}))
	for name, a := range m.Snapshot() {
		assert.True(t, a.Available.LessThanOrEqual(a.Total), name)
		assert.False(t, a.Available.IsNegative(), name)
	}
}

func TestMargin_AllowsNegative(t *testing.T) {
	m, err := portfolio.NewManager(domain.PortfolioMargin, nil)
	require.NoError(t, err)
	m.SetAsset("USDT", d("100"), d("100"))
	require.NoError(t, m.ReserveOrderFunds(buyFunds("2", "100")))
	assertDecimal(t, "-100", m.Asset("USDT").Available)
}

func TestFuture_LinearOrderMarginAndFill(t *testing.T) {
	m, err := portfolio.NewManager(domain.PortfolioFuture, nil)
	require.NoError(t, err)
	m.SetAsset("USDT", d("1000"), d("1000"))

	funds := portfolio.OrderFunds{
		Symbol: "BTC/USDT:USDT", Base: "BTC", Quote: "USDT", Side: domain.SideBuy,
		Quantity: d("1"), Price: d("1000"), Leverage: d("10"),
		FeeReserve: d("0.5"), FeeReserveCurrency: "USDT",
	}
	require.NoError(t, m.ReserveOrderFunds(funds))
	assertDecimal(t, "899.5", m.Asset("USDT").Available)

	require.NoError(t, m.ApplyOrderFill(portfolio.Fill{
		Base: "BTC", Quote: "USDT", Side: domain.SideBuy, Quantity: d("1"), Price: d("1000"),
		Fee:         &domain.FeeDetails{Currency: "USDT", Cost: d("0.5")},
		Released:    funds,
		MarginDelta: d("100"),
	}))
	usdt := m.Asset("USDT")
	assertDecimal(t, "999.5", usdt.Total)
	assertDecimal(t, "899.5", usdt.Available)

	m.SetUnrealizedPnL("USDT", d("-950"))
	assert.True(t, m.Asset("USDT").Available.IsNegative())
}

func TestFuture_InverseOrderMargin(t *testing.T) {
	p := portfolio.NewFuture()
	p.SetAsset("BTC", d("1"), d("1"))
	require.NoError(t, p.ReserveOrder(portfolio.OrderFunds{
		Base: "BTC", Quote: "USD", Side: domain.SideSell, Inverse: true,
		Quantity: d("1000"), Price: d("20000"), Leverage: d("5"), ContractSize: d("1"),
	}))
	assertDecimal(t, "0.01", p.Details("BTC").OrderMargin)
	assertDecimal(t, "0.99", p.Asset("BTC").Available)
}

func TestManager_UpdateFromBalanceReturnsTotals(t *testing.T) {
	m := newSpot(t, map[string]string{"BTC": "0.1", "USDT": "1000"})
	pre, post := m.UpdateFromBalance(map[string]domain.Balance{
		"BTC":  {Free: d("0.2"), Total: d("0.2")},
		"USDT": {Free: d("500"), Total: d("500")},
	})
	assertDecimal(t, "0.1", pre["BTC"])
	assertDecimal(t, "500", post["USDT"])
	assertDecimal(t, "0.2", m.Content()["BTC"])
}

func TestNew_UnsupportedType(t *testing.T) {
	_, err := portfolio.New(domain.PortfolioType("options"))
	assert.Error(t, err)
}
