package market_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/market"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func TestPricesManager_SourcePriority(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	pm := market.NewPricesManager("BTC/USDT", market.RefreshMedium, nil)
	pm.SetClock(clock.Now)

	published, _ := pm.SetMarkPrice(d("100"), market.SourceRecentTradeAverage)
	assert.False(t, published, "first recent trade average only seeds the source")
	assert.False(t, pm.IsValid())

	clock.now = time.Unix(1, 0)
	published, initial := pm.SetMarkPrice(d("105"), market.SourceTickerClose)
	assert.True(t, published)
	assert.True(t, initial)

	clock.now = time.Unix(2, 0)
	published, initial = pm.SetMarkPrice(d("110"), market.SourceExchangeMark)
	assert.True(t, published)
	assert.False(t, initial)

	clock.now = time.Unix(3, 0)
	published, _ = pm.SetMarkPrice(d("120"), market.SourceRecentTradeAverage)
	assert.True(t, published)

	price, err := pm.MarkPrice(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, price.Equal(d("120")))
}

func TestPricesManager_TickerIgnoredWhileHigherSourceValid(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	pm := market.NewPricesManager("BTC/USDT", market.RefreshShort, nil)
	pm.SetClock(clock.Now)

	pm.SetMarkPrice(d("110"), market.SourceExchangeMark)
	clock.now = clock.now.Add(time.Minute)
	published, _ := pm.SetMarkPrice(d("99"), market.SourceTickerClose)
	assert.False(t, published)

	clock.now = clock.now.Add(3 * time.Minute)
	published, _ = pm.SetMarkPrice(d("98"), market.SourceTickerClose)
	assert.True(t, published)
}

func TestPricesManager_ValidUntilTTL(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	pm := market.NewPricesManager("BTC/USDT", market.RefreshLong, nil)
	pm.SetClock(clock.Now)
	pm.SetMarkPrice(d("50"), market.SourceExchangeMark)

	clock.now = clock.now.Add(7*time.Minute - time.Second)
	price, err := pm.MarkPrice(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.True(t, price.Equal(d("50")))

	clock.now = clock.now.Add(2 * time.Second)
	_, err = pm.MarkPrice(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrMarkPriceTimeout)
}

func TestPricesManager_WaitsForValidPrice(t *testing.T) {
	pm := market.NewPricesManager("BTC/USDT", market.RefreshMedium, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		pm.SetMarkPrice(d("42"), market.SourceExchangeMark)
	}()

	price, err := pm.MarkPrice(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.True(t, price.Equal(d("42")))
}

func TestPricesManager_WaitHonorsCancellation(t *testing.T) {
	pm := market.NewPricesManager("BTC/USDT", market.RefreshMedium, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pm.MarkPrice(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefreshTierValidity(t *testing.T) {
	assert.Equal(t, 3*time.Minute, market.RefreshShort.Validity())
	assert.Equal(t, 5*time.Minute, market.RefreshMedium.Validity())
	assert.Equal(t, 7*time.Minute, market.RefreshLong.Validity())
}
