package market_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/market"
)

func candle(t int64, close float64) domain.Candle {
	return domain.Candle{Time: t, Open: close - 1, High: close + 1, Low: close - 2, Close: close, Volume: 10}
}

func TestCandlesStore_RetainsMinOfInsertedAndCapacity(t *testing.T) {
	store := market.NewCandlesStore(3, nil)
	require.Equal(t, 0, store.Len())

	store.AddNew(candle(1, 10))
	store.AddNew(candle(2, 11))
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, []float64{10, 11}, store.Field(market.FieldClose, 0, false))

	store.AddNew(candle(3, 12))
	store.AddNew(candle(4, 13))
	assert.Equal(t, 3, store.Len())
	assert.Equal(t, []float64{11, 12, 13}, store.Field(market.FieldClose, 0, false))
	assert.Equal(t, []float64{2, 3, 4}, store.Field(market.FieldTime, 0, false))
}

func TestCandlesStore_AddNewRejectsExistingTime(t *testing.T) {
	store := market.NewCandlesStore(5, nil)
	require.True(t, store.AddNew(candle(1, 10)))
	assert.False(t, store.AddNew(candle(1, 99)))
	assert.Equal(t, []float64{10}, store.Field(market.FieldClose, 0, false))
}

func TestCandlesStore_UpsertKeepsLatestValues(t *testing.T) {
	store := market.NewCandlesStore(5, nil)
	store.AddNew(candle(1, 10))
	for _, c := range []float64{20, 30, 40} {
		store.Upsert(candle(2, c))
	}
	assert.Equal(t, 2, store.Len())
	last, ok := store.Last()
	require.True(t, ok)
	assert.Equal(t, candle(2, 40), last)
}

func TestCandlesStore_OutOfOrderInsertIsSorted(t *testing.T) {
	store := market.NewCandlesStore(5, nil)
	store.AddNew(candle(3, 13))
	store.AddNew(candle(1, 11))
	store.AddNew(candle(2, 12))
	assert.Equal(t, []float64{1, 2, 3}, store.Field(market.FieldTime, 0, false))
	assert.Equal(t, []float64{11, 12, 13}, store.Field(market.FieldClose, 0, false))
}

func TestCandlesStore_ReplaceAllAndLimit(t *testing.T) {
	store := market.NewCandlesStore(3, nil)
	store.AddNew(candle(100, 1))
	store.ReplaceAll([]domain.Candle{candle(5, 5), candle(1, 1), candle(2, 2), candle(4, 4), candle(3, 3)})

	assert.Equal(t, []float64{3, 4, 5}, store.Field(market.FieldTime, 0, false))
	assert.Equal(t, []float64{4, 5}, store.Field(market.FieldClose, 2, false))
	assert.Len(t, store.Field(market.FieldClose, 50, false), 3)
}

func TestCandlesStore_AddOldAndNew(t *testing.T) {
	store := market.NewCandlesStore(4, nil)
	store.AddNew(candle(3, 3))
	store.AddNew(candle(4, 4))

	store.AddOldAndNew([]domain.Candle{candle(1, 1), candle(2, 2), candle(4, 99), candle(5, 5)})

	assert.Equal(t, []float64{2, 3, 4, 5}, store.Field(market.FieldTime, 0, false))
	// existing rows are not overwritten
	assert.Equal(t, []float64{2, 3, 4, 5}, store.Field(market.FieldClose, 0, false))
}

func TestCandlesStore_IncludeInConstruction(t *testing.T) {
	kline := market.NewKlineStore()
	store := market.NewCandlesStore(3, kline)
	store.AddNew(candle(1, 10))
	store.AddNew(candle(2, 11))

	assert.Equal(t, []float64{10, 11}, store.Field(market.FieldClose, 0, true))

	kline.Update(candle(3, 15))
	assert.Equal(t, []float64{10, 11, 15}, store.Field(market.FieldClose, 0, true))
	assert.Equal(t, []float64{10, 11}, store.Field(market.FieldClose, 0, false))

	kline.Update(candle(2, 50))
	assert.Equal(t, []float64{10, 50}, store.Field(market.FieldClose, 0, true))
}

func TestCandlesStore_EmptyFieldIsEmpty(t *testing.T) {
	store := market.NewCandlesStore(2, nil)
	assert.Empty(t, store.Field(market.FieldOpen, 10, false))
	_, ok := store.Last()
	assert.False(t, ok)
	assert.Empty(t, store.Candles())
}

func TestKlineStore_Update(t *testing.T) {
	kline := market.NewKlineStore()
	_, ok := kline.Current()
	require.False(t, ok)

	kline.Update(domain.Candle{Time: 60, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1})
	kline.Update(domain.Candle{Time: 60, Open: 12, High: 14, Low: 10, Close: 13, Volume: 3})
	kline.Update(domain.Candle{Time: 60, Open: 13, High: 13, Low: 8, Close: 9, Volume: 4})

	c, ok := kline.Current()
	require.True(t, ok)
	assert.Equal(t, int64(60), c.Time)
	assert.Equal(t, 10.0, c.Open)
	assert.Equal(t, 14.0, c.High)
	assert.Equal(t, 8.0, c.Low)
	assert.Equal(t, 9.0, c.Close)
	assert.Equal(t, 4.0, c.Volume)

	kline.Update(domain.Candle{Time: 120, Open: 9, High: 9.5, Low: 8.5, Close: 9.2, Volume: 1})
	c, _ = kline.Current()
	assert.Equal(t, int64(120), c.Time)
	assert.Equal(t, 9.0, c.Open)
	assert.False(t, math.IsNaN(c.High))

	kline.Reset()
	_, ok = kline.Current()
	assert.False(t, ok)
}
