package market

import (
	"math"
	"sync"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// KlineStore holds the single in-construction candle of a time frame.
type KlineStore struct {
	mu    sync.RWMutex
	kline domain.Candle
	set   bool
}

func NewKlineStore() *KlineStore {
	return &KlineStore{}
}

// Update merges a live candle. A new time resets the row; for the same time
// open and time are kept, close and volume follow the update and high/low
// track the running extremes.
func (k *KlineStore) Update(c domain.Candle) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.set || c.Time != k.kline.Time {
		k.kline = c
		k.set = true
		return
	}
	k.kline.High = math.Max(k.kline.High, c.High)
	k.kline.Low = math.Min(k.kline.Low, c.Low)
	k.kline.Close = c.Close
	k.kline.Volume = c.Volume
}

func (k *KlineStore) Current() (domain.Candle, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.kline, k.set
}

func (k *KlineStore) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kline = domain.Candle{}
	k.set = false
}
