package market

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// PriceSource identifies where a mark price candidate comes from.
type PriceSource string

const (
	SourceExchangeMark       PriceSource = "exchange_mark_price"
	SourceRecentTradeAverage PriceSource = "recent_trade_average"
	SourceTickerClose        PriceSource = "ticker_close_price"
)

// priority: lower is stronger.
var sourcePriority = map[PriceSource]int{
	SourceExchangeMark:       0,
	SourceRecentTradeAverage: 1,
	SourceTickerClose:        2,
}

// RefreshTier selects how long a published mark price stays valid.
type RefreshTier string

const (
	RefreshShort  RefreshTier = "short"
	RefreshMedium RefreshTier = "medium"
	RefreshLong   RefreshTier = "long"
)

func (t RefreshTier) Validity() time.Duration {
	switch t {
	case RefreshShort:
		return 3 * time.Minute
	case RefreshLong:
		return 7 * time.Minute
	default:
		return 5 * time.Minute
	}
}

type sourcePrice struct {
	price     decimal.Decimal
	time      time.Time
	published bool
}

// PricesManager resolves the mark price of one symbol from several sources.
type PricesManager struct {
	mu          sync.Mutex
	symbol      string
	markPrice   decimal.Decimal
	setTime     time.Time
	hasPrice    bool
	initialized bool
	sources     map[PriceSource]sourcePrice
	ready       chan struct{}
	readyClosed bool
	validity    time.Duration
	timeNow     func() time.Time
	logger      *zap.Logger
}

func NewPricesManager(symbol string, tier RefreshTier, logger *zap.Logger) *PricesManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PricesManager{
		symbol:   symbol,
		sources:  make(map[PriceSource]sourcePrice),
		ready:    make(chan struct{}),
		validity: tier.Validity(),
		timeNow:  time.Now,
		logger:   logger.With(zap.String("symbol", symbol)),
	}
}

// SetClock replaces the wall clock, e.g. with a backtesting time source.
func (m *PricesManager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeNow = now
}

// SetMarkPrice offers a candidate price. It returns whether the mark price was
// published and whether this was the first publish for the symbol.
func (m *PricesManager) SetMarkPrice(price decimal.Decimal, source PriceSource) (published, initial bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.timeNow()
	switch source {
	case SourceExchangeMark:
		published = true
	case SourceRecentTradeAverage:
		_, seen := m.sources[source]
		published = seen
	case SourceTickerClose:
		published = !m.higherSourceValidLocked(source, now)
	default:
		m.logger.Warn("Ignoring mark price from unknown source", zap.String("source", string(source)))
		return false, false
	}
	m.sources[source] = sourcePrice{price: price, time: now, published: published}
	if !published {
		return false, false
	}
	m.markPrice = price
	m.setTime = now
	m.hasPrice = true
	if !m.readyClosed {
		close(m.ready)
		m.readyClosed = true
	}
	initial = !m.initialized
	m.initialized = true
	return true, initial
}

// MarkPrice returns the current mark price, waiting up to timeout for a valid
// one when the last published price expired.
func (m *PricesManager) MarkPrice(ctx context.Context, timeout time.Duration) (decimal.Decimal, error) {
	m.mu.Lock()
	if m.validLocked(m.timeNow()) {
		price := m.markPrice
		m.mu.Unlock()
		return price, nil
	}
	if m.readyClosed {
		m.ready = make(chan struct{})
		m.readyClosed = false
	}
	ready := m.ready
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.markPrice, nil
	case <-timer.C:
		m.logger.Warn("Mark price not refreshed in time, too many pairs traded at once: using websocket feeds is recommended",
			zap.Duration("timeout", timeout))
		return decimal.Zero, domain.ErrMarkPriceTimeout
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	}
}

// IsValid reports whether the last published mark price is still within TTL.
func (m *PricesManager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked(m.timeNow())
}

// Last returns the last published price regardless of validity.
func (m *PricesManager) Last() (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPrice, m.hasPrice
}

// Reset forgets every source and invalidates the mark price.
func (m *PricesManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = make(map[PriceSource]sourcePrice)
	m.hasPrice = false
	m.markPrice = decimal.Zero
	if m.readyClosed {
		m.ready = make(chan struct{})
		m.readyClosed = false
	}
}

func (m *PricesManager) validLocked(now time.Time) bool {
	return m.hasPrice && now.Before(m.setTime.Add(m.validity))
}

func (m *PricesManager) higherSourceValidLocked(source PriceSource, now time.Time) bool {
	rank := sourcePriority[source]
	for s, sp := range m.sources {
		if sourcePriority[s] >= rank || !sp.published {
			continue
		}
		if now.Before(sp.time.Add(m.validity)) {
			return true
		}
	}
	return false
}
