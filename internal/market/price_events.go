package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

const recentPricesCapacity = 50

// PriceEvent fires once when the price crosses its trigger after MinTriggerTime.
type PriceEvent struct {
	TriggerPrice   decimal.Decimal
	MinTriggerTime time.Time
	TriggerAbove   bool

	once       sync.Once
	done       chan struct{}
	mu         sync.Mutex
	firedPrice decimal.Decimal
	firedAt    time.Time
}

func newPriceEvent(price decimal.Decimal, minTime time.Time, above bool) *PriceEvent {
	return &PriceEvent{
		TriggerPrice:   price,
		MinTriggerTime: minTime,
		TriggerAbove:   above,
		done:           make(chan struct{}),
	}
}

// Done is closed when the event fires.
func (e *PriceEvent) Done() <-chan struct{} {
	return e.done
}

func (e *PriceEvent) Fired() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// FiredPrice returns the price and time that fired the event.
func (e *PriceEvent) FiredPrice() (decimal.Decimal, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.firedPrice, e.firedAt
}

func (e *PriceEvent) matches(price decimal.Decimal, ts time.Time) bool {
	if ts.Before(e.MinTriggerTime) {
		return false
	}
	if e.TriggerAbove {
		return price.GreaterThanOrEqual(e.TriggerPrice)
	}
	return price.LessThanOrEqual(e.TriggerPrice)
}

func (e *PriceEvent) fire(price decimal.Decimal, ts time.Time) {
	e.once.Do(func() {
		e.mu.Lock()
		e.firedPrice = price
		e.firedAt = ts
		e.mu.Unlock()
		close(e.done)
	})
}

type recentPrice struct {
	price decimal.Decimal
	time  time.Time
}

// PriceEventsManager arms price-crossing events for one symbol and remembers
// the last prices seen so freshly armed events can fire instantly.
type PriceEventsManager struct {
	mu     sync.Mutex
	events []*PriceEvent
	recent [recentPricesCapacity]recentPrice
	head   int
	count  int
}

func NewPriceEventsManager() *PriceEventsManager {
	return &PriceEventsManager{}
}

// NewEvent arms an event. With allowInstantFill a recent price seen at or after
// minTriggerTime that already satisfies the trigger fires it before returning.
func (m *PriceEventsManager) NewEvent(price decimal.Decimal, minTriggerTime time.Time, triggerAbove, allowInstantFill bool) *PriceEvent {
	e := newPriceEvent(price, minTriggerTime, triggerAbove)
	m.mu.Lock()
	defer m.mu.Unlock()
	if allowInstantFill {
		for i := 0; i < m.count; i++ {
			rp := m.recent[(m.head+i)%recentPricesCapacity]
			if e.matches(rp.price, rp.time) {
				e.fire(rp.price, rp.time)
				return e
			}
		}
	}
	m.events = append(m.events, e)
	return e
}

// RemoveEvent disarms an event without firing it.
func (m *PriceEventsManager) RemoveEvent(e *PriceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, armed := range m.events {
		if armed == e {
			m.events = append(m.events[:i], m.events[i+1:]...)
			return
		}
	}
}

// HandlePrice records a price and fires every matching event.
func (m *PriceEventsManager) HandlePrice(price decimal.Decimal, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rememberLocked(price, ts)
	m.fireMatchingLocked(price, ts)
}

// HandleRecentTrades replaces the remembered prices with the given trades and
// fires events in trade order.
func (m *PriceEventsManager) HandleRecentTrades(trades []domain.PublicTrade) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.head, m.count = 0, 0
	for _, t := range trades {
		m.rememberLocked(t.Price, t.Time)
		m.fireMatchingLocked(t.Price, t.Time)
	}
}

// Len returns the number of armed events.
func (m *PriceEventsManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Clear disarms every event.
func (m *PriceEventsManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func (m *PriceEventsManager) rememberLocked(price decimal.Decimal, ts time.Time) {
	if m.count < recentPricesCapacity {
		m.recent[(m.head+m.count)%recentPricesCapacity] = recentPrice{price: price, time: ts}
		m.count++
		return
	}
	m.recent[m.head] = recentPrice{price: price, time: ts}
	m.head = (m.head + 1) % recentPricesCapacity
}

func (m *PriceEventsManager) fireMatchingLocked(price decimal.Decimal, ts time.Time) {
	kept := m.events[:0]
	for _, e := range m.events {
		if e.matches(price, ts) {
			e.fire(price, ts)
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(m.events); i++ {
		m.events[i] = nil
	}
	m.events = kept
}
