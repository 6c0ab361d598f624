package orders

import (
	"sort"
	"sync"
)

// Manager indexes the tracked orders of an account by local and exchange id.
type Manager struct {
	mu         sync.RWMutex
	byID       map[string]*Order
	byExchange map[string]*Order
}

func NewManager() *Manager {
	return &Manager{
		byID:       make(map[string]*Order),
		byExchange: make(map[string]*Order),
	}
}

func (m *Manager) Add(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.ID] = o
	if o.ExchangeOrderID != "" {
		m.byExchange[o.ExchangeOrderID] = o
	}
}

// Reindex refreshes the exchange id of an order after creation or replacement.
func (m *Manager) Reindex(o *Order, previousExchangeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if previousExchangeID != "" && m.byExchange[previousExchangeID] == o {
		delete(m.byExchange, previousExchangeID)
	}
	if o.ExchangeOrderID != "" {
		m.byExchange[o.ExchangeOrderID] = o
	}
}

func (m *Manager) Remove(o *Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, o.ID)
	if o.ExchangeOrderID != "" && m.byExchange[o.ExchangeOrderID] == o {
		delete(m.byExchange, o.ExchangeOrderID)
	}
}

func (m *Manager) Get(id string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byID[id]
	return o, ok
}

func (m *Manager) GetByExchangeID(exchangeOrderID string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.byExchange[exchangeOrderID]
	return o, ok
}

// Open returns the open orders of a symbol (every symbol when empty) by
// creation time.
func (m *Manager) Open(symbol string) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Order
	for _, o := range m.byID {
		if o.IsOpen() && (symbol == "" || o.Symbol == symbol) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
