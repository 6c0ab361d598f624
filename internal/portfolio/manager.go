package portfolio

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// Manager serializes access to the account portfolio.
type Manager struct {
	mu        sync.RWMutex
	portfolio Portfolio
	logger    *zap.Logger
}

func NewManager(portfolioType domain.PortfolioType, logger *zap.Logger) (*Manager, error) {
	p, err := New(portfolioType)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{portfolio: p, logger: logger.Named("portfolio")}, nil
}

func (m *Manager) Type() domain.PortfolioType {
	return m.portfolio.Type()
}

// ReserveOrderFunds locks the funds of a newly opened order.
func (m *Manager) ReserveOrderFunds(f OrderFunds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.portfolio.ReserveOrder(f); err != nil {
		return fmt.Errorf("reserve %s %s %s: %w", f.Symbol, f.Side, f.Quantity, err)
	}
	return nil
}

// ReleaseOrderFunds unlocks the funds of a cancelled order.
func (m *Manager) ReleaseOrderFunds(f OrderFunds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.portfolio.ReleaseOrder(f); err != nil {
		return fmt.Errorf("release %s %s %s: %w", f.Symbol, f.Side, f.Quantity, err)
	}
	return nil
}

func (m *Manager) ApplyOrderFill(f Fill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.portfolio.ApplyFill(f); err != nil {
		return fmt.Errorf("fill %s %s %s: %w", f.Symbol, f.Side, f.Quantity, err)
	}
	return nil
}

// UpdateFromBalance replaces holdings from an exchange snapshot and returns
// the totals before and after.
func (m *Manager) UpdateFromBalance(balances map[string]domain.Balance) (pre, post map[string]decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pre = totals(m.portfolio.Assets())
	m.portfolio.UpdateFromBalance(balances)
	post = totals(m.portfolio.Assets())
	m.logger.Debug("Portfolio updated from balance", zap.Int("assets", len(post)))
	return pre, post
}

func (m *Manager) SetAsset(name string, available, total decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolio.SetAsset(name, available, total)
}

// SetUnrealizedPnL is a no-op on non-futures portfolios.
func (m *Manager) SetUnrealizedPnL(asset string, pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.portfolio.(*Future); ok {
		f.SetUnrealizedPnL(asset, pnl)
	}
}

func (m *Manager) Asset(name string) Asset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portfolio.Asset(name)
}

// Snapshot returns a copy of every holding.
func (m *Manager) Snapshot() map[string]Asset {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.portfolio.Assets()
}

// Content returns the total of every holding.
func (m *Manager) Content() map[string]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return totals(m.portfolio.Assets())
}

func totals(assets map[string]Asset) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(assets))
	for name, a := range assets {
		out[name] = a.Total
	}
	return out
}
