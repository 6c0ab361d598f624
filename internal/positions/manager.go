package positions

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// Mode is the account position mode.
type Mode string

const (
	ModeOneWay Mode = "one_way"
	ModeHedge  Mode = "hedge"
)

// Settings are the per-symbol contract parameters used for new positions.
type Settings struct {
	ContractType domain.ContractType
	MarginType   domain.MarginType
	Leverage     decimal.Decimal
	ContractSize decimal.Decimal
}

// Change is the outcome of applying a fill to a position.
type Change struct {
	Position    Position
	RealizedPnL decimal.Decimal
	MarginDelta decimal.Decimal
}

// Manager owns the positions of one account: one per symbol in one-way mode,
// one per (symbol, side) in hedge mode.
type Manager struct {
	mu        sync.RWMutex
	mode      Mode
	positions map[string]*Position
	settings  map[string]Settings
	timeNow   func() time.Time
	logger    *zap.Logger
}

func NewManager(mode Mode, logger *zap.Logger) *Manager {
	if mode == "" {
		mode = ModeOneWay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		mode:      mode,
		positions: make(map[string]*Position),
		settings:  make(map[string]Settings),
		timeNow:   time.Now,
		logger:    logger.Named("positions"),
	}
}

func (m *Manager) Mode() Mode {
	return m.mode
}

func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeNow = now
}

func (m *Manager) SetSymbolSettings(symbol string, s Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[symbol] = s
	for _, p := range m.positions {
		if p.Symbol == symbol && s.Leverage.IsPositive() {
			p.SetLeverage(s.Leverage)
		}
	}
}

func (m *Manager) key(symbol string, side domain.PositionSide) string {
	if m.mode == ModeOneWay {
		return symbol
	}
	return symbol + "|" + string(side)
}

func (m *Manager) getOrCreateLocked(symbol string, side domain.PositionSide) *Position {
	if m.mode == ModeOneWay {
		side = domain.PositionSideBoth
	}
	k := m.key(symbol, side)
	if p, ok := m.positions[k]; ok {
		return p
	}
	s := m.settings[symbol]
	p := NewPosition(symbol, side, s.ContractType, s.MarginType, s.Leverage)
	if s.ContractSize.IsPositive() {
		p.ContractSize = s.ContractSize
	}
	m.positions[k] = p
	return p
}

// OnFill applies an executed order quantity. In hedge mode reduce-only fills
// close the opposite side.
func (m *Manager) OnFill(symbol string, side domain.Side, quantity, price decimal.Decimal, reduceOnly bool) (Change, error) {
	if !quantity.IsPositive() {
		return Change{}, fmt.Errorf("fill quantity %s on %s must be positive", quantity, symbol)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := quantity
	if side == domain.SideSell {
		delta = quantity.Neg()
	}
	posSide := domain.PositionSideBoth
	if m.mode == ModeHedge {
		opensLong := side == domain.SideBuy
		if reduceOnly {
			opensLong = !opensLong
		}
		posSide = domain.PositionSideShort
		if opensLong {
			posSide = domain.PositionSideLong
		}
	}

	p := m.getOrCreateLocked(symbol, posSide)
	if m.mode == ModeHedge && reduceOnly && p.Quantity.IsZero() {
		return Change{}, fmt.Errorf("reduce only fill on empty %s %s position", symbol, posSide)
	}
	before := p.Margin
	realized := p.Update(UpdateParams{QuantityDelta: &delta, FillPrice: &price, At: m.timeNow()})
	m.logger.Debug("Position updated from fill",
		zap.String("symbol", symbol),
		zap.String("side", string(posSide)),
		zap.String("quantity", p.Quantity.String()),
		zap.String("realized_pnl", realized.String()))
	return Change{Position: p.Snapshot(), RealizedPnL: realized, MarginDelta: p.Margin.Sub(before)}, nil
}

// UpdateMarkPrice refreshes every position of a symbol.
func (m *Manager) UpdateMarkPrice(symbol string, price decimal.Decimal) []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Position
	for _, p := range m.positions {
		if p.Symbol != symbol {
			continue
		}
		prev := p.Status
		p.Update(UpdateParams{MarkPrice: &price, At: m.timeNow()})
		if p.Status == domain.PositionStatusLiquidating && prev != domain.PositionStatusLiquidating {
			m.logger.Warn("Position reached liquidation price",
				zap.String("symbol", symbol),
				zap.String("mark_price", price.String()),
				zap.String("liquidation_price", p.LiquidationPrice.String()))
		}
		out = append(out, p.Snapshot())
	}
	return out
}

// UpdateFromRaw replaces a position from an exchange report.
func (m *Manager) UpdateFromRaw(raw domain.RawPosition) Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	side := raw.Side
	if m.mode == ModeHedge && side == domain.PositionSideBoth {
		side = domain.PositionSideLong
		if raw.Quantity.IsNegative() {
			side = domain.PositionSideShort
		}
	}
	p := m.getOrCreateLocked(raw.Symbol, side)
	p.ApplyRaw(raw)
	return p.Snapshot()
}

// SetCrossCollateral shares the free account balance between crossed positions.
func (m *Manager) SetCrossCollateral(collateral decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.MarginType == domain.MarginTypeCrossed {
			p.SetCrossCollateral(collateral)
		}
	}
}

func (m *Manager) Get(symbol string, side domain.PositionSide) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.mode == ModeOneWay {
		side = domain.PositionSideBoth
	}
	p, ok := m.positions[m.key(symbol, side)]
	if !ok {
		return Position{}, false
	}
	return p.Snapshot(), true
}

// SymbolQuantity returns the net open quantity of a symbol.
func (m *Manager) SymbolQuantity(symbol string) decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, p := range m.positions {
		if p.Symbol == symbol {
			total = total.Add(p.Quantity)
		}
	}
	return total
}

// All returns every tracked position sorted by symbol then side.
func (m *Manager) All() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// UnrealizedPnL sums open PnL per settlement asset.
func (m *Manager) UnrealizedPnL() map[string]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]decimal.Decimal)
	for _, p := range m.positions {
		base, _, settle := domain.ParseSymbol(p.Symbol)
		if p.IsInverse() {
			settle = base
		}
		out[settle] = out[settle].Add(p.UnrealizedPnL)
	}
	return out
}
