package positions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

var (
	one = decimal.NewFromInt(1)

	DefaultMaintenanceMarginRate = decimal.RequireFromString("0.005")
)

// Position is a derivatives position. Quantity is signed: positive for long,
// negative for short. For inverse contracts quantity is counted in contracts
// and PnL is settled in the base asset.
type Position struct {
	Symbol                string                `json:"symbol"`
	Side                  domain.PositionSide   `json:"side"`
	Quantity              decimal.Decimal       `json:"quantity"`
	EntryPrice            decimal.Decimal       `json:"entry_price"`
	MarkPrice             decimal.Decimal       `json:"mark_price"`
	LiquidationPrice      decimal.Decimal       `json:"liquidation_price"`
	Margin                decimal.Decimal       `json:"margin"`
	Leverage              decimal.Decimal       `json:"leverage"`
	MarginType            domain.MarginType     `json:"margin_type"`
	ContractType          domain.ContractType   `json:"contract_type"`
	ContractSize          decimal.Decimal       `json:"contract_size"`
	MaintenanceMarginRate decimal.Decimal       `json:"maintenance_margin_rate"`
	Status                domain.PositionStatus `json:"status"`
	RealizedPnL           decimal.Decimal       `json:"realized_pnl"`
	UnrealizedPnL         decimal.Decimal       `json:"unrealized_pnl"`
	UpdatedAt             time.Time             `json:"updated_at"`

	// crossCollateral is the extra account balance backing a crossed position.
	crossCollateral decimal.Decimal
}

func NewPosition(symbol string, side domain.PositionSide, contract domain.ContractType, marginType domain.MarginType, leverage decimal.Decimal) *Position {
	if !leverage.IsPositive() {
		leverage = one
	}
	if contract == "" {
		contract = domain.ContractLinearPerpetual
	}
	if marginType == "" {
		marginType = domain.MarginTypeIsolated
	}
	return &Position{
		Symbol:                symbol,
		Side:                  side,
		Leverage:              leverage,
		MarginType:            marginType,
		ContractType:          contract,
		ContractSize:          one,
		MaintenanceMarginRate: DefaultMaintenanceMarginRate,
		Status:                domain.PositionStatusClosed,
	}
}

func (p *Position) IsInverse() bool {
	return p.ContractType.IsInverse()
}

func (p *Position) IsIdle() bool {
	return p.Quantity.IsZero()
}

func (p *Position) IsLong() bool {
	return p.Quantity.IsPositive()
}

// UpdateParams are the optional inputs of Update. Nil fields are unchanged.
type UpdateParams struct {
	MarkPrice     *decimal.Decimal
	QuantityDelta *decimal.Decimal
	MarginDelta   *decimal.Decimal
	FillPrice     *decimal.Decimal
	At            time.Time
}

// Update applies a mark price, quantity or margin change and returns the PnL
// realized by a size decrease.
func (p *Position) Update(u UpdateParams) decimal.Decimal {
	if !u.At.IsZero() {
		p.UpdatedAt = u.At
	}
	if u.MarkPrice != nil && u.MarkPrice.IsPositive() {
		p.MarkPrice = *u.MarkPrice
	}

	realized := decimal.Zero
	if u.QuantityDelta != nil && !u.QuantityDelta.IsZero() {
		price := p.MarkPrice
		if u.FillPrice != nil && u.FillPrice.IsPositive() {
			price = *u.FillPrice
		}
		realized = p.changeQuantity(*u.QuantityDelta, price)
		if u.MarginDelta == nil {
			p.Margin = p.InitialMargin()
		}
	}
	if u.MarginDelta != nil {
		p.Margin = decimal.Max(p.Margin.Add(*u.MarginDelta), decimal.Zero)
	}

	p.LiquidationPrice = p.computeLiquidationPrice()
	p.UnrealizedPnL = p.pnl(p.Quantity, p.EntryPrice, p.MarkPrice)
	p.refreshStatus()
	return realized
}

func (p *Position) changeQuantity(delta, price decimal.Decimal) decimal.Decimal {
	realized := decimal.Zero
	switch {
	case p.Quantity.IsZero():
		p.EntryPrice = price
		p.Quantity = delta
	case p.Quantity.Sign() == delta.Sign():
		p.EntryPrice = p.averageEntry(delta, price)
		p.Quantity = p.Quantity.Add(delta)
	default:
		closing := decimal.Min(delta.Abs(), p.Quantity.Abs())
		signedClosing := closing
		if p.Quantity.IsNegative() {
			signedClosing = closing.Neg()
		}
		realized = p.pnl(signedClosing, p.EntryPrice, price)
		p.RealizedPnL = p.RealizedPnL.Add(realized)
		next := p.Quantity.Add(delta)
		if !next.IsZero() && next.Sign() != p.Quantity.Sign() {
			// reversed: the remainder opens at the fill price
			p.EntryPrice = price
		}
		p.Quantity = next
	}
	return realized
}

// averageEntry is quantity weighted for linear contracts and harmonic for
// inverse ones.
func (p *Position) averageEntry(delta, price decimal.Decimal) decimal.Decimal {
	q := p.Quantity.Abs()
	dq := delta.Abs()
	if p.IsInverse() {
		if !p.EntryPrice.IsPositive() || !price.IsPositive() {
			return price
		}
		return q.Add(dq).Div(q.Div(p.EntryPrice).Add(dq.Div(price)))
	}
	return q.Mul(p.EntryPrice).Add(dq.Mul(price)).Div(q.Add(dq))
}

// pnl of a signed quantity between two prices.
func (p *Position) pnl(qty, entry, exit decimal.Decimal) decimal.Decimal {
	if qty.IsZero() || !entry.IsPositive() || !exit.IsPositive() {
		return decimal.Zero
	}
	if p.IsInverse() {
		return qty.Mul(p.ContractSize).Mul(one.Div(entry).Sub(one.Div(exit)))
	}
	return qty.Mul(exit.Sub(entry))
}

// Notional is the position value in the settlement asset.
func (p *Position) Notional() decimal.Decimal {
	if !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	if p.IsInverse() {
		return p.Quantity.Abs().Mul(p.ContractSize).Div(p.EntryPrice)
	}
	return p.Quantity.Abs().Mul(p.EntryPrice)
}

func (p *Position) InitialMargin() decimal.Decimal {
	return p.Notional().Div(p.Leverage)
}

func (p *Position) maintenanceMargin() decimal.Decimal {
	return p.Notional().Mul(p.MaintenanceMarginRate)
}

// SetCrossCollateral sets the shared account balance available to a crossed position.
func (p *Position) SetCrossCollateral(collateral decimal.Decimal) {
	p.crossCollateral = collateral
	p.LiquidationPrice = p.computeLiquidationPrice()
}

func (p *Position) SetLeverage(leverage decimal.Decimal) {
	if !leverage.IsPositive() {
		return
	}
	p.Leverage = leverage
	p.Margin = p.InitialMargin()
	p.LiquidationPrice = p.computeLiquidationPrice()
}

func (p *Position) computeLiquidationPrice() decimal.Decimal {
	if p.Quantity.IsZero() || !p.EntryPrice.IsPositive() {
		return decimal.Zero
	}
	collateral := p.Margin
	if p.MarginType == domain.MarginTypeCrossed {
		collateral = collateral.Add(p.crossCollateral)
	}
	buffer := collateral.Sub(p.maintenanceMargin())
	q := p.Quantity.Abs()

	if p.IsInverse() {
		// 1/liq = 1/entry ± buffer/contracts
		perContract := buffer.Div(q.Mul(p.ContractSize))
		var inv decimal.Decimal
		if p.IsLong() {
			inv = one.Div(p.EntryPrice).Add(perContract)
		} else {
			inv = one.Div(p.EntryPrice).Sub(perContract)
		}
		if !inv.IsPositive() {
			return decimal.Zero
		}
		return one.Div(inv)
	}

	move := buffer.Div(q)
	if p.IsLong() {
		return decimal.Max(p.EntryPrice.Sub(move), decimal.Zero)
	}
	return p.EntryPrice.Add(move)
}

func (p *Position) refreshStatus() {
	if p.Quantity.IsZero() {
		p.Status = domain.PositionStatusClosed
		return
	}
	if p.Status == domain.PositionStatusADL {
		return
	}
	if p.LiquidationPrice.IsPositive() && p.MarkPrice.IsPositive() {
		crossed := (p.IsLong() && p.MarkPrice.LessThanOrEqual(p.LiquidationPrice)) ||
			(!p.IsLong() && p.MarkPrice.GreaterThanOrEqual(p.LiquidationPrice))
		if crossed {
			p.Status = domain.PositionStatusLiquidating
			return
		}
	}
	p.Status = domain.PositionStatusOpen
}

// ApplyRaw replaces the position state with an exchange report.
func (p *Position) ApplyRaw(raw domain.RawPosition) {
	qty := raw.Quantity
	if raw.Side == domain.PositionSideShort && qty.IsPositive() {
		qty = qty.Neg()
	}
	p.Quantity = qty
	p.EntryPrice = raw.EntryPrice
	if raw.MarkPrice.IsPositive() {
		p.MarkPrice = raw.MarkPrice
	}
	if raw.Leverage.IsPositive() {
		p.Leverage = raw.Leverage
	}
	if raw.MarginType != "" {
		p.MarginType = raw.MarginType
	}
	if raw.ContractType != "" {
		p.ContractType = raw.ContractType
	}
	p.Margin = raw.Margin
	if !p.Margin.IsPositive() {
		p.Margin = p.InitialMargin()
	}
	if !raw.Timestamp.IsZero() {
		p.UpdatedAt = raw.Timestamp
	}
	p.UnrealizedPnL = p.pnl(p.Quantity, p.EntryPrice, p.MarkPrice)
	if raw.LiquidationPrice.IsPositive() {
		p.LiquidationPrice = raw.LiquidationPrice
	} else {
		p.LiquidationPrice = p.computeLiquidationPrice()
	}
	p.Status = raw.Status
	if p.Status != domain.PositionStatusADL && p.Status != domain.PositionStatusLiquidating {
		p.refreshStatus()
	}
}

// Snapshot returns a copy safe to publish.
func (p *Position) Snapshot() Position {
	return *p
}
