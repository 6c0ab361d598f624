package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

type futureAsset struct {
	wallet         decimal.Decimal
	orderMargin    decimal.Decimal
	positionMargin decimal.Decimal
	unrealizedPnL  decimal.Decimal
}

func (a *futureAsset) view(name string) Asset {
	total := a.wallet.Add(a.unrealizedPnL)
	return Asset{
		Name:      name,
		Total:     total,
		Available: total.Sub(a.orderMargin).Sub(a.positionMargin),
	}
}

// FutureAssetDetails exposes the collateral split of a futures asset.
type FutureAssetDetails struct {
	Wallet         decimal.Decimal `json:"wallet"`
	OrderMargin    decimal.Decimal `json:"order_margin"`
	PositionMargin decimal.Decimal `json:"position_margin"`
	UnrealizedPnL  decimal.Decimal `json:"unrealized_pnl"`
}

// Future tracks collateral per settlement asset. Available may be negative
// when positions are over-leveraged.
type Future struct {
	assets map[string]*futureAsset
}

func NewFuture() *Future {
	return &Future{assets: make(map[string]*futureAsset)}
}

func (p *Future) Type() domain.PortfolioType {
	return domain.PortfolioFuture
}

func (p *Future) get(name string) *futureAsset {
	a, ok := p.assets[name]
	if !ok {
		a = &futureAsset{}
		p.assets[name] = a
	}
	return a
}

func (p *Future) Asset(name string) Asset {
	if a, ok := p.assets[name]; ok {
		return a.view(name)
	}
	return Asset{Name: name}
}

func (p *Future) Assets() map[string]Asset {
	out := make(map[string]Asset, len(p.assets))
	for name, a := range p.assets {
		out[name] = a.view(name)
	}
	return out
}

func (p *Future) Details(name string) FutureAssetDetails {
	a := p.get(name)
	return FutureAssetDetails{
		Wallet:         a.wallet,
		OrderMargin:    a.orderMargin,
		PositionMargin: a.positionMargin,
		UnrealizedPnL:  a.unrealizedPnL,
	}
}

// SetAsset treats the locked part of the balance as position margin.
func (p *Future) SetAsset(name string, available, total decimal.Decimal) {
	p.assets[name] = &futureAsset{
		wallet:         total,
		positionMargin: total.Sub(available),
	}
}

func (p *Future) UpdateFromBalance(balances map[string]domain.Balance) {
	for name, b := range balances {
		p.SetAsset(name, b.Free, b.Total)
	}
}

// SetUnrealizedPnL replaces the unrealized PnL of a settlement asset.
func (p *Future) SetUnrealizedPnL(asset string, pnl decimal.Decimal) {
	p.get(asset).unrealizedPnL = pnl
}

func (p *Future) ReserveOrder(f OrderFunds) error {
	if f.Quantity.IsZero() {
		return nil
	}
	settle, margin := initialMargin(f)
	p.get(settle).orderMargin = p.get(settle).orderMargin.Add(margin)
	return nil
}

func (p *Future) ReleaseOrder(f OrderFunds) error {
	if f.Quantity.IsZero() {
		return nil
	}
	settle, margin := initialMargin(f)
	a := p.get(settle)
	a.orderMargin = decimal.Max(a.orderMargin.Sub(margin), decimal.Zero)
	return nil
}

// ApplyFill moves the order margin into the position and books realized PnL
// and fees on the wallet.
func (p *Future) ApplyFill(f Fill) error {
	if err := p.ReleaseOrder(f.Released); err != nil {
		return err
	}
	settle := settlementAsset(f.Base, f.Quote, f.Released.Inverse)
	a := p.get(settle)
	a.positionMargin = decimal.Max(a.positionMargin.Add(f.MarginDelta), decimal.Zero)
	a.wallet = a.wallet.Add(f.RealizedPnL)
	if f.Fee != nil && f.Fee.Cost.IsPositive() {
		feeAsset := p.get(f.Fee.Currency)
		feeAsset.wallet = feeAsset.wallet.Sub(f.Fee.Cost)
	}
	return nil
}

func settlementAsset(base, quote string, inverse bool) string {
	if inverse {
		return base
	}
	return quote
}

// initialMargin returns the settlement asset and the collateral an order
// needs: notional / leverage plus the reserved taker fee.
func initialMargin(f OrderFunds) (string, decimal.Decimal) {
	leverage := f.Leverage
	if !leverage.IsPositive() {
		leverage = decimal.NewFromInt(1)
	}
	settle := settlementAsset(f.Base, f.Quote, f.Inverse)
	var notional decimal.Decimal
	if f.Inverse {
		size := f.ContractSize
		if !size.IsPositive() {
			size = decimal.NewFromInt(1)
		}
		if f.Price.IsPositive() {
			notional = f.Quantity.Mul(size).Div(f.Price)
		}
	} else {
		notional = f.Quantity.Mul(f.Price)
	}
	margin := notional.Div(leverage)
	if f.FeeReserve.IsPositive() && (f.FeeReserveCurrency == settle || f.FeeReserveCurrency == "") {
		margin = margin.Add(f.FeeReserve)
	}
	return settle, margin
}
