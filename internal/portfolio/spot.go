package portfolio

import (
	"github.com/vitos/crypto_trade_core/internal/domain"
)

// Spot never lets available or total go below zero.
type Spot struct {
	holdings
}

func NewSpot() *Spot {
	return &Spot{holdings: newHoldings(false)}
}

func (p *Spot) Type() domain.PortfolioType {
	return domain.PortfolioSpot
}

func (p *Spot) ReserveOrder(f OrderFunds) error {
	return p.apply(reservation(f)...)
}

func (p *Spot) ReleaseOrder(f OrderFunds) error {
	return p.apply(negate(reservation(f))...)
}

// ApplyFill frees the fill's reservation then settles it.
func (p *Spot) ApplyFill(f Fill) error {
	changes := negate(reservation(f.Released))
	changes = append(changes, settlement(f)...)
	return p.apply(changes...)
}

// Margin is a spot-like account that can borrow, so balances may go negative.
type Margin struct {
	holdings
}

func NewMargin() *Margin {
	return &Margin{holdings: newHoldings(true)}
}

func (p *Margin) Type() domain.PortfolioType {
	return domain.PortfolioMargin
}

func (p *Margin) ReserveOrder(f OrderFunds) error {
	return p.apply(reservation(f)...)
}

func (p *Margin) ReleaseOrder(f OrderFunds) error {
	return p.apply(negate(reservation(f))...)
}

func (p *Margin) ApplyFill(f Fill) error {
	changes := negate(reservation(f.Released))
	changes = append(changes, settlement(f)...)
	return p.apply(changes...)
}
