package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// Asset is the holding of one currency.
type Asset struct {
	Name      string          `json:"name"`
	Available decimal.Decimal `json:"available"`
	Total     decimal.Decimal `json:"total"`
}

// Locked returns the funds reserved by open orders or positions.
func (a Asset) Locked() decimal.Decimal {
	return a.Total.Sub(a.Available)
}

// OrderFunds describes the funds an open order keeps aside.
type OrderFunds struct {
	Symbol   string
	Base     string
	Quote    string
	Side     domain.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	// FeeReserve is an expected fee kept aside together with the order cost.
	FeeReserve         decimal.Decimal
	FeeReserveCurrency string
	Leverage           decimal.Decimal
	Inverse            bool
	ContractSize       decimal.Decimal
}

// Cost returns the quote value of the reserved quantity.
func (f OrderFunds) Cost() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// Fill is an executed part of an order.
type Fill struct {
	Symbol   string
	Base     string
	Quote    string
	Side     domain.Side
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Cost     decimal.Decimal
	Fee      *domain.FeeDetails
	// Released is the reservation freed by this fill. Zero quantity means the
	// order never reserved anything, e.g. an instantly filled market order.
	Released OrderFunds
	// Futures only.
	RealizedPnL decimal.Decimal
	MarginDelta decimal.Decimal
}

// Portfolio is the account-type specific balance arithmetic.
type Portfolio interface {
	Type() domain.PortfolioType
	Asset(name string) Asset
	Assets() map[string]Asset
	SetAsset(name string, available, total decimal.Decimal)
	ReserveOrder(f OrderFunds) error
	ReleaseOrder(f OrderFunds) error
	ApplyFill(f Fill) error
	UpdateFromBalance(balances map[string]domain.Balance)
}

// New dispatches on the portfolio type.
func New(portfolioType domain.PortfolioType) (Portfolio, error) {
	switch portfolioType {
	case domain.PortfolioSpot, "":
		return NewSpot(), nil
	case domain.PortfolioMargin:
		return NewMargin(), nil
	case domain.PortfolioFuture:
		return NewFuture(), nil
	default:
		return nil, fmt.Errorf("unsupported portfolio type %q", portfolioType)
	}
}

// holdings is the shared asset table of spot and margin portfolios.
type holdings struct {
	assets        map[string]*Asset
	allowNegative bool
}

func newHoldings(allowNegative bool) holdings {
	return holdings{assets: make(map[string]*Asset), allowNegative: allowNegative}
}

func (h *holdings) Asset(name string) Asset {
	if a, ok := h.assets[name]; ok {
		return *a
	}
	return Asset{Name: name}
}

func (h *holdings) Assets() map[string]Asset {
	out := make(map[string]Asset, len(h.assets))
	for name, a := range h.assets {
		out[name] = *a
	}
	return out
}

func (h *holdings) SetAsset(name string, available, total decimal.Decimal) {
	h.assets[name] = &Asset{Name: name, Available: available, Total: total}
}

func (h *holdings) UpdateFromBalance(balances map[string]domain.Balance) {
	for name, b := range balances {
		h.SetAsset(name, b.Free, b.Total)
	}
}

// change is a pending (available, total) delta on one asset.
type change struct {
	asset     string
	available decimal.Decimal
	total     decimal.Decimal
}

// apply validates every change before writing any of them.
func (h *holdings) apply(changes ...change) error {
	merged := make(map[string]*Asset)
	for _, c := range changes {
		if c.asset == "" {
			continue
		}
		a, ok := merged[c.asset]
		if !ok {
			cur := h.Asset(c.asset)
			a = &cur
			merged[c.asset] = a
		}
		a.Available = a.Available.Add(c.available)
		a.Total = a.Total.Add(c.total)
	}
	if !h.allowNegative {
		for name, a := range merged {
			if a.Available.IsNegative() || a.Total.IsNegative() {
				return fmt.Errorf("%s: available %s total %s: %w", name, a.Available, a.Total, domain.ErrPortfolioNegativeValue)
			}
		}
	}
	for name, a := range merged {
		h.assets[name] = a
	}
	return nil
}

// reservation returns the available deltas locking f.
func reservation(f OrderFunds) []change {
	if f.Quantity.IsZero() {
		return nil
	}
	var changes []change
	if f.Side == domain.SideBuy {
		changes = append(changes, change{asset: f.Quote, available: f.Cost().Neg()})
	} else {
		changes = append(changes, change{asset: f.Base, available: f.Quantity.Neg()})
	}
	if f.FeeReserve.IsPositive() {
		changes = append(changes, change{asset: f.FeeReserveCurrency, available: f.FeeReserve.Neg()})
	}
	return changes
}

func negate(changes []change) []change {
	out := make([]change, len(changes))
	for i, c := range changes {
		out[i] = change{asset: c.asset, available: c.available.Neg(), total: c.total.Neg()}
	}
	return out
}

// settlement returns the balance deltas of an executed fill on a spot-like account.
func settlement(f Fill) []change {
	cost := f.Cost
	if cost.IsZero() {
		cost = f.Quantity.Mul(f.Price)
	}
	var changes []change
	if f.Side == domain.SideBuy {
		changes = append(changes,
			change{asset: f.Quote, available: cost.Neg(), total: cost.Neg()},
			change{asset: f.Base, available: f.Quantity, total: f.Quantity},
		)
	} else {
		changes = append(changes,
			change{asset: f.Base, available: f.Quantity.Neg(), total: f.Quantity.Neg()},
			change{asset: f.Quote, available: cost, total: cost},
		)
	}
	if f.Fee != nil && f.Fee.Cost.IsPositive() {
		changes = append(changes, change{asset: f.Fee.Currency, available: f.Fee.Cost.Neg(), total: f.Fee.Cost.Neg()})
	}
	return changes
}
