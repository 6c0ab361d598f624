package portfolio

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultAllowedMissingRatio is the shortfall fraction ignored before
// substitution is attempted.
var DefaultAllowedMissingRatio = decimal.RequireFromString("0.001")

// SubPortfolio is a slice of the master portfolio reserved for one consumer.
type SubPortfolio struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
	// Content is the declared holding per asset.
	Content                map[string]decimal.Decimal `json:"content"`
	AllowedFillingAssets   []string                   `json:"allowed_filling_assets,omitempty"`
	ForbiddenFillingAssets []string                   `json:"forbidden_filling_assets,omitempty"`
	LockedFundsByAsset     map[string]decimal.Decimal `json:"locked_funds_by_asset,omitempty"`

	// Filled by resolution.
	Resolved     map[string]Asset           `json:"resolved,omitempty"`
	FundsDeltas  map[string]decimal.Decimal `json:"funds_deltas,omitempty"`
	MissingFunds map[string]decimal.Decimal `json:"missing_funds,omitempty"`
}

func (s *SubPortfolio) forbidden(asset string) bool {
	for _, f := range s.ForbiddenFillingAssets {
		if f == asset {
			return true
		}
	}
	return false
}

// SubPortfolioResolver splits a master portfolio between sub-portfolios.
type SubPortfolioResolver struct {
	converter    *ValueConverter
	missingRatio decimal.Decimal
	logger       *zap.Logger
}

func NewSubPortfolioResolver(converter *ValueConverter, allowedMissingRatio decimal.Decimal, logger *zap.Logger) *SubPortfolioResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if allowedMissingRatio.IsNegative() || allowedMissingRatio.IsZero() {
		allowedMissingRatio = DefaultAllowedMissingRatio
	}
	return &SubPortfolioResolver{converter: converter, missingRatio: allowedMissingRatio, logger: logger.Named("sub_portfolios")}
}

// Resolve grants declared holdings to sub-portfolios in ascending priority and
// returns the master remainder. Inputs are not mutated.
func (r *SubPortfolioResolver) Resolve(master map[string]Asset, subs []SubPortfolio) (map[string]Asset, []SubPortfolio) {
	remainder := make(map[string]Asset, len(master))
	for name, a := range master {
		remainder[name] = a
	}
	resolved := make([]SubPortfolio, len(subs))
	copy(resolved, subs)
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolved[i].Priority < resolved[j].Priority
	})

	for i := range resolved {
		sub := &resolved[i]
		sub.Resolved = make(map[string]Asset)
		sub.FundsDeltas = make(map[string]decimal.Decimal)
		sub.MissingFunds = make(map[string]decimal.Decimal)

		for _, asset := range sortedKeys(sub.Content) {
			declared := sub.Content[asset]
			if !declared.IsPositive() {
				continue
			}
			granted := withdraw(remainder, asset, declared)
			grant(sub, asset, granted)

			shortfall := declared.Sub(granted)
			if shortfall.LessThanOrEqual(declared.Mul(r.missingRatio)) {
				continue
			}
			shortfall = r.substitute(remainder, sub, asset, shortfall)
			if shortfall.IsPositive() {
				sub.MissingFunds[asset] = sub.MissingFunds[asset].Add(shortfall)
				r.logger.Debug("Sub portfolio missing funds",
					zap.String("sub_portfolio", sub.ID),
					zap.String("asset", asset),
					zap.String("missing", shortfall.String()))
			}
		}

		for asset, locked := range sub.LockedFundsByAsset {
			a := sub.Resolved[asset]
			a.Name = asset
			a.Available = a.Total.Sub(locked)
			sub.Resolved[asset] = a
		}
	}
	return remainder, resolved
}

// substitute covers a shortfall with allowed filling assets and returns what
// is still missing, expressed in the original asset.
func (r *SubPortfolioResolver) substitute(remainder map[string]Asset, sub *SubPortfolio, asset string, shortfall decimal.Decimal) decimal.Decimal {
	if r.converter == nil {
		return shortfall
	}
	for _, filler := range sub.AllowedFillingAssets {
		if filler == asset || sub.forbidden(filler) || !shortfall.IsPositive() {
			continue
		}
		needed, err := r.converter.Convert(shortfall, asset, filler)
		if err != nil {
			r.logger.Debug("Can't value filling asset", zap.String("asset", filler), zap.Error(err))
			continue
		}
		granted := withdraw(remainder, filler, needed)
		if granted.IsZero() {
			continue
		}
		grant(sub, filler, granted)
		sub.FundsDeltas[filler] = sub.FundsDeltas[filler].Add(granted)
		covered, err := r.converter.Convert(granted, filler, asset)
		if err != nil {
			continue
		}
		shortfall = decimal.Max(shortfall.Sub(covered), decimal.Zero)
	}
	return shortfall
}

func withdraw(remainder map[string]Asset, asset string, amount decimal.Decimal) decimal.Decimal {
	a, ok := remainder[asset]
	if !ok || !a.Available.IsPositive() {
		return decimal.Zero
	}
	taken := decimal.Min(amount, a.Available)
	a.Available = a.Available.Sub(taken)
	a.Total = a.Total.Sub(taken)
	remainder[asset] = a
	return taken
}

func grant(sub *SubPortfolio, asset string, amount decimal.Decimal) {
	a := sub.Resolved[asset]
	a.Name = asset
	a.Available = a.Available.Add(amount)
	a.Total = a.Total.Add(amount)
	sub.Resolved[asset] = a
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
