package trades

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// TradePnL is the realized result of entries and the trades closing them.
type TradePnL struct {
	Symbol             string                     `json:"symbol"`
	EntryIDs           []string                   `json:"entry_ids"`
	Side               domain.Side                `json:"side"`
	Entries            []domain.Trade             `json:"entries"`
	Closes             []domain.Trade             `json:"closes"`
	EntryPrice         decimal.Decimal            `json:"entry_price"`
	ClosePrice         decimal.Decimal            `json:"close_price"`
	ClosedQuantity     decimal.Decimal            `json:"closed_quantity"`
	Fees               map[string]decimal.Decimal `json:"fees"`
	RealizedPnL        decimal.Decimal            `json:"realized_pnl"`
	RealizedPnLPercent decimal.Decimal            `json:"realized_pnl_percent"`
	ClosedAt           time.Time                  `json:"closed_at"`
}

// disjointSet is a union-find over entry ids.
type disjointSet map[string]string

func (s disjointSet) find(x string) string {
	if _, ok := s[x]; !ok {
		s[x] = x
	}
	for s[x] != x {
		s[x] = s[s[x]]
		x = s[x]
	}
	return x
}

func (s disjointSet) union(a, b string) {
	ra, rb := s.find(a), s.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		s[rb] = ra
	} else {
		s[ra] = rb
	}
}

func entryKeys(t domain.Trade) []string {
	keys := append([]string(nil), t.AssociatedEntryIDs...)
	if !t.IsClosingOrder {
		if t.ExchangeOrderID != "" {
			keys = append(keys, t.ExchangeOrderID)
		} else if t.OriginOrderID != "" {
			keys = append(keys, t.OriginOrderID)
		}
	}
	return keys
}

// GetCompletedTradesPnL groups trades sharing an entry id and computes the
// realized PnL of each group. Groups made only of cancelled trades are
// skipped. Groups missing entries or closes are left out and reported with
// ErrIncompletePNL alongside the complete records.
func GetCompletedTradesPnL(trades []domain.Trade) ([]TradePnL, error) {
	set := disjointSet{}
	for _, t := range trades {
		keys := entryKeys(t)
		for i := 1; i < len(keys); i++ {
			set.union(keys[0], keys[i])
		}
		if len(keys) > 0 {
			set.find(keys[0])
		}
	}

	groups := make(map[string][]domain.Trade)
	for _, t := range trades {
		keys := entryKeys(t)
		if len(keys) == 0 {
			continue
		}
		root := set.find(keys[0])
		groups[root] = append(groups[root], t)
	}

	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	var (
		out        []TradePnL
		incomplete []string
	)
	for _, root := range roots {
		members := groups[root]
		if allCancelled(members) {
			continue
		}
		record, ok := computeGroup(members)
		if !ok {
			incomplete = append(incomplete, root)
			continue
		}
		out = append(out, record)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ClosedAt.Before(out[j].ClosedAt) })
	if len(incomplete) > 0 {
		return out, fmt.Errorf("%d trade groups without entries or closes (%v): %w", len(incomplete), incomplete, domain.ErrIncompletePNL)
	}
	return out, nil
}

func allCancelled(members []domain.Trade) bool {
	for _, t := range members {
		if t.Status != domain.OrderStatusCancelled {
			return false
		}
	}
	return true
}

func computeGroup(members []domain.Trade) (TradePnL, bool) {
	record := TradePnL{Fees: make(map[string]decimal.Decimal)}
	ids := make(map[string]bool)
	for _, t := range members {
		if t.Status == domain.OrderStatusCancelled && t.ExecutedQuantity.IsZero() {
			continue
		}
		if t.IsClosingOrder {
			record.Closes = append(record.Closes, t)
			if t.ExecutedTime.After(record.ClosedAt) {
				record.ClosedAt = t.ExecutedTime
			}
		} else {
			record.Entries = append(record.Entries, t)
		}
		for _, k := range entryKeys(t) {
			ids[k] = true
		}
		if t.Fee != nil && !t.Fee.Cost.IsZero() {
			record.Fees[t.Fee.Currency] = record.Fees[t.Fee.Currency].Add(t.Fee.Cost)
		}
	}
	if len(record.Entries) == 0 || len(record.Closes) == 0 {
		return TradePnL{}, false
	}
	for id := range ids {
		record.EntryIDs = append(record.EntryIDs, id)
	}
	sort.Strings(record.EntryIDs)

	record.Symbol = record.Entries[0].Symbol
	record.Side = record.Entries[0].Side
	var entryQty decimal.Decimal
	record.EntryPrice, entryQty = weightedPrice(record.Entries)
	record.ClosePrice, record.ClosedQuantity = weightedPrice(record.Closes)
	if entryQty.IsZero() || record.ClosedQuantity.IsZero() {
		return TradePnL{}, false
	}

	move := record.ClosePrice.Sub(record.EntryPrice)
	if record.Side == domain.SideSell {
		move = move.Neg()
	}
	pnl := move.Mul(record.ClosedQuantity)

	base, quote, _ := domain.ParseSymbol(record.Symbol)
	for currency, fee := range record.Fees {
		switch currency {
		case quote:
			pnl = pnl.Sub(fee)
		case base:
			pnl = pnl.Sub(fee.Mul(record.ClosePrice))
		}
	}
	record.RealizedPnL = pnl
	invested := record.EntryPrice.Mul(record.ClosedQuantity)
	if invested.IsPositive() {
		record.RealizedPnLPercent = pnl.Div(invested).Mul(hundred)
	}
	return record, true
}

func weightedPrice(trades []domain.Trade) (decimal.Decimal, decimal.Decimal) {
	qty := decimal.Zero
	value := decimal.Zero
	for _, t := range trades {
		qty = qty.Add(t.ExecutedQuantity)
		value = value.Add(t.ExecutedQuantity.Mul(t.ExecutedPrice))
	}
	if qty.IsZero() {
		return decimal.Zero, qty
	}
	return value.Div(qty), qty
}
