package portfolio

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

var (
	DefaultFeeCeiling  = decimal.RequireFromString("0.012")
	DefaultInlineLimit = 20
	// DefaultInferenceTimeout bounds a search configured without a timeout.
	DefaultInferenceTimeout = 10 * time.Second

	matchEpsilon = decimal.New(1, -8)
)

const ctxCheckEvery = 256

// InferenceOrder is the immutable view of an order used by the inference engine.
type InferenceOrder struct {
	ExchangeOrderID string          `json:"exchange_order_id"`
	Symbol          string          `json:"symbol"`
	Base            string          `json:"base"`
	Quote           string          `json:"quote"`
	Side            domain.Side     `json:"side"`
	Quantity        decimal.Decimal `json:"quantity"`
	// FilledQuantity is only read for known-filled orders; zero means Quantity.
	FilledQuantity decimal.Decimal    `json:"filled_quantity"`
	Price          decimal.Decimal    `json:"price"`
	Fee            *domain.FeeDetails `json:"fee,omitempty"`
}

// NoInferenceTimeout lets a search run until it completes or its context
// is cancelled.
const NoInferenceTimeout time.Duration = -1

type InferenceConfig struct {
	FeeCeiling  decimal.Decimal
	InlineLimit int
	// Timeout bounds the search. Zero means DefaultInferenceTimeout and
	// NoInferenceTimeout removes the bound.
	Timeout                  time.Duration
	RandomizeSecondaryChecks bool
	Seed                     int64
}

// ResolvedOrdersPortfolioDelta splits a portfolio delta between orders.
type ResolvedOrdersPortfolioDelta struct {
	ExplainedOrdersDeltas   map[string]decimal.Decimal `json:"explained_orders_deltas"`
	UnexplainedOrdersDeltas map[string]decimal.Decimal `json:"unexplained_orders_deltas"`
	InferredFilledOrders    []InferenceOrder           `json:"inferred_filled_orders"`
	InferredCancelledOrders []InferenceOrder           `json:"inferred_cancelled_orders"`
	// InconsistentFilledOrders lists known-filled orders touching an
	// unexplained asset.
	InconsistentFilledOrders []string `json:"inconsistent_filled_orders,omitempty"`
	TimedOut                 bool     `json:"timed_out,omitempty"`
}

// InferenceEngine reconstructs which ambiguous orders filled from balance
// snapshots taken before and after.
type InferenceEngine struct {
	cfg       InferenceConfig
	converter *ValueConverter
	logger    *zap.Logger
}

func NewInferenceEngine(cfg InferenceConfig, converter *ValueConverter, logger *zap.Logger) *InferenceEngine {
	if !cfg.FeeCeiling.IsPositive() {
		cfg.FeeCeiling = DefaultFeeCeiling
	}
	if cfg.InlineLimit <= 0 {
		cfg.InlineLimit = DefaultInlineLimit
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultInferenceTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InferenceEngine{cfg: cfg, converter: converter, logger: logger.Named("inference")}
}

// Timeout is the bound applied to each search; negative means none.
func (e *InferenceEngine) Timeout() time.Duration {
	return e.cfg.Timeout
}

// orderImpact is the precomputed effect of one order at a given quantity.
type orderImpact struct {
	order     InferenceOrder
	deltas    map[string]decimal.Decimal
	notionals map[string]decimal.Decimal
	absQty    decimal.Decimal
}

func newImpact(o InferenceOrder, qty decimal.Decimal, fee *domain.FeeDetails) orderImpact {
	cost := qty.Mul(o.Price)
	imp := orderImpact{
		order:     o,
		deltas:    make(map[string]decimal.Decimal, 3),
		notionals: map[string]decimal.Decimal{o.Base: qty, o.Quote: cost},
		absQty:    qty.Abs(),
	}
	if o.Side == domain.SideBuy {
		imp.deltas[o.Base] = qty
		imp.deltas[o.Quote] = cost.Neg()
	} else {
		imp.deltas[o.Base] = qty.Neg()
		imp.deltas[o.Quote] = cost
	}
	if fee != nil && fee.Cost.IsPositive() && fee.Currency != "" {
		imp.deltas[fee.Currency] = imp.deltas[fee.Currency].Sub(fee.Cost)
	}
	return imp
}

type inferenceInput struct {
	observed map[string]decimal.Decimal
	filled   []orderImpact
	unknown  []InferenceOrder
}

// Resolve runs the inference. Large searches run on their own goroutine
// bounded by the configured timeout; on timeout the best result found so far
// is returned with TimedOut set. Cancelling ctx abandons the search and
// returns ctx.Err() with a degraded result.
func (e *InferenceEngine) Resolve(
	ctx context.Context,
	pre, post map[string]decimal.Decimal,
	filled, unknown []InferenceOrder,
	ignoredFilledQuantity map[string]decimal.Decimal,
) (ResolvedOrdersPortfolioDelta, error) {
	in := e.prepare(pre, post, filled, unknown, ignoredFilledQuantity)

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	if largestBucket(in.unknown) <= e.cfg.InlineLimit {
		res := e.safeCompute(runCtx, in)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.TimedOut = runCtx.Err() != nil
		return res, nil
	}

	done := make(chan ResolvedOrdersPortfolioDelta, 1)
	go func() {
		done <- e.safeCompute(runCtx, in)
	}()

	select {
	case res := <-done:
		res.TimedOut = runCtx.Err() != nil && ctx.Err() == nil
		if res.TimedOut {
			e.logger.Warn("Filled orders inference timed out, using best result so far",
				zap.Duration("timeout", e.cfg.Timeout),
				zap.Int("unknown_orders", len(in.unknown)))
		}
		return res, ctx.Err()
	case <-ctx.Done():
		e.logger.Warn("Filled orders inference cancelled", zap.Int("unknown_orders", len(in.unknown)))
		return e.degraded(in), ctx.Err()
	}
}

func (e *InferenceEngine) prepare(pre, post map[string]decimal.Decimal, filled, unknown []InferenceOrder, ignored map[string]decimal.Decimal) inferenceInput {
	in := inferenceInput{observed: make(map[string]decimal.Decimal)}
	for asset, v := range post {
		in.observed[asset] = v.Sub(pre[asset])
	}
	for asset, v := range pre {
		if _, ok := post[asset]; !ok {
			in.observed[asset] = v.Neg()
		}
	}
	for _, o := range filled {
		qty := o.FilledQuantity
		if !qty.IsPositive() {
			qty = o.Quantity
		}
		effective := qty
		if already, ok := ignored[o.ExchangeOrderID]; ok {
			effective = decimal.Max(qty.Sub(already), decimal.Zero)
		}
		fee := o.Fee
		if fee != nil && qty.IsPositive() && !effective.Equal(qty) {
			prorated := *fee
			prorated.Cost = fee.Cost.Mul(effective).Div(qty)
			fee = &prorated
		}
		in.filled = append(in.filled, newImpact(o, effective, fee))
	}
	in.unknown = append([]InferenceOrder(nil), unknown...)
	return in
}

func (e *InferenceEngine) safeCompute(ctx context.Context, in inferenceInput) (res ResolvedOrdersPortfolioDelta) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Unexpected error when inferring filled orders, quick check configurations",
				zap.String("panic", fmt.Sprint(r)))
			res = e.degraded(in)
		}
	}()
	return e.compute(ctx, in)
}

// degraded treats every unknown order as cancelled.
func (e *InferenceEngine) degraded(in inferenceInput) ResolvedOrdersPortfolioDelta {
	return e.finalize(in, nil)
}

type symbolBucket struct {
	symbol  string
	base    string
	quote   string
	orders  []InferenceOrder
	checked []string
}

func (e *InferenceEngine) compute(ctx context.Context, in inferenceInput) ResolvedOrdersPortfolioDelta {
	remaining := copyAmounts(in.observed)
	for _, imp := range in.filled {
		subtractInto(remaining, imp.deltas)
	}

	buckets := bucketBySymbol(in.unknown)
	usage := make(map[string]int)
	for _, b := range buckets {
		usage[b.base]++
		if b.quote != b.base {
			usage[b.quote]++
		}
	}

	var winners []InferenceOrder
	var deferred []InferenceOrder
	for _, b := range buckets {
		for _, asset := range []string{b.base, b.quote} {
			if usage[asset] == 1 {
				b.checked = append(b.checked, asset)
			}
		}
		if len(b.checked) == 0 {
			deferred = append(deferred, b.orders...)
			continue
		}
		tierAsset := ""
		if usage[b.base] == 1 {
			tierAsset = b.base
		}
		picked, _ := e.search(ctx, b.orders, remaining, b.checked, tierAsset)
		winners = append(winners, picked...)
	}

	if e.overExplains(remaining, winners, buckets) {
		e.logger.Debug("Per symbol inference over-explains portfolio delta, searching all orders together")
		if picked, tier := e.search(ctx, in.unknown, remaining, bucketAssets(buckets), ""); tier == 1 {
			winners = picked
			deferred = nil
		}
	}

	if len(deferred) > 0 {
		target := copyAmounts(remaining)
		for _, o := range winners {
			subtractInto(target, newImpact(o, o.Quantity, o.Fee).deltas)
		}
		var assets []string
		seen := make(map[string]bool)
		for _, o := range deferred {
			for _, a := range []string{o.Base, o.Quote} {
				if !seen[a] {
					seen[a] = true
					assets = append(assets, a)
				}
			}
		}
		picked, _ := e.search(ctx, deferred, target, assets, "")
		winners = append(winners, picked...)
	}

	return e.finalize(in, winners)
}

// search returns the smallest subset of orders explaining target on the
// checked assets, ties broken by lowest total quantity. Tier 1 matches every
// checked asset; tier 2 only matches tierAsset and is used when no tier 1
// subset exists. Tier 0 means nothing matched.
func (e *InferenceEngine) search(ctx context.Context, orders []InferenceOrder, target map[string]decimal.Decimal, checked []string, tierAsset string) ([]InferenceOrder, int) {
	impacts := make([]orderImpact, len(orders))
	for i, o := range orders {
		impacts[i] = newImpact(o, o.Quantity, o.Fee)
	}
	perm := make([]int, len(orders))
	for i := range perm {
		perm[i] = i
	}
	if e.cfg.RandomizeSecondaryChecks {
		rng := rand.New(rand.NewSource(e.cfg.Seed))
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	}

	var (
		best1, best2       []int
		best1Qty, best2Qty decimal.Decimal
		iterations         int
		interrupted        bool
	)
	for k := 0; k <= len(orders) && !interrupted; k++ {
		forEachCombination(len(orders), k, func(idx []int) bool {
			iterations++
			if iterations%ctxCheckEvery == 0 && ctx.Err() != nil {
				interrupted = true
				return false
			}
			subset := make([]int, len(idx))
			for i, j := range idx {
				subset[i] = perm[j]
			}
			deltas, notionals, qty := sumImpacts(impacts, subset)
			if matchesAll(target, deltas, notionals, checked, e.cfg.FeeCeiling) {
				if best1 == nil || qty.LessThan(best1Qty) {
					best1, best1Qty = subset, qty
				}
				return true
			}
			if tierAsset == "" || (best2 != nil && len(subset) > len(best2)) {
				return true
			}
			if matchesAll(target, deltas, notionals, []string{tierAsset}, e.cfg.FeeCeiling) {
				if best2 == nil || qty.LessThan(best2Qty) {
					best2, best2Qty = subset, qty
				}
			}
			return true
		})
		if best1 != nil {
			break
		}
	}
	if interrupted {
		e.logger.Debug("Inference search interrupted", zap.Int("iterations", iterations))
	}
	switch {
	case best1 != nil:
		return pick(orders, best1), 1
	case best2 != nil:
		return pick(orders, best2), 2
	default:
		return nil, 0
	}
}

// overExplains reports whether the combined winners exceed the observed delta
// on an asset beyond the fee tolerance.
func (e *InferenceEngine) overExplains(remaining map[string]decimal.Decimal, winners []InferenceOrder, buckets []*symbolBucket) bool {
	if len(buckets) < 2 || len(winners) == 0 {
		return false
	}
	impacts := make([]orderImpact, len(winners))
	all := make([]int, len(winners))
	for i, o := range winners {
		impacts[i] = newImpact(o, o.Quantity, o.Fee)
		all[i] = i
	}
	deltas, notionals, _ := sumImpacts(impacts, all)
	for asset, contrib := range deltas {
		want := remaining[asset]
		tol := tolerance(notionals[asset], e.cfg.FeeCeiling)
		if contrib.Sign() != 0 && want.Sign() != contrib.Sign() && contrib.Abs().GreaterThan(tol) {
			return true
		}
		if contrib.Abs().GreaterThan(want.Abs().Add(tol)) {
			return true
		}
	}
	return false
}

func (e *InferenceEngine) finalize(in inferenceInput, winners []InferenceOrder) ResolvedOrdersPortfolioDelta {
	res := ResolvedOrdersPortfolioDelta{
		ExplainedOrdersDeltas:   make(map[string]decimal.Decimal),
		UnexplainedOrdersDeltas: make(map[string]decimal.Decimal),
	}
	won := make(map[string]bool, len(winners))
	for _, o := range winners {
		won[o.ExchangeOrderID] = true
	}
	for _, o := range in.unknown {
		if won[o.ExchangeOrderID] {
			res.InferredFilledOrders = append(res.InferredFilledOrders, o)
		} else {
			res.InferredCancelledOrders = append(res.InferredCancelledOrders, o)
		}
	}

	contrib := make(map[string]decimal.Decimal)
	notionals := make(map[string]decimal.Decimal)
	referenceQuote := ""
	totalQuoteNotional := decimal.Zero
	addImpact := func(imp orderImpact) {
		for a, v := range imp.deltas {
			contrib[a] = contrib[a].Add(v)
		}
		for a, v := range imp.notionals {
			notionals[a] = notionals[a].Add(v)
		}
		if referenceQuote == "" {
			referenceQuote = imp.order.Quote
		}
		if imp.order.Quote == referenceQuote {
			totalQuoteNotional = totalQuoteNotional.Add(imp.notionals[imp.order.Quote])
		}
	}
	for _, imp := range in.filled {
		addImpact(imp)
	}
	for _, o := range res.InferredFilledOrders {
		addImpact(newImpact(o, o.Quantity, o.Fee))
	}

	assets := make(map[string]bool)
	for a := range in.observed {
		assets[a] = true
	}
	for a := range contrib {
		assets[a] = true
	}
	for asset := range assets {
		observed := in.observed[asset]
		explained := contrib[asset]
		residual := observed.Sub(explained)
		if residual.Abs().LessThanOrEqual(tolerance(notionals[asset], e.cfg.FeeCeiling)) {
			if !observed.IsZero() || !explained.IsZero() {
				res.ExplainedOrdersDeltas[asset] = observed
			}
			continue
		}
		if notionals[asset].IsZero() && e.absorbsAsForeignFee(residual, asset, referenceQuote, totalQuoteNotional) {
			res.ExplainedOrdersDeltas[asset] = observed
			continue
		}
		if !explained.IsZero() {
			res.ExplainedOrdersDeltas[asset] = explained
		}
		res.UnexplainedOrdersDeltas[asset] = residual
	}

	for _, imp := range in.filled {
		o := imp.order
		_, base := res.UnexplainedOrdersDeltas[o.Base]
		_, quote := res.UnexplainedOrdersDeltas[o.Quote]
		if base || quote {
			res.InconsistentFilledOrders = append(res.InconsistentFilledOrders, o.ExchangeOrderID)
		}
	}
	return res
}

// absorbsAsForeignFee accepts a debit on an asset no order touches when it is
// worth less than the fee ceiling of the traded notional.
func (e *InferenceEngine) absorbsAsForeignFee(residual decimal.Decimal, asset, quote string, notional decimal.Decimal) bool {
	if e.converter == nil || !residual.IsNegative() || quote == "" || notional.IsZero() {
		return false
	}
	value, err := e.converter.Convert(residual.Abs(), asset, quote)
	if err != nil {
		return false
	}
	return value.LessThanOrEqual(notional.Mul(e.cfg.FeeCeiling))
}

func tolerance(notional, ceiling decimal.Decimal) decimal.Decimal {
	return notional.Abs().Mul(ceiling).Add(matchEpsilon)
}

func matchesAll(target, deltas, notionals map[string]decimal.Decimal, checked []string, ceiling decimal.Decimal) bool {
	for _, asset := range checked {
		if target[asset].Sub(deltas[asset]).Abs().GreaterThan(tolerance(notionals[asset], ceiling)) {
			return false
		}
	}
	return true
}

func sumImpacts(impacts []orderImpact, subset []int) (map[string]decimal.Decimal, map[string]decimal.Decimal, decimal.Decimal) {
	deltas := make(map[string]decimal.Decimal)
	notionals := make(map[string]decimal.Decimal)
	qty := decimal.Zero
	for _, i := range subset {
		for a, v := range impacts[i].deltas {
			deltas[a] = deltas[a].Add(v)
		}
		for a, v := range impacts[i].notionals {
			notionals[a] = notionals[a].Add(v)
		}
		qty = qty.Add(impacts[i].absQty)
	}
	return deltas, notionals, qty
}

func bucketBySymbol(orders []InferenceOrder) []*symbolBucket {
	index := make(map[string]*symbolBucket)
	var buckets []*symbolBucket
	for _, o := range orders {
		b, ok := index[o.Symbol]
		if !ok {
			b = &symbolBucket{symbol: o.Symbol, base: o.Base, quote: o.Quote}
			index[o.Symbol] = b
			buckets = append(buckets, b)
		}
		b.orders = append(b.orders, o)
	}
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].symbol < buckets[j].symbol })
	return buckets
}

func bucketAssets(buckets []*symbolBucket) []string {
	seen := make(map[string]bool)
	var assets []string
	for _, b := range buckets {
		for _, a := range []string{b.base, b.quote} {
			if !seen[a] {
				seen[a] = true
				assets = append(assets, a)
			}
		}
	}
	return assets
}

func largestBucket(orders []InferenceOrder) int {
	counts := make(map[string]int)
	largest := 0
	for _, o := range orders {
		counts[o.Symbol]++
		if counts[o.Symbol] > largest {
			largest = counts[o.Symbol]
		}
	}
	if len(counts) > 1 && len(orders) > largest {
		// the union slow path may search every order at once
		return len(orders)
	}
	return largest
}

func pick(orders []InferenceOrder, subset []int) []InferenceOrder {
	sorted := append([]int(nil), subset...)
	sort.Ints(sorted)
	out := make([]InferenceOrder, 0, len(sorted))
	for _, i := range sorted {
		out = append(out, orders[i])
	}
	return out
}

func copyAmounts(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func subtractInto(target, deltas map[string]decimal.Decimal) {
	for a, v := range deltas {
		target[a] = target[a].Sub(v)
	}
}
