package orders

import (
	"context"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// OrderUpdate is a planned edit of a grouped order. A zero UpdatedPrice
// keeps the current price.
type OrderUpdate struct {
	Order           *Order
	UpdatedQuantity decimal.Decimal
	UpdatedPrice    decimal.Decimal
	InitialQuantity decimal.Decimal
}

// BalanceActions is the plan bringing one side of a group to a target quantity.
type BalanceActions struct {
	Cancel []*Order
	Update []OrderUpdate
}

func (a BalanceActions) Empty() bool {
	return len(a.Cancel) == 0 && len(a.Update) == 0
}

func isStopSide(o *Order) bool {
	return o.Type.IsStop()
}

func amountUnit(o *Order) decimal.Decimal {
	if o.Market.Symbol == "" {
		return decimal.Zero
	}
	return o.Market.AmountUnit()
}

func placed(orders []*Order) []*Order {
	var out []*Order
	for _, o := range orders {
		if o.Status != domain.OrderStatusPending {
			out = append(out, o)
		}
	}
	return out
}

func remainingTotal(orders []*Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		total = total.Add(o.LockedQuantity())
	}
	return total
}

// sortByDistance orders by distance between filling price and reference,
// closest first. Equal distances put the larger quantity first.
func sortByDistance(orders []*Order, reference decimal.Decimal) []*Order {
	out := append([]*Order(nil), orders...)
	sort.SliceStable(out, func(i, j int) bool {
		di := out[i].FillingPrice().Sub(reference).Abs()
		dj := out[j].FillingPrice().Sub(reference).Abs()
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		return out[i].LockedQuantity().GreaterThan(out[j].LockedQuantity())
	})
	return out
}

// GetActionsToBalance plans how to bring orders down to target: orders
// farthest from the reference price are cancelled first and the last one
// touched is shrunk. A shrunk quantity of at most one amount unit is
// cancelled instead.
func GetActionsToBalance(orders []*Order, target, reference decimal.Decimal) BalanceActions {
	var actions BalanceActions
	excess := remainingTotal(orders).Sub(target)
	if !excess.IsPositive() {
		return actions
	}
	sorted := sortByDistance(orders, reference)
	for i := len(sorted) - 1; i >= 0 && excess.IsPositive(); i-- {
		o := sorted[i]
		remaining := o.LockedQuantity()
		if remaining.LessThanOrEqual(excess) {
			actions.Cancel = append(actions.Cancel, o)
			excess = excess.Sub(remaining)
			continue
		}
		updated := remaining.Sub(excess)
		excess = decimal.Zero
		if updated.LessThanOrEqual(amountUnit(o)) {
			actions.Cancel = append(actions.Cancel, o)
			continue
		}
		actions.Update = append(actions.Update, OrderUpdate{
			Order:           o,
			UpdatedQuantity: updated,
			InitialQuantity: remaining,
		})
	}
	return actions
}

// BalancedGroup keeps the open take profits and stops of a position at the
// same total quantity.
type BalancedGroup struct {
	baseGroup
}

func NewBalancedGroup(name string, exec Executor, logger *zap.Logger) *BalancedGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalancedGroup{baseGroup: newBaseGroup(name, exec, logger)}
}

func (g *BalancedGroup) Kind() GroupKind {
	return GroupBalanced
}

// sides splits the open members other than the ignored ones.
func (g *BalancedGroup) sides(ignored []*Order) (stops, takeProfits []*Order) {
	skip := make(map[*Order]bool, len(ignored))
	for _, i := range ignored {
		skip[i] = true
	}
	for _, o := range g.OpenOrders() {
		if skip[o] {
			continue
		}
		if isStopSide(o) {
			stops = append(stops, o)
		} else {
			takeProfits = append(takeProfits, o)
		}
	}
	return stops, takeProfits
}

func (g *BalancedGroup) reference(o *Order) decimal.Decimal {
	if price, ok := g.exec.ReferencePrice(o.Symbol); ok && price.IsPositive() {
		return price
	}
	return o.FillingPrice()
}

// fillActions plans the opposite side after o filled.
func (g *BalancedGroup) fillActions(o *Order, ignored []*Order) BalanceActions {
	stops, takeProfits := g.sides(append(slices.Clone(ignored), o))
	if isStopSide(o) {
		return GetActionsToBalance(takeProfits, remainingTotal(stops), g.reference(o))
	}
	return GetActionsToBalance(stops, remainingTotal(takeProfits), g.reference(o))
}

func (g *BalancedGroup) OnFill(ctx context.Context, o *Order, ignored ...*Order) error {
	if !g.enabled {
		return nil
	}
	release, ok := g.startBalancing(o)
	if !ok {
		return nil
	}
	defer release()
	g.apply(ctx, g.fillActions(o, ignored))
	return nil
}

// OnCancel shrinks the larger side down to the smaller one while both sides
// still have open orders.
func (g *BalancedGroup) OnCancel(ctx context.Context, o *Order, ignored ...*Order) error {
	if !g.enabled {
		return nil
	}
	release, ok := g.startBalancing(o)
	if !ok {
		return nil
	}
	defer release()
	stops, takeProfits := g.sides(append(slices.Clone(ignored), o))
	if len(stops) == 0 || len(takeProfits) == 0 {
		return nil
	}
	stopTotal, tpTotal := remainingTotal(stops), remainingTotal(takeProfits)
	switch {
	case stopTotal.GreaterThan(tpTotal):
		g.apply(ctx, GetActionsToBalance(stops, tpTotal, g.reference(o)))
	case tpTotal.GreaterThan(stopTotal):
		g.apply(ctx, GetActionsToBalance(takeProfits, stopTotal, g.reference(o)))
	}
	return nil
}

// apply runs a plan. Failures are logged and the remaining actions still run.
func (g *BalancedGroup) apply(ctx context.Context, actions BalanceActions) {
	for _, o := range actions.Cancel {
		if err := g.exec.CancelOrder(ctx, o); err != nil {
			g.logger.Error("Failed to cancel order while balancing", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	for _, u := range actions.Update {
		qty := u.UpdatedQuantity
		var price *decimal.Decimal
		if u.UpdatedPrice.IsPositive() {
			p := u.UpdatedPrice
			price = &p
		}
		if err := g.exec.EditOrder(ctx, u.Order, &qty, price); err != nil {
			g.logger.Error("Failed to edit order while balancing",
				zap.String("order_id", u.Order.ID),
				zap.String("quantity", qty.String()),
				zap.Error(err))
		}
	}
}

// MaxOrderQuantity only counts orders already created; a pending member is
// the one being checked.
func (g *BalancedGroup) MaxOrderQuantity(orderType domain.OrderType) (decimal.Decimal, bool) {
	stops, takeProfits := g.sides(nil)
	stops, takeProfits = placed(stops), placed(takeProfits)
	same, opposite := takeProfits, stops
	if orderType.IsStop() {
		same, opposite = stops, takeProfits
	}
	if len(opposite) == 0 {
		return decimal.Zero, false
	}
	return decimal.Max(remainingTotal(opposite).Sub(remainingTotal(same)), decimal.Zero), true
}

func (g *BalancedGroup) CanCreateOrder(orderType domain.OrderType, quantity decimal.Decimal) bool {
	limit, limited := g.MaxOrderQuantity(orderType)
	return !limited || quantity.LessThanOrEqual(limit)
}

// AdaptBeforeActivation takes active opposite orders off the exchange,
// farthest first, until the active quantity fits the position.
func (g *BalancedGroup) AdaptBeforeActivation(ctx context.Context, o *Order) ([]*Order, ReverseFunc, error) {
	stops, takeProfits := g.sides([]*Order{o})
	same, opposite := takeProfits, stops
	if isStopSide(o) {
		same, opposite = stops, takeProfits
	}
	position := decimal.Max(remainingTotal(same).Add(o.LockedQuantity()), remainingTotal(opposite))

	activeTotal := o.LockedQuantity()
	var activeOpposite []*Order
	for _, p := range same {
		if p.IsActive {
			activeTotal = activeTotal.Add(p.LockedQuantity())
		}
	}
	for _, p := range opposite {
		if p.IsActive {
			activeTotal = activeTotal.Add(p.LockedQuantity())
			activeOpposite = append(activeOpposite, p)
		}
	}
	excess := activeTotal.Sub(position)
	if !excess.IsPositive() {
		return nil, noopReverse, nil
	}
	sorted := sortByDistance(activeOpposite, g.reference(o))
	var selected []*Order
	for i := len(sorted) - 1; i >= 0 && excess.IsPositive(); i-- {
		selected = append(selected, sorted[i])
		excess = excess.Sub(sorted[i].LockedQuantity())
	}
	return g.deactivate(ctx, selected)
}

// TrailingGroup is a balanced group whose stops follow their trailing
// profile when a take profit fills.
type TrailingGroup struct {
	*BalancedGroup
}

func NewTrailingGroup(name string, exec Executor, logger *zap.Logger) *TrailingGroup {
	return &TrailingGroup{BalancedGroup: NewBalancedGroup(name, exec, logger)}
}

func (g *TrailingGroup) Kind() GroupKind {
	return GroupTrailing
}

func (g *TrailingGroup) OnFill(ctx context.Context, o *Order, ignored ...*Order) error {
	if !g.enabled {
		return nil
	}
	release, ok := g.startBalancing(o)
	if !ok {
		return nil
	}
	defer release()
	actions := g.fillActions(o, ignored)
	if !isStopSide(o) {
		actions = g.trail(o, ignored, actions)
	}
	g.apply(ctx, actions)
	return nil
}

// trail merges the stop price moves reached by the fill price or the
// reference price into the balancing plan.
func (g *TrailingGroup) trail(filled *Order, ignored []*Order, actions BalanceActions) BalanceActions {
	cancelled := make(map[*Order]bool, len(actions.Cancel))
	for _, c := range actions.Cancel {
		cancelled[c] = true
	}
	prices := []decimal.Decimal{filled.FilledPrice, filled.FillingPrice()}
	if ref, ok := g.exec.ReferencePrice(filled.Symbol); ok {
		prices = append(prices, ref)
	}
	stops, _ := g.sides(append(slices.Clone(ignored), filled))
	for _, stop := range stops {
		if cancelled[stop] || stop.Trailing == nil {
			continue
		}
		idx := stop.Trailing.Reached(prices...)
		if idx <= stop.trailingStep {
			continue
		}
		target := stop.Trailing.Steps[idx].TargetPrice
		stop.trailingStep = idx
		merged := false
		for i := range actions.Update {
			if actions.Update[i].Order == stop {
				actions.Update[i].UpdatedPrice = target
				merged = true
			}
		}
		if !merged {
			actions.Update = append(actions.Update, OrderUpdate{
				Order:           stop,
				UpdatedQuantity: stop.LockedQuantity(),
				UpdatedPrice:    target,
				InitialQuantity: stop.LockedQuantity(),
			})
		}
		g.logger.Info("Trailing stop after take profit fill",
			zap.String("order_id", stop.ID),
			zap.String("price", target.String()))
	}
	return actions
}
