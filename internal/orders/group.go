package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// Executor performs the exchange side effects groups and swap strategies need.
type Executor interface {
	CancelOrder(ctx context.Context, o *Order) error
	// EditOrder changes quantity and/or price; nil keeps the current value.
	EditOrder(ctx context.Context, o *Order, quantity, price *decimal.Decimal) error
	SetActive(ctx context.Context, o *Order) error
	SetInactive(ctx context.Context, o *Order) error
	ReferencePrice(symbol string) (decimal.Decimal, bool)
}

// ReverseFunc restores the configuration changed by an activation.
type ReverseFunc func(ctx context.Context) error

func noopReverse(context.Context) error { return nil }

type GroupKind string

const (
	GroupOCO      GroupKind = "oco"
	GroupBalanced GroupKind = "balanced_take_profit_and_stop"
	GroupTrailing GroupKind = "trailing_on_filled_tp_balanced"
)

// Group links orders whose lifecycles depend on each other.
type Group interface {
	Name() string
	Kind() GroupKind
	Add(o *Order)
	Remove(o *Order)
	Orders() []*Order
	OpenOrders() []*Order
	Enable(enabled bool)
	Enabled() bool
	OnFill(ctx context.Context, o *Order, ignored ...*Order) error
	OnCancel(ctx context.Context, o *Order, ignored ...*Order) error
	CanCreateOrder(orderType domain.OrderType, quantity decimal.Decimal) bool
	// MaxOrderQuantity returns false when the group puts no limit on the type.
	MaxOrderQuantity(orderType domain.OrderType) (decimal.Decimal, bool)
	// AdaptBeforeActivation makes room for o among the active peers. The
	// caller runs the returned function when the activation fails.
	AdaptBeforeActivation(ctx context.Context, o *Order) ([]*Order, ReverseFunc, error)
	SwapStrategy() *SwapStrategy
	SetSwapStrategy(s *SwapStrategy)
}

// baseGroup holds membership and the balancing guard shared by every group.
type baseGroup struct {
	name      string
	exec      Executor
	orders    []*Order
	enabled   bool
	balancing map[string]bool
	swap      *SwapStrategy
	logger    *zap.Logger
}

func newBaseGroup(name string, exec Executor, logger *zap.Logger) baseGroup {
	return baseGroup{
		name:      name,
		exec:      exec,
		enabled:   true,
		balancing: make(map[string]bool),
		logger:    logger.With(zap.String("group", name)),
	}
}

func (g *baseGroup) Name() string {
	return g.name
}

func (g *baseGroup) Add(o *Order) {
	for _, existing := range g.orders {
		if existing == o {
			return
		}
	}
	o.GroupName = g.name
	g.orders = append(g.orders, o)
}

func (g *baseGroup) Remove(o *Order) {
	for i, existing := range g.orders {
		if existing == o {
			g.orders = append(g.orders[:i], g.orders[i+1:]...)
			o.GroupName = ""
			return
		}
	}
}

func (g *baseGroup) Orders() []*Order {
	return append([]*Order(nil), g.orders...)
}

func (g *baseGroup) OpenOrders() []*Order {
	var out []*Order
	for _, o := range g.orders {
		if o.IsOpen() {
			out = append(out, o)
		}
	}
	return out
}

func (g *baseGroup) Enable(enabled bool) {
	g.enabled = enabled
}

func (g *baseGroup) Enabled() bool {
	return g.enabled
}

func (g *baseGroup) SwapStrategy() *SwapStrategy {
	return g.swap
}

func (g *baseGroup) SetSwapStrategy(s *SwapStrategy) {
	g.swap = s
}

// startBalancing returns false when a balancing pass is already running for
// this group, in which case the nested call must return immediately.
func (g *baseGroup) startBalancing(o *Order) (func(), bool) {
	if len(g.balancing) > 0 {
		return nil, false
	}
	g.balancing[o.ID] = true
	return func() { delete(g.balancing, o.ID) }, true
}

// peers returns the open members other than o and the ignored orders.
func (g *baseGroup) peers(o *Order, ignored []*Order) []*Order {
	skip := map[*Order]bool{o: true}
	for _, i := range ignored {
		skip[i] = true
	}
	var out []*Order
	for _, p := range g.OpenOrders() {
		if !skip[p] {
			out = append(out, p)
		}
	}
	return out
}

// deactivate moves active orders off the exchange and returns the function
// putting them back.
func (g *baseGroup) deactivate(ctx context.Context, orders []*Order) ([]*Order, ReverseFunc, error) {
	var done []*Order
	reverse := func(ctx context.Context) error {
		var firstErr error
		for _, o := range done {
			if !o.IsOpen() {
				continue
			}
			if err := g.exec.SetActive(ctx, o); err != nil {
				g.logger.Error("Failed to restore active order", zap.String("order_id", o.ID), zap.Error(err))
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		return firstErr
	}
	for _, o := range orders {
		if err := g.exec.SetInactive(ctx, o); err != nil {
			if rerr := reverse(ctx); rerr != nil {
				g.logger.Warn("Partial reverse after failed deactivation", zap.Error(rerr))
			}
			return nil, noopReverse, fmt.Errorf("deactivate order %s: %w", o.ID, err)
		}
		done = append(done, o)
	}
	if len(done) == 0 {
		return nil, noopReverse, nil
	}
	return done, reverse, nil
}

// Groups owns the order groups of an account.
type Groups struct {
	mu     sync.RWMutex
	groups map[string]Group
	exec   Executor
	logger *zap.Logger
}

func NewGroups(exec Executor, logger *zap.Logger) *Groups {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Groups{groups: make(map[string]Group), exec: exec, logger: logger.Named("groups")}
}

// Create returns the named group, creating it with kind when missing.
func (gs *Groups) Create(name string, kind GroupKind) (Group, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if g, ok := gs.groups[name]; ok {
		if g.Kind() != kind {
			return nil, fmt.Errorf("group %s already exists as %s", name, g.Kind())
		}
		return g, nil
	}
	var g Group
	switch kind {
	case GroupOCO:
		g = NewOCOGroup(name, gs.exec, gs.logger)
	case GroupBalanced:
		g = NewBalancedGroup(name, gs.exec, gs.logger)
	case GroupTrailing:
		g = NewTrailingGroup(name, gs.exec, gs.logger)
	default:
		return nil, fmt.Errorf("unknown group kind %q", kind)
	}
	gs.groups[name] = g
	return g, nil
}

func (gs *Groups) Get(name string) (Group, bool) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	g, ok := gs.groups[name]
	return g, ok
}

func (gs *Groups) Remove(name string) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	delete(gs.groups, name)
}

func (gs *Groups) Names() []string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	out := make([]string, 0, len(gs.groups))
	for name := range gs.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
