package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SwapKind string

const (
	// SwapStopFirst keeps stops on the exchange; other orders wait locally
	// until the price approaches them.
	SwapStopFirst SwapKind = "stop_first"
	// SwapFillingPriceTriggered keeps the order closest to the reference
	// price on the exchange.
	SwapFillingPriceTriggered SwapKind = "filling_price_triggered"
)

var DefaultActivationRatio = decimal.RequireFromString("0.005")

// WaitFunc blocks until o filled or got cancelled, or ctx ends.
type WaitFunc func(ctx context.Context, o *Order) error

// SwapStrategy decides which grouped orders rest on the exchange and swaps
// them when an inactive one must become active.
type SwapStrategy struct {
	Kind SwapKind
	// ActivationRatio is how close to its filling price an inactive order
	// gets sent to the exchange.
	ActivationRatio decimal.Decimal
	Timeout         time.Duration
}

func NewSwapStrategy(kind SwapKind, timeout time.Duration) *SwapStrategy {
	return &SwapStrategy{Kind: kind, ActivationRatio: DefaultActivationRatio, Timeout: timeout}
}

// priority returns the orders kept active at rest.
func (s *SwapStrategy) priority(orders []*Order, reference decimal.Decimal) map[*Order]bool {
	out := make(map[*Order]bool)
	switch s.Kind {
	case SwapFillingPriceTriggered:
		if len(orders) > 0 && reference.IsPositive() {
			out[sortByDistance(orders, reference)[0]] = true
		}
	default:
		for _, o := range orders {
			if o.Type.IsStop() {
				out[o] = true
			}
		}
	}
	return out
}

// TriggerPrice is the price activating an inactive order.
func (s *SwapStrategy) TriggerPrice(o *Order, above bool) decimal.Decimal {
	price := o.FillingPrice()
	ratio := s.ActivationRatio
	if above {
		return price.Mul(decimal.NewFromInt(1).Sub(ratio))
	}
	return price.Mul(decimal.NewFromInt(1).Add(ratio))
}

// ApplyInactiveOrders marks each order active or inactive and sets the price
// trigger of the inactive ones. overrides maps order ids to a trigger
// direction replacing the default one.
func (s *SwapStrategy) ApplyInactiveOrders(orders []*Order, reference decimal.Decimal, overrides map[string]bool) {
	priority := s.priority(orders, reference)
	for _, o := range orders {
		if priority[o] {
			o.IsActive = true
			o.Trigger = nil
			continue
		}
		above := defaultTriggerAbove(o)
		if v, ok := overrides[o.ID]; ok {
			above = v
		}
		o.IsActive = false
		o.Trigger = &ActiveTrigger{Price: s.TriggerPrice(o, above), Above: above}
	}
}

// Execute activates an order after making room among its group peers, then
// waits for it to fill or be cancelled. On failure or timeout the activated
// order goes back to inactive and the peers are restored.
func (s *SwapStrategy) Execute(ctx context.Context, exec Executor, group Group, activating *Order, wait WaitFunc) error {
	if wait == nil {
		wait = waitDone
	}
	reverse := ReverseFunc(noopReverse)
	if group != nil {
		var err error
		if _, reverse, err = group.AdaptBeforeActivation(ctx, activating); err != nil {
			return fmt.Errorf("adapt group before activating %s: %w", activating.ID, err)
		}
	}
	cleanup := context.WithoutCancel(ctx)
	if err := exec.SetActive(ctx, activating); err != nil {
		if rerr := reverse(cleanup); rerr != nil {
			return fmt.Errorf("activate %s: %w (reverse: %v)", activating.ID, err, rerr)
		}
		return fmt.Errorf("activate %s: %w", activating.ID, err)
	}

	waitCtx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	err := wait(waitCtx, activating)
	if err == nil {
		return nil
	}
	if !activating.IsOpen() {
		return nil
	}
	if ierr := exec.SetInactive(cleanup, activating); ierr != nil {
		return fmt.Errorf("swap back %s: %w", activating.ID, ierr)
	}
	if rerr := reverse(cleanup); rerr != nil {
		return fmt.Errorf("restore peers of %s: %w", activating.ID, rerr)
	}
	return fmt.Errorf("order %s not executed after activation: %w", activating.ID, err)
}

func waitDone(ctx context.Context, o *Order) error {
	select {
	case <-o.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
