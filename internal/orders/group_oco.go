package orders

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
)

// OCOGroup cancels every other member once one of them fills.
type OCOGroup struct {
	baseGroup
}

func NewOCOGroup(name string, exec Executor, logger *zap.Logger) *OCOGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OCOGroup{baseGroup: newBaseGroup(name, exec, logger)}
}

func (g *OCOGroup) Kind() GroupKind {
	return GroupOCO
}

func (g *OCOGroup) OnFill(ctx context.Context, o *Order, ignored ...*Order) error {
	if !g.enabled {
		return nil
	}
	release, ok := g.startBalancing(o)
	if !ok {
		return nil
	}
	defer release()
	g.cancelPeers(ctx, o, ignored)
	return nil
}

// OnCancel cancels the other members. At most one order can be ignored.
func (g *OCOGroup) OnCancel(ctx context.Context, o *Order, ignored ...*Order) error {
	if len(ignored) > 1 {
		return fmt.Errorf("oco group %s cancel with %d ignored orders: %w", g.name, len(ignored), domain.ErrOrderGroupTriggerArgument)
	}
	if !g.enabled {
		return nil
	}
	release, ok := g.startBalancing(o)
	if !ok {
		return nil
	}
	defer release()
	g.cancelPeers(ctx, o, ignored)
	return nil
}

func (g *OCOGroup) cancelPeers(ctx context.Context, o *Order, ignored []*Order) {
	for _, peer := range g.peers(o, ignored) {
		if err := g.exec.CancelOrder(ctx, peer); err != nil {
			g.logger.Error("Failed to cancel grouped order",
				zap.String("order_id", peer.ID),
				zap.String("trigger_order_id", o.ID),
				zap.Error(err))
		}
	}
}

func (g *OCOGroup) CanCreateOrder(domain.OrderType, decimal.Decimal) bool {
	return true
}

func (g *OCOGroup) MaxOrderQuantity(domain.OrderType) (decimal.Decimal, bool) {
	return decimal.Zero, false
}

// AdaptBeforeActivation keeps a single member on the exchange.
func (g *OCOGroup) AdaptBeforeActivation(ctx context.Context, o *Order) ([]*Order, ReverseFunc, error) {
	var active []*Order
	for _, peer := range g.peers(o, nil) {
		if peer.IsActive {
			active = append(active, peer)
		}
	}
	return g.deactivate(ctx, active)
}
