package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/events"
	"github.com/vitos/crypto_trade_core/internal/orders"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
)

// RestoreOrders tracks the orders open on the exchange that this process
// does not know yet, merging the details saved by a previous run.
func (p *PersonalData) RestoreOrders(ctx context.Context) (int, error) {
	restored := 0
	for _, symbol := range p.Symbols() {
		m, _ := p.Market(symbol)
		open, err := p.gateway.FetchOrders(ctx, symbol)
		if err != nil {
			return restored, fmt.Errorf("fetch open orders of %s: %w", symbol, err)
		}
		unlock := p.locks.Lock(symbol)
		for _, raw := range open {
			if _, known := p.trader.Orders().GetByExchangeID(raw.ExchangeID); known {
				continue
			}
			o, err := p.trader.Restore(ctx, raw, m)
			if err != nil {
				p.logger.Error("Failed to restore order",
					zap.String("exchange_order_id", raw.ExchangeID),
					zap.String("symbol", symbol),
					zap.Error(err))
				continue
			}
			restored++
			p.logger.Info("Order restored",
				zap.String("order_id", o.ID),
				zap.String("exchange_order_id", o.ExchangeOrderID),
				zap.String("group", o.GroupName))
		}
		unlock()
	}
	return restored, nil
}

// ReconcileBalance applies a fresh balance snapshot. Tracked orders missing
// from the exchange are synchronized first; those the exchange no longer
// knows are resolved as filled or cancelled from the balance change.
func (p *PersonalData) ReconcileBalance(ctx context.Context) (portfolio.ResolvedOrdersPortfolioDelta, error) {
	var result portfolio.ResolvedOrdersPortfolioDelta

	balances, err := p.gateway.FetchBalance(ctx)
	if err != nil {
		return result, fmt.Errorf("fetch balance: %w", err)
	}

	symbols := p.Symbols()
	for _, s := range symbols {
		unlock := p.locks.Lock(s)
		defer unlock()
	}

	var unknown []*orders.Order
	for _, symbol := range symbols {
		missing, err := p.missingOrders(ctx, symbol)
		if err != nil {
			return result, err
		}
		for _, o := range missing {
			err := p.trader.SyncOrder(ctx, o)
			switch {
			case errors.Is(err, domain.ErrUnknownOrder):
				unknown = append(unknown, o)
			case err != nil:
				p.logger.Error("Failed to synchronize order", zap.String("order_id", o.ID), zap.Error(err))
			}
		}
	}

	if len(unknown) > 0 {
		result, err = p.resolveUnknownOrders(ctx, unknown, balances)
		if err != nil {
			return result, err
		}
	}

	p.portfolio.UpdateFromBalance(balances)
	p.bus.Emit(events.TopicPortfolioUpdate, "", p.portfolio.Snapshot())
	return result, nil
}

// missingOrders lists the tracked open orders of symbol the exchange does not
// report as open anymore.
func (p *PersonalData) missingOrders(ctx context.Context, symbol string) ([]*orders.Order, error) {
	open, err := p.gateway.FetchOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch open orders of %s: %w", symbol, err)
	}
	onExchange := make(map[string]bool, len(open))
	for _, raw := range open {
		onExchange[raw.ExchangeID] = true
	}
	var missing []*orders.Order
	for _, o := range p.trader.Orders().Open(symbol) {
		if o.IsActive && o.ExchangeOrderID != "" && !onExchange[o.ExchangeOrderID] {
			missing = append(missing, o)
		}
	}
	return missing, nil
}

func (p *PersonalData) resolveUnknownOrders(ctx context.Context, unknown []*orders.Order, balances map[string]domain.Balance) (portfolio.ResolvedOrdersPortfolioDelta, error) {
	byExchangeID := make(map[string]*orders.Order, len(unknown))
	candidates := make([]portfolio.InferenceOrder, 0, len(unknown))
	for _, o := range unknown {
		byExchangeID[o.ExchangeOrderID] = o
		candidates = append(candidates, portfolio.InferenceOrder{
			ExchangeOrderID: o.ExchangeOrderID,
			Symbol:          o.Symbol,
			Base:            o.Base,
			Quote:           o.Quote,
			Side:            o.Side,
			Quantity:        o.LockedQuantity(),
			Price:           o.FillingPrice(),
		})
	}

	pre := p.portfolio.Content()
	post := make(map[string]decimal.Decimal, len(balances))
	for asset, b := range balances {
		post[asset] = b.Total
	}

	result, err := p.inference.Resolve(ctx, pre, post, nil, candidates, nil)
	if err != nil {
		return result, fmt.Errorf("infer filled orders: %w", err)
	}
	for _, inferred := range result.InferredFilledOrders {
		o := byExchangeID[inferred.ExchangeOrderID]
		if err := p.trader.OnFill(ctx, o, orders.WithExecution(o.FillingPrice(), nil)); err != nil {
			p.logger.Error("Failed to fill inferred order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	for _, inferred := range result.InferredCancelledOrders {
		o := byExchangeID[inferred.ExchangeOrderID]
		if err := p.trader.OnCancel(ctx, o); err != nil {
			p.logger.Error("Failed to cancel inferred order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if len(result.UnexplainedOrdersDeltas) > 0 {
		p.logger.Warn("Balance change not explained by orders",
			zap.Any("deltas", result.UnexplainedOrdersDeltas))
	}
	p.logger.Info("Resolved orders missing from exchange",
		zap.Int("filled", len(result.InferredFilledOrders)),
		zap.Int("cancelled", len(result.InferredCancelledOrders)))
	return result, nil
}
