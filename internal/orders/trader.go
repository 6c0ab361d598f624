package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/events"
	"github.com/vitos/crypto_trade_core/internal/market"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
)

const DefaultSyncTimeout = 30 * time.Second

var _ Executor = (*Trader)(nil)

type TraderConfig struct {
	// SyncTimeout bounds every exchange call.
	SyncTimeout time.Duration
	// Futures routes fills through the position updater.
	Futures bool
}

// Dependencies are the collaborators of a Trader. Only Gateway and Funds are
// required.
type Dependencies struct {
	Gateway    domain.ExchangeGateway
	Funds      FundsKeeper
	Positions  PositionUpdater
	Trades     TradeRecorder
	Bus        Publisher
	Metadata   domain.OrderMetadataStore
	MarketData MarketData
	Locks      SymbolLocker
}

type armedTrigger struct {
	event   *market.PriceEvent
	manager *market.PriceEventsManager
	cancel  context.CancelFunc
}

// Trader runs the order lifecycle of one exchange account: creation, edits,
// cancels, fills and price triggered activations.
type Trader struct {
	deps   Dependencies
	cfg    TraderConfig
	orders *Manager
	groups *Groups

	mu       sync.Mutex
	leverage map[string]decimal.Decimal
	armed    map[string]armedTrigger

	ctx     context.Context
	stop    context.CancelFunc
	timeNow func() time.Time
	logger  *zap.Logger
}

func NewTrader(deps Dependencies, cfg TraderConfig, logger *zap.Logger) *Trader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = DefaultSyncTimeout
	}
	ctx, stop := context.WithCancel(context.Background())
	t := &Trader{
		deps:     deps,
		cfg:      cfg,
		orders:   NewManager(),
		leverage: make(map[string]decimal.Decimal),
		armed:    make(map[string]armedTrigger),
		ctx:      ctx,
		stop:     stop,
		timeNow:  time.Now,
		logger:   logger.Named("trader"),
	}
	t.groups = NewGroups(t, logger)
	return t
}

func (t *Trader) Orders() *Manager {
	return t.orders
}

func (t *Trader) Groups() *Groups {
	return t.groups
}

func (t *Trader) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeNow = now
}

func (t *Trader) now() time.Time {
	t.mu.Lock()
	clock := t.timeNow
	t.mu.Unlock()
	return clock()
}

func (t *Trader) SetLeverage(symbol string, leverage decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leverage[symbol] = leverage
}

// Close stops every price trigger watcher.
func (t *Trader) Close() {
	t.stop()
}

func (t *Trader) leverageFor(symbol string) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.leverage[symbol]; ok && l.IsPositive() {
		return l
	}
	return decimal.NewFromInt(1)
}

func (t *Trader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.cfg.SyncTimeout)
}

func (t *Trader) publish(topic events.Topic, symbol string, payload interface{}) {
	if t.deps.Bus != nil {
		t.deps.Bus.Emit(topic, symbol, payload)
	}
}

func (t *Trader) lock(symbol string) func() {
	if t.deps.Locks == nil {
		return func() {}
	}
	return t.deps.Locks.Lock(symbol)
}

func (t *Trader) groupOf(o *Order) (Group, bool) {
	if o.GroupName == "" {
		return nil, false
	}
	return t.groups.Get(o.GroupName)
}

// ReferencePrice returns the current mark price of a symbol.
func (t *Trader) ReferencePrice(symbol string) (decimal.Decimal, bool) {
	if t.deps.MarketData == nil {
		return decimal.Zero, false
	}
	return t.deps.MarketData.MarkPrice(symbol)
}

// orderFunds describes what an open order keeps aside.
func (t *Trader) orderFunds(o *Order) portfolio.OrderFunds {
	f := portfolio.OrderFunds{
		Symbol:   o.Symbol,
		Base:     o.Base,
		Quote:    o.Quote,
		Side:     o.Side,
		Quantity: o.LockedQuantity(),
		Price:    o.FillingPrice(),
	}
	if t.cfg.Futures {
		if o.ReduceOnly {
			f.Quantity = decimal.Zero
			return f
		}
		f.Leverage = t.leverageFor(o.Symbol)
		f.Inverse = o.Market.ContractType.IsInverse()
		f.ContractSize = o.Market.ContractSize
	}
	if o.Side == domain.SideBuy && o.IsActive && o.Market.TakerFee.IsPositive() {
		f.FeeReserve = o.OriginQuantity.Mul(o.FillingPrice()).Mul(o.Market.TakerFee)
		f.FeeReserveCurrency = o.Quote
	}
	return f
}

func (t *Trader) reserve(o *Order) error {
	if o.reserved != nil || !o.IsActive {
		return nil
	}
	f := t.orderFunds(o)
	if f.Quantity.IsZero() {
		return nil
	}
	if err := t.deps.Funds.ReserveOrderFunds(f); err != nil {
		return err
	}
	o.reserved = &f
	return nil
}

func (t *Trader) release(o *Order) {
	if o.reserved == nil {
		return
	}
	if err := t.deps.Funds.ReleaseOrderFunds(*o.reserved); err != nil {
		t.logger.Error("Failed to release order funds", zap.String("order_id", o.ID), zap.Error(err))
	}
	o.reserved = nil
}

// takeReservation detaches the share of the reservation covering qty.
func (t *Trader) takeReservation(o *Order, qty decimal.Decimal) portfolio.OrderFunds {
	if o.reserved == nil || !o.reserved.Quantity.IsPositive() {
		return portfolio.OrderFunds{}
	}
	r := o.reserved
	part := *r
	part.Quantity = decimal.Min(qty, r.Quantity)
	part.FeeReserve = r.FeeReserve.Mul(part.Quantity).Div(r.Quantity)
	r.Quantity = r.Quantity.Sub(part.Quantity)
	r.FeeReserve = r.FeeReserve.Sub(part.FeeReserve)
	if !r.Quantity.IsPositive() {
		o.reserved = nil
	}
	return part
}

func metadataKey(o *Order) string {
	if o.ExchangeOrderID != "" {
		return o.ExchangeOrderID
	}
	return o.ID
}

func (t *Trader) saveMetadata(ctx context.Context, o *Order) {
	if t.deps.Metadata == nil {
		return
	}
	details := &domain.OrderDetails{
		ExchangeOrderID: metadataKey(o),
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		GroupName:       o.GroupName,
		Tag:             o.Tag,
		IsActive:        o.IsActive,
		UpdatedAt:       t.now(),
	}
	if o.Trigger != nil {
		details.TriggerPrice = o.Trigger.Price
		details.TriggerAbove = o.Trigger.Above
	}
	if err := t.deps.Metadata.SaveOrderDetails(ctx, details); err != nil {
		t.logger.Warn("Failed to save order details", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func (t *Trader) deleteMetadata(ctx context.Context, key string) {
	if t.deps.Metadata == nil || key == "" {
		return
	}
	if err := t.deps.Metadata.DeleteOrderDetails(ctx, key); err != nil {
		t.logger.Warn("Failed to delete order details", zap.String("key", key), zap.Error(err))
	}
}

// reindex records a new exchange id for o.
func (t *Trader) reindex(ctx context.Context, o *Order, previousKey, previousExchangeID string) {
	t.orders.Reindex(o, previousExchangeID)
	if previousKey != metadataKey(o) {
		t.deleteMetadata(ctx, previousKey)
	}
}

// Submit adapts the order to the market limits, splitting it when needed,
// and creates every resulting order.
func (t *Trader) Submit(ctx context.Context, spec Spec) ([]*Order, error) {
	price := spec.Price
	if !price.IsPositive() {
		price = spec.StopPrice
	}
	details := CheckAndAdaptOrderDetails(spec.Market, spec.Quantity, price)
	if len(details) == 0 {
		return nil, fmt.Errorf("%s %s %s @ %s does not fit market limits: %w",
			spec.Symbol, spec.Side, spec.Quantity, price, domain.ErrInvalidOrderState)
	}
	var created []*Order
	for _, d := range details {
		s := spec
		s.Quantity = d.Quantity
		if spec.Price.IsPositive() {
			s.Price = d.Price
		} else {
			s.StopPrice = d.Price
		}
		o := New(s)
		if err := t.CreateOrder(ctx, o); err != nil {
			return created, err
		}
		created = append(created, o)
	}
	return created, nil
}

// CreateOrder tracks o and sends it to the exchange when active. Inactive
// orders wait for their price trigger. A creation timeout leaves the order
// in unknown status for the next synchronization.
func (t *Trader) CreateOrder(ctx context.Context, o *Order) error {
	if g, ok := t.groupOf(o); ok && !g.CanCreateOrder(o.Type, o.LockedQuantity()) {
		limit, _ := g.MaxOrderQuantity(o.Type)
		return fmt.Errorf("group %s allows at most %s for %s: %w", g.Name(), limit, o.Type, domain.ErrInvalidOrderState)
	}
	t.orders.Add(o)
	if !o.IsActive {
		o.Initialize(t.now())
		t.saveMetadata(ctx, o)
		t.publish(events.TopicOrderOpen, o.Symbol, o.View())
		t.armTrigger(o)
		return nil
	}
	if err := t.reserve(o); err != nil {
		t.orders.Remove(o)
		_ = o.setStatus(domain.OrderStatusRejected)
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}

	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	raw, err := t.deps.Gateway.CreateOrder(cctx, o.request())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.Status = domain.OrderStatusUnknown
			t.logger.Warn("Order creation timed out, status unknown until next sync",
				zap.String("order_id", o.ID), zap.String("symbol", o.Symbol))
			return fmt.Errorf("create order %s: %w", o.ID, domain.ErrOrderCreationTimeout)
		}
		t.release(o)
		t.orders.Remove(o)
		_ = o.setStatus(domain.OrderStatusRejected)
		t.logger.Error("Failed to create order", zap.String("order_id", o.ID), zap.String("symbol", o.Symbol), zap.Error(err))
		return fmt.Errorf("create order %s: %w", o.ID, err)
	}
	return t.acceptCreated(ctx, o, raw)
}

func (t *Trader) acceptCreated(ctx context.Context, o *Order, raw *domain.RawOrder) error {
	prevKey, prevID := metadataKey(o), o.ExchangeOrderID
	o.ExchangeOrderID = ""
	o.applyIdentity(*raw)
	if o.ExchangeOrderID == "" {
		o.ExchangeOrderID = prevID
	}
	t.reindex(ctx, o, prevKey, prevID)
	o.Initialize(t.now())
	t.saveMetadata(ctx, o)
	t.logger.Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("exchange_order_id", o.ExchangeOrderID),
		zap.String("symbol", o.Symbol),
		zap.String("side", string(o.Side)),
		zap.String("type", string(o.Type)),
		zap.String("quantity", o.OriginQuantity.String()))
	t.publish(events.TopicOrderOpen, o.Symbol, o.View())
	return t.applyRaw(ctx, o, *raw)
}

// HandleOrderUpdate applies an exchange order report to the tracked order.
func (t *Trader) HandleOrderUpdate(ctx context.Context, raw domain.RawOrder) error {
	id := raw.ExchangeID
	if id == "" {
		id = raw.ID
	}
	o, ok := t.orders.GetByExchangeID(id)
	if !ok {
		return fmt.Errorf("order update %s: %w", id, domain.ErrUnknownOrder)
	}
	return t.applyRaw(ctx, o, raw)
}

// applyRaw books new executions and dispatches terminal statuses.
func (t *Trader) applyRaw(ctx context.Context, o *Order, raw domain.RawOrder) error {
	booked, err := t.bookReportedTrades(ctx, o, raw)
	if err != nil {
		return err
	}
	if booked && o.LockedQuantity().IsPositive() {
		if err := o.setStatus(domain.OrderStatusPartiallyFilled); err != nil {
			return err
		}
		t.publish(events.TopicOrderFill, o.Symbol, o.View())
	}
	price, fee := executionDetails(o, raw)
	switch raw.Status {
	case domain.OrderStatusFilled:
		return t.OnFill(ctx, o, WithExecution(price, fee))
	case domain.OrderStatusCancelled:
		if err := t.bookPartial(ctx, o, raw, price, fee); err != nil {
			return err
		}
		return t.OnCancel(ctx, o)
	case domain.OrderStatusRejected:
		return t.OnCancel(ctx, o, asRejected())
	case domain.OrderStatusPartiallyFilled, domain.OrderStatusOpen:
		return t.bookPartial(ctx, o, raw, price, fee)
	}
	return nil
}

func (t *Trader) bookPartial(ctx context.Context, o *Order, raw domain.RawOrder, price decimal.Decimal, fee *domain.FeeDetails) error {
	delta := raw.Filled.Sub(o.FilledQuantity)
	if !delta.IsPositive() {
		return nil
	}
	if err := t.applyExecution(ctx, o, execution{quantity: delta, price: price, fee: fee}, false); err != nil {
		return err
	}
	if err := o.setStatus(domain.OrderStatusPartiallyFilled); err != nil {
		return err
	}
	t.publish(events.TopicOrderFill, o.Symbol, o.View())
	return nil
}

// bookReportedTrades books the exchange trades of raw that are not stored
// yet under their exchange trade id. Only the quantity executed since the
// last report is booked, newest trades first; what the trades do not cover
// is left to the aggregated report.
func (t *Trader) bookReportedTrades(ctx context.Context, o *Order, raw domain.RawOrder) (bool, error) {
	remaining := decimal.Min(raw.Filled.Sub(o.FilledQuantity), o.LockedQuantity())
	if len(raw.Trades) == 0 || !remaining.IsPositive() {
		return false, nil
	}
	reported := append([]domain.RawTrade(nil), raw.Trades...)
	sort.SliceStable(reported, func(i, j int) bool {
		return reported[i].Timestamp.Before(reported[j].Timestamp)
	})

	var pending []domain.RawTrade
	for i := len(reported) - 1; i >= 0; i-- {
		rt := reported[i]
		if rt.ID == "" || !rt.Amount.IsPositive() || t.tradeStored(rt.ID) {
			continue
		}
		if rt.Amount.GreaterThan(remaining) {
			t.logger.Warn("Reported trade exceeds unbooked quantity",
				zap.String("order_id", o.ID),
				zap.String("trade_id", rt.ID),
				zap.String("amount", rt.Amount.String()),
				zap.String("unbooked", remaining.String()))
			break
		}
		remaining = remaining.Sub(rt.Amount)
		pending = append(pending, rt)
	}

	for i := len(pending) - 1; i >= 0; i-- {
		rt := pending[i]
		price := rt.Price
		if !price.IsPositive() && rt.Cost.IsPositive() {
			price = rt.Cost.Div(rt.Amount)
		}
		var fee *domain.FeeDetails
		if rt.Fee != nil {
			f := *rt.Fee
			f.IsFromExchange = true
			fee = &f
		}
		ex := execution{tradeID: rt.ID, quantity: rt.Amount, price: price, fee: fee, at: rt.Timestamp}
		if err := t.applyExecution(ctx, o, ex, false); err != nil {
			return false, err
		}
	}
	return len(pending) > 0, nil
}

func (t *Trader) tradeStored(id string) bool {
	if t.deps.Trades == nil {
		return false
	}
	_, ok := t.deps.Trades.Get(id)
	return ok
}

// executionDetails derives the price and exchange fee of the quantity
// executed since the last report.
func executionDetails(o *Order, raw domain.RawOrder) (decimal.Decimal, *domain.FeeDetails) {
	delta := raw.Filled.Sub(o.FilledQuantity)
	price := decimal.Zero
	if raw.Average.IsPositive() {
		price = raw.Average
		if delta.IsPositive() && o.FilledQuantity.IsPositive() {
			p := raw.Filled.Mul(raw.Average).Sub(o.FilledQuantity.Mul(o.FilledPrice)).Div(delta)
			if p.IsPositive() {
				price = p
			}
		}
	}
	var fee *domain.FeeDetails
	if raw.Fee != nil && raw.Fee.IsFromExchange {
		f := *raw.Fee
		if o.Fee != nil && o.Fee.Currency == f.Currency {
			f.Cost = decimal.Max(f.Cost.Sub(o.Fee.Cost), decimal.Zero)
		}
		fee = &f
	}
	return price, fee
}

// execution is one booked fill. Without a trade id the trade is keyed by
// order and sequence.
type execution struct {
	tradeID  string
	quantity decimal.Decimal
	price    decimal.Decimal
	fee      *domain.FeeDetails
	at       time.Time
}

// applyExecution books an executed quantity on the portfolio, the position
// and the trade history.
func (t *Trader) applyExecution(ctx context.Context, o *Order, ex execution, skipPortfolio bool) error {
	qty, price, fee := ex.quantity, ex.price, ex.fee
	if !qty.IsPositive() {
		return nil
	}
	if !price.IsPositive() {
		price = o.FillingPrice()
	}
	if fee == nil {
		computed, err := t.deps.Gateway.GetTradeFee(ctx, o.Symbol, o.Type, qty, price, o.Type.TakerOrMaker())
		if err != nil {
			t.logger.Warn("Failed to compute trade fee", zap.String("order_id", o.ID), zap.Error(err))
		} else {
			fee = &computed
		}
	}

	fill := portfolio.Fill{
		Symbol:   o.Symbol,
		Base:     o.Base,
		Quote:    o.Quote,
		Side:     o.Side,
		Quantity: qty,
		Price:    price,
		Cost:     qty.Mul(price),
		Fee:      fee,
		Released: t.takeReservation(o, qty),
	}
	if t.cfg.Futures {
		fill.Released.Inverse = o.Market.ContractType.IsInverse()
	}
	if t.cfg.Futures && t.deps.Positions != nil {
		change, err := t.deps.Positions.OnFill(o.Symbol, o.Side, qty, price, o.ReduceOnly)
		if err != nil {
			t.logger.Error("Failed to update position from fill", zap.String("order_id", o.ID), zap.Error(err))
		} else {
			fill.RealizedPnL = change.RealizedPnL
			fill.MarginDelta = change.MarginDelta
			t.publish(events.TopicPositionUpdate, o.Symbol, change.Position)
		}
	}
	if !skipPortfolio {
		if err := t.deps.Funds.ApplyOrderFill(fill); err != nil {
			t.logger.Error("Failed to update portfolio from fill", zap.String("order_id", o.ID), zap.Error(err))
		} else {
			t.publish(events.TopicPortfolioUpdate, o.Symbol, fill)
		}
	}

	now := ex.at
	if now.IsZero() {
		now = t.now()
	}
	o.recordExecution(qty, price, fee, now)

	status := domain.OrderStatusPartiallyFilled
	if !o.LockedQuantity().IsPositive() {
		status = domain.OrderStatusFilled
	}
	if t.deps.Trades != nil {
		trade, err := t.deps.Trades.Record(ctx, domain.Trade{
			ID:                 ex.tradeID,
			ExchangeOrderID:    o.ExchangeOrderID,
			OriginOrderID:      o.ID,
			Symbol:             o.Symbol,
			Side:               o.Side,
			Type:               o.Type,
			Status:             status,
			ExecutedTime:       now,
			ExecutedQuantity:   qty,
			ExecutedPrice:      price,
			TotalCost:          qty.Mul(price),
			Fee:                fee,
			IsClosingOrder:     o.Closing,
			AssociatedEntryIDs: o.AssociatedEntryIDs,
			Tag:                o.Tag,
		})
		if err != nil {
			t.logger.Error("Failed to record trade", zap.String("order_id", o.ID), zap.Error(err))
		} else {
			t.publish(events.TopicTradeNew, o.Symbol, trade)
		}
	}
	return nil
}

type handlerOptions struct {
	force         bool
	skipPortfolio bool
	rejected      bool
	price         decimal.Decimal
	fee           *domain.FeeDetails
}

type HandlerOption func(*handlerOptions)

// WithForce applies the transition even from a status that forbids it.
func WithForce() HandlerOption {
	return func(o *handlerOptions) { o.force = true }
}

// WithoutPortfolioUpdate skips portfolio accounting, for fills already
// reflected by a balance snapshot.
func WithoutPortfolioUpdate() HandlerOption {
	return func(o *handlerOptions) { o.skipPortfolio = true }
}

// WithExecution sets the execution price and exchange fee of the fill.
func WithExecution(price decimal.Decimal, fee *domain.FeeDetails) HandlerOption {
	return func(o *handlerOptions) {
		o.price = price
		o.fee = fee
	}
}

func asRejected() HandlerOption {
	return func(o *handlerOptions) { o.rejected = true }
}

// OnFill completes the order. A second call is a no-op.
func (t *Trader) OnFill(ctx context.Context, o *Order, opts ...HandlerOption) error {
	var opt handlerOptions
	for _, fn := range opts {
		fn(&opt)
	}
	if o.fillHandled {
		return nil
	}
	if !opt.force && !CanTransition(o.Status, domain.OrderStatusFilled) {
		return fmt.Errorf("fill order %s in status %s: %w", o.ID, o.Status, domain.ErrInvalidOrderState)
	}
	if err := t.applyExecution(ctx, o, execution{quantity: o.LockedQuantity(), price: opt.price, fee: opt.fee}, opt.skipPortfolio); err != nil {
		return err
	}
	o.fillHandled = true
	t.release(o)
	if err := o.setStatus(domain.OrderStatusFilled); err != nil {
		o.Status = domain.OrderStatusFilled
		o.doneOnce.Do(func() { close(o.done) })
	}
	t.disarm(o)
	t.deleteMetadata(ctx, metadataKey(o))
	t.logger.Info("Order filled",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("quantity", o.FilledQuantity.String()),
		zap.String("price", o.FilledPrice.String()))
	t.publish(events.TopicOrderFill, o.Symbol, o.View())

	t.runChained(ctx, o, TriggerOnFill)
	if g, ok := t.groupOf(o); ok {
		if err := g.OnFill(ctx, o); err != nil {
			t.logger.Error("Group failed to handle fill", zap.String("group", g.Name()), zap.Error(err))
		}
	}
	return nil
}

// OnCancel completes the order as cancelled and releases its unfilled
// reservation. A second call is a no-op.
func (t *Trader) OnCancel(ctx context.Context, o *Order, opts ...HandlerOption) error {
	var opt handlerOptions
	for _, fn := range opts {
		fn(&opt)
	}
	if o.cancelHandled || o.fillHandled {
		return nil
	}
	status := domain.OrderStatusCancelled
	if opt.rejected {
		status = domain.OrderStatusRejected
	}
	if err := o.setStatus(status); err != nil {
		if !opt.force {
			return err
		}
		o.Status = status
		o.doneOnce.Do(func() { close(o.done) })
	}
	o.cancelHandled = true
	o.Cancelling = false
	t.release(o)
	t.disarm(o)
	t.deleteMetadata(ctx, metadataKey(o))
	t.logger.Info("Order cancelled", zap.String("order_id", o.ID), zap.String("symbol", o.Symbol))
	t.publish(events.TopicOrderCancel, o.Symbol, o.View())

	t.runChained(ctx, o, TriggerOnCancel)
	if g, ok := t.groupOf(o); ok {
		if err := g.OnCancel(ctx, o); err != nil {
			t.logger.Error("Group failed to handle cancel", zap.String("group", g.Name()), zap.Error(err))
		}
	}
	return nil
}

// CancelOrder cancels o on the exchange. A timeout flags the order as
// cancelling; SyncOrder retries it.
func (t *Trader) CancelOrder(ctx context.Context, o *Order) error {
	if !o.IsOpen() {
		return nil
	}
	if !o.IsActive || o.ExchangeOrderID == "" {
		return t.OnCancel(ctx, o)
	}
	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	status, err := t.deps.Gateway.CancelOrder(cctx, o.ExchangeOrderID, o.Symbol)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.Cancelling = true
			t.logger.Warn("Order cancel timed out, will retry", zap.String("order_id", o.ID))
			return fmt.Errorf("cancel order %s: %w", o.ID, domain.ErrOrderCancelTimeout)
		}
		return fmt.Errorf("cancel order %s: %w", o.ID, err)
	}
	if status == domain.OrderStatusFilled {
		return t.SyncOrder(ctx, o)
	}
	return t.OnCancel(ctx, o)
}

// EditOrder sets the remaining quantity and/or price of o. Stop and take
// profit orders move their stop price. Exchanges that cannot edit the order
// type get a cancel and a new order.
func (t *Trader) EditOrder(ctx context.Context, o *Order, quantity, price *decimal.Decimal) error {
	if !o.IsOpen() {
		return fmt.Errorf("edit order %s in status %s: %w", o.ID, o.Status, domain.ErrInvalidOrderState)
	}
	var upd UpdateSpec
	if quantity != nil {
		origin := o.FilledQuantity.Add(*quantity)
		upd.Quantity = &origin
	}
	if price != nil {
		if o.Type.IsStop() || o.Type.IsTakeProfit() {
			upd.StopPrice = price
		}
		if !o.Type.IsMarketExecuted() {
			upd.Price = price
		}
	}

	onExchange := o.IsActive && o.ExchangeOrderID != ""
	previous := o.reserved
	t.release(o)
	if err := o.Update(upd); err != nil {
		if rerr := t.reserve(o); rerr != nil {
			t.logger.Error("Failed to restore reservation", zap.String("order_id", o.ID), zap.Error(rerr))
		}
		return err
	}
	if err := t.reserve(o); err != nil {
		return fmt.Errorf("edit order %s: %w", o.ID, err)
	}
	if !onExchange {
		if g, ok := t.groupOf(o); ok && o.Trigger != nil && g.SwapStrategy() != nil {
			o.Trigger.Price = g.SwapStrategy().TriggerPrice(o, o.Trigger.Above)
			t.armTrigger(o)
		}
		t.saveMetadata(ctx, o)
		t.publish(events.TopicOrderOpen, o.Symbol, o.View())
		return nil
	}

	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	var raw *domain.RawOrder
	var err error
	if editor, ok := t.deps.Gateway.(domain.OrderEditor); ok && editor.CanEditOrder(o.Type) {
		raw, err = t.deps.Gateway.EditOrder(cctx, o.ExchangeOrderID, o.request())
	} else {
		var status domain.OrderStatus
		status, err = t.deps.Gateway.CancelOrder(cctx, o.ExchangeOrderID, o.Symbol)
		if err == nil && status == domain.OrderStatusFilled {
			err = fmt.Errorf("order %s filled before replacement: %w", o.ID, domain.ErrInvalidOrderState)
		}
		if err == nil {
			raw, err = t.deps.Gateway.CreateOrder(cctx, o.request())
		}
	}
	if err != nil {
		t.logger.Error("Failed to edit order", zap.String("order_id", o.ID), zap.Error(err))
		if previous != nil && o.reserved != nil {
			t.release(o)
			if rerr := t.deps.Funds.ReserveOrderFunds(*previous); rerr == nil {
				o.reserved = previous
			}
		}
		return fmt.Errorf("edit order %s: %w", o.ID, err)
	}
	prevKey, prevID := metadataKey(o), o.ExchangeOrderID
	o.ExchangeOrderID = ""
	o.applyIdentity(*raw)
	if o.ExchangeOrderID == "" {
		o.ExchangeOrderID = prevID
	}
	t.reindex(ctx, o, prevKey, prevID)
	t.saveMetadata(ctx, o)
	t.logger.Info("Order edited",
		zap.String("order_id", o.ID),
		zap.String("quantity", o.LockedQuantity().String()),
		zap.String("price", o.FillingPrice().String()))
	t.publish(events.TopicOrderOpen, o.Symbol, o.View())
	return nil
}

// SetActive sends an inactive order to the exchange.
func (t *Trader) SetActive(ctx context.Context, o *Order) error {
	if !o.IsOpen() {
		return fmt.Errorf("activate order %s in status %s: %w", o.ID, o.Status, domain.ErrInvalidOrderState)
	}
	if o.IsActive && o.ExchangeOrderID != "" {
		return nil
	}
	t.disarm(o)
	o.IsActive = true
	if err := t.reserve(o); err != nil {
		o.IsActive = false
		t.armTrigger(o)
		return fmt.Errorf("activate order %s: %w", o.ID, err)
	}
	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	raw, err := t.deps.Gateway.CreateOrder(cctx, o.request())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			o.Status = domain.OrderStatusUnknown
			return fmt.Errorf("activate order %s: %w", o.ID, domain.ErrOrderCreationTimeout)
		}
		o.IsActive = false
		t.release(o)
		t.armTrigger(o)
		return fmt.Errorf("activate order %s: %w", o.ID, err)
	}
	return t.acceptCreated(ctx, o, raw)
}

// SetInactive removes o from the exchange while keeping it tracked locally
// behind its price trigger.
func (t *Trader) SetInactive(ctx context.Context, o *Order) error {
	if !o.IsActive {
		return nil
	}
	if o.ExchangeOrderID != "" {
		cctx, cancel := t.withTimeout(ctx)
		defer cancel()
		status, err := t.deps.Gateway.CancelOrder(cctx, o.ExchangeOrderID, o.Symbol)
		if err != nil {
			return fmt.Errorf("deactivate order %s: %w", o.ID, err)
		}
		if status == domain.OrderStatusFilled {
			if err := t.SyncOrder(ctx, o); err != nil {
				return err
			}
			return fmt.Errorf("deactivate order %s already filled: %w", o.ID, domain.ErrInvalidOrderState)
		}
	}
	prevKey, prevID := metadataKey(o), o.ExchangeOrderID
	o.ExchangeOrderID = ""
	o.IsActive = false
	t.reindex(ctx, o, prevKey, prevID)
	t.release(o)
	if o.Trigger == nil {
		o.Trigger = &ActiveTrigger{Price: o.FillingPrice(), Above: defaultTriggerAbove(o)}
	}
	t.saveMetadata(ctx, o)
	t.publish(events.TopicOrderOpen, o.Symbol, o.View())
	t.armTrigger(o)
	return nil
}

// SyncOrder refreshes o from the exchange, retrying a pending cancel first.
func (t *Trader) SyncOrder(ctx context.Context, o *Order) error {
	if o.Cancelling {
		o.Cancelling = false
		return t.CancelOrder(ctx, o)
	}
	if o.ExchangeOrderID == "" {
		if o.Status != domain.OrderStatusUnknown {
			return nil
		}
		return t.resolveUnknown(ctx, o)
	}
	raw, err := o.Synchronize(ctx, func(ctx context.Context) (*domain.RawOrder, error) {
		cctx, cancel := t.withTimeout(ctx)
		defer cancel()
		return t.deps.Gateway.FetchOrder(cctx, o.ExchangeOrderID, o.Symbol)
	})
	if err != nil || raw == nil {
		return err
	}
	o.Initialize(t.now())
	return t.applyRaw(ctx, o, *raw)
}

// resolveUnknown looks for an order whose creation timed out among the
// open orders of its symbol.
func (t *Trader) resolveUnknown(ctx context.Context, o *Order) error {
	cctx, cancel := t.withTimeout(ctx)
	defer cancel()
	open, err := t.deps.Gateway.FetchOrders(cctx, o.Symbol)
	if err != nil {
		return fmt.Errorf("resolve unknown order %s: %w", o.ID, err)
	}
	for i := range open {
		if open[i].ClientOrderID == o.ClientOrderID {
			return t.acceptCreated(ctx, o, &open[i])
		}
	}
	t.logger.Warn("Order with unknown status not found on exchange", zap.String("order_id", o.ID))
	return t.OnCancel(ctx, o, asRejected())
}

// AddChainedOrder registers child on parent and creates it right away when
// the trigger already happened.
func (t *Trader) AddChainedOrder(ctx context.Context, parent, child *Order, trigger ChainTrigger) error {
	if parent.AddChainedOrder(child, trigger) {
		return t.createChild(ctx, parent, child)
	}
	return nil
}

// runChained creates the children of parent in insertion order. A failing
// child does not stop its siblings.
func (t *Trader) runChained(ctx context.Context, parent *Order, trigger ChainTrigger) {
	for _, child := range parent.ChainedOrders(trigger) {
		if err := t.createChild(ctx, parent, child); err != nil {
			t.logger.Error("Failed to create chained order",
				zap.String("parent_id", parent.ID),
				zap.String("order_id", child.ID),
				zap.Error(err))
		}
	}
}

func (t *Trader) createChild(ctx context.Context, parent, child *Order) error {
	if child.Status != domain.OrderStatusPending {
		return nil
	}
	adaptChainedQuantity(parent, child)
	if len(child.AssociatedEntryIDs) == 0 && child.Closing && parent.ExchangeOrderID != "" {
		child.AssociatedEntryIDs = []string{parent.ExchangeOrderID}
	}
	return t.CreateOrder(ctx, child)
}

// adaptChainedQuantity shrinks a child selling what its parent bought when
// the parent paid its fee in that asset.
func adaptChainedQuantity(parent, child *Order) {
	if parent.Fee == nil || parent.Side != domain.SideBuy || child.Side != domain.SideSell {
		return
	}
	if parent.Fee.Currency != child.Base || !parent.FilledQuantity.IsPositive() {
		return
	}
	received := parent.FilledQuantity.Sub(parent.Fee.Cost)
	if child.OriginQuantity.GreaterThan(received) {
		if child.Market.Symbol != "" {
			received = child.Market.TruncateAmount(received)
		}
		child.OriginQuantity = received
	}
}

// Restore tracks an order found open on the exchange at startup and merges
// the details persisted by a previous run.
func (t *Trader) Restore(ctx context.Context, raw domain.RawOrder, m domain.Market) (*Order, error) {
	o := FromRaw(raw, m)
	o.IsActive = true
	if t.deps.Metadata != nil {
		details, err := t.deps.Metadata.GetStartupOrderDetails(ctx, metadataKey(o))
		if err != nil {
			return nil, fmt.Errorf("restore order %s: %w", o.ExchangeOrderID, err)
		}
		if details != nil {
			if details.ClientOrderID != "" && details.ClientOrderID != o.ClientOrderID {
				o.ClientOrderID = details.ClientOrderID
			}
			if details.Tag != "" {
				o.Tag = details.Tag
			}
			if details.TriggerPrice.IsPositive() {
				o.Trigger = &ActiveTrigger{Price: details.TriggerPrice, Above: details.TriggerAbove}
			}
			if g, ok := t.groups.Get(details.GroupName); ok {
				g.Add(o)
			}
		}
	}
	// the balance snapshot already holds this order's funds
	f := t.orderFunds(o)
	if f.Quantity.IsPositive() {
		o.reserved = &f
	}
	t.orders.Add(o)
	return o, nil
}

// armTrigger watches the price trigger of an inactive order.
func (t *Trader) armTrigger(o *Order) {
	if o.Trigger == nil || o.IsActive || !o.IsOpen() || t.deps.MarketData == nil {
		return
	}
	manager := t.deps.MarketData.PriceEvents(o.Symbol)
	if manager == nil {
		return
	}
	t.disarm(o)
	ev := manager.NewEvent(o.Trigger.Price, t.now(), o.Trigger.Above, true)
	ctx, cancel := context.WithCancel(t.ctx)
	t.mu.Lock()
	t.armed[o.ID] = armedTrigger{event: ev, manager: manager, cancel: cancel}
	t.mu.Unlock()
	go t.watchTrigger(ctx, o, ev)
}

func (t *Trader) disarm(o *Order) {
	t.mu.Lock()
	a, ok := t.armed[o.ID]
	delete(t.armed, o.ID)
	t.mu.Unlock()
	if ok {
		a.manager.RemoveEvent(a.event)
		a.cancel()
	}
}

func (t *Trader) watchTrigger(ctx context.Context, o *Order, ev *market.PriceEvent) {
	select {
	case <-ctx.Done():
		return
	case <-ev.Done():
	}
	unlock := t.lock(o.Symbol)
	locked := true
	defer func() {
		if locked {
			unlock()
		}
	}()
	if ctx.Err() != nil || !o.IsOpen() || o.IsActive {
		return
	}
	t.mu.Lock()
	if a, ok := t.armed[o.ID]; ok && a.event == ev {
		delete(t.armed, o.ID)
	}
	t.mu.Unlock()

	price, _ := ev.FiredPrice()
	t.logger.Info("Order trigger price reached",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("price", price.String()))

	g, inGroup := t.groupOf(o)
	if !inGroup || g.SwapStrategy() == nil {
		if err := t.SetActive(ctx, o); err != nil {
			t.logger.Error("Failed to activate order", zap.String("order_id", o.ID), zap.Error(err))
		}
		return
	}
	wait := func(wctx context.Context, ord *Order) error {
		unlock()
		locked = false
		defer func() {
			unlock = t.lock(ord.Symbol)
			locked = true
		}()
		return waitDone(wctx, ord)
	}
	if err := g.SwapStrategy().Execute(ctx, t, g, o, wait); err != nil {
		t.logger.Warn("Active order swap failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
