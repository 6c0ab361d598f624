package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_trade_core/internal/domain"
	"github.com/vitos/crypto_trade_core/internal/portfolio"
)

// ChainTrigger is the parent state creating a chained order.
type ChainTrigger string

const (
	TriggerOnFill    ChainTrigger = "on_fill"
	TriggerOnCancel  ChainTrigger = "on_cancel"
	TriggerImmediate ChainTrigger = "immediate"
)

// ActiveTrigger is the price at which an inactive order is sent to the exchange.
type ActiveTrigger struct {
	Price decimal.Decimal `json:"price"`
	Above bool            `json:"above"`
}

// TrailingStep moves a stop to TargetPrice once TriggerPrice is reached.
type TrailingStep struct {
	TriggerPrice decimal.Decimal `json:"trigger_price"`
	TargetPrice  decimal.Decimal `json:"target_price"`
	TriggerAbove bool            `json:"trigger_above"`
}

func (s TrailingStep) reachedBy(price decimal.Decimal) bool {
	if !price.IsPositive() {
		return false
	}
	if s.TriggerAbove {
		return price.GreaterThanOrEqual(s.TriggerPrice)
	}
	return price.LessThanOrEqual(s.TriggerPrice)
}

// TrailingProfile is the stepwise schedule followed by a stop when take
// profits of its group fill.
type TrailingProfile struct {
	Steps []TrailingStep `json:"steps"`
}

// Reached returns the index of the farthest step reached by any of the
// prices, or -1.
func (p TrailingProfile) Reached(prices ...decimal.Decimal) int {
	best := -1
	for i, step := range p.Steps {
		hit := false
		for _, price := range prices {
			if step.reachedBy(price) {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		farther := step.TriggerPrice.GreaterThan(p.Steps[best].TriggerPrice)
		if !step.TriggerAbove {
			farther = step.TriggerPrice.LessThan(p.Steps[best].TriggerPrice)
		}
		if farther {
			best = i
		}
	}
	return best
}

// Spec describes an order to build.
type Spec struct {
	Symbol     string
	Side       domain.Side
	Type       domain.OrderType
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	StopPrice  decimal.Decimal
	ReduceOnly bool
	// Closing marks an order closing earlier entries in trade history.
	Closing            bool
	AssociatedEntryIDs []string
	Tag                string
	Inactive           bool
	Trigger            *ActiveTrigger
	Trailing           *TrailingProfile
	Market             domain.Market
}

// Order is a locally tracked exchange order. Orders of one symbol are only
// mutated while its symbol lock is held; Done is safe from any goroutine.
type Order struct {
	ID              string
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Base            string
	Quote           string
	Side            domain.Side
	Type            domain.OrderType
	Status          domain.OrderStatus
	OriginQuantity  decimal.Decimal
	OriginPrice     decimal.Decimal
	StopPrice       decimal.Decimal
	FilledQuantity  decimal.Decimal
	FilledPrice     decimal.Decimal
	TotalCost       decimal.Decimal
	Fee             *domain.FeeDetails
	CreatedAt       time.Time
	ExecutedAt      time.Time
	ReduceOnly      bool
	Closing         bool
	IsActive        bool
	// Cancelling is set when a cancel request timed out and must be retried.
	Cancelling         bool
	Trigger            *ActiveTrigger
	Trailing           *TrailingProfile
	GroupName          string
	OriginOrderID      string
	ChainedOn          ChainTrigger
	AssociatedEntryIDs []string
	Tag                string
	Market             domain.Market

	trailingStep  int
	refreshing    bool
	initialized   bool
	fillHandled   bool
	cancelHandled bool
	reserved      *portfolio.OrderFunds
	chained       []*Order

	doneOnce sync.Once
	done     chan struct{}
}

func New(spec Spec) *Order {
	base, quote, _ := domain.ParseSymbol(spec.Symbol)
	o := &Order{
		ID:                 uuid.NewString(),
		ClientOrderID:      uuid.NewString(),
		Symbol:             spec.Symbol,
		Base:               base,
		Quote:              quote,
		Side:               spec.Side,
		Type:               spec.Type,
		Status:             domain.OrderStatusPending,
		OriginQuantity:     spec.Quantity,
		OriginPrice:        spec.Price,
		StopPrice:          spec.StopPrice,
		ReduceOnly:         spec.ReduceOnly,
		Closing:            spec.Closing || spec.ReduceOnly,
		IsActive:           !spec.Inactive,
		Trigger:            spec.Trigger,
		Trailing:           spec.Trailing,
		AssociatedEntryIDs: append([]string(nil), spec.AssociatedEntryIDs...),
		Tag:                spec.Tag,
		Market:             spec.Market,
		trailingStep:       -1,
		done:               make(chan struct{}),
	}
	return o
}

var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusOpen: {
		domain.OrderStatusOpen, domain.OrderStatusPartiallyFilled, domain.OrderStatusFilled,
		domain.OrderStatusCancelled, domain.OrderStatusRejected,
	},
	domain.OrderStatusPartiallyFilled: {
		domain.OrderStatusPartiallyFilled, domain.OrderStatusFilled, domain.OrderStatusCancelled,
	},
}

// CanTransition reports whether an order may move from one status to another.
// Pending and unknown orders may reach any status; terminal ones none.
func CanTransition(from, to domain.OrderStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if from == domain.OrderStatusPending || from == domain.OrderStatusUnknown {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (o *Order) setStatus(to domain.OrderStatus) error {
	if o.Status == to && !to.IsTerminal() {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("order %s: %s -> %s: %w", o.ID, o.Status, to, domain.ErrInvalidOrderState)
	}
	o.Status = to
	if to.IsTerminal() {
		o.doneOnce.Do(func() { close(o.done) })
	}
	return nil
}

// Initialize moves a pending order to open. It returns false when the order
// was already initialized.
func (o *Order) Initialize(at time.Time) bool {
	if o.initialized {
		return false
	}
	o.initialized = true
	if o.CreatedAt.IsZero() {
		o.CreatedAt = at
	}
	if o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusUnknown {
		o.Status = domain.OrderStatusOpen
	}
	return true
}

func (o *Order) IsInitialized() bool {
	return o.initialized
}

func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}

func (o *Order) IsRefreshing() bool {
	return o.refreshing
}

// Done is closed when the order reaches a terminal status.
func (o *Order) Done() <-chan struct{} {
	return o.done
}

// UpdateSpec holds the fields an Update may rewrite. Nil fields are unchanged.
type UpdateSpec struct {
	Quantity  *decimal.Decimal
	Price     *decimal.Decimal
	StopPrice *decimal.Decimal
	Side      *domain.Side
	Type      *domain.OrderType
}

// Update rewrites the order parameters of an open order.
func (o *Order) Update(u UpdateSpec) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("update order %s in status %s: %w", o.ID, o.Status, domain.ErrInvalidOrderState)
	}
	if u.Quantity != nil {
		if u.Quantity.LessThan(o.FilledQuantity) {
			return fmt.Errorf("order %s quantity %s below filled %s: %w", o.ID, u.Quantity, o.FilledQuantity, domain.ErrInvalidOrderState)
		}
		o.OriginQuantity = *u.Quantity
	}
	if u.Price != nil {
		o.OriginPrice = *u.Price
	}
	if u.StopPrice != nil {
		o.StopPrice = *u.StopPrice
	}
	if u.Side != nil {
		o.Side = *u.Side
	}
	if u.Type != nil {
		o.Type = *u.Type
	}
	return nil
}

// FillingPrice is the price the order is expected to execute at.
func (o *Order) FillingPrice() decimal.Decimal {
	if o.FilledQuantity.IsPositive() && o.FilledPrice.IsPositive() && o.Status == domain.OrderStatusFilled {
		return o.FilledPrice
	}
	if (o.Type.IsStop() || o.Type.IsTakeProfit()) && o.StopPrice.IsPositive() && o.Type.IsMarketExecuted() {
		return o.StopPrice
	}
	if o.OriginPrice.IsPositive() {
		return o.OriginPrice
	}
	return o.StopPrice
}

// GetCost returns the quote value of a quantity at the filling price.
func (o *Order) GetCost(quantity decimal.Decimal) decimal.Decimal {
	return quantity.Mul(o.FillingPrice())
}

// LockedQuantity is the quantity still waiting to execute.
func (o *Order) LockedQuantity() decimal.Decimal {
	return decimal.Max(o.OriginQuantity.Sub(o.FilledQuantity), decimal.Zero)
}

// AddChainedOrder registers a child created when this order reaches trigger.
// It returns true when the trigger is already met and the child can be
// created right away.
func (o *Order) AddChainedOrder(child *Order, trigger ChainTrigger) bool {
	child.OriginOrderID = o.ID
	child.ChainedOn = trigger
	child.Status = domain.OrderStatusPending
	o.chained = append(o.chained, child)
	switch trigger {
	case TriggerImmediate:
		return true
	case TriggerOnFill:
		return o.Status == domain.OrderStatusFilled
	case TriggerOnCancel:
		return o.Status == domain.OrderStatusCancelled
	}
	return false
}

// ChainedOrders returns the children created by trigger, in insertion order.
func (o *Order) ChainedOrders(trigger ChainTrigger) []*Order {
	var out []*Order
	for _, c := range o.chained {
		if c.ChainedOn == trigger {
			out = append(out, c)
		}
	}
	return out
}

// recordExecution adds an executed quantity to the fill state.
func (o *Order) recordExecution(qty, price decimal.Decimal, fee *domain.FeeDetails, at time.Time) {
	filled := o.FilledQuantity.Add(qty)
	if filled.IsPositive() {
		o.FilledPrice = o.FilledQuantity.Mul(o.FilledPrice).Add(qty.Mul(price)).Div(filled)
	}
	o.FilledQuantity = filled
	o.TotalCost = o.TotalCost.Add(qty.Mul(price))
	o.ExecutedAt = at
	if fee == nil {
		return
	}
	if o.Fee == nil || o.Fee.Currency != fee.Currency {
		f := *fee
		o.Fee = &f
		return
	}
	o.Fee.Cost = o.Fee.Cost.Add(fee.Cost)
	o.Fee.IsFromExchange = o.Fee.IsFromExchange && fee.IsFromExchange
}

// Synchronize refreshes the order from the exchange. It is a no-op while a
// refresh is already running or once the order is terminal; a failed fetch
// leaves the order untouched.
func (o *Order) Synchronize(ctx context.Context, fetch func(ctx context.Context) (*domain.RawOrder, error)) (*domain.RawOrder, error) {
	if o.refreshing || o.Status.IsTerminal() {
		return nil, nil
	}
	o.refreshing = true
	defer func() { o.refreshing = false }()

	raw, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("synchronize order %s: %w", o.ID, err)
	}
	if raw == nil {
		return nil, nil
	}
	o.applyIdentity(*raw)
	return raw, nil
}

func (o *Order) applyIdentity(raw domain.RawOrder) {
	if raw.ExchangeID != "" {
		o.ExchangeOrderID = raw.ExchangeID
	} else if raw.ID != "" && o.ExchangeOrderID == "" {
		o.ExchangeOrderID = raw.ID
	}
	if raw.ClientOrderID != "" {
		o.ClientOrderID = raw.ClientOrderID
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = raw.Timestamp
	}
}

// FromRaw builds an order from a normalized exchange record.
func FromRaw(raw domain.RawOrder, m domain.Market) *Order {
	orderType := raw.Type
	if orderType == "" || orderType == domain.OrderTypeUnknown {
		orderType = domain.ParseOrderType("", raw.TakerOrMaker)
	}
	o := New(Spec{
		Symbol:     raw.Symbol,
		Side:       raw.Side,
		Type:       orderType,
		Quantity:   raw.Amount,
		Price:      raw.Price,
		StopPrice:  raw.StopPrice,
		ReduceOnly: raw.ReduceOnly,
		Tag:        raw.Tag,
		Market:     m,
	})
	if raw.ID != "" {
		o.ID = raw.ID
	}
	o.applyIdentity(raw)
	o.Status = raw.Status
	if o.Status == "" {
		o.Status = domain.OrderStatusUnknown
	}
	o.FilledQuantity = raw.Filled
	o.FilledPrice = raw.Average
	o.TotalCost = raw.Cost
	if raw.Fee != nil {
		f := *raw.Fee
		o.Fee = &f
	}
	o.CreatedAt = raw.Timestamp
	o.initialized = true
	if o.Status.IsTerminal() {
		o.doneOnce.Do(func() { close(o.done) })
	}
	return o
}

// ToRaw returns the normalized record of the order.
func (o *Order) ToRaw() domain.RawOrder {
	raw := domain.RawOrder{
		ID:            o.ID,
		ExchangeID:    o.ExchangeOrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Type:          o.Type,
		Side:          o.Side,
		Price:         o.OriginPrice,
		StopPrice:     o.StopPrice,
		Amount:        o.OriginQuantity,
		Cost:          o.TotalCost,
		Average:       o.FilledPrice,
		Filled:        o.FilledQuantity,
		Remaining:     o.LockedQuantity(),
		Status:        o.Status,
		Timestamp:     o.CreatedAt,
		TakerOrMaker:  o.Type.TakerOrMaker(),
		ReduceOnly:    o.ReduceOnly,
		Tag:           o.Tag,
	}
	if o.Fee != nil {
		f := *o.Fee
		raw.Fee = &f
	}
	return raw
}

// View is a read-only copy of an order published to subscribers.
type View struct {
	ID              string             `json:"id"`
	ExchangeOrderID string             `json:"exchange_order_id"`
	ClientOrderID   string             `json:"client_order_id"`
	Symbol          string             `json:"symbol"`
	Side            domain.Side        `json:"side"`
	Type            domain.OrderType   `json:"type"`
	Status          domain.OrderStatus `json:"status"`
	OriginQuantity  decimal.Decimal    `json:"origin_quantity"`
	OriginPrice     decimal.Decimal    `json:"origin_price"`
	StopPrice       decimal.Decimal    `json:"stop_price"`
	FilledQuantity  decimal.Decimal    `json:"filled_quantity"`
	FilledPrice     decimal.Decimal    `json:"filled_price"`
	Fee             *domain.FeeDetails `json:"fee,omitempty"`
	IsActive        bool               `json:"is_active"`
	Cancelling      bool               `json:"cancelling,omitempty"`
	Trigger         *ActiveTrigger     `json:"trigger,omitempty"`
	GroupName       string             `json:"group_name,omitempty"`
	OriginOrderID   string             `json:"origin_order_id,omitempty"`
	Tag             string             `json:"tag,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
}

func (o *Order) View() View {
	v := View{
		ID:              o.ID,
		ExchangeOrderID: o.ExchangeOrderID,
		ClientOrderID:   o.ClientOrderID,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Type:            o.Type,
		Status:          o.Status,
		OriginQuantity:  o.OriginQuantity,
		OriginPrice:     o.OriginPrice,
		StopPrice:       o.StopPrice,
		FilledQuantity:  o.FilledQuantity,
		FilledPrice:     o.FilledPrice,
		IsActive:        o.IsActive,
		Cancelling:      o.Cancelling,
		GroupName:       o.GroupName,
		OriginOrderID:   o.OriginOrderID,
		Tag:             o.Tag,
		CreatedAt:       o.CreatedAt,
	}
	if o.Fee != nil {
		f := *o.Fee
		v.Fee = &f
	}
	if o.Trigger != nil {
		t := *o.Trigger
		v.Trigger = &t
	}
	return v
}

// request builds the gateway request of the order's remaining quantity.
func (o *Order) request() domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:        o.Symbol,
		Type:          o.Type,
		Side:          o.Side,
		Quantity:      o.LockedQuantity(),
		Price:         o.OriginPrice,
		StopPrice:     o.StopPrice,
		ClientOrderID: o.ClientOrderID,
		ReduceOnly:    o.ReduceOnly,
	}
}

// defaultTriggerAbove tells whether the price must rise to reach the order.
func defaultTriggerAbove(o *Order) bool {
	above := o.Side == domain.SideSell
	if o.Type.IsStop() {
		above = !above
	}
	return above
}
