package domain

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderType string

const (
	OrderTypeMarket            OrderType = "market"
	OrderTypeLimit             OrderType = "limit"
	OrderTypeStopLoss          OrderType = "stop_loss"
	OrderTypeStopLossLimit     OrderType = "stop_loss_limit"
	OrderTypeTakeProfit        OrderType = "take_profit"
	OrderTypeTakeProfitLimit   OrderType = "take_profit_limit"
	OrderTypeTrailingStop      OrderType = "trailing_stop"
	OrderTypeTrailingStopLimit OrderType = "trailing_stop_limit"
	OrderTypeUnknown           OrderType = "unknown"
)

// IsStop reports whether the order protects a position on adverse moves.
func (t OrderType) IsStop() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeStopLossLimit, OrderTypeTrailingStop, OrderTypeTrailingStopLimit:
		return true
	}
	return false
}

func (t OrderType) IsTakeProfit() bool {
	return t == OrderTypeTakeProfit || t == OrderTypeTakeProfitLimit
}

func (t OrderType) IsTrailing() bool {
	return t == OrderTypeTrailingStop || t == OrderTypeTrailingStopLimit
}

// IsMarketExecuted reports whether the order fills as a taker once triggered.
func (t OrderType) IsMarketExecuted() bool {
	switch t {
	case OrderTypeMarket, OrderTypeStopLoss, OrderTypeTakeProfit, OrderTypeTrailingStop:
		return true
	}
	return false
}

func (t OrderType) TakerOrMaker() TakerOrMaker {
	if t.IsMarketExecuted() {
		return Taker
	}
	return Maker
}

type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusUnknown         OrderStatus = "unknown"
)

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

type TakerOrMaker string

const (
	Taker TakerOrMaker = "taker"
	Maker TakerOrMaker = "maker"
)

type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
	// PositionSideBoth is used in one-way mode where a single signed position exists per symbol.
	PositionSideBoth PositionSide = "both"
)

type PositionStatus string

const (
	PositionStatusOpen        PositionStatus = "open"
	PositionStatusLiquidating PositionStatus = "liquidating"
	PositionStatusADL         PositionStatus = "adl"
	PositionStatusClosed      PositionStatus = "closed"
)

type MarginType string

const (
	MarginTypeIsolated MarginType = "isolated"
	MarginTypeCrossed  MarginType = "crossed"
)

type ContractType string

const (
	ContractLinearPerpetual  ContractType = "linear_perpetual"
	ContractLinearDated      ContractType = "linear_dated"
	ContractInversePerpetual ContractType = "inverse_perpetual"
	ContractInverseDated     ContractType = "inverse_dated"
)

func (c ContractType) IsInverse() bool {
	return c == ContractInversePerpetual || c == ContractInverseDated
}

func (c ContractType) IsPerpetual() bool {
	return c == ContractLinearPerpetual || c == ContractInversePerpetual
}

// PortfolioType selects the portfolio arithmetic of an account.
type PortfolioType string

const (
	PortfolioSpot   PortfolioType = "spot"
	PortfolioMargin PortfolioType = "margin"
	PortfolioFuture PortfolioType = "future"
)
