package common

import (
	"math"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the order kinds used by the exit plan.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIALLY_FILLED"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent to be sent to the exchange.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Qty           float64
	Price         float64 // required for LIMIT
	StopPrice     float64 // required for STOP_MARKET
	TimeInForce   TimeInForce
	ClientOrderID string
	ReduceOnly    bool
	ClosePosition bool // STOP_MARKET that flattens the whole position
}

// Order is the exchange's view of an order, also kept locally in the
// engine's registry after placement.
type Order struct {
	Symbol          string
	ClientOrderID   string
	ExchangeOrderID string
	Side            Side
	Type            OrderType
	Price           float64
	StopPrice       float64
	Qty             float64
	ExecutedQty     float64
	ReduceOnly      bool
	ClosePosition   bool
	TimeInForce     TimeInForce
	Status          OrderStatus
	CreatedAt       time.Time
}

// Position is a snapshot of an open futures position. Amount is signed:
// positive for long, negative for short. A flat position is represented
// by absence (nil), never by a zero amount.
type Position struct {
	Symbol         string
	EntryPrice     float64
	Amount         float64
	BreakEvenPrice float64
	Leverage       int
}

// Long reports whether the position is long.
func (p Position) Long() bool { return p.Amount > 0 }

// Quantity returns the unsigned position size.
func (p Position) Quantity() float64 { return math.Abs(p.Amount) }

// CloseSide returns the side that reduces the position.
func (p Position) CloseSide() Side {
	if p.Long() {
		return SideSell
	}
	return SideBuy
}
