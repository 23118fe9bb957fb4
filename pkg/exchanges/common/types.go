package common

import "time"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderState normalizes exchange order states into a small set.
type OrderState string

const (
	StateLive            OrderState = "live"
	StatePartiallyFilled OrderState = "partially_filled"
	StateFilled          OrderState = "filled"
	StateCanceled        OrderState = "canceled"
	StateRejected        OrderState = "rejected"
)

// Terminal reports whether no further fills can happen.
func (s OrderState) Terminal() bool {
	return s == StateFilled || s == StateCanceled || s == StateRejected
}

// OrderRequest captures a market entry with exchange-hosted take-profit/stop-loss.
type OrderRequest struct {
	InstID        string
	TdMode        string // cross / isolated
	Side          Side
	PosSide       string // long/short in hedge mode, empty in net mode
	Qty           float64
	ClientOrderID string
	TakeProfitPx  float64 // trigger price, 0 = none
	StopLossPx    float64 // trigger price, 0 = none
	ReduceOnly    bool
}

// OrderAck is the per-order part of a placement response.
type OrderAck struct {
	ClientOrderID   string
	ExchangeOrderID string
	Code            string // "0" on success
	Msg             string
}

// OK reports whether the exchange accepted the order.
func (a OrderAck) OK() bool {
	return a.Code == "0"
}

// OrderStatus is the authoritative view of an order returned by a query.
type OrderStatus struct {
	ClientOrderID   string
	ExchangeOrderID string
	InstID          string
	Side            Side
	State           OrderState
	Qty             float64
	FilledQty       float64
	AvgPrice        float64
	UpdatedAt       time.Time
	Source          string // live, history or archive
}

// OrderStateEvent is a normalized order push from the private stream.
type OrderStateEvent struct {
	ClientOrderID   string
	ExchangeOrderID string
	InstID          string
	State           OrderState
	FilledQty       float64 // accumulated
	AvgPrice        float64
	Timestamp       time.Time
}

// EquityUpdate is a normalized account push.
type EquityUpdate struct {
	Ccy         string
	TotalEquity float64
	Available   float64
	Timestamp   time.Time
}

// PositionUpdate is a normalized position push.
type PositionUpdate struct {
	InstID    string
	PosSide   string
	Qty       float64 // signed in net mode
	AvgPrice  float64
	Timestamp time.Time
}

// StreamEvent carries exactly one normalized private-stream payload, in arrival order.
type StreamEvent struct {
	Order    *OrderStateEvent
	Equity   *EquityUpdate
	Position *PositionUpdate
}

// Instrument holds contract specification needed for sizing.
type Instrument struct {
	InstID        string
	ContractValue float64
	LotSize       float64
	MinSize       float64
	TickSize      float64
}

// Candle is one OHLCV bar. Confirmed is true once the bar has closed.
type Candle struct {
	InstID    string
	Start     time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Confirmed bool
}
