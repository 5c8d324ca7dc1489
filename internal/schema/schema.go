package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskName identifies a trader task.
type TaskName string

const (
	TaskStart         TaskName = "start"
	TaskStop          TaskName = "stop"
	TaskSleep         TaskName = "sleep"
	TaskWakeup        TaskName = "wakeup"
	TaskPause         TaskName = "pause"
	TaskResume        TaskName = "resume"
	TaskPreOpen       TaskName = "pre_open"
	TaskOpenMarket    TaskName = "open_market"
	TaskCloseMarket   TaskName = "close_market"
	TaskPostClose     TaskName = "post_close"
	TaskRunStrategy   TaskName = "run_strategy"
	TaskProcessResult TaskName = "process_result"
)

// Direction describes the trading direction of an order.
type Direction uint8

const (
	_direction_beg Direction = iota
	DirectionBuy
	DirectionSell
	_direction_end
)

func (d Direction) IsAvailable() bool {
	return d > _direction_beg && d < _direction_end
}

func (d Direction) String() string {
	switch d {
	case DirectionBuy:
		return "buy"
	case DirectionSell:
		return "sell"
	default:
		return "unknown"
	}
}

// PositionSide long, short
type PositionSide uint8

const (
	_position_side_beg PositionSide = iota
	PositionSideLong
	PositionSideShort
	_position_side_end
)

func (s PositionSide) IsAvailable() bool {
	return s > _position_side_beg && s < _position_side_end
}

func (s PositionSide) String() string {
	switch s {
	case PositionSideLong:
		return "long"
	case PositionSideShort:
		return "short"
	default:
		return "unknown"
	}
}

// OrderType market, limit
type OrderType uint8

const (
	_order_type_beg OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	_order_type_end
)

func (t OrderType) IsAvailable() bool {
	return t > _order_type_beg && t < _order_type_end
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "market"
	case OrderTypeLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// OrderStatus tracks the lifecycle of a trade order in the ledger.
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusCreated
	OrderStatusSubmitted
	OrderStatusPartialFilled
	OrderStatusFilled
	OrderStatusCanceled
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusCreated:
		return "created"
	case OrderStatusSubmitted:
		return "submitted"
	case OrderStatusPartialFilled:
		return "partial-filled"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// OrderTicket travels on the broker's order channel.
type OrderTicket struct {
	OrderID     int64
	PosID       int64
	Symbol      string
	Direction   Direction
	Type        OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal
	SubmittedAt time.Time
	Status      OrderStatus
}

// TradeResult travels on the broker's result channel. One order may
// produce several results (partial fills, then a final fill or cancel).
type TradeResult struct {
	OrderID        int64
	FilledQty      decimal.Decimal
	Price          decimal.Decimal
	TransactionFee decimal.Decimal
	CanceledQty    decimal.Decimal
}

// OrderElement is one parsed trade-signal element, ready to be recorded
// and submitted as an order.
type OrderElement struct {
	Symbol    string
	Side      PositionSide
	Direction Direction
	Qty       decimal.Decimal
	Price     decimal.Decimal
}
