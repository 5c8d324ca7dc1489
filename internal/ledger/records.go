package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"qtrader/internal/schema"
)

var (
	ErrUnknownAccount    = errors.New("account not found")
	ErrUnknownPosition   = errors.New("position not found")
	ErrUnknownOrder      = errors.New("order not found")
	ErrOrderNotSubmitted = errors.New("order not submitted yet")
	ErrOrderFinalized    = errors.New("order already filled or canceled")
	ErrOverfill          = errors.New("filled qty exceeds remaining qty")
	ErrCancelMismatch    = errors.New("canceled qty does not match remaining qty")
	ErrInsufficient      = errors.New("insufficient available cash or position")
	ErrShortUnsupported  = errors.New("short position orders are not supported")
)

// DeliveryStatus marks whether a trade result's proceeds have been
// moved into the available balances.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "ND"
	DeliveryDelivered DeliveryStatus = "DL"
)

// DeliveryPeriods are the settlement delays in calendar days.
type DeliveryPeriods struct {
	Cash  int
	Stock int
}

// Account holds cash totals for one trading account.
type Account struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	UserName      string          `gorm:"size:64"`
	Cash          decimal.Decimal `gorm:"type:numeric"`
	AvailableCash decimal.Decimal `gorm:"type:numeric"`
	CreatedAt     time.Time
}

// Position holds per-symbol quantity and availability.
type Position struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	AccountID    int64 `gorm:"index"`
	Symbol       string
	Side         schema.PositionSide
	Qty          decimal.Decimal `gorm:"type:numeric"`
	AvailableQty decimal.Decimal `gorm:"type:numeric"`
	Cost         decimal.Decimal `gorm:"type:numeric"`
}

// Order is a persisted trade order record.
type Order struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	AccountID   int64 `gorm:"index"`
	PosID       int64
	Symbol      string
	Direction   schema.Direction
	Type        schema.OrderType
	Qty         decimal.Decimal `gorm:"type:numeric"`
	Price       decimal.Decimal `gorm:"type:numeric"`
	Status      schema.OrderStatus
	SubmittedAt *time.Time
	CreatedAt   time.Time
}

// Result is one persisted trade result (fill or cancel) for an order.
type Result struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	OrderID        int64           `gorm:"index"`
	FilledQty      decimal.Decimal `gorm:"type:numeric"`
	Price          decimal.Decimal `gorm:"type:numeric"`
	TransactionFee decimal.Decimal `gorm:"type:numeric"`
	CanceledQty    decimal.Decimal `gorm:"type:numeric"`
	DeliveryAmount decimal.Decimal `gorm:"type:numeric"`
	DeliveryStatus DeliveryStatus  `gorm:"size:2"`
	ExecutedAt     time.Time
}

// Recorder persists ledger records. Each call is assumed atomic.
type Recorder interface {
	CreateAccount(a *Account) error
	Account(id int64) (Account, error)
	// UpdateAccountBalance applies signed deltas to cash and available cash.
	UpdateAccountBalance(id int64, cashChange, availableChange decimal.Decimal) error

	CreatePosition(p *Position) error
	Position(id int64) (Position, error)
	FindPosition(accountID int64, symbol string, side schema.PositionSide) (Position, bool, error)
	PositionsByAccount(accountID int64) ([]Position, error)
	// UpdatePosition applies signed deltas; a non-nil cost replaces the cost basis.
	UpdatePosition(id int64, qtyChange, availableChange decimal.Decimal, cost *decimal.Decimal) error

	CreateOrder(o *Order) error
	Order(id int64) (Order, error)
	UpdateOrderStatus(id int64, status schema.OrderStatus, submittedAt *time.Time) error
	OrdersByStatus(accountID int64, statuses ...schema.OrderStatus) ([]Order, error)

	CreateResult(r *Result) error
	ResultsByOrder(orderID int64) ([]Result, error)
	ResultsByDelivery(status DeliveryStatus) ([]Result, error)
	SetResultDelivered(id int64) error
}
