package ledger

import (
	stderrors "errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"

	"qtrader/internal/schema"
)

// GormRecorder persists ledger records through gorm (postgres in
// production, see pkg/conn).
type GormRecorder struct {
	db *gorm.DB
}

var _ Recorder = (*GormRecorder)(nil)

// NewGormRecorder migrates the schema and returns a recorder.
func NewGormRecorder(db *gorm.DB) (*GormRecorder, error) {
	if db == nil {
		return nil, errors.New("nil gorm db")
	}
	if err := db.AutoMigrate(&Account{}, &Position{}, &Order{}, &Result{}); err != nil {
		return nil, errors.Wrap(err, "migrate ledger schema")
	}
	return &GormRecorder{db: db}, nil
}

func (g *GormRecorder) CreateAccount(a *Account) error {
	return g.db.Create(a).Error
}

func (g *GormRecorder) Account(id int64) (Account, error) {
	var a Account
	if err := g.db.First(&a, id).Error; err != nil {
		return Account{}, err
	}
	return a, nil
}

func (g *GormRecorder) UpdateAccountBalance(id int64, cashChange, availableChange decimal.Decimal) error {
	return g.db.Model(&Account{}).Where("id = ?", id).Updates(map[string]any{
		"cash":           gorm.Expr("cash + ?", cashChange),
		"available_cash": gorm.Expr("available_cash + ?", availableChange),
	}).Error
}

func (g *GormRecorder) CreatePosition(p *Position) error {
	return g.db.Create(p).Error
}

func (g *GormRecorder) Position(id int64) (Position, error) {
	var p Position
	if err := g.db.First(&p, id).Error; err != nil {
		return Position{}, err
	}
	return p, nil
}

func (g *GormRecorder) FindPosition(accountID int64, symbol string, side schema.PositionSide) (Position, bool, error) {
	var p Position
	err := g.db.Where("account_id = ? AND symbol = ? AND side = ?", accountID, symbol, side).First(&p).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, err
	}
	return p, true, nil
}

func (g *GormRecorder) PositionsByAccount(accountID int64) ([]Position, error) {
	var out []Position
	if err := g.db.Where("account_id = ?", accountID).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GormRecorder) UpdatePosition(id int64, qtyChange, availableChange decimal.Decimal, cost *decimal.Decimal) error {
	updates := map[string]any{
		"qty":           gorm.Expr("qty + ?", qtyChange),
		"available_qty": gorm.Expr("available_qty + ?", availableChange),
	}
	if cost != nil {
		updates["cost"] = *cost
	}
	return g.db.Model(&Position{}).Where("id = ?", id).Updates(updates).Error
}

func (g *GormRecorder) CreateOrder(o *Order) error {
	return g.db.Create(o).Error
}

func (g *GormRecorder) Order(id int64) (Order, error) {
	var o Order
	if err := g.db.First(&o, id).Error; err != nil {
		return Order{}, err
	}
	return o, nil
}

func (g *GormRecorder) UpdateOrderStatus(id int64, status schema.OrderStatus, submittedAt *time.Time) error {
	updates := map[string]any{"status": status}
	if submittedAt != nil {
		updates["submitted_at"] = *submittedAt
	}
	return g.db.Model(&Order{}).Where("id = ?", id).Updates(updates).Error
}

func (g *GormRecorder) OrdersByStatus(accountID int64, statuses ...schema.OrderStatus) ([]Order, error) {
	q := g.db.Where("account_id = ?", accountID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var out []Order
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GormRecorder) CreateResult(r *Result) error {
	return g.db.Create(r).Error
}

func (g *GormRecorder) ResultsByOrder(orderID int64) ([]Result, error) {
	var out []Result
	if err := g.db.Where("order_id = ?", orderID).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GormRecorder) ResultsByDelivery(status DeliveryStatus) ([]Result, error) {
	var out []Result
	if err := g.db.Where("delivery_status = ?", status).Order("id").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GormRecorder) SetResultDelivered(id int64) error {
	return g.db.Model(&Result{}).Where("id = ?", id).
		Update("delivery_status", DeliveryDelivered).Error
}
