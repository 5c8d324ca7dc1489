package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"qtrader/internal/schema"
)

// Books applies trade-order lifecycle rules on top of a Recorder.
// All mutations are driven by the trader's single task consumer, so
// Books itself takes no locks beyond what the Recorder provides.
type Books struct {
	rec Recorder
}

// NewBooks wraps a recorder.
func NewBooks(rec Recorder) *Books {
	return &Books{rec: rec}
}

// OpenAccount creates an account with the given starting cash.
func (b *Books) OpenAccount(userName string, cash decimal.Decimal, now time.Time) (Account, error) {
	a := Account{
		UserName:      userName,
		Cash:          cash,
		AvailableCash: cash,
		CreatedAt:     now,
	}
	if err := b.rec.CreateAccount(&a); err != nil {
		return Account{}, errors.Wrap(err, "create account")
	}
	return a, nil
}

// Account returns the account record.
func (b *Books) Account(id int64) (Account, error) {
	return b.rec.Account(id)
}

// Positions returns all positions of an account.
func (b *Books) Positions(accountID int64) ([]Position, error) {
	return b.rec.PositionsByAccount(accountID)
}

// Orders returns the account's orders in the given statuses, or all
// orders when no status is given.
func (b *Books) Orders(accountID int64, statuses ...schema.OrderStatus) ([]Order, error) {
	return b.rec.OrdersByStatus(accountID, statuses...)
}

// GetOrCreatePosition finds the (symbol, side) position of the account,
// creating an empty one when absent.
func (b *Books) GetOrCreatePosition(accountID int64, symbol string, side schema.PositionSide) (Position, error) {
	if !side.IsAvailable() {
		return Position{}, errors.Errorf("invalid position side: %d", side)
	}
	p, found, err := b.rec.FindPosition(accountID, symbol, side)
	if err != nil {
		return Position{}, errors.Wrap(err, "find position")
	}
	if found {
		return p, nil
	}
	p = Position{AccountID: accountID, Symbol: symbol, Side: side}
	if err := b.rec.CreatePosition(&p); err != nil {
		return Position{}, errors.Wrap(err, "create position")
	}
	return p, nil
}

// RecordOrder persists a parsed order element as a created order.
func (b *Books) RecordOrder(accountID int64, el schema.OrderElement, orderType schema.OrderType, now time.Time) (Order, error) {
	if !el.Direction.IsAvailable() {
		return Order{}, errors.Errorf("invalid order direction: %d", el.Direction)
	}
	if el.Qty.Sign() <= 0 {
		return Order{}, errors.Errorf("order qty must be positive, got %s", el.Qty)
	}
	pos, err := b.GetOrCreatePosition(accountID, el.Symbol, el.Side)
	if err != nil {
		return Order{}, err
	}
	o := Order{
		AccountID: accountID,
		PosID:     pos.ID,
		Symbol:    el.Symbol,
		Direction: el.Direction,
		Type:      orderType,
		Qty:       el.Qty,
		Price:     el.Price,
		Status:    schema.OrderStatusCreated,
		CreatedAt: now,
	}
	if err := b.rec.CreateOrder(&o); err != nil {
		return Order{}, errors.Wrap(err, "create order")
	}
	return o, nil
}

// SubmitOrder moves a created order to submitted. Orders in any other
// status are left untouched. Insufficient available cash or position is
// logged as a warning, matching an exchange that may still fill less.
func (b *Books) SubmitOrder(orderID int64, now time.Time) (Order, error) {
	o, err := b.rec.Order(orderID)
	if err != nil {
		return Order{}, errors.Wrap(ErrUnknownOrder, err.Error())
	}
	if o.Status != schema.OrderStatusCreated {
		return Order{}, errors.Errorf("order %d already submitted, status: %s", orderID, o.Status)
	}
	pos, err := b.rec.Position(o.PosID)
	if err != nil {
		return Order{}, errors.Wrap(ErrUnknownPosition, err.Error())
	}
	if pos.Side == schema.PositionSideShort {
		return Order{}, ErrShortUnsupported
	}
	switch o.Direction {
	case schema.DirectionBuy:
		a, err := b.rec.Account(o.AccountID)
		if err != nil {
			return Order{}, errors.Wrap(ErrUnknownAccount, err.Error())
		}
		if a.AvailableCash.LessThan(o.Qty.Mul(o.Price)) {
			logs.Infof("available cash %s short of order %d notional %s, order may not fully execute",
				a.AvailableCash, o.ID, o.Qty.Mul(o.Price))
		}
	case schema.DirectionSell:
		if pos.AvailableQty.LessThan(o.Qty) {
			logs.Infof("available qty %s short of order %d qty %s, order may not fully execute",
				pos.AvailableQty, o.ID, o.Qty)
		}
	}
	submitted := now
	if err := b.rec.UpdateOrderStatus(o.ID, schema.OrderStatusSubmitted, &submitted); err != nil {
		return Order{}, errors.Wrap(err, "update order status")
	}
	o.Status = schema.OrderStatusSubmitted
	o.SubmittedAt = &submitted
	return o, nil
}

// CancelOrder cancels the unfilled remainder of a submitted or
// partially filled order by recording a cancel result against it.
func (b *Books) CancelOrder(orderID int64, now time.Time) error {
	o, err := b.rec.Order(orderID)
	if err != nil {
		return errors.Wrap(ErrUnknownOrder, err.Error())
	}
	if o.Status != schema.OrderStatusSubmitted && o.Status != schema.OrderStatusPartialFilled {
		return errors.Errorf("order %d in status %s cannot be canceled", orderID, o.Status)
	}
	filled, err := b.filledQty(orderID)
	if err != nil {
		return err
	}
	remaining := o.Qty.Sub(filled)
	if remaining.Sign() <= 0 {
		return errors.Errorf("order %d has no remaining qty to cancel", orderID)
	}
	return b.ProcessResult(schema.TradeResult{
		OrderID:     orderID,
		Price:       o.Price,
		CanceledQty: remaining,
	}, now)
}

// ProcessResult applies one fill or cancel record: it transitions the
// order status, mutates position and cash, and persists the result with
// its pending delivery amount. Settlement is a separate pass
// (ProcessDelivery); this method never triggers it.
func (b *Books) ProcessResult(res schema.TradeResult, now time.Time) error {
	o, err := b.rec.Order(res.OrderID)
	if err != nil {
		return errors.Wrap(ErrUnknownOrder, err.Error())
	}
	switch o.Status {
	case schema.OrderStatusCreated:
		return ErrOrderNotSubmitted
	case schema.OrderStatusFilled, schema.OrderStatusCanceled:
		return ErrOrderFinalized
	}

	filled, err := b.filledQty(o.ID)
	if err != nil {
		return err
	}
	remaining := o.Qty.Sub(filled)

	next := o.Status
	if res.CanceledQty.Sign() > 0 {
		if !res.CanceledQty.Equal(remaining) {
			return errors.Wrap(ErrCancelMismatch, fmt.Sprintf("canceled %s, remaining %s", res.CanceledQty, remaining))
		}
		next = schema.OrderStatusCanceled
	} else {
		switch res.FilledQty.Cmp(remaining) {
		case 1:
			return ErrOverfill
		case 0:
			next = schema.OrderStatusFilled
		case -1:
			next = schema.OrderStatusPartialFilled
		}
	}

	var positionChange, cashChange decimal.Decimal
	switch o.Direction {
	case schema.DirectionBuy:
		positionChange = res.FilledQty
		cashChange = res.FilledQty.Mul(res.Price).Add(res.TransactionFee).Neg()
	case schema.DirectionSell:
		positionChange = res.FilledQty.Neg()
		cashChange = res.FilledQty.Mul(res.Price).Sub(res.TransactionFee)
	default:
		return errors.Errorf("invalid order direction: %d", o.Direction)
	}

	pos, err := b.rec.Position(o.PosID)
	if err != nil {
		return errors.Wrap(ErrUnknownPosition, err.Error())
	}
	a, err := b.rec.Account(o.AccountID)
	if err != nil {
		return errors.Wrap(ErrUnknownAccount, err.Error())
	}
	if pos.AvailableQty.Add(positionChange).Sign() < 0 {
		return errors.Wrap(ErrInsufficient, "position")
	}
	if a.AvailableCash.Add(cashChange).Sign() < 0 {
		return errors.Wrap(ErrInsufficient, "cash")
	}

	deliveryAmount := positionChange
	if o.Direction == schema.DirectionSell {
		deliveryAmount = cashChange
	}
	record := Result{
		OrderID:        o.ID,
		FilledQty:      res.FilledQty,
		Price:          res.Price,
		TransactionFee: res.TransactionFee,
		CanceledQty:    res.CanceledQty,
		DeliveryAmount: deliveryAmount,
		DeliveryStatus: DeliveryPending,
		ExecutedAt:     now,
	}
	if err := b.rec.CreateResult(&record); err != nil {
		return errors.Wrap(err, "create result")
	}

	newQty := pos.Qty.Add(positionChange)
	cost := decimal.Zero
	if !newQty.IsZero() {
		prev := pos.Cost.Mul(pos.Qty)
		additional := positionChange.Mul(res.Price).Add(res.TransactionFee)
		cost = prev.Add(additional).Div(newQty)
	}

	// Buys deduct cash and available cash now but only add owned qty;
	// sells deduct qty and available qty now but only add owned cash.
	// The delivery pass releases the other half after the settlement delay.
	switch o.Direction {
	case schema.DirectionBuy:
		if err := b.rec.UpdateAccountBalance(a.ID, cashChange, cashChange); err != nil {
			return errors.Wrap(err, "update account balance")
		}
		if err := b.rec.UpdatePosition(pos.ID, positionChange, decimal.Zero, &cost); err != nil {
			return errors.Wrap(err, "update position")
		}
	case schema.DirectionSell:
		if err := b.rec.UpdateAccountBalance(a.ID, cashChange, decimal.Zero); err != nil {
			return errors.Wrap(err, "update account balance")
		}
		if err := b.rec.UpdatePosition(pos.ID, positionChange, positionChange, &cost); err != nil {
			return errors.Wrap(err, "update position")
		}
	}
	if err := b.rec.UpdateOrderStatus(o.ID, next, nil); err != nil {
		return errors.Wrap(err, "update order status")
	}
	return nil
}

// ProcessDelivery settles every pending result of the account whose
// execution date is at least the configured period behind now, moving
// the delivery amount into available qty (buys) or available cash
// (sells).
func (b *Books) ProcessDelivery(accountID int64, periods DeliveryPeriods, now time.Time) error {
	pending, err := b.rec.ResultsByDelivery(DeliveryPending)
	if err != nil {
		return errors.Wrap(err, "query pending results")
	}
	for _, res := range pending {
		o, err := b.rec.Order(res.OrderID)
		if err != nil {
			return errors.Wrap(ErrUnknownOrder, err.Error())
		}
		if o.AccountID != accountID {
			continue
		}
		period := periods.Stock
		if o.Direction == schema.DirectionSell {
			period = periods.Cash
		}
		if daysBetween(res.ExecutedAt, now) < period {
			continue
		}
		switch o.Direction {
		case schema.DirectionBuy:
			if err := b.rec.UpdatePosition(o.PosID, decimal.Zero, res.DeliveryAmount, nil); err != nil {
				return errors.Wrap(err, "deliver position")
			}
		case schema.DirectionSell:
			if err := b.rec.UpdateAccountBalance(o.AccountID, decimal.Zero, res.DeliveryAmount); err != nil {
				return errors.Wrap(err, "deliver cash")
			}
		}
		if err := b.rec.SetResultDelivered(res.ID); err != nil {
			return errors.Wrap(err, "mark delivered")
		}
	}
	return nil
}

func (b *Books) filledQty(orderID int64) (decimal.Decimal, error) {
	results, err := b.rec.ResultsByOrder(orderID)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "query results")
	}
	total := decimal.Zero
	for _, r := range results {
		total = total.Add(r.FilledQty)
	}
	return total, nil
}

func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start) / (24 * time.Hour))
}
