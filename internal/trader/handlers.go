package trader

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"qtrader/internal/broker"
	"qtrader/internal/operator"
	"qtrader/internal/schema"
)

const preOpenRetries = 3

func (t *Trader) handleStart() error {
	if err := t.setStatus(StatusSleeping); err != nil {
		return err
	}
	t.post("trader started")
	return t.cfg.Broker.SetStatus(broker.StatusRunning)
}

func (t *Trader) handleStop() error {
	if err := t.setStatus(StatusStopped); err != nil {
		return err
	}
	t.post("trader stopped")
	return t.cfg.Broker.SetStatus(broker.StatusStopped)
}

func (t *Trader) handleSleep() error {
	if err := t.setStatus(StatusSleeping); err != nil {
		return err
	}
	t.post("trader going to sleep")
	return t.cfg.Broker.SetStatus(broker.StatusPaused)
}

func (t *Trader) handleWakeup() error {
	if err := t.setStatus(StatusRunning); err != nil {
		return err
	}
	t.post("trader woke up")
	return t.cfg.Broker.SetStatus(broker.StatusRunning)
}

func (t *Trader) handlePause() error {
	if err := t.setStatus(StatusPaused); err != nil {
		return err
	}
	t.post("trader paused")
	return t.cfg.Broker.SetStatus(broker.StatusPaused)
}

// handleResume returns to the status held before the pause.
func (t *Trader) handleResume() error {
	restored := t.restoreStatus()
	t.post("trader resumed to %s", restored)
	if restored == StatusRunning {
		return t.cfg.Broker.SetStatus(broker.StatusRunning)
	}
	return t.cfg.Broker.SetStatus(broker.StatusPaused)
}

// handlePreOpen connects the market data source ahead of the open,
// retrying a few times before giving up for the day.
func (t *Trader) handlePreOpen(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= preOpenRetries; attempt++ {
		if err = t.cfg.Source.Connect(ctx); err == nil {
			t.post("market data source connected")
			return nil
		}
		logs.Errorf("pre open connect attempt %d: %+v", attempt, err)
	}
	return errors.Wrap(err, "connect market data source")
}

// handleOpenMarket flips the market flag and wakes the trader in the
// same pass so the first strategy tick finds it running.
func (t *Trader) handleOpenMarket(ctx context.Context) error {
	t.setMarketOpen(true)
	t.post("market opened")
	t.runTask(ctx, Task{Name: schema.TaskWakeup})
	return nil
}

func (t *Trader) handleCloseMarket(ctx context.Context) error {
	t.setMarketOpen(false)
	t.post("market closed")
	t.runTask(ctx, Task{Name: schema.TaskSleep})
	return nil
}

// handlePostClose cancels everything still in flight after the close:
// orders resting in the broker queue first, then every order the books
// still hold as submitted or partially filled, followed by one
// settlement pass.
func (t *Trader) handlePostClose() error {
	if t.isMarketOpen() {
		t.post("post close skipped, market still open")
		return nil
	}
	now := t.now().In(t.cfg.Location)

	if err := t.cfg.Broker.SetStatus(broker.StatusStopped); err != nil {
		return errors.Wrap(err, "stop broker")
	}

	canceled := 0
	for {
		ticket, ok := t.cfg.Broker.PopOrder()
		if !ok {
			break
		}
		if err := t.cfg.Books.CancelOrder(ticket.OrderID, now); err != nil {
			logs.Errorf("cancel resting order %d: %+v", ticket.OrderID, err)
			continue
		}
		canceled++
	}

	open, err := t.cfg.Books.Orders(t.cfg.AccountID,
		schema.OrderStatusSubmitted, schema.OrderStatusPartialFilled)
	if err != nil {
		return errors.Wrap(err, "query open orders")
	}
	for _, o := range open {
		if err := t.cfg.Books.CancelOrder(o.ID, now); err != nil {
			logs.Errorf("cancel open order %d: %+v", o.ID, err)
			continue
		}
		canceled++
	}

	if err := t.cfg.Books.ProcessDelivery(t.cfg.AccountID, t.cfg.Delivery, now); err != nil {
		return errors.Wrap(err, "post close delivery")
	}
	t.post("post close done, %d orders canceled", canceled)
	return nil
}

// handleRunStrategy runs the selected strategies and submits the
// resulting orders. A single bad order does not stop the batch.
func (t *Trader) handleRunStrategy(ctx context.Context, strategyIDs []string) error {
	if !t.isMarketOpen() {
		t.post("run strategy skipped, market not open")
		return nil
	}
	now := t.now().In(t.cfg.Location)

	lookback := t.cfg.Operator.MaxLookback(strategyIDs)
	history, err := t.cfg.Source.Recent(ctx, t.cfg.AssetPool, lookback)
	if err != nil {
		return errors.Wrap(err, "fetch price history")
	}
	prices, err := t.cfg.Source.Prices(ctx, t.cfg.AssetPool)
	if err != nil {
		return errors.Wrap(err, "fetch prices")
	}
	signal, err := t.cfg.Operator.CreateSignal(strategyIDs, history)
	if err != nil {
		return errors.Wrap(err, "create signal")
	}

	account, err := t.cfg.Books.Account(t.cfg.AccountID)
	if err != nil {
		return errors.Wrap(err, "load account")
	}
	positions, err := t.cfg.Books.Positions(t.cfg.AccountID)
	if err != nil {
		return errors.Wrap(err, "load positions")
	}
	availQty := make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		if p.Side == schema.PositionSideLong {
			availQty[p.Symbol] = p.AvailableQty
		}
	}
	elements := t.cfg.Operator.ParseSignal(signal, prices, operator.Holdings{
		AvailableCash: account.AvailableCash,
		AvailableQty:  availQty,
	})

	submitted := 0
	totalQty := decimal.Zero
	for _, el := range elements {
		o, err := t.cfg.Books.RecordOrder(t.cfg.AccountID, el, schema.OrderTypeLimit, now)
		if err != nil {
			logs.Errorf("record order for %s: %+v", el.Symbol, err)
			continue
		}
		o, err = t.cfg.Books.SubmitOrder(o.ID, now)
		if err != nil {
			logs.Errorf("submit order %d: %+v", o.ID, err)
			continue
		}
		ticket := schema.OrderTicket{
			OrderID:   o.ID,
			PosID:     o.PosID,
			Symbol:    o.Symbol,
			Direction: o.Direction,
			Type:      o.Type,
			Qty:       o.Qty,
			Price:     o.Price,
			Status:    o.Status,
		}
		if o.SubmittedAt != nil {
			ticket.SubmittedAt = *o.SubmittedAt
		}
		if err := t.cfg.Broker.SubmitOrder(ticket); err != nil {
			logs.Errorf("push order %d to broker: %+v", o.ID, err)
			if cancelErr := t.cfg.Books.CancelOrder(o.ID, now); cancelErr != nil {
				logs.Errorf("cancel unpushed order %d: %+v", o.ID, cancelErr)
			}
			continue
		}
		submitted++
		totalQty = totalQty.Add(o.Qty)
	}
	t.post("run strategy submitted %d orders, total qty %s", submitted, totalQty)
	return nil
}

// handleProcessResult applies one trade result and runs exactly one
// settlement pass for it.
func (t *Trader) handleProcessResult(task Task) error {
	if task.Result == nil {
		return errors.New("process_result task without result")
	}
	now := t.now().In(t.cfg.Location)
	start := time.Now()
	if err := t.cfg.Books.ProcessResult(*task.Result, now); err != nil {
		return errors.Wrap(err, "process result")
	}
	if err := t.cfg.Books.ProcessDelivery(t.cfg.AccountID, t.cfg.Delivery, now); err != nil {
		return errors.Wrap(err, "process delivery")
	}
	t.cfg.Metrics.ObserveResult(time.Since(start))
	t.post("result for order %d processed", task.Result.OrderID)
	return nil
}
