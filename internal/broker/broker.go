package broker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"qtrader/internal/schema"
)

var (
	ErrOrderQueueFull  = errors.New("broker order queue full")
	ErrResultQueueFull = errors.New("broker result queue full")
	ErrInvalidStatus   = errors.New("invalid broker status")
)

// Status mirrors the trader's view of the broker.
type Status uint8

const (
	_status_beg Status = iota
	StatusInit
	StatusRunning
	StatusPaused
	StatusStopped
	_status_end
)

func (s Status) IsAvailable() bool {
	return s > _status_beg && s < _status_end
}

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// FillFunc turns one submitted order into its trade results. A fill
// func may split an order into several partial results.
type FillFunc func(t schema.OrderTicket) []schema.TradeResult

// FullFill fills the whole order at its limit price with a
// proportional transaction fee.
func FullFill(feeRate decimal.Decimal) FillFunc {
	return func(t schema.OrderTicket) []schema.TradeResult {
		return []schema.TradeResult{{
			OrderID:        t.OrderID,
			FilledQty:      t.Qty,
			Price:          t.Price,
			TransactionFee: t.Qty.Mul(t.Price).Mul(feeRate),
		}}
	}
}

// Config controls queue capacities and order processing pace.
type Config struct {
	QueueSize int
	OrderRate rate.Limit
	Burst     int
	Fill      FillFunc
	PollEvery time.Duration
}

// Broker is the exchange boundary: orders flow in on one channel,
// results flow out on the other. Its loop advances independently of
// the trader's.
type Broker struct {
	orders  chan schema.OrderTicket
	results chan schema.TradeResult
	status  atomic.Int32
	limiter *rate.Limiter
	fill    FillFunc
	poll    time.Duration
}

// New builds a broker in init status.
func New(cfg Config) *Broker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.OrderRate <= 0 {
		cfg.OrderRate = rate.Limit(20)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.Fill == nil {
		cfg.Fill = FullFill(decimal.Zero)
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 100 * time.Millisecond
	}
	b := &Broker{
		orders:  make(chan schema.OrderTicket, cfg.QueueSize),
		results: make(chan schema.TradeResult, cfg.QueueSize),
		limiter: rate.NewLimiter(cfg.OrderRate, cfg.Burst),
		fill:    cfg.Fill,
		poll:    cfg.PollEvery,
	}
	b.status.Store(int32(StatusInit))
	return b
}

// Status returns the mirrored status.
func (b *Broker) Status() Status {
	return Status(b.status.Load())
}

// SetStatus mirrors a trader-side status change onto the broker.
func (b *Broker) SetStatus(s Status) error {
	if !s.IsAvailable() {
		return ErrInvalidStatus
	}
	b.status.Store(int32(s))
	return nil
}

// SubmitOrder enqueues an order without blocking.
func (b *Broker) SubmitOrder(t schema.OrderTicket) error {
	select {
	case b.orders <- t:
		return nil
	default:
		return ErrOrderQueueFull
	}
}

// PopOrder removes one resting order without blocking. The trader's
// post_close handler drains the channel through it.
func (b *Broker) PopOrder() (schema.OrderTicket, bool) {
	select {
	case t := <-b.orders:
		return t, true
	default:
		return schema.OrderTicket{}, false
	}
}

// PopResult removes one trade result without blocking.
func (b *Broker) PopResult() (schema.TradeResult, bool) {
	select {
	case r := <-b.results:
		return r, true
	default:
		return schema.TradeResult{}, false
	}
}

// Run consumes orders and produces results until the context is
// canceled. It only drains while running; paused and stopped park the
// loop with orders resting in the channel, so the same goroutine
// serves every trading day across the daily stop at session close.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if b.Status() != StatusRunning {
			continue
		}
		b.drainOnce(ctx)
	}
}

func (b *Broker) drainOnce(ctx context.Context) {
	for {
		var t schema.OrderTicket
		select {
		case t = <-b.orders:
		default:
			return
		}
		if err := b.limiter.Wait(ctx); err != nil {
			return
		}
		for _, res := range b.fill(t) {
			select {
			case b.results <- res:
			default:
				logs.Errorf("result queue full, dropping result for order %d", res.OrderID)
			}
		}
	}
}
