package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"qtrader/internal/agenda"
	"qtrader/internal/broker"
	"qtrader/internal/datasource"
	"qtrader/internal/ledger"
	"qtrader/internal/obs"
	"qtrader/internal/operator"
	"qtrader/internal/schema"
)

// Config wires the trader's collaborators and market parameters.
type Config struct {
	Session   agenda.Session
	Calendar  *agenda.Calendar
	Location  *time.Location
	Delivery  ledger.DeliveryPeriods
	AssetPool []string
	AccountID int64

	TradingInterval time.Duration
	IdleInterval    time.Duration

	Broker   *broker.Broker
	Books    *ledger.Books
	Source   datasource.Source
	Operator *operator.Operator
	Messages *MessageLog
	Metrics  *obs.Metrics
}

// Trader owns the task queue and the daily agenda, and is the single
// consumer of both. All status transitions happen on its loop
// goroutine; concurrent callers only push tasks.
type Trader struct {
	cfg Config

	mu     sync.RWMutex
	status Status
	prev   Status

	queue      *Queue
	agenda     []agenda.Entry
	agendaDay  string
	tradeDay   bool
	marketOpen bool

	tradingNS atomic.Int64
	idleNS    atomic.Int64

	now func() time.Time
}

// New builds a stopped trader.
func New(cfg Config) *Trader {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Messages == nil {
		cfg.Messages = NewMessageLog(obs.NewSequence(0))
	}
	if cfg.TradingInterval <= 0 {
		cfg.TradingInterval = 100 * time.Millisecond
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Second
	}
	t := &Trader{
		cfg:    cfg,
		status: StatusStopped,
		prev:   StatusStopped,
		queue:  NewQueue(),
		now:    time.Now,
	}
	t.tradingNS.Store(int64(cfg.TradingInterval))
	t.idleNS.Store(int64(cfg.IdleInterval))
	return t
}

// Status returns the current lifecycle status.
func (t *Trader) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Messages exposes the trader's message log.
func (t *Trader) Messages() *MessageLog {
	return t.cfg.Messages
}

// Agenda returns a copy of the remaining agenda entries.
func (t *Trader) Agenda() []agenda.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]agenda.Entry(nil), t.agenda...)
}

// UpdateIntervals swaps the loop pacing, typically on a config reload.
func (t *Trader) UpdateIntervals(trading, idle time.Duration) {
	if trading > 0 {
		t.tradingNS.Store(int64(trading))
	}
	if idle > 0 {
		t.idleNS.Store(int64(idle))
	}
}

// AddTask validates the task name and queues the task. The status
// whitelist is checked at execution time, not here.
func (t *Trader) AddTask(task Task) error {
	if _, ok := knownTasks[task.Name]; !ok {
		t.cfg.Metrics.IncUnknownDrop()
		return ErrUnknownTask
	}
	t.queue.Push(task)
	return nil
}

// RunTask executes a task immediately on the caller's goroutine,
// bypassing both the queue and the status whitelist.
func (t *Trader) RunTask(ctx context.Context, task Task) error {
	if _, ok := knownTasks[task.Name]; !ok {
		t.cfg.Metrics.IncUnknownDrop()
		return ErrUnknownTask
	}
	t.runTask(ctx, task)
	return nil
}

// setStatus records the previous status on every transition so resume
// can restore exactly one level back.
func (t *Trader) setStatus(next Status) error {
	if !next.IsAvailable() {
		return ErrInvalidStatus
	}
	t.mu.Lock()
	t.prev = t.status
	t.status = next
	t.mu.Unlock()
	return nil
}

// restoreStatus swaps back to the remembered previous status and
// returns it.
func (t *Trader) restoreStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status, t.prev = t.prev, t.status
	return t.status
}

func (t *Trader) post(format string, args ...any) {
	t.cfg.Messages.Post(t.now().In(t.cfg.Location), t.Status(), format, args...)
}

// Run drives the trader until it is stopped or the context is
// canceled. Entering the loop performs the start transition, so the
// trader boots into sleeping. One iteration executes at most one
// task; with an empty queue it promotes due agenda entries and polls
// the broker instead.
func (t *Trader) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("trader loop panic: %v", r)
		}
	}()
	if t.Status() == StatusStopped {
		t.runTask(ctx, Task{Name: schema.TaskStart})
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if t.Status() == StatusStopped {
			return
		}
		if task, ok := t.queue.TryPop(); ok {
			t.execute(ctx, task)
			continue
		}
		t.rollAgenda()
		t.promoteAgenda()
		t.pollBroker()

		select {
		case <-ctx.Done():
			return
		case <-time.After(t.loopInterval()):
		}
	}
}

// loopInterval picks the iteration sleep. Trading days run tight so
// session boundaries fire on time even outside market hours; other
// days idle.
func (t *Trader) loopInterval() time.Duration {
	if t.isTradeDay() {
		return time.Duration(t.tradingNS.Load())
	}
	return time.Duration(t.idleNS.Load())
}

// execute applies the status whitelist and dispatches one task.
func (t *Trader) execute(ctx context.Context, task Task) {
	status := t.Status()
	if !allowed(status, task.Name) {
		t.cfg.Metrics.IncWhitelistDrop()
		t.post("task %s rejected in status %s", task.Name, status)
		return
	}
	t.runTask(ctx, task)
}

// runTask dispatches a task to its handler, bypassing the whitelist.
// Session boundary handlers use it to chain follow-up tasks.
func (t *Trader) runTask(ctx context.Context, task Task) {
	start := time.Now()
	var err error
	switch task.Name {
	case schema.TaskStart:
		err = t.handleStart()
	case schema.TaskStop:
		err = t.handleStop()
	case schema.TaskSleep:
		err = t.handleSleep()
	case schema.TaskWakeup:
		err = t.handleWakeup()
	case schema.TaskPause:
		err = t.handlePause()
	case schema.TaskResume:
		err = t.handleResume()
	case schema.TaskPreOpen:
		err = t.handlePreOpen(ctx)
	case schema.TaskOpenMarket:
		err = t.handleOpenMarket(ctx)
	case schema.TaskCloseMarket:
		err = t.handleCloseMarket(ctx)
	case schema.TaskPostClose:
		err = t.handlePostClose()
	case schema.TaskRunStrategy:
		err = t.handleRunStrategy(ctx, task.StrategyIDs)
	case schema.TaskProcessResult:
		err = t.handleProcessResult(task)
	default:
		err = ErrUnknownTask
	}
	if err != nil {
		t.cfg.Metrics.IncHandlerError()
		logs.Errorf("task %s failed: %+v", task.Name, err)
		t.post("task %s failed: %v", task.Name, err)
	}
	t.cfg.Metrics.ObserveTask(task.Name, time.Since(start))
}

// rollAgenda rebuilds the agenda when the calendar date changes,
// pruning entries already past on a late start. Non-trading days get
// an empty agenda.
func (t *Trader) rollAgenda() {
	now := t.now().In(t.cfg.Location)
	day := now.Format("2006-01-02")
	if day == t.agendaDay {
		return
	}
	trading := t.cfg.Calendar.IsTradeDay(now)
	t.mu.Lock()
	t.agendaDay = day
	t.agenda = nil
	t.tradeDay = trading
	t.mu.Unlock()

	if !trading {
		t.post("%s is not a trading day, agenda empty", day)
		return
	}
	entries, err := agenda.Build(t.cfg.Operator.Schedules(), t.cfg.Session)
	if err != nil {
		logs.Errorf("build agenda: %+v", err)
		return
	}
	entries = agenda.Prune(entries, agenda.ClockOf(now), t.cfg.Session)
	t.mu.Lock()
	t.agenda = entries
	t.mu.Unlock()
	t.cfg.Metrics.IncAgendaRebuild()
	t.post("agenda rebuilt for %s with %d entries", day, len(entries))
}

// promoteAgenda queues every due agenda entry. A paused trader leaves
// the agenda untouched so nothing fires while operators intervene.
func (t *Trader) promoteAgenda() {
	if t.Status() == StatusPaused {
		return
	}
	clock := agenda.ClockOf(t.now().In(t.cfg.Location))
	for {
		t.mu.Lock()
		if len(t.agenda) == 0 || t.agenda[0].At > clock {
			t.mu.Unlock()
			return
		}
		entry := t.agenda[0]
		t.agenda = t.agenda[1:]
		t.mu.Unlock()
		t.queue.Push(Task{Name: entry.Task, StrategyIDs: entry.StrategyIDs})
	}
}

// pollBroker converts available trade results into process_result
// tasks.
func (t *Trader) pollBroker() {
	for {
		res, ok := t.cfg.Broker.PopResult()
		if !ok {
			return
		}
		r := res
		t.queue.Push(Task{Name: schema.TaskProcessResult, Result: &r})
	}
}

func (t *Trader) isTradeDay() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tradeDay
}

func (t *Trader) isMarketOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.marketOpen
}

func (t *Trader) setMarketOpen(open bool) {
	t.mu.Lock()
	t.marketOpen = open
	t.mu.Unlock()
}
