package trader

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/agenda"
	"qtrader/internal/broker"
	"qtrader/internal/datasource"
	"qtrader/internal/ledger"
	"qtrader/internal/obs"
	"qtrader/internal/operator"
	"qtrader/internal/schema"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type fixedStrategy struct {
	id     string
	freq   time.Duration
	back   int
	signal map[string]decimal.Decimal
}

func (s *fixedStrategy) ID() string             { return s.id }
func (s *fixedStrategy) RunFreq() time.Duration { return s.freq }
func (s *fixedStrategy) Lookback() int          { return s.back }
func (s *fixedStrategy) Signal(map[string][]decimal.Decimal) map[string]decimal.Decimal {
	return s.signal
}

type fixture struct {
	tr      *Trader
	books   *ledger.Books
	brk     *broker.Broker
	src     *datasource.Memory
	metrics *obs.Metrics
	account ledger.Account
	nowAt   time.Time
}

func testSession(t *testing.T) agenda.Session {
	parse := func(s string) agenda.Clock {
		c, err := agenda.ParseClock(s)
		require.NoError(t, err)
		return c
	}
	return agenda.Session{
		MorningOpen:    parse("09:30"),
		MorningClose:   parse("11:30"),
		AfternoonOpen:  parse("13:00"),
		AfternoonClose: parse("15:30"),
		Offset:         5 * time.Minute,
	}
}

// 2026-03-02 is a Monday
func newFixture(t *testing.T, signal map[string]decimal.Decimal) *fixture {
	t.Helper()
	ctx := context.Background()

	books := ledger.NewBooks(ledger.NewMemoryRecorder())
	nowAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	account, err := books.OpenAccount("test", d(100000), nowAt)
	require.NoError(t, err)

	brk := broker.New(broker.Config{})
	src := datasource.NewMemory()
	require.NoError(t, src.Connect(ctx))
	for i := 0; i < 5; i++ {
		src.Append("000001", d(10))
	}

	op, err := operator.New(&fixedStrategy{
		id: "fixed", freq: 30 * time.Minute, back: 3, signal: signal,
	})
	require.NoError(t, err)

	cal, err := agenda.NewCalendar(nil)
	require.NoError(t, err)

	f := &fixture{books: books, brk: brk, src: src, metrics: obs.NewMetrics(), account: account, nowAt: nowAt}
	f.tr = New(Config{
		Session:   testSession(t),
		Calendar:  cal,
		Location:  time.UTC,
		AssetPool: []string{"000001"},
		AccountID: account.ID,
		Broker:    brk,
		Books:     books,
		Source:    src,
		Operator:  op,
		Metrics:   f.metrics,
	})
	f.tr.now = func() time.Time { return f.nowAt }
	return f
}

func (f *fixture) exec(name schema.TaskName) {
	f.tr.execute(context.Background(), Task{Name: name})
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Len())
	q.Push(Task{Name: schema.TaskStart})
	q.Push(Task{Name: schema.TaskStop})

	task, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, schema.TaskStart, task.Name)
	task, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, schema.TaskStop, task.Name)
	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestAddTaskRejectsUnknownName(t *testing.T) {
	f := newFixture(t, nil)
	err := f.tr.AddTask(Task{Name: schema.TaskName("reboot")})
	assert.ErrorIs(t, err, ErrUnknownTask)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().UnknownDrops)

	require.NoError(t, f.tr.AddTask(Task{Name: schema.TaskStart}))
	assert.Equal(t, 1, f.tr.queue.Len())
}

func TestStartAndStop(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, StatusStopped, f.tr.Status())

	f.exec(schema.TaskStart)
	assert.Equal(t, StatusSleeping, f.tr.Status())
	assert.Equal(t, broker.StatusRunning, f.brk.Status())

	f.exec(schema.TaskStop)
	assert.Equal(t, StatusStopped, f.tr.Status())
	assert.Equal(t, broker.StatusStopped, f.brk.Status())
}

func TestWhitelistDiscardsTask(t *testing.T) {
	f := newFixture(t, nil)

	// a stopped trader accepts nothing but start
	f.exec(schema.TaskWakeup)
	assert.Equal(t, StatusStopped, f.tr.Status())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().WhitelistDrops)

	msgs := f.tr.Messages().Drain()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1].Text, "rejected")
}

func TestSleepWakeupMirrorsBroker(t *testing.T) {
	f := newFixture(t, nil)
	f.exec(schema.TaskStart)

	f.exec(schema.TaskWakeup)
	assert.Equal(t, StatusRunning, f.tr.Status())
	assert.Equal(t, broker.StatusRunning, f.brk.Status())

	f.exec(schema.TaskSleep)
	assert.Equal(t, StatusSleeping, f.tr.Status())
	assert.Equal(t, broker.StatusPaused, f.brk.Status())
}

func TestResumeRestoresPreviousStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.exec(schema.TaskStart)
	f.exec(schema.TaskWakeup)

	f.exec(schema.TaskPause)
	assert.Equal(t, StatusPaused, f.tr.Status())
	assert.Equal(t, broker.StatusPaused, f.brk.Status())

	f.exec(schema.TaskResume)
	assert.Equal(t, StatusRunning, f.tr.Status())
	assert.Equal(t, broker.StatusRunning, f.brk.Status())
}

func TestPauseWhileSleeping(t *testing.T) {
	f := newFixture(t, nil)
	f.exec(schema.TaskStart)
	f.exec(schema.TaskPause)
	assert.Equal(t, StatusPaused, f.tr.Status())

	// a paused trader rejects the scheduled sleep
	f.exec(schema.TaskSleep)
	assert.Equal(t, StatusPaused, f.tr.Status())
	assert.Equal(t, uint64(1), f.metrics.Snapshot().WhitelistDrops)

	f.exec(schema.TaskResume)
	assert.Equal(t, StatusSleeping, f.tr.Status())
	assert.Equal(t, broker.StatusPaused, f.brk.Status())
}

func TestOpenAndCloseMarketChainStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.exec(schema.TaskStart)

	f.exec(schema.TaskOpenMarket)
	assert.True(t, f.tr.isMarketOpen())
	assert.Equal(t, StatusRunning, f.tr.Status())

	f.exec(schema.TaskCloseMarket)
	assert.False(t, f.tr.isMarketOpen())
	assert.Equal(t, StatusSleeping, f.tr.Status())
}

func TestRunStrategySubmitsOrders(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"000001": d(100)})
	f.exec(schema.TaskStart)
	f.exec(schema.TaskOpenMarket)

	f.exec(schema.TaskRunStrategy)

	orders, err := f.books.Orders(f.account.ID, schema.OrderStatusSubmitted)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Qty.Equal(d(100)))
	assert.Equal(t, schema.DirectionBuy, orders[0].Direction)

	ticket, ok := f.brk.PopOrder()
	require.True(t, ok)
	assert.Equal(t, orders[0].ID, ticket.OrderID)
	assert.True(t, ticket.Qty.Equal(d(100)))
}

func TestRunStrategySkippedWhenMarketClosed(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"000001": d(100)})
	f.exec(schema.TaskStart)
	f.exec(schema.TaskWakeup)

	f.exec(schema.TaskRunStrategy)

	orders, err := f.books.Orders(f.account.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
	_, ok := f.brk.PopOrder()
	assert.False(t, ok)
}

func TestProcessResultSettlesOnce(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"000001": d(100)})
	f.exec(schema.TaskStart)
	f.exec(schema.TaskOpenMarket)
	f.exec(schema.TaskRunStrategy)

	ticket, ok := f.brk.PopOrder()
	require.True(t, ok)

	f.tr.execute(context.Background(), Task{
		Name: schema.TaskProcessResult,
		Result: &schema.TradeResult{
			OrderID:   ticket.OrderID,
			FilledQty: ticket.Qty,
			Price:     ticket.Price,
		},
	})

	orders, err := f.books.Orders(f.account.ID, schema.OrderStatusFilled)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	// zero delivery period settles in the same pass
	positions, err := f.books.Positions(f.account.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.True(t, positions[0].Qty.Equal(d(100)))
	assert.True(t, positions[0].AvailableQty.Equal(d(100)))
	assert.Equal(t, uint64(1), f.metrics.Snapshot().ResultLatency.Count)
}

func TestPollBrokerEnqueuesResults(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"000001": d(100)})
	f.exec(schema.TaskStart)
	f.exec(schema.TaskOpenMarket)
	f.exec(schema.TaskRunStrategy)

	require.NoError(t, f.brk.SetStatus(broker.StatusRunning))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.brk.Run(ctx)

	require.Eventually(t, func() bool {
		f.tr.pollBroker()
		task, ok := f.tr.queue.TryPop()
		if !ok {
			return false
		}
		require.Equal(t, schema.TaskProcessResult, task.Name)
		require.NotNil(t, task.Result)
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestPostCloseCancelsEverything(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"000001": d(100)})
	f.exec(schema.TaskStart)
	f.exec(schema.TaskOpenMarket)
	f.exec(schema.TaskRunStrategy)

	// a second order that never reaches the broker queue
	o, err := f.books.RecordOrder(f.account.ID, schema.OrderElement{
		Symbol: "000001", Side: schema.PositionSideLong,
		Direction: schema.DirectionBuy, Qty: d(50), Price: d(10),
	}, schema.OrderTypeLimit, f.nowAt)
	require.NoError(t, err)
	_, err = f.books.SubmitOrder(o.ID, f.nowAt)
	require.NoError(t, err)

	f.exec(schema.TaskCloseMarket)
	f.exec(schema.TaskPostClose)

	canceled, err := f.books.Orders(f.account.ID, schema.OrderStatusCanceled)
	require.NoError(t, err)
	assert.Len(t, canceled, 2)

	open, err := f.books.Orders(f.account.ID,
		schema.OrderStatusSubmitted, schema.OrderStatusPartialFilled)
	require.NoError(t, err)
	assert.Empty(t, open)

	_, ok := f.brk.PopOrder()
	assert.False(t, ok)
	assert.Equal(t, broker.StatusStopped, f.brk.Status())
}

func TestPostCloseSkippedWhileMarketOpen(t *testing.T) {
	f := newFixture(t, map[string]decimal.Decimal{"000001": d(100)})
	f.exec(schema.TaskStart)
	f.exec(schema.TaskOpenMarket)
	f.exec(schema.TaskRunStrategy)
	f.exec(schema.TaskSleep)

	f.exec(schema.TaskPostClose)
	open, err := f.books.Orders(f.account.ID, schema.OrderStatusSubmitted)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRollAgendaBuildsTradingDay(t *testing.T) {
	f := newFixture(t, nil)
	f.nowAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	f.tr.rollAgenda()
	entries := f.tr.Agenda()
	require.NotEmpty(t, entries)
	assert.Equal(t, schema.TaskPreOpen, entries[0].Task)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().AgendaRebuilds)

	// same day, no rebuild
	f.tr.rollAgenda()
	assert.Equal(t, uint64(1), f.metrics.Snapshot().AgendaRebuilds)
}

func TestRollAgendaEmptyOnWeekend(t *testing.T) {
	f := newFixture(t, nil)
	f.nowAt = time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC) // Saturday

	f.tr.rollAgenda()
	assert.Empty(t, f.tr.Agenda())
	assert.Equal(t, uint64(0), f.metrics.Snapshot().AgendaRebuilds)
}

func TestLoopIntervalKeyedOnTradeDay(t *testing.T) {
	f := newFixture(t, nil)

	// Pre-open on a trading day: market closed, but session boundaries
	// are ahead and must not wait out the idle interval.
	f.nowAt = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	f.tr.rollAgenda()
	assert.False(t, f.tr.isMarketOpen())
	assert.Equal(t, 100*time.Millisecond, f.tr.loopInterval())

	f.nowAt = time.Date(2026, 3, 7, 8, 0, 0, 0, time.UTC) // Saturday
	f.tr.rollAgenda()
	assert.Equal(t, time.Second, f.tr.loopInterval())
}

func TestPromoteAgendaQueuesDueEntries(t *testing.T) {
	f := newFixture(t, nil)
	f.nowAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.tr.rollAgenda()
	before := len(f.tr.Agenda())

	// nothing due yet
	f.tr.promoteAgenda()
	assert.Equal(t, 0, f.tr.queue.Len())

	// pre_open at 09:25 and open_market at 09:30 are due by 09:31
	f.nowAt = time.Date(2026, 3, 2, 9, 31, 0, 0, time.UTC)
	f.tr.promoteAgenda()
	assert.Equal(t, 2, f.tr.queue.Len())
	assert.Equal(t, before-2, len(f.tr.Agenda()))

	task, _ := f.tr.queue.TryPop()
	assert.Equal(t, schema.TaskPreOpen, task.Name)
	task, _ = f.tr.queue.TryPop()
	assert.Equal(t, schema.TaskOpenMarket, task.Name)
}

func TestPromoteAgendaHeldWhilePaused(t *testing.T) {
	f := newFixture(t, nil)
	f.nowAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.tr.rollAgenda()

	f.exec(schema.TaskStart)
	f.exec(schema.TaskPause)

	f.nowAt = time.Date(2026, 3, 2, 9, 31, 0, 0, time.UTC)
	f.tr.promoteAgenda()
	assert.Equal(t, 0, f.tr.queue.Len())

	f.exec(schema.TaskResume)
	f.tr.promoteAgenda()
	assert.Equal(t, 2, f.tr.queue.Len())
}

func TestRunLoopStopsOnStopTask(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.tr.AddTask(Task{Name: schema.TaskStop}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.tr.Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trader loop did not stop")
	}
	assert.Equal(t, StatusStopped, f.tr.Status())
}

func TestRunLoopBootsIntoSleeping(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, StatusStopped, f.tr.Status())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.tr.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		return f.tr.Status() == StatusSleeping
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRunLoopExitsOnSynchronousStop(t *testing.T) {
	f := newFixture(t, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.tr.Run(context.Background())
	}()
	require.Eventually(t, func() bool {
		return f.tr.Status() == StatusSleeping
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.tr.RunTask(context.Background(), Task{Name: schema.TaskStop}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trader loop kept running after synchronous stop")
	}
	assert.Equal(t, StatusStopped, f.tr.Status())
}

func TestRunLoopHonorsContext(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.tr.Run(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("trader loop ignored context cancel")
	}
}

func TestRunTaskBypassesWhitelist(t *testing.T) {
	f := newFixture(t, nil)

	// a stopped trader would discard wakeup from the queue
	require.NoError(t, f.tr.RunTask(context.Background(), Task{Name: schema.TaskWakeup}))
	assert.Equal(t, StatusRunning, f.tr.Status())

	err := f.tr.RunTask(context.Background(), Task{Name: schema.TaskName("reboot")})
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestInfoSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	f.exec(schema.TaskStart)
	f.exec(schema.TaskOpenMarket)
	require.NoError(t, f.tr.AddTask(Task{Name: schema.TaskRunStrategy}))

	info, err := f.tr.Info()
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, info.Status)
	assert.True(t, info.MarketOpen)
	assert.Equal(t, 1, info.PendingTasks)
	assert.True(t, info.Cash.Equal(d(100000)))
	assert.True(t, info.AvailableCash.Equal(d(100000)))

	total, available, err := f.tr.Cash()
	require.NoError(t, err)
	assert.True(t, total.Equal(d(100000)))
	assert.True(t, available.Equal(d(100000)))

	positions, err := f.tr.Positions()
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestMessageLog(t *testing.T) {
	l := NewMessageLog(obs.NewSequence(10))
	at := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	l.Post(at, StatusRunning, "qty %d submitted", 300)
	l.Post(at, StatusSleeping, "going down")
	assert.Equal(t, 2, l.Len())

	msgs := l.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(11), msgs[0].Seq)
	assert.Equal(t, "[10:30:00]-running: qty 300 submitted", msgs[0].String())
	assert.Equal(t, 0, l.Len())
}
