package obs

import (
	"sync/atomic"
	"time"

	"qtrader/internal/schema"
)

var metricTasks = []schema.TaskName{
	schema.TaskStart,
	schema.TaskStop,
	schema.TaskSleep,
	schema.TaskWakeup,
	schema.TaskPause,
	schema.TaskResume,
	schema.TaskPreOpen,
	schema.TaskOpenMarket,
	schema.TaskCloseMarket,
	schema.TaskPostClose,
	schema.TaskRunStrategy,
	schema.TaskProcessResult,
}

// Metrics collects lightweight counters and latency stats for the
// trading loop.
type Metrics struct {
	taskCounts     map[schema.TaskName]*uint64
	whitelistDrops uint64
	unknownDrops   uint64
	handlerErrors  uint64
	agendaRebuilds uint64

	handlerLatency LatencyStats
	resultLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	TaskCounts     map[schema.TaskName]uint64
	WhitelistDrops uint64
	UnknownDrops   uint64
	HandlerErrors  uint64
	AgendaRebuilds uint64
	HandlerLatency LatencySnapshot
	ResultLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	counts := make(map[schema.TaskName]*uint64, len(metricTasks))
	for _, task := range metricTasks {
		counts[task] = new(uint64)
	}
	return &Metrics{taskCounts: counts}
}

// ObserveTask counts one executed task and its handler latency.
func (m *Metrics) ObserveTask(task schema.TaskName, d time.Duration) {
	if m == nil {
		return
	}
	if c, ok := m.taskCounts[task]; ok {
		atomic.AddUint64(c, 1)
	}
	m.handlerLatency.Observe(d)
}

// IncWhitelistDrop records a task discarded by the status whitelist.
func (m *Metrics) IncWhitelistDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.whitelistDrops, 1)
}

// IncUnknownDrop records a rejected unknown task name.
func (m *Metrics) IncUnknownDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.unknownDrops, 1)
}

// IncHandlerError records a task handler failure.
func (m *Metrics) IncHandlerError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.handlerErrors, 1)
}

// IncAgendaRebuild records a daily agenda rebuild.
func (m *Metrics) IncAgendaRebuild() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.agendaRebuilds, 1)
}

// ObserveResult measures one trade result settlement pass.
func (m *Metrics) ObserveResult(d time.Duration) {
	if m == nil {
		return
	}
	m.resultLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	taskCounts := make(map[schema.TaskName]uint64)
	for task, c := range m.taskCounts {
		if v := atomic.LoadUint64(c); v > 0 {
			taskCounts[task] = v
		}
	}
	return Snapshot{
		TaskCounts:     taskCounts,
		WhitelistDrops: atomic.LoadUint64(&m.whitelistDrops),
		UnknownDrops:   atomic.LoadUint64(&m.unknownDrops),
		HandlerErrors:  atomic.LoadUint64(&m.handlerErrors),
		AgendaRebuilds: atomic.LoadUint64(&m.agendaRebuilds),
		HandlerLatency: m.handlerLatency.Snapshot(),
		ResultLatency:  m.resultLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
