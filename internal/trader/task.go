package trader

import (
	"sync"

	"qtrader/internal/schema"
)

// Task is one queued unit of work for the trader loop.
type Task struct {
	Name        schema.TaskName
	StrategyIDs []string
	Result      *schema.TradeResult
}

// Queue is an unbounded FIFO task queue. Producers may push from any
// goroutine; the trader loop is the only consumer.
type Queue struct {
	mu    sync.Mutex
	tasks []Task
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Push(t Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
}

// TryPop removes the oldest task without blocking.
func (q *Queue) TryPop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

var knownTasks = map[schema.TaskName]struct{}{
	schema.TaskStart:         {},
	schema.TaskStop:          {},
	schema.TaskSleep:         {},
	schema.TaskWakeup:        {},
	schema.TaskPause:         {},
	schema.TaskResume:        {},
	schema.TaskPreOpen:       {},
	schema.TaskOpenMarket:    {},
	schema.TaskCloseMarket:   {},
	schema.TaskPostClose:     {},
	schema.TaskRunStrategy:   {},
	schema.TaskProcessResult: {},
}

// whitelist maps each status to the tasks it accepts. Anything else is
// discarded with a log entry rather than an error.
var whitelist = map[Status]map[schema.TaskName]struct{}{
	StatusStopped: {
		schema.TaskStart: {},
	},
	StatusRunning: {
		schema.TaskStop:          {},
		schema.TaskSleep:         {},
		schema.TaskPause:         {},
		schema.TaskRunStrategy:   {},
		schema.TaskProcessResult: {},
		schema.TaskPreOpen:       {},
		schema.TaskOpenMarket:    {},
		schema.TaskCloseMarket:   {},
	},
	StatusSleeping: {
		schema.TaskWakeup:     {},
		schema.TaskStop:       {},
		schema.TaskPause:      {},
		schema.TaskPreOpen:    {},
		schema.TaskOpenMarket: {},
		schema.TaskPostClose:  {},
	},
	StatusPaused: {
		schema.TaskResume: {},
		schema.TaskStop:   {},
	},
}

func allowed(s Status, name schema.TaskName) bool {
	tasks, ok := whitelist[s]
	if !ok {
		return false
	}
	_, ok = tasks[name]
	return ok
}
