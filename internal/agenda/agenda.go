package agenda

import (
	"fmt"
	"sort"
	"time"

	"github.com/yanun0323/errors"

	"qtrader/internal/schema"
)

// Clock is a wall-clock time of day, measured from midnight.
type Clock time.Duration

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		sec = 0
		if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
			return 0, errors.Errorf("invalid clock time: %q", s)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, errors.Errorf("clock time out of range: %q", s)
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
	return Clock(d), nil
}

// ClockOf returns the time of day of t in t's location.
func ClockOf(t time.Time) Clock {
	h, m, s := t.Clock()
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
	return Clock(d) + Clock(time.Duration(t.Nanosecond()))
}

func (c Clock) Add(d time.Duration) Clock { return c + Clock(d) }

func (c Clock) String() string {
	d := time.Duration(c)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// Session holds the four exchange session boundaries plus the scheduling
// offset applied to pre_open, sleep, wakeup and post_close entries.
type Session struct {
	MorningOpen    Clock
	MorningClose   Clock
	AfternoonOpen  Clock
	AfternoonClose Clock
	Offset         time.Duration
}

func (s Session) Validate() error {
	if !(s.MorningOpen < s.MorningClose &&
		s.MorningClose <= s.AfternoonOpen &&
		s.AfternoonOpen < s.AfternoonClose) {
		return errors.New("session boundaries out of order")
	}
	if s.Offset < 0 {
		return errors.New("session offset must be >= 0")
	}
	return nil
}

// Phase classifies a time of day against the session boundaries.
type Phase uint8

const (
	_phase_beg Phase = iota
	PhaseBeforeOpen
	PhaseMorningSession
	PhaseLunchBreak
	PhaseAfternoonSession
	PhaseAfterClose
	_phase_end
)

func (p Phase) IsAvailable() bool {
	return p > _phase_beg && p < _phase_end
}

func (p Phase) String() string {
	switch p {
	case PhaseBeforeOpen:
		return "before-open"
	case PhaseMorningSession:
		return "morning-session"
	case PhaseLunchBreak:
		return "lunch-break"
	case PhaseAfternoonSession:
		return "afternoon-session"
	case PhaseAfterClose:
		return "after-close"
	default:
		return "unknown"
	}
}

// PhaseAt returns the phase the given time of day falls into.
func (s Session) PhaseAt(c Clock) Phase {
	switch {
	case c < s.MorningOpen:
		return PhaseBeforeOpen
	case c < s.MorningClose:
		return PhaseMorningSession
	case c < s.AfternoonOpen:
		return PhaseLunchBreak
	case c < s.AfternoonClose:
		return PhaseAfternoonSession
	default:
		return PhaseAfterClose
	}
}

// Entry is one scheduled task for the trading day.
type Entry struct {
	At          Clock
	Task        schema.TaskName
	StrategyIDs []string
}

// Schedule is a strategy's run cadence.
type Schedule struct {
	StrategyID string
	Freq       time.Duration
}

// taskRank orders entries sharing a timestamp: session-boundary tasks
// fire before a simultaneous run_strategy.
func taskRank(name schema.TaskName) int {
	switch name {
	case schema.TaskPreOpen:
		return 0
	case schema.TaskOpenMarket:
		return 1
	case schema.TaskSleep:
		return 2
	case schema.TaskWakeup:
		return 3
	case schema.TaskCloseMarket:
		return 4
	case schema.TaskPostClose:
		return 5
	default:
		return 6
	}
}

// Build produces the day's agenda from strategy schedules and session
// boundaries. It is a pure function: identical inputs yield identical
// output. Strategy entries tick at open+k*freq up to and including the
// session close; ticks colliding with a boundary entry are dropped, and
// ticks shared by several strategies merge their ids in first-seen order.
func Build(schedules []Schedule, s Session) ([]Entry, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	boundaries := []Entry{
		{At: s.MorningOpen.Add(-s.Offset), Task: schema.TaskPreOpen},
		{At: s.MorningOpen, Task: schema.TaskOpenMarket},
		{At: s.MorningClose.Add(s.Offset), Task: schema.TaskSleep},
		{At: s.AfternoonOpen.Add(-s.Offset), Task: schema.TaskWakeup},
		{At: s.AfternoonClose, Task: schema.TaskCloseMarket},
		{At: s.AfternoonClose.Add(s.Offset), Task: schema.TaskPostClose},
	}
	boundaryAt := make(map[Clock]struct{}, len(boundaries))
	for _, b := range boundaries {
		boundaryAt[b.At] = struct{}{}
	}

	ticks := make(map[Clock]*Entry)
	var tickOrder []Clock
	addTick := func(at Clock, id string) {
		if _, collides := boundaryAt[at]; collides {
			return
		}
		e, ok := ticks[at]
		if !ok {
			ticks[at] = &Entry{At: at, Task: schema.TaskRunStrategy, StrategyIDs: []string{id}}
			tickOrder = append(tickOrder, at)
			return
		}
		for _, existing := range e.StrategyIDs {
			if existing == id {
				return
			}
		}
		e.StrategyIDs = append(e.StrategyIDs, id)
	}

	sessions := [][2]Clock{
		{s.MorningOpen, s.MorningClose},
		{s.AfternoonOpen, s.AfternoonClose},
	}
	for _, sched := range schedules {
		if sched.Freq <= 0 {
			return nil, errors.Errorf("strategy %s has invalid run frequency %v", sched.StrategyID, sched.Freq)
		}
		for _, span := range sessions {
			for at := span[0].Add(sched.Freq); at <= span[1]; at = at.Add(sched.Freq) {
				addTick(at, sched.StrategyID)
			}
		}
	}

	entries := make([]Entry, 0, len(boundaries)+len(tickOrder))
	entries = append(entries, boundaries...)
	for _, at := range tickOrder {
		entries = append(entries, *ticks[at])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].At != entries[j].At {
			return entries[i].At < entries[j].At
		}
		return taskRank(entries[i].Task) < taskRank(entries[j].Task)
	})
	return entries, nil
}

// Prune drops agenda entries already past at build time, keeping the
// anchor tasks that must still fire once per day on a late start:
// pre_open, open_market, close_market and post_close are always kept;
// sleep is kept until the afternoon session opens and wakeup until it
// closes; past run_strategy ticks are dropped.
func Prune(entries []Entry, now Clock, s Session) []Entry {
	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.At >= now {
			kept = append(kept, e)
			continue
		}
		switch e.Task {
		case schema.TaskPreOpen, schema.TaskOpenMarket, schema.TaskCloseMarket, schema.TaskPostClose:
			kept = append(kept, e)
		case schema.TaskSleep:
			if now < s.AfternoonOpen {
				kept = append(kept, e)
			}
		case schema.TaskWakeup:
			if now < s.AfternoonClose {
				kept = append(kept, e)
			}
		}
	}
	return kept
}
