package agenda

import (
	"time"

	"github.com/yanun0323/errors"
)

const calendarDateLayout = "2006-01-02"

// Calendar answers whether a calendar date is a trading day: weekdays
// minus a configured holiday list. The exchange's real trade calendar
// lives in an external data layer; the holiday list stands in for it.
type Calendar struct {
	holidays map[string]struct{}
}

// NewCalendar builds a calendar from holiday dates in "2006-01-02" form.
func NewCalendar(holidays []string) (*Calendar, error) {
	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		if _, err := time.Parse(calendarDateLayout, h); err != nil {
			return nil, errors.Errorf("invalid holiday date: %q", h)
		}
		set[h] = struct{}{}
	}
	return &Calendar{holidays: set}, nil
}

// IsTradeDay reports whether t falls on a trading day.
func (c *Calendar) IsTradeDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c == nil {
		return true
	}
	_, holiday := c.holidays[t.Format(calendarDateLayout)]
	return !holiday
}
