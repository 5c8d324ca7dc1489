package operator

import (
	"time"

	"github.com/shopspring/decimal"
)

// Crossover is a moving-average crossover strategy. It buys a fixed
// lot when the fast average moves above the slow one and sells the lot
// back when it crosses under.
type Crossover struct {
	Name     string
	Fast     int
	Slow     int
	Lot      decimal.Decimal
	Interval time.Duration
}

func (c *Crossover) ID() string             { return c.Name }
func (c *Crossover) RunFreq() time.Duration { return c.Interval }
func (c *Crossover) Lookback() int          { return c.Slow + 1 }

func (c *Crossover) Signal(history map[string][]decimal.Decimal) map[string]decimal.Decimal {
	signal := make(map[string]decimal.Decimal)
	for symbol, prices := range history {
		if len(prices) < c.Slow+1 {
			continue
		}
		fastNow := mean(prices[len(prices)-c.Fast:])
		slowNow := mean(prices[len(prices)-c.Slow:])
		prev := prices[:len(prices)-1]
		fastPrev := mean(prev[len(prev)-c.Fast:])
		slowPrev := mean(prev[len(prev)-c.Slow:])

		crossedUp := fastPrev.LessThanOrEqual(slowPrev) && fastNow.GreaterThan(slowNow)
		crossedDown := fastPrev.GreaterThanOrEqual(slowPrev) && fastNow.LessThan(slowNow)
		switch {
		case crossedUp:
			signal[symbol] = c.Lot
		case crossedDown:
			signal[symbol] = c.Lot.Neg()
		}
	}
	return signal
}

func mean(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, p := range prices {
		sum = sum.Add(p)
	}
	return sum.Div(decimal.NewFromInt(int64(len(prices))))
}
