package operator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"qtrader/internal/agenda"
	"qtrader/internal/schema"
)

var (
	ErrUnknownStrategy   = errors.New("unknown strategy")
	ErrDuplicateStrategy = errors.New("duplicate strategy id")
)

// Strategy produces a target volume change per symbol from recent
// prices. Positive values buy, negative values sell.
type Strategy interface {
	ID() string
	RunFreq() time.Duration
	Lookback() int
	Signal(history map[string][]decimal.Decimal) map[string]decimal.Decimal
}

// Operator owns the strategy pool and turns strategy output into
// executable order elements.
type Operator struct {
	strategies map[string]Strategy
	order      []string
}

func New(strategies ...Strategy) (*Operator, error) {
	op := &Operator{strategies: make(map[string]Strategy, len(strategies))}
	for _, s := range strategies {
		if _, ok := op.strategies[s.ID()]; ok {
			return nil, errors.Wrap(ErrDuplicateStrategy, s.ID())
		}
		op.strategies[s.ID()] = s
		op.order = append(op.order, s.ID())
	}
	return op, nil
}

// Schedules reports each strategy's run cadence for agenda building.
func (op *Operator) Schedules() []agenda.Schedule {
	schedules := make([]agenda.Schedule, 0, len(op.order))
	for _, id := range op.order {
		schedules = append(schedules, agenda.Schedule{
			StrategyID: id,
			Freq:       op.strategies[id].RunFreq(),
		})
	}
	return schedules
}

// MaxLookback reports the longest history window any selected strategy
// needs. Zero ids selects every strategy.
func (op *Operator) MaxLookback(ids []string) int {
	if len(ids) == 0 {
		ids = op.order
	}
	max := 0
	for _, id := range ids {
		if s, ok := op.strategies[id]; ok && s.Lookback() > max {
			max = s.Lookback()
		}
	}
	return max
}

// CreateSignal runs the selected strategies and merges their volume
// targets by summing per symbol.
func (op *Operator) CreateSignal(ids []string, history map[string][]decimal.Decimal) (map[string]decimal.Decimal, error) {
	if len(ids) == 0 {
		ids = op.order
	}
	merged := make(map[string]decimal.Decimal)
	for _, id := range ids {
		s, ok := op.strategies[id]
		if !ok {
			return nil, errors.Wrap(ErrUnknownStrategy, id)
		}
		for symbol, qty := range s.Signal(history) {
			merged[symbol] = merged[symbol].Add(qty)
		}
	}
	return merged, nil
}

// Holdings is the account view ParseSignal needs to size orders.
type Holdings struct {
	AvailableCash decimal.Decimal
	AvailableQty  map[string]decimal.Decimal
}

// ParseSignal converts a merged signal into order elements. Sells are
// clipped to the available quantity, and when planned buys exceed the
// available cash every buy is scaled down proportionally. Short
// positions are not supported, so a sell never exceeds the holding.
func (op *Operator) ParseSignal(signal map[string]decimal.Decimal, prices map[string]decimal.Decimal, h Holdings) []schema.OrderElement {
	symbols := make([]string, 0, len(signal))
	for symbol := range signal {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var elements []schema.OrderElement
	buyCost := decimal.Zero
	for _, symbol := range symbols {
		qty := signal[symbol]
		if qty.IsZero() {
			continue
		}
		price, ok := prices[symbol]
		if !ok || !price.IsPositive() {
			logs.Infof("no price for %s, skipping signal", symbol)
			continue
		}
		if qty.IsNegative() {
			sell := qty.Neg()
			if avail := h.AvailableQty[symbol]; sell.GreaterThan(avail) {
				sell = avail
			}
			if sell.IsPositive() {
				elements = append(elements, schema.OrderElement{
					Symbol:    symbol,
					Side:      schema.PositionSideLong,
					Direction: schema.DirectionSell,
					Qty:       sell,
					Price:     price,
				})
			}
			continue
		}
		elements = append(elements, schema.OrderElement{
			Symbol:    symbol,
			Side:      schema.PositionSideLong,
			Direction: schema.DirectionBuy,
			Qty:       qty,
			Price:     price,
		})
		buyCost = buyCost.Add(qty.Mul(price))
	}

	if buyCost.GreaterThan(h.AvailableCash) && buyCost.IsPositive() {
		scale := h.AvailableCash.Div(buyCost)
		scaled := elements[:0]
		for _, e := range elements {
			if e.Direction != schema.DirectionBuy {
				scaled = append(scaled, e)
				continue
			}
			e.Qty = e.Qty.Mul(scale).Floor()
			if e.Qty.IsPositive() {
				scaled = append(scaled, e)
			}
		}
		elements = scaled
	}
	return elements
}
