package operator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/schema"
)

type stubStrategy struct {
	id     string
	freq   time.Duration
	back   int
	signal map[string]decimal.Decimal
}

func (s *stubStrategy) ID() string             { return s.id }
func (s *stubStrategy) RunFreq() time.Duration { return s.freq }
func (s *stubStrategy) Lookback() int          { return s.back }
func (s *stubStrategy) Signal(map[string][]decimal.Decimal) map[string]decimal.Decimal {
	return s.signal
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestNewRejectsDuplicateID(t *testing.T) {
	_, err := New(&stubStrategy{id: "a"}, &stubStrategy{id: "a"})
	assert.ErrorIs(t, err, ErrDuplicateStrategy)
}

func TestSchedulesAndLookback(t *testing.T) {
	op, err := New(
		&stubStrategy{id: "fast", freq: 30 * time.Minute, back: 10},
		&stubStrategy{id: "slow", freq: time.Hour, back: 40},
	)
	require.NoError(t, err)

	schedules := op.Schedules()
	require.Len(t, schedules, 2)
	assert.Equal(t, "fast", schedules[0].StrategyID)
	assert.Equal(t, 30*time.Minute, schedules[0].Freq)
	assert.Equal(t, "slow", schedules[1].StrategyID)

	assert.Equal(t, 40, op.MaxLookback(nil))
	assert.Equal(t, 10, op.MaxLookback([]string{"fast"}))
}

func TestCreateSignalMergesBySum(t *testing.T) {
	op, err := New(
		&stubStrategy{id: "a", signal: map[string]decimal.Decimal{"000001": d(300), "000002": d(-100)}},
		&stubStrategy{id: "b", signal: map[string]decimal.Decimal{"000001": d(-100)}},
	)
	require.NoError(t, err)

	sig, err := op.CreateSignal(nil, nil)
	require.NoError(t, err)
	assert.True(t, sig["000001"].Equal(d(200)))
	assert.True(t, sig["000002"].Equal(d(-100)))

	_, err = op.CreateSignal([]string{"missing"}, nil)
	assert.ErrorIs(t, err, ErrUnknownStrategy)
}

func TestParseSignalClipsSellToHolding(t *testing.T) {
	op, err := New()
	require.NoError(t, err)

	elements := op.ParseSignal(
		map[string]decimal.Decimal{"000001": d(-500)},
		map[string]decimal.Decimal{"000001": d(10)},
		Holdings{AvailableQty: map[string]decimal.Decimal{"000001": d(200)}},
	)
	require.Len(t, elements, 1)
	assert.Equal(t, schema.DirectionSell, elements[0].Direction)
	assert.True(t, elements[0].Qty.Equal(d(200)))

	// no holding at all means no short side order
	elements = op.ParseSignal(
		map[string]decimal.Decimal{"000001": d(-500)},
		map[string]decimal.Decimal{"000001": d(10)},
		Holdings{},
	)
	assert.Empty(t, elements)
}

func TestParseSignalScalesBuysToCash(t *testing.T) {
	op, err := New()
	require.NoError(t, err)

	elements := op.ParseSignal(
		map[string]decimal.Decimal{"000001": d(100), "000002": d(100)},
		map[string]decimal.Decimal{"000001": d(10), "000002": d(10)},
		Holdings{AvailableCash: d(1000)},
	)
	require.Len(t, elements, 2)
	for _, e := range elements {
		assert.Equal(t, schema.DirectionBuy, e.Direction)
		assert.True(t, e.Qty.Equal(d(50)), "qty %s", e.Qty)
	}
}

func TestParseSignalSkipsUnpricedSymbol(t *testing.T) {
	op, err := New()
	require.NoError(t, err)

	elements := op.ParseSignal(
		map[string]decimal.Decimal{"000001": d(100)},
		nil,
		Holdings{AvailableCash: d(10000)},
	)
	assert.Empty(t, elements)
}

func TestCrossoverSignal(t *testing.T) {
	c := &Crossover{Name: "ma", Fast: 2, Slow: 4, Lot: d(100), Interval: time.Hour}

	up := []decimal.Decimal{d(10), d(10), d(10), d(10), d(14)}
	sig := c.Signal(map[string][]decimal.Decimal{"000001": up})
	require.Contains(t, sig, "000001")
	assert.True(t, sig["000001"].Equal(d(100)))

	down := []decimal.Decimal{d(14), d(14), d(14), d(14), d(8)}
	sig = c.Signal(map[string][]decimal.Decimal{"000001": down})
	require.Contains(t, sig, "000001")
	assert.True(t, sig["000001"].Equal(d(-100)))

	flat := []decimal.Decimal{d(10), d(10), d(10), d(10), d(10)}
	sig = c.Signal(map[string][]decimal.Decimal{"000001": flat})
	assert.Empty(t, sig)

	short := []decimal.Decimal{d(10), d(11)}
	sig = c.Signal(map[string][]decimal.Decimal{"000001": short})
	assert.Empty(t, sig)
}
