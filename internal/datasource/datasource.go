package datasource

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var (
	ErrNotConnected = errors.New("datasource not connected")
	ErrNoData       = errors.New("no data for symbol")
)

// Source feeds the trader with market prices. Connect is called from
// the pre_open task and may be retried, so it must be safe to call
// more than once.
type Source interface {
	Connect(ctx context.Context) error
	Close() error
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	Recent(ctx context.Context, symbols []string, n int) (map[string][]decimal.Decimal, error)
}

// Memory is an in-process source backed by appended price series.
type Memory struct {
	mu        sync.Mutex
	connected bool
	series    map[string][]decimal.Decimal
}

func NewMemory() *Memory {
	return &Memory{series: make(map[string][]decimal.Decimal)}
}

// Append pushes one price onto a symbol's series.
func (m *Memory) Append(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[symbol] = append(m.series[symbol], price)
}

func (m *Memory) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *Memory) Prices(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		s := m.series[symbol]
		if len(s) == 0 {
			continue
		}
		prices[symbol] = s[len(s)-1]
	}
	return prices, nil
}

func (m *Memory) Recent(_ context.Context, symbols []string, n int) (map[string][]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	history := make(map[string][]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		s := m.series[symbol]
		if len(s) == 0 {
			continue
		}
		if len(s) > n {
			s = s[len(s)-n:]
		}
		history[symbol] = append([]decimal.Decimal(nil), s...)
	}
	return history, nil
}

var _ Source = (*Memory)(nil)
