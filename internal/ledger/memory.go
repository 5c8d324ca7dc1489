package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"qtrader/internal/schema"
)

// MemoryRecorder keeps all records in memory. It backs tests and
// paper-trading runs without a database.
type MemoryRecorder struct {
	mu        sync.Mutex
	accounts  map[int64]*Account
	positions map[int64]*Position
	orders    map[int64]*Order
	results   map[int64]*Result
	nextID    int64
}

var _ Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder allocates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		accounts:  make(map[int64]*Account),
		positions: make(map[int64]*Position),
		orders:    make(map[int64]*Order),
		results:   make(map[int64]*Result),
	}
}

func (m *MemoryRecorder) nextSeq() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryRecorder) CreateAccount(a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextSeq()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *MemoryRecorder) Account(id int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrUnknownAccount
	}
	return *a, nil
}

func (m *MemoryRecorder) UpdateAccountBalance(id int64, cashChange, availableChange decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return ErrUnknownAccount
	}
	a.Cash = a.Cash.Add(cashChange)
	a.AvailableCash = a.AvailableCash.Add(availableChange)
	return nil
}

func (m *MemoryRecorder) CreatePosition(p *Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextSeq()
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *MemoryRecorder) Position(id int64) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return Position{}, ErrUnknownPosition
	}
	return *p, nil
}

func (m *MemoryRecorder) FindPosition(accountID int64, symbol string, side schema.PositionSide) (Position, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.AccountID == accountID && p.Symbol == symbol && p.Side == side {
			return *p, true, nil
		}
	}
	return Position{}, false, nil
}

func (m *MemoryRecorder) PositionsByAccount(accountID int64) ([]Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Position
	for _, p := range m.positions {
		if p.AccountID == accountID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) UpdatePosition(id int64, qtyChange, availableChange decimal.Decimal, cost *decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return ErrUnknownPosition
	}
	p.Qty = p.Qty.Add(qtyChange)
	p.AvailableQty = p.AvailableQty.Add(availableChange)
	if cost != nil {
		p.Cost = *cost
	}
	return nil
}

func (m *MemoryRecorder) CreateOrder(o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.nextSeq()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryRecorder) Order(id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, ErrUnknownOrder
	}
	return *o, nil
}

func (m *MemoryRecorder) UpdateOrderStatus(id int64, status schema.OrderStatus, submittedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrUnknownOrder
	}
	o.Status = status
	if submittedAt != nil {
		o.SubmittedAt = submittedAt
	}
	return nil
}

func (m *MemoryRecorder) OrdersByStatus(accountID int64, statuses ...schema.OrderStatus) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for id := int64(1); id <= m.nextID; id++ {
		o, ok := m.orders[id]
		if !ok || o.AccountID != accountID {
			continue
		}
		if len(statuses) == 0 {
			out = append(out, *o)
			continue
		}
		for _, s := range statuses {
			if o.Status == s {
				out = append(out, *o)
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryRecorder) CreateResult(r *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.nextSeq()
	cp := *r
	m.results[r.ID] = &cp
	return nil
}

func (m *MemoryRecorder) ResultsByOrder(orderID int64) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Result
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.results[id]; ok && r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) ResultsByDelivery(status DeliveryStatus) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Result
	for id := int64(1); id <= m.nextID; id++ {
		if r, ok := m.results[id]; ok && r.DeliveryStatus == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MemoryRecorder) SetResultDelivered(id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[id]
	if !ok {
		return ErrUnknownOrder
	}
	r.DeliveryStatus = DeliveryDelivered
	return nil
}
