package trader

import (
	"github.com/shopspring/decimal"

	"qtrader/internal/ledger"
)

// Info is a read-only snapshot of the trader for a front end.
type Info struct {
	Status        Status
	MarketOpen    bool
	PendingTasks  int
	AgendaEntries int
	Cash          decimal.Decimal
	AvailableCash decimal.Decimal
}

// Info assembles the current snapshot.
func (t *Trader) Info() (Info, error) {
	account, err := t.cfg.Books.Account(t.cfg.AccountID)
	if err != nil {
		return Info{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Info{
		Status:        t.status,
		MarketOpen:    t.marketOpen,
		PendingTasks:  t.queue.Len(),
		AgendaEntries: len(t.agenda),
		Cash:          account.Cash,
		AvailableCash: account.AvailableCash,
	}, nil
}

// Positions returns the account's positions.
func (t *Trader) Positions() ([]ledger.Position, error) {
	return t.cfg.Books.Positions(t.cfg.AccountID)
}

// Cash returns total and available cash.
func (t *Trader) Cash() (total, available decimal.Decimal, err error) {
	account, err := t.cfg.Books.Account(t.cfg.AccountID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return account.Cash, account.AvailableCash, nil
}
