package balance

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
)

// Movement is one posted journal line on an account.
type Movement struct {
	EntryID     int64           `json:"entry_id"`
	EntryNumber int64           `json:"entry_number"`
	LineID      int64           `json:"line_id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// LedgerRow is a movement with the balance after applying it.
type LedgerRow struct {
	Movement
	Balance AccountBalance `json:"balance"`
}

// Ledger is the Libro Mayor of one account over a window.
type Ledger struct {
	Account Account         `json:"account"`
	Opening AccountBalance  `json:"opening"`
	Rows    []LedgerRow     `json:"rows"`
	Closing AccountBalance  `json:"closing"`
	Debits  decimal.Decimal `json:"total_debit"`
	Credits decimal.Decimal `json:"total_credit"`
}

// Account is the subset of account data shown on a ledger header.
type Account struct {
	ID   int64         `json:"id"`
	Code string        `json:"code"`
	Name string        `json:"name"`
	Type accounts.Type `json:"type"`
}

// SortMovements orders movements by (date, entry number, line id), the total
// order used by every running balance.
func SortMovements(movements []Movement) {
	sort.SliceStable(movements, func(i, j int) bool {
		a, b := movements[i], movements[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.EntryNumber != b.EntryNumber {
			return a.EntryNumber < b.EntryNumber
		}
		return a.LineID < b.LineID
	})
}

// BuildLedger sorts movements and folds them from opening.
func BuildLedger(acc Account, opening AccountBalance, movements []Movement) Ledger {
	sorted := make([]Movement, len(movements))
	copy(sorted, movements)
	SortMovements(sorted)

	ledger := Ledger{Account: acc, Opening: opening, Rows: make([]LedgerRow, 0, len(sorted)), Debits: decimal.Zero, Credits: decimal.Zero}
	running := opening
	for _, m := range sorted {
		running = CalculateRunningBalance(acc.Type, running, m.Debit, m.Credit)
		ledger.Rows = append(ledger.Rows, LedgerRow{Movement: m, Balance: running})
		ledger.Debits = ledger.Debits.Add(m.Debit)
		ledger.Credits = ledger.Credits.Add(m.Credit)
	}
	ledger.Closing = running
	return ledger
}
