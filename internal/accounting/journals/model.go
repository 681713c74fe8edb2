package journals

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates journal entry lifecycle values.
type Status string

const (
	StatusDraft  Status = "DRAFT"
	StatusPosted Status = "POSTED"
	// StatusVoided marks a posted entry annulled by a reversing entry. Its
	// lines stay in the books and net to zero against the reversal.
	StatusVoided Status = "VOIDED"
)

// AffectsBalances reports whether lines of an entry in this status count toward account balances.
func (s Status) AffectsBalances() bool {
	return s == StatusPosted || s == StatusVoided
}

// Entry is a journal entry header with its lines.
type Entry struct {
	ID           int64      `json:"id"`
	Number       int64      `json:"number"`
	Date         time.Time  `json:"date"`
	Description  string     `json:"description"`
	Reference    string     `json:"reference,omitempty"`
	Status       Status     `json:"status"`
	SourceModule string     `json:"source_module,omitempty"`
	SourceID     *uuid.UUID `json:"source_id,omitempty"`
	ReversalOf   *int64     `json:"reversal_of,omitempty"`
	CreatedBy    string     `json:"created_by"`
	PostedAt     *time.Time `json:"posted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Lines        []Line     `json:"lines,omitempty"`
}

// Totals returns the sums of debits and credits.
func (e Entry) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range e.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Line stores a debit or credit amount for an account. Lines are owned by their entry.
type Line struct {
	ID          int64           `json:"id"`
	EntryID     int64           `json:"entry_id"`
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}
