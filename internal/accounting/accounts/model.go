package accounts

import "time"

// Type enumerates chart of accounts categories.
type Type string

const (
	TypeAsset     Type = "ASSET"
	TypeLiability Type = "LIABILITY"
	TypeEquity    Type = "EQUITY"
	TypeRevenue   Type = "REVENUE"
	TypeExpense   Type = "EXPENSE"
)

// Valid reports whether t is one of the five categories.
func (t Type) Valid() bool {
	switch t {
	case TypeAsset, TypeLiability, TypeEquity, TypeRevenue, TypeExpense:
		return true
	}
	return false
}

// DebitNormal reports whether the account category normally carries a debtor balance.
func (t Type) DebitNormal() bool {
	return t == TypeAsset || t == TypeExpense
}

// Account models a chart of accounts node. Only leaves (AcceptsEntries) may
// receive journal lines; parents exist for grouping.
type Account struct {
	ID             int64     `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Type           Type      `json:"type"`
	ParentID       *int64    `json:"parent_id,omitempty"`
	Level          int       `json:"level"`
	AcceptsEntries bool      `json:"accepts_entries"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
