// Package invoices models customer invoices: letters, VAT and totals.
package invoices

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/shared"
)

// Letter is the invoice type (A, B, C or E) required by the tax authority.
type Letter string

const (
	LetterA Letter = "A"
	LetterB Letter = "B"
	LetterC Letter = "C"
	LetterE Letter = "E"
)

var vatGeneral = decimal.NewFromInt(21)

// LetterFor picks the letter for a sale from the issuer's and the customer's
// VAT conditions.
func LetterFor(issuer, customer customers.TaxCondition) Letter {
	if issuer == customers.TaxConditionMonotributo {
		return LetterC
	}
	switch customer {
	case customers.TaxConditionRegistered:
		return LetterA
	case customers.TaxConditionForeign:
		return LetterE
	default:
		return LetterB
	}
}

// VATRate is the percentage discriminated on the invoice: 21 for A, 0 otherwise.
func (l Letter) VATRate() decimal.Decimal {
	if l == LetterA {
		return vatGeneral
	}
	return decimal.Zero
}

type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusSent       Status = "SENT"
	StatusPaid       Status = "PAID"
	StatusOverdue    Status = "OVERDUE"
	StatusCancelled  Status = "CANCELLED"
)

// Collectible reports whether receipts may be applied to an invoice in status s.
func (s Status) Collectible() bool {
	return s == StatusAuthorized || s == StatusSent || s == StatusOverdue
}

// Authorizable reports whether a CAE may be assigned.
func (s Status) Authorizable() bool {
	return s == StatusDraft || s == StatusPending
}

var (
	ErrNotFound      = fmt.Errorf("invoices: invoice %w", shared.ErrNotFound)
	ErrNotCancelable = fmt.Errorf("invoices: invoice cannot be cancelled: %w", shared.ErrInvalidStatus)
)

type Invoice struct {
	ID             int64           `json:"id"`
	Letter         Letter          `json:"invoice_type"`
	PointOfSale    int             `json:"point_of_sale"`
	Number         int64           `json:"number"`
	CustomerID     int64           `json:"customer_id"`
	IssueDate      time.Time       `json:"issue_date"`
	DueDate        time.Time       `json:"due_date"`
	Status         Status          `json:"status"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	Balance        decimal.Decimal `json:"balance"`
	QuoteID        *int64          `json:"quote_id,omitempty"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
	CAE            string          `json:"cae,omitempty"`
	CAEExpiry      *time.Time      `json:"cae_expiry,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []Item          `json:"items,omitempty"`
}

// FullNumber renders the printed number, e.g. A-0001-00000042.
func (inv Invoice) FullNumber() string {
	return fmt.Sprintf("%s-%04d-%08d", inv.Letter, inv.PointOfSale, inv.Number)
}

// Cancelable reports whether the invoice can still be annulled: nothing was
// collected on it and it is not already closed.
func (inv Invoice) Cancelable() bool {
	switch inv.Status {
	case StatusPaid, StatusCancelled:
		return false
	}
	return inv.Balance.Equal(inv.Total)
}

type Item struct {
	ID          int64           `json:"id"`
	InvoiceID   int64           `json:"invoice_id"`
	QuoteItemID *int64          `json:"quote_item_id,omitempty"`
	ProductID   int64           `json:"product_id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	Net         decimal.Decimal `json:"net"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// Totals are the document amounts derived from the items.
type Totals struct {
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// PriceItems fills Net and VATRate on each item and returns the document totals.
// Tax is computed on the summed net and rounded once.
func PriceItems(items []Item, letter Letter) Totals {
	rate := letter.VATRate()
	t := Totals{Subtotal: decimal.Zero, Discount: decimal.Zero}
	net := decimal.Zero
	for i := range items {
		gross := shared.Round2(items[i].Quantity.Mul(items[i].UnitPrice))
		items[i].Net = shared.Round2(shared.ApplyDiscount(items[i].Quantity.Mul(items[i].UnitPrice), items[i].DiscountPct))
		items[i].VATRate = rate
		t.Subtotal = t.Subtotal.Add(gross)
		t.Discount = t.Discount.Add(gross.Sub(items[i].Net))
		net = net.Add(items[i].Net)
	}
	t.TaxAmount = shared.Round2(shared.Percent(net, rate))
	t.Total = net.Add(t.TaxAmount)
	return t
}
