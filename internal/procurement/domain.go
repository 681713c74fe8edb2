// Package procurement registers supplier invoices and credit notes. Approval
// posts the payable, stock impact enters goods as COMPRA movements, and a
// credit note reverses part of an approved invoice.
package procurement

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/shared"
)

// Status enumerates purchase invoice states.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
)

var (
	ErrNotFound         = fmt.Errorf("procurement: purchase invoice %w", shared.ErrNotFound)
	ErrSupplierNotFound = fmt.Errorf("procurement: supplier %w", shared.ErrNotFound)
	// ErrDuplicateInvoice is returned when the supplier document was already registered.
	ErrDuplicateInvoice = fmt.Errorf("procurement: supplier invoice already registered: %w", shared.ErrConflict)
	// ErrStockAlreadyImpacted guards against entering the same goods twice.
	ErrStockAlreadyImpacted = fmt.Errorf("procurement: stock already impacted: %w", shared.ErrConflict)
	ErrSupplierExists       = fmt.Errorf("procurement: supplier code already exists: %w", shared.ErrConflict)
	ErrNotApproved          = fmt.Errorf("procurement: purchase invoice is not approved: %w", shared.ErrInvalidStatus)
	ErrNotDraft             = fmt.Errorf("procurement: purchase invoice is not a draft: %w", shared.ErrInvalidStatus)
)

// Supplier carries the running payable balance in the ledger currency.
type Supplier struct {
	ID        int64           `json:"id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	CUIT      *string         `json:"cuit,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PurchaseInvoice is a supplier invoice. Amounts are in Currency; ExchangeRate
// is fixed at approval.
type PurchaseInvoice struct {
	ID             int64           `json:"id"`
	SupplierID     int64           `json:"supplier_id"`
	Letter         string          `json:"invoice_type"`
	PointOfSale    int             `json:"point_of_sale"`
	Number         int64           `json:"number"`
	IssueDate      time.Time       `json:"issue_date"`
	DueDate        time.Time       `json:"due_date"`
	Status         Status          `json:"status"`
	Currency       string          `json:"currency"`
	ExchangeRate   decimal.Decimal `json:"exchange_rate"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	PerceptionsSum decimal.Decimal `json:"perceptions_amount"`
	Total          decimal.Decimal `json:"total"`
	StockImpacted  bool            `json:"stock_impacted"`
	JournalEntryID *int64          `json:"journal_entry_id,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []Item          `json:"items,omitempty"`
	Taxes          []Tax           `json:"taxes,omitempty"`
	Perceptions    []Perception    `json:"perceptions,omitempty"`
}

// Reference renders the supplier's printed number, e.g. A-0003-00001234.
func (p PurchaseInvoice) Reference() string {
	return fmt.Sprintf("%s-%04d-%08d", p.Letter, p.PointOfSale, p.Number)
}

// Item returns the line with the given id.
func (p PurchaseInvoice) Item(id int64) (Item, bool) {
	for _, it := range p.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Item is a purchased line. Lines without a product are expenses and never
// move stock.
type Item struct {
	ID                int64           `json:"id"`
	PurchaseInvoiceID int64           `json:"purchase_invoice_id"`
	ProductID         *int64          `json:"product_id,omitempty"`
	Description       string          `json:"description"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	DiscountPct       decimal.Decimal `json:"discount_pct"`
	VATRate           decimal.Decimal `json:"vat_rate"`
	Net               decimal.Decimal `json:"net"`
	AccountID         *int64          `json:"account_id,omitempty"`
	ReturnedQuantity  decimal.Decimal `json:"returned_quantity"`
}

// Returnable is what a credit note can still take back from the line.
func (it Item) Returnable() decimal.Decimal {
	r := it.Quantity.Sub(it.ReturnedQuantity)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// NetUnitCost is the unit cost after the line discount, used as stock cost.
func (it Item) NetUnitCost() decimal.Decimal {
	return shared.ApplyDiscount(it.UnitCost, it.DiscountPct)
}

// Tax is the VAT discriminated for one rate.
type Tax struct {
	Rate   decimal.Decimal `json:"rate"`
	Base   decimal.Decimal `json:"base"`
	Amount decimal.Decimal `json:"amount"`
}

// Perception is a tax the supplier collected in advance on this invoice.
type Perception struct {
	TaxType      accounts.TaxType `json:"tax_type"`
	Jurisdiction string           `json:"jurisdiction"`
	Amount       decimal.Decimal  `json:"amount"`
}

// Totals are the amounts of a purchase document.
type Totals struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	Perceptions decimal.Decimal
	Total       decimal.Decimal
	Taxes       []Tax
}

// ComputeTotals fills Net on each item and groups VAT by rate. Each rate is
// rounded once over its summed base.
func ComputeTotals(items []Item, perceptions []Perception) Totals {
	t := Totals{Subtotal: decimal.Zero, Tax: decimal.Zero, Perceptions: decimal.Zero}
	bases := map[string]*Tax{}
	var order []string
	for i := range items {
		items[i].Net = shared.Round2(shared.ApplyDiscount(items[i].Quantity.Mul(items[i].UnitCost), items[i].DiscountPct))
		t.Subtotal = t.Subtotal.Add(items[i].Net)
		key := items[i].VATRate.String()
		tax, ok := bases[key]
		if !ok {
			tax = &Tax{Rate: items[i].VATRate, Base: decimal.Zero}
			bases[key] = tax
			order = append(order, key)
		}
		tax.Base = tax.Base.Add(items[i].Net)
	}
	sort.Slice(order, func(i, j int) bool { return bases[order[i]].Rate.LessThan(bases[order[j]].Rate) })
	for _, key := range order {
		tax := bases[key]
		tax.Amount = shared.Round2(shared.Percent(tax.Base, tax.Rate))
		if tax.Amount.IsZero() {
			continue
		}
		t.Tax = t.Tax.Add(tax.Amount)
		t.Taxes = append(t.Taxes, *tax)
	}
	for _, p := range perceptions {
		t.Perceptions = t.Perceptions.Add(p.Amount)
	}
	t.Total = t.Subtotal.Add(t.Tax).Add(t.Perceptions)
	return t
}

// CreditNote is a supplier credit note against an approved purchase invoice.
type CreditNote struct {
	ID                int64            `json:"id"`
	PurchaseInvoiceID int64            `json:"purchase_invoice_id"`
	Number            string           `json:"number"`
	Date              time.Time        `json:"date"`
	Reason            string           `json:"reason"`
	Net               decimal.Decimal  `json:"net"`
	Tax               decimal.Decimal  `json:"tax"`
	Total             decimal.Decimal  `json:"total"`
	StockReturned     bool             `json:"stock_returned"`
	JournalEntryID    *int64           `json:"journal_entry_id,omitempty"`
	CreatedBy         string           `json:"created_by"`
	CreatedAt         time.Time        `json:"created_at"`
	Items             []CreditNoteItem `json:"items,omitempty"`
}

type CreditNoteItem struct {
	ID             int64           `json:"id"`
	CreditNoteID   int64           `json:"credit_note_id"`
	PurchaseItemID int64           `json:"purchase_item_id"`
	ProductID      *int64          `json:"product_id,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	DiscountPct    decimal.Decimal `json:"discount_pct"`
	VATRate        decimal.Decimal `json:"vat_rate"`
	Net            decimal.Decimal `json:"net"`
	Tax            decimal.Decimal `json:"tax"`
}

// LedgerPostError indicates the purchase document could not be posted to the
// ledger; nothing of the operation was committed.
type LedgerPostError struct {
	Err       error
	Retryable bool
	Message   string
}

func (e *LedgerPostError) Error() string {
	return e.Message
}

func (e *LedgerPostError) Unwrap() error { return e.Err }
