package quotations

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/shared"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusAccepted  Status = "ACCEPTED"
	StatusConverted Status = "CONVERTED"
	StatusRejected  Status = "REJECTED"
)

// CONVERTED goes back to ACCEPTED only when an invoice is cancelled and
// quantity becomes available again.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusSent},
	StatusSent:      {StatusAccepted, StatusRejected},
	StatusAccepted:  {StatusConverted, StatusRejected},
	StatusConverted: {StatusAccepted},
}

// Transition reports whether from may move to to.
func Transition(from, to Status) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("quotations: %s -> %s: %w", from, to, shared.ErrInvalidStatus)
}

// DeliveryTime is the lead time promised on a quote item, e.g. "INMEDIATA" or "15 DIAS".
type DeliveryTime string

const DeliveryImmediate DeliveryTime = "INMEDIATA"

// InStock reports whether the promise means the goods are on hand.
func (d DeliveryTime) InStock() bool {
	switch strings.ToUpper(strings.TrimSpace(string(d))) {
	case "INMEDIATA", "INMEDIATO", "STOCK", "EN STOCK", "IN_STOCK":
		return true
	}
	return false
}

type Quote struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	CustomerID   int64           `json:"customer_id"`
	Date         time.Time       `json:"date"`
	ValidityDays shared.Days     `json:"validity_days"`
	Currency     string          `json:"currency"`
	Status       Status          `json:"status"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Notes        string          `json:"notes,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Items        []Item          `json:"items,omitempty"`
}

// Validity is the window in which the quote can be accepted. Zero days never expire.
func (q Quote) Validity() shared.DateRange {
	return shared.NewDateRange(q.Date, q.ValidityDays)
}

// FullyInvoiced reports whether no non-alternative item has quantity left.
func (q Quote) FullyInvoiced() bool {
	for _, it := range q.Items {
		if !it.IsAlternative && it.Remaining().IsPositive() {
			return false
		}
	}
	return true
}

// Item looks up an item by id.
func (q Quote) Item(id int64) (Item, bool) {
	for _, it := range q.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

type Item struct {
	ID               int64           `json:"id"`
	QuoteID          int64           `json:"quote_id"`
	ProductID        int64           `json:"product_id"`
	Description      string          `json:"description"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	DiscountPct      decimal.Decimal `json:"discount_pct"`
	DeliveryTime     DeliveryTime    `json:"delivery_time"`
	IsAlternative    bool            `json:"is_alternative"`
	LineOrder        int             `json:"line_order"`
	InvoicedQuantity decimal.Decimal `json:"invoiced_quantity"`
}

// Remaining is the quantity still available for invoicing, never negative.
func (it Item) Remaining() decimal.Decimal {
	r := it.Quantity.Sub(it.InvoicedQuantity)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// NetFor prices qty units of the item after its discount.
func (it Item) NetFor(qty decimal.Decimal) decimal.Decimal {
	return shared.Round2(shared.ApplyDiscount(qty.Mul(it.UnitPrice), it.DiscountPct))
}

// StatusChange is one row of a quote's status history.
type StatusChange struct {
	ID        int64     `json:"id"`
	QuoteID   int64     `json:"quote_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// ItemFulfillment is the invoiced/remaining view of one item.
type ItemFulfillment struct {
	ItemID        int64           `json:"item_id"`
	ProductID     int64           `json:"product_id"`
	Description   string          `json:"description"`
	Quantity      decimal.Decimal `json:"quantity"`
	Invoiced      decimal.Decimal `json:"invoiced"`
	Remaining     decimal.Decimal `json:"remaining"`
	IsAlternative bool            `json:"is_alternative"`
}

type Fulfillment struct {
	QuoteID       int64             `json:"quote_id"`
	Status        Status            `json:"status"`
	FullyInvoiced bool              `json:"fully_invoiced"`
	Items         []ItemFulfillment `json:"items"`
	History       []StatusChange    `json:"history"`
}
