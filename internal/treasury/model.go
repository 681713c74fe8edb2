// Package treasury records customer receipts: payment methods, withholdings
// suffered and the invoices each receipt settles.
package treasury

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/posting"
	"github.com/pampa-erp/pampa/internal/shared"
)

type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusApproved Status = "APPROVED"
)

var (
	ErrNotFound = fmt.Errorf("treasury: receipt %w", shared.ErrNotFound)
	ErrNotDraft = fmt.Errorf("treasury: receipt is not a draft: %w", shared.ErrInvalidStatus)
)

// Receipt amounts are in the ledger currency.
type Receipt struct {
	ID                int64              `json:"id"`
	Number            string             `json:"number"`
	CustomerID        int64              `json:"customer_id"`
	Date              time.Time          `json:"date"`
	Status            Status             `json:"status"`
	TotalPayments     decimal.Decimal    `json:"total_payments"`
	TotalWithholdings decimal.Decimal    `json:"total_withholdings"`
	TotalApplied      decimal.Decimal    `json:"total_applied"`
	JournalEntryID    *int64             `json:"journal_entry_id,omitempty"`
	Notes             string             `json:"notes,omitempty"`
	ApprovedAt        *time.Time         `json:"approved_at,omitempty"`
	CreatedBy         string             `json:"created_by"`
	CreatedAt         time.Time          `json:"created_at"`
	Payments          []Payment          `json:"payments"`
	Withholdings      []WithholdingLine  `json:"withholdings,omitempty"`
	Groups            []WithholdingGroup `json:"withholding_groups,omitempty"`
	Applications      []Application      `json:"applications"`
}

type Payment struct {
	ID        int64                 `json:"id"`
	Method    posting.PaymentMethod `json:"method"`
	Amount    decimal.Decimal       `json:"amount"`
	Reference string                `json:"reference,omitempty"`
	AccountID *int64                `json:"account_id,omitempty"`
}

// WithholdingLine keeps the jurisdiction detail of a withholding suffered.
type WithholdingLine struct {
	ID           int64            `json:"id"`
	GroupID      *int64           `json:"group_id,omitempty"`
	TaxType      accounts.TaxType `json:"tax_type"`
	Jurisdiction string           `json:"jurisdiction"`
	Amount       decimal.Decimal  `json:"amount"`
	Certificate  string           `json:"certificate,omitempty"`
}

// WithholdingGroup is the per-account total posted to the ledger.
type WithholdingGroup struct {
	ID        int64            `json:"id"`
	TaxType   accounts.TaxType `json:"tax_type"`
	AccountID int64            `json:"account_id"`
	Amount    decimal.Decimal  `json:"amount"`
}

// Application settles part of an invoice.
type Application struct {
	ID        int64           `json:"id"`
	InvoiceID int64           `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// CheckTotals verifies TotalApplied equals the applications and that
// payments plus withholdings cover it, both within tolerance.
func (r Receipt) CheckTotals() error {
	payments, withholdings, applied := decimal.Zero, decimal.Zero, decimal.Zero
	for _, p := range r.Payments {
		payments = payments.Add(p.Amount)
	}
	for _, w := range r.Withholdings {
		withholdings = withholdings.Add(w.Amount)
	}
	for _, a := range r.Applications {
		applied = applied.Add(a.Amount)
	}
	verr := &shared.ValidationError{}
	if !shared.WithinTolerance(applied, r.TotalApplied) {
		verr.Addf("applications", "sum %s does not match total_applied %s", applied.StringFixed(2), r.TotalApplied.StringFixed(2))
	}
	if !shared.WithinTolerance(payments.Add(withholdings), r.TotalApplied) {
		verr.Addf("payments", "payments %s plus withholdings %s do not match total_applied %s",
			payments.StringFixed(2), withholdings.StringFixed(2), r.TotalApplied.StringFixed(2))
	}
	return verr.OrNil()
}

func (r Receipt) event(actor string) posting.ReceiptEvent {
	ev := posting.ReceiptEvent{
		ReceiptID:    r.ID,
		Number:       r.Number,
		Date:         r.Date,
		TotalApplied: r.TotalApplied,
		Actor:        actor,
	}
	for _, p := range r.Payments {
		ev.Payments = append(ev.Payments, posting.Payment{Method: p.Method, Amount: p.Amount, Reference: p.Reference, AccountID: p.AccountID})
	}
	for _, w := range r.Withholdings {
		ev.Withholdings = append(ev.Withholdings, posting.Withholding{
			TaxType:      w.TaxType,
			Jurisdiction: w.Jurisdiction,
			Amount:       w.Amount,
			Certificate:  w.Certificate,
		})
	}
	return ev
}
