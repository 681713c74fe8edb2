package posting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/shared"
)

// ReturnedItem is a purchase line sent back to the supplier.
type ReturnedItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	DiscountPct decimal.Decimal
	VATRate     decimal.Decimal
	AccountID   *int64
}

// Net is quantity × cost after the line discount, rounded to cents.
func (i ReturnedItem) Net() decimal.Decimal {
	return shared.Round2(shared.ApplyDiscount(i.Quantity.Mul(i.UnitCost), i.DiscountPct))
}

// Tax is the VAT of the net amount, rounded to cents.
func (i ReturnedItem) Tax() decimal.Decimal {
	return shared.Round2(shared.Percent(i.Net(), i.VATRate))
}

// CreditNoteEvent describes a supplier credit note against a purchase invoice.
type CreditNoteEvent struct {
	CreditNoteID      int64
	PurchaseInvoiceID int64
	Reference         string
	Date              time.Time
	ExchangeRate      decimal.Decimal
	Items             []ReturnedItem
	Actor             string
}

// CreditNoteTotals are the document totals in the invoice currency.
type CreditNoteTotals struct {
	Net   decimal.Decimal
	Tax   decimal.Decimal
	Total decimal.Decimal
}

// PurchaseCreditNote inverts a purchase: it debits accounts payable and credits
// VAT credit and the original account of every returned item.
func PurchaseCreditNote(reg Accounts, ev CreditNoteEvent) (journals.PostingInput, CreditNoteTotals, error) {
	totals := CreditNoteTotals{Net: decimal.Zero, Tax: decimal.Zero}
	for _, item := range ev.Items {
		totals.Net = totals.Net.Add(item.Net())
		totals.Tax = totals.Tax.Add(item.Tax())
	}
	totals.Total = totals.Net.Add(totals.Tax)

	rate := rateOrOne(ev.ExchangeRate)
	conv := func(d decimal.Decimal) decimal.Decimal { return shared.Round2(d.Mul(rate)) }
	desc := fmt.Sprintf("Nota de crédito %s", ev.Reference)

	b := &builder{reg: reg}
	for _, item := range ev.Items {
		if item.AccountID != nil {
			b.credit(*item.AccountID, conv(item.Net()), item.Description)
			continue
		}
		b.creditKey(accounts.KeyMerchandiseInventory, conv(item.Net()), item.Description)
	}
	b.creditKey(accounts.KeyVATCredit, conv(totals.Tax), "IVA crédito fiscal")
	_, credit := b.totals()
	b.debitKey(accounts.KeyAccountsPayable, credit, desc)

	lines, err := b.balanced()
	if err != nil {
		return journals.PostingInput{}, CreditNoteTotals{}, err
	}
	return journals.PostingInput{
		Date:         ev.Date,
		Description:  desc,
		Reference:    ev.Reference,
		SourceModule: SourceCreditNote,
		SourceID:     SourceID(SourceCreditNote, ev.CreditNoteID),
		CreatedBy:    ev.Actor,
		Lines:        lines,
	}, totals, nil
}
