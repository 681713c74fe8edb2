package posting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/shared"
)

// PurchaseItem is the net amount of one purchase line.
type PurchaseItem struct {
	Description string
	Net         decimal.Decimal
	// AccountID overrides the merchandise inventory account.
	AccountID *int64
}

// Perception is a tax collected in advance by the supplier.
type Perception struct {
	TaxType      accounts.TaxType
	Jurisdiction string
	Amount       decimal.Decimal
}

// PurchaseEvent describes an approved purchase invoice. Amounts are in the
// invoice currency; ExchangeRate converts them to the ledger currency.
type PurchaseEvent struct {
	PurchaseInvoiceID int64
	Reference         string
	SupplierName      string
	IssueDate         time.Time
	ExchangeRate      decimal.Decimal
	Items             []PurchaseItem
	Tax               decimal.Decimal
	Perceptions       []Perception
	Total             decimal.Decimal
	Actor             string
}

// PurchaseInvoice debits each item, VAT credit and perceptions, and credits
// accounts payable for the total. The document itself must add up within
// tolerance; after conversion AP takes the sum of the converted debits.
func PurchaseInvoice(reg Accounts, ev PurchaseEvent) (journals.PostingInput, error) {
	debits := ev.Tax
	for _, item := range ev.Items {
		debits = debits.Add(item.Net)
	}
	for _, p := range ev.Perceptions {
		debits = debits.Add(p.Amount)
	}
	if !shared.WithinTolerance(debits, ev.Total) {
		return journals.PostingInput{}, &shared.UnbalancedEntryError{Debit: debits, Credit: ev.Total}
	}

	rate := rateOrOne(ev.ExchangeRate)
	conv := func(d decimal.Decimal) decimal.Decimal { return shared.Round2(d.Mul(rate)) }
	desc := fmt.Sprintf("Compra %s %s", ev.Reference, ev.SupplierName)

	b := &builder{reg: reg}
	for _, item := range ev.Items {
		lineDesc := item.Description
		if lineDesc == "" {
			lineDesc = desc
		}
		if item.AccountID != nil {
			b.debit(*item.AccountID, conv(item.Net), lineDesc)
			continue
		}
		b.debitKey(accounts.KeyMerchandiseInventory, conv(item.Net), lineDesc)
	}
	b.debitKey(accounts.KeyVATCredit, conv(ev.Tax), "IVA crédito fiscal")
	for _, p := range ev.Perceptions {
		key, err := accounts.PerceptionAccountKey(p.TaxType, p.Jurisdiction)
		if err != nil {
			return journals.PostingInput{}, shared.NewValidationError("perceptions", err.Error())
		}
		b.debitKey(key, conv(p.Amount), perceptionDescription(p))
	}
	debit, _ := b.totals()
	b.creditKey(accounts.KeyAccountsPayable, debit, desc)

	lines, err := b.balanced()
	if err != nil {
		return journals.PostingInput{}, err
	}
	return journals.PostingInput{
		Date:         ev.IssueDate,
		Description:  desc,
		Reference:    ev.Reference,
		SourceModule: SourcePurchase,
		SourceID:     SourceID(SourcePurchase, ev.PurchaseInvoiceID),
		CreatedBy:    ev.Actor,
		Lines:        lines,
	}, nil
}

func perceptionDescription(p Perception) string {
	if name, ok := accounts.JurisdictionName(p.Jurisdiction); ok && p.TaxType == accounts.TaxTypeGrossReceipts {
		return fmt.Sprintf("Percepción %s %s", p.TaxType, name)
	}
	return fmt.Sprintf("Percepción %s", p.TaxType)
}
