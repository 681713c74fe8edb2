package posting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/shared"
)

// CMVItem is one product leaving stock on a sale, valued at its cost.
type CMVItem struct {
	ProductID int64
	SKU       string
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	// Currency of UnitCost; empty means the ledger currency.
	Currency string
}

// CMVEvent describes the cost side of an issued sales invoice.
type CMVEvent struct {
	InvoiceID  int64
	InvoiceRef string
	IssueDate  time.Time
	Items      []CMVItem
	Actor      string
}

// CostOfGoodsSold debits CMV and credits merchandise inventory for the cost of
// the items, converted to the ledger currency at the rate valid on IssueDate.
func CostOfGoodsSold(reg Accounts, rates fx.RateSource, ev CMVEvent) (journals.PostingInput, error) {
	total := decimal.Zero
	for _, item := range ev.Items {
		amount, _, err := fx.Convert(rates, item.Quantity.Mul(item.UnitCost), item.Currency, ev.IssueDate)
		if err != nil {
			return journals.PostingInput{}, err
		}
		total = total.Add(amount)
	}
	total = shared.Round2(total)
	if total.IsZero() {
		return journals.PostingInput{}, journals.ErrNothingToPost
	}
	desc := fmt.Sprintf("CMV factura %s", ev.InvoiceRef)
	b := &builder{reg: reg}
	b.debitKey(accounts.KeyCostOfGoodsSold, total, desc)
	b.creditKey(accounts.KeyMerchandiseInventory, total, desc)
	lines, err := b.balanced()
	if err != nil {
		return journals.PostingInput{}, err
	}
	return journals.PostingInput{
		Date:         ev.IssueDate,
		Description:  desc,
		Reference:    ev.InvoiceRef,
		SourceModule: SourceCMV,
		SourceID:     SourceID(SourceCMV, ev.InvoiceID),
		CreatedBy:    ev.Actor,
		Lines:        lines,
	}, nil
}
