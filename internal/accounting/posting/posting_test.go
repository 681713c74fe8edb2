package posting

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/shared"
)

func testRegistry() *accounts.Registry {
	resolved := make(map[accounts.Key]accounts.Account)
	for i, key := range accounts.RequiredKeys() {
		resolved[key] = accounts.Account{ID: int64(100 + i), Code: accounts.DefaultCodes()[key], AcceptsEntries: true, IsActive: true}
	}
	return accounts.NewRegistry(resolved)
}

func accountID(t *testing.T, reg *accounts.Registry, key accounts.Key) int64 {
	t.Helper()
	acc, err := reg.Account(key)
	require.NoError(t, err)
	return acc.ID
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireBalanced(t *testing.T, in journals.PostingInput) {
	t.Helper()
	debit, credit := in.Totals()
	require.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
	require.NoError(t, in.Validate())
}

var issue = time.Date(2026, 5, 14, 0, 0, 0, 0, time.UTC)

func TestCostOfGoodsSoldInLedgerCurrency(t *testing.T) {
	reg := testRegistry()
	in, err := CostOfGoodsSold(reg, fx.NewTable("ARS", nil), CMVEvent{
		InvoiceID:  7,
		InvoiceRef: "A-0001-00000007",
		IssueDate:  issue,
		Items:      []CMVItem{{ProductID: 1, Quantity: d("5"), UnitCost: d("100"), Currency: "ARS"}},
	})
	require.NoError(t, err)
	require.Len(t, in.Lines, 2)
	require.Equal(t, accountID(t, reg, accounts.KeyCostOfGoodsSold), in.Lines[0].AccountID)
	require.True(t, in.Lines[0].Debit.Equal(d("500")))
	require.Equal(t, accountID(t, reg, accounts.KeyMerchandiseInventory), in.Lines[1].AccountID)
	require.True(t, in.Lines[1].Credit.Equal(d("500")))
	require.Equal(t, SourceCMV, in.SourceModule)
	require.Equal(t, SourceID(SourceCMV, 7), in.SourceID)
	requireBalanced(t, in)
}

func TestCostOfGoodsSoldConvertsForeignCost(t *testing.T) {
	rates := fx.NewTable("ARS", []fx.Rate{{Currency: "USD", Rate: d("1000"), Validity: shared.DateRange{From: issue.AddDate(0, 0, -10)}}})
	in, err := CostOfGoodsSold(testRegistry(), rates, CMVEvent{
		InvoiceID: 8,
		IssueDate: issue,
		Items: []CMVItem{
			{Quantity: d("2"), UnitCost: d("1.5"), Currency: "USD"},
			{Quantity: d("1"), UnitCost: d("10"), Currency: ""},
		},
	})
	require.NoError(t, err)
	require.True(t, in.Lines[0].Debit.Equal(d("3010")))
	requireBalanced(t, in)
}

func TestCostOfGoodsSoldWithoutRate(t *testing.T) {
	_, err := CostOfGoodsSold(testRegistry(), fx.NewTable("ARS", nil), CMVEvent{
		IssueDate: issue,
		Items:     []CMVItem{{Quantity: d("1"), UnitCost: d("1"), Currency: "USD"}},
	})
	var missing *shared.NoExchangeRateError
	require.ErrorAs(t, err, &missing)
}

func TestCostOfGoodsSoldZeroCost(t *testing.T) {
	_, err := CostOfGoodsSold(testRegistry(), fx.NewTable("ARS", nil), CMVEvent{IssueDate: issue, Items: []CMVItem{{Quantity: d("3"), UnitCost: decimal.Zero}}})
	require.ErrorIs(t, err, journals.ErrNothingToPost)
}

func TestPurchaseInvoice(t *testing.T) {
	reg := testRegistry()
	freight := int64(555)
	in, err := PurchaseInvoice(reg, PurchaseEvent{
		PurchaseInvoiceID: 3,
		Reference:         "A-0003-00001234",
		SupplierName:      "Distribuidora Norte",
		IssueDate:         issue,
		Items: []PurchaseItem{
			{Description: "Tornillos", Net: d("1000")},
			{Description: "Flete", Net: d("200"), AccountID: &freight},
		},
		Tax: d("252"),
		Perceptions: []Perception{
			{TaxType: accounts.TaxTypeGrossReceipts, Jurisdiction: "902", Amount: d("30")},
			{TaxType: accounts.TaxTypeVAT, Amount: d("36")},
		},
		Total: d("1518"),
	})
	require.NoError(t, err)
	requireBalanced(t, in)

	byAccount := map[int64]journals.PostingLineInput{}
	for _, l := range in.Lines {
		byAccount[l.AccountID] = l
	}
	require.True(t, byAccount[freight].Debit.Equal(d("200")))
	require.True(t, byAccount[accountID(t, reg, accounts.KeyMerchandiseInventory)].Debit.Equal(d("1000")))
	require.True(t, byAccount[accountID(t, reg, accounts.KeyVATCredit)].Debit.Equal(d("252")))
	require.True(t, byAccount[accountID(t, reg, accounts.KeyPerceptionGrossReceipts)].Debit.Equal(d("30")))
	require.True(t, byAccount[accountID(t, reg, accounts.KeyPerceptionVAT)].Debit.Equal(d("36")))
	require.True(t, byAccount[accountID(t, reg, accounts.KeyAccountsPayable)].Credit.Equal(d("1518")))
}

func TestPurchaseInvoiceTolerance(t *testing.T) {
	ev := PurchaseEvent{IssueDate: issue, Items: []PurchaseItem{{Net: d("100")}}, Tax: d("21"), Total: d("121.01")}
	_, err := PurchaseInvoice(testRegistry(), ev)
	require.NoError(t, err)

	ev.Total = d("121.02")
	_, err = PurchaseInvoice(testRegistry(), ev)
	var unbalanced *shared.UnbalancedEntryError
	require.ErrorAs(t, err, &unbalanced)
}

func TestPurchaseInvoiceUnknownJurisdiction(t *testing.T) {
	_, err := PurchaseInvoice(testRegistry(), PurchaseEvent{
		IssueDate:   issue,
		Items:       []PurchaseItem{{Net: d("100")}},
		Perceptions: []Perception{{TaxType: accounts.TaxTypeGrossReceipts, Jurisdiction: "999", Amount: d("1")}},
		Total:       d("101"),
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPurchaseInvoiceConvertsForeignCurrency(t *testing.T) {
	in, err := PurchaseInvoice(testRegistry(), PurchaseEvent{
		IssueDate:    issue,
		ExchangeRate: d("1000.333"),
		Items:        []PurchaseItem{{Net: d("10")}, {Net: d("10")}},
		Tax:          d("4.2"),
		Total:        d("24.2"),
	})
	require.NoError(t, err)
	requireBalanced(t, in)
}

func TestPurchaseCreditNote(t *testing.T) {
	reg := testRegistry()
	in, totals, err := PurchaseCreditNote(reg, CreditNoteEvent{
		CreditNoteID: 11,
		Reference:    "NC-0001-00000011",
		Date:         issue,
		Items: []ReturnedItem{
			{Description: "Tornillos", Quantity: d("2"), UnitCost: d("50"), DiscountPct: d("10"), VATRate: d("21")},
			{Description: "Arandelas", Quantity: d("1"), UnitCost: d("20"), VATRate: d("10.5")},
		},
	})
	require.NoError(t, err)
	require.True(t, totals.Net.Equal(d("110")))
	require.True(t, totals.Tax.Equal(d("21")))
	require.True(t, totals.Total.Equal(d("131")))
	requireBalanced(t, in)

	ap := in.Lines[len(in.Lines)-1]
	require.Equal(t, accountID(t, reg, accounts.KeyAccountsPayable), ap.AccountID)
	require.True(t, ap.Debit.Equal(d("131")))
}

func TestReceiptAggregatesWithholdingsByAccount(t *testing.T) {
	reg := testRegistry()
	in, groups, err := Receipt(reg, ReceiptEvent{
		ReceiptID: 21,
		Number:    "R-00000021",
		Date:      issue,
		Payments: []Payment{
			{Method: PaymentTransfer, Amount: d("900"), Reference: "TRF 88"},
			{Method: PaymentCash, Amount: d("25")},
		},
		Withholdings: []Withholding{
			{TaxType: accounts.TaxTypeGrossReceipts, Jurisdiction: "902", Amount: d("30")},
			{TaxType: accounts.TaxTypeGrossReceipts, Jurisdiction: "901", Amount: d("45")},
		},
		TotalApplied: d("1000"),
	})
	require.NoError(t, err)
	requireBalanced(t, in)
	require.Len(t, groups, 1)
	require.True(t, groups[0].Amount.Equal(d("75")))
	require.Equal(t, []string{"901", "902"}, groups[0].Jurisdictions())

	iibb := accountID(t, reg, accounts.KeyWithholdingGrossReceipts)
	var withholdingLines []journals.PostingLineInput
	for _, l := range in.Lines {
		if l.AccountID == iibb {
			withholdingLines = append(withholdingLines, l)
		}
	}
	require.Len(t, withholdingLines, 1)
	require.True(t, withholdingLines[0].Debit.Equal(d("75")))
	require.Contains(t, withholdingLines[0].Description, "901, 902")
	require.Len(t, in.Lines, 4)
}

func TestReceiptUnbalanced(t *testing.T) {
	_, _, err := Receipt(testRegistry(), ReceiptEvent{
		Date:         issue,
		Payments:     []Payment{{Method: PaymentCheque, Amount: d("99")}},
		TotalApplied: d("100"),
	})
	var unbalanced *shared.UnbalancedEntryError
	require.ErrorAs(t, err, &unbalanced)
}

func TestReceiptUnknownMethod(t *testing.T) {
	_, _, err := Receipt(testRegistry(), ReceiptEvent{
		Date:         issue,
		Payments:     []Payment{{Method: "BITCOIN", Amount: d("1")}},
		TotalApplied: d("1"),
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSourceIDIsStable(t *testing.T) {
	require.Equal(t, SourceID(SourceReceipt, 1), SourceID(SourceReceipt, 1))
	require.NotEqual(t, SourceID(SourceReceipt, 1), SourceID(SourceCMV, 1))
}

func TestSalesRevenueUnsupported(t *testing.T) {
	_, err := SalesRevenue()
	require.ErrorIs(t, err, ErrRevenuePostingUnsupported)
}
