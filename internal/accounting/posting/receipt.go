package posting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/shared"
)

// PaymentMethod identifies how a customer paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentCheque   PaymentMethod = "CHEQUE"
)

// AccountKey returns the default treasury account of the method.
func (m PaymentMethod) AccountKey() (accounts.Key, bool) {
	switch m {
	case PaymentCash:
		return accounts.KeyTreasuryCash, true
	case PaymentTransfer:
		return accounts.KeyTreasuryBank, true
	case PaymentCheque:
		return accounts.KeyTreasuryCheques, true
	}
	return "", false
}

// Payment is one means of payment on a receipt.
type Payment struct {
	Method    PaymentMethod
	Amount    decimal.Decimal
	Reference string
	// AccountID overrides the method's default treasury account.
	AccountID *int64
}

// Withholding is a tax withheld by the customer.
type Withholding struct {
	TaxType      accounts.TaxType
	Jurisdiction string
	Amount       decimal.Decimal
	Certificate  string
}

// WithholdingGroup aggregates withholdings that land on the same account.
type WithholdingGroup struct {
	TaxType   accounts.TaxType
	AccountID int64
	Amount    decimal.Decimal
	Lines     []Withholding
}

// Jurisdictions returns the sorted distinct jurisdictions of the group.
func (g WithholdingGroup) Jurisdictions() []string {
	seen := map[string]bool{}
	var out []string
	for _, l := range g.Lines {
		if l.Jurisdiction == "" || seen[l.Jurisdiction] {
			continue
		}
		seen[l.Jurisdiction] = true
		out = append(out, l.Jurisdiction)
	}
	sort.Strings(out)
	return out
}

// ReceiptEvent describes an approved customer receipt in the ledger currency.
type ReceiptEvent struct {
	ReceiptID    int64
	Number       string
	Date         time.Time
	Payments     []Payment
	Withholdings []Withholding
	TotalApplied decimal.Decimal
	Actor        string
}

// Receipt credits accounts receivable for the applied total and debits one
// line per payment plus one aggregated line per withholding account.
func Receipt(reg Accounts, ev ReceiptEvent) (journals.PostingInput, []WithholdingGroup, error) {
	groups, err := GroupWithholdings(reg, ev.Withholdings)
	if err != nil {
		return journals.PostingInput{}, nil, err
	}
	desc := fmt.Sprintf("Recibo %s", ev.Number)
	b := &builder{reg: reg}
	for _, p := range ev.Payments {
		lineDesc := strings.TrimSpace(fmt.Sprintf("%s %s", p.Method, p.Reference))
		if p.AccountID != nil {
			b.debit(*p.AccountID, p.Amount, lineDesc)
			continue
		}
		key, ok := p.Method.AccountKey()
		if !ok {
			return journals.PostingInput{}, nil, shared.NewValidationError("payments", fmt.Sprintf("unknown payment method %q", p.Method))
		}
		b.debitKey(key, p.Amount, lineDesc)
	}
	for _, g := range groups {
		b.debit(g.AccountID, g.Amount, withholdingDescription(g))
	}
	b.creditKey(accounts.KeyAccountsReceivable, ev.TotalApplied, desc)

	lines, err := b.balanced()
	if err != nil {
		return journals.PostingInput{}, nil, err
	}
	return journals.PostingInput{
		Date:         ev.Date,
		Description:  desc,
		Reference:    ev.Number,
		SourceModule: SourceReceipt,
		SourceID:     SourceID(SourceReceipt, ev.ReceiptID),
		CreatedBy:    ev.Actor,
		Lines:        lines,
	}, groups, nil
}

// GroupWithholdings collapses withholdings by ledger account, in first-seen order.
func GroupWithholdings(reg Accounts, in []Withholding) ([]WithholdingGroup, error) {
	var groups []WithholdingGroup
	index := map[int64]int{}
	for i, w := range in {
		key, err := accounts.WithholdingAccountKey(w.TaxType, w.Jurisdiction)
		if err != nil {
			return nil, shared.NewValidationError(fmt.Sprintf("withholdings[%d]", i), err.Error())
		}
		acc, err := reg.Account(key)
		if err != nil {
			return nil, err
		}
		pos, ok := index[acc.ID]
		if !ok {
			groups = append(groups, WithholdingGroup{TaxType: w.TaxType, AccountID: acc.ID, Amount: decimal.Zero})
			pos = len(groups) - 1
			index[acc.ID] = pos
		}
		groups[pos].Amount = groups[pos].Amount.Add(w.Amount)
		groups[pos].Lines = append(groups[pos].Lines, w)
	}
	return groups, nil
}

func withholdingDescription(g WithholdingGroup) string {
	jur := g.Jurisdictions()
	if len(jur) == 0 || (len(jur) == 1 && jur[0] == accounts.JurisdictionNational) {
		return fmt.Sprintf("Retención %s", g.TaxType)
	}
	return fmt.Sprintf("Retención %s (%s)", g.TaxType, strings.Join(jur, ", "))
}
