// Package posting builds the journal entries that business events generate
// automatically. Generators are pure: they read a resolved account registry
// and return a PostingInput for journals.Service.PostInTx.
package posting

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/shared"
)

// Source modules stamped on generated entries.
const (
	SourceCMV        = "CMV"
	SourcePurchase   = "PURCHASE"
	SourceCreditNote = "PURCHASE_CREDIT_NOTE"
	SourceReceipt    = "RECEIPT"
)

// ErrRevenuePostingUnsupported is returned by SalesRevenue.
var ErrRevenuePostingUnsupported = errors.New("posting: sales revenue entries are not generated automatically")

// Accounts resolves account keys. *accounts.Registry satisfies it.
type Accounts interface {
	Account(key accounts.Key) (accounts.Account, error)
}

var sourceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("pampa:journal-source"))

// SourceID derives the stable source identifier of a business document, so a
// second posting of the same document hits the source uniqueness constraint.
func SourceID(module string, id int64) uuid.UUID {
	return uuid.NewSHA1(sourceNamespace, []byte(fmt.Sprintf("%s:%d", module, id)))
}

// SalesRevenue is reserved for revenue-side automation, which is not generated.
func SalesRevenue() (journals.PostingInput, error) {
	return journals.PostingInput{}, ErrRevenuePostingUnsupported
}

type builder struct {
	reg   Accounts
	lines []journals.PostingLineInput
	err   error
}

func (b *builder) debitKey(key accounts.Key, amount decimal.Decimal, desc string) {
	if b.err != nil {
		return
	}
	acc, err := b.reg.Account(key)
	if err != nil {
		b.err = err
		return
	}
	b.debit(acc.ID, amount, desc)
}

func (b *builder) creditKey(key accounts.Key, amount decimal.Decimal, desc string) {
	if b.err != nil {
		return
	}
	acc, err := b.reg.Account(key)
	if err != nil {
		b.err = err
		return
	}
	b.credit(acc.ID, amount, desc)
}

func (b *builder) debit(accountID int64, amount decimal.Decimal, desc string) {
	if amount.IsZero() {
		return
	}
	b.lines = append(b.lines, journals.PostingLineInput{AccountID: accountID, Debit: amount, Credit: decimal.Zero, Description: desc})
}

func (b *builder) credit(accountID int64, amount decimal.Decimal, desc string) {
	if amount.IsZero() {
		return
	}
	b.lines = append(b.lines, journals.PostingLineInput{AccountID: accountID, Debit: decimal.Zero, Credit: amount, Description: desc})
}

func (b *builder) totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range b.lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// balanced returns the lines, or UnbalancedEntryError when they differ by more than the tolerance.
func (b *builder) balanced() ([]journals.PostingLineInput, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.lines) == 0 {
		return nil, journals.ErrNothingToPost
	}
	debit, credit := b.totals()
	if !shared.WithinTolerance(debit, credit) {
		return nil, &shared.UnbalancedEntryError{Debit: debit, Credit: credit}
	}
	return b.lines, nil
}

func rateOrOne(rate decimal.Decimal) decimal.Decimal {
	if rate.IsZero() {
		return decimal.NewFromInt(1)
	}
	return rate
}
