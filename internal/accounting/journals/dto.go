package journals

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/shared"
)

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// PostingInput groups fields required to create a journal entry.
type PostingInput struct {
	Date         time.Time
	Description  string
	Reference    string
	SourceModule string
	SourceID     uuid.UUID
	// Draft saves the entry as DRAFT; balance is then enforced on Confirm.
	Draft     bool
	CreatedBy string
	Lines     []PostingLineInput
}

// Totals returns the sums of debits and credits.
func (in PostingInput) Totals() (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, l := range in.Lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Validate checks the structure of the input and, unless Draft, its balance.
func (in PostingInput) Validate() error {
	verr := &shared.ValidationError{}
	if in.Date.IsZero() {
		verr.Add("date", "is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		verr.Add("description", "is required")
	}
	if len(in.Lines) < 2 {
		verr.Add("lines", "an entry requires at least two lines")
	}
	for idx, line := range in.Lines {
		field := fmt.Sprintf("lines[%d]", idx)
		if line.AccountID <= 0 {
			verr.Add(field+".account_id", "is required")
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			verr.Add(field, "amounts cannot be negative")
			continue
		}
		if line.Debit.IsPositive() == line.Credit.IsPositive() {
			verr.Add(field, "exactly one of debit or credit must be non-zero")
		}
	}
	if err := verr.OrNil(); err != nil {
		return err
	}
	if !in.Draft {
		return checkBalanced(in.Totals())
	}
	return nil
}

func checkBalanced(debit, credit decimal.Decimal) error {
	if !shared.WithinTolerance(debit, credit) {
		return &shared.UnbalancedEntryError{Debit: debit, Credit: credit}
	}
	return nil
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	EntryID int64
	// Date of the reversing entry; defaults to the original date.
	Date   *time.Time
	Reason string
	Actor  string
}

// EntryRequest is the HTTP payload for manual entries.
type EntryRequest struct {
	Date        string        `json:"date" validate:"required,datetime=2006-01-02"`
	Description string        `json:"description" validate:"required,max=255"`
	Reference   string        `json:"reference" validate:"max=64"`
	Status      Status        `json:"status" validate:"omitempty,oneof=DRAFT POSTED"`
	Lines       []LineRequest `json:"lines" validate:"min=2,dive"`
}

// LineRequest is one line of EntryRequest.
type LineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Debit       decimal.Decimal `json:"debit" validate:"gte=0"`
	Credit      decimal.Decimal `json:"credit" validate:"gte=0"`
	Description string          `json:"description" validate:"max=255"`
}

// ToInput converts a validated request into a PostingInput.
func (r EntryRequest) ToInput(actor string) (PostingInput, error) {
	if err := shared.Validate(r); err != nil {
		return PostingInput{}, err
	}
	date, err := time.Parse(time.DateOnly, r.Date)
	if err != nil {
		return PostingInput{}, shared.NewValidationError("date", "must be YYYY-MM-DD")
	}
	in := PostingInput{
		Date:         date,
		Description:  strings.TrimSpace(r.Description),
		Reference:    strings.TrimSpace(r.Reference),
		SourceModule: "MANUAL",
		Draft:        r.Status != StatusPosted,
		CreatedBy:    actor,
		Lines:        make([]PostingLineInput, 0, len(r.Lines)),
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, PostingLineInput{
			AccountID:   l.AccountID,
			Debit:       shared.Round2(l.Debit),
			Credit:      shared.Round2(l.Credit),
			Description: strings.TrimSpace(l.Description),
		})
	}
	return in, nil
}

// ReverseRequest is the HTTP payload for reversals.
type ReverseRequest struct {
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Reason string `json:"reason" validate:"required,max=255"`
}
