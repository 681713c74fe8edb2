package shared

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidStatus indicates the requested state transition is not allowed.
	ErrInvalidStatus = errors.New("invalid status transition")
	// ErrConflict indicates the write collides with existing state.
	ErrConflict = errors.New("conflict")
	// ErrUnauthenticated indicates the request carries no principal.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden indicates the principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// FieldError describes a single invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field level problems in caller input.
type ValidationError struct {
	Fields []FieldError
}

// NewValidationError builds a ValidationError with one field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add appends a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// Addf appends a formatted field problem.
func (e *ValidationError) Addf(field, format string, args ...any) {
	e.Add(field, fmt.Sprintf(format, args...))
}

// OrNil returns nil when no field was added.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// UnbalancedEntryError is returned when debits and credits differ beyond BalanceTolerance.
type UnbalancedEntryError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Difference returns debit minus credit.
func (e *UnbalancedEntryError) Difference() decimal.Decimal {
	return e.Debit.Sub(e.Credit)
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("unbalanced entry: debit %s, credit %s, difference %s",
		e.Debit.StringFixed(2), e.Credit.StringFixed(2), e.Difference().StringFixed(2))
}

// MissingAccountError names an account that could not be resolved, either by code or by id.
type MissingAccountError struct {
	Key       string
	Code      string
	AccountID int64
}

func (e *MissingAccountError) Error() string {
	switch {
	case e.Code != "" && e.Key != "":
		return fmt.Sprintf("missing account %s (code %s)", e.Key, e.Code)
	case e.Code != "":
		return fmt.Sprintf("missing account code %s", e.Code)
	case e.Key != "":
		return fmt.Sprintf("missing account %s: no code configured", e.Key)
	default:
		return fmt.Sprintf("missing account id %d", e.AccountID)
	}
}

// AccountNotLeafError is returned when a line targets an account that does not accept entries.
type AccountNotLeafError struct {
	AccountID int64
	Code      string
}

func (e *AccountNotLeafError) Error() string {
	return fmt.Sprintf("account %s (id %d) does not accept entries", e.Code, e.AccountID)
}

// OverInvoiceError is returned when a quote item is invoiced beyond its remaining quantity.
type OverInvoiceError struct {
	QuoteItemID int64
	Requested   decimal.Decimal
	Remaining   decimal.Decimal
}

func (e *OverInvoiceError) Error() string {
	return fmt.Sprintf("quote item %d: requested %s, remaining %s", e.QuoteItemID, e.Requested.String(), e.Remaining.String())
}

// InsufficientStockError is returned when a movement would leave a product below zero.
type InsufficientStockError struct {
	ProductID int64
	SKU       string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (id %d): available %s, requested %s", e.SKU, e.ProductID, e.Available.String(), e.Requested.String())
}

// NoExchangeRateError is returned when no rate covers the currency on the date.
type NoExchangeRateError struct {
	Currency string
	Date     time.Time
}

func (e *NoExchangeRateError) Error() string {
	return fmt.Sprintf("no exchange rate for %s on %s", e.Currency, e.Date.Format(time.DateOnly))
}

// ExternalServiceError wraps failures talking to an external collaborator.
type ExternalServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := fmt.Sprintf("%s: %s failed", e.Service, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
