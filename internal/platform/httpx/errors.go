// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pampa-erp/pampa/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Business
// rule rejections are 400 with a field list; anything unrecognised is logged
// and answered with a generic 500.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		validation  *shared.ValidationError
		unbalanced  *shared.UnbalancedEntryError
		missing     *shared.MissingAccountError
		notLeaf     *shared.AccountNotLeafError
		overInvoice *shared.OverInvoiceError
		noStock     *shared.InsufficientStockError
		noRate      *shared.NoExchangeRateError
		external    *shared.ExternalServiceError
	)
	switch {
	case errors.As(err, &validation):
		ProblemWithErrors(w, http.StatusBadRequest, "Validation Failed", "", validation.Fields)
	case errors.As(err, &unbalanced):
		ProblemWithErrors(w, http.StatusBadRequest, "Unbalanced Entry", unbalanced.Error(), []shared.FieldError{
			{Field: "lines", Message: unbalanced.Error()},
		})
	case errors.As(err, &overInvoice):
		ProblemWithErrors(w, http.StatusBadRequest, "Over Invoicing", overInvoice.Error(), []shared.FieldError{
			{Field: "items", Message: overInvoice.Error()},
		})
	case errors.As(err, &noStock):
		ProblemWithErrors(w, http.StatusBadRequest, "Insufficient Stock", noStock.Error(), []shared.FieldError{
			{Field: "quantity", Message: noStock.Error()},
		})
	case errors.As(err, &notLeaf):
		ProblemWithErrors(w, http.StatusBadRequest, "Account Not Leaf", notLeaf.Error(), []shared.FieldError{
			{Field: "account_id", Message: notLeaf.Error()},
		})
	case errors.As(err, &missing):
		ProblemWithErrors(w, http.StatusBadRequest, "Missing Account", missing.Error(), []shared.FieldError{
			{Field: "account", Message: missing.Error()},
		})
	case errors.As(err, &noRate):
		ProblemWithErrors(w, http.StatusBadRequest, "No Exchange Rate", noRate.Error(), []shared.FieldError{
			{Field: "currency", Message: noRate.Error()},
		})
	case errors.As(err, &external):
		logger.Warn("external service failure", slog.String("path", r.URL.Path), slog.Any("error", err))
		Problem(w, http.StatusBadGateway, "External Service Unavailable", external.Service)
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidStatus):
		ProblemWithErrors(w, http.StatusBadRequest, "Invalid Status", err.Error(), []shared.FieldError{
			{Field: "status", Message: err.Error()},
		})
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, shared.ErrUnauthenticated):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request deadline exceeded", slog.String("path", r.URL.Path))
		Problem(w, http.StatusServiceUnavailable, "Timeout", "")
	default:
		logger.Error("unexpected error",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
