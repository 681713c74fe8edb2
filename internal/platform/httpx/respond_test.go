package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/shared"
)

func respond(t *testing.T, err error) (int, ProblemDetail) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/test", nil)
	RespondError(rec, req, slog.New(slog.NewTextHandler(io.Discard, nil)), err)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", shared.NewValidationError("date", "is required"), http.StatusBadRequest},
		{"unbalanced", &shared.UnbalancedEntryError{Debit: decimal.NewFromInt(10), Credit: decimal.NewFromInt(9)}, http.StatusBadRequest},
		{"over invoice", fmt.Errorf("generate: %w", &shared.OverInvoiceError{QuoteItemID: 3}), http.StatusBadRequest},
		{"stock", &shared.InsufficientStockError{ProductID: 1, SKU: "A"}, http.StatusBadRequest},
		{"not found", fmt.Errorf("quotations: %w", shared.ErrNotFound), http.StatusNotFound},
		{"forbidden", shared.ErrForbidden, http.StatusForbidden},
		{"unauthenticated", shared.ErrUnauthenticated, http.StatusUnauthorized},
		{"external", &shared.ExternalServiceError{Service: "taxid", Op: "lookup"}, http.StatusBadGateway},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := respond(t, tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.status, body.Status)
		})
	}
}

func TestRespondErrorListsFields(t *testing.T) {
	verr := shared.NewValidationError("lines[0].debit", "must be at least 0")
	verr.Add("date", "is required")
	_, body := respond(t, verr)
	require.Len(t, body.Errors, 2)
	assert.Equal(t, "date", body.Errors[1].Field)
}

func TestInternalErrorDoesNotLeakDetail(t *testing.T) {
	_, body := respond(t, fmt.Errorf("pq: relation secret_table does not exist"))
	assert.Empty(t, body.Detail)
}
