package journals

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/shared"
)

func TestEntryRequestToInput(t *testing.T) {
	req := EntryRequest{
		Date:        "2026-04-01",
		Description: " Ajuste caja ",
		Lines: []LineRequest{
			{AccountID: 1, Debit: decimal.RequireFromString("10.005")},
			{AccountID: 2, Credit: decimal.RequireFromString("10.01")},
		},
	}
	in, err := req.ToInput("u9")
	require.NoError(t, err)
	require.True(t, in.Draft)
	require.Equal(t, "MANUAL", in.SourceModule)
	require.Equal(t, "Ajuste caja", in.Description)
	require.True(t, in.Lines[0].Debit.Equal(decimal.RequireFromString("10.01")))

	req.Status = StatusPosted
	in, err = req.ToInput("u9")
	require.NoError(t, err)
	require.False(t, in.Draft)
}

func TestEntryRequestValidation(t *testing.T) {
	req := EntryRequest{Date: "01/04/2026", Lines: []LineRequest{{AccountID: 1}}}
	_, err := req.ToInput("u9")
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	fields := map[string]bool{}
	for _, f := range verr.Fields {
		fields[f.Field] = true
	}
	require.True(t, fields["date"])
	require.True(t, fields["description"])
	require.True(t, fields["lines"])
}
