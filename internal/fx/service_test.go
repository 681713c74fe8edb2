package fx

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/shared"
)

type memoryRepo struct {
	rates  []Rate
	nextID int64
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) List(ctx context.Context, currency string) ([]Rate, error) {
	return r.ListRates(ctx, currency)
}

func (r *memoryRepo) ListRates(ctx context.Context, currency string) ([]Rate, error) {
	var out []Rate
	for _, rate := range r.rates {
		if currency == "" || rate.Currency == currency {
			out = append(out, rate)
		}
	}
	return out, nil
}

func (r *memoryRepo) InsertRate(ctx context.Context, rate Rate) (Rate, error) {
	r.nextID++
	rate.ID = r.nextID
	r.rates = append(r.rates, rate)
	return rate, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTableRateAt(t *testing.T) {
	march := day(2026, 3, 1)
	april := day(2026, 4, 1)
	table := NewTable("ARS", []Rate{
		{Currency: "USD", Rate: decimal.NewFromInt(1050), Validity: shared.DateRange{From: march, To: &april}},
		{Currency: "usd", Rate: decimal.NewFromInt(1100), Validity: shared.DateRange{From: april}},
	})

	rate, err := table.RateAt("ARS", march)
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(1)))

	rate, err = table.RateAt("USD", day(2026, 3, 31))
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(1050)))

	rate, err = table.RateAt("USD", april)
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(1100)))

	_, err = table.RateAt("USD", day(2026, 2, 28))
	var missing *shared.NoExchangeRateError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "USD", missing.Currency)
	require.True(t, IsMissingRate(err))

	_, err = table.RateAt("EUR", april)
	require.Error(t, err)
}

func TestConvertRoundsToCents(t *testing.T) {
	table := NewTable("ARS", []Rate{{Currency: "USD", Rate: decimal.RequireFromString("1050.125"), Validity: shared.DateRange{From: day(2026, 1, 1)}}})
	amount, rate, err := Convert(table, decimal.RequireFromString("3"), "USD", day(2026, 5, 5))
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.RequireFromString("1050.125")))
	require.Equal(t, "3150.38", amount.StringFixed(2))
}

func TestCreateRejectsOverlap(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, "ARS", nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRateRequest{Currency: "usd", Rate: decimal.NewFromInt(1000), ValidFrom: "2026-01-01", ValidTo: "2026-02-01"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateRateRequest{Currency: "USD", Rate: decimal.NewFromInt(1010), ValidFrom: "2026-01-31"})
	require.ErrorIs(t, err, ErrOverlappingRate)

	created, err := svc.Create(ctx, CreateRateRequest{Currency: "USD", Rate: decimal.NewFromInt(1010), ValidFrom: "2026-02-01"})
	require.NoError(t, err)
	require.Equal(t, "USD", created.Currency)
	require.Len(t, repo.rates, 2)
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(&memoryRepo{}, "ARS", nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRateRequest{Currency: "ARS", Rate: decimal.NewFromInt(1), ValidFrom: "2026-01-01"})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.Create(ctx, CreateRateRequest{Currency: "USD", Rate: decimal.NewFromInt(1), ValidFrom: "2026-02-01", ValidTo: "2026-01-01"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "valid_to", verr.Fields[0].Field)

	_, err = svc.Create(ctx, CreateRateRequest{Currency: "USD", ValidFrom: "2026-02-01"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "rate", verr.Fields[0].Field)
}

func TestLoadTableSkipsLedgerCurrency(t *testing.T) {
	repo := &memoryRepo{rates: []Rate{{Currency: "USD", Rate: decimal.NewFromInt(900), Validity: shared.DateRange{From: day(2025, 1, 1)}}}}
	table, err := LoadTable(context.Background(), repo, "ARS", "ARS", "usd", "USD")
	require.NoError(t, err)
	rate, err := table.RateAt("USD", day(2026, 1, 1))
	require.NoError(t, err)
	require.True(t, rate.Equal(decimal.NewFromInt(900)))
}
