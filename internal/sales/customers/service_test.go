package customers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/integration"
	"github.com/pampa-erp/pampa/internal/shared"
)

type memoryRepo struct {
	customers map[int64]Customer
	nextID    int64
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (*Customer, error) {
	c, ok := m.customers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memoryRepo) GetByCUIT(ctx context.Context, cuit string) (*Customer, error) {
	for _, c := range m.customers {
		if c.CUIT != nil && *c.CUIT == cuit {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	var out []Customer
	for _, c := range m.customers {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Create(ctx context.Context, c Customer) (Customer, error) {
	m.nextID++
	c.ID = m.nextID
	m.customers[c.ID] = c
	return c, nil
}

type stubLookup struct {
	taxpayer integration.Taxpayer
	err      error
	calls    int
}

func (s *stubLookup) Lookup(ctx context.Context, cuit string) (integration.Taxpayer, error) {
	s.calls++
	return s.taxpayer, s.err
}

func ptr(s string) *string { return &s }

func TestNormalizeCUIT(t *testing.T) {
	cuit, err := NormalizeCUIT("20-12345678-6")
	require.NoError(t, err)
	require.Equal(t, "20123456786", cuit)
	require.Equal(t, "20-12345678-6", FormatCUIT(cuit))

	_, err = NormalizeCUIT("30712345671")
	require.NoError(t, err)

	for _, bad := range []string{"20-12345678-5", "2012345678", "20-1234567A-6", ""} {
		_, err := NormalizeCUIT(bad)
		require.ErrorIs(t, err, ErrInvalidCUIT, bad)
	}
}

func TestCreateCustomer(t *testing.T) {
	repo := &memoryRepo{customers: map[int64]Customer{}}
	svc := NewService(repo, nil, 0, nil)
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: "ana"})

	c, err := svc.Create(ctx, CreateCustomerRequest{Code: "c-001", Name: "Ferretería Sur", CUIT: ptr("20-12345678-6"), TaxCondition: TaxConditionRegistered})
	require.NoError(t, err)
	require.Equal(t, "C-001", c.Code)
	require.Equal(t, "20123456786", *c.CUIT)
	require.Equal(t, "ana", c.CreatedBy)

	_, err = svc.Create(ctx, CreateCustomerRequest{Code: "C-002", Name: "Otra", CUIT: ptr("20123456786"), TaxCondition: TaxConditionMonotributo})
	require.ErrorIs(t, err, ErrAlreadyExists)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCreateCustomerValidation(t *testing.T) {
	svc := NewService(&memoryRepo{customers: map[int64]Customer{}}, nil, 0, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateCustomerRequest{Code: "C-1", Name: "X", CUIT: ptr("20-12345678-5"), TaxCondition: TaxConditionRegistered})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "cuit", verr.Fields[0].Field)

	_, err = svc.Create(ctx, CreateCustomerRequest{Code: "C-1", Name: "X", TaxCondition: TaxConditionRegistered})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "cuit", verr.Fields[0].Field)

	c, err := svc.Create(ctx, CreateCustomerRequest{Code: "C-1", Name: "Mostrador", TaxCondition: TaxConditionFinalConsumer})
	require.NoError(t, err)
	require.Nil(t, c.CUIT)
}

func TestCreateCustomerEnrichment(t *testing.T) {
	lookup := &stubLookup{taxpayer: integration.Taxpayer{CUIT: "30712345671", Name: "Distribuidora Norte SA", TaxCondition: "RESPONSABLE_INSCRIPTO", Address: "Av. Siempre Viva 742"}}
	svc := NewService(&memoryRepo{customers: map[int64]Customer{}}, lookup, 0, nil)

	c, err := svc.Create(context.Background(), CreateCustomerRequest{Code: "N-1", CUIT: ptr("30-71234567-1"), Enrich: true})
	require.NoError(t, err)
	require.Equal(t, 1, lookup.calls)
	require.Equal(t, "Distribuidora Norte SA", c.Name)
	require.Equal(t, TaxConditionRegistered, c.TaxCondition)
	require.Equal(t, "Av. Siempre Viva 742", *c.Address)
}

func TestCreateCustomerEnrichmentFailure(t *testing.T) {
	lookup := &stubLookup{err: &shared.ExternalServiceError{Service: "taxid", Op: "lookup", Retryable: true, Err: errors.New("timeout")}}
	svc := NewService(&memoryRepo{customers: map[int64]Customer{}}, lookup, 0, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateCustomerRequest{Code: "N-1", CUIT: ptr("30712345671"), Enrich: true})
	var ext *shared.ExternalServiceError
	require.ErrorAs(t, err, &ext)

	c, err := svc.Create(ctx, CreateCustomerRequest{Code: "N-1", Name: "Norte", TaxCondition: TaxConditionExempt, CUIT: ptr("30712345671"), Enrich: true})
	require.NoError(t, err)
	require.Equal(t, "Norte", c.Name)
}

func TestLookupTaxpayerValidatesCUIT(t *testing.T) {
	lookup := &stubLookup{}
	svc := NewService(&memoryRepo{customers: map[int64]Customer{}}, lookup, 0, nil)

	_, err := svc.LookupTaxpayer(context.Background(), "123")
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, lookup.calls)
}
