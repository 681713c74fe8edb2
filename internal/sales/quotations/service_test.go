package quotations_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
	"github.com/pampa-erp/pampa/internal/shared"
	"github.com/pampa-erp/pampa/internal/testing/memstore"
)

var today = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func newService(t *testing.T, now time.Time) (*quotations.Service, customers.Customer, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	c := store.AddCustomer(customers.Customer{Code: "C001", Name: "Ferretería Norte", TaxCondition: customers.TaxConditionRegistered, IsActive: true})
	svc := quotations.NewService(store.Quotes(), store.Customers(), nil).WithNow(func() time.Time { return now })
	return svc, c, store
}

func request(customerID int64) quotations.CreateQuoteRequest {
	return quotations.CreateQuoteRequest{
		CustomerID:   customerID,
		Date:         today,
		ValidityDays: 10,
		Items: []quotations.CreateItemReq{
			{ProductID: 1, Description: "Tornillo", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(50), DiscountPct: decimal.NewFromInt(10), DeliveryTime: "inmediata"},
			{ProductID: 2, Description: "Tornillo inox", Quantity: decimal.NewFromInt(10), UnitPrice: decimal.NewFromInt(90), IsAlternative: true},
		},
	}
}

func TestCreateQuote(t *testing.T) {
	svc, c, _ := newService(t, today)
	q, err := svc.Create(context.Background(), request(c.ID))
	require.NoError(t, err)

	require.Equal(t, "COT-00000001", q.Number)
	require.Equal(t, quotations.StatusDraft, q.Status)
	require.Equal(t, "ARS", q.Currency)
	require.True(t, q.Subtotal.Equal(decimal.NewFromInt(450)), "alternatives stay out of the subtotal")
	require.Len(t, q.Items, 2)
	require.Equal(t, quotations.DeliveryImmediate, q.Items[0].DeliveryTime)
	require.Equal(t, 2, q.Items[1].LineOrder)
}

func TestCreateQuoteRejectsInactiveCustomer(t *testing.T) {
	svc, _, store := newService(t, today)
	inactive := store.AddCustomer(customers.Customer{Code: "C002", Name: "Baja", IsActive: false})

	_, err := svc.Create(context.Background(), request(inactive.ID))
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = svc.Create(context.Background(), request(424242))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestQuoteLifecycle(t *testing.T) {
	svc, c, _ := newService(t, today.AddDate(0, 0, 3))
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: "vendedor"})
	q, err := svc.Create(ctx, request(c.ID))
	require.NoError(t, err)

	_, err = svc.Accept(ctx, q.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)

	_, err = svc.Send(ctx, q.ID)
	require.NoError(t, err)
	accepted, err := svc.Accept(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotations.StatusAccepted, accepted.Status)

	_, err = svc.Reject(ctx, q.ID, quotations.RejectRequest{})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	rejected, err := svc.Reject(ctx, q.ID, quotations.RejectRequest{Reason: "precio"})
	require.NoError(t, err)
	require.Equal(t, quotations.StatusRejected, rejected.Status)

	_, err = svc.Send(ctx, q.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStatus)

	view, err := svc.Fulfillment(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, view.History, 3)
	require.Equal(t, "precio", view.History[2].Reason)
	require.Equal(t, "vendedor", view.History[2].ChangedBy)
}

func TestAcceptAfterValidityFails(t *testing.T) {
	svc, c, _ := newService(t, today.AddDate(0, 0, 10))
	q, err := svc.Create(context.Background(), request(c.ID))
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), q.ID)
	require.NoError(t, err)

	_, err = svc.Accept(context.Background(), q.ID)
	require.ErrorIs(t, err, quotations.ErrExpired)

	got, err := svc.Get(context.Background(), q.ID)
	require.NoError(t, err)
	require.Equal(t, quotations.StatusSent, got.Status)
}

func TestKanbanListsOpenQuotes(t *testing.T) {
	svc, c, _ := newService(t, today)
	ctx := context.Background()

	draft, err := svc.Create(ctx, request(c.ID))
	require.NoError(t, err)
	sent, err := svc.Create(ctx, request(c.ID))
	require.NoError(t, err)
	_, err = svc.Send(ctx, sent.ID)
	require.NoError(t, err)

	board, err := svc.Kanban(ctx)
	require.NoError(t, err)
	require.Len(t, board.Ready, 1)
	require.Equal(t, sent.ID, board.Ready[0].QuoteID)
	require.NotEqual(t, draft.ID, board.Ready[0].QuoteID)

	list, page, err := svc.List(ctx, quotations.ListQuotesRequest{Status: quotations.StatusDraft, Page: shared.PageRequest{Page: 1, PerPage: 20}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 1, page.Total)
}
