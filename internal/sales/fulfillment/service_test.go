package fulfillment_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/accounting/posting"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/sales/fulfillment"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
	"github.com/pampa-erp/pampa/internal/shared"
	"github.com/pampa-erp/pampa/internal/testing/memstore"
)

var today = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type countingRecorder struct {
	mu      sync.Mutex
	letters map[string]int
}

func (c *countingRecorder) InvoiceGenerated(letter string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.letters[letter]++
}

type fixture struct {
	store    *memstore.Store
	quotes   *quotations.Service
	svc      *fulfillment.Service
	chart    map[accounts.Key]accounts.Account
	customer customers.Customer
	product  inventory.Product
	metrics  *countingRecorder
}

func newFixture(t *testing.T, product inventory.Product) *fixture {
	t.Helper()
	store := memstore.New()
	reg, chart := store.SeedChart()
	clock := func() time.Time { return today }

	customer := store.AddCustomer(customers.Customer{
		Code:             "C001",
		Name:             "Ferretería Norte",
		TaxCondition:     customers.TaxConditionRegistered,
		PaymentTermsDays: 30,
		IsActive:         true,
	})
	if product.SKU == "" {
		product = inventory.Product{SKU: "TOR-001", Name: "Tornillo 6mm", Stock: d("1000"), LastCost: d("100"), IsActive: true}
	}
	product = store.AddProduct(product)

	ledger := journals.NewService(store.Journals(), nil, nil)
	ledger.WithNow(clock)
	metrics := &countingRecorder{letters: map[string]int{}}
	svc := fulfillment.NewService(fulfillment.Deps{
		Repo:        store.Fulfillment(),
		Quotes:      store.Quotes(),
		Invoices:    store.Invoices(),
		Customers:   store.Customers(),
		Journals:    ledger,
		Inventory:   inventory.NewService(store.Inventory(), nil, nil, nil),
		Accounts:    reg,
		Idempotency: store.Idempotency(),
		Metrics:     metrics,
	}, fulfillment.Config{}).WithNow(clock)

	return &fixture{
		store:    store,
		quotes:   quotations.NewService(store.Quotes(), store.Customers(), nil).WithNow(clock),
		svc:      svc,
		chart:    chart,
		customer: customer,
		product:  product,
		metrics:  metrics,
	}
}

func ctxAs(user string) context.Context {
	return shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: user, Roles: []string{"SALES"}})
}

// acceptedQuote creates, sends and accepts a quote with one line per quantity.
func (f *fixture) acceptedQuote(t *testing.T, currency string, quantities ...string) quotations.Quote {
	t.Helper()
	ctx := ctxAs("vendedor")
	req := quotations.CreateQuoteRequest{CustomerID: f.customer.ID, Date: today, ValidityDays: 15, Currency: currency}
	for _, qty := range quantities {
		req.Items = append(req.Items, quotations.CreateItemReq{
			ProductID:    f.product.ID,
			Description:  f.product.Name,
			Quantity:     d(qty),
			UnitPrice:    d("200"),
			DeliveryTime: "INMEDIATA",
		})
	}
	q, err := f.quotes.Create(ctx, req)
	require.NoError(t, err)
	_, err = f.quotes.Send(ctx, q.ID)
	require.NoError(t, err)
	q, err = f.quotes.Accept(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotations.StatusAccepted, q.Status)
	return q
}

func (f *fixture) invoice(ctx context.Context, quoteID, itemID int64, qty string) (invoices.Invoice, error) {
	return f.svc.GenerateInvoice(ctx, quoteID, fulfillment.GenerateRequest{
		Items: []fulfillment.RequestedItem{{QuoteItemID: itemID, Quantity: d(qty)}},
	}, "")
}

func (f *fixture) remaining(t *testing.T, quoteID int64) decimal.Decimal {
	t.Helper()
	view, err := f.quotes.Fulfillment(context.Background(), quoteID)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	return view.Items[0].Remaining
}

func TestPartialInvoicesConvertQuote(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	ctx := ctxAs("vendedor")
	q := f.acceptedQuote(t, "", "10")
	itemID := q.Items[0].ID

	first, err := f.invoice(ctx, q.ID, itemID, "6")
	require.NoError(t, err)
	require.Equal(t, invoices.StatusDraft, first.Status)
	require.True(t, f.remaining(t, q.ID).Equal(d("4")))
	current, err := f.quotes.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotations.StatusAccepted, current.Status)

	second, err := f.invoice(ctx, q.ID, itemID, "4")
	require.NoError(t, err)
	require.Equal(t, first.Number+1, second.Number)
	require.True(t, f.remaining(t, q.ID).IsZero())

	view, err := f.quotes.Fulfillment(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotations.StatusConverted, view.Status)
	require.True(t, view.FullyInvoiced)
	last := view.History[len(view.History)-1]
	require.Equal(t, quotations.StatusAccepted, last.From)
	require.Equal(t, quotations.StatusConverted, last.To)

	_, err = f.invoice(ctx, q.ID, itemID, "1")
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
	require.Equal(t, 2, f.store.InvoiceCount())
	require.Equal(t, 2, f.metrics.letters["A"])
}

func TestInvoicePostsCostOfGoodsSold(t *testing.T) {
	f := newFixture(t, inventory.Product{SKU: "TOR-001", Name: "Tornillo", Stock: d("20"), LastCost: d("100"), IsActive: true})
	q := f.acceptedQuote(t, "", "5")

	inv, err := f.invoice(ctxAs("vendedor"), q.ID, q.Items[0].ID, "5")
	require.NoError(t, err)

	require.Equal(t, invoices.LetterA, inv.Letter)
	require.True(t, inv.Subtotal.Equal(d("1000")))
	require.True(t, inv.TaxAmount.Equal(d("210")))
	require.True(t, inv.Total.Equal(d("1210")))
	require.True(t, inv.Balance.Equal(inv.Total))
	require.Equal(t, today.AddDate(0, 0, 30), inv.DueDate)
	require.True(t, inv.ExchangeRate.Equal(decimal.NewFromInt(1)))
	require.Len(t, inv.Items, 1)
	require.True(t, inv.Items[0].UnitCost.Equal(d("100")))

	entries := f.store.Entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	require.NotNil(t, inv.JournalEntryID)
	require.Equal(t, entry.ID, *inv.JournalEntryID)
	require.Equal(t, posting.SourceCMV, entry.SourceModule)
	require.Equal(t, journals.StatusPosted, entry.Status)
	require.Equal(t, "vendedor", entry.CreatedBy)
	require.Len(t, entry.Lines, 2)
	byAccount := map[int64]journals.Line{}
	for _, l := range entry.Lines {
		byAccount[l.AccountID] = l
	}
	cmv := byAccount[f.chart[accounts.KeyCostOfGoodsSold].ID]
	stock := byAccount[f.chart[accounts.KeyMerchandiseInventory].ID]
	require.True(t, cmv.Debit.Equal(d("500")))
	require.True(t, stock.Credit.Equal(d("500")))
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(credit))

	require.True(t, f.store.Product(f.product.ID).Stock.Equal(d("15")))
	moves := f.store.StockMovements(f.product.ID)
	require.Len(t, moves, 1)
	assert.Equal(t, inventory.MovementSale, moves[0].Type)
	assert.True(t, moves[0].Quantity.Equal(d("-5")))
	assert.True(t, moves[0].StockBefore.Equal(d("20")))
	assert.True(t, moves[0].StockAfter.Equal(d("15")))
	assert.Equal(t, inv.FullNumber(), moves[0].SourceRef)
}

func TestInvoiceWithoutCostSkipsEntry(t *testing.T) {
	f := newFixture(t, inventory.Product{SKU: "MUE-001", Name: "Muestra", Stock: d("3"), LastCost: decimal.Zero, IsActive: true})
	q := f.acceptedQuote(t, "", "1")

	inv, err := f.invoice(ctxAs("vendedor"), q.ID, q.Items[0].ID, "1")
	require.NoError(t, err)
	require.Nil(t, inv.JournalEntryID)
	require.Empty(t, f.store.Entries())
}

func TestOverInvoiceIsRejected(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "", "10")
	itemID := q.Items[0].ID
	ctx := ctxAs("vendedor")

	for _, qty := range []string{"11", "0", "-2"} {
		_, err := f.invoice(ctx, q.ID, itemID, qty)
		var over *shared.OverInvoiceError
		require.ErrorAs(t, err, &over, qty)
		require.Equal(t, itemID, over.QuoteItemID)
		require.True(t, over.Remaining.Equal(d("10")))
	}

	_, err := f.invoice(ctx, q.ID, 999999, "1")
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	require.Zero(t, f.store.InvoiceCount())
	require.True(t, f.remaining(t, q.ID).Equal(d("10")))
	require.True(t, f.store.Product(f.product.ID).Stock.Equal(d("1000")))
}

func TestRepeatedItemsAreMergedBeforeCheck(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "", "10")
	itemID := q.Items[0].ID

	_, err := f.svc.GenerateInvoice(ctxAs("vendedor"), q.ID, fulfillment.GenerateRequest{
		Items: []fulfillment.RequestedItem{
			{QuoteItemID: itemID, Quantity: d("6")},
			{QuoteItemID: itemID, Quantity: d("6")},
		},
	}, "")
	var over *shared.OverInvoiceError
	require.ErrorAs(t, err, &over)
	require.True(t, over.Requested.Equal(d("12")))
}

func TestNonPositiveLineRejectedEvenWhenMergedTotalFits(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "", "10")
	itemID := q.Items[0].ID

	_, err := f.svc.GenerateInvoice(ctxAs("vendedor"), q.ID, fulfillment.GenerateRequest{
		Items: []fulfillment.RequestedItem{
			{QuoteItemID: itemID, Quantity: d("-3")},
			{QuoteItemID: itemID, Quantity: d("7")},
		},
	}, "")
	var over *shared.OverInvoiceError
	require.ErrorAs(t, err, &over)
	require.True(t, over.Requested.Equal(d("-3")))
	require.True(t, over.Remaining.Equal(d("10")))
	require.Zero(t, f.store.InvoiceCount())
	require.True(t, f.remaining(t, q.ID).Equal(d("10")))
}

func TestNoOverInvoicingProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 40; trial++ {
		f := newFixture(t, inventory.Product{})
		quoted := int64(rng.IntN(20) + 1)
		q := f.acceptedQuote(t, "", decimal.NewFromInt(quoted).String())
		itemID := q.Items[0].ID
		remaining := quoted

		for step := 0; step < 12; step++ {
			req := int64(rng.IntN(12)) - 1
			_, err := f.invoice(ctxAs("vendedor"), q.ID, itemID, decimal.NewFromInt(req).String())
			if req <= 0 || req > remaining {
				require.Error(t, err, "trial %d step %d: %d of %d", trial, step, req, remaining)
			} else {
				require.NoError(t, err, "trial %d step %d: %d of %d", trial, step, req, remaining)
				remaining -= req
			}
			require.True(t, f.remaining(t, q.ID).Equal(decimal.NewFromInt(remaining)),
				"trial %d step %d: want remaining %d", trial, step, remaining)
		}

		view, err := f.quotes.Fulfillment(context.Background(), q.ID)
		require.NoError(t, err)
		require.True(t, view.Items[0].Invoiced.LessThanOrEqual(view.Items[0].Quantity))
		require.Equal(t, remaining == 0, view.Status == quotations.StatusConverted)
	}
}

func TestConcurrentInvoicesNeverExceedQuote(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "", "10")
	itemID := q.Items[0].ID

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.invoice(ctxAs("vendedor"), q.ID, itemID, "3"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, succeeded)
	require.True(t, f.remaining(t, q.ID).Equal(d("1")))
	require.True(t, f.store.Product(f.product.ID).Stock.Equal(d("991")))
}

func TestFailedPostingRollsBackEverything(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "", "10")
	itemID := q.Items[0].ID
	ctx := ctxAs("vendedor")
	req := fulfillment.GenerateRequest{Items: []fulfillment.RequestedItem{{QuoteItemID: itemID, Quantity: d("10")}}}

	f.store.Fail("InsertEntryLines", errors.New("connection reset"))
	_, err := f.svc.GenerateInvoice(ctx, q.ID, req, "key-1")
	require.Error(t, err)

	require.Zero(t, f.store.InvoiceCount())
	require.Empty(t, f.store.Entries())
	require.Empty(t, f.store.StockMovements(f.product.ID))
	require.True(t, f.store.Product(f.product.ID).Stock.Equal(d("1000")))
	require.True(t, f.remaining(t, q.ID).Equal(d("10")))
	current, err := f.quotes.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotations.StatusAccepted, current.Status)
	require.False(t, f.store.Idempotency().Held("key-1", "fulfillment"))

	f.store.Fail("InsertEntryLines", nil)
	inv, err := f.svc.GenerateInvoice(ctx, q.ID, req, "key-1")
	require.NoError(t, err)
	require.NotNil(t, inv.JournalEntryID)
}

func TestIdempotencyKeyBlocksReplay(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "", "10")
	req := fulfillment.GenerateRequest{Items: []fulfillment.RequestedItem{{QuoteItemID: q.Items[0].ID, Quantity: d("2")}}}
	ctx := ctxAs("vendedor")

	_, err := f.svc.GenerateInvoice(ctx, q.ID, req, "abc")
	require.NoError(t, err)
	_, err = f.svc.GenerateInvoice(ctx, q.ID, req, "abc")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Equal(t, 1, f.store.InvoiceCount())
	require.True(t, f.remaining(t, q.ID).Equal(d("8")))
}

func TestInsufficientStockAbortsInvoice(t *testing.T) {
	f := newFixture(t, inventory.Product{SKU: "CAB-001", Name: "Cable", Stock: d("2"), LastCost: d("50"), IsActive: true})
	q := f.acceptedQuote(t, "", "5")

	_, err := f.invoice(ctxAs("vendedor"), q.ID, q.Items[0].ID, "5")
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.True(t, short.Available.Equal(d("2")))
	require.Zero(t, f.store.InvoiceCount())
	require.True(t, f.remaining(t, q.ID).Equal(d("5")))
}

func TestInvoiceOnlyFromAcceptedQuote(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	ctx := ctxAs("vendedor")
	q, err := f.quotes.Create(ctx, quotations.CreateQuoteRequest{
		CustomerID: f.customer.ID,
		Date:       today,
		Items:      []quotations.CreateItemReq{{ProductID: f.product.ID, Description: "Tornillo", Quantity: d("3"), UnitPrice: d("10")}},
	})
	require.NoError(t, err)

	_, err = f.invoice(ctx, q.ID, q.Items[0].ID, "1")
	require.ErrorIs(t, err, shared.ErrInvalidStatus)
}

func TestCancelReleasesQuantityAndReversesCost(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "", "10")
	ctx := ctxAs("vendedor")

	inv, err := f.invoice(ctx, q.ID, q.Items[0].ID, "10")
	require.NoError(t, err)
	current, err := f.quotes.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotations.StatusConverted, current.Status)

	cancelled, err := f.svc.CancelInvoice(ctx, inv.ID, fulfillment.CancelRequest{Reason: "error de carga"})
	require.NoError(t, err)
	require.Equal(t, invoices.StatusCancelled, cancelled.Status)

	current, err = f.quotes.Get(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, quotations.StatusAccepted, current.Status)
	require.True(t, f.remaining(t, q.ID).Equal(d("10")))
	require.True(t, f.store.Product(f.product.ID).Stock.Equal(d("1000")))

	entries := f.store.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, journals.StatusVoided, entries[0].Status)
	require.NotNil(t, entries[1].ReversalOf)
	require.Equal(t, entries[0].ID, *entries[1].ReversalOf)
	net := decimal.Zero
	for _, e := range entries {
		for _, l := range e.Lines {
			if l.AccountID == f.chart[accounts.KeyCostOfGoodsSold].ID {
				net = net.Add(l.Debit).Sub(l.Credit)
			}
		}
	}
	require.True(t, net.IsZero())

	_, err = f.svc.CancelInvoice(ctx, inv.ID, fulfillment.CancelRequest{Reason: "otra vez"})
	require.ErrorIs(t, err, invoices.ErrNotCancelable)
}

func TestForeignCurrencyQuoteNeedsRate(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "USD", "4")
	ctx := ctxAs("vendedor")

	_, err := f.invoice(ctx, q.ID, q.Items[0].ID, "1")
	var missing *shared.NoExchangeRateError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "USD", missing.Currency)
	require.Zero(t, f.store.InvoiceCount())
	require.True(t, f.store.Product(f.product.ID).Stock.Equal(d("1000")))

	f.store.AddRate("USD", d("1050.5"), today.AddDate(0, 0, -5), nil)
	inv, err := f.invoice(ctx, q.ID, q.Items[0].ID, "1")
	require.NoError(t, err)
	require.Equal(t, "USD", inv.Currency)
	require.True(t, inv.ExchangeRate.Equal(d("1050.5")))

	entries := f.store.Entries()
	require.Len(t, entries, 1)
	debit, _ := entries[0].Totals()
	require.True(t, debit.Equal(d("100")), "cost is already in the ledger currency")
}

func TestAuthorizeAndMarkOverdue(t *testing.T) {
	f := newFixture(t, inventory.Product{})
	q := f.acceptedQuote(t, "", "3")
	ctx := ctxAs("vendedor")
	inv, err := f.invoice(ctx, q.ID, q.Items[0].ID, "3")
	require.NoError(t, err)

	_, err = f.svc.Authorize(ctx, inv.ID, fulfillment.AuthorizeRequest{CAE: "1234567890123", Expiry: today})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)

	authorized, err := f.svc.Authorize(ctx, inv.ID, fulfillment.AuthorizeRequest{CAE: "75123456789012", Expiry: today.AddDate(0, 0, 10)})
	require.NoError(t, err)
	require.Equal(t, invoices.StatusAuthorized, authorized.Status)

	n, err := f.svc.MarkOverdue(ctx, today.AddDate(0, 0, 30))
	require.NoError(t, err)
	require.Zero(t, n)
	n, err = f.svc.MarkOverdue(ctx, today.AddDate(0, 0, 31))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.StatusOverdue, got.Status)
}
