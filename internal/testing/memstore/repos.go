package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/balance"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/procurement"
	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/sales/fulfillment"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
	"github.com/pampa-erp/pampa/internal/shared"
	"github.com/pampa-erp/pampa/internal/treasury"
)

func page[T any](items []T, p shared.PageRequest) []T {
	if p.PerPage <= 0 {
		p = shared.PageRequest{Page: 1, PerPage: 20}
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	start := p.Offset()
	if start >= len(items) {
		return nil
	}
	return items[start:min(start+p.PerPage, len(items))]
}

// Quotes returns the quotations repository.
func (s *Store) Quotes() quotations.Repository { return quoteRepo{s} }

type quoteRepo struct{ s *Store }

func (r quoteRepo) WithTx(ctx context.Context, fn func(context.Context, quotations.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r quoteRepo) Get(ctx context.Context, id int64) (quotations.Quote, error) {
	var (
		q  quotations.Quote
		ok bool
	)
	r.s.read(func(st *state) {
		q, ok = st.quotes[id]
		if ok {
			q = st.quoteView(q)
		}
	})
	if !ok {
		return quotations.Quote{}, quotations.ErrNotFound
	}
	return q, nil
}

func (r quoteRepo) List(ctx context.Context, req quotations.ListQuotesRequest) ([]quotations.Quote, int, error) {
	var out []quotations.Quote
	r.s.read(func(st *state) {
		for _, q := range st.quotes {
			if req.CustomerID != nil && q.CustomerID != *req.CustomerID {
				continue
			}
			if req.Status != "" && q.Status != req.Status {
				continue
			}
			out = append(out, st.quoteView(q))
		}
	})
	slices.SortFunc(out, func(a, b quotations.Quote) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, req.Page), len(out), nil
}

func (r quoteRepo) ListOpen(ctx context.Context) ([]quotations.Quote, error) {
	var out []quotations.Quote
	r.s.read(func(st *state) {
		for _, q := range st.quotes {
			if q.Status == quotations.StatusSent || q.Status == quotations.StatusAccepted {
				out = append(out, st.quoteView(q))
			}
		}
	})
	slices.SortFunc(out, func(a, b quotations.Quote) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r quoteRepo) History(ctx context.Context, quoteID int64) ([]quotations.StatusChange, error) {
	var out []quotations.StatusChange
	r.s.read(func(st *state) {
		for _, c := range st.history {
			if c.QuoteID == quoteID {
				out = append(out, c)
			}
		}
	})
	return out, nil
}

// Invoices returns the invoice read repository.
func (s *Store) Invoices() invoices.Repository { return invoiceRepo{s} }

type invoiceRepo struct{ s *Store }

func (r invoiceRepo) Get(ctx context.Context, id int64) (invoices.Invoice, error) {
	var (
		inv invoices.Invoice
		ok  bool
	)
	r.s.read(func(st *state) { inv, ok = st.invoices[id] })
	if !ok {
		return invoices.Invoice{}, invoices.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (r invoiceRepo) ListByQuote(ctx context.Context, quoteID int64) ([]invoices.Invoice, error) {
	var out []invoices.Invoice
	r.s.read(func(st *state) {
		for _, inv := range st.invoices {
			if inv.QuoteID != nil && *inv.QuoteID == quoteID {
				inv.Items = nil
				out = append(out, inv)
			}
		}
	})
	slices.SortFunc(out, func(a, b invoices.Invoice) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Inventory returns the inventory repository.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryRepo{s} }

type inventoryRepo struct{ s *Store }

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r inventoryRepo) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	var (
		p  inventory.Product
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.products[id] })
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (r inventoryRepo) ListProducts(ctx context.Context, p shared.PageRequest) ([]inventory.Product, int, error) {
	var out []inventory.Product
	r.s.read(func(st *state) {
		for _, prod := range st.products {
			out = append(out, prod)
		}
	})
	slices.SortFunc(out, func(a, b inventory.Product) int { return cmp.Compare(a.SKU, b.SKU) })
	return page(out, p), len(out), nil
}

func (r inventoryRepo) Movements(ctx context.Context, productID int64, p shared.PageRequest) ([]inventory.Movement, int, error) {
	out := r.s.StockMovements(productID)
	slices.Reverse(out)
	return page(out, p), len(out), nil
}

// Journals returns the journal repository.
func (s *Store) Journals() journals.Repository { return journalRepo{s} }

type journalRepo struct{ s *Store }

func (r journalRepo) WithTx(ctx context.Context, fn func(context.Context, journals.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r journalRepo) List(ctx context.Context, f journals.ListFilter) ([]journals.Entry, int, error) {
	var out []journals.Entry
	for _, e := range r.s.Entries() {
		switch {
		case f.Status != "" && e.Status != f.Status:
			continue
		case f.SourceModule != "" && e.SourceModule != f.SourceModule:
			continue
		case f.From != nil && e.Date.Before(*f.From):
			continue
		case f.To != nil && e.Date.After(*f.To):
			continue
		}
		e.Lines = nil
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b journals.Entry) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.Number, a.Number)
	})
	return page(out, f.Page), len(out), nil
}

func (r journalRepo) Get(ctx context.Context, id int64) (journals.Entry, error) {
	var (
		e  journals.Entry
		ok bool
	)
	r.s.read(func(st *state) { e, ok = st.entries[id] })
	if !ok {
		return journals.Entry{}, journals.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (r journalRepo) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	var (
		a  accounts.Account
		ok bool
	)
	r.s.read(func(st *state) { a, ok = st.accounts[id] })
	if !ok {
		return accounts.Account{}, fmt.Errorf("journals: account %d: %w", id, shared.ErrNotFound)
	}
	return a, nil
}

func (r journalRepo) TotalsBefore(ctx context.Context, accountID int64, before time.Time) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range r.s.Entries() {
		if !e.Status.AffectsBalances() || !e.Date.Before(before) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				debit = debit.Add(l.Debit)
				credit = credit.Add(l.Credit)
			}
		}
	}
	return debit, credit, nil
}

func (r journalRepo) AccountMovements(ctx context.Context, accountID int64, from, to time.Time) ([]balance.Movement, error) {
	var out []balance.Movement
	for _, e := range r.s.Entries() {
		if !e.Status.AffectsBalances() || e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID != accountID {
				continue
			}
			desc := l.Description
			if desc == "" {
				desc = e.Description
			}
			out = append(out, balance.Movement{
				EntryID:     e.ID,
				EntryNumber: e.Number,
				LineID:      l.ID,
				Date:        e.Date,
				Description: desc,
				Reference:   e.Reference,
				Debit:       l.Debit,
				Credit:      l.Credit,
			})
		}
	}
	slices.SortStableFunc(out, func(a, b balance.Movement) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		if c := cmp.Compare(a.EntryNumber, b.EntryNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.LineID, b.LineID)
	})
	return out, nil
}

func (r journalRepo) TotalsByAccount(ctx context.Context, asOf time.Time) ([]journals.AccountTotals, error) {
	totals := map[int64]*journals.AccountTotals{}
	var accs map[int64]accounts.Account
	r.s.read(func(st *state) { accs = st.accounts })
	for _, e := range r.s.Entries() {
		if !e.Status.AffectsBalances() || e.Date.After(asOf) {
			continue
		}
		for _, l := range e.Lines {
			t, ok := totals[l.AccountID]
			if !ok {
				t = &journals.AccountTotals{Account: accs[l.AccountID], Debit: decimal.Zero, Credit: decimal.Zero}
				totals[l.AccountID] = t
			}
			t.Debit = t.Debit.Add(l.Debit)
			t.Credit = t.Credit.Add(l.Credit)
		}
	}
	out := make([]journals.AccountTotals, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	slices.SortFunc(out, func(a, b journals.AccountTotals) int { return cmp.Compare(a.Account.Code, b.Account.Code) })
	return out, nil
}

func (r journalRepo) Imbalances(ctx context.Context, tolerance decimal.Decimal) ([]journals.Imbalance, error) {
	var out []journals.Imbalance
	for _, e := range r.s.Entries() {
		if !e.Status.AffectsBalances() {
			continue
		}
		debit, credit := e.Totals()
		if debit.Sub(credit).Abs().GreaterThan(tolerance) {
			out = append(out, journals.Imbalance{EntryID: e.ID, Number: e.Number, Debit: debit, Credit: credit})
		}
	}
	return out, nil
}

// Rates returns the exchange-rate repository.
func (s *Store) Rates() fx.Repository { return rateRepo{s} }

type rateRepo struct{ s *Store }

func (r rateRepo) WithTx(ctx context.Context, fn func(context.Context, fx.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r rateRepo) List(ctx context.Context, currency string) ([]fx.Rate, error) {
	var out []fx.Rate
	r.s.read(func(st *state) { out = ratesFor(st, strings.ToUpper(currency)) })
	return out, nil
}

// Fulfillment returns the repository of the quote to invoice orchestrator.
func (s *Store) Fulfillment() fulfillment.Repository { return fulfillmentRepo{s} }

type fulfillmentRepo struct{ s *Store }

func (r fulfillmentRepo) WithTx(ctx context.Context, fn func(context.Context, fulfillment.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

// Procurement returns the purchase repository.
func (s *Store) Procurement() procurement.Repository { return purchaseRepo{s} }

type purchaseRepo struct{ s *Store }

func (r purchaseRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r purchaseRepo) GetPurchaseInvoice(ctx context.Context, id int64) (procurement.PurchaseInvoice, error) {
	var (
		p  procurement.PurchaseInvoice
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.purchases[id] })
	if !ok {
		return procurement.PurchaseInvoice{}, procurement.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (r purchaseRepo) ListCreditNotes(ctx context.Context, purchaseInvoiceID int64) ([]procurement.CreditNote, error) {
	var out []procurement.CreditNote
	r.s.read(func(st *state) {
		for _, cn := range st.creditNotes {
			if cn.PurchaseInvoiceID == purchaseInvoiceID {
				out = append(out, cloneCreditNote(cn))
			}
		}
	})
	slices.SortFunc(out, func(a, b procurement.CreditNote) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r purchaseRepo) GetSupplier(ctx context.Context, id int64) (procurement.Supplier, error) {
	var (
		sp procurement.Supplier
		ok bool
	)
	r.s.read(func(st *state) { sp, ok = st.suppliers[id] })
	if !ok {
		return procurement.Supplier{}, procurement.ErrSupplierNotFound
	}
	return sp, nil
}

func (r purchaseRepo) CreateSupplier(ctx context.Context, sp procurement.Supplier) (procurement.Supplier, error) {
	err := r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		for _, existing := range tx.st.suppliers {
			if existing.Code == sp.Code {
				return procurement.ErrSupplierExists
			}
		}
		now := time.Now().UTC()
		sp.ID = tx.st.id()
		sp.CreatedAt, sp.UpdatedAt = now, now
		tx.st.suppliers[sp.ID] = sp
		return nil
	})
	if err != nil {
		return procurement.Supplier{}, err
	}
	return sp, nil
}

// Treasury returns the receipt repository.
func (s *Store) Treasury() treasury.Repository { return receiptRepo{s} }

type receiptRepo struct{ s *Store }

func (r receiptRepo) WithTx(ctx context.Context, fn func(context.Context, treasury.TxRepository) error) error {
	return r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

func (r receiptRepo) GetReceipt(ctx context.Context, id int64) (treasury.Receipt, error) {
	var (
		rec treasury.Receipt
		ok  bool
	)
	r.s.read(func(st *state) { rec, ok = st.receipts[id] })
	if !ok {
		return treasury.Receipt{}, treasury.ErrNotFound
	}
	return cloneReceipt(rec), nil
}

// Customers returns the customer repository.
func (s *Store) Customers() customers.Repository { return customerRepo{s} }

type customerRepo struct{ s *Store }

func (r customerRepo) WithTx(ctx context.Context, fn func(context.Context, customers.Repository) error) error {
	return fn(ctx, r)
}

func (r customerRepo) Get(ctx context.Context, id int64) (*customers.Customer, error) {
	var (
		c  customers.Customer
		ok bool
	)
	r.s.read(func(st *state) { c, ok = st.customers[id] })
	if !ok {
		return nil, customers.ErrNotFound
	}
	return &c, nil
}

func (r customerRepo) GetByCUIT(ctx context.Context, cuit string) (*customers.Customer, error) {
	var found *customers.Customer
	r.s.read(func(st *state) {
		for _, c := range st.customers {
			if c.CUIT != nil && *c.CUIT == cuit {
				found = &c
				return
			}
		}
	})
	if found == nil {
		return nil, customers.ErrNotFound
	}
	return found, nil
}

func (r customerRepo) List(ctx context.Context, req customers.ListCustomersRequest) ([]customers.Customer, int, error) {
	var out []customers.Customer
	search := strings.ToLower(req.Search)
	r.s.read(func(st *state) {
		for _, c := range st.customers {
			if req.IsActive != nil && c.IsActive != *req.IsActive {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(c.Code+" "+c.Name), search) {
				continue
			}
			out = append(out, c)
		}
	})
	slices.SortFunc(out, func(a, b customers.Customer) int { return cmp.Compare(a.Name, b.Name) })
	total := len(out)
	start := min(req.Offset, total)
	end := total
	if req.Limit > 0 {
		end = min(start+req.Limit, total)
	}
	return out[start:end], total, nil
}

func (r customerRepo) Create(ctx context.Context, c customers.Customer) (customers.Customer, error) {
	err := r.s.WithTx(ctx, func(ctx context.Context, tx *Tx) error {
		for _, existing := range tx.st.customers {
			if existing.Code == c.Code {
				return fmt.Errorf("%w: code %s", customers.ErrAlreadyExists, c.Code)
			}
		}
		now := time.Now().UTC()
		c.ID = tx.st.id()
		c.CreatedAt, c.UpdatedAt = now, now
		tx.st.customers[c.ID] = c
		return nil
	})
	if err != nil {
		return customers.Customer{}, err
	}
	return c, nil
}
