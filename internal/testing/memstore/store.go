// Package memstore is an in-memory backend for the transactional services.
// A transaction works on a copy of the committed state and replaces it only
// when the callback succeeds, so a failed orchestration leaves nothing behind.
// Transactions run one at a time, which gives the serializable behaviour the
// PostgreSQL repositories rely on.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/procurement"
	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
	"github.com/pampa-erp/pampa/internal/shared"
	"github.com/pampa-erp/pampa/internal/treasury"
)

type state struct {
	nextID      int64
	entryNumber int64
	quoteSeq    int64
	receiptSeq  int64

	accounts       map[int64]accounts.Account
	entries        map[int64]journals.Entry
	products       map[int64]inventory.Product
	movements      []inventory.Movement
	rates          []fx.Rate
	customers      map[int64]customers.Customer
	quotes         map[int64]quotations.Quote
	history        []quotations.StatusChange
	invoices       map[int64]invoices.Invoice
	invoiceNumbers map[string]int64
	suppliers      map[int64]procurement.Supplier
	purchases      map[int64]procurement.PurchaseInvoice
	creditNotes    map[int64]procurement.CreditNote
	receipts       map[int64]treasury.Receipt
}

func newState() *state {
	return &state{
		accounts:       map[int64]accounts.Account{},
		entries:        map[int64]journals.Entry{},
		products:       map[int64]inventory.Product{},
		customers:      map[int64]customers.Customer{},
		quotes:         map[int64]quotations.Quote{},
		invoices:       map[int64]invoices.Invoice{},
		invoiceNumbers: map[string]int64{},
		suppliers:      map[int64]procurement.Supplier{},
		purchases:      map[int64]procurement.PurchaseInvoice{},
		creditNotes:    map[int64]procurement.CreditNote{},
		receipts:       map[int64]treasury.Receipt{},
	}
}

// clone copies the maps and top level slices. Stored values are never
// mutated in place; writers replace them, copying nested slices first.
func (st *state) clone() *state {
	c := *st
	c.accounts = maps.Clone(st.accounts)
	c.entries = maps.Clone(st.entries)
	c.products = maps.Clone(st.products)
	c.movements = slices.Clone(st.movements)
	c.rates = slices.Clone(st.rates)
	c.customers = maps.Clone(st.customers)
	c.quotes = maps.Clone(st.quotes)
	c.history = slices.Clone(st.history)
	c.invoices = maps.Clone(st.invoices)
	c.invoiceNumbers = maps.Clone(st.invoiceNumbers)
	c.suppliers = maps.Clone(st.suppliers)
	c.purchases = maps.Clone(st.purchases)
	c.creditNotes = maps.Clone(st.creditNotes)
	c.receipts = maps.Clone(st.receipts)
	return &c
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

// Store holds the committed state.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state

	failMu   sync.Mutex
	failures map[string]error

	idem *Idempotency
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), failures: map[string]error{}, idem: NewIdempotency()}
}

// Fail makes every later call of the named Tx method return err, e.g.
// Fail("InsertEntryLines", boom). A nil err clears the failure.
func (s *Store) Fail(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err, ok := s.failures[op]; ok {
		return fmt.Errorf("memstore: %s: %w", op, err)
	}
	return nil
}

// WithTx runs fn against a private copy of the state and commits it when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, *Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	draft := s.st.clone()
	s.mu.RUnlock()
	if err := fn(ctx, &Tx{store: s, st: draft}); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = draft
	s.mu.Unlock()
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

func (s *Store) seed(fn func(st *state)) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

// AddAccount stores a chart of accounts row, assigning an id when missing.
func (s *Store) AddAccount(a accounts.Account) accounts.Account {
	s.seed(func(st *state) {
		if a.ID == 0 {
			a.ID = st.id()
		} else if a.ID > st.nextID {
			st.nextID = a.ID
		}
		st.accounts[a.ID] = a
	})
	return a
}

// AddProduct stores a product.
func (s *Store) AddProduct(p inventory.Product) inventory.Product {
	s.seed(func(st *state) {
		if p.ID == 0 {
			p.ID = st.id()
		}
		if p.CostCurrency == "" {
			p.CostCurrency = "ARS"
		}
		st.products[p.ID] = p
	})
	return p
}

// AddCustomer stores a customer.
func (s *Store) AddCustomer(c customers.Customer) customers.Customer {
	s.seed(func(st *state) {
		if c.ID == 0 {
			c.ID = st.id()
		}
		st.customers[c.ID] = c
	})
	return c
}

// AddSupplier stores a supplier.
func (s *Store) AddSupplier(sp procurement.Supplier) procurement.Supplier {
	s.seed(func(st *state) {
		if sp.ID == 0 {
			sp.ID = st.id()
		}
		st.suppliers[sp.ID] = sp
	})
	return sp
}

// AddInvoice stores an already issued invoice and reserves its number.
func (s *Store) AddInvoice(inv invoices.Invoice) invoices.Invoice {
	s.seed(func(st *state) {
		if inv.ID == 0 {
			inv.ID = st.id()
		}
		if inv.ExchangeRate.IsZero() {
			inv.ExchangeRate = decimal.NewFromInt(1)
		}
		for i := range inv.Items {
			inv.Items[i].ID = st.id()
			inv.Items[i].InvoiceID = inv.ID
		}
		st.invoices[inv.ID] = cloneInvoice(inv)
		key := fmt.Sprintf("%s-%d", inv.Letter, inv.PointOfSale)
		st.invoiceNumbers[key] = max(st.invoiceNumbers[key], inv.Number)
	})
	return inv
}

// Invoice returns the committed invoice.
func (s *Store) Invoice(id int64) invoices.Invoice {
	var inv invoices.Invoice
	s.read(func(st *state) { inv = cloneInvoice(st.invoices[id]) })
	return inv
}

// AddRate stores an exchange rate valid from the given day.
func (s *Store) AddRate(currency string, rate decimal.Decimal, from time.Time, to *time.Time) fx.Rate {
	r := fx.Rate{Currency: currency, Rate: rate, Validity: shared.DateRange{From: shared.Day(from), To: to}, Source: "seed"}
	s.seed(func(st *state) {
		r.ID = st.id()
		st.rates = append(st.rates, r)
	})
	return r
}

// Product returns the committed product.
func (s *Store) Product(id int64) inventory.Product {
	var p inventory.Product
	s.read(func(st *state) { p = st.products[id] })
	return p
}

// Supplier returns the committed supplier.
func (s *Store) Supplier(id int64) procurement.Supplier {
	var sp procurement.Supplier
	s.read(func(st *state) { sp = st.suppliers[id] })
	return sp
}

// StockMovements returns the movements of a product in insertion order.
func (s *Store) StockMovements(productID int64) []inventory.Movement {
	var out []inventory.Movement
	s.read(func(st *state) {
		for _, mv := range st.movements {
			if mv.ProductID == productID {
				out = append(out, mv)
			}
		}
	})
	return out
}

// Entries returns every journal entry ordered by number.
func (s *Store) Entries() []journals.Entry {
	var out []journals.Entry
	s.read(func(st *state) {
		for _, e := range st.entries {
			out = append(out, cloneEntry(e))
		}
	})
	slices.SortFunc(out, func(a, b journals.Entry) int { return cmp.Compare(a.Number, b.Number) })
	return out
}

// InvoiceCount returns how many invoices exist, cancelled ones included.
func (s *Store) InvoiceCount() int {
	var n int
	s.read(func(st *state) { n = len(st.invoices) })
	return n
}

// Idempotency returns the key store shared by the services under test.
func (s *Store) Idempotency() *Idempotency {
	return s.idem
}

// Idempotency claims keys per module.
type Idempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func NewIdempotency() *Idempotency {
	return &Idempotency{keys: map[string]bool{}}
}

func (m *Idempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = true
	return nil
}

func (m *Idempotency) Delete(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+":"+key)
	return nil
}

// Held reports whether key is claimed for module.
func (m *Idempotency) Held(key, module string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keys[module+":"+key]
}
