package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/procurement"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
	"github.com/pampa-erp/pampa/internal/treasury"
)

// Tx implements the transactional repository of every service.
type Tx struct {
	store *Store
	st    *state
}

func (t *Tx) fail(op string) error {
	return t.store.failure(op)
}

func cloneEntry(e journals.Entry) journals.Entry {
	e.Lines = slices.Clone(e.Lines)
	return e
}

func cloneQuote(q quotations.Quote) quotations.Quote {
	q.Items = slices.Clone(q.Items)
	return q
}

func cloneInvoice(inv invoices.Invoice) invoices.Invoice {
	inv.Items = slices.Clone(inv.Items)
	return inv
}

func clonePurchase(p procurement.PurchaseInvoice) procurement.PurchaseInvoice {
	p.Items = slices.Clone(p.Items)
	p.Taxes = slices.Clone(p.Taxes)
	p.Perceptions = slices.Clone(p.Perceptions)
	return p
}

func cloneCreditNote(cn procurement.CreditNote) procurement.CreditNote {
	cn.Items = slices.Clone(cn.Items)
	return cn
}

func cloneReceipt(r treasury.Receipt) treasury.Receipt {
	r.Payments = slices.Clone(r.Payments)
	r.Withholdings = slices.Clone(r.Withholdings)
	r.Groups = slices.Clone(r.Groups)
	r.Applications = slices.Clone(r.Applications)
	return r
}

// quoteView fills the invoiced quantity of each item from the invoices that
// were not cancelled.
func (st *state) quoteView(q quotations.Quote) quotations.Quote {
	q = cloneQuote(q)
	invoiced := map[int64]decimal.Decimal{}
	for _, inv := range st.invoices {
		if inv.Status == invoices.StatusCancelled {
			continue
		}
		for _, it := range inv.Items {
			if it.QuoteItemID != nil {
				invoiced[*it.QuoteItemID] = invoiced[*it.QuoteItemID].Add(it.Quantity)
			}
		}
	}
	for i := range q.Items {
		q.Items[i].InvoicedQuantity = invoiced[q.Items[i].ID]
	}
	return q
}

// quotations

func (t *Tx) NextQuoteNumber(ctx context.Context) (string, error) {
	if err := t.fail("NextQuoteNumber"); err != nil {
		return "", err
	}
	t.st.quoteSeq++
	return fmt.Sprintf("COT-%08d", t.st.quoteSeq), nil
}

func (t *Tx) InsertQuote(ctx context.Context, q quotations.Quote) (quotations.Quote, error) {
	if err := t.fail("InsertQuote"); err != nil {
		return quotations.Quote{}, err
	}
	now := time.Now().UTC()
	q.ID = t.st.id()
	q.CreatedAt, q.UpdatedAt = now, now
	q.Items = nil
	t.st.quotes[q.ID] = q
	return q, nil
}

func (t *Tx) InsertQuoteItems(ctx context.Context, quoteID int64, items []quotations.Item) ([]quotations.Item, error) {
	if err := t.fail("InsertQuoteItems"); err != nil {
		return nil, err
	}
	q, ok := t.st.quotes[quoteID]
	if !ok {
		return nil, quotations.ErrNotFound
	}
	q = cloneQuote(q)
	out := make([]quotations.Item, 0, len(items))
	for _, it := range items {
		it.ID = t.st.id()
		it.QuoteID = quoteID
		it.InvoicedQuantity = decimal.Zero
		out = append(out, it)
	}
	q.Items = append(q.Items, out...)
	t.st.quotes[quoteID] = q
	return out, nil
}

func (t *Tx) GetQuoteForUpdate(ctx context.Context, id int64) (quotations.Quote, error) {
	if err := t.fail("GetQuoteForUpdate"); err != nil {
		return quotations.Quote{}, err
	}
	q, ok := t.st.quotes[id]
	if !ok {
		return quotations.Quote{}, quotations.ErrNotFound
	}
	return t.st.quoteView(q), nil
}

func (t *Tx) UpdateQuoteStatus(ctx context.Context, id int64, status quotations.Status) error {
	if err := t.fail("UpdateQuoteStatus"); err != nil {
		return err
	}
	q, ok := t.st.quotes[id]
	if !ok {
		return quotations.ErrNotFound
	}
	q.Status = status
	q.UpdatedAt = time.Now().UTC()
	t.st.quotes[id] = q
	return nil
}

func (t *Tx) InsertStatusChange(ctx context.Context, c quotations.StatusChange) error {
	if err := t.fail("InsertStatusChange"); err != nil {
		return err
	}
	c.ID = t.st.id()
	c.ChangedAt = time.Now().UTC()
	t.st.history = append(t.st.history, c)
	return nil
}

// invoices

func (t *Tx) NextInvoiceNumber(ctx context.Context, letter invoices.Letter, pointOfSale int) (int64, error) {
	if err := t.fail("NextInvoiceNumber"); err != nil {
		return 0, err
	}
	key := fmt.Sprintf("%s-%d", letter, pointOfSale)
	t.st.invoiceNumbers[key]++
	return t.st.invoiceNumbers[key], nil
}

func (t *Tx) InsertInvoice(ctx context.Context, inv invoices.Invoice) (invoices.Invoice, error) {
	if err := t.fail("InsertInvoice"); err != nil {
		return invoices.Invoice{}, err
	}
	now := time.Now().UTC()
	inv = cloneInvoice(inv)
	inv.ID = t.st.id()
	inv.CreatedAt, inv.UpdatedAt = now, now
	for i := range inv.Items {
		inv.Items[i].ID = t.st.id()
		inv.Items[i].InvoiceID = inv.ID
	}
	t.st.invoices[inv.ID] = inv
	return cloneInvoice(inv), nil
}

func (t *Tx) GetInvoiceForUpdate(ctx context.Context, id int64) (invoices.Invoice, error) {
	if err := t.fail("GetInvoiceForUpdate"); err != nil {
		return invoices.Invoice{}, err
	}
	inv, ok := t.st.invoices[id]
	if !ok {
		return invoices.Invoice{}, invoices.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (t *Tx) updateInvoice(op string, id int64, fn func(*invoices.Invoice)) error {
	if err := t.fail(op); err != nil {
		return err
	}
	inv, ok := t.st.invoices[id]
	if !ok {
		return invoices.ErrNotFound
	}
	fn(&inv)
	inv.UpdatedAt = time.Now().UTC()
	t.st.invoices[id] = inv
	return nil
}

func (t *Tx) UpdateInvoiceStatus(ctx context.Context, id int64, status invoices.Status) error {
	return t.updateInvoice("UpdateInvoiceStatus", id, func(inv *invoices.Invoice) { inv.Status = status })
}

func (t *Tx) SetInvoiceJournal(ctx context.Context, id, entryID int64) error {
	return t.updateInvoice("SetInvoiceJournal", id, func(inv *invoices.Invoice) { inv.JournalEntryID = &entryID })
}

func (t *Tx) UpdateInvoiceBalance(ctx context.Context, id int64, in invoices.Invoice) error {
	return t.updateInvoice("UpdateInvoiceBalance", id, func(inv *invoices.Invoice) {
		inv.Balance = in.Balance
		inv.Status = in.Status
	})
}

func (t *Tx) AuthorizeInvoice(ctx context.Context, id int64, cae string, expiry time.Time) error {
	return t.updateInvoice("AuthorizeInvoice", id, func(inv *invoices.Invoice) {
		inv.Status = invoices.StatusAuthorized
		inv.CAE = cae
		inv.CAEExpiry = &expiry
	})
}

func (t *Tx) MarkOverdueInvoices(ctx context.Context, asOf time.Time) ([]int64, error) {
	if err := t.fail("MarkOverdueInvoices"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, inv := range t.st.invoices {
		if inv.Status != invoices.StatusAuthorized && inv.Status != invoices.StatusSent {
			continue
		}
		if !inv.DueDate.Before(asOf) || !inv.Balance.IsPositive() {
			continue
		}
		inv.Status = invoices.StatusOverdue
		t.st.invoices[id] = inv
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// inventory

func (t *Tx) GetProductForUpdate(ctx context.Context, id int64) (inventory.Product, error) {
	if err := t.fail("GetProductForUpdate"); err != nil {
		return inventory.Product{}, err
	}
	p, ok := t.st.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	return p, nil
}

func (t *Tx) UpdateProductStock(ctx context.Context, id int64, stock, lastCost decimal.Decimal, costCurrency string) error {
	if err := t.fail("UpdateProductStock"); err != nil {
		return err
	}
	p, ok := t.st.products[id]
	if !ok {
		return inventory.ErrProductNotFound
	}
	p.Stock, p.LastCost, p.CostCurrency = stock, lastCost, costCurrency
	p.UpdatedAt = time.Now().UTC()
	t.st.products[id] = p
	return nil
}

func (t *Tx) InsertMovement(ctx context.Context, mv inventory.Movement) (inventory.Movement, error) {
	if err := t.fail("InsertMovement"); err != nil {
		return inventory.Movement{}, err
	}
	mv.ID = t.st.id()
	mv.CreatedAt = time.Now().UTC()
	t.st.movements = append(t.st.movements, mv)
	return mv, nil
}

func (t *Tx) InsertProduct(ctx context.Context, p inventory.Product) (inventory.Product, error) {
	if err := t.fail("InsertProduct"); err != nil {
		return inventory.Product{}, err
	}
	for _, existing := range t.st.products {
		if existing.SKU == p.SKU {
			return inventory.Product{}, inventory.ErrDuplicateSKU
		}
	}
	now := time.Now().UTC()
	p.ID = t.st.id()
	p.CreatedAt, p.UpdatedAt = now, now
	t.st.products[p.ID] = p
	return p, nil
}

// journals

func (t *Tx) LockAccounts(ctx context.Context, ids []int64) ([]accounts.Account, error) {
	if err := t.fail("LockAccounts"); err != nil {
		return nil, err
	}
	var out []accounts.Account
	for _, id := range ids {
		if a, ok := t.st.accounts[id]; ok {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b accounts.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *Tx) InsertEntry(ctx context.Context, e journals.Entry) (journals.Entry, error) {
	if err := t.fail("InsertEntry"); err != nil {
		return journals.Entry{}, err
	}
	if e.SourceID != nil {
		for _, existing := range t.st.entries {
			if existing.SourceID != nil && *existing.SourceID == *e.SourceID && existing.SourceModule == e.SourceModule {
				return journals.Entry{}, journals.ErrSourceConflict
			}
		}
	}
	now := time.Now().UTC()
	t.st.entryNumber++
	e.ID = t.st.id()
	e.Number = t.st.entryNumber
	e.CreatedAt, e.UpdatedAt = now, now
	e.Lines = nil
	t.st.entries[e.ID] = e
	return e, nil
}

func (t *Tx) InsertEntryLines(ctx context.Context, entryID int64, lines []journals.Line) ([]journals.Line, error) {
	if err := t.fail("InsertEntryLines"); err != nil {
		return nil, err
	}
	e, ok := t.st.entries[entryID]
	if !ok {
		return nil, journals.ErrEntryNotFound
	}
	e = cloneEntry(e)
	out := make([]journals.Line, 0, len(lines))
	for _, l := range lines {
		l.ID = t.st.id()
		l.EntryID = entryID
		out = append(out, l)
	}
	e.Lines = append(e.Lines, out...)
	t.st.entries[entryID] = e
	return out, nil
}

func (t *Tx) GetEntryForUpdate(ctx context.Context, id int64) (journals.Entry, error) {
	if err := t.fail("GetEntryForUpdate"); err != nil {
		return journals.Entry{}, err
	}
	e, ok := t.st.entries[id]
	if !ok {
		return journals.Entry{}, journals.ErrEntryNotFound
	}
	return cloneEntry(e), nil
}

func (t *Tx) UpdateEntry(ctx context.Context, e journals.Entry) error {
	if err := t.fail("UpdateEntry"); err != nil {
		return err
	}
	current, ok := t.st.entries[e.ID]
	if !ok {
		return journals.ErrEntryNotFound
	}
	current.Date = e.Date
	current.Description = e.Description
	current.Reference = e.Reference
	current.Status = e.Status
	current.PostedAt = e.PostedAt
	current.UpdatedAt = time.Now().UTC()
	t.st.entries[e.ID] = current
	return nil
}

func (t *Tx) ReplaceEntryLines(ctx context.Context, entryID int64, lines []journals.Line) ([]journals.Line, error) {
	e, ok := t.st.entries[entryID]
	if !ok {
		return nil, journals.ErrEntryNotFound
	}
	e.Lines = nil
	t.st.entries[entryID] = e
	return t.InsertEntryLines(ctx, entryID, lines)
}

func (t *Tx) DeleteEntry(ctx context.Context, id int64) error {
	if err := t.fail("DeleteEntry"); err != nil {
		return err
	}
	if _, ok := t.st.entries[id]; !ok {
		return journals.ErrEntryNotFound
	}
	delete(t.st.entries, id)
	return nil
}

// fx

func (t *Tx) ListRates(ctx context.Context, currency string) ([]fx.Rate, error) {
	if err := t.fail("ListRates"); err != nil {
		return nil, err
	}
	return ratesFor(t.st, currency), nil
}

func ratesFor(st *state, currency string) []fx.Rate {
	var out []fx.Rate
	for _, r := range st.rates {
		if currency == "" || r.Currency == currency {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b fx.Rate) int {
		if c := cmp.Compare(a.Currency, b.Currency); c != 0 {
			return c
		}
		return b.Validity.From.Compare(a.Validity.From)
	})
	return out
}

func (t *Tx) InsertRate(ctx context.Context, r fx.Rate) (fx.Rate, error) {
	if err := t.fail("InsertRate"); err != nil {
		return fx.Rate{}, err
	}
	r.ID = t.st.id()
	r.CreatedAt = time.Now().UTC()
	t.st.rates = append(t.st.rates, r)
	return r, nil
}

// procurement

func (t *Tx) GetSupplierForUpdate(ctx context.Context, id int64) (procurement.Supplier, error) {
	if err := t.fail("GetSupplierForUpdate"); err != nil {
		return procurement.Supplier{}, err
	}
	sp, ok := t.st.suppliers[id]
	if !ok {
		return procurement.Supplier{}, procurement.ErrSupplierNotFound
	}
	return sp, nil
}

func (t *Tx) AdjustSupplierBalance(ctx context.Context, id int64, delta decimal.Decimal) error {
	if err := t.fail("AdjustSupplierBalance"); err != nil {
		return err
	}
	sp, ok := t.st.suppliers[id]
	if !ok {
		return procurement.ErrSupplierNotFound
	}
	sp.Balance = sp.Balance.Add(delta)
	sp.UpdatedAt = time.Now().UTC()
	t.st.suppliers[id] = sp
	return nil
}

func (t *Tx) InsertPurchaseInvoice(ctx context.Context, p procurement.PurchaseInvoice) (procurement.PurchaseInvoice, error) {
	if err := t.fail("InsertPurchaseInvoice"); err != nil {
		return procurement.PurchaseInvoice{}, err
	}
	for _, existing := range t.st.purchases {
		if existing.SupplierID == p.SupplierID && existing.Letter == p.Letter &&
			existing.PointOfSale == p.PointOfSale && existing.Number == p.Number {
			return procurement.PurchaseInvoice{}, procurement.ErrDuplicateInvoice
		}
	}
	now := time.Now().UTC()
	p = clonePurchase(p)
	p.ID = t.st.id()
	p.CreatedAt, p.UpdatedAt = now, now
	for i := range p.Items {
		p.Items[i].ID = t.st.id()
		p.Items[i].PurchaseInvoiceID = p.ID
		p.Items[i].ReturnedQuantity = decimal.Zero
	}
	t.st.purchases[p.ID] = p
	return clonePurchase(p), nil
}

func (t *Tx) GetPurchaseInvoiceForUpdate(ctx context.Context, id int64) (procurement.PurchaseInvoice, error) {
	if err := t.fail("GetPurchaseInvoiceForUpdate"); err != nil {
		return procurement.PurchaseInvoice{}, err
	}
	p, ok := t.st.purchases[id]
	if !ok {
		return procurement.PurchaseInvoice{}, procurement.ErrNotFound
	}
	return clonePurchase(p), nil
}

func (t *Tx) ApprovePurchaseInvoice(ctx context.Context, id, entryID int64, rate decimal.Decimal) error {
	if err := t.fail("ApprovePurchaseInvoice"); err != nil {
		return err
	}
	p, ok := t.st.purchases[id]
	if !ok {
		return procurement.ErrNotFound
	}
	now := time.Now().UTC()
	p.Status = procurement.StatusApproved
	p.JournalEntryID = &entryID
	p.ExchangeRate = rate
	p.ApprovedAt = &now
	p.UpdatedAt = now
	t.st.purchases[id] = p
	return nil
}

func (t *Tx) MarkStockImpacted(ctx context.Context, id int64) error {
	if err := t.fail("MarkStockImpacted"); err != nil {
		return err
	}
	p, ok := t.st.purchases[id]
	if !ok || p.StockImpacted {
		return procurement.ErrStockAlreadyImpacted
	}
	p.StockImpacted = true
	p.UpdatedAt = time.Now().UTC()
	t.st.purchases[id] = p
	return nil
}

func (t *Tx) AddReturnedQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	if err := t.fail("AddReturnedQuantity"); err != nil {
		return err
	}
	for id, p := range t.st.purchases {
		for i, it := range p.Items {
			if it.ID != itemID {
				continue
			}
			p = clonePurchase(p)
			p.Items[i].ReturnedQuantity = it.ReturnedQuantity.Add(qty)
			t.st.purchases[id] = p
			return nil
		}
	}
	return procurement.ErrNotFound
}

func (t *Tx) InsertCreditNote(ctx context.Context, cn procurement.CreditNote) (procurement.CreditNote, error) {
	if err := t.fail("InsertCreditNote"); err != nil {
		return procurement.CreditNote{}, err
	}
	purchase, ok := t.st.purchases[cn.PurchaseInvoiceID]
	if !ok {
		return procurement.CreditNote{}, procurement.ErrNotFound
	}
	for _, existing := range t.st.creditNotes {
		other := t.st.purchases[existing.PurchaseInvoiceID]
		if other.SupplierID == purchase.SupplierID && existing.Number == cn.Number {
			return procurement.CreditNote{}, procurement.ErrDuplicateInvoice
		}
	}
	cn = cloneCreditNote(cn)
	cn.ID = t.st.id()
	cn.CreatedAt = time.Now().UTC()
	for i := range cn.Items {
		cn.Items[i].ID = t.st.id()
		cn.Items[i].CreditNoteID = cn.ID
	}
	t.st.creditNotes[cn.ID] = cn
	return cloneCreditNote(cn), nil
}

func (t *Tx) SetCreditNoteJournal(ctx context.Context, id, entryID int64) error {
	if err := t.fail("SetCreditNoteJournal"); err != nil {
		return err
	}
	cn, ok := t.st.creditNotes[id]
	if !ok {
		return procurement.ErrNotFound
	}
	cn.JournalEntryID = &entryID
	t.st.creditNotes[id] = cn
	return nil
}

// treasury

func (t *Tx) NextReceiptNumber(ctx context.Context) (string, error) {
	if err := t.fail("NextReceiptNumber"); err != nil {
		return "", err
	}
	t.st.receiptSeq++
	return fmt.Sprintf("REC-%08d", t.st.receiptSeq), nil
}

func (t *Tx) InsertReceipt(ctx context.Context, r treasury.Receipt) (treasury.Receipt, error) {
	if err := t.fail("InsertReceipt"); err != nil {
		return treasury.Receipt{}, err
	}
	r = cloneReceipt(r)
	r.ID = t.st.id()
	r.CreatedAt = time.Now().UTC()
	for i := range r.Payments {
		r.Payments[i].ID = t.st.id()
	}
	for i := range r.Withholdings {
		r.Withholdings[i].ID = t.st.id()
	}
	for i := range r.Applications {
		r.Applications[i].ID = t.st.id()
	}
	slices.SortFunc(r.Applications, func(a, b treasury.Application) int { return cmp.Compare(a.InvoiceID, b.InvoiceID) })
	t.st.receipts[r.ID] = r
	return cloneReceipt(r), nil
}

func (t *Tx) GetReceiptForUpdate(ctx context.Context, id int64) (treasury.Receipt, error) {
	if err := t.fail("GetReceiptForUpdate"); err != nil {
		return treasury.Receipt{}, err
	}
	r, ok := t.st.receipts[id]
	if !ok {
		return treasury.Receipt{}, treasury.ErrNotFound
	}
	return cloneReceipt(r), nil
}

func (t *Tx) InsertWithholdingGroup(ctx context.Context, receiptID int64, g treasury.WithholdingGroup) (treasury.WithholdingGroup, error) {
	if err := t.fail("InsertWithholdingGroup"); err != nil {
		return treasury.WithholdingGroup{}, err
	}
	r, ok := t.st.receipts[receiptID]
	if !ok {
		return treasury.WithholdingGroup{}, treasury.ErrNotFound
	}
	r = cloneReceipt(r)
	g.ID = t.st.id()
	r.Groups = append(r.Groups, g)
	t.st.receipts[receiptID] = r
	return g, nil
}

func (t *Tx) LinkWithholding(ctx context.Context, lineID, groupID int64) error {
	if err := t.fail("LinkWithholding"); err != nil {
		return err
	}
	for id, r := range t.st.receipts {
		for i, w := range r.Withholdings {
			if w.ID != lineID {
				continue
			}
			r = cloneReceipt(r)
			r.Withholdings[i].GroupID = &groupID
			t.st.receipts[id] = r
			return nil
		}
	}
	return treasury.ErrNotFound
}

func (t *Tx) ApproveReceipt(ctx context.Context, id, entryID int64, at time.Time) error {
	if err := t.fail("ApproveReceipt"); err != nil {
		return err
	}
	r, ok := t.st.receipts[id]
	if !ok {
		return treasury.ErrNotFound
	}
	r.Status = treasury.StatusApproved
	r.JournalEntryID = &entryID
	r.ApprovedAt = &at
	t.st.receipts[id] = r
	return nil
}
