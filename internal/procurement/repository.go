package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/platform/db"
)

// Repository serves the read side and opens transactions.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseInvoice(ctx context.Context, id int64) (PurchaseInvoice, error)
	ListCreditNotes(ctx context.Context, purchaseInvoiceID int64) ([]CreditNote, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	CreateSupplier(ctx context.Context, s Supplier) (Supplier, error)
}

// PurchaseTx holds the purchase writes performed inside a transaction.
type PurchaseTx interface {
	GetSupplierForUpdate(ctx context.Context, id int64) (Supplier, error)
	AdjustSupplierBalance(ctx context.Context, id int64, delta decimal.Decimal) error
	InsertPurchaseInvoice(ctx context.Context, p PurchaseInvoice) (PurchaseInvoice, error)
	GetPurchaseInvoiceForUpdate(ctx context.Context, id int64) (PurchaseInvoice, error)
	ApprovePurchaseInvoice(ctx context.Context, id, entryID int64, rate decimal.Decimal) error
	MarkStockImpacted(ctx context.Context, id int64) error
	AddReturnedQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error
	InsertCreditNote(ctx context.Context, cn CreditNote) (CreditNote, error)
	SetCreditNoteJournal(ctx context.Context, id, entryID int64) error
}

// TxRepository binds the purchase writes with the stock, ledger and rate
// tables they change together.
type TxRepository interface {
	PurchaseTx
	inventory.TxRepository
	journals.TxRepository
	fx.TxRepository
}

type (
	inventoryTx = inventory.TxRepository
	journalTx   = journals.TxRepository
	rateTx      = fx.TxRepository
)

type txRepo struct {
	*purchaseTx
	inventoryTx
	journalTx
	rateTx
}

// NewTxRepository binds all repositories to the same connection.
func NewTxRepository(q db.DBTX) TxRepository {
	return txRepo{
		purchaseTx:  &purchaseTx{q: q},
		inventoryTx: inventory.NewTxRepository(q),
		journalTx:   journals.NewTxRepository(q),
		rateTx:      fx.NewTxRepository(q),
	}
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const supplierColumns = `id, code, name, cuit, balance, is_active, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var (
		s   Supplier
		bal pgtype.Numeric
	)
	if err := row.Scan(&s.ID, &s.Code, &s.Name, &s.CUIT, &bal, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrSupplierNotFound
		}
		return Supplier{}, err
	}
	s.Balance = db.Decimal(bal)
	return s, nil
}

func (r *repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return scanSupplier(r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id))
}

func (r *repository) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	created, err := scanSupplier(r.pool.QueryRow(ctx, `INSERT INTO suppliers (code, name, cuit) VALUES ($1, $2, $3) RETURNING `+supplierColumns,
		s.Code, s.Name, s.CUIT))
	if db.IsUniqueViolation(err, "uq_suppliers_code") {
		return Supplier{}, ErrSupplierExists
	}
	return created, err
}

const purchaseColumns = `id, supplier_id, letter, point_of_sale, number, issue_date, due_date, status, currency, exchange_rate,
subtotal, tax_amount, perceptions_amount, total, stock_impacted, journal_entry_id, notes, approved_at, created_by, created_at, updated_at`

func scanPurchase(row pgx.Row) (PurchaseInvoice, error) {
	var (
		p                                  PurchaseInvoice
		rate, subtotal, tax, percep, total pgtype.Numeric
	)
	err := row.Scan(&p.ID, &p.SupplierID, &p.Letter, &p.PointOfSale, &p.Number, &p.IssueDate, &p.DueDate, &p.Status, &p.Currency, &rate,
		&subtotal, &tax, &percep, &total, &p.StockImpacted, &p.JournalEntryID, &p.Notes, &p.ApprovedAt, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseInvoice{}, ErrNotFound
		}
		return PurchaseInvoice{}, err
	}
	p.ExchangeRate = db.Decimal(rate)
	p.Subtotal = db.Decimal(subtotal)
	p.TaxAmount = db.Decimal(tax)
	p.PerceptionsSum = db.Decimal(percep)
	p.Total = db.Decimal(total)
	return p, nil
}

func getPurchase(ctx context.Context, q db.DBTX, id int64, lock bool) (PurchaseInvoice, error) {
	sql := `SELECT ` + purchaseColumns + ` FROM purchase_invoices WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanPurchase(q.QueryRow(ctx, sql, id))
	if err != nil {
		return PurchaseInvoice{}, err
	}
	if p.Items, err = loadItems(ctx, q, id, lock); err != nil {
		return PurchaseInvoice{}, err
	}
	if p.Taxes, err = loadTaxes(ctx, q, id); err != nil {
		return PurchaseInvoice{}, err
	}
	p.Perceptions, err = loadPerceptions(ctx, q, id)
	return p, err
}

func loadItems(ctx context.Context, q db.DBTX, purchaseID int64, lock bool) ([]Item, error) {
	sql := `SELECT id, purchase_invoice_id, product_id, description, quantity, unit_cost, discount_pct, vat_rate, net, account_id, returned_quantity
FROM purchase_invoice_items WHERE purchase_invoice_id = $1 ORDER BY id`
	if lock {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var (
			it                                  Item
			qty, cost, disc, vat, net, returned pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.PurchaseInvoiceID, &it.ProductID, &it.Description, &qty, &cost, &disc, &vat, &net, &it.AccountID, &returned); err != nil {
			return nil, err
		}
		it.Quantity = db.Decimal(qty)
		it.UnitCost = db.Decimal(cost)
		it.DiscountPct = db.Decimal(disc)
		it.VATRate = db.Decimal(vat)
		it.Net = db.Decimal(net)
		it.ReturnedQuantity = db.Decimal(returned)
		out = append(out, it)
	}
	return out, rows.Err()
}

func loadTaxes(ctx context.Context, q db.DBTX, purchaseID int64) ([]Tax, error) {
	rows, err := q.Query(ctx, `SELECT rate, base, amount FROM purchase_invoice_taxes WHERE purchase_invoice_id = $1 ORDER BY rate`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tax
	for rows.Next() {
		var rate, base, amount pgtype.Numeric
		if err := rows.Scan(&rate, &base, &amount); err != nil {
			return nil, err
		}
		out = append(out, Tax{Rate: db.Decimal(rate), Base: db.Decimal(base), Amount: db.Decimal(amount)})
	}
	return out, rows.Err()
}

func loadPerceptions(ctx context.Context, q db.DBTX, purchaseID int64) ([]Perception, error) {
	rows, err := q.Query(ctx, `SELECT tax_type, jurisdiction, amount FROM purchase_invoice_perceptions WHERE purchase_invoice_id = $1 ORDER BY id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Perception
	for rows.Next() {
		var (
			p      Perception
			amount pgtype.Numeric
		)
		if err := rows.Scan(&p.TaxType, &p.Jurisdiction, &amount); err != nil {
			return nil, err
		}
		p.Amount = db.Decimal(amount)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) GetPurchaseInvoice(ctx context.Context, id int64) (PurchaseInvoice, error) {
	return getPurchase(ctx, r.pool, id, false)
}

func (r *repository) ListCreditNotes(ctx context.Context, purchaseInvoiceID int64) ([]CreditNote, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, purchase_invoice_id, number, date, reason, net, tax, total, stock_returned, journal_entry_id, created_by, created_at
FROM purchase_credit_notes WHERE purchase_invoice_id = $1 ORDER BY id`, purchaseInvoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CreditNote
	for rows.Next() {
		var (
			cn              CreditNote
			net, tax, total pgtype.Numeric
		)
		if err := rows.Scan(&cn.ID, &cn.PurchaseInvoiceID, &cn.Number, &cn.Date, &cn.Reason, &net, &tax, &total, &cn.StockReturned,
			&cn.JournalEntryID, &cn.CreatedBy, &cn.CreatedAt); err != nil {
			return nil, err
		}
		cn.Net, cn.Tax, cn.Total = db.Decimal(net), db.Decimal(tax), db.Decimal(total)
		out = append(out, cn)
	}
	return out, rows.Err()
}

type purchaseTx struct {
	q db.DBTX
}

func (t *purchaseTx) exec(ctx context.Context, notFound error, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func (t *purchaseTx) GetSupplierForUpdate(ctx context.Context, id int64) (Supplier, error) {
	return scanSupplier(t.q.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1 FOR UPDATE`, id))
}

func (t *purchaseTx) AdjustSupplierBalance(ctx context.Context, id int64, delta decimal.Decimal) error {
	return t.exec(ctx, ErrSupplierNotFound, `UPDATE suppliers SET balance = balance + $2, updated_at = NOW() WHERE id = $1`, id, db.Numeric(delta))
}

func (t *purchaseTx) InsertPurchaseInvoice(ctx context.Context, p PurchaseInvoice) (PurchaseInvoice, error) {
	created, err := scanPurchase(t.q.QueryRow(ctx, `INSERT INTO purchase_invoices (supplier_id, letter, point_of_sale, number, issue_date, due_date, status,
currency, exchange_rate, subtotal, tax_amount, perceptions_amount, total, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING `+purchaseColumns,
		p.SupplierID, p.Letter, p.PointOfSale, p.Number, p.IssueDate, p.DueDate, p.Status, p.Currency, db.Numeric(p.ExchangeRate),
		db.Numeric(p.Subtotal), db.Numeric(p.TaxAmount), db.Numeric(p.PerceptionsSum), db.Numeric(p.Total), p.Notes, p.CreatedBy))
	if err != nil {
		if db.IsUniqueViolation(err, "uq_purchase_invoices_document") {
			return PurchaseInvoice{}, ErrDuplicateInvoice
		}
		return PurchaseInvoice{}, fmt.Errorf("insert purchase invoice: %w", err)
	}
	for _, it := range p.Items {
		it.PurchaseInvoiceID = created.ID
		if err := t.q.QueryRow(ctx, `INSERT INTO purchase_invoice_items (purchase_invoice_id, product_id, description, quantity, unit_cost, discount_pct, vat_rate, net, account_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			created.ID, it.ProductID, it.Description, db.Numeric(it.Quantity), db.Numeric(it.UnitCost), db.Numeric(it.DiscountPct),
			db.Numeric(it.VATRate), db.Numeric(it.Net), it.AccountID,
		).Scan(&it.ID); err != nil {
			return PurchaseInvoice{}, fmt.Errorf("insert purchase item: %w", err)
		}
		created.Items = append(created.Items, it)
	}
	for _, tax := range p.Taxes {
		if _, err := t.q.Exec(ctx, `INSERT INTO purchase_invoice_taxes (purchase_invoice_id, rate, base, amount) VALUES ($1,$2,$3,$4)`,
			created.ID, db.Numeric(tax.Rate), db.Numeric(tax.Base), db.Numeric(tax.Amount)); err != nil {
			return PurchaseInvoice{}, fmt.Errorf("insert purchase tax: %w", err)
		}
	}
	for _, pc := range p.Perceptions {
		if _, err := t.q.Exec(ctx, `INSERT INTO purchase_invoice_perceptions (purchase_invoice_id, tax_type, jurisdiction, amount) VALUES ($1,$2,$3,$4)`,
			created.ID, pc.TaxType, pc.Jurisdiction, db.Numeric(pc.Amount)); err != nil {
			return PurchaseInvoice{}, fmt.Errorf("insert purchase perception: %w", err)
		}
	}
	created.Taxes = p.Taxes
	created.Perceptions = p.Perceptions
	return created, nil
}

func (t *purchaseTx) GetPurchaseInvoiceForUpdate(ctx context.Context, id int64) (PurchaseInvoice, error) {
	return getPurchase(ctx, t.q, id, true)
}

func (t *purchaseTx) ApprovePurchaseInvoice(ctx context.Context, id, entryID int64, rate decimal.Decimal) error {
	return t.exec(ctx, ErrNotFound, `UPDATE purchase_invoices SET status = 'APPROVED', journal_entry_id = $2, exchange_rate = $3, approved_at = NOW(), updated_at = NOW()
WHERE id = $1`, id, entryID, db.Numeric(rate))
}

// MarkStockImpacted flips the guard only once; a second call finds no row to update.
func (t *purchaseTx) MarkStockImpacted(ctx context.Context, id int64) error {
	return t.exec(ctx, ErrStockAlreadyImpacted, `UPDATE purchase_invoices SET stock_impacted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT stock_impacted`, id)
}

func (t *purchaseTx) AddReturnedQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	return t.exec(ctx, ErrNotFound, `UPDATE purchase_invoice_items SET returned_quantity = returned_quantity + $2 WHERE id = $1`, itemID, db.Numeric(qty))
}

func (t *purchaseTx) InsertCreditNote(ctx context.Context, cn CreditNote) (CreditNote, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO purchase_credit_notes (purchase_invoice_id, number, date, reason, net, tax, total, stock_returned, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		cn.PurchaseInvoiceID, cn.Number, cn.Date, cn.Reason, db.Numeric(cn.Net), db.Numeric(cn.Tax), db.Numeric(cn.Total), cn.StockReturned, cn.CreatedBy,
	).Scan(&cn.ID, &cn.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_purchase_credit_notes_number") {
			return CreditNote{}, ErrDuplicateInvoice
		}
		return CreditNote{}, fmt.Errorf("insert credit note: %w", err)
	}
	for i := range cn.Items {
		cn.Items[i].CreditNoteID = cn.ID
		it := cn.Items[i]
		if err := t.q.QueryRow(ctx, `INSERT INTO purchase_credit_note_items (credit_note_id, purchase_item_id, product_id, quantity, unit_cost, discount_pct, vat_rate, net, tax)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			cn.ID, it.PurchaseItemID, it.ProductID, db.Numeric(it.Quantity), db.Numeric(it.UnitCost), db.Numeric(it.DiscountPct),
			db.Numeric(it.VATRate), db.Numeric(it.Net), db.Numeric(it.Tax),
		).Scan(&cn.Items[i].ID); err != nil {
			return CreditNote{}, fmt.Errorf("insert credit note item: %w", err)
		}
	}
	return cn, nil
}

func (t *purchaseTx) SetCreditNoteJournal(ctx context.Context, id, entryID int64) error {
	return t.exec(ctx, ErrNotFound, `UPDATE purchase_credit_notes SET journal_entry_id = $2 WHERE id = $1`, id, entryID)
}
