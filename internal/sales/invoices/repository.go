package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pampa-erp/pampa/internal/platform/db"
)

type Repository interface {
	Get(ctx context.Context, id int64) (Invoice, error)
	ListByQuote(ctx context.Context, quoteID int64) ([]Invoice, error)
}

// TxRepository holds the invoice writes used by the sales and treasury orchestrators.
type TxRepository interface {
	NextInvoiceNumber(ctx context.Context, letter Letter, pointOfSale int) (int64, error)
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status Status) error
	SetInvoiceJournal(ctx context.Context, id, entryID int64) error
	UpdateInvoiceBalance(ctx context.Context, id int64, inv Invoice) error
	AuthorizeInvoice(ctx context.Context, id int64, cae string, expiry time.Time) error
	MarkOverdueInvoices(ctx context.Context, asOf time.Time) ([]int64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

type txRepo struct {
	q db.DBTX
}

func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepo{q: q}
}

const invoiceColumns = `id, letter, point_of_sale, number, customer_id, issue_date, due_date, status, currency, exchange_rate,
subtotal, discount, tax_amount, total, balance, quote_id, journal_entry_id, cae, cae_expiry, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv                                           Invoice
		rate, subtotal, discount, tax, total, balance pgtype.Numeric
	)
	err := row.Scan(&inv.ID, &inv.Letter, &inv.PointOfSale, &inv.Number, &inv.CustomerID, &inv.IssueDate, &inv.DueDate, &inv.Status,
		&inv.Currency, &rate, &subtotal, &discount, &tax, &total, &balance, &inv.QuoteID, &inv.JournalEntryID, &inv.CAE, &inv.CAEExpiry,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrNotFound
		}
		return Invoice{}, err
	}
	inv.ExchangeRate = db.Decimal(rate)
	inv.Subtotal = db.Decimal(subtotal)
	inv.Discount = db.Decimal(discount)
	inv.TaxAmount = db.Decimal(tax)
	inv.Total = db.Decimal(total)
	inv.Balance = db.Decimal(balance)
	return inv, nil
}

func loadItems(ctx context.Context, q db.DBTX, invoiceID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, invoice_id, quote_item_id, product_id, description, quantity, unit_price, discount_pct, vat_rate, net, unit_cost
FROM invoice_items WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Item
	for rows.Next() {
		var (
			it                                   Item
			qty, price, disc, vat, net, unitCost pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.QuoteItemID, &it.ProductID, &it.Description, &qty, &price, &disc, &vat, &net, &unitCost); err != nil {
			return nil, err
		}
		it.Quantity = db.Decimal(qty)
		it.UnitPrice = db.Decimal(price)
		it.DiscountPct = db.Decimal(disc)
		it.VATRate = db.Decimal(vat)
		it.Net = db.Decimal(net)
		it.UnitCost = db.Decimal(unitCost)
		out = append(out, it)
	}
	return out, rows.Err()
}

func getInvoice(ctx context.Context, q db.DBTX, id int64, lock bool) (Invoice, error) {
	sql := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, sql, id))
	if err != nil {
		return Invoice{}, err
	}
	inv.Items, err = loadItems(ctx, q, id)
	return inv, err
}

func (r *repository) Get(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, r.pool, id, false)
}

func (r *repository) ListByQuote(ctx context.Context, quoteID int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE quote_id = $1 ORDER BY id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// NextInvoiceNumber bumps the counter of the letter and point of sale.
func (t *txRepo) NextInvoiceNumber(ctx context.Context, letter Letter, pointOfSale int) (int64, error) {
	var n int64
	err := t.q.QueryRow(ctx, `INSERT INTO invoice_numbers (letter, point_of_sale, last_number) VALUES ($1, $2, 1)
ON CONFLICT (letter, point_of_sale) DO UPDATE SET last_number = invoice_numbers.last_number + 1
RETURNING last_number`, letter, pointOfSale).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("invoice number: %w", err)
	}
	return n, nil
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	created, err := scanInvoice(t.q.QueryRow(ctx, `INSERT INTO invoices (letter, point_of_sale, number, customer_id, issue_date, due_date, status, currency, exchange_rate,
subtotal, discount, tax_amount, total, balance, quote_id, journal_entry_id, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17) RETURNING `+invoiceColumns,
		inv.Letter, inv.PointOfSale, inv.Number, inv.CustomerID, inv.IssueDate, inv.DueDate, inv.Status, inv.Currency, db.Numeric(inv.ExchangeRate),
		db.Numeric(inv.Subtotal), db.Numeric(inv.Discount), db.Numeric(inv.TaxAmount), db.Numeric(inv.Total), db.Numeric(inv.Balance),
		inv.QuoteID, inv.JournalEntryID, inv.CreatedBy))
	if err != nil {
		return Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}
	for _, it := range inv.Items {
		it.InvoiceID = created.ID
		if err := t.q.QueryRow(ctx, `INSERT INTO invoice_items (invoice_id, quote_item_id, product_id, description, quantity, unit_price, discount_pct, vat_rate, net, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
			created.ID, it.QuoteItemID, it.ProductID, it.Description, db.Numeric(it.Quantity), db.Numeric(it.UnitPrice),
			db.Numeric(it.DiscountPct), db.Numeric(it.VATRate), db.Numeric(it.Net), db.Numeric(it.UnitCost),
		).Scan(&it.ID); err != nil {
			return Invoice{}, fmt.Errorf("insert invoice item: %w", err)
		}
		created.Items = append(created.Items, it)
	}
	return created, nil
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, t.q, id, true)
}

func (t *txRepo) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status Status) error {
	return t.exec(ctx, `UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
}

func (t *txRepo) SetInvoiceJournal(ctx context.Context, id, entryID int64) error {
	return t.exec(ctx, `UPDATE invoices SET journal_entry_id = $2, updated_at = NOW() WHERE id = $1`, id, entryID)
}

// UpdateInvoiceBalance stores the balance and status carried by inv.
func (t *txRepo) UpdateInvoiceBalance(ctx context.Context, id int64, inv Invoice) error {
	return t.exec(ctx, `UPDATE invoices SET balance = $2, status = $3, updated_at = NOW() WHERE id = $1`, id, db.Numeric(inv.Balance), inv.Status)
}

func (t *txRepo) AuthorizeInvoice(ctx context.Context, id int64, cae string, expiry time.Time) error {
	return t.exec(ctx, `UPDATE invoices SET status = 'AUTHORIZED', cae = $2, cae_expiry = $3, updated_at = NOW() WHERE id = $1`, id, cae, expiry)
}

// MarkOverdueInvoices flags collectible invoices past due with an open balance.
func (t *txRepo) MarkOverdueInvoices(ctx context.Context, asOf time.Time) ([]int64, error) {
	rows, err := t.q.Query(ctx, `UPDATE invoices SET status = 'OVERDUE', updated_at = NOW()
WHERE status IN ('AUTHORIZED', 'SENT') AND due_date < $1 AND balance > 0 RETURNING id`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
