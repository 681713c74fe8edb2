package quotations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/internal/shared"
)

var ErrNotFound = fmt.Errorf("quotations: quote %w", shared.ErrNotFound)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Quote, error)
	List(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error)
	ListOpen(ctx context.Context) ([]Quote, error)
	History(ctx context.Context, quoteID int64) ([]StatusChange, error)
}

// TxRepository holds the writes and locking reads used inside a transaction.
type TxRepository interface {
	NextQuoteNumber(ctx context.Context) (string, error)
	InsertQuote(ctx context.Context, q Quote) (Quote, error)
	InsertQuoteItems(ctx context.Context, quoteID int64, items []Item) ([]Item, error)
	GetQuoteForUpdate(ctx context.Context, id int64) (Quote, error)
	UpdateQuoteStatus(ctx context.Context, id int64, status Status) error
	InsertStatusChange(ctx context.Context, change StatusChange) error
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

type txRepo struct {
	q db.DBTX
}

func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepo{q: q}
}

const quoteColumns = `id, number, customer_id, date, validity_days, currency, status, subtotal, notes, created_by, created_at, updated_at`

// invoiced sums quantities on invoice items of invoices that were not cancelled.
const itemColumns = `qi.id, qi.quote_id, qi.product_id, qi.description, qi.quantity, qi.unit_price, qi.discount_pct,
qi.delivery_time, qi.is_alternative, qi.line_order,
COALESCE((SELECT SUM(ii.quantity) FROM invoice_items ii JOIN invoices i ON i.id = ii.invoice_id
  WHERE ii.quote_item_id = qi.id AND i.status <> 'CANCELLED'), 0)`

func scanQuote(row pgx.Row) (Quote, error) {
	var (
		q        Quote
		days     int
		subtotal pgtype.Numeric
	)
	err := row.Scan(&q.ID, &q.Number, &q.CustomerID, &q.Date, &days, &q.Currency, &q.Status, &subtotal, &q.Notes, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	q.ValidityDays = shared.Days(days)
	q.Subtotal = db.Decimal(subtotal)
	return q, nil
}

func loadItems(ctx context.Context, q db.DBTX, quoteIDs ...int64) (map[int64][]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM quote_items qi WHERE qi.quote_id = ANY($1) ORDER BY qi.quote_id, qi.line_order, qi.id`, quoteIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Item, len(quoteIDs))
	for rows.Next() {
		var (
			it                         Item
			qty, price, disc, invoiced pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.QuoteID, &it.ProductID, &it.Description, &qty, &price, &disc, &it.DeliveryTime, &it.IsAlternative, &it.LineOrder, &invoiced); err != nil {
			return nil, err
		}
		it.Quantity = db.Decimal(qty)
		it.UnitPrice = db.Decimal(price)
		it.DiscountPct = db.Decimal(disc)
		it.InvoicedQuantity = db.Decimal(invoiced)
		out[it.QuoteID] = append(out[it.QuoteID], it)
	}
	return out, rows.Err()
}

func getQuote(ctx context.Context, q db.DBTX, id int64, lock bool) (Quote, error) {
	sql := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	quote, err := scanQuote(q.QueryRow(ctx, sql, id))
	if err != nil {
		return Quote{}, err
	}
	if lock {
		if _, err := q.Exec(ctx, `SELECT id FROM quote_items WHERE quote_id = $1 ORDER BY id FOR UPDATE`, id); err != nil {
			return Quote{}, fmt.Errorf("lock quote items: %w", err)
		}
	}
	items, err := loadItems(ctx, q, id)
	if err != nil {
		return Quote{}, err
	}
	quote.Items = items[id]
	return quote, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Quote, error) {
	return getQuote(ctx, r.pool, id, false)
}

func (r *repository) List(ctx context.Context, req ListQuotesRequest) ([]Quote, int, error) {
	var conditions []string
	var args []any
	if req.CustomerID != nil {
		args = append(args, *req.CustomerID)
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	if req.Status != "" {
		args = append(args, req.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quotes`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count quotes: %w", err)
	}
	args = append(args, req.Page.PerPage, req.Page.Offset())
	quotes, err := r.listQuotes(ctx, fmt.Sprintf(`SELECT %s FROM quotes%s ORDER BY date DESC, id DESC LIMIT $%d OFFSET $%d`, quoteColumns, where, len(args)-1, len(args)), args...)
	return quotes, total, err
}

// ListOpen returns SENT and ACCEPTED quotes with their items, for the board.
func (r *repository) ListOpen(ctx context.Context) ([]Quote, error) {
	return r.listQuotes(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE status IN ('SENT', 'ACCEPTED') ORDER BY date, id`)
}

func (r *repository) listQuotes(ctx context.Context, sql string, args ...any) ([]Quote, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var (
		out []Quote
		ids []int64
	)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
		ids = append(ids, q.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	items, err := loadItems(ctx, r.pool, ids...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *repository) History(ctx context.Context, quoteID int64) ([]StatusChange, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, quote_id, from_status, to_status, reason, changed_by, changed_at
FROM quote_status_history WHERE quote_id = $1 ORDER BY changed_at, id`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.QuoteID, &c.From, &c.To, &c.Reason, &c.ChangedBy, &c.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txRepo) NextQuoteNumber(ctx context.Context) (string, error) {
	var n int64
	if err := t.q.QueryRow(ctx, `SELECT nextval('quote_number_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("quote number: %w", err)
	}
	return fmt.Sprintf("COT-%08d", n), nil
}

func (t *txRepo) InsertQuote(ctx context.Context, q Quote) (Quote, error) {
	return scanQuote(t.q.QueryRow(ctx, `INSERT INTO quotes (number, customer_id, date, validity_days, currency, status, subtotal, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+quoteColumns,
		q.Number, q.CustomerID, q.Date, int(q.ValidityDays), q.Currency, q.Status, db.Numeric(q.Subtotal), q.Notes, q.CreatedBy))
}

func (t *txRepo) InsertQuoteItems(ctx context.Context, quoteID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		it.QuoteID = quoteID
		if err := t.q.QueryRow(ctx, `INSERT INTO quote_items (quote_id, product_id, description, quantity, unit_price, discount_pct, delivery_time, is_alternative, line_order)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			quoteID, it.ProductID, it.Description, db.Numeric(it.Quantity), db.Numeric(it.UnitPrice), db.Numeric(it.DiscountPct), it.DeliveryTime, it.IsAlternative, it.LineOrder,
		).Scan(&it.ID); err != nil {
			return nil, fmt.Errorf("insert quote item: %w", err)
		}
		out = append(out, it)
	}
	return out, nil
}

func (t *txRepo) GetQuoteForUpdate(ctx context.Context, id int64) (Quote, error) {
	return getQuote(ctx, t.q, id, true)
}

func (t *txRepo) UpdateQuoteStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.q.Exec(ctx, `UPDATE quotes SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertStatusChange(ctx context.Context, c StatusChange) error {
	_, err := t.q.Exec(ctx, `INSERT INTO quote_status_history (quote_id, from_status, to_status, reason, changed_by)
VALUES ($1,$2,$3,$4,$5)`, c.QuoteID, c.From, c.To, c.Reason, c.ChangedBy)
	return err
}
