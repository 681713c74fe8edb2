package treasury

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, id int64) (Receipt, error)
}

// ReceiptTx holds the receipt writes performed inside a transaction.
type ReceiptTx interface {
	NextReceiptNumber(ctx context.Context) (string, error)
	InsertReceipt(ctx context.Context, r Receipt) (Receipt, error)
	GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error)
	InsertWithholdingGroup(ctx context.Context, receiptID int64, g WithholdingGroup) (WithholdingGroup, error)
	LinkWithholding(ctx context.Context, lineID, groupID int64) error
	ApproveReceipt(ctx context.Context, id, entryID int64, at time.Time) error
}

// TxRepository binds receipts with the invoices they settle and the ledger.
type TxRepository interface {
	ReceiptTx
	invoices.TxRepository
	journals.TxRepository
}

type (
	invoiceTx = invoices.TxRepository
	journalTx = journals.TxRepository
)

type txRepo struct {
	*receiptTx
	invoiceTx
	journalTx
}

func NewTxRepository(q db.DBTX) TxRepository {
	return txRepo{
		receiptTx: &receiptTx{q: q},
		invoiceTx: invoices.NewTxRepository(q),
		journalTx: journals.NewTxRepository(q),
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

func (r *repository) GetReceipt(ctx context.Context, id int64) (Receipt, error) {
	return getReceipt(ctx, r.pool, id, false)
}

const receiptColumns = `id, number, customer_id, date, status, total_payments, total_withholdings, total_applied, journal_entry_id,
notes, approved_at, created_by, created_at`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var (
		r                             Receipt
		payments, withholdings, total pgtype.Numeric
	)
	err := row.Scan(&r.ID, &r.Number, &r.CustomerID, &r.Date, &r.Status, &payments, &withholdings, &total, &r.JournalEntryID,
		&r.Notes, &r.ApprovedAt, &r.CreatedBy, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrNotFound
		}
		return Receipt{}, err
	}
	r.TotalPayments = db.Decimal(payments)
	r.TotalWithholdings = db.Decimal(withholdings)
	r.TotalApplied = db.Decimal(total)
	return r, nil
}

func getReceipt(ctx context.Context, q db.DBTX, id int64, lock bool) (Receipt, error) {
	sql := `SELECT ` + receiptColumns + ` FROM receipts WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	r, err := scanReceipt(q.QueryRow(ctx, sql, id))
	if err != nil {
		return Receipt{}, err
	}
	if err := loadChildren(ctx, q, &r); err != nil {
		return Receipt{}, err
	}
	return r, nil
}

func loadChildren(ctx context.Context, q db.DBTX, r *Receipt) error {
	rows, err := q.Query(ctx, `SELECT id, method, amount, reference, account_id FROM receipt_payments WHERE receipt_id = $1 ORDER BY id`, r.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			p      Payment
			amount pgtype.Numeric
		)
		if err := rows.Scan(&p.ID, &p.Method, &amount, &p.Reference, &p.AccountID); err != nil {
			rows.Close()
			return err
		}
		p.Amount = db.Decimal(amount)
		r.Payments = append(r.Payments, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT id, group_id, tax_type, jurisdiction, amount, certificate FROM receipt_withholdings WHERE receipt_id = $1 ORDER BY id`, r.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			w      WithholdingLine
			amount pgtype.Numeric
		)
		if err := rows.Scan(&w.ID, &w.GroupID, &w.TaxType, &w.Jurisdiction, &amount, &w.Certificate); err != nil {
			rows.Close()
			return err
		}
		w.Amount = db.Decimal(amount)
		r.Withholdings = append(r.Withholdings, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT id, tax_type, account_id, amount FROM receipt_withholding_groups WHERE receipt_id = $1 ORDER BY id`, r.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			g      WithholdingGroup
			amount pgtype.Numeric
		)
		if err := rows.Scan(&g.ID, &g.TaxType, &g.AccountID, &amount); err != nil {
			rows.Close()
			return err
		}
		g.Amount = db.Decimal(amount)
		r.Groups = append(r.Groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx, `SELECT id, invoice_id, amount FROM receipt_applications WHERE receipt_id = $1 ORDER BY invoice_id`, r.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a      Application
			amount pgtype.Numeric
		)
		if err := rows.Scan(&a.ID, &a.InvoiceID, &amount); err != nil {
			return err
		}
		a.Amount = db.Decimal(amount)
		r.Applications = append(r.Applications, a)
	}
	return rows.Err()
}

type receiptTx struct {
	q db.DBTX
}

func (t *receiptTx) NextReceiptNumber(ctx context.Context) (string, error) {
	var n int64
	if err := t.q.QueryRow(ctx, `SELECT nextval('receipt_number_seq')`).Scan(&n); err != nil {
		return "", fmt.Errorf("receipt number: %w", err)
	}
	return fmt.Sprintf("REC-%08d", n), nil
}

func (t *receiptTx) InsertReceipt(ctx context.Context, r Receipt) (Receipt, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO receipts (number, customer_id, date, status, total_payments, total_withholdings, total_applied, notes, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at`,
		r.Number, r.CustomerID, r.Date, r.Status, db.Numeric(r.TotalPayments), db.Numeric(r.TotalWithholdings), db.Numeric(r.TotalApplied),
		r.Notes, r.CreatedBy,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}
	for i, p := range r.Payments {
		if err := t.q.QueryRow(ctx, `INSERT INTO receipt_payments (receipt_id, method, amount, reference, account_id) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			r.ID, p.Method, db.Numeric(p.Amount), p.Reference, p.AccountID).Scan(&r.Payments[i].ID); err != nil {
			return Receipt{}, fmt.Errorf("insert receipt payment: %w", err)
		}
	}
	for i, w := range r.Withholdings {
		if err := t.q.QueryRow(ctx, `INSERT INTO receipt_withholdings (receipt_id, tax_type, jurisdiction, amount, certificate) VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			r.ID, w.TaxType, w.Jurisdiction, db.Numeric(w.Amount), w.Certificate).Scan(&r.Withholdings[i].ID); err != nil {
			return Receipt{}, fmt.Errorf("insert receipt withholding: %w", err)
		}
	}
	for i, a := range r.Applications {
		if err := t.q.QueryRow(ctx, `INSERT INTO receipt_applications (receipt_id, invoice_id, amount) VALUES ($1,$2,$3) RETURNING id`,
			r.ID, a.InvoiceID, db.Numeric(a.Amount)).Scan(&r.Applications[i].ID); err != nil {
			return Receipt{}, fmt.Errorf("insert receipt application: %w", err)
		}
	}
	return r, nil
}

func (t *receiptTx) GetReceiptForUpdate(ctx context.Context, id int64) (Receipt, error) {
	return getReceipt(ctx, t.q, id, true)
}

func (t *receiptTx) InsertWithholdingGroup(ctx context.Context, receiptID int64, g WithholdingGroup) (WithholdingGroup, error) {
	if err := t.q.QueryRow(ctx, `INSERT INTO receipt_withholding_groups (receipt_id, tax_type, account_id, amount) VALUES ($1,$2,$3,$4) RETURNING id`,
		receiptID, g.TaxType, g.AccountID, db.Numeric(g.Amount)).Scan(&g.ID); err != nil {
		return WithholdingGroup{}, fmt.Errorf("insert withholding group: %w", err)
	}
	return g, nil
}

func (t *receiptTx) LinkWithholding(ctx context.Context, lineID, groupID int64) error {
	_, err := t.q.Exec(ctx, `UPDATE receipt_withholdings SET group_id = $2 WHERE id = $1`, lineID, groupID)
	return err
}

func (t *receiptTx) ApproveReceipt(ctx context.Context, id, entryID int64, at time.Time) error {
	tag, err := t.q.Exec(ctx, `UPDATE receipts SET status = 'APPROVED', journal_entry_id = $2, approved_at = $3 WHERE id = $1`, id, entryID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
