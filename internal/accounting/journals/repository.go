package journals

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/balance"
	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/internal/shared"
)

// ListFilter narrows journal listings.
type ListFilter struct {
	Status       Status
	SourceModule string
	From         *time.Time
	To           *time.Time
	Page         shared.PageRequest
}

// AccountTotals aggregates ledger-effective lines of one account.
type AccountTotals struct {
	Account accounts.Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Imbalance is an entry whose stored lines do not balance.
type Imbalance struct {
	EntryID int64           `json:"entry_id"`
	Number  int64           `json:"number"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
}

// Repository encapsulates DB operations for journals.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filter ListFilter) ([]Entry, int, error)
	Get(ctx context.Context, id int64) (Entry, error)
	GetAccount(ctx context.Context, id int64) (accounts.Account, error)
	TotalsBefore(ctx context.Context, accountID int64, before time.Time) (debit, credit decimal.Decimal, err error)
	AccountMovements(ctx context.Context, accountID int64, from, to time.Time) ([]balance.Movement, error)
	TotalsByAccount(ctx context.Context, asOf time.Time) ([]AccountTotals, error)
	Imbalances(ctx context.Context, tolerance decimal.Decimal) ([]Imbalance, error)
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	LockAccounts(ctx context.Context, ids []int64) ([]accounts.Account, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	InsertEntryLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error)
	GetEntryForUpdate(ctx context.Context, id int64) (Entry, error)
	UpdateEntry(ctx context.Context, entry Entry) error
	ReplaceEntryLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error)
	DeleteEntry(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const entryColumns = `id, number, date, description, reference, status, source_module, source_id, reversal_of, created_by, posted_at, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e      Entry
		source pgtype.UUID
	)
	if err := row.Scan(&e.ID, &e.Number, &e.Date, &e.Description, &e.Reference, &e.Status, &e.SourceModule, &source, &e.ReversalOf, &e.CreatedBy, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return Entry{}, err
	}
	if source.Valid {
		id := uuid.UUID(source.Bytes)
		e.SourceID = &id
	}
	return e, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	where, args := filter.clause()
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM journal_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page := filter.Page
	if page.PerPage == 0 {
		page = shared.PageRequest{Page: 1, PerPage: 20}
	}
	args = append(args, page.PerPage, page.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM journal_entries%s ORDER BY date DESC, number DESC LIMIT $%d OFFSET $%d`,
		entryColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

func (f ListFilter) clause() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.SourceModule != "" {
		add("source_module = $%d", f.SourceModule)
	}
	if f.From != nil {
		add("date >= $%d", *f.From)
	}
	if f.To != nil {
		add("date <= $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repository) Get(ctx context.Context, id int64) (Entry, error) {
	return getEntry(ctx, r.pool, id, "")
}

func (r *repository) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	var a accounts.Account
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, type, accepts_entries, is_active FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.AcceptsEntries, &a.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return accounts.Account{}, fmt.Errorf("journals: account %d: %w", id, shared.ErrNotFound)
		}
		return accounts.Account{}, err
	}
	return a, nil
}

func (r *repository) TotalsBefore(ctx context.Context, accountID int64, before time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit pgtype.Numeric
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id = $1 AND e.status <> 'DRAFT' AND e.date < $2`, accountID, before).Scan(&debit, &credit)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return db.Decimal(debit), db.Decimal(credit), nil
}

func (r *repository) AccountMovements(ctx context.Context, accountID int64, from, to time.Time) ([]balance.Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.id, e.number, l.id, e.date, COALESCE(NULLIF(l.description,''), e.description), e.reference, l.debit, l.credit
FROM journal_lines l JOIN journal_entries e ON e.id = l.entry_id
WHERE l.account_id = $1 AND e.status <> 'DRAFT' AND e.date >= $2 AND e.date <= $3
ORDER BY e.date, e.number, l.id`, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []balance.Movement
	for rows.Next() {
		var (
			m             balance.Movement
			debit, credit pgtype.Numeric
		)
		if err := rows.Scan(&m.EntryID, &m.EntryNumber, &m.LineID, &m.Date, &m.Description, &m.Reference, &debit, &credit); err != nil {
			return nil, err
		}
		m.Debit = db.Decimal(debit)
		m.Credit = db.Decimal(credit)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *repository) TotalsByAccount(ctx context.Context, asOf time.Time) ([]AccountTotals, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.accepts_entries, a.is_active,
COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
JOIN accounts a ON a.id = l.account_id
WHERE e.status <> 'DRAFT' AND e.date <= $1
GROUP BY a.id ORDER BY a.code`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountTotals
	for rows.Next() {
		var (
			t             AccountTotals
			debit, credit pgtype.Numeric
		)
		if err := rows.Scan(&t.Account.ID, &t.Account.Code, &t.Account.Name, &t.Account.Type, &t.Account.AcceptsEntries, &t.Account.IsActive, &debit, &credit); err != nil {
			return nil, err
		}
		t.Debit = db.Decimal(debit)
		t.Credit = db.Decimal(credit)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repository) Imbalances(ctx context.Context, tolerance decimal.Decimal) ([]Imbalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.id, e.number, SUM(l.debit), SUM(l.credit)
FROM journal_entries e JOIN journal_lines l ON l.entry_id = e.id
WHERE e.status <> 'DRAFT'
GROUP BY e.id HAVING ABS(SUM(l.debit) - SUM(l.credit)) > $1
ORDER BY e.number`, db.Numeric(tolerance))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Imbalance
	for rows.Next() {
		var (
			im            Imbalance
			debit, credit pgtype.Numeric
		)
		if err := rows.Scan(&im.EntryID, &im.Number, &debit, &credit); err != nil {
			return nil, err
		}
		im.Debit = db.Decimal(debit)
		im.Credit = db.Decimal(credit)
		out = append(out, im)
	}
	return out, rows.Err()
}

type txRepository struct {
	q db.DBTX
}

// NewTxRepository binds the transactional operations to q.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{q: q}
}

func (r *txRepository) LockAccounts(ctx context.Context, ids []int64) ([]accounts.Account, error) {
	rows, err := r.q.Query(ctx, `SELECT id, code, name, type, accepts_entries, is_active FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []accounts.Account
	for rows.Next() {
		var a accounts.Account
		if err := rows.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.AcceptsEntries, &a.IsActive); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	var source pgtype.UUID
	if entry.SourceID != nil {
		source = pgtype.UUID{Bytes: [16]byte(*entry.SourceID), Valid: true}
	}
	row := r.q.QueryRow(ctx, `INSERT INTO journal_entries (date, description, reference, status, source_module, source_id, reversal_of, created_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+entryColumns,
		entry.Date, entry.Description, entry.Reference, entry.Status, entry.SourceModule, source, entry.ReversalOf, entry.CreatedBy, entry.PostedAt)
	inserted, err := scanEntry(row)
	if err != nil {
		if db.IsUniqueViolation(err, "uq_journal_entries_source") {
			return Entry{}, ErrSourceConflict
		}
		return Entry{}, err
	}
	return inserted, nil
}

func (r *txRepository) InsertEntryLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		line.EntryID = entryID
		if err := r.q.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, account_id, debit, credit, description)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, entryID, line.AccountID, db.Numeric(line.Debit), db.Numeric(line.Credit), line.Description).Scan(&line.ID); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id int64) (Entry, error) {
	return getEntry(ctx, r.q, id, " FOR UPDATE")
}

func (r *txRepository) UpdateEntry(ctx context.Context, entry Entry) error {
	tag, err := r.q.Exec(ctx, `UPDATE journal_entries SET date = $2, description = $3, reference = $4, status = $5, posted_at = $6, updated_at = NOW()
WHERE id = $1`, entry.ID, entry.Date, entry.Description, entry.Reference, entry.Status, entry.PostedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) ReplaceEntryLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error) {
	if _, err := r.q.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id = $1`, entryID); err != nil {
		return nil, err
	}
	return r.InsertEntryLines(ctx, entryID, lines)
}

func (r *txRepository) DeleteEntry(ctx context.Context, id int64) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM journal_lines WHERE entry_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `DELETE FROM journal_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func getEntry(ctx context.Context, q db.DBTX, id int64, lock string) (Entry, error) {
	entry, err := scanEntry(q.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id = $1`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, entry_id, account_id, debit, credit, description FROM journal_lines WHERE entry_id = $1 ORDER BY id`, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			l             Line
			debit, credit pgtype.Numeric
		)
		if err := rows.Scan(&l.ID, &l.EntryID, &l.AccountID, &debit, &credit, &l.Description); err != nil {
			return Entry{}, err
		}
		l.Debit = db.Decimal(debit)
		l.Credit = db.Decimal(credit)
		entry.Lines = append(entry.Lines, l)
	}
	return entry, rows.Err()
}
