package customers

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

var (
	ErrNotFound      = fmt.Errorf("customers: customer %w", shared.ErrNotFound)
	ErrAlreadyExists = fmt.Errorf("customers: customer already exists: %w", shared.ErrConflict)
)

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Customer, error)
	GetByCUIT(ctx context.Context, cuit string) (*Customer, error)
	List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error)
	Create(ctx context.Context, customer Customer) (Customer, error)
}

type repository struct {
	db   db.DBTX
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const customerColumns = `id, code, name, cuit, tax_condition, email, phone, address, payment_terms_days, credit_limit, is_active, created_by, created_at, updated_at`

func scanCustomer(row pgx.Row) (*Customer, error) {
	var (
		c     Customer
		limit pgtype.Numeric
		terms int
	)
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.CUIT, &c.TaxCondition, &c.Email, &c.Phone, &c.Address, &terms, &limit, &c.IsActive, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.PaymentTermsDays = shared.Days(terms)
	c.CreditLimit = db.Decimal(limit)
	return &c, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

func (r *repository) GetByCUIT(ctx context.Context, cuit string) (*Customer, error) {
	return scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE cuit = $1`, cuit))
}

func (r *repository) List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	var conditions []string
	var args []any
	if req.IsActive != nil {
		args = append(args, *req.IsActive)
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if req.Search != "" {
		args = append(args, "%"+req.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(code ILIKE $%d OR name ILIKE $%d OR cuit ILIKE $%d)", len(args), len(args), len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count customers: %w", err)
	}
	args = append(args, req.Limit, req.Offset)
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM customers%s ORDER BY name LIMIT $%d OFFSET $%d`, customerColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, c Customer) (Customer, error) {
	created, err := scanCustomer(r.db.QueryRow(ctx, `INSERT INTO customers (code, name, cuit, tax_condition, email, phone, address, payment_terms_days, credit_limit, is_active, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING `+customerColumns,
		c.Code, c.Name, c.CUIT, c.TaxCondition, c.Email, c.Phone, c.Address, int(c.PaymentTermsDays), db.Numeric(c.CreditLimit), c.IsActive, c.CreatedBy))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Customer{}, fmt.Errorf("%w: code %s", ErrAlreadyExists, c.Code)
		}
		return Customer{}, err
	}
	return *created, nil
}
