package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	UpdateProductStock(ctx context.Context, id int64, stock, lastCost decimal.Decimal, costCurrency string) error
	InsertMovement(ctx context.Context, mv Movement) (Movement, error)
	InsertProduct(ctx context.Context, p Product) (Product, error)
}

type txRepo struct {
	q db.DBTX
}

// NewTxRepository binds the transactional operations to q.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepo{q: q}
}

// WithTx executes the callback inside a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const productColumns = `id, sku, name, unit, stock, last_cost, cost_currency, allow_negative, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var (
		p               Product
		stock, lastCost pgtype.Numeric
	)
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &stock, &lastCost, &p.CostCurrency, &p.AllowNegative, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	p.Stock = db.Decimal(stock)
	p.LastCost = db.Decimal(lastCost)
	return p, nil
}

// GetProduct loads a product without locking it.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
}

// ListProducts returns a page of products ordered by SKU.
func (r *Repository) ListProducts(ctx context.Context, page shared.PageRequest) ([]Product, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY sku LIMIT $1 OFFSET $2`, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

const movementColumns = `id, product_id, type, quantity, unit_cost, cost_currency, stock_before, stock_after, source_module, source_ref, note, created_by, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		mv                       Movement
		qty, cost, before, after pgtype.Numeric
	)
	if err := row.Scan(&mv.ID, &mv.ProductID, &mv.Type, &qty, &cost, &mv.CostCurrency, &before, &after, &mv.SourceModule, &mv.SourceRef, &mv.Note, &mv.CreatedBy, &mv.CreatedAt); err != nil {
		return Movement{}, err
	}
	mv.Quantity = db.Decimal(qty)
	mv.UnitCost = db.Decimal(cost)
	mv.StockBefore = db.Decimal(before)
	mv.StockAfter = db.Decimal(after)
	return mv, nil
}

// Movements lists a product's movements, newest first.
func (r *Repository) Movements(ctx context.Context, productID int64, page shared.PageRequest) ([]Movement, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE product_id = $1`, productID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE product_id = $1
ORDER BY id DESC LIMIT $2 OFFSET $3`, productID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		mv, err := scanMovement(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, mv)
	}
	return out, total, rows.Err()
}

func (t *txRepo) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(t.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateProductStock(ctx context.Context, id int64, stock, lastCost decimal.Decimal, costCurrency string) error {
	tag, err := t.q.Exec(ctx, `UPDATE products SET stock = $2, last_cost = $3, cost_currency = $4, updated_at = NOW() WHERE id = $1`,
		id, db.Numeric(stock), db.Numeric(lastCost), costCurrency)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, mv Movement) (Movement, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO stock_movements (product_id, type, quantity, unit_cost, cost_currency, stock_before, stock_after, source_module, source_ref, note, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id, created_at`,
		mv.ProductID, mv.Type, db.Numeric(mv.Quantity), db.Numeric(mv.UnitCost), mv.CostCurrency,
		db.Numeric(mv.StockBefore), db.Numeric(mv.StockAfter), mv.SourceModule, mv.SourceRef, mv.Note, mv.CreatedBy).
		Scan(&mv.ID, &mv.CreatedAt)
	if err != nil {
		return Movement{}, fmt.Errorf("inventory: insert movement: %w", err)
	}
	return mv, nil
}

func (t *txRepo) InsertProduct(ctx context.Context, p Product) (Product, error) {
	created, err := scanProduct(t.q.QueryRow(ctx, `INSERT INTO products (sku, name, unit, stock, last_cost, cost_currency, allow_negative, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+productColumns,
		p.SKU, p.Name, p.Unit, db.Numeric(p.Stock), db.Numeric(p.LastCost), p.CostCurrency, p.AllowNegative, p.IsActive))
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Product{}, ErrDuplicateSKU
		}
		return Product{}, err
	}
	return created, nil
}
