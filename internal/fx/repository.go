package fx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pampa-erp/pampa/internal/platform/db"
)

// Repository exposes exchange-rate persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, currency string) ([]Rate, error)
}

// TxRepository reads and writes rates inside a transaction.
type TxRepository interface {
	ListRates(ctx context.Context, currency string) ([]Rate, error)
	InsertRate(ctx context.Context, rate Rate) (Rate, error)
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

func (r *repository) List(ctx context.Context, currency string) ([]Rate, error) {
	return listRates(ctx, r.pool, currency)
}

type txRepository struct {
	q db.DBTX
}

// NewTxRepository binds rate queries to q.
func NewTxRepository(q db.DBTX) TxRepository {
	return &txRepository{q: q}
}

func (r *txRepository) ListRates(ctx context.Context, currency string) ([]Rate, error) {
	return listRates(ctx, r.q, currency)
}

func (r *txRepository) InsertRate(ctx context.Context, rate Rate) (Rate, error) {
	err := r.q.QueryRow(ctx, `INSERT INTO exchange_rates (currency, rate, valid_from, valid_to, source)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at`,
		rate.Currency, db.Numeric(rate.Rate), rate.Validity.From, rate.Validity.To, rate.Source).Scan(&rate.ID, &rate.CreatedAt)
	return rate, err
}

func listRates(ctx context.Context, q db.DBTX, currency string) ([]Rate, error) {
	sql := `SELECT id, currency, rate, valid_from, valid_to, source, created_at FROM exchange_rates`
	var args []any
	if currency != "" {
		sql += ` WHERE currency = $1`
		args = append(args, normalize(currency))
	}
	rows, err := q.Query(ctx, sql+` ORDER BY currency, valid_from DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Rate
	for rows.Next() {
		var (
			rate Rate
			num  pgtype.Numeric
		)
		if err := rows.Scan(&rate.ID, &rate.Currency, &num, &rate.Validity.From, &rate.Validity.To, &rate.Source, &rate.CreatedAt); err != nil {
			return nil, err
		}
		rate.Rate = db.Decimal(num)
		out = append(out, rate)
	}
	return out, rows.Err()
}
