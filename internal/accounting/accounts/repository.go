package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/internal/shared"
)

// Repository reads and writes the chart of accounts.
type Repository interface {
	List(ctx context.Context) ([]Account, error)
	GetByCode(ctx context.Context, code string) (Account, error)
	GetByCodes(ctx context.Context, codes []string) ([]Account, error)
	Create(ctx context.Context, acc Account) (Account, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool}
}

const accountColumns = `id, code, name, type, parent_id, level, accepts_entries, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Level, &a.AcceptsEntries, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *repository) GetByCode(ctx context.Context, code string) (Account, error) {
	acc, err := scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("accounts: code %s: %w", code, shared.ErrNotFound)
		}
		return Account{}, err
	}
	return acc, nil
}

func (r *repository) GetByCodes(ctx context.Context, codes []string) ([]Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code = ANY($1) ORDER BY code`, codes)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *repository) Create(ctx context.Context, acc Account) (Account, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO accounts (code, name, type, parent_id, level, accepts_entries, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+accountColumns,
		acc.Code, acc.Name, acc.Type, acc.ParentID, acc.Level, acc.AcceptsEntries, acc.IsActive)
	created, err := scanAccount(row)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return Account{}, fmt.Errorf("accounts: code %s already exists: %w", acc.Code, shared.ErrConflict)
		}
		return Account{}, err
	}
	return created, nil
}
