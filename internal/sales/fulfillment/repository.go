// Package fulfillment turns accepted quotes into invoices. One transaction
// covers the quote check, the invoice, the stock movements and the cost of
// goods sold entry.
package fulfillment

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
)

// TxRepository is every write the orchestrator performs inside one transaction.
type TxRepository interface {
	quotations.TxRepository
	invoices.TxRepository
	inventory.TxRepository
	journals.TxRepository
	fx.TxRepository
}

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

type (
	quoteTx     = quotations.TxRepository
	invoiceTx   = invoices.TxRepository
	inventoryTx = inventory.TxRepository
	journalTx   = journals.TxRepository
	rateTx      = fx.TxRepository
)

type txRepo struct {
	quoteTx
	invoiceTx
	inventoryTx
	journalTx
	rateTx
}

// NewTxRepository binds all domain repositories to the same connection.
func NewTxRepository(q db.DBTX) TxRepository {
	return txRepo{
		quoteTx:     quotations.NewTxRepository(q),
		invoiceTx:   invoices.NewTxRepository(q),
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
