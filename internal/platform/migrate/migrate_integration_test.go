//go:build integration

package migrate_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/platform/migrate"
	"github.com/pampa-erp/pampa/internal/shared"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pampa_test"),
		tcpostgres.WithUsername("pampa"),
		tcpostgres.WithPassword("pampa"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestMigrationsAndLedgerRepositories(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(t)

	m, err := migrate.New(pool, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "a second run is a no-op")
	version, dirty, err := m.Version()
	require.NoError(t, err)
	require.Equal(t, uint(1), version)
	require.False(t, dirty)

	accountRepo := accounts.NewRepository(pool)
	for key, code := range accounts.DefaultCodes() {
		_, err := accountRepo.Create(ctx, accounts.Account{
			Code: code, Name: string(key), Type: typeOf(code), Level: 4, AcceptsEntries: true, IsActive: true,
		})
		require.NoError(t, err)
	}
	registry, err := accounts.ResolveRegistry(ctx, accountRepo, accounts.DefaultCodes())
	require.NoError(t, err)
	cmv, err := registry.Account(accounts.KeyCostOfGoodsSold)
	require.NoError(t, err)
	stock, err := registry.Account(accounts.KeyMerchandiseInventory)
	require.NoError(t, err)

	ledger := journals.NewService(journals.NewRepository(pool), nil, nil)
	source := uuid.NewSHA1(uuid.NameSpaceOID, []byte("invoice:A-0001-00000001"))
	input := journals.PostingInput{
		Date:         time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Description:  "CMV factura A-0001-00000001",
		SourceModule: "CMV",
		SourceID:     source,
		Lines: []journals.PostingLineInput{
			{AccountID: cmv.ID, Debit: decimal.NewFromInt(500)},
			{AccountID: stock.ID, Credit: decimal.NewFromInt(500)},
		},
	}
	entry, err := ledger.Post(ctx, input)
	require.NoError(t, err)
	require.Equal(t, journals.StatusPosted, entry.Status)
	require.Len(t, entry.Lines, 2)

	_, err = ledger.Post(ctx, input)
	require.ErrorIs(t, err, journals.ErrSourceConflict)

	imbalances, err := ledger.Imbalances(ctx)
	require.NoError(t, err)
	require.Empty(t, imbalances)

	rows, err := ledger.Balances(ctx, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	inv := inventory.NewService(inventory.NewRepository(pool), nil, nil, nil)
	product, err := inv.CreateProduct(ctx, inventory.CreateProductRequest{SKU: "TOR-001", Name: "Tornillo", LastCost: decimal.NewFromInt(80)})
	require.NoError(t, err)
	cost := decimal.NewFromInt(100)
	mv, err := inv.Move(ctx, inventory.MoveInput{ProductID: product.ID, Type: inventory.MovementPurchase, Quantity: decimal.NewFromInt(10), UnitCost: &cost})
	require.NoError(t, err)
	require.True(t, mv.StockAfter.Equal(decimal.NewFromInt(10)))

	_, err = inv.Move(ctx, inventory.MoveInput{ProductID: product.ID, Type: inventory.MovementSale, Quantity: decimal.NewFromInt(11)})
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)

	require.NoError(t, m.Down())
	require.NoError(t, m.Close())
}

func typeOf(code string) accounts.Type {
	switch code[0] {
	case '1':
		return accounts.TypeAsset
	case '2':
		return accounts.TypeLiability
	}
	return accounts.TypeExpense
}
