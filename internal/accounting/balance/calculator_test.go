package balance

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCalculateAccountBalanceNature(t *testing.T) {
	asset := CalculateAccountBalance(accounts.TypeAsset, d(1000), d(400))
	assert.True(t, asset.Amount.Equal(d(600)))
	assert.Equal(t, NatureDeudor, asset.Nature)
	assert.True(t, asset.IsNormal)

	liability := CalculateAccountBalance(accounts.TypeLiability, d(1000), d(400))
	assert.True(t, liability.Amount.Equal(d(600)))
	assert.Equal(t, NatureDeudor, liability.Nature)
	assert.False(t, liability.IsNormal)

	revenue := CalculateAccountBalance(accounts.TypeRevenue, d(100), d(350))
	assert.True(t, revenue.Amount.Equal(d(250)))
	assert.Equal(t, NatureAcreedor, revenue.Nature)
	assert.True(t, revenue.IsNormal)
}

func TestBalanceIsNeverNegative(t *testing.T) {
	for _, typ := range []accounts.Type{accounts.TypeAsset, accounts.TypeEquity, accounts.TypeExpense} {
		b := CalculateAccountBalance(typ, d(0), d(75))
		assert.False(t, b.Amount.IsNegative())
		assert.Equal(t, NatureAcreedor, b.Nature)
	}
}

func TestZeroBalanceIsDeudor(t *testing.T) {
	b := CalculateAccountBalance(accounts.TypeLiability, d(50), d(50))
	assert.True(t, b.Amount.IsZero())
	assert.Equal(t, NatureDeudor, b.Nature)
}

func TestRunningBalanceMatchesCumulativeSums(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	types := []accounts.Type{accounts.TypeAsset, accounts.TypeLiability, accounts.TypeEquity, accounts.TypeRevenue, accounts.TypeExpense}
	for _, typ := range types {
		for run := 0; run < 50; run++ {
			running := Zero(typ)
			debits, credits := decimal.Zero, decimal.Zero
			for i := 0; i < 1+rng.Intn(30); i++ {
				amount := decimal.New(rng.Int63n(1_000_000), -2)
				debit, credit := decimal.Zero, decimal.Zero
				if rng.Intn(2) == 0 {
					debit = amount
				} else {
					credit = amount
				}
				running = CalculateRunningBalance(typ, running, debit, credit)
				debits = debits.Add(debit)
				credits = credits.Add(credit)
			}
			oneShot := CalculateAccountBalance(typ, debits, credits)
			require.True(t, oneShot.Amount.Equal(running.Amount), "type %s run %d", typ, run)
			require.Equal(t, oneShot.Nature, running.Nature)
			require.Equal(t, oneShot.IsNormal, running.IsNormal)
		}
	}
}

func TestBuildLedgerOrdersByDateThenEntryNumber(t *testing.T) {
	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	movements := []Movement{
		{EntryNumber: 12, LineID: 30, Date: day2, Credit: d(40)},
		{EntryNumber: 11, LineID: 40, Date: day1, Debit: d(100)},
		{EntryNumber: 10, LineID: 50, Date: day1, Credit: d(150)},
	}
	acc := Account{ID: 1, Code: "1.1.1.01", Type: accounts.TypeAsset}
	ledger := BuildLedger(acc, FromSigned(accounts.TypeAsset, d(200)), movements)

	require.Len(t, ledger.Rows, 3)
	assert.Equal(t, int64(10), ledger.Rows[0].EntryNumber)
	assert.True(t, ledger.Rows[0].Balance.Amount.Equal(d(50)))
	assert.Equal(t, int64(11), ledger.Rows[1].EntryNumber)
	assert.True(t, ledger.Rows[1].Balance.Amount.Equal(d(150)))
	assert.True(t, ledger.Closing.Amount.Equal(d(110)))
	assert.Equal(t, NatureDeudor, ledger.Closing.Nature)
	assert.True(t, ledger.Debits.Equal(d(100)))
	assert.True(t, ledger.Credits.Equal(d(190)))
	assert.Equal(t, int64(12), movements[0].EntryNumber, "input slice must not be reordered")
}
