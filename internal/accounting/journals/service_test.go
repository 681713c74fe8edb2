package journals

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/balance"
	"github.com/pampa-erp/pampa/internal/shared"
)

type memoryRepo struct {
	accounts map[int64]accounts.Account
	entries  map[int64]Entry
	nextID   int64
	nextLine int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	r := &memoryRepo{accounts: make(map[int64]accounts.Account), entries: make(map[int64]Entry)}
	for _, a := range []accounts.Account{
		{ID: 1, Code: "1.1.1.01", Name: "Caja", Type: accounts.TypeAsset, AcceptsEntries: true, IsActive: true},
		{ID: 2, Code: "4.1.1.01", Name: "Ventas", Type: accounts.TypeRevenue, AcceptsEntries: true, IsActive: true},
		{ID: 3, Code: "1.1", Name: "Activo corriente", Type: accounts.TypeAsset, AcceptsEntries: false, IsActive: true},
		{ID: 4, Code: "1.1.1.09", Name: "Caja vieja", Type: accounts.TypeAsset, AcceptsEntries: true, IsActive: false},
	} {
		r.accounts[a.ID] = a
	}
	return r
}

// WithTx rolls back by restoring a snapshot when fn fails.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := make(map[int64]Entry, len(r.entries))
	for k, v := range r.entries {
		snapshot[k] = v
	}
	nextID, nextLine := r.nextID, r.nextLine
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.entries, r.nextID, r.nextLine = snapshot, nextID, nextLine
		return err
	}
	return nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	var out []Entry
	for _, e := range r.entries {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	return out, len(out), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return e, nil
}

func (r *memoryRepo) GetAccount(ctx context.Context, id int64) (accounts.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return accounts.Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (r *memoryRepo) TotalsBefore(ctx context.Context, accountID int64, before time.Time) (decimal.Decimal, decimal.Decimal, error) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range r.entries {
		if !e.Status.AffectsBalances() || !e.Date.Before(before) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				debit = debit.Add(l.Debit)
				credit = credit.Add(l.Credit)
			}
		}
	}
	return debit, credit, nil
}

func (r *memoryRepo) AccountMovements(ctx context.Context, accountID int64, from, to time.Time) ([]balance.Movement, error) {
	var out []balance.Movement
	for _, e := range r.entries {
		if !e.Status.AffectsBalances() || e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID == accountID {
				out = append(out, balance.Movement{EntryID: e.ID, EntryNumber: e.Number, LineID: l.ID, Date: e.Date, Description: e.Description, Debit: l.Debit, Credit: l.Credit})
			}
		}
	}
	return out, nil
}

func (r *memoryRepo) TotalsByAccount(ctx context.Context, asOf time.Time) ([]AccountTotals, error) {
	byAccount := map[int64]*AccountTotals{}
	for _, e := range r.entries {
		if !e.Status.AffectsBalances() || e.Date.After(asOf) {
			continue
		}
		for _, l := range e.Lines {
			t, ok := byAccount[l.AccountID]
			if !ok {
				t = &AccountTotals{Account: r.accounts[l.AccountID], Debit: decimal.Zero, Credit: decimal.Zero}
				byAccount[l.AccountID] = t
			}
			t.Debit = t.Debit.Add(l.Debit)
			t.Credit = t.Credit.Add(l.Credit)
		}
	}
	var out []AccountTotals
	for _, t := range byAccount {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Code < out[j].Account.Code })
	return out, nil
}

func (r *memoryRepo) Imbalances(ctx context.Context, tolerance decimal.Decimal) ([]Imbalance, error) {
	var out []Imbalance
	for _, e := range r.entries {
		if !e.Status.AffectsBalances() {
			continue
		}
		d, c := e.Totals()
		if d.Sub(c).Abs().GreaterThan(tolerance) {
			out = append(out, Imbalance{EntryID: e.ID, Number: e.Number, Debit: d, Credit: c})
		}
	}
	return out, nil
}

func (tx *memoryTx) LockAccounts(ctx context.Context, ids []int64) ([]accounts.Account, error) {
	var out []accounts.Account
	for _, id := range ids {
		if a, ok := tx.repo.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	if entry.SourceID != nil {
		for _, e := range tx.repo.entries {
			if e.SourceID != nil && *e.SourceID == *entry.SourceID && e.SourceModule == entry.SourceModule {
				return Entry{}, ErrSourceConflict
			}
		}
	}
	tx.repo.nextID++
	entry.ID = tx.repo.nextID
	entry.Number = tx.repo.nextID
	tx.repo.entries[entry.ID] = entry
	return entry, nil
}

func (tx *memoryTx) InsertEntryLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error) {
	e := tx.repo.entries[entryID]
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		tx.repo.nextLine++
		l.ID = tx.repo.nextLine
		l.EntryID = entryID
		out = append(out, l)
	}
	e.Lines = append(append([]Line(nil), e.Lines...), out...)
	tx.repo.entries[entryID] = e
	return out, nil
}

func (tx *memoryTx) GetEntryForUpdate(ctx context.Context, id int64) (Entry, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) UpdateEntry(ctx context.Context, entry Entry) error {
	current, ok := tx.repo.entries[entry.ID]
	if !ok {
		return ErrEntryNotFound
	}
	entry.Lines = current.Lines
	tx.repo.entries[entry.ID] = entry
	return nil
}

func (tx *memoryTx) ReplaceEntryLines(ctx context.Context, entryID int64, lines []Line) ([]Line, error) {
	e := tx.repo.entries[entryID]
	e.Lines = nil
	tx.repo.entries[entryID] = e
	return tx.InsertEntryLines(ctx, entryID, lines)
}

func (tx *memoryTx) DeleteEntry(ctx context.Context, id int64) error {
	delete(tx.repo.entries, id)
	return nil
}

type countingRecorder struct {
	posted   map[string]int
	rejected map[string]int
}

func (c *countingRecorder) EntryPosted(source string)   { c.posted[source]++ }
func (c *countingRecorder) EntryRejected(reason string) { c.rejected[reason]++ }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sale(amount string) PostingInput {
	return PostingInput{
		Date:         time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		Description:  "Venta mostrador",
		SourceModule: "MANUAL",
		CreatedBy:    "u1",
		Lines: []PostingLineInput{
			{AccountID: 1, Debit: dec(amount), Credit: decimal.Zero},
			{AccountID: 2, Debit: decimal.Zero, Credit: dec(amount)},
		},
	}
}

func newTestService(repo *memoryRepo) (*Service, *countingRecorder) {
	svc := NewService(repo, nil, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) })
	rec := &countingRecorder{posted: map[string]int{}, rejected: map[string]int{}}
	svc.WithMetrics(rec)
	return svc, rec
}

func TestPostBalancedEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc, rec := newTestService(repo)

	entry, err := svc.Post(context.Background(), sale("1210.00"))
	require.NoError(t, err)
	require.Equal(t, StatusPosted, entry.Status)
	require.NotNil(t, entry.PostedAt)
	require.Len(t, entry.Lines, 2)
	require.Equal(t, 1, rec.posted["MANUAL"])

	d, c := entry.Totals()
	require.True(t, d.Equal(c))
}

func TestPostAcceptsDifferenceWithinTolerance(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	in := sale("100.00")
	in.Lines[1].Credit = dec("100.01")

	_, err := svc.Post(context.Background(), in)
	require.NoError(t, err)
}

func TestPostRejectsUnbalancedEntry(t *testing.T) {
	repo := newMemoryRepo()
	svc, rec := newTestService(repo)
	in := sale("100.00")
	in.Lines[1].Credit = dec("100.02")

	_, err := svc.Post(context.Background(), in)
	var unbalanced *shared.UnbalancedEntryError
	require.ErrorAs(t, err, &unbalanced)
	require.True(t, unbalanced.Difference().Equal(dec("-0.02")) || unbalanced.Difference().Equal(dec("0.02")))
	require.Empty(t, repo.entries)
	require.Equal(t, 1, rec.rejected["unbalanced"])
}

func TestPostRejectsLineWithBothSides(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	in := sale("50")
	in.Lines[0].Credit = dec("50")
	in.Lines = append(in.Lines, PostingLineInput{AccountID: 2, Debit: dec("50")})

	_, err := svc.Post(context.Background(), in)
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "lines[0]", verr.Fields[0].Field)
}

func TestPostChecksAccounts(t *testing.T) {
	cases := []struct {
		name      string
		accountID int64
		check     func(t *testing.T, err error)
	}{
		{"missing", 99, func(t *testing.T, err error) {
			var missing *shared.MissingAccountError
			require.ErrorAs(t, err, &missing)
			require.Equal(t, int64(99), missing.AccountID)
		}},
		{"not leaf", 3, func(t *testing.T, err error) {
			var notLeaf *shared.AccountNotLeafError
			require.ErrorAs(t, err, &notLeaf)
			require.Equal(t, "1.1", notLeaf.Code)
		}},
		{"inactive", 4, func(t *testing.T, err error) {
			var verr *shared.ValidationError
			require.ErrorAs(t, err, &verr)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemoryRepo()
			svc, _ := newTestService(repo)
			in := sale("10")
			in.Lines[0].AccountID = tc.accountID
			_, err := svc.Post(context.Background(), in)
			tc.check(t, err)
			require.Empty(t, repo.entries)
		})
	}
}

func TestPostRejectsDuplicateSource(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	in := sale("10")
	in.SourceModule = "CMV"
	in.SourceID = uuid.New()

	_, err := svc.Post(context.Background(), in)
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), in)
	require.ErrorIs(t, err, ErrSourceConflict)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDraftLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc, rec := newTestService(repo)
	ctx := context.Background()

	in := sale("100")
	in.Draft = true
	in.Lines[1].Credit = dec("90")
	draft, err := svc.Post(ctx, in)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, draft.Status)
	require.Nil(t, draft.PostedAt)
	require.Zero(t, rec.posted["MANUAL"])

	_, err = svc.Confirm(ctx, draft.ID)
	var unbalanced *shared.UnbalancedEntryError
	require.ErrorAs(t, err, &unbalanced)

	fixed := sale("100")
	updated, err := svc.UpdateDraft(ctx, draft.ID, fixed)
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)

	posted, err := svc.Confirm(ctx, draft.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)

	_, err = svc.UpdateDraft(ctx, draft.ID, fixed)
	require.ErrorIs(t, err, ErrNotDraft)
	require.ErrorIs(t, svc.Delete(ctx, draft.ID), ErrNotDraft)
}

func TestDeleteDraft(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	in := sale("5")
	in.Draft = true
	draft, err := svc.Post(context.Background(), in)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), draft.ID))
	_, err = svc.Get(context.Background(), draft.ID)
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestConfirmAndDeleteAuditTheCaller(t *testing.T) {
	repo := newMemoryRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit, nil)
	ctx := shared.ContextWithPrincipal(context.Background(), shared.Principal{UserID: "contadora"})

	in := sale("100")
	in.Draft = true
	first, err := svc.Post(ctx, in)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, first.ID)
	require.NoError(t, err)

	in.SourceID = uuid.New()
	second, err := svc.Post(ctx, in)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, second.ID))

	actors := map[string]string{}
	for _, l := range audit.logs {
		actors[l.Action] = l.Actor
	}
	require.Equal(t, "contadora", actors["journal.confirm"])
	require.Equal(t, "contadora", actors["journal.delete"])

	audit.logs = nil
	in.SourceID = uuid.New()
	third, err := svc.Post(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, svc.Delete(context.Background(), third.ID))
	require.Equal(t, "system", audit.logs[len(audit.logs)-1].Actor)
}

func TestReverseSwapsSidesAndVoidsOriginal(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	original, err := svc.Post(ctx, sale("250.50"))
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, ReverseInput{EntryID: original.ID, Reason: "error de carga", Actor: "u2"})
	require.NoError(t, err)
	require.Equal(t, StatusPosted, reversal.Status)
	require.NotNil(t, reversal.ReversalOf)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	require.True(t, reversal.Lines[0].Credit.Equal(dec("250.50")))
	require.True(t, reversal.Lines[1].Debit.Equal(dec("250.50")))

	voided, err := svc.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVoided, voided.Status)

	rows, err := svc.Balances(ctx, original.Date)
	require.NoError(t, err)
	for _, row := range rows {
		require.True(t, row.Balance.Amount.IsZero(), "account %s should net to zero", row.Account.Code)
	}

	_, err = svc.Reverse(ctx, ReverseInput{EntryID: original.ID})
	require.ErrorIs(t, err, ErrNotPosted)
}

func TestReverseRejectsEarlierDate(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	original, err := svc.Post(context.Background(), sale("1"))
	require.NoError(t, err)
	early := original.Date.AddDate(0, 0, -1)

	_, err = svc.Reverse(context.Background(), ReverseInput{EntryID: original.ID, Date: &early})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAccountLedgerRunningBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first := sale("100")
	first.Date = time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	_, err := svc.Post(ctx, first)
	require.NoError(t, err)

	second := sale("40")
	_, err = svc.Post(ctx, second)
	require.NoError(t, err)

	payout := sale("15")
	payout.Lines[0], payout.Lines[1] = PostingLineInput{AccountID: 2, Debit: dec("15")}, PostingLineInput{AccountID: 1, Credit: dec("15")}
	_, err = svc.Post(ctx, payout)
	require.NoError(t, err)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	ledger, err := svc.AccountLedger(ctx, 1, from, to)
	require.NoError(t, err)
	require.True(t, ledger.Opening.Amount.Equal(dec("100")))
	require.Len(t, ledger.Rows, 2)
	require.True(t, ledger.Rows[0].Balance.Amount.Equal(dec("140")))
	require.True(t, ledger.Closing.Amount.Equal(dec("125")))
	require.Equal(t, balance.NatureDeudor, ledger.Closing.Nature)

	_, err = svc.AccountLedger(ctx, 1, to, from)
	require.Error(t, err)
}

func TestImbalancesEmptyForServicePostings(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	_, err := svc.Post(context.Background(), sale("33.33"))
	require.NoError(t, err)

	out, err := svc.Imbalances(context.Background())
	require.NoError(t, err)
	require.Empty(t, out)
}
