package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/balance"
	"github.com/pampa-erp/pampa/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives ledger counters.
type Recorder interface {
	EntryPosted(source string)
	EntryRejected(reason string)
}

// Service is the journal engine. Every write runs inside one repository
// transaction; the *InTx variants let orchestrators compose postings with
// other writes in a transaction they own.
type Service struct {
	repo    Repository
	audit   AuditPort
	metrics Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo Repository, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches a counter sink.
func (s *Service) WithMetrics(m Recorder) {
	s.metrics = m
}

// Post validates and persists an entry in its own transaction.
func (s *Service) Post(ctx context.Context, in PostingInput) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.PostInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, in.CreatedBy, "journal.create", entry.ID, map[string]any{
		"number": entry.Number,
		"status": entry.Status,
		"source": in.SourceModule,
	})
	return entry, nil
}

// PostInTx validates and persists an entry using the caller's transaction.
// Automatic generators always post; Draft is honoured for manual entries.
func (s *Service) PostInTx(ctx context.Context, tx TxRepository, in PostingInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		s.rejected(err)
		return Entry{}, err
	}
	if err := s.checkAccounts(ctx, tx, in.Lines); err != nil {
		s.rejected(err)
		return Entry{}, err
	}
	now := s.now().UTC()
	entry := Entry{
		Date:         shared.Day(in.Date),
		Description:  in.Description,
		Reference:    in.Reference,
		Status:       StatusPosted,
		SourceModule: in.SourceModule,
		CreatedBy:    in.CreatedBy,
	}
	if in.Draft {
		entry.Status = StatusDraft
	} else {
		entry.PostedAt = &now
	}
	if in.SourceID != uuid.Nil {
		id := in.SourceID
		entry.SourceID = &id
	}
	inserted, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	lines, err := tx.InsertEntryLines(ctx, inserted.ID, toLines(in.Lines))
	if err != nil {
		return Entry{}, err
	}
	inserted.Lines = lines
	if inserted.Status == StatusPosted && s.metrics != nil {
		s.metrics.EntryPosted(in.SourceModule)
	}
	return inserted, nil
}

// UpdateDraft replaces header and lines of a DRAFT entry.
func (s *Service) UpdateDraft(ctx context.Context, id int64, in PostingInput) (Entry, error) {
	in.Draft = true
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return ErrNotDraft
		}
		if err := s.checkAccounts(ctx, tx, in.Lines); err != nil {
			return err
		}
		current.Date = shared.Day(in.Date)
		current.Description = in.Description
		current.Reference = in.Reference
		if err := tx.UpdateEntry(ctx, current); err != nil {
			return err
		}
		lines, err := tx.ReplaceEntryLines(ctx, id, toLines(in.Lines))
		if err != nil {
			return err
		}
		current.Lines = lines
		entry = current
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, in.CreatedBy, "journal.update", id, nil)
	return entry, nil
}

// Confirm moves a DRAFT entry to POSTED after re-validating balance and accounts.
func (s *Service) Confirm(ctx context.Context, id int64) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return fmt.Errorf("journals: confirm entry %d in status %s: %w", id, current.Status, shared.ErrInvalidStatus)
		}
		in := inputFromEntry(current)
		if err := in.Validate(); err != nil {
			s.rejected(err)
			return err
		}
		if err := s.checkAccounts(ctx, tx, in.Lines); err != nil {
			s.rejected(err)
			return err
		}
		now := s.now().UTC()
		current.Status = StatusPosted
		current.PostedAt = &now
		if err := tx.UpdateEntry(ctx, current); err != nil {
			return err
		}
		entry = current
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if s.metrics != nil {
		s.metrics.EntryPosted(entry.SourceModule)
	}
	s.record(ctx, shared.ActorFromContext(ctx), "journal.confirm", id, map[string]any{"number": entry.Number})
	return entry, nil
}

// Delete removes a DRAFT entry and its lines.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return ErrNotDraft
		}
		return tx.DeleteEntry(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.ActorFromContext(ctx), "journal.delete", id, nil)
	return nil
}

// Reverse posts a mirror entry of a POSTED entry and marks the original VOIDED.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (Entry, error) {
	var reversal Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reversal, err = s.ReverseInTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, in.Actor, "journal.reverse", in.EntryID, map[string]any{
		"reversal_id":     reversal.ID,
		"reversal_number": reversal.Number,
		"reason":          in.Reason,
	})
	return reversal, nil
}

// ReverseInTx reverses using the caller's transaction.
func (s *Service) ReverseInTx(ctx context.Context, tx TxRepository, in ReverseInput) (Entry, error) {
	if in.EntryID <= 0 {
		return Entry{}, shared.NewValidationError("entry_id", "is required")
	}
	original, err := tx.GetEntryForUpdate(ctx, in.EntryID)
	if err != nil {
		return Entry{}, err
	}
	if original.Status != StatusPosted {
		return Entry{}, ErrNotPosted
	}
	date := original.Date
	if in.Date != nil {
		date = *in.Date
	}
	if date.Before(original.Date) {
		return Entry{}, shared.NewValidationError("date", "reversal cannot predate the original entry")
	}
	now := s.now().UTC()
	originalID := original.ID
	header := Entry{
		Date:         shared.Day(date),
		Description:  reversalDescription(in.Reason, original.Number),
		Reference:    original.Reference,
		Status:       StatusPosted,
		SourceModule: original.SourceModule,
		ReversalOf:   &originalID,
		CreatedBy:    in.Actor,
		PostedAt:     &now,
	}
	inserted, err := tx.InsertEntry(ctx, header)
	if err != nil {
		return Entry{}, err
	}
	lines, err := tx.InsertEntryLines(ctx, inserted.ID, reverseLines(original.Lines))
	if err != nil {
		return Entry{}, err
	}
	inserted.Lines = lines
	original.Status = StatusVoided
	if err := tx.UpdateEntry(ctx, original); err != nil {
		return Entry{}, err
	}
	if s.metrics != nil {
		s.metrics.EntryPosted(original.SourceModule + ":REVERSAL")
	}
	return inserted, nil
}

// Get returns an entry with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Entry, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of entry headers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Entry, shared.Pagination, error) {
	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return entries, shared.NewPagination(filter.Page.Page, filter.Page.PerPage, total), nil
}

// AccountLedger builds the Libro Mayor for an account over [from, to].
func (s *Service) AccountLedger(ctx context.Context, accountID int64, from, to time.Time) (balance.Ledger, error) {
	if to.Before(from) {
		return balance.Ledger{}, shared.NewValidationError("to", "must not be before from")
	}
	acc, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return balance.Ledger{}, err
	}
	debit, credit, err := s.repo.TotalsBefore(ctx, accountID, shared.Day(from))
	if err != nil {
		return balance.Ledger{}, err
	}
	movements, err := s.repo.AccountMovements(ctx, accountID, shared.Day(from), shared.Day(to))
	if err != nil {
		return balance.Ledger{}, err
	}
	opening := balance.CalculateAccountBalance(acc.Type, debit, credit)
	header := balance.Account{ID: acc.ID, Code: acc.Code, Name: acc.Name, Type: acc.Type}
	return balance.BuildLedger(header, opening, movements), nil
}

// AccountBalanceRow is one line of the trial balance projection.
type AccountBalanceRow struct {
	Account accounts.Account       `json:"account"`
	Debit   decimal.Decimal        `json:"debit"`
	Credit  decimal.Decimal        `json:"credit"`
	Balance balance.AccountBalance `json:"balance"`
}

// Balances returns the balance of every account with movements up to asOf.
func (s *Service) Balances(ctx context.Context, asOf time.Time) ([]AccountBalanceRow, error) {
	totals, err := s.repo.TotalsByAccount(ctx, shared.Day(asOf))
	if err != nil {
		return nil, err
	}
	rows := make([]AccountBalanceRow, 0, len(totals))
	for _, t := range totals {
		rows = append(rows, AccountBalanceRow{
			Account: t.Account,
			Debit:   t.Debit,
			Credit:  t.Credit,
			Balance: balance.CalculateAccountBalance(t.Account.Type, t.Debit, t.Credit),
		})
	}
	return rows, nil
}

// Imbalances lists ledger-effective entries whose lines do not balance.
func (s *Service) Imbalances(ctx context.Context) ([]Imbalance, error) {
	return s.repo.Imbalances(ctx, shared.BalanceTolerance)
}

func (s *Service) checkAccounts(ctx context.Context, tx TxRepository, lines []PostingLineInput) error {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.AccountID]; ok {
			continue
		}
		seen[l.AccountID] = struct{}{}
		ids = append(ids, l.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	locked, err := tx.LockAccounts(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[int64]accounts.Account, len(locked))
	for _, acc := range locked {
		byID[acc.ID] = acc
	}
	for idx, l := range lines {
		acc, ok := byID[l.AccountID]
		if !ok {
			return &shared.MissingAccountError{AccountID: l.AccountID}
		}
		if !acc.AcceptsEntries {
			return &shared.AccountNotLeafError{AccountID: acc.ID, Code: acc.Code}
		}
		if !acc.IsActive {
			return shared.NewValidationError(fmt.Sprintf("lines[%d].account_id", idx), "account "+acc.Code+" is inactive")
		}
	}
	return nil
}

func (s *Service) rejected(err error) {
	if s.metrics == nil {
		return
	}
	var (
		unbalanced *shared.UnbalancedEntryError
		missing    *shared.MissingAccountError
		notLeaf    *shared.AccountNotLeafError
	)
	switch {
	case errors.As(err, &unbalanced):
		s.metrics.EntryRejected("unbalanced")
	case errors.As(err, &missing):
		s.metrics.EntryRejected("missing_account")
	case errors.As(err, &notLeaf):
		s.metrics.EntryRejected("account_not_leaf")
	default:
		s.metrics.EntryRejected("validation")
	}
}

func (s *Service) record(ctx context.Context, actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit journal", slog.String("action", action), slog.Int64("entry_id", id), slog.Any("error", err))
	}
}

func toLines(in []PostingLineInput) []Line {
	out := make([]Line, 0, len(in))
	for _, l := range in {
		out = append(out, Line{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description})
	}
	return out
}

func inputFromEntry(e Entry) PostingInput {
	in := PostingInput{
		Date:         e.Date,
		Description:  e.Description,
		Reference:    e.Reference,
		SourceModule: e.SourceModule,
		CreatedBy:    e.CreatedBy,
		Lines:        make([]PostingLineInput, 0, len(e.Lines)),
	}
	for _, l := range e.Lines {
		in.Lines = append(in.Lines, PostingLineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description})
	}
	return in
}

func reverseLines(lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, Line{AccountID: l.AccountID, Debit: l.Credit, Credit: l.Debit, Description: l.Description})
	}
	return out
}

func reversalDescription(reason string, number int64) string {
	if reason != "" {
		return fmt.Sprintf("Reversión asiento %d: %s", number, reason)
	}
	return fmt.Sprintf("Reversión asiento %d", number)
}
