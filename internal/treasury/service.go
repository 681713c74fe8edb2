package treasury

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/accounting/posting"
	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
	"github.com/pampa-erp/pampa/internal/shared"
)

const idempotencyModule = "treasury"

// CustomerReader loads the paying customer.
type CustomerReader interface {
	Get(ctx context.Context, id int64) (*customers.Customer, error)
}

// IdempotencyPort claims client supplied request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

type Service struct {
	repo      Repository
	customers CustomerReader
	journals  *journals.Service
	accounts  posting.Accounts
	idem      IdempotencyPort
	logger    *slog.Logger
	now       func() time.Time
}

type Deps struct {
	Repo        Repository
	Customers   CustomerReader
	Journals    *journals.Service
	Accounts    posting.Accounts
	Idempotency IdempotencyPort
	Logger      *slog.Logger
}

func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		repo:      deps.Repo,
		customers: deps.Customers,
		journals:  deps.Journals,
		accounts:  deps.Accounts,
		idem:      deps.Idempotency,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create stores a DRAFT receipt after checking its totals and that every
// invoice belongs to the customer.
func (s *Service) Create(ctx context.Context, req CreateReceiptRequest, idemKey string) (Receipt, error) {
	if err := shared.Validate(req); err != nil {
		return Receipt{}, err
	}
	if len(req.Payments) == 0 && len(req.Withholdings) == 0 {
		return Receipt{}, shared.NewValidationError("payments", "a receipt needs at least one payment or withholding")
	}
	r := Receipt{
		CustomerID:        req.CustomerID,
		Date:              shared.Day(req.Date),
		Status:            StatusDraft,
		TotalPayments:     decimal.Zero,
		TotalWithholdings: decimal.Zero,
		TotalApplied:      req.TotalApplied,
		Notes:             req.Notes,
		CreatedBy:         shared.ActorFromContext(ctx),
	}
	for _, p := range req.Payments {
		r.Payments = append(r.Payments, Payment{Method: p.Method, Amount: p.Amount, Reference: p.Reference, AccountID: p.AccountID})
		r.TotalPayments = r.TotalPayments.Add(p.Amount)
	}
	for _, w := range req.Withholdings {
		r.Withholdings = append(r.Withholdings, WithholdingLine{TaxType: w.TaxType, Jurisdiction: w.Jurisdiction, Amount: w.Amount, Certificate: w.Certificate})
		r.TotalWithholdings = r.TotalWithholdings.Add(w.Amount)
	}
	seen := map[int64]bool{}
	for i, a := range req.Applications {
		if seen[a.InvoiceID] {
			return Receipt{}, shared.NewValidationError(fmt.Sprintf("applications[%d]", i), "invoice applied twice")
		}
		seen[a.InvoiceID] = true
		r.Applications = append(r.Applications, Application{InvoiceID: a.InvoiceID, Amount: a.Amount})
	}
	if err := r.CheckTotals(); err != nil {
		return Receipt{}, err
	}
	for i, w := range r.Withholdings {
		if _, err := accounts.WithholdingAccountKey(w.TaxType, w.Jurisdiction); err != nil {
			return Receipt{}, shared.NewValidationError(fmt.Sprintf("withholdings[%d]", i), err.Error())
		}
	}
	customer, err := s.customers.Get(ctx, r.CustomerID)
	if err != nil {
		return Receipt{}, fmt.Errorf("treasury: load customer: %w", err)
	}
	if !customer.IsActive {
		return Receipt{}, shared.NewValidationError("customer_id", "customer is inactive")
	}

	claimed, err := s.claim(ctx, idemKey)
	if err != nil {
		return Receipt{}, err
	}
	var created Receipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i, a := range r.Applications {
			inv, err := tx.GetInvoiceForUpdate(ctx, a.InvoiceID)
			if err != nil {
				return err
			}
			if inv.CustomerID != r.CustomerID {
				return shared.NewValidationError(fmt.Sprintf("applications[%d]", i), fmt.Sprintf("invoice %s belongs to another customer", inv.FullNumber()))
			}
		}
		number, err := tx.NextReceiptNumber(ctx)
		if err != nil {
			return err
		}
		r.Number = number
		created, err = tx.InsertReceipt(ctx, r)
		return err
	})
	if err != nil {
		s.release(ctx, idemKey, claimed)
		return Receipt{}, err
	}
	s.logger.Info("receipt created", slog.Int64("receipt_id", created.ID), slog.String("number", created.Number))
	return created, nil
}

// Approve settles the invoices and posts the receipt. Invoices are locked in
// id order; each application is converted to the invoice currency at the
// invoice rate and may not exceed its balance. A settled invoice becomes PAID.
func (s *Service) Approve(ctx context.Context, id int64) (Receipt, error) {
	actor := shared.ActorFromContext(ctx)
	var out Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.GetReceiptForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusDraft {
			return fmt.Errorf("%w: %s is %s", ErrNotDraft, r.Number, r.Status)
		}
		if err := r.CheckTotals(); err != nil {
			return err
		}

		apps := append([]Application(nil), r.Applications...)
		sort.Slice(apps, func(i, j int) bool { return apps[i].InvoiceID < apps[j].InvoiceID })
		for _, a := range apps {
			if err := s.settle(ctx, tx, r, a); err != nil {
				return err
			}
		}

		input, groups, err := posting.Receipt(s.accounts, r.event(actor))
		if err != nil {
			return err
		}
		entry, err := s.journals.PostInTx(ctx, tx, input)
		if err != nil {
			return fmt.Errorf("treasury: post receipt %s: %w", r.Number, err)
		}
		if err := s.storeGroups(ctx, tx, &r, groups); err != nil {
			return err
		}
		now := s.now()
		if err := tx.ApproveReceipt(ctx, r.ID, entry.ID, now); err != nil {
			return err
		}
		r.Status = StatusApproved
		r.JournalEntryID = &entry.ID
		r.ApprovedAt = &now
		out = r
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.logger.Info("receipt approved",
		slog.Int64("receipt_id", id),
		slog.Int64("entry_id", *out.JournalEntryID),
		slog.String("total_applied", out.TotalApplied.StringFixed(2)))
	return out, nil
}

func (s *Service) settle(ctx context.Context, tx TxRepository, r Receipt, a Application) error {
	inv, err := tx.GetInvoiceForUpdate(ctx, a.InvoiceID)
	if err != nil {
		return err
	}
	field := fmt.Sprintf("applications.%d", a.InvoiceID)
	if inv.CustomerID != r.CustomerID {
		return shared.NewValidationError(field, fmt.Sprintf("invoice %s belongs to another customer", inv.FullNumber()))
	}
	if !inv.Status.Collectible() {
		return fmt.Errorf("treasury: apply to %s in %s: %w", inv.FullNumber(), inv.Status, shared.ErrInvalidStatus)
	}
	reduction := a.Amount
	if inv.ExchangeRate.IsPositive() && !inv.ExchangeRate.Equal(decimal.NewFromInt(1)) {
		reduction = shared.Round2(a.Amount.Div(inv.ExchangeRate))
	}
	if reduction.Sub(inv.Balance).GreaterThan(shared.BalanceTolerance) {
		return shared.NewValidationError(field, fmt.Sprintf("amount %s exceeds balance %s of %s",
			reduction.StringFixed(2), inv.Balance.StringFixed(2), inv.FullNumber()))
	}
	inv.Balance = inv.Balance.Sub(reduction)
	if inv.Balance.Abs().LessThanOrEqual(shared.BalanceTolerance) {
		inv.Balance = decimal.Zero
		inv.Status = invoices.StatusPaid
	}
	return tx.UpdateInvoiceBalance(ctx, inv.ID, inv)
}

// storeGroups persists the ledger groups and links each withholding line to
// the group of its account.
func (s *Service) storeGroups(ctx context.Context, tx TxRepository, r *Receipt, groups []posting.WithholdingGroup) error {
	byAccount := make(map[int64]int64, len(groups))
	r.Groups = r.Groups[:0]
	for _, g := range groups {
		stored, err := tx.InsertWithholdingGroup(ctx, r.ID, WithholdingGroup{TaxType: g.TaxType, AccountID: g.AccountID, Amount: g.Amount})
		if err != nil {
			return err
		}
		byAccount[g.AccountID] = stored.ID
		r.Groups = append(r.Groups, stored)
	}
	for i, w := range r.Withholdings {
		key, err := accounts.WithholdingAccountKey(w.TaxType, w.Jurisdiction)
		if err != nil {
			return err
		}
		acc, err := s.accounts.Account(key)
		if err != nil {
			return err
		}
		groupID := byAccount[acc.ID]
		if err := tx.LinkWithholding(ctx, w.ID, groupID); err != nil {
			return err
		}
		r.Withholdings[i].GroupID = &groupID
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

func (s *Service) claim(ctx context.Context, key string) (bool, error) {
	if key == "" || s.idem == nil {
		return false, nil
	}
	if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) release(ctx context.Context, key string, claimed bool) {
	if !claimed {
		return
	}
	if err := s.idem.Delete(ctx, key, idempotencyModule); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}
