package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/accounting/posting"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/internal/shared"
)

const (
	idempotencyModule = "procurement"
	sourceModule      = "PURCHASE_INVOICE"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims client supplied request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Service orchestrates procurement flows.
type Service struct {
	repo           Repository
	journals       *journals.Service
	inventory      *inventory.Service
	accounts       posting.Accounts
	audit          AuditPort
	idempotency    IdempotencyPort
	ledgerCurrency string
	logger         *slog.Logger
	now            func() time.Time
}

// Deps groups collaborators of Service.
type Deps struct {
	Repo           Repository
	Journals       *journals.Service
	Inventory      *inventory.Service
	Accounts       posting.Accounts
	Audit          AuditPort
	Idempotency    IdempotencyPort
	LedgerCurrency string
	Logger         *slog.Logger
}

// NewService constructs procurement service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.LedgerCurrency == "" {
		deps.LedgerCurrency = "ARS"
	}
	return &Service{
		repo:           deps.Repo,
		journals:       deps.Journals,
		inventory:      deps.Inventory,
		accounts:       deps.Accounts,
		audit:          deps.Audit,
		idempotency:    deps.Idempotency,
		ledgerCurrency: deps.LedgerCurrency,
		logger:         deps.Logger,
		now:            time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateSupplier registers a supplier with a zero balance.
func (s *Service) CreateSupplier(ctx context.Context, req CreateSupplierRequest) (Supplier, error) {
	if err := shared.Validate(req); err != nil {
		return Supplier{}, err
	}
	return s.repo.CreateSupplier(ctx, Supplier{Code: strings.TrimSpace(req.Code), Name: strings.TrimSpace(req.Name), CUIT: req.CUIT})
}

func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

// Create registers a DRAFT purchase invoice. A stated total must match the
// computed one within tolerance.
func (s *Service) Create(ctx context.Context, req CreatePurchaseRequest) (PurchaseInvoice, error) {
	if err := shared.Validate(req); err != nil {
		return PurchaseInvoice{}, err
	}
	issue := shared.Day(req.IssueDate)
	due := issue
	if req.DueDate != nil {
		due = shared.Day(*req.DueDate)
		if due.Before(issue) {
			return PurchaseInvoice{}, shared.NewValidationError("due_date", "must not be before issue_date")
		}
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = s.ledgerCurrency
	}
	p := PurchaseInvoice{
		SupplierID:   req.SupplierID,
		Letter:       req.Letter,
		PointOfSale:  req.PointOfSale,
		Number:       req.Number,
		IssueDate:    issue,
		DueDate:      due,
		Status:       StatusDraft,
		Currency:     currency,
		ExchangeRate: decimal.NewFromInt(1),
		Notes:        req.Notes,
		CreatedBy:    shared.ActorFromContext(ctx),
	}
	for _, it := range req.Items {
		p.Items = append(p.Items, Item{
			ProductID:        it.ProductID,
			Description:      it.Description,
			Quantity:         it.Quantity,
			UnitCost:         it.UnitCost,
			DiscountPct:      it.DiscountPct,
			VATRate:          it.VATRate,
			AccountID:        it.AccountID,
			ReturnedQuantity: decimal.Zero,
		})
	}
	for _, pc := range req.Perceptions {
		p.Perceptions = append(p.Perceptions, Perception{TaxType: pc.TaxType, Jurisdiction: pc.Jurisdiction, Amount: pc.Amount})
	}
	totals := ComputeTotals(p.Items, p.Perceptions)
	p.Subtotal, p.TaxAmount, p.PerceptionsSum, p.Total, p.Taxes = totals.Subtotal, totals.Tax, totals.Perceptions, totals.Total, totals.Taxes
	if req.Total != nil {
		if !shared.WithinTolerance(*req.Total, totals.Total) {
			return PurchaseInvoice{}, &shared.UnbalancedEntryError{Debit: totals.Total, Credit: *req.Total}
		}
		p.Total = *req.Total
	}

	var created PurchaseInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		supplier, err := tx.GetSupplierForUpdate(ctx, p.SupplierID)
		if err != nil {
			return err
		}
		if !supplier.IsActive {
			return shared.NewValidationError("supplier_id", "supplier is inactive")
		}
		created, err = tx.InsertPurchaseInvoice(ctx, p)
		return err
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	s.recordAudit(ctx, "PURCHASE_CREATE", created.ID, map[string]any{"reference": created.Reference()})
	return created, nil
}

// Approve posts the payable, raises the supplier balance and, when asked,
// enters the goods in the same transaction.
func (s *Service) Approve(ctx context.Context, id int64, req ApproveRequest) (PurchaseInvoice, error) {
	actor := shared.ActorFromContext(ctx)
	var out PurchaseInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusDraft {
			return fmt.Errorf("%w: %s is %s", ErrNotDraft, p.Reference(), p.Status)
		}
		supplier, err := tx.GetSupplierForUpdate(ctx, p.SupplierID)
		if err != nil {
			return err
		}
		rate, err := s.rateAt(ctx, tx, p.Currency, p.IssueDate)
		if err != nil {
			return err
		}

		ev := posting.PurchaseEvent{
			PurchaseInvoiceID: p.ID,
			Reference:         p.Reference(),
			SupplierName:      supplier.Name,
			IssueDate:         p.IssueDate,
			ExchangeRate:      rate,
			Tax:               p.TaxAmount,
			Total:             p.Total,
			Actor:             actor,
		}
		for _, it := range p.Items {
			ev.Items = append(ev.Items, posting.PurchaseItem{Description: it.Description, Net: it.Net, AccountID: it.AccountID})
		}
		for _, pc := range p.Perceptions {
			ev.Perceptions = append(ev.Perceptions, posting.Perception{TaxType: pc.TaxType, Jurisdiction: pc.Jurisdiction, Amount: pc.Amount})
		}
		input, err := posting.PurchaseInvoice(s.accounts, ev)
		if err != nil {
			return err
		}
		entry, err := s.journals.PostInTx(ctx, tx, input)
		if err != nil {
			return ledgerError(p.Reference(), err)
		}
		if err := tx.ApprovePurchaseInvoice(ctx, p.ID, entry.ID, rate); err != nil {
			return err
		}
		if err := tx.AdjustSupplierBalance(ctx, supplier.ID, payable(input)); err != nil {
			return err
		}
		now := s.now()
		p.Status = StatusApproved
		p.ExchangeRate = rate
		p.JournalEntryID = &entry.ID
		p.ApprovedAt = &now
		if req.ImpactStock {
			if err := s.impactInTx(ctx, tx, &p, actor); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	s.recordAudit(ctx, "PURCHASE_APPROVE", id, map[string]any{"reference": out.Reference(), "journal_entry_id": *out.JournalEntryID})
	s.logger.Info("purchase invoice approved", slog.Int64("purchase_invoice_id", id), slog.Int64("entry_id", *out.JournalEntryID))
	return out, nil
}

// ImpactStock enters the goods of an approved invoice as COMPRA movements.
// It succeeds once per invoice; later calls fail with ErrStockAlreadyImpacted.
func (s *Service) ImpactStock(ctx context.Context, id int64) (PurchaseInvoice, error) {
	actor := shared.ActorFromContext(ctx)
	var out PurchaseInvoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusApproved {
			return fmt.Errorf("%w: %s is %s", ErrNotApproved, p.Reference(), p.Status)
		}
		if err := s.impactInTx(ctx, tx, &p, actor); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return PurchaseInvoice{}, err
	}
	s.recordAudit(ctx, "PURCHASE_STOCK_IMPACT", id, map[string]any{"reference": out.Reference()})
	return out, nil
}

func (s *Service) impactInTx(ctx context.Context, tx TxRepository, p *PurchaseInvoice, actor string) error {
	if p.StockImpacted {
		return ErrStockAlreadyImpacted
	}
	if err := tx.MarkStockImpacted(ctx, p.ID); err != nil {
		return err
	}
	for _, it := range p.Items {
		if it.ProductID == nil {
			continue
		}
		cost := it.NetUnitCost()
		if _, err := s.inventory.MoveInTx(ctx, tx, inventory.MoveInput{
			ProductID:    *it.ProductID,
			Type:         inventory.MovementPurchase,
			Quantity:     it.Quantity,
			UnitCost:     &cost,
			CostCurrency: p.Currency,
			SourceModule: sourceModule,
			SourceRef:    p.Reference(),
			Actor:        actor,
		}); err != nil {
			return err
		}
	}
	p.StockImpacted = true
	return nil
}

// IssueCreditNote registers a supplier credit note against an approved
// invoice. Goods go back as DEVOLUCION_PROVEEDOR only when the invoice had
// entered them.
func (s *Service) IssueCreditNote(ctx context.Context, id int64, req CreditNoteRequest, idemKey string) (CreditNote, error) {
	if err := shared.Validate(req); err != nil {
		return CreditNote{}, err
	}
	date := shared.Day(s.now())
	if req.Date != nil {
		date = shared.Day(*req.Date)
	}
	claimed, err := s.claim(ctx, idemKey)
	if err != nil {
		return CreditNote{}, err
	}
	actor := shared.ActorFromContext(ctx)
	var out CreditNote
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPurchaseInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusApproved {
			return fmt.Errorf("%w: %s is %s", ErrNotApproved, p.Reference(), p.Status)
		}
		if date.Before(p.IssueDate) {
			return shared.NewValidationError("date", "must not be before the invoice issue date")
		}
		returned, err := returnedItems(p, req.Items)
		if err != nil {
			return err
		}

		cn := CreditNote{
			PurchaseInvoiceID: p.ID,
			Number:            strings.TrimSpace(req.Number),
			Date:              date,
			Reason:            req.Reason,
			Net:               decimal.Zero,
			Tax:               decimal.Zero,
			StockReturned:     p.StockImpacted,
			CreatedBy:         actor,
		}
		events := make([]posting.ReturnedItem, 0, len(returned))
		for _, r := range returned {
			ev := posting.ReturnedItem{
				Description: r.item.Description,
				Quantity:    r.qty,
				UnitCost:    r.item.UnitCost,
				DiscountPct: r.item.DiscountPct,
				VATRate:     r.item.VATRate,
				AccountID:   r.item.AccountID,
			}
			events = append(events, ev)
			cn.Items = append(cn.Items, CreditNoteItem{
				PurchaseItemID: r.item.ID,
				ProductID:      r.item.ProductID,
				Quantity:       r.qty,
				UnitCost:       r.item.UnitCost,
				DiscountPct:    r.item.DiscountPct,
				VATRate:        r.item.VATRate,
				Net:            ev.Net(),
				Tax:            ev.Tax(),
			})
			cn.Net = cn.Net.Add(ev.Net())
			cn.Tax = cn.Tax.Add(ev.Tax())
		}
		cn.Total = cn.Net.Add(cn.Tax)

		cn, err = tx.InsertCreditNote(ctx, cn)
		if err != nil {
			return err
		}
		input, _, err := posting.PurchaseCreditNote(s.accounts, posting.CreditNoteEvent{
			CreditNoteID:      cn.ID,
			PurchaseInvoiceID: p.ID,
			Reference:         cn.Number + " s/ " + p.Reference(),
			Date:              date,
			ExchangeRate:      p.ExchangeRate,
			Items:             events,
			Actor:             actor,
		})
		if err != nil {
			return err
		}
		entry, err := s.journals.PostInTx(ctx, tx, input)
		if err != nil {
			return ledgerError("credit note "+cn.Number, err)
		}
		if err := tx.SetCreditNoteJournal(ctx, cn.ID, entry.ID); err != nil {
			return err
		}
		cn.JournalEntryID = &entry.ID

		for _, r := range returned {
			if err := tx.AddReturnedQuantity(ctx, r.item.ID, r.qty); err != nil {
				return err
			}
			if !p.StockImpacted || r.item.ProductID == nil {
				continue
			}
			cost := r.item.NetUnitCost()
			if _, err := s.inventory.MoveInTx(ctx, tx, inventory.MoveInput{
				ProductID:    *r.item.ProductID,
				Type:         inventory.MovementSupplierReturn,
				Quantity:     r.qty,
				UnitCost:     &cost,
				CostCurrency: p.Currency,
				SourceModule: sourceModule,
				SourceRef:    cn.Number,
				Note:         req.Reason,
				Actor:        actor,
			}); err != nil {
				return err
			}
		}
		if err := tx.AdjustSupplierBalance(ctx, p.SupplierID, payable(input).Neg()); err != nil {
			return err
		}
		out = cn
		return nil
	})
	if err != nil {
		s.release(ctx, idemKey, claimed)
		return CreditNote{}, err
	}
	s.recordAudit(ctx, "PURCHASE_CREDIT_NOTE", id, map[string]any{"credit_note_id": out.ID, "number": out.Number})
	s.logger.Info("purchase credit note issued", slog.Int64("purchase_invoice_id", id), slog.Int64("credit_note_id", out.ID))
	return out, nil
}

type returnLine struct {
	item Item
	qty  decimal.Decimal
}

// returnedItems merges repeated lines and checks each against what is left
// to return. Lines come back in item order.
func returnedItems(p PurchaseInvoice, reqs []ReturnItemReq) ([]returnLine, error) {
	merged := map[int64]decimal.Decimal{}
	for _, r := range reqs {
		merged[r.PurchaseItemID] = merged[r.PurchaseItemID].Add(r.Quantity)
	}
	ids := make([]int64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	verr := &shared.ValidationError{}
	out := make([]returnLine, 0, len(ids))
	for _, id := range ids {
		field := "items." + strconv.FormatInt(id, 10)
		item, ok := p.Item(id)
		if !ok {
			verr.Addf(field, "item does not belong to %s", p.Reference())
			continue
		}
		qty := merged[id]
		if qty.GreaterThan(item.Returnable()) {
			verr.Addf(field, "quantity %s exceeds returnable %s", qty, item.Returnable())
			continue
		}
		out = append(out, returnLine{item: item, qty: qty})
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// payable is the accounts payable amount of a generated entry, in the ledger currency.
func payable(in journals.PostingInput) decimal.Decimal {
	debit, _ := in.Totals()
	return debit
}

func (s *Service) rateAt(ctx context.Context, tx TxRepository, currency string, date time.Time) (decimal.Decimal, error) {
	if strings.EqualFold(currency, s.ledgerCurrency) {
		return decimal.NewFromInt(1), nil
	}
	table, err := fx.LoadTable(ctx, tx, s.ledgerCurrency, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return table.RateAt(currency, date)
}

func ledgerError(document string, err error) error {
	if errors.Is(err, journals.ErrSourceConflict) {
		return err
	}
	if db.IsSerializationFailure(err) {
		return &LedgerPostError{Err: err, Retryable: true, Message: fmt.Sprintf("procurement: %s conflicted with a concurrent posting, retry", document)}
	}
	return &LedgerPostError{Err: err, Message: fmt.Sprintf("procurement: post %s to ledger: %v", document, err)}
}

func (s *Service) Get(ctx context.Context, id int64) (PurchaseInvoice, error) {
	return s.repo.GetPurchaseInvoice(ctx, id)
}

func (s *Service) CreditNotes(ctx context.Context, id int64) ([]CreditNote, error) {
	return s.repo.ListCreditNotes(ctx, id)
}

func (s *Service) claim(ctx context.Context, key string) (bool, error) {
	if key == "" || s.idempotency == nil {
		return false, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) release(ctx context.Context, key string, claimed bool) {
	if !claimed {
		return
	}
	if err := s.idempotency.Delete(ctx, key, idempotencyModule); err != nil {
		s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "purchase_invoice",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
