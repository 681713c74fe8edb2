package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/accounting/posting"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
	"github.com/pampa-erp/pampa/internal/shared"
)

const idempotencyModule = "fulfillment"

// QuoteReader loads a quote outside the transaction.
type QuoteReader interface {
	Get(ctx context.Context, id int64) (quotations.Quote, error)
}

// CustomerReader loads the invoiced customer.
type CustomerReader interface {
	Get(ctx context.Context, id int64) (*customers.Customer, error)
}

// IdempotencyPort claims client supplied request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Recorder receives sales counters.
type Recorder interface {
	InvoiceGenerated(letter string)
}

// Config carries the issuing company's settings.
type Config struct {
	IssuerCondition customers.TaxCondition
	LedgerCurrency  string
	PointOfSale     int
}

type Service struct {
	repo      Repository
	quotes    QuoteReader
	invoices  invoices.Repository
	customers CustomerReader
	journals  *journals.Service
	inventory *inventory.Service
	accounts  posting.Accounts
	idem      IdempotencyPort
	metrics   Recorder
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// Deps groups collaborators of Service.
type Deps struct {
	Repo        Repository
	Quotes      QuoteReader
	Invoices    invoices.Repository
	Customers   CustomerReader
	Journals    *journals.Service
	Inventory   *inventory.Service
	Accounts    posting.Accounts
	Idempotency IdempotencyPort
	Metrics     Recorder
	Logger      *slog.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.LedgerCurrency == "" {
		cfg.LedgerCurrency = "ARS"
	}
	if cfg.PointOfSale <= 0 {
		cfg.PointOfSale = 1
	}
	if cfg.IssuerCondition == "" {
		cfg.IssuerCondition = customers.TaxConditionRegistered
	}
	return &Service{
		repo:      deps.Repo,
		quotes:    deps.Quotes,
		invoices:  deps.Invoices,
		customers: deps.Customers,
		journals:  deps.Journals,
		inventory: deps.Inventory,
		accounts:  deps.Accounts,
		idem:      deps.Idempotency,
		metrics:   deps.Metrics,
		cfg:       cfg,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// GenerateInvoice issues a DRAFT invoice for part of an ACCEPTED quote. Stock
// leaves as VENTA movements and the cost is posted to CMV in the same
// transaction; when nothing remains to invoice the quote becomes CONVERTED.
func (s *Service) GenerateInvoice(ctx context.Context, quoteID int64, req GenerateRequest, idemKey string) (invoices.Invoice, error) {
	if err := shared.Validate(req); err != nil {
		return invoices.Invoice{}, err
	}
	issueDate := shared.Day(s.now())
	if req.IssueDate != nil {
		issueDate = shared.Day(*req.IssueDate)
	}

	quote, err := s.quotes.Get(ctx, quoteID)
	if err != nil {
		return invoices.Invoice{}, err
	}
	customer, err := s.customers.Get(ctx, quote.CustomerID)
	if err != nil {
		return invoices.Invoice{}, fmt.Errorf("fulfillment: load customer: %w", err)
	}

	claimed, err := s.claim(ctx, idemKey)
	if err != nil {
		return invoices.Invoice{}, err
	}
	actor := shared.ActorFromContext(ctx)
	var created invoices.Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuoteForUpdate(ctx, quoteID)
		if err != nil {
			return err
		}
		if q.Status != quotations.StatusAccepted {
			return fmt.Errorf("fulfillment: quote %s is %s: %w", q.Number, q.Status, shared.ErrInvalidStatus)
		}
		lines, err := checkRemaining(q, req.Items)
		if err != nil {
			return err
		}

		letter := invoices.LetterFor(s.cfg.IssuerCondition, customer.TaxCondition)
		number, err := tx.NextInvoiceNumber(ctx, letter, s.cfg.PointOfSale)
		if err != nil {
			return err
		}
		inv := invoices.Invoice{
			Letter:      letter,
			PointOfSale: s.cfg.PointOfSale,
			Number:      number,
			CustomerID:  customer.ID,
			IssueDate:   issueDate,
			DueDate:     customer.PaymentTermsDays.After(issueDate),
			Status:      invoices.StatusDraft,
			Currency:    q.Currency,
			QuoteID:     &q.ID,
			CreatedBy:   actor,
		}
		ref := inv.FullNumber()

		costCurrencies := []string{q.Currency}
		for i := range lines {
			mv, err := s.inventory.MoveInTx(ctx, tx, inventory.MoveInput{
				ProductID:    lines[i].item.ProductID,
				Type:         inventory.MovementSale,
				Quantity:     lines[i].qty,
				SourceModule: "SALES_INVOICE",
				SourceRef:    ref,
				Actor:        actor,
			})
			if err != nil {
				return err
			}
			lines[i].unitCost = mv.UnitCost
			lines[i].costCurrency = mv.CostCurrency
			costCurrencies = append(costCurrencies, mv.CostCurrency)
		}

		rates, err := fx.LoadTable(ctx, tx, s.cfg.LedgerCurrency, costCurrencies...)
		if err != nil {
			return err
		}
		inv.ExchangeRate, err = rates.RateAt(q.Currency, issueDate)
		if err != nil {
			return err
		}

		for _, l := range lines {
			itemID := l.item.ID
			inv.Items = append(inv.Items, invoices.Item{
				QuoteItemID: &itemID,
				ProductID:   l.item.ProductID,
				Description: l.item.Description,
				Quantity:    l.qty,
				UnitPrice:   l.item.UnitPrice,
				DiscountPct: l.item.DiscountPct,
				UnitCost:    l.unitCost,
			})
		}
		totals := invoices.PriceItems(inv.Items, letter)
		inv.Subtotal, inv.Discount, inv.TaxAmount, inv.Total = totals.Subtotal, totals.Discount, totals.TaxAmount, totals.Total
		inv.Balance = totals.Total

		created, err = tx.InsertInvoice(ctx, inv)
		if err != nil {
			return err
		}

		ev := posting.CMVEvent{InvoiceID: created.ID, InvoiceRef: ref, IssueDate: issueDate, Actor: actor}
		for _, l := range lines {
			ev.Items = append(ev.Items, posting.CMVItem{
				ProductID: l.item.ProductID,
				Quantity:  l.qty,
				UnitCost:  l.unitCost,
				Currency:  l.costCurrency,
			})
		}
		entryInput, err := posting.CostOfGoodsSold(s.accounts, rates, ev)
		switch {
		case errors.Is(err, journals.ErrNothingToPost):
			s.logger.Warn("invoice without cost, CMV skipped", slog.String("invoice", ref))
		case err != nil:
			return err
		default:
			entry, err := s.journals.PostInTx(ctx, tx, entryInput)
			if err != nil {
				return fmt.Errorf("fulfillment: post CMV: %w", err)
			}
			if err := tx.SetInvoiceJournal(ctx, created.ID, entry.ID); err != nil {
				return err
			}
			created.JournalEntryID = &entry.ID
		}

		after, err := tx.GetQuoteForUpdate(ctx, quoteID)
		if err != nil {
			return err
		}
		if after.FullyInvoiced() {
			return quotations.TransitionInTx(ctx, tx, &after, quotations.StatusConverted, "fully invoiced by "+ref)
		}
		return nil
	})
	if err != nil {
		s.release(ctx, idemKey, claimed)
		return invoices.Invoice{}, err
	}
	if s.metrics != nil {
		s.metrics.InvoiceGenerated(string(created.Letter))
	}
	s.logger.Info("invoice generated",
		slog.Int64("invoice_id", created.ID),
		slog.String("number", created.FullNumber()),
		slog.Int64("quote_id", quoteID))
	return created, nil
}

type invoiceLine struct {
	item         quotations.Item
	qty          decimal.Decimal
	unitCost     decimal.Decimal
	costCurrency string
}

// mergeRequested adds up repeated item ids so the remaining check sees the full request.
func mergeRequested(items []RequestedItem) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal, len(items))
	for _, it := range items {
		out[it.QuoteItemID] = out[it.QuoteItemID].Add(it.Quantity)
	}
	return out
}

// checkRemaining rejects any line that is not positive, then merged quantities
// that exceed what is left on the item. Lines come back in quote item order.
func checkRemaining(q quotations.Quote, items []RequestedItem) ([]invoiceLine, error) {
	for _, it := range items {
		if it.Quantity.IsPositive() {
			continue
		}
		var remaining decimal.Decimal
		if item, ok := q.Item(it.QuoteItemID); ok {
			remaining = item.Remaining()
		}
		return nil, &shared.OverInvoiceError{QuoteItemID: it.QuoteItemID, Requested: it.Quantity, Remaining: remaining}
	}
	requested := mergeRequested(items)
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	lines := make([]invoiceLine, 0, len(ids))
	for _, id := range ids {
		qty := requested[id]
		item, ok := q.Item(id)
		if !ok {
			return nil, shared.NewValidationError("items", fmt.Sprintf("quote item %d does not belong to quote %s", id, q.Number))
		}
		remaining := item.Remaining()
		if !qty.IsPositive() || qty.GreaterThan(remaining) {
			return nil, &shared.OverInvoiceError{QuoteItemID: id, Requested: qty, Remaining: remaining}
		}
		lines = append(lines, invoiceLine{item: item, qty: qty})
	}
	return lines, nil
}

// CancelInvoice annuls an invoice nothing was collected on: the CMV entry is
// reversed, stock comes back as DEVOLUCION_CLIENTE and the quoted quantity is
// released, reopening a CONVERTED quote.
func (s *Service) CancelInvoice(ctx context.Context, id int64, req CancelRequest) (invoices.Invoice, error) {
	if err := shared.Validate(req); err != nil {
		return invoices.Invoice{}, err
	}
	actor := shared.ActorFromContext(ctx)
	today := shared.Day(s.now())
	var out invoices.Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Cancelable() {
			return fmt.Errorf("%w: %s is %s", invoices.ErrNotCancelable, inv.FullNumber(), inv.Status)
		}
		ref := inv.FullNumber()
		if inv.JournalEntryID != nil {
			date := today
			if date.Before(inv.IssueDate) {
				date = inv.IssueDate
			}
			if _, err := s.journals.ReverseInTx(ctx, tx, journals.ReverseInput{
				EntryID: *inv.JournalEntryID,
				Date:    &date,
				Reason:  "anulación factura " + ref + ": " + req.Reason,
				Actor:   actor,
			}); err != nil {
				return fmt.Errorf("fulfillment: reverse CMV: %w", err)
			}
		}
		for _, it := range inv.Items {
			if _, err := s.inventory.MoveInTx(ctx, tx, inventory.MoveInput{
				ProductID:    it.ProductID,
				Type:         inventory.MovementCustomerReturn,
				Quantity:     it.Quantity,
				SourceModule: "SALES_INVOICE",
				SourceRef:    ref,
				Note:         req.Reason,
				Actor:        actor,
			}); err != nil {
				return err
			}
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, invoices.StatusCancelled); err != nil {
			return err
		}
		inv.Status = invoices.StatusCancelled
		if inv.QuoteID != nil {
			q, err := tx.GetQuoteForUpdate(ctx, *inv.QuoteID)
			if err != nil {
				return err
			}
			if q.Status == quotations.StatusConverted {
				if err := quotations.TransitionInTx(ctx, tx, &q, quotations.StatusAccepted, "invoice "+ref+" cancelled"); err != nil {
					return err
				}
			}
		}
		out = inv
		return nil
	})
	if err != nil {
		return invoices.Invoice{}, err
	}
	s.logger.Info("invoice cancelled", slog.Int64("invoice_id", id), slog.String("reason", req.Reason))
	return out, nil
}

// Authorize records the CAE granted by the tax authority.
func (s *Service) Authorize(ctx context.Context, id int64, req AuthorizeRequest) (invoices.Invoice, error) {
	if err := shared.Validate(req); err != nil {
		return invoices.Invoice{}, err
	}
	var out invoices.Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Status.Authorizable() {
			return fmt.Errorf("fulfillment: authorize %s in %s: %w", inv.FullNumber(), inv.Status, shared.ErrInvalidStatus)
		}
		expiry := shared.Day(req.Expiry)
		if err := tx.AuthorizeInvoice(ctx, id, req.CAE, expiry); err != nil {
			return err
		}
		inv.Status = invoices.StatusAuthorized
		inv.CAE = req.CAE
		inv.CAEExpiry = &expiry
		out = inv
		return nil
	})
	if err != nil {
		return invoices.Invoice{}, err
	}
	return out, nil
}

// MarkOverdue flags collectible invoices due before asOf that still carry a balance.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ids, err = tx.MarkOverdueInvoices(ctx, shared.Day(asOf))
		return err
	})
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.logger.Info("invoices marked overdue", slog.Int("count", len(ids)))
	}
	return len(ids), nil
}

func (s *Service) GetInvoice(ctx context.Context, id int64) (invoices.Invoice, error) {
	return s.invoices.Get(ctx, id)
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
