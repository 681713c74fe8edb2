package quotations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/shared"
)

// ErrExpired is returned when accepting a quote after its validity window.
var ErrExpired = fmt.Errorf("quotations: quote expired: %w", shared.ErrInvalidStatus)

// CustomerReader verifies the customer a quote is addressed to.
type CustomerReader interface {
	Get(ctx context.Context, id int64) (*customers.Customer, error)
}

type Service struct {
	repo      Repository
	customers CustomerReader
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo Repository, customerRepo CustomerReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, customers: customerRepo, logger: logger, now: time.Now}
}

// WithNow overrides the clock used for validity checks.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Create(ctx context.Context, req CreateQuoteRequest) (Quote, error) {
	if err := shared.Validate(req); err != nil {
		return Quote{}, err
	}
	customer, err := s.customers.Get(ctx, req.CustomerID)
	if err != nil {
		return Quote{}, fmt.Errorf("verify customer: %w", err)
	}
	if !customer.IsActive {
		return Quote{}, shared.NewValidationError("customer_id", "customer is inactive")
	}

	quote := Quote{
		CustomerID:   req.CustomerID,
		Date:         shared.Day(req.Date),
		ValidityDays: shared.Days(req.ValidityDays),
		Currency:     strings.ToUpper(req.Currency),
		Status:       StatusDraft,
		Notes:        req.Notes,
		CreatedBy:    shared.ActorFromContext(ctx),
		Subtotal:     decimal.Zero,
	}
	if quote.Currency == "" {
		quote.Currency = "ARS"
	}
	items := make([]Item, 0, len(req.Items))
	for i, in := range req.Items {
		it := Item{
			ProductID:     in.ProductID,
			Description:   strings.TrimSpace(in.Description),
			Quantity:      in.Quantity,
			UnitPrice:     in.UnitPrice,
			DiscountPct:   in.DiscountPct,
			DeliveryTime:  DeliveryTime(strings.ToUpper(strings.TrimSpace(in.DeliveryTime))),
			IsAlternative: in.IsAlternative,
			LineOrder:     i + 1,
		}
		if !it.IsAlternative {
			quote.Subtotal = quote.Subtotal.Add(it.NetFor(it.Quantity))
		}
		items = append(items, it)
	}

	var created Quote
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextQuoteNumber(ctx)
		if err != nil {
			return err
		}
		quote.Number = number
		created, err = tx.InsertQuote(ctx, quote)
		if err != nil {
			return fmt.Errorf("insert quote: %w", err)
		}
		created.Items, err = tx.InsertQuoteItems(ctx, created.ID, items)
		return err
	})
	if err != nil {
		return Quote{}, err
	}
	s.logger.Info("quote created", slog.Int64("quote_id", created.ID), slog.String("number", created.Number))
	return created, nil
}

func (s *Service) Send(ctx context.Context, id int64) (Quote, error) {
	return s.change(ctx, id, StatusSent, "")
}

func (s *Service) Accept(ctx context.Context, id int64) (Quote, error) {
	return s.change(ctx, id, StatusAccepted, "")
}

func (s *Service) Reject(ctx context.Context, id int64, req RejectRequest) (Quote, error) {
	if err := shared.Validate(req); err != nil {
		return Quote{}, err
	}
	return s.change(ctx, id, StatusRejected, req.Reason)
}

func (s *Service) change(ctx context.Context, id int64, to Status, reason string) (Quote, error) {
	var out Quote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		q, err := tx.GetQuoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if to == StatusAccepted && !q.Validity().Contains(s.now()) {
			return ErrExpired
		}
		if err := TransitionInTx(ctx, tx, &q, to, reason); err != nil {
			return err
		}
		out = q
		return nil
	})
	if err != nil {
		return Quote{}, err
	}
	s.logger.Info("quote status changed", slog.Int64("quote_id", id), slog.String("status", string(to)))
	return out, nil
}

// TransitionInTx moves q to status to and appends the history row, inside
// the caller's transaction.
func TransitionInTx(ctx context.Context, tx TxRepository, q *Quote, to Status, reason string) error {
	if err := Transition(q.Status, to); err != nil {
		return err
	}
	if err := tx.UpdateQuoteStatus(ctx, q.ID, to); err != nil {
		return err
	}
	if err := tx.InsertStatusChange(ctx, StatusChange{
		QuoteID:   q.ID,
		From:      q.Status,
		To:        to,
		Reason:    reason,
		ChangedBy: shared.ActorFromContext(ctx),
	}); err != nil {
		return fmt.Errorf("quote history: %w", err)
	}
	q.Status = to
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (Quote, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListQuotesRequest) ([]Quote, shared.Pagination, error) {
	items, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(req.Page.Page, req.Page.PerPage, total), nil
}

// Kanban groups open quotes by stock readiness.
func (s *Service) Kanban(ctx context.Context) (Board, error) {
	quotes, err := s.repo.ListOpen(ctx)
	if err != nil {
		return Board{}, err
	}
	return BuildBoard(quotes), nil
}

// Fulfillment reports invoiced and remaining quantity per item.
func (s *Service) Fulfillment(ctx context.Context, id int64) (Fulfillment, error) {
	q, err := s.repo.Get(ctx, id)
	if err != nil {
		return Fulfillment{}, err
	}
	history, err := s.repo.History(ctx, id)
	if err != nil {
		return Fulfillment{}, err
	}
	out := Fulfillment{QuoteID: q.ID, Status: q.Status, FullyInvoiced: q.FullyInvoiced(), History: history}
	for _, it := range q.Items {
		out.Items = append(out.Items, ItemFulfillment{
			ItemID:        it.ID,
			ProductID:     it.ProductID,
			Description:   it.Description,
			Quantity:      it.Quantity,
			Invoiced:      it.InvoicedQuantity,
			Remaining:     it.Remaining(),
			IsAlternative: it.IsAlternative,
		})
	}
	return out, nil
}
