package customers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pampa-erp/pampa/internal/integration"
	"github.com/pampa-erp/pampa/internal/shared"
)

// TaxpayerLookup resolves a CUIT against the tax authority registry.
type TaxpayerLookup interface {
	Lookup(ctx context.Context, cuit string) (integration.Taxpayer, error)
}

type Service struct {
	repo    Repository
	lookup  TaxpayerLookup
	timeout time.Duration
	logger  *slog.Logger
}

// NewService builds Service. lookup may be nil, which disables enrichment.
func NewService(repo Repository, lookup TaxpayerLookup, timeout time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Service{repo: repo, lookup: lookup, timeout: timeout, logger: logger}
}

func (s *Service) Create(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	if err := shared.Validate(req); err != nil {
		return nil, err
	}
	customer := Customer{
		Code:             strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:             strings.TrimSpace(req.Name),
		TaxCondition:     req.TaxCondition,
		Email:            req.Email,
		Phone:            req.Phone,
		Address:          req.Address,
		PaymentTermsDays: shared.Days(req.PaymentTermsDays),
		CreditLimit:      req.CreditLimit,
		IsActive:         true,
		CreatedBy:        shared.ActorFromContext(ctx),
	}
	if req.CUIT != nil && strings.TrimSpace(*req.CUIT) != "" {
		cuit, err := NormalizeCUIT(*req.CUIT)
		if err != nil {
			return nil, shared.NewValidationError("cuit", "is not a valid CUIT")
		}
		customer.CUIT = &cuit
	}

	// The registry is called before any transaction is opened.
	if req.Enrich && customer.CUIT != nil && s.lookup != nil {
		if err := s.enrich(ctx, &customer); err != nil {
			if customer.Name == "" || customer.TaxCondition == "" {
				return nil, err
			}
			s.logger.Warn("taxpayer enrichment skipped", slog.String("cuit", *customer.CUIT), slog.Any("error", err))
		}
	}

	verr := &shared.ValidationError{}
	if customer.Name == "" {
		verr.Add("name", "is required")
	}
	if !customer.TaxCondition.Valid() {
		verr.Add("tax_condition", "is required")
	} else if customer.TaxCondition.RequiresCUIT() && customer.CUIT == nil {
		verr.Add("cuit", fmt.Sprintf("is required for %s customers", customer.TaxCondition))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if customer.CUIT != nil {
			existing, err := repo.GetByCUIT(ctx, *customer.CUIT)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("check existing customer: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("%w: CUIT %s belongs to customer %s", ErrAlreadyExists, FormatCUIT(*customer.CUIT), existing.Code)
			}
		}
		created, err := repo.Create(ctx, customer)
		if err != nil {
			return err
		}
		customer = created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &customer, nil
}

func (s *Service) enrich(ctx context.Context, c *Customer) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tp, err := s.lookup.Lookup(ctx, *c.CUIT)
	if err != nil {
		return err
	}
	if c.Name == "" {
		c.Name = tp.Name
	}
	if c.TaxCondition == "" {
		c.TaxCondition = TaxCondition(tp.TaxCondition)
	}
	if c.Address == nil && tp.Address != "" {
		addr := tp.Address
		c.Address = &addr
	}
	return nil
}

// LookupTaxpayer proxies the registry for a CUIT after validating it.
func (s *Service) LookupTaxpayer(ctx context.Context, raw string) (integration.Taxpayer, error) {
	cuit, err := NormalizeCUIT(raw)
	if err != nil {
		return integration.Taxpayer{}, shared.NewValidationError("cuit", "is not a valid CUIT")
	}
	if s.lookup == nil {
		return integration.Taxpayer{}, &shared.ExternalServiceError{Service: "taxid", Op: "lookup", Err: errors.New("lookup not configured")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.lookup.Lookup(ctx, cuit)
}

func (s *Service) Get(ctx context.Context, id int64) (*Customer, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, req ListCustomersRequest) ([]Customer, int, error) {
	if req.Limit <= 0 || req.Limit > 200 {
		req.Limit = 50
	}
	return s.repo.List(ctx, req)
}
