package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, page shared.PageRequest) ([]Product, int, error)
	Movements(ctx context.Context, productID int64, page shared.PageRequest) ([]Movement, int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort claims client supplied request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Service coordinates inventory operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, logger: logger}
}

// MoveInTx applies a movement inside the caller's transaction: it locks the
// product, rejects results below zero unless the product allows it, stores
// the new quantity and appends the movement.
func (s *Service) MoveInTx(ctx context.Context, tx TxRepository, in MoveInput) (Movement, error) {
	if err := in.validate(); err != nil {
		return Movement{}, err
	}
	product, err := tx.GetProductForUpdate(ctx, in.ProductID)
	if err != nil {
		return Movement{}, err
	}
	if !product.IsActive {
		return Movement{}, fmt.Errorf("%w: %s", ErrProductInactive, product.SKU)
	}
	delta := in.Type.Signed(in.Quantity)
	after := product.Stock.Add(delta)
	if after.IsNegative() && !product.AllowNegative {
		return Movement{}, &shared.InsufficientStockError{
			ProductID: product.ID,
			SKU:       product.SKU,
			Available: product.Stock,
			Requested: in.Quantity,
		}
	}
	unitCost := product.LastCost
	currency := product.CostCurrency
	if in.UnitCost != nil {
		unitCost = *in.UnitCost
		if in.CostCurrency != "" {
			currency = strings.ToUpper(in.CostCurrency)
		}
	}
	lastCost, costCurrency := product.LastCost, product.CostCurrency
	if in.Type == MovementPurchase {
		lastCost, costCurrency = unitCost, currency
	}
	if err := tx.UpdateProductStock(ctx, product.ID, after, lastCost, costCurrency); err != nil {
		return Movement{}, err
	}
	return tx.InsertMovement(ctx, Movement{
		ProductID:    product.ID,
		Type:         in.Type,
		Quantity:     delta,
		UnitCost:     unitCost,
		CostCurrency: currency,
		StockBefore:  product.Stock,
		StockAfter:   after,
		SourceModule: in.SourceModule,
		SourceRef:    in.SourceRef,
		Note:         in.Note,
		CreatedBy:    in.Actor,
	})
}

// Move applies a single movement in its own transaction.
func (s *Service) Move(ctx context.Context, in MoveInput) (Movement, error) {
	var mv Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		mv, err = s.MoveInTx(ctx, tx, in)
		return err
	})
	return mv, err
}

// Adjust posts a manual correction. A non-empty idempotency key is claimed
// first and released again if the movement fails.
func (s *Service) Adjust(ctx context.Context, req AdjustmentRequest, idemKey string) (Movement, error) {
	if err := shared.Validate(req); err != nil {
		return Movement{}, err
	}
	in := MoveInput{
		ProductID:    req.ProductID,
		Type:         MovementAdjustUp,
		Quantity:     req.Quantity.Abs(),
		SourceModule: "ADJUSTMENT",
		Note:         strings.TrimSpace(req.Note),
		Actor:        shared.ActorFromContext(ctx),
	}
	if req.Quantity.IsNegative() {
		in.Type = MovementAdjustDown
	}
	claimed := false
	if idemKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "inventory"); err != nil {
			return Movement{}, err
		}
		claimed = true
	}
	mv, err := s.Move(ctx, in)
	if err != nil {
		if claimed {
			if derr := s.idempotency.Delete(ctx, idemKey, "inventory"); derr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idemKey), slog.Any("error", derr))
			}
		}
		return Movement{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    in.Actor,
			Action:   fmt.Sprintf("inventory:%s", in.Type),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", mv.ID),
			Meta: map[string]any{
				"product_id": in.ProductID,
				"quantity":   mv.Quantity.String(),
				"note":       in.Note,
			},
		}); err != nil {
			s.logger.Warn("audit stock adjustment", slog.Int64("movement_id", mv.ID), slog.Any("error", err))
		}
	}
	return mv, nil
}

// CreateProduct registers a product with zero stock.
func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (Product, error) {
	if err := shared.Validate(req); err != nil {
		return Product{}, err
	}
	p := Product{
		SKU:           strings.ToUpper(strings.TrimSpace(req.SKU)),
		Name:          strings.TrimSpace(req.Name),
		Unit:          req.Unit,
		Stock:         decimal.Zero,
		LastCost:      req.LastCost,
		CostCurrency:  strings.ToUpper(req.CostCurrency),
		AllowNegative: req.AllowNegative,
		IsActive:      true,
	}
	if p.Unit == "" {
		p.Unit = "UN"
	}
	if p.CostCurrency == "" {
		p.CostCurrency = "ARS"
	}
	var created Product
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertProduct(ctx, p)
		return err
	})
	return created, err
}

// GetProduct returns a product.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ListProducts returns a page of products.
func (s *Service) ListProducts(ctx context.Context, page shared.PageRequest) ([]Product, shared.Pagination, error) {
	items, total, err := s.repo.ListProducts(ctx, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// Movements returns the movement history of a product, newest first.
func (s *Service) Movements(ctx context.Context, productID int64, page shared.PageRequest) ([]Movement, shared.Pagination, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, shared.Pagination{}, err
	}
	items, total, err := s.repo.Movements(ctx, productID, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// IsInsufficientStock reports whether err is an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var target *shared.InsufficientStockError
	return errors.As(err, &target)
}
