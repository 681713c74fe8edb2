package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/shared"
)

// MovementType enumerates supported stock movements. The type fixes the sign.
type MovementType string

const (
	MovementPurchase       MovementType = "COMPRA"
	MovementSale           MovementType = "VENTA"
	MovementAdjustUp       MovementType = "AJUSTE_POSITIVO"
	MovementAdjustDown     MovementType = "AJUSTE_NEGATIVO"
	MovementCustomerReturn MovementType = "DEVOLUCION_CLIENTE"
	MovementSupplierReturn MovementType = "DEVOLUCION_PROVEEDOR"
)

// Inbound reports whether the movement adds stock.
func (t MovementType) Inbound() bool {
	return t == MovementPurchase || t == MovementAdjustUp || t == MovementCustomerReturn
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementAdjustUp, MovementAdjustDown, MovementCustomerReturn, MovementSupplierReturn:
		return true
	}
	return false
}

// Signed applies the direction of t to a quantity magnitude.
func (t MovementType) Signed(qty decimal.Decimal) decimal.Decimal {
	if t.Inbound() {
		return qty.Abs()
	}
	return qty.Abs().Neg()
}

// Product is a stock keeping unit with its on-hand quantity.
type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Unit          string          `json:"unit"`
	Stock         decimal.Decimal `json:"stock"`
	LastCost      decimal.Decimal `json:"last_cost"`
	CostCurrency  string          `json:"cost_currency"`
	AllowNegative bool            `json:"allow_negative"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Movement records one change of stock. StockAfter = StockBefore + Quantity.
type Movement struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"product_id"`
	Type         MovementType    `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	CostCurrency string          `json:"cost_currency"`
	StockBefore  decimal.Decimal `json:"stock_before"`
	StockAfter   decimal.Decimal `json:"stock_after"`
	SourceModule string          `json:"source_module,omitempty"`
	SourceRef    string          `json:"source_ref,omitempty"`
	Note         string          `json:"note,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
}

// MoveInput requests a movement. Quantity is a magnitude; the type gives the sign.
type MoveInput struct {
	ProductID int64
	Type      MovementType
	Quantity  decimal.Decimal
	// UnitCost defaults to the product's last cost. Required for purchases.
	UnitCost     *decimal.Decimal
	CostCurrency string
	SourceModule string
	SourceRef    string
	Note         string
	Actor        string
}

func (in MoveInput) validate() error {
	verr := &shared.ValidationError{}
	if in.ProductID <= 0 {
		verr.Add("product_id", "is required")
	}
	if !in.Type.Valid() {
		verr.Add("type", fmt.Sprintf("unknown movement type %q", in.Type))
	}
	if !in.Quantity.IsPositive() {
		verr.Add("quantity", "must be greater than 0")
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		verr.Add("unit_cost", "must be at least 0")
	}
	if in.Type == MovementPurchase && in.UnitCost == nil {
		verr.Add("unit_cost", "is required for purchases")
	}
	return verr.OrNil()
}

// AdjustmentRequest is the HTTP payload for manual stock corrections. The sign
// of Quantity selects AJUSTE_POSITIVO or AJUSTE_NEGATIVO.
type AdjustmentRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity" validate:"ne=0"`
	Note      string          `json:"note" validate:"required,max=255"`
}

// CreateProductRequest is the HTTP payload for new products.
type CreateProductRequest struct {
	SKU           string          `json:"sku" validate:"required,max=64"`
	Name          string          `json:"name" validate:"required,max=255"`
	Unit          string          `json:"unit" validate:"max=16"`
	LastCost      decimal.Decimal `json:"last_cost" validate:"gte=0"`
	CostCurrency  string          `json:"cost_currency" validate:"omitempty,len=3"`
	AllowNegative bool            `json:"allow_negative"`
}

var (
	// ErrProductNotFound indicates a missing product.
	ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)
	// ErrProductInactive rejects movements on discontinued products.
	ErrProductInactive = fmt.Errorf("inventory: product is inactive: %w", shared.ErrInvalidStatus)
	// ErrDuplicateSKU indicates a SKU already in use.
	ErrDuplicateSKU = fmt.Errorf("inventory: sku already exists: %w", shared.ErrConflict)
)
