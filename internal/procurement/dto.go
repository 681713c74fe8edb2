package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
)

type CreateSupplierRequest struct {
	Code string  `json:"code" validate:"required,max=50"`
	Name string  `json:"name" validate:"required,max=200"`
	CUIT *string `json:"cuit,omitempty" validate:"omitempty,max=13"`
}

type CreatePurchaseRequest struct {
	SupplierID  int64             `json:"supplier_id" validate:"required,gt=0"`
	Letter      string            `json:"invoice_type" validate:"required,oneof=A B C E"`
	PointOfSale int               `json:"point_of_sale" validate:"required,gt=0,lte=99999"`
	Number      int64             `json:"number" validate:"required,gt=0"`
	IssueDate   time.Time         `json:"issue_date" validate:"required"`
	DueDate     *time.Time        `json:"due_date"`
	Currency    string            `json:"currency" validate:"omitempty,iso4217"`
	Notes       string            `json:"notes"`
	Items       []PurchaseItemReq `json:"items" validate:"required,min=1,dive"`
	Perceptions []PerceptionReq   `json:"perceptions" validate:"dive"`
	Total       *decimal.Decimal  `json:"total"`
}

type PurchaseItemReq struct {
	ProductID   *int64          `json:"product_id" validate:"omitempty,gt=0"`
	Description string          `json:"description" validate:"required"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitCost    decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	DiscountPct decimal.Decimal `json:"discount_pct" validate:"gte=0,lte=100"`
	VATRate     decimal.Decimal `json:"vat_rate" validate:"gte=0,lte=27"`
	AccountID   *int64          `json:"account_id" validate:"omitempty,gt=0"`
}

type PerceptionReq struct {
	TaxType      accounts.TaxType `json:"tax_type" validate:"required,oneof=GANANCIAS IVA IIBB SUSS"`
	Jurisdiction string           `json:"jurisdiction"`
	Amount       decimal.Decimal  `json:"amount" validate:"gt=0"`
}

// ApproveRequest optionally enters the goods in the same transaction.
type ApproveRequest struct {
	ImpactStock bool `json:"impact_stock"`
}

type CreditNoteRequest struct {
	Number string          `json:"number" validate:"required,max=50"`
	Date   *time.Time      `json:"date"`
	Reason string          `json:"reason" validate:"required"`
	Items  []ReturnItemReq `json:"items" validate:"required,min=1,dive"`
}

type ReturnItemReq struct {
	PurchaseItemID int64           `json:"purchase_item_id" validate:"required,gt=0"`
	Quantity       decimal.Decimal `json:"quantity" validate:"gt=0"`
}
