package quotations

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/shared"
)

type CreateQuoteRequest struct {
	CustomerID   int64           `json:"customer_id" validate:"required,gt=0"`
	Date         time.Time       `json:"date" validate:"required"`
	ValidityDays int             `json:"validity_days" validate:"gte=0,lte=365"`
	Currency     string          `json:"currency" validate:"omitempty,iso4217"`
	Notes        string          `json:"notes"`
	Items        []CreateItemReq `json:"items" validate:"required,min=1,dive"`
}

type CreateItemReq struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	Description   string          `json:"description" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice     decimal.Decimal `json:"unit_price" validate:"gte=0"`
	DiscountPct   decimal.Decimal `json:"discount_pct" validate:"gte=0,lte=100"`
	DeliveryTime  string          `json:"delivery_time"`
	IsAlternative bool            `json:"is_alternative"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type ListQuotesRequest struct {
	CustomerID *int64
	Status     Status
	Page       shared.PageRequest
}
