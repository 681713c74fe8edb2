package fulfillment

import (
	"time"

	"github.com/shopspring/decimal"
)

// GenerateRequest names the quote items and quantities to invoice.
type GenerateRequest struct {
	IssueDate *time.Time      `json:"issue_date"`
	Items     []RequestedItem `json:"items" validate:"required,min=1,dive"`
}

// RequestedItem quantities are checked against the item's remaining quantity,
// so they carry no tag bounds here.
type RequestedItem struct {
	QuoteItemID int64           `json:"quote_item_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type AuthorizeRequest struct {
	CAE    string    `json:"cae" validate:"required,len=14,numeric"`
	Expiry time.Time `json:"cae_expiry" validate:"required"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required"`
}
