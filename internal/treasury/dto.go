package treasury

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/posting"
)

type CreateReceiptRequest struct {
	CustomerID   int64            `json:"customer_id" validate:"required,gt=0"`
	Date         time.Time        `json:"date" validate:"required"`
	TotalApplied decimal.Decimal  `json:"total_applied" validate:"gt=0"`
	Notes        string           `json:"notes"`
	Payments     []PaymentReq     `json:"payments" validate:"dive"`
	Withholdings []WithholdingReq `json:"withholdings" validate:"dive"`
	Applications []ApplicationReq `json:"applications" validate:"required,min=1,dive"`
}

type PaymentReq struct {
	Method    posting.PaymentMethod `json:"method" validate:"required,oneof=CASH TRANSFER CHEQUE"`
	Amount    decimal.Decimal       `json:"amount" validate:"gt=0"`
	Reference string                `json:"reference"`
	AccountID *int64                `json:"account_id" validate:"omitempty,gt=0"`
}

type WithholdingReq struct {
	TaxType      accounts.TaxType `json:"tax_type" validate:"required,oneof=GANANCIAS IVA IIBB SUSS"`
	Jurisdiction string           `json:"jurisdiction"`
	Amount       decimal.Decimal  `json:"amount" validate:"gt=0"`
	Certificate  string           `json:"certificate"`
}

type ApplicationReq struct {
	InvoiceID int64           `json:"invoice_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
}
