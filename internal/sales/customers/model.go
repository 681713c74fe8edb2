package customers

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pampa-erp/pampa/internal/shared"
)

// TaxCondition is the customer's VAT registration (condición frente al IVA).
type TaxCondition string

const (
	TaxConditionRegistered    TaxCondition = "RESPONSABLE_INSCRIPTO"
	TaxConditionMonotributo   TaxCondition = "MONOTRIBUTO"
	TaxConditionExempt        TaxCondition = "EXENTO"
	TaxConditionFinalConsumer TaxCondition = "CONSUMIDOR_FINAL"
	TaxConditionForeign       TaxCondition = "EXTERIOR"
)

// Valid reports whether c is a known condition.
func (c TaxCondition) Valid() bool {
	switch c {
	case TaxConditionRegistered, TaxConditionMonotributo, TaxConditionExempt, TaxConditionFinalConsumer, TaxConditionForeign:
		return true
	}
	return false
}

// RequiresCUIT reports whether customers under c must carry a CUIT.
func (c TaxCondition) RequiresCUIT() bool {
	return c != TaxConditionFinalConsumer && c != TaxConditionForeign
}

type Customer struct {
	ID               int64           `json:"id"`
	Code             string          `json:"code"`
	Name             string          `json:"name"`
	CUIT             *string         `json:"cuit,omitempty"`
	TaxCondition     TaxCondition    `json:"tax_condition"`
	Email            *string         `json:"email,omitempty"`
	Phone            *string         `json:"phone,omitempty"`
	Address          *string         `json:"address,omitempty"`
	PaymentTermsDays shared.Days     `json:"payment_terms_days"`
	CreditLimit      decimal.Decimal `json:"credit_limit"`
	IsActive         bool            `json:"is_active"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
