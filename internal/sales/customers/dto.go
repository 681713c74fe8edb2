package customers

import "github.com/shopspring/decimal"

type CreateCustomerRequest struct {
	Code             string          `json:"code" validate:"required,max=50"`
	Name             string          `json:"name" validate:"max=200"`
	CUIT             *string         `json:"cuit,omitempty" validate:"omitempty,max=13"`
	TaxCondition     TaxCondition    `json:"tax_condition,omitempty" validate:"omitempty,oneof=RESPONSABLE_INSCRIPTO MONOTRIBUTO EXENTO CONSUMIDOR_FINAL EXTERIOR"`
	Email            *string         `json:"email,omitempty" validate:"omitempty,email"`
	Phone            *string         `json:"phone,omitempty" validate:"omitempty,max=50"`
	Address          *string         `json:"address,omitempty" validate:"omitempty,max=255"`
	PaymentTermsDays int             `json:"payment_terms_days" validate:"gte=0,lte=365"`
	CreditLimit      decimal.Decimal `json:"credit_limit" validate:"gte=0"`
	// Enrich fills blank name and tax condition from the taxpayer registry.
	Enrich bool `json:"enrich"`
}

type ListCustomersRequest struct {
	Search   string
	IsActive *bool
	Limit    int
	Offset   int
}
