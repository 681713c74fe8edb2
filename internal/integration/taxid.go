package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/pampa-erp/pampa/internal/shared"
)

// Taxpayer is what the tax registry knows about a CUIT.
type Taxpayer struct {
	CUIT         string `json:"cuit"`
	Name         string `json:"name"`
	TaxCondition string `json:"tax_condition"`
	Address      string `json:"address"`
	Active       bool   `json:"active"`
}

type registryResponse struct {
	CUIT         string `json:"cuit"`
	RazonSocial  string `json:"razon_social"`
	CondicionIVA string `json:"condicion_iva"`
	Domicilio    string `json:"domicilio"`
	Estado       string `json:"estado"`
}

// TaxIDClient queries the tax registry.
type TaxIDClient struct {
	baseURL string
	http    *http.Client
	upper   cases.Caser
}

func NewTaxIDClient(baseURL string, client *http.Client) *TaxIDClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TaxIDClient{baseURL: strings.TrimRight(baseURL, "/"), http: client, upper: cases.Upper(language.Spanish)}
}

// Lookup resolves a normalized 11-digit CUIT.
func (c *TaxIDClient) Lookup(ctx context.Context, cuit string) (Taxpayer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/taxpayers/%s", c.baseURL, cuit), nil)
	if err != nil {
		return Taxpayer{}, &shared.ExternalServiceError{Service: "taxid", Op: "lookup", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Taxpayer{}, &shared.ExternalServiceError{Service: "taxid", Op: "lookup", Retryable: true, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return Taxpayer{}, &shared.ExternalServiceError{Service: "taxid", Op: "lookup", StatusCode: resp.StatusCode, Err: fmt.Errorf("cuit %s %w", cuit, shared.ErrNotFound)}
	}
	if resp.StatusCode != http.StatusOK {
		return Taxpayer{}, statusError("taxid", "lookup", resp)
	}
	var body registryResponse
	if err := json.NewDecoder(limitBody(resp)).Decode(&body); err != nil {
		return Taxpayer{}, &shared.ExternalServiceError{Service: "taxid", Op: "lookup", Err: fmt.Errorf("decode response: %w", err)}
	}
	return Taxpayer{
		CUIT:         cuit,
		Name:         c.cleanName(body.RazonSocial),
		TaxCondition: mapCondition(body.CondicionIVA),
		Address:      strings.Join(strings.Fields(norm.NFC.String(body.Domicilio)), " "),
		Active:       strings.EqualFold(body.Estado, "ACTIVO"),
	}, nil
}

func (c *TaxIDClient) cleanName(raw string) string {
	return c.upper.String(strings.Join(strings.Fields(norm.NFC.String(raw)), " "))
}

// mapCondition translates the registry's VAT labels. Unknown labels map to "".
func mapCondition(raw string) string {
	switch strings.ToUpper(strings.Join(strings.Fields(raw), " ")) {
	case "IVA RESPONSABLE INSCRIPTO", "RESPONSABLE INSCRIPTO", "RI":
		return "RESPONSABLE_INSCRIPTO"
	case "RESPONSABLE MONOTRIBUTO", "MONOTRIBUTO", "MONOTRIBUTISTA":
		return "MONOTRIBUTO"
	case "IVA SUJETO EXENTO", "EXENTO", "IVA EXENTO":
		return "EXENTO"
	case "CONSUMIDOR FINAL":
		return "CONSUMIDOR_FINAL"
	case "SUJETO DEL EXTERIOR", "EXTERIOR":
		return "EXTERIOR"
	default:
		return ""
	}
}
