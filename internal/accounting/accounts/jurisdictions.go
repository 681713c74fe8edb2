package accounts

import (
	"fmt"
	"strings"
)

// TaxType classifies perceptions suffered on purchases and withholdings suffered on collections.
type TaxType string

const (
	TaxTypeIncome         TaxType = "GANANCIAS"
	TaxTypeVAT            TaxType = "IVA"
	TaxTypeGrossReceipts  TaxType = "IIBB"
	TaxTypeSocialSecurity TaxType = "SUSS"
)

// Jurisdiction codes follow the Convenio Multilateral numbering. National taxes use "000".
const JurisdictionNational = "000"

var grossReceiptsJurisdictions = map[string]string{
	"901": "Ciudad Autónoma de Buenos Aires",
	"902": "Buenos Aires",
	"903": "Catamarca",
	"904": "Córdoba",
	"905": "Corrientes",
	"906": "Chaco",
	"907": "Chubut",
	"908": "Entre Ríos",
	"909": "Formosa",
	"910": "Jujuy",
	"911": "La Pampa",
	"912": "La Rioja",
	"913": "Mendoza",
	"914": "Misiones",
	"915": "Neuquén",
	"916": "Río Negro",
	"917": "Salta",
	"918": "San Juan",
	"919": "San Luis",
	"920": "Santa Cruz",
	"921": "Santa Fe",
	"922": "Santiago del Estero",
	"923": "Tierra del Fuego",
	"924": "Tucumán",
}

// JurisdictionName returns the province for an IIBB jurisdiction code.
func JurisdictionName(code string) (string, bool) {
	if code == JurisdictionNational {
		return "Nacional", true
	}
	name, ok := grossReceiptsJurisdictions[code]
	return name, ok
}

// PerceptionAccountKey maps a perception suffered on a purchase to its ledger account.
// Every provincial IIBB jurisdiction shares one perception account.
func PerceptionAccountKey(tax TaxType, jurisdiction string) (Key, error) {
	return lookupTaxKey(tax, jurisdiction, map[TaxType]Key{
		TaxTypeVAT:           KeyPerceptionVAT,
		TaxTypeIncome:        KeyPerceptionIncomeTax,
		TaxTypeGrossReceipts: KeyPerceptionGrossReceipts,
	})
}

// WithholdingAccountKey maps a withholding suffered on a collection to its ledger account.
// Sub-jurisdictions of one tax type collapse into a single account.
func WithholdingAccountKey(tax TaxType, jurisdiction string) (Key, error) {
	return lookupTaxKey(tax, jurisdiction, map[TaxType]Key{
		TaxTypeIncome:         KeyWithholdingIncomeTax,
		TaxTypeVAT:            KeyWithholdingVAT,
		TaxTypeGrossReceipts:  KeyWithholdingGrossReceipts,
		TaxTypeSocialSecurity: KeyWithholdingSocialSecurity,
	})
}

func lookupTaxKey(tax TaxType, jurisdiction string, table map[TaxType]Key) (Key, error) {
	tax = TaxType(strings.ToUpper(string(tax)))
	key, ok := table[tax]
	if !ok {
		return "", fmt.Errorf("accounts: unsupported tax type %q", tax)
	}
	if tax == TaxTypeGrossReceipts {
		if _, ok := grossReceiptsJurisdictions[jurisdiction]; !ok {
			return "", fmt.Errorf("accounts: unknown IIBB jurisdiction %q", jurisdiction)
		}
		return key, nil
	}
	if jurisdiction != "" && jurisdiction != JurisdictionNational {
		return "", fmt.Errorf("accounts: %s is national, got jurisdiction %q", tax, jurisdiction)
	}
	return key, nil
}
