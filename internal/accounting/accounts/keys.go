package accounts

import (
	"fmt"
	"sort"
	"strings"
)

// Key names an account role used by the automatic entry generators.
type Key string

const (
	KeyCostOfGoodsSold           Key = "COST_OF_GOODS_SOLD"
	KeyMerchandiseInventory      Key = "MERCHANDISE_INVENTORY"
	KeyAccountsPayable           Key = "ACCOUNTS_PAYABLE"
	KeyVATCredit                 Key = "VAT_CREDIT"
	KeyAccountsReceivable        Key = "ACCOUNTS_RECEIVABLE"
	KeyWithholdingIncomeTax      Key = "WITHHOLDING_INCOME_TAX"
	KeyWithholdingVAT            Key = "WITHHOLDING_VAT"
	KeyWithholdingGrossReceipts  Key = "WITHHOLDING_GROSS_RECEIPTS"
	KeyWithholdingSocialSecurity Key = "WITHHOLDING_SOCIAL_SECURITY"
	KeyPerceptionVAT             Key = "PERCEPTION_VAT"
	KeyPerceptionGrossReceipts   Key = "PERCEPTION_GROSS_RECEIPTS"
	KeyPerceptionIncomeTax       Key = "PERCEPTION_INCOME_TAX"
	KeyTreasuryCash              Key = "TREASURY_CASH"
	KeyTreasuryBank              Key = "TREASURY_BANK"
	KeyTreasuryCheques           Key = "TREASURY_CHEQUES"
)

// RequiredKeys lists every key the registry must resolve at startup.
func RequiredKeys() []Key {
	return []Key{
		KeyCostOfGoodsSold,
		KeyMerchandiseInventory,
		KeyAccountsPayable,
		KeyVATCredit,
		KeyAccountsReceivable,
		KeyWithholdingIncomeTax,
		KeyWithholdingVAT,
		KeyWithholdingGrossReceipts,
		KeyWithholdingSocialSecurity,
		KeyPerceptionVAT,
		KeyPerceptionGrossReceipts,
		KeyPerceptionIncomeTax,
		KeyTreasuryCash,
		KeyTreasuryBank,
		KeyTreasuryCheques,
	}
}

// DefaultCodes is the mapping shipped with the seeded Argentine chart of accounts.
func DefaultCodes() map[Key]string {
	return map[Key]string{
		KeyTreasuryCash:              "1.1.1.01",
		KeyTreasuryBank:              "1.1.1.02",
		KeyTreasuryCheques:           "1.1.1.03",
		KeyAccountsReceivable:        "1.1.3.01",
		KeyVATCredit:                 "1.1.4.01",
		KeyPerceptionVAT:             "1.1.4.02",
		KeyPerceptionGrossReceipts:   "1.1.4.03",
		KeyPerceptionIncomeTax:       "1.1.4.04",
		KeyWithholdingIncomeTax:      "1.1.4.10",
		KeyWithholdingVAT:            "1.1.4.11",
		KeyWithholdingGrossReceipts:  "1.1.4.12",
		KeyWithholdingSocialSecurity: "1.1.4.13",
		KeyMerchandiseInventory:      "1.1.5.01",
		KeyAccountsPayable:           "2.1.1.01",
		KeyCostOfGoodsSold:           "5.1.1.01",
	}
}

// MergeCodes overlays overrides (keyed by Key name, case-insensitive) onto DefaultCodes.
func MergeCodes(overrides map[string]string) (map[Key]string, error) {
	codes := DefaultCodes()
	known := make(map[Key]struct{}, len(codes))
	for _, k := range RequiredKeys() {
		known[k] = struct{}{}
	}
	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		key := Key(strings.ToUpper(strings.TrimSpace(name)))
		if _, ok := known[key]; !ok {
			return nil, fmt.Errorf("accounts: unknown account key %q", name)
		}
		codes[key] = strings.TrimSpace(overrides[name])
	}
	return codes, nil
}
