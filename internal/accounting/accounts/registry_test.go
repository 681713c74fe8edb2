package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pampa-erp/pampa/internal/shared"
)

type stubLookup struct {
	accounts map[string]Account
}

func (s stubLookup) GetByCodes(ctx context.Context, codes []string) ([]Account, error) {
	var out []Account
	for _, code := range codes {
		if acc, ok := s.accounts[code]; ok {
			out = append(out, acc)
		}
	}
	return out, nil
}

func seededLookup() stubLookup {
	accounts := make(map[string]Account)
	id := int64(1)
	for _, code := range DefaultCodes() {
		accounts[code] = Account{ID: id, Code: code, AcceptsEntries: true, IsActive: true, Level: CodeLevel(code)}
		id++
	}
	return stubLookup{accounts: accounts}
}

func TestResolveRegistryDefaults(t *testing.T) {
	reg, err := ResolveRegistry(context.Background(), seededLookup(), DefaultCodes())
	require.NoError(t, err)
	acc, err := reg.Account(KeyCostOfGoodsSold)
	require.NoError(t, err)
	assert.Equal(t, "5.1.1.01", acc.Code)
	assert.Len(t, reg.Keys(), len(RequiredKeys()))
}

func TestResolveRegistryNamesMissingCode(t *testing.T) {
	lookup := seededLookup()
	delete(lookup.accounts, "2.1.1.01")

	_, err := ResolveRegistry(context.Background(), lookup, DefaultCodes())
	var missing *shared.MissingAccountError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, string(KeyAccountsPayable), missing.Key)
	assert.Equal(t, "2.1.1.01", missing.Code)
	assert.Contains(t, err.Error(), "2.1.1.01")
}

func TestResolveRegistryRejectsParentAccount(t *testing.T) {
	lookup := seededLookup()
	acc := lookup.accounts["1.1.5.01"]
	acc.AcceptsEntries = false
	lookup.accounts["1.1.5.01"] = acc

	_, err := ResolveRegistry(context.Background(), lookup, DefaultCodes())
	var notLeaf *shared.AccountNotLeafError
	require.True(t, errors.As(err, &notLeaf))
	assert.Equal(t, "1.1.5.01", notLeaf.Code)
}

func TestResolveRegistryRejectsUnconfiguredKey(t *testing.T) {
	codes := DefaultCodes()
	delete(codes, KeyVATCredit)
	_, err := ResolveRegistry(context.Background(), seededLookup(), codes)
	var missing *shared.MissingAccountError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, string(KeyVATCredit), missing.Key)
}

func TestMergeCodes(t *testing.T) {
	codes, err := MergeCodes(map[string]string{"cost_of_goods_sold": "5.1.9.99"})
	require.NoError(t, err)
	assert.Equal(t, "5.1.9.99", codes[KeyCostOfGoodsSold])

	_, err = MergeCodes(map[string]string{"NOPE": "1"})
	require.Error(t, err)
}

func TestTaxAccountTables(t *testing.T) {
	caba, err := WithholdingAccountKey(TaxTypeGrossReceipts, "901")
	require.NoError(t, err)
	bsas, err := WithholdingAccountKey(TaxTypeGrossReceipts, "902")
	require.NoError(t, err)
	assert.Equal(t, caba, bsas)
	assert.Equal(t, KeyWithholdingGrossReceipts, caba)

	key, err := PerceptionAccountKey(TaxTypeVAT, JurisdictionNational)
	require.NoError(t, err)
	assert.Equal(t, KeyPerceptionVAT, key)

	_, err = PerceptionAccountKey(TaxTypeGrossReceipts, "999")
	require.Error(t, err)
	_, err = PerceptionAccountKey(TaxTypeSocialSecurity, "")
	require.Error(t, err)
}

func TestCodeLevel(t *testing.T) {
	assert.Equal(t, 1, CodeLevel("1"))
	assert.Equal(t, 4, CodeLevel("1.1.5.01"))
	assert.Equal(t, 0, CodeLevel(""))
}
