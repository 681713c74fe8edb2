package memstore

import (
	"strings"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
)

// SeedChart creates one leaf account per default code and returns the
// registry resolving them. The map holds the account of every key.
func (s *Store) SeedChart() (*accounts.Registry, map[accounts.Key]accounts.Account) {
	resolved := map[accounts.Key]accounts.Account{}
	for _, key := range accounts.RequiredKeys() {
		code := accounts.DefaultCodes()[key]
		resolved[key] = s.AddAccount(accounts.Account{
			Code:           code,
			Name:           strings.ToLower(string(key)),
			Type:           typeOf(code),
			Level:          4,
			AcceptsEntries: true,
			IsActive:       true,
		})
	}
	return accounts.NewRegistry(resolved), resolved
}

func typeOf(code string) accounts.Type {
	switch code[0] {
	case '1':
		return accounts.TypeAsset
	case '2':
		return accounts.TypeLiability
	case '3':
		return accounts.TypeEquity
	case '4':
		return accounts.TypeRevenue
	}
	return accounts.TypeExpense
}
