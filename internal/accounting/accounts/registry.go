package accounts

import (
	"context"
	"fmt"

	"github.com/pampa-erp/pampa/internal/shared"
)

// CodeLookup loads accounts by code. Missing codes are simply absent from the result.
type CodeLookup interface {
	GetByCodes(ctx context.Context, codes []string) ([]Account, error)
}

// Registry resolves account keys to concrete chart of accounts rows. It is
// built once at startup and is read-only afterwards.
type Registry struct {
	accounts map[Key]Account
}

// NewRegistry wraps an already resolved mapping.
func NewRegistry(accounts map[Key]Account) *Registry {
	copied := make(map[Key]Account, len(accounts))
	for k, v := range accounts {
		copied[k] = v
	}
	return &Registry{accounts: copied}
}

// ResolveRegistry resolves every required key and fails on the first
// configuration problem, naming the offending code.
func ResolveRegistry(ctx context.Context, lookup CodeLookup, codes map[Key]string) (*Registry, error) {
	wanted := make([]string, 0, len(codes))
	for _, key := range RequiredKeys() {
		code, ok := codes[key]
		if !ok || code == "" {
			return nil, &shared.MissingAccountError{Key: string(key)}
		}
		wanted = append(wanted, code)
	}
	found, err := lookup.GetByCodes(ctx, wanted)
	if err != nil {
		return nil, fmt.Errorf("accounts: resolve registry: %w", err)
	}
	byCode := make(map[string]Account, len(found))
	for _, acc := range found {
		byCode[acc.Code] = acc
	}
	resolved := make(map[Key]Account, len(codes))
	for _, key := range RequiredKeys() {
		code := codes[key]
		acc, ok := byCode[code]
		if !ok || !acc.IsActive {
			return nil, &shared.MissingAccountError{Key: string(key), Code: code}
		}
		if !acc.AcceptsEntries {
			return nil, &shared.AccountNotLeafError{AccountID: acc.ID, Code: acc.Code}
		}
		resolved[key] = acc
	}
	return &Registry{accounts: resolved}, nil
}

// Account returns the account bound to key.
func (r *Registry) Account(key Key) (Account, error) {
	if r == nil {
		return Account{}, &shared.MissingAccountError{Key: string(key)}
	}
	acc, ok := r.accounts[key]
	if !ok {
		return Account{}, &shared.MissingAccountError{Key: string(key)}
	}
	return acc, nil
}

// Keys returns the resolved mapping as key -> code, for diagnostics.
func (r *Registry) Keys() map[Key]string {
	out := make(map[Key]string, len(r.accounts))
	for k, acc := range r.accounts {
		out[k] = acc.Code
	}
	return out
}
