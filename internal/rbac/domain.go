// Package rbac gates API routes by the roles forwarded by the authenticating gateway.
package rbac

import "strings"

// Roles known to the API.
const (
	RoleAdmin      = "ADMIN"
	RoleAccountant = "ACCOUNTANT"
	RoleSales      = "SALES"
	RolePurchasing = "PURCHASING"
	RoleTreasury   = "TREASURY"
)

// Headers set by the upstream gateway after authenticating the caller.
const (
	HeaderUserID = "X-User-ID"
	HeaderRoles  = "X-User-Roles"
)

// ParseRoles splits a comma separated role header, upper-casing and dropping blanks.
func ParseRoles(raw string) []string {
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		roles = append(roles, p)
	}
	return roles
}
