package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pampa-erp/pampa/internal/shared"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/accounting/journals/1", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthenticateRequiresUser(t *testing.T) {
	m := Middleware{}
	assert.Equal(t, http.StatusUnauthorized, serve(m.Authenticate(okHandler()), nil))
	assert.Equal(t, http.StatusNoContent, serve(m.Authenticate(okHandler()), map[string]string{HeaderUserID: "u-1"}))
}

func TestRequireRole(t *testing.T) {
	m := Middleware{}
	h := m.Authenticate(m.RequireRole(RoleAccountant)(okHandler()))

	assert.Equal(t, http.StatusForbidden, serve(h, map[string]string{HeaderUserID: "u-1", HeaderRoles: "sales"}))
	assert.Equal(t, http.StatusNoContent, serve(h, map[string]string{HeaderUserID: "u-1", HeaderRoles: "sales, accountant"}))
	assert.Equal(t, http.StatusNoContent, serve(h, map[string]string{HeaderUserID: "u-1", HeaderRoles: "admin"}))
}

func TestParseRoles(t *testing.T) {
	assert.Equal(t, []string{"SALES", "TREASURY"}, ParseRoles(" sales,,TREASURY,Sales "))
}
