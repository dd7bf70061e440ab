package permission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-portal/pkg/config"
	"github.com/tendant/simple-portal/pkg/errors"
)

const testSecret = "test-jwt-secret-key"

func defaultCapabilities() config.CapabilityConfig {
	return config.CapabilityConfig{
		ImpersonateRoles:     "admin,superadmin",
		ImpersonateViewRoles: "admin,superadmin,auditor",
		AuditReadRoles:       "admin,superadmin,auditor",
		AuditClearRoles:      "superadmin",
	}
}

func newTestRouter(t *testing.T, gate *Gate, capability Capability) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(Verifier(jwtauth.New("HS256", []byte(testSecret), nil)))
	r.With(gate.Require(capability)).Get("/protected", func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		require.True(t, ok)
		_ = json.NewEncoder(w).Encode(p)
	})
	return r
}

func issue(t *testing.T, p Principal) string {
	t.Helper()
	token, _, err := NewTokenIssuer(testSecret, "simple-portal", "simple-portal").Issue(p, time.Hour)
	require.NoError(t, err)
	return token
}

func TestGateRequire(t *testing.T) {
	gate := NewGate(defaultCapabilities())

	tests := []struct {
		name       string
		capability Capability
		principal  *Principal
		wantStatus int
	}{
		{"no token", CapImpersonate, nil, http.StatusUnauthorized},
		{"admin may impersonate", CapImpersonate, &Principal{UserID: "a1", Roles: []string{"admin"}}, http.StatusOK},
		{"role match ignores case", CapImpersonate, &Principal{UserID: "a1", Roles: []string{"Admin"}}, http.StatusOK},
		{"auditor may not impersonate", CapImpersonate, &Principal{UserID: "u1", Roles: []string{"auditor"}}, http.StatusForbidden},
		{"admin may not clear", CapAuditClear, &Principal{UserID: "a1", Roles: []string{"admin"}}, http.StatusForbidden},
		{"superadmin may clear", CapAuditClear, &Principal{UserID: "s1", Roles: []string{"superadmin"}}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, gate, tt.capability)
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.principal != nil {
				req.Header.Set("Authorization", "Bearer "+issue(t, *tt.principal))
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				var got Principal
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.Equal(t, tt.principal.UserID, got.UserID)
			} else {
				var body errors.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.NotEmpty(t, body.Error)
			}
		})
	}
}

func TestCheckAuthWithoutToken(t *testing.T) {
	gate := NewGate(defaultCapabilities())

	_, denial := gate.CheckAuth(context.Background(), CapAuditRead)
	require.NotNil(t, denial)
	assert.Equal(t, http.StatusUnauthorized, denial.StatusCode)
	assert.True(t, errors.IsCode(denial.Err(), errors.ErrCodeUnauthorized))
}

func TestCheckAuthUsesStoredPrincipal(t *testing.T) {
	gate := NewGate(defaultCapabilities())
	ctx := NewContext(context.Background(), Principal{UserID: "a1", Roles: []string{"auditor"}})

	p, denial := gate.CheckAuth(ctx, CapAuditRead)
	require.Nil(t, denial)
	assert.Equal(t, "a1", p.UserID)

	_, denial = gate.CheckAuth(ctx, CapImpersonate)
	require.NotNil(t, denial)
	assert.Equal(t, http.StatusForbidden, denial.StatusCode)
}

func TestPrincipalFromClaims(t *testing.T) {
	t.Run("top level claims", func(t *testing.T) {
		p, err := PrincipalFromClaims(map[string]interface{}{
			"sub":   "a1",
			"email": "a1@example.com",
			"name":  "Ada",
			"roles": []interface{}{"admin"},
		})
		require.NoError(t, err)
		assert.Equal(t, Principal{UserID: "a1", Email: "a1@example.com", Name: "Ada", Roles: []string{"admin"}}, p)
	})

	t.Run("extra claims fallback", func(t *testing.T) {
		p, err := PrincipalFromClaims(map[string]interface{}{
			"user_id": "a2",
			"extra_claims": map[string]interface{}{
				"email": "a2@example.com",
				"roles": []interface{}{"superadmin"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "a2", p.UserID)
		assert.Equal(t, "a2@example.com", p.Email)
		assert.Equal(t, []string{"superadmin"}, p.Roles)
	})
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer(testSecret, "simple-portal", "simple-portal")
	want := Principal{UserID: "a1", Email: "a1@example.com", Roles: []string{"admin"}}

	token, expiresAt, err := issuer.Issue(want, time.Minute)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	got, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NewTokenIssuer("other-secret", "simple-portal", "simple-portal").Parse(token)
	assert.Error(t, err)

	_, _, err = issuer.Issue(Principal{}, time.Minute)
	assert.Error(t, err)
}
