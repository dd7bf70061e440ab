package permission

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/tendant/simple-portal/pkg/config"
	"github.com/tendant/simple-portal/pkg/errors"
)

// Capability is a named permission.
type Capability string

const (
	CapImpersonate     Capability = "impersonate"
	CapImpersonateView Capability = "impersonate:view"
	CapAuditRead       Capability = "audit:read"
	CapAuditClear      Capability = "audit:clear"
)

// Denial is the structured refusal returned by CheckAuth.
type Denial struct {
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

// Err converts the denial to a structured error.
func (d *Denial) Err() *errors.Error {
	if d.StatusCode == http.StatusUnauthorized {
		return errors.Unauthorized(d.Message)
	}
	return errors.Forbidden(d.Message)
}

// Gate decides whether the caller holds a capability.
type Gate struct {
	roles map[Capability][]string
}

// NewGate builds a gate from the role lists in cfg.
func NewGate(cfg config.CapabilityConfig) *Gate {
	return &Gate{
		roles: map[Capability][]string{
			CapImpersonate:     config.ParseRoleNames(cfg.ImpersonateRoles),
			CapImpersonateView: config.ParseRoleNames(cfg.ImpersonateViewRoles),
			CapAuditRead:       config.ParseRoleNames(cfg.AuditReadRoles),
			CapAuditClear:      config.ParseRoleNames(cfg.AuditClearRoles),
		},
	}
}

// Allows reports whether p holds capability.
func (g *Gate) Allows(p Principal, capability Capability) bool {
	return config.HasAnyRole(p.Roles, g.roles[capability])
}

// CheckAuth resolves the caller from the verified token in ctx and checks
// capability. It returns a 401 denial when there is no valid principal and a
// 403 denial when the principal lacks the capability.
func (g *Gate) CheckAuth(ctx context.Context, capability Capability) (Principal, *Denial) {
	p, denial := resolve(ctx)
	if denial != nil {
		return Principal{}, denial
	}

	if !g.Allows(p, capability) {
		slog.Info("Capability denied", "principal", p, "capability", capability)
		return p, &Denial{Message: "missing capability " + string(capability), StatusCode: http.StatusForbidden}
	}
	return p, nil
}

func resolve(ctx context.Context) (Principal, *Denial) {
	if p, ok := FromContext(ctx); ok && p.UserID != "" {
		return p, nil
	}

	token, claims, err := jwtauth.FromContext(ctx)
	if err != nil || token == nil {
		return Principal{}, &Denial{Message: "authentication required", StatusCode: http.StatusUnauthorized}
	}
	p, err := PrincipalFromClaims(claims)
	if err != nil {
		slog.Warn("Invalid token claims", "err", err)
		return Principal{}, &Denial{Message: "invalid token claims", StatusCode: http.StatusUnauthorized}
	}
	if p.UserID == "" {
		return Principal{}, &Denial{Message: "missing user id in token", StatusCode: http.StatusUnauthorized}
	}
	return p, nil
}

// Require short-circuits requests whose caller lacks capability and stores
// the principal in the request context otherwise.
func (g *Gate) Require(capability Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, denial := g.CheckAuth(r.Context(), capability)
			if denial != nil {
				errors.WriteJSON(w, r, denial.Err())
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), p)))
		})
	}
}

// Authenticated only requires a valid principal.
func (g *Gate) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, denial := resolve(r.Context())
		if denial != nil {
			errors.WriteJSON(w, r, denial.Err())
			return
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), p)))
	})
}

// Verifier verifies bearer tokens from the Authorization header or the
// access_token cookie.
func Verifier(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	return jwtauth.Verify(ja, jwtauth.TokenFromHeader, jwtauth.TokenFromCookie)
}
