package permission

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Name   string   `json:"name,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

func (p Principal) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", p.UserID),
		slog.Any("roles", p.Roles),
	)
}

// contextKey is a value for use with context.WithValue. It's used as
// a pointer so it fits in an interface{} without allocation.
type contextKey struct {
	name string
}

func (k *contextKey) String() string {
	return "permission context value " + k.name
}

var principalKey = &contextKey{"Principal"}

// NewContext returns a copy of ctx carrying p.
func NewContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the principal stored by Gate.Require.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

type principalClaims struct {
	Subject string   `json:"sub"`
	UserID  string   `json:"user_id"`
	Email   string   `json:"email"`
	Name    string   `json:"name"`
	Roles   []string `json:"roles"`
	Extra   *struct {
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	} `json:"extra_claims"`
}

// PrincipalFromClaims maps verified token claims to a Principal. "sub" wins
// over "user_id"; roles may be top level or under "extra_claims".
func PrincipalFromClaims(claims map[string]interface{}) (Principal, error) {
	var pc principalClaims
	if err := loadFromMap(claims, &pc); err != nil {
		return Principal{}, err
	}

	p := Principal{
		UserID: pc.Subject,
		Email:  pc.Email,
		Name:   pc.Name,
		Roles:  pc.Roles,
	}
	if p.UserID == "" {
		p.UserID = pc.UserID
	}
	if pc.Extra != nil {
		if p.Email == "" {
			p.Email = pc.Extra.Email
		}
		if len(p.Roles) == 0 {
			p.Roles = pc.Extra.Roles
		}
	}
	return p, nil
}

func loadFromMap[T any](m map[string]interface{}, c *T) error {
	data, err := json.Marshal(m)
	if err == nil {
		err = json.Unmarshal(data, c)
	}
	return err
}
