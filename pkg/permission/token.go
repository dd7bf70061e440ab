package permission

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the access token payload understood by PrincipalFromClaims.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints HS256 access tokens for admin principals.
type TokenIssuer struct {
	Secret   string
	Issuer   string
	Audience string
	now      func() time.Time
}

// NewTokenIssuer creates a new TokenIssuer
func NewTokenIssuer(secret, issuer, audience string) *TokenIssuer {
	return &TokenIssuer{
		Secret:   secret,
		Issuer:   issuer,
		Audience: audience,
		now:      time.Now,
	}
}

// Issue signs a token for p valid for ttl.
func (i *TokenIssuer) Issue(p Principal, ttl time.Duration) (string, time.Time, error) {
	if p.UserID == "" {
		return "", time.Time{}, fmt.Errorf("principal user id is required")
	}

	now := i.now().UTC()
	claims := Claims{
		Email: p.Email,
		Name:  p.Name,
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
			Issuer:    i.Issuer,
			Subject:   p.UserID,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{i.Audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(i.Secret))
	if err != nil {
		slog.Error("Failed to sign access token", "err", err)
		return "", time.Time{}, err
	}
	return ss, claims.ExpiresAt.Time, nil
}

// Parse validates tokenStr and returns its principal.
func (i *TokenIssuer) Parse(tokenStr string) (Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(i.Secret), nil
	}, jwt.WithIssuer(i.Issuer), jwt.WithAudience(i.Audience))
	if err != nil {
		return Principal{}, fmt.Errorf("failed to parse token: %w", err)
	}

	return Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
		Roles:  claims.Roles,
	}, nil
}
