// Package auth validates JWT bearer tokens and gates role-protected
// endpoints. Unconfigured auth rejects everything except the public
// paths: fail closed, never open.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles understood by the route gates.
const (
	RoleAdmin    = "admin"
	RoleApprover = "approver"
)

// Claims are the JWT claims the API expects: a subject, the tenant the
// token is bound to, and the caller's roles.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

// Principal is the authenticated caller carried in the request context.
type Principal struct {
	Subject  string
	TenantID string
	Roles    []string
}

// HasRole reports whether the principal holds the role. Admin implies
// every role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal attaches the principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom retrieves the principal set by the middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Validator verifies HS256 bearer tokens under a shared secret.
type Validator struct {
	secret []byte
	clock  func() time.Time
}

// NewValidator creates a validator; an empty secret is refused so a
// misconfigured deployment cannot silently accept anything.
func NewValidator(secret []byte) (*Validator, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: validator requires a non-empty secret")
	}
	return &Validator{secret: secret, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (v *Validator) WithClock(clock func() time.Time) *Validator {
	v.clock = clock
	return v
}

// Validate parses and verifies a token string.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %s", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.clock))
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("auth: token subject is required")
	}
	if claims.TenantID == "" {
		return nil, errors.New("auth: token tenant binding is required")
	}
	return claims, nil
}

// Issue mints a token, used by tests and operator tooling.
func (v *Validator) Issue(subject, tenantID string, roles []string, ttl time.Duration) (string, error) {
	now := v.clock()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		Roles:    roles,
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
