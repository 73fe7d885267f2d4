package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/edugate/internal/store"
)

var (
	errUnauthorized = errors.New("unauthorized")
	errForbidden    = errors.New("forbidden")
)

// Claims are the JWT claims of a tenant dashboard token.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller of a command.
type Principal struct {
	Operator bool
	TenantID uuid.UUID
	Role     store.Role
}

// IsAdmin reports whether p may run administrative recovery for its tenant.
func (p Principal) IsAdmin() bool {
	return p.Operator || p.Role == store.RoleAdmin
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator accepts the operator bearer token or an HS256 tenant JWT.
// With neither configured every caller is treated as the operator.
type Authenticator struct {
	token     string
	jwtSecret []byte
}

func NewAuthenticator(operatorToken, jwtSecret string) *Authenticator {
	a := &Authenticator{token: operatorToken}
	if jwtSecret != "" {
		a.jwtSecret = []byte(jwtSecret)
	}
	return a
}

// Open reports whether no credentials are configured (dev mode).
func (a *Authenticator) Open() bool {
	return a.token == "" && len(a.jwtSecret) == 0
}

// Authenticate resolves the caller of r for tenantID.
func (a *Authenticator) Authenticate(r *http.Request, tenantID uuid.UUID) (Principal, error) {
	if a.Open() {
		return Principal{Operator: true}, nil
	}

	raw := extractBearerToken(r)
	if raw == "" {
		return Principal{}, errUnauthorized
	}
	if a.token != "" && subtle.ConstantTimeCompare([]byte(raw), []byte(a.token)) == 1 {
		return Principal{Operator: true}, nil
	}
	if len(a.jwtSecret) == 0 {
		return Principal{}, errUnauthorized
	}

	claims, err := a.parse(raw)
	if err != nil {
		return Principal{}, errUnauthorized
	}
	claimTenant, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return Principal{}, errUnauthorized
	}
	if claimTenant != tenantID {
		return Principal{}, errForbidden
	}
	return Principal{TenantID: claimTenant, Role: store.Role(claims.Role)}, nil
}

func (a *Authenticator) parse(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errUnauthorized
	}
	return claims, nil
}

// SignTenantToken issues an HS256 dashboard token for tenantID.
func SignTenantToken(secret string, tenantID uuid.UUID, role store.Role, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID.String(),
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "edugate",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign tenant token: %w", err)
	}
	return signed, nil
}

// extractBearerToken reads the Authorization header, falling back to the
// access_token query parameter for EventSource and WebSocket clients that
// cannot set headers.
func extractBearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if v, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(v)
		}
		return ""
	}
	return r.URL.Query().Get("access_token")
}
